package auth

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv(secretEnvVariable, value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func signClaims(t *testing.T, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateToken("user-42", "acme", []string{"Admin", "viewer", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" || claims.Tenant != "acme" {
		t.Fatalf("unexpected subject/tenant: %s/%s", claims.Subject, claims.Tenant)
	}
	if claims.Issuer != issuer {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
	if want := []string{"admin", "viewer"}; !reflect.DeepEqual(claims.Roles, want) {
		t.Fatalf("roles = %v, want %v", claims.Roles, want)
	}
	if claims.ID == "" {
		t.Fatal("expected token id")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	withSecret(t, "test-secret")

	cases := []struct {
		user, tenant string
		ttl          time.Duration
	}{
		{"", "acme", time.Minute},
		{"u1", " ", time.Minute},
		{"u1", "acme", 0},
	}
	for _, tc := range cases {
		if _, err := GenerateToken(tc.user, tc.tenant, nil, tc.ttl); err == nil {
			t.Fatalf("expected error for user=%q tenant=%q ttl=%v", tc.user, tc.tenant, tc.ttl)
		}
	}
}

func TestMissingSecret(t *testing.T) {
	withSecret(t, "")
	if _, err := GenerateToken("u1", "acme", nil, time.Minute); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected errMissingSecret, got %v", err)
	}
}

func TestParseRejectsInvalidTokens(t *testing.T) {
	withSecret(t, "test-secret")
	foreign, err := GenerateToken("u1", "acme", []string{"admin"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	cases := map[string]string{
		"empty": "",
		"no tenant": signClaims(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer: issuer, Subject: "u1",
			IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}}),
		"expired": signClaims(t, Claims{Tenant: "acme", RegisteredClaims: jwt.RegisteredClaims{
			Issuer: issuer, Subject: "u1",
			IssuedAt: jwt.NewNumericDate(past), ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
		}}),
	}
	for name, token := range cases {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	withSecret(t, "other-secret")
	if _, err := ParseAndValidate(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature: expected ErrInvalidToken, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithUser(context.Background(), "user-7", "acme", []string{"Admin", "Admin", "viewer"})

	if id, ok := UserIDFromContext(ctx); !ok || id != "user-7" {
		t.Fatalf("unexpected user id %q (ok=%v)", id, ok)
	}
	if tenant, ok := TenantFromContext(ctx); !ok || tenant != "acme" {
		t.Fatalf("unexpected tenant %q (ok=%v)", tenant, ok)
	}
	if n := len(RolesFromContext(ctx)); n != 2 {
		t.Fatalf("expected 2 distinct roles, got %d", n)
	}
	for role, want := range map[string]bool{RoleAdmin: true, "viewer": true, "operator": false} {
		if HasRole(ctx, role) != want {
			t.Fatalf("HasRole(%q) != %v", role, want)
		}
	}
	if _, ok := TenantFromContext(context.Background()); ok {
		t.Fatal("expected no tenant on empty context")
	}
}
