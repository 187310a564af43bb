package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"awarerisk.org/internal/auth"
	"awarerisk.org/internal/directory"
	"awarerisk.org/internal/notify"
	"awarerisk.org/internal/phishing"
	"awarerisk.org/internal/risk"
	"awarerisk.org/internal/store/memory"
)

const testTenant = "acme"

type apiClient struct {
	t      *testing.T
	base   string
	client *http.Client
	hub    *notify.Hub
	store  *memory.Store
}

type testOptions struct {
	readiness readinessChecker
	devTokens bool
}

func newTestAPI(t *testing.T, opts ...func(*testOptions)) *apiClient {
	t.Helper()
	t.Setenv("AWARERISK_AUTH_SECRET", "test-secret-test-secret-test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	o := testOptions{devTokens: true}
	for _, opt := range opts {
		opt(&o)
	}

	st := memory.New()
	st.PutUser(directory.User{TenantID: testTenant, ID: "u1", Name: "Ann", Email: "ann@acme.test", DepartmentID: "eng"})
	st.PutUser(directory.User{TenantID: testTenant, ID: "u2", Name: "Bob", Email: "bob@acme.test", DepartmentID: "eng"})
	st.PutUser(directory.User{TenantID: testTenant, ID: "u3", Name: "Cid", Email: "cid@acme.test", DepartmentID: "ops"})
	st.PutUser(directory.User{TenantID: "other", ID: "x1"})

	hub := notify.NewHub(32)
	tracker := phishing.NewTracker(st, st, hub, phishing.WithLogger(zap.NewNop()))
	engine, err := risk.NewEngine(risk.Sources{Phishing: st, Activity: st, Directory: st}, st,
		risk.WithLogger(zap.NewNop()), risk.WithWorkers(2))
	require.NoError(t, err)

	api := New(tracker, engine, o.readiness, "test",
		WithLogger(zap.NewNop()),
		WithDevTokens(o.devTokens),
	)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{t: t, base: srv.URL, client: srv.Client(), hub: hub, store: st}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, query url.Values, token string) *http.Response {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) obtainToken(user, tenant string, roles ...string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":   user,
		"tenant": tenant,
		"roles":  roles,
	}, "")
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	payload := decode[tokenResponse](c.t, resp)
	require.NotEmpty(c.t, payload.Token)
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
	return v
}

func expectStatus(t *testing.T, want int, resp *http.Response) {
	t.Helper()
	if resp.StatusCode != want {
		body := decode[map[string]any](t, resp)
		t.Fatalf("expected %d, got %d: %v", want, resp.StatusCode, body)
	}
}

func TestAPIPhishingCampaignFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("sec-team", testTenant, auth.RoleAdmin)

	resp := api.post("/v1/campaigns", map[string]any{
		"name":       "Q3 payroll",
		"subject":    "Your payslip is ready",
		"difficulty": "hard",
		"red_flags":  []string{"sender-domain"},
	}, admin)
	expectStatus(t, http.StatusCreated, resp)
	created := decode[phishing.CampaignResult](t, resp)
	assert.Equal(t, 3, created.TargetCount)
	require.NotEmpty(t, created.CampaignID)
	assert.Len(t, api.hub.Recent(phishing.TopicSimulationStarted), 1)

	events := "/v1/campaigns/" + created.CampaignID + "/events"
	resp = api.post(events, map[string]any{"user_id": "u1", "action": "clicked", "metadata": map[string]string{"ip": "10.0.0.1"}}, admin)
	expectStatus(t, http.StatusOK, resp)
	ev := decode[phishing.Event](t, resp)
	assert.True(t, ev.Clicked)
	assert.Equal(t, "10.0.0.1", ev.Metadata.Attributes["ip"])

	resp = api.post(events, map[string]any{"user_id": "u1", "action": "CLICKED"}, admin)
	expectStatus(t, http.StatusConflict, resp)
	resp.Body.Close()

	resp = api.post(events, map[string]any{"user_id": "u2", "action": "REPORTED"}, admin)
	expectStatus(t, http.StatusOK, resp)
	resp.Body.Close()

	resp = api.post(events, map[string]any{"user_id": "u3", "action": "OPENED"}, admin)
	expectStatus(t, http.StatusOK, resp)
	resp.Body.Close()

	resp = api.get("/v1/campaigns/"+created.CampaignID+"/stats", nil, admin)
	expectStatus(t, http.StatusOK, resp)
	stats := decode[phishing.CampaignStats](t, resp)
	assert.Equal(t, 3, stats.TotalSent)
	assert.Equal(t, 1, stats.Clicked)
	assert.Equal(t, 1, stats.Reported)
	assert.Equal(t, 33.33, stats.ClickRate)

	resp = api.get("/v1/phishing/vulnerable-users", url.Values{"limit": {"1"}}, admin)
	expectStatus(t, http.StatusOK, resp)
	vuln := decode[struct {
		Users []phishing.UserPerformance `json:"users"`
	}](t, resp)
	require.Len(t, vuln.Users, 1)
	assert.Equal(t, "u1", vuln.Users[0].UserID)
	assert.Equal(t, "Ann", vuln.Users[0].Name)

	resp = api.get("/v1/phishing/best-performers", nil, admin)
	expectStatus(t, http.StatusOK, resp)
	best := decode[struct {
		Users []phishing.UserPerformance `json:"users"`
	}](t, resp)
	require.NotEmpty(t, best.Users)
	assert.Equal(t, "u2", best.Users[0].UserID)

	resp = api.get("/v1/phishing/departments", nil, admin)
	expectStatus(t, http.StatusOK, resp)
	depts := decode[struct {
		Departments []phishing.DepartmentStats `json:"departments"`
	}](t, resp)
	require.Len(t, depts.Departments, 2)
	assert.Equal(t, "eng", depts.Departments[0].DepartmentID)
	assert.Equal(t, 50.0, depts.Departments[0].ClickRate)

	resp = api.get("/v1/phishing/stats", nil, admin)
	expectStatus(t, http.StatusOK, resp)
	tenantStats := decode[phishing.TenantStats](t, resp)
	assert.Equal(t, 3, tenantStats.TotalSimulations)
	assert.Equal(t, 1, tenantStats.Campaigns)

	resp = api.get("/v1/users/u1/phishing-history", nil, admin)
	expectStatus(t, http.StatusOK, resp)
	hist := decode[phishing.UserHistory](t, resp)
	assert.Equal(t, 1, hist.Total)
	assert.Equal(t, 100.0, hist.ClickRate)

	resp = api.get("/v1/users/u1/recommended-difficulty", nil, admin)
	expectStatus(t, http.StatusOK, resp)
	rec := decode[map[string]string](t, resp)
	assert.Equal(t, "EASY", rec["difficulty"])
}

func TestAPIRecordEventErrors(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("sec-team", testTenant, auth.RoleAdmin)

	resp := api.post("/v1/campaigns/missing/events", map[string]any{"user_id": "u1", "action": "CLICKED"}, admin)
	expectStatus(t, http.StatusNotFound, resp)
	resp.Body.Close()

	resp = api.post("/v1/campaigns/missing/events", map[string]any{"user_id": "u1", "action": " "}, admin)
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()

	resp = api.post("/v1/campaigns/missing/events", map[string]any{"action": "CLICKED"}, admin)
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()

	resp = api.post("/v1/campaigns/missing/events", map[string]any{"user_id": "u1", "action": "CLICKED", "extra": 1}, admin)
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()

	resp = api.post("/v1/campaigns", map[string]any{"difficulty": "impossible"}, admin)
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()

	resp = api.get("/v1/phishing/stats", url.Values{"from": {"yesterday"}}, admin)
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()

	resp = api.get("/v1/phishing/vulnerable-users", url.Values{"limit": {"0"}}, admin)
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()
}

func TestAPIRiskFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("sec-team", testTenant, auth.RoleAdmin)

	resp := api.post("/v1/users/u1/risk-score", nil, admin)
	expectStatus(t, http.StatusOK, resp)
	score := decode[risk.Score](t, resp)
	assert.Equal(t, 41.5, score.Overall)
	assert.Equal(t, risk.LevelHigh, score.Level)
	assert.NotEmpty(t, score.Recommendations)

	resp = api.post("/v1/users/%20/risk-score", nil, admin)
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()

	resp = api.get("/v1/users/u1/risk-score/history", url.Values{"limit": {"5"}}, admin)
	expectStatus(t, http.StatusOK, resp)
	hist := decode[struct {
		Scores []risk.Score `json:"scores"`
	}](t, resp)
	require.Len(t, hist.Scores, 1)
	assert.Equal(t, score.ID, hist.Scores[0].ID)

	resp = api.post("/v1/risk/bulk", nil, admin)
	expectStatus(t, http.StatusOK, resp)
	bulk := decode[risk.BulkResult](t, resp)
	assert.Equal(t, 3, bulk.Total)
	assert.Equal(t, 3, bulk.Succeeded)
	assert.Empty(t, bulk.FailedUsers)

	resp = api.get("/v1/risk/high-risk-users", url.Values{"limit": {"2"}}, admin)
	expectStatus(t, http.StatusOK, resp)
	high := decode[struct {
		Threshold float64          `json:"threshold"`
		Users     []risk.RankedUser `json:"users"`
	}](t, resp)
	assert.Equal(t, float64(defaultRiskThreshold), high.Threshold)
	require.Len(t, high.Users, 2)
	assert.Equal(t, "u1", high.Users[0].UserID)
	assert.Equal(t, "Ann", high.Users[0].Name)

	resp = api.get("/v1/risk/high-risk-users", url.Values{"threshold": {"101"}}, admin)
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()

	resp = api.get("/v1/risk/stats", nil, admin)
	expectStatus(t, http.StatusOK, resp)
	stats := decode[risk.TenantRiskStats](t, resp)
	assert.Equal(t, 3, stats.TotalUsers)
	assert.Equal(t, 3, stats.ScoredUsers)
	assert.Equal(t, 41.5, stats.AverageScore)
	assert.Equal(t, 3, stats.Distribution.High)
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/campaigns", map[string]any{}, "")
	expectStatus(t, http.StatusUnauthorized, resp)
	body := decode[map[string]any](t, resp)
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["request_id"])

	resp = api.get("/v1/risk/stats", nil, "not-a-jwt")
	expectStatus(t, http.StatusUnauthorized, resp)
	resp.Body.Close()

	viewer := api.obtainToken("analyst", testTenant)
	resp = api.post("/v1/campaigns", map[string]any{}, viewer)
	expectStatus(t, http.StatusForbidden, resp)
	resp.Body.Close()

	resp = api.post("/v1/risk/bulk", nil, viewer)
	expectStatus(t, http.StatusForbidden, resp)
	resp.Body.Close()

	resp = api.get("/v1/risk/stats", nil, viewer)
	expectStatus(t, http.StatusOK, resp)
	resp.Body.Close()
}

func TestAPIScopesRequestsToTokenTenant(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("sec-team", testTenant, auth.RoleAdmin)
	outsider := api.obtainToken("intruder", "other", auth.RoleAdmin)

	resp := api.post("/v1/campaigns", map[string]any{"target_user_ids": []string{"u1"}}, admin)
	expectStatus(t, http.StatusCreated, resp)
	created := decode[phishing.CampaignResult](t, resp)

	resp = api.get("/v1/campaigns/"+created.CampaignID+"/stats", nil, outsider)
	expectStatus(t, http.StatusNotFound, resp)
	resp.Body.Close()

	resp = api.post("/v1/campaigns/"+created.CampaignID+"/events", map[string]any{"user_id": "u1", "action": "CLICKED"}, outsider)
	expectStatus(t, http.StatusNotFound, resp)
	resp.Body.Close()

	resp = api.get("/v1/risk/stats", nil, outsider)
	expectStatus(t, http.StatusOK, resp)
	stats := decode[risk.TenantRiskStats](t, resp)
	assert.Equal(t, 1, stats.TotalUsers)
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"user": ""}, "")
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()

	resp = api.post("/v1/auth/token", map[string]any{"user": "ann"}, "")
	expectStatus(t, http.StatusBadRequest, resp)
	resp.Body.Close()
}

func TestTokenEndpointDisabled(t *testing.T) {
	api := newTestAPI(t, func(o *testOptions) { o.devTokens = false })

	resp := api.post("/v1/auth/token", map[string]any{"user": "ann", "tenant": testTenant}, "")
	expectStatus(t, http.StatusNotFound, resp)
	resp.Body.Close()

	token, err := auth.GenerateToken("ann", testTenant, nil, time.Minute)
	require.NoError(t, err)
	resp = api.get("/v1/phishing/departments", nil, token)
	expectStatus(t, http.StatusOK, resp)
	resp.Body.Close()
}

type probeFunc func(context.Context) error

func (f probeFunc) Check(ctx context.Context) error { return f(ctx) }

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t, func(o *testOptions) {
		o.readiness = probeFunc(func(context.Context) error { return errors.New("db down") })
	})

	resp := api.get("/healthz", nil, "")
	expectStatus(t, http.StatusOK, resp)
	health := decode[map[string]any](t, resp)
	assert.Equal(t, serviceName, health["service"])

	resp = api.get("/readyz", nil, "")
	expectStatus(t, http.StatusServiceUnavailable, resp)
	ready := decode[map[string]any](t, resp)
	assert.Equal(t, "db down", ready["error"])

	resp = api.get("/v1/info", nil, "")
	expectStatus(t, http.StatusOK, resp)
	info := decode[map[string]any](t, resp)
	assert.Equal(t, "test", info["version"])
	assert.Contains(t, info, "weights")

	resp = api.get("/metrics", nil, "")
	expectStatus(t, http.StatusOK, resp)
	resp.Body.Close()

	resp = api.get("/nope", nil, "")
	expectStatus(t, http.StatusNotFound, resp)
	resp.Body.Close()
}

func TestReadyProbeWithoutBackends(t *testing.T) {
	require.NoError(t, ReadyProbe{}.Check(context.Background()))
}
