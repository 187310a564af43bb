package obs

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLoggerSwapsSharedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := SetLogger(zap.New(core))
	t.Cleanup(func() {
		if prev != nil {
			SetLogger(prev)
		}
	})

	Logger().Info("hello", zap.String("k", "v"))

	if logs.Len() != 1 {
		t.Fatalf("expected one entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Message != "hello" {
		t.Fatalf("unexpected message: %q", entry.Message)
	}
	if entry.ContextMap()["k"] != "v" {
		t.Fatalf("missing field k: %v", entry.ContextMap())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"DEBUG":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
