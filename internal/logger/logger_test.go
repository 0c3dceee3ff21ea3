package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactsSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Info("login", "email", "a@example.com", "password", "hunter2", "jwt_token", "abc")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["password"] != "[REDACTED]" || fields["jwt_token"] != "[REDACTED]" {
		t.Fatalf("secrets leaked: %v", fields)
	}
	if fields["email"] != "a@example.com" {
		t.Fatalf("unexpected email field: %v", fields["email"])
	}
}

func TestWithKeepsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := (&Logger{SugaredLogger: zap.New(core).Sugar()}).With("component", "engine")
	l.Warn("publish failed", "topic", "courierline.events")
	if got := logs.All()[0].ContextMap()["component"]; got != "engine" {
		t.Fatalf("component = %v", got)
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"development", "production", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("%q: %v", mode, err)
		}
		l.Debug("hello")
	}
	Nop().Error("discarded")
}
