package registry

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conclave/internal/config"
	"conclave/internal/store"
	"conclave/internal/vault"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildAgents(t *testing.T) {
	t.Setenv("TEST_GROK_KEY", "xai-key")

	r := New(Options{})
	agents, err := r.Build([]config.AgentDefinition{
		{ID: "critic", Provider: "openai", Model: "gpt-4o", Credential: "literal-key", Role: "critic"},
		{ID: "skeptic", Provider: "grok", Model: "grok-3", Credential: "env:TEST_GROK_KEY", Timeout: 30 * time.Second},
	}, config.SessionConfig{AgentTimeout: time.Minute})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}

	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].ID != "critic" || agents[0].Backend == nil {
		t.Errorf("first agent not built: %+v", agents[0])
	}
	if agents[0].Timeout != time.Minute {
		t.Errorf("expected inherited timeout 1m, got %s", agents[0].Timeout)
	}
	if agents[1].Timeout != 30*time.Second {
		t.Errorf("expected own timeout 30s, got %s", agents[1].Timeout)
	}
	if agents[1].Backend.Kind() != "grok" {
		t.Errorf("expected grok backend, got %s", agents[1].Backend.Kind())
	}
}

func TestBuildRejectsDuplicates(t *testing.T) {
	r := New(Options{})
	_, err := r.Build([]config.AgentDefinition{
		{ID: "critic", Provider: "openai", Credential: "k"},
		{ID: "critic", Provider: "openai", Credential: "k"},
	}, config.SessionConfig{})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestBuildRejectsEmpty(t *testing.T) {
	r := New(Options{})
	if _, err := r.Build(nil, config.SessionConfig{}); err == nil {
		t.Fatal("expected error for empty roster")
	}
	if _, err := r.Build([]config.AgentDefinition{{Provider: "openai"}}, config.SessionConfig{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestBuildUnknownProvider(t *testing.T) {
	r := New(Options{})
	_, err := r.Build([]config.AgentDefinition{
		{ID: "a", Provider: "mystery"},
	}, config.SessionConfig{})
	if err == nil || !strings.Contains(err.Error(), "mystery") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestSecretCredentialRoundtrip(t *testing.T) {
	st := testStore(t)
	v := vault.New("passphrase")
	r := New(Options{Store: st, Vault: v})

	if err := r.StoreCredential("openai-key", "prod key", "sk-test-123"); err != nil {
		t.Fatalf("store credential error: %v", err)
	}

	got, err := r.resolveCredential("secret:openai-key")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if got != "sk-test-123" {
		t.Errorf("expected decrypted key, got %q", got)
	}
}

func TestSecretCredentialMissing(t *testing.T) {
	st := testStore(t)
	r := New(Options{Store: st, Vault: vault.New("p")})

	if _, err := r.resolveCredential("secret:nope"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestEnvCredentialUnset(t *testing.T) {
	r := New(Options{})
	if _, err := r.resolveCredential("env:CONCLAVE_DEFINITELY_UNSET"); err == nil {
		t.Fatal("expected error for unset environment variable")
	}
}
