package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Session.VotingTimeout != 5*time.Minute {
		t.Errorf("expected voting_timeout 5m, got %v", cfg.Session.VotingTimeout)
	}
	if cfg.Session.MaxRounds != 3 {
		t.Errorf("expected max_coordination_rounds 3, got %d", cfg.Session.MaxRounds)
	}
	if !cfg.Session.ConsensusRequired() {
		t.Error("expected consensus required by default")
	}
	if cfg.Session.MinQuorum != 2 {
		t.Errorf("expected min_quorum 2, got %d", cfg.Session.MinQuorum)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/conclave.db" {
		t.Errorf("expected store path data/conclave.db, got %s", cfg.Store.Path)
	}
	if cfg.Sandbox.Image != "conclave-agent:latest" {
		t.Errorf("expected sandbox image conclave-agent:latest, got %s", cfg.Sandbox.Image)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("CONCLAVE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("CONCLAVE_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("CONCLAVE_WEB_AUTH", "secret")
	t.Setenv("CONCLAVE_WEB_PORT", "9090")
	t.Setenv("CONCLAVE_VOTING_TIMEOUT", "90s")
	t.Setenv("CONCLAVE_MAX_ROUNDS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Notify.TelegramToken != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Notify.TelegramToken)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Session.VotingTimeout != 90*time.Second {
		t.Errorf("expected voting timeout 90s, got %v", cfg.Session.VotingTimeout)
	}
	if cfg.Session.MaxRounds != 5 {
		t.Errorf("expected max rounds 5, got %d", cfg.Session.MaxRounds)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
agents:
  - id: analyst
    provider: openai
    model: gpt-4o
    credential: "env:OPENAI_API_KEY"
    role: "You analyze problems."
    temperature: 0.2
    timeout: 90s
  - id: skeptic
    provider: grok
    model: grok-3
    credential: "secret:xai-key"
session:
  voting_timeout: 2m
  max_coordination_rounds: 4
  require_consensus: false
  min_quorum: 1
web:
  port: 3000
  enabled: false
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONCLAVE_CONFIG", cfgPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(cfg.Agents))
	}
	if cfg.Agents[0].ID != "analyst" || cfg.Agents[0].Provider != "openai" {
		t.Errorf("unexpected first agent: %+v", cfg.Agents[0])
	}
	if cfg.Agents[0].Timeout != 90*time.Second {
		t.Errorf("expected agent timeout 90s, got %v", cfg.Agents[0].Timeout)
	}
	if cfg.Agents[1].Credential != "secret:xai-key" {
		t.Errorf("expected credential reference preserved, got %s", cfg.Agents[1].Credential)
	}
	if cfg.Session.VotingTimeout != 2*time.Minute {
		t.Errorf("expected voting timeout 2m, got %v", cfg.Session.VotingTimeout)
	}
	if cfg.Session.MaxRounds != 4 {
		t.Errorf("expected max rounds 4, got %d", cfg.Session.MaxRounds)
	}
	if cfg.Session.ConsensusRequired() {
		t.Error("expected require_consensus false from yaml")
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled from yaml")
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
}

func TestLoadExpandsEnvInYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	t.Setenv("TEST_STORE_DIR", dir)
	yaml := "store:\n  path: \"$TEST_STORE_DIR/conclave.db\"\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONCLAVE_CONFIG", cfgPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Path != filepath.Join(dir, "conclave.db") {
		t.Errorf("expected expanded store path, got %s", cfg.Store.Path)
	}
}
