package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Agents    []AgentDefinition `yaml:"agents"`
	Session   SessionConfig     `yaml:"session"`
	NATS      NATSConfig        `yaml:"nats"`
	Store     StoreConfig       `yaml:"store"`
	Web       WebConfig         `yaml:"web"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Sandbox   SandboxConfig     `yaml:"sandbox"`
	Notify    NotifyConfig      `yaml:"notify"`
	Vault     VaultConfig       `yaml:"vault"`
}

// AgentDefinition is one configured voting participant. The credential field
// is a reference ("secret:<name>" or "env:<VAR>"), never the key itself.
type AgentDefinition struct {
	ID          string        `yaml:"id"`
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Credential  string        `yaml:"credential"`
	Role        string        `yaml:"role"`
	Tools       []string      `yaml:"tools"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	VotingTimeout    time.Duration `yaml:"voting_timeout"`
	MaxRounds        int           `yaml:"max_coordination_rounds"`
	RequireConsensus *bool         `yaml:"require_consensus"`
	MinQuorum        int           `yaml:"min_quorum"`
	AgentTimeout     time.Duration `yaml:"agent_timeout"`
}

// ConsensusRequired resolves the tri-state require_consensus flag (default true).
func (s SessionConfig) ConsensusRequired() bool {
	return s.RequireConsensus == nil || *s.RequireConsensus
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SandboxConfig controls the container provider used for tool-enabled agents.
type SandboxConfig struct {
	Image      string `yaml:"image"`
	MaxRunning int    `yaml:"max_running"`
	Network    string `yaml:"network"`
}

type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Session: SessionConfig{
			VotingTimeout: 5 * time.Minute,
			MaxRounds:     3,
			MinQuorum:     2,
			AgentTimeout:  2 * time.Minute,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/conclave.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Sandbox: SandboxConfig{
			Image:      "conclave-agent:latest",
			MaxRunning: 5,
			Network:    "conclave-net",
		},
	}
}

func Load() (*Config, error) {
	path := os.Getenv("CONCLAVE_CONFIG")
	if path == "" {
		path = "config/conclave.yaml"
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONCLAVE_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("CONCLAVE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("CONCLAVE_WEB_AUTH"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CONCLAVE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CONCLAVE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CONCLAVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CONCLAVE_VOTING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.VotingTimeout = d
		}
	}
	if v := os.Getenv("CONCLAVE_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.MaxRounds = n
		}
	}
}
