// Package registry turns configured agent definitions into ready voting
// participants: it validates the roster, resolves credential references and
// constructs a backend per agent.
package registry

import (
	"fmt"
	"os"
	"strings"
	"time"

	"conclave/internal/backend"
	"conclave/internal/config"
	"conclave/internal/runner"
	"conclave/internal/store"
	"conclave/internal/vault"
)

// Options carries the collaborators agents may need. Store and Vault are
// required only when a definition references a stored secret; Sandbox only
// for container-provider agents.
type Options struct {
	Store   *store.Store
	Vault   *vault.Vault
	Sandbox backend.Sandbox
	BusURL  string
	Image   string
}

type Registry struct {
	opts Options
}

func New(opts Options) *Registry {
	return &Registry{opts: opts}
}

// Build resolves every definition into a runner.Agent. Definitions without
// a timeout inherit the session-level agent timeout.
func (r *Registry) Build(defs []config.AgentDefinition, session config.SessionConfig) ([]runner.Agent, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("no agents defined")
	}

	seen := make(map[string]bool, len(defs))
	agents := make([]runner.Agent, 0, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("agent definition without id")
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate agent id %s", def.ID)
		}
		seen[def.ID] = true

		key, err := r.resolveCredential(def.Credential)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", def.ID, err)
		}

		b, err := backend.New(backend.Kind(def.Provider), backend.Options{
			APIKey:  key,
			BaseURL: def.BaseURL,
			Sandbox: r.opts.Sandbox,
			BusURL:  r.opts.BusURL,
			Image:   r.opts.Image,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", def.ID, err)
		}

		timeout := def.Timeout
		if timeout <= 0 {
			timeout = session.AgentTimeout
		}
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}

		agents = append(agents, runner.Agent{
			ID:          def.ID,
			Role:        def.Role,
			Model:       def.Model,
			Temperature: def.Temperature,
			MaxTokens:   def.MaxTokens,
			Timeout:     timeout,
			Tools:       def.Tools,
			Backend:     b,
		})
	}
	return agents, nil
}

// StoreCredential encrypts a credential and saves it under the given name,
// making it addressable as "secret:<name>".
func (r *Registry) StoreCredential(name, description, plaintext string) error {
	if r.opts.Store == nil || r.opts.Vault == nil {
		return fmt.Errorf("credential storage requires a store and a vault passphrase")
	}
	value, nonce, err := r.opts.Vault.Encrypt([]byte(plaintext))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	return r.opts.Store.SaveSecret(&store.Secret{
		Name:        name,
		Description: description,
		Value:       value,
		Nonce:       nonce,
	})
}

// resolveCredential dereferences a credential reference. Supported forms:
// "secret:<name>" (vault-encrypted store secret), "env:<VAR>", a literal
// value, or empty for providers that need no key.
func (r *Registry) resolveCredential(ref string) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "secret:"):
		name := strings.TrimPrefix(ref, "secret:")
		if r.opts.Store == nil || r.opts.Vault == nil {
			return "", fmt.Errorf("secret %s: no store or vault configured", name)
		}
		sec, err := r.opts.Store.GetSecret(name)
		if err != nil {
			return "", fmt.Errorf("load secret %s: %w", name, err)
		}
		if sec == nil {
			return "", fmt.Errorf("secret %s not found", name)
		}
		plain, err := r.opts.Vault.Decrypt(sec.Value, sec.Nonce)
		if err != nil {
			return "", fmt.Errorf("decrypt secret %s: %w", name, err)
		}
		return string(plain), nil
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", name)
		}
		return v, nil
	default:
		return ref, nil
	}
}
