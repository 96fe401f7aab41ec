// Package secrets resolves provider credentials, preferring HashiCorp Vault
// and falling back to environment variables when Vault is disabled or the
// secret is absent.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"signal-engine/internal/logging"
)

// Config holds Vault connection settings.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // default "secret"
	SecretPath string `json:"secret_path"` // default "signal-engine"
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Provider resolves named secrets. Resolved values are cached for the life of
// the process; credential rotation requires a restart.
type Provider struct {
	client *api.Client
	cfg    Config
	log    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewProvider builds the provider. With Vault disabled every lookup goes
// straight to the environment.
func NewProvider(cfg Config) (*Provider, error) {
	p := &Provider{
		cfg:   cfg,
		log:   logging.Component("secrets"),
		cache: make(map[string]string),
	}
	if !cfg.Enabled {
		return p, nil
	}

	if p.cfg.MountPath == "" {
		p.cfg.MountPath = "secret"
	}
	if p.cfg.SecretPath == "" {
		p.cfg.SecretPath = "signal-engine"
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("configuring vault TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	p.client = client

	p.log.Info().Str("address", cfg.Address).Msg("vault client ready")
	return p, nil
}

// Get resolves a secret by name. Vault is consulted first (KV v2 path
// <mount>/data/<secret_path>, field = name); on a miss the env variable of
// the same name is used.
func (p *Provider) Get(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	if v, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return v, nil
	}
	p.mu.RUnlock()

	if v, err := p.fromVault(ctx, name); err != nil {
		p.log.Warn().Err(err).Str("secret", name).Msg("vault lookup failed, trying environment")
	} else if v != "" {
		p.store(name, v)
		return v, nil
	}

	if v := os.Getenv(name); v != "" {
		p.store(name, v)
		return v, nil
	}
	return "", fmt.Errorf("secret %s not found in vault or environment", name)
}

func (p *Provider) fromVault(ctx context.Context, name string) (string, error) {
	if p.client == nil {
		return "", nil
	}

	path := fmt.Sprintf("%s/data/%s", p.cfg.MountPath, p.cfg.SecretPath)
	secret, err := p.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", nil
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected secret format at %s", path)
	}
	if v, ok := data[name].(string); ok {
		return v, nil
	}
	return "", nil
}

func (p *Provider) store(name, value string) {
	p.mu.Lock()
	p.cache[name] = value
	p.mu.Unlock()
}

// Health verifies the Vault connection. Always healthy when disabled.
func (p *Provider) Health(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	health, err := p.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}
