// Package secrets is a thin Vault-backed provider for the exchange and
// advisor API keys the engine needs but never itself parses from config
// files: one KV document at a fixed path, read once and cached, the way
// internal/vault/client.go caches per-user API keys but collapsed to a
// single tenant with no per-user dimension.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Config points the provider at a Vault KV v2 mount and secret path.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string // e.g. "secret"
	SecretPath string // e.g. "candlewatch/keys"
	TLSEnabled bool
	CACert     string
}

// Provider reads a single KV v2 document and caches its fields in memory.
// With Vault disabled it serves only what Seed populated, for local/dev use.
type Provider struct {
	client *api.Client
	cfg    Config

	mu     sync.RWMutex
	fields map[string]string
	loaded bool
}

func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{cfg: cfg, fields: make(map[string]string)}, nil
	}

	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = cfg.Address
	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultCfg.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("configure vault tls: %w", err)
		}
	}

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Provider{client: client, cfg: cfg, fields: make(map[string]string)}, nil
}

// Seed populates the in-memory cache directly, bypassing Vault. Used in
// tests and when Vault is disabled.
func (p *Provider) Seed(fields map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range fields {
		p.fields[k] = v
	}
	p.loaded = true
}

// Get returns one field from the cached document, loading it from Vault on
// first access.
func (p *Provider) Get(ctx context.Context, field string) (string, error) {
	p.mu.RLock()
	if p.loaded {
		v, ok := p.fields[field]
		p.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("secret field %q not found", field)
		}
		return v, nil
	}
	p.mu.RUnlock()

	if err := p.load(ctx); err != nil {
		return "", err
	}
	return p.Get(ctx, field)
}

// APIKeyPair is the exchange credential shape most callers want.
type APIKeyPair struct {
	APIKey    string
	SecretKey string
}

// GetAPIKeyPair reads the "<prefix>_api_key"/"<prefix>_secret_key" fields,
// e.g. prefix "binance" or "telegram".
func (p *Provider) GetAPIKeyPair(ctx context.Context, prefix string) (APIKeyPair, error) {
	apiKey, err := p.Get(ctx, prefix+"_api_key")
	if err != nil {
		return APIKeyPair{}, err
	}
	secretKey, err := p.Get(ctx, prefix+"_secret_key")
	if err != nil {
		return APIKeyPair{}, err
	}
	return APIKeyPair{APIKey: apiKey, SecretKey: secretKey}, nil
}

func (p *Provider) load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	if !p.cfg.Enabled {
		p.loaded = true
		return nil
	}

	path := fmt.Sprintf("%s/data/%s", p.cfg.MountPath, p.cfg.SecretPath)
	secret, err := p.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return fmt.Errorf("read vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return fmt.Errorf("secret not found at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected secret shape at %s", path)
	}
	for k, v := range data {
		if s, ok := v.(string); ok {
			p.fields[k] = s
		}
	}
	p.loaded = true
	return nil
}

// Health reports whether Vault is reachable and unsealed; a no-op when
// Vault is disabled.
func (p *Provider) Health(ctx context.Context) error {
	if !p.cfg.Enabled {
		return nil
	}
	health, err := p.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}
