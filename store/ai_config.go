package store

import (
	"context"

	"github.com/pkg/errors"
)

// Defaults applied to fields missing from a tenant's AI configuration.
const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// MaskedAPIKey is shown in place of a configured credential and is never treated as one.
const MaskedAPIKey = "******"

// AIConfig is the per-tenant generation configuration. Upserted as a whole.
type AIConfig struct {
	Tenant           string
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float64
	MaxTokens        int
	SystemPrompt     string
	UserPrompt       string
	AutoReplyEnabled bool
	UpdatedTs        int64
}

// DefaultAIConfig returns the configuration used when a tenant has none stored.
func DefaultAIConfig(tenant string) *AIConfig {
	return &AIConfig{
		Tenant:      tenant,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// HasCredential reports whether a usable API key is configured.
func (c *AIConfig) HasCredential() bool {
	return c != nil && c.APIKey != "" && c.APIKey != MaskedAPIKey
}

// Masked returns a copy safe to show to an operator.
func (c *AIConfig) Masked() *AIConfig {
	out := *c
	if out.APIKey != "" {
		out.APIKey = MaskedAPIKey
	}
	return &out
}

// GetAIConfig returns the tenant's configuration with the credential decrypted.
// A tenant without a stored row gets DefaultAIConfig.
func (s *Store) GetAIConfig(ctx context.Context, tenant string) (*AIConfig, error) {
	if cached, ok := s.aiConfigCache.Get(tenant); ok {
		c := *cached
		return &c, nil
	}

	s.aiConfigMu.Lock()
	gen := s.aiConfigGen
	s.aiConfigMu.Unlock()

	cfg, err := s.driver.GetAIConfig(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = DefaultAIConfig(tenant)
	} else if cfg.APIKey != "" {
		plain, err := s.cipher.Decrypt(cfg.APIKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decrypt ai credential")
		}
		cfg.APIKey = plain
	}
	if cfg.APIKey == MaskedAPIKey {
		cfg.APIKey = ""
	}

	c := *cfg
	s.aiConfigMu.Lock()
	if s.aiConfigGen == gen {
		s.aiConfigCache.Set(tenant, &c, 0)
	}
	s.aiConfigMu.Unlock()
	return cfg, nil
}

func (s *Store) invalidateAIConfig(tenant string) {
	s.aiConfigMu.Lock()
	defer s.aiConfigMu.Unlock()
	s.aiConfigGen++
	s.aiConfigCache.Remove(tenant)
}

// UpsertAIConfig replaces the tenant's configuration.
func (s *Store) UpsertAIConfig(ctx context.Context, upsert *AIConfig) (*AIConfig, error) {
	row := *upsert
	if row.APIKey == MaskedAPIKey {
		row.APIKey = ""
	}
	plain := row.APIKey
	if row.APIKey != "" {
		enc, err := s.cipher.Encrypt(row.APIKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encrypt ai credential")
		}
		row.APIKey = enc
	}

	saved, err := s.driver.UpsertAIConfig(ctx, &row)
	s.invalidateAIConfig(upsert.Tenant)
	if err != nil {
		return nil, err
	}
	saved.APIKey = plain
	return saved, nil
}

// SetAutoReplyEnabled toggles auto-send for the tenant, creating a default row when absent.
func (s *Store) SetAutoReplyEnabled(ctx context.Context, tenant string, enabled bool) error {
	err := s.driver.SetAutoReplyEnabled(ctx, tenant, enabled)
	s.invalidateAIConfig(tenant)
	return err
}

func (s *Store) DeleteAIConfig(ctx context.Context, tenant string) error {
	err := s.driver.DeleteAIConfig(ctx, tenant)
	s.invalidateAIConfig(tenant)
	return err
}
