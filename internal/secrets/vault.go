// Package secrets is the provider API key vault. Keys are sealed by
// internal/crypto before hitting the secrets table, and an absent key reads
// back as the empty string so callers can short-circuit without branching on
// a not-found error.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"chathub/internal/apperr"
	"chathub/internal/crypto"
	"chathub/internal/providers"
)

type store interface {
	PutSecret(ctx context.Context, provider, sealedValue string) error
	GetSecret(ctx context.Context, provider string) (string, error)
	ListSecretProviders(ctx context.Context) ([]string, error)
	DeleteSecret(ctx context.Context, provider string) error
}

type Vault struct {
	store   store
	keyring *crypto.Keyring
	logger  zerolog.Logger
}

func New(s store, kr *crypto.Keyring, logger zerolog.Logger) *Vault {
	return &Vault{
		store:   s,
		keyring: kr,
		logger:  logger.With().Str("component", "vault").Logger(),
	}
}

// Get returns the plaintext API key for a provider. A provider with no stored
// key yields ("", nil); only real failures error.
func (v *Vault) Get(ctx context.Context, p providers.Provider) (string, error) {
	sealed, err := v.store.GetSecret(ctx, string(p))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	plain, err := v.keyring.OpenString(sealed)
	if err != nil {
		return "", fmt.Errorf("open secret for %s: %w", p, err)
	}
	return plain, nil
}

// Set stores the API key for a provider. An empty or whitespace-only value
// removes the stored key instead; clearing an already-absent key is a no-op.
func (v *Vault) Set(ctx context.Context, p providers.Provider, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		if err := v.Delete(ctx, p); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return nil
	}
	sealed, err := v.keyring.SealString(apiKey)
	if err != nil {
		return fmt.Errorf("seal secret for %s: %w", p, err)
	}
	if err := v.store.PutSecret(ctx, string(p), sealed); err != nil {
		return err
	}
	v.logger.Info().Str("provider", string(p)).Msg("api key stored")
	return nil
}

func (v *Vault) Delete(ctx context.Context, p providers.Provider) error {
	if err := v.store.DeleteSecret(ctx, string(p)); err != nil {
		return err
	}
	v.logger.Info().Str("provider", string(p)).Msg("api key removed")
	return nil
}

// Configured reports which providers currently have a stored key. The key
// material itself never leaves the vault.
func (v *Vault) Configured(ctx context.Context) ([]providers.Provider, error) {
	names, err := v.store.ListSecretProviders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]providers.Provider, 0, len(names))
	for _, name := range names {
		p, err := providers.Parse(name)
		if err != nil {
			v.logger.Warn().Str("provider", name).Msg("skipping secret for unknown provider")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Rewrap re-seals every stored secret under the active master key. Run after
// a key rotation; rows sealed under retired keys stay readable until then.
func (v *Vault) Rewrap(ctx context.Context) (int, error) {
	names, err := v.store.ListSecretProviders(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, name := range names {
		sealed, err := v.store.GetSecret(ctx, name)
		if err != nil {
			return n, err
		}
		resealed, err := v.keyring.Rewrap(sealed)
		if err != nil {
			return n, fmt.Errorf("rewrap secret for %s: %w", name, err)
		}
		if err := v.store.PutSecret(ctx, name, resealed); err != nil {
			return n, err
		}
		n++
	}
	v.logger.Info().Int("count", n).Msg("secrets rewrapped")
	return n, nil
}
