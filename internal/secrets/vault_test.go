package secrets

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"chathub/internal/crypto"
	"chathub/internal/providers"
	"chathub/internal/storage"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "vault.db")
	s, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	kr, err := crypto.NewKeyring("k1", map[string][]byte{"k1": key})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	return New(s, kr, zerolog.Nop())
}

func TestVaultRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	got, err := v.Get(ctx, providers.OpenAI)
	if err != nil {
		t.Fatalf("get absent key: %v", err)
	}
	if got != "" {
		t.Fatalf("absent key = %q, want empty", got)
	}

	if err := v.Set(ctx, providers.OpenAI, "sk-test-123"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	got, err = v.Get(ctx, providers.OpenAI)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if got != "sk-test-123" {
		t.Fatalf("key = %q, want sk-test-123", got)
	}

	configured, err := v.Configured(ctx)
	if err != nil {
		t.Fatalf("configured: %v", err)
	}
	if len(configured) != 1 || configured[0] != providers.OpenAI {
		t.Fatalf("configured = %v", configured)
	}
}

func TestVaultSetEmptyDeletes(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	if err := v.Set(ctx, providers.Anthropic, "sk-ant-xyz"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if err := v.Set(ctx, providers.Anthropic, "   "); err != nil {
		t.Fatalf("set blank key: %v", err)
	}
	// Clearing an already-absent key stays a no-op.
	if err := v.Set(ctx, providers.Anthropic, ""); err != nil {
		t.Fatalf("clear absent key: %v", err)
	}
	got, err := v.Get(ctx, providers.Anthropic)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if got != "" {
		t.Fatalf("key after blank set = %q, want empty", got)
	}
}

func TestVaultRewrap(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	if err := v.Set(ctx, providers.Groq, "gsk-abc"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	n, err := v.Rewrap(ctx)
	if err != nil {
		t.Fatalf("rewrap: %v", err)
	}
	if n != 1 {
		t.Fatalf("rewrapped %d secrets, want 1", n)
	}
	got, err := v.Get(ctx, providers.Groq)
	if err != nil {
		t.Fatalf("get key after rewrap: %v", err)
	}
	if got != "gsk-abc" {
		t.Fatalf("key after rewrap = %q", got)
	}
}
