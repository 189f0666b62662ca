package crypto

import (
	"encoding/base64"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	kr, err := NewKeyring("k1", map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	raw, err := kr.SealString("sk-test-123")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	out, err := kr.OpenString(raw)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "sk-test-123" {
		t.Fatalf("expected original value, got %q", out)
	}
}

func TestRewrapAfterRotation(t *testing.T) {
	oldKey := mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	newKey := mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")

	before, err := NewKeyring("old", map[string][]byte{"old": oldKey})
	if err != nil {
		t.Fatalf("keyring before rotation: %v", err)
	}
	legacy, err := before.SealString("legacy-key")
	if err != nil {
		t.Fatalf("seal legacy: %v", err)
	}

	after, err := NewKeyring("new", map[string][]byte{"old": oldKey, "new": newKey})
	if err != nil {
		t.Fatalf("keyring after rotation: %v", err)
	}

	rewrapped, err := after.Rewrap(legacy)
	if err != nil {
		t.Fatalf("rewrap: %v", err)
	}
	plain, err := after.OpenString(rewrapped)
	if err != nil {
		t.Fatalf("open rewrapped: %v", err)
	}
	if plain != "legacy-key" {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	// The rewrapped envelope must no longer depend on the old key.
	onlyNew, err := NewKeyring("new", map[string][]byte{"new": newKey})
	if err != nil {
		t.Fatalf("keyring with new key only: %v", err)
	}
	if _, err := onlyNew.OpenString(rewrapped); err != nil {
		t.Fatalf("open with new key only: %v", err)
	}
}

func TestUnknownKeyID(t *testing.T) {
	kr, err := NewKeyring("k1", map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	if _, err := kr.OpenString(`{"key_id":"ghost","nonce":"","ciphertext":""}`); err == nil {
		t.Fatal("expected error for unknown key id")
	}
}

func mustKey(t *testing.T, b64 string) []byte {
	t.Helper()
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k))
	}
	return k
}
