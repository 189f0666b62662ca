package config

import (
	"encoding/base64"
	"errors"
	"testing"
)

func masterKeyB64() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MASTER_KEY_B64", masterKeyB64())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.ListenAddr != ":8080" {
		t.Fatalf("listen addr = %q", cfg.HTTP.ListenAddr)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.DSN != "chathub.db" {
		t.Fatalf("db config = %+v", cfg.DB)
	}
	if cfg.Redis.QueueStream != "chathub:image_jobs" {
		t.Fatalf("queue stream = %q", cfg.Redis.QueueStream)
	}
	if cfg.Crypto.CurrentKeyID != "default" {
		t.Fatalf("current key id = %q", cfg.Crypto.CurrentKeyID)
	}
	if len(cfg.Crypto.Keys["default"]) != 32 {
		t.Fatalf("master key not loaded: %+v", cfg.Crypto.Keys)
	}
	if cfg.Worker.ConsumerName == "" {
		t.Fatal("consumer name not defaulted")
	}
}

func TestLoadRequiresMasterKey(t *testing.T) {
	if _, err := Load(); !errors.Is(err, ErrMissingMasterKey) {
		t.Fatalf("want ErrMissingMasterKey, got %v", err)
	}
}

func TestLoadNamedMasterKeys(t *testing.T) {
	t.Setenv("MASTER_KEY_K1_B64", masterKeyB64())
	t.Setenv("MASTER_KEY_K2_B64", masterKeyB64())
	t.Setenv("MASTER_KEY_CURRENT_ID", "K2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Crypto.CurrentKeyID != "K2" {
		t.Fatalf("current key id = %q", cfg.Crypto.CurrentKeyID)
	}
	if len(cfg.Crypto.Keys) != 2 {
		t.Fatalf("keys = %d, want 2", len(cfg.Crypto.Keys))
	}
}

func TestLoadRejectsShortKey(t *testing.T) {
	t.Setenv("MASTER_KEY_B64", base64.StdEncoding.EncodeToString([]byte("short")))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for a non-32-byte master key")
	}
}
