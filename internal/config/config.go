// Package config loads the server configuration from the environment. Struct
// tags drive the plain settings; master keys need custom parsing (multiple
// named keys plus a single-key shorthand) and are handled separately.
package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrMissingMasterKey   = errors.New("at least one master key is required")
)

type Config struct {
	HTTP   HTTPConfig
	Redis  RedisConfig
	DB     DBConfig
	Worker WorkerConfig
	Rate   RateConfig
	Chat   ChatConfig
	Crypto CryptoConfig
	Log    LogConfig
}

type HTTPConfig struct {
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080"`
	ClientTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type RedisConfig struct {
	Addr        string        `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Password    string        `env:"REDIS_PASSWORD"`
	DB          int           `env:"REDIS_DB" envDefault:"0"`
	QueueStream string        `env:"QUEUE_STREAM" envDefault:"chathub:image_jobs"`
	QueueGroup  string        `env:"QUEUE_GROUP" envDefault:"chathub-workers"`
	QueueBlock  time.Duration `env:"QUEUE_BLOCK" envDefault:"5s"`
}

type DBConfig struct {
	Driver        string `env:"DB_DRIVER" envDefault:"sqlite"`
	DSN           string `env:"DB_DSN" envDefault:"chathub.db"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

type WorkerConfig struct {
	Concurrency  int    `env:"WORKER_CONCURRENCY" envDefault:"2"`
	ConsumerName string `env:"WORKER_CONSUMER_NAME"`
	MaxRetries   int    `env:"WORKER_MAX_RETRIES" envDefault:"3"`
}

type RateConfig struct {
	PerHour int64 `env:"RATE_LIMIT_PER_HOUR" envDefault:"100"`
}

type ChatConfig struct {
	// CustomBaseURL backs the "custom" provider (an OpenAI-compatible
	// endpoint chosen by the operator).
	CustomBaseURL   string        `env:"CUSTOM_PROVIDER_BASE_URL"`
	ModelsCacheTTL  time.Duration `env:"MODELS_CACHE_TTL" envDefault:"10m"`
	DiagnosticsPath string        `env:"DIAG_LOG_PATH" envDefault:"chathub-diag.log"`
}

type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	for _, target := range []any{
		&cfg.HTTP, &cfg.Redis, &cfg.DB, &cfg.Worker, &cfg.Rate, &cfg.Chat, &cfg.Log,
	} {
		if err := env.Parse(target); err != nil {
			return nil, fmt.Errorf("parse environment: %w", err)
		}
	}

	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Worker.ConsumerName == "" {
		cfg.Worker.ConsumerName = hostnameOr("worker")
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

// loadCryptoConfig collects master keys from MASTER_KEYS_JSON, any
// MASTER_KEY_<ID>_B64 variables, and the MASTER_KEY_B64 shorthand. Every key
// must decode to exactly 32 bytes.
func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := strings.TrimSpace(os.Getenv("MASTER_KEYS_JSON")); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k, v := parts[0], parts[1]
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		if k == "MASTER_KEY_B64" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := strings.TrimSpace(os.Getenv("MASTER_KEY_CURRENT_ID"))
	if singleton := strings.TrimSpace(os.Getenv("MASTER_KEY_B64")); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, ErrMissingMasterKey
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		for id := range keys {
			current = id
			break
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
