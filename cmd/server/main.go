package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chathub/internal/api"
	"chathub/internal/chat"
	"chathub/internal/config"
	"chathub/internal/crypto"
	"chathub/internal/diag"
	"chathub/internal/httpx"
	"chathub/internal/metrics"
	"chathub/internal/providers/catalog"
	"chathub/internal/queue"
	"chathub/internal/secrets"
	"chathub/internal/storage"
	"chathub/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Str("listen_addr", cfg.HTTP.ListenAddr).
		Msg("starting chathub")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, cfg.DB.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	keyring, err := crypto.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize keyring")
	}
	vault := secrets.New(store, keyring, log.Logger)

	recorder, err := diag.Open(cfg.Chat.DiagnosticsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open diagnostic log")
	}
	defer recorder.Close()

	m := metrics.Global()
	hc := httpx.NewClient(cfg.HTTP.ClientTimeout)
	models := catalog.New(hc, log.Logger, m, cfg.Chat.ModelsCacheTTL)

	orch := chat.New(chat.Options{
		Store:         store,
		Vault:         vault,
		HTTP:          hc,
		Diag:          recorder,
		CustomBaseURL: cfg.Chat.CustomBaseURL,
		Logger:        log.Logger,
		Metrics:       m,
	})

	imageQueue := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)
	limiter := queue.NewRateLimiter(rdb, cfg.Rate.PerHour)

	errCh := make(chan error, 2)

	imageWorker := worker.New(worker.Config{
		Store:         store,
		Queue:         imageQueue,
		Vault:         vault,
		MaxJobRetries: cfg.Worker.MaxRetries,
		Logger:        log.Logger,
		Metrics:       m,
	})
	go func() {
		if err := imageWorker.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("worker failed: %w", err)
		}
	}()
	log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("image worker started")

	srv := api.New(api.Config{
		Store:   store,
		Orch:    orch,
		Catalog: models,
		Vault:   vault,
		Images:  imageQueue,
		Limiter: limiter,
		Logger:  log.Logger,
		Metrics: m,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
