// Package worker consumes image-generation jobs from the redis stream and
// records the resulting image metadata. Generation goes through the OpenAI
// images endpoint; jobs are retried up to a cap and acked either way.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chathub/internal/apperr"
	"chathub/internal/httpx"
	"chathub/internal/metrics"
	"chathub/internal/providers"
	"chathub/internal/queue"
	"chathub/internal/secrets"
	"chathub/internal/storage"
)

const defaultImageSize = "1024x1024"

type Worker struct {
	store         *storage.Store
	queue         *queue.StreamQueue
	vault         *secrets.Vault
	http          *httpx.Client
	baseURL       string
	maxJobRetries int
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type Config struct {
	Store         *storage.Store
	Queue         *queue.StreamQueue
	Vault         *secrets.Vault
	HTTPClient    *http.Client
	MaxJobRetries int
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics

	// BaseURL overrides the images endpoint, for tests.
	BaseURL string
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	hc := httpx.NewClientWith(cfg.HTTPClient)
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = providers.OpenAI.BaseURL()
	}
	return &Worker{
		store:         cfg.Store,
		queue:         cfg.Queue,
		vault:         cfg.Vault,
		http:          hc,
		baseURL:       cfg.BaseURL,
		maxJobRetries: cfg.MaxJobRetries,
		logger:        cfg.Logger,
		metrics:       m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		for _, msg := range messages {
			err := w.processJob(ctx, msg.Job)
			if err == nil {
				w.metrics.ImageJobsDone.Inc()
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
				}
				continue
			}

			log.Error().Err(err).Str("job_id", msg.Job.JobID).Int("attempt", msg.Job.Attempts).Msg("job failed")

			if retryable(err) && msg.Job.Attempts < w.maxJobRetries {
				msg.Job.Attempts++
				if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
					log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue failed job")
					continue
				}
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after re-enqueue")
				}
				continue
			}

			w.metrics.ImageJobsFailed.Inc()
			if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack terminal failed message")
			}
		}
	}
}

// processJob calls the images endpoint and records the returned URL as the
// image location. Bytes are never downloaded here.
func (w *Worker) processJob(ctx context.Context, job queue.ImageJob) error {
	apiKey, err := w.vault.Get(ctx, providers.OpenAI)
	if err != nil {
		return err
	}
	if apiKey == "" {
		return apperr.MissingAPIKey(string(providers.OpenAI))
	}

	size := strings.TrimSpace(job.Size)
	if size == "" {
		size = defaultImageSize
	}

	payload, err := json.Marshal(map[string]any{
		"prompt": job.Prompt,
		"n":      1,
		"size":   size,
	})
	if err != nil {
		return fmt.Errorf("marshal image request: %w", err)
	}

	var out struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	err = w.http.Do(ctx, w.baseURL, httpx.Endpoint{
		Path:   "/images/generations",
		Method: http.MethodPost,
		Header: map[string]string{"Authorization": "Bearer " + apiKey},
		Body:   payload,
	}, &out)
	if err != nil {
		return err
	}
	if len(out.Data) == 0 || strings.TrimSpace(out.Data[0].URL) == "" {
		return apperr.NoData("image response had no url")
	}

	img := storage.GeneratedImage{
		Prompt:    job.Prompt,
		ImagePath: out.Data[0].URL,
		Size:      size,
	}
	if job.ChatID != "" {
		img.ChatID = &job.ChatID
	}
	if _, err := w.store.CreateGeneratedImage(ctx, img); err != nil {
		return err
	}

	w.logger.Info().Str("job_id", job.JobID).Str("size", size).Msg("image generated")
	return nil
}

// retryable: transient transport and provider-side failures go back on the
// stream; everything else (missing key, bad request, store errors) is final.
func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindConnectionFailed, apperr.KindTimeout, apperr.KindRateLimited, apperr.KindServerError:
		return true
	default:
		return false
	}
}
