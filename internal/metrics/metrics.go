package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SendsTotal        prometheus.Counter
	SendFailures      prometheus.Counter
	StreamChunks      prometheus.Counter
	CatalogLiveFetch  prometheus.Counter
	CatalogFallbacks  prometheus.Counter
	ImageJobsEnqueued prometheus.Counter
	ImageJobsDone     prometheus.Counter
	ImageJobsFailed   prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			SendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chathub",
				Name:      "chat_sends_total",
				Help:      "Total chat send operations started",
			}),
			SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chathub",
				Name:      "chat_send_failures_total",
				Help:      "Total chat send operations that surfaced an error",
			}),
			StreamChunks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chathub",
				Name:      "chat_stream_chunks_total",
				Help:      "Total streamed reply chunks emitted",
			}),
			CatalogLiveFetch: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chathub",
				Name:      "catalog_live_fetches_total",
				Help:      "Total live model-listing requests attempted",
			}),
			CatalogFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chathub",
				Name:      "catalog_fallbacks_total",
				Help:      "Total model listings served from the default tables after a live failure",
			}),
			ImageJobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chathub",
				Name:      "image_jobs_enqueued_total",
				Help:      "Total image generation jobs enqueued",
			}),
			ImageJobsDone: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chathub",
				Name:      "image_jobs_processed_total",
				Help:      "Total image generation jobs completed",
			}),
			ImageJobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chathub",
				Name:      "image_jobs_failed_total",
				Help:      "Total image generation jobs that failed terminally",
			}),
		}
		prometheus.MustRegister(
			global.SendsTotal,
			global.SendFailures,
			global.StreamChunks,
			global.CatalogLiveFetch,
			global.CatalogFallbacks,
			global.ImageJobsEnqueued,
			global.ImageJobsDone,
			global.ImageJobsFailed,
		)
	})
	return global
}
