// Package catalog knows which models each provider offers. Listings come from
// the provider's live model endpoint when an API key is available and from the
// built-in default tables otherwise. A live failure of any kind degrades to
// the defaults; FetchAvailableModels never returns an error.
package catalog

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chathub/internal/httpx"
	"chathub/internal/metrics"
	"chathub/internal/providers"
	"chathub/internal/providers/anthropic_messages"
)

type ModelInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ContextSize  int      `json:"context_size"`
	Capabilities []string `json:"capabilities"`
}

const (
	capText      = "text"
	capVision    = "vision"
	capAudio     = "audio"
	capAnalysis  = "analysis"
	capReasoning = "reasoning"
	capCode      = "code"
	capWeb       = "web"
)

type Service struct {
	http    *httpx.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	cache    map[providers.Provider]cacheEntry
	cacheTTL time.Duration

	// baseURL is swapped out by tests to point at a local server.
	baseURL func(providers.Provider) string
}

type cacheEntry struct {
	models   []ModelInfo
	cachedAt time.Time
}

func New(hc *httpx.Client, logger zerolog.Logger, m *metrics.Metrics, cacheTTL time.Duration) *Service {
	if hc == nil {
		hc = httpx.NewClient(0)
	}
	if m == nil {
		m = metrics.Global()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Service{
		http:     hc,
		logger:   logger,
		metrics:  m,
		cache:    make(map[providers.Provider]cacheEntry),
		cacheTTL: cacheTTL,
		baseURL:  providers.Provider.BaseURL,
	}
}

// FetchAvailableModels returns the live listing for the provider, or the
// default table. An empty key short-circuits to the defaults without I/O.
func (s *Service) FetchAvailableModels(ctx context.Context, p providers.Provider, apiKey string) []ModelInfo {
	if strings.TrimSpace(apiKey) == "" {
		return DefaultModels(p)
	}

	switch p {
	case providers.OpenAI:
		return s.cached(p, func() ([]ModelInfo, error) { return s.fetchOpenAI(ctx, apiKey) })
	case providers.Anthropic:
		return s.cached(p, func() ([]ModelInfo, error) { return s.fetchAnthropic(ctx, apiKey) })
	case providers.Groq:
		return s.cached(p, func() ([]ModelInfo, error) { return s.fetchGroq(ctx, apiKey) })
	case providers.Perplexity, providers.DeepSeek, providers.OpenRouter:
		// No listing endpoint in scope for these providers.
		return DefaultModels(p)
	case providers.Custom:
		return DefaultModels(p)
	default:
		return DefaultModels(p)
	}
}

func (s *Service) cached(p providers.Provider, fetch func() ([]ModelInfo, error)) []ModelInfo {
	s.mu.RLock()
	entry, ok := s.cache[p]
	s.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < s.cacheTTL {
		return entry.models
	}

	s.metrics.CatalogLiveFetch.Inc()
	models, err := fetch()
	if err != nil {
		s.metrics.CatalogFallbacks.Inc()
		s.logger.Debug().Err(err).Str("provider", string(p)).Msg("model listing failed, using defaults")
		return DefaultModels(p)
	}

	s.mu.Lock()
	s.cache[p] = cacheEntry{models: models, cachedAt: time.Now()}
	s.mu.Unlock()
	return models
}

type listingResponse struct {
	Data []struct {
		ID            string `json:"id"`
		ContextWindow int    `json:"context_window"`
	} `json:"data"`
}

func (s *Service) fetchOpenAI(ctx context.Context, apiKey string) ([]ModelInfo, error) {
	var resp listingResponse
	err := s.http.Do(ctx, s.baseURL(providers.OpenAI), httpx.Endpoint{
		Path:   "/models",
		Method: http.MethodGet,
		Header: map[string]string{"Authorization": "Bearer " + apiKey},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		if !strings.Contains(m.ID, "gpt") || strings.Contains(m.ID, "instruct") || strings.Contains(m.ID, "-ft-") {
			continue
		}
		out = append(out, mapOpenAIModel(m.ID))
	}
	return out, nil
}

func (s *Service) fetchAnthropic(ctx context.Context, apiKey string) ([]ModelInfo, error) {
	var resp listingResponse
	err := s.http.Do(ctx, s.baseURL(providers.Anthropic), httpx.Endpoint{
		Path:   "/models",
		Method: http.MethodGet,
		Header: map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": anthropic_messages.Version,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		contextSize := m.ContextWindow
		if contextSize <= 0 {
			contextSize = 200000
		}
		out = append(out, ModelInfo{
			ID:           m.ID,
			Name:         anthropicModelName(m.ID),
			ContextSize:  contextSize,
			Capabilities: anthropicCapabilities(m.ID),
		})
	}
	return out, nil
}

func (s *Service) fetchGroq(ctx context.Context, apiKey string) ([]ModelInfo, error) {
	var resp listingResponse
	err := s.http.Do(ctx, s.baseURL(providers.Groq), httpx.Endpoint{
		Path:   "/models",
		Method: http.MethodGet,
		Header: map[string]string{"Authorization": "Bearer " + apiKey},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, mapGroqModel(m.ID))
	}
	return out, nil
}

// Substring mapping tables. Most specific id first; unknown ids land in a
// conservative default bucket.

func mapOpenAIModel(id string) ModelInfo {
	switch {
	case strings.Contains(id, "gpt-4-turbo"):
		return ModelInfo{ID: id, Name: "GPT-4 Turbo", ContextSize: 128000, Capabilities: []string{capText, capAnalysis, capReasoning}}
	case strings.Contains(id, "gpt-4o"):
		return ModelInfo{ID: id, Name: "GPT-4o", ContextSize: 128000, Capabilities: []string{capText, capVision, capAudio}}
	case strings.Contains(id, "gpt-4"):
		return ModelInfo{ID: id, Name: "GPT-4", ContextSize: 8192, Capabilities: []string{capText, capAnalysis, capReasoning}}
	case strings.Contains(id, "gpt-3.5-turbo"):
		return ModelInfo{ID: id, Name: "GPT-3.5 Turbo", ContextSize: 16384, Capabilities: []string{capText, capAnalysis}}
	default:
		return ModelInfo{ID: id, Name: id, ContextSize: 4096, Capabilities: []string{capText}}
	}
}

func anthropicModelName(id string) string {
	switch {
	case strings.Contains(id, "claude-3-7-sonnet"):
		return "Claude 3.7 Sonnet"
	case strings.Contains(id, "claude-3-5-sonnet"):
		return "Claude 3.5 Sonnet"
	case strings.Contains(id, "claude-3-opus"):
		return "Claude 3 Opus"
	case strings.Contains(id, "claude-3-sonnet"):
		return "Claude 3 Sonnet"
	case strings.Contains(id, "claude-3-haiku"):
		return "Claude 3 Haiku"
	case strings.Contains(id, "claude-2"):
		return "Claude 2"
	default:
		return id
	}
}

func anthropicCapabilities(id string) []string {
	switch {
	case strings.Contains(id, "opus"):
		return []string{capText, capVision, capAnalysis, capReasoning, capAudio}
	case strings.Contains(id, "sonnet"):
		return []string{capText, capVision, capAnalysis, capReasoning}
	case strings.Contains(id, "haiku"):
		return []string{capText, capVision, capAnalysis}
	default:
		return []string{capText, capAnalysis}
	}
}

func mapGroqModel(id string) ModelInfo {
	switch {
	case strings.Contains(id, "llama3-8b"):
		return ModelInfo{ID: id, Name: "Llama-3 8B", ContextSize: 8192, Capabilities: []string{capText, capAnalysis}}
	case strings.Contains(id, "llama3-70b"):
		return ModelInfo{ID: id, Name: "Llama-3 70B", ContextSize: 8192, Capabilities: []string{capText, capAnalysis, capReasoning}}
	case strings.Contains(id, "mixtral-8x7b"):
		return ModelInfo{ID: id, Name: "Mixtral 8x7B", ContextSize: 32768, Capabilities: []string{capText, capAnalysis}}
	case strings.Contains(id, "gemma-7b"):
		return ModelInfo{ID: id, Name: "Gemma 7B", ContextSize: 8192, Capabilities: []string{capText, capAnalysis}}
	default:
		return ModelInfo{ID: id, Name: id, ContextSize: 8192, Capabilities: []string{capText}}
	}
}

// DefaultModels is total and pure. Every provider except custom has a
// non-empty table; custom models are supplied by the user, not listed here.
func DefaultModels(p providers.Provider) []ModelInfo {
	switch p {
	case providers.OpenAI:
		return []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, Capabilities: []string{capText, capVision, capAudio}},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, Capabilities: []string{capText, capAnalysis, capReasoning}},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16384, Capabilities: []string{capText, capAnalysis}},
		}
	case providers.Anthropic:
		return []ModelInfo{
			{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", ContextSize: 200000, Capabilities: []string{capText, capVision, capAnalysis, capReasoning}},
			{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet", ContextSize: 200000, Capabilities: []string{capText, capVision, capAnalysis, capReasoning}},
			{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000, Capabilities: []string{capText, capVision, capAnalysis}},
		}
	case providers.Groq:
		return []ModelInfo{
			{ID: "llama3-70b-8192", Name: "Llama-3 70B", ContextSize: 8192, Capabilities: []string{capText, capAnalysis, capReasoning}},
			{ID: "llama3-8b-8192", Name: "Llama-3 8B", ContextSize: 8192, Capabilities: []string{capText, capAnalysis}},
			{ID: "mixtral-8x7b-32768", Name: "Mixtral 8x7B", ContextSize: 32768, Capabilities: []string{capText, capAnalysis}},
		}
	case providers.Perplexity:
		return []ModelInfo{
			{ID: "sonar-pro-online", Name: "Sonar Pro", ContextSize: 12000, Capabilities: []string{capText, capWeb, capAnalysis}},
			{ID: "sonar-medium-online", Name: "Sonar Medium", ContextSize: 12000, Capabilities: []string{capText, capWeb, capAnalysis}},
			{ID: "sonar-small-online", Name: "Sonar Small", ContextSize: 12000, Capabilities: []string{capText, capWeb}},
		}
	case providers.DeepSeek:
		return []ModelInfo{
			{ID: "deepseek-chat", Name: "DeepSeek Chat", ContextSize: 32768, Capabilities: []string{capText, capAnalysis}},
			{ID: "deepseek-coder", Name: "DeepSeek Coder", ContextSize: 32768, Capabilities: []string{capText, capCode, capAnalysis}},
		}
	case providers.OpenRouter:
		return []ModelInfo{
			{ID: "openai/gpt-4", Name: "GPT-4 (OpenAI)", ContextSize: 8192, Capabilities: []string{capText, capAnalysis, capReasoning}},
			{ID: "anthropic/claude-3-opus", Name: "Claude 3 Opus (Anthropic)", ContextSize: 200000, Capabilities: []string{capText, capVision, capAnalysis, capReasoning}},
			{ID: "google/gemini-pro", Name: "Gemini Pro (Google)", ContextSize: 32768, Capabilities: []string{capText, capAnalysis, capReasoning}},
		}
	case providers.Custom:
		return nil
	default:
		return nil
	}
}
