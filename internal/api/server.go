// Package api is the HTTP/JSON surface of the chat backend. Handlers are
// thin: decode, call the owning service, encode. Streaming sends go out as
// server-sent events mirroring the chunk contract of the orchestrator.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chathub/internal/apperr"
	"chathub/internal/chat"
	"chathub/internal/metrics"
	"chathub/internal/providers/catalog"
	"chathub/internal/queue"
	"chathub/internal/secrets"
	"chathub/internal/storage"
)

type Server struct {
	store   *storage.Store
	orch    *chat.Orchestrator
	catalog *catalog.Service
	vault   *secrets.Vault
	images  *queue.StreamQueue
	limiter *queue.RateLimiter
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type Config struct {
	Store   *storage.Store
	Orch    *chat.Orchestrator
	Catalog *catalog.Service
	Vault   *secrets.Vault
	Images  *queue.StreamQueue
	Limiter *queue.RateLimiter
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Server{
		store:   cfg.Store,
		orch:    cfg.Orch,
		catalog: cfg.Catalog,
		vault:   cfg.Vault,
		images:  cfg.Images,
		limiter: cfg.Limiter,
		logger:  cfg.Logger.With().Str("component", "api").Logger(),
		metrics: m,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/providers", s.handleListProviders)
	mux.HandleFunc("GET /v1/providers/{provider}/models", s.handleListModels)

	mux.HandleFunc("GET /v1/keys", s.handleListKeys)
	mux.HandleFunc("POST /v1/keys/rewrap", s.handleRewrapKeys)
	mux.HandleFunc("PUT /v1/keys/{provider}", s.handlePutKey)
	mux.HandleFunc("DELETE /v1/keys/{provider}", s.handleDeleteKey)

	mux.HandleFunc("GET /v1/chats", s.handleListChats)
	mux.HandleFunc("POST /v1/chats", s.handleCreateChat)
	mux.HandleFunc("GET /v1/chats/search", s.handleSearchChats)
	mux.HandleFunc("GET /v1/chats/{id}", s.handleGetChat)
	mux.HandleFunc("PATCH /v1/chats/{id}", s.handleUpdateChat)
	mux.HandleFunc("DELETE /v1/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("POST /v1/chats/{id}/messages", s.handleSend)
	mux.HandleFunc("POST /v1/chats/{id}/stream", s.handleStream)
	mux.HandleFunc("PUT /v1/chats/{id}/folder", s.handleMoveChatToFolder)
	mux.HandleFunc("GET /v1/chats/{id}/images", s.handleListChatImages)

	mux.HandleFunc("GET /v1/folders", s.handleListFolders)
	mux.HandleFunc("POST /v1/folders", s.handleCreateFolder)
	mux.HandleFunc("DELETE /v1/folders/{id}", s.handleDeleteFolder)

	mux.HandleFunc("GET /v1/bots", s.handleListBots)
	mux.HandleFunc("POST /v1/bots", s.handleCreateBot)
	mux.HandleFunc("GET /v1/bots/search", s.handleSearchBots)
	mux.HandleFunc("GET /v1/bots/{id}", s.handleGetBot)
	mux.HandleFunc("PUT /v1/bots/{id}", s.handleUpdateBot)
	mux.HandleFunc("DELETE /v1/bots/{id}", s.handleDeleteBot)
	mux.HandleFunc("POST /v1/bots/{id}/knowledge", s.handleAddKnowledge)
	mux.HandleFunc("GET /v1/bots/{id}/knowledge", s.handleListKnowledge)

	mux.HandleFunc("GET /v1/memories", s.handleListMemories)
	mux.HandleFunc("POST /v1/memories", s.handleCreateMemory)
	mux.HandleFunc("GET /v1/memories/search", s.handleSearchMemories)
	mux.HandleFunc("GET /v1/memories/relevant", s.handleRelevantMemories)
	mux.HandleFunc("PUT /v1/memories/{id}", s.handleUpdateMemory)
	mux.HandleFunc("DELETE /v1/memories/{id}", s.handleDeleteMemory)

	mux.HandleFunc("GET /v1/prompts", s.handleListPrompts)
	mux.HandleFunc("POST /v1/prompts", s.handleCreatePrompt)
	mux.HandleFunc("GET /v1/prompts/search", s.handleSearchPrompts)
	mux.HandleFunc("PUT /v1/prompts/{id}", s.handleUpdatePrompt)
	mux.HandleFunc("DELETE /v1/prompts/{id}", s.handleDeletePrompt)
	mux.HandleFunc("GET /v1/prompt-categories", s.handleListPromptCategories)
	mux.HandleFunc("POST /v1/prompt-categories", s.handleCreatePromptCategory)

	mux.HandleFunc("GET /v1/images", s.handleListImages)
	mux.HandleFunc("POST /v1/images", s.handleGenerateImage)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error().Err(err).Msg("request failed")
	}
	var body errorBody
	body.Error.Kind = string(apperr.KindOf(err))
	body.Error.Message = apperr.UserMessage(err)
	s.writeJSON(w, status, body)
}

func statusFor(err error) int {
	if errors.Is(err, apperr.ErrNotFound) {
		return http.StatusNotFound
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput, apperr.KindMissingField, apperr.KindInvalidFormat, apperr.KindInvalidEntity:
		return http.StatusBadRequest
	case apperr.KindMissingKey, apperr.KindInvalidKey, apperr.KindExpiredKey, apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindConnectionFailed, apperr.KindTimeout, apperr.KindServerError,
		apperr.KindDecodingFailed, apperr.KindNoData, apperr.KindInvalidURL:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.InvalidInput("Request body is not valid JSON.")
	}
	return nil
}
