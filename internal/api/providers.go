package api

import (
	"net/http"
	"strings"
	"time"

	"chathub/internal/apperr"
	"chathub/internal/providers"
	"chathub/internal/queue"
	"chathub/internal/storage"
)

type providerJSON struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	HasKey      bool   `json:"has_key"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	configured, err := s.vault.Configured(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	keyed := make(map[providers.Provider]bool, len(configured))
	for _, p := range configured {
		keyed[p] = true
	}

	out := make([]providerJSON, 0, len(providers.All))
	for _, p := range providers.All {
		out = append(out, providerJSON{
			ID:          string(p),
			DisplayName: p.DisplayName(),
			Icon:        p.IconRef(),
			HasKey:      keyed[p],
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleListModels never fails on provider trouble: the catalog falls back to
// its built-in tables, so the response is always a usable model list.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	p, err := providers.Parse(r.PathValue("provider"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	apiKey, err := s.vault.Get(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.catalog.FetchAvailableModels(r.Context(), p, apiKey))
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	configured, err := s.vault.Configured(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]string, 0, len(configured))
	for _, p := range configured {
		out = append(out, string(p))
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"configured": out})
}

func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	p, err := providers.Parse(r.PathValue("provider"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var in struct {
		APIKey string `json:"api_key"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.APIKey) == "" {
		s.writeError(w, apperr.MissingField("api_key"))
		return
	}
	if err := s.vault.Set(r.Context(), p, in.APIKey); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	p, err := providers.Parse(r.PathValue("provider"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.vault.Delete(r.Context(), p); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRewrapKeys re-seals every stored key under the active master key.
// Run after rotating MASTER_KEY_CURRENT_ID.
func (s *Server) handleRewrapKeys(w http.ResponseWriter, r *http.Request) {
	n, err := s.vault.Rewrap(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"rewrapped": n})
}

// Images

type imageJSON struct {
	ID            string    `json:"id"`
	ChatID        *string   `json:"chat_id,omitempty"`
	Prompt        string    `json:"prompt"`
	ImagePath     string    `json:"image_path"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	Size          string    `json:"size,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toImageJSON(img storage.GeneratedImage) imageJSON {
	return imageJSON{
		ID:            img.ID,
		ChatID:        img.ChatID,
		Prompt:        img.Prompt,
		ImagePath:     img.ImagePath,
		ThumbnailPath: img.ThumbnailPath,
		Size:          img.Size,
		CreatedAt:     img.CreatedAt,
	}
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.store.ListGeneratedImages(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]imageJSON, 0, len(images))
	for _, img := range images {
		out = append(out, toImageJSON(img))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListChatImages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if _, err := s.store.GetChat(r.Context(), chatID); err != nil {
		s.writeError(w, err)
		return
	}
	images, err := s.store.ListGeneratedImagesForChat(r.Context(), chatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]imageJSON, 0, len(images))
	for _, img := range images {
		out = append(out, toImageJSON(img))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleGenerateImage enqueues the job and returns immediately; the worker
// records the result row when generation finishes.
func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Prompt string `json:"prompt"`
		Size   string `json:"size"`
		ChatID string `json:"chat_id"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Prompt) == "" {
		s.writeError(w, apperr.MissingField("prompt"))
		return
	}
	if in.ChatID != "" {
		if _, err := s.store.GetChat(r.Context(), in.ChatID); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if s.images == nil {
		s.writeError(w, apperr.InvalidInput("Image generation is not enabled on this server."))
		return
	}

	jobID, err := s.images.Enqueue(r.Context(), queue.ImageJob{
		ChatID: in.ChatID,
		Prompt: in.Prompt,
		Size:   in.Size,
	})
	if err != nil {
		s.writeError(w, apperr.WriteFailed(err))
		return
	}
	s.metrics.ImageJobsEnqueued.Inc()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}
