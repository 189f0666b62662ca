package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chathub/internal/apperr"
	"chathub/internal/storage"
)

type chatJSON struct {
	ID         string        `json:"id"`
	Title      *string       `json:"title"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	BotID      *string       `json:"bot_id,omitempty"`
	IsPinned   bool          `json:"is_pinned"`
	IsArchived bool          `json:"is_archived"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Messages   []messageJSON `json:"messages,omitempty"`
}

type messageJSON struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Citations []citationJSON `json:"citations,omitempty"`
}

type citationJSON struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	SourceType string `json:"source_type"`
	SourceRef  string `json:"source_ref"`
}

func toChatJSON(c storage.Chat) chatJSON {
	out := chatJSON{
		ID:         c.ID,
		Title:      c.Title,
		Provider:   c.Provider,
		Model:      c.Model,
		BotID:      c.BotID,
		IsPinned:   c.IsPinned,
		IsArchived: c.IsArchived,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	for _, m := range c.Messages {
		out.Messages = append(out.Messages, toMessageJSON(m))
	}
	return out
}

func toMessageJSON(m storage.Message) messageJSON {
	out := messageJSON{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	for _, c := range m.Citations {
		out.Citations = append(out.Citations, citationJSON{
			ID:         c.ID,
			Text:       c.Text,
			StartIndex: c.StartIndex,
			EndIndex:   c.EndIndex,
			SourceType: c.SourceType,
			SourceRef:  c.SourceRef,
		})
	}
	return out
}

func toChatList(chats []storage.Chat) []chatJSON {
	out := make([]chatJSON, 0, len(chats))
	for _, c := range chats {
		out = append(out, toChatJSON(c))
	}
	return out
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	chats, err := s.store.ListChats(r.Context(), includeArchived)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toChatList(chats))
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title    *string `json:"title"`
		Provider string  `json:"provider"`
		Model    string  `json:"model"`
		BotID    *string `json:"bot_id"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Provider) == "" {
		s.writeError(w, apperr.MissingField("provider"))
		return
	}
	if strings.TrimSpace(in.Model) == "" {
		s.writeError(w, apperr.MissingField("model"))
		return
	}

	chat, err := s.store.CreateChat(r.Context(), storage.Chat{
		Title:    in.Title,
		Provider: in.Provider,
		Model:    in.Model,
		BotID:    in.BotID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toChatJSON(chat))
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.store.GetChat(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toChatJSON(chat))
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title      *string `json:"title"`
		IsPinned   *bool   `json:"is_pinned"`
		IsArchived *bool   `json:"is_archived"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}

	id := r.PathValue("id")
	ctx := r.Context()
	if in.Title != nil {
		if err := s.store.RenameChat(ctx, id, *in.Title); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if in.IsPinned != nil {
		if err := s.store.SetChatPinned(ctx, id, *in.IsPinned); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if in.IsArchived != nil {
		if err := s.store.SetChatArchived(ctx, id, *in.IsArchived); err != nil {
			s.writeError(w, err)
			return
		}
	}

	chat, err := s.store.GetChat(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toChatJSON(chat))
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteChat(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchChats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		s.writeError(w, apperr.MissingField("q"))
		return
	}
	chats, err := s.store.SearchChats(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toChatList(chats))
}

func (s *Server) handleMoveChatToFolder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FolderID *string `json:"folder_id"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.MoveChatToFolder(r.Context(), r.PathValue("id"), in.FolderID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) checkRateLimit(r *http.Request, chatID string) error {
	if s.limiter == nil {
		return nil
	}
	allowed, _, resetAt, err := s.limiter.Allow(r.Context(), chatID, time.Now())
	if err != nil {
		// Redis being down must not take chat down with it.
		s.logger.Warn().Err(err).Msg("rate limiter unavailable, allowing")
		return nil
	}
	if !allowed {
		return &apperr.Error{
			Kind:        apperr.KindRateLimited,
			Message:     fmt.Sprintf("chat %s over hourly limit", chatID),
			UserMessage: fmt.Sprintf("Hourly message limit reached. Try again after %s.", resetAt.Format(time.Kitchen)),
			Recoverable: true,
			Severity:    apperr.SeverityWarning,
		}
	}
	return nil
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var in sendRequest
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Text) == "" {
		s.writeError(w, apperr.MissingField("text"))
		return
	}

	chatID := r.PathValue("id")
	if err := s.checkRateLimit(r, chatID); err != nil {
		s.writeError(w, err)
		return
	}

	msg, err := s.orch.Send(r.Context(), chatID, in.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMessageJSON(msg))
}

// handleStream responds with server-sent events, one event per chunk. The
// final event carries is_complete=true; an error mid-stream becomes a
// terminal "error" event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var in sendRequest
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Text) == "" {
		s.writeError(w, apperr.MissingField("text"))
		return
	}

	chatID := r.PathValue("id")
	if err := s.checkRateLimit(r, chatID); err != nil {
		s.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, apperr.InvalidInput("Streaming is not supported on this connection."))
		return
	}

	stream, err := s.orch.Stream(r.Context(), chatID, in.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			writeSSE(w, "error", errorEvent{Message: apperr.UserMessage(err), Kind: string(apperr.KindOf(err))})
			flusher.Flush()
			return
		}
		writeSSE(w, "chunk", chunk)
		flusher.Flush()
	}
}

type errorEvent struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func writeSSE(w http.ResponseWriter, eventName string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName, payload)
}
