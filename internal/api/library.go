package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"chathub/internal/apperr"
	"chathub/internal/storage"
)

// Folders

type folderJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toFolderJSON(f storage.Folder) folderJSON {
	return folderJSON{ID: f.ID, Name: f.Name, Color: f.Color, CreatedAt: f.CreatedAt}
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.store.ListFolders(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]folderJSON, 0, len(folders))
	for _, f := range folders {
		out = append(out, toFolderJSON(f))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		s.writeError(w, apperr.MissingField("name"))
		return
	}
	f, err := s.store.CreateFolder(r.Context(), storage.Folder{Name: in.Name, Color: in.Color})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toFolderJSON(f))
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteFolder(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bots

type botJSON struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Emoji        string    `json:"emoji,omitempty"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	IsEditable   bool      `json:"is_editable"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toBotJSON(b storage.Bot) botJSON {
	return botJSON{
		ID:           b.ID,
		Name:         b.Name,
		Emoji:        b.Emoji,
		Description:  b.Description,
		SystemPrompt: b.SystemPrompt,
		Provider:     b.Provider,
		Model:        b.Model,
		IsEditable:   b.IsEditable,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func toBotList(bots []storage.Bot) []botJSON {
	out := make([]botJSON, 0, len(bots))
	for _, b := range bots {
		out = append(out, toBotJSON(b))
	}
	return out
}

type botInput struct {
	Name         string `json:"name"`
	Emoji        string `json:"emoji"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.store.ListBots(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBotList(bots))
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var in botInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		s.writeError(w, apperr.MissingField("name"))
		return
	}
	b, err := s.store.CreateBot(r.Context(), storage.Bot{
		Name:         in.Name,
		Emoji:        in.Emoji,
		Description:  in.Description,
		SystemPrompt: in.SystemPrompt,
		Provider:     in.Provider,
		Model:        in.Model,
		IsEditable:   true,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toBotJSON(b))
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBot(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBotJSON(b))
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	var in botInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.store.UpdateBot(r.Context(), storage.Bot{
		ID:           id,
		Name:         in.Name,
		Emoji:        in.Emoji,
		Description:  in.Description,
		SystemPrompt: in.SystemPrompt,
		Provider:     in.Provider,
		Model:        in.Model,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	b, err := s.store.GetBot(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBotJSON(b))
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteBot(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchBots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		s.writeError(w, apperr.MissingField("q"))
		return
	}
	bots, err := s.store.SearchBots(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBotList(bots))
}

type knowledgeJSON struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleAddKnowledge(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		s.writeError(w, apperr.MissingField("name"))
		return
	}
	ks, err := s.store.AddKnowledgeSource(r.Context(), storage.KnowledgeSource{
		BotID:   r.PathValue("id"),
		Name:    in.Name,
		Content: in.Content,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, knowledgeJSON{
		ID: ks.ID, BotID: ks.BotID, Name: ks.Name, Content: ks.Content, CreatedAt: ks.CreatedAt,
	})
}

func (s *Server) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListKnowledgeSources(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]knowledgeJSON, 0, len(sources))
	for _, ks := range sources {
		out = append(out, knowledgeJSON{
			ID: ks.ID, BotID: ks.BotID, Name: ks.Name, Content: ks.Content, CreatedAt: ks.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// Memories

type memoryJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toMemoryJSON(m storage.Memory) memoryJSON {
	return memoryJSON{
		ID: m.ID, Title: m.Title, Content: m.Content, Tags: m.Tags,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func toMemoryList(memories []storage.Memory) []memoryJSON {
	out := make([]memoryJSON, 0, len(memories))
	for _, m := range memories {
		out = append(out, toMemoryJSON(m))
	}
	return out
}

type memoryInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	memories, err := s.store.ListMemories(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMemoryList(memories))
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var in memoryInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		s.writeError(w, apperr.MissingField("title"))
		return
	}
	m, err := s.store.CreateMemory(r.Context(), storage.Memory{
		Title: in.Title, Content: in.Content, Tags: in.Tags,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toMemoryJSON(m))
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var in memoryInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.store.UpdateMemory(r.Context(), storage.Memory{
		ID: id, Title: in.Title, Content: in.Content, Tags: in.Tags,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	m, err := s.store.GetMemory(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMemoryJSON(m))
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMemory(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		s.writeError(w, apperr.MissingField("q"))
		return
	}
	memories, err := s.store.SearchMemories(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMemoryList(memories))
}

func (s *Server) handleRelevantMemories(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if strings.TrimSpace(text) == "" {
		s.writeError(w, apperr.MissingField("text"))
		return
	}
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, apperr.InvalidInput("limit must be a positive integer."))
			return
		}
		limit = n
	}
	memories, err := s.store.FindRelevantMemories(r.Context(), text, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMemoryList(memories))
}

// Prompts

type promptJSON struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Tags       []string  `json:"tags"`
	CategoryID *string   `json:"category_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toPromptJSON(p storage.Prompt) promptJSON {
	return promptJSON{
		ID: p.ID, Title: p.Title, Content: p.Content, Tags: p.Tags,
		CategoryID: p.CategoryID, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func toPromptList(prompts []storage.Prompt) []promptJSON {
	out := make([]promptJSON, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, toPromptJSON(p))
	}
	return out
}

type promptInput struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	CategoryID *string  `json:"category_id"`
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.store.ListPrompts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPromptList(prompts))
}

func (s *Server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var in promptInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		s.writeError(w, apperr.MissingField("title"))
		return
	}
	p, err := s.store.CreatePrompt(r.Context(), storage.Prompt{
		Title: in.Title, Content: in.Content, Tags: in.Tags, CategoryID: in.CategoryID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPromptJSON(p))
}

func (s *Server) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var in promptInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.store.UpdatePrompt(r.Context(), storage.Prompt{
		ID: id, Title: in.Title, Content: in.Content, Tags: in.Tags, CategoryID: in.CategoryID,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.store.GetPrompt(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPromptJSON(p))
}

func (s *Server) handleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePrompt(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchPrompts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		s.writeError(w, apperr.MissingField("q"))
		return
	}
	prompts, err := s.store.SearchPrompts(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPromptList(prompts))
}

type promptCategoryJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleListPromptCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.ListPromptCategories(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]promptCategoryJSON, 0, len(cats))
	for _, c := range cats {
		out = append(out, promptCategoryJSON{ID: c.ID, Name: c.Name, CreatedAt: c.CreatedAt})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreatePromptCategory(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		s.writeError(w, apperr.MissingField("name"))
		return
	}
	c, err := s.store.CreatePromptCategory(r.Context(), storage.PromptCategory{Name: in.Name})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promptCategoryJSON{ID: c.ID, Name: c.Name, CreatedAt: c.CreatedAt})
}
