package storage

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Chat struct {
	ID         string
	Title      *string
	Provider   string
	Model      string
	BotID      *string
	IsPinned   bool
	IsArchived bool
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Messages is populated by GetChat, ordered by timestamp. The ordered
	// collection is the sole source of truth for conversation order.
	Messages []Message
}

type Message struct {
	ID        string
	ChatID    string
	Role      string
	Content   string
	CreatedAt time.Time

	// Citations are loaded together with the chat's messages.
	Citations []Citation
}

type Citation struct {
	ID         string
	MessageID  string
	Text       string
	StartIndex int
	EndIndex   int
	SourceType string
	SourceRef  string
}

type Folder struct {
	ID        string
	Name      string
	Color     string
	CreatedAt time.Time
}

type Bot struct {
	ID           string
	Name         string
	Emoji        string
	Description  string
	SystemPrompt string
	Provider     string
	Model        string
	IsEditable   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type KnowledgeSource struct {
	ID        string
	BotID     string
	Name      string
	Content   string
	CreatedAt time.Time
}

type Memory struct {
	ID        string
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Prompt struct {
	ID         string
	Title      string
	Content    string
	Tags       []string
	CategoryID *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PromptCategory struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// GeneratedImage is metadata only; the image bytes live on disk at ImagePath.
type GeneratedImage struct {
	ID            string
	ChatID        *string
	Prompt        string
	ImagePath     string
	ThumbnailPath string
	Size          string
	CreatedAt     time.Time
}
