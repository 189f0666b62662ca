package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"chathub/internal/apperr"
)

const chatColumns = "id, title, provider, model, bot_id, is_pinned, is_archived, created_at, updated_at"

// CreateChat inserts a new chat. Missing id and timestamps are assigned.
func (s *Store) CreateChat(ctx context.Context, c Chat) (Chat, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now

	q := s.sql.Insert("chats").
		Columns("id", "title", "provider", "model", "bot_id", "is_pinned", "is_archived", "created_at", "updated_at").
		Values(c.ID, c.Title, c.Provider, c.Model, c.BotID, c.IsPinned, c.IsArchived, c.CreatedAt, c.UpdatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build create chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Chat{}, apperr.WriteFailed(fmt.Errorf("create chat: %w", err))
	}
	c.Messages = []Message{}
	return c, nil
}

// GetChat loads one chat by exact id, messages included in timestamp order.
// A miss is apperr.ErrNotFound; no other chat is ever substituted.
func (s *Store) GetChat(ctx context.Context, id string) (Chat, error) {
	q := s.sql.Select(chatColumns).From("chats").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build get chat query: %w", err)
	}

	c, err := scanChat(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, apperr.ErrNotFound
		}
		return Chat{}, apperr.ReadFailed(fmt.Errorf("get chat: %w", err))
	}

	msgs, err := s.listMessages(ctx, id)
	if err != nil {
		return Chat{}, err
	}
	c.Messages = msgs
	return c, nil
}

// ListChats returns chats sorted pinned-first, most recently updated first.
// Archived chats are excluded unless includeArchived is set. Messages are not
// loaded here.
func (s *Store) ListChats(ctx context.Context, includeArchived bool) ([]Chat, error) {
	q := s.sql.Select(chatColumns).From("chats").OrderBy("is_pinned DESC", "updated_at DESC")
	if !includeArchived {
		q = q.Where(sq.Eq{"is_archived": false})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("list chats: %w", err))
	}
	defer rows.Close()

	out := make([]Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan chat row: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate chat rows: %w", err))
	}
	return out, nil
}

func (s *Store) RenameChat(ctx context.Context, id, title string) error {
	return s.updateChat(ctx, id, map[string]any{"title": title})
}

func (s *Store) SetChatPinned(ctx context.Context, id string, pinned bool) error {
	return s.updateChat(ctx, id, map[string]any{"is_pinned": pinned})
}

func (s *Store) SetChatArchived(ctx context.Context, id string, archived bool) error {
	return s.updateChat(ctx, id, map[string]any{"is_archived": archived})
}

// TouchChat refreshes updated_at only; used after mutating a chat's messages.
func (s *Store) TouchChat(ctx context.Context, id string) error {
	return s.updateChat(ctx, id, map[string]any{})
}

func (s *Store) updateChat(ctx context.Context, id string, set map[string]any) error {
	q := s.sql.Update("chats").Set("updated_at", s.now()).Where(sq.Eq{"id": id})
	for col, v := range set {
		q = q.Set(col, v)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update chat query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.WriteFailed(fmt.Errorf("update chat: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteChat removes the chat and, through the schema, its messages.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	q := s.sql.Delete("chats").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete chat query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.DeleteFailed(fmt.Errorf("delete chat: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message and refreshes the chat's updated_at.
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	q := s.sql.Insert("messages").
		Columns("id", "chat_id", "role", "content", "created_at").
		Values(m.ID, m.ChatID, m.Role, m.Content, m.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build append message query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Message{}, apperr.WriteFailed(fmt.Errorf("append message: %w", err))
	}
	if err := s.TouchChat(ctx, m.ChatID); err != nil {
		return Message{}, err
	}
	return m, nil
}

// SetMessageContent replaces a message's content and refreshes the owning
// chat's updated_at. Assistant placeholders are filled in through this as the
// reply arrives.
func (s *Store) SetMessageContent(ctx context.Context, messageID, content string) error {
	sel := s.sql.Select("chat_id").From("messages").Where(sq.Eq{"id": messageID})
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return fmt.Errorf("build message owner query: %w", err)
	}
	var chatID string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		return apperr.ReadFailed(fmt.Errorf("load message owner: %w", err))
	}

	q := s.sql.Update("messages").Set("content", content).Where(sq.Eq{"id": messageID})
	sqlStr, args, err = q.ToSql()
	if err != nil {
		return fmt.Errorf("build set message content query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return apperr.WriteFailed(fmt.Errorf("set message content: %w", err))
	}
	return s.TouchChat(ctx, chatID)
}

// AddCitations attaches citations to a message. Ids are assigned when absent.
func (s *Store) AddCitations(ctx context.Context, messageID string, citations []Citation) error {
	if len(citations) == 0 {
		return nil
	}
	q := s.sql.Insert("citations").
		Columns("id", "message_id", "text", "start_index", "end_index", "source_type", "source_ref")
	for _, c := range citations {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		q = q.Values(c.ID, messageID, c.Text, c.StartIndex, c.EndIndex, c.SourceType, c.SourceRef)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build add citations query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return apperr.WriteFailed(fmt.Errorf("add citations: %w", err))
	}
	return nil
}

func (s *Store) ListCitations(ctx context.Context, messageID string) ([]Citation, error) {
	q := s.sql.Select("id", "message_id", "text", "start_index", "end_index", "source_type", "source_ref").
		From("citations").
		Where(sq.Eq{"message_id": messageID}).
		OrderBy("start_index ASC", "id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list citations query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("list citations: %w", err))
	}
	defer rows.Close()

	out := make([]Citation, 0)
	for rows.Next() {
		var c Citation
		if err := rows.Scan(&c.ID, &c.MessageID, &c.Text, &c.StartIndex, &c.EndIndex, &c.SourceType, &c.SourceRef); err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan citation row: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate citation rows: %w", err))
	}
	return out, nil
}

func (s *Store) listMessages(ctx context.Context, chatID string) ([]Message, error) {
	q := s.sql.Select("id", "chat_id", "role", "content", "created_at").
		From("messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC", "id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("list messages: %w", err))
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan message row: %w", err))
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate message rows: %w", err))
	}

	if err := s.attachCitations(ctx, chatID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachCitations loads every citation for the chat in one query and fans
// them out to their messages.
func (s *Store) attachCitations(ctx context.Context, chatID string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	q := s.sql.Select("ct.id", "ct.message_id", "ct.text", "ct.start_index", "ct.end_index", "ct.source_type", "ct.source_ref").
		From("citations ct").
		Join("messages m ON m.id = ct.message_id").
		Where(sq.Eq{"m.chat_id": chatID}).
		OrderBy("ct.start_index ASC", "ct.id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build chat citations query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.ReadFailed(fmt.Errorf("load chat citations: %w", err))
	}
	defer rows.Close()

	byMessage := make(map[string][]Citation)
	for rows.Next() {
		var c Citation
		if err := rows.Scan(&c.ID, &c.MessageID, &c.Text, &c.StartIndex, &c.EndIndex, &c.SourceType, &c.SourceRef); err != nil {
			return apperr.ReadFailed(fmt.Errorf("scan citation row: %w", err))
		}
		byMessage[c.MessageID] = append(byMessage[c.MessageID], c)
	}
	if err := rows.Err(); err != nil {
		return apperr.ReadFailed(fmt.Errorf("iterate citation rows: %w", err))
	}

	for i := range messages {
		messages[i].Citations = byMessage[messages[i].ID]
	}
	return nil
}

// SearchChats matches a case-insensitive substring against chat titles and
// message contents.
func (s *Store) SearchChats(ctx context.Context, query string) ([]Chat, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	q := s.sql.Select("DISTINCT c.id, c.title, c.provider, c.model, c.bot_id, c.is_pinned, c.is_archived, c.created_at, c.updated_at").
		From("chats c").
		LeftJoin("messages m ON m.chat_id = c.id").
		Where(sq.Or{
			sq.Expr("LOWER(COALESCE(c.title, '')) LIKE ?", pattern),
			sq.Expr("LOWER(m.content) LIKE ?", pattern),
		}).
		OrderBy("c.updated_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search chats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("search chats: %w", err))
	}
	defer rows.Close()

	out := make([]Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan chat row: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate chat rows: %w", err))
	}
	return out, nil
}

// MoveChatToFolder adds the chat to a folder; a nil folder id removes it from
// every folder.
func (s *Store) MoveChatToFolder(ctx context.Context, chatID string, folderID *string) error {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return err
	}

	if folderID == nil {
		q := s.sql.Delete("chat_folders").Where(sq.Eq{"chat_id": chatID})
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build clear chat folders query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
			return apperr.WriteFailed(fmt.Errorf("clear chat folders: %w", err))
		}
		return s.TouchChat(ctx, chatID)
	}

	if _, err := s.GetFolder(ctx, *folderID); err != nil {
		return err
	}
	q := s.sql.Insert("chat_folders").
		Columns("chat_id", "folder_id").
		Values(chatID, *folderID).
		Suffix("ON CONFLICT(chat_id, folder_id) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build move chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return apperr.WriteFailed(fmt.Errorf("move chat to folder: %w", err))
	}
	return s.TouchChat(ctx, chatID)
}

func (s *Store) CreateFolder(ctx context.Context, f Folder) (Folder, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = s.now()

	q := s.sql.Insert("folders").
		Columns("id", "name", "color", "created_at").
		Values(f.ID, f.Name, f.Color, f.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Folder{}, fmt.Errorf("build create folder query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Folder{}, apperr.WriteFailed(fmt.Errorf("create folder: %w", err))
	}
	return f, nil
}

func (s *Store) GetFolder(ctx context.Context, id string) (Folder, error) {
	q := s.sql.Select("id", "name", "color", "created_at").From("folders").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Folder{}, fmt.Errorf("build get folder query: %w", err)
	}
	var f Folder
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&f.ID, &f.Name, &f.Color, &f.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Folder{}, apperr.ErrNotFound
		}
		return Folder{}, apperr.ReadFailed(fmt.Errorf("get folder: %w", err))
	}
	return f, nil
}

func (s *Store) ListFolders(ctx context.Context) ([]Folder, error) {
	q := s.sql.Select("id", "name", "color", "created_at").From("folders").OrderBy("name ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list folders query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("list folders: %w", err))
	}
	defer rows.Close()

	out := make([]Folder, 0)
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.Color, &f.CreatedAt); err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan folder row: %w", err))
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate folder rows: %w", err))
	}
	return out, nil
}

func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	q := s.sql.Delete("folders").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete folder query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.DeleteFailed(fmt.Errorf("delete folder: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (Chat, error) {
	var c Chat
	var title, botID sql.NullString
	if err := row.Scan(
		&c.ID,
		&title,
		&c.Provider,
		&c.Model,
		&botID,
		&c.IsPinned,
		&c.IsArchived,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Chat{}, err
	}
	if title.Valid {
		c.Title = &title.String
	}
	if botID.Valid {
		c.BotID = &botID.String
	}
	return c, nil
}
