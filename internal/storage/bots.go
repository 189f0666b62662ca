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

const botColumns = "id, name, emoji, description, system_prompt, provider, model, is_editable, created_at, updated_at"

func (s *Store) CreateBot(ctx context.Context, b Bot) (Bot, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := s.now()
	b.CreatedAt = now
	b.UpdatedAt = now

	q := s.sql.Insert("bots").
		Columns("id", "name", "emoji", "description", "system_prompt", "provider", "model", "is_editable", "created_at", "updated_at").
		Values(b.ID, b.Name, b.Emoji, b.Description, b.SystemPrompt, b.Provider, b.Model, b.IsEditable, b.CreatedAt, b.UpdatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Bot{}, fmt.Errorf("build create bot query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Bot{}, apperr.WriteFailed(fmt.Errorf("create bot: %w", err))
	}
	return b, nil
}

func (s *Store) GetBot(ctx context.Context, id string) (Bot, error) {
	q := s.sql.Select(botColumns).From("bots").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Bot{}, fmt.Errorf("build get bot query: %w", err)
	}
	b, err := scanBot(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bot{}, apperr.ErrNotFound
		}
		return Bot{}, apperr.ReadFailed(fmt.Errorf("get bot: %w", err))
	}
	return b, nil
}

func (s *Store) ListBots(ctx context.Context) ([]Bot, error) {
	q := s.sql.Select(botColumns).From("bots").OrderBy("updated_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list bots query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("list bots: %w", err))
	}
	defer rows.Close()

	out := make([]Bot, 0)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan bot row: %w", err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate bot rows: %w", err))
	}
	return out, nil
}

// UpdateBot rewrites the mutable fields. Stock bots (is_editable false) are
// rejected before any write.
func (s *Store) UpdateBot(ctx context.Context, b Bot) error {
	existing, err := s.GetBot(ctx, b.ID)
	if err != nil {
		return err
	}
	if !existing.IsEditable {
		return apperr.InvalidInput("This bot is built in and cannot be edited.")
	}

	q := s.sql.Update("bots").
		Set("name", b.Name).
		Set("emoji", b.Emoji).
		Set("description", b.Description).
		Set("system_prompt", b.SystemPrompt).
		Set("provider", b.Provider).
		Set("model", b.Model).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": b.ID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update bot query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return apperr.WriteFailed(fmt.Errorf("update bot: %w", err))
	}
	return nil
}

func (s *Store) DeleteBot(ctx context.Context, id string) error {
	existing, err := s.GetBot(ctx, id)
	if err != nil {
		return err
	}
	if !existing.IsEditable {
		return apperr.InvalidInput("This bot is built in and cannot be deleted.")
	}

	q := s.sql.Delete("bots").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete bot query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.DeleteFailed(fmt.Errorf("delete bot: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SearchBots matches a case-insensitive substring against name, description
// and system prompt.
func (s *Store) SearchBots(ctx context.Context, query string) ([]Bot, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	q := s.sql.Select(botColumns).From("bots").
		Where(sq.Or{
			sq.Expr("LOWER(name) LIKE ?", pattern),
			sq.Expr("LOWER(description) LIKE ?", pattern),
			sq.Expr("LOWER(system_prompt) LIKE ?", pattern),
		}).
		OrderBy("updated_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search bots query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("search bots: %w", err))
	}
	defer rows.Close()

	out := make([]Bot, 0)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan bot row: %w", err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate bot rows: %w", err))
	}
	return out, nil
}

func (s *Store) AddKnowledgeSource(ctx context.Context, ks KnowledgeSource) (KnowledgeSource, error) {
	if _, err := s.GetBot(ctx, ks.BotID); err != nil {
		return KnowledgeSource{}, err
	}
	if ks.ID == "" {
		ks.ID = uuid.NewString()
	}
	ks.CreatedAt = s.now()

	q := s.sql.Insert("knowledge_sources").
		Columns("id", "bot_id", "name", "content", "created_at").
		Values(ks.ID, ks.BotID, ks.Name, ks.Content, ks.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return KnowledgeSource{}, fmt.Errorf("build add knowledge source query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return KnowledgeSource{}, apperr.WriteFailed(fmt.Errorf("add knowledge source: %w", err))
	}
	return ks, nil
}

func (s *Store) ListKnowledgeSources(ctx context.Context, botID string) ([]KnowledgeSource, error) {
	q := s.sql.Select("id", "bot_id", "name", "content", "created_at").
		From("knowledge_sources").
		Where(sq.Eq{"bot_id": botID}).
		OrderBy("created_at ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list knowledge sources query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("list knowledge sources: %w", err))
	}
	defer rows.Close()

	out := make([]KnowledgeSource, 0)
	for rows.Next() {
		var ks KnowledgeSource
		if err := rows.Scan(&ks.ID, &ks.BotID, &ks.Name, &ks.Content, &ks.CreatedAt); err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan knowledge source row: %w", err))
		}
		out = append(out, ks)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate knowledge source rows: %w", err))
	}
	return out, nil
}

func scanBot(row rowScanner) (Bot, error) {
	var b Bot
	if err := row.Scan(
		&b.ID,
		&b.Name,
		&b.Emoji,
		&b.Description,
		&b.SystemPrompt,
		&b.Provider,
		&b.Model,
		&b.IsEditable,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return Bot{}, err
	}
	return b, nil
}
