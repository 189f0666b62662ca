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

const promptColumns = "id, title, content, tags_json, category_id, created_at, updated_at"

func (s *Store) CreatePrompt(ctx context.Context, p Prompt) (Prompt, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	tags, err := marshalTags(p.Tags)
	if err != nil {
		return Prompt{}, err
	}
	q := s.sql.Insert("prompts").
		Columns("id", "title", "content", "tags_json", "category_id", "created_at", "updated_at").
		Values(p.ID, p.Title, p.Content, tags, p.CategoryID, p.CreatedAt, p.UpdatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Prompt{}, fmt.Errorf("build create prompt query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Prompt{}, apperr.WriteFailed(fmt.Errorf("create prompt: %w", err))
	}
	return p, nil
}

func (s *Store) GetPrompt(ctx context.Context, id string) (Prompt, error) {
	q := s.sql.Select(promptColumns).From("prompts").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Prompt{}, fmt.Errorf("build get prompt query: %w", err)
	}
	p, err := scanPrompt(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Prompt{}, apperr.ErrNotFound
		}
		return Prompt{}, apperr.ReadFailed(fmt.Errorf("get prompt: %w", err))
	}
	return p, nil
}

func (s *Store) ListPrompts(ctx context.Context) ([]Prompt, error) {
	return s.queryPrompts(ctx, s.sql.Select(promptColumns).From("prompts").OrderBy("updated_at DESC"))
}

func (s *Store) UpdatePrompt(ctx context.Context, p Prompt) error {
	tags, err := marshalTags(p.Tags)
	if err != nil {
		return err
	}
	q := s.sql.Update("prompts").
		Set("title", p.Title).
		Set("content", p.Content).
		Set("tags_json", tags).
		Set("category_id", p.CategoryID).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": p.ID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update prompt query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.WriteFailed(fmt.Errorf("update prompt: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePrompt(ctx context.Context, id string) error {
	q := s.sql.Delete("prompts").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete prompt query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.DeleteFailed(fmt.Errorf("delete prompt: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) SearchPrompts(ctx context.Context, query string) ([]Prompt, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	return s.queryPrompts(ctx, s.sql.Select(promptColumns).From("prompts").
		Where(sq.Or{
			sq.Expr("LOWER(title) LIKE ?", pattern),
			sq.Expr("LOWER(content) LIKE ?", pattern),
			sq.Expr("LOWER(tags_json) LIKE ?", pattern),
		}).
		OrderBy("updated_at DESC"))
}

func (s *Store) CreatePromptCategory(ctx context.Context, c PromptCategory) (PromptCategory, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now()

	q := s.sql.Insert("prompt_categories").
		Columns("id", "name", "created_at").
		Values(c.ID, c.Name, c.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return PromptCategory{}, fmt.Errorf("build create prompt category query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return PromptCategory{}, apperr.WriteFailed(fmt.Errorf("create prompt category: %w", err))
	}
	return c, nil
}

func (s *Store) ListPromptCategories(ctx context.Context) ([]PromptCategory, error) {
	q := s.sql.Select("id", "name", "created_at").From("prompt_categories").OrderBy("name ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list prompt categories query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("list prompt categories: %w", err))
	}
	defer rows.Close()

	out := make([]PromptCategory, 0)
	for rows.Next() {
		var c PromptCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan prompt category row: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate prompt category rows: %w", err))
	}
	return out, nil
}

func (s *Store) queryPrompts(ctx context.Context, q sq.SelectBuilder) ([]Prompt, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build prompts query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("query prompts: %w", err))
	}
	defer rows.Close()

	out := make([]Prompt, 0)
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan prompt row: %w", err))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate prompt rows: %w", err))
	}
	return out, nil
}

func scanPrompt(row rowScanner) (Prompt, error) {
	var p Prompt
	var tagsJSON string
	var categoryID sql.NullString
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &tagsJSON, &categoryID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Prompt{}, err
	}
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return Prompt{}, err
	}
	p.Tags = tags
	if categoryID.Valid {
		p.CategoryID = &categoryID.String
	}
	return p, nil
}
