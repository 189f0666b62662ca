package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"chathub/internal/apperr"
)

const memoryColumns = "id, title, content, tags_json, created_at, updated_at"

func (s *Store) CreateMemory(ctx context.Context, m Memory) (Memory, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := s.now()
	m.CreatedAt = now
	m.UpdatedAt = now

	tags, err := marshalTags(m.Tags)
	if err != nil {
		return Memory{}, err
	}
	q := s.sql.Insert("memories").
		Columns("id", "title", "content", "tags_json", "created_at", "updated_at").
		Values(m.ID, m.Title, m.Content, tags, m.CreatedAt, m.UpdatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Memory{}, fmt.Errorf("build create memory query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Memory{}, apperr.WriteFailed(fmt.Errorf("create memory: %w", err))
	}
	return m, nil
}

func (s *Store) GetMemory(ctx context.Context, id string) (Memory, error) {
	q := s.sql.Select(memoryColumns).From("memories").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Memory{}, fmt.Errorf("build get memory query: %w", err)
	}
	m, err := scanMemory(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Memory{}, apperr.ErrNotFound
		}
		return Memory{}, apperr.ReadFailed(fmt.Errorf("get memory: %w", err))
	}
	return m, nil
}

func (s *Store) ListMemories(ctx context.Context) ([]Memory, error) {
	return s.queryMemories(ctx, s.sql.Select(memoryColumns).From("memories").OrderBy("updated_at DESC"))
}

func (s *Store) UpdateMemory(ctx context.Context, m Memory) error {
	tags, err := marshalTags(m.Tags)
	if err != nil {
		return err
	}
	q := s.sql.Update("memories").
		Set("title", m.Title).
		Set("content", m.Content).
		Set("tags_json", tags).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": m.ID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update memory query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.WriteFailed(fmt.Errorf("update memory: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	q := s.sql.Delete("memories").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete memory query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.DeleteFailed(fmt.Errorf("delete memory: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SearchMemories matches a case-insensitive substring against title, content
// and tags.
func (s *Store) SearchMemories(ctx context.Context, query string) ([]Memory, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	return s.queryMemories(ctx, s.sql.Select(memoryColumns).From("memories").
		Where(sq.Or{
			sq.Expr("LOWER(title) LIKE ?", pattern),
			sq.Expr("LOWER(content) LIKE ?", pattern),
			sq.Expr("LOWER(tags_json) LIKE ?", pattern),
		}).
		OrderBy("updated_at DESC"))
}

// FindRelevantMemories scores every memory against the keywords of text and
// returns the top limit by descending score. Not semantic search: a weighted
// keyword-overlap heuristic (title hit 3, content hit 1, exact tag hit 5).
// Ties keep the stable listing order.
func (s *Store) FindRelevantMemories(ctx context.Context, text string, limit int) ([]Memory, error) {
	all, err := s.ListMemories(ctx)
	if err != nil {
		return nil, err
	}

	keywords := extractKeywords(text)
	type scored struct {
		memory Memory
		score  int
	}
	hits := make([]scored, 0, len(all))
	for _, m := range all {
		if score := relevanceScore(m, keywords); score > 0 {
			hits = append(hits, scored{memory: m, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Memory, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.memory)
	}
	return out, nil
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "by": {}, "of": {},
}

func extractKeywords(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

func relevanceScore(m Memory, keywords []string) int {
	title := strings.ToLower(m.Title)
	content := strings.ToLower(m.Content)

	score := 0
	for _, kw := range keywords {
		if strings.Contains(title, kw) {
			score += 3
		}
		if strings.Contains(content, kw) {
			score++
		}
	}
	for _, tag := range m.Tags {
		tag = strings.ToLower(tag)
		for _, kw := range keywords {
			if tag == kw {
				score += 5
			}
		}
	}
	return score
}

func (s *Store) queryMemories(ctx context.Context, q sq.SelectBuilder) ([]Memory, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build memories query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("query memories: %w", err))
	}
	defer rows.Close()

	out := make([]Memory, 0)
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan memory row: %w", err))
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate memory rows: %w", err))
	}
	return out, nil
}

func scanMemory(row rowScanner) (Memory, error) {
	var m Memory
	var tagsJSON string
	if err := row.Scan(&m.ID, &m.Title, &m.Content, &tagsJSON, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Memory{}, err
	}
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return Memory{}, err
	}
	m.Tags = tags
	return m, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func unmarshalTags(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return tags, nil
}
