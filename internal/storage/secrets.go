package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"chathub/internal/apperr"
)

// PutSecret upserts the sealed value for a provider.
func (s *Store) PutSecret(ctx context.Context, provider, sealedValue string) error {
	now := s.now()
	q := s.sql.Insert("secrets").
		Columns("provider", "sealed_value", "updated_at").
		Values(provider, sealedValue, now).
		Suffix("ON CONFLICT (provider) DO UPDATE SET sealed_value = excluded.sealed_value, updated_at = excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build put secret query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return apperr.WriteFailed(fmt.Errorf("put secret: %w", err))
	}
	return nil
}

// GetSecret returns the sealed value for a provider, or apperr.ErrNotFound.
func (s *Store) GetSecret(ctx context.Context, provider string) (string, error) {
	q := s.sql.Select("sealed_value").From("secrets").Where(sq.Eq{"provider": provider})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build get secret query: %w", err)
	}
	var sealed string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&sealed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.ErrNotFound
		}
		return "", apperr.ReadFailed(fmt.Errorf("get secret: %w", err))
	}
	return sealed, nil
}

// ListSecretProviders returns the providers that have a stored secret.
func (s *Store) ListSecretProviders(ctx context.Context) ([]string, error) {
	q := s.sql.Select("provider").From("secrets").OrderBy("provider ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list secret providers query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("list secret providers: %w", err))
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan secret provider row: %w", err))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate secret provider rows: %w", err))
	}
	return out, nil
}

// DeleteSecret removes the stored value for a provider, or returns
// apperr.ErrNotFound when none is stored.
func (s *Store) DeleteSecret(ctx context.Context, provider string) error {
	q := s.sql.Delete("secrets").Where(sq.Eq{"provider": provider})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete secret query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.DeleteFailed(fmt.Errorf("delete secret: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
