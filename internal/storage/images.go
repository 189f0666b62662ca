package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"chathub/internal/apperr"
)

const imageColumns = "id, chat_id, prompt, image_path, thumbnail_path, size, created_at"

func (s *Store) CreateGeneratedImage(ctx context.Context, img GeneratedImage) (GeneratedImage, error) {
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	img.CreatedAt = s.now()

	q := s.sql.Insert("generated_images").
		Columns("id", "chat_id", "prompt", "image_path", "thumbnail_path", "size", "created_at").
		Values(img.ID, img.ChatID, img.Prompt, img.ImagePath, img.ThumbnailPath, img.Size, img.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("build create generated image query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return GeneratedImage{}, apperr.WriteFailed(fmt.Errorf("create generated image: %w", err))
	}
	return img, nil
}

func (s *Store) GetGeneratedImage(ctx context.Context, id string) (GeneratedImage, error) {
	q := s.sql.Select(imageColumns).From("generated_images").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("build get generated image query: %w", err)
	}
	img, err := scanGeneratedImage(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GeneratedImage{}, apperr.ErrNotFound
		}
		return GeneratedImage{}, apperr.ReadFailed(fmt.Errorf("get generated image: %w", err))
	}
	return img, nil
}

func (s *Store) ListGeneratedImages(ctx context.Context) ([]GeneratedImage, error) {
	return s.queryImages(ctx, s.sql.Select(imageColumns).From("generated_images").OrderBy("created_at DESC"))
}

func (s *Store) ListGeneratedImagesForChat(ctx context.Context, chatID string) ([]GeneratedImage, error) {
	return s.queryImages(ctx, s.sql.Select(imageColumns).From("generated_images").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at DESC"))
}

func (s *Store) DeleteGeneratedImage(ctx context.Context, id string) error {
	q := s.sql.Delete("generated_images").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete generated image query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return apperr.DeleteFailed(fmt.Errorf("delete generated image: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) queryImages(ctx context.Context, q sq.SelectBuilder) ([]GeneratedImage, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build generated images query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("query generated images: %w", err))
	}
	defer rows.Close()

	out := make([]GeneratedImage, 0)
	for rows.Next() {
		img, err := scanGeneratedImage(rows)
		if err != nil {
			return nil, apperr.ReadFailed(fmt.Errorf("scan generated image row: %w", err))
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.ReadFailed(fmt.Errorf("iterate generated image rows: %w", err))
	}
	return out, nil
}

func scanGeneratedImage(row rowScanner) (GeneratedImage, error) {
	var img GeneratedImage
	var chatID sql.NullString
	if err := row.Scan(&img.ID, &chatID, &img.Prompt, &img.ImagePath, &img.ThumbnailPath, &img.Size, &img.CreatedAt); err != nil {
		return GeneratedImage{}, err
	}
	if chatID.Valid {
		img.ChatID = &chatID.String
	}
	return img, nil
}
