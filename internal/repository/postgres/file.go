package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echosync/internal/models"
)

type FileStore struct {
	pool *pgxpool.Pool
}

func NewFileStore(pool *pgxpool.Pool) *FileStore {
	return &FileStore{pool: pool}
}

// fileColumns expects files aliased f and messages aliased m.
const fileColumns = `
	f.id::text, f.name, f.content_type, f.size, f.url,
	f.message_id::text, m.channel_id::text, m.user_id::text, f.created_at`

func (s *FileStore) ListByChannel(ctx context.Context, channelID uuid.UUID, limit int) ([]models.File, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files f
		JOIN messages m ON m.id = f.message_id
		WHERE m.channel_id = $1
		ORDER BY f.created_at DESC, f.id DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list channel files: %w", err)
	}
	return collectFiles(rows)
}

func collectFiles(rows pgx.Rows) ([]models.File, error) {
	defer rows.Close()

	files := make([]models.File, 0)
	for rows.Next() {
		var f models.File
		err := rows.Scan(
			&f.ID, &f.Name, &f.ContentType, &f.Size, &f.URL,
			&f.MessageID, &f.ChannelID, &f.AuthorID, &f.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}
