package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echosync/internal/models"
)

type ChannelStore struct {
	pool *pgxpool.Pool
}

func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{pool: pool}
}

const channelColumns = `id, workspace_id, name, description, is_private, created_at`

func scanChannel(row pgx.Row, ch *models.Channel) error {
	return row.Scan(
		&ch.ID,
		&ch.WorkspaceID,
		&ch.Name,
		&ch.Description,
		&ch.IsPrivate,
		&ch.CreatedAt,
	)
}

func (s *ChannelStore) Create(ctx context.Context, workspaceID uuid.UUID, name, description string, isPrivate bool) (*models.Channel, error) {
	query := `
		INSERT INTO channels (id, workspace_id, name, description, is_private, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, now())
		RETURNING ` + channelColumns

	var ch models.Channel
	if err := scanChannel(s.pool.QueryRow(ctx, query, workspaceID, name, description, isPrivate), &ch); err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	return &ch, nil
}

func (s *ChannelStore) GetByID(ctx context.Context, workspaceID, channelID uuid.UUID) (*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1 AND workspace_id = $2`

	var ch models.Channel
	if err := scanChannel(s.pool.QueryRow(ctx, query, channelID, workspaceID), &ch); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

func (s *ChannelStore) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE workspace_id = $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := make([]models.Channel, 0)
	for rows.Next() {
		var ch models.Channel
		if err := scanChannel(rows, &ch); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}
