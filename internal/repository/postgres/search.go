package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echosync/internal/models"
)

type SearchStore struct {
	pool     *pgxpool.Pool
	messages *MessageStore
}

func NewSearchStore(pool *pgxpool.Pool) *SearchStore {
	return &SearchStore{pool: pool, messages: NewMessageStore(pool)}
}

// readableChannels selects the ids of channels in workspace $1 that user
// $2 may read.
const readableChannels = `
	SELECT c.id FROM channels c
	WHERE c.workspace_id = $1
	  AND (NOT c.is_private OR EXISTS (
		SELECT 1 FROM channel_members cm
		WHERE cm.channel_id = c.id AND cm.user_id = $2
	  ))`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns user text into an ILIKE pattern matching it
// anywhere, with LIKE wildcards in the text taken literally.
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

// Messages searches top-level messages and replies, newest first.
func (s *SearchStore) Messages(ctx context.Context, workspaceID, userID uuid.UUID, query string, limit int) ([]models.Message, error) {
	sql := `SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id IN (` + readableChannels + `)
		  AND content ILIKE $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := s.pool.Query(ctx, sql, workspaceID, userID, containsPattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	if err := s.messages.hydrate(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Channels matches on name or description, alphabetically.
func (s *SearchStore) Channels(ctx context.Context, workspaceID, userID uuid.UUID, query string, limit int) ([]models.Channel, error) {
	sql := `SELECT ` + channelColumns + `
		FROM channels
		WHERE id IN (` + readableChannels + `)
		  AND (name ILIKE $3 OR description ILIKE $3)
		ORDER BY name
		LIMIT $4`

	rows, err := s.pool.Query(ctx, sql, workspaceID, userID, containsPattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search channels: %w", err)
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

// Files matches on file name, newest first.
func (s *SearchStore) Files(ctx context.Context, workspaceID, userID uuid.UUID, query string, limit int) ([]models.File, error) {
	sql := `
		SELECT ` + fileColumns + `
		FROM files f
		JOIN messages m ON m.id = f.message_id
		WHERE m.channel_id IN (` + readableChannels + `)
		  AND f.name ILIKE $3
		ORDER BY f.created_at DESC, f.id DESC
		LIMIT $4`

	rows, err := s.pool.Query(ctx, sql, workspaceID, userID, containsPattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	return collectFiles(rows)
}
