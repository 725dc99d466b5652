package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/repository"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Ids are selected as text: the message model carries opaque string ids
// shared with the client, which also holds provisional ones.
const messageColumns = `
	id::text, channel_id::text, user_id::text, content, created_at,
	is_edited, is_pinned, COALESCE(parent_message_id::text, ''),
	is_thread_parent, thread_reply_count, version, COALESCE(client_token, '')`

func scanMessage(row pgx.Row, m *models.Message) error {
	return row.Scan(
		&m.ID,
		&m.ChannelID,
		&m.AuthorID,
		&m.Content,
		&m.CreatedAt,
		&m.Edited,
		&m.Pinned,
		&m.ParentID,
		&m.IsThreadParent,
		&m.ThreadReplyCount,
		&m.Version,
		&m.ClientToken,
	)
}

func (s *MessageStore) Create(ctx context.Context, nm repository.NewMessage) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create message: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	if nm.ParentID != nil {
		// Lock the parent so concurrent replies serialize on its counters.
		var channelID uuid.UUID
		var grandparent *uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT channel_id, parent_message_id FROM messages WHERE id = $1 FOR UPDATE`,
			*nm.ParentID,
		).Scan(&channelID, &grandparent)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && channelID != nm.ChannelID) {
			return nil, repository.ErrParentNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lock parent message: %w", err)
		}
		if grandparent != nil {
			return nil, repository.ErrNestedThread
		}
	}

	var token *string
	if nm.ClientToken != "" {
		token = &nm.ClientToken
	}
	query := `
		INSERT INTO messages (channel_id, user_id, content, parent_message_id, client_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING ` + messageColumns

	var m models.Message
	if err := scanMessage(tx.QueryRow(ctx, query, nm.ChannelID, nm.UserID, nm.Content, nm.ParentID, token), &m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	for _, a := range nm.Attachments {
		err := tx.QueryRow(ctx, `
			INSERT INTO files (message_id, name, content_type, size, url, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING id::text`,
			m.ID, a.Name, a.ContentType, a.Size, a.URL,
		).Scan(&a.ID)
		if err != nil {
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
		m.Attachments = append(m.Attachments, a)
	}

	if nm.ParentID != nil {
		_, err := tx.Exec(ctx, `
			UPDATE messages
			SET thread_reply_count = thread_reply_count + 1,
			    is_thread_parent = true,
			    version = version + 1,
			    updated_at = now()
			WHERE id = $1`, *nm.ParentID)
		if err != nil {
			return nil, fmt.Errorf("update thread parent: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create message: %w", err)
	}
	m.Reactions = models.ReactionSummary{}
	return &m, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	var m models.Message
	if err := scanMessage(s.pool.QueryRow(ctx, query, messageID), &m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	msgs := []models.Message{m}
	if err := s.hydrate(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// ListByChannel pages newest first with a keyset on (created_at, id).
//
// One extra row is fetched to learn whether an older page exists without
// a separate COUNT.
func (s *MessageStore) ListByChannel(ctx context.Context, channelID uuid.UUID, q repository.ListQuery) ([]models.Message, bool, error) {
	args := []any{channelID}
	where := "channel_id = $1"
	if q.ParentID != nil {
		args = append(args, *q.ParentID)
		where += fmt.Sprintf(" AND parent_message_id = $%d", len(args))
	} else {
		where += " AND parent_message_id IS NULL"
	}
	if q.Before != nil {
		args = append(args, q.Before.CreatedAt, q.Before.ID)
		where += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, q.Limit+1)

	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ` + fmt.Sprintf("$%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, q.Limit+1)
	for rows.Next() {
		var m models.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, false, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate messages: %w", err)
	}

	hasMore := len(messages) > q.Limit
	if hasMore {
		messages = messages[:q.Limit]
	}
	if err := s.hydrate(ctx, messages); err != nil {
		return nil, false, err
	}
	return messages, hasMore, nil
}

func (s *MessageStore) UpdateContent(ctx context.Context, messageID uuid.UUID, content string) (*models.Message, error) {
	return s.updateOne(ctx, "update message", `
		UPDATE messages
		SET content = $2, is_edited = true, version = version + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+messageColumns, messageID, content)
}

func (s *MessageStore) TogglePin(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	return s.updateOne(ctx, "toggle pin", `
		UPDATE messages
		SET is_pinned = NOT is_pinned, version = version + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+messageColumns, messageID)
}

func (s *MessageStore) updateOne(ctx context.Context, op, query string, args ...any) (*models.Message, error) {
	var m models.Message
	if err := scanMessage(s.pool.QueryRow(ctx, query, args...), &m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	msgs := []models.Message{m}
	if err := s.hydrate(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// Delete reports each removed row with version+1: the delete is itself a
// mutation, so its tombstone covers every update the row has seen.
func (s *MessageStore) Delete(ctx context.Context, messageID uuid.UUID) ([]repository.Deleted, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete message: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		parentID *uuid.UUID
		version  int64
	)
	err = tx.QueryRow(ctx,
		`SELECT parent_message_id, version FROM messages WHERE id = $1 FOR UPDATE`,
		messageID,
	).Scan(&parentID, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock message: %w", err)
	}

	deleted := []repository.Deleted{{ID: messageID.String(), Version: version + 1}}

	rows, err := tx.Query(ctx,
		`DELETE FROM messages WHERE parent_message_id = $1 RETURNING id::text, version`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("delete replies: %w", err)
	}
	for rows.Next() {
		var d repository.Deleted
		if err := rows.Scan(&d.ID, &d.Version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deleted reply: %w", err)
		}
		d.Version++
		deleted = append(deleted, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted replies: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	if parentID != nil {
		// SET expressions see the old row, so both use the pre-decrement count.
		_, err := tx.Exec(ctx, `
			UPDATE messages
			SET thread_reply_count = GREATEST(thread_reply_count - 1, 0),
			    is_thread_parent = thread_reply_count - 1 > 0,
			    version = version + 1,
			    updated_at = now()
			WHERE id = $1`, *parentID)
		if err != nil {
			return nil, fmt.Errorf("update thread parent: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete message: %w", err)
	}
	return deleted, nil
}

// hydrate fills attachments and reaction summaries for a page in two
// queries rather than two per message.
func (s *MessageStore) hydrate(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	index := make(map[string]int, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		index[m.ID] = i
	}

	rows, err := s.pool.Query(ctx, `
		SELECT message_id::text, id::text, name, content_type, size, url
		FROM files
		WHERE message_id = ANY($1::uuid[])
		ORDER BY created_at, id`, ids)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var messageID string
		var a models.Attachment
		if err := rows.Scan(&messageID, &a.ID, &a.Name, &a.ContentType, &a.Size, &a.URL); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if i, ok := index[messageID]; ok {
			messages[i].Attachments = append(messages[i].Attachments, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate attachments: %w", err)
	}

	summaries, err := querySummaries(ctx, s.pool, ids)
	if err != nil {
		return err
	}
	for i := range messages {
		if sum, ok := summaries[messages[i].ID]; ok {
			messages[i].Reactions = sum
		} else {
			messages[i].Reactions = models.ReactionSummary{}
		}
	}
	return nil
}
