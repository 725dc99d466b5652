package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echosync/internal/models"
)

type ReactionStore struct {
	pool *pgxpool.Pool
}

func NewReactionStore(pool *pgxpool.Pool) *ReactionStore {
	return &ReactionStore{pool: pool}
}

// Toggle removes the (message, user, emoji) row if it exists and inserts it
// otherwise, inside one transaction. Two concurrent toggles from the same
// user cannot both insert: the unique constraint turns the loser into a
// no-op.
func (s *ReactionStore) Toggle(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin toggle reaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	added := false
	if tag.RowsAffected() == 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO reactions (message_id, user_id, emoji, created_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
			messageID, userID, emoji)
		if err != nil {
			return false, fmt.Errorf("insert reaction: %w", err)
		}
		added = true
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit toggle reaction: %w", err)
	}
	return added, nil
}

func (s *ReactionStore) Summary(ctx context.Context, messageID uuid.UUID) (models.ReactionSummary, error) {
	id := messageID.String()
	summaries, err := querySummaries(ctx, s.pool, []string{id})
	if err != nil {
		return nil, err
	}
	if sum, ok := summaries[id]; ok {
		return sum, nil
	}
	return models.ReactionSummary{}, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func querySummaries(ctx context.Context, q querier, messageIDs []string) (map[string]models.ReactionSummary, error) {
	rows, err := q.Query(ctx, `
		SELECT message_id::text, emoji, array_agg(user_id::text ORDER BY created_at)
		FROM reactions
		WHERE message_id = ANY($1::uuid[])
		GROUP BY message_id, emoji`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.ReactionSummary)
	for rows.Next() {
		var messageID, emoji string
		var users []string
		if err := rows.Scan(&messageID, &emoji, &users); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		sum, ok := out[messageID]
		if !ok {
			sum = models.ReactionSummary{}
			out[messageID] = sum
		}
		sum[emoji] = models.ReactionCount{Count: len(users), UserIDs: users}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return out, nil
}
