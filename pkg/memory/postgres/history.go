package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxgate/voxgate/pkg/memory"
)

// defaultRecentLimit is applied when RecentTurns is called with limit <= 0.
const defaultRecentLimit = 20

// HistoryStoreImpl is the conversation log backed by the turns table.
//
// Obtain one via [Store.History] rather than constructing directly.
// All methods are safe for concurrent use.
type HistoryStoreImpl struct {
	pool *pgxpool.Pool
}

// AppendTurn implements [memory.HistoryStore]. The turn's ID must be set by
// the caller; a zero CreatedAt falls back to the current time.
func (h *HistoryStoreImpl) AppendTurn(ctx context.Context, turn memory.Turn) error {
	if turn.ID == "" {
		return fmt.Errorf("history: append turn: ID must not be empty")
	}

	meta := turn.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("history: marshal metadata: %w", err)
	}

	created := turn.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	const q = `
		INSERT INTO turns (id, user_id, avatar_id, role, text, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = h.pool.Exec(ctx, q,
		turn.ID,
		turn.UserID,
		turn.AvatarID,
		string(turn.Role),
		turn.Text,
		metaJSON,
		created,
	)
	if err != nil {
		return fmt.Errorf("history: append turn: %w", err)
	}
	return nil
}

// RecentTurns implements [memory.HistoryStore]. It returns up to limit
// most-recent turns for (userID, avatarID), re-ordered oldest first so the
// result can be fed directly into a prompt.
func (h *HistoryStoreImpl) RecentTurns(ctx context.Context, userID, avatarID string, limit int) ([]memory.Turn, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	const q = `
		SELECT id, user_id, avatar_id, role, text, metadata, created_at
		FROM   turns
		WHERE  user_id = $1 AND avatar_id = $2
		ORDER  BY created_at DESC
		LIMIT  $3`

	rows, err := h.pool.Query(ctx, q, userID, avatarID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent turns: %w", err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var (
			t        memory.Turn
			role     string
			metaJSON []byte
		)
		if err := row.Scan(&t.ID, &t.UserID, &t.AvatarID, &role, &t.Text, &metaJSON, &t.CreatedAt); err != nil {
			return memory.Turn{}, err
		}
		t.Role = memory.Role(role)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
				return memory.Turn{}, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: collect turns: %w", err)
	}

	// Query returned newest first; reverse to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
