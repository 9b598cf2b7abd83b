package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// StrategyStore implements domain.StrategyStore. The whole snapshot goes
// into one JSONB column; phase and created_at are lifted into columns for
// filtering and ordering.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a StrategyStore backed by the given pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

const upsertCheckpoint = `
	INSERT INTO strategy_checkpoints (id, phase, snapshot, created_at, updated_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (id) DO UPDATE SET
		phase      = EXCLUDED.phase,
		snapshot   = EXCLUDED.snapshot,
		updated_at = NOW()`

// SaveAll replaces the checkpoint set in one transaction: the given set is
// upserted and rows for strategies no longer in it are deleted, so a restart
// never observes a half-written checkpoint and never resurrects a strategy
// the retention purge dropped.
func (s *StrategyStore) SaveAll(ctx context.Context, snaps []domain.StrategySnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin checkpoint tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.ID)
		payload, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("postgres: marshal checkpoint %s: %w", snap.ID, err)
		}
		if _, err := tx.Exec(ctx, upsertCheckpoint, snap.ID, string(snap.Phase), payload, snap.CreatedAt); err != nil {
			return fmt.Errorf("postgres: save checkpoint %s: %w", snap.ID, err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM strategy_checkpoints WHERE NOT (id = ANY($1))`, ids); err != nil {
		return fmt.Errorf("postgres: prune stale checkpoints: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit checkpoint tx: %w", err)
	}
	return nil
}

// ListOpen returns every checkpointed snapshot, newest first.
func (s *StrategyStore) ListOpen(ctx context.Context) ([]domain.StrategySnapshot, error) {
	const query = `SELECT snapshot FROM strategy_checkpoints ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var snaps []domain.StrategySnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan checkpoint: %w", err)
		}
		var snap domain.StrategySnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal checkpoint: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints: %w", err)
	}
	return snaps, nil
}

// Compile-time interface check.
var _ domain.StrategyStore = (*StrategyStore)(nil)
