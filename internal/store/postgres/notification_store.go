package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// NotificationStore implements domain.NotificationStore as an append-only
// log table.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a NotificationStore backed by the given pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// Append writes one notification event.
func (s *NotificationStore) Append(ctx context.Context, ev domain.NotificationEvent) error {
	const query = `
		INSERT INTO notifications (id, strategy_id, instrument, kind, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.StrategyID, string(ev.Instrument), string(ev.Kind),
		ev.OldValue, ev.NewValue, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append notification %s: %w", ev.ID, err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (s *NotificationStore) ListRecent(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, strategy_id, instrument, kind, old_value, new_value, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications: %w", err)
	}
	defer rows.Close()

	var events []domain.NotificationEvent
	for rows.Next() {
		var ev domain.NotificationEvent
		var instrument, kind string
		if err := rows.Scan(&ev.ID, &ev.StrategyID, &instrument, &kind, &ev.OldValue, &ev.NewValue, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan notification: %w", err)
		}
		ev.Instrument = domain.InstrumentID(instrument)
		ev.Kind = domain.NotificationKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list notifications: %w", err)
	}
	return events, nil
}

// DeleteBefore purges events older than the cutoff, returning the count.
func (s *NotificationStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete notifications before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.NotificationStore = (*NotificationStore)(nil)
