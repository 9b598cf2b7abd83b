package domain

import (
	"context"
	"time"
)

// StrategyStore persists strategy checkpoints sufficient to resume after a
// restart without replaying the full tick history.
type StrategyStore interface {
	// SaveAll replaces the checkpoint set in one transaction; strategies
	// absent from the set are deleted.
	SaveAll(ctx context.Context, snaps []StrategySnapshot) error
	// ListOpen returns snapshots of strategies not yet purged, newest first.
	ListOpen(ctx context.Context) ([]StrategySnapshot, error)
}

// NotificationStore is the append-only notification log.
type NotificationStore interface {
	Append(ctx context.Context, ev NotificationEvent) error
	ListRecent(ctx context.Context, limit int) ([]NotificationEvent, error)
	// DeleteBefore purges events older than the cutoff, returning the count.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
