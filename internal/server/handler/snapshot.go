package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// SnapshotComposer builds the aggregate engine snapshot on demand. The
// service snapshot publisher satisfies it.
type SnapshotComposer interface {
	Compose() domain.ManagerSnapshot
}

// SnapshotHandler serves the one-shot state snapshot endpoint. Live
// consumers should use the WebSocket feed instead; this exists for initial
// page loads and debugging.
type SnapshotHandler struct {
	composer SnapshotComposer
	logger   *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler over the given composer.
func NewSnapshotHandler(composer SnapshotComposer, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{composer: composer, logger: logger}
}

// GetSnapshot returns the current aggregate snapshot.
// GET /api/snapshot
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.composer.Compose())
}

// statsResponse is the counters-only view of the engine snapshot.
type statsResponse struct {
	At                   time.Time `json:"at"`
	Strategies           int       `json:"strategies"`
	TicksProcessed       int64     `json:"ticks_processed"`
	TicksDropped         int64     `json:"ticks_dropped"`
	ClockSkewDropped     int64     `json:"clock_skew_dropped"`
	NotificationsDropped int64     `json:"notifications_dropped"`
	DurabilityDegraded   bool      `json:"durability_degraded"`
}

// GetStats returns the engine counters without the strategy payload.
// GET /api/stats
func (h *SnapshotHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	snap := h.composer.Compose()
	writeJSON(w, http.StatusOK, statsResponse{
		At:                   snap.At,
		Strategies:           len(snap.Strategies),
		TicksProcessed:       snap.TicksProcessed,
		TicksDropped:         snap.TicksDropped,
		ClockSkewDropped:     snap.ClockSkewDropped,
		NotificationsDropped: snap.NotificationsDropped,
		DurabilityDegraded:   snap.DurabilityDegraded,
	})
}
