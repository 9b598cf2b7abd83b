package handler

import (
	"log/slog"
	"net/http"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// NotificationsHandler serves the notification history endpoint.
type NotificationsHandler struct {
	store  domain.NotificationStore
	logger *slog.Logger
}

// NewNotificationsHandler creates a NotificationsHandler over the given store.
func NewNotificationsHandler(store domain.NotificationStore, logger *slog.Logger) *NotificationsHandler {
	return &NotificationsHandler{store: store, logger: logger}
}

// listNotificationsResponse wraps the notification history.
type listNotificationsResponse struct {
	Notifications []domain.NotificationEvent `json:"notifications"`
}

// ListRecent returns the newest notification events.
// GET /api/notifications?limit=50
func (h *NotificationsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)

	events, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list notifications failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if events == nil {
		events = []domain.NotificationEvent{}
	}
	writeJSON(w, http.StatusOK, listNotificationsResponse{Notifications: events})
}
