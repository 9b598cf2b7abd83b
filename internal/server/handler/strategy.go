package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kunalnaik/strikewatch/internal/domain"
	"github.com/kunalnaik/strikewatch/internal/strategy"
)

// StrategyService defines the manager surface the strategy handler requires.
type StrategyService interface {
	Create(ctx context.Context, cfg domain.StrategyConfig) (string, error)
	Remove(id string) error
	UpdateConfig(ctx context.Context, id string, cfg domain.StrategyConfig) error
	Get(id string) (domain.StrategySnapshot, error)
	List() []domain.StrategySnapshot
	Preview(ctx context.Context, cfg domain.StrategyConfig) (domain.StrategySnapshot, error)
}

// StrategyHandler serves the strategy lifecycle endpoints.
type StrategyHandler struct {
	strategies StrategyService
	logger     *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler with the given service.
func NewStrategyHandler(strategies StrategyService, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{strategies: strategies, logger: logger}
}

// listStrategiesResponse wraps the list of strategy snapshots.
type listStrategiesResponse struct {
	Strategies []domain.StrategySnapshot `json:"strategies"`
}

// Create registers a new strategy.
// POST /api/strategies
func (h *StrategyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cfg domain.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := h.strategies.Create(r.Context(), cfg)
	if err != nil {
		h.writeStrategyError(w, r, "create strategy", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// List returns every live strategy snapshot, newest first.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps := h.strategies.List()
	if snaps == nil {
		snaps = []domain.StrategySnapshot{}
	}
	writeJSON(w, http.StatusOK, listStrategiesResponse{Strategies: snaps})
}

// Get returns one strategy snapshot.
// GET /api/strategies/{id}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.strategies.Get(r.PathValue("id"))
	if err != nil {
		h.writeStrategyError(w, r, "get strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Update replaces a strategy's parameters. Rejected once the strategy has
// entered MONITORING.
// PUT /api/strategies/{id}
func (h *StrategyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var cfg domain.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id := r.PathValue("id")
	if err := h.strategies.UpdateConfig(r.Context(), id, cfg); err != nil {
		h.writeStrategyError(w, r, "update strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "id": id})
}

// Remove cancels and removes a strategy.
// DELETE /api/strategies/{id}
func (h *StrategyHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.strategies.Remove(id); err != nil {
		h.writeStrategyError(w, r, "remove strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": id})
}

// Preview runs a what-if selection against the tick archive without
// touching the live strategy set.
// POST /api/strategies/preview
func (h *StrategyHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var cfg domain.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	snap, err := h.strategies.Preview(r.Context(), cfg)
	if err != nil {
		h.writeStrategyError(w, r, "preview strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// writeStrategyError maps service errors onto HTTP status codes.
func (h *StrategyHandler) writeStrategyError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var resErr *domain.ResolutionError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "strategy not found")
	case errors.Is(err, strategy.ErrNotEditable), errors.Is(err, domain.ErrStrategyFinal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, strategy.ErrEntryPassed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &resErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case isValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// isValidation reports whether the error came out of config validation.
func isValidation(err error) bool {
	var verr *strategy.ValidationError
	return errors.As(err, &verr)
}
