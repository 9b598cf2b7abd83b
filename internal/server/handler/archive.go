package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// ArchiveHandler serves read access to the object-storage archive: key
// listings and object downloads for dashboards and offline analysis.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the given reader.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logger}
}

// listArchiveResponse wraps the archived object keys under a prefix.
type listArchiveResponse struct {
	Prefix string   `json:"prefix"`
	Keys   []string `json:"keys"`
}

// List returns archived object keys under a prefix.
// GET /api/archive?prefix=archive/ticks/2026-08-23
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive"
	}

	keys, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, listArchiveResponse{Prefix: prefix, Keys: keys})
}

// Get streams one archived object.
// GET /api/archive/{key...}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing object key")
		return
	}

	obj, err := h.reader.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get archive object failed",
			slog.String("key", key), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read archive object")
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", contentTypeForKey(key))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive object stream interrupted",
			slog.String("key", key), slog.Any("error", err))
	}
}

// contentTypeForKey maps archive key suffixes onto the types the archiver
// uploads them with.
func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".jsonl"):
		return "application/x-ndjson"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
