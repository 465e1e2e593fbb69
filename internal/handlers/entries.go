package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"timetracker-backend/internal/middleware"
	"timetracker-backend/internal/models"
	"timetracker-backend/internal/timefmt"
)

const (
	defaultEntryLimit = 50
	maxEntryLimit     = 200
)

type entryService interface {
	ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimeEntry, error)
	AddEntry(ctx context.Context, userID uuid.UUID, req models.ManualEntryRequest) (*models.TimeEntry, error)
}

type entryView struct {
	*models.TimeEntry
	DurationLabel string `json:"duration_label"`
	Clock         string `json:"clock"`
}

type EntryHandler struct {
	entries entryService
}

func NewEntryHandler(entries entryService) *EntryHandler {
	return &EntryHandler{entries: entries}
}

// List returns the caller's finalized entries, newest first.
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit := defaultEntryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
				map[string]string{"limit": "must be a positive integer"}, r))
			return
		}
		limit = min(n, maxEntryLimit)
	}

	entries, err := h.entries.ListEntries(r.Context(), userID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch time entries", r))
		return
	}

	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newEntryView(e))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": views})
}

// Create adds an entry for time tracked away from the live timer.
func (h *EntryHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.ManualEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		invalidBody(w, r)
		return
	}

	entry, err := h.entries.AddEntry(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"entry": newEntryView(entry)})
}

func newEntryView(e *models.TimeEntry) entryView {
	return entryView{
		TimeEntry:     e,
		DurationLabel: timefmt.Duration(e.DurationSeconds),
		Clock:         timefmt.Clock(e.DurationSeconds),
	}
}
