package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"timetracker-backend/internal/locale"
	"timetracker-backend/internal/middleware"
	"timetracker-backend/internal/models"
)

type timerService interface {
	Start(ctx context.Context, userID uuid.UUID) (*models.StartResult, error)
	TogglePause(ctx context.Context, userID uuid.UUID, req models.PauseRequest) (*models.PauseResult, error)
	Reset(ctx context.Context, userID uuid.UUID, req models.ResetRequest) error
	Finalize(ctx context.Context, userID uuid.UUID, req models.FinalizeRequest, lang string) (*models.TimeEntry, error)
	Snapshot(ctx context.Context, userID uuid.UUID) (*models.SessionSnapshot, error)
}

type draftAutosaver interface {
	Schedule(userID, sessionID uuid.UUID, comment string) error
	IsSaving(userID, sessionID uuid.UUID) bool
}

type localePicker interface {
	Pick(acceptLanguage string) string
	Text(lang, key string) string
}

type TimerHandler struct {
	timer    timerService
	autosave draftAutosaver
	locales  localePicker
}

func NewTimerHandler(timer timerService, autosave draftAutosaver, locales localePicker) *TimerHandler {
	return &TimerHandler{timer: timer, autosave: autosave, locales: locales}
}

func (h *TimerHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	result, err := h.timer.Start(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (h *TimerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		invalidBody(w, r)
		return
	}

	result, err := h.timer.TogglePause(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TimerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		invalidBody(w, r)
		return
	}

	if err := h.timer.Reset(r.Context(), userID, req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	lang := h.locales.Pick(r.Header.Get("Accept-Language"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": h.locales.Text(lang, locale.KeyTimerReset),
	})
}

func (h *TimerHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		invalidBody(w, r)
		return
	}

	lang := h.locales.Pick(r.Header.Get("Accept-Language"))
	entry, err := h.timer.Finalize(r.Context(), userID, req, lang)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"finalizedEntry": entry,
		"message":        h.locales.Text(lang, locale.KeyEntrySaved),
	})
}

// Session is the pull side of resync: clients call it on load and after a
// failed optimistic update.
func (h *TimerHandler) Session(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	snap, err := h.timer.Snapshot(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *TimerHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.DraftCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		invalidBody(w, r)
		return
	}

	if err := h.autosave.Schedule(userID, req.SessionID, req.Comment); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"isSaving": true})
}

func (h *TimerHandler) DraftStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isSaving": h.autosave.IsSaving(userID, sessionID)})
}
