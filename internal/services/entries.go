package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"timetracker-backend/internal/models"
	"timetracker-backend/internal/repository"
)

// EntryService serves finalized time entries outside the live timer.
type EntryService struct {
	store   repository.Store
	timeout time.Duration
	log     zerolog.Logger
}

func NewEntryService(store repository.Store, timeout time.Duration, log zerolog.Logger) *EntryService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EntryService{
		store:   store,
		timeout: timeout,
		log:     log.With().Str("component", "entries").Logger(),
	}
}

func (s *EntryService) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimeEntry, error) {
	return s.store.ListEntries(ctx, userID, limit)
}

// AddEntry stores a finalized entry from explicit times. Duration excludes
// breaks, so it may be shorter than the span but never longer.
func (s *EntryService) AddEntry(ctx context.Context, userID uuid.UUID, req models.ManualEntryRequest) (*models.TimeEntry, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Unauthorized"}
	}

	taskName := strings.TrimSpace(req.TaskName)
	fields := map[string]string{}
	if taskName == "" {
		fields["task_name"] = "required"
	}
	if req.StartTime == nil {
		fields["start_time"] = "required"
	}
	if req.EndTime == nil {
		fields["end_time"] = "required"
	}
	if req.Duration == nil {
		fields["duration"] = "required"
	}
	if len(fields) == 0 {
		span := req.EndTime.Sub(*req.StartTime)
		switch {
		case span < 0:
			fields["end_time"] = "must not be before start_time"
		case *req.Duration < 0:
			fields["duration"] = "must not be negative"
		case *req.Duration > int64(span/time.Second):
			fields["duration"] = "must not exceed the time between start_time and end_time"
		}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	end := req.EndTime.UTC()
	entry := &models.TimeEntry{
		UserProfileID:   userID,
		TaskName:        taskName,
		Comment:         req.Comment,
		StartTime:       req.StartTime.UTC(),
		EndTime:         &end,
		DurationSeconds: *req.Duration,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.InsertEntry(ctx, entry)
	})
	if err != nil {
		return nil, storeError(err, "Profile not found")
	}

	s.log.Info().
		Str("user_id", userID.String()).
		Str("entry_id", entry.ID.String()).
		Int64("duration", entry.DurationSeconds).
		Msg("manual time entry added")
	return entry, nil
}
