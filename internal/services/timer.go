package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"timetracker-backend/internal/metrics"
	"timetracker-backend/internal/models"
	"timetracker-backend/internal/repository"
)

const defaultMaxAttempts = 5

// ChangePublisher receives committed session changes for fan-out.
type ChangePublisher interface {
	Publish(ctx context.Context, userID uuid.UUID, change models.Change) error
}

// DraftCanceller drops a user's pending autosave for a session.
type DraftCanceller interface {
	Cancel(userID, sessionID uuid.UUID)
}

// Placeholders supplies the task name used when a user saves without one.
type Placeholders interface {
	UnsavedEntry(lang string) string
}

type TimerOptions struct {
	RequestTimeout time.Duration
	DriftTolerance time.Duration
	MaxAttempts    int
}

type TimerService struct {
	store        repository.Store
	feed         ChangePublisher
	placeholders Placeholders
	drafts       DraftCanceller
	opts         TimerOptions
	log          zerolog.Logger
	now          func() time.Time
}

func NewTimerService(store repository.Store, feed ChangePublisher, placeholders Placeholders, drafts DraftCanceller, opts TimerOptions, log zerolog.Logger) *TimerService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return &TimerService{
		store:        store,
		feed:         feed,
		placeholders: placeholders,
		drafts:       drafts,
		opts:         opts,
		log:          log.With().Str("component", "timer").Logger(),
		now:          time.Now,
	}
}

// Start resumes a paused session, returns a running one unchanged, or opens
// a new session with a fresh draft entry and running segment.
func (s *TimerService) Start(ctx context.Context, userID uuid.UUID) (*models.StartResult, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Unauthorized"}
	}

	var (
		result  *models.StartResult
		changes []models.Change
	)
	err := s.withRetry(ctx, "start", func(ctx context.Context, tx repository.Tx) error {
		result, changes = nil, nil
		now := s.now().UTC()

		session, err := tx.SessionByUser(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			draft := &models.TimeEntry{UserProfileID: userID, StartTime: now, IsDraft: true}
			if err := tx.InsertEntry(ctx, draft); err != nil {
				return err
			}
			session = &models.TimerSession{
				UserProfileID: userID,
				DraftEntryID:  &draft.ID,
				StartTime:     now,
				IsRunning:     true,
			}
			if err := tx.InsertSession(ctx, session); err != nil {
				return err
			}
			if err := tx.InsertSegment(ctx, &models.TimerSegment{SessionID: session.ID, Kind: models.SegmentRunning, StartTime: now}); err != nil {
				return err
			}
			result = &models.StartResult{Session: session, Draft: draft, ElapsedTime: 0, Created: true}
			changes = append(changes, models.Change{EventType: models.ChangeInsert, New: copySession(session)})
			return nil
		}
		if err != nil {
			return err
		}

		draft, err := draftOf(ctx, tx, session)
		if err != nil {
			return err
		}

		if session.IsRunning && !session.IsPaused {
			open, err := openSegment(ctx, tx, session.ID)
			if err != nil {
				return err
			}
			result = &models.StartResult{Session: session, Draft: draft, ElapsedTime: ElapsedSeconds(session, open, now)}
			return nil
		}

		old := copySession(session)
		if err := s.switchSegment(ctx, tx, session.ID, models.SegmentRunning, now); err != nil {
			return err
		}
		session.IsRunning, session.IsPaused = true, false
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		result = &models.StartResult{Session: session, Draft: draft, ElapsedTime: session.ElapsedSeconds, Resumed: true}
		changes = append(changes, models.Change{EventType: models.ChangeUpdate, New: copySession(session), Old: old})
		return nil
	})
	if err != nil {
		return nil, storeError(err, "Session not found")
	}

	s.publish(ctx, userID, changes)
	return result, nil
}

// TogglePause pauses a running session or resumes a paused one. Direction
// comes from the stored flags only, so concurrent toggles serialise into
// alternating pause/resume instead of stacking segments.
func (s *TimerService) TogglePause(ctx context.Context, userID uuid.UUID, req models.PauseRequest) (*models.PauseResult, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Unauthorized"}
	}
	fields := map[string]string{}
	if req.SessionID == uuid.Nil {
		fields["sessionId"] = "required"
	}
	if req.ElapsedTime != nil && *req.ElapsedTime < 0 {
		fields["elapsedTime"] = "must not be negative"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	var (
		result  *models.PauseResult
		changes []models.Change
	)
	err := s.withRetry(ctx, "pause", func(ctx context.Context, tx repository.Tx) error {
		result, changes = nil, nil
		now := s.now().UTC()

		session, err := tx.SessionByID(ctx, req.SessionID, userID)
		if err != nil {
			return err
		}
		segs, err := tx.ListSegments(ctx, session.ID)
		if err != nil {
			return err
		}

		server := int64(LedgerElapsed(session, segs, now) / time.Second)
		checkpoint := s.checkpoint(session.ElapsedSeconds, server, req.ElapsedTime)
		old := copySession(session)

		next := models.SegmentRunning
		if session.IsRunning && !session.IsPaused {
			next = models.SegmentPause
		}
		if err := s.switchSegment(ctx, tx, session.ID, next, now); err != nil {
			return err
		}
		session.IsRunning = next == models.SegmentRunning
		session.IsPaused = next == models.SegmentPause
		session.ElapsedSeconds = checkpoint
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}

		result = &models.PauseResult{Success: true, Paused: session.IsPaused, ElapsedTime: checkpoint}
		changes = append(changes, models.Change{EventType: models.ChangeUpdate, New: copySession(session), Old: old})
		return nil
	})
	if err != nil {
		return nil, storeError(err, "Session not found")
	}

	s.publish(ctx, userID, changes)
	return result, nil
}

// Reset discards a session with its segments and its draft entry. Missing
// rows are not an error.
func (s *TimerService) Reset(ctx context.Context, userID uuid.UUID, req models.ResetRequest) error {
	if userID == uuid.Nil {
		return &UnauthorizedError{Message: "Unauthorized"}
	}
	if req.SessionID == nil && req.DraftID == nil {
		return &ValidationError{Fields: map[string]string{"sessionId": "sessionId or draftId is required"}}
	}

	var changes []models.Change
	err := s.withRetry(ctx, "reset", func(ctx context.Context, tx repository.Tx) error {
		changes = nil
		drafts := make([]uuid.UUID, 0, 2)
		if req.DraftID != nil {
			drafts = append(drafts, *req.DraftID)
		}

		if req.SessionID != nil {
			session, err := tx.SessionByID(ctx, *req.SessionID, userID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return err
			default:
				if session.DraftEntryID != nil && (req.DraftID == nil || *session.DraftEntryID != *req.DraftID) {
					drafts = append(drafts, *session.DraftEntryID)
				}
				if err := tx.DeleteSession(ctx, session.ID); err != nil {
					return err
				}
				changes = append(changes, models.Change{EventType: models.ChangeDelete, Old: copySession(session)})
			}
		}

		for _, id := range drafts {
			if err := tx.DeleteDraft(ctx, id, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storeError(err, "Session not found")
	}

	if req.SessionID != nil {
		s.cancelAutosave(userID, *req.SessionID)
	}
	s.publish(ctx, userID, changes)
	return nil
}

// Finalize turns the draft into a permanent entry and removes the session
// that was timing it, in one transaction.
func (s *TimerService) Finalize(ctx context.Context, userID uuid.UUID, req models.FinalizeRequest, lang string) (*models.TimeEntry, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Unauthorized"}
	}
	if req.DraftID == uuid.Nil {
		return nil, &ValidationError{Fields: map[string]string{"draftId": "required"}}
	}
	if req.UserProfileID != uuid.Nil && req.UserProfileID != userID {
		return nil, &NotFoundError{Message: "Draft not found"}
	}

	taskName := strings.TrimSpace(req.TaskName)
	if taskName == "" && s.placeholders != nil {
		taskName = s.placeholders.UnsavedEntry(lang)
	}

	var (
		entry     *models.TimeEntry
		sessionID uuid.UUID
		changes   []models.Change
	)
	err := s.withRetry(ctx, "finalize", func(ctx context.Context, tx repository.Tx) error {
		entry, sessionID, changes = nil, uuid.Nil, nil
		now := s.now().UTC()

		draft, err := tx.EntryByID(ctx, req.DraftID, userID)
		if err != nil {
			return err
		}
		if !draft.IsDraft {
			return &NotFoundError{Message: "Draft not found"}
		}

		duration := repository.SegmentDuration(draft.StartTime, now)
		session, err := tx.SessionByUser(ctx, userID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			session = nil
		case err != nil:
			return err
		case session.DraftEntryID == nil || *session.DraftEntryID != draft.ID:
			session = nil
		default:
			segs, err := tx.ListSegments(ctx, session.ID)
			if err != nil {
				return err
			}
			duration = int64(LedgerElapsed(session, segs, now) / time.Second)
		}

		draft.TaskName = taskName
		draft.Comment = req.Comment
		draft.EndTime = &now
		draft.DurationSeconds = duration
		if err := tx.FinalizeEntry(ctx, draft); err != nil {
			return err
		}

		if session != nil {
			if err := tx.DeleteSession(ctx, session.ID); err != nil {
				return err
			}
			sessionID = session.ID
			changes = append(changes, models.Change{EventType: models.ChangeDelete, Old: copySession(session)})
		}
		entry = draft
		return nil
	})
	if err != nil {
		return nil, storeError(err, "Draft not found")
	}

	if sessionID != uuid.Nil {
		s.cancelAutosave(userID, sessionID)
	}
	s.publish(ctx, userID, changes)
	return entry, nil
}

// Snapshot is the authoritative resync read: the user's session, its draft
// and the elapsed time derived from the open segment. A user without a
// session gets an empty snapshot.
func (s *TimerService) Snapshot(ctx context.Context, userID uuid.UUID) (*models.SessionSnapshot, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Unauthorized"}
	}

	var snap *models.SessionSnapshot
	err := s.withRetry(ctx, "snapshot", func(ctx context.Context, tx repository.Tx) error {
		snap = &models.SessionSnapshot{}
		session, err := tx.SessionByUser(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		open, err := openSegment(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		draft, err := draftOf(ctx, tx, session)
		if err != nil {
			return err
		}
		snap.Session = session
		snap.Draft = draft
		snap.OpenSegment = open
		snap.CalculatedElapsedTime = ElapsedSeconds(session, open, s.now().UTC())
		return nil
	})
	if err != nil {
		return nil, storeError(err, "Session not found")
	}
	return snap, nil
}

// Enrich derives the elapsed time for a session row taken from the change
// feed, reading the segment that is open now.
func (s *TimerService) Enrich(ctx context.Context, session *models.TimerSession) (*models.SessionState, error) {
	state := &models.SessionState{TimerSession: *session, CalculatedElapsedTime: session.ElapsedSeconds}
	if !session.IsRunning || session.IsPaused {
		return state, nil
	}

	var open *models.TimerSegment
	err := s.withRetry(ctx, "enrich", func(ctx context.Context, tx repository.Tx) error {
		var err error
		open, err = openSegment(ctx, tx, session.ID)
		return err
	})
	if err != nil {
		return nil, storeError(err, "Session not found")
	}
	state.CalculatedElapsedTime = ElapsedSeconds(session, open, s.now().UTC())
	return state, nil
}

// checkpoint picks the baseline persisted at a pause/resume boundary. The
// client value wins while it stays within the drift tolerance of what the
// segments say; the baseline never moves backwards.
func (s *TimerService) checkpoint(baseline, server int64, client *int64) int64 {
	value := server
	if client != nil {
		diff := *client - server
		if diff < 0 {
			diff = -diff
		}
		if time.Duration(diff)*time.Second <= s.opts.DriftTolerance {
			value = *client
		}
	}
	if value < baseline {
		value = baseline
	}
	return value
}

// switchSegment closes whatever segment is open and opens one of kind.
func (s *TimerService) switchSegment(ctx context.Context, tx repository.Tx, sessionID uuid.UUID, kind string, now time.Time) error {
	open, err := openSegment(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if open != nil {
		if err := tx.CloseSegment(ctx, open, now); err != nil {
			return err
		}
	}
	return tx.InsertSegment(ctx, &models.TimerSegment{SessionID: sessionID, Kind: kind, StartTime: now})
}

// withRetry runs fn in a transaction bounded by the request timeout and
// re-runs it from scratch when it loses a write race.
func (s *TimerService) withRetry(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.TransitionRetries.WithLabelValues(op).Inc()
		}
		err := s.store.InTx(ctx, func(tx repository.Tx) error { return fn(ctx, tx) })
		if err == nil || errors.Is(err, repository.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.log.Debug().Err(err).Str("op", op).Int("attempts", attempt).Msg("timer transition failed")
	}
	metrics.TimerTransitions.WithLabelValues(op, outcome).Inc()
	return err
}

func (s *TimerService) publish(ctx context.Context, userID uuid.UUID, changes []models.Change) {
	if s.feed == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, change := range changes {
		change.Table = models.TableTimerSessions
		change.CommitTime = s.now().UTC()
		if err := s.feed.Publish(ctx, userID, change); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID.String()).Str("event", change.EventType).Msg("failed to publish session change")
		}
	}
}

func (s *TimerService) cancelAutosave(userID, sessionID uuid.UUID) {
	if s.drafts != nil {
		s.drafts.Cancel(userID, sessionID)
	}
}

func openSegment(ctx context.Context, tx repository.Tx, sessionID uuid.UUID) (*models.TimerSegment, error) {
	seg, err := tx.OpenSegment(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return seg, err
}

func draftOf(ctx context.Context, tx repository.Tx, session *models.TimerSession) (*models.TimeEntry, error) {
	if session.DraftEntryID == nil {
		return nil, nil
	}
	draft, err := tx.EntryByID(ctx, *session.DraftEntryID, session.UserProfileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return draft, err
}

func copySession(s *models.TimerSession) *models.TimerSession {
	c := *s
	return &c
}
