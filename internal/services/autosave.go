package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"timetracker-backend/internal/metrics"
	"timetracker-backend/internal/models"
	"timetracker-backend/internal/repository"
)

type AutosaveOptions struct {
	Delay   time.Duration
	Settle  time.Duration
	Timeout time.Duration
}

type pendingSave struct {
	timer   *time.Timer
	comment string
	gen     uint64
}

// draftKey scopes autosave state to the session's owner, so one user's
// edits or status checks never touch another user's session.
type draftKey struct {
	user    uuid.UUID
	session uuid.UUID
}

// AutosaveController debounces draft comment writes per session. Each new
// edit re-arms the session's timer, so a burst of keystrokes lands as one
// write carrying the latest text.
type AutosaveController struct {
	store repository.Store
	feed  ChangePublisher
	opts  AutosaveOptions
	log   zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	pending map[draftKey]*pendingSave
	saving  map[draftKey]uint64
	stopped bool
	wg      sync.WaitGroup
}

func NewAutosaveController(store repository.Store, feed ChangePublisher, opts AutosaveOptions, log zerolog.Logger) *AutosaveController {
	if opts.Delay <= 0 {
		opts.Delay = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &AutosaveController{
		store:   store,
		feed:    feed,
		opts:    opts,
		log:     log.With().Str("component", "autosave").Logger(),
		pending: make(map[draftKey]*pendingSave),
		saving:  make(map[draftKey]uint64),
	}
}

// Schedule records the user's latest comment for a session and (re)arms its
// timer.
func (c *AutosaveController) Schedule(userID, sessionID uuid.UUID, comment string) error {
	if userID == uuid.Nil {
		return &UnauthorizedError{Message: "Unauthorized"}
	}
	if sessionID == uuid.Nil {
		return &ValidationError{Fields: map[string]string{"sessionId": "required"}}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return &TransientError{Err: errors.New("autosave is shutting down")}
	}

	c.gen++
	gen := c.gen
	key := draftKey{user: userID, session: sessionID}
	if p, ok := c.pending[key]; ok {
		p.timer.Stop()
	}
	c.pending[key] = &pendingSave{
		comment: comment,
		gen:     gen,
		timer:   time.AfterFunc(c.opts.Delay, func() { c.fire(key, gen) }),
	}
	c.saving[key] = gen
	return nil
}

// Cancel drops the user's pending write for a session, if any.
func (c *AutosaveController) Cancel(userID, sessionID uuid.UUID) {
	key := draftKey{user: userID, session: sessionID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[key]; ok {
		p.timer.Stop()
		delete(c.pending, key)
	}
	delete(c.saving, key)
}

// IsSaving reports whether the user's write for the session is pending, in
// flight, or inside its settle window. It is false for anyone but the user
// who scheduled the write.
func (c *AutosaveController) IsSaving(userID, sessionID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.saving[draftKey{user: userID, session: sessionID}]
	return ok
}

// Stop flushes pending writes and waits for in-flight ones.
func (c *AutosaveController) Stop() {
	c.mu.Lock()
	c.stopped = true
	// Entries still in pending have not been claimed by fire yet.
	flush := c.pending
	for _, p := range flush {
		p.timer.Stop()
	}
	c.pending = make(map[draftKey]*pendingSave)
	c.mu.Unlock()

	for key, p := range flush {
		c.write(key.user, key.session, p.comment)
	}
	c.wg.Wait()
}

func (c *AutosaveController) fire(key draftKey, gen uint64) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || p.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	c.write(key.user, key.session, p.comment)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Settle <= 0 || c.stopped {
		c.clearSaving(key, gen)
		return
	}
	time.AfterFunc(c.opts.Settle, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.clearSaving(key, gen)
	})
}

// clearSaving must be called with mu held. A newer edit keeps the flag up.
func (c *AutosaveController) clearSaving(key draftKey, gen uint64) {
	if c.saving[key] == gen {
		delete(c.saving, key)
	}
}

// write stores the comment on the session's draft, creating the draft when
// the session has none and the text is not blank.
func (c *AutosaveController) write(userID, sessionID uuid.UUID, comment string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	var change *models.Change
	op := func() error {
		change = nil
		err := c.store.InTx(ctx, func(tx repository.Tx) error {
			session, err := tx.SessionByID(ctx, sessionID, userID)
			if err != nil {
				return err
			}
			if session.DraftEntryID != nil {
				err := tx.UpdateEntryComment(ctx, *session.DraftEntryID, comment)
				if !errors.Is(err, repository.ErrNotFound) {
					return err
				}
			}
			if strings.TrimSpace(comment) == "" {
				return nil
			}

			old := copySession(session)
			draft := &models.TimeEntry{UserProfileID: userID, Comment: comment, StartTime: session.StartTime, IsDraft: true}
			if err := tx.InsertEntry(ctx, draft); err != nil {
				return err
			}
			session.DraftEntryID = &draft.ID
			if err := tx.UpdateSession(ctx, session); err != nil {
				return err
			}
			change = &models.Change{EventType: models.ChangeUpdate, New: copySession(session), Old: old}
			return nil
		})
		if err == nil || errors.Is(err, repository.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(20*time.Millisecond), 2), ctx)
	err := backoff.Retry(op, policy)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		metrics.AutosaveWrites.WithLabelValues("skipped").Inc()
		c.log.Debug().Str("session_id", sessionID.String()).Msg("session gone before autosave fired")
		return
	case err != nil:
		metrics.AutosaveWrites.WithLabelValues("error").Inc()
		c.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to autosave draft comment")
		return
	}
	metrics.AutosaveWrites.WithLabelValues("ok").Inc()

	if change != nil && c.feed != nil {
		change.Table = models.TableTimerSessions
		change.CommitTime = time.Now().UTC()
		if err := c.feed.Publish(ctx, userID, *change); err != nil {
			c.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to publish draft link")
		}
	}
}
