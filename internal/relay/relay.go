package relay

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"timetracker-backend/internal/changefeed"
	"timetracker-backend/internal/metrics"
	"timetracker-backend/internal/models"
)

const (
	MessageConnected = "connected"
	MessageChange    = "change"
	MessageError     = "error"
)

// Enricher computes the server-side elapsed time for a changed session row.
type Enricher interface {
	Enrich(ctx context.Context, session *models.TimerSession) (*models.SessionState, error)
}

// Relay turns a user's raw change feed into push messages. Each stream owns
// one feed subscription and handles its changes one at a time, so the
// follow-up segment read for one change can never overtake the next. A
// change older than one already sent for the same session is dropped.
type Relay struct {
	feed     changefeed.Feed
	enricher Enricher
	log      zerolog.Logger
}

func New(feed changefeed.Feed, enricher Enricher, log zerolog.Logger) *Relay {
	return &Relay{
		feed:     feed,
		enricher: enricher,
		log:      log.With().Str("component", "relay").Logger(),
	}
}

// Stream subscribes to the user's changes. The returned channel is closed
// when ctx is cancelled; a feed failure is reported as a final error
// message before the close.
func (r *Relay) Stream(ctx context.Context, userID uuid.UUID) (<-chan models.StreamMessage, error) {
	sub, err := r.feed.Subscribe(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamMessage)
	go func() {
		defer close(out)
		gate := newVersionGate()
		for change := range sub.Changes() {
			if change.Table != "" && change.Table != models.TableTimerSessions {
				continue
			}
			if !gate.admit(change) {
				r.log.Debug().Str("user_id", userID.String()).Str("event", change.EventType).
					Msg("dropped change superseded by a newer session version")
				continue
			}
			msg := r.translate(ctx, change)
			select {
			case out <- msg:
				metrics.RelayedChanges.WithLabelValues(change.EventType).Inc()
			case <-ctx.Done():
				return
			}
		}
		if err := sub.Err(); err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Str("user_id", userID.String()).Msg("change feed subscription ended")
			select {
			case out <- models.StreamMessage{Type: MessageError, Error: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (r *Relay) translate(ctx context.Context, change models.Change) models.StreamMessage {
	msg := models.StreamMessage{
		Type:      MessageChange,
		EventType: change.EventType,
		Table:     models.TableTimerSessions,
		Old:       change.Old,
	}
	if change.EventType == models.ChangeDelete || change.New == nil {
		return msg
	}

	state, err := r.enricher.Enrich(ctx, change.New)
	if err != nil {
		r.log.Warn().Err(err).Str("session_id", change.New.ID.String()).Msg("failed to enrich session change")
		state = &models.SessionState{TimerSession: *change.New, CalculatedElapsedTime: change.New.ElapsedSeconds}
	}
	msg.New = state
	return msg
}

// versionGate restores per-session order on one stream. Transitions from
// separate requests publish after their own commits, so a change can reach
// the feed after a newer one; the session version tells them apart. Nothing
// is forwarded for a session once its DELETE has been.
type versionGate struct {
	latest  map[uuid.UUID]int64
	deleted map[uuid.UUID]struct{}
}

func newVersionGate() *versionGate {
	return &versionGate{
		latest:  make(map[uuid.UUID]int64),
		deleted: make(map[uuid.UUID]struct{}),
	}
}

func (g *versionGate) admit(change models.Change) bool {
	if change.EventType == models.ChangeDelete {
		if change.Old != nil {
			g.deleted[change.Old.ID] = struct{}{}
			delete(g.latest, change.Old.ID)
		}
		return true
	}
	if change.New == nil {
		return true
	}

	id := change.New.ID
	if _, gone := g.deleted[id]; gone {
		return false
	}
	if last, ok := g.latest[id]; ok && change.New.Version <= last {
		return false
	}
	g.latest[id] = change.New.Version
	return true
}
