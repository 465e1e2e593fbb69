package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"timetracker-backend/internal/models"
)

// ErrSlowSubscriber ends a subscription whose reader fell too far behind.
var ErrSlowSubscriber = errors.New("subscriber fell behind the change feed")

// Feed carries committed timer_sessions changes, partitioned by user.
type Feed interface {
	Publish(ctx context.Context, userID uuid.UUID, change models.Change) error
	// Subscribe delivers the user's changes in publish order until ctx is
	// cancelled or the subscription fails. Publishes from concurrent requests
	// may land out of commit order; consumers order them by session version.
	Subscribe(ctx context.Context, userID uuid.UUID) (*Subscription, error)
}

// Subscription is one consumer's view of a user's changes. Changes is
// closed when the subscription ends; Err then reports why, or nil after a
// plain cancellation.
type Subscription struct {
	changes chan models.Change

	mu  sync.Mutex
	err error
}

func newSubscription(buffer int) *Subscription {
	return &Subscription{changes: make(chan models.Change, buffer)}
}

func (s *Subscription) Changes() <-chan models.Change {
	return s.changes
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.changes)
}
