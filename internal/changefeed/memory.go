package changefeed

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"timetracker-backend/internal/models"
)

const defaultBuffer = 64

// MemoryFeed is an in-process feed for single-instance deployments and
// tests. Publish never blocks; a subscriber whose buffer is full is dropped.
type MemoryFeed struct {
	buffer int

	mu   sync.Mutex
	subs map[uuid.UUID]map[*Subscription]struct{}
}

func NewMemoryFeed(buffer int) *MemoryFeed {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemoryFeed{
		buffer: buffer,
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

func (f *MemoryFeed) Publish(_ context.Context, userID uuid.UUID, change models.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs[userID] {
		select {
		case sub.changes <- change:
		default:
			f.removeLocked(userID, sub)
			sub.finish(ErrSlowSubscriber)
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(f.buffer)
	f.mu.Lock()
	if f.subs[userID] == nil {
		f.subs[userID] = make(map[*Subscription]struct{})
	}
	f.subs[userID][sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.removeLocked(userID, sub) {
			sub.finish(nil)
		}
	}()
	return sub, nil
}

// Subscribers reports how many live subscriptions a user has.
func (f *MemoryFeed) Subscribers(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[userID])
}

// removeLocked must be called with mu held. It reports whether sub was
// still registered.
func (f *MemoryFeed) removeLocked(userID uuid.UUID, sub *Subscription) bool {
	set, ok := f.subs[userID]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(f.subs, userID)
	}
	return true
}
