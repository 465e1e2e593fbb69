package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"timetracker-backend/internal/database"
	"timetracker-backend/internal/models"
	"timetracker-backend/internal/repository"
)

func newTestStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunSQLiteMigrations(db))
	return repository.NewSQLiteStore(db)
}

func newTestUser(t *testing.T, store repository.Store, hostID string) uuid.UUID {
	t.Helper()
	p, err := store.FindOrCreateProfile(context.Background(), models.HostIdentity{UserID: hostID, AccountID: "acc"})
	require.NoError(t, err)
	return p.ID
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingFeed struct {
	mu      sync.Mutex
	changes []models.Change
}

func (f *recordingFeed) Publish(_ context.Context, _ uuid.UUID, change models.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, change)
	return nil
}

func (f *recordingFeed) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.changes))
	for _, c := range f.changes {
		out = append(out, c.EventType)
	}
	return out
}

type stubPlaceholders struct{}

func (stubPlaceholders) UnsavedEntry(lang string) string {
	if lang == "de" {
		return "Ungespeicherter Zeiteintrag"
	}
	return "Unsaved time entry"
}

type recordingCanceller struct {
	mu        sync.Mutex
	cancelled []uuid.UUID
}

func (r *recordingCanceller) Cancel(_, sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, sessionID)
}

type timerFixture struct {
	store  *repository.SQLiteStore
	svc    *TimerService
	clock  *fakeClock
	feed   *recordingFeed
	drafts *recordingCanceller
	user   uuid.UUID
}

func newTimerFixture(t *testing.T) *timerFixture {
	t.Helper()
	store := newTestStore(t)
	clock := newFakeClock()
	feed := &recordingFeed{}
	drafts := &recordingCanceller{}
	svc := NewTimerService(store, feed, stubPlaceholders{}, drafts, TimerOptions{
		RequestTimeout: 2 * time.Second,
		DriftTolerance: 5 * time.Second,
	}, zerolog.Nop())
	svc.now = clock.Now
	return &timerFixture{
		store:  store,
		svc:    svc,
		clock:  clock,
		feed:   feed,
		drafts: drafts,
		user:   newTestUser(t, store, "host-1"),
	}
}

func (f *timerFixture) segments(t *testing.T, sessionID uuid.UUID) []*models.TimerSegment {
	t.Helper()
	var segs []*models.TimerSegment
	require.NoError(t, f.store.InTx(context.Background(), func(tx repository.Tx) error {
		var err error
		segs, err = tx.ListSegments(context.Background(), sessionID)
		return err
	}))
	return segs
}

func openCount(segs []*models.TimerSegment) int {
	n := 0
	for _, s := range segs {
		if s.Open() {
			n++
		}
	}
	return n
}

func int64Ptr(v int64) *int64 { return &v }
