package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetracker-backend/internal/models"
	"timetracker-backend/internal/repository"
)

type countingStore struct {
	repository.Store
	mu    sync.Mutex
	calls int
}

func (s *countingStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Store.InTx(ctx, fn)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func readComment(t *testing.T, store repository.Store, userID, entryID uuid.UUID) string {
	t.Helper()
	var comment string
	require.NoError(t, store.InTx(context.Background(), func(tx repository.Tx) error {
		e, err := tx.EntryByID(context.Background(), entryID, userID)
		if err != nil {
			return err
		}
		comment = e.Comment
		return nil
	}))
	return comment
}

func readSession(t *testing.T, store repository.Store, userID uuid.UUID) *models.TimerSession {
	t.Helper()
	var session *models.TimerSession
	require.NoError(t, store.InTx(context.Background(), func(tx repository.Tx) error {
		var err error
		session, err = tx.SessionByUser(context.Background(), userID)
		return err
	}))
	return session
}

func TestAutosave_CoalescesRapidEdits(t *testing.T) {
	f := newTimerFixture(t)
	started, err := f.svc.Start(context.Background(), f.user)
	require.NoError(t, err)

	counting := &countingStore{Store: f.store}
	ctrl := NewAutosaveController(counting, nil, AutosaveOptions{Delay: 50 * time.Millisecond, Settle: 30 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(ctrl.Stop)

	for _, text := range []string{"m", "me", "mee", "meeting", "meeting notes"} {
		require.NoError(t, ctrl.Schedule(f.user, started.Session.ID, text))
	}
	assert.True(t, ctrl.IsSaving(f.user, started.Session.ID))

	require.Eventually(t, func() bool { return !ctrl.IsSaving(f.user, started.Session.ID) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, counting.count(), "one write for the whole burst")
	assert.Equal(t, "meeting notes", readComment(t, f.store, f.user, started.Draft.ID))
}

func TestAutosave_BlankCommentDoesNotCreateDraft(t *testing.T) {
	f := newTimerFixture(t)
	ctx := context.Background()

	session := &models.TimerSession{UserProfileID: f.user, StartTime: f.clock.Now(), IsRunning: true}
	require.NoError(t, f.store.InTx(ctx, func(tx repository.Tx) error { return tx.InsertSession(ctx, session) }))

	feed := &recordingFeed{}
	ctrl := NewAutosaveController(f.store, feed, AutosaveOptions{Delay: 10 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(ctrl.Stop)

	require.NoError(t, ctrl.Schedule(f.user, session.ID, "   "))
	require.Eventually(t, func() bool { return !ctrl.IsSaving(f.user, session.ID) }, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, readSession(t, f.store, f.user).DraftEntryID)
	assert.Empty(t, feed.events())

	require.NoError(t, ctrl.Schedule(f.user, session.ID, "first words"))
	require.Eventually(t, func() bool { return !ctrl.IsSaving(f.user, session.ID) }, 2*time.Second, 5*time.Millisecond)

	linked := readSession(t, f.store, f.user)
	require.NotNil(t, linked.DraftEntryID)
	assert.Equal(t, "first words", readComment(t, f.store, f.user, *linked.DraftEntryID))
	assert.Equal(t, []string{models.ChangeUpdate}, feed.events())
}

func TestAutosave_CancelDropsPendingWrite(t *testing.T) {
	f := newTimerFixture(t)
	started, err := f.svc.Start(context.Background(), f.user)
	require.NoError(t, err)

	counting := &countingStore{Store: f.store}
	ctrl := NewAutosaveController(counting, nil, AutosaveOptions{Delay: 20 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(ctrl.Stop)

	require.NoError(t, ctrl.Schedule(f.user, started.Session.ID, "discard me"))
	ctrl.Cancel(f.user, started.Session.ID)
	assert.False(t, ctrl.IsSaving(f.user, started.Session.ID))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, counting.count())
	assert.Empty(t, readComment(t, f.store, f.user, started.Draft.ID))
}

func TestAutosave_StateIsScopedToOwner(t *testing.T) {
	f := newTimerFixture(t)
	started, err := f.svc.Start(context.Background(), f.user)
	require.NoError(t, err)

	ctrl := NewAutosaveController(f.store, nil, AutosaveOptions{Delay: 30 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(ctrl.Stop)

	stranger := uuid.New()
	require.NoError(t, ctrl.Schedule(f.user, started.Session.ID, "owner text"))
	assert.True(t, ctrl.IsSaving(f.user, started.Session.ID))
	assert.False(t, ctrl.IsSaving(stranger, started.Session.ID), "another user cannot see the flag")

	// A stranger's edit for the same session id neither replaces the owner's
	// pending write nor reaches the owner's draft.
	require.NoError(t, ctrl.Schedule(stranger, started.Session.ID, "stranger text"))
	ctrl.Cancel(stranger, started.Session.ID)
	assert.True(t, ctrl.IsSaving(f.user, started.Session.ID))

	require.Eventually(t, func() bool { return !ctrl.IsSaving(f.user, started.Session.ID) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "owner text", readComment(t, f.store, f.user, started.Draft.ID))
}

func TestAutosave_StopFlushesPendingWrites(t *testing.T) {
	f := newTimerFixture(t)
	started, err := f.svc.Start(context.Background(), f.user)
	require.NoError(t, err)

	ctrl := NewAutosaveController(f.store, nil, AutosaveOptions{Delay: time.Hour}, zerolog.Nop())
	require.NoError(t, ctrl.Schedule(f.user, started.Session.ID, "before shutdown"))
	ctrl.Stop()

	assert.Equal(t, "before shutdown", readComment(t, f.store, f.user, started.Draft.ID))

	err = ctrl.Schedule(f.user, started.Session.ID, "too late")
	var transient *TransientError
	assert.ErrorAs(t, err, &transient)
}

func TestAutosave_MissingSessionIsSkipped(t *testing.T) {
	f := newTimerFixture(t)
	ctrl := NewAutosaveController(f.store, nil, AutosaveOptions{Delay: 10 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(ctrl.Stop)

	ghost := uuid.New()
	require.NoError(t, ctrl.Schedule(f.user, ghost, "orphan text"))
	require.Eventually(t, func() bool { return !ctrl.IsSaving(f.user, ghost) }, 2*time.Second, 5*time.Millisecond)

	n, err := f.store.DeleteOrphanDrafts(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "no draft was created for a missing session")
}

func TestAutosave_Validation(t *testing.T) {
	ctrl := NewAutosaveController(nil, nil, AutosaveOptions{}, zerolog.Nop())

	var unauth *UnauthorizedError
	assert.ErrorAs(t, ctrl.Schedule(uuid.Nil, uuid.New(), "x"), &unauth)

	var validation *ValidationError
	assert.ErrorAs(t, ctrl.Schedule(uuid.New(), uuid.Nil, "x"), &validation)
}
