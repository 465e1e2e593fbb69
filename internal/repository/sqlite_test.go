package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetracker-backend/internal/database"
	"timetracker-backend/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunSQLiteMigrations(db))
	return NewSQLiteStore(db)
}

func newProfile(t *testing.T, s Store, hostID string) *models.UserProfile {
	t.Helper()
	p, err := s.FindOrCreateProfile(context.Background(), models.HostIdentity{UserID: hostID, AccountID: "acc-1"})
	require.NoError(t, err)
	return p
}

func TestFindOrCreateProfile_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	email := "ada@example.com"
	first, err := s.FindOrCreateProfile(ctx, models.HostIdentity{UserID: "42", AccountID: "7", Email: &email})
	require.NoError(t, err)

	second, err := s.FindOrCreateProfile(ctx, models.HostIdentity{UserID: "42", AccountID: "7"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.Email)
	assert.Equal(t, email, *second.Email, "missing email must not erase the stored one")

	_, err = s.ProfileByHostUserID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionPerUserIsUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProfile(t, s, "u1")
	now := time.Now().UTC()

	insert := func() error {
		return s.InTx(ctx, func(tx Tx) error {
			return tx.InsertSession(ctx, &models.TimerSession{UserProfileID: p.ID, StartTime: now, IsRunning: true})
		})
	}

	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), ErrConflict)
}

func TestOneOpenSegmentPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProfile(t, s, "u1")
	now := time.Now().UTC()

	var session models.TimerSession
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		session = models.TimerSession{UserProfileID: p.ID, StartTime: now, IsRunning: true}
		if err := tx.InsertSession(ctx, &session); err != nil {
			return err
		}
		return tx.InsertSegment(ctx, &models.TimerSegment{SessionID: session.ID, Kind: models.SegmentRunning, StartTime: now})
	}))

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.InsertSegment(ctx, &models.TimerSegment{SessionID: session.ID, Kind: models.SegmentPause, StartTime: now})
	})
	assert.ErrorIs(t, err, ErrConflict)

	// Closing the open segment first makes room for the next one.
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		open, err := tx.OpenSegment(ctx, session.ID)
		if err != nil {
			return err
		}
		if err := tx.CloseSegment(ctx, open, now.Add(5*time.Second)); err != nil {
			return err
		}
		assert.Equal(t, int64(5), *open.DurationSeconds)
		return tx.InsertSegment(ctx, &models.TimerSegment{SessionID: session.ID, Kind: models.SegmentPause, StartTime: now.Add(5 * time.Second)})
	}))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		segs, err := tx.ListSegments(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, segs, 2)
		assert.False(t, segs[0].Open())
		assert.True(t, segs[1].Open())
		assert.Equal(t, models.SegmentPause, segs[1].Kind)
		return nil
	}))
}

func TestCloseSegmentTwiceConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProfile(t, s, "u1")
	now := time.Now().UTC()

	err := s.InTx(ctx, func(tx Tx) error {
		session := &models.TimerSession{UserProfileID: p.ID, StartTime: now, IsRunning: true}
		require.NoError(t, tx.InsertSession(ctx, session))
		seg := &models.TimerSegment{SessionID: session.ID, Kind: models.SegmentRunning, StartTime: now}
		require.NoError(t, tx.InsertSegment(ctx, seg))

		stale := *seg
		require.NoError(t, tx.CloseSegment(ctx, seg, now.Add(time.Second)))
		return tx.CloseSegment(ctx, &stale, now.Add(2*time.Second))
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdateSession_VersionCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProfile(t, s, "u1")

	session := &models.TimerSession{UserProfileID: p.ID, StartTime: time.Now().UTC(), IsRunning: true}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.InsertSession(ctx, session) }))
	assert.Equal(t, int64(1), session.Version)

	stale := *session

	session.IsRunning, session.IsPaused, session.ElapsedSeconds = false, true, 12
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.UpdateSession(ctx, session) }))
	assert.Equal(t, int64(2), session.Version)

	err := s.InTx(ctx, func(tx Tx) error { return tx.UpdateSession(ctx, &stale) })
	assert.True(t, errors.Is(err, ErrConflict))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.SessionByID(ctx, session.ID, p.ID)
		require.NoError(t, err)
		assert.True(t, got.IsPaused)
		assert.False(t, got.IsRunning)
		assert.Equal(t, int64(12), got.ElapsedSeconds)
		return nil
	}))
}

func TestSessionByID_ScopedToOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := newProfile(t, s, "owner")
	other := newProfile(t, s, "other")

	session := &models.TimerSession{UserProfileID: owner.ID, StartTime: time.Now().UTC(), IsRunning: true}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.InsertSession(ctx, session) }))

	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.SessionByID(ctx, session.ID, other.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSessionRemovesSegments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProfile(t, s, "u1")
	now := time.Now().UTC()

	session := &models.TimerSession{UserProfileID: p.ID, StartTime: now, IsRunning: true}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertSession(ctx, session))
		return tx.InsertSegment(ctx, &models.TimerSegment{SessionID: session.ID, Kind: models.SegmentRunning, StartTime: now})
	}))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.DeleteSession(ctx, session.ID) }))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		segs, err := tx.ListSegments(ctx, session.ID)
		require.NoError(t, err)
		assert.Empty(t, segs)
		_, err = tx.SessionByUser(ctx, p.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestEntryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProfile(t, s, "u1")
	start := time.Now().UTC().Add(-time.Hour)

	draft := &models.TimeEntry{UserProfileID: p.ID, StartTime: start, IsDraft: true}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.InsertEntry(ctx, draft) }))
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.UpdateEntryComment(ctx, draft.ID, "notes") }))

	entries, err := s.ListEntries(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "drafts are not listed")

	end := start.Add(90 * time.Minute)
	draft.TaskName, draft.Comment, draft.EndTime, draft.DurationSeconds = "Review", "notes", &end, 5400
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.FinalizeEntry(ctx, draft) }))

	// A finalized entry is no longer a draft: comment edits and draft deletes miss it.
	err = s.InTx(ctx, func(tx Tx) error { return tx.UpdateEntryComment(ctx, draft.ID, "late") })
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.DeleteDraft(ctx, draft.ID, p.ID) }))

	entries, err = s.ListEntries(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, "Review", got.TaskName)
	assert.Equal(t, "notes", got.Comment)
	assert.Equal(t, int64(5400), got.DurationSeconds)
	assert.False(t, got.IsDraft)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
}

func TestDeleteOrphanDrafts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProfile(t, s, "u1")
	now := time.Now().UTC()

	orphan := &models.TimeEntry{UserProfileID: p.ID, StartTime: now, IsDraft: true}
	linked := &models.TimeEntry{UserProfileID: p.ID, StartTime: now, IsDraft: true}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertEntry(ctx, orphan))
		require.NoError(t, tx.InsertEntry(ctx, linked))
		return tx.InsertSession(ctx, &models.TimerSession{
			UserProfileID: p.ID, DraftEntryID: &linked.ID, StartTime: now, IsRunning: true,
		})
	}))

	n, err := s.DeleteOrphanDrafts(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "fresh drafts are kept")

	n, err = s.DeleteOrphanDrafts(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		_, err := tx.EntryByID(ctx, linked.ID, p.ID)
		assert.NoError(t, err)
		_, err = tx.EntryByID(ctx, orphan.ID, p.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestSegmentDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(5), SegmentDuration(start, start.Add(5900*time.Millisecond)))
	assert.Equal(t, int64(0), SegmentDuration(start, start.Add(-time.Second)))
}
