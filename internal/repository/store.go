package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"timetracker-backend/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a concurrent writer got there first: a stale session
	// version, a second live session for the user, or a second open segment.
	ErrConflict = errors.New("conflict")
)

// Store is the durable store. Every multi-row timer transition runs inside
// InTx so it either lands completely or not at all.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	FindOrCreateProfile(ctx context.Context, ident models.HostIdentity) (*models.UserProfile, error)
	ProfileByHostUserID(ctx context.Context, hostUserID string) (*models.UserProfile, error)

	ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*models.TimeEntry, error)
	DeleteOrphanDrafts(ctx context.Context, olderThan time.Time) (int64, error)

	Ping(ctx context.Context) error
}

// Tx exposes row operations bound to one transaction. Session reads lock the
// row where the backend supports it.
type Tx interface {
	SessionByUser(ctx context.Context, userID uuid.UUID) (*models.TimerSession, error)
	SessionByID(ctx context.Context, sessionID, userID uuid.UUID) (*models.TimerSession, error)
	InsertSession(ctx context.Context, s *models.TimerSession) error
	// UpdateSession writes s if its Version still matches the stored row and
	// bumps s.Version. A mismatch returns ErrConflict.
	UpdateSession(ctx context.Context, s *models.TimerSession) error
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error

	OpenSegment(ctx context.Context, sessionID uuid.UUID) (*models.TimerSegment, error)
	InsertSegment(ctx context.Context, seg *models.TimerSegment) error
	CloseSegment(ctx context.Context, seg *models.TimerSegment, end time.Time) error
	ListSegments(ctx context.Context, sessionID uuid.UUID) ([]*models.TimerSegment, error)

	InsertEntry(ctx context.Context, e *models.TimeEntry) error
	EntryByID(ctx context.Context, entryID, userID uuid.UUID) (*models.TimeEntry, error)
	UpdateEntryComment(ctx context.Context, entryID uuid.UUID, comment string) error
	FinalizeEntry(ctx context.Context, e *models.TimeEntry) error
	DeleteDraft(ctx context.Context, entryID, userID uuid.UUID) error
}

// SegmentDuration is the whole-second length of a closed segment.
func SegmentDuration(start, end time.Time) int64 {
	d := int64(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
