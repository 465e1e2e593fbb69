package models

import (
	"time"

	"github.com/google/uuid"
)

// Segment kinds.
const (
	SegmentRunning = "running"
	SegmentPause   = "pause"
)

type TimeEntry struct {
	ID              uuid.UUID  `json:"id"`
	UserProfileID   uuid.UUID  `json:"user_id"`
	TaskName        string     `json:"task_name"`
	Comment         string     `json:"comment"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	DurationSeconds int64      `json:"duration"`
	IsDraft         bool       `json:"is_draft"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TimerSession is the live record of a running or paused task. ElapsedSeconds
// only counts closed running segments; the open segment is derived on read.
type TimerSession struct {
	ID             uuid.UUID  `json:"id"`
	UserProfileID  uuid.UUID  `json:"user_id"`
	DraftEntryID   *uuid.UUID `json:"draft_id"`
	StartTime      time.Time  `json:"start_time"`
	IsRunning      bool       `json:"is_running"`
	IsPaused       bool       `json:"is_paused"`
	ElapsedSeconds int64      `json:"elapsed_time"`
	Version        int64      `json:"version"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type TimerSegment struct {
	ID              uuid.UUID  `json:"id"`
	SessionID       uuid.UUID  `json:"session_id"`
	Kind            string     `json:"kind"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	DurationSeconds *int64     `json:"duration"`
}

// Open reports whether the segment has not been closed yet.
func (s *TimerSegment) Open() bool {
	return s.EndTime == nil
}

// SessionSnapshot is the authoritative view of a user's timer at one instant.
type SessionSnapshot struct {
	Session               *TimerSession `json:"session"`
	Draft                 *TimeEntry    `json:"draft"`
	OpenSegment           *TimerSegment `json:"open_segment,omitempty"`
	CalculatedElapsedTime int64         `json:"calculatedElapsedTime"`
}

type StartResult struct {
	Session     *TimerSession `json:"session"`
	Draft       *TimeEntry    `json:"draft"`
	ElapsedTime int64         `json:"elapsedTime"`
	Created     bool          `json:"created"`
	Resumed     bool          `json:"resumed"`
}

type PauseRequest struct {
	SessionID   uuid.UUID `json:"sessionId"`
	ElapsedTime *int64    `json:"elapsedTime"`
}

type PauseResult struct {
	Success     bool  `json:"success"`
	Paused      bool  `json:"paused"`
	ElapsedTime int64 `json:"elapsedTime"`
}

type ResetRequest struct {
	DraftID   *uuid.UUID `json:"draftId"`
	SessionID *uuid.UUID `json:"sessionId"`
}

type FinalizeRequest struct {
	DraftID       uuid.UUID `json:"draftId"`
	UserProfileID uuid.UUID `json:"userProfileId"`
	TaskName      string    `json:"taskName"`
	Comment       string    `json:"comment"`
}

// ManualEntryRequest records time worked without the live timer. Duration is
// in seconds and may be shorter than the span when breaks were taken.
type ManualEntryRequest struct {
	TaskName  string     `json:"task_name"`
	Comment   string     `json:"comment"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Duration  *int64     `json:"duration"`
}

type DraftCommentRequest struct {
	SessionID uuid.UUID `json:"sessionId"`
	Comment   string    `json:"comment"`
}
