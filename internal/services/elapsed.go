package services

import (
	"time"

	"timetracker-backend/internal/models"
)

// Elapsed derives a session's total running time at now: the persisted
// baseline plus the live delta of an open running segment. Paused sessions
// and open pause segments contribute nothing beyond the baseline.
func Elapsed(session *models.TimerSession, open *models.TimerSegment, now time.Time) time.Duration {
	if session == nil {
		return 0
	}
	total := time.Duration(session.ElapsedSeconds) * time.Second
	if session.IsRunning && !session.IsPaused && open != nil && open.Open() && open.Kind == models.SegmentRunning {
		if delta := now.Sub(open.StartTime); delta > 0 {
			total += delta
		}
	}
	return total
}

// ElapsedSeconds is Elapsed truncated to whole seconds, the unit the API
// and the store speak.
func ElapsedSeconds(session *models.TimerSession, open *models.TimerSegment, now time.Time) int64 {
	return int64(Elapsed(session, open, now) / time.Second)
}

// LedgerElapsed is Elapsed computed from the session's segments at full
// precision. Whatever separates the baseline from the truncated closed
// running time is a client checkpoint adjustment and is carried over, while
// sub-second remainders of earlier segments keep adding up.
func LedgerElapsed(session *models.TimerSession, segs []*models.TimerSegment, now time.Time) time.Duration {
	if session == nil {
		return 0
	}
	var closed, live time.Duration
	for _, seg := range segs {
		if seg.Kind != models.SegmentRunning {
			continue
		}
		switch {
		case !seg.Open():
			closed += seg.EndTime.Sub(seg.StartTime)
		case session.IsRunning && !session.IsPaused:
			if delta := now.Sub(seg.StartTime); delta > 0 {
				live += delta
			}
		}
	}
	adjust := time.Duration(session.ElapsedSeconds)*time.Second - closed.Truncate(time.Second)
	return closed + live + adjust
}
