package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"timetracker-backend/internal/metrics"
)

// OrphanDraftStore is the slice of the store the sweeper needs.
type OrphanDraftStore interface {
	DeleteOrphanDrafts(ctx context.Context, olderThan time.Time) (int64, error)
}

// DraftSweeper removes draft entries that no session points at any more,
// such as drafts left behind by a crashed reset.
type DraftSweeper struct {
	store    OrphanDraftStore
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger
	now      func() time.Time
	stopChan chan struct{}
	done     chan struct{}
}

func NewDraftSweeper(store OrphanDraftStore, interval, maxAge time.Duration, log zerolog.Logger) *DraftSweeper {
	return &DraftSweeper{
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		log:      log.With().Str("component", "draft_sweeper").Logger(),
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *DraftSweeper) Start() {
	if s.store == nil || s.interval <= 0 {
		close(s.done)
		return
	}
	go s.loop()
	s.log.Info().Dur("interval", s.interval).Dur("max_age", s.maxAge).Msg("Draft sweeper started")
}

func (s *DraftSweeper) Stop() {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	<-s.done
}

func (s *DraftSweeper) loop() {
	defer close(s.done)

	// Run on startup as well as by interval.
	s.Sweep(context.Background())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one pass and returns how many drafts were removed.
func (s *DraftSweeper) Sweep(ctx context.Context) int64 {
	cutoff := s.now().UTC().Add(-s.maxAge)
	n, err := s.store.DeleteOrphanDrafts(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("draft sweep: failed to delete orphan drafts")
		return 0
	}
	if n > 0 {
		metrics.DraftsSwept.Add(float64(n))
		s.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("draft sweep: removed orphan drafts")
	}
	return n
}
