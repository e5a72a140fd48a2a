/*
scheduler.go - Automated expiration sweep scheduler

PURPOSE:
  Periodically runs the expiration sweep so that credits past their
  expiry date are extinguished without waiting for a transaction to
  touch the account. Uses gocron for the recurring schedule.

DESIGN:
  - Sweep itself guards against overlap (ErrSweepInProgress), so a
    slow sweep never stacks; the scheduler just logs and moves on.
  - Interval is configurable (default: 24h).

USAGE:
  scheduler := NewSweepScheduler(scanner, 24*time.Hour, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - expiry/scanner.go: the sweep itself
  - handlers.go: TriggerSweep endpoint (manual sweep)
*/
package api

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/meridian/loyalty-engine/expiry"
)

// SweepScheduler runs the expiration sweep on a fixed interval.
type SweepScheduler struct {
	scanner   *expiry.Scanner
	interval  time.Duration
	scheduler *gocron.Scheduler
	log       zerolog.Logger
}

// NewSweepScheduler creates a scheduler; call Start to begin sweeping.
func NewSweepScheduler(scanner *expiry.Scanner, interval time.Duration, log zerolog.Logger) *SweepScheduler {
	return &SweepScheduler{
		scanner:   scanner,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.UTC),
		log:       log,
	}
}

// Start begins the recurring sweep. The first run fires after one
// full interval; trigger /api/admin/sweep for an immediate pass.
func (s *SweepScheduler) Start() {
	s.scheduler.Every(s.interval).Do(s.runOnce)
	s.scheduler.StartAsync()
	s.log.Info().Dur("interval", s.interval).Msg("sweep scheduler started")
}

// Stop halts the schedule. A sweep already in flight finishes.
func (s *SweepScheduler) Stop() {
	s.scheduler.Stop()
	s.log.Info().Msg("sweep scheduler stopped")
}

func (s *SweepScheduler) runOnce() {
	result, err := s.scanner.Sweep(context.Background())
	if err != nil {
		if errors.Is(err, expiry.ErrSweepInProgress) {
			s.log.Warn().Msg("sweep already running, skipping scheduled pass")
			return
		}
		s.log.Error().Err(err).Msg("scheduled sweep failed")
		return
	}
	s.log.Info().
		Int("users_scanned", result.UsersScanned).
		Int("users_expired", result.UsersExpired).
		Str("points_expired", result.PointsExpired.String()).
		Int("failures", result.Failures).
		Msg("scheduled sweep completed")
}
