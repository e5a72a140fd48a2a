/*
Package expiry sweeps the ledger for past-due credit remainders and
extinguishes them.

PURPOSE:
  A sweep walks every user, takes the same per-user lock as redemption,
  and appends one Expiration entry per past-due credit with an
  unconsumed remainder. Historical entries are never touched; the sweep
  only adds markers.

STATE MACHINE:
  Idle -> Scanning on trigger, Scanning -> Idle on completion. A trigger
  while a sweep is running fails fast with ErrSweepInProgress rather
  than stacking sweeps.

IDEMPOTENCY:
  Each user's check is independent and re-runnable. A second sweep
  appends nothing, because the first sweep's Expiration entries zero
  the remainders during replay.

FAILURE POLICY:
  A single user's failure (lock timeout, store error) is logged and
  counted; the sweep moves on to the next user. Notification failures
  never roll back the expiration entry. The full sweep is cancellable
  between users via context.
*/
package expiry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/loyalty-engine/ledger"
)

// Scanner states.
const (
	StateIdle int32 = iota
	StateScanning
)

// ErrSweepInProgress is returned when a sweep is triggered while one is
// already running.
var ErrSweepInProgress = errors.New("expiration sweep already in progress")

// Notifier is told about freshly expired points. Fire-and-forget: a
// notification failure does not undo the expiration.
type Notifier interface {
	PointsExpired(ctx context.Context, userID ledger.UserID, expired ledger.Amount, credits int)
}

// LogNotifier is the default Notifier; it only logs.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) PointsExpired(_ context.Context, userID ledger.UserID, expired ledger.Amount, credits int) {
	n.Log.Info().
		Str("user_id", string(userID)).
		Str("points", expired.String()).
		Int("credits", credits).
		Msg("points expired")
}

// SweepResult summarizes one full pass over all users.
type SweepResult struct {
	UsersScanned  int
	UsersExpired  int
	PointsExpired ledger.Amount
	Failures      int
}

// Scanner appends Expiration entries for past-due credit remainders.
type Scanner struct {
	ledger   *ledger.Ledger
	store    ledger.Store
	locks    *ledger.Locks
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time

	state atomic.Int32
}

func NewScanner(l *ledger.Ledger, locks *ledger.Locks, notifier Notifier, log zerolog.Logger) *Scanner {
	return &Scanner{
		ledger:   l,
		store:    l.Store(),
		locks:    locks,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the scanner clock. Tests only.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// State returns StateIdle or StateScanning.
func (s *Scanner) State() int32 { return s.state.Load() }

// Sweep runs one full pass over all users. Stoppable between users via
// ctx; stopping mid-sweep leaves already-processed users fully expired
// and the rest untouched, which the next sweep picks up.
func (s *Scanner) Sweep(ctx context.Context) (SweepResult, error) {
	if !s.state.CompareAndSwap(StateIdle, StateScanning) {
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.state.Store(StateIdle)

	result := SweepResult{PointsExpired: ledger.Zero()}

	users, err := s.store.Users(ctx)
	if err != nil {
		return result, err
	}

	started := s.now()
	s.log.Info().Int("users", len(users)).Msg("expiration sweep started")

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			s.log.Warn().Int("scanned", result.UsersScanned).Msg("expiration sweep cancelled")
			return result, err
		}

		result.UsersScanned++
		expired, credits, err := s.sweepUser(ctx, userID)
		if err != nil {
			result.Failures++
			s.log.Error().Err(err).Str("user_id", string(userID)).Msg("user sweep failed")
			continue
		}
		if credits > 0 {
			result.UsersExpired++
			result.PointsExpired = result.PointsExpired.Add(expired)
			s.notifier.PointsExpired(ctx, userID, expired, credits)
		}
	}

	s.log.Info().
		Int("users", result.UsersScanned).
		Int("expired_users", result.UsersExpired).
		Int("failures", result.Failures).
		Str("points", result.PointsExpired.String()).
		Dur("took", s.now().Sub(started)).
		Msg("expiration sweep finished")
	return result, nil
}

// sweepUser expires all past-due remainders of a single user under the
// same lock redemption takes.
func (s *Scanner) sweepUser(ctx context.Context, userID ledger.UserID) (ledger.Amount, int, error) {
	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return ledger.Zero(), 0, err
	}
	defer release()

	entries, err := s.store.Entries(ctx, userID)
	if err != nil {
		return ledger.Zero(), 0, err
	}

	now := s.now()
	expired := ledger.Zero()
	credits := 0
	for _, lot := range ledger.DueForExpiry(entries, now) {
		_, err := s.ledger.Append(ctx, ledger.Entry{
			ID:             ledger.NewEntryID(),
			UserID:         userID,
			Kind:           ledger.KindExpiration,
			Amount:         lot.Remaining.Neg(),
			RelatedEntryID: lot.Entry.ID,
			CreatedAt:      now,
		})
		if err != nil {
			return expired, credits, err
		}
		expired = expired.Add(lot.Remaining)
		credits++
	}
	return expired, credits, nil
}
