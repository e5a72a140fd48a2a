/*
Package points exposes the public loyalty operations: accrue on purchase,
accrue referral reward, redeem, refund, and balance reads.

PURPOSE:
  The Engine is the only writer of ledger entries. Each operation takes
  the user's lock, validates against the replayed history, and appends
  exactly one entry - or appends nothing and returns a specific error.
  There are no partial writes.

IDEMPOTENCY:
  Purchase and referral-reward accrual are idempotent per order. A replay
  finds the earlier entry by (kind, relatedOrderId) and returns it; the
  caller cannot tell a replay from the original success, and the ledger
  gains no duplicate.

CONCURRENCY:
  The read-then-append sequence in Redeem is the lost-update hazard: two
  concurrent redemptions must not both observe a stale "sufficient"
  balance. Every mutating operation therefore holds the per-user lock
  (ledger.Locks) for its full duration. Lock waits are bounded; on
  timeout the caller gets a retryable ErrBusy with no side effect.

SEE ALSO:
  - ledger: validation, FIFO balance derivation, locks
  - referral: the reward gate consumed here
*/
package points

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/referral"
)

// ReferralGate reports the active referrer for a referee, if any.
// Implemented by referral.Directory.
type ReferralGate interface {
	ActiveReferrer(ctx context.Context, refereeID ledger.UserID) (ledger.UserID, bool, error)
}

// Config carries the engine's policy constants.
type Config struct {
	// ExpiryDays is the lifetime of accrued credits. Policy default: 365.
	ExpiryDays int

	// ReminderDays is the default expiry-warning horizon. Default: 30.
	ReminderDays int
}

// Engine validates and appends point-affecting entries.
type Engine struct {
	ledger    *ledger.Ledger
	store     ledger.Store
	locks     *ledger.Locks
	referrals ReferralGate
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

func NewEngine(l *ledger.Ledger, locks *ledger.Locks, referrals ReferralGate, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		ledger:    l,
		store:     l.Store(),
		locks:     locks,
		referrals: referrals,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the engine clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Locks exposes the per-user lock set so the expiration scanner can
// take the same lock as redemption.
func (e *Engine) Locks() *ledger.Locks { return e.locks }

// =============================================================================
// ACCRUAL
// =============================================================================

// AccrueOnPurchase credits points for a settled order, expiring after
// the configured lifetime. Idempotent per (userID, orderID): a replay
// returns the original entry without appending.
func (e *Engine) AccrueOnPurchase(ctx context.Context, userID ledger.UserID, orderID ledger.OrderID, amount ledger.Amount) (ledger.Entry, error) {
	if !amount.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: purchase amount %s", ledger.ErrInvalidAmount, amount)
	}

	release, err := e.locks.Acquire(ctx, userID)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer release()

	if prior, ok, err := e.findByOrder(ctx, userID, ledger.KindPurchase, orderID); err != nil {
		return ledger.Entry{}, err
	} else if ok {
		return prior, nil
	}

	now := e.now()
	entry, err := e.ledger.Append(ctx, ledger.Entry{
		ID:             ledger.NewEntryID(),
		UserID:         userID,
		Kind:           ledger.KindPurchase,
		Amount:         amount,
		RelatedOrderID: orderID,
		CreatedAt:      now,
		ExpiresAt:      now.AddDate(0, 0, e.cfg.ExpiryDays),
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	e.log.Info().
		Str("user_id", string(userID)).
		Str("order_id", string(orderID)).
		Str("points", amount.String()).
		Msg("purchase points accrued")
	return entry, nil
}

// AccrueReferralReward credits the referrer for a referee's order.
// Requires an active relationship whose referrer matches; idempotent per
// (refereeID, orderID). The reward amount is computed upstream from the
// order amount and commission rate; here it only has to be positive.
func (e *Engine) AccrueReferralReward(ctx context.Context, referrerID, refereeID ledger.UserID, orderID ledger.OrderID, reward ledger.Amount) (ledger.Entry, error) {
	if !reward.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: reward amount %s", ledger.ErrInvalidAmount, reward)
	}

	gateReferrer, active, err := e.referrals.ActiveReferrer(ctx, refereeID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if !active || gateReferrer != referrerID {
		return ledger.Entry{}, fmt.Errorf("%w: referee %s, referrer %s", referral.ErrNoActiveReferral, refereeID, referrerID)
	}

	release, err := e.locks.Acquire(ctx, referrerID)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer release()

	history, err := e.store.Entries(ctx, referrerID)
	if err != nil {
		return ledger.Entry{}, err
	}
	for _, prior := range history {
		if prior.Kind == ledger.KindReferralReward &&
			prior.RelatedOrderID == orderID &&
			prior.CounterpartyUserID == refereeID {
			return prior, nil
		}
	}

	now := e.now()
	entry, err := e.ledger.Append(ctx, ledger.Entry{
		ID:                 ledger.NewEntryID(),
		UserID:             referrerID,
		Kind:               ledger.KindReferralReward,
		Amount:             reward,
		RelatedOrderID:     orderID,
		CounterpartyUserID: refereeID,
		CreatedAt:          now,
		ExpiresAt:          now.AddDate(0, 0, e.cfg.ExpiryDays),
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	e.log.Info().
		Str("referrer_id", string(referrerID)).
		Str("referee_id", string(refereeID)).
		Str("order_id", string(orderID)).
		Str("points", reward.String()).
		Msg("referral reward accrued")
	return entry, nil
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Redeem spends points on an item. The balance read and the debit append
// are atomic per user: the lock is held across both.
func (e *Engine) Redeem(ctx context.Context, userID ledger.UserID, itemID string, pointsRequired ledger.Amount) (ledger.Entry, error) {
	if !pointsRequired.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: redemption of %s", ledger.ErrInvalidAmount, pointsRequired)
	}

	release, err := e.locks.Acquire(ctx, userID)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer release()

	entry, err := e.ledger.Append(ctx, ledger.Entry{
		ID:             ledger.NewEntryID(),
		UserID:         userID,
		Kind:           ledger.KindRedemption,
		Amount:         pointsRequired.Neg(),
		RelatedOrderID: ledger.OrderID("exchange:" + itemID),
		CreatedAt:      e.now(),
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	e.log.Info().
		Str("user_id", string(userID)).
		Str("item_id", itemID).
		Str("points", pointsRequired.String()).
		Msg("points redeemed")
	return entry, nil
}

// =============================================================================
// REFUND
// =============================================================================

// Refund reverses a prior purchase credit on order cancellation. The
// refunded amount is the smaller of the credit's unrefunded original
// amount and its still-unconsumed remainder, so a refund can never push
// the balance negative.
func (e *Engine) Refund(ctx context.Context, userID ledger.UserID, orderID ledger.OrderID) (ledger.Entry, error) {
	release, err := e.locks.Acquire(ctx, userID)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer release()

	history, err := e.store.Entries(ctx, userID)
	if err != nil {
		return ledger.Entry{}, err
	}

	var purchase *ledger.Entry
	refunded := ledger.Zero()
	for i, prior := range history {
		switch {
		case prior.Kind == ledger.KindPurchase && prior.RelatedOrderID == orderID:
			purchase = &history[i]
		case prior.Kind == ledger.KindRefund && prior.RelatedOrderID == orderID:
			refunded = refunded.Add(prior.Amount.Abs())
		}
	}
	if purchase == nil {
		return ledger.Entry{}, fmt.Errorf("%w: no purchase for order %s", ledger.ErrNothingToRefund, orderID)
	}

	now := e.now()
	unrefunded := purchase.Amount.Sub(refunded)

	// The credit's unconsumed remainder caps the reversal: points already
	// spent or expired stay spent.
	remaining := ledger.Zero()
	for _, lot := range ledger.Lots(history, now) {
		if lot.Entry.ID == purchase.ID && !lot.Entry.ExpiredAt(now) {
			remaining = lot.Remaining
		}
	}

	refundable := unrefunded.Min(remaining)
	if !refundable.IsPositive() {
		return ledger.Entry{}, fmt.Errorf("%w: order %s fully refunded or consumed", ledger.ErrNothingToRefund, orderID)
	}

	entry, err := e.ledger.Append(ctx, ledger.Entry{
		ID:             ledger.NewEntryID(),
		UserID:         userID,
		Kind:           ledger.KindRefund,
		Amount:         refundable.Neg(),
		RelatedOrderID: orderID,
		CreatedAt:      now,
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	e.log.Info().
		Str("user_id", string(userID)).
		Str("order_id", string(orderID)).
		Str("points", refundable.String()).
		Msg("purchase refunded")
	return entry, nil
}

// =============================================================================
// READS
// =============================================================================

// Balance derives the user's totals as of now.
func (e *Engine) Balance(ctx context.Context, userID ledger.UserID) (ledger.Balance, error) {
	return e.BalanceAsOf(ctx, userID, e.now())
}

// BalanceAsOf derives the user's totals at an arbitrary instant.
func (e *Engine) BalanceAsOf(ctx context.Context, userID ledger.UserID, at time.Time) (ledger.Balance, error) {
	entries, err := e.store.Entries(ctx, userID)
	if err != nil {
		return ledger.Balance{}, err
	}
	return ledger.BalanceAsOf(userID, entries, at), nil
}

// Entries returns the user's full chronological history.
func (e *Engine) Entries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	return e.store.Entries(ctx, userID)
}

// ExpiringWithin reports credits that will expire within 'days' days.
// days <= 0 falls back to the configured reminder horizon.
func (e *Engine) ExpiringWithin(ctx context.Context, userID ledger.UserID, days int) ([]ledger.ExpiringCredit, error) {
	if days <= 0 {
		days = e.cfg.ReminderDays
	}
	entries, err := e.store.Entries(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ledger.ExpiringWithin(entries, e.now(), days), nil
}

func (e *Engine) findByOrder(ctx context.Context, userID ledger.UserID, kind ledger.EntryKind, orderID ledger.OrderID) (ledger.Entry, bool, error) {
	entries, err := e.store.Entries(ctx, userID)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	for _, prior := range entries {
		if prior.Kind == kind && prior.RelatedOrderID == orderID {
			return prior, true, nil
		}
	}
	return ledger.Entry{}, false, nil
}
