/*
commission.go - Commission accrual and settlement

PURPOSE:
  Creates one Pending commission per rewarded (referee, order) pair and
  settles batches by calendar month. The commission record is derived
  bookkeeping alongside the referrer's ReferralReward ledger entry; the
  ledger is what the referrer can actually spend, the commission record
  is what accounting reconciles against.

LIFECYCLE:
  Record  -> Pending   (at most once per referee+order)
  Settle  -> Paid      (terminal)
  Cancel  -> Cancelled (terminal, order cancellation before settlement)
*/
package referral

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridian/loyalty-engine/ledger"
)

// Commissions accrues and settles commission records.
type Commissions struct {
	store     CommissionStore
	directory *Directory
	rate      decimal.Decimal
	log       zerolog.Logger
	now       func() time.Time
}

// NewCommissions wires the commission service. rate is the fraction of
// the order amount earned by the referrer, e.g. 0.08 for 8%.
func NewCommissions(store CommissionStore, directory *Directory, rate decimal.Decimal, log zerolog.Logger) *Commissions {
	return &Commissions{
		store:     store,
		directory: directory,
		rate:      rate,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (c *Commissions) WithClock(now func() time.Time) *Commissions {
	c.now = now
	return c
}

// Rate returns the configured commission rate.
func (c *Commissions) Rate() decimal.Decimal { return c.rate }

// Record accrues a commission for the referee's order. Requires an
// active relationship. Replays with the same (refereeID, orderID) return
// the existing record without creating another.
func (c *Commissions) Record(ctx context.Context, refereeID ledger.UserID, orderID ledger.OrderID, orderAmount ledger.Amount) (Commission, error) {
	if !orderAmount.IsPositive() {
		return Commission{}, fmt.Errorf("%w: order amount %s", ledger.ErrInvalidAmount, orderAmount)
	}

	referrerID, active, err := c.directory.ActiveReferrer(ctx, refereeID)
	if err != nil {
		return Commission{}, err
	}
	if !active {
		return Commission{}, fmt.Errorf("%w: referee %s", ErrNoActiveReferral, refereeID)
	}

	if existing, ok, err := c.store.CommissionByOrder(ctx, refereeID, orderID); err != nil {
		return Commission{}, err
	} else if ok {
		return existing, nil
	}

	record := Commission{
		ID:          NewCommissionID(),
		ReferrerID:  referrerID,
		RefereeID:   refereeID,
		OrderID:     orderID,
		OrderAmount: orderAmount,
		Rate:        c.rate,
		Amount:      ledger.AmountFromDecimal(orderAmount.Value.Mul(c.rate)),
		Status:      CommissionPending,
		CreatedAt:   c.now(),
	}
	if err := c.store.SaveCommission(ctx, record); err != nil {
		return Commission{}, err
	}

	c.log.Info().
		Str("referrer_id", string(referrerID)).
		Str("referee_id", string(refereeID)).
		Str("order_id", string(orderID)).
		Str("commission", record.Amount.String()).
		Msg("commission recorded")
	return record, nil
}

// SettleMonth marks every Pending commission created in the given
// calendar month as Paid. Returns the number settled.
func (c *Commissions) SettleMonth(ctx context.Context, year int, month time.Month) (int, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	pending, err := c.store.CommissionsPendingBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}

	settled := 0
	settledAt := c.now()
	for _, record := range pending {
		if err := c.store.SetCommissionStatus(ctx, record.ID, CommissionPaid, &settledAt); err != nil {
			c.log.Error().Err(err).Str("commission_id", string(record.ID)).Msg("settlement failed")
			continue
		}
		settled++
	}

	c.log.Info().Int("settled", settled).Int("pending", len(pending)).
		Str("month", from.Format("2006-01")).Msg("commission settlement run")
	return settled, nil
}

// Cancel transitions the order's commission Pending -> Cancelled.
// Settled commissions stay settled.
func (c *Commissions) Cancel(ctx context.Context, refereeID ledger.UserID, orderID ledger.OrderID) error {
	record, ok, err := c.store.CommissionByOrder(ctx, refereeID, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: commission for order %s", ErrNotFound, orderID)
	}
	if record.Status != CommissionPending {
		return fmt.Errorf("%w: %s is %s", ErrCommissionSettled, record.ID, record.Status)
	}
	return c.store.SetCommissionStatus(ctx, record.ID, CommissionCancelled, nil)
}
