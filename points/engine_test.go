package points_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/ledger/store"
	"github.com/meridian/loyalty-engine/points"
	"github.com/meridian/loyalty-engine/referral"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day0 = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return day0.AddDate(0, 0, n) }

// stubGate is a ReferralGate with a fixed answer.
type stubGate struct {
	referrer ledger.UserID
	active   bool
}

func (g stubGate) ActiveReferrer(context.Context, ledger.UserID) (ledger.UserID, bool, error) {
	return g.referrer, g.active, nil
}

type testEngine struct {
	engine *points.Engine
	store  *store.Memory
	clock  *time.Time
}

func newTestEngine(t *testing.T, gate points.ReferralGate) *testEngine {
	t.Helper()
	mem := store.NewMemory()
	locks := ledger.NewLocks(2 * time.Second)
	clock := day(0)
	te := &testEngine{store: mem, clock: &clock}
	te.engine = points.NewEngine(ledger.New(mem), locks, gate, points.Config{
		ExpiryDays:   365,
		ReminderDays: 30,
	}, zerolog.Nop()).WithClock(func() time.Time { return *te.clock })
	return te
}

func (te *testEngine) setDay(n int) { *te.clock = day(n) }

// =============================================================================
// PURCHASE ACCRUAL
// =============================================================================

func TestEngine_AccrueOnPurchase(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	entry, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPurchase, entry.Kind)
	assert.True(t, entry.Amount.Equal(ledger.NewAmount(10)))
	assert.Equal(t, day(365), entry.ExpiresAt)
	assert.True(t, entry.BalanceAfter.Equal(ledger.NewAmount(10)))
}

func TestEngine_AccrueOnPurchase_IdempotentPerOrder(t *testing.T) {
	// GIVEN: An accrual for order-1 already recorded
	// WHEN: The same accrual is replayed
	// THEN: The original entry comes back and the ledger gains nothing

	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	first, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)

	replay, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	entries, err := te.engine.Entries(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEngine_AccrueOnPurchase_RejectsNonPositive(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.Zero())
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(-5))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestEngine_AccrueOnPurchase_FractionalPoints(t *testing.T) {
	// A 0.1 earn rate on a 99 order gives exactly 9.9 points.
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(9.9))
	require.NoError(t, err)

	b, err := te.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "9.9", b.Available.String())
}

// =============================================================================
// REFERRAL REWARD
// =============================================================================

func TestEngine_AccrueReferralReward(t *testing.T) {
	te := newTestEngine(t, stubGate{referrer: "referrer-1", active: true})
	ctx := context.Background()

	entry, err := te.engine.AccrueReferralReward(ctx, "referrer-1", "referee-1", "order-1", ledger.NewAmount(8))
	require.NoError(t, err)
	assert.Equal(t, ledger.KindReferralReward, entry.Kind)
	assert.Equal(t, ledger.UserID("referrer-1"), entry.UserID)
	assert.Equal(t, ledger.UserID("referee-1"), entry.CounterpartyUserID)
}

func TestEngine_AccrueReferralReward_NoActiveRelationship(t *testing.T) {
	te := newTestEngine(t, stubGate{active: false})
	ctx := context.Background()

	_, err := te.engine.AccrueReferralReward(ctx, "referrer-1", "referee-1", "order-1", ledger.NewAmount(8))
	assert.ErrorIs(t, err, referral.ErrNoActiveReferral)
}

func TestEngine_AccrueReferralReward_WrongReferrer(t *testing.T) {
	// GIVEN: referee-1's active referrer is referrer-1
	// WHEN: referrer-2 claims the reward
	// THEN: Rejected

	te := newTestEngine(t, stubGate{referrer: "referrer-1", active: true})
	ctx := context.Background()

	_, err := te.engine.AccrueReferralReward(ctx, "referrer-2", "referee-1", "order-1", ledger.NewAmount(8))
	assert.ErrorIs(t, err, referral.ErrNoActiveReferral)
}

func TestEngine_AccrueReferralReward_IdempotentPerRefereeOrder(t *testing.T) {
	te := newTestEngine(t, stubGate{referrer: "referrer-1", active: true})
	ctx := context.Background()

	first, err := te.engine.AccrueReferralReward(ctx, "referrer-1", "referee-1", "order-1", ledger.NewAmount(8))
	require.NoError(t, err)

	replay, err := te.engine.AccrueReferralReward(ctx, "referrer-1", "referee-1", "order-1", ledger.NewAmount(8))
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	entries, err := te.engine.Entries(ctx, "referrer-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// REDEMPTION
// =============================================================================

func TestEngine_Redeem(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)

	entry, err := te.engine.Redeem(ctx, "user-1", "item-42", ledger.NewAmount(6))
	require.NoError(t, err)
	assert.Equal(t, ledger.KindRedemption, entry.Kind)
	assert.True(t, entry.Amount.Equal(ledger.NewAmount(-6)))
	assert.True(t, entry.BalanceAfter.Equal(ledger.NewAmount(4)))
}

func TestEngine_Redeem_InsufficientBalance(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(5))
	require.NoError(t, err)

	_, err = te.engine.Redeem(ctx, "user-1", "item-42", ledger.NewAmount(8))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	entries, err := te.engine.Entries(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed redemption must not append")
}

func TestEngine_Redeem_ExpiredPointsNotSpendable(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)

	te.setDay(366)
	_, err = te.engine.Redeem(ctx, "user-1", "item-42", ledger.NewAmount(1))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestEngine_Redeem_ConcurrentRedemptionsNeverOverspend(t *testing.T) {
	// GIVEN: 10 available points
	// WHEN: Two redemptions of 6 run concurrently
	// THEN: Exactly one succeeds; the balance never goes negative

	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = te.engine.Redeem(ctx, "user-1", "item", ledger.NewAmount(6))
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one redemption must fail")

	b, err := te.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(ledger.NewAmount(4)))
}

func TestEngine_Redeem_BusyWhenLockHeld(t *testing.T) {
	// GIVEN: user-1's lock held by another operation past the wait cap
	// WHEN: Redeeming
	// THEN: Retryable ErrBusy, nothing appended

	mem := store.NewMemory()
	locks := ledger.NewLocks(30 * time.Millisecond)
	engine := points.NewEngine(ledger.New(mem), locks, stubGate{}, points.Config{
		ExpiryDays:   365,
		ReminderDays: 30,
	}, zerolog.Nop())
	ctx := context.Background()

	_, err := engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)

	release, err := locks.Acquire(ctx, "user-1")
	require.NoError(t, err)
	defer release()

	_, err = engine.Redeem(ctx, "user-1", "item-42", ledger.NewAmount(5))
	assert.ErrorIs(t, err, ledger.ErrBusy)
	assert.True(t, ledger.IsRetryable(err))
}

// =============================================================================
// REFUND
// =============================================================================

func TestEngine_Refund_FullWhenUntouched(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)

	entry, err := te.engine.Refund(ctx, "user-1", "order-1")
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(ledger.NewAmount(-10)))

	b, err := te.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, b.Available.IsZero())
}

func TestEngine_Refund_CappedByUnconsumedRemainder(t *testing.T) {
	// GIVEN: 10 accrued, 6 already redeemed
	// WHEN: The order is refunded
	// THEN: Only the 4 unspent points are reversed

	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)
	_, err = te.engine.Redeem(ctx, "user-1", "item-42", ledger.NewAmount(6))
	require.NoError(t, err)

	entry, err := te.engine.Refund(ctx, "user-1", "order-1")
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(ledger.NewAmount(-4)))

	b, err := te.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, b.Available.IsZero())
}

func TestEngine_Refund_UnknownOrder(t *testing.T) {
	te := newTestEngine(t, stubGate{})

	_, err := te.engine.Refund(context.Background(), "user-1", "no-such-order")
	assert.ErrorIs(t, err, ledger.ErrNothingToRefund)
}

func TestEngine_Refund_FullyConsumedPurchase(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)
	_, err = te.engine.Redeem(ctx, "user-1", "item-42", ledger.NewAmount(10))
	require.NoError(t, err)

	_, err = te.engine.Refund(ctx, "user-1", "order-1")
	assert.ErrorIs(t, err, ledger.ErrNothingToRefund)
}

func TestEngine_Refund_SecondRefundRejected(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)
	_, err = te.engine.Refund(ctx, "user-1", "order-1")
	require.NoError(t, err)

	_, err = te.engine.Refund(ctx, "user-1", "order-1")
	assert.ErrorIs(t, err, ledger.ErrNothingToRefund)
}

func TestEngine_Refund_ExpiredCreditNotRefundable(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)

	te.setDay(366)
	_, err = te.engine.Refund(ctx, "user-1", "order-1")
	assert.ErrorIs(t, err, ledger.ErrNothingToRefund)
}

// =============================================================================
// READS
// =============================================================================

func TestEngine_ExpiringWithin_DefaultsToReminderHorizon(t *testing.T) {
	te := newTestEngine(t, stubGate{})
	ctx := context.Background()

	_, err := te.engine.AccrueOnPurchase(ctx, "user-1", "order-1", ledger.NewAmount(10))
	require.NoError(t, err)

	// Day 340: 25 days to expiry, inside the 30-day default horizon.
	te.setDay(340)
	expiring, err := te.engine.ExpiringWithin(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, 25, expiring[0].DaysLeft)

	expiring, err = te.engine.ExpiringWithin(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, expiring, "outside a narrower horizon")
}
