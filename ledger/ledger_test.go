package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/ledger/store"
)

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.New(mem), mem
}

// =============================================================================
// SHAPE VALIDATION
// =============================================================================

func TestLedger_Append_RejectsUnknownKind(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Append(context.Background(), ledger.Entry{
		ID:        "e1",
		UserID:    "user-1",
		Kind:      "mystery",
		Amount:    ledger.NewAmount(5),
		CreatedAt: day(0),
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)
}

func TestLedger_Append_RejectsZeroAmount(t *testing.T) {
	l, _ := newTestLedger(t)

	e := creditEntry("e1", 5, day(0), day(10))
	e.Amount = ledger.Zero()
	_, err := l.Append(context.Background(), e)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestLedger_Append_RejectsPolarityMismatch(t *testing.T) {
	// GIVEN: A purchase entry with a negative amount
	// WHEN: Appending
	// THEN: Rejected; the kind fixes the sign

	l, _ := newTestLedger(t)

	e := creditEntry("e1", 5, day(0), day(10))
	e.Amount = e.Amount.Neg()
	_, err := l.Append(context.Background(), e)
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)
}

func TestLedger_Append_RejectsCreditWithoutExpiry(t *testing.T) {
	l, _ := newTestLedger(t)

	e := creditEntry("e1", 5, day(0), day(10))
	e.ExpiresAt = time.Time{}
	_, err := l.Append(context.Background(), e)
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)
}

func TestLedger_Append_RejectsExpirationWithoutReference(t *testing.T) {
	l, _ := newTestLedger(t)

	e := expirationEntry("x1", 2, "c1", day(0))
	e.RelatedEntryID = ""
	_, err := l.Append(context.Background(), e)
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)
}

// =============================================================================
// COVERAGE
// =============================================================================

func TestLedger_Append_InsufficientBalanceLeavesLedgerUntouched(t *testing.T) {
	// GIVEN: 5 available points
	// WHEN: Redeeming 8
	// THEN: InsufficientBalanceError with details, and no entry appended

	l, mem := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, creditEntry("c1", 5, day(0), day(30)))
	require.NoError(t, err)

	_, err = l.Append(ctx, redemptionEntry("r1", 8, day(1)))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insufficientErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficientErr)
	assert.True(t, insufficientErr.Available.Equal(ledger.NewAmount(5)))
	assert.True(t, insufficientErr.Requested.Equal(ledger.NewAmount(8)))

	entries, err := mem.Entries(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed debit must not append")
}

func TestLedger_Append_ExpiredPointsDoNotCoverDebits(t *testing.T) {
	// GIVEN: A 5-point credit whose expiry has passed
	// WHEN: Redeeming 1 point after expiry
	// THEN: Rejected; expired value is not spendable

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, creditEntry("c1", 5, day(0), day(10)))
	require.NoError(t, err)

	_, err = l.Append(ctx, redemptionEntry("r1", 1, day(11)))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestLedger_Append_ExpirationCoverage(t *testing.T) {
	// GIVEN: C1 expired with a 2-point remainder
	// WHEN: Appending expiration entries
	// THEN: Up to the remainder is accepted, more is rejected

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, creditEntry("c1", 5, day(0), day(10)))
	require.NoError(t, err)
	_, err = l.Append(ctx, redemptionEntry("r1", 3, day(5)))
	require.NoError(t, err)

	_, err = l.Append(ctx, expirationEntry("x-big", 3, "c1", day(11)))
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry, "cannot expire more than the remainder")

	_, err = l.Append(ctx, expirationEntry("x1", 2, "c1", day(11)))
	assert.NoError(t, err)

	_, err = l.Append(ctx, expirationEntry("x2", 2, "c1", day(12)))
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry, "already swept credit has no remainder")
}

func TestLedger_Append_ExpirationRequiresPastDueCredit(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, creditEntry("c1", 5, day(0), day(30)))
	require.NoError(t, err)

	_, err = l.Append(ctx, expirationEntry("x1", 5, "c1", day(1)))
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry, "live credit cannot be expired")
}

// =============================================================================
// BALANCE SNAPSHOT
// =============================================================================

func TestLedger_Append_RecomputesBalanceAfter(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	e1, err := l.Append(ctx, creditEntry("c1", 5, day(0), day(30)))
	require.NoError(t, err)
	assert.True(t, e1.BalanceAfter.Equal(ledger.NewAmount(5)))

	e2, err := l.Append(ctx, redemptionEntry("r1", 3, day(1)))
	require.NoError(t, err)
	assert.True(t, e2.BalanceAfter.Equal(ledger.NewAmount(2)))
}
