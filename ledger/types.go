/*
Package ledger provides the append-only points ledger at the heart of the
loyalty engine.

PURPOSE:
  Defines the immutable LedgerEntry, the Amount value type, the Store
  persistence interface, and the FIFO balance calculator. Every points-
  affecting event in the system is a single entry here; balances are
  always derived by replaying entries, never read from a mutable counter.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A signed points quantity backed by decimal.Decimal
  - Entry: An immutable ledger record (credit or debit)
  - EntryKind: Purchase, Refund, ReferralReward, Redemption, Expiration
  - UserID/EntryID/OrderID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified; expiration is a new entry
  2. Precision: decimal.Decimal avoids floating-point drift on fractional
     point values like 9.9
  3. Type Safety: Strong ID types prevent mixing user and order IDs

SEE ALSO:
  - balance.go: FIFO consumption and balance derivation
  - store.go: Persistence interface
  - ledger.go: Validated append
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Signed points quantity
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value)}
}

func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount{Value: d}
}

func Zero() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount               { return Amount{Value: a.Value.Abs()} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}
func (a Amount) String() string { return a.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EntryID string
type OrderID string

// NewEntryID returns a unique entry identifier. IDs are never reused.
func NewEntryID() EntryID { return EntryID(uuid.NewString()) }

// =============================================================================
// ENTRY KIND - Polarity is fixed per kind
// =============================================================================

type EntryKind string

const (
	KindPurchase       EntryKind = "purchase"        // credit: points earned on a paid order
	KindRefund         EntryKind = "refund"          // debit: reversal of a purchase credit
	KindReferralReward EntryKind = "referral_reward" // credit: commission points for a referrer
	KindRedemption     EntryKind = "redemption"      // debit: points spent on a reward item
	KindExpiration     EntryKind = "expiration"      // debit: past-due credit remainder extinguished
)

// IsCredit reports whether the kind increases a user's balance.
func (k EntryKind) IsCredit() bool {
	return k == KindPurchase || k == KindReferralReward
}

func (k EntryKind) Valid() bool {
	switch k {
	case KindPurchase, KindRefund, KindReferralReward, KindRedemption, KindExpiration:
		return true
	}
	return false
}

// =============================================================================
// ENTRY - Immutable ledger record
// =============================================================================

// Entry is a single points-affecting event. Once appended it is never
// modified or deleted; corrections are represented as new entries.
type Entry struct {
	ID     EntryID
	UserID UserID
	Kind   EntryKind

	// Amount is signed: positive for credits, negative for debits.
	Amount Amount

	// BalanceAfter is the available balance immediately after this entry,
	// recomputed on every append. It is a display convenience only; the
	// replayed entry history is authoritative.
	BalanceAfter Amount

	// RelatedOrderID links Purchase/Refund/ReferralReward entries to the
	// order that produced them, and carries the idempotency scope.
	RelatedOrderID OrderID

	// CounterpartyUserID is the referee on a ReferralReward entry.
	CounterpartyUserID UserID

	// RelatedEntryID is set on Expiration entries only: the credit entry
	// whose remainder this entry extinguishes.
	RelatedEntryID EntryID

	CreatedAt time.Time

	// ExpiresAt is meaningful for credit entries only. The credit's points
	// are no longer spendable or countable after this instant.
	ExpiresAt time.Time
}

// IsCredit reports whether the entry increases the balance.
func (e Entry) IsCredit() bool { return e.Kind.IsCredit() }

// ExpiredAt reports whether a credit entry is past its expiry at the
// given instant. Always false for debits.
func (e Entry) ExpiredAt(at time.Time) bool {
	return e.IsCredit() && !e.ExpiresAt.After(at)
}
