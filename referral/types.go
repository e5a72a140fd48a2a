/*
Package referral maintains referral relationships and the commission
bookkeeping derived from them.

PURPOSE:
  Maps referral codes to referrer identities, tracks at most one
  relationship per referee with a one-way inactive->active transition,
  and records one commission per rewarded order with a
  Pending -> Paid | Cancelled lifecycle.

KEY CONCEPTS IN THIS FILE (types.go):
  - Code: a referral code owned by a referrer, valid for a limited window
  - Relationship: referrer <-> referee link, activated on first purchase
  - Commission: per-order bookkeeping record with terminal settlement

SEE ALSO:
  - directory.go: register/activate/resolve and referrer reporting
  - commission.go: accrual and batch settlement
*/
package referral

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian/loyalty-engine/ledger"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RelationshipID string
type CommissionID string

func NewRelationshipID() RelationshipID { return RelationshipID(uuid.NewString()) }
func NewCommissionID() CommissionID     { return CommissionID(uuid.NewString()) }

// =============================================================================
// REFERRAL CODE
// =============================================================================

// Code is a referral code owned by a referrer. Codes stop resolving
// once older than the configured validity window.
type Code struct {
	Value      string
	ReferrerID ledger.UserID
	CreatedAt  time.Time
}

// =============================================================================
// RELATIONSHIP
// =============================================================================

// Relationship links a referee to the referrer whose code they used.
// A referee has at most one relationship, ever. IsActive flips to true
// on the referee's first qualifying purchase and never back.
type Relationship struct {
	ID          RelationshipID
	ReferrerID  ledger.UserID
	RefereeID   ledger.UserID
	Code        string
	CreatedAt   time.Time
	IsActive    bool
	ActivatedAt time.Time
}

// =============================================================================
// COMMISSION
// =============================================================================

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionPaid      CommissionStatus = "paid"
	CommissionCancelled CommissionStatus = "cancelled"
)

// Commission is the bookkeeping record for one rewarded order. At most
// one exists per (refereeID, orderID). Paid and Cancelled are terminal.
type Commission struct {
	ID          CommissionID
	ReferrerID  ledger.UserID
	RefereeID   ledger.UserID
	OrderID     ledger.OrderID
	OrderAmount ledger.Amount
	Rate        decimal.Decimal
	Amount      ledger.Amount
	Status      CommissionStatus
	CreatedAt   time.Time
	SettledAt   *time.Time
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// RelationshipStore persists relationships and codes. Activation is the
// only permitted mutation of a relationship.
type RelationshipStore interface {
	SaveCode(ctx context.Context, c Code) error
	CodeByValue(ctx context.Context, value string) (Code, bool, error)
	CodesByReferrer(ctx context.Context, referrerID ledger.UserID) ([]Code, error)

	SaveRelationship(ctx context.Context, r Relationship) error
	RelationshipByReferee(ctx context.Context, refereeID ledger.UserID) (Relationship, bool, error)
	RelationshipsByReferrer(ctx context.Context, referrerID ledger.UserID) ([]Relationship, error)
	ActivateRelationship(ctx context.Context, refereeID ledger.UserID, at time.Time) error
}

// CommissionStore persists commissions. SetCommissionStatus is the only
// permitted mutation and applies to Pending records only; an already
// settled or cancelled commission yields ErrCommissionSettled.
type CommissionStore interface {
	SaveCommission(ctx context.Context, c Commission) error
	CommissionByOrder(ctx context.Context, refereeID ledger.UserID, orderID ledger.OrderID) (Commission, bool, error)
	CommissionsByReferrer(ctx context.Context, referrerID ledger.UserID) ([]Commission, error)
	CommissionsPendingBetween(ctx context.Context, from, to time.Time) ([]Commission, error)
	SetCommissionStatus(ctx context.Context, id CommissionID, status CommissionStatus, settledAt *time.Time) error
}
