/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model
  from the external contract.

NAMING CONVENTION:
  - *Request: Request body types from clients (validated with struct tags)
  - *DTO: Response types returned to clients

VALIDATION:
  Request structs carry go-playground/validator tags; handlers run the
  shared validator before touching domain logic.
*/
package api

import (
	"time"

	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/referral"
)

// =============================================================================
// POINTS REQUESTS
// =============================================================================

// PurchaseRequest reports a settled order for points accrual.
type PurchaseRequest struct {
	UserID  string  `json:"user_id" validate:"required"`
	OrderID string  `json:"order_id" validate:"required"`
	Amount  float64 `json:"amount" validate:"required,gt=0"`
}

// RedeemRequest spends points on a reward item.
type RedeemRequest struct {
	UserID string  `json:"user_id" validate:"required"`
	ItemID string  `json:"item_id" validate:"required"`
	Points float64 `json:"points" validate:"required,gt=0"`
}

// RefundRequest reverses a prior purchase accrual.
type RefundRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	OrderID string `json:"order_id" validate:"required"`
}

// ReferralRewardRequest credits a referrer for a referee's order.
type ReferralRewardRequest struct {
	ReferrerID string  `json:"referrer_id" validate:"required"`
	RefereeID  string  `json:"referee_id" validate:"required"`
	OrderID    string  `json:"order_id" validate:"required"`
	Reward     float64 `json:"reward" validate:"required,gt=0"`
}

// =============================================================================
// REFERRAL REQUESTS
// =============================================================================

// RegisterReferralRequest links a referee to a referrer's code at signup.
type RegisterReferralRequest struct {
	ReferrerID string `json:"referrer_id" validate:"required"`
	RefereeID  string `json:"referee_id" validate:"required"`
	Code       string `json:"code" validate:"required"`
}

// ActivateReferralRequest marks the referee's first qualifying purchase.
type ActivateReferralRequest struct {
	RefereeID string `json:"referee_id" validate:"required"`
}

// IssueCodeRequest mints a referral code for a referrer.
type IssueCodeRequest struct {
	ReferrerID string `json:"referrer_id" validate:"required"`
}

// CommissionRequest accrues a commission for a referee's order.
type CommissionRequest struct {
	RefereeID   string  `json:"referee_id" validate:"required"`
	OrderID     string  `json:"order_id" validate:"required"`
	OrderAmount float64 `json:"order_amount" validate:"required,gt=0"`
}

// CancelCommissionRequest voids a pending commission when the referee's
// order is cancelled before settlement.
type CancelCommissionRequest struct {
	RefereeID string `json:"referee_id" validate:"required"`
	OrderID   string `json:"order_id" validate:"required"`
}

// SettleRequest settles all pending commissions of a calendar month.
type SettleRequest struct {
	Year  int `json:"year" validate:"required,min=2000"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// EntryDTO is a ledger entry in API responses.
type EntryDTO struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	Kind               string `json:"kind"`
	Amount             string `json:"amount"`
	BalanceAfter       string `json:"balance_after"`
	RelatedOrderID     string `json:"related_order_id,omitempty"`
	CounterpartyUserID string `json:"counterparty_user_id,omitempty"`
	RelatedEntryID     string `json:"related_entry_id,omitempty"`
	CreatedAt          string `json:"created_at"`
	ExpiresAt          string `json:"expires_at,omitempty"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:                 string(e.ID),
		UserID:             string(e.UserID),
		Kind:               string(e.Kind),
		Amount:             e.Amount.String(),
		BalanceAfter:       e.BalanceAfter.String(),
		RelatedOrderID:     string(e.RelatedOrderID),
		CounterpartyUserID: string(e.CounterpartyUserID),
		RelatedEntryID:     string(e.RelatedEntryID),
		CreatedAt:          e.CreatedAt.Format(time.RFC3339),
	}
	if !e.ExpiresAt.IsZero() {
		dto.ExpiresAt = e.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}

// BalanceDTO is the derived balance summary for display.
type BalanceDTO struct {
	UserID    string `json:"user_id"`
	Earned    string `json:"earned"`
	Used      string `json:"used"`
	Available string `json:"available"`
	Expired   string `json:"expired"`
	AsOf      string `json:"as_of"`
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		UserID:    string(b.UserID),
		Earned:    b.Earned.String(),
		Used:      b.Used.String(),
		Available: b.Available.String(),
		Expired:   b.Expired.String(),
		AsOf:      b.AsOf.Format(time.RFC3339),
	}
}

// ExpiringDTO is one soon-to-expire credit in an expiry warning.
type ExpiringDTO struct {
	EntryID   string `json:"entry_id"`
	Remaining string `json:"remaining"`
	ExpiresAt string `json:"expires_at"`
	DaysLeft  int    `json:"days_left"`
}

// RelationshipDTO is a referral relationship in API responses.
type RelationshipDTO struct {
	ID          string `json:"id"`
	ReferrerID  string `json:"referrer_id"`
	RefereeID   string `json:"referee_id"`
	Code        string `json:"code"`
	CreatedAt   string `json:"created_at"`
	IsActive    bool   `json:"is_active"`
	ActivatedAt string `json:"activated_at,omitempty"`
}

func toRelationshipDTO(r referral.Relationship) RelationshipDTO {
	dto := RelationshipDTO{
		ID:         string(r.ID),
		ReferrerID: string(r.ReferrerID),
		RefereeID:  string(r.RefereeID),
		Code:       r.Code,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		IsActive:   r.IsActive,
	}
	if !r.ActivatedAt.IsZero() {
		dto.ActivatedAt = r.ActivatedAt.Format(time.RFC3339)
	}
	return dto
}

// StatsDTO summarizes a referrer's standing.
type StatsDTO struct {
	TotalReferrals    int               `json:"total_referrals"`
	ActiveReferrals   int               `json:"active_referrals"`
	TotalCommission   string            `json:"total_commission"`
	PendingCommission string            `json:"pending_commission"`
	PaidCommission    string            `json:"paid_commission"`
	Relationships     []RelationshipDTO `json:"relationships"`
}

// LinkDTO is one shareable referral entry point.
type LinkDTO struct {
	Code        string `json:"code"`
	ReferralURL string `json:"referral_url"`
	QRCodeURL   string `json:"qr_code_url"`
}

// CommissionDTO is a commission record in API responses.
type CommissionDTO struct {
	ID          string `json:"id"`
	ReferrerID  string `json:"referrer_id"`
	RefereeID   string `json:"referee_id"`
	OrderID     string `json:"order_id"`
	OrderAmount string `json:"order_amount"`
	Rate        string `json:"rate"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	SettledAt   string `json:"settled_at,omitempty"`
}

func toCommissionDTO(c referral.Commission) CommissionDTO {
	dto := CommissionDTO{
		ID:          string(c.ID),
		ReferrerID:  string(c.ReferrerID),
		RefereeID:   string(c.RefereeID),
		OrderID:     string(c.OrderID),
		OrderAmount: c.OrderAmount.String(),
		Rate:        c.Rate.String(),
		Amount:      c.Amount.String(),
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
	if c.SettledAt != nil {
		dto.SettledAt = c.SettledAt.Format(time.RFC3339)
	}
	return dto
}

// SweepDTO reports one expiration sweep.
type SweepDTO struct {
	UsersScanned  int    `json:"users_scanned"`
	UsersExpired  int    `json:"users_expired"`
	PointsExpired string `json:"points_expired"`
	Failures      int    `json:"failures"`
}
