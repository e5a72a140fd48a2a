/*
handlers.go - HTTP handlers for the loyalty engine

PURPOSE:
  Exposes the points engine, referral directory and expiration scanner
  over REST. Handlers parse and validate input, call domain logic, and
  translate domain errors to HTTP status codes.

ERROR MAPPING:
  400  InvalidAmount, malformed input
  404  UnknownCode, NothingToRefund, missing relationship/commission
  409  InsufficientBalance, DuplicateReferee, NoActiveReferral,
       terminal commission transition, sweep already running
  503  Busy (per-user lock timeout; retryable)
  500  everything else

Idempotent replays are indistinguishable from the original success on
purpose: same body, 200.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/meridian/loyalty-engine/expiry"
	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/points"
	"github.com/meridian/loyalty-engine/referral"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine      *points.Engine
	Directory   *referral.Directory
	Commissions *referral.Commissions
	CommStore   referral.CommissionStore
	Scanner     *expiry.Scanner

	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(engine *points.Engine, directory *referral.Directory, commissions *referral.Commissions, commStore referral.CommissionStore, scanner *expiry.Scanner, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:      engine,
		Directory:   directory,
		Commissions: commissions,
		CommStore:   commStore,
		Scanner:     scanner,
		validate:    validator.New(),
		log:         log,
	}
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// AccruePurchase handles POST /api/points/purchase.
func (h *Handler) AccruePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.Engine.AccrueOnPurchase(r.Context(),
		ledger.UserID(req.UserID), ledger.OrderID(req.OrderID), ledger.NewAmount(req.Amount))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// Redeem handles POST /api/points/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.Engine.Redeem(r.Context(),
		ledger.UserID(req.UserID), req.ItemID, ledger.NewAmount(req.Points))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// Refund handles POST /api/points/refund.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.Engine.Refund(r.Context(),
		ledger.UserID(req.UserID), ledger.OrderID(req.OrderID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// AccrueReferralReward handles POST /api/points/referral-reward.
// Commission bookkeeping is recorded separately via RecordCommission.
func (h *Handler) AccrueReferralReward(w http.ResponseWriter, r *http.Request) {
	var req ReferralRewardRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.Engine.AccrueReferralReward(r.Context(),
		ledger.UserID(req.ReferrerID), ledger.UserID(req.RefereeID),
		ledger.OrderID(req.OrderID), ledger.NewAmount(req.Reward))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// GetBalance handles GET /api/users/{id}/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	balance, err := h.Engine.Balance(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// GetEntries handles GET /api/users/{id}/entries.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	entries, err := h.Engine.Entries(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetExpiring handles GET /api/users/{id}/expiring?days=30.
func (h *Handler) GetExpiring(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		days = n
	}

	expiring, err := h.Engine.ExpiringWithin(r.Context(), userID, days)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]ExpiringDTO, len(expiring))
	for i, e := range expiring {
		dtos[i] = ExpiringDTO{
			EntryID:   string(e.EntryID),
			Remaining: e.Remaining.String(),
			ExpiresAt: e.ExpiresAt.Format(time.RFC3339),
			DaysLeft:  e.DaysLeft,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REFERRAL HANDLERS
// =============================================================================

// RegisterReferral handles POST /api/referrals/register.
func (h *Handler) RegisterReferral(w http.ResponseWriter, r *http.Request) {
	var req RegisterReferralRequest
	if !h.decode(w, r, &req) {
		return
	}

	rel, err := h.Directory.Register(r.Context(),
		ledger.UserID(req.ReferrerID), ledger.UserID(req.RefereeID), req.Code)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRelationshipDTO(rel))
}

// ActivateReferral handles POST /api/referrals/activate.
func (h *Handler) ActivateReferral(w http.ResponseWriter, r *http.Request) {
	var req ActivateReferralRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Directory.Activate(r.Context(), ledger.UserID(req.RefereeID)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// ResolveCode handles GET /api/referrals/resolve/{code}.
func (h *Handler) ResolveCode(w http.ResponseWriter, r *http.Request) {
	referrerID, err := h.Directory.Resolve(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"referrer_id": string(referrerID)})
}

// IssueCode handles POST /api/referrals/codes.
func (h *Handler) IssueCode(w http.ResponseWriter, r *http.Request) {
	var req IssueCodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	code, err := h.Directory.IssueCode(r.Context(), ledger.UserID(req.ReferrerID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"code":       code.Value,
		"created_at": code.CreatedAt.Format(time.RFC3339),
	})
}

// GetReferralStats handles GET /api/users/{id}/referrals/stats.
func (h *Handler) GetReferralStats(w http.ResponseWriter, r *http.Request) {
	referrerID := ledger.UserID(chi.URLParam(r, "id"))

	stats, err := h.Directory.Stats(r.Context(), h.CommStore, referrerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dto := StatsDTO{
		TotalReferrals:    stats.TotalReferrals,
		ActiveReferrals:   stats.ActiveReferrals,
		TotalCommission:   stats.TotalCommission.String(),
		PendingCommission: stats.PendingCommission.String(),
		PaidCommission:    stats.PaidCommission.String(),
		Relationships:     make([]RelationshipDTO, len(stats.Relationships)),
	}
	for i, rel := range stats.Relationships {
		dto.Relationships[i] = toRelationshipDTO(rel)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetReferralLinks handles GET /api/users/{id}/referrals/links.
func (h *Handler) GetReferralLinks(w http.ResponseWriter, r *http.Request) {
	referrerID := ledger.UserID(chi.URLParam(r, "id"))

	links, err := h.Directory.Links(r.Context(), referrerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]LinkDTO, len(links))
	for i, l := range links {
		dtos[i] = LinkDTO{Code: l.Code, ReferralURL: l.ReferralURL, QRCodeURL: l.QRCodeURL}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordCommission handles POST /api/referrals/commissions.
func (h *Handler) RecordCommission(w http.ResponseWriter, r *http.Request) {
	var req CommissionRequest
	if !h.decode(w, r, &req) {
		return
	}

	record, err := h.Commissions.Record(r.Context(),
		ledger.UserID(req.RefereeID), ledger.OrderID(req.OrderID), ledger.NewAmount(req.OrderAmount))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTO(record))
}

// CancelCommission handles POST /api/referrals/commissions/cancel.
func (h *Handler) CancelCommission(w http.ResponseWriter, r *http.Request) {
	var req CancelCommissionRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Commissions.Cancel(r.Context(),
		ledger.UserID(req.RefereeID), ledger.OrderID(req.OrderID)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// SettleCommissions handles POST /api/referrals/settle.
func (h *Handler) SettleCommissions(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !h.decode(w, r, &req) {
		return
	}

	settled, err := h.Commissions.SettleMonth(r.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"settled": settled})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep handles POST /api/admin/sweep.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Scanner.Sweep(r.Context())
	if err != nil {
		if errors.Is(err, expiry.ErrSweepInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepDTO{
		UsersScanned:  result.UsersScanned,
		UsersExpired:  result.UsersExpired,
		PointsExpired: result.PointsExpired.String(),
		Failures:      result.Failures,
	})
}

// =============================================================================
// PLUMBING
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, referral.ErrUnknownCode),
		errors.Is(err, referral.ErrNotFound),
		errors.Is(err, ledger.ErrNothingToRefund):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, referral.ErrDuplicateReferee),
		errors.Is(err, referral.ErrNoActiveReferral),
		errors.Is(err, referral.ErrCodeTaken),
		errors.Is(err, referral.ErrCommissionSettled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
