/*
directory.go - Referral directory: codes, relationships, reporting

PURPOSE:
  The Directory is the gate in front of referral reward accrual. It
  answers three questions:

    register: may this referee be linked to this code's owner?
    activate: has the referee completed their first qualifying purchase?
    resolve:  which referrer owns this code, and is the code still valid?

INVARIANTS:
  - A referee has at most one relationship, ever (DuplicateReferee).
  - Activation is one-way and idempotent; re-activating is a no-op.
  - Codes resolve only within the configured validity window.

SEE ALSO:
  - points: consumes ActiveReferrer as its reward gate
  - commission.go: accrues against active relationships
*/
package referral

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian/loyalty-engine/ledger"
)

// Directory resolves codes and manages relationship state.
type Directory struct {
	store        RelationshipStore
	codeValidity time.Duration
	baseURL      string
	log          zerolog.Logger
	now          func() time.Time
}

// DirectoryConfig carries the directory's policy knobs.
type DirectoryConfig struct {
	// CodeValidityDays is how long after issuance a code still resolves.
	CodeValidityDays int

	// BaseURL is the public registration URL prefix for referral links.
	BaseURL string
}

func NewDirectory(store RelationshipStore, cfg DirectoryConfig, log zerolog.Logger) *Directory {
	return &Directory{
		store:        store,
		codeValidity: time.Duration(cfg.CodeValidityDays) * 24 * time.Hour,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		log:          log,
		now:          time.Now,
	}
}

// WithClock overrides the directory's clock. Tests only.
func (d *Directory) WithClock(now func() time.Time) *Directory {
	d.now = now
	return d
}

// =============================================================================
// CODES
// =============================================================================

// IssueCode mints a new referral code for the referrer.
// Format: REF + issue date + random suffix, e.g. REF20260901A3F2.
func (d *Directory) IssueCode(ctx context.Context, referrerID ledger.UserID) (Code, error) {
	now := d.now()
	suffix := strings.ToUpper(uuid.NewString()[:4])
	c := Code{
		Value:      fmt.Sprintf("REF%s%s", now.Format("20060102"), suffix),
		ReferrerID: referrerID,
		CreatedAt:  now,
	}
	if err := d.store.SaveCode(ctx, c); err != nil {
		return Code{}, err
	}
	return c, nil
}

// Resolve returns the referrer owning the code. Expired or unknown codes
// fail with ErrUnknownCode.
func (d *Directory) Resolve(ctx context.Context, code string) (ledger.UserID, error) {
	c, ok, err := d.store.CodeByValue(ctx, code)
	if err != nil {
		return "", err
	}
	if !ok || d.now().Sub(c.CreatedAt) > d.codeValidity {
		return "", fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}
	return c.ReferrerID, nil
}

// =============================================================================
// RELATIONSHIPS
// =============================================================================

// Register links a referee to the referrer owning the given code.
// The relationship starts inactive; it carries no reward entitlement
// until the referee's first qualifying purchase activates it.
func (d *Directory) Register(ctx context.Context, referrerID, refereeID ledger.UserID, code string) (Relationship, error) {
	if _, ok, err := d.store.RelationshipByReferee(ctx, refereeID); err != nil {
		return Relationship{}, err
	} else if ok {
		return Relationship{}, fmt.Errorf("%w: %s", ErrDuplicateReferee, refereeID)
	}

	owner, err := d.Resolve(ctx, code)
	if err != nil {
		return Relationship{}, err
	}
	if owner != referrerID {
		// The code decides who earns; a mismatched claim is an unknown code
		// from the caller's point of view.
		return Relationship{}, fmt.Errorf("%w: %s not owned by %s", ErrUnknownCode, code, referrerID)
	}

	r := Relationship{
		ID:         NewRelationshipID(),
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Code:       code,
		CreatedAt:  d.now(),
		IsActive:   false,
	}
	if err := d.store.SaveRelationship(ctx, r); err != nil {
		return Relationship{}, err
	}

	d.log.Info().
		Str("referrer_id", string(referrerID)).
		Str("referee_id", string(refereeID)).
		Str("code", code).
		Msg("referral relationship registered")
	return r, nil
}

// Activate marks the referee's relationship active. Idempotent: an
// already-active relationship is a no-op, not an error.
func (d *Directory) Activate(ctx context.Context, refereeID ledger.UserID) error {
	r, ok, err := d.store.RelationshipByReferee(ctx, refereeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no relationship for referee %s", ErrNotFound, refereeID)
	}
	if r.IsActive {
		return nil
	}
	return d.store.ActivateRelationship(ctx, refereeID, d.now())
}

// ActiveReferrer returns the referrer of the referee's relationship if,
// and only if, the relationship is active. The points engine uses this
// as its reward gate.
func (d *Directory) ActiveReferrer(ctx context.Context, refereeID ledger.UserID) (ledger.UserID, bool, error) {
	r, ok, err := d.store.RelationshipByReferee(ctx, refereeID)
	if err != nil {
		return "", false, err
	}
	if !ok || !r.IsActive {
		return "", false, nil
	}
	return r.ReferrerID, true, nil
}

// =============================================================================
// REPORTING
// =============================================================================

// Stats summarizes a referrer's relationships and commission totals.
type Stats struct {
	TotalReferrals     int
	ActiveReferrals    int
	TotalCommission    ledger.Amount
	PendingCommission  ledger.Amount
	PaidCommission     ledger.Amount
	Relationships      []Relationship
}

// Stats aggregates over the referrer's relationships and commissions.
func (d *Directory) Stats(ctx context.Context, commissions CommissionStore, referrerID ledger.UserID) (Stats, error) {
	rels, err := d.store.RelationshipsByReferrer(ctx, referrerID)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		TotalReferrals:    len(rels),
		TotalCommission:   ledger.Zero(),
		PendingCommission: ledger.Zero(),
		PaidCommission:    ledger.Zero(),
		Relationships:     rels,
	}
	for _, r := range rels {
		if r.IsActive {
			s.ActiveReferrals++
		}
	}

	comms, err := commissions.CommissionsByReferrer(ctx, referrerID)
	if err != nil {
		return Stats{}, err
	}
	for _, c := range comms {
		if c.Status == CommissionCancelled {
			continue
		}
		s.TotalCommission = s.TotalCommission.Add(c.Amount)
		switch c.Status {
		case CommissionPending:
			s.PendingCommission = s.PendingCommission.Add(c.Amount)
		case CommissionPaid:
			s.PaidCommission = s.PaidCommission.Add(c.Amount)
		}
	}
	return s, nil
}

// Link is a shareable referral entry point. The QR URL points at the
// imaging collaborator; no image is synthesized here.
type Link struct {
	Code        string
	ReferralURL string
	QRCodeURL   string
}

// Links returns a shareable link per code the referrer owns.
func (d *Directory) Links(ctx context.Context, referrerID ledger.UserID) ([]Link, error) {
	codes, err := d.store.CodesByReferrer(ctx, referrerID)
	if err != nil {
		return nil, err
	}

	links := make([]Link, 0, len(codes))
	for _, c := range codes {
		target := fmt.Sprintf("%s/register?ref=%s", d.baseURL, c.Value)
		links = append(links, Link{
			Code:        c.Value,
			ReferralURL: target,
			QRCodeURL:   fmt.Sprintf("%s/api/qrcode?text=%s", d.baseURL, url.QueryEscape(target)),
		})
	}
	return links, nil
}
