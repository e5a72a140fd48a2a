// errors.go - Referral error taxonomy. All recoverable; matched with errors.Is.
package referral

import "errors"

var (
	// ErrDuplicateReferee is returned when the referee already has a
	// relationship. A referee maps to at most one relationship, ever.
	ErrDuplicateReferee = errors.New("referee already has a referrer")

	// ErrUnknownCode is returned when a referral code resolves to no
	// referrer, or has passed its validity window.
	ErrUnknownCode = errors.New("unknown referral code")

	// ErrNoActiveReferral is returned when commission accrual is requested
	// for a referee without an active relationship.
	ErrNoActiveReferral = errors.New("no active referral relationship")

	// ErrNotFound is returned when a referenced relationship or commission
	// does not exist.
	ErrNotFound = errors.New("referral record not found")

	// ErrCodeTaken is returned when issuing a code that already exists.
	ErrCodeTaken = errors.New("referral code already taken")

	// ErrCommissionSettled is returned on a status transition from a
	// terminal state. Paid and Cancelled are final.
	ErrCommissionSettled = errors.New("commission already settled")
)
