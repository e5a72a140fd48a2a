/*
ledger.go - Validated append over a Store

PURPOSE:
  The Ledger is the single write path into the Store. Every append is
  validated against the entry's full history first:

    1. Kind is known and the amount's sign matches the kind's polarity
    2. Redemption/Refund debits are covered by the available balance
    3. Expiration debits are covered by the referenced credit's past-due
       remainder

  On success the entry's BalanceAfter snapshot is recomputed from the
  post-append history, so the stored snapshot can never disagree with a
  replay.

CORRECTIONS:
  No entry is ever edited. A refund does not remove the purchase credit;
  it appends a compensating debit, and both remain in the history.

CALLER CONTRACT:
  Append assumes the caller holds the user's lock (see locks.go) for the
  duration of any read-then-append sequence.
*/
package ledger

import (
	"context"
	"fmt"
)

// Ledger validates and appends entries. It does not lock; callers
// serialize per-user access via Locks.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Store exposes the underlying store for read-only use.
func (l *Ledger) Store() Store { return l.store }

// Append validates e against the user's history and persists it.
// Returns the entry with its BalanceAfter snapshot filled in.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := validateShape(e); err != nil {
		return Entry{}, err
	}

	history, err := l.store.Entries(ctx, e.UserID)
	if err != nil {
		return Entry{}, err
	}

	if !e.IsCredit() {
		if err := l.checkCoverage(e, history); err != nil {
			return Entry{}, err
		}
	}

	// BalanceAfter is derived from the post-append history, not tracked.
	after := BalanceAsOf(e.UserID, append(history, e), e.CreatedAt)
	e.BalanceAfter = after.Available

	if err := l.store.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func validateShape(e Entry) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, e.Kind)
	}
	if e.Amount.IsZero() {
		return fmt.Errorf("%w: zero amount", ErrInvalidAmount)
	}
	if e.Kind.IsCredit() != e.Amount.IsPositive() {
		return fmt.Errorf("%w: %s amount must be %s", ErrInvalidEntry,
			e.Kind, polarity(e.Kind))
	}
	if e.Kind.IsCredit() && e.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: credit entry without expiry", ErrInvalidEntry)
	}
	if e.Kind == KindExpiration && e.RelatedEntryID == "" {
		return fmt.Errorf("%w: expiration entry must reference a credit", ErrInvalidEntry)
	}
	return nil
}

func polarity(k EntryKind) string {
	if k.IsCredit() {
		return "positive"
	}
	return "negative"
}

func (l *Ledger) checkCoverage(e Entry, history []Entry) error {
	requested := e.Amount.Abs()

	if e.Kind == KindExpiration {
		// An expiration may only extinguish the referenced credit's
		// past-due remainder, never live balance.
		for _, lot := range DueForExpiry(history, e.CreatedAt) {
			if lot.Entry.ID == e.RelatedEntryID {
				if requested.GreaterThan(lot.Remaining) {
					return fmt.Errorf("%w: expiration %s exceeds remainder %s",
						ErrInvalidEntry, requested, lot.Remaining)
				}
				return nil
			}
		}
		return fmt.Errorf("%w: credit %s has no past-due remainder",
			ErrInvalidEntry, e.RelatedEntryID)
	}

	balance := BalanceAsOf(e.UserID, history, e.CreatedAt)
	if balance.Available.LessThan(requested) {
		return &InsufficientBalanceError{
			UserID:    e.UserID,
			Available: balance.Available,
			Requested: requested,
		}
	}
	return nil
}
