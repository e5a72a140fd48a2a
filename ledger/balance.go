/*
balance.go - FIFO balance derivation

PURPOSE:
  Computes earned/used/available/expired totals for a user by replaying
  the full entry history. There is no cached balance: every call walks
  the entries, so the result can never drift from the ledger.

FIFO CONSUMPTION:
  When a debit occurs it is attributed to the oldest not-yet-fully-
  consumed credit that was still unexpired at the debit's time. A credit
  nearer its expiry is therefore consumed before a newer one, which
  determines exactly which points expire when a user under-spends.

EXAMPLE:
  C1 (5 pts, expires day 10), C2 (5 pts, expires day 20).
  Redeem 3 before day 10 -> C1 remainder 2, C2 untouched.
  Sweep at day 11 expires exactly 2 (C1's remainder); available = 5.

EXPIRED ACCOUNTING:
  Expired = remainders recorded by Expiration entries, plus remainders of
  past-due credits the scanner has not swept yet. With that definition
  the invariant available = earned - used - expired holds at every
  instant.

SEE ALSO:
  - ledger.go: uses the same replay to validate debit coverage
  - expiry: appends the Expiration entries consumed here
*/
package ledger

import (
	"time"
)

// =============================================================================
// BALANCE - Derived totals at an instant
// =============================================================================

type Balance struct {
	UserID UserID
	AsOf   time.Time

	// Earned is the sum of credit entries created at or before AsOf.
	Earned Amount

	// Used is the sum of redemption and refund debits at or before AsOf.
	// Expiration entries are not "used"; they land in Expired.
	Used Amount

	// Available is what can be spent right now.
	Available Amount

	// Expired is credit value whose expiry passed before it was consumed.
	Expired Amount
}

// =============================================================================
// CREDIT LOTS - Per-credit remainders under FIFO replay
// =============================================================================

// CreditLot is a credit entry together with its unconsumed remainder
// after replaying all debits against it.
type CreditLot struct {
	Entry     Entry
	Remaining Amount
}

// ExpiringCredit describes a credit approaching its expiry, for reminders.
type ExpiringCredit struct {
	EntryID   EntryID
	Remaining Amount
	ExpiresAt time.Time
	DaysLeft  int
}

// =============================================================================
// REPLAY
// =============================================================================

// replay walks entries created at or before 'at' in order, allocating
// debits against credit lots FIFO. Returns the lots plus the value
// explicitly extinguished by Expiration entries.
func replay(entries []Entry, at time.Time) (lots []CreditLot, recordedExpired Amount) {
	recordedExpired = Zero()

	index := make(map[EntryID]int)

	for _, e := range entries {
		if e.CreatedAt.After(at) {
			continue
		}

		switch {
		case e.IsCredit():
			index[e.ID] = len(lots)
			lots = append(lots, CreditLot{Entry: e, Remaining: e.Amount})

		case e.Kind == KindExpiration:
			// An Expiration entry zeroes the remainder of exactly one credit.
			if i, ok := index[e.RelatedEntryID]; ok {
				extinguished := e.Amount.Abs().Min(lots[i].Remaining)
				lots[i].Remaining = lots[i].Remaining.Sub(extinguished)
				recordedExpired = recordedExpired.Add(extinguished)
			}

		default:
			// Redemption or Refund: consume oldest credit first, skipping
			// credits already expired at the debit's own time.
			owed := e.Amount.Abs()
			for i := range lots {
				if owed.IsZero() {
					break
				}
				if lots[i].Remaining.IsZero() || lots[i].Entry.ExpiredAt(e.CreatedAt) {
					continue
				}
				take := owed.Min(lots[i].Remaining)
				lots[i].Remaining = lots[i].Remaining.Sub(take)
				owed = owed.Sub(take)
			}
		}
	}
	return lots, recordedExpired
}

// BalanceAsOf derives the full balance for a user from their entry
// history, considering only entries created at or before 'at'.
func BalanceAsOf(userID UserID, entries []Entry, at time.Time) Balance {
	earned, used := Zero(), Zero()
	for _, e := range entries {
		if e.CreatedAt.After(at) {
			continue
		}
		switch e.Kind {
		case KindPurchase, KindReferralReward:
			earned = earned.Add(e.Amount)
		case KindRedemption, KindRefund:
			used = used.Add(e.Amount.Abs())
		}
	}

	lots, expired := replay(entries, at)
	available := Zero()
	for _, lot := range lots {
		if lot.Remaining.IsZero() {
			continue
		}
		if lot.Entry.ExpiredAt(at) {
			// Past-due remainder the scanner has not swept yet.
			expired = expired.Add(lot.Remaining)
		} else {
			available = available.Add(lot.Remaining)
		}
	}

	return Balance{
		UserID:    userID,
		AsOf:      at,
		Earned:    earned,
		Used:      used,
		Available: available,
		Expired:   expired,
	}
}

// Lots returns the per-credit remainders after full FIFO replay at 'at'.
func Lots(entries []Entry, at time.Time) []CreditLot {
	lots, _ := replay(entries, at)
	return lots
}

// DueForExpiry returns credits that are past due at 'now' with a nonzero
// unswept remainder. The expiration scanner turns each into an
// Expiration entry; running it again returns nothing, because the first
// run's entries zero the remainders during replay.
func DueForExpiry(entries []Entry, now time.Time) []CreditLot {
	var due []CreditLot
	for _, lot := range Lots(entries, now) {
		if lot.Entry.ExpiredAt(now) && lot.Remaining.IsPositive() {
			due = append(due, lot)
		}
	}
	return due
}

// ExpiringWithin reports credits that still hold points and will expire
// within the next 'days' days, for expiry warnings.
func ExpiringWithin(entries []Entry, now time.Time, days int) []ExpiringCredit {
	horizon := now.AddDate(0, 0, days)

	var out []ExpiringCredit
	for _, lot := range Lots(entries, now) {
		exp := lot.Entry.ExpiresAt
		if !lot.Remaining.IsPositive() || !exp.After(now) || exp.After(horizon) {
			continue
		}
		daysLeft := int(exp.Sub(now).Hours() / 24)
		if exp.Sub(now)%(24*time.Hour) != 0 {
			daysLeft++
		}
		out = append(out, ExpiringCredit{
			EntryID:   lot.Entry.ID,
			Remaining: lot.Remaining,
			ExpiresAt: exp,
			DaysLeft:  daysLeft,
		})
	}
	return out
}
