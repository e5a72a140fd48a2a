/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  carries append-only semantics: a single Append write operation and
  read-only loads. No Update or Delete methods exist; expiration and
  corrections are represented as new entries.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests

CONCURRENCY CONTRACT:
  Append is atomic. A concurrent Entries read for the same user observes
  either the pre-append or post-append sequence, never a partial one.
  Serialization of read-then-append sequences is the caller's job, via
  the per-user Locks in this package.
*/
package ledger

import "context"

// Store handles persistence of ledger entries. Append-only.
type Store interface {
	// Append persists a single entry atomically. The ONLY write operation.
	Append(ctx context.Context, e Entry) error

	// Entries returns all entries for a user in chronological order
	// (CreatedAt, then insertion order for equal timestamps).
	Entries(ctx context.Context, userID UserID) ([]Entry, error)

	// Users returns every user with at least one entry. Used by the
	// expiration scanner to enumerate sweep targets.
	Users(ctx context.Context) ([]UserID, error)
}
