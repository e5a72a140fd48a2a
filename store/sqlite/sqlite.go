/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store plus the referral relationship and commission
  stores. The same patterns apply to PostgreSQL; only minor SQL dialect
  differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches ledger_entries. Expiration and
  refunds are new rows. The referral tables permit exactly the two
  state transitions the domain allows: relationship activation and
  commission settlement.

KEY TABLES:
  ledger_entries:         Immutable points ledger
  referral_codes:         Code -> referrer ownership
  referral_relationships: One row per referee, activation one-way
  referral_commissions:   One row per rewarded order

ORDERING:
  Entries are returned ordered by created_at, then by the seq rowid, so
  two entries written in the same nanosecond still replay in insertion
  order. Timestamps are stored as fixed-width UTC text so that lexical
  order equals chronological order.

WAL MODE:
  Opened with WAL so readers don't block the single writer.

USAGE:
  store, err := sqlite.New("./loyalty.db")
  defer store.Close()
  l := ledger.New(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/referral"
)

// timeFormat pads fractional seconds to full width. RFC3339Nano drops
// trailing zeros, which breaks lexical ordering of the TEXT columns
// ("...00.5Z" would sort after "...00.51Z").
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.Store, referral.RelationshipStore and
// referral.CommissionStore on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Points ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		related_order_id TEXT,
		counterparty_user_id TEXT,
		related_entry_id TEXT,
		created_at TEXT NOT NULL,
		expires_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_entries_user_created
		ON ledger_entries(user_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_user_order
		ON ledger_entries(user_id, kind, related_order_id)
		WHERE related_order_id IS NOT NULL;

	-- Referral codes
	CREATE TABLE IF NOT EXISTS referral_codes (
		value TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_codes_referrer ON referral_codes(referrer_id);

	-- Referral relationships: at most one per referee
	CREATE TABLE IF NOT EXISTS referral_relationships (
		id TEXT NOT NULL UNIQUE,
		referrer_id TEXT NOT NULL,
		referee_id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		created_at TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		activated_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_relationships_referrer
		ON referral_relationships(referrer_id);

	-- Commission bookkeeping: one per rewarded order
	CREATE TABLE IF NOT EXISTS referral_commissions (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL,
		referee_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		order_amount TEXT NOT NULL,
		rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		settled_at TEXT,
		UNIQUE(referee_id, order_id)
	);
	CREATE INDEX IF NOT EXISTS idx_commissions_referrer
		ON referral_commissions(referrer_id);
	CREATE INDEX IF NOT EXISTS idx_commissions_status_created
		ON referral_commissions(status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, user_id, kind, amount, balance_after, related_order_id,
			 counterparty_user_id, related_entry_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.UserID), string(e.Kind),
		e.Amount.String(), e.BalanceAfter.String(),
		nullableString(string(e.RelatedOrderID)),
		nullableString(string(e.CounterpartyUserID)),
		nullableString(string(e.RelatedEntryID)),
		e.CreatedAt.UTC().Format(timeFormat),
		nullableTime(e.ExpiresAt),
	)
	return err
}

func (s *Store) Entries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, balance_after, related_order_id,
		       counterparty_user_id, related_entry_id, created_at, expires_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY created_at, seq`,
		string(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Users(ctx context.Context) ([]ledger.UserID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM ledger_entries GROUP BY user_id ORDER BY MIN(seq)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, ledger.UserID(id))
	}
	return users, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e                             ledger.Entry
		id, userID, kind              string
		amount, balanceAfter, created string
		orderID, counterparty         sql.NullString
		relatedEntry, expires         sql.NullString
	)
	if err := rows.Scan(&id, &userID, &kind, &amount, &balanceAfter,
		&orderID, &counterparty, &relatedEntry, &created, &expires); err != nil {
		return e, err
	}

	e.ID = ledger.EntryID(id)
	e.UserID = ledger.UserID(userID)
	e.Kind = ledger.EntryKind(kind)

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return e, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	e.Amount = ledger.AmountFromDecimal(amt)

	bal, err := decimal.NewFromString(balanceAfter)
	if err != nil {
		return e, fmt.Errorf("corrupt balance %q: %w", balanceAfter, err)
	}
	e.BalanceAfter = ledger.AmountFromDecimal(bal)

	e.RelatedOrderID = ledger.OrderID(orderID.String)
	e.CounterpartyUserID = ledger.UserID(counterparty.String)
	e.RelatedEntryID = ledger.EntryID(relatedEntry.String)

	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return e, fmt.Errorf("corrupt created_at %q: %w", created, err)
	}
	if expires.Valid {
		if e.ExpiresAt, err = time.Parse(time.RFC3339Nano, expires.String); err != nil {
			return e, fmt.Errorf("corrupt expires_at %q: %w", expires.String, err)
		}
	}
	return e, nil
}

// =============================================================================
// REFERRAL CODE STORE
// =============================================================================

func (s *Store) SaveCode(ctx context.Context, c referral.Code) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO referral_codes (value, referrer_id, created_at)
		VALUES (?, ?, ?)`,
		c.Value, string(c.ReferrerID), c.CreatedAt.UTC().Format(timeFormat))
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", referral.ErrCodeTaken, c.Value)
	}
	return err
}

func (s *Store) CodeByValue(ctx context.Context, value string) (referral.Code, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value, referrer_id, created_at FROM referral_codes WHERE value = ?`, value)

	var c referral.Code
	var referrerID, created string
	if err := row.Scan(&c.Value, &referrerID, &created); err != nil {
		if err == sql.ErrNoRows {
			return referral.Code{}, false, nil
		}
		return referral.Code{}, false, err
	}
	c.ReferrerID = ledger.UserID(referrerID)
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return referral.Code{}, false, err
	}
	c.CreatedAt = t
	return c, true, nil
}

func (s *Store) CodesByReferrer(ctx context.Context, referrerID ledger.UserID) ([]referral.Code, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value, referrer_id, created_at FROM referral_codes
		WHERE referrer_id = ? ORDER BY created_at`, string(referrerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []referral.Code
	for rows.Next() {
		var c referral.Code
		var rid, created string
		if err := rows.Scan(&c.Value, &rid, &created); err != nil {
			return nil, err
		}
		c.ReferrerID = ledger.UserID(rid)
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// =============================================================================
// RELATIONSHIP STORE
// =============================================================================

func (s *Store) SaveRelationship(ctx context.Context, r referral.Relationship) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO referral_relationships
			(id, referrer_id, referee_id, code, created_at, is_active, activated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.ReferrerID), string(r.RefereeID), r.Code,
		r.CreatedAt.UTC().Format(timeFormat),
		boolToInt(r.IsActive), nullableTime(r.ActivatedAt))
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", referral.ErrDuplicateReferee, r.RefereeID)
	}
	return err
}

func (s *Store) RelationshipByReferee(ctx context.Context, refereeID ledger.UserID) (referral.Relationship, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, referrer_id, referee_id, code, created_at, is_active, activated_at
		FROM referral_relationships WHERE referee_id = ?`, string(refereeID))

	r, err := scanRelationship(row.Scan)
	if err == sql.ErrNoRows {
		return referral.Relationship{}, false, nil
	}
	if err != nil {
		return referral.Relationship{}, false, err
	}
	return r, true, nil
}

func (s *Store) RelationshipsByReferrer(ctx context.Context, referrerID ledger.UserID) ([]referral.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, referrer_id, referee_id, code, created_at, is_active, activated_at
		FROM referral_relationships WHERE referrer_id = ? ORDER BY created_at`,
		string(referrerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []referral.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows.Scan)
		if err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// ActivateRelationship is the single permitted mutation of a
// relationship: inactive -> active, one-way.
func (s *Store) ActivateRelationship(ctx context.Context, refereeID ledger.UserID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE referral_relationships
		SET is_active = 1, activated_at = ?
		WHERE referee_id = ? AND is_active = 0`,
		at.UTC().Format(timeFormat), string(refereeID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already active (fine, idempotent) or missing.
		if _, ok, err := s.RelationshipByReferee(ctx, refereeID); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: referee %s", referral.ErrNotFound, refereeID)
		}
	}
	return nil
}

func scanRelationship(scan func(dest ...any) error) (referral.Relationship, error) {
	var (
		r                         referral.Relationship
		id, referrerID, refereeID string
		code, created             string
		isActive                  int
		activatedAt               sql.NullString
	)
	if err := scan(&id, &referrerID, &refereeID, &code, &created, &isActive, &activatedAt); err != nil {
		return r, err
	}
	r.ID = referral.RelationshipID(id)
	r.ReferrerID = ledger.UserID(referrerID)
	r.RefereeID = ledger.UserID(refereeID)
	r.Code = code
	r.IsActive = isActive != 0

	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return r, err
	}
	if activatedAt.Valid {
		if r.ActivatedAt, err = time.Parse(time.RFC3339Nano, activatedAt.String); err != nil {
			return r, err
		}
	}
	return r, nil
}

// =============================================================================
// COMMISSION STORE
// =============================================================================

func (s *Store) SaveCommission(ctx context.Context, c referral.Commission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO referral_commissions
			(id, referrer_id, referee_id, order_id, order_amount, rate, amount,
			 status, created_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID), string(c.ReferrerID), string(c.RefereeID), string(c.OrderID),
		c.OrderAmount.String(), c.Rate.String(), c.Amount.String(),
		string(c.Status), c.CreatedAt.UTC().Format(timeFormat),
		nullableTimePtr(c.SettledAt))
	return err
}

func (s *Store) CommissionByOrder(ctx context.Context, refereeID ledger.UserID, orderID ledger.OrderID) (referral.Commission, bool, error) {
	row := s.db.QueryRowContext(ctx, commissionSelect+`
		WHERE referee_id = ? AND order_id = ?`, string(refereeID), string(orderID))

	c, err := scanCommission(row.Scan)
	if err == sql.ErrNoRows {
		return referral.Commission{}, false, nil
	}
	if err != nil {
		return referral.Commission{}, false, err
	}
	return c, true, nil
}

func (s *Store) CommissionsByReferrer(ctx context.Context, referrerID ledger.UserID) ([]referral.Commission, error) {
	return s.queryCommissions(ctx, commissionSelect+`
		WHERE referrer_id = ? ORDER BY created_at`, string(referrerID))
}

func (s *Store) CommissionsPendingBetween(ctx context.Context, from, to time.Time) ([]referral.Commission, error) {
	return s.queryCommissions(ctx, commissionSelect+`
		WHERE status = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at`,
		string(referral.CommissionPending),
		from.UTC().Format(timeFormat),
		to.UTC().Format(timeFormat))
}

// SetCommissionStatus moves a Pending commission to a terminal status.
// The pending guard lives in the UPDATE so a concurrent settlement and
// cancellation cannot both win.
func (s *Store) SetCommissionStatus(ctx context.Context, id referral.CommissionID, status referral.CommissionStatus, settledAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE referral_commissions SET status = ?, settled_at = ?
		WHERE id = ? AND status = ?`,
		string(status), nullableTimePtr(settledAt), string(id),
		string(referral.CommissionPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, `
			SELECT status FROM referral_commissions WHERE id = ?`, string(id)).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: commission %s", referral.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is %s", referral.ErrCommissionSettled, id, current)
	}
	return nil
}

const commissionSelect = `
	SELECT id, referrer_id, referee_id, order_id, order_amount, rate, amount,
	       status, created_at, settled_at
	FROM referral_commissions`

func (s *Store) queryCommissions(ctx context.Context, query string, args ...any) ([]referral.Commission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []referral.Commission
	for rows.Next() {
		c, err := scanCommission(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCommission(scan func(dest ...any) error) (referral.Commission, error) {
	var (
		c                          referral.Commission
		id, referrerID, refereeID  string
		orderID, orderAmount, rate string
		amount, status, created    string
		settledAt                  sql.NullString
	)
	if err := scan(&id, &referrerID, &refereeID, &orderID, &orderAmount,
		&rate, &amount, &status, &created, &settledAt); err != nil {
		return c, err
	}

	c.ID = referral.CommissionID(id)
	c.ReferrerID = ledger.UserID(referrerID)
	c.RefereeID = ledger.UserID(refereeID)
	c.OrderID = ledger.OrderID(orderID)
	c.Status = referral.CommissionStatus(status)

	oa, err := decimal.NewFromString(orderAmount)
	if err != nil {
		return c, err
	}
	c.OrderAmount = ledger.AmountFromDecimal(oa)
	if c.Rate, err = decimal.NewFromString(rate); err != nil {
		return c, err
	}
	am, err := decimal.NewFromString(amount)
	if err != nil {
		return c, err
	}
	c.Amount = ledger.AmountFromDecimal(am)

	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return c, err
	}
	if settledAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, settledAt.String)
		if err != nil {
			return c, err
		}
		c.SettledAt = &t
	}
	return c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
