// Package ledger is the durable per-city store of previously delivered
// permit identities.
//
// All seen_permits writes go through FilterNew and all deletes through
// Prune; no other component touches the table. The insert-then-return
// contract in FilterNew deliberately biases a crash between marking and
// delivery toward not re-delivering: the next day's scrape continues
// forward from "now considered seen".
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/buildleads/permitfeed/dbopen"
	"github.com/buildleads/permitfeed/idgen"
	"github.com/buildleads/permitfeed/permit"
)

// Ledger wraps the seen-permit database.
type Ledger struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNow sets the clock used to stamp first_seen_at. Tests use this to
// plant records at controlled ages.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator sets the generator for run_log row IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Ledger) { l.newID = gen }
}

// New creates a Ledger over an already-opened database.
func New(db *sql.DB, opts ...Option) *Ledger {
	l := &Ledger{
		db:    db,
		newID: idgen.Prefixed("run_", idgen.Default),
		now:   time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// FilterNew returns the subset of batch never seen before for city, and
// records exactly that subset as seen. The membership test and insert
// happen in one transaction, so two concurrent filters for the same city
// cannot both judge the same permit new.
//
// A permit number appearing twice in one batch is collapsed to its first
// occurrence (stable input order) before it reaches the table. When
// nothing is new the returned slice is empty and err is nil — the common
// case, kept cheap. On transaction failure nothing is marked and nothing
// may be delivered for this city.
func (l *Ledger) FilterNew(ctx context.Context, city string, batch []permit.Permit) ([]permit.Permit, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	var fresh []permit.Permit
	err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		fresh = fresh[:0]
		now := l.now().Unix()
		inBatch := make(map[string]bool, len(batch))

		for _, p := range batch {
			id := permit.Identity(city, p.PermitNumber)
			if inBatch[id] {
				continue
			}
			inBatch[id] = true

			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO seen_permits (city, permit_id, first_seen_at) VALUES (?,?,?)`,
				city, id, now)
			if err != nil {
				return fmt.Errorf("insert %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if n > 0 {
				fresh = append(fresh, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: filter %s: %w", city, err)
	}
	return fresh, nil
}

// Contains reports whether a permit number has been recorded for city.
func (l *Ledger) Contains(ctx context.Context, city, permitNumber string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_permits WHERE city = ? AND permit_id = ?`,
		city, permit.Identity(city, permitNumber)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("ledger: contains: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of seen records for city.
func (l *Ledger) Count(ctx context.Context, city string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_permits WHERE city = ?`, city).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}

// Prune deletes records older than the retention horizon and returns the
// number deleted. Deletion is unconditional on age: the ledger tracks
// delivery history, not the lifecycle of the underlying permit.
func (l *Ledger) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := l.now().Add(-olderThan).Unix()
	res, err := dbopen.Exec(ctx, l.db,
		`DELETE FROM seen_permits WHERE first_seen_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: prune rows: %w", err)
	}
	return n, nil
}
