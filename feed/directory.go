package feed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/buildleads/permitfeed/permit"
)

// SQLDirectory is a permit.Directory reading the subscriptions table
// maintained by the external account system. The pipeline never writes
// it; an unreadable table aborts the run upstream.
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory over an already-opened database.
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// SubscriptionsSchema is the table contract the account system maintains.
// Applied here only so fresh installs and tests have the table.
const SubscriptionsSchema = `
CREATE TABLE IF NOT EXISTS subscriptions (
    user_id    TEXT NOT NULL,
    email      TEXT NOT NULL,
    city       TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    created_at INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, city)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
`

// ActiveSubscriptions returns every subscription with status 'active'.
func (d *SQLDirectory) ActiveSubscriptions(ctx context.Context) ([]permit.Subscription, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, email, city FROM subscriptions
		WHERE status = 'active'
		ORDER BY city, user_id`)
	if err != nil {
		return nil, fmt.Errorf("directory: query: %w", err)
	}
	defer rows.Close()

	var subs []permit.Subscription
	for rows.Next() {
		var s permit.Subscription
		if err := rows.Scan(&s.UserID, &s.Email, &s.City); err != nil {
			return nil, fmt.Errorf("directory: scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: rows: %w", err)
	}
	return subs, nil
}
