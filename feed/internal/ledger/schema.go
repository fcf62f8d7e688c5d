package ledger

import "database/sql"

// Schema holds the seen-permit ledger and the per-run audit log.
//
// seen_permits is the source of truth for "have we ever told anyone
// about this permit". One row per (city, permit_id); rows are immutable
// and removed only by Prune once first_seen_at passes the retention
// horizon.
const Schema = `
CREATE TABLE IF NOT EXISTS seen_permits (
    city          TEXT NOT NULL,
    permit_id     TEXT NOT NULL,
    first_seen_at INTEGER NOT NULL,
    PRIMARY KEY (city, permit_id)
);
CREATE INDEX IF NOT EXISTS idx_seen_permits_age ON seen_permits(first_seen_at);

-- Per-city pipeline outcomes (observability)
CREATE TABLE IF NOT EXISTS run_log (
    id            TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL,
    city          TEXT NOT NULL,
    status        TEXT NOT NULL,
    scraped       INTEGER NOT NULL DEFAULT 0,
    fresh         INTEGER NOT NULL DEFAULT 0,
    delivered     INTEGER NOT NULL DEFAULT 0,
    failed        INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    completed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_log_time ON run_log(completed_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_log_run ON run_log(run_id);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
