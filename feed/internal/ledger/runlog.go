package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunEntry is one per-city pipeline outcome recorded for observability.
type RunEntry struct {
	RunID     string
	City      string
	Status    string // ok | empty | scrape_failed | ledger_failed | aborted
	Scraped   int
	Fresh     int
	Delivered int
	Failed    int
	Error     string
	Duration  time.Duration
}

// LogRun records a run entry. Non-blocking contract: errors are logged
// via slog but do not propagate, so a failing audit insert never fails a
// pipeline run.
func (l *Ledger) LogRun(ctx context.Context, e RunEntry) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO run_log (
			id, run_id, city, status, scraped, fresh, delivered,
			failed, error_message, duration_ms, completed_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), e.RunID, e.City, e.Status, e.Scraped, e.Fresh, e.Delivered,
		e.Failed, e.Error, e.Duration.Milliseconds(), l.now().Unix())
	if err != nil {
		slog.Error("ledger: run log failed", "error", err, "city", e.City)
	}
}

// RecentRuns returns the most recent run entries, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, city, status, scraped, fresh, delivered, failed,
		       error_message, duration_ms
		FROM run_log ORDER BY completed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var e RunEntry
		var durMS int64
		if err := rows.Scan(&e.RunID, &e.City, &e.Status, &e.Scraped, &e.Fresh,
			&e.Delivered, &e.Failed, &e.Error, &durMS); err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		e.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// CleanupRunLog deletes audit rows older than the given number of days.
func (l *Ledger) CleanupRunLog(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := l.now().Unix() - int64(days)*86400
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM run_log WHERE completed_at < ?`, cutoff); err != nil {
		return fmt.Errorf("ledger: cleanup run log: %w", err)
	}
	return nil
}
