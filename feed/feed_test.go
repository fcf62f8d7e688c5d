package feed

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/buildleads/permitfeed/permit"
)

type staticDirectory struct{ subs []permit.Subscription }

func (d staticDirectory) ActiveSubscriptions(ctx context.Context) ([]permit.Subscription, error) {
	return d.subs, nil
}

type staticScraper struct{ batches map[string][]permit.Permit }

func (s staticScraper) Scrape(ctx context.Context, metro string) ([]permit.Permit, error) {
	return s.batches[metro], nil
}

type recordingNotifier struct{ sent []permit.Delivery }

func (n *recordingNotifier) Notify(ctx context.Context, d permit.Delivery) error {
	n.sent = append(n.sent, d)
	return nil
}

func testService(t *testing.T, notifier permit.Notifier) *Service {
	t.Helper()
	dir := t.TempDir()
	cfg := &Config{
		DBPath:  filepath.Join(dir, "feed.db"),
		DumpDir: filepath.Join(dir, "dumps"),
	}
	scraper := staticScraper{batches: map[string][]permit.Permit{
		"Davidson": {
			{County: "Davidson", PermitNumber: "2025-00017", Address: "100 Broadway"},
			{County: "Davidson", PermitNumber: "2025-00018", Address: "200 Broadway"},
		},
	}}
	directory := staticDirectory{subs: []permit.Subscription{
		{UserID: "u1", Email: "a@example.com", City: "Davidson"},
	}}

	svc, err := New(cfg, scraper, directory, notifier, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

// WHAT: a full RunOnce over a fresh ledger scrapes, dumps, and
// notifies; a second run the same day finds nothing new.
// WHY: exercises the whole wiring path New builds, end to end.
func TestServiceRunOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := testService(t, notifier)
	ctx := context.Background()

	report, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.RunID == "" {
		t.Error("report missing run ID")
	}
	if len(report.Cities) != 1 {
		t.Fatalf("got %d cities, want 1: %+v", len(report.Cities), report.Cities)
	}
	city := report.Cities[0]
	if city.City != "Davidson" || city.Scraped != 2 || city.Fresh != 2 || city.Delivered != 1 {
		t.Errorf("unexpected city report: %+v", city)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.sent))
	}
	if notifier.sent[0].PermitCount != 2 {
		t.Errorf("PermitCount = %d, want 2", notifier.sent[0].PermitCount)
	}
	if _, err := os.Stat(notifier.sent[0].DumpRef); err != nil {
		t.Errorf("dump file missing: %v", err)
	}

	// Same batch again: nothing fresh, nobody notified.
	report, err = svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if got := report.Cities[0]; got.Fresh != 0 || got.Delivered != 0 {
		t.Errorf("second run city report: %+v", got)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("got %d notifications after second run, want still 1", len(notifier.sent))
	}
}

// WHAT: RecentRuns surfaces the persisted per-city outcomes.
func TestServiceRecentRuns(t *testing.T) {
	svc := testService(t, &recordingNotifier{})
	ctx := context.Background()

	if _, err := svc.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, err := svc.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}

	entries, err := svc.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// One run found everything fresh, the other nothing.
	fresh := entries[0].Fresh + entries[1].Fresh
	if fresh != 2 {
		t.Errorf("total fresh = %d, want 2: %+v", fresh, entries)
	}
	for _, e := range entries {
		if e.City != "Davidson" || e.RunID == "" {
			t.Errorf("unexpected entry: %+v", e)
		}
	}
}

// WHAT: New refuses nil collaborators.
func TestServiceRequiresCollaborators(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{DBPath: filepath.Join(dir, "feed.db"), DumpDir: dir}
	_, err := New(cfg, nil, nil, nil, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatal("expected error for nil collaborators")
	}
}
