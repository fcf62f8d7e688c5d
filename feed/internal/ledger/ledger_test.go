package ledger

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buildleads/permitfeed/dbopen"
	"github.com/buildleads/permitfeed/permit"
)

func openTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, opts...)
}

func permits(numbers ...string) []permit.Permit {
	out := make([]permit.Permit, len(numbers))
	for i, n := range numbers {
		out[i] = permit.Permit{County: "davidson", PermitNumber: n}
	}
	return out
}

func TestFilterNew_EmptyLedger_AllNew(t *testing.T) {
	// WHAT: With an empty ledger, every permit in the batch is new.
	// WHY: First observation of a city must deliver the full batch.
	l := openTestLedger(t)
	ctx := context.Background()

	fresh, err := l.FilterNew(ctx, "davidson", permits("P1", "P2", "P3"))
	if err != nil {
		t.Fatalf("FilterNew: %v", err)
	}
	if len(fresh) != 3 {
		t.Fatalf("expected 3 fresh, got %d", len(fresh))
	}
	n, err := l.Count(ctx, "davidson")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 ledger records, got %d", n)
	}
}

func TestFilterNew_SecondRun_OnlyNovel(t *testing.T) {
	// WHAT: Re-running with an overlapping batch returns only the unseen permit.
	// WHY: Idempotent delivery — subscribers must never see the same permit twice.
	l := openTestLedger(t)
	ctx := context.Background()

	if _, err := l.FilterNew(ctx, "davidson", permits("P1", "P2", "P3")); err != nil {
		t.Fatalf("first run: %v", err)
	}

	fresh, err := l.FilterNew(ctx, "davidson", permits("P2", "P3", "P4"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(fresh) != 1 || fresh[0].PermitNumber != "P4" {
		t.Fatalf("expected only P4, got %v", fresh)
	}
}

func TestFilterNew_SameBatchTwice_SecondEmpty(t *testing.T) {
	// WHAT: Two consecutive calls on the same unmodified batch — second returns nothing.
	// WHY: The ledger write happens before return, so a repeat batch is fully seen.
	l := openTestLedger(t)
	ctx := context.Background()

	batch := permits("A1", "A2")
	if _, err := l.FilterNew(ctx, "davidson", batch); err != nil {
		t.Fatal(err)
	}
	fresh, err := l.FilterNew(ctx, "davidson", batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 0 {
		t.Fatalf("expected empty second result, got %d", len(fresh))
	}
}

func TestFilterNew_WithinBatchDuplicate_FirstWins(t *testing.T) {
	// WHAT: A permit number appearing twice in one raw batch yields exactly one fresh record.
	// WHY: A source site returning duplicates must not double-deliver or double-insert.
	l := openTestLedger(t)
	ctx := context.Background()

	batch := []permit.Permit{
		{County: "davidson", PermitNumber: "D1", Address: "first occurrence"},
		{County: "davidson", PermitNumber: "D1", Address: "second occurrence"},
	}
	fresh, err := l.FilterNew(ctx, "davidson", batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 {
		t.Fatalf("expected 1 fresh, got %d", len(fresh))
	}
	if fresh[0].Address != "first occurrence" {
		t.Fatalf("expected first occurrence to win, got %q", fresh[0].Address)
	}
}

func TestFilterNew_EmptyBatch_Cheap(t *testing.T) {
	// WHAT: An empty batch returns an empty result and no error.
	// WHY: Zero new permits is the common case, not a failure.
	l := openTestLedger(t)

	fresh, err := l.FilterNew(context.Background(), "davidson", nil)
	if err != nil {
		t.Fatalf("FilterNew(nil): %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("expected empty, got %d", len(fresh))
	}
}

func TestFilterNew_CitiesAreDisjoint(t *testing.T) {
	// WHAT: The same permit number in two different cities is new in each.
	// WHY: Identity is scoped to (city, permit_number) — cities never contend.
	l := openTestLedger(t)
	ctx := context.Background()

	if _, err := l.FilterNew(ctx, "davidson", permits("P1")); err != nil {
		t.Fatal(err)
	}
	fresh, err := l.FilterNew(ctx, "rutherford", permits("P1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 {
		t.Fatalf("P1 should be new in rutherford, got %d fresh", len(fresh))
	}
}

func TestContains(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if _, err := l.FilterNew(ctx, "davidson", permits("P9")); err != nil {
		t.Fatal(err)
	}
	ok, err := l.Contains(ctx, "davidson", "P9")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("P9 should be contained after FilterNew")
	}
	ok, err = l.Contains(ctx, "davidson", "P10")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("P10 should not be contained")
	}
}

func TestPrune_RetentionBoundary(t *testing.T) {
	// WHAT: Prune removes records older than the horizon and keeps younger ones.
	// WHY: Bounded state growth without ever pruning records still inside retention.
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-40 * 24 * time.Hour)
	l := openTestLedger(t, WithNow(func() time.Time { return clock }))
	ctx := context.Background()

	// Record OLD1 40 days ago, then YNG1 10 days ago.
	if _, err := l.FilterNew(ctx, "davidson", permits("OLD1")); err != nil {
		t.Fatal(err)
	}
	clock = now.Add(-10 * 24 * time.Hour)
	if _, err := l.FilterNew(ctx, "davidson", permits("YNG1")); err != nil {
		t.Fatal(err)
	}

	clock = now
	deleted, err := l.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	old, err := l.Contains(ctx, "davidson", "OLD1")
	if err != nil {
		t.Fatal(err)
	}
	if old {
		t.Fatal("OLD1 should have been pruned")
	}
	young, err := l.Contains(ctx, "davidson", "YNG1")
	if err != nil {
		t.Fatal(err)
	}
	if !young {
		t.Fatal("YNG1 should have survived pruning")
	}
}

func TestPrune_PrunedPermitIsNewAgain(t *testing.T) {
	// WHAT: A permit whose record was pruned is treated as new on re-scrape.
	// WHY: The ledger tracks delivery history inside the horizon, nothing more.
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-45 * 24 * time.Hour)
	l := openTestLedger(t, WithNow(func() time.Time { return clock }))
	ctx := context.Background()

	if _, err := l.FilterNew(ctx, "davidson", permits("R1")); err != nil {
		t.Fatal(err)
	}
	clock = now
	if _, err := l.Prune(ctx, 30*24*time.Hour); err != nil {
		t.Fatal(err)
	}

	fresh, err := l.FilterNew(ctx, "davidson", permits("R1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 {
		t.Fatalf("R1 should be new again after prune, got %d fresh", len(fresh))
	}
}

func TestRunLog_RoundTrip(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	l.LogRun(ctx, RunEntry{
		RunID: "r1", City: "davidson", Status: "ok",
		Scraped: 10, Fresh: 3, Delivered: 2, Failed: 1,
		Duration: 1500 * time.Millisecond,
	})
	l.LogRun(ctx, RunEntry{RunID: "r1", City: "rutherford", Status: "scrape_failed", Error: "timeout"})

	entries, err := l.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestCleanupRunLog_RemovesOldEntries(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-100 * 24 * time.Hour)
	l := openTestLedger(t, WithNow(func() time.Time { return clock }))
	ctx := context.Background()

	l.LogRun(ctx, RunEntry{RunID: "old", City: "davidson", Status: "ok"})
	clock = now
	l.LogRun(ctx, RunEntry{RunID: "new", City: "davidson", Status: "ok"})

	if err := l.CleanupRunLog(ctx, 90); err != nil {
		t.Fatal(err)
	}
	entries, err := l.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].RunID != "new" {
		t.Fatalf("expected only the recent entry, got %v", entries)
	}
}
