package dump

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/buildleads/permitfeed/permit"
)

var runDate = time.Date(2026, 8, 28, 11, 30, 0, 0, time.UTC)

func TestWrite_PathLayout(t *testing.T) {
	// WHAT: Dumps are addressed by (city, run date, user).
	// WHY: The archive layer looks files up by exactly that triple.
	w := NewWriter(t.TempDir())

	path, err := w.Write(context.Background(), "Nashville-Davidson", "user-1", runDate,
		[]permit.Permit{{County: "Davidson", PermitNumber: "P1"}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := filepath.Join("Nashville-Davidson", "2026-08-28", "user-1.csv")
	if !strings.HasSuffix(path, want) {
		t.Fatalf("path = %q, want suffix %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("dump file missing: %v", err)
	}
}

func TestWrite_CSVContent(t *testing.T) {
	// WHAT: The CSV carries the header plus one row per permit with
	// passthrough fields intact.
	w := NewWriter(t.TempDir())

	batch := []permit.Permit{
		{
			County: "Davidson", PermitNumber: "P1", Address: "12 Main St",
			PermitType: "Residential", IssuedDate: "2026-08-27",
			EstimatedValue: "45000", WorkDescription: "roof replacement",
			SourceURL: "https://example.gov/p1",
		},
		{County: "Davidson", PermitNumber: "P2"},
	}
	path, err := w.Write(context.Background(), "davidson", "u1", runDate, batch)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}
	if records[1][0] != "P1" || records[1][2] != "12 Main St" || records[1][6] != "roof replacement" {
		t.Fatalf("row 1 fields wrong: %v", records[1])
	}
}

func TestWrite_NoTmpLeftBehind(t *testing.T) {
	// WHAT: After a successful write only the final file exists.
	// WHY: The tmp+rename protocol must not leak partial files to consumers.
	root := t.TempDir()
	w := NewWriter(root)

	if _, err := w.Write(context.Background(), "davidson", "u1", runDate,
		[]permit.Permit{{PermitNumber: "P1"}}); err != nil {
		t.Fatal(err)
	}

	var tmps []string
	filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err == nil && strings.HasSuffix(p, ".tmp") {
			tmps = append(tmps, p)
		}
		return nil
	})
	if len(tmps) != 0 {
		t.Fatalf("tmp files left behind: %v", tmps)
	}
}

func TestWrite_SanitizesPathComponents(t *testing.T) {
	// WHAT: City and user keys with separators cannot escape the dump root.
	w := NewWriter(t.TempDir())

	path, err := w.Write(context.Background(), "../davidson", "u/1", runDate,
		[]permit.Permit{{PermitNumber: "P1"}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(path, "..") || strings.Contains(filepath.Base(path), "/") {
		t.Fatalf("unsanitized path: %q", path)
	}
}

func TestWrite_CancelledContext(t *testing.T) {
	w := NewWriter(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.Write(ctx, "davidson", "u1", runDate, nil); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
