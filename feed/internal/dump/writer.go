// Package dump writes per-subscriber fresh-dump CSV files.
//
// Each file holds exactly the permits judged new on one run for one
// subscriber, addressed by (city, user, run date). Files are written
// atomically (write .tmp then rename) so a consumer never observes a
// partial dump, and are immutable after creation — retention is owned
// by the caller, not this package.
package dump

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/buildleads/permitfeed/permit"
)

// header is the fixed CSV column set. Passthrough fields are forwarded
// verbatim from the raw permit record.
var header = []string{
	"permit_number", "city", "address", "permit_type",
	"issued_date", "estimated_value", "work_description", "source_url",
}

// Writer deposits fresh-dump files under a root directory.
type Writer struct {
	root string
}

// NewWriter creates a Writer targeting the given root directory. The
// per-run directories are created on first write.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Write creates the dump for one subscriber and returns its path:
// <root>/<city>/<YYYY-MM-DD>/<user_id>.csv.
func (w *Writer) Write(ctx context.Context, city, userID string, runDate time.Time, batch []permit.Permit) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Join(w.root, sanitize(city), runDate.UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("dump: mkdir %s: %w", dir, err)
	}

	target := filepath.Join(dir, sanitize(userID)+".csv")
	tmp := target + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("dump: create tmp: %w", err)
	}

	cw := csv.NewWriter(f)
	writeErr := cw.Write(header)
	for _, p := range batch {
		if writeErr != nil {
			break
		}
		writeErr = cw.Write([]string{
			p.PermitNumber, city, p.Address, p.PermitType,
			p.IssuedDate, p.EstimatedValue, p.WorkDescription, p.SourceURL,
		})
	}
	cw.Flush()
	if writeErr == nil {
		writeErr = cw.Error()
	}
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("dump: write: %w", writeErr)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("dump: rename: %w", err)
	}
	return target, nil
}

// sanitize makes a city or user key safe as a path component.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
