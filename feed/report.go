package feed

import (
	"time"

	"github.com/buildleads/permitfeed/feed/internal/pipeline"
)

// RunReport is the JSON-friendly view of one pipeline invocation, as
// printed by `permitfeed -once`. Errors are flattened to strings.
type RunReport struct {
	RunID      string       `json:"run_id"`
	Started    time.Time    `json:"started"`
	Finished   time.Time    `json:"finished"`
	Cities     []CityReport `json:"cities"`
	Pruned     int64        `json:"pruned"`
	SweepError string       `json:"sweep_error,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// CityReport is the per-city slice of a RunReport.
type CityReport struct {
	City      string `json:"city"`
	Status    string `json:"status"`
	Scraped   int    `json:"scraped"`
	Fresh     int    `json:"fresh"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// RunLogEntry is one persisted per-city run outcome.
type RunLogEntry struct {
	RunID     string        `json:"run_id"`
	City      string        `json:"city"`
	Status    string        `json:"status"`
	Scraped   int           `json:"scraped"`
	Fresh     int           `json:"fresh"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func reportFrom(sum *pipeline.RunSummary) *RunReport {
	if sum == nil {
		return nil
	}
	r := &RunReport{
		RunID:    sum.RunID,
		Started:  sum.Started,
		Finished: sum.Finished,
		Pruned:   sum.Pruned,
		Cities:   make([]CityReport, len(sum.Cities)),
	}
	if sum.SweepErr != nil {
		r.SweepError = sum.SweepErr.Error()
	}
	if sum.Err != nil {
		r.Error = sum.Err.Error()
	}
	for i, c := range sum.Cities {
		cr := CityReport{
			City:      c.City,
			Status:    c.Status,
			Scraped:   c.Scraped,
			Fresh:     c.Fresh,
			Delivered: c.Delivered,
			Failed:    c.Failed,
		}
		if c.Err != nil {
			cr.Error = c.Err.Error()
		}
		r.Cities[i] = cr
	}
	return r
}
