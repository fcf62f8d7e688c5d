// Package feed wires the daily permit pipeline: scheduler, dedup
// ledger, distribution fanout, and retention sweep.
//
// The scrape service, subscriber directory, and notifier are external
// collaborators injected at construction — the pipeline reaches nothing
// through ambient state.
package feed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buildleads/permitfeed/dbopen"
	"github.com/buildleads/permitfeed/feed/internal/dump"
	"github.com/buildleads/permitfeed/feed/internal/fanout"
	"github.com/buildleads/permitfeed/feed/internal/ledger"
	"github.com/buildleads/permitfeed/feed/internal/pipeline"
	"github.com/buildleads/permitfeed/feed/internal/schedule"
	"github.com/buildleads/permitfeed/permit"
)

// Service owns the pipeline and its scheduler.
type Service struct {
	config    *Config
	logger    *slog.Logger
	db        *sql.DB
	ledger    *ledger.Ledger
	pipeline  *pipeline.Pipeline
	scheduler *schedule.Scheduler
}

// New creates a Service. The ledger database is opened (and created)
// under cfg.DBPath; scraper, directory, and notifier must be non-nil.
func New(cfg *Config, scraper permit.Scraper, directory permit.Directory, notifier permit.Notifier, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if scraper == nil || directory == nil || notifier == nil {
		return nil, fmt.Errorf("feed: scraper, directory, and notifier are required")
	}

	loc, err := cfg.location()
	if err != nil {
		return nil, err
	}

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(ledger.Schema))
	if err != nil {
		return nil, fmt.Errorf("feed: open ledger db: %w", err)
	}

	s := &Service{
		config: cfg,
		logger: logger,
		db:     db,
		ledger: ledger.New(db),
	}

	fan := fanout.New(dump.NewWriter(cfg.DumpDir), notifier, fanout.Config{
		Concurrency:   cfg.Delivery.Concurrency,
		NotifyTimeout: cfg.Delivery.NotifyTimeout,
	}, logger)

	s.pipeline = pipeline.New(directory, scraper, s.ledger, fan, pipeline.Config{
		RetentionDays:       cfg.Retention.SeenDays,
		RunLogRetentionDays: cfg.Retention.RunLogDays,
		ScrapeTimeout:       cfg.Scrape.Timeout,
		CityConcurrency:     cfg.CityConcurrency,
	}, logger)

	s.scheduler = schedule.New(s.scheduledRun, schedule.Config{
		AnchorHour:  cfg.Schedule.AnchorHour,
		WindowStart: time.Duration(cfg.Schedule.WindowStartMinutes) * time.Minute,
		WindowEnd:   time.Duration(cfg.Schedule.WindowEndMinutes) * time.Minute,
		Location:    loc,
	}, logger)

	return s, nil
}

// RunOnce executes one pipeline invocation immediately, bypassing the
// scheduler. Operator/test entry point only; never reachable from
// external input.
func (s *Service) RunOnce(ctx context.Context) (*RunReport, error) {
	sum, err := s.pipeline.Run(ctx)
	return reportFrom(sum), err
}

// Run starts the scheduler's daily wait loop and blocks until ctx is
// cancelled. The scheduler is the only trigger source, so runs never
// overlap.
func (s *Service) Run(ctx context.Context) {
	s.scheduler.Run(ctx)
}

// RecentRuns returns the latest per-city run outcomes, newest first.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]RunLogEntry, error) {
	entries, err := s.ledger.RecentRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunLogEntry, len(entries))
	for i, e := range entries {
		out[i] = RunLogEntry{
			RunID:     e.RunID,
			City:      e.City,
			Status:    e.Status,
			Scraped:   e.Scraped,
			Fresh:     e.Fresh,
			Delivered: e.Delivered,
			Failed:    e.Failed,
			Error:     e.Error,
			Duration:  e.Duration,
		}
	}
	return out, nil
}

// Close releases the ledger database.
func (s *Service) Close() error {
	return s.db.Close()
}

func (s *Service) scheduledRun(ctx context.Context) {
	sum, err := s.pipeline.Run(ctx)
	if err != nil {
		// Fatal for this run only; the next scheduled day retries.
		s.logger.Error("feed: scheduled run failed", "error", err)
		return
	}
	var delivered, failed int
	for _, c := range sum.Cities {
		delivered += c.Delivered
		failed += c.Failed
	}
	s.logger.Info("feed: scheduled run complete",
		"run_id", sum.RunID, "cities", len(sum.Cities),
		"delivered", delivered, "failed", failed, "pruned", sum.Pruned)
}
