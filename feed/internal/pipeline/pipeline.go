// Package pipeline orchestrates one run of the permit feed:
// aggregate subscribers → per city: scrape → filter → distribute →
// retention sweep.
//
// Each run produces a typed RunSummary instead of console text; partial
// failure of one city never affects the others, and the sweep runs
// exactly once per invocation regardless of city failures.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/buildleads/permitfeed/feed/internal/fanout"
	"github.com/buildleads/permitfeed/feed/internal/ledger"
	"github.com/buildleads/permitfeed/idgen"
	"github.com/buildleads/permitfeed/permit"
)

// ErrDirectoryUnavailable wraps a subscriber directory failure. The run
// aborts before any city is scraped: a partial subscriber list must
// never silently under-notify a subset of users.
var ErrDirectoryUnavailable = errors.New("subscriber directory unavailable")

// City outcome statuses recorded in results and the run log.
const (
	StatusOK           = "ok"
	StatusEmpty        = "empty"
	StatusScrapeFailed = "scrape_failed"
	StatusLedgerFailed = "ledger_failed"
)

// Config controls per-run behaviour.
type Config struct {
	// RetentionDays is the ledger retention horizon. Default: 30.
	RetentionDays int
	// RunLogRetentionDays bounds the audit table. Default: 90.
	RunLogRetentionDays int
	// ScrapeTimeout bounds each scrape call. Default: 2 minutes.
	ScrapeTimeout time.Duration
	// DirectoryTimeout bounds the subscriber directory call. Default: 30s.
	DirectoryTimeout time.Duration
	// CityConcurrency bounds how many cities run at once. Cities hold
	// disjoint ledger partitions, so values above 1 are safe. Default: 1.
	CityConcurrency int
}

func (c *Config) defaults() {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.RunLogRetentionDays <= 0 {
		c.RunLogRetentionDays = 90
	}
	if c.ScrapeTimeout <= 0 {
		c.ScrapeTimeout = 2 * time.Minute
	}
	if c.DirectoryTimeout <= 0 {
		c.DirectoryTimeout = 30 * time.Second
	}
	if c.CityConcurrency <= 0 {
		c.CityConcurrency = 1
	}
}

// CityResult is the typed outcome for one city in one run.
type CityResult struct {
	City       string
	Status     string
	Scraped    int
	Fresh      int
	Delivered  int
	Failed     int
	Err        error
	Deliveries []fanout.DeliveryResult
}

// RunSummary aggregates one full pipeline invocation.
type RunSummary struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Cities   []CityResult
	Pruned   int64
	SweepErr error
	Err      error
}

// Pipeline runs the scrape → filter → distribute → sweep cycle.
type Pipeline struct {
	directory permit.Directory
	scraper   permit.Scraper
	ledger    *ledger.Ledger
	fanout    *fanout.Fanout
	config    Config
	logger    *slog.Logger
	newRunID  idgen.Generator
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNow sets the wall clock source (tests).
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunIDGenerator sets the run ID generator.
func WithRunIDGenerator(gen idgen.Generator) Option {
	return func(p *Pipeline) { p.newRunID = gen }
}

// New creates a Pipeline. All collaborators are explicit dependencies;
// nothing is reached through ambient state.
func New(dir permit.Directory, scraper permit.Scraper, l *ledger.Ledger, f *fanout.Fanout, cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		directory: dir,
		scraper:   scraper,
		ledger:    l,
		fanout:    f,
		config:    cfg,
		logger:    logger,
		newRunID:  idgen.Timestamped(idgen.NanoID(8)),
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes one full pipeline invocation. The returned summary is
// non-nil even on abort; err is non-nil only for whole-run failures
// (directory unavailable), never for individual city failures.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	sum := &RunSummary{RunID: p.newRunID(), Started: p.now()}
	log := p.logger.With("run_id", sum.RunID)
	log.Info("pipeline: run started")

	dctx, cancel := context.WithTimeout(ctx, p.config.DirectoryTimeout)
	subs, err := p.directory.ActiveSubscriptions(dctx)
	cancel()
	if err != nil {
		sum.Err = fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
		sum.Finished = p.now()
		log.Error("pipeline: run aborted", "error", sum.Err)
		return sum, sum.Err
	}

	groups := permit.GroupByCity(subs)
	if len(groups) == 0 {
		sum.Finished = p.now()
		log.Info("pipeline: no active subscribers, nothing to do")
		return sum, nil
	}
	log.Info("pipeline: cities to process", "count", len(groups))

	sum.Cities = p.processCities(ctx, log, sum, groups)

	// Retention sweep: once per invocation, after all cities, regardless
	// of per-city failures or a stop request that arrived between cities.
	// A sweep failure is logged and retried on the next run.
	sweepCtx := context.WithoutCancel(ctx)
	pruned, err := p.ledger.Prune(sweepCtx, time.Duration(p.config.RetentionDays)*24*time.Hour)
	if err != nil {
		sum.SweepErr = err
		log.Warn("pipeline: retention sweep failed", "error", err)
	} else {
		sum.Pruned = pruned
		if pruned > 0 {
			log.Info("pipeline: pruned seen records", "count", pruned)
		}
	}
	if err := p.ledger.CleanupRunLog(sweepCtx, p.config.RunLogRetentionDays); err != nil {
		log.Warn("pipeline: run log cleanup failed", "error", err)
	}

	sum.Finished = p.now()
	log.Info("pipeline: run finished",
		"cities", len(sum.Cities), "duration", sum.Finished.Sub(sum.Started))
	return sum, nil
}

// processCities runs each city group and returns per-city results.
// Cancellation is consulted between cities only: a started city always
// finishes its distribution entry-by-entry.
func (p *Pipeline) processCities(ctx context.Context, log *slog.Logger, sum *RunSummary, groups []permit.CityGroup) []CityResult {
	results := make([]CityResult, len(groups))

	// A city that has started always finishes: its calls run on a
	// detached context (per-call timeouts still apply), and the parent
	// cancel is only consulted here, before each city starts.
	cityCtx := context.WithoutCancel(ctx)

	if p.config.CityConcurrency == 1 {
		for i, g := range groups {
			if ctx.Err() != nil {
				log.Info("pipeline: stopped between cities", "remaining", len(groups)-i)
				results = results[:i]
				break
			}
			results[i] = p.processCity(cityCtx, log, sum, g)
		}
		return results
	}

	g := &errgroup.Group{}
	g.SetLimit(p.config.CityConcurrency)
	for i, grp := range groups {
		if ctx.Err() != nil {
			results = results[:i]
			break
		}
		g.Go(func() error {
			results[i] = p.processCity(cityCtx, log, sum, grp)
			return nil
		})
	}
	g.Wait()
	return results
}

func (p *Pipeline) processCity(ctx context.Context, log *slog.Logger, sum *RunSummary, group permit.CityGroup) CityResult {
	start := p.now()
	res := CityResult{City: group.City}
	clog := log.With("city", group.City)

	defer func() {
		p.ledger.LogRun(ctx, ledger.RunEntry{
			RunID:     sum.RunID,
			City:      res.City,
			Status:    res.Status,
			Scraped:   res.Scraped,
			Fresh:     res.Fresh,
			Delivered: res.Delivered,
			Failed:    res.Failed,
			Error:     errString(res.Err),
			Duration:  p.now().Sub(start),
		})
	}()

	sctx, cancel := context.WithTimeout(ctx, p.config.ScrapeTimeout)
	batch, err := p.scraper.Scrape(sctx, permit.Metro(group.City))
	cancel()
	if err != nil {
		// Hard scrape failure: skip this city, ledger untouched.
		res.Status = StatusScrapeFailed
		res.Err = fmt.Errorf("scrape %s: %w", group.City, err)
		clog.Warn("pipeline: scrape failed, city skipped", "error", err)
		return res
	}

	// Keep only records belonging to this city group; a metro scrape may
	// return neighbouring counties.
	cityBatch := batch[:0:0]
	for _, pr := range batch {
		if pr.CityLabel() == group.City {
			cityBatch = append(cityBatch, pr)
		}
	}
	res.Scraped = len(cityBatch)

	// An empty scrape result is zero new permits, not an error.
	fresh, err := p.ledger.FilterNew(ctx, group.City, cityBatch)
	if err != nil {
		// Nothing was marked seen; delivering now would lose novelty
		// tracking, so the city fails instead.
		res.Status = StatusLedgerFailed
		res.Err = err
		clog.Error("pipeline: ledger write failed, city skipped", "error", err)
		return res
	}
	res.Fresh = len(fresh)

	if len(fresh) == 0 {
		res.Status = StatusEmpty
		clog.Debug("pipeline: no new permits")
		return res
	}
	clog.Info("pipeline: new permits found", "count", len(fresh), "subscribers", len(group.Subscribers))

	res.Deliveries = p.fanout.Deliver(ctx, sum.Started, group.City, fresh, group.Subscribers)
	for _, d := range res.Deliveries {
		if d.Delivered() {
			res.Delivered++
		} else {
			res.Failed++
		}
	}
	res.Status = StatusOK
	return res
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
