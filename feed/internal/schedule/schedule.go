// Package schedule decides when the daily pipeline runs.
//
// Each calendar day has one anchor instant (default 05:00 local). Anchor
// days falling on a skip day (default Saturday and Sunday) produce no
// run and no makeup. On an eligible day the trigger is the anchor plus a
// uniform random offset inside a configured window (default 30h–32h30m),
// so the effective scrape lands on a sliding multi-hour window the next
// calendar day and never at a predictable time. The trigger instant is
// computed once per day and waited on with a single timer.
package schedule

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RunFunc is the pipeline body invoked at each trigger. It is called
// synchronously; the scheduler does not resume the daily check until it
// returns, so runs can never overlap.
type RunFunc func(ctx context.Context)

// Config controls trigger timing. The window bounds are configuration,
// not constants, so operators can tune the blast-radius timing.
type Config struct {
	// AnchorHour is the local hour of the daily anchor. Default: 5.
	AnchorHour int
	// WindowStart and WindowEnd bound the random trigger offset from the
	// anchor. Defaults: 30h and 32h30m.
	WindowStart time.Duration
	WindowEnd   time.Duration
	// Location resolves "calendar day" and the anchor hour. Default: Local.
	Location *time.Location
	// SkipDays are anchor weekdays with no run. Default: Saturday, Sunday.
	SkipDays []time.Weekday
}

func (c *Config) defaults() {
	if c.AnchorHour <= 0 {
		c.AnchorHour = 5
	}
	if c.WindowStart <= 0 {
		c.WindowStart = 30 * time.Hour
	}
	if c.WindowEnd <= c.WindowStart {
		c.WindowEnd = c.WindowStart + 150*time.Minute
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.SkipDays == nil {
		c.SkipDays = []time.Weekday{time.Saturday, time.Sunday}
	}
}

// Scheduler owns the daily wait loop. It is the only trigger source for
// pipeline runs.
type Scheduler struct {
	config Config
	run    RunFunc
	logger *slog.Logger

	now  func() time.Time
	rnd  func(n int64) int64
	wait func(ctx context.Context, until time.Time) bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNow sets the wall clock source.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRand sets the jitter source (a rand.Int63n-shaped function).
func WithRand(rnd func(n int64) int64) Option {
	return func(s *Scheduler) { s.rnd = rnd }
}

// New creates a Scheduler that invokes run at each trigger.
func New(run RunFunc, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		config: cfg,
		run:    run,
		logger: logger,
		now:    time.Now,
		rnd:    rand.Int63n,
	}
	s.wait = s.waitUntil
	for _, o := range opts {
		o(s)
	}
	return s
}

// NextAnchor returns the first daily anchor instant at or after now.
func (s *Scheduler) NextAnchor(now time.Time) time.Time {
	now = now.In(s.config.Location)
	anchor := time.Date(now.Year(), now.Month(), now.Day(),
		s.config.AnchorHour, 0, 0, 0, s.config.Location)
	if !now.Before(anchor) {
		anchor = time.Date(now.Year(), now.Month(), now.Day()+1,
			s.config.AnchorHour, 0, 0, 0, s.config.Location)
	}
	return anchor
}

// Eligible reports whether the given anchor day gets a run.
func (s *Scheduler) Eligible(anchor time.Time) bool {
	day := anchor.In(s.config.Location).Weekday()
	for _, skip := range s.config.SkipDays {
		if day == skip {
			return false
		}
	}
	return true
}

// Trigger picks the randomized trigger instant for an eligible anchor.
func (s *Scheduler) Trigger(anchor time.Time) time.Time {
	span := int64(s.config.WindowEnd - s.config.WindowStart)
	offset := s.config.WindowStart + time.Duration(s.rnd(span+1))
	return anchor.Add(offset)
}

// Run executes the daily loop until ctx is cancelled. A cancel during a
// wait aborts with no partial pipeline work; a cancel during a run is
// the run's own concern (the scheduler always lets it return).
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("schedule: started",
		"anchor_hour", s.config.AnchorHour,
		"window_start", s.config.WindowStart,
		"window_end", s.config.WindowEnd)

	anchor := s.NextAnchor(s.now())
	for {
		if !s.wait(ctx, anchor) {
			s.logger.Info("schedule: stopped")
			return
		}

		if s.Eligible(anchor) {
			trigger := s.Trigger(anchor)
			s.logger.Info("schedule: trigger chosen",
				"anchor", anchor.Format(time.DateOnly), "trigger", trigger.Format(time.RFC3339))
			if !s.wait(ctx, trigger) {
				s.logger.Info("schedule: stopped")
				return
			}
			s.run(ctx)
		} else {
			s.logger.Info("schedule: skip day, no run", "anchor", anchor.Format(time.DateOnly))
		}

		// Advance by exactly one calendar day. The trigger wait reaches
		// past the next anchor (offset > 24h), so re-deriving the anchor
		// from the wall clock here would skip that day entirely; a late
		// anchor makes its wait return immediately instead.
		anchor = time.Date(anchor.Year(), anchor.Month(), anchor.Day()+1,
			s.config.AnchorHour, 0, 0, 0, s.config.Location)
	}
}

// waitUntil blocks until target or ctx cancellation. Returns false on
// cancellation. One timer per wait; no polling loop.
func (s *Scheduler) waitUntil(ctx context.Context, target time.Time) bool {
	d := target.Sub(s.now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
