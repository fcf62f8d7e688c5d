// Package fanout distributes a city's fresh permit batch to every
// subscriber of that city.
//
// Each subscriber is processed independently: a dump write or
// notification failure is recorded in that subscriber's result and never
// blocks siblings or rolls back the ledger marking already made for the
// batch. That trade-off is deliberate — permits stay "seen" even if one
// subscriber never received them.
package fanout

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/buildleads/permitfeed/feed/internal/dump"
	"github.com/buildleads/permitfeed/permit"
)

// Config controls fanout behaviour.
type Config struct {
	// Concurrency bounds the number of subscribers processed at once.
	// Default: 4.
	Concurrency int
	// NotifyTimeout bounds each notifier call. Default: 30s.
	NotifyTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 30 * time.Second
	}
}

// DeliveryResult is the typed outcome for one subscriber.
type DeliveryResult struct {
	Subscriber permit.Subscriber
	DumpPath   string
	Err        error
}

// Delivered reports whether the dump was written and the notifier accepted.
func (r DeliveryResult) Delivered() bool { return r.Err == nil }

// Fanout writes fresh dumps and requests notification delivery.
type Fanout struct {
	writer   *dump.Writer
	notifier permit.Notifier
	config   Config
	logger   *slog.Logger
}

// New creates a Fanout.
func New(writer *dump.Writer, notifier permit.Notifier, cfg Config, logger *slog.Logger) *Fanout {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{writer: writer, notifier: notifier, config: cfg, logger: logger}
}

// Deliver fans the batch out to every subscriber of city and returns one
// result per subscriber, in input order. Deliver itself never fails: all
// failures are per-subscriber values.
func (f *Fanout) Deliver(ctx context.Context, runDate time.Time, city string, batch []permit.Permit, subs []permit.Subscriber) []DeliveryResult {
	results := make([]DeliveryResult, len(subs))

	g := &errgroup.Group{}
	g.SetLimit(f.config.Concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = f.deliverOne(ctx, runDate, city, batch, sub)
			return nil
		})
	}
	g.Wait()
	return results
}

func (f *Fanout) deliverOne(ctx context.Context, runDate time.Time, city string, batch []permit.Permit, sub permit.Subscriber) DeliveryResult {
	res := DeliveryResult{Subscriber: sub}

	path, err := f.writer.Write(ctx, city, sub.UserID, runDate, batch)
	if err != nil {
		f.logger.Warn("fanout: dump write failed",
			"city", city, "user", sub.UserID, "error", err)
		res.Err = err
		return res
	}
	res.DumpPath = path

	nctx, cancel := context.WithTimeout(ctx, f.config.NotifyTimeout)
	defer cancel()
	err = f.notifier.Notify(nctx, permit.Delivery{
		Email:       sub.Email,
		City:        city,
		PermitCount: len(batch),
		DumpRef:     path,
	})
	if err != nil {
		f.logger.Warn("fanout: notify failed",
			"city", city, "email", sub.Email, "error", err)
		res.Err = err
		return res
	}

	f.logger.Debug("fanout: delivered", "city", city, "email", sub.Email, "permits", len(batch))
	return res
}
