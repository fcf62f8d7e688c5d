// Command permitfeed is the daily permit deduplication and distribution
// daemon.
//
// Usage:
//
//	permitfeed -config permitfeed.yaml     # daemon with config file
//	permitfeed -db feed.db -dumps ./dumps  # daemon with defaults
//	permitfeed -config permitfeed.yaml -once   # run one cycle, print report
//	permitfeed -config permitfeed.yaml -runs   # show recent run log
//
// SendGrid credentials come from the environment: SENDGRID_API_KEY,
// PERMITFEED_FROM_EMAIL, PERMITFEED_TEMPLATE_ID.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/buildleads/permitfeed/dbopen"
	"github.com/buildleads/permitfeed/feed"
	"github.com/buildleads/permitfeed/notify"
)

func main() {
	configPath := flag.String("config", "", "path to permitfeed.yaml config file")
	dbPath := flag.String("db", "", "path to ledger SQLite database")
	dumpDir := flag.String("dumps", "", "root directory for CSV dumps")
	once := flag.Bool("once", false, "run one pipeline cycle and exit")
	runs := flag.Bool("runs", false, "print recent run log and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *dumpDir, *once, *runs); err != nil {
		logger.Error("permitfeed: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, dumpDir string, once, runs bool) error {
	cfg, err := resolveConfig(configPath, dbPath, dumpDir)
	if err != nil {
		return err
	}

	notifier, err := notify.NewSendGrid(notify.Config{
		APIKey:     os.Getenv("SENDGRID_API_KEY"),
		From:       os.Getenv("PERMITFEED_FROM_EMAIL"),
		TemplateID: os.Getenv("PERMITFEED_TEMPLATE_ID"),
		Timeout:    cfg.Delivery.NotifyTimeout,
	})
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	subsDB, err := openSubscribersDB(cfg)
	if err != nil {
		return fmt.Errorf("subscribers db: %w", err)
	}
	defer subsDB.Close()

	svc, err := feed.New(cfg,
		feed.NewHTTPScraper(cfg.Scrape),
		feed.NewSQLDirectory(subsDB),
		notifier, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	// One-shot: run the pipeline now and report.
	if once {
		report, err := svc.RunOnce(ctx)
		if report != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
		}
		return err
	}

	// One-shot: recent run log.
	if runs {
		entries, err := svc.RecentRuns(ctx, 50)
		if err != nil {
			return fmt.Errorf("run log: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	// Daemon mode: block in the scheduler until a signal arrives.
	logger.Info("permitfeed: running", "db", cfg.DBPath, "dumps", cfg.DumpDir)
	svc.Run(ctx)
	logger.Info("permitfeed: shutting down")
	return nil
}

// openSubscribersDB opens the account system's database, which may be
// the same file as the ledger.
func openSubscribersDB(cfg *feed.Config) (*sql.DB, error) {
	return dbopen.Open(cfg.SubscribersDBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(feed.SubscriptionsSchema))
}

func resolveConfig(configPath, dbPath, dumpDir string) (*feed.Config, error) {
	if configPath != "" {
		cfg, err := feed.LoadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if dumpDir != "" {
			cfg.DumpDir = dumpDir
		}
		return cfg, nil
	}

	cfg := &feed.Config{DBPath: dbPath, DumpDir: dumpDir}
	if cfg.DBPath == "" {
		fmt.Fprintln(os.Stderr, "usage: permitfeed -config <file> | -db <path> [-dumps <dir>] [-once|-runs]")
		os.Exit(1)
	}
	return cfg, nil
}
