package feed

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all permitfeed configuration.
type Config struct {
	// DBPath is the ledger database file.
	DBPath string `yaml:"db_path"`
	// SubscribersDBPath is the database holding the subscriptions table
	// maintained by the account system. Defaults to DBPath.
	SubscribersDBPath string `yaml:"subscribers_db_path"`
	// DumpDir is the root directory for fresh-dump CSV files.
	DumpDir string `yaml:"dump_dir"`

	Schedule  ScheduleConfig  `yaml:"schedule"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Retention RetentionConfig `yaml:"retention"`

	// CityConcurrency bounds how many cities are processed at once.
	// Default: 1 (sequential).
	CityConcurrency int `yaml:"city_concurrency"`
}

// ScheduleConfig controls daily trigger timing. The window is expressed
// in minutes past the daily anchor, matching how operators reason about
// it ("1800 to 1950 minutes past 5 AM").
type ScheduleConfig struct {
	AnchorHour         int    `yaml:"anchor_hour"`
	WindowStartMinutes int    `yaml:"window_start_minutes"`
	WindowEndMinutes   int    `yaml:"window_end_minutes"`
	Timezone           string `yaml:"timezone"`
}

// ScrapeConfig controls the scrape collaborator client.
type ScrapeConfig struct {
	// BaseURL of the scrape service, e.g. "http://localhost:8090".
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
}

func (c *ScrapeConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "permitfeed/1.0"
	}
}

// DeliveryConfig controls per-subscriber distribution.
type DeliveryConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// RetentionConfig controls ledger and audit pruning horizons.
type RetentionConfig struct {
	// SeenDays is the retention horizon for seen-permit records.
	// Default: 30.
	SeenDays int `yaml:"seen_days"`
	// RunLogDays bounds the run audit table. Default: 90.
	RunLogDays int `yaml:"run_log_days"`
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "permitfeed.db"
	}
	if c.SubscribersDBPath == "" {
		c.SubscribersDBPath = c.DBPath
	}
	if c.DumpDir == "" {
		c.DumpDir = "dumps"
	}
	if c.Schedule.AnchorHour <= 0 {
		c.Schedule.AnchorHour = 5
	}
	if c.Schedule.WindowStartMinutes <= 0 {
		c.Schedule.WindowStartMinutes = 1800
	}
	if c.Schedule.WindowEndMinutes <= c.Schedule.WindowStartMinutes {
		c.Schedule.WindowEndMinutes = c.Schedule.WindowStartMinutes + 150
	}
	c.Scrape.applyDefaults()
	if c.Delivery.Concurrency <= 0 {
		c.Delivery.Concurrency = 4
	}
	if c.Delivery.NotifyTimeout <= 0 {
		c.Delivery.NotifyTimeout = 30 * time.Second
	}
	if c.Retention.SeenDays <= 0 {
		c.Retention.SeenDays = 30
	}
	if c.Retention.RunLogDays <= 0 {
		c.Retention.RunLogDays = 90
	}
	if c.CityConcurrency <= 0 {
		c.CityConcurrency = 1
	}
}

// location resolves the configured timezone, defaulting to the local one.
func (c *Config) location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("feed: timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("feed: parse config %s: %w", path, err)
	}
	return cfg, nil
}
