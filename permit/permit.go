// Package permit defines the domain types and collaborator contracts for
// the daily permit pipeline.
//
// The scrape, directory, and notify collaborators are external systems;
// only the contracts the pipeline needs from them live here.
package permit

import (
	"context"
	"strings"
)

// Permit is a raw building-permit record as returned by a scrape
// collaborator. The pipeline consumes Metro, County, and PermitNumber;
// the remaining fields are passed through untouched to fresh dumps.
type Permit struct {
	Metro           string `json:"metro,omitempty"`
	County          string `json:"county"`
	PermitNumber    string `json:"permit_number"`
	Address         string `json:"address,omitempty"`
	PermitType      string `json:"permit_type,omitempty"`
	IssuedDate      string `json:"issued_date,omitempty"`
	EstimatedValue  string `json:"estimated_value,omitempty"`
	WorkDescription string `json:"work_description,omitempty"`
	SourceURL       string `json:"source_url,omitempty"`
}

// CityLabel returns the city key a permit belongs to: "Metro-County"
// when both are set, otherwise just the county label.
func (p Permit) CityLabel() string {
	if p.Metro != "" && p.County != "" {
		return p.Metro + "-" + p.County
	}
	if p.County != "" {
		return p.County
	}
	return p.Metro
}

// Identity maps a permit record to its stable deduplication key within a
// city. The key is derived from the city and the source-provided permit
// number only — not the address or value, which may be amended between
// scrapes. Pure and total: never fails, never varies across runs.
func Identity(city, permitNumber string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "/" + strings.TrimSpace(permitNumber)
}

// Metro returns the metro portion of a city key ("Nashville-Davidson"
// yields "Nashville"). A key without a metro prefix is returned as-is.
func Metro(city string) string {
	if i := strings.Index(city, "-"); i > 0 {
		return city[:i]
	}
	return city
}

// Subscription is one active subscription row from the directory.
type Subscription struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	City   string `json:"city"`
}

// Subscriber identifies one recipient within a city group.
type Subscriber struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// CityGroup is the set of subscribers for one served city, rebuilt fresh
// on every run and never persisted.
type CityGroup struct {
	City        string
	Subscribers []Subscriber
}

// Scraper collects the current raw permit batch for a metro, or signals
// a per-city hard failure.
type Scraper interface {
	Scrape(ctx context.Context, metro string) ([]Permit, error)
}

// Directory returns the currently active subscriptions. An error aborts
// the whole run before any city is scraped: a partial subscriber list
// must never silently under-notify.
type Directory interface {
	ActiveSubscriptions(ctx context.Context) ([]Subscription, error)
}

// Delivery describes one notification request for one subscriber.
type Delivery struct {
	Email       string
	City        string
	PermitCount int
	DumpRef     string
}

// Notifier requests delivery of a fresh dump to one subscriber.
type Notifier interface {
	Notify(ctx context.Context, d Delivery) error
}
