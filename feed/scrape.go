package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/buildleads/permitfeed/permit"
)

// HTTPScraper is a permit.Scraper backed by an external scrape service.
// The service owns the site-specific markup extraction; this client only
// speaks its JSON contract: GET {base}/permits?metro=<name> returning an
// array of raw permit records.
type HTTPScraper struct {
	baseURL string
	client  *http.Client
	config  ScrapeConfig
}

// NewHTTPScraper creates a scrape client from the scrape config.
func NewHTTPScraper(cfg ScrapeConfig) *HTTPScraper {
	cfg.applyDefaults()
	return &HTTPScraper{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		config:  cfg,
	}
}

// Scrape fetches the current raw batch for a metro. Any transport,
// status, or decode problem is a hard per-city failure signal.
func (s *HTTPScraper) Scrape(ctx context.Context, metro string) ([]permit.Permit, error) {
	u := fmt.Sprintf("%s/permits?metro=%s", s.baseURL, url.QueryEscape(metro))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", metro, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("scrape %s: unexpected status %d", metro, resp.StatusCode)
	}

	var batch []permit.Permit
	dec := json.NewDecoder(io.LimitReader(resp.Body, s.config.MaxBytes))
	if err := dec.Decode(&batch); err != nil {
		return nil, fmt.Errorf("scrape %s: decode: %w", metro, err)
	}
	return batch, nil
}
