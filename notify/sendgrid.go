// Package notify delivers per-subscriber "fresh permits" emails.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/buildleads/permitfeed/permit"
)

const defaultBaseURL = "https://api.sendgrid.com"

// Config holds SendGrid credentials and template wiring.
type Config struct {
	// APIKey is the SendGrid API key (Bearer token).
	APIKey string
	// From is the sender address.
	From string
	// FromName is the sender display name.
	FromName string
	// TemplateID selects the dynamic transactional template.
	TemplateID string
	// BaseURL overrides the API endpoint. Tests only.
	BaseURL string
	// Timeout bounds one send. Default: 30s.
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FromName == "" {
		c.FromName = "Permit Feed"
	}
}

// SendGrid is a permit.Notifier over the SendGrid v3 mail send API.
type SendGrid struct {
	config Config
	client *http.Client
}

// NewSendGrid creates a notifier. APIKey, From, and TemplateID must be set.
func NewSendGrid(cfg Config) (*SendGrid, error) {
	cfg.defaults()
	if cfg.APIKey == "" || cfg.From == "" || cfg.TemplateID == "" {
		return nil, fmt.Errorf("notify: api key, from address, and template id are required")
	}
	return &SendGrid{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// SendError reports a non-accepted response from the mail API.
type SendError struct {
	Status int
	Body   string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notify: sendgrid status %d: %s", e.Status, e.Body)
}

type mailPayload struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	TemplateID       string            `json:"template_id"`
}

type personalization struct {
	To           []emailAddress `json:"to"`
	TemplateData map[string]any `json:"dynamic_template_data"`
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Notify sends one delivery email. SendGrid acknowledges accepted mail
// with 202; anything else is a failed delivery for this subscriber.
func (s *SendGrid) Notify(ctx context.Context, d permit.Delivery) error {
	payload := mailPayload{
		Personalizations: []personalization{{
			To: []emailAddress{{Email: d.Email}},
			TemplateData: map[string]any{
				"city":         d.City,
				"permit_count": d.PermitCount,
				"dump_ref":     d.DumpRef,
				"date":         time.Now().Format("2006-01-02"),
			},
		}},
		From:       emailAddress{Email: s.config.From, Name: s.config.FromName},
		TemplateID: s.config.TemplateID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.BaseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send to %s: %w", d.Email, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SendError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return nil
}
