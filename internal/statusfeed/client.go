// Package statusfeed fetches incident data from a Statuspage-compatible status API.
package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 8 << 20

	summaryPath  = "/api/v2/summary.json"
	incidentPath = "/api/v2/incidents/%s.json"
)

// ErrFetch is matched by every error caused by the network, a non-2xx
// response or an undecodable body.
var ErrFetch = errors.New("status feed fetch failed")

// FetchError describes a failed request to the status API.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFetch) true for every FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Config holds status API client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the status API.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a new status API client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		userAgent: config.UserAgent,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Summary fetches the raw summary document. The body is guaranteed to be valid JSON.
func (c *Client) Summary(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, c.baseURL+summaryPath)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &FetchError{URL: c.baseURL + summaryPath, Err: errors.New("invalid JSON body")}
	}
	return body, nil
}

type incidentResponse struct {
	Incident struct {
		ID              string `json:"id"`
		IncidentUpdates []struct {
			ID        string    `json:"id"`
			Body      string    `json:"body"`
			Status    string    `json:"status"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"incident_updates"`
	} `json:"incident"`
}

// LatestUpdate returns the newest update of an incident, or nil if it has none.
func (c *Client) LatestUpdate(ctx context.Context, incidentID string) (*domain.IncidentUpdate, error) {
	endpoint := c.baseURL + fmt.Sprintf(incidentPath, url.PathEscape(incidentID))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp incidentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{URL: endpoint, Err: fmt.Errorf("decode incident: %w", err)}
	}

	// Updates are listed newest first.
	if len(resp.Incident.IncidentUpdates) == 0 {
		return nil, nil
	}
	latest := resp.Incident.IncidentUpdates[0]
	return &domain.IncidentUpdate{
		ID:        latest.ID,
		Body:      latest.Body,
		Status:    latest.Status,
		CreatedAt: latest.CreatedAt,
	}, nil
}

// Ping checks that the summary endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Summary(ctx)
	return err
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Debug("status api returned error", "url", endpoint, "status", resp.StatusCode)
		return nil, &FetchError{URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return body, nil
}
