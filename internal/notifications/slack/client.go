// Package slack provides a minimal Slack Web API client for incident threads.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	defaultAPIURL       = "https://slack.com/api"
	defaultTimeout      = 10 * time.Second
	defaultRateLimit    = 1.0 // chat.postMessage allows about one message per second per channel
	defaultChannelCache = 64
	pageSize            = 200
)

// ErrNotFound is returned when a channel or user lookup has no match.
var ErrNotFound = errors.New("slack: not found")

// Config holds Slack client configuration.
type Config struct {
	Token        string
	APIURL       string
	Timeout      time.Duration
	RateLimit    float64 // requests per second
	ChannelCache int
}

// Client calls the Slack Web API.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
	channels   *lru.Cache[string, string]
}

// NewClient creates a new Slack client.
func NewClient(config Config) (*Client, error) {
	if config.Token == "" {
		return nil, errors.New("slack client: token is required")
	}
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.ChannelCache <= 0 {
		config.ChannelCache = defaultChannelCache
	}

	channels, err := lru.New[string, string](config.ChannelCache)
	if err != nil {
		return nil, fmt.Errorf("slack client: channel cache: %w", err)
	}

	slog.Info("slack client configured",
		"api_url", config.APIURL,
		"rate_limit", config.RateLimit,
	)

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		apiURL:     strings.TrimRight(config.APIURL, "/"),
		channels:   channels,
	}, nil
}

// PostMessage posts text to a channel, as a thread reply when threadTS is set.
// Returns the timestamp of the created message.
func (c *Client) PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	req := postMessageRequest{
		Channel:  channelID,
		Text:     text,
		ThreadTS: threadTS,
	}

	var resp postMessageResponse
	if err := c.post(ctx, "chat.postMessage", req, &resp); err != nil {
		return "", err
	}
	if resp.Warning != "" {
		slog.Warn("slack api warning", "method", "chat.postMessage", "warning", resp.Warning)
	}
	return resp.TS, nil
}

// ChannelID resolves a channel name to its id. Results are cached.
func (c *Client) ChannelID(ctx context.Context, name string) (string, error) {
	name = strings.TrimPrefix(name, "#")
	if id, ok := c.channels.Get(name); ok {
		return id, nil
	}

	cursor := ""
	for {
		params := url.Values{
			"types":            {"public_channel,private_channel"},
			"exclude_archived": {"true"},
			"limit":            {strconv.Itoa(pageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp conversationsListResponse
		if err := c.get(ctx, "conversations.list", params, &resp); err != nil {
			return "", err
		}
		for _, ch := range resp.Channels {
			if ch.Name == name {
				c.channels.Add(name, ch.ID)
				return ch.ID, nil
			}
		}

		cursor = resp.Metadata.NextCursor
		if cursor == "" {
			return "", fmt.Errorf("channel %q: %w", name, ErrNotFound)
		}
	}
}

// UserID resolves a display name to a user id. Display names change, so
// lookups are not cached.
func (c *Client) UserID(ctx context.Context, displayName string) (string, error) {
	cursor := ""
	for {
		params := url.Values{"limit": {strconv.Itoa(pageSize)}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp usersListResponse
		if err := c.get(ctx, "users.list", params, &resp); err != nil {
			return "", err
		}
		for _, m := range resp.Members {
			if m.Deleted {
				continue
			}
			if m.Profile.DisplayName == displayName || m.Profile.RealName == displayName || m.Name == displayName {
				return m.ID, nil
			}
		}

		cursor = resp.Metadata.NextCursor
		if cursor == "" {
			return "", fmt.Errorf("user %q: %w", displayName, ErrNotFound)
		}
	}
}

// HasReactions reports whether the message has at least one reaction.
func (c *Client) HasReactions(ctx context.Context, channelID, ts string) (bool, error) {
	params := url.Values{
		"channel":   {channelID},
		"timestamp": {ts},
		"full":      {"true"},
	}

	var resp reactionsGetResponse
	if err := c.get(ctx, "reactions.get", params, &resp); err != nil {
		return false, err
	}
	for _, r := range resp.Message.Reactions {
		if r.Count > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) post(ctx context.Context, method string, payload any, out apiResult) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	return c.do(ctx, http.MethodPost, method, nil, body, out)
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out apiResult) error {
	return c.do(ctx, http.MethodGet, method, params, nil, out)
}

func (c *Client) do(ctx context.Context, httpMethod, method string, params url.Values, body []byte, out apiResult) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := c.apiURL + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("%s: send request: %v", method, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleResponse(resp, method, out)
}

func (c *Client) handleResponse(resp *http.Response, method string, out apiResult) error {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &RateLimitError{
			RetryAfter: time.Duration(retryAfter) * time.Second,
			Message:    method,
		}
	}
	if resp.StatusCode >= 500 {
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("%s: server error: %s", method, string(respBody)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{
			Code:    resp.StatusCode,
			Method:  method,
			Message: string(respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !out.result().OK {
		return &APIError{Method: method, Message: out.result().Error}
	}

	slog.Debug("slack api call succeeded", "method", method)
	return nil
}
