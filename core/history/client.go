// Package history is the client for the external conversation-history
// service. The service is an HTTP collaborator; transient failures are
// retried with bounded exponential backoff because history writes happen on
// the worker hot path and a blip must not fail the whole action.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/weftworks/weft/core/infra/logging"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 200 * time.Millisecond
)

// Message is one conversation turn as stored by the history service.
type Message struct {
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	TaskID    string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client talks to the history service. Zero value is not usable; build with
// NewClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// Option tunes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets the retry budget for transient failures.
func WithRetries(max int, backoff time.Duration) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewClient builds a history client for the given base URL. apiKey may be
// empty when the service runs without auth.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("history: base url required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("history: bad base url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get fetches the most recent messages for a session, newest last. limit <= 0
// lets the service pick its default page size.
func (c *Client) Get(ctx context.Context, tenantID, sessionID string, limit int) ([]Message, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("history: session id required")
	}
	endpoint := c.baseURL + "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}

	var out []Message
	err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Tenant-ID", tenantID)
		return req, nil
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Post appends one message to the session's history.
func (c *Client) Post(ctx context.Context, msg Message) error {
	if msg.SessionID == "" {
		return fmt.Errorf("history: session id required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("history: encode message: %w", err)
	}
	endpoint := c.baseURL + "/sessions/" + url.PathEscape(msg.SessionID) + "/messages"

	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", msg.TenantID)
		return req, nil
	}, nil)
}

// do runs one request with the retry budget. The request is rebuilt per
// attempt so the body reader is fresh. out, when non-nil, receives the
// decoded JSON response.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			logging.Debug("history", "retrying request", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := build()
		if err != nil {
			return fmt.Errorf("history: build request: %w", err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return fmt.Errorf("history: read response: %w", readErr)
			}
			if out != nil && len(body) > 0 {
				if err := json.Unmarshal(body, out); err != nil {
					return fmt.Errorf("history: decode response: %w", err)
				}
			}
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("history: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		default:
			// Client errors are final; retrying cannot fix the request.
			return fmt.Errorf("history: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}
	return fmt.Errorf("history: retries exhausted: %w", lastErr)
}
