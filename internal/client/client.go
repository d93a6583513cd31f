// Package client talks to a running bridge over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	semver "github.com/Masterminds/semver/v3"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/bridge/httpapi"
	"github.com/binbridge/binbridge/internal/constants"
	"github.com/binbridge/binbridge/internal/retry"
)

// ErrIncompatible is returned when the server speaks an API version outside
// the range this client understands.
var ErrIncompatible = errors.New("incompatible bridge API version")

// DefaultReadyRetry is the schedule WaitReady uses when given a zero Config.
var DefaultReadyRetry = retry.Config{
	MaxAttempts:    20,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Jitter:         0.1,
}

// Client is an HTTP client for one bridge.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the bridge at baseURL. A bare host:port gets an
// http:// scheme.
func New(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = constants.DefaultServerURL
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		base:       base,
		httpClient: &http.Client{Transport: tr, Timeout: constants.DefaultCallTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address requests go to.
func (c *Client) BaseURL() string { return c.base }

// Call runs operation with params in the query string and body as the raw
// request body. Bridge-level failures come back in the envelope; the error
// is reserved for transport problems and unreadable responses.
func (c *Client) Call(ctx context.Context, operation string, params map[string]string, body []byte) (bridge.Envelope, error) {
	u := c.base + "/v1/" + url.PathEscape(operation)
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return bridge.Envelope{}, fmt.Errorf("failed to build request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return bridge.Envelope{}, fmt.Errorf("failed to call %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return bridge.Envelope{}, fmt.Errorf("failed to read response: %w", err)
	}

	var env bridge.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return bridge.Envelope{}, fmt.Errorf("unexpected response (HTTP %d): %s", resp.StatusCode, truncate(raw, 200))
	}
	if !env.OK && env.Error == nil {
		return bridge.Envelope{}, fmt.Errorf("malformed envelope (HTTP %d)", resp.StatusCode)
	}
	return env, nil
}

// Health fetches /health and checks the server's API version.
func (c *Client) Health(ctx context.Context) (*httpapi.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach bridge: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}

	var health httpapi.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	if err := CheckAPIVersion(health.APIVersion); err != nil {
		return &health, err
	}
	return &health, nil
}

// WaitReady polls Health until the bridge answers. An incompatible server
// stops the wait at once.
func (c *Client) WaitReady(ctx context.Context, cfg retry.Config) (*httpapi.HealthResponse, error) {
	if cfg.MaxAttempts == 0 {
		cfg = DefaultReadyRetry
	}

	var health *httpapi.HealthResponse
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		h, err := c.Health(ctx)
		if errors.Is(err, ErrIncompatible) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		health = h
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return health, nil
}

// CheckAPIVersion reports ErrIncompatible unless v satisfies the client's
// API constraint.
func CheckAPIVersion(v string) error {
	constraint, err := semver.NewConstraint(constants.APIConstraint)
	if err != nil {
		return fmt.Errorf("invalid API constraint %q: %w", constants.APIConstraint, err)
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: server reported %q", ErrIncompatible, v)
	}
	if !constraint.Check(parsed) {
		return fmt.Errorf("%w: server %s, client requires %s", ErrIncompatible, parsed, constants.APIConstraint)
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
