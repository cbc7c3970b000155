// Package adapter provides the typed HTTP client for ledger adapters.
// Each adapter fronts one distributed-ledger backend and exposes publish,
// subscribe, and health endpoints. The client retries transient failures
// with linear backoff and reports terminal failures as structured errors.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 1 * time.Second
	defaultTimeout     = 5 * time.Second

	defaultPublishPath   = "/publish"
	defaultSubscribePath = "/subscribe"
	defaultHealthPath    = "/health"

	// healthStatusUp is the body value required for a passing health check.
	healthStatusUp = "UP"
)

var (
	// ErrUnavailable indicates transport failures, timeouts, or 5xx
	// responses that persisted through the retry budget.
	ErrUnavailable = errors.New("adapter unavailable")

	// ErrRejected indicates a 4xx response. Terminal; never retried.
	ErrRejected = errors.New("adapter rejected request")
)

// Client is the HTTP client for one ledger adapter.
type Client struct {
	httpClient  *http.Client
	desc        Descriptor
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	logger      *zap.Logger
}

// ClientConfig holds configuration for creating an adapter Client.
type ClientConfig struct {
	// Descriptor identifies the adapter.
	Descriptor Descriptor

	// Timeout is the per-attempt request timeout (default 5s).
	Timeout time.Duration

	// MaxAttempts is the total number of attempts per call (default 3).
	MaxAttempts int

	// RetryDelay is the base backoff; the wait between attempts is
	// RetryDelay multiplied by the attempt number (default 1s).
	RetryDelay time.Duration

	// Logger provides structured logging.
	Logger *zap.Logger
}

// NewClient creates a new adapter client with the provided configuration.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Descriptor.Name == "" {
		return nil, fmt.Errorf("adapter name cannot be empty")
	}
	if cfg.Descriptor.BaseURL == "" {
		return nil, fmt.Errorf("adapter %s: base URL cannot be empty", cfg.Descriptor.Name)
	}

	desc := cfg.Descriptor
	desc.BaseURL = strings.TrimRight(desc.BaseURL, "/")
	if desc.PublishPath == "" {
		desc.PublishPath = defaultPublishPath
	}
	if desc.SubscribePath == "" {
		desc.SubscribePath = defaultSubscribePath
	}
	if desc.HealthPath == "" {
		desc.HealthPath = defaultHealthPath
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay < 0 {
		retryDelay = defaultRetryDelay
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		httpClient:  httpClient,
		desc:        desc,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		timeout:     timeout,
		logger:      logger.With(zap.String("adapter", desc.Name)),
	}, nil
}

// Name returns the adapter's unique name.
func (c *Client) Name() string {
	return c.desc.Name
}

// ChainID returns the chain id used for cache keying.
func (c *Client) ChainID() string {
	return c.desc.CacheKey()
}

// Descriptor returns a copy of the adapter descriptor.
func (c *Client) Descriptor() Descriptor {
	return c.desc
}

// HealthCheck verifies the adapter is reachable and reports itself UP.
// It succeeds only on HTTP 200 with body status == "UP". Health checks are
// a single attempt; the caller decides how to react to failures.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.desc.BaseURL+c.desc.HealthPath, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("%w: failed to parse health response: %v", ErrUnavailable, err)
	}
	if health.Status != healthStatusUp {
		return fmt.Errorf("%w: health status is %q", ErrUnavailable, health.Status)
	}

	return nil
}

// Publish sends the publish envelope to the adapter and returns the
// ledger-assigned timestamp. Transport errors and 5xx responses are retried
// per the retry policy; 4xx responses are terminal.
func (c *Client) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	var out PublishResponse
	if err := c.doWithRetry(ctx, http.MethodPost, c.desc.PublishPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Subscribe installs a subscription on the adapter.
func (c *Client) Subscribe(ctx context.Context, req *SubscribeRequest) error {
	return c.doWithRetry(ctx, http.MethodPost, c.desc.SubscribePath, req, nil)
}

// ListSubscriptions returns the subscriptions currently installed on the
// adapter. Diagnostic; a single attempt without retries.
func (c *Client) ListSubscriptions(ctx context.Context) ([]SubscriptionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.desc.BaseURL+c.desc.SubscribePath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list subscriptions returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var subs []SubscriptionInfo
	if err := json.NewDecoder(resp.Body).Decode(&subs); err != nil {
		return nil, fmt.Errorf("failed to parse subscriptions response: %w", err)
	}

	return subs, nil
}

// doWithRetry performs a JSON request with the client's retry policy:
// up to maxAttempts attempts, waiting retryDelay x attemptNumber between
// attempts. 4xx responses abort immediately.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, target interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := c.desc.BaseURL + path
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.retryDelay * time.Duration(attempt-1)
			c.logger.Debug("retrying adapter request",
				zap.Int("attempt", attempt),
				zap.String("method", method),
				zap.String("url", url),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = c.doOnce(ctx, method, url, payload, target)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrRejected) {
			return lastErr
		}
	}

	return fmt.Errorf("request to %s failed after %d attempts: %w", c.desc.Name, c.maxAttempts, lastErr)
}

// doOnce performs a single attempt with the per-attempt timeout.
func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, target interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer c.closeBody(resp)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if target != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, target); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}

// closeBody drains and closes a response body so the connection can be
// reused by the pool.
func (c *Client) closeBody(resp *http.Response) {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		c.logger.Warn("failed to drain response body", zap.Error(err))
	}
	if err := resp.Body.Close(); err != nil {
		c.logger.Warn("failed to close response body", zap.Error(err))
	}
}

// Close closes the HTTP client and releases pooled connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
