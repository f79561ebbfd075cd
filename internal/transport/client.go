// Package transport provides the shared HTTP layer used by every exchange
// adapter: a single GET primitive with bounded retry, exponential backoff
// on rate limiting, immediate failure on bans, and a throughput ceiling
// that keeps sequential paging under exchange limits.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/quantfetch/marketdata/internal/errors"
)

const (
	defaultMaxRetries     = 3
	defaultRateLimitSleep = 100 * time.Millisecond
	defaultTimeout        = 30 * time.Second
	defaultUserAgent      = "marketdata/1.0"

	// Backoff curve for retryable failures: 1s, 2s, 4s, ...
	retryInitialInterval = time.Second
	retryMultiplier      = 2.0

	maxErrorBodyBytes = 1024
)

// Config holds transport tuning. Zero values fall back to defaults.
type Config struct {
	// MaxRetries is the total attempt budget per request.
	MaxRetries int
	// RateLimitSleep is the minimum spacing between requests.
	RateLimitSleep time.Duration
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// UserAgent overrides the default request User-Agent.
	UserAgent string
	// Logger receives per-request debug logs. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RateLimitSleep <= 0 {
		c.RateLimitSleep = defaultRateLimitSleep
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Client is one long-lived HTTP session. Each adapter owns its own Client
// for its lifetime; a Client issues one request at a time and is not
// documented as safe for concurrent use by multiple callers.
type Client struct {
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a transport client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:    rate.NewLimiter(rate.Every(cfg.RateLimitSleep), 1),
		maxRetries: cfg.MaxRetries,
		userAgent:  cfg.UserAgent,
		logger:     cfg.Logger,
	}
}

// Close releases idle connections held by the session.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// GetJSON performs Get and unmarshals the response body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	body, err := c.Get(ctx, rawURL, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Exchange("transport.get", "invalid JSON from %s: %v", rawURL, err)
	}
	return nil
}

// Get issues a GET request with the retry policy:
//
//   - HTTP 429 and network/timeout failures are retried up to the attempt
//     budget, waiting 1s, 2s, 4s, ... between attempts.
//   - HTTP 418 (ban) fails immediately and is never retried.
//   - Any other non-2xx status fails immediately, naming status and body.
//
// A rate limiter spaces requests RateLimitSleep apart so sequential
// pagination stays under exchange throughput limits.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	const op = "transport.get"

	fullURL := rawURL
	if len(params) > 0 {
		fullURL = rawURL + "?" + params.Encode()
	}
	traceID := uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = retryMultiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var (
		body     []byte
		attempts int
		lastErr  error
	)

	operation := func() error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(apperrors.Transport(op, err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return backoff.Permanent(apperrors.Transport(op, err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		c.logger.Debug("http get",
			"trace_id", traceID,
			"url", rawURL,
			"attempt", attempts)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = apperrors.Transport(op, err)
			return lastErr
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTeapot:
			snippet := readSnippet(resp.Body)
			return backoff.Permanent(apperrors.Banned(op,
				"IP banned (HTTP 418) from %s: %s", rawURL, snippet))
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = apperrors.RateLimit(op,
				"rate limited (HTTP 429) from %s", rawURL)
			c.logger.Warn("rate limited, backing off",
				"trace_id", traceID,
				"url", rawURL,
				"attempt", attempts)
			return lastErr
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			snippet := readSnippet(resp.Body)
			return backoff.Permanent(apperrors.Exchange(op,
				"HTTP %d from %s: %s", resp.StatusCode, rawURL, snippet))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			lastErr = apperrors.Transport(op, err)
			return lastErr
		}
		return nil
	}

	retrier := backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(c.maxRetries-1))
	if err := backoff.Retry(operation, retrier); err != nil {
		if apperrors.IsRetryable(err) {
			// Budget exhausted: surface one aggregated error with the URL
			// and attempt count.
			return nil, apperrors.Wrap(apperrors.KindOf(err), op,
				fmt.Errorf("giving up on %s after %d attempt(s): %w", rawURL, attempts, err))
		}
		return nil, err
	}
	return body, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	return string(b)
}
