package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"m4cache/pkg/tracker"
	"m4cache/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("M4Food offline cache (m4cache/%s)", version.Version)

// ErrStatus is matched by every non-success HTTP status error.
var ErrStatus = errors.New("unexpected http status")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Options configures a Client. Zero values pick the defaults.
type Options struct {
	Timeout     time.Duration // per attempt, default 10s
	UserAgent   string
	Throttle    time.Duration // minimum gap between requests, 0 disables
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // first retry delay, default 500ms
	MaxDelay    time.Duration // default 30s
	Logger      *slog.Logger  // request log, default slog.Default()
}

// Client performs GET requests against tile servers with a politeness limit,
// retry with per-provider backoff, and tracking.
type Client struct {
	httpClient  *http.Client
	tracker     *tracker.Tracker
	limiter     *rate.Limiter
	backoff     *ProviderBackoff
	userAgent   string
	maxAttempts int
	log         *slog.Logger
}

// New creates a new Client.
func New(t *tracker.Tracker, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if t == nil {
		t = tracker.New()
	}

	limit := rate.Inf
	if opts.Throttle > 0 {
		limit = rate.Every(opts.Throttle)
	}

	return &Client{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		tracker:     t,
		limiter:     rate.NewLimiter(limit, 1),
		backoff:     NewProviderBackoff(opts.BaseDelay, opts.MaxDelay),
		userAgent:   opts.UserAgent,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger,
	}
}

// Stream fetches u and hands the successful response body to sink, which
// returns the number of bytes it consumed. Bodies of failed attempts are never
// passed to sink.
func (c *Client) Stream(ctx context.Context, u string, sink func(io.Reader) (int64, error)) (int64, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return 0, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsed.Host)

	n, err := c.executeWithBackoff(ctx, provider, u, sink)
	if err != nil {
		if ctx.Err() == nil {
			c.tracker.TrackFetchFailure(provider)
		}
		return n, err
	}
	c.tracker.TrackFetchSuccess(provider, n)
	return n, nil
}

// normalizeProvider groups the a/b/c load-balancing subdomains of a tile
// server under one provider name.
func normalizeProvider(host string) string {
	host = strings.ToLower(host)
	for _, prefix := range []string{"a.", "b.", "c."} {
		if rest, ok := strings.CutPrefix(host, prefix); ok && strings.Contains(rest, ".") {
			return rest
		}
	}
	return host
}

// executeWithBackoff attempts the request, retrying network errors, 429 and
// 5xx responses. Other 4xx responses fail immediately.
func (c *Client) executeWithBackoff(ctx context.Context, provider, u string, sink func(io.Reader) (int64, error)) (int64, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.backoff.Wait(ctx, provider); err != nil {
			return 0, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			slog.Warn("Request failed, retrying", "url", u, "attempt", attempt+1, "error", err)
			c.log.Info("request", "url", u, "error", err, "duration", time.Since(start))
			lastErr = err
			c.backoff.RecordFailure(provider)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", u, "attempt", attempt+1)
			c.log.Info("request", "url", u, "status", resp.StatusCode, "duration", time.Since(start))
			lastErr = &StatusError{Code: resp.StatusCode, URL: u}
			c.backoff.RecordFailure(provider)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			c.log.Info("request", "url", u, "status", resp.StatusCode, "duration", time.Since(start))
			return 0, &StatusError{Code: resp.StatusCode, URL: u}
		}

		n, err := sink(resp.Body)
		resp.Body.Close()
		c.log.Info("request", "url", u, "status", resp.StatusCode, "bytes", n, "duration", time.Since(start))
		if err != nil {
			return n, fmt.Errorf("read error: %w", err)
		}
		c.backoff.RecordSuccess(provider)
		return n, nil
	}

	return 0, fmt.Errorf("max retries exceeded: %w", lastErr)
}
