// Package fetch performs single-source HTTP requests with a process-wide
// concurrency gate, per-attempt timeouts, retries and body normalization.
package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/woozymasta/gtpulse/internal/logger"
	"golang.org/x/sync/semaphore"
)

// Defaults applied to zero Config fields.
const (
	DefaultTimeout        = 8 * time.Second
	DefaultMaxConcurrent  = 3
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 1500 * time.Millisecond
	DefaultRateLimitDelay = 5 * time.Second
)

// DefaultHeaders are sent with every request; some upstreams reject non-browser clients.
var DefaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "en-US,en;q=0.9",
	"Cache-Control":   "no-cache",
}

// Config controls the executor.
type Config struct {
	Headers        map[string]string
	Timeout        time.Duration
	RetryDelay     time.Duration
	RateLimitDelay time.Duration
	MaxConcurrent  int
	MaxRetries     int
}

// Request carries per-call options.
type Request struct {
	Params     map[string]string
	Headers    map[string]string
	Method     string
	SalvageKey string
}

// Executor performs requests against one source URL at a time.
type Executor struct {
	client   *resty.Client
	gate     *semaphore.Weighted
	log      zerolog.Logger
	cfg      Config
	inFlight atomic.Int64
}

// NewExecutor builds an executor; zero Config fields take the package defaults.
func NewExecutor(cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = DefaultRateLimitDelay
	}

	headers := make(map[string]string, len(DefaultHeaders)+len(cfg.Headers))
	for k, v := range DefaultHeaders {
		headers[k] = v
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	client := resty.New().
		SetHeaders(headers).
		SetRetryCount(0)

	return &Executor{
		client: client,
		gate:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:    logger.For("fetch"),
		cfg:    cfg,
	}
}

// MaxRetries returns the configured attempts per source.
func (e *Executor) MaxRetries() int {
	return e.cfg.MaxRetries
}

// InFlight returns the number of attempts currently holding a gate slot.
func (e *Executor) InFlight() int {
	return int(e.inFlight.Load())
}

// Fetch requests url up to maxRetries times (the configured default when
// maxRetries <= 0) and returns the decoded payload of the first success.
// The last attempt's error is returned unmodified. A 401 stops immediately.
func (e *Executor) Fetch(ctx context.Context, url, endpoint string, req Request, maxRetries int) (Payload, error) {
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		payload, err := e.attempt(ctx, url, endpoint, req)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if !Retryable(err) || attempt == maxRetries {
			break
		}

		delay := e.cfg.RetryDelay
		var rl *RateLimitError
		if errors.As(err, &rl) {
			delay = rl.RetryAfter
		}

		e.log.Debug().
			Err(err).
			Str("endpoint", endpoint).
			Str("url", url).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Attempt failed, retrying")

		if err := Sleep(ctx, delay); err != nil {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

// attempt runs one request holding a gate slot. Once started it runs to
// completion or to its own timeout regardless of caller cancellation.
func (e *Executor) attempt(ctx context.Context, url, endpoint string, req Request) (Payload, error) {
	if err := e.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	e.inFlight.Add(1)
	defer func() {
		e.inFlight.Add(-1)
		e.gate.Release(1)
	}()

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	r := e.client.R().SetContext(attemptCtx)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if len(req.Params) > 0 {
		r.SetQueryParams(req.Params)
	}

	resp, err := r.Execute(method, url)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{URL: url, Timeout: e.cfg.Timeout, Err: err}
		}
		return nil, err
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusUnauthorized:
		return nil, &AuthError{Endpoint: endpoint, URL: url}
	case status == http.StatusTooManyRequests:
		return nil, &RateLimitError{URL: url, RetryAfter: e.retryAfter(resp.Header().Get("Retry-After"))}
	case status < 200 || status > 299:
		body := strings.TrimSpace(resp.String())
		if body == "" {
			body = "No error details"
		}
		return nil, &HTTPError{URL: url, Status: status, Body: truncate(body, maxErrorBody)}
	}

	return Decode(resp.Header().Get("Content-Type"), resp.Body(), req.SalvageKey)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func (e *Executor) retryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return e.cfg.RateLimitDelay
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}

	return e.cfg.RateLimitDelay
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
