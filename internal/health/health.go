// Package health sends lifecycle pings to a healthchecks.io-style
// monitoring endpoint.
//
// A check URL receives <url>/start when a job begins, <url> on success and
// <url>/fail on failure. Pings are best-effort: callers use Send, which
// logs and swallows errors.
//
// The start ping goes out for every wrapped run that has a check URL,
// whether or not log_at_start is set, so the endpoint can measure run
// time.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

// Signal is the job lifecycle event being reported.
type Signal string

const (
	Start   Signal = "start"
	Success Signal = "success"
	Fail    Signal = "fail"
)

// Pinger reports a lifecycle signal to a check URL.
type Pinger interface {
	Ping(ctx context.Context, url string, sig Signal, body string) error
}

const (
	defaultTimeout = 10 * time.Second
	defaultRetries = 5
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// HTTPPinger posts pings over HTTP with exponential backoff on network
// errors and retryable status codes.
type HTTPPinger struct {
	Client  *http.Client
	Retries int
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPPinger creates a pinger with the given per-request timeout and
// retry count. Zero values select the defaults (10s, 5 retries).
func NewHTTPPinger(timeout time.Duration, retries int) *HTTPPinger {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if retries < 0 {
		retries = defaultRetries
	}
	return &HTTPPinger{
		Client:  &http.Client{Timeout: timeout},
		Retries: retries,
		Sleep:   sleepCtx,
	}
}

// PingURL returns the endpoint for sig under the check URL base.
func PingURL(base string, sig Signal) string {
	base = strings.TrimRight(base, "/")
	switch sig {
	case Start:
		return base + "/start"
	case Fail:
		return base + "/fail"
	default:
		return base
	}
}

// Ping implements Pinger.
func (p *HTTPPinger) Ping(ctx context.Context, url string, sig Signal, body string) error {
	target := PingURL(url, sig)

	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			if err := p.Sleep(ctx, calculateBackoff(attempt-1)); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("build ping request: %w", err)
		}
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")

		resp, err := p.Client.Do(req)
		if err != nil {
			// Network errors are retryable
			lastErr = fmt.Errorf("ping %s: %w", target, err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("ping %s: HTTP %d", target, resp.StatusCode)
		if !isRetryableStatus(resp.StatusCode) {
			return lastErr
		}
	}
	return lastErr
}

// Send pings url with sig when url is set, logging any failure.
func Send(ctx context.Context, p Pinger, logger *slog.Logger, url string, sig Signal, body string) {
	if p == nil || url == "" {
		return
	}
	if err := p.Ping(ctx, url, sig, body); err != nil && logger != nil {
		logger.Warn("health ping failed", "signal", string(sig), "error", err)
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func calculateBackoff(attempt int) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
