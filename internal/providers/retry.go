package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrContentFilter marks a provider-side policy rejection. It is terminal for
// the current turn: never retried, surfaced to the user as guidance.
var ErrContentFilter = errors.New("provider content filter triggered")

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// IsContentFilter reports whether an error is a content-policy 4xx. Providers
// word these differently; matching "content" plus "filter"/"policy"/"safety"
// in the body covers the gateways seen in practice.
func IsContentFilter(err error) bool {
	if errors.Is(err, ErrContentFilter) {
		return true
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	if he.Status < 400 || he.Status >= 500 || he.Status == http.StatusTooManyRequests {
		return false
	}
	body := strings.ToLower(he.Body)
	if !strings.Contains(body, "content") {
		return false
	}
	return strings.Contains(body, "filter") || strings.Contains(body, "policy") || strings.Contains(body, "safety")
}

// ParseRetryAfter parses a Retry-After header value (seconds form only).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// RetryConfig controls provider backoff.
//
// Transient failures (network, 5xx, timeouts) back off with full jitter:
// base * 2^(attempt-1) + uniform(0, base). Rate limits (429) use a harsher
// schedule starting at RateLimitBase and doubling each retry. 4xx other than
// 429 is never retried; content-filter 4xx bypasses retries entirely.
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	RateLimitBase time.Duration

	// OnRetry is invoked before each sleep; the orchestrator wires it to
	// "retry" progress events. OnExhausted fires when retries run out.
	OnRetry     func(attempt, maxRetries int, delay time.Duration, reason string)
	OnExhausted func(attempts int, reason string)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		BaseDelay:     500 * time.Millisecond,
		RateLimitBase: 2 * time.Second,
	}
}

// retryable classifies an error: (shouldRetry, isRateLimit).
func retryable(err error) (bool, bool) {
	if IsContentFilter(err) {
		return false, false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Status == http.StatusTooManyRequests:
			return true, true
		case he.Status >= 500:
			return true, false
		default:
			return false, false
		}
	}
	if errors.Is(err, context.Canceled) {
		return false, false
	}
	// Connection resets, timeouts, DNS failures below HTTP.
	return true, false
}

// RetryDo runs fn with backoff per cfg. It returns the first success, the
// first non-retryable error, or the last error once retries are exhausted.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		if IsContentFilter(err) {
			return zero, fmt.Errorf("%w: %v", ErrContentFilter, err)
		}

		retry, rateLimited := retryable(err)
		if !retry {
			return zero, err
		}
		if attempt > cfg.MaxRetries {
			if cfg.OnExhausted != nil {
				cfg.OnExhausted(attempt-1, err.Error())
			}
			return zero, fmt.Errorf("retries exhausted after %d attempts: %w", attempt-1, err)
		}

		delay := backoffDelay(cfg, attempt, rateLimited)
		var he *HTTPError
		if errors.As(err, &he) && he.RetryAfter > delay {
			delay = he.RetryAfter
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, cfg.MaxRetries, delay, err.Error())
		}
		slog.Debug("provider retry", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func backoffDelay(cfg RetryConfig, attempt int, rateLimited bool) time.Duration {
	if rateLimited {
		// 429: start at RateLimitBase, double each retry, no jitter.
		d := cfg.RateLimitBase
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	}
	// Full jitter: base * 2^(attempt-1) + uniform(0, base).
	d := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d + time.Duration(rand.Int63n(int64(cfg.BaseDelay)))
}
