// Package httpretry wraps an HTTP client with retry behavior tuned for
// model API endpoints: exponential backoff with full jitter, a Retry-After
// override when the server supplies one, and no retries on client errors
// or canceled contexts.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// HTTPDoer executes HTTP requests. *http.Client and *RetryClient both
// satisfy it, so retry wrapping stays invisible to callers.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transient failures of an underlying HTTPDoer.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryClient wraps client with retry behavior. A nil client gets a
// default http.Client with a 30s timeout. maxRetries counts retries after
// the initial attempt (default 3); baseDelay seeds the backoff curve
// (default 1s).
func NewRetryClient(client HTTPDoer, maxRetries int, baseDelay time.Duration) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 1 * time.Second
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   30 * time.Second,
	}
}

// Do sends the request, retrying transport errors and 429/5xx responses.
// Other client errors return immediately. The final attempt's response is
// returned as-is so the caller can inspect status and body. A Retry-After
// header on a retryable response overrides the computed backoff, capped at
// the client's maximum delay.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			// The body was consumed by the previous attempt.
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			log.Printf("httpretry: retrying %s %s%s in %s (attempt %d/%d)",
				req.Method, req.URL.Host, req.URL.Path, wait, attempt, rc.maxRetries)

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			wait = rc.backoff(attempt + 1)
			continue
		}

		if !retryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		wait = rc.backoff(attempt + 1)
		if ra, ok := retryAfter(resp); ok {
			wait = ra
			if wait > rc.maxDelay {
				wait = rc.maxDelay
			}
		}

		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// backoff returns the wait before retry number attempt (1-based): full
// jitter over an exponential curve, floored at 100ms and capped at maxDelay.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	ceil := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if ceil > float64(rc.maxDelay) {
		ceil = float64(rc.maxDelay)
	}
	d := time.Duration(rand.Float64() * ceil)
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// retryAfter parses a Retry-After header, accepting both the delay-seconds
// and the HTTP-date form. Rate-limited model endpoints send this on 429.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// retryableStatus reports whether the status is worth another attempt:
// 429 and the transient 5xx family. Other 4xx codes are the caller's
// problem and never retried.
func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
