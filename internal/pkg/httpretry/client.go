// Package httpretry wraps an HTTP client with exponential backoff so
// transient provider failures (rate limits, 5xx, network blips) are
// absorbed before they surface as batch errors.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// HTTPDoer executes a single HTTP request. Satisfied by *http.Client
// and *RetryClient, so callers can take either.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transient failures with exponential backoff and
// full jitter. Requests with a body must carry GetBody so the body can
// be replayed on retry; http.NewRequest sets it for common reader types.
type RetryClient struct {
	inner      HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryClient wraps client with retry behavior. A nil client gets a
// default http.Client with a 30s timeout. maxRetries counts attempts
// after the first; values <= 0 mean 3.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		inner:      client,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
}

// Do executes the request, retrying on 429/5xx and on transport errors.
// Client errors (4xx other than 429) return immediately, as does context
// cancellation. The final attempt's response is returned unconsumed so
// the caller can read the provider's error body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		resp, err := rc.inner.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
		} else if !retryable(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		} else {
			// Drain so the connection can be reused.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("httpretry: status %d", resp.StatusCode)
		}

		if attempt == rc.maxRetries {
			return nil, lastErr
		}

		delay := rc.backoff(attempt+1, resp)
		log.Printf("httpretry: attempt %d/%d for %s %s failed, retrying in %s",
			attempt+1, rc.maxRetries, req.Method, req.URL.Path, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, lastErr
		}

		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("httpretry: rewinding request body: %w", err)
			}
			req.Body = body
		}
	}
}

// backoff picks the wait before the given retry. A Retry-After header
// from a rate-limit response wins; otherwise exponential with full
// jitter, floored at 100ms to avoid hammering.
func (rc *RetryClient) backoff(retry int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			d := time.Duration(secs) * time.Second
			if d > rc.maxDelay {
				d = rc.maxDelay
			}
			return d
		}
	}

	exp := rc.baseDelay << (retry - 1)
	if exp > rc.maxDelay || exp <= 0 {
		exp = rc.maxDelay
	}
	d := time.Duration(rand.Float64() * float64(exp))
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
