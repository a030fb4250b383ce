package gateway

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// retrier implements the backoff policy for default-path backend calls:
// up to `attempts` extra tries after the first, starting at `delay` and
// doubling each time. Only transient failures are retried.
type retrier struct {
	attempts int
	delay    time.Duration
	sleep    func(time.Duration) // test hook; nil means a real ctx-aware wait
}

func newRetrier() retrier {
	return retrier{
		attempts: 3,
		delay:    time.Second,
	}
}

// isRetryable reports whether a failure is transient: HTTP 429, HTTP 5xx,
// or a transport-level error. Everything else (other 4xx, malformed
// responses, an open circuit) fails immediately.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// do runs fn with the retry policy. Context cancellation interrupts the
// wait between attempts.
func (r retrier) do(ctx context.Context, fn func() (*GenerateResponse, error)) (*GenerateResponse, error) {
	delay := r.delay
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt >= r.attempts || !isRetryable(err) {
			return nil, lastErr
		}

		if err := r.wait(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
}

// wait blocks for d or until ctx is canceled, whichever comes first.
func (r retrier) wait(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.sleep(d)
		return nil
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
