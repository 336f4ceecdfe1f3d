package resilience

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy controls how an operation is retried. MaxRetries counts retries, so
// an operation runs at most MaxRetries+1 times. Delays lists the wait before
// each retry; retries beyond the list reuse its last entry.
type Policy struct {
	MaxRetries int
	Delays     []time.Duration

	// OnRetry is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// ScrapePolicy retries page fetches three times with growing delays.
func ScrapePolicy() Policy {
	return Policy{MaxRetries: 3, Delays: []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second}}
}

// LLMPolicy retries model calls once.
func LLMPolicy() Policy {
	return Policy{MaxRetries: 1, Delays: []time.Duration{5 * time.Second}}
}

// DBPolicy retries storage calls three times, one second apart.
func DBPolicy() Policy {
	return FixedPolicy(3, time.Second)
}

// FixedPolicy waits the same delay before every retry.
func FixedPolicy(maxRetries int, delay time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, Delays: []time.Duration{delay}}
}

// WithOnRetry returns a copy of p that reports retries to fn.
func (p Policy) WithOnRetry(fn func(attempt int, err error)) Policy {
	p.OnRetry = fn
	return p
}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	if len(p.Delays) == 0 || retry < 1 {
		return 0
	}
	if retry > len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[retry-1]
}

// RetryExhaustedError is returned once every attempt has failed.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Retry runs fn until it succeeds or the policy is used up. Every error is
// retried.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return RetryWithCondition(ctx, p, nil, fn)
}

// RetryVal is Retry for operations that return a value.
func RetryVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryValWithCondition(ctx, p, nil, fn)
}

// RetryWithCondition retries only errors for which isRetryable returns true.
// Other errors are returned at once, without waiting. A nil isRetryable
// retries everything.
func RetryWithCondition(ctx context.Context, p Policy, isRetryable func(error) bool, fn func(ctx context.Context) error) error {
	_, err := RetryValWithCondition(ctx, p, isRetryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryValWithCondition is RetryWithCondition for operations that return a value.
func RetryValWithCondition[T any](ctx context.Context, p Policy, isRetryable func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(p.MaxRetries, 0) + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if isRetryable != nil && !isRetryable(err) {
			return zero, lastErr
		}
		if attempt == attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return zero, lastErr
		}
	}

	return zero, &RetryExhaustedError{Attempts: attempts, Last: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
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

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
	}
}
