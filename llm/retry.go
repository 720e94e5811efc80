package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how a single model call is retried before the loop
// considers switching providers.
type RetryPolicy struct {
	// MaxRetries counts attempts after the first call.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter spreads each delay uniformly over [d*(1-Jitter), d*(1+Jitter)).
	Jitter  float64
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy retries twice, starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

// Delay returns the wait before retry number attempt, counted from zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt && d < float64(p.MaxDelay); i++ {
		d *= max(p.Multiplier, 1)
	}
	if p.MaxDelay > 0 {
		d = min(d, float64(p.MaxDelay))
	}
	if p.Jitter > 0 {
		d *= 1 - p.Jitter + 2*p.Jitter*rand.Float64()
	}
	return time.Duration(d)
}

// wait picks the delay for the next attempt. A server-provided retry-after
// replaces the backoff, but one longer than MaxDelay is not worth waiting for.
func (p RetryPolicy) wait(err error, attempt int) (time.Duration, bool) {
	var e *Error
	if !errors.As(err, &e) || e.RetryAfter <= 0 {
		return p.Delay(attempt), true
	}
	if p.MaxDelay > 0 && e.RetryAfter > p.MaxDelay {
		return 0, false
	}
	return e.RetryAfter, true
}

// Do calls fn, retrying retryable errors according to policy.
func Do[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return result, err
		}
		delay, ok := policy.wait(err, attempt)
		if !ok {
			return result, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, newError(KindAborted, "", "retry interrupted", ctx.Err())
		case <-timer.C:
		}
	}
}

// Retry returns middleware applying policy to each call.
func Retry(policy RetryPolicy) Middleware {
	return func(ctx context.Context, req Request, next Handler) (*Response, error) {
		return Do(ctx, policy, func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		})
	}
}
