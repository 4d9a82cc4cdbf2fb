package engine

import (
	"context"
	"time"
)

// RetryPolicy controls the bounded retry combinator used for the selector,
// summary and learning calls.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	q := p
	if q.Attempts <= 0 {
		q.Attempts = 1
	}
	if q.BaseDelay <= 0 {
		q.BaseDelay = 100 * time.Millisecond
	}
	if q.MaxDelay < q.BaseDelay {
		q.MaxDelay = q.BaseDelay
	}
	return q
}

// retry runs fn up to policy.Attempts times with exponential backoff,
// returning the first success or the last error. Cancellation is observed
// between attempts.
func retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalized()

	var zero T
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay << (attempt - 1)
			if delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
