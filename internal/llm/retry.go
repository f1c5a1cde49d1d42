package llm

import (
	"context"
	"log/slog"
	"math"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// RetryPolicy bounds the attempts made for one provider call.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Delay returns the wait before retry attempt n (1-indexed): the exponential
// term clamped to MaxDelay, plus a fixed 20% of the clamped value.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		if (p.MaxDelay > 0 && d >= p.MaxDelay) || d > math.MaxInt64/4 {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d + d/5
}

// WithRetry runs op until it succeeds, fails with a non-retryable error, or
// MaxRetries+1 attempts have been made. Every failure is classified; the last
// classified error is returned.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, provider string, logger *slog.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		pe := Classify(provider, err)
		if !pe.Retryable || attempt >= attempts {
			return zero, pe
		}
		if ctx.Err() != nil {
			return zero, pe
		}

		delay := policy.Delay(attempt)
		logger.Warn("retrying provider request",
			"provider", provider, "kind", pe.Kind, "status", pe.Status,
			"attempt", attempt+1, "max_attempts", attempts, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, pe
		case <-t.C:
		}
	}
}
