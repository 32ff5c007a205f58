package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// Retry defaults used when the configuration leaves a value unset.
const (
	DefaultMaxAttempts       = 10
	DefaultInitialBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// RetryPolicy bounds how often a single upstream request is attempted.
// MaxAttempts counts every request sent, the first one included.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Retryable      func(error) bool
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Multiplier:     DefaultBackoffMultiplier,
		Retryable:      IsRetryable,
	}
}

// RetryPolicyFromConfig builds the policy of the upstream configuration.
func RetryPolicyFromConfig(cfg types.UpstreamConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
		Multiplier:     cfg.BackoffMultiplier,
		Retryable:      IsRetryable,
	}
	return p.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultBackoffMultiplier
	}
	if p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff {
		p.InitialBackoff = p.MaxBackoff
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	return p
}

// IsRetryable classifies transient upstream failures and per-attempt
// timeouts as worth another attempt. Cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var transient *types.TransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns the delay before attempt n+1, n being the number of
// attempts already made.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.InitialBackoff <= 0 {
		return 0
	}
	delay := float64(p.InitialBackoff)
	for i := 1; i < n; i++ {
		delay *= p.Multiplier
		if p.MaxBackoff > 0 && delay >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	return time.Duration(delay)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts run out. It returns the number of attempts made and the last
// error. onRetry, when set, is called before each wait.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error, onRetry func(attempt int, err error, wait time.Duration)) (int, error) {
	p = p.withDefaults()
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt - 1, ctxErr
		}

		err = op(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !p.Retryable(err) || attempt == p.MaxAttempts {
			return attempt, err
		}

		wait := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return p.MaxAttempts, err
}
