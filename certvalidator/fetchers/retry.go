package fetchers

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
)

// RetryConfig configures retry behavior for external requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// Jitter is the relative randomisation applied to each delay, 0.1
	// meaning ±10%.
	Jitter float64

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration with exponential backoff.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// NoRetry makes a single attempt.
func NoRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

// calculateDelay calculates the delay for a given attempt number.
func (c *RetryConfig) calculateDelay(attempt int) time.Duration {
	if attempt <= 0 || c.InitialDelay <= 0 {
		return 0
	}

	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.Jitter > 0 {
		jitterRange := delay * c.Jitter
		delay = delay - jitterRange + (rand.Float64() * 2 * jitterRange)
	}

	return time.Duration(delay)
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}

// Retry calls fn until it succeeds, fails permanently or the attempts run
// out. Delays are measured on clock. The returned error combines the error
// of every attempt.
func Retry[T any](ctx context.Context, clock clockwork.Clock, config *RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var errs error
	for attempt := 1; ; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		errs = multierr.Append(errs, err)

		if attempt >= attempts || !isRetryable(err) {
			return zero, errs
		}

		delay := config.calculateDelay(attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, multierr.Append(errs, ctx.Err())
		case <-clock.After(delay):
		}
	}
}
