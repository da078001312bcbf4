package esign

import (
	"context"
	"errors"
	"time"
)

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// backoff returns the sleep before the given retry attempt (1-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.BackoffBase)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
	}
	return time.Duration(d)
}

// TransientError marks a failure as retryable: timeouts, connection
// resets, provider 5xx responses. Everything unwrapped is permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// withRetries runs op up to cfg.MaxAttempts times, sleeping an exponential
// backoff between attempts. Only transient errors are retried; a permanent
// error or context cancellation returns immediately. The final error is
// returned after exhaustion - callers decide whether that degrades or
// fails the surrounding operation.
func withRetries(ctx context.Context, cfg RetryConfig, op func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(cfg.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
