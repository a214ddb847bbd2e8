package flow

import (
	"math/rand"
	"time"
)

// RetryPolicy defines automatic retry configuration for transient failures.
//
// When an attempt fails, the policy determines whether the failure is
// retryable and how long to wait before the next attempt. Exponential
// backoff with jitter avoids synchronized retry storms.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the initial
	// one. Must be >= 1; a value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	// The actual delay is min(BaseDelay * 2^attempt, MaxDelay) + jitter.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration

	// Retryable reports whether an error is worth retrying. If nil, all
	// errors are considered retryable.
	Retryable func(error) bool
}

// Validate checks the policy configuration. Returns ErrInvalidRetryPolicy if
// MaxAttempts < 1 or MaxDelay is set below BaseDelay.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// Backoff computes the delay before retry number attempt (zero-based):
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// Example delays with base=1s, maxDelay=30s:
//
//	attempt 0: 1s + jitter
//	attempt 1: 2s + jitter
//	attempt 2: 4s + jitter
//
// rng may be nil, in which case the shared math/rand source is used.
func Backoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	exponential := base * (1 << attempt)
	if maxDelay > 0 && exponential > maxDelay {
		exponential = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		// Jitter for retry timing, not security.
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404
	}

	return exponential + jitter
}
