// Package retry runs an operation under a bounded backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/soyeahso/chatpulse/internal/logging"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 250 * time.Millisecond
)

// BackoffFunc returns how long to wait after the given failed attempt (1-based).
type BackoffFunc func(attempt int, delay time.Duration) time.Duration

// Linear waits attempt*delay: delay, 2*delay, 3*delay, ...
func Linear(attempt int, delay time.Duration) time.Duration {
	return time.Duration(attempt) * delay
}

// Constant always waits delay.
func Constant(_ int, delay time.Duration) time.Duration {
	return delay
}

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     BackoffFunc

	// Retryable decides whether a failed attempt is tried again.
	// Nil retries every error.
	Retryable func(error) bool
}

// Default returns the persistence policy: 3 attempts, linear backoff.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
		Backoff:     Linear,
	}
}

// WithRetryable returns a copy of p using pred as its retry predicate.
func (p Policy) WithRetryable(pred func(error) bool) Policy {
	p.Retryable = pred
	return p
}

// WithMaxAttempts returns a copy of p allowing n attempts.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// Wait returns the pause after the given failed attempt.
func (p Policy) Wait(attempt int) time.Duration {
	backoff := p.Backoff
	if backoff == nil {
		backoff = Linear
	}
	return backoff(attempt, p.Delay)
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. It returns the number of attempts made and the
// last error. Every attempt is logged under op. Cancelling ctx stops the
// wait between attempts.
func Do(ctx context.Context, p Policy, log *logging.Logger, op string, fn func(ctx context.Context) error) (int, error) {
	max := p.attempts()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		err := fn(ctx)
		if err == nil {
			log.Debug().Str("op", op).Int("attempt", attempt).Msg("attempt succeeded")
			return attempt, nil
		}
		lastErr = err

		if !p.retryable(err) {
			log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("non-retryable failure")
			return attempt, err
		}

		if attempt == max {
			log.Error().Err(err).Str("op", op).Int("attempts", attempt).Msg("giving up")
			return attempt, err
		}

		wait := p.Wait(attempt)
		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("maxAttempts", max).
			Dur("backoff", wait).
			Msg("attempt failed, retrying")

		if err := sleep(ctx, wait); err != nil {
			return attempt, lastErr
		}
	}

	return max, lastErr
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
