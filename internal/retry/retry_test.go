package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: time.Millisecond, Backoff: Linear}
}

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestDo_AlwaysFails(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(), testLog(), "insert contacts", func(context.Context) error {
		calls++
		return errBoom
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
}

func TestDo_SucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(), testLog(), "update contacts", func(context.Context) error {
		calls++
		if calls < 2 {
			return errBoom
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, attempts)
}

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	attempts, err := Do(context.Background(), fastPolicy(), testLog(), "op", func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	errFinal := errors.New("final")
	p := fastPolicy().WithRetryable(func(err error) bool { return !errors.Is(err, errFinal) })

	calls := 0
	_, err := Do(context.Background(), p, testLog(), "op", func(context.Context) error {
		calls++
		return errFinal
	})

	require.ErrorIs(t, err, errFinal)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy().WithMaxAttempts(5), testLog(), "op", func(context.Context) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
}

func TestDo_ZeroMaxAttemptsUsesDefault(t *testing.T) {
	calls := 0
	_, _ = Do(context.Background(), Policy{Delay: time.Millisecond}, testLog(), "op", func(context.Context) error {
		calls++
		return errBoom
	})
	assert.Equal(t, DefaultMaxAttempts, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, Delay: time.Hour, Backoff: Linear}

	calls := 0
	start := time.Now()
	_, err := Do(ctx, p, testLog(), "op", func(context.Context) error {
		calls++
		cancel()
		return errBoom
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestLinearBackoff(t *testing.T) {
	p := Policy{Delay: 100 * time.Millisecond, Backoff: Linear}
	assert.Equal(t, 100*time.Millisecond, p.Wait(1))
	assert.Equal(t, 200*time.Millisecond, p.Wait(2))
	assert.Equal(t, 300*time.Millisecond, p.Wait(3))
}

func TestConstantBackoff(t *testing.T) {
	p := Policy{Delay: 50 * time.Millisecond, Backoff: Constant}
	assert.Equal(t, 50*time.Millisecond, p.Wait(1))
	assert.Equal(t, 50*time.Millisecond, p.Wait(3))
}

func TestNilBackoffIsLinear(t *testing.T) {
	p := Policy{Delay: 10 * time.Millisecond}
	assert.Equal(t, 20*time.Millisecond, p.Wait(2))
}

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, DefaultDelay, p.Delay)
	assert.Nil(t, p.Retryable)
}
