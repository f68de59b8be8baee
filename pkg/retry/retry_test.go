package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestDo_RetriesRetryableUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	}, WithMaxAttempts(5), WithSleep(noSleep))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPlainErrorByDefault(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, WithSleep(noSleep))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentIsUnwrapped(t *testing.T) {
	base := errors.New("bad input")
	err := Do(context.Background(), func(context.Context) error {
		return Permanent(base)
	}, WithRetryIf(func(error) bool { return true }), WithSleep(noSleep))

	assert.Equal(t, base, err)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var attempts []int
	err := Do(context.Background(), func(context.Context) error {
		return Retryable(errors.New("down"))
	},
		WithMaxAttempts(3),
		WithSleep(noSleep),
		WithOnRetry(func(attempt int, _ error, _ time.Duration) { attempts = append(attempts, attempt) }),
	)

	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestStorageRetrier_RetriesPlainErrors(t *testing.T) {
	r := StorageRetrier().With(WithSleep(noSleep))
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, r.MaxAttempts(), calls)
}

func TestStorageRetrier_StopsOnPermanent(t *testing.T) {
	r := StorageRetrier().With(WithSleep(noSleep))
	invalid := errors.New("level below 1")
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(invalid)
	})

	assert.Equal(t, invalid, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_CapsAtMax(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(3*time.Second), WithJitter(0))

	assert.Equal(t, time.Second, r.backoff(1))
	assert.Equal(t, 2*time.Second, r.backoff(2))
	assert.Equal(t, 3*time.Second, r.backoff(5))
}

func TestDoWithData(t *testing.T) {
	v, err := DoWithData(context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
