package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classnotes/teaching-assistant/pkg/timeutil"
)

var errBusy = errors.New("busy")

func TestDo_SucceedsAfterRetries(t *testing.T) {
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errBusy)
		}
		return nil
	}, WithDelays(30*time.Second, 60*time.Second), WithClock(clock))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second}, clock.Sleeps())
}

func TestDo_ExhaustedIsDistinct(t *testing.T) {
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errBusy)
	}, WithMaxAttempts(3), WithDelays(30*time.Second, 60*time.Second), WithClock(clock))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBusy)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errBusy)
	}, WithClock(clock))

	assert.Equal(t, 1, calls)
	assert.Equal(t, errBusy, err)
	assert.Empty(t, clock.Sleeps())
}

func TestDo_NonRetryableReturnedAsIs(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBusy
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, errBusy, err)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestDo_RetryIfOverridesWrapping(t *testing.T) {
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	calls := 0
	var retried []int

	err := QuotaRetrier(
		func(err error) bool { return errors.Is(err, errBusy) },
		WithClock(clock),
		WithOnRetry(func(attempt int, err error, delay time.Duration) { retried = append(retried, attempt) }),
	).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBusy
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Equal(t, QuotaBackoff, clock.Sleeps())
}

func TestStoreRetrier_RetriesOnceWithinBound(t *testing.T) {
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	calls := 0

	err := StoreRetrier(func(err error) bool { return errors.Is(err, errBusy) }, WithClock(clock)).
		Do(context.Background(), func(ctx context.Context) error {
			calls++
			return errBusy
		})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 2, calls)
	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 1)
	assert.InDelta(t, float64(250*time.Millisecond), float64(sleeps[0]), float64(30*time.Millisecond))
}

func TestDo_CancelledContextStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	calls := 0

	err := Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return Retryable(errBusy)
	}, WithClock(clock))

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBusy)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestCalculateDelay_ExponentialCapped(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(3*time.Second), WithJitter(0))

	assert.Equal(t, time.Second, r.calculateDelay(1))
	assert.Equal(t, 2*time.Second, r.calculateDelay(2))
	assert.Equal(t, 3*time.Second, r.calculateDelay(3))
}
