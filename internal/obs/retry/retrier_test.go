package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noWait struct{}

func (noWait) Next(int) time.Duration { return 0 }

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, Policy{Name: "test_success", Attempts: 5, Backoff: noWait{}})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls, exhausted := 0, 0
	err := Do(context.Background(), func() error {
		calls++
		return fatal
	}, Policy{
		Name:      "test_fatal",
		Attempts:  5,
		Backoff:   noWait{},
		Retryable: func(err error) bool { return !errors.Is(err, fatal) },
		OnExhaust: func(error) { exhausted++ },
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, exhausted)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var attempts []int
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("down")
	}, Policy{
		Name:      "test_exhaust",
		Attempts:  3,
		Backoff:   noWait{},
		OnAttempt: func(i int, _ error) { attempts = append(attempts, i) },
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestDo_HonoursCancellationBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("down")
	}, Policy{Name: "test_cancel", Attempts: 5, Backoff: ExpoJitter{Base: time.Hour}})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExpoJitter_Caps(t *testing.T) {
	b := ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.Next(0))
	assert.Equal(t, 400*time.Millisecond, b.Next(2))
	assert.Equal(t, time.Second, b.Next(10))

	j := ExpoJitter{Base: 100 * time.Millisecond, Jitter: 0.5}
	for i := 0; i < 20; i++ {
		d := j.Next(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestPublishPolicy_StopsOnNotRetryable(t *testing.T) {
	pol := PublishPolicy(nil)
	pol.Backoff = ExpoJitter{Base: time.Millisecond, Max: time.Millisecond}

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return NotRetryable(errors.New("bad payload"))
	}, pol)

	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Equal(t, 1, calls)
	assert.Nil(t, NotRetryable(nil))
}

func TestDo_DoesNotWaitPastDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	calls := 0
	start := time.Now()
	err := Do(ctx, func() error {
		calls++
		return errors.New("down")
	}, Policy{Name: "test_deadline", Attempts: 3, Backoff: ExpoJitter{Base: time.Hour}})

	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
