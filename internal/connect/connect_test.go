package connect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

// failing returns a dial func that fails the first n calls.
func failing(n int, calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		if *calls <= n {
			return "", errRefused
		}
		return "conn", nil
	}
}

func TestExhaustedIsFatal(t *testing.T) {
	rec := &recorder{}
	calls := 0
	m := New(failing(100, &calls), Options{MaxAttempts: 10, Delay: 5 * time.Second, Sleep: rec.sleep})

	_, err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionExhausted)
	require.ErrorIs(t, err, errRefused)
	require.Equal(t, 10, calls, "no attempts beyond the maximum")
	require.Len(t, rec.delays, 9, "no sleep after the last attempt")
	for _, d := range rec.delays {
		require.Equal(t, 5*time.Second, d)
	}
}

func TestSucceedsAfterFailures(t *testing.T) {
	for _, k := range []int{0, 1, 4, 9} {
		rec := &recorder{}
		calls := 0
		m := New(failing(k, &calls), Options{MaxAttempts: 10, Delay: time.Second, Sleep: rec.sleep})

		conn, err := m.Connect(context.Background())
		require.NoError(t, err)
		require.Equal(t, "conn", conn)
		require.Equal(t, k+1, calls)
		require.Len(t, rec.delays, k, "exactly one delay per failure")
	}
}

func TestBackoffFactorAndJitter(t *testing.T) {
	rec := &recorder{}
	calls := 0
	m := New(failing(3, &calls), Options{MaxAttempts: 5, Delay: time.Second, Factor: 2, Sleep: rec.sleep})
	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)

	rec = &recorder{}
	calls = 0
	m = New(failing(3, &calls), Options{MaxAttempts: 5, Delay: time.Second, Jitter: 0.5, Sleep: rec.sleep})
	_, err = m.Connect(context.Background())
	require.NoError(t, err)
	for _, d := range rec.delays {
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	m := New(failing(100, &calls), Options{
		MaxAttempts: 10,
		Delay:       time.Second,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	_, err := m.Connect(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDefaultSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	calls := 0
	m := New(failing(100, &calls), Options{MaxAttempts: 3, Delay: time.Hour})
	start := time.Now()
	_, err := m.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}
