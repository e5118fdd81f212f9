package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", threshold, time.Minute)
	b.now = clock.now
	return b, clock
}

func fail(context.Context) (int, error) { return 0, errors.New("down") }
func ok(context.Context) (int, error)   { return 7, nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := Call(ctx, b, fail)
		assert.EqualError(t, err, "down")
	}
	assert.Equal(t, Open, b.State())

	calls := 0
	_, err := Call(ctx, b, func(context.Context) (int, error) { calls++; return 1, nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(2)
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	v, err := Call(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1)
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Open, b.State())

	clock.advance(time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	// Failed probe re-opens for another cool-down.
	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Open, b.State())
	_, err := Call(ctx, b, ok)
	assert.ErrorIs(t, err, ErrOpen)

	clock.advance(time.Minute)
	v, err := Call(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, Closed, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), Retry{Attempts: 3, Backoff: time.Millisecond}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("503"), 503)
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Retry{Backoff: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	assert.EqualError(t, err, "bad request")
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Retry{Attempts: 2, Backoff: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, syscall.ECONNRESET
	})
	assert.ErrorIs(t, err, syscall.ECONNRESET)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Retry{Attempts: 5, Backoff: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("timeout"), 0)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("validation failed"), false},
		{NewTransientError(errors.New("x"), 429), true},
		{fmt.Errorf("wrap: %w", syscall.ECONNREFUSED), true},
		{errors.New("read tcp: i/o timeout"), true},
		{errors.New("SQLITE_BUSY: database is locked"), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), "%v", tt.err)
	}
}

func TestIsTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientStatus(code))
	}
	for _, code := range []int{200, 400, 401, 404} {
		assert.False(t, IsTransientStatus(code))
	}
}
