package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection refused")

func fast(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialBackoff: time.Millisecond}
}

func TestDo(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast(3), func(context.Context) error {
			calls++
			return nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast(5), func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast(3), func(context.Context) error {
			calls++
			return errTransient
		}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, errTransient)
		assert.Contains(t, err.Error(), "failed after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("rejected by shouldRetry", func(t *testing.T) {
		fatal := errors.New("bad request")
		calls := 0
		err := Do(context.Background(), fast(5), func(context.Context) error {
			calls++
			return fatal
		}, func(err error) bool { return errors.Is(err, errTransient) })
		assert.Equal(t, fatal, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("permanent", func(t *testing.T) {
		fatal := errors.New("version mismatch")
		calls := 0
		err := Do(context.Background(), fast(5), func(context.Context) error {
			calls++
			return Permanent(fatal)
		}, nil)
		assert.Equal(t, fatal, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still calls once", func(t *testing.T) {
		calls := 0
		_ = Do(context.Background(), Config{}, func(context.Context) error {
			calls++
			return errTransient
		}, nil)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, Config{MaxAttempts: 5, InitialBackoff: time.Hour}, func(context.Context) error {
			calls++
			cancel()
			return errTransient
		}, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{80, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(cfg, tt.attempt), "attempt %d", tt.attempt)
	}

	cfg.Jitter = 0.5
	for i := 0; i < 20; i++ {
		got := Backoff(cfg, 2)
		assert.GreaterOrEqual(t, got, 200*time.Millisecond)
		assert.LessOrEqual(t, got, 300*time.Millisecond)
	}
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	err := Permanent(errTransient)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, errTransient)
	assert.False(t, IsPermanent(errTransient))
}
