package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move the limiter through its windows.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limits RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limits)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl, _ := newTestLimiter(RateLimitConfig{})
	for range 100 {
		require.NoError(t, rl.Allow("client", 1000))
	}
	usage := rl.Usage("client")
	assert.Equal(t, 100, usage.FramesToday)
	assert.Equal(t, int64(100000), usage.BytesToday)
}

func TestRateLimiter_FramesPerMinute(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitConfig{FramesPerMinute: 2})

	require.NoError(t, rl.Allow("client", 0))
	clock.advance(10 * time.Second)
	require.NoError(t, rl.Allow("client", 0))

	err := rl.Allow("client", 0)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "minute", rle.Window)
	assert.Equal(t, int64(2), rle.Limit)
	assert.Equal(t, int64(2), rle.Used)
	assert.Equal(t, 50*time.Second, rle.RetryAfter)

	// Rejected frames are not counted.
	assert.Equal(t, 2, rl.Usage("client").FramesLastMinute)

	clock.advance(50 * time.Second)
	assert.NoError(t, rl.Allow("client", 0))
}

func TestRateLimiter_FramesPerHour(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitConfig{FramesPerHour: 3})
	for range 3 {
		require.NoError(t, rl.Allow("client", 0))
		clock.advance(2 * time.Minute)
	}

	var rle *RateLimitError
	require.True(t, errors.As(rl.Allow("client", 0), &rle))
	assert.Equal(t, "hour", rle.Window)

	clock.advance(time.Hour)
	assert.NoError(t, rl.Allow("client", 0))
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	t.Run("frames", func(t *testing.T) {
		rl, clock := newTestLimiter(RateLimitConfig{FramesPerDay: 2})
		require.NoError(t, rl.Allow("client", 0))
		require.NoError(t, rl.Allow("client", 0))

		var rle *RateLimitError
		require.True(t, errors.As(rl.Allow("client", 0), &rle))
		assert.Equal(t, "day", rle.Window)
		assert.Equal(t, 14*time.Hour, rle.RetryAfter)

		clock.advance(14 * time.Hour)
		assert.NoError(t, rl.Allow("client", 0))
		assert.Equal(t, 1, rl.Usage("client").FramesToday)
	})

	t.Run("bytes", func(t *testing.T) {
		rl, _ := newTestLimiter(RateLimitConfig{BytesPerDay: 1000})
		require.NoError(t, rl.Allow("client", 600))

		var rle *RateLimitError
		require.True(t, errors.As(rl.Allow("client", 500), &rle))
		assert.Equal(t, "bytes", rle.Window)
		assert.Equal(t, int64(600), rle.Used)

		assert.NoError(t, rl.Allow("client", 400))
	})
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(RateLimitConfig{FramesPerMinute: 1})
	require.NoError(t, rl.Allow("a", 0))
	require.NoError(t, rl.Allow("b", 0))
	assert.Error(t, rl.Allow("a", 0))
	assert.Equal(t, Usage{}, rl.Usage("unknown"))
}

func TestRateLimitError_Error(t *testing.T) {
	err := &RateLimitError{Window: "minute", Limit: 5, Used: 5, RetryAfter: 30 * time.Second}
	assert.Equal(t, "rate limit exceeded for minute (used: 5, limit: 5, retry after: 30s)", err.Error())
}
