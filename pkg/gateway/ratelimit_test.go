package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_AdmitsUnderLimit(t *testing.T) {
	b := NewTokenBucket(1000)
	require.NoError(t, b.Acquire(400))
	b.Record(400)
	require.NoError(t, b.Acquire(600))
	b.Record(600)
	assert.Equal(t, 1000, b.Used())
}

func TestTokenBucket_RefusesWithoutRecording(t *testing.T) {
	b := NewTokenBucket(800_000)
	b.Record(799_500)

	err := b.Acquire(1000)
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.LessOrEqual(t, rl.RetryAfter, time.Minute)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))

	// A refused request leaves recorded usage untouched.
	assert.Equal(t, 799_500, b.Used())
}

func TestTokenBucket_SlidingWindowExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(1000)
	b.now = func() time.Time { return now }

	b.Record(900)
	require.Error(t, b.Acquire(200))

	now = now.Add(61 * time.Second)
	require.NoError(t, b.Acquire(200))
	assert.Equal(t, 0, b.Used())
}

func TestTokenBucket_RetryAfterTracksOldestEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(1000)
	b.now = func() time.Time { return now }

	b.Record(600)
	now = now.Add(30 * time.Second)
	b.Record(300)

	// 200 fits once the first event (600 tokens) ages out in 30s.
	err := b.Acquire(200)
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
}

func TestTokenBucket_OversizedRequestHintsFullWindow(t *testing.T) {
	b := NewTokenBucket(100)
	err := b.Acquire(500)
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, time.Minute, rl.RetryAfter)
}
