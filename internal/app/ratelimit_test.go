package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u2"), "limits are per user")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("u1"))

	now = now.Add(2 * time.Minute)
	rl.Prune()
	assert.Empty(t, rl.history)
}

func TestRateLimiterDisabled(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("u1"))

	rl := NewRateLimiter(0, time.Minute)
	for range 10 {
		assert.True(t, rl.Allow("u1"))
	}
}
