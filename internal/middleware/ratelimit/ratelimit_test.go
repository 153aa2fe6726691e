package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimitPerUser(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.IsAllowed("a@x.com"), "request %d should pass", i+1)
	}
	assert.False(t, rl.IsAllowed("a@x.com"))

	// Another account has its own counter.
	assert.True(t, rl.IsAllowed("b@x.com"))
}

func TestWindowReset(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	assert.True(t, rl.IsAllowed("a@x.com"))
	assert.False(t, rl.IsAllowed("a@x.com"))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.IsAllowed("a@x.com"))
}
