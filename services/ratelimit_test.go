package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(limit *atomic.Int64, clock *fakeClock) *RateLimiter {
	rl := NewRateLimiter(func() int { return int(limit.Load()) })
	rl.now = clock.Now
	return rl
}

func TestRateLimiterWindow(t *testing.T) {
	var limit atomic.Int64
	limit.Store(3)
	clock := newFakeClock()
	rl := newTestLimiter(&limit, clock)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(1), "request %d", i)
		clock.Advance(10 * time.Second)
	}
	assert.False(t, rl.Allow(1))
	assert.Equal(t, 0, rl.Remaining(1))

	// другой пользователь не затронут
	assert.True(t, rl.Allow(2))

	// первая метка выходит из окна через 60 секунд после допуска
	clock.Advance(30 * time.Second)
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
}

func TestRateLimiterRejectedRequestsDoNotConsume(t *testing.T) {
	var limit atomic.Int64
	limit.Store(1)
	clock := newFakeClock()
	rl := newTestLimiter(&limit, clock)

	assert.True(t, rl.Allow(1))
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		assert.False(t, rl.Allow(1))
	}
	clock.Advance(10 * time.Second)
	assert.True(t, rl.Allow(1))
}

func TestRateLimiterLiveLimitChange(t *testing.T) {
	var limit atomic.Int64
	limit.Store(1)
	clock := newFakeClock()
	rl := newTestLimiter(&limit, clock)

	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))

	limit.Store(3)
	assert.Equal(t, 2, rl.Remaining(1))
	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))

	limit.Store(0)
	clock.Advance(RateWindow)
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
}

func TestRateLimiterSweep(t *testing.T) {
	var limit atomic.Int64
	limit.Store(2)
	clock := newFakeClock()
	rl := newTestLimiter(&limit, clock)

	rl.Allow(1)
	clock.Advance(30 * time.Second)
	rl.Allow(2)

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 2, rl.Remaining(1))
	assert.Equal(t, 1, rl.Remaining(2))

	clock.Advance(RateWindow)
	assert.Equal(t, 2, rl.Sweep())
}

func TestRateLimiterConcurrentSameUser(t *testing.T) {
	var limit atomic.Int64
	limit.Store(5)
	rl := newTestLimiter(&limit, newFakeClock())

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(7) {
				admitted.Add(1)
			}
		}()
		if i%10 == 0 {
			rl.Sweep()
		}
	}
	wg.Wait()

	assert.EqualValues(t, 5, admitted.Load())
}
