package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestKeyedRateLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		burst    int
		calls    int
		wantPass int
	}{
		{"burst allows initial requests", 3, 3, 3},
		{"exceeding burst blocks", 2, 5, 2},
		{"single token", 1, 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := New(1, tt.burst)
			defer rl.Stop()

			passed := 0
			for range tt.calls {
				if ok, _ := rl.Allow("user-1"); ok {
					passed++
				}
			}
			assert.Equal(t, tt.wantPass, passed)
		})
	}
}

func TestKeyedRateLimiter_RetryAfter(t *testing.T) {
	rl := New(1, 1)
	defer rl.Stop()

	ok, _ := rl.Allow("user-1")
	require.True(t, ok)

	ok, retryAfter := rl.Allow("user-1")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Second)

	// A rejected call must not consume the next token.
	ok, retryAgain := rl.Allow("user-1")
	assert.False(t, ok)
	assert.LessOrEqual(t, retryAgain, retryAfter)
}

func TestKeyedRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := New(1, 1)
	defer rl.Stop()

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("b")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 2, rl.Len())
}

func TestKeyedRateLimiter_EvictIdle(t *testing.T) {
	rl := NewWithIdleTTL(1, 1, time.Minute)
	defer rl.Stop()

	base := time.Now()
	rl.now = func() time.Time { return base }
	rl.Allow("old")

	rl.now = func() time.Time { return base.Add(50 * time.Second) }
	rl.Allow("fresh")

	evicted := rl.evictIdle(base.Add(90 * time.Second))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, rl.Len())
}

func TestKeyedRateLimiter_Wait(t *testing.T) {
	rl := New(1000, 1)
	defer rl.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, rl.Wait(ctx, "k"))
	require.NoError(t, rl.Wait(ctx, "k"))
}

func TestKeyedRateLimiter_WaitCanceled(t *testing.T) {
	rl := New(0.001, 1)
	defer rl.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rl.Wait(ctx, "k"))
	cancel()
	assert.Error(t, rl.Wait(ctx, "k"))
}

func TestPerMinute(t *testing.T) {
	rl := PerMinute(60, 2)
	defer rl.Stop()
	assert.InDelta(t, 1.0, float64(rl.limit), 0.0001)
	assert.Equal(t, 2, rl.burst)
}

func TestKeyedRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := New(1, 1)
	rl.Stop()
	rl.Stop()
}
