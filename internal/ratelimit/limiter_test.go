package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newMemoryLimiter() (*Limiter, *MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.SetClock(clock.Now)
	return New(store), store, clock
}

func TestWindowReset(t *testing.T) {
	l, _, clock := newMemoryLimiter()
	ctx := context.Background()
	cfg := Config{Name: "test", Window: time.Second, Max: 5}

	for i := 1; i <= 5; i++ {
		res, err := l.IsRateLimited(ctx, "1.2.3.4", cfg)
		require.NoError(t, err)
		assert.False(t, res.Limited, "call %d should be admitted", i)
		assert.Equal(t, int64(i), res.Count)
		assert.Equal(t, 5-i, res.Remaining)
	}

	res, err := l.IsRateLimited(ctx, "1.2.3.4", cfg)
	require.NoError(t, err)
	assert.True(t, res.Limited)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clock.Now().Add(time.Second), res.ResetAt)

	clock.Advance(time.Second + time.Millisecond)
	res, err = l.IsRateLimited(ctx, "1.2.3.4", cfg)
	require.NoError(t, err)
	assert.False(t, res.Limited)
	assert.Equal(t, int64(1), res.Count)
}

func TestRejectedCallsStillCount(t *testing.T) {
	l, _, _ := newMemoryLimiter()
	ctx := context.Background()
	cfg := Config{Name: "test", Window: time.Minute, Max: 1}

	for i := 0; i < 4; i++ {
		_, err := l.IsRateLimited(ctx, "k", cfg)
		require.NoError(t, err)
	}
	res, err := l.IsRateLimited(ctx, "k", cfg)
	require.NoError(t, err)
	assert.True(t, res.Limited)
	assert.Equal(t, int64(5), res.Count)
}

func TestConfigsAreIsolated(t *testing.T) {
	l, _, _ := newMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < Auth.Max+1; i++ {
		_, err := l.IsRateLimited(ctx, "10.0.0.1", Auth)
		require.NoError(t, err)
	}
	res, err := l.IsRateLimited(ctx, "10.0.0.1", API)
	require.NoError(t, err)
	assert.False(t, res.Limited)
	assert.Equal(t, int64(1), res.Count)
}

func TestKeysAreIsolated(t *testing.T) {
	l, _, _ := newMemoryLimiter()
	ctx := context.Background()
	cfg := Config{Name: "test", Window: time.Minute, Max: 1}

	_, _ = l.IsRateLimited(ctx, "a", cfg)
	res, _ := l.IsRateLimited(ctx, "a", cfg)
	assert.True(t, res.Limited)

	res, _ = l.IsRateLimited(ctx, "b", cfg)
	assert.False(t, res.Limited)
}

func TestConcurrentCallsAreNotUndercounted(t *testing.T) {
	l, _, _ := newMemoryLimiter()
	ctx := context.Background()
	cfg := Config{Name: "test", Window: time.Hour, Max: 1000}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = l.IsRateLimited(ctx, "shared", cfg)
			}
		}()
	}
	wg.Wait()

	res, err := l.IsRateLimited(ctx, "shared", cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), res.Count)
	assert.True(t, res.Limited)
}

func TestLazySweep(t *testing.T) {
	l, store, clock := newMemoryLimiter()
	ctx := context.Background()
	cfg := Config{Name: "test", Window: time.Second, Max: 5}

	for _, k := range []string{"a", "b", "c"} {
		_, _ = l.IsRateLimited(ctx, k, cfg)
	}
	assert.Equal(t, 3, store.Len())

	// Nothing is swept without a touch.
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 3, store.Len())

	_, _ = l.IsRateLimited(ctx, "d", cfg)
	assert.Equal(t, 1, store.Len())
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("down")
}

func TestStoreErrorFailsOpen(t *testing.T) {
	l := New(failingStore{})
	res, err := l.IsRateLimited(context.Background(), "k", Auth)
	assert.Error(t, err)
	assert.False(t, res.Limited)
	assert.Equal(t, Auth.Max, res.Limit)
}

func TestRetryAfter(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 90, Result{ResetAt: now.Add(89500 * time.Millisecond)}.RetryAfter(now))
	assert.Equal(t, 1, Result{ResetAt: now.Add(-time.Second)}.RetryAfter(now))
}
