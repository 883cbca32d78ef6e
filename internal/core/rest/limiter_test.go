package rest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalLimiterBlock(t *testing.T) {
	g := NewGlobalLimiter(0)
	now := time.Now()

	assert.Zero(t, g.Delay(now))
	assert.False(t, g.Blocked(now))

	g.Block(now.Add(time.Second))
	assert.Equal(t, time.Second, g.Delay(now))
	assert.True(t, g.Blocked(now.Add(500*time.Millisecond)))

	// An earlier block never shortens an active one.
	g.Block(now.Add(100 * time.Millisecond))
	assert.Equal(t, time.Second, g.Delay(now))

	assert.Zero(t, g.Delay(now.Add(time.Second)))
	assert.False(t, g.Blocked(now))
}

func TestGlobalLimiterSteadyRate(t *testing.T) {
	g := NewGlobalLimiter(10)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 12; i++ {
		require.NoError(t, g.Wait(ctx))
	}
	// Burst of 10, then two more at 100ms each.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, g.Wait(cancelled))
}

func TestBucketUpdateAndDelay(t *testing.T) {
	b := newBucket("users/@me")
	now := time.Now()

	assert.Zero(t, b.delay(now, 0), "unknown bucket is unconstrained")

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "5")
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset-After", "1.5")
	remaining, known := b.update(h, now)
	assert.True(t, known)
	assert.Equal(t, 0, remaining)

	assert.Equal(t, 1500*time.Millisecond, b.delay(now, 0))
	assert.Equal(t, 1750*time.Millisecond, b.delay(now, 250*time.Millisecond))
	assert.Zero(t, b.delay(now.Add(2*time.Second), 0))

	// The first admission after the reset starts a new window.
	b.take(now.Add(2 * time.Second))
	snap := b.snapshot()
	assert.Equal(t, 4, snap.Remaining)
	assert.Equal(t, 1, snap.InFlight)
	assert.True(t, snap.ResetAt.IsZero())
	b.release()
	assert.Equal(t, 0, b.snapshot().InFlight)
}

func TestBucketResetEpoch(t *testing.T) {
	b := newBucket("guilds/222222222222222222/roles")
	now := time.Unix(1_700_000_000, 0)

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "1700000002.5")
	b.update(h, now)
	assert.Equal(t, 2500*time.Millisecond, b.delay(now, 0))

	// Reset-After wins over Reset.
	h.Set("X-RateLimit-Reset-After", "1")
	b.update(h, now)
	assert.Equal(t, time.Second, b.delay(now, 0))
}

func TestBucketBlockAndQueue(t *testing.T) {
	b := newBucket("users/@me")
	now := time.Now()
	b.block(now.Add(300 * time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, b.delay(now, 0))

	first := &job{desc: descriptor(http.MethodGet, "/users/@me")}
	second := &job{desc: descriptor(http.MethodGet, "/users/@me")}
	assert.Equal(t, 1, b.push(first))
	assert.Equal(t, 2, b.push(second))

	assert.True(t, b.startDrain())
	assert.False(t, b.startDrain())

	j, depth := b.popOrIdle()
	assert.Same(t, first, j)
	assert.Equal(t, 1, depth)

	rest := b.drainAll()
	require.Len(t, rest, 1)
	assert.Same(t, second, rest[0])

	j, _ = b.popOrIdle()
	assert.Nil(t, j)
	assert.True(t, b.startDrain(), "idle bucket starts a new drainer")
}

func TestFutureResolvesOnce(t *testing.T) {
	f := newFuture()
	env := &Envelope{StatusCode: 200, OK: true}
	f.resolve(env, nil)
	f.resolve(nil, ErrClosed)

	select {
	case <-f.Done():
	default:
		t.Fatal("future not done")
	}
	got, err := f.Result()
	require.NoError(t, err)
	assert.Same(t, env, got)

	_, err = failedFuture(ErrClosed).Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
