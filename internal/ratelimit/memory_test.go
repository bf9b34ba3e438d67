package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterEnforcesCap(t *testing.T) {
	l := NewMemoryLimiter(Config{Enabled: true, Window: time.Minute, MaxRequests: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "alice", "chat")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Allow(ctx, "alice", "chat")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
	assert.LessOrEqual(t, d.RetryAfter, 60)

	// Another user is unaffected.
	d, err = l.Allow(ctx, "bob", "chat")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterKeysDoNotCollide(t *testing.T) {
	// "a:x"+"chat" and "a"+"x:chat" concatenate identically without a
	// separator; they must count against distinct windows.
	l := NewMemoryLimiter(Config{Enabled: true, Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()

	d, err := l.Allow(ctx, "a:x", "chat")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "a", "x:chat")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "distinct user/route pairs share no counter")

	d, err = l.Allow(ctx, "a:x", "chat")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestMemoryLimiterNewWindowResets(t *testing.T) {
	l := NewMemoryLimiter(Config{Enabled: true, Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return base }

	d, err := l.Allow(ctx, "alice", "chat")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "alice", "chat")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30, d.RetryAfter, "30 s left of a minute window entered at :30")

	l.now = func() time.Time { return base.Add(time.Minute) }
	d, err = l.Allow(ctx, "alice", "chat")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "fresh window starts a fresh count")
}

func TestMemoryLimiterDisabledAllowsEverything(t *testing.T) {
	l := NewMemoryLimiter(Config{Enabled: false, Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := l.Allow(ctx, "alice", "chat")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}
