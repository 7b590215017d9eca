package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSlidingWindow(t *testing.T) {
	l := New(2, time.Second)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	assert.NoError(t, l.Check("x"))
	assert.NoError(t, l.Check("x"))

	err := l.Check("x")
	require.Error(t, err)
	retry, ok := IsRateLimited(err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, retry, 1)

	clock = clock.Add(1100 * time.Millisecond)
	assert.NoError(t, l.Check("x"))
}

func TestCheckKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	assert.NoError(t, l.Check("a"))
	assert.NoError(t, l.Check("b"))
	assert.Error(t, l.Check("a"))
}

func TestReset(t *testing.T) {
	l := New(1, time.Minute)
	require.NoError(t, l.Check("x"))
	require.Error(t, l.Check("x"))
	l.Reset("x")
	assert.NoError(t, l.Check("x"))
}

func TestRemaining(t *testing.T) {
	l := New(3, time.Minute)
	assert.Equal(t, 3, l.Remaining("x"))
	require.NoError(t, l.Check("x"))
	assert.Equal(t, 2, l.Remaining("x"))
}

func TestCleanup(t *testing.T) {
	l := New(5, time.Second)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	require.NoError(t, l.Check("a"))
	require.NoError(t, l.Check("b"))

	clock = clock.Add(2 * time.Second)
	dropped := l.Cleanup()
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 5, l.Remaining("a"))
}

func TestNeverExceedsRateWithinWindow(t *testing.T) {
	l := New(3, time.Second)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	allowed := 0
	for range 10 {
		if err := l.Check("x"); err == nil {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}
