package searchstate

import (
	"testing"
	"time"

	"github.com/sessionwatcher/watcher/internal/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fiveSessions() []*indexer.SessionInfo {
	out := make([]*indexer.SessionInfo, 5)
	for i := range out {
		out[i] = &indexer.SessionInfo{SessionID: string(rune('a' + i))}
	}
	return out
}

func TestPageReturnsSlicedWindow(t *testing.T) {
	s := &State{Results: fiveSessions(), CurrentOffset: 0}
	page := s.Page(2)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].SessionID)
	assert.Equal(t, "b", page[1].SessionID)
}

func TestPageClampsAtEnd(t *testing.T) {
	s := &State{Results: fiveSessions(), CurrentOffset: 4}
	page := s.Page(5)
	require.Len(t, page, 1)
	assert.Equal(t, "e", page[0].SessionID)
}

func TestSessionAtIndex(t *testing.T) {
	s := &State{Results: fiveSessions(), CurrentOffset: 2}
	assert.Equal(t, "c", s.SessionAt(0).SessionID)
	assert.Nil(t, s.SessionAt(10))
	assert.Nil(t, s.SessionAt(-3))
}

func TestHasNextAndPrevPage(t *testing.T) {
	s := &State{Results: fiveSessions(), CurrentOffset: 0}
	assert.True(t, s.HasNextPage(2))
	assert.False(t, s.HasPrevPage())

	s.CurrentOffset = 4
	assert.False(t, s.HasNextPage(2))
	assert.True(t, s.HasPrevPage())
}

func TestStoreSaveAndGet(t *testing.T) {
	store := New(5 * time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	state := &State{Query: "bug", Results: fiveSessions(), CreatedAt: now}
	store.Save("chat:1", state)

	got, err := store.Get("chat:1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bug", got.Query)
}

func TestStoreGetMissingReturnsNilNil(t *testing.T) {
	store := New(5 * time.Minute)
	got, err := store.Get("nope")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreGetExpiredReturnsErr(t *testing.T) {
	store := New(1 * time.Minute)
	base := time.Now()
	store.now = func() time.Time { return base }

	store.Save("chat:1", &State{CreatedAt: base})

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	got, err := store.Get("chat:1")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrStateExpired)

	// Expired state is evicted.
	got, err = store.Get("chat:1")
	assert.Nil(t, got)
	assert.NoError(t, err)
}

func TestStoreUpdateOffset(t *testing.T) {
	store := New(5 * time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	store.Save("chat:1", &State{Results: fiveSessions(), CreatedAt: now})

	updated, err := store.UpdateOffset("chat:1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.CurrentOffset)

	got, _ := store.Get("chat:1")
	assert.Equal(t, 3, got.CurrentOffset)
}

func TestStoreUpdateOffsetMissing(t *testing.T) {
	store := New(5 * time.Minute)
	updated, err := store.UpdateOffset("nope", 1)
	assert.NoError(t, err)
	assert.Nil(t, updated)
}

func TestStoreDelete(t *testing.T) {
	store := New(5 * time.Minute)
	store.Save("chat:1", &State{CreatedAt: time.Now()})
	store.Delete("chat:1")

	got, err := store.Get("chat:1")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreSaveCleansUpOtherExpiredStates(t *testing.T) {
	store := New(1 * time.Minute)
	base := time.Now()
	store.now = func() time.Time { return base }
	store.Save("old", &State{CreatedAt: base})

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	store.Save("new", &State{CreatedAt: base.Add(2 * time.Minute)})

	assert.Len(t, store.states, 1)
	_, ok := store.states["old"]
	assert.False(t, ok)
}
