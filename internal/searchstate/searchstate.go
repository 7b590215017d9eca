// Package searchstate caches one active search per chat so
// pagination buttons can page through a previously-computed result
// set without re-running the search.
package searchstate

import (
	"errors"
	"sync"
	"time"

	"github.com/sessionwatcher/watcher/internal/indexer"
	"github.com/sessionwatcher/watcher/internal/search"
)

// ErrStateExpired is returned by Get and UpdateOffset when a chat's
// state existed but its TTL has elapsed.
var ErrStateExpired = errors.New("searchstate: state expired")

// State is the cached result set and pagination cursor for one
// chat's active search.
type State struct {
	Query         string
	Filters       search.Filters
	Results       []*indexer.SessionInfo
	CurrentOffset int
	MessageID     string
	CreatedAt     time.Time
}

// Page returns the current page of results (limit entries starting
// at CurrentOffset).
func (s *State) Page(limit int) []*indexer.SessionInfo {
	start := s.CurrentOffset
	if start > len(s.Results) {
		start = len(s.Results)
	}
	end := start + limit
	if end > len(s.Results) {
		end = len(s.Results)
	}
	return s.Results[start:end]
}

// SessionAt returns the session at a page-relative index (0-based),
// or nil if out of range.
func (s *State) SessionAt(index int) *indexer.SessionInfo {
	actual := s.CurrentOffset + index
	if actual < 0 || actual >= len(s.Results) {
		return nil
	}
	return s.Results[actual]
}

// HasNextPage reports whether results remain after the current page.
func (s *State) HasNextPage(limit int) bool {
	return s.CurrentOffset+limit < len(s.Results)
}

// HasPrevPage reports whether the current page isn't the first.
func (s *State) HasPrevPage() bool {
	return s.CurrentOffset > 0
}

// Store holds one State per chat, expiring entries after a TTL.
// Safe for concurrent use.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	states map[string]*State
}

// New constructs a Store with the given time-to-live.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:    ttl,
		now:    time.Now,
		states: make(map[string]*State),
	}
}

// Save stores or replaces state for chatID, then sweeps every other
// chat's expired state.
func (st *Store) Save(chatID string, state *State) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.states[chatID] = state
	st.cleanupExpired()
}

// Get returns the state for chatID. It returns (nil, nil) if no
// state was ever saved, and (nil, ErrStateExpired) if one was saved
// but has since expired (and has now been evicted).
func (st *Store) Get(chatID string) (*State, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	state, ok := st.states[chatID]
	if !ok {
		return nil, nil
	}
	if st.expired(state) {
		delete(st.states, chatID)
		return nil, ErrStateExpired
	}
	return state, nil
}

// UpdateOffset sets the pagination offset on chatID's state and
// returns it, with the same nil/ErrStateExpired semantics as Get.
func (st *Store) UpdateOffset(chatID string, newOffset int) (*State, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	state, ok := st.states[chatID]
	if !ok {
		return nil, nil
	}
	if st.expired(state) {
		delete(st.states, chatID)
		return nil, ErrStateExpired
	}
	state.CurrentOffset = newOffset
	return state, nil
}

// Delete removes chatID's state, if any.
func (st *Store) Delete(chatID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.states, chatID)
}

func (st *Store) expired(s *State) bool {
	return st.now().Sub(s.CreatedAt) > st.ttl
}

// cleanupExpired removes every expired state. Must be called with
// mu held.
func (st *Store) cleanupExpired() {
	now := st.now()
	for chatID, state := range st.states {
		if now.Sub(state.CreatedAt) > st.ttl {
			delete(st.states, chatID)
		}
	}
}
