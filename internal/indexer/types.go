// Package indexer discovers session log files on disk, extracts
// cheap per-session metadata, and maintains a searchable, persisted
// index of sessions and their owning projects.
package indexer

import (
	"sync"
	"time"
)

// indexVersion is the on-disk schema version written into every
// persisted search_index.json.
const indexVersion = 1

// SessionInfo is the indexed view of one session log file. Instances
// are immutable between refreshes except for the lazily-computed
// duration, which is cached the first time it's requested.
type SessionInfo struct {
	SessionID          string     `json:"session_id"`
	ProjectEncoded     string     `json:"project_encoded"`
	ProjectDisplayName string     `json:"project_display_name"`
	FilePath           string     `json:"file_path"`
	Summary            *string    `json:"summary"`
	CreatedAt          time.Time  `json:"created_at"`
	ModifiedAt         time.Time  `json:"modified_at"`
	SizeBytes          int64      `json:"size_bytes"`
	LineCount          int        `json:"line_count"`
	HasSubagents       bool       `json:"has_subagents"`

	durationMu     sync.Mutex
	durationLoaded bool
	durationMs     *int
}

// DurationMs returns the session's total turn duration in
// milliseconds, computed lazily on first access by scanning the
// session file for turn_duration records. The result is cached;
// nil means either the sum was zero or the file could not be read.
func (s *SessionInfo) DurationMs() *int {
	s.durationMu.Lock()
	defer s.durationMu.Unlock()
	if !s.durationLoaded {
		s.durationMs = computeDurationMs(s.FilePath)
		s.durationLoaded = true
	}
	return s.durationMs
}

// ProjectInfo is the derived, fully-rebuilt-on-every-refresh view of
// all sessions sharing one encoded project directory.
type ProjectInfo struct {
	EncodedName      string     `json:"encoded_name"`
	DecodedPath      string     `json:"decoded_path"`
	DisplayName      string     `json:"display_name"`
	SessionIDs       []string   `json:"session_ids"`
	TotalSizeBytes   int64      `json:"total_size_bytes"`
	LatestModifiedAt *time.Time `json:"latest_modified_at"`
}

// SessionIndex is the root of the in-memory and persisted index. It
// is built and replaced wholesale by the Indexer; callers only ever
// see immutable snapshots.
type SessionIndex struct {
	Version           int                     `json:"version"`
	CreatedAt         time.Time               `json:"created_at"`
	LastRefresh       time.Time               `json:"last_refresh"`
	RefreshDurationMs int64                   `json:"refresh_duration_ms"`
	Sessions          map[string]*SessionInfo `json:"sessions"`
	Projects          map[string]*ProjectInfo `json:"projects"`
	FileMtimes        map[string]float64      `json:"file_mtimes"`
}

func newSessionIndex(now time.Time) *SessionIndex {
	return &SessionIndex{
		Version:     indexVersion,
		CreatedAt:   now,
		LastRefresh: now,
		Sessions:    make(map[string]*SessionInfo),
		Projects:    make(map[string]*ProjectInfo),
		FileMtimes:  make(map[string]float64),
	}
}

// cloneForWrite returns a new SessionIndex sharing no mutable state
// with idx, so idx (which may still be read concurrently by other
// goroutines) is never mutated in place. Used as the copy-on-replace
// starting point for an incremental refresh.
func (idx *SessionIndex) cloneForWrite() *SessionIndex {
	out := &SessionIndex{
		Version:           idx.Version,
		CreatedAt:         idx.CreatedAt,
		LastRefresh:       idx.LastRefresh,
		RefreshDurationMs: idx.RefreshDurationMs,
		Sessions:          make(map[string]*SessionInfo, len(idx.Sessions)),
		Projects:          make(map[string]*ProjectInfo, len(idx.Projects)),
		FileMtimes:        make(map[string]float64, len(idx.FileMtimes)),
	}
	for k, v := range idx.Sessions {
		// Unchanged sessions are carried over by pointer: a
		// session is immutable once constructed (aside from its
		// own internally-locked duration cache), so sharing it
		// across snapshots is safe and keeps a warm cache.
		out.Sessions[k] = v
	}
	for k, v := range idx.FileMtimes {
		out.FileMtimes[k] = v
	}
	return out
}

// IndexConfig tunes indexer behaviour.
type IndexConfig struct {
	// RefreshInterval is advisory: the scheduled periodic refresh
	// period a host process should use. Not enforced internally.
	RefreshInterval time.Duration
	// MaxSessionsPerProject is carried over from the reference
	// implementation but is not enforced anywhere (it never was).
	MaxSessionsPerProject int
	IncludeSubagents      bool
	Persist               bool
	MaxIndexAgeHours      float64
	// SessionExtension is the file extension (with leading dot)
	// that marks a session log. Defaults to ".jsonl".
	SessionExtension string
}

// DefaultIndexConfig returns the reference configuration.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		RefreshInterval:       5 * time.Minute,
		MaxSessionsPerProject: 100,
		IncludeSubagents:      false,
		Persist:               true,
		MaxIndexAgeHours:      1.0,
		SessionExtension:      ".jsonl",
	}
}
