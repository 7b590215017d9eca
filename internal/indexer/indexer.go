package indexer

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessionwatcher/watcher/internal/pathcodec"
	"github.com/sessionwatcher/watcher/internal/ratelimit"
)

// Indexer discovers session files under a set of root directories,
// maintains an in-memory SessionIndex, and persists it atomically.
// All exported methods are safe for concurrent use.
type Indexer struct {
	roots    []string
	cfg      IndexConfig
	stateDir string
	logger   *log.Logger
	now      func() time.Time

	// refreshMu is the single-holder exclusion lock serializing all
	// refreshes (full or incremental).
	refreshMu sync.Mutex
	current   atomic.Pointer[SessionIndex]

	refreshGate *ratelimit.Limiter
}

const refreshGateKey = "refresh"

// New constructs an Indexer over roots. stateDir may be empty when
// cfg.Persist is false.
func New(roots []string, cfg IndexConfig, stateDir string, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = log.Default()
	}
	return &Indexer{
		roots:       roots,
		cfg:         cfg,
		stateDir:    stateDir,
		logger:      logger,
		now:         time.Now,
		refreshGate: ratelimit.New(1, 60*time.Second),
	}
}

// GetIndex returns the current index, building or loading it first
// if this is the first call.
func (ix *Indexer) GetIndex() (*SessionIndex, error) {
	if snap := ix.current.Load(); snap != nil {
		return snap, nil
	}
	return ix.loadOrBuild()
}

// GetSession returns a session by id, or nil if not indexed or the
// indexer has not been initialised.
func (ix *Indexer) GetSession(sessionID string) *SessionInfo {
	snap := ix.current.Load()
	if snap == nil {
		return nil
	}
	return snap.Sessions[sessionID]
}

// GetProject returns a project by encoded name, or nil.
func (ix *Indexer) GetProject(encodedName string) *ProjectInfo {
	snap := ix.current.Load()
	if snap == nil {
		return nil
	}
	return snap.Projects[encodedName]
}

// Refresh re-scans all roots. With force=false it fails with
// *ratelimit.ErrRateLimited if a refresh was requested less than 60
// seconds ago, whether or not that request succeeded.
func (ix *Indexer) Refresh(force bool) (*SessionIndex, error) {
	if !force {
		if err := ix.refreshGate.Check(refreshGateKey); err != nil {
			return nil, err
		}
	}

	ix.refreshMu.Lock()
	defer ix.refreshMu.Unlock()
	return ix.doRefresh(), nil
}

// loadOrBuild is used only the first time the index is needed: it
// tries the persisted snapshot and then runs a refresh against it
// (incremental if it loaded, full otherwise).
func (ix *Indexer) loadOrBuild() (*SessionIndex, error) {
	ix.refreshMu.Lock()
	defer ix.refreshMu.Unlock()

	if snap := ix.current.Load(); snap != nil {
		return snap, nil
	}

	if ix.cfg.Persist {
		if loaded, ok := loadPersistedIndex(ix.stateDir, ix.cfg.MaxIndexAgeHours, ix.now(), ix.logger); ok {
			ix.current.Store(loaded)
		}
	}
	return ix.doRefresh(), nil
}

// doRefresh performs one full or incremental refresh depending on
// whether an index is already published, then atomically publishes
// the result. Must be called with refreshMu held.
func (ix *Indexer) doRefresh() *SessionIndex {
	start := ix.now()

	prev := ix.current.Load()
	incremental := prev != nil

	var next *SessionIndex
	if incremental {
		next = prev.cloneForWrite()
	} else {
		next = newSessionIndex(start)
	}

	ext := ix.cfg.SessionExtension
	if ext == "" {
		ext = ".jsonl"
	}
	discovered := discoverSessionFiles(ix.roots, ext, ix.cfg.IncludeSubagents, ix.logger)

	if incremental {
		removeVanished(next, discovered)
	}

	for path, df := range discovered {
		ix.processFile(next, path, df.projectEncoded, incremental)
	}

	rebuildProjects(next)

	end := ix.now()
	next.LastRefresh = end
	next.RefreshDurationMs = end.Sub(start).Milliseconds()

	ix.current.Store(next)

	if ix.cfg.Persist {
		if err := saveIndex(ix.stateDir, next); err != nil {
			ix.logger.Printf("indexer: warning: failed to persist index: %v", err)
		}
	}

	ix.logger.Printf(
		"indexer: refresh complete: %d sessions, %d projects in %dms",
		len(next.Sessions), len(next.Projects), next.RefreshDurationMs,
	)
	return next
}

func removeVanished(idx *SessionIndex, discovered map[string]discoveredFile) {
	for sid, info := range idx.Sessions {
		if _, ok := discovered[info.FilePath]; !ok {
			delete(idx.FileMtimes, info.FilePath)
			delete(idx.Sessions, sid)
		}
	}
}

// processFile updates idx in place with the session found at path.
// On an incremental refresh, files whose mtime matches the cached
// value are left untouched (the SessionInfo pointer, and its warm
// duration cache, carries over from cloneForWrite).
func (ix *Indexer) processFile(idx *SessionIndex, path, projectEncoded string, incremental bool) {
	stat, err := os.Stat(path)
	if err != nil {
		ix.logger.Printf("indexer: warning: cannot stat %s: %v", path, err)
		return
	}
	currentMtime := float64(stat.ModTime().UnixNano()) / 1e9

	if incremental {
		if cached, ok := idx.FileMtimes[path]; ok && cached == currentMtime {
			return
		}
	}

	sessionID := sessionIDFromPath(path)
	decodedPath := pathcodec.Decode(projectEncoded)
	displayName := pathcodec.DisplayName(decodedPath)

	if pathcodec.LooksLegacy(projectEncoded) {
		ix.logger.Printf(
			"indexer: possibly ambiguous path encoding for project %q: decoded as %q",
			projectEncoded, decodedPath,
		)
	}

	summary, lineCount, err := extractSessionMetadata(path)
	if err != nil {
		ix.logger.Printf("indexer: warning: failed to read %s: %v", path, err)
	}

	modifiedAt := stat.ModTime().UTC()
	createdAt := modifiedAt
	if bt, ok := fileBirthTime(path); ok {
		createdAt = bt
	}

	info := &SessionInfo{
		SessionID:          sessionID,
		ProjectEncoded:     projectEncoded,
		ProjectDisplayName: displayName,
		FilePath:           path,
		Summary:            summary,
		CreatedAt:          createdAt,
		ModifiedAt:         modifiedAt,
		SizeBytes:          stat.Size(),
		LineCount:          lineCount,
		HasSubagents:       hasSubagentsDir(path),
	}

	if existing, ok := idx.Sessions[sessionID]; ok && existing.FilePath != path {
		ix.logger.Printf(
			"indexer: session id collision for %q: %s overwriting %s",
			sessionID, path, existing.FilePath,
		)
	}

	idx.Sessions[sessionID] = info
	idx.FileMtimes[path] = currentMtime
}

func rebuildProjects(idx *SessionIndex) {
	idx.Projects = make(map[string]*ProjectInfo)
	for sessionID, info := range idx.Sessions {
		proj, ok := idx.Projects[info.ProjectEncoded]
		if !ok {
			decoded := pathcodec.Decode(info.ProjectEncoded)
			proj = &ProjectInfo{
				EncodedName: info.ProjectEncoded,
				DecodedPath: decoded,
				DisplayName: pathcodec.DisplayName(decoded),
			}
			idx.Projects[info.ProjectEncoded] = proj
		}
		proj.SessionIDs = append(proj.SessionIDs, sessionID)
		proj.TotalSizeBytes += info.SizeBytes
		if proj.LatestModifiedAt == nil || info.ModifiedAt.After(*proj.LatestModifiedAt) {
			t := info.ModifiedAt
			proj.LatestModifiedAt = &t
		}
	}
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
