package fswatch

import (
	"log"
	"time"
)

// Refresher owns a Watcher across every configured session root and
// triggers an incremental index refresh whenever files change.
type Refresher struct {
	watcher *Watcher
	logger  *log.Logger
}

// RefreshFunc matches indexer.Indexer.Refresh's signature, narrowed
// so this package doesn't need to import internal/indexer.
type RefreshFunc func(force bool) error

// NewRefresher builds and starts a Refresher watching every root,
// calling refresh(false) (subject to its own internal rate limit)
// whenever fswatch observes changes.
func NewRefresher(roots []string, debounce time.Duration, refresh RefreshFunc, logger *log.Logger) (*Refresher, error) {
	r := &Refresher{logger: logger}

	w, err := New(debounce, func(paths []string) {
		r.logger.Printf("fswatch: %d path(s) changed, refreshing index", len(paths))
		if err := refresh(false); err != nil {
			r.logger.Printf("fswatch: refresh failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	r.watcher = w

	for _, root := range roots {
		watched, unwatched, err := w.WatchRecursive(root)
		if err != nil {
			logger.Printf("fswatch: walking %s: %v", root, err)
			continue
		}
		logger.Printf("fswatch: watching %s (%d dirs watched, %d skipped)", root, watched, unwatched)
	}

	w.Start()
	return r, nil
}

// Stop stops the underlying watcher.
func (r *Refresher) Stop() {
	r.watcher.Stop()
}
