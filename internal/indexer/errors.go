package indexer

import "errors"

// ErrNotInitialised is returned by components that depend on an
// Indexer that hasn't built or loaded an index yet.
var ErrNotInitialised = errors.New("indexer: not initialised")
