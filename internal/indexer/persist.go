package indexer

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

const indexFileName = "search_index.json"

func indexFilePath(stateDir string) string {
	return filepath.Join(stateDir, indexFileName)
}

// loadPersistedIndex reads and validates the persisted index. It
// returns ok=false (logging the reason) if the file is missing,
// malformed, or older than maxAgeHours.
func loadPersistedIndex(stateDir string, maxAgeHours float64, now time.Time, logger *log.Logger) (*SessionIndex, bool) {
	if stateDir == "" {
		return nil, false
	}
	path := indexFilePath(stateDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var idx SessionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		logger.Printf("indexer: persisted index is malformed, ignoring: %v", err)
		return nil, false
	}
	if idx.Sessions == nil {
		idx.Sessions = make(map[string]*SessionInfo)
	}
	if idx.Projects == nil {
		idx.Projects = make(map[string]*ProjectInfo)
	}
	if idx.FileMtimes == nil {
		idx.FileMtimes = make(map[string]float64)
	}

	ageHours := now.Sub(idx.LastRefresh).Hours()
	if ageHours > maxAgeHours {
		logger.Printf(
			"indexer: persisted index is %.1fh old, exceeds max age %.1fh, rebuilding",
			ageHours, maxAgeHours,
		)
		return nil, false
	}

	logger.Printf("indexer: loaded persisted index with %d sessions from %s", len(idx.Sessions), path)
	return &idx, true
}

// saveIndex writes idx to <state_dir>/search_index.json atomically:
// write to a sibling temp file, then rename onto the target.
func saveIndex(stateDir string, idx *SessionIndex) error {
	if stateDir == "" {
		return nil
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}

	tmp, err := os.CreateTemp(stateDir, ".index_*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, indexFilePath(stateDir)); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
