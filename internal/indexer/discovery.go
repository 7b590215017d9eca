package indexer

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// discoveredFile pairs a session file's path with the encoded
// project directory name it was found under.
type discoveredFile struct {
	path           string
	projectEncoded string
}

// isSubagentSession reports whether any path component of path is
// literally "subagents".
func isSubagentSession(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "subagents" {
			return true
		}
	}
	return false
}

// hasSubagentsDir reports whether a main session file at
// <dir>/<session_id>.<ext> has a matching
// <dir>/<session_id>/subagents directory.
func hasSubagentsDir(sessionFilePath string) bool {
	dir := filepath.Dir(sessionFilePath)
	sessionID := strings.TrimSuffix(
		filepath.Base(sessionFilePath),
		filepath.Ext(sessionFilePath),
	)
	subagentsDir := filepath.Join(dir, sessionID, "subagents")
	info, err := os.Stat(subagentsDir)
	return err == nil && info.IsDir()
}

// discoverSessionFiles walks every configured root directory,
// treating each immediate subdirectory as an encoded project name
// and recursively collecting every file with the configured session
// extension beneath it. Subagent files are included only when
// includeSubagents is set.
func discoverSessionFiles(
	roots []string, ext string, includeSubagents bool, logger *log.Logger,
) map[string]discoveredFile {
	discovered := make(map[string]discoveredFile)

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			logger.Printf("indexer: root does not exist: %s", root)
			continue
		}
		if !info.IsDir() {
			logger.Printf("indexer: warning: root is not a directory: %s", root)
			continue
		}

		entries, err := os.ReadDir(root)
		if err != nil {
			logger.Printf("indexer: warning: cannot scan %s: %v", root, err)
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			projectEncoded := entry.Name()
			projectDir := filepath.Join(root, projectEncoded)

			err := filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil // skip inaccessible entries
				}
				if d.IsDir() {
					return nil
				}
				if filepath.Ext(path) != ext {
					return nil
				}
				if isSubagentSession(path) && !includeSubagents {
					return nil
				}
				discovered[path] = discoveredFile{
					path:           path,
					projectEncoded: projectEncoded,
				}
				return nil
			})
			if err != nil {
				logger.Printf("indexer: warning: error scanning %s: %v", projectDir, err)
			}
		}
	}

	return discovered
}
