//go:build !linux

package indexer

import "time"

// fileBirthTime is unsupported on this platform; callers fall back
// to modification time.
func fileBirthTime(path string) (time.Time, bool) {
	return time.Time{}, false
}
