//go:build linux

package indexer

import (
	"time"

	"golang.org/x/sys/unix"
)

// fileBirthTime reports the filesystem birth time for path, if the
// underlying filesystem and kernel expose it via statx.
func fileBirthTime(path string) (time.Time, bool) {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BTIME, &stx)
	if err != nil || stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, false
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)).UTC(), true
}
