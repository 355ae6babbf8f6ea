//go:build !windows

package hasher

import "golang.org/x/sys/unix"

// deviceID identifies the storage device a path lives on, so the
// dispatcher can keep sequential readers from fighting over one disk.
func deviceID(path string) uint64 {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0
	}
	return uint64(st.Dev)
}
