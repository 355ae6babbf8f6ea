//go:build windows

package hasher

import "strings"

// deviceID identifies the storage device by the drive letter; UNC and
// relative paths collapse to one bucket.
func deviceID(path string) uint64 {
	if len(path) >= 2 && path[1] == ':' {
		return uint64(strings.ToUpper(path[:1])[0])
	}
	return 0
}
