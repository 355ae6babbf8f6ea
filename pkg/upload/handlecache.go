package upload

import (
	"os"
	"sync"

	"github.com/airdcpp/airdcpp-go/internal/pathutil"
)

// sharedHandle is a reference-counted read-only file handle. Concurrent
// uploads of the same file share one OS handle and position themselves
// with ReadAt.
type sharedHandle struct {
	cache *handleCache
	key   string
	file  *os.File
	refs  int
}

// ReadAt serves concurrent readers without a shared cursor.
func (h *sharedHandle) ReadAt(p []byte, off int64) (int, error) {
	return h.file.ReadAt(p, off)
}

// Release drops one reference; the OS handle closes with the last one.
func (h *sharedHandle) Release() {
	h.cache.release(h)
}

// handleCache deduplicates open file handles by lowercase path. Handles
// open lazily and close when the last reference is dropped.
type handleCache struct {
	mu      sync.Mutex
	handles map[string]*sharedHandle
}

func newHandleCache() *handleCache {
	return &handleCache{handles: make(map[string]*sharedHandle)}
}

// Open returns a shared handle for reading realPath.
func (c *handleCache) Open(realPath string) (*sharedHandle, error) {
	key := pathutil.ToLower(realPath)

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[key]; ok {
		h.refs++
		return h, nil
	}
	f, err := os.Open(realPath)
	if err != nil {
		return nil, err
	}
	h := &sharedHandle{cache: c, key: key, file: f, refs: 1}
	c.handles[key] = h
	return h, nil
}

func (c *handleCache) release(h *sharedHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h.refs--
	if h.refs > 0 {
		return
	}
	delete(c.handles, h.key)
	h.file.Close()
}

// openCount reports the number of distinct open handles.
func (c *handleCache) openCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}
