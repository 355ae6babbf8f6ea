// Package bufpool provides reusable byte buffers for bulk file I/O.
//
// Hashing and upload streaming both move data in large chunks at high
// rates; pooling the chunk buffers keeps allocation out of the hot loop.
// Two size classes cover the common cases: directory-scan and list
// buffers (64 KiB) and hash/upload chunks (1 MiB). Larger requests are
// allocated directly and never pooled.
package bufpool

import "sync"

const (
	// ListSize fits partial file lists and directory batches.
	ListSize = 64 << 10

	// ChunkSize is the read granularity used by the hash reader and the
	// upload copy loop.
	ChunkSize = 1 << 20
)

var (
	listPool = sync.Pool{
		New: func() any {
			b := make([]byte, ListSize)
			return &b
		},
	}
	chunkPool = sync.Pool{
		New: func() any {
			b := make([]byte, ChunkSize)
			return &b
		},
	}
)

// Get returns a buffer with len(buf) >= size. The buffer contents are
// undefined; callers must not assume zeroing.
func Get(size int) []byte {
	switch {
	case size <= ListSize:
		return (*listPool.Get().(*[]byte))[:size:ListSize]
	case size <= ChunkSize:
		return (*chunkPool.Get().(*[]byte))[:size:ChunkSize]
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer obtained from Get to its pool. Oversized buffers
// are dropped for the collector.
func Put(buf []byte) {
	switch cap(buf) {
	case ListSize:
		b := buf[:ListSize]
		listPool.Put(&b)
	case ChunkSize:
		b := buf[:ChunkSize]
		chunkPool.Put(&b)
	}
}
