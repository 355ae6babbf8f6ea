package hasher

import (
	"io"
	"os"

	"github.com/airdcpp/airdcpp-go/pkg/bufpool"
)

// readAhead is how many chunks the reader keeps in flight ahead of the
// hashing loop.
const readAhead = 2

type chunk struct {
	buf []byte
	err error
}

// fileReader reads a file sequentially in pooled chunks on its own
// goroutine, keeping the disk busy while the worker hashes the
// previous chunk.
type fileReader struct {
	chunks chan chunk
	stop   chan struct{}
}

// newFileReader starts prefetching from f. The reader owns f and closes
// it when the stream ends or the reader is closed.
func newFileReader(f *os.File) *fileReader {
	r := &fileReader{
		chunks: make(chan chunk, readAhead),
		stop:   make(chan struct{}),
	}
	go r.loop(f)
	return r
}

func (r *fileReader) loop(f *os.File) {
	defer f.Close()
	defer close(r.chunks)
	for {
		buf := bufpool.Get(bufpool.ChunkSize)
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			select {
			case r.chunks <- chunk{buf: buf[:n]}:
			case <-r.stop:
				bufpool.Put(buf)
				return
			}
		} else {
			bufpool.Put(buf)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return
		}
		if err != nil {
			select {
			case r.chunks <- chunk{err: err}:
			case <-r.stop:
			}
			return
		}
	}
}

// next returns the next chunk. The caller must hand the buffer back via
// release. io.EOF marks a clean end of stream.
func (r *fileReader) next() ([]byte, error) {
	c, ok := <-r.chunks
	if !ok {
		return nil, io.EOF
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.buf, nil
}

// release returns a chunk buffer to the pool.
func (r *fileReader) release(buf []byte) {
	bufpool.Put(buf)
}

// close stops prefetching and drains outstanding buffers.
func (r *fileReader) close() {
	close(r.stop)
	for c := range r.chunks {
		if c.buf != nil {
			bufpool.Put(c.buf)
		}
	}
}
