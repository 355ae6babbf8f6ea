package upload

import (
	"bytes"
	"io"
)

// InputStream is the byte source attached to an upload.
type InputStream interface {
	io.Reader
	io.Closer

	// Size is the total number of bytes the stream will produce.
	Size() int64
}

// memoryStream serves generated content: file lists, tree data, partial
// list XML.
type memoryStream struct {
	r    *bytes.Reader
	size int64
}

func newMemoryStream(data []byte) *memoryStream {
	return &memoryStream{r: bytes.NewReader(data), size: int64(len(data))}
}

func (m *memoryStream) Read(p []byte) (int, error) { return m.r.Read(p) }
func (m *memoryStream) Close() error               { return nil }
func (m *memoryStream) Size() int64                { return m.size }

// fileSegmentStream reads one byte range from a shared handle.
type fileSegmentStream struct {
	handle *sharedHandle
	pos    int64
	end    int64
	total  int64
}

func newFileSegmentStream(h *sharedHandle, start, end int64) *fileSegmentStream {
	return &fileSegmentStream{handle: h, pos: start, end: end, total: end - start}
}

func (s *fileSegmentStream) Read(p []byte) (int, error) {
	remaining := s.end - s.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := s.handle.ReadAt(p, s.pos)
	s.pos += int64(n)
	if err == io.EOF && s.pos < s.end {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (s *fileSegmentStream) Close() error {
	if s.handle != nil {
		s.handle.Release()
		s.handle = nil
	}
	return nil
}

func (s *fileSegmentStream) Size() int64 { return s.total }
