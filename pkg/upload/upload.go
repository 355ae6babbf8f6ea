// Package upload implements the upload dispatcher: slot accounting,
// request-to-stream resolution, upload bundles and the waiting-user
// queue.
package upload

import (
	"time"

	"github.com/google/uuid"

	"github.com/airdcpp/airdcpp-go/pkg/hub"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// SlotType is the concurrency class a connection holds.
type SlotType int

const (
	SlotNone SlotType = iota
	SlotStandard
	SlotMCN
	SlotExtra
	SlotPartial
	SlotSmall
)

func (s SlotType) String() string {
	switch s {
	case SlotStandard:
		return "standard"
	case SlotMCN:
		return "mcn"
	case SlotExtra:
		return "extra"
	case SlotPartial:
		return "partial"
	case SlotSmall:
		return "small"
	}
	return "none"
}

// RequestType selects what the peer asked for.
type RequestType int

const (
	RequestFile RequestType = iota
	RequestTree
	RequestPartialList
	RequestTTHList
)

// Request is one inbound file request, already parsed off the wire.
type Request struct {
	Type RequestType

	// Path is the ADC virtual path, "files.xml.bz2" for the full list,
	// or "TTH/<base32>" for content-addressed requests.
	Path string

	// Start and Bytes select the segment; Bytes -1 means to end of file.
	Start int64
	Bytes int64

	// MCN is set when the request carried the MCN1 flag.
	MCN bool

	// BundleToken associates the upload with a peer-side bundle.
	BundleToken string

	// Recursive applies to partial list requests.
	Recursive bool
}

// Connection is the dispatcher's per-connection state.
type Connection struct {
	ID     string
	User   hub.User
	HubURL string

	slotType   SlotType
	upload     *Upload
	lastBundle string
}

// SlotType returns the slot class the connection currently holds.
func (c *Connection) SlotType() SlotType { return c.slotType }

// Upload returns the active upload, if any.
func (c *Connection) Upload() *Upload { return c.upload }

// Upload is one granted transfer.
type Upload struct {
	Token string

	conn     *Connection
	adcPath  string
	realPath string
	root     tth.Value
	fileSize int64

	segStart int64
	segEnd   int64

	resumed      bool
	chunked      bool
	partial      bool
	zlibFiltered bool
	pendingKick  bool

	stream InputStream
	bundle *Bundle

	startTick       time.Time
	bytesSent       int64
	actualBytesSent int64
	lastSent        int64 // for per-second rate computation
	speed           int64 // bytes/s from the last tick
}

func newUpload(conn *Connection, adcPath, realPath string, root tth.Value, fileSize, start, end int64, stream InputStream) *Upload {
	return &Upload{
		Token:     uuid.NewString(),
		conn:      conn,
		adcPath:   adcPath,
		realPath:  realPath,
		root:      root,
		fileSize:  fileSize,
		segStart:  start,
		segEnd:    end,
		chunked:   end-start != fileSize,
		stream:    stream,
		startTick: time.Now(),
	}
}

// Stream returns the byte source to copy to the peer.
func (u *Upload) Stream() InputStream { return u.stream }

// Path returns the requested virtual path.
func (u *Upload) Path() string { return u.adcPath }

// RealPath returns the resolved filesystem path; empty for generated
// content.
func (u *Upload) RealPath() string { return u.realPath }

// TTH returns the content root, when the request was for a shared file.
func (u *Upload) TTH() tth.Value { return u.root }

// Segment returns the granted byte range.
func (u *Upload) Segment() (start, end int64) { return u.segStart, u.segEnd }

// FileSize returns the full size of the underlying file.
func (u *Upload) FileSize() int64 { return u.fileSize }

// Chunked reports whether the segment is a proper subset of the file.
func (u *Upload) Chunked() bool { return u.chunked }

// Partial reports whether the bytes come from an in-progress download.
func (u *Upload) Partial() bool { return u.partial }

// Resumed reports whether the upload continued a recent one on the
// same connection.
func (u *Upload) Resumed() bool { return u.resumed }

// Bundle returns the attached bundle, if the peer supplied a token.
func (u *Upload) Bundle() *Bundle { return u.bundle }

// AddPos records transferred bytes: pos is payload progress, actual is
// on-the-wire bytes (differs when a compression filter is active).
func (u *Upload) AddPos(pos, actual int64) {
	u.bytesSent += pos
	u.actualBytesSent += actual
	if u.bundle != nil {
		u.bundle.addUploaded(pos)
	}
}

// BytesSent returns the payload progress.
func (u *Upload) BytesSent() int64 { return u.bytesSent }

// Speed returns the rate computed at the last tick, in bytes/s.
func (u *Upload) Speed() int64 { return u.speed }

// delayedUpload keeps a finished upload around briefly so a follow-up
// request for the same file on the same connection resumes without
// re-resolving.
type delayedUpload struct {
	connID   string
	adcPath  string
	nextPos  int64
	slotType SlotType
	expires  time.Time
}
