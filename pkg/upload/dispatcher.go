package upload

import (
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/airdcpp/airdcpp-go/internal/logger"
	"github.com/airdcpp/airdcpp-go/internal/pathutil"
	"github.com/airdcpp/airdcpp-go/pkg/config"
	"github.com/airdcpp/airdcpp-go/pkg/hub"
	"github.com/airdcpp/airdcpp-go/pkg/share"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

const (
	// userListName is the virtual name of the full file list.
	userListName = "files.xml.bz2"

	// tthPrefix starts content-addressed request paths.
	tthPrefix = "TTH/"

	// smallFileSize is the small-slot eligibility bound.
	smallFileSize = 64 * 1024

	// smallSlotCap bounds concurrent small-file slots.
	smallSlotCap = 8

	// delayGrace keeps finished uploads resumable on the same
	// connection.
	delayGrace = 10 * time.Second

	// bundleGrace keeps empty bundles before pruning.
	bundleGrace = 10 * time.Second

	// autoGrantInterval spaces automatic extra-slot grants.
	autoGrantInterval = 30 * time.Second

	// notifiedExpiry ages out slot notifications.
	notifiedExpiry = 90 * time.Second
)

// ResolvedFile is a share lookup result.
type ResolvedFile struct {
	RealPath string
	Size     int64
	TTH      tth.Value
}

// ShareSource is the slice of the share engine the dispatcher uses.
type ShareSource interface {
	FindFile(adcPath string, profile share.ProfileToken) (ResolvedFile, error)
	FullList(profile share.ProfileToken, forced bool) ([]byte, uint64, error)
	PartialList(adcPath string, recursive bool, profile share.ProfileToken) ([]byte, error)
	TTHList(adcPath string, recursive bool, profile share.ProfileToken) ([]byte, error)
	TempShareByTTH(root tth.Value, requesterKey string) (share.TempShare, bool)
}

// EngineSource adapts the share engine to ShareSource.
type EngineSource struct{ *share.Engine }

func (s EngineSource) FindFile(adcPath string, profile share.ProfileToken) (ResolvedFile, error) {
	f, err := s.Engine.FindFile(adcPath, profile)
	if err != nil {
		return ResolvedFile{}, err
	}
	return ResolvedFile{RealPath: f.RealPath(), Size: f.Size(), TTH: f.TTH()}, nil
}

// TreeSource provides stored Tiger trees; the hash database implements
// it.
type TreeSource interface {
	Tree(root tth.Value) (*tth.Tree, bool, error)
}

// PartialSource is the download-side callback surface for partial
// sharing: serving ranges of files still being downloaded.
type PartialSource interface {
	// HasPartial reports whether the content is queued locally and how
	// many contiguous bytes from the start are already on disk.
	HasPartial(root tth.Value) (realPath string, available int64, ok bool)
}

// waitingUser is a queued request from a user that got MAXED_OUT.
type waitingUser struct {
	user    hub.User
	hubURL  string
	files   map[string]struct{}
	addedAt time.Time
}

// Dispatcher resolves inbound requests to streams and enforces the slot
// policy. One mutex guards all accounting.
type Dispatcher struct {
	cfg    config.UploadConfig
	hubs   hub.Context
	shares ShareSource
	trees  TreeSource
	queue  PartialSource // may be nil

	freeSlotGlobs []glob.Glob

	mu sync.Mutex

	conns map[string]*Connection

	running int
	extra   int
	partial int
	small   int

	mcnUploads map[string]int       // CID → active MCN uploads
	reserved   map[string]time.Time // CID → grant expiry
	notified   map[string]time.Time // CID → notification tick

	uploads      map[string]*Upload // by upload token
	delayUploads []*delayedUpload
	bundles      map[string]*Bundle
	waiting      []*waitingUser

	lastAutoGrant time.Time

	subsMu sync.RWMutex
	subs   []func(Event)

	handles *handleCache
}

// NewDispatcher builds the dispatcher. queue may be nil when the
// download side is absent; partial sharing is then disabled.
func NewDispatcher(cfg config.UploadConfig, hubs hub.Context, shares ShareSource, trees TreeSource, queue PartialSource) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		hubs:       hubs,
		shares:     shares,
		trees:      trees,
		queue:      queue,
		conns:      make(map[string]*Connection),
		mcnUploads: make(map[string]int),
		reserved:   make(map[string]time.Time),
		notified:   make(map[string]time.Time),
		uploads:    make(map[string]*Upload),
		bundles:    make(map[string]*Bundle),
		handles:    newHandleCache(),
	}
	for _, pattern := range cfg.FreeSlotFiles {
		if g, err := glob.Compile(pathutil.ToLower(pattern)); err == nil {
			d.freeSlotGlobs = append(d.freeSlotGlobs, g)
		}
	}
	return d
}

// Subscribe registers an event callback.
func (d *Dispatcher) Subscribe(fn func(Event)) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	d.subs = append(d.subs, fn)
}

func (d *Dispatcher) emit(ev Event) {
	d.subsMu.RLock()
	subs := d.subs
	d.subsMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Connect registers a transfer connection.
func (d *Dispatcher) Connect(connID string, user hub.User, hubURL string) *Connection {
	c := &Connection{ID: connID, User: user, HubURL: hubURL}
	d.mu.Lock()
	d.conns[connID] = c
	d.mu.Unlock()
	return c
}

// Disconnect tears down a connection: the active upload is destroyed
// after accounting, the slot is released and queued users are notified.
func (d *Dispatcher) Disconnect(connID string) {
	d.mu.Lock()
	c, ok := d.conns[connID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.conns, connID)
	var failed *Upload
	if c.upload != nil {
		failed = c.upload
		d.removeUploadLocked(c.upload)
	}
	d.releaseSlotLocked(c)
	d.mu.Unlock()

	if failed != nil {
		failed.stream.Close()
		d.emit(UploadFailed{Upload: failed, Reason: "connection closed"})
	}
	d.notifyQueuedUsers()
}

// ReserveSlot grants a user an explicit slot until expiry.
func (d *Dispatcher) ReserveSlot(cid string, duration time.Duration) {
	d.mu.Lock()
	d.reserved[cid] = time.Now().Add(duration)
	d.mu.Unlock()
}

// Slots returns the effective configured slot count.
func (d *Dispatcher) Slots() int {
	return max(d.cfg.Slots, d.cfg.MaxFavSlots*d.hubs.TotalHubCount())
}

// FreeSlots returns currently free standard slots.
func (d *Dispatcher) FreeSlots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freeSlotsLocked()
}

func (d *Dispatcher) freeSlotsLocked() int {
	return max(d.Slots()-d.running, 0)
}

// RunningAverageSpeed sums the last-tick rates of active uploads, in
// bytes/s.
func (d *Dispatcher) RunningAverageSpeed() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runningSpeedLocked()
}

func (d *Dispatcher) runningSpeedLocked() int64 {
	var total int64
	for _, u := range d.uploads {
		total += u.speed
	}
	return total
}

// PrepareFile resolves a request to an Upload with an attached stream,
// or fails with a typed Error.
func (d *Dispatcher) PrepareFile(conn *Connection, req Request) (*Upload, error) {
	if req.Start < 0 || (req.Bytes < -1 || req.Bytes == 0) {
		return nil, protocolError("invalid byte range")
	}

	profile, ok := d.hubs.ProfileForUser(conn.User.CID)
	if !ok {
		profile = share.ProfileDefault
	}

	switch req.Type {
	case RequestFile:
		return d.prepareFileContent(conn, req, profile)
	case RequestTree:
		return d.prepareTree(conn, req)
	case RequestPartialList:
		return d.prepareGenerated(conn, req, func() ([]byte, error) {
			return d.shares.PartialList(req.Path, req.Recursive, profile)
		})
	case RequestTTHList:
		return d.prepareGenerated(conn, req, func() ([]byte, error) {
			return d.shares.TTHList(req.Path, req.Recursive, profile)
		})
	}
	return nil, protocolError("unknown request type")
}

// prepareFileContent handles RequestFile: the full list, a shared file,
// a temp share, or a partial-sharing fallback.
func (d *Dispatcher) prepareFileContent(conn *Connection, req Request, profile share.ProfileToken) (*Upload, error) {
	if req.Path == userListName || req.Path == "/"+userListName {
		data, _, err := d.shares.FullList(profile, false)
		if err != nil {
			return nil, notAvailable()
		}
		return d.grantGenerated(conn, req, data, true)
	}

	var (
		realPath string
		size     int64
		root     tth.Value
		partial  bool
	)

	f, err := d.shares.FindFile(req.Path, profile)
	switch {
	case err == nil:
		realPath, size, root = f.RealPath, f.Size, f.TTH

	case share.IsAccessDenied(err):
		return nil, accessDenied()

	default:
		// Temp shares and partial sharing are addressed by TTH path.
		hash, perr := parseTTHPath(req.Path)
		if perr != nil {
			return nil, notAvailable()
		}
		if ts, ok := d.shares.TempShareByTTH(hash, conn.User.CID); ok {
			realPath, size, root = ts.Path, ts.Size, ts.TTH
		} else if ts, ok := d.shares.TempShareByTTH(hash, conn.HubURL); ok {
			realPath, size, root = ts.Path, ts.Size, ts.TTH
		} else if d.queue != nil {
			p, available, ok := d.queue.HasPartial(hash)
			if !ok {
				return nil, notAvailable()
			}
			realPath, size, root, partial = p, available, hash, true
		} else {
			return nil, notAvailable()
		}
	}

	start, end, err := resolveSegment(req, size)
	if err != nil {
		return nil, err
	}

	mini := d.miniSlotEligible(req.Path, size)

	d.mu.Lock()
	// A recent upload of the same file on this connection continues
	// without a fresh slot resolution.
	resumedType, resumed := d.takeDelayedLocked(conn.ID, req.Path, start)
	slot := conn.slotType
	if resumed {
		slot = resumedType
	} else if conn.upload == nil && conn.slotType == SlotNone {
		var pos int
		slot, pos = d.grantSlotLocked(conn, req, size, false, mini, partial)
		if slot == SlotNone {
			d.mu.Unlock()
			return nil, maxedOut(pos)
		}
	}

	handle, err := d.handles.Open(realPath)
	if err != nil {
		d.mu.Unlock()
		return nil, notAvailable()
	}

	u := newUpload(conn, req.Path, realPath, root, size, start, end,
		newFileSegmentStream(handle, start, end))
	u.resumed = resumed
	u.partial = partial
	d.applySlotLocked(conn, slot, resumed)
	d.attachLocked(conn, u, req.BundleToken)
	d.mu.Unlock()

	logger.Debug("upload granted",
		logger.KeyUser, conn.User.CID,
		logger.KeyVirtual, req.Path,
		logger.KeySlotType, slot.String())
	d.emit(UploadStarted{Upload: u})
	return u, nil
}

// prepareTree serves the stored Tiger tree for TTH/<base32> as raw
// leaf data.
func (d *Dispatcher) prepareTree(conn *Connection, req Request) (*Upload, error) {
	hash, err := parseTTHPath(req.Path)
	if err != nil {
		return nil, protocolError("malformed tree request")
	}
	tree, found, terr := d.trees.Tree(hash)
	if terr != nil || !found {
		return nil, notAvailable()
	}
	leaves := tree.Leaves()
	data := make([]byte, 0, len(leaves)*tth.Size)
	for _, l := range leaves {
		data = append(data, l[:]...)
	}
	return d.grantGenerated(conn, req, data, false)
}

func (d *Dispatcher) prepareGenerated(conn *Connection, req Request, gen func() ([]byte, error)) (*Upload, error) {
	data, err := gen()
	if err != nil {
		if share.IsAccessDenied(err) {
			return nil, accessDenied()
		}
		return nil, notAvailable()
	}
	return d.grantGenerated(conn, req, data, false)
}

// grantGenerated wraps in-memory content; such requests qualify for a
// small slot.
func (d *Dispatcher) grantGenerated(conn *Connection, req Request, data []byte, fullList bool) (*Upload, error) {
	size := int64(len(data))
	start, end, err := resolveSegment(req, size)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	slot := conn.slotType
	if conn.upload == nil && conn.slotType == SlotNone {
		var pos int
		slot, pos = d.grantSlotLocked(conn, req, size, fullList, false, false)
		if slot == SlotNone {
			d.mu.Unlock()
			return nil, maxedOut(pos)
		}
	}
	u := newUpload(conn, req.Path, "", tth.Value{}, size, start, end,
		newMemoryStream(data[start:end]))
	d.applySlotLocked(conn, slot, false)
	d.attachLocked(conn, u, req.BundleToken)
	d.mu.Unlock()

	d.emit(UploadStarted{Upload: u})
	return u, nil
}

// resolveSegment validates the byte range; Bytes -1 substitutes
// size-start.
func resolveSegment(req Request, size int64) (start, end int64, err error) {
	start = req.Start
	bytes := req.Bytes
	if bytes == -1 {
		bytes = size - start
	}
	if start > size || bytes < 0 || start+bytes > size {
		return 0, 0, protocolError("requested range outside file")
	}
	return start, start + bytes, nil
}

func parseTTHPath(path string) (tth.Value, error) {
	rest, ok := strings.CutPrefix(strings.TrimPrefix(path, "/"), tthPrefix)
	if !ok {
		return tth.Value{}, protocolError("not a TTH path")
	}
	return tth.FromBase32(rest)
}

// miniSlotEligible applies the free-slot name globs and the size bound.
func (d *Dispatcher) miniSlotEligible(adcPath string, size int64) bool {
	if size <= d.cfg.MinislotSize.Int64() {
		return true
	}
	name := pathutil.ToLower(pathutil.AdcLastDir(adcPath + "/"))
	for _, g := range d.freeSlotGlobs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
