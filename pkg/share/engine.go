package share

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/airdcpp/airdcpp-go/internal/pathutil"
	"github.com/airdcpp/airdcpp-go/pkg/config"
	"github.com/airdcpp/airdcpp-go/pkg/hashdb"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// HashQueue is the slice of the hashing pool the engine needs: queueing
// unknown files and dropping queued work for removed paths.
type HashQueue interface {
	TryAdd(realPath string, size int64)
	Stop(pathPrefix string)
}

// Engine is the share engine: the index, its refresh worker, file list
// generation and temp shares.
//
// Lock order: engine.mu before nothing — refresh walks the filesystem
// off-lock and takes mu only for the subtree swap; callbacks never run
// under mu.
type Engine struct {
	cfg   config.ShareConfig
	cid   string
	store *hashdb.Store
	hash  HashQueue
	skip  *SkipList

	mu sync.RWMutex
	ix *index

	// refresh queue, guarded by qmu
	qmu         sync.Mutex
	qcond       *sync.Cond
	tasks       []*refreshTask
	queuedPaths map[string]struct{}
	stopping    bool
	aborted     bool

	lists *listCache
	temp  *tempShares

	subsMu sync.RWMutex
	subs   []func(Event)

	statsMu sync.Mutex
	stats   SearchStats

	wg sync.WaitGroup
}

// NewEngine builds the engine. Roots from the configuration are added
// but not refreshed; call LoadCaches and then ScheduleRefresh with
// TaskStartup to populate the index.
func NewEngine(cfg config.ShareConfig, cid string, store *hashdb.Store, hash HashQueue) (*Engine, error) {
	skip, err := NewSkipList(cfg.SkipList, cfg.SkipHidden)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:         cfg,
		cid:         cid,
		store:       store,
		hash:        hash,
		skip:        skip,
		ix:          newIndex(),
		queuedPaths: make(map[string]struct{}),
		lists:       newListCache(cfg.FullListAge),
		temp:        newTempShares(),
	}
	e.qcond = sync.NewCond(&e.qmu)

	for _, rc := range cfg.Roots {
		if _, err := e.AddRoot(RootInfo{
			Path:     rc.Path,
			Virtual:  rc.Virtual,
			Profiles: rc.Profiles,
			Incoming: rc.Incoming,
		}); err != nil {
			return nil, err
		}
	}

	e.wg.Add(1)
	go e.refreshLoop()
	return e, nil
}

// Subscribe registers an event callback.
func (e *Engine) Subscribe(fn func(Event)) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *Engine) emit(ev Event) {
	e.subsMu.RLock()
	subs := e.subs
	e.subsMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// AddRoot validates and registers a new share root.
func (e *Engine) AddRoot(info RootInfo) (*Root, error) {
	e.mu.Lock()
	r, err := e.ix.addRoot(info)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.lists.invalidateAll()
	e.emit(RootAdded{Path: r.path})
	return r, nil
}

// UpdateRoot changes the settings of the root at info.Path in place; a
// path that is not a configured root fails with ValidationUnknownRoot.
func (e *Engine) UpdateRoot(info RootInfo) (*Root, error) {
	e.mu.Lock()
	r, err := e.ix.updateRoot(info)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.lists.invalidateAll()
	e.emit(RootUpdated{Path: r.path})
	return r, nil
}

// RemoveRoot drops a root, its subtree and all index entries, and stops
// pending hashing under it.
func (e *Engine) RemoveRoot(realPath string) error {
	e.mu.Lock()
	r, err := e.ix.removeRoot(realPath)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.hash.Stop(r.path)
	e.lists.invalidateAll()
	e.emit(RootRemoved{Path: r.path})
	return nil
}

// Roots snapshots the configured roots.
func (e *Engine) Roots() []*Root {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Root, 0, len(e.ix.roots))
	for _, r := range e.ix.roots {
		out = append(out, r)
	}
	return out
}

// Totals returns the shared file count and byte size.
func (e *Engine) Totals() (files int, bytes int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ix.sharedFiles, e.ix.sharedBytes
}

// FilesByTTH returns the files for a content root visible to profile.
func (e *Engine) FilesByTTH(root tth.Value, profile ProfileToken) []*File {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ix.filesByTTH(root, profile)
}

// RealToVirtual maps a real path to its ADC path.
func (e *Engine) RealToVirtual(realPath string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ix.realToVirtual(realPath)
}

// FindFile resolves an ADC file path for a profile.
func (e *Engine) FindFile(adcPath string, profile ProfileToken) (*File, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ix.findFile(adcPath, profile)
}

// FindDirectory resolves an ADC directory path for a profile.
func (e *Engine) FindDirectory(adcPath string, profile ProfileToken) (*Directory, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ix.findDirectory(adcPath, profile)
}

// OnFileHashed inserts a freshly hashed file into the live index. Files
// outside any shared directory are ignored; the next refresh of their
// branch picks them up.
func (e *Engine) OnFileHashed(realPath string, info hashdb.HashedFile) {
	e.mu.Lock()
	defer e.mu.Unlock()

	parent := e.ix.findDirectoryByReal(filepath.Dir(realPath))
	if parent == nil {
		return
	}
	name := NewDualName(pathutil.FileName(realPath))
	if old, ok := parent.files[name.Lower()]; ok {
		e.ix.removeFileEntry(old)
	}
	f := &File{
		name:   name,
		parent: parent,
		size:   info.Size,
		mtime:  int64(info.MTime),
		tth:    info.Root,
	}
	parent.files[name.Lower()] = f
	e.ix.addFileEntry(f)
	parent.root.cacheDirty = true
	e.lists.invalidateAll()
}

// Shutdown stops the refresh worker; queued tasks are dropped.
func (e *Engine) Shutdown() {
	e.qmu.Lock()
	if e.stopping {
		e.qmu.Unlock()
		e.wg.Wait()
		return
	}
	e.stopping = true
	e.aborted = true
	e.qcond.Broadcast()
	e.qmu.Unlock()
	e.wg.Wait()
}

// AbortRefresh drops queued refresh tasks.
func (e *Engine) AbortRefresh() {
	e.qmu.Lock()
	e.tasks = nil
	e.queuedPaths = make(map[string]struct{})
	e.qmu.Unlock()
}

// SearchStats are cumulative matcher counters.
type SearchStats struct {
	Total     int64
	TTHDirect int64
	Recursive int64
	TimeSpent time.Duration
}

// Stats snapshots the search counters.
func (e *Engine) Stats() SearchStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Engine) recordSearch(tthDirect, recursive bool, d time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Total++
	if tthDirect {
		e.stats.TTHDirect++
	}
	if recursive {
		e.stats.Recursive++
	}
	e.stats.TimeSpent += d
}

