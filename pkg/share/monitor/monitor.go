// Package monitor watches shared directory trees for changes and
// schedules partial refreshes of the affected directories after a
// quiet period. It is a thin platform abstraction over fsnotify.
package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/airdcpp/airdcpp-go/internal/logger"
	"github.com/airdcpp/airdcpp-go/internal/pathutil"
)

// retryInterval is how often failed roots are re-registered.
const retryInterval = 30 * time.Second

// flushInterval is the granularity of the debounce clock.
const flushInterval = time.Second

// Event is a change notification surfaced to subscribers. The refresh
// callback, not these events, drives the share engine; events exist for
// logging and UI layers.
type Event interface{ monitorEvent() }

type FileCreated struct{ Path string }
type FileModified struct{ Path string }
type FileRenamed struct{ Old, New string }
type FileDeleted struct{ Path string }

// Overflow reports lost notifications; the whole root is rescanned.
type Overflow struct{ Root string }

// DirectoryFailed reports a root whose registration keeps failing.
type DirectoryFailed struct {
	Root   string
	Reason error
}

func (FileCreated) monitorEvent()     {}
func (FileModified) monitorEvent()    {}
func (FileRenamed) monitorEvent()     {}
func (FileDeleted) monitorEvent()     {}
func (Overflow) monitorEvent()        {}
func (DirectoryFailed) monitorEvent() {}

// Monitor owns the watcher and the debounce state.
type Monitor struct {
	delay   time.Duration
	refresh func(dir string)

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	roots   map[string]struct{}  // monitored root paths (lowercase)
	failed  map[string]error     // roots pending re-registration
	pending map[string]time.Time // dir → last observed activity
	lastRen string               // previous Rename path, for pairing

	subsMu sync.RWMutex
	subs   []func(Event)

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a monitor. refresh is called from the dispatcher
// goroutine with a directory that went quiet for the configured delay.
func New(delay time.Duration, refresh func(dir string)) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		delay:   delay,
		refresh: refresh,
		watcher: w,
		roots:   make(map[string]struct{}),
		failed:  make(map[string]error),
		pending: make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.dispatch()
	return m, nil
}

// Subscribe registers an event callback.
func (m *Monitor) Subscribe(fn func(Event)) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subs = append(m.subs, fn)
}

func (m *Monitor) emit(ev Event) {
	m.subsMu.RLock()
	subs := m.subs
	m.subsMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// AddRoot starts watching a directory tree. Registration failures move
// the root to the failed set; a timer retries periodically.
func (m *Monitor) AddRoot(path string) error {
	m.mu.Lock()
	m.roots[pathutil.ToLower(path)] = struct{}{}
	m.mu.Unlock()

	if err := m.watchTree(path); err != nil {
		m.mu.Lock()
		m.failed[pathutil.ToLower(path)] = err
		m.mu.Unlock()
		m.emit(DirectoryFailed{Root: path, Reason: err})
		return err
	}
	return nil
}

// RemoveRoot stops watching a tree. Watches below the root are dropped
// lazily by fsnotify when the directories disappear; live ones are
// removed here.
func (m *Monitor) RemoveRoot(path string) {
	key := pathutil.ToLower(path)
	m.mu.Lock()
	delete(m.roots, key)
	delete(m.failed, key)
	m.mu.Unlock()

	for _, watched := range m.watcher.WatchList() {
		if pathutil.IsParentOrExact(path, watched) {
			m.watcher.Remove(watched)
		}
	}
}

// watchTree registers the directory and every subdirectory.
func (m *Monitor) watchTree(root string) error {
	st, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("monitor: %s is not a directory", root)
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return m.watcher.Add(p)
	})
}

func (m *Monitor) dispatch() {
	defer m.wg.Done()
	flush := time.NewTicker(flushInterval)
	retry := time.NewTicker(retryInterval)
	defer flush.Stop()
	defer retry.Stop()

	for {
		select {
		case <-m.stop:
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handle(ev)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.handleError(err)

		case <-flush.C:
			m.flushQuiet()

		case <-retry.C:
			m.retryFailed()
		}
	}
}

func (m *Monitor) handle(ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)

	switch {
	case ev.Op.Has(fsnotify.Create):
		// New directories join the watch set so recursion keeps working.
		if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
			if err := m.watchTree(ev.Name); err != nil {
				logger.Warn("cannot watch new directory",
					logger.KeyPath, ev.Name, logger.KeyError, err)
			}
		}
		m.emit(FileCreated{Path: ev.Name})

	case ev.Op.Has(fsnotify.Write):
		m.emit(FileModified{Path: ev.Name})

	case ev.Op.Has(fsnotify.Rename):
		m.mu.Lock()
		old := m.lastRen
		m.lastRen = ev.Name
		m.mu.Unlock()
		if old != "" && filepath.Dir(old) == dir {
			m.emit(FileRenamed{Old: old, New: ev.Name})
		} else {
			m.emit(FileDeleted{Path: ev.Name})
		}

	case ev.Op.Has(fsnotify.Remove):
		m.emit(FileDeleted{Path: ev.Name})

	default:
		return
	}

	m.mu.Lock()
	m.pending[dir] = time.Now()
	m.mu.Unlock()
}

func (m *Monitor) handleError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		// Lost events: every monitored root gets a full rescan.
		m.mu.Lock()
		roots := make([]string, 0, len(m.roots))
		for r := range m.roots {
			roots = append(roots, r)
		}
		m.pending = make(map[string]time.Time)
		m.mu.Unlock()
		for _, r := range roots {
			m.emit(Overflow{Root: r})
			m.refresh(r)
		}
		return
	}
	logger.Warn("monitor error", logger.KeyError, err)
}

// flushQuiet submits refreshes for directories whose activity settled.
func (m *Monitor) flushQuiet() {
	now := time.Now()
	var due []string
	m.mu.Lock()
	for dir, last := range m.pending {
		if now.Sub(last) >= m.delay {
			due = append(due, dir)
			delete(m.pending, dir)
		}
	}
	m.mu.Unlock()

	for _, dir := range due {
		m.refresh(dir)
	}
}

func (m *Monitor) retryFailed() {
	m.mu.Lock()
	var retry []string
	for root := range m.failed {
		retry = append(retry, root)
	}
	m.mu.Unlock()

	for _, root := range retry {
		if err := m.watchTree(root); err != nil {
			m.emit(DirectoryFailed{Root: root, Reason: err})
			continue
		}
		m.mu.Lock()
		delete(m.failed, root)
		m.mu.Unlock()
		// Everything that happened while unwatched is unknown.
		m.refresh(root)
	}
}

// Close stops the dispatcher and releases the watcher.
func (m *Monitor) Close() error {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	err := m.watcher.Close()
	m.wg.Wait()
	return err
}
