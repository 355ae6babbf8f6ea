package share

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/airdcpp/airdcpp-go/internal/logger"
	"github.com/airdcpp/airdcpp-go/internal/pathutil"
)

// TaskType tells the refresh worker why a path is being rescanned.
type TaskType int

const (
	TaskManual TaskType = iota
	TaskScheduled
	TaskStartup
	TaskStartupDelayed
	TaskMonitoring
	TaskBundle
)

func (t TaskType) String() string {
	switch t {
	case TaskManual:
		return "manual"
	case TaskScheduled:
		return "scheduled"
	case TaskStartup:
		return "startup"
	case TaskStartupDelayed:
		return "startup_delayed"
	case TaskMonitoring:
		return "monitoring"
	case TaskBundle:
		return "bundle"
	}
	return "unknown"
}

type refreshTask struct {
	id    string
	typ   TaskType
	paths []string
}

// RefreshAll queues every configured root.
func (e *Engine) RefreshAll(typ TaskType) (string, error) {
	var paths []string
	e.mu.RLock()
	for _, r := range e.ix.roots {
		paths = append(paths, r.path)
	}
	e.mu.RUnlock()
	if len(paths) == 0 {
		return "", nil
	}
	return e.ScheduleRefresh(typ, paths...)
}

// ScheduleRefresh validates and queues a refresh task. Paths must be a
// configured root or live under one; paths already queued are dropped
// from the task.
func (e *Engine) ScheduleRefresh(typ TaskType, paths ...string) (string, error) {
	task := &refreshTask{id: uuid.NewString(), typ: typ}

	e.mu.Lock()
	for _, p := range paths {
		p = filepath.Clean(p)
		root := e.ix.rootForPath(p)
		if root == nil {
			e.mu.Unlock()
			return "", validationError(ValidationUnknownRoot, "path is not inside any share root", p)
		}
		root.state = RefreshPending
		task.paths = append(task.paths, p)
	}
	e.mu.Unlock()

	e.qmu.Lock()
	if e.stopping {
		e.qmu.Unlock()
		return "", nil
	}
	kept := task.paths[:0]
	for _, p := range task.paths {
		key := pathutil.ToLower(p)
		if _, dup := e.queuedPaths[key]; dup {
			continue
		}
		e.queuedPaths[key] = struct{}{}
		kept = append(kept, p)
	}
	task.paths = kept
	if len(task.paths) == 0 {
		e.qmu.Unlock()
		return "", nil
	}
	e.tasks = append(e.tasks, task)
	e.qcond.Signal()
	e.qmu.Unlock()

	e.emit(RefreshQueued{TaskID: task.id, Type: typ, Paths: task.paths})
	return task.id, nil
}

// refreshLoop is the single share worker draining tasks in FIFO order.
func (e *Engine) refreshLoop() {
	defer e.wg.Done()
	for {
		e.qmu.Lock()
		for len(e.tasks) == 0 && !e.stopping {
			e.qcond.Wait()
		}
		if e.stopping {
			e.qmu.Unlock()
			return
		}
		task := e.tasks[0]
		e.tasks = e.tasks[1:]
		e.qmu.Unlock()

		e.runTask(task)
	}
}

func (e *Engine) runTask(task *refreshTask) {
	for _, path := range task.paths {
		e.qmu.Lock()
		delete(e.queuedPaths, pathutil.ToLower(path))
		aborted := e.aborted
		e.qmu.Unlock()
		if aborted {
			return
		}
		e.refreshPath(task, path)
	}
}

// refreshPath rebuilds the subtree at path as a shadow copy off-lock,
// then swaps it in atomically.
func (e *Engine) refreshPath(task *refreshTask, path string) {
	e.mu.Lock()
	root := e.ix.rootForPath(path)
	if root == nil {
		e.mu.Unlock()
		return
	}
	root.state = RefreshRunning
	// A path below the root only makes sense if its parent chain is
	// already indexed; otherwise widen to the nearest indexed ancestor.
	target := path
	if !pathutil.EqualFold(path, root.path) {
		for e.ix.findDirectoryByReal(filepath.Dir(target)) == nil && !pathutil.EqualFold(filepath.Dir(target), root.path) {
			target = filepath.Dir(target)
		}
	}
	e.mu.Unlock()

	start := time.Now()
	e.emit(RefreshStarted{TaskID: task.id, Path: target})

	shadow, pending, err := e.buildTree(root, target)
	if e.aborting() {
		e.mu.Lock()
		root.state = RefreshNormal
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.mu.Lock()
		root.state = RefreshNormal
		e.mu.Unlock()
		logger.Warn("refresh failed",
			logger.KeyPath, target, logger.KeyError, err)
		e.emit(RefreshFailed{TaskID: task.id, Path: target, Err: err})
		return
	}

	e.mu.Lock()
	// Files that went to the hasher during the walk may have completed
	// already; their hashed-event fired against the old tree. Re-probe
	// the store under the lock so they land in the new one.
	for _, pf := range pending {
		hashed, found, err := e.store.FileInfo(pf.lowerReal)
		if err != nil || !found {
			continue
		}
		f := &File{
			name:   NewDualName(pf.name),
			parent: pf.dir,
			size:   hashed.Size,
			mtime:  int64(hashed.MTime),
			tth:    hashed.Root,
		}
		pf.dir.files[f.NameLower()] = f
	}
	if pathutil.EqualFold(target, root.path) {
		e.ix.swapSubtree(root, shadow)
	} else {
		parent := e.ix.findDirectoryByReal(filepath.Dir(target))
		if parent == nil {
			// The branch disappeared while we walked; rescan the root.
			e.mu.Unlock()
			e.ScheduleRefresh(task.typ, root.path)
			return
		}
		shadow.parent = parent
		if old, ok := parent.dirs[shadow.NameLower()]; ok {
			e.ix.detachSubtree(old)
		}
		parent.dirs[shadow.NameLower()] = shadow
		e.ix.attachSubtree(shadow)
		e.ix.rebuildBloom()
	}
	root.state = RefreshNormal
	root.lastRefresh = time.Now()
	root.cacheDirty = true
	files, bytes := shadow.totals()
	e.mu.Unlock()

	e.lists.invalidateAll()
	logger.Info("refresh completed",
		logger.KeyPath, target,
		"files", files,
		logger.KeySize, bytes,
		logger.KeyDuration, time.Since(start))
	e.emit(RefreshCompleted{TaskID: task.id, Path: target, Files: files, Bytes: bytes})
}

// pendingFile is a walked file that was handed to the hasher.
type pendingFile struct {
	dir       *Directory
	name      string
	lowerReal string
}

// buildTree walks the filesystem at realPath and produces a detached
// subtree. Files with a current hash record become nodes; unknown or
// changed files go to the hashing pool and join the index when hashed.
func (e *Engine) buildTree(root *Root, realPath string) (*Directory, []pendingFile, error) {
	st, err := os.Stat(realPath)
	if err != nil {
		return nil, nil, filesystemError("cannot stat", realPath, err)
	}
	name := filepath.Base(realPath)
	if pathutil.EqualFold(realPath, root.path) {
		name = root.Virtual()
	}
	dir := newDirectory(NewDualName(name), nil, root, st.ModTime().Unix())
	var pending []pendingFile
	if err := e.populate(root, dir, realPath, &pending); err != nil {
		return nil, nil, err
	}
	return dir, pending, nil
}

func (e *Engine) populate(root *Root, dir *Directory, realPath string, pending *[]pendingFile) error {
	entries, err := os.ReadDir(realPath)
	if err != nil {
		return filesystemError("cannot list", realPath, err)
	}

	maxSize := e.cfg.MaxFileSize.Int64()
	for _, entry := range entries {
		if e.aborting() {
			return nil
		}
		name := entry.Name()
		if e.skip.Skip(name) {
			continue
		}
		childReal := filepath.Join(realPath, name)

		if entry.IsDir() {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			sub := newDirectory(NewDualName(name), dir, root, info.ModTime().Unix())
			pendingBefore := len(*pending)
			if err := e.populate(root, sub, childReal, pending); err != nil {
				logger.Warn("skipping unreadable directory",
					logger.KeyPath, childReal, logger.KeyError, err)
				continue
			}
			// A directory whose only content is still being hashed is
			// not empty.
			if e.cfg.SkipEmptyDirs && len(sub.dirs) == 0 && len(sub.files) == 0 &&
				len(*pending) == pendingBefore {
				continue
			}
			dir.dirs[sub.NameLower()] = sub
			continue
		}

		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if maxSize > 0 && info.Size() > maxSize {
			continue
		}

		lower := pathutil.ToLower(childReal)
		hashed, found, err := e.store.FileInfo(lower)
		if err == nil && found &&
			hashed.Size == info.Size() &&
			hashed.MTime == uint64(info.ModTime().Unix()) {
			f := &File{
				name:   NewDualName(name),
				parent: dir,
				size:   hashed.Size,
				mtime:  int64(hashed.MTime),
				tth:    hashed.Root,
			}
			dir.files[f.NameLower()] = f
			continue
		}
		*pending = append(*pending, pendingFile{dir: dir, name: name, lowerReal: lower})
		e.hash.TryAdd(childReal, info.Size())
	}
	return nil
}

func (e *Engine) aborting() bool {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	return e.aborted
}
