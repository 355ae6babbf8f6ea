package hasher

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/airdcpp/airdcpp-go/internal/logger"
	"github.com/airdcpp/airdcpp-go/pkg/hashdb"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// worker drains one sorted queue. Only the dispatcher and the worker
// itself touch the queue, both under the pool mutex.
type worker struct {
	id   int
	pool *Pool

	queue     []workItem
	devices   map[uint64]int
	bytesLeft int64
	busy      bool
	active    bool

	filesHashed int
	bytesHashed int64

	// per-directory aggregation
	curDir   string
	dirFiles int
	dirBytes int64
	sfv      sfvEntries
}

// push appends work; caller holds the pool mutex.
func (w *worker) push(item workItem) {
	w.queue = insertSorted(w.queue, item)
	w.devices[item.deviceID]++
	w.bytesLeft += item.size
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	for {
		item, ok := w.pop()
		if !ok {
			return
		}
		w.process(item)
		w.finish(item)
	}
}

// pop blocks for work. Workers other than 0 exit when their queue
// drains; worker 0 stays for reuse.
func (w *worker) pop() (workItem, bool) {
	p := w.pool
	p.mu.Lock()
	for {
		if p.shutdown {
			p.mu.Unlock()
			return workItem{}, false
		}
		if len(w.queue) > 0 {
			item := w.queue[0]
			w.queue = w.queue[1:]
			w.busy = true
			w.active = true
			p.mu.Unlock()
			return item, true
		}
		if w.id != 0 {
			delete(p.workers, w.id)
			p.mu.Unlock()
			w.flushDirectory()
			w.emitFinished()
			return workItem{}, false
		}
		if w.active {
			// Drained: report before going idle.
			w.active = false
			p.mu.Unlock()
			w.flushDirectory()
			w.emitFinished()
			p.mu.Lock()
			continue
		}
		p.cond.Wait()
	}
}

func (w *worker) emitFinished() {
	w.pool.emit(HasherFinished{HasherID: w.id, Files: w.filesHashed, Bytes: w.bytesHashed})
}

// finish releases accounting for a completed item.
func (w *worker) finish(item workItem) {
	p := w.pool
	p.mu.Lock()
	delete(p.queued, item.lowerPath)
	w.devices[item.deviceID]--
	if w.devices[item.deviceID] <= 0 {
		delete(w.devices, item.deviceID)
	}
	w.bytesLeft -= item.size
	w.busy = false
	p.mu.Unlock()
}

// process hashes one file and commits the result.
func (w *worker) process(item workItem) {
	if !w.pool.pauseGate() {
		return
	}

	dir := filepath.Dir(item.path)
	if dir != w.curDir {
		w.flushDirectory()
		w.curDir = dir
		if w.pool.verifySFV {
			w.sfv = loadSFV(dir)
		}
	}

	st, err := os.Stat(item.path)
	if err != nil {
		w.fail(item, FailIO, err.Error())
		return
	}
	f, err := os.Open(item.path)
	if err != nil {
		w.fail(item, FailIO, err.Error())
		return
	}

	size := st.Size()
	tree := tth.NewTree(tth.BlockSizeFor(size))
	expectedCRC, checkCRC := w.sfv.expected(filepath.Base(item.path))
	crc := crc32.NewIEEE()

	reader := newFileReader(f)
	start := time.Now()
	var read int64
	aborted := false
	for {
		buf, err := reader.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				reader.close()
				w.fail(item, FailIO, err.Error())
				return
			}
			break
		}
		tree.Write(buf)
		if checkCRC {
			crc.Write(buf)
		}
		read += int64(len(buf))
		reader.release(buf)

		w.throttle(read, start)
		if !w.pool.pauseGate() {
			aborted = true
			break
		}
	}
	reader.close()
	if aborted {
		return
	}

	tree.Finish()
	if checkCRC && crc.Sum32() != expectedCRC {
		w.fail(item, FailCRC, fmt.Sprintf("crc mismatch: got %08x, sfv lists %08x", crc.Sum32(), expectedCRC))
		return
	}

	info := hashdb.HashedFile{
		Root:  tree.Root(),
		MTime: uint64(st.ModTime().Unix()),
		Size:  tree.FileSize(),
	}
	if err := w.pool.store.AddHashedFile(item.lowerPath, tree, info); err != nil {
		w.fail(item, FailIO, err.Error())
		return
	}

	w.filesHashed++
	w.bytesHashed += tree.FileSize()
	w.dirFiles++
	w.dirBytes += tree.FileSize()
	logger.Debug("file hashed",
		logger.KeyPath, item.path,
		logger.KeyTTH, info.Root.String(),
		logger.KeyHasher, w.id,
		logger.KeyDuration, time.Since(start))
	w.pool.emit(FileHashed{Path: item.path, Info: info, Tree: tree, HasherID: w.id})
}

// throttle keeps the worker under the configured byte rate.
func (w *worker) throttle(read int64, start time.Time) {
	maxSpeed := w.pool.maxSpeed
	if maxSpeed <= 0 {
		return
	}
	expected := time.Duration(float64(read) / float64(maxSpeed) * float64(time.Second))
	if ahead := expected - time.Since(start); ahead > 0 {
		time.Sleep(ahead)
	}
}

func (w *worker) fail(item workItem, kind FailKind, msg string) {
	logger.Warn("hashing failed",
		logger.KeyPath, item.path,
		logger.KeyError, msg,
		"kind", kind.String())
	w.pool.emit(FileFailed{Path: item.path, Kind: kind, Message: msg})
}

// flushDirectory emits the aggregate for the directory just left.
func (w *worker) flushDirectory() {
	if w.curDir == "" || w.dirFiles == 0 {
		w.curDir, w.dirFiles, w.dirBytes = "", 0, 0
		return
	}
	w.pool.emit(DirectoryHashed{Path: w.curDir, Files: w.dirFiles, Bytes: w.dirBytes, HasherID: w.id})
	w.curDir, w.dirFiles, w.dirBytes = "", 0, 0
}
