package hasher

import (
	"runtime"
	"sort"
	"sync"

	"github.com/airdcpp/airdcpp-go/internal/logger"
	"github.com/airdcpp/airdcpp-go/internal/pathutil"
	"github.com/airdcpp/airdcpp-go/pkg/config"
	"github.com/airdcpp/airdcpp-go/pkg/hashdb"
)

type workItem struct {
	path      string
	lowerPath string
	size      int64
	deviceID  uint64
}

// Pool owns the hash workers. One global mutex guards the worker map
// and every queue; workers never hold it while doing I/O.
type Pool struct {
	store *hashdb.Store

	maxThreads int
	perVolume  int
	maxSpeed   int64 // bytes per second per worker; 0 = unthrottled
	verifySFV  bool

	mu      sync.Mutex
	cond    *sync.Cond
	workers map[int]*worker
	queued  map[string]struct{} // lowercase paths anywhere in the pool

	pauseMu  sync.Mutex
	pauseC   *sync.Cond
	paused   bool
	shutdown bool

	subsMu sync.RWMutex
	subs   []func(Event)

	wg sync.WaitGroup
}

// NewPool creates the pool. Workers are started on demand; worker 0 is
// created eagerly and stays alive for the life of the pool.
func NewPool(cfg config.HasherConfig, store *hashdb.Store) *Pool {
	maxThreads := cfg.MaxThreads
	if maxThreads <= 0 {
		maxThreads = runtime.NumCPU()
	}
	perVolume := cfg.PerVolume
	if perVolume <= 0 {
		perVolume = 1
	}

	p := &Pool{
		store:      store,
		maxThreads: maxThreads,
		perVolume:  perVolume,
		maxSpeed:   cfg.MaxSpeed.Int64(),
		verifySFV:  cfg.VerifySFV,
		workers:    make(map[int]*worker),
		queued:     make(map[string]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.pauseC = sync.NewCond(&p.pauseMu)

	p.mu.Lock()
	p.spawnLocked(0)
	p.mu.Unlock()
	return p
}

// Subscribe registers an event callback. Callbacks run on worker
// goroutines; keep them short and never call back into the pool.
func (p *Pool) Subscribe(fn func(Event)) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	p.subs = append(p.subs, fn)
}

func (p *Pool) emit(ev Event) {
	p.subsMu.RLock()
	subs := p.subs
	p.subsMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// TryAdd queues a file for hashing. Paths already queued anywhere in
// the pool are dropped silently.
func (p *Pool) TryAdd(realPath string, size int64) {
	lower := pathutil.ToLower(realPath)
	dev := deviceID(realPath)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	if _, dup := p.queued[lower]; dup {
		return
	}

	w := p.pickWorkerLocked(dev)
	w.push(workItem{path: realPath, lowerPath: lower, size: size, deviceID: dev})
	p.queued[lower] = struct{}{}
	p.cond.Broadcast()
}

// pickWorkerLocked implements the dispatch policy.
func (p *Pool) pickWorkerLocked(dev uint64) *worker {
	// A lone idle worker is always reused.
	if len(p.workers) == 1 {
		for _, w := range p.workers {
			if len(w.queue) == 0 && !w.busy {
				return w
			}
		}
	}

	// Prefer the least-loaded worker already touching this device.
	var best *worker
	for _, w := range p.workers {
		if w.devices[dev] == 0 {
			continue
		}
		if best == nil || w.bytesLeft < best.bytesLeft {
			best = w
		}
	}
	if best != nil {
		return best
	}

	// Start a fresh worker when both the pool cap and the per-volume
	// cap allow one.
	if len(p.workers) < p.maxThreads && p.volumeLoadLocked(dev) < p.perVolume {
		return p.spawnLocked(p.lowestFreeIDLocked())
	}

	// Fall back to the globally least-loaded worker.
	for _, w := range p.workers {
		if best == nil || w.bytesLeft < best.bytesLeft {
			best = w
		}
	}
	if best == nil {
		best = p.spawnLocked(p.lowestFreeIDLocked())
	}
	return best
}

func (p *Pool) volumeLoadLocked(dev uint64) int {
	n := 0
	for _, w := range p.workers {
		if w.devices[dev] > 0 {
			n++
		}
	}
	return n
}

func (p *Pool) lowestFreeIDLocked() int {
	for id := 0; ; id++ {
		if _, used := p.workers[id]; !used {
			return id
		}
	}
}

func (p *Pool) spawnLocked(id int) *worker {
	w := &worker{
		id:      id,
		pool:    p,
		devices: make(map[uint64]int),
	}
	p.workers[id] = w
	p.wg.Add(1)
	go w.run()
	logger.Debug("hasher started", logger.KeyHasher, id)
	return w
}

// Pause suspends all workers at the next chunk boundary. Suspended
// workers hold no locks.
func (p *Pool) Pause() {
	p.pauseMu.Lock()
	p.paused = true
	p.pauseMu.Unlock()
}

// Resume wakes suspended workers.
func (p *Pool) Resume() {
	p.pauseMu.Lock()
	p.paused = false
	p.pauseMu.Unlock()
	p.pauseC.Broadcast()
}

// Paused reports whether the pool is paused.
func (p *Pool) Paused() bool {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	return p.paused
}

// pauseGate blocks while the pool is paused; returns false on shutdown.
func (p *Pool) pauseGate() bool {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	for p.paused && !p.shutdownFlag() {
		p.pauseC.Wait()
	}
	return !p.shutdownFlag()
}

func (p *Pool) shutdownFlag() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// Stop drops queued items under the given path prefix from every
// worker. Items currently being hashed are not interrupted.
func (p *Pool) Stop(pathPrefix string) {
	prefix := pathutil.ToLower(pathPrefix)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		kept := w.queue[:0]
		for _, item := range w.queue {
			if len(item.lowerPath) >= len(prefix) && item.lowerPath[:len(prefix)] == prefix {
				delete(p.queued, item.lowerPath)
				w.bytesLeft -= item.size
			} else {
				kept = append(kept, item)
			}
		}
		w.queue = kept
	}
}

// QueueLen returns the number of items queued or currently being hashed.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queued)
}

// Shutdown drains nothing: queued work is dropped, running items abort
// at the next chunk, and all workers exit. Safe to call twice.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.shutdown = true
	for _, w := range p.workers {
		w.queue = nil
	}
	p.queued = make(map[string]struct{})
	p.cond.Broadcast()
	p.mu.Unlock()

	p.pauseMu.Lock()
	p.paused = false
	p.pauseMu.Unlock()
	p.pauseC.Broadcast()

	p.wg.Wait()
}

// Stats aggregates worker counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Stats
	s.Workers = len(p.workers)
	for _, w := range p.workers {
		s.FilesHashed += w.filesHashed
		s.BytesHashed += w.bytesHashed
		s.BytesLeft += w.bytesLeft
		s.FilesLeft += len(w.queue)
	}
	return s
}

// Stats is a point-in-time snapshot of pool progress.
type Stats struct {
	Workers     int
	FilesHashed int
	BytesHashed int64
	FilesLeft   int
	BytesLeft   int64
}

// insertSorted keeps a worker queue ordered by lowercase path so one
// directory is processed as a unit.
func insertSorted(queue []workItem, item workItem) []workItem {
	idx := sort.Search(len(queue), func(i int) bool {
		return queue[i].lowerPath > item.lowerPath
	})
	queue = append(queue, workItem{})
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = item
	return queue
}
