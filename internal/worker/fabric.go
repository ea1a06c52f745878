package worker

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-upcall/internal/cache"
	"github.com/behrlich/go-upcall/internal/logging"
	"github.com/behrlich/go-upcall/internal/topology"
	"github.com/behrlich/go-upcall/internal/uapi"
	"github.com/behrlich/go-upcall/internal/upsys"
)

// SetupFunc runs once per worker, on its pinned goroutine, before the
// worker blocks at the rendezvous barrier. Its argument is setupArg passed
// to Init, shared verbatim across all workers — mirroring
// upcall_worker_setup(upfd, buf_count, buf_size)'s role in the original
// design.
type SetupFunc func(w *Worker, setupArg any) error

// Fabric owns the set of live workers for one upcall object and the
// startup barrier that releases them together.
type Fabric struct {
	Workers []*Worker

	mu         sync.Mutex
	cond       *sync.Cond
	setupCount int
	released   bool
	failed     bool
}

// Options configures Init.
type Options struct {
	Model           topology.Model
	ThreadsPerQueue int  // workers spawned per queue; spec.md default is 1
	Donate          bool // buffer-donation vs classic event loop flavor
	InboundCap      int  // inbound completion array capacity per worker
	CacheElemSize   int  // msg_size
	CacheInitCount  int  // buffers pre-populated per worker shard
	Logger          *logging.Logger
	Shim            upsys.Shim // nil uses upsys.New()
	NumCPU          int        // nil/0 uses runtime.NumCPU()
}

// Init implements init_event_handler from spec.md §4.4: create the upcall
// object, interrogate its queue count, build affinity sets, spawn
// threads-per-queue workers pinned to each set, run setupFn on each, and
// return once every worker has passed the rendezvous barrier, which the
// last worker to arrive releases for all of them at once. There is
// no partial startup: any failure tears down everything already spawned
// and returns an error.
func Init(opts Options, setupFn SetupFunc, setupArg any) (*Fabric, int, error) {
	shim := opts.Shim
	if shim == nil {
		shim = upsys.New()
	}
	numCPU := opts.NumCPU
	if numCPU == 0 {
		numCPU = runtime.NumCPU()
	}
	threadsPerQueue := opts.ThreadsPerQueue
	if threadsPerQueue == 0 {
		threadsPerQueue = 1
	}

	flags := uint32(uapi.WorkerInitHint)
	switch opts.Model {
	case topology.PCPU:
		flags |= uapi.ModelPCPU
	case topology.PCACHE:
		flags |= uapi.ModelPCACHE
	case topology.SINGLE:
		flags |= uapi.ModelSINGLE
	default:
		return nil, -1, fmt.Errorf("worker: unknown model %d", opts.Model)
	}

	upfd, err := shim.Create(flags)
	if err != nil {
		return nil, -1, fmt.Errorf("worker: create: %w", err)
	}

	queueCount, err := shim.QueueCount(upfd)
	if err != nil {
		shim.Close(upfd)
		return nil, -1, fmt.Errorf("worker: query queue count: %w", err)
	}

	sets, err := topology.Resolve(opts.Model, numCPU, queueCount)
	if err != nil {
		shim.Close(upfd)
		return nil, -1, fmt.Errorf("worker: resolve topology: %w", err)
	}

	c, err := cache.New(opts.CacheElemSize, opts.CacheInitCount, queueCount*threadsPerQueue)
	if err != nil {
		shim.Close(upfd)
		return nil, -1, fmt.Errorf("worker: allocate cache: %w", err)
	}

	total := queueCount * threadsPerQueue
	f := &Fabric{Workers: make([]*Worker, 0, total)}
	f.cond = sync.NewCond(&f.mu)

	errCh := make(chan error, total)
	index := 0
	for q := 0; q < queueCount; q++ {
		set := sets[q]
		for t := 0; t < threadsPerQueue; t++ {
			w := New(index, shim, upfd, c, opts.InboundCap, opts.Donate, opts.Logger)
			w.SetCPUSet(set)
			f.Workers = append(f.Workers, w)
			go f.spawnOne(w, set, setupFn, setupArg, total, errCh)
			index++
		}
	}

	for i := 0; i < total; i++ {
		if spawnErr := <-errCh; spawnErr != nil {
			shim.Close(upfd)
			return nil, -1, fmt.Errorf("worker: startup failed: %w", spawnErr)
		}
	}

	return f, upfd, nil
}

// spawnOne is the body of one worker's OS-thread-pinned goroutine: pin,
// set affinity, run setupFn, then block at the rendezvous barrier until
// every worker has arrived, then report the outcome to Init on errCh.
func (f *Fabric) spawnOne(w *Worker, set unix.CPUSet, setupFn SetupFunc, setupArg any, total int, errCh chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		w.log.Warn("failed to set CPU affinity", "error", err)
	}

	if setupFn != nil {
		if err := setupFn(w, setupArg); err != nil {
			f.fail()
			errCh <- fmt.Errorf("worker %d: setup: %w", w.index, err)
			return
		}
	}

	if !f.arrive(total) {
		errCh <- fmt.Errorf("worker %d: rendezvous aborted by a sibling's setup failure", w.index)
		return
	}
	errCh <- nil
}

// fail marks the rendezvous as aborted and wakes every worker already
// blocked in arrive(), so one worker's setup error cannot strand the
// others there forever — without this, setupCount can never reach total
// once one worker dies without calling arrive(), and every sibling that
// already called it would wait on f.cond forever.
func (f *Fabric) fail() {
	f.mu.Lock()
	f.failed = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

// arrive implements the rendezvous barrier. Unlike the buggy
// spin-with-lock-drop release loop found in event-tester/upcall.c's
// init_threads(), this uses sync.Cond throughout — matching the correct
// pthread_cond_wait-based wait_for_setup() in libupcall/upcall.c. Returns
// false if a sibling's setup failure aborted the rendezvous before every
// worker arrived.
func (f *Fabric) arrive(total int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setupCount++
	if f.setupCount == total {
		f.released = true
		f.cond.Broadcast()
	}
	for !f.released && !f.failed {
		f.cond.Wait()
	}
	return !f.failed
}
