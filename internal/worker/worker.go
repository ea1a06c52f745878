// Package worker implements the worker fabric (per-queue CPU-pinned
// threads and their startup rendezvous) and the batched submit/reap event
// loop. Grounded on internal/queue/runner.go's ioLoop/CPU-pinning
// structure and on event-tester/upcall.c's worker_setup()/init_threads().
package worker

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-upcall/internal/cache"
	"github.com/behrlich/go-upcall/internal/logging"
	"github.com/behrlich/go-upcall/internal/uapi"
	"github.com/behrlich/go-upcall/internal/upsys"
)

// evtsChunk is the growth increment for the outbound array (spec.md's
// EVTS constant): it grows in chunks of this size and never shrinks. The
// inbound array is fixed at the capacity given to New.
const evtsChunk = 64

// Dispatcher is the surface echo handlers (or any other application built
// on this runtime) use to post further work and manage buffers. *Worker
// implements it; keeping it as an interface here lets internal/echo depend
// on worker without worker depending back on echo.
type Dispatcher interface {
	AddRead(fd int32, buf []byte, fn func(*uapi.UpEvent))
	AddAccept(fd int32, fn func(*uapi.UpEvent))
	ReturnBuffer(buf []byte)
	FreeToCache(buf []byte)
	Alloc() []byte
	CPU() int
	Donate() bool
	IncAcceptCount()
	IncConnCount()
}

// Worker is the thread-local state for one event queue: outbound/inbound
// arrays, the buffer free-list, and the per-worker counters spec.md §6
// says are exposed for external statistics reporting (the reporting
// system itself is out of scope; the counters are not).
type Worker struct {
	index  int
	shim   upsys.Shim
	upfd   int
	cache  *cache.Cache
	log    *logging.Logger
	donate bool // buffer-donation mode vs classic caller-supplied buffers
	cpuSet unix.CPUSet // this queue's affinity set, reapplied at Run entry

	outbound []uapi.UpEvent
	inbound  []uapi.UpEvent

	freeList [][]byte
	vecDescs []uapi.BufferDescriptor // backs the single VEC record's iovec array; kept alive across the submit call

	acceptCount uint64
	connCount   uint64
}

// New constructs a Worker bound to upfd via shim, with inbound capacity
// inboundCap, backed by c for buffer allocation. donate selects the
// buffer-donation flavor of the event loop (spec.md §4.5/§4.7) over the
// classic caller-supplied-buffer flavor.
func New(index int, shim upsys.Shim, upfd int, c *cache.Cache, inboundCap int, donate bool, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.NoopLogger()
	}
	return &Worker{
		index:    index,
		shim:     shim,
		upfd:     upfd,
		cache:    c,
		log:      log.With(map[string]any{"worker": index}),
		donate:   donate,
		outbound: make([]uapi.UpEvent, 0, evtsChunk),
		inbound:  make([]uapi.UpEvent, inboundCap),
	}
}

// SetCPUSet records the affinity set this worker's queue was assigned by
// the topology resolver. Init calls this once at construction; Run
// reapplies it on whatever goroutine actually ends up driving the event
// loop, since the goroutine spawnOne used to run setupFn is not
// necessarily the same one the caller later drives Run on.
func (w *Worker) SetCPUSet(set unix.CPUSet) { w.cpuSet = set }

var _ Dispatcher = (*Worker)(nil)

// Index is this worker's queue/thread index.
func (w *Worker) Index() int { return w.index }

// CPU returns the cache shard index this worker owns — equal to its
// worker index, which matches its queue index only when each queue has a
// single worker.
func (w *Worker) CPU() int { return w.index }

// Donate reports whether this worker runs the buffer-donation flavor of
// the event loop rather than the classic caller-supplied-buffer flavor.
func (w *Worker) Donate() bool { return w.donate }

func (w *Worker) IncAcceptCount() { atomic.AddUint64(&w.acceptCount, 1) }
func (w *Worker) IncConnCount()   { atomic.AddUint64(&w.connCount, 1) }

// AcceptCount and ConnCount are read-only snapshots for the statistics
// collaborator described in spec.md §6 — this runtime exposes the
// counters without implementing the reporting system itself.
func (w *Worker) AcceptCount() uint64 { return atomic.LoadUint64(&w.acceptCount) }
func (w *Worker) ConnCount() uint64   { return atomic.LoadUint64(&w.connCount) }

// Alloc pulls a fresh msg_size buffer from this worker's cache shard.
func (w *Worker) Alloc() []byte { return w.cache.Alloc(w.index) }

// grow appends ev to outbound, expanding capacity in evtsChunk-sized
// increments rather than per-append, matching spec.md §4.5's growth
// policy (arrays never shrink).
func (w *Worker) grow(ev uapi.UpEvent) {
	if len(w.outbound) == cap(w.outbound) {
		grown := make([]uapi.UpEvent, len(w.outbound), cap(w.outbound)+evtsChunk)
		copy(grown, w.outbound)
		w.outbound = grown
	}
	w.outbound = append(w.outbound, ev)
}

// AddRead appends a READ work-request for fd, to be delivered to fn on
// completion. In donation mode buf is ignored — the kernel chooses a
// buffer from the donated pool itself. In classic mode buf is the exact
// caller-supplied landing buffer; callers that want partial reads to land
// at a cursor offset pass buffer[cursor:] rather than a fresh allocation,
// per spec.md §9's reassembly-indexing note.
func (w *Worker) AddRead(fd int32, buf []byte, fn func(*uapi.UpEvent)) {
	ev := uapi.UpEvent{FD: fd, Type: uapi.ActionRead, WorkFn: uapi.EncodeWorkFn(fn)}
	if !w.donate {
		ev.Buf = bufAddr(buf)
		ev.Len = uint64(len(buf))
	}
	w.grow(ev)
}

// AddAccept appends an ACCEPT work-request for the listening socket fd.
func (w *Worker) AddAccept(fd int32, fn func(*uapi.UpEvent)) {
	w.grow(uapi.UpEvent{FD: fd, Type: uapi.ActionAccept, WorkFn: uapi.EncodeWorkFn(fn)})
}

// ReturnBuffer reclaims a kernel-donated read buffer once its caller
// (an echo read completion) is done copying out of it. In donation mode
// it joins the thread-local free-list and is re-donated to the kernel on
// the next submit, per spec.md §4.7. In classic mode there is no
// kernel-side pool to re-donate to, so it goes straight back to this
// worker's cache shard for the next Alloc. Buffers a worker owns for its
// own lifetime (a connection's reassembly chunk) do not belong here — use
// FreeToCache for those, so the donation free-list and the cache shard
// are never crossed.
func (w *Worker) ReturnBuffer(buf []byte) {
	if w.donate {
		w.freeList = append(w.freeList, buf)
		return
	}
	w.cache.Free(w.index, buf)
}

// FreeToCache returns buf directly to this worker's cache shard,
// regardless of donation mode. Use this for buffers this worker itself
// allocated for its own lifetime use (e.g. a connection's reassembly
// buffer on close) — never for a buffer a read completion handed back
// from the kernel's donated pool, which belongs on ReturnBuffer's
// free-list instead.
func (w *Worker) FreeToCache(buf []byte) {
	w.cache.Free(w.index, buf)
}

// PendingDonations reports how many buffers are queued on the free-list
// awaiting the next submit's VEC donation. Test/diagnostic use only.
func (w *Worker) PendingDonations() int { return len(w.freeList) }

func bufAddr(buf []byte) uint64 { return uapi.Addr(buf) }

// donateFreeList appends a single VEC record describing the current
// free-list to outbound, then clears the free-list (the kernel now owns
// those buffers), matching spec.md §3/§4.5: a VEC record's Buf points to
// an iovec array and its Len is the iovec count, not one record per
// buffer. w.vecDescs backs that array and is reused across calls so it
// survives until the next submit consumes it.
func (w *Worker) donateFreeList() {
	if !w.donate || len(w.freeList) == 0 {
		return
	}
	if cap(w.vecDescs) < len(w.freeList) {
		w.vecDescs = make([]uapi.BufferDescriptor, len(w.freeList))
	} else {
		w.vecDescs = w.vecDescs[:len(w.freeList)]
	}
	for i, buf := range w.freeList {
		w.vecDescs[i] = uapi.BufferDescriptor{Base: uintptr(bufAddr(buf)), Len: uint64(len(buf))}
	}
	w.grow(uapi.UpEvent{Type: uapi.ActionVec, Buf: uapi.DescriptorsAddr(w.vecDescs), Len: uint64(len(w.vecDescs))})
	w.freeList = w.freeList[:0]
}

// RunOnce executes exactly one submit/dispatch/rearm cycle: the sole
// suspension point in steady state. All callbacks run to completion on
// this goroutine before RunOnce returns.
func (w *Worker) RunOnce() error {
	w.donateFreeList()

	n, err := w.shim.Submit(w.upfd, w.outbound, w.inbound)
	if err != nil {
		return fmt.Errorf("worker %d: submit: %w", w.index, err)
	}
	w.outbound = w.outbound[:0]

	for i := 0; i < n; i++ {
		if fn := uapi.DecodeWorkFn(w.inbound[i].WorkFn); fn != nil {
			fn(&w.inbound[i])
		}
	}
	for i := range w.inbound {
		w.inbound[i] = uapi.UpEvent{}
	}
	return nil
}

// Run drives RunOnce repeatedly. If continuous is false, it runs exactly
// one iteration (used by tests and by scenario-style single-shot drivers).
// done, if non-nil, is polled between iterations for a cooperative exit.
//
// Run pins the calling goroutine's OS thread to w.cpuSet before entering
// the loop: the goroutine spawnOne used to run setupFn and reach the
// rendezvous barrier exits once the barrier releases, so whichever
// goroutine the caller later drives the steady-state loop on (Server.Serve
// spawns a fresh one) must repin itself rather than inherit pinning from
// setup.
func (w *Worker) Run(continuous bool, done <-chan struct{}) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := unix.SchedSetaffinity(0, &w.cpuSet); err != nil {
		w.log.Warn("failed to set CPU affinity", "error", err)
	}

	for {
		if done != nil {
			select {
			case <-done:
				return nil
			default:
			}
		}
		if err := w.RunOnce(); err != nil {
			return err
		}
		if !continuous {
			return nil
		}
	}
}
