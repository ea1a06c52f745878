package upcall

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/behrlich/go-upcall/internal/echo"
	"github.com/behrlich/go-upcall/internal/logging"
	"github.com/behrlich/go-upcall/internal/upsys"
	"github.com/behrlich/go-upcall/internal/worker"
)

// Options configures a Server. Grounded on the teacher's DeviceParams/
// Options split in backend.go: fixed-shape runtime parameters here,
// collaborators (logger, syscall shim, observer) in a separate struct-like
// set of fields the caller may leave nil for sensible defaults.
type Options struct {
	BindAddr        string
	MsgSize         int
	Model           Model
	ThreadsPerQueue int
	Donate          bool
	BufCount        int
	InboundCap      int
	MaxFD           int // fixed connection Table capacity; fds at or above it cannot be installed

	Logger   *logging.Logger
	Observer Observer
	Shim     upsys.Shim // nil uses the real kernel-backed shim
	NumCPU   int        // 0 uses runtime.NumCPU()
}

// withDefaults fills zero-valued fields from DefaultConfig, mirroring
// DefaultParams's role for backend.Device.
func (o Options) withDefaults() Options {
	def := DefaultConfig()
	if o.BindAddr == "" {
		o.BindAddr = def.BindAddr
	}
	if o.MsgSize == 0 {
		o.MsgSize = def.MsgSize
	}
	if o.ThreadsPerQueue == 0 {
		o.ThreadsPerQueue = def.ThreadsPerQueue
	}
	if o.BufCount == 0 {
		o.BufCount = def.BufCount
	}
	if o.InboundCap == 0 {
		o.InboundCap = def.InboundCap
	}
	if o.MaxFD == 0 {
		o.MaxFD = 1 << 16
	}
	if o.Logger == nil {
		o.Logger = logging.NoopLogger()
	}
	if o.Observer == nil {
		o.Observer = NoOpObserver{}
	}
	return o
}

// Server is the reference TCP echo server: a Fabric of CPU-pinned workers
// dispatching through the batched upcall event loop into the echo state
// machine. Grounded on the teacher's Device (backend.go) for the
// lifecycle shape — New/Serve/Shutdown in place of CreateAndServe/
// StopAndDelete, since this domain has no separate kernel control-plane
// device to add/start/stop.
type Server struct {
	opts   Options
	fabric *worker.Fabric
	shim   upsys.Shim
	upfd   int
	table  *echo.Table
	app    *echo.App
	log    *logging.Logger

	traceID string

	mu        sync.Mutex
	listenFDs []int32

	done chan struct{}
	wg   sync.WaitGroup
}

// setupArgs is threaded through worker.Init as the shared setupFn
// argument: every worker's setupFn opens its own SO_REUSEPORT listener,
// primes its buffer pool (donation mode), and arms the initial accept.
type setupArgs struct {
	server   *Server
	bindAddr string
	donate   bool
	bufCount int
	app      *echo.App
}

// New constructs and starts the worker fabric for a Server, but does not
// yet run the event loop — call Serve for that. Failure here leaves no
// partial state: worker.Init already guarantees all-or-nothing startup.
func New(opts Options) (*Server, error) {
	opts = opts.withDefaults()
	if opts.MsgSize <= 0 {
		return nil, NewError("upcall.New", KindStartupFatal, -1, fmt.Errorf("%w: msg_size must be positive", ErrInvalidConfig))
	}

	table := echo.NewTable(opts.MaxFD)
	app := echo.NewApp(echo.Config{MsgSize: opts.MsgSize, Donate: opts.Donate}, table, opts.Logger)
	app.SetObserver(opts.Observer)

	traceID := uuid.NewString()
	s := &Server{
		opts:    opts,
		shim:    opts.Shim,
		table:   table,
		app:     app,
		traceID: traceID,
		log:     opts.Logger.With(map[string]any{"trace_id": traceID}),
		done:    make(chan struct{}),
	}

	setupArg := &setupArgs{server: s, bindAddr: opts.BindAddr, donate: opts.Donate, bufCount: opts.BufCount, app: app}

	fabricOpts := worker.Options{
		Model:           opts.Model,
		ThreadsPerQueue: opts.ThreadsPerQueue,
		Donate:          opts.Donate,
		InboundCap:      opts.InboundCap,
		CacheElemSize:   opts.MsgSize,
		CacheInitCount:  opts.BufCount,
		Logger:          opts.Logger,
		Shim:            opts.Shim,
		NumCPU:          opts.NumCPU,
	}

	fabric, upfd, err := worker.Init(fabricOpts, echoWorkerSetup, setupArg)
	if err != nil {
		return nil, NewError("upcall.New", KindStartupFatal, -1, err)
	}
	s.fabric = fabric
	s.upfd = upfd
	if s.shim == nil {
		s.shim = upsys.New()
	}
	return s, nil
}

// echoWorkerSetup implements upcall_worker_setup from spec.md §4.7: it
// opens this worker's own SO_REUSEPORT listener, primes the donation
// buffer pool if applicable, and arms the initial accept — all before the
// worker blocks at the startup rendezvous barrier.
func echoWorkerSetup(w *worker.Worker, setupArg any) error {
	arg := setupArg.(*setupArgs)

	fd, err := echo.NewReusableListener(arg.bindAddr)
	if err != nil {
		return fmt.Errorf("worker %d: listen %s: %w", w.Index(), arg.bindAddr, err)
	}
	arg.server.registerListenFD(fd)

	if arg.donate {
		for i := 0; i < arg.bufCount; i++ {
			w.ReturnBuffer(w.Alloc())
		}
		w.AddAccept(fd, arg.app.OnAccept(w, fd))
	} else {
		w.AddAccept(fd, arg.app.OnAcceptClassic(w, fd))
	}
	return nil
}

func (s *Server) registerListenFD(fd int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenFDs = append(s.listenFDs, fd)
}

// Serve runs every worker's event loop until ctx is cancelled, then shuts
// down cleanly. It blocks until shutdown completes.
func (s *Server) Serve(ctx context.Context) error {
	for _, w := range s.fabric.Workers {
		s.wg.Add(1)
		go func(w *worker.Worker) {
			defer s.wg.Done()
			if err := w.Run(true, s.done); err != nil {
				s.log.Error("worker exited", "worker", w.Index(), "error", err)
			}
		}(w)
	}

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return s.Shutdown()
}

// Shutdown stops every worker's event loop, closes every listening socket,
// and closes the upcall object. Safe to call more than once.
func (s *Server) Shutdown() error {
	select {
	case <-s.done:
		return nil // already shut down
	default:
		close(s.done)
	}
	s.wg.Wait()

	s.mu.Lock()
	for _, fd := range s.listenFDs {
		echo.CloseFD(fd)
	}
	s.listenFDs = nil
	s.mu.Unlock()

	if s.shim != nil {
		return s.shim.Close(s.upfd)
	}
	return nil
}

// Metrics returns a read-only handle onto this server's per-worker
// counters (spec.md §6).
func (s *Server) Metrics() *Metrics {
	return newMetrics(s.fabric.Workers)
}

// WorkerCount reports how many worker goroutines this Server is running.
func (s *Server) WorkerCount() int { return len(s.fabric.Workers) }
