package echo

import (
	"golang.org/x/sys/unix"

	"github.com/behrlich/go-upcall/internal/logging"
	"github.com/behrlich/go-upcall/internal/uapi"
	"github.com/behrlich/go-upcall/internal/worker"
)

// Config configures the echo application's state machine.
type Config struct {
	MsgSize int  // fixed message size, identical on all workers
	Donate  bool // buffer-donation vs classic caller-supplied-buffer flavor
}

// Writer performs the blocking byte-level write a completed message is
// echoed with. Production code uses sysWriter (a raw unix.Write loop);
// tests inject a fake so the state machine can be exercised without a
// real socket.
type Writer interface {
	Write(fd int32, p []byte) (int, error)
}

// Observer is notified of accept/close events as they happen; the
// statistics reporting system itself is out of scope per spec.md §6, so
// this is only the extension point. Satisfied by upcall.NoOpObserver by
// default.
type Observer interface {
	ObserveAccept(workerIndex int)
	ObserveConnClose(workerIndex int)
}

type noopObserver struct{}

func (noopObserver) ObserveAccept(int)    {}
func (noopObserver) ObserveConnClose(int) {}

// sysWriter writes directly to a raw, non-blocking socket fd, spinning on
// EAGAIN/EWOULDBLOCK until progress. spec.md §4.6/§9 flags this as a
// deliberate benchmark simplification: a production implementation would
// post an explicit write-event instead of blocking the dispatching
// worker's goroutine here.
type sysWriter struct{}

func (sysWriter) Write(fd int32, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(int(fd), p[total:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, nil // peer closed mid-write
		}
		total += n
	}
	return total, nil
}

// App wires the echo application state machine (spec.md §4.6) to a
// worker.Dispatcher and a shared connection Table. One App is shared by
// every worker; all of its methods operate only on the state the calling
// worker already owns exclusively, per the partitioning invariant.
type App struct {
	cfg      Config
	table    *Table
	log      *logging.Logger
	writer   Writer
	observer Observer
}

// NewApp constructs an App. log may be nil (defaults to a no-op logger).
func NewApp(cfg Config, table *Table, log *logging.Logger) *App {
	if log == nil {
		log = logging.NoopLogger()
	}
	return &App{cfg: cfg, table: table, log: log, writer: sysWriter{}, observer: noopObserver{}}
}

// SetWriter overrides the byte-level writer; test-only hook.
func (a *App) SetWriter(w Writer) { a.writer = w }

// SetObserver wires an external statistics collaborator; nil restores the
// no-op default.
func (a *App) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	a.observer = o
}

// OnAccept returns the modern, edge-triggered, donation-mode accept
// handler for listenFD: one ACCEPT completion delivers exactly one new
// client fd in ev.Result. It installs the connection, arms the first
// read, and re-arms accept after every accepted fd — not once per batch,
// per spec.md §4.6.
func (a *App) OnAccept(w worker.Dispatcher, listenFD int32) func(*uapi.UpEvent) {
	var handler func(*uapi.UpEvent)
	handler = func(ev *uapi.UpEvent) {
		if ev.Result < 0 {
			a.log.Warn("accept failed", "error", ev.Result)
			w.AddAccept(listenFD, handler)
			return
		}
		newfd := ev.Result
		buf := w.Alloc()
		conn := NewConnection(newfd, buf, w.CPU())
		a.table.Set(newfd, conn)
		w.IncAcceptCount()
		a.observer.ObserveAccept(w.CPU())

		a.armRead(w, conn)
		w.AddAccept(listenFD, handler)
	}
	return handler
}

// OnAcceptClassic is the classic, level-triggered accept handler:
// readiness on listenFD means the backlog should be drained with
// accept4(..., SOCK_NONBLOCK) until EAGAIN, then a single accept is
// re-armed, per spec.md §4.6.
func (a *App) OnAcceptClassic(w worker.Dispatcher, listenFD int32) func(*uapi.UpEvent) {
	var handler func(*uapi.UpEvent)
	handler = func(ev *uapi.UpEvent) {
		for {
			nfd, _, err := unix.Accept4(int(listenFD), unix.SOCK_NONBLOCK)
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
					break
				}
				a.log.Warn("accept4 failed", "error", err)
				break
			}
			newfd := int32(nfd)
			buf := w.Alloc()
			conn := NewConnection(newfd, buf, w.CPU())
			a.table.Set(newfd, conn)
			w.IncAcceptCount()
			a.observer.ObserveAccept(w.CPU())
			a.armRead(w, conn)
		}
		w.AddAccept(listenFD, handler)
	}
	return handler
}

// armRead posts the next READ work-request for conn, transitioning it to
// READING. In classic mode the read targets conn.buffer at the current
// cursor offset directly — never a fresh allocation — so a partial read
// lands at buffer[cursor], matching the corrected indexing spec.md §9
// calls out.
func (a *App) armRead(w worker.Dispatcher, conn *Connection) {
	conn.setState(StateReading)
	fd := conn.FD()
	var target []byte
	if !w.Donate() {
		target = conn.Buffer()[conn.Cursor():]
	}
	w.AddRead(fd, target, a.OnRead(w, fd))
}

// OnRead is the read completion handler (spec.md §4.6). A connection
// closed while its read was in flight is detected via the fd<0 gate and
// silently dropped. In donation mode, every branch returns the
// completion's kernel-donated buffer before it falls out of scope —
// mirroring the C original's unconditional return_buffer(buf, arg->len)
// at my_read's out: label — so the donated pool is continuously
// replenished rather than draining after the initial donation.
func (a *App) OnRead(w worker.Dispatcher, fd int32) func(*uapi.UpEvent) {
	return func(ev *uapi.UpEvent) {
		conn := a.table.Get(fd)
		if conn == nil || conn.Closed() {
			return
		}
		conn.bumpEventCount()

		switch {
		case ev.Result <= 0:
			if a.cfg.Donate {
				if buf := a.dataFor(ev, conn); buf != nil {
					w.ReturnBuffer(buf)
				}
			}
			a.closeConn(w, conn)

		case int(ev.Result) == a.cfg.MsgSize && (a.cfg.Donate || conn.Cursor() == 0):
			// Whole message in one completion: donation mode always
			// delivers a fresh buffer per read, so a full msg_size read
			// is complete regardless of cursor; classic mode only treats
			// it as complete when this is the first fragment.
			data := a.dataFor(ev, conn)
			a.echo(w, conn, data[:a.cfg.MsgSize])
			if a.cfg.Donate {
				w.ReturnBuffer(data)
			}

		default:
			data := a.dataFor(ev, conn)
			if a.cfg.Donate {
				conn.absorb(data[:ev.Result])
				w.ReturnBuffer(data)
			} else {
				conn.advanceCursor(int(ev.Result))
			}
			if conn.Cursor() < a.cfg.MsgSize {
				a.armRead(w, conn)
			} else {
				a.echo(w, conn, conn.Buffer())
			}
		}
	}
}

// dataFor resolves the bytes a completion actually carries: in donation
// mode the kernel hands back a pointer into the pool via ev.Buf; in
// classic mode the data already landed in conn.Buffer() at the cursor
// armRead posted against.
func (a *App) dataFor(ev *uapi.UpEvent, conn *Connection) []byte {
	if a.cfg.Donate {
		return uapi.BufFromEvent(ev)
	}
	return conn.Buffer()
}

// echo writes data back to the connection synchronously, resets the
// cursor, and re-arms the next read. Write errors other than EAGAIN are
// logged and tolerated — the next read surfaces the close if the peer is
// gone, per spec.md §7.
func (a *App) echo(w worker.Dispatcher, conn *Connection, data []byte) {
	conn.setState(StateWriting)
	n, err := a.writer.Write(conn.FD(), data)
	if err != nil {
		a.log.Error("echo write failed", "fd", conn.FD(), "error", err)
	} else if n == 0 {
		a.closeConn(w, conn)
		return
	}
	conn.resetCursor()
	a.armRead(w, conn)
}

// closeConn tears a connection down: marks it closed, removes it from the
// table, and returns its own reassembly buffer to the per-CPU cache, per
// spec.md §4.6's close transition. This is conn.Buffer() — the chunk
// allocated for the connection's own lifetime at accept — not a
// kernel-donated read buffer, so it always goes to the cache shard via
// FreeToCache, never onto the donation free-list ReturnBuffer feeds.
func (a *App) closeConn(w worker.Dispatcher, conn *Connection) {
	conn.setState(StateClosing)
	fd := conn.FD()
	conn.markClosed()
	a.table.Clear(fd)
	w.FreeToCache(conn.Buffer())
	w.IncConnCount()
	a.observer.ObserveConnClose(w.CPU())
	unix.Close(int(fd))
}
