// Package echo implements the echo application state machine: per-
// connection lifecycle (WAITING -> READING -> WRITING -> CLOSING),
// partial-read reassembly, and fixed-length message echo. Grounded
// directly on event-tester/upcall.c's my_accept/my_read/my_write/on_close.
package echo

import "sync/atomic"

// State is a connection's position in the WAITING/READING/WRITING/CLOSING
// lifecycle.
type State int32

const (
	StateWaiting State = iota
	StateReading
	StateWriting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateReading:
		return "READING"
	case StateWriting:
		return "WRITING"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Connection is the per-socket bookkeeping record. It is touched by
// exactly one worker in steady state (the one whose queue the kernel
// routes this fd's events to), so the fields themselves need no locking
// and Connection carries no lock.
type Connection struct {
	fd         int32 // -1 once closed; any callback racing close sees fd<0 and returns
	state      State
	cursor     int
	buffer     []byte
	eventCount uint64
	cpu        int
}

// NewConnection installs fd as freshly accepted, WAITING, with buffer as
// its lifetime-owned reassembly chunk (sized msg_size, from the per-CPU
// cache).
func NewConnection(fd int32, buffer []byte, cpu int) *Connection {
	return &Connection{fd: fd, state: StateWaiting, buffer: buffer, cpu: cpu}
}

// FD returns the connection's file descriptor, or a negative value if the
// connection has been closed. Callbacks racing a close must check this
// before touching any other field.
func (c *Connection) FD() int32 { return atomic.LoadInt32(&c.fd) }

// Closed reports whether Close has already run for this connection.
func (c *Connection) Closed() bool { return c.FD() < 0 }

func (c *Connection) markClosed() { atomic.StoreInt32(&c.fd, -1) }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// Cursor returns the number of bytes of the in-progress message currently
// assembled in Buffer.
func (c *Connection) Cursor() int { return c.cursor }

// Buffer returns the connection's lifetime-owned reassembly chunk.
func (c *Connection) Buffer() []byte { return c.buffer }

// CPU returns the index of the per-CPU cache shard this connection's
// buffer was allocated from, needed to return it on close.
func (c *Connection) CPU() int { return c.cpu }

// EventCount returns how many completions have touched this connection,
// for the "event_count >= 2" testable property in scenario 1.
func (c *Connection) EventCount() uint64 { return atomic.LoadUint64(&c.eventCount) }

func (c *Connection) bumpEventCount() { atomic.AddUint64(&c.eventCount, 1) }

// absorb copies a partial read of n bytes starting at Cursor into Buffer
// and advances Cursor. This is the exact operation spec.md's open
// question warns about: the correct target is buffer[cursor], confirmed
// against event-tester/upcall.c's memcpy(&(conn->buffer[conn->cursor]),
// buf, arg->result) — not conn[cursor].
func (c *Connection) absorb(data []byte) {
	copy(c.buffer[c.cursor:], data)
	c.cursor += len(data)
}

func (c *Connection) resetCursor() { c.cursor = 0 }

// advanceCursor moves Cursor forward by n without copying: used in classic
// mode, where the read already landed directly in Buffer at the cursor
// offset armRead requested (see handlers.go's armRead), so there is
// nothing left to copy — only the bookkeeping needs updating.
func (c *Connection) advanceCursor(n int) { c.cursor += n }

func (c *Connection) setState(s State) { c.state = s }

// Table is the process-wide conns[fd] array: a dense table indexed by
// kernel file descriptor. Entries are written by exactly one worker (the
// one that accepted or created the item) and read by callbacks on that
// same worker. Each slot is an atomic pointer; no lock is taken.
type Table struct {
	slots []atomic.Pointer[Connection]
}

// NewTable creates a Table with room for exactly initialCap file
// descriptors (0 through initialCap-1). The capacity is fixed; the table
// never grows.
func NewTable(initialCap int) *Table {
	return &Table{slots: make([]atomic.Pointer[Connection], initialCap)}
}

// Set installs c at fd. fd must be below the capacity given to NewTable
// (see Options.MaxFD in the root package); Set does not grow the table
// and panics on an out-of-range fd.
func (t *Table) Set(fd int32, c *Connection) {
	t.slots[fd].Store(c)
}

// Get returns the connection at fd, or nil if none is installed.
func (t *Table) Get(fd int32) *Connection {
	if int(fd) < 0 || int(fd) >= len(t.slots) {
		return nil
	}
	return t.slots[fd].Load()
}

// Clear removes the entry at fd.
func (t *Table) Clear(fd int32) {
	t.slots[fd].Store(nil)
}
