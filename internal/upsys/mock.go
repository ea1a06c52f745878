package upsys

import (
	"fmt"
	"sync"

	"github.com/behrlich/go-upcall/internal/uapi"
)

// Mock is an in-process fake of Shim for tests that cannot rely on the
// real upcall syscalls being available on the host kernel. Submit accepts
// and discards every submitted work request (READ, ACCEPT and VEC alike)
// and never blocks; completions come only from events a test stages with
// Complete, simulating the kernel handing back a result.
type Mock struct {
	mu         sync.Mutex
	nextFD     int
	queueCount int
	pending    []uapi.UpEvent
	closed     bool
}

// NewMock returns a Mock pre-configured to report queueCount queues.
func NewMock(queueCount int) *Mock {
	return &Mock{nextFD: 3, queueCount: queueCount}
}

func (m *Mock) Create(flags uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if flags&uint32(uapi.ModelMask) == 0 {
		return -1, fmt.Errorf("upsys mock: Create requires a concurrency-model bit")
	}
	fd := m.nextFD
	m.nextFD++
	return fd, nil
}

func (m *Mock) QueueCount(upfd int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueCount, nil
}

// Submit discards in and immediately drains whatever has been staged via
// Complete into out, FIFO, returning how many were written (possibly 0).
func (m *Mock) Submit(upfd int, in []uapi.UpEvent, out []uapi.UpEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("upsys mock: submit on closed upfd")
	}
	n := 0
	for n < len(out) && len(m.pending) > 0 {
		out[n] = m.pending[0]
		m.pending = m.pending[1:]
		n++
	}
	return n, nil
}

// Complete stages a completion to be returned by the next Submit call.
// Tests use this to drive accept/read events through the event loop
// without a real kernel.
func (m *Mock) Complete(ev uapi.UpEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, ev)
}

func (m *Mock) Close(upfd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Shim = (*Mock)(nil)
