package upcall

import "github.com/behrlich/go-upcall/internal/worker"

// WorkerSnapshot is a point-in-time read of one worker's counters, exposed
// for the external statistics collaborator spec.md §6 describes. This
// runtime implements the counters, not the reporting system around them.
type WorkerSnapshot struct {
	Index       int
	AcceptCount uint64
	ConnCount   uint64
}

// Snapshot aggregates every worker's counters at the moment it was taken.
type Snapshot struct {
	Workers     []WorkerSnapshot
	TotalAccept uint64
	TotalConn   uint64
}

// Metrics reads the live counters off a Fabric's workers on demand; unlike
// the teacher's Metrics (which itself accumulates via Record* calls), this
// runtime's counters already live on worker.Worker as atomics — Metrics is
// just the read-side view spec.md §6 calls "exposed ... for statistics
// reporting".
type Metrics struct {
	workers []*worker.Worker
}

func newMetrics(workers []*worker.Worker) *Metrics {
	return &Metrics{workers: workers}
}

// Snapshot returns the current accept_count/conn_count for every worker.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{Workers: make([]WorkerSnapshot, len(m.workers))}
	for i, w := range m.workers {
		ws := WorkerSnapshot{Index: w.Index(), AcceptCount: w.AcceptCount(), ConnCount: w.ConnCount()}
		snap.Workers[i] = ws
		snap.TotalAccept += ws.AcceptCount
		snap.TotalConn += ws.ConnCount
	}
	return snap
}

// Observer allows pluggable reporting of accept/close events as they
// happen, as an alternative to polling Snapshot. The reporting system
// itself (dashboards, exporters, ...) is out of scope per spec.md's
// explicit non-goal; this is only the extension point for one.
type Observer interface {
	ObserveAccept(workerIndex int)
	ObserveConnClose(workerIndex int)
}

// NoOpObserver discards every observation; the Server's default.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAccept(int)    {}
func (NoOpObserver) ObserveConnClose(int) {}

var _ Observer = NoOpObserver{}
