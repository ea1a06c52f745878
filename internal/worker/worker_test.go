package worker

import (
	"testing"

	"github.com/behrlich/go-upcall/internal/cache"
	"github.com/behrlich/go-upcall/internal/uapi"
	"github.com/behrlich/go-upcall/internal/upsys"
)

func newTestWorker(t *testing.T, donate bool) (*Worker, *upsys.Mock, int) {
	t.Helper()
	c, err := cache.New(16, 2, 1)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	m := upsys.NewMock(1)
	model := uapi.ModelSINGLE
	upfd, err := m.Create(uint32(model))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return New(0, m, upfd, c, 8, donate, nil), m, upfd
}

func TestRunOnceDispatchesCompletions(t *testing.T) {
	w, m, upfd := newTestWorker(t, true)

	var gotResult int32
	w.AddRead(5, nil, func(ev *uapi.UpEvent) { gotResult = ev.Result })
	m.Complete(uapi.UpEvent{FD: 5, Result: 16, WorkFn: w.outbound[0].WorkFn})

	if err := w.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if gotResult != 16 {
		t.Errorf("callback saw Result=%d, want 16", gotResult)
	}
	if len(w.outbound) != 0 {
		t.Errorf("outbound not cleared after submit, len=%d", len(w.outbound))
	}
	_ = upfd
}

func TestDonationFreeListDonatesExactCount(t *testing.T) {
	w, _, _ := newTestWorker(t, true)

	for i := 0; i < 3; i++ {
		w.ReturnBuffer(w.Alloc())
	}
	if got := w.PendingDonations(); got != 3 {
		t.Fatalf("PendingDonations = %d, want 3", got)
	}

	w.donateFreeList()

	// A VEC donation is exactly one record whose Buf points to an iovec
	// array and whose Len is the iovec count (spec.md §3/§4.5) — not one
	// record per buffer.
	vecCount := 0
	var vecLen uint64
	for _, ev := range w.outbound {
		if ev.Type == uapi.ActionVec {
			vecCount++
			vecLen = ev.Len
		}
	}
	if vecCount != 1 {
		t.Fatalf("donated %d VEC records, want exactly 1", vecCount)
	}
	if vecLen != 3 {
		t.Errorf("VEC record's Len (iovec count) = %d, want 3", vecLen)
	}
	if len(w.vecDescs) != 3 {
		t.Errorf("vecDescs len = %d, want 3", len(w.vecDescs))
	}
	if w.PendingDonations() != 0 {
		t.Errorf("free-list not cleared after donation, len=%d", w.PendingDonations())
	}
}

func TestClassicModeDonateFreeListNoOp(t *testing.T) {
	w, _, _ := newTestWorker(t, false)

	w.ReturnBuffer(w.Alloc())
	w.donateFreeList()

	for _, ev := range w.outbound {
		if ev.Type == uapi.ActionVec {
			t.Fatal("classic mode must never emit a VEC donation record")
		}
	}
}

func TestClassicReturnBufferGoesBackToCache(t *testing.T) {
	w, _, _ := newTestWorker(t, false)

	before := w.cache.Available(0)
	buf := w.Alloc()
	if w.cache.Available(0) != before-1 {
		t.Fatalf("Alloc did not shrink the shard")
	}
	w.ReturnBuffer(buf)
	if w.cache.Available(0) != before {
		t.Errorf("classic ReturnBuffer did not return buf to the cache shard")
	}
}

func TestGrowExpandsInChunks(t *testing.T) {
	w, _, _ := newTestWorker(t, true)
	initialCap := cap(w.outbound)

	for i := 0; i < initialCap+1; i++ {
		w.grow(uapi.UpEvent{FD: int32(i)})
	}
	if cap(w.outbound) < initialCap+evtsChunk {
		t.Errorf("outbound did not grow by evtsChunk, cap=%d", cap(w.outbound))
	}
	if len(w.outbound) != initialCap+1 {
		t.Errorf("len(outbound) = %d, want %d", len(w.outbound), initialCap+1)
	}
}

func TestRunNonContinuousRunsExactlyOnce(t *testing.T) {
	w, _, _ := newTestWorker(t, true)
	calls := 0
	w.AddAccept(3, func(*uapi.UpEvent) { calls++ })
	if err := w.Run(false, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// No completion was staged, so the callback never runs, but Run must
	// still return after exactly one RunOnce rather than blocking forever.
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (no completion staged)", calls)
	}
}
