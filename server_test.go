package upcall

import (
	"context"
	"testing"
	"time"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		BindAddr:        "127.0.0.1:0",
		MsgSize:         16,
		Model:           SINGLE,
		ThreadsPerQueue: 1,
		Donate:          true,
		BufCount:        2,
		InboundCap:      4,
		NumCPU:          1,
		Shim:            NewMockShim(1),
		Logger:          nil, // exercise withDefaults' NoopLogger fallback
	}
}

func TestNewStartsExactlyOneWorkerUnderSingle(t *testing.T) {
	srv, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Shutdown()

	if got := srv.WorkerCount(); got != 1 {
		t.Errorf("WorkerCount() = %d, want 1", got)
	}
}

func TestNewRejectsNonPositiveMsgSize(t *testing.T) {
	opts := testOptions(t)
	opts.MsgSize = -1 // 0 means "unset" and is replaced by the default
	if _, err := New(opts); err == nil {
		t.Fatal("expected an error for msg_size <= 0, got nil")
	} else if !IsKind(err, KindStartupFatal) {
		t.Errorf("expected KindStartupFatal, got %v", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Shutdown(); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := srv.Shutdown(); err != nil {
		t.Errorf("second Shutdown should be a no-op, got: %v", err)
	}
}

func TestServeReturnsWhenContextCancelled(t *testing.T) {
	srv, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestMetricsStartsAtZero(t *testing.T) {
	srv, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Shutdown()

	snap := srv.Metrics().Snapshot()
	if snap.TotalAccept != 0 || snap.TotalConn != 0 {
		t.Errorf("fresh server snapshot = %+v, want zeros", snap)
	}
	if len(snap.Workers) != 1 {
		t.Fatalf("len(Workers) = %d, want 1", len(snap.Workers))
	}
}
