// Package upcall implements a batched, kernel-assisted event dispatch
// runtime and a reference TCP echo server built on top of it: per-queue
// CPU-pinned worker threads, a submit/reap event loop against the upcall
// kernel object, and the echo application state machine.
package upcall

import (
	"errors"
	"fmt"
)

// Kind enumerates the three error classes spec.md §7 defines.
type Kind string

const (
	// KindStartupFatal covers syscall failure, out-of-memory during cache
	// or queue allocation, invalid flags, and topology/queue-count
	// mismatch. The process has no partial-startup state to recover.
	KindStartupFatal Kind = "startup_fatal"
	// KindKernelEvent covers a kernel-reported per-event failure delivered
	// in a completion's Result field. No retry is performed at this level.
	KindKernelEvent Kind = "kernel_event"
	// KindConnection covers per-connection errors (e.g. a non-EAGAIN
	// write failure) that are logged and tolerated; the next read
	// surfaces the close if the peer is gone.
	KindConnection Kind = "connection"
)

// Error is a structured runtime error carrying the failing operation, its
// class, and the fd it concerns (if any). Grounded on the teacher's
// errors.go Op/Kind/Err shape, with Kind's values narrowed to this
// domain's three error classes instead of the teacher's block-device ones.
type Error struct {
	Op   string // operation that failed, e.g. "worker.Init", "echo.OnRead"
	Kind Kind
	FD   int32 // -1 if not applicable
	Err  error
}

func (e *Error) Error() string {
	if e.FD >= 0 {
		return fmt.Sprintf("upcall: %s: %s (fd=%d): %v", e.Op, e.Kind, e.FD, e.Err)
	}
	return fmt.Sprintf("upcall: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, &Error{Kind: KindStartupFatal}) without caring
// about Op/FD/Err.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// NewError constructs a structured Error. fd may be -1 when not applicable.
func NewError(op string, kind Kind, fd int32, err error) *Error {
	return &Error{Op: op, Kind: kind, FD: fd, Err: err}
}

// Sentinel errors for the common startup-fatal cases.
var (
	ErrInvalidConfig = errors.New("upcall: invalid configuration")
	ErrClosed        = errors.New("upcall: server already closed")
)

// IsKind reports whether err (or something it wraps) is a structured
// Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
