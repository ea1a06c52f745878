//go:build linux

// Package upsys implements the syscall shim described in the upcall
// design notes: a thin wrapper over the kernel's create/submit object,
// plus the legacy ctl/wait binding variant. The kernel-side implementation
// of these syscalls is an opaque collaborator — this package only knows
// the wire contract, not how the kernel services it.
package upsys

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-upcall/internal/uapi"
)

// These syscall numbers are specific to the upcall kernel feature and are
// not part of a mainline kernel ABI; they must match whatever kernel this
// binary is run against.
const (
	sysUpcallCreate = 468
	sysUpcallSubmit = 469
)

// Shim is the modern (non-legacy) syscall surface.
type Shim interface {
	// Create opens an upcall object configured by flags (one concurrency
	// model bit plus CloseOnExec). Returns the upcall file descriptor.
	Create(flags uint32) (int, error)
	// Submit posts every work request in in and blocks until at least
	// one completion is ready, writing up to len(out) completions and
	// returning how many were written.
	Submit(upfd int, in []uapi.UpEvent, out []uapi.UpEvent) (int, error)
	// QueueCount interrogates the upcall object for the kernel-reported
	// number of event queues, via ioctl(UPIOGQCNT).
	QueueCount(upfd int) (int, error)
	Close(upfd int) error
}

// realShim talks to the kernel directly via raw syscalls, matching the
// project convention of avoiding an intervening io_uring library for
// ABI surfaces io_uring does not actually cover.
type realShim struct{}

// New returns the real kernel-backed Shim.
func New() Shim { return realShim{} }

func (realShim) Create(flags uint32) (int, error) {
	if model := flags & uint32(uapi.ModelMask); model == 0 || model&(model-1) != 0 {
		return -1, fmt.Errorf("upsys: Create requires exactly one concurrency-model bit, got 0x%x", flags)
	}
	r1, _, errno := unix.Syscall(sysUpcallCreate, uintptr(flags), 0, 0)
	if errno != 0 {
		return -1, fmt.Errorf("upsys: upcall_create: %w", errno)
	}
	return int(r1), nil
}

func (realShim) Submit(upfd int, in []uapi.UpEvent, out []uapi.UpEvent) (int, error) {
	var inPtr, outPtr unsafe.Pointer
	if len(in) > 0 {
		inPtr = unsafe.Pointer(&in[0])
	}
	if len(out) > 0 {
		outPtr = unsafe.Pointer(&out[0])
	}
	r1, _, errno := unix.Syscall6(sysUpcallSubmit,
		uintptr(upfd),
		uintptr(len(in)), uintptr(inPtr),
		uintptr(len(out)), uintptr(outPtr),
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("upsys: upcall_submit: %w", errno)
	}
	return int(r1), nil
}

func (realShim) QueueCount(upfd int) (int, error) {
	var count uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(upfd), uintptr(uapi.IoctlQueueCount), uintptr(unsafe.Pointer(&count)))
	if errno != 0 {
		return 0, fmt.Errorf("upsys: ioctl(UPIOGQCNT): %w", errno)
	}
	return int(count), nil
}

func (realShim) Close(upfd int) error {
	return unix.Close(upfd)
}
