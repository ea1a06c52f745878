//go:build linux

package upsys

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-upcall/internal/uapi"
)

// LegacyShim is the older binding-style variant: callers register a
// {work_fn, arg} pair against a (fd, event-mask) tuple with Ctl, then block
// for one completion at a time with Wait. Supplemented from
// libupcall/upcall.c's ioctl-based ADD/DEL path, which the distilled spec
// only mentions in passing.
type LegacyShim interface {
	Ctl(upfd int, op int, fd int, events uint32, item uapi.WorkItem) error
	Wait(upfd int) (uapi.WorkItem, error)
	Close(upfd int) error
}

type realLegacyShim struct{}

// NewLegacy returns the real kernel-backed LegacyShim.
func NewLegacy() LegacyShim { return realLegacyShim{} }

// legacyCtlArg is the payload passed by pointer to the ADD/DEL ioctl.
type legacyCtlArg struct {
	FD     int32
	Events uint32
	Item   uapi.WorkItem
}

func (realLegacyShim) Ctl(upfd int, op int, fd int, events uint32, item uapi.WorkItem) error {
	arg := legacyCtlArg{FD: int32(fd), Events: events, Item: item}
	var ioctlOp uint32
	switch op {
	case uapi.CtlAdd:
		ioctlOp = uapi.IoctlRegisterTask
	case uapi.CtlDel:
		ioctlOp = uapi.IoctlRegisterTask | 0x1000
	default:
		return fmt.Errorf("upsys: unknown legacy ctl op %d", op)
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(upfd), uintptr(ioctlOp), uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		return fmt.Errorf("upsys: legacy ctl: %w", errno)
	}
	return nil
}

func (realLegacyShim) Wait(upfd int) (uapi.WorkItem, error) {
	var item uapi.WorkItem
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(upfd), uintptr(uapi.IoctlRegisterTask|0x2000), uintptr(unsafe.Pointer(&item)))
	if errno != 0 {
		return uapi.WorkItem{}, fmt.Errorf("upsys: legacy wait: %w", errno)
	}
	return item, nil
}

func (realLegacyShim) Close(upfd int) error {
	return unix.Close(upfd)
}
