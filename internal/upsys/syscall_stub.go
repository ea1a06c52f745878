//go:build !linux

package upsys

import (
	"errors"

	"github.com/behrlich/go-upcall/internal/uapi"
)

var errUnsupported = errors.New("upsys: upcall syscalls are only available on linux")

type realShim struct{}

// New returns a Shim that always fails; the real upcall syscalls are
// Linux-only. Non-linux builds exist only to let the rest of the module
// compile and run its non-syscall tests.
func New() Shim { return realShim{} }

func (realShim) Create(flags uint32) (int, error)                              { return -1, errUnsupported }
func (realShim) Submit(upfd int, in, out []uapi.UpEvent) (int, error)           { return 0, errUnsupported }
func (realShim) QueueCount(upfd int) (int, error)                              { return 0, errUnsupported }
func (realShim) Close(upfd int) error                                          { return errUnsupported }

type realLegacyShim struct{}

func NewLegacy() LegacyShim { return realLegacyShim{} }

func (realLegacyShim) Ctl(upfd, op, fd int, events uint32, item uapi.WorkItem) error {
	return errUnsupported
}
func (realLegacyShim) Wait(upfd int) (uapi.WorkItem, error) { return uapi.WorkItem{}, errUnsupported }
func (realLegacyShim) Close(upfd int) error                 { return errUnsupported }
