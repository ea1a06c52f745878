package worker

import (
	"fmt"

	"github.com/behrlich/go-upcall/internal/uapi"
	"github.com/behrlich/go-upcall/internal/upsys"
)

// RegisterEvent binds fn to the (fd, events) tuple via the legacy
// ctl/wait variant (spec.md §4.1, §4.7 — supplemented in full from
// libupcall/upcall.c's ioctl ADD path). arg is round-tripped verbatim to
// fn alongside the item, mirroring the original {arg, work_fn} pairing.
func RegisterEvent(shim upsys.LegacyShim, upfd, fd int, events uint32, arg uint64, fn func(arg uint64)) error {
	item := uapi.WorkItem{Arg: arg, WorkFn: uapi.EncodeLegacyFn(fn)}
	if err := shim.Ctl(upfd, uapi.CtlAdd, fd, events, item); err != nil {
		return fmt.Errorf("worker: register_event fd=%d: %w", fd, err)
	}
	return nil
}

// UnregisterEvent removes a previously registered (fd, events) binding.
func UnregisterEvent(shim upsys.LegacyShim, upfd, fd int, events uint32) error {
	if err := shim.Ctl(upfd, uapi.CtlDel, fd, events, uapi.WorkItem{}); err != nil {
		return fmt.Errorf("worker: unregister_event fd=%d: %w", fd, err)
	}
	return nil
}

// RunLegacyOnce blocks for exactly one completion via the legacy Wait
// syscall and dispatches its callback. Unlike the batched modern loop,
// the legacy variant surfaces one event per blocking call — there is no
// outbound/inbound array here, matching libupcall/upcall.c's wait() shape.
func RunLegacyOnce(shim upsys.LegacyShim, upfd int) error {
	item, err := shim.Wait(upfd)
	if err != nil {
		return fmt.Errorf("worker: legacy wait: %w", err)
	}
	if fn := uapi.DecodeLegacyFn(item.WorkFn); fn != nil {
		fn(item.Arg)
	}
	return nil
}

// RunLegacy drives RunLegacyOnce repeatedly until done is closed.
func RunLegacy(shim upsys.LegacyShim, upfd int, done <-chan struct{}) error {
	for {
		if done != nil {
			select {
			case <-done:
				return nil
			default:
			}
		}
		if err := RunLegacyOnce(shim, upfd); err != nil {
			return err
		}
	}
}
