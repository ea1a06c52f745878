// Package uapi provides the upcall kernel UAPI wire definitions: the
// packed event record shared with the kernel and the flag bits used to
// configure it. Nothing in this package may change shape without also
// changing the kernel side — these structs are laid out to be bit-exact
// with the kernel ABI described in the upcall design notes.
package uapi

import "unsafe"

// ActionType tags an UpEvent as a read, accept, or buffer-donation record.
type ActionType uint64

const (
	ActionRead ActionType = iota
	ActionAccept
	ActionVec
)

// UpEvent is the wire struct shared with the kernel for both submission
// and completion. FD/Result/Len are read and written by the kernel;
// WorkFn is opaque to the kernel — it round-trips the value unexamined and
// the event loop alone interprets it, via a cgo.Handle encoding (see
// handle.go) so we never need a real C function pointer.
//
//	struct up_event {
//	    int32_t    fd;
//	    int32_t    result;
//	    uint64_t   buf;
//	    uint64_t   len;
//	    uint64_t   work_fn;
//	    uint64_t   type;
//	};
type UpEvent struct {
	FD     int32
	Result int32
	Buf    uint64
	Len    uint64
	WorkFn uint64
	Type   ActionType
}

// Compile-time size check: 4 + 4 + 8 + 8 + 8 + 8 = 40 bytes, packed.
var _ [40]byte = [unsafe.Sizeof(UpEvent{})]byte{}

// WorkItem is the legacy-variant pairing of an argument and a callback,
// bound to a (fd, event-mask) tuple via Ctl rather than riding inline in
// an UpEvent.
type WorkItem struct {
	Arg    uint64
	WorkFn uint64
}

// BufferDescriptor mirrors a POSIX iovec: a donated or caller-owned chunk
// handed to the kernel for read completions to land in.
type BufferDescriptor struct {
	Base uintptr
	Len  uint64
}

var _ [16]byte = [unsafe.Sizeof(BufferDescriptor{})]byte{}

// DescriptorsAddr returns the wire-level pointer to descs' backing array,
// the value a VEC record's Buf field carries: per §3/§4.5 a VEC record is
// one event whose Buf points to an iovec array and whose Len is the
// iovec count, not one event per donated buffer.
func DescriptorsAddr(descs []BufferDescriptor) uint64 {
	if len(descs) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&descs[0])))
}

// Addr returns the wire-level pointer value for buf's backing array, the
// same encoding the kernel ABI uses for UpEvent.Buf.
func Addr(buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&buf[0])))
}

// BufFromEvent reconstructs the Go byte slice a completion's Buf/Len pair
// describes. Used on the dispatch side to turn the wire-level pointer back
// into something the echo handlers can copy from without unsafe leaking
// past this package.
func BufFromEvent(ev *UpEvent) []byte {
	if ev.Buf == 0 || ev.Len == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ev.Buf))), int(ev.Len))
}
