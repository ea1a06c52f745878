package uapi

import "runtime/cgo"

// EncodeWorkFn packs a completion callback into the opaque WorkFn slot of
// an UpEvent. The kernel never dereferences this value; it is round-tripped
// verbatim from submission to completion. cgo.Handle gives us a GC-safe
// way to smuggle a Go closure through a uint64-sized field without an
// actual C function pointer.
func EncodeWorkFn(fn func(*UpEvent)) uint64 {
	if fn == nil {
		return 0
	}
	return uint64(cgo.NewHandle(fn))
}

// DecodeWorkFn recovers the closure encoded by EncodeWorkFn and releases
// the handle. Safe to call at most once per encoded value.
func DecodeWorkFn(v uint64) func(*UpEvent) {
	if v == 0 {
		return nil
	}
	h := cgo.Handle(v)
	fn, _ := h.Value().(func(*UpEvent))
	h.Delete()
	return fn
}

// EncodeLegacyFn packs a legacy-variant callback (one that receives the
// WorkItem's Arg directly, rather than an UpEvent) into WorkItem.WorkFn.
func EncodeLegacyFn(fn func(arg uint64)) uint64 {
	if fn == nil {
		return 0
	}
	return uint64(cgo.NewHandle(fn))
}

// DecodeLegacyFn recovers the closure encoded by EncodeLegacyFn and
// releases the handle. Safe to call at most once per encoded value.
func DecodeLegacyFn(v uint64) func(arg uint64) {
	if v == 0 {
		return nil
	}
	h := cgo.Handle(v)
	fn, _ := h.Value().(func(arg uint64))
	h.Delete()
	return fn
}
