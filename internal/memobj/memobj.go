// Package memobj is the kernel's memory object (spec.md §4.E): a
// reference-counted list of physical frames that can be mapped into any
// number of process address spaces, ported from
// kernel/src/user/memory_object.rs. Talon backs every frame through
// internal/pmm instead of the original's arena allocator.
package memobj

import (
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/pmm"
)

const pageSize = pmm.PageSize

// frameView returns a physical frame's bytes through the kernel's direct
// map. Production builds install the real one at boot; tests substitute a
// host-memory stand-in so zeroing and Bytes never touch real physical
// memory.
type frameView func(pmm.Frame) []byte

var zeroer frameView = func(pmm.Frame) []byte { return nil }

// SetFrameView installs the function used to reach a frame's bytes for
// zeroing and for Bytes. Exposed for tests and for cmd/talon's boot
// wiring.
func SetFrameView(v frameView) { zeroer = v }

// Object is a fixed-size, reference-counted span of physical frames.
// Kind returns handle.KindMemoryObject so it satisfies handle.Object.
type Object struct {
	frames []pmm.Frame
	refs   int32
}

// Kind satisfies handle.Object.
func (o *Object) Kind() handle.Kind { return handle.KindMemoryObject }

// New allocates size bytes of fresh, zeroed physical memory. size must be
// a positive, page-aligned value.
func New(size uintptr) (*Object, kerr.Code) {
	if code := kerr.CheckPageAligned(size, pageSize); !code.Ok() {
		return nil, code
	}
	if code := kerr.CheckPositive(size); !code.Ok() {
		return nil, code
	}

	pageCount := size / pageSize
	frames := make([]pmm.Frame, 0, pageCount)

	for i := uintptr(0); i < pageCount; i++ {
		frame, code := pmm.Allocate()
		if !code.Ok() {
			for _, f := range frames {
				pmm.Deallocate(f)
			}
			return nil, kerr.OutOfMemory
		}
		frames = append(frames, frame)
	}

	for _, f := range frames {
		zeroPage(f)
	}

	return &Object{frames: frames, refs: 1}, kerr.Success
}

// FromFrames wraps an existing, already-owned list of frames without
// zeroing them, mirroring Rust's from_frames (used for boot-reserved
// regions handed to userland, e.g. framebuffers).
func FromFrames(frames []pmm.Frame) *Object {
	cp := make([]pmm.Frame, len(frames))
	copy(cp, frames)
	return &Object{frames: cp, refs: 1}
}

func zeroPage(f pmm.Frame) {
	data := zeroer(f)
	if data == nil {
		return
	}
	for i := range data {
		data[i] = 0
	}
}

// Size returns the object's size in bytes.
func (o *Object) Size() uintptr {
	return uintptr(len(o.frames)) * pageSize
}

// Frame returns the physical frame backing the page at offset, which
// must be page-aligned and within the object.
func (o *Object) Frame(offset uintptr) (pmm.Frame, kerr.Code) {
	if offset%pageSize != 0 {
		return 0, kerr.InvalidArgument
	}
	if offset >= o.Size() {
		return 0, kerr.InvalidArgument
	}
	return o.frames[offset/pageSize], kerr.Success
}

// Frames returns every physical frame backing the object, in order.
func (o *Object) Frames() []pmm.Frame {
	return o.frames
}

// Bytes returns the live backing storage for physical frame f through the
// installed frame view, the same indirection zeroPage uses. Callers that
// need to read or write a mapped page's contents (syscall argument
// marshalling) go through this rather than touching pmm.Frame directly.
func Bytes(f pmm.Frame) []byte {
	return zeroer(f)
}

// Retain increments the reference count. Callers that hand out a new
// owning reference to an object (e.g. process.Map for a new mapping)
// must call this first.
func (o *Object) Retain() {
	o.refs++
}

// Release decrements the reference count and frees every backing frame
// once it drops to zero.
func (o *Object) Release() {
	o.refs--
	if o.refs > 0 {
		return
	}
	for _, f := range o.frames {
		pmm.Deallocate(f)
	}
	o.frames = nil
}
