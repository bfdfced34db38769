// Package handle is the per-process handle table (spec.md §4.G): the
// only way userland ever refers to a kernel object, ported from
// kernel/src/user/handle.rs. Handle is a bare capability number; this
// package never inspects what an Object actually is beyond its Kind,
// so it can back processes, threads, memory objects, ports, timers,
// listeners and I/O port ranges without importing any of those
// packages (which would create an import cycle, since process.Process
// itself owns a handle.Table).
package handle

import (
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/kerr"
)

// Kind identifies the concrete kernel object type a Handle resolves to.
type Kind uint32

const (
	KindMemoryObject Kind = iota + 1
	KindProcess
	KindThread
	KindPort
	KindTimer
	KindListener
	KindIOPort
)

// Object is anything a Handle can refer to. Concrete packages (memobj,
// process, thread, ipc, timer, listener, ioport) implement it by adding
// a Kind() method to their exported object type.
type Object interface {
	Kind() Kind
}

// Handle is a per-process capability number. The zero value is invalid,
// matching the original's "0 means invalid" convention.
type Handle uint64

// Invalid is the zero handle.
const Invalid Handle = 0

// Valid reports whether h is anything but the invalid handle.
func (h Handle) Valid() bool { return h != Invalid }

// Table is one process's handle table.
type Table struct {
	nextID  uint64
	entries map[Handle]Object
}

// NewTable returns an empty handle table.
func NewTable() *Table {
	return &Table{nextID: 1, entries: make(map[Handle]Object)}
}

// Open installs obj under a freshly generated handle and returns it.
func (t *Table) Open(obj Object) Handle {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	h := Handle(t.nextID)
	t.nextID++
	t.entries[h] = obj
	return h
}

// Type reports the Kind of the object behind h.
func (t *Table) Type(h Handle) (Kind, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	obj, ok := t.entries[h]
	if !ok {
		return 0, kerr.ObjectNotFound
	}
	return obj.Kind(), kerr.Success
}

// Get resolves h and reports whether it holds an object of kind want,
// returning the bare Object for the caller to type-assert. Production
// call sites use the generic Resolve helper below instead.
func (t *Table) Get(h Handle, want Kind) (Object, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	obj, ok := t.entries[h]
	if !ok {
		return nil, kerr.ObjectNotFound
	}
	if obj.Kind() != want {
		return nil, kerr.InvalidArgument
	}
	return obj, kerr.Success
}

// GetAny resolves h regardless of its Kind, for call sites (port
// message transfer) that move a handle between tables without caring
// what it points to.
func (t *Table) GetAny(h Handle) (Object, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	obj, ok := t.entries[h]
	if !ok {
		return nil, kerr.ObjectNotFound
	}
	return obj, kerr.Success
}

// Close removes a handle, dropping the table's reference to its object.
func (t *Table) Close(h Handle) kerr.Code {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if _, ok := t.entries[h]; !ok {
		return kerr.ObjectNotFound
	}
	delete(t.entries, h)
	return kerr.Success
}

// Duplicate installs a second handle pointing at the same object as h.
func (t *Table) Duplicate(h Handle) (Handle, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	obj, ok := t.entries[h]
	if !ok {
		return Invalid, kerr.ObjectNotFound
	}

	nh := Handle(t.nextID)
	t.nextID++
	t.entries[nh] = obj
	return nh, kerr.Success
}

// Resolve resolves h to a concrete object type T, checking its Kind
// first so a handle of the wrong type is rejected with InvalidArgument
// rather than an unchecked type assertion panicking.
func Resolve[T Object](t *Table, h Handle, want Kind) (T, kerr.Code) {
	var zero T
	obj, code := t.Get(h, want)
	if !code.Ok() {
		return zero, code
	}
	v, ok := obj.(T)
	if !ok {
		return zero, kerr.InvalidArgument
	}
	return v, kerr.Success
}
