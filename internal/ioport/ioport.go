// Package ioport is the I/O port access capability (spec.md's
// supplemented ambient-device surface), ported from
// kernel/src/user/ioport.rs. A PortRange grants read/write rights over
// a contiguous span of x86 I/O ports; the actual in/out instructions
// are reached through a Backend so this package stays host-testable,
// the same indirection internal/kvm uses for page mapping.
package ioport

import (
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/kerr"
)

// Access is the set of operations a PortRange permits.
type Access uint64

const (
	AccessNone  Access = 0
	AccessRead  Access = 1 << 0
	AccessWrite Access = 1 << 1
)

func (a Access) Has(bit Access) bool { return a&bit != 0 }

// Backend performs the actual port I/O. Production wires it to
// go:linkname'd inb/inw/inl/outb/outw/outl stubs; tests substitute an
// in-memory fake.
type Backend interface {
	Read(port uint16, wordSize uint8) uint32
	Write(port uint16, wordSize uint8, value uint32)
}

var backend Backend

// SetBackend installs the port I/O backend. Called once from cmd/talon
// at boot; tests call it per-case.
func SetBackend(b Backend) { backend = b }

// PortRange is a capability over [start, end) I/O ports with fixed
// access rights.
type PortRange struct {
	start, end uint16
	access     Access
}

// New builds a PortRange; start must be strictly less than end.
func New(start, end uint16, access Access) (*PortRange, kerr.Code) {
	if code := kerr.CheckArg(start < end); !code.Ok() {
		return nil, code
	}
	return &PortRange{start: start, end: end, access: access}, kerr.Success
}

// Kind satisfies handle.Object.
func (r *PortRange) Kind() handle.Kind { return handle.KindIOPort }

// Len reports the number of ports in the range.
func (r *PortRange) Len() uint16 { return r.end - r.start }

// Access reports the range's granted access rights.
func (r *PortRange) Access() Access { return r.access }

func validWordSize(size uint8) bool {
	return size == 1 || size == 2 || size == 4
}

// Read reads a word_size-byte value from port index within the range.
func (r *PortRange) Read(index uint16, wordSize uint8) (uint32, kerr.Code) {
	if index >= r.Len() {
		return 0, kerr.InvalidArgument
	}
	if !validWordSize(wordSize) {
		return 0, kerr.InvalidArgument
	}
	if !r.access.Has(AccessRead) {
		return 0, kerr.MemoryAccessDenied
	}
	return backend.Read(r.start+index, wordSize), kerr.Success
}

// Write writes a word_size-byte value to port index within the range.
func (r *PortRange) Write(index uint16, wordSize uint8, value uint32) kerr.Code {
	if index >= r.Len() {
		return kerr.InvalidArgument
	}
	if !validWordSize(wordSize) {
		return kerr.InvalidArgument
	}
	switch wordSize {
	case 1:
		if value > 0xFF {
			return kerr.InvalidArgument
		}
	case 2:
		if value > 0xFFFF {
			return kerr.InvalidArgument
		}
	}
	if !r.access.Has(AccessWrite) {
		return kerr.MemoryAccessDenied
	}
	backend.Write(r.start+index, wordSize, value)
	return kerr.Success
}
