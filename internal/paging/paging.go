// Package paging is the per-process address space (spec.md §4.D):
// map/unmap/protect of user pages and a kernel/user address split
// check, ported from kernel/src/memory/paging.rs and
// kernel/src/memory/phys_view.rs. A real x86-64 build walks the CR3
// page table tree through a Mapper the way internal/kvm does for the
// kernel's own half; this package stays agnostic of that tree shape so
// it (and everything built on it) stays host-testable.
package paging

import (
	"github.com/iansmith/talon/internal/bitfield"
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/pmm"
)

const PageSize = pmm.PageSize

// UserSpaceEnd is the highest address the userland half of the address
// space can reach; above it is the kernel's own upper half, mirroring
// the original's canonical-address split (the non-canonical hole is
// irrelevant at this level of abstraction).
const UserSpaceEnd = uintptr(1) << 47

// IsUserspace reports whether addr falls in the lower, user-mappable
// half of the address space.
func IsUserspace(addr uintptr) bool {
	return addr < UserSpaceEnd
}

// PageAlignedDown and PageAlignedUp round an address to the containing
// or next page boundary.
func PageAlignedDown(addr uintptr) uintptr { return addr &^ (PageSize - 1) }
func PageAlignedUp(addr uintptr) uintptr   { return PageAlignedDown(addr+PageSize-1) + 0 }

type entry struct {
	frame pmm.Frame
	flags bitfield.PageFlags
}

// AddressSpace is one process's user-half page table, represented as a
// sparse per-page map rather than a literal 4-level tree: every entry
// still obeys the same page-aligned, userspace-only invariants a real
// walker would enforce.
type AddressSpace struct {
	pages map[uintptr]entry
}

// New returns an empty address space.
func New() *AddressSpace {
	return &AddressSpace{pages: make(map[uintptr]entry)}
}

// Map installs a mapping from vaddr to frame with the given flags.
// vaddr must be page-aligned, in the userspace half, and not already
// mapped.
func (a *AddressSpace) Map(vaddr uintptr, frame pmm.Frame, flags bitfield.PageFlags) kerr.Code {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if code := kerr.CheckPageAligned(vaddr, PageSize); !code.Ok() {
		return code
	}
	if !IsUserspace(vaddr) {
		return kerr.InvalidArgument
	}
	if _, ok := a.pages[vaddr]; ok {
		return kerr.InvalidArgument
	}

	a.pages[vaddr] = entry{frame: frame, flags: flags}
	return kerr.Success
}

// Unmap removes the mapping at vaddr and returns the frame that backed
// it, leaving the frame's lifetime to the caller (normally a
// memobj.Object releasing it).
func (a *AddressSpace) Unmap(vaddr uintptr) (pmm.Frame, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	e, ok := a.pages[vaddr]
	if !ok {
		return 0, kerr.ObjectNotFound
	}
	delete(a.pages, vaddr)
	return e.frame, kerr.Success
}

// Protect changes the access flags of an already-mapped page.
func (a *AddressSpace) Protect(vaddr uintptr, flags bitfield.PageFlags) kerr.Code {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	e, ok := a.pages[vaddr]
	if !ok {
		return kerr.ObjectNotFound
	}
	e.flags = flags
	a.pages[vaddr] = e
	return kerr.Success
}

// GetInfo reports the frame and flags mapped at vaddr, if any.
func (a *AddressSpace) GetInfo(vaddr uintptr) (pmm.Frame, bitfield.PageFlags, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	e, ok := a.pages[PageAlignedDown(vaddr)]
	if !ok {
		return 0, bitfield.PageFlags{}, kerr.ObjectNotFound
	}
	return e.frame, e.flags, kerr.Success
}

// CheckPermissions reports whether every flag set in want is also set
// in actual, matching the original's check_permissions semantics used
// by process.AccessBytes.
func CheckPermissions(actual, want bitfield.PageFlags) kerr.Code {
	if want.Read && !actual.Read {
		return kerr.MemoryAccessDenied
	}
	if want.Write && !actual.Write {
		return kerr.MemoryAccessDenied
	}
	if want.Execute && !actual.Execute {
		return kerr.MemoryAccessDenied
	}
	return kerr.Success
}
