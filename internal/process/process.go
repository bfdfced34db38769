// Package process is the process and mapping table (spec.md §4.F),
// ported from kernel/src/user/process/{process,processes,mod}.rs and
// kernel/src/user/mapping.rs. A Process owns one address space, one
// handle table, and the set of memory-object mappings installed in it;
// the package-level registry mirrors the original's PROCESSES global
// plus its IdGen-backed id allocation.
package process

import (
	"github.com/iansmith/talon/internal/bitfield"
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/memobj"
	"github.com/iansmith/talon/internal/paging"
)

// Mapping records one memory object mapped into a process's address
// space, so it can be located and unwound by address later.
type Mapping struct {
	Addr         uintptr
	Size         uintptr
	Offset       uintptr
	MemoryObject *memobj.Object
}

// Process is a user-visible kernel process: an address space, a handle
// table, and the mappings currently installed.
type Process struct {
	id      uint64
	name    string
	space   *paging.AddressSpace
	handles *handle.Table
	mapping map[uintptr]*Mapping
}

// Kind satisfies handle.Object so a Process can be held by another
// process's handle table.
func (p *Process) Kind() handle.Kind { return handle.KindProcess }

func (p *Process) ID() uint64                  { return p.id }
func (p *Process) Name() string                { return p.name }
func (p *Process) AddressSpace() *paging.AddressSpace { return p.space }
func (p *Process) Handles() *handle.Table      { return p.handles }

type registry struct {
	nextID    uint64
	processes map[uint64]*Process
}

var global = registry{nextID: 1, processes: make(map[uint64]*Process)}

// Create allocates a new, empty process with the given name (names
// need not be unique, unlike ports).
func Create(name string) *Process {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	id := global.nextID
	global.nextID++

	p := &Process{
		id:      id,
		name:    name,
		space:   paging.New(),
		handles: handle.NewTable(),
		mapping: make(map[uintptr]*Mapping),
	}
	global.processes[id] = p
	return p
}

// Find looks a process up by id.
func Find(id uint64) (*Process, bool) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	p, ok := global.processes[id]
	return p, ok
}

// Destroy removes a process from the registry. It does not tear down
// mappings or handles; callers must do that first via Unmap/handle
// Close so partially-freed state is never observed concurrently.
func Destroy(id uint64) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	delete(global.processes, id)
}

// List returns every live process id.
func List() []uint64 {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	ids := make([]uint64, 0, len(global.processes))
	for id := range global.processes {
		ids = append(ids, id)
	}
	return ids
}

// mmapFloor is the lowest address FindFreeRegion considers, leaving
// the space below it for whatever a loader mapped at a fixed address
// (init's initBaseAddress among them) so a hint-less mmap never lands
// on top of it.
const mmapFloor = uintptr(0x1_0000_0000)

// FindFreeRegion returns the lowest address at or above mmapFloor where
// size bytes fit without overlapping any mapping already installed in
// p, backing ProcessMMap's hint_vaddr == 0 case ("pick any userland
// region"), mirroring mapping.rs's find_free_region linear scan.
func (p *Process) FindFreeRegion(size uintptr) (uintptr, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	candidate := mmapFloor
	for {
		if candidate+size > paging.UserSpaceEnd || candidate+size < candidate {
			return 0, kerr.OutOfMemory
		}
		m, overlap := p.overlapping(candidate, size)
		if !overlap {
			return candidate, kerr.Success
		}
		candidate = m.Addr + m.Size
	}
}

// overlapping returns an existing mapping that intersects [addr,
// addr+size), if any.
func (p *Process) overlapping(addr, size uintptr) (*Mapping, bool) {
	for _, m := range p.mapping {
		if addr < m.Addr+m.Size && m.Addr < addr+size {
			return m, true
		}
	}
	return nil, false
}

// Map installs memory object obj (or a sub-range of it) at addr in p's
// address space with the given flags, mirroring Mapping::new's
// alignment and bounds invariants.
func (p *Process) Map(addr, size, offset uintptr, flags bitfield.PageFlags, obj *memobj.Object) kerr.Code {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if !paging.IsUserspace(addr) {
		return kerr.InvalidArgument
	}
	if code := kerr.CheckPageAligned(addr, paging.PageSize); !code.Ok() {
		return code
	}
	if code := kerr.CheckPageAligned(size, paging.PageSize); !code.Ok() {
		return code
	}
	if code := kerr.CheckPositive(size); !code.Ok() {
		return code
	}
	if code := kerr.CheckPageAligned(offset, paging.PageSize); !code.Ok() {
		return code
	}
	if offset+size > obj.Size() {
		return kerr.InvalidArgument
	}
	if _, overlap := p.mapping[addr]; overlap {
		return kerr.InvalidArgument
	}

	mapped := uintptr(0)
	for mapped < size {
		frame, code := obj.Frame(offset + mapped)
		if !code.Ok() {
			p.unwindMap(addr, mapped)
			return code
		}
		if code := p.space.Map(addr+mapped, frame, flags); !code.Ok() {
			p.unwindMap(addr, mapped)
			return code
		}
		mapped += paging.PageSize
	}

	obj.Retain()
	p.mapping[addr] = &Mapping{Addr: addr, Size: size, Offset: offset, MemoryObject: obj}
	return kerr.Success
}

func (p *Process) unwindMap(addr, mapped uintptr) {
	for done := uintptr(0); done < mapped; done += paging.PageSize {
		p.space.Unmap(addr + done)
	}
}

// Unmap tears down a previously installed mapping at addr.
func (p *Process) Unmap(addr uintptr) kerr.Code {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	m, ok := p.mapping[addr]
	if !ok {
		return kerr.ObjectNotFound
	}

	for done := uintptr(0); done < m.Size; done += paging.PageSize {
		p.space.Unmap(addr + done)
	}

	m.MemoryObject.Release()
	delete(p.mapping, addr)
	return kerr.Success
}

// Protect changes the permissions of every page in [addr, addr+size)
// within the single mapping that owns it, mirroring Process::mprotect.
func (p *Process) Protect(addr, size uintptr, flags bitfield.PageFlags) kerr.Code {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if code := kerr.CheckPageAligned(addr, paging.PageSize); !code.Ok() {
		return code
	}
	if code := kerr.CheckPageAligned(size, paging.PageSize); !code.Ok() {
		return code
	}

	m, ok := p.findMappingLocked(addr)
	if !ok {
		return kerr.ObjectNotFound
	}
	if addr+size > m.Addr+m.Size {
		return kerr.InvalidArgument
	}

	for done := uintptr(0); done < size; done += paging.PageSize {
		if code := p.space.Protect(addr+done, flags); !code.Ok() {
			return code
		}
	}
	return kerr.Success
}

// AccessBytes validates that [addr, addr+size) lies within a single
// mapping with at least the requested permissions and returns the live
// backing bytes, addressed through that mapping's memory object the way
// vm_access_typed resolves a user pointer in the original kernel. The
// range must not cross a page boundary; syscall arguments this services
// are always fixed-size words or handles, never unaligned spans.
func (p *Process) AccessBytes(addr, size uintptr, want bitfield.PageFlags) ([]byte, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if size == 0 {
		return nil, kerr.InvalidArgument
	}

	m, ok := p.findMappingLocked(addr)
	if !ok {
		return nil, kerr.MemoryAccessDenied
	}
	if addr+size > m.Addr+m.Size {
		return nil, kerr.MemoryAccessDenied
	}

	pageBase := paging.PageAlignedDown(addr)
	if pageBase != paging.PageAlignedDown(addr+size-1) {
		return nil, kerr.MemoryAccessDenied
	}

	_, flags, code := p.space.GetInfo(pageBase)
	if !code.Ok() {
		return nil, kerr.MemoryAccessDenied
	}
	if code := paging.CheckPermissions(flags, want); !code.Ok() {
		return nil, code
	}

	offsetInMapping := addr - m.Addr
	frame, code := m.MemoryObject.Frame(m.Offset + paging.PageAlignedDown(offsetInMapping))
	if !code.Ok() {
		return nil, code
	}

	inPage := addr - pageBase
	data := memobj.Bytes(frame)
	if data == nil || inPage+size > uintptr(len(data)) {
		return nil, kerr.MemoryAccessDenied
	}
	return data[inPage : inPage+size], kerr.Success
}

func (p *Process) findMappingLocked(addr uintptr) (*Mapping, bool) {
	base := paging.PageAlignedDown(addr)
	for a, m := range p.mapping {
		if base >= a && base < a+m.Size {
			return m, true
		}
	}
	return nil, false
}

// ObjectOffset resolves a userland address to the memory object backing
// it and the byte offset within that object, the pair futex operations
// key their wait queues on in place of the raw virtual address (which
// is meaningless once two processes map the same object at different
// addresses).
func (p *Process) ObjectOffset(addr uintptr) (*memobj.Object, uintptr, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	m, ok := p.findMappingLocked(addr)
	if !ok {
		return nil, 0, kerr.MemoryAccessDenied
	}
	if addr < m.Addr || addr >= m.Addr+m.Size {
		return nil, 0, kerr.MemoryAccessDenied
	}
	return m.MemoryObject, m.Offset + (addr - m.Addr), kerr.Success
}

// FindMapping locates the mapping that owns addr, if any.
func (p *Process) FindMapping(addr uintptr) (*Mapping, bool) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	base := paging.PageAlignedDown(addr)
	for a, m := range p.mapping {
		if base >= a && base < a+m.Size {
			return m, true
		}
	}
	return nil, false
}
