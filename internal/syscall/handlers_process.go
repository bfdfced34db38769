package syscall

import (
	"github.com/iansmith/talon/internal/futex"
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/memobj"
	"github.com/iansmith/talon/internal/process"
	"github.com/iansmith/talon/internal/sched"
	"github.com/iansmith/talon/internal/thread"
)

// handleProcessOpenSelf backs ProcessOpenSelf(&out), ported from
// syscalls/process.rs's open_self.
func handleProcessOpenSelf(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}
	return writeU64(p, ctx.Args.Arg1(), uint64(p.Handles().Open(p)))
}

// handleProcessCreate backs ProcessCreate(&out).
func handleProcessCreate(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	created := process.Create("")
	return writeU64(p, ctx.Args.Arg1(), uint64(p.Handles().Open(created)))
}

// handleProcessMMap backs ProcessMMap(h, &inout_addr, size, perms,
// mobj_h, offset), ported from syscalls/process.rs's mmap. Talon
// requires a real backing memory object (no anonymous/demand-paged
// mapping, per spec.md §4.M's "there is no demand paging"). A zero
// inout_addr is the "pick any userland region" hint spec.md §4.F
// describes; any other value is used verbatim.
func handleProcessMMap(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	target, code := handle.Resolve[*process.Process](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindProcess)
	if !code.Ok() {
		return code
	}

	addr, code := readU64(p, ctx.Args.Arg2())
	if !code.Ok() {
		return code
	}
	size := uintptr(ctx.Args.Arg3())
	flags, code := permsFromBits(ctx.Args.Arg4())
	if !code.Ok() {
		return code
	}

	mobjHandle := handle.Handle(ctx.Args.Arg5())
	if !mobjHandle.Valid() {
		return kerr.InvalidArgument
	}
	obj, code := handle.Resolve[*memobj.Object](p.Handles(), mobjHandle, handle.KindMemoryObject)
	if !code.Ok() {
		return code
	}

	if addr == 0 {
		found, code := target.FindFreeRegion(size)
		if !code.Ok() {
			return code
		}
		addr = uint64(found)
	}

	offset := uintptr(ctx.Args.Arg6())
	if code := target.Map(uintptr(addr), size, offset, flags, obj); !code.Ok() {
		return code
	}
	return writeU64(p, ctx.Args.Arg2(), addr)
}

// handleProcessMUnmap backs ProcessMUnmap(h, addr, size). Talon unmaps
// the entire mapping that starts at addr; size is validated against it
// rather than supporting a partial-range munmap, since a Mapping here
// is always exactly one memory object's worth (process.go has no VMA
// splitting). Once the mapping is gone, every thread of the target
// process parked on a futex inside the unmapped object range is woken.
func handleProcessMUnmap(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	target, code := handle.Resolve[*process.Process](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindProcess)
	if !code.Ok() {
		return code
	}

	addr := uintptr(ctx.Args.Arg2())
	size := uintptr(ctx.Args.Arg3())

	m, ok := target.FindMapping(addr)
	if !ok {
		return kerr.ObjectNotFound
	}
	if m.Addr != addr || m.Size != size {
		return kerr.InvalidArgument
	}
	obj, start := m.MemoryObject, m.Offset
	if code := target.Unmap(addr); !code.Ok() {
		return code
	}
	futex.WakeObjectRange(obj, start, start+size, func(e sched.Entry) bool {
		t, ok := e.(*thread.Thread)
		return ok && t.Process() != nil && t.Process().ID() == target.ID()
	})
	return kerr.Success
}

// handleProcessMProtect backs ProcessMProtect(h, addr, size, perms).
func handleProcessMProtect(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	target, code := handle.Resolve[*process.Process](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindProcess)
	if !code.Ok() {
		return code
	}

	addr := uintptr(ctx.Args.Arg2())
	size := uintptr(ctx.Args.Arg3())
	flags, code := permsFromBits(ctx.Args.Arg4())
	if !code.Ok() {
		return code
	}
	return target.Protect(addr, size, flags)
}

// handleProcessList backs ProcessList(arr, &inout_count), ported from
// syscalls/process.rs's list.
func handleProcessList(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	countAddr := ctx.Args.Arg2()
	capacity, code := readU64(p, countAddr)
	if !code.Ok() {
		return code
	}

	ids := process.List()
	if code := writeU64(p, countAddr, uint64(len(ids))); !code.Ok() {
		return code
	}

	n := uintptr(len(ids))
	if n > uintptr(capacity) {
		n = uintptr(capacity)
	}
	out := make([]uint64, n)
	copy(out, ids)
	return writeU64Array(p, ctx.Args.Arg1(), out)
}
