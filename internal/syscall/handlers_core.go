package syscall

import (
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/klog"
	"github.com/iansmith/talon/internal/memobj"
	"github.com/iansmith/talon/internal/pmm"
)

// handleLog backs Log(level, ptr, len), ported from syscalls/logging.rs.
// Talon's five klog levels line up with log::Level's ordering, so the
// wire value converts straight to a klog.Level after a range check, and
// a switch then picks the klog call for that level.
func handleLog(ctx *Context) kerr.Code {
	level := ctx.Args.Arg1()
	ptr := ctx.Args.Arg2()
	length := ctx.Args.Arg3()

	if level > uintptr(klog.LevelError) {
		return kerr.InvalidArgument
	}

	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}
	msg, code := readString(p, ptr, length)
	if !code.Ok() {
		return code
	}

	pid, tid := ctx.Thread.Process().ID(), ctx.Thread.ID()
	switch klog.Level(level) {
	case klog.LevelTrace:
		klog.Trace(msg, "pid", pid, "tid", tid)
	case klog.LevelDebug:
		klog.Debug(msg, "pid", pid, "tid", tid)
	case klog.LevelInfo:
		klog.Info(msg, "pid", pid, "tid", tid)
	case klog.LevelWarn:
		klog.Warn(msg, "pid", pid, "tid", tid)
	case klog.LevelError:
		klog.Error(msg, "pid", pid, "tid", tid)
	}
	return kerr.Success
}

// handleClose backs HandleClose(h), ported from syscalls/handle.rs's
// close.
func handleClose(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}
	return p.Handles().Close(handle.Handle(ctx.Args.Arg1()))
}

// handleDuplicate backs HandleDuplicate(h, &out).
func handleDuplicate(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	dup, code := p.Handles().Duplicate(handle.Handle(ctx.Args.Arg1()))
	if !code.Ok() {
		return code
	}
	return writeU64(p, ctx.Args.Arg2(), uint64(dup))
}

// handleType backs HandleType(h, &out).
func handleType(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	kind, code := p.Handles().Type(handle.Handle(ctx.Args.Arg1()))
	if !code.Ok() {
		return code
	}
	return writeU64(p, ctx.Args.Arg2(), uint64(kind))
}

// handleMemoryStats backs MemoryStats(&out), ported from
// syscalls/memory.rs's stats.
func handleMemoryStats(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	stats := pmm.ReadStats()
	out := ctx.Args.Arg1()
	if code := writeU64(p, out, uint64(stats.TotalFrames)); !code.Ok() {
		return code
	}
	return writeU64(p, out+8, uint64(stats.FreeFrames))
}

// handleMemoryObjectCreate backs MemoryObjectCreate(size, &out), ported
// from syscalls/memory_object.rs's create.
func handleMemoryObjectCreate(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	obj, code := memobj.New(uintptr(ctx.Args.Arg1()))
	if !code.Ok() {
		return code
	}

	h := p.Handles().Open(obj)
	return writeU64(p, ctx.Args.Arg2(), uint64(h))
}

// handleMemoryObjectSize backs MemoryObjectSize(h, &out).
func handleMemoryObjectSize(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	obj, code := handle.Resolve[*memobj.Object](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindMemoryObject)
	if !code.Ok() {
		return code
	}
	return writeU64(p, ctx.Args.Arg2(), uint64(obj.Size()))
}
