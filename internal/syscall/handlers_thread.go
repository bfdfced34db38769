package syscall

import (
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/listener"
	"github.com/iansmith/talon/internal/process"
	"github.com/iansmith/talon/internal/sched"
	"github.com/iansmith/talon/internal/thread"
)

// handleThreadOpenSelf backs ThreadOpenSelf(&out), ported from
// syscalls/thread.rs's open_self.
func handleThreadOpenSelf(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}
	return writeU64(p, ctx.Args.Arg1(), uint64(p.Handles().Open(ctx.Thread)))
}

// handleThreadCreate backs ThreadCreate(process_h, priority, entry,
// stack_top, arg, &out), ported from syscalls/thread.rs's create.
// spec.md §6.1 additionally lists a tls parameter, which does not fit
// alongside these six in the {rdi,rsi,rdx,r10,r8,r9} register budget;
// Talon resolves that by leaving a new thread's TLS base at zero (a
// caller sets it afterwards, once a ThreadSetTLS entry point exists)
// rather than dropping the entry argument, since every userland thread
// needs that to bootstrap at all.
func handleThreadCreate(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	target, code := handle.Resolve[*process.Process](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindProcess)
	if !code.Ok() {
		return code
	}

	priority := sched.Priority(ctx.Args.Arg2())
	if priority < sched.PriorityIdle || priority > sched.PriorityTimeCritical {
		return kerr.InvalidArgument
	}

	entry := uintptr(ctx.Args.Arg3())
	stackTop := uintptr(ctx.Args.Arg4())
	arg := uint64(ctx.Args.Arg5())

	t := thread.Create(target, entry, stackTop)
	t.SetPriority(priority)
	t.Context().RDI = arg
	Scheduler.Add(t)
	listener.Notify(t.ID(), listener.EventCreated)

	h := p.Handles().Open(t)
	return writeU64(p, ctx.Args.Arg6(), uint64(h))
}

// handleThreadExit backs ThreadExit(), ported from thread_terminate.
func handleThreadExit(ctx *Context) kerr.Code {
	terminate(ctx.Thread)
	return kerr.Success
}

// handleThreadKill backs ThreadKill(h).
func handleThreadKill(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	target, code := handle.Resolve[*thread.Thread](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindThread)
	if !code.Ok() {
		return code
	}
	terminate(target)
	return kerr.Success
}

// handleThreadSetPriority backs ThreadSetPriority(h, p). The target
// must be removed from the scheduler's ready list before its band
// changes and re-added after, matching Scheduler::add/remove's
// documented requirement; a thread that is not currently Ready (running,
// blocked or faulted) is not on the ready list and skips that dance.
func handleThreadSetPriority(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	target, code := handle.Resolve[*thread.Thread](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindThread)
	if !code.Ok() {
		return code
	}

	priority := sched.Priority(ctx.Args.Arg2())
	if priority < sched.PriorityIdle || priority > sched.PriorityTimeCritical {
		return kerr.InvalidArgument
	}

	wasReady := target.State().IsReady()
	if wasReady {
		Scheduler.Remove(target)
	}
	target.SetPriority(priority)
	if wasReady {
		Scheduler.Add(target)
	}
	return kerr.Success
}

// terminate marks t Dead, pulls it out of the ready list and the
// thread registry, mirroring user::thread::thread_terminate. Both
// lifecycle events a supervisor can observe fire here: Terminated when
// the thread stops running, Deleted once its id is actually reclaimed
// (the original's listener/thread.rs fires the two separately for the
// same reason — a listener may still want to read the final state
// between the two).
func terminate(t *thread.Thread) {
	if t.State().IsReady() {
		Scheduler.Remove(t)
	}
	t.SetState(thread.StateDead)
	listener.Notify(t.ID(), listener.EventTerminated)
	thread.Remove(t.ID())
	listener.Notify(t.ID(), listener.EventDeleted)
}

// resolveTargetThread resolves arg1 of ctx as a Thread handle, the
// common first step of every supervisor op (spec.md §4.M: "a supervisor
// ... holds a handle to it").
func resolveTargetThread(ctx *Context) (*process.Process, *thread.Thread, kerr.Code) {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return nil, nil, code
	}
	target, code := handle.Resolve[*thread.Thread](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindThread)
	if !code.Ok() {
		return nil, nil, code
	}
	return p, target, kerr.Success
}

// exceptionRecordWords is the fixed wire layout ThreadErrorInfo writes:
// {kind, addr, err_code}, matching §6.3's "fixed-layout records" style.
const exceptionRecordWords = 3

// handleThreadErrorInfo backs ThreadErrorInfo(h, &out), ported from
// syscalls/thread.rs's error_info. Returns InvalidArgument if the
// target thread never faulted (is not in StateError) — reading a cause
// that does not exist is a caller bug, not a recoverable condition.
func handleThreadErrorInfo(ctx *Context) kerr.Code {
	p, target, code := resolveTargetThread(ctx)
	if !code.Ok() {
		return code
	}
	if target.State() != thread.StateError {
		return kerr.InvalidArgument
	}

	exc := target.ErrorInfo()
	out := ctx.Args.Arg2()
	if code := writeU64(p, out, uint64(exc.Kind)); !code.Ok() {
		return code
	}
	if code := writeU64(p, out+8, uint64(exc.Addr)); !code.Ok() {
		return code
	}
	return writeU64(p, out+16, exc.ErrCode)
}

// handleThreadContext backs ThreadContext(h, &out): the full saved
// register file, in Register's wire order, ported from
// syscalls/thread.rs's context.
func handleThreadContext(ctx *Context) kerr.Code {
	p, target, code := resolveTargetThread(ctx)
	if !code.Ok() {
		return code
	}

	words := target.Context().Words()
	return writeU64Array(p, ctx.Args.Arg2(), words[:])
}

// threadWrite is one (Register, value) pair, matching the on-the-wire
// shape ThreadUpdateContext's writes array carries.
type threadWrite struct {
	reg   thread.Register
	value uint64
}

// readThreadWrites reads n (Register, value) pairs starting at addr,
// each pair 16 bytes (two u64 words), mirroring update_context's
// &[(Register, u64)] slice argument.
func readThreadWrites(p *process.Process, addr uintptr, n uintptr) ([]threadWrite, kerr.Code) {
	writes := make([]threadWrite, n)
	for i := range writes {
		base := addr + uintptr(i)*16
		reg, code := readU64(p, base)
		if !code.Ok() {
			return nil, code
		}
		value, code := readU64(p, base+8)
		if !code.Ok() {
			return nil, code
		}
		writes[i] = threadWrite{reg: thread.Register(reg), value: value}
	}
	return writes, kerr.Success
}

// handleThreadUpdateContext backs ThreadUpdateContext(h, writes, n),
// ported from syscalls/thread.rs's update_context. Only valid once the
// target has actually faulted (§4.M: a supervisor modifies the saved
// context of a thread it is about to resume); applying any write fails
// the whole call on the first out-of-range Register, matching
// PortSend's "fail before mutating anything" atomicity style rather
// than partially applying a malformed write list.
func handleThreadUpdateContext(ctx *Context) kerr.Code {
	p, target, code := resolveTargetThread(ctx)
	if !code.Ok() {
		return code
	}
	if target.State() != thread.StateError {
		return kerr.InvalidArgument
	}

	writes, code := readThreadWrites(p, ctx.Args.Arg2(), ctx.Args.Arg3())
	if !code.Ok() {
		return code
	}
	for _, w := range writes {
		if !w.reg.Valid() {
			return kerr.InvalidArgument
		}
	}
	for _, w := range writes {
		target.Context().Set(w.reg, w.value)
	}
	return kerr.Success
}

// handleThreadResume backs ThreadResume(h), ported from
// syscalls/thread.rs's resume: puts a faulted thread back on the ready
// queue so it continues past the faulting instruction (spec.md §4.M's
// S5 scenario).
func handleThreadResume(ctx *Context) kerr.Code {
	_, target, code := resolveTargetThread(ctx)
	if !code.Ok() {
		return code
	}
	if target.State() != thread.StateError {
		return kerr.InvalidArgument
	}

	target.SetState(thread.StateReady)
	Scheduler.Add(target)
	listener.Notify(target.ID(), listener.EventResumed)
	return kerr.Success
}
