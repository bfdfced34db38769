package syscall

import (
	"github.com/iansmith/talon/internal/futex"
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/ipc"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/timer"
)

// handleFutexWait backs FutexWait(uaddr, expected), ported from
// syscalls/futex.rs's wait. The value at uaddr is re-checked against
// expected after resolving the address, closing the same race
// futex::wait guards against: if userland changed the word between
// deciding to wait and making the syscall, the wait must not happen.
func handleFutexWait(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	uaddr := ctx.Args.Arg1()
	expected := uint32(ctx.Args.Arg2())

	actual, code := readU32(p, uaddr)
	if !code.Ok() {
		return code
	}
	if actual != expected {
		return kerr.ObjectNotReady
	}

	obj, offset, code := p.ObjectOffset(uaddr)
	if !code.Ok() {
		return code
	}

	block(ctx.Thread, futex.WaitQueue(obj, offset))
	return kerr.Success
}

// handleFutexWake backs FutexWake(uaddr, &inout_count), ported from
// syscalls/futex.rs's wake. inout_count carries the maximum number of
// waiters to wake in and the number actually woken out.
func handleFutexWake(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	uaddr := ctx.Args.Arg1()
	countAddr := ctx.Args.Arg2()

	maxCount, code := readU64(p, countAddr)
	if !code.Ok() {
		return code
	}

	obj, offset, code := p.ObjectOffset(uaddr)
	if !code.Ok() {
		return code
	}

	woken := futex.Wake(obj, offset, int(maxCount))
	return writeU64(p, countAddr, uint64(woken))
}

// handleTimerCreate backs TimerCreate(port_h, event_id, &out), ported
// from syscalls/timer.rs's create.
func handleTimerCreate(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	port, code := handle.Resolve[*ipc.Port](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindPort)
	if !code.Ok() {
		return code
	}

	eventID := uint64(ctx.Args.Arg2())
	t := timer.Create(port, eventID)

	return writeU64(p, ctx.Args.Arg3(), uint64(p.Handles().Open(t)))
}

// handleTimerArm backs TimerArm(h, deadline_ticks).
func handleTimerArm(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	t, code := handle.Resolve[*timer.Timer](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindTimer)
	if !code.Ok() {
		return code
	}

	t.Arm(uint64(ctx.Args.Arg2()))
	return kerr.Success
}

// handleTimerCancel backs TimerCancel(h).
func handleTimerCancel(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	t, code := handle.Resolve[*timer.Timer](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindTimer)
	if !code.Ok() {
		return code
	}

	t.Cancel()
	return kerr.Success
}

// handleTimerNow backs TimerNow(&out), reading the tick count the last
// Tick call observed.
func handleTimerNow(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}
	return writeU64(p, ctx.Args.Arg1(), timer.Now())
}
