// Package syscall is the system-call dispatcher (spec.md §4.N): the
// userland entry point, ported from kernel/src/user/syscalls/{engine,
// context}.rs and kernel/src/interrupts/syscalls.rs. A real x86-64
// build reaches Dispatch from a naked `syscall` trampoline (swapgs,
// load the per-CPU kernel stack, marshal {rdi,rsi,rdx,r10,r8,r9} into
// Args, call Dispatch, sysretq) the same shape the teacher's
// exceptions.go vector table calls ExceptionHandler from assembly;
// Talon keeps that glue in cmd/talon and keeps this package free of
// assembly so the handler table and every handler stay host-testable.
package syscall

import (
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/process"
	"github.com/iansmith/talon/internal/sched"
	"github.com/iansmith/talon/internal/thread"
)

// Scheduler is the kernel-wide ready list every thread-affecting
// handler (create, exit, kill, set-priority, blocking suspension
// points) installs into or removes from. cmd/talon's main loop calls
// Scheduler.Schedule to pick the next thread to run.
var Scheduler = sched.New()

// Number is a syscall number, matching syscalls::SyscallNumber's
// repr(usize) taxonomy and spec.md §6.1's family listing.
type Number uint64

const (
	Log Number = iota + 1

	HandleClose
	HandleDuplicate
	HandleType

	MemoryStats

	MemoryObjectCreate
	MemoryObjectSize

	ProcessOpenSelf
	ProcessCreate
	ProcessMMap
	ProcessMUnmap
	ProcessMProtect
	ProcessList

	ThreadOpenSelf
	ThreadCreate
	ThreadExit
	ThreadKill
	ThreadSetPriority
	ThreadErrorInfo
	ThreadContext
	ThreadUpdateContext
	ThreadResume

	PortCreate
	PortOpen
	PortSend
	PortReceive
	PortBlockingReceive
	PortInfo
	PortList

	ListenerCreateProcess
	ListenerCreateThread

	FutexWait
	FutexWake

	TimerCreate
	TimerArm
	TimerCancel
	TimerNow

	IoPortOpen
	IoPortRead
	IoPortWrite

	InitSetup
)

// Args is the fixed six-register argument vector a syscall is
// marshalled into, mirroring SyncContext::arg1..arg6 (itself reading
// rdi, rsi, rdx, r10, r8, r9 off the trap frame).
type Args [6]uintptr

func (a Args) Arg1() uintptr { return a[0] }
func (a Args) Arg2() uintptr { return a[1] }
func (a Args) Arg3() uintptr { return a[2] }
func (a Args) Arg4() uintptr { return a[3] }
func (a Args) Arg5() uintptr { return a[4] }
func (a Args) Arg6() uintptr { return a[5] }

// Context is everything a handler needs: the calling thread (so it can
// reach its owning process's address space and handle table) and the
// decoded register arguments, replacing the original's Context wrapper
// around SyscallContext.
type Context struct {
	Thread *thread.Thread
	Args   Args
}

func (c *Context) owningProcess() (*process.Process, kerr.Code) {
	p, ok := process.Find(c.Thread.Process().ID())
	if !ok {
		return nil, kerr.ObjectNotFound
	}
	return p, kerr.Success
}

// Handler is a syscall implementation. Talon's design is fully
// synchronous (spec.md §9's "Coroutines/async" note): every handler
// either completes or parks the current thread on a wait queue and
// returns at once, leaving cmd/talon to switch to another thread, so unlike engine.rs's
// SyscallHandler there is no separate Future/poll machinery here.
type Handler func(*Context) kerr.Code

type registry struct {
	handlers map[Number]Handler
}

var global = registry{handlers: make(map[Number]Handler)}

// Register installs the handler for syscall number n, matching
// register_syscall_raw. Panics on a duplicate registration, the same
// assert! engine.rs's Handlers::register makes.
func Register(n Number, h Handler) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if _, exists := global.handlers[n]; exists {
		panic("syscall: duplicate handler registration")
	}
	global.handlers[n] = h
}

// Unregister removes a handler, used once to drop InitSetup after the
// init process has been loaded.
func Unregister(n Number) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	delete(global.handlers, n)
}

// Dispatch looks up and runs the handler for n, returning NotSupported
// for an unknown number instead of panicking: userland fully controls
// rax, so an out-of-range or unregistered number is normal input, not
// a kernel bug. The handler lookup is copied out before calling it so
// a handler that itself registers or unregisters a syscall (InitSetup
// does) never reenters while the table is locked.
func Dispatch(n Number, ctx *Context) kerr.Code {
	wasEnabled := critsec.Enter()
	h, ok := global.handlers[n]
	critsec.Leave(wasEnabled)

	if !ok {
		return kerr.NotSupported
	}
	return h(ctx)
}
