package main

import (
	_ "embed"
	"unsafe"

	"github.com/iansmith/talon/internal/sched"
	"github.com/iansmith/talon/internal/syscall"
	"github.com/iansmith/talon/internal/thread"
)

// initBinary is the init process's flattened image. Production builds
// replace this go:embed directive with the actual build artifact path
// once the init program exists; until then it is empty and
// handleInitSetup logs and declines instead of faulting.
//
//go:embed init.bin
var initBinary []byte

// setMSRSyscall programs STAR/LSTAR/SFMASK so the `syscall` instruction
// vectors to syscallTrampoline, the x86-64 equivalent of the teacher's
// set_vbar_el1 call pointing VBAR_EL1 at the AArch64 exception vector
// table.
//
//go:linkname setMSRSyscall set_msr_syscall
//go:nosplit
func setMSRSyscall(trampoline uintptr)

// syscallTrampoline is defined in assembly: it swaps to the kernel GP
// registers via swapgs, switches onto the current thread's kernel
// stack, and calls dispatchSyscall with the six argument registers and
// the syscall number, then sysretq's back with the result in rax.
//
//go:linkname syscallTrampoline syscall_trampoline
func syscallTrampoline()

func initializeSyscallEntry() {
	setMSRSyscall(uintptr(unsafe.Pointer(&syscallTrampoline)))
}

// currentThread is the thread whose context syscallTrampoline most
// recently saved; dispatchSyscall and resumeThread both need it without
// threading it through every call.
var currentThread *thread.Thread

// dispatchSyscall is called from syscallTrampoline once it has saved
// the caller's registers into currentThread.Context() and decoded the
// six argument registers. A handler that blocks (PortBlockingReceive,
// FutexWait) leaves currentThread in StateBlocked and off the ready
// list; sysretq-ing a result back to userland for a thread that is no
// longer runnable would resume it with a stale rax and no pending
// wakeup, so dispatchSyscall never returns in that case — it falls
// straight into runSchedulerLoop and lets some other Ready thread run
// instead. Only when the thread completed synchronously does this
// function return, handing syscallTrampoline the value to load into
// rax before its own sysretq.
//
//go:nosplit
func dispatchSyscall(number uint64, a1, a2, a3, a4, a5, a6 uintptr) uint64 {
	ctx := &syscall.Context{
		Thread: currentThread,
		Args:   syscall.Args{a1, a2, a3, a4, a5, a6},
	}
	code := syscall.Dispatch(syscall.Number(number), ctx)

	if currentThread.State() == thread.StateBlocked {
		runSchedulerLoop()
	}
	return uint64(code)
}

// resumeThread loads e's saved context and returns to userland via
// sysretq (or iretq for a ring-0 caller, per spec.md §4.N's note that
// init's bootstrap thread runs the same path). A Blocked thread is
// never handed to this function: runSchedulerLoop only calls it with
// whatever Scheduler.Schedule() returned, and blocked threads are never
// on the ready list. loadContextAndReturn does not return to its
// caller — it leaves Go's call stack behind entirely and re-enters
// userland (or ring-0 init code) at the saved RIP.
//
//go:nosplit
func resumeThread(e sched.Entry) {
	t, ok := e.(*thread.Thread)
	if !ok {
		return
	}
	currentThread = t
	t.SetState(thread.StateRunning)
	loadContextAndReturn(t.Context())
}

//go:linkname loadContextAndReturn load_context_and_return
//go:nosplit
func loadContextAndReturn(ctx *thread.Context)
