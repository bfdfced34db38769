package syscall

import (
	"github.com/iansmith/talon/internal/bitfield"
	"github.com/iansmith/talon/internal/futex"
	"github.com/iansmith/talon/internal/ipc"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/klog"
	"github.com/iansmith/talon/internal/memobj"
	"github.com/iansmith/talon/internal/paging"
	"github.com/iansmith/talon/internal/process"
	"github.com/iansmith/talon/internal/sched"
	"github.com/iansmith/talon/internal/thread"
)

// initBaseAddress is the fixed virtual address the init binary is
// loaded at, matching syscalls/init.rs's BASE_ADDRESS.
const initBaseAddress = uintptr(0x200000)

// initBinary holds the init process's flattened image, installed by
// cmd/talon (typically via go:embed) before InitSetup ever runs. It is
// a single page-aligned blob laid out headers-then-.text, the same
// shape load()'s include_bytes_aligned call produces; the entry point
// is the first instruction of .text, one page past the start.
var initBinary []byte

// SetInitBinary installs the bytes InitSetup loads into the first
// process. Must be called before Dispatch ever sees InitSetup.
func SetInitBinary(b []byte) { initBinary = b }

// Init registers every syscall handler this package implements,
// mirroring syscalls::init's registration sweep. cmd/talon calls this
// once at boot before enabling interrupts.
func Init() {
	ipc.SetWakeHook(wakeEntry)
	futex.SetWakeHook(wakeEntry)

	Register(Log, handleLog)

	Register(HandleClose, handleClose)
	Register(HandleDuplicate, handleDuplicate)
	Register(HandleType, handleType)

	Register(MemoryStats, handleMemoryStats)

	Register(MemoryObjectCreate, handleMemoryObjectCreate)
	Register(MemoryObjectSize, handleMemoryObjectSize)

	Register(ProcessOpenSelf, handleProcessOpenSelf)
	Register(ProcessCreate, handleProcessCreate)
	Register(ProcessMMap, handleProcessMMap)
	Register(ProcessMUnmap, handleProcessMUnmap)
	Register(ProcessMProtect, handleProcessMProtect)
	Register(ProcessList, handleProcessList)

	Register(ThreadOpenSelf, handleThreadOpenSelf)
	Register(ThreadCreate, handleThreadCreate)
	Register(ThreadExit, handleThreadExit)
	Register(ThreadKill, handleThreadKill)
	Register(ThreadSetPriority, handleThreadSetPriority)
	Register(ThreadErrorInfo, handleThreadErrorInfo)
	Register(ThreadContext, handleThreadContext)
	Register(ThreadUpdateContext, handleThreadUpdateContext)
	Register(ThreadResume, handleThreadResume)

	Register(PortCreate, handlePortCreate)
	Register(PortOpen, handlePortOpen)
	Register(PortSend, handlePortSend)
	Register(PortReceive, handlePortReceive)
	Register(PortBlockingReceive, handlePortBlockingReceive)
	Register(PortInfo, handlePortInfo)
	Register(PortList, handlePortList)

	Register(ListenerCreateProcess, handleListenerCreateProcess)
	Register(ListenerCreateThread, handleListenerCreateThread)

	Register(FutexWait, handleFutexWait)
	Register(FutexWake, handleFutexWake)

	Register(TimerCreate, handleTimerCreate)
	Register(TimerArm, handleTimerArm)
	Register(TimerCancel, handleTimerCancel)
	Register(TimerNow, handleTimerNow)

	Register(IoPortOpen, handleIoPortOpen)
	Register(IoPortRead, handleIoPortRead)
	Register(IoPortWrite, handleIoPortWrite)

	Register(InitSetup, handleInitSetup)
}

// handleInitSetup backs InitSetup(), ported from syscalls/init.rs's
// setup. It unregisters itself, loads the init binary into a fresh
// process at initBaseAddress, creates its first thread at the start of
// the .text section (one page past the headers), and adds that thread
// to the scheduler. Every argument register is unused, matching the
// original's six ignored parameters.
func handleInitSetup(ctx *Context) kerr.Code {
	Unregister(InitSetup)

	if len(initBinary) == 0 {
		klog.Error("init binary not installed")
		return kerr.NotSupported
	}

	p, code := load()
	if !code.Ok() {
		return code
	}

	entry := initBaseAddress + paging.PageSize
	t := thread.Create(p, entry, 0)
	t.SetPriority(sched.PriorityNormal)
	Scheduler.Add(t)

	return kerr.Success
}

// wakeEntry completes the other half of block(): an entry popped off a
// port or futex wait queue is not yet runnable again until it is both
// marked Ready and put back on Scheduler. ipc and futex can't do this
// themselves without importing this package (which imports them), so
// Init installs this as their wake hook.
func wakeEntry(e sched.Entry) {
	t, ok := e.(*thread.Thread)
	if !ok {
		return
	}
	t.SetState(thread.StateReady)
	Scheduler.Add(t)
}

func load() (*process.Process, kerr.Code) {
	memSize := paging.PageAlignedUp(uintptr(len(initBinary)))
	obj, code := memobj.New(memSize)
	if !code.Ok() {
		return nil, code
	}

	p := process.Create("init")
	flags := bitfield.PageFlags{Present: true, Read: true, Write: true, Execute: true}
	if code := p.Map(initBaseAddress, memSize, 0, flags, obj); !code.Ok() {
		return nil, code
	}

	if code := writeBytes(p, initBaseAddress, initBinary); !code.Ok() {
		return nil, code
	}

	return p, kerr.Success
}
