// Package thread is the thread object (spec.md §4.H): per-thread saved
// register context, state, priority band and TLS base, ported from
// kernel/src/user/thread/{thread,threads}.rs. Context save/load mirrors
// the original's ThreadContext, translated from the teacher's AArch64
// register set (exceptions.go) to the x86-64 one this kernel targets.
package thread

import (
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/sched"
)

// State is a thread's scheduling state.
type State int

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateError
	StateDead
)

func (s State) IsReady() bool { return s == StateReady }

// ExceptionKind enumerates the CPU faults spec.md §4.M lists as
// supervisor-visible; the dispatcher maps a trap vector onto one of
// these before it calls Fault.
type ExceptionKind int

const (
	ExceptionPageFault ExceptionKind = iota
	ExceptionBreakpoint
	ExceptionInvalidOpcode
	ExceptionDivideError
	ExceptionOverflow
	ExceptionBoundRange
	ExceptionDeviceNotAvailable
	ExceptionX87
	ExceptionAlignmentCheck
	ExceptionSIMD
	ExceptionStackSegment
	ExceptionGeneralProtection
	ExceptionCPProtection
)

// Exception is the saved cause of a thread parked in StateError,
// mirroring the original's per-variant exception payload (only
// PageFault carries a faulting address; ErrCode holds the CPU-pushed
// error code for the vectors that define one, zero otherwise).
type Exception struct {
	Kind    ExceptionKind
	Addr    uintptr
	ErrCode uint64
}

// Context is the saved general-purpose register file of a suspended
// thread, filled in from the syscall/interrupt entry stack and
// restored on the way back out, the same fields thread.rs's
// ThreadContext::save/load copy to and from InterruptStack.
type Context struct {
	RAX, RCX, RDX, RBX uint64
	RSI, RDI           uint64
	RSP, RBP           uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64

	RIP    uint64
	RFlags uint64
}

// Register names one field of Context, the wire-stable numbering
// ThreadContext/ThreadUpdateContext marshal over (spec.md §6.1's
// `update_context(writes: list[(Register, value)])`).
type Register uint64

const (
	RegRAX Register = iota
	RegRCX
	RegRDX
	RegRBX
	RegRSI
	RegRDI
	RegRSP
	RegRBP
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	RegRIP
	RegRFlags

	registerCount
)

// Valid reports whether r names a real Context field, used to validate
// a userland-supplied ThreadUpdateContext write list before any of it
// is applied.
func (r Register) Valid() bool { return r < registerCount }

// Words returns the register file as a flat, Register-indexed slice,
// the same order ThreadContext's wire record uses.
func (c *Context) Words() [registerCount]uint64 {
	return [registerCount]uint64{
		c.RAX, c.RCX, c.RDX, c.RBX,
		c.RSI, c.RDI,
		c.RSP, c.RBP,
		c.R8, c.R9, c.R10, c.R11,
		c.R12, c.R13, c.R14, c.R15,
		c.RIP, c.RFlags,
	}
}

// Set writes a single register by its wire index, reporting false for
// an out-of-range Register instead of panicking since the index comes
// straight from a userland ThreadUpdateContext buffer.
func (c *Context) Set(r Register, v uint64) bool {
	switch r {
	case RegRAX:
		c.RAX = v
	case RegRCX:
		c.RCX = v
	case RegRDX:
		c.RDX = v
	case RegRBX:
		c.RBX = v
	case RegRSI:
		c.RSI = v
	case RegRDI:
		c.RDI = v
	case RegRSP:
		c.RSP = v
	case RegRBP:
		c.RBP = v
	case RegR8:
		c.R8 = v
	case RegR9:
		c.R9 = v
	case RegR10:
		c.R10 = v
	case RegR11:
		c.R11 = v
	case RegR12:
		c.R12 = v
	case RegR13:
		c.R13 = v
	case RegR14:
		c.R14 = v
	case RegR15:
		c.R15 = v
	case RegRIP:
		c.RIP = v
	case RegRFlags:
		c.RFlags = v
	default:
		return false
	}
	return true
}

// userlandRFlags is the flag word every new thread starts with:
// interrupts enabled, reserved bit 1 set, everything else clear.
const userlandRFlags = uint64(0x202)

// Process is the subset of process.Process a thread needs without
// importing internal/process, which would create an import cycle
// (process.Process keeps its threads in a handle table that can also
// hold *thread.Thread values).
type Process interface {
	ID() uint64
}

// Thread is a schedulable, user-visible execution context within a
// process.
type Thread struct {
	id       uint64
	process  Process
	context  Context
	state    State
	priority sched.Priority
	tlsBase  uintptr
	waitOn   *sched.WaitQueue
	fault    Exception
}

// Kind satisfies handle.Object.
func (t *Thread) Kind() handle.Kind { return handle.KindThread }

// ID satisfies sched.Entry.
func (t *Thread) ID() uint64 { return t.id }

// Priority satisfies sched.Entry.
func (t *Thread) Priority() sched.Priority { return t.priority }

var nextID uint64 = 1

// New creates a thread belonging to process p, ready to start executing
// at entry with the given top-of-stack.
func New(p Process, entry, stackTop uintptr) *Thread {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	id := nextID
	nextID++

	return &Thread{
		id:      id,
		process: p,
		state:   StateReady,
		priority: sched.PriorityNormal,
		context: Context{
			RSP:    uint64(stackTop),
			RIP:    uint64(entry),
			RFlags: userlandRFlags,
		},
	}
}

func (t *Thread) Process() Process   { return t.process }
func (t *Thread) State() State       { return t.state }
func (t *Thread) SetState(s State)   { t.state = s }
func (t *Thread) Context() *Context  { return &t.context }
func (t *Thread) TLSBase() uintptr   { return t.tlsBase }
func (t *Thread) SetTLSBase(b uintptr) { t.tlsBase = b }

// SetPriority changes a thread's scheduler band. Callers must remove
// the thread from the scheduler first if it is currently queued, the
// same requirement the original's Scheduler::add/remove pair implies.
func (t *Thread) SetPriority(p sched.Priority) { t.priority = p }

// WaitQueue reports which wait queue, if any, currently parks this
// thread (futex wait and port receive both set it when they call Add).
func (t *Thread) WaitQueue() *sched.WaitQueue { return t.waitOn }
func (t *Thread) SetWaitQueue(q *sched.WaitQueue) { t.waitOn = q }

// Fault records exc as this thread's cause of entering StateError,
// mirroring the dispatcher-side half of the original's "fault -> state
// transition to Error(Exception)" path (spec.md §4.M); the listener
// broadcast that accompanies it lives in internal/syscall, which is
// where every other lifecycle event is already posted from.
func (t *Thread) Fault(exc Exception) {
	t.fault = exc
	t.state = StateError
}

// ErrorInfo returns the exception that put this thread into StateError,
// backing the ThreadErrorInfo syscall.
func (t *Thread) ErrorInfo() Exception { return t.fault }
