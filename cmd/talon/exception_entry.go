package main

import (
	"unsafe"

	"github.com/iansmith/talon/internal/syscall"
	"github.com/iansmith/talon/internal/thread"
)

// exceptionVectors are every trap vector spec.md §4.M's exception list
// maps onto; all other vectors are left at their boot-time default
// (kernel-fatal, per the original's "unhandled kernel faults halt").
var exceptionVectors = [...]uint64{0, 1, 3, 4, 5, 6, 7, 12, 13, 14, 16, 17, 19, 21}

// setIDTVector installs handler as the trap gate for vector, the x86-64
// equivalent of the teacher's set_vbar_el1 pointing a single vector
// table entry at its exception handler.
//
//go:linkname setIDTVector set_idt_vector
//go:nosplit
func setIDTVector(vector uint64, handler uintptr)

// installExceptionVectors points every vector spec.md §4.M names at
// exceptionTrampoline; dispatchException tells them apart by the vector
// number the trampoline passes through.
func installExceptionVectors() {
	for _, v := range exceptionVectors {
		setIDTVector(v, uintptr(unsafe.Pointer(&exceptionTrampoline)))
	}
}

// exceptionTrampoline is defined in assembly: installed in the IDT for
// every vector spec.md §4.M lists, it swaps to the kernel stack the
// same way syscallTrampoline does, captures the faulting thread's
// context, and calls dispatchException with the vector number, the
// CPU-pushed error code (0 for vectors that don't define one), and CR2
// (valid only for vector 14, #PF).
//
//go:linkname exceptionTrampoline exception_trampoline
func exceptionTrampoline()

// classifyException maps an x86-64 trap vector onto the taxonomy
// spec.md §4.M names, the Go-side equivalent of
// kernel/src/interrupts/exceptions.rs's vector match.
func classifyException(vector uint64, cr2 uintptr, errCode uint64) thread.Exception {
	var kind thread.ExceptionKind
	switch vector {
	case 0:
		kind = thread.ExceptionDivideError
	case 1, 3:
		kind = thread.ExceptionBreakpoint // #DB and #BP both report as a breakpoint
	case 4:
		kind = thread.ExceptionOverflow
	case 5:
		kind = thread.ExceptionBoundRange
	case 6:
		kind = thread.ExceptionInvalidOpcode
	case 7:
		kind = thread.ExceptionDeviceNotAvailable
	case 12:
		kind = thread.ExceptionStackSegment
	case 13:
		kind = thread.ExceptionGeneralProtection
	case 14:
		kind = thread.ExceptionPageFault
	case 16:
		kind = thread.ExceptionX87
	case 17:
		kind = thread.ExceptionAlignmentCheck
	case 19:
		kind = thread.ExceptionSIMD
	case 21:
		kind = thread.ExceptionCPProtection
	}

	exc := thread.Exception{Kind: kind, ErrCode: errCode}
	if vector == 14 {
		exc.Addr = cr2
	}
	return exc
}

// dispatchException is called from exceptionTrampoline once it has
// saved the faulting thread's context, the exception-path counterpart
// to dispatchSyscall. HandleFault parks currentThread in StateError and
// off the ready list, so like a blocked syscall this never returns to
// let exceptionTrampoline reload the faulting context: it falls into
// runSchedulerLoop and runs whatever else is Ready. The faulted thread
// only runs again once a supervisor calls ThreadResume.
//
//go:nosplit
func dispatchException(vector uint64, cr2 uintptr, errCode uint64) {
	syscall.HandleFault(currentThread, classifyException(vector, cr2, errCode))
	runSchedulerLoop()
}
