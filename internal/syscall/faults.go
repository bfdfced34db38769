package syscall

import (
	"github.com/iansmith/talon/internal/listener"
	"github.com/iansmith/talon/internal/thread"
)

// HandleFault is the dispatcher-side half of spec.md §4.M's exception
// path: "the dispatcher marks the thread Error(exception) and
// schedules another." It is called from the (out-of-scope per spec.md
// §1) CPU exception vector once that vector has captured the faulting
// thread's context the same way syscallTrampoline does for a syscall,
// mirroring kernel/src/interrupts/exceptions.rs's user-fault branch.
// Scheduling "another" thread needs no action here: t is never Ready
// once Fault runs, so cmd/talon's scheduler loop simply never picks it
// again until a supervisor calls ThreadResume.
func HandleFault(t *thread.Thread, exc thread.Exception) {
	t.Fault(exc)
	listener.Notify(t.ID(), listener.EventError)
}
