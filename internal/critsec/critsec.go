// Package critsec implements Talon's only synchronization primitive.
//
// spec.md §5 calls for "a global lock" on kernel singletons and a
// reader-writer lock per process, but also states the hardware model:
// single CPU, preemptive only at syscall suspension points. Exactly like
// the teacher kernel (which never imports "sync" and instead exposes
// enable_irqs/disable_irqs linknamed to assembly), Talon has no second
// CPU to race against — the only concurrent actor is an interrupt
// handler running on top of whatever the current thread was doing. So
// every "lock" in the spec becomes a critical section that simply masks
// interrupts for its duration; nesting is tracked so an inner Enter/Leave
// pair doesn't re-enable interrupts a caller still needs masked.
package critsec

// arch is satisfied by cmd/talon's assembly-glue wrapper (cli/sti). Tests
// install a fake that just counts calls.
type arch interface {
	// SaveAndDisable reads the current interrupt-enable flag, clears it,
	// and returns the flag's value before the call (pushfq;cli, in
	// spirit).
	SaveAndDisable() (wasEnabled bool)
	// Restore sets the interrupt-enable flag back to wasEnabled.
	Restore(wasEnabled bool)
}

var cpu arch = noopArch{}

// Init wires the real cli/sti implementation. Called once from
// cmd/talon's KernelMain.
func Init(a arch) {
	cpu = a
}

var depth int

// Enter masks interrupts and returns a token to pass to Leave. Safe to
// call re-entrantly: every Enter disables interrupts, and only the Leave
// that closes the outermost section of a balanced set restores them.
func Enter() (wasEnabled bool) {
	wasEnabled = cpu.SaveAndDisable()
	depth++
	return wasEnabled
}

// Leave restores the interrupt state captured by the matching Enter.
func Leave(wasEnabled bool) {
	if depth == 0 {
		panic("critsec: Leave without matching Enter")
	}
	depth--
	if depth == 0 {
		cpu.Restore(wasEnabled)
	}
}

// Depth reports the current nesting depth, for assertions that a
// suspension point is never reached while a critical section is held
// (spec.md §5: "Locks are never held across a suspension").
func Depth() int { return depth }

type noopArch struct{}

func (noopArch) SaveAndDisable() (wasEnabled bool) { return true }
func (noopArch) Restore(wasEnabled bool)           {}
