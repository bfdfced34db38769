// Package timer is the monotonic-tick timer object (spec.md §4.L),
// ported from kernel/src/user/timer/{timer,timers}.rs. Every armed
// timer is checked on each call to Tick, the entry point for the
// periodic timer interrupt (cmd/talon installs no such interrupt handler,
// so nothing in this repository calls Tick outside tests); a timer whose
// deadline has passed disarms itself and posts a TimerEvent to its
// owning port.
package timer

import (
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/ipc"
)

// disabledDeadline is a deadline that can never be reached by a
// monotonic tick counter, used to mark a timer as unarmed.
const disabledDeadline = ^uint64(0)

// Timer is a one-shot alarm that posts to a port when its deadline
// passes. id is this registry's own key (used by Remove); eventID is
// the caller-chosen value TimerCreate's syscall argument supplies,
// echoed back as the fired message's first data word so a process
// sharing one port across several timers can tell them apart.
type Timer struct {
	id       uint64
	eventID  uint64
	port     *ipc.Port
	deadline uint64
}

// Kind satisfies handle.Object.
func (t *Timer) Kind() handle.Kind { return handle.KindTimer }

func (t *Timer) ID() uint64 { return t.id }

// New creates a disarmed timer bound to port, firing with eventID.
func New(id, eventID uint64, port *ipc.Port) *Timer {
	return &Timer{id: id, eventID: eventID, port: port, deadline: disabledDeadline}
}

// Arm sets the tick count at which the timer fires.
func (t *Timer) Arm(deadline uint64) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)
	t.deadline = deadline
}

// Cancel disarms the timer.
func (t *Timer) Cancel() {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)
	t.deadline = disabledDeadline
}

// tick checks the timer against now, firing (and disarming) it if its
// deadline has passed.
func (t *Timer) tick(now uint64, emptyHandles *handle.Table) {
	if now < t.deadline {
		return
	}
	t.deadline = disabledDeadline

	msg := ipc.Message{Data: [ipc.DataWords]uint64{t.eventID, now}}
	t.port.Send(emptyHandles, msg)
}

// registry is the kernel-wide set of live timers, mirroring timers.rs's
// TIMERS global.
type registry struct {
	nextID uint64
	timers map[uint64]*Timer
}

var global = registry{nextID: 1, timers: make(map[uint64]*Timer)}
var tickerHandles = handle.NewTable()
var currentTick uint64

// Create allocates a new timer bound to port, firing with eventID, and
// registers it.
func Create(port *ipc.Port, eventID uint64) *Timer {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	id := global.nextID
	global.nextID++
	t := New(id, eventID, port)
	global.timers[id] = t
	return t
}

// Remove drops a timer from the registry, e.g. when its handle closes.
func Remove(t *Timer) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)
	delete(global.timers, t.id)
}

// Tick checks every registered timer against the current monotonic
// tick count, firing any whose deadline has passed.
func Tick(now uint64) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	currentTick = now
	for _, t := range global.timers {
		t.tick(now, tickerHandles)
	}
}

// Now reports the most recent tick count observed by Tick, backing the
// TimerNow syscall's read of the monotonic clock.
func Now() uint64 {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)
	return currentTick
}
