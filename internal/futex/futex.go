// Package futex keys a wait queue by (memory object identity, page
// offset) so userland can build its own mutexes/condvars on top of
// shared memory (spec.md §4.K), ported from kernel/src/user/futex.rs.
// The memory object's pointer identity stands in for Rust's
// Arc-pointer-as-id trick.
package futex

import (
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/memobj"
	"github.com/iansmith/talon/internal/sched"
)

type key struct {
	obj    *memobj.Object
	offset uintptr
}

type registry struct {
	queues map[key]*sched.WaitQueue
}

var global = registry{queues: make(map[key]*sched.WaitQueue)}

// wakeHook puts a woken entry back on the ready list, installed by
// internal/syscall for the same reason internal/ipc's SetWakeHook
// exists: Scheduler lives in the package that imports this one.
var wakeHook func(sched.Entry)

// SetWakeHook installs the callback Wake/WakeObjectRange use to make a
// woken waiter runnable again.
func SetWakeHook(fn func(sched.Entry)) { wakeHook = fn }

func wake(e sched.Entry) {
	if wakeHook != nil {
		wakeHook(e)
	}
}

func wakeAll(entries []sched.Entry) {
	for _, e := range entries {
		wake(e)
	}
}

// accessQueue returns the wait queue for key, creating it if absent.
func accessQueue(k key) *sched.WaitQueue {
	q, ok := global.queues[k]
	if !ok {
		q = sched.NewWaitQueue()
		global.queues[k] = q
	}
	return q
}

func cleanQueue(k key) {
	q, ok := global.queues[k]
	if !ok {
		return
	}
	if !q.Empty() {
		return
	}
	delete(global.queues, k)
}

// WaitQueue returns (creating if needed) the wait queue for the futex
// at offset within obj.
func WaitQueue(obj *memobj.Object, offset uintptr) *sched.WaitQueue {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	return accessQueue(key{obj: obj, offset: offset})
}

// Wake wakes up to maxCount threads parked on the futex at offset
// within obj, returning how many were actually woken.
func Wake(obj *memobj.Object, offset uintptr, maxCount int) int {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	k := key{obj: obj, offset: offset}
	q, ok := global.queues[k]
	if !ok {
		return 0
	}

	woken := 0
	for woken < maxCount {
		e, ok := q.Wake()
		if !ok {
			break
		}
		wake(e)
		woken++
	}

	cleanQueue(k)
	return woken
}

// WakeObjectRange wakes every thread matching keep that is parked on
// any futex within obj whose offset falls in [start, end). The
// ProcessMUnmap handler calls it when a mapping is torn down so no thread
// is left blocked on a futex whose backing memory just went away.
func WakeObjectRange(obj *memobj.Object, start, end uintptr, keep func(sched.Entry) bool) int {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	total := 0
	var toClean []key
	for k, q := range global.queues {
		if k.obj != obj || k.offset < start || k.offset >= end {
			continue
		}
		woken := q.WakeAll(keep)
		if len(woken) > 0 {
			wakeAll(woken)
			total += len(woken)
			toClean = append(toClean, k)
		}
	}
	for _, k := range toClean {
		cleanQueue(k)
	}
	return total
}
