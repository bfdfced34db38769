// Package sched is the thread scheduler and wait-queue primitive
// (spec.md §4.I), ported from kernel/src/user/thread/{scheduler,queue,
// wait_queue}.rs. It stays independent of internal/thread so that
// package can depend on Scheduler/WaitQueue without an import cycle:
// anything satisfying Entry (id + priority band) can be scheduled or
// parked here.
package sched

import (
	"container/list"

	"github.com/iansmith/talon/internal/critsec"
)

// Priority is one of the scheduler's seven ready-list bands, ordered
// from Idle (lowest) to TimeCritical (highest), matching
// syscalls::ThreadPriority.
type Priority int

const (
	PriorityIdle Priority = iota
	PriorityLowest
	PriorityBelowNormal
	PriorityNormal
	PriorityAboveNormal
	PriorityHighest
	PriorityTimeCritical
)

const numBands = int(PriorityTimeCritical) + 1

// Entry is anything the scheduler or a wait queue can hold: a thread,
// in production.
type Entry interface {
	ID() uint64
	Priority() Priority
}

func bandIndex(p Priority) int {
	// Reversed so band 0 is the highest priority, as in the original.
	return int(PriorityTimeCritical) - int(p)
}

// Scheduler is the kernel-wide ready list: one FIFO per priority band,
// highest band served first.
type Scheduler struct {
	ready [numBands]*list.List
	index map[uint64]*list.Element
	bandOf map[uint64]int
}

// New returns an empty scheduler.
func New() *Scheduler {
	s := &Scheduler{
		index:  make(map[uint64]*list.Element),
		bandOf: make(map[uint64]int),
	}
	for i := range s.ready {
		s.ready[i] = list.New()
	}
	return s
}

// Add places a ready entry at the back of its priority band's queue.
func (s *Scheduler) Add(e Entry) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	band := bandIndex(e.Priority())
	el := s.ready[band].PushBack(e)
	s.index[e.ID()] = el
	s.bandOf[e.ID()] = band
}

// Remove pulls an entry out of the ready list before it is scheduled,
// e.g. because it was just blocked on a wait queue.
func (s *Scheduler) Remove(e Entry) bool {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	el, ok := s.index[e.ID()]
	if !ok {
		return false
	}
	band := s.bandOf[e.ID()]
	s.ready[band].Remove(el)
	delete(s.index, e.ID())
	delete(s.bandOf, e.ID())
	return true
}

// Schedule picks the next entry to run: the head of the highest
// nonempty priority band. It returns false if every band is empty.
func (s *Scheduler) Schedule() (Entry, bool) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	for _, band := range s.ready {
		if el := band.Front(); el != nil {
			band.Remove(el)
			e := el.Value.(Entry)
			delete(s.index, e.ID())
			delete(s.bandOf, e.ID())
			return e, true
		}
	}
	return nil, false
}
