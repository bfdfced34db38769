package sched

import (
	"container/list"

	"github.com/iansmith/talon/internal/critsec"
)

// WaitQueue is a FIFO of blocked entries with O(1) removal by id, the
// same shape as queue.rs's id-indexed linked list wrapped by
// wait_queue.rs. Every syscall-facing blocking primitive (port receive,
// futex wait) parks its caller on one of these.
type WaitQueue struct {
	waiters *list.List
	index   map[uint64]*list.Element
}

// NewWaitQueue returns an empty wait queue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{waiters: list.New(), index: make(map[uint64]*list.Element)}
}

// Add parks e at the back of the queue. e must not already be queued.
func (q *WaitQueue) Add(e Entry) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if _, ok := q.index[e.ID()]; ok {
		panic("sched: entry already in wait queue")
	}
	el := q.waiters.PushBack(e)
	q.index[e.ID()] = el
}

// Remove takes e out of the queue before it is woken, e.g. on timeout
// or cancellation.
func (q *WaitQueue) Remove(e Entry) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	el, ok := q.index[e.ID()]
	if !ok {
		panic("sched: entry not found in wait queue")
	}
	q.waiters.Remove(el)
	delete(q.index, e.ID())
}

// Wake pops and returns the longest-waiting entry, if any.
func (q *WaitQueue) Wake() (Entry, bool) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	el := q.waiters.Front()
	if el == nil {
		return nil, false
	}
	q.waiters.Remove(el)
	e := el.Value.(Entry)
	delete(q.index, e.ID())
	return e, true
}

// WakeAll pops and returns every entry matching predicate, preserving
// FIFO order, the same two-pass list-then-remove shape as the
// original's wake_all.
func (q *WaitQueue) WakeAll(predicate func(Entry) bool) []Entry {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	var matched []Entry
	var next *list.Element
	for el := q.waiters.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(Entry)
		if predicate == nil || predicate(e) {
			matched = append(matched, e)
			q.waiters.Remove(el)
			delete(q.index, e.ID())
		}
	}
	return matched
}

// Len reports the number of parked entries.
func (q *WaitQueue) Len() int {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	return q.waiters.Len()
}

// Empty reports whether the queue has no waiters.
func (q *WaitQueue) Empty() bool {
	return q.Len() == 0
}
