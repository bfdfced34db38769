// Package listener is the thread/process event supervisor (spec.md
// §4.M), ported from kernel/src/user/listener/{list,filters,
// message_builder,process,thread}.rs. A listener is a port plus a
// filter; when a thread or process event fires, every registered
// listener whose filter matches gets an event message posted to its
// port, the same fan-out list.rs's ListenerList implements generically
// over the listener type.
package listener

import (
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/ipc"
)

// EventType distinguishes the lifecycle events threads and processes
// can report, merging syscalls::ThreadEventType and
// syscalls::ProcessEventType into one taxonomy since both listener
// kinds share this package's plumbing. Names match spec.md §4.M's
// thread-event taxonomy (Created, Error, Resumed, Terminated, Deleted)
// verbatim; process listeners reuse the same four that apply to them.
type EventType uint32

const (
	EventCreated EventType = iota
	EventError
	EventResumed
	EventTerminated
	EventDeleted
)

// Filter decides whether a listener should be notified of an id
// (a thread id, or a process id), generalizing filters.rs's IdFilter.
type Filter interface {
	Match(id uint64) bool
}

// AllFilter matches every id.
type AllFilter struct{}

func (AllFilter) Match(uint64) bool { return true }

// ListFilter matches only ids present in its allow-list.
type ListFilter struct {
	allowed map[uint64]struct{}
}

// NewListFilter builds a ListFilter from an explicit id list.
func NewListFilter(ids []uint64) *ListFilter {
	allowed := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	return &ListFilter{allowed: allowed}
}

func (f *ListFilter) Match(id uint64) bool {
	_, ok := f.allowed[id]
	return ok
}

// Listener is one registered (filter, port) pair. A zero-handle-table
// send is used since lifecycle events never carry handles.
type Listener struct {
	filter Filter
	port   *ipc.Port
}

// Kind satisfies handle.Object.
func (l *Listener) Kind() handle.Kind { return handle.KindListener }

// New registers a listener that notifies port for every id matching
// filter.
func New(port *ipc.Port, filter Filter) *Listener {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	l := &Listener{filter: filter, port: port}
	global.listeners = append(global.listeners, l)
	return l
}

// Remove unregisters a listener, e.g. when its handle is closed.
func Remove(l *Listener) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	for i, other := range global.listeners {
		if other == l {
			global.listeners = append(global.listeners[:i], global.listeners[i+1:]...)
			return
		}
	}
}

type registry struct {
	listeners []*Listener
}

var global registry
var emptyHandles = handle.NewTable()

// Notify posts (id, eventType) to every registered listener whose
// filter matches id.
func Notify(id uint64, eventType EventType) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	for _, l := range global.listeners {
		if !l.filter.Match(id) {
			continue
		}
		msg := ipc.Message{Data: [ipc.DataWords]uint64{id, uint64(eventType)}}
		l.port.Send(emptyHandles, msg)
	}
}
