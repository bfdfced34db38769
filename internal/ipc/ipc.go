// Package ipc is port-based message passing (spec.md §4.J), ported
// from kernel/src/user/ipc/{port,ports,message}.rs. A Port is a
// many-sender, one-side-receives mailbox: Send never blocks, Receive
// never blocks (ObjectNotReady when empty), and a caller that wants to
// block uses PrepareWait to get the queue's wait queue and parks a
// thread on it itself, the same split the original's
// port::prepare_wait leaves to its caller.
package ipc

import (
	"container/list"

	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/sched"
)

// DataWords and HandleCount fix Message's shape, matching
// syscalls::Message exactly.
const (
	DataWords   = 8
	HandleCount = 4
)

// Message is the fixed-size payload exchanged through a Port.
type Message struct {
	Data    [DataWords]uint64
	Handles [HandleCount]handle.Handle
}

type internalMessage struct {
	data    [DataWords]uint64
	handles [HandleCount]handle.Object
}

// Port is a named or anonymous mailbox.
type Port struct {
	id       uint64
	name     string
	queue    *list.List // of *internalMessage
	closed   bool
	waitOn   *sched.WaitQueue
}

// Kind satisfies handle.Object.
func (p *Port) Kind() handle.Kind { return handle.KindPort }

func (p *Port) ID() uint64   { return p.id }
func (p *Port) Name() string { return p.name }

func newPort(id uint64, name string) *Port {
	return &Port{id: id, name: name, queue: list.New(), waitOn: sched.NewWaitQueue()}
}

type registry struct {
	nextID uint64
	ports  map[uint64]*Port
	named  map[string]*Port
}

var global = registry{nextID: 1, ports: make(map[uint64]*Port), named: make(map[string]*Port)}

// wakeHook puts a woken entry back on the ready list. Port can't call
// Scheduler.Add directly (internal/syscall, which owns Scheduler,
// imports this package), so internal/syscall installs the hook during
// its own Init, the same SetBackend/SetFrameView shape internal/ioport
// and internal/memobj use to reach into cmd/talon-owned state.
var wakeHook func(sched.Entry)

// SetWakeHook installs the callback Send/Close use to make a woken
// receiver runnable again. Must be called before any blocking receive
// can be woken.
func SetWakeHook(fn func(sched.Entry)) { wakeHook = fn }

func wake(entries []sched.Entry) {
	if wakeHook == nil {
		return
	}
	for _, e := range entries {
		wakeHook(e)
	}
}

// Create allocates a new port. A non-empty name must be unique;
// reusing one returns ObjectNameDuplicate.
func Create(name string) (*Port, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if name != "" {
		if _, exists := global.named[name]; exists {
			return nil, kerr.ObjectNameDuplicate
		}
	}

	id := global.nextID
	global.nextID++
	p := newPort(id, name)

	global.ports[id] = p
	if name != "" {
		global.named[name] = p
	}
	return p, kerr.Success
}

// FindByID looks a port up by its id.
func FindByID(id uint64) (*Port, bool) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	p, ok := global.ports[id]
	return p, ok
}

// FindByName looks a port up by its registered name.
func FindByName(name string) (*Port, bool) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	p, ok := global.named[name]
	return p, ok
}

// List returns every live port id, backing the PortList syscall.
func List() []uint64 {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	ids := make([]uint64, 0, len(global.ports))
	for id := range global.ports {
		ids = append(ids, id)
	}
	return ids
}

// Send enqueues msg, consuming every valid handle in it from sender's
// handle table, and wakes any thread parked on a receive. It never
// blocks.
func (p *Port) Send(sender *handle.Table, msg Message) kerr.Code {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if p.closed {
		return kerr.ObjectClosed
	}

	internal := &internalMessage{data: msg.Data}
	for i, h := range msg.Handles {
		if !h.Valid() {
			continue
		}
		obj, code := sender.GetAny(h)
		if !code.Ok() {
			return code
		}
		internal.handles[i] = obj
	}
	for _, h := range msg.Handles {
		if h.Valid() {
			sender.Close(h)
		}
	}

	p.queue.PushBack(internal)
	wake(p.waitOn.WakeAll(nil))
	return kerr.Success
}

// Receive dequeues the oldest message, installing any handles it
// carries into receiver's handle table. Returns ObjectClosed if the
// queue is empty and the port has been closed, ObjectNotReady if it is
// merely empty.
func (p *Port) Receive(receiver *handle.Table) (Message, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	el := p.queue.Front()
	if el == nil {
		if p.closed {
			return Message{}, kerr.ObjectClosed
		}
		return Message{}, kerr.ObjectNotReady
	}
	p.queue.Remove(el)
	internal := el.Value.(*internalMessage)

	msg := Message{Data: internal.data}
	for i, obj := range internal.handles {
		if obj != nil {
			msg.Handles[i] = receiver.Open(obj)
		}
	}
	return msg, kerr.Success
}

// Close discards every queued message and wakes waiting receivers so
// they observe ObjectClosed instead of blocking forever.
func (p *Port) Close() {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	p.closed = true
	p.queue.Init()
	wake(p.waitOn.WakeAll(nil))
}

// PrepareWait returns the port's receiver wait queue if it is not
// currently ready to receive, or nil if a message is already queued.
func (p *Port) PrepareWait() *sched.WaitQueue {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	if p.queue.Len() == 0 {
		return p.waitOn
	}
	return nil
}

// Closed reports whether the port's receiver has gone away.
func (p *Port) Closed() bool {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)
	return p.closed
}

// MessageCount reports the number of queued, unreceived messages.
func (p *Port) MessageCount() int {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)
	return p.queue.Len()
}
