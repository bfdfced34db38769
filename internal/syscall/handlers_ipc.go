package syscall

import (
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/ipc"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/process"
	"github.com/iansmith/talon/internal/sched"
	"github.com/iansmith/talon/internal/thread"
)

const nameFieldLen = 128

func readMessage(p *process.Process, addr uintptr) (ipc.Message, kerr.Code) {
	var msg ipc.Message
	for i := 0; i < ipc.DataWords; i++ {
		v, code := readU64(p, addr+uintptr(i)*8)
		if !code.Ok() {
			return ipc.Message{}, code
		}
		msg.Data[i] = v
	}
	base := addr + ipc.DataWords*8
	for i := 0; i < ipc.HandleCount; i++ {
		v, code := readU64(p, base+uintptr(i)*8)
		if !code.Ok() {
			return ipc.Message{}, code
		}
		msg.Handles[i] = handle.Handle(v)
	}
	return msg, kerr.Success
}

func writeMessage(p *process.Process, addr uintptr, msg ipc.Message) kerr.Code {
	for i := 0; i < ipc.DataWords; i++ {
		if code := writeU64(p, addr+uintptr(i)*8, msg.Data[i]); !code.Ok() {
			return code
		}
	}
	base := addr + ipc.DataWords*8
	for i := 0; i < ipc.HandleCount; i++ {
		if code := writeU64(p, base+uintptr(i)*8, uint64(msg.Handles[i])); !code.Ok() {
			return code
		}
	}
	return kerr.Success
}

func nameBytes(name string) []byte {
	buf := make([]byte, nameFieldLen)
	copy(buf, name)
	return buf
}

// handlePortCreate backs PortCreate(name_ptr, name_len, &rcv, &snd),
// ported from syscalls/ipc.rs's create. Talon's ipc.Port does not split
// into separate sender/receiver object kinds the way the original's
// handle table does; both output handles resolve to the same Port, and
// either one can Send or Receive through it.
func handlePortCreate(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	name, code := readString(p, ctx.Args.Arg1(), ctx.Args.Arg2())
	if !code.Ok() {
		return code
	}

	port, code := ipc.Create(name)
	if !code.Ok() {
		return code
	}

	if code := writeU64(p, ctx.Args.Arg3(), uint64(p.Handles().Open(port))); !code.Ok() {
		return code
	}
	return writeU64(p, ctx.Args.Arg4(), uint64(p.Handles().Open(port)))
}

// handlePortOpen backs PortOpen(id or name, &out), ported from
// syscalls/ipc.rs's open.
func handlePortOpen(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	id := ctx.Args.Arg1()
	namePtr := ctx.Args.Arg2()
	nameLen := ctx.Args.Arg3()

	isID := id != 0
	isName := namePtr != 0 || nameLen != 0
	if isID == isName {
		return kerr.InvalidArgument
	}

	var port *ipc.Port
	var ok bool
	if isID {
		port, ok = ipc.FindByID(uint64(id))
	} else {
		name, code := readString(p, namePtr, nameLen)
		if !code.Ok() {
			return code
		}
		port, ok = ipc.FindByName(name)
	}
	if !ok {
		return kerr.ObjectNotFound
	}

	return writeU64(p, ctx.Args.Arg4(), uint64(p.Handles().Open(port)))
}

// handlePortSend backs PortSend(h, &msg).
func handlePortSend(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	port, code := handle.Resolve[*ipc.Port](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindPort)
	if !code.Ok() {
		return code
	}

	msg, code := readMessage(p, ctx.Args.Arg2())
	if !code.Ok() {
		return code
	}
	return port.Send(p.Handles(), msg)
}

// handlePortReceive backs PortReceive(h, &msg) (non-blocking).
func handlePortReceive(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	port, code := handle.Resolve[*ipc.Port](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindPort)
	if !code.Ok() {
		return code
	}

	msg, code := port.Receive(p.Handles())
	if !code.Ok() {
		return code
	}
	return writeMessage(p, ctx.Args.Arg2(), msg)
}

// handlePortBlockingReceive backs PortBlockingReceive(h, &msg). When no
// message is queued it parks the calling thread on the port's wait
// queue instead of returning ObjectNotReady: the thread is marked
// Blocked and pulled off the ready list, the suspension point spec.md
// §5 describes. cmd/talon's dispatch loop must not hand a syscall
// result back to userland for a thread still in StateBlocked; it only
// does so once ipc.Port.Send's wake resumes it and a later retry of
// this same handler finds a message waiting.
func handlePortBlockingReceive(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	port, code := handle.Resolve[*ipc.Port](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindPort)
	if !code.Ok() {
		return code
	}

	msg, code := port.Receive(p.Handles())
	if code.Ok() {
		return writeMessage(p, ctx.Args.Arg2(), msg)
	}
	if code != kerr.ObjectNotReady {
		return code
	}

	block(ctx.Thread, port.PrepareWait())
	return kerr.Success
}

// block parks t off the ready list onto q, the shared shape every
// suspension point (port receive, futex wait) uses.
func block(t *thread.Thread, q *sched.WaitQueue) {
	if q == nil {
		return
	}
	if t.State().IsReady() {
		Scheduler.Remove(t)
	}
	t.SetState(thread.StateBlocked)
	t.SetWaitQueue(q)
	q.Add(t)
}

// handlePortInfo backs PortInfo(h, &out), ported from syscalls/ipc.rs's
// info. The record layout is: id, closed (0/1), message count, then a
// 128-byte NUL-padded name, matching spec.md §6.3.
func handlePortInfo(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	port, code := handle.Resolve[*ipc.Port](p.Handles(), handle.Handle(ctx.Args.Arg1()), handle.KindPort)
	if !code.Ok() {
		return code
	}

	out := ctx.Args.Arg2()
	closed := uint64(0)
	if port.Closed() {
		closed = 1
	}
	if code := writeU64(p, out, port.ID()); !code.Ok() {
		return code
	}
	if code := writeU64(p, out+8, closed); !code.Ok() {
		return code
	}
	if code := writeU64(p, out+16, uint64(port.MessageCount())); !code.Ok() {
		return code
	}
	return writeBytes(p, out+24, nameBytes(port.Name()))
}

// handlePortList backs PortList(arr, &inout_count), ported from
// syscalls/ipc.rs's list.
func handlePortList(ctx *Context) kerr.Code {
	p, code := ctx.owningProcess()
	if !code.Ok() {
		return code
	}

	countAddr := ctx.Args.Arg2()
	capacity, code := readU64(p, countAddr)
	if !code.Ok() {
		return code
	}

	ids := ipc.List()
	if code := writeU64(p, countAddr, uint64(len(ids))); !code.Ok() {
		return code
	}

	n := uintptr(len(ids))
	if n > uintptr(capacity) {
		n = uintptr(capacity)
	}
	out := make([]uint64, n)
	copy(out, ids)
	return writeU64Array(p, ctx.Args.Arg1(), out)
}
