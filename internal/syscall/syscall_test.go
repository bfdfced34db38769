package syscall

import (
	"strings"
	"testing"

	"github.com/iansmith/talon/internal/bitfield"
	"github.com/iansmith/talon/internal/boot"
	"github.com/iansmith/talon/internal/futex"
	"github.com/iansmith/talon/internal/handle"
	"github.com/iansmith/talon/internal/ioport"
	"github.com/iansmith/talon/internal/ipc"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/klog"
	"github.com/iansmith/talon/internal/memobj"
	"github.com/iansmith/talon/internal/pmm"
	"github.com/iansmith/talon/internal/process"
	"github.com/iansmith/talon/internal/thread"
)

// logSink collects everything klog writes.
type logSink struct{ buf []byte }

func (s *logSink) Putc(c byte) { s.buf = append(s.buf, c) }

// fakeIOPortBackend is an in-memory stand-in for real in/out
// instructions, the same substitution ioport's own tests make.
type fakeIOPortBackend map[uint16]uint32

func (f fakeIOPortBackend) Read(port uint16, wordSize uint8) uint32 { return f[port] }
func (f fakeIOPortBackend) Write(port uint16, wordSize uint8, value uint32) { f[port] = value }

// setup gives each test a fresh frame pool and a frame view backed by
// plain Go memory, the same host-testable substitution memobj_test.go
// and process_test.go use.
func setup(t *testing.T) {
	t.Helper()
	pmm.Init(&boot.Info{
		Regions: []boot.Region{{Start: 0, Size: 256 * pmm.PageSize}},
	})

	backing := make(map[pmm.Frame][]byte)
	memobj.SetFrameView(func(f pmm.Frame) []byte {
		buf, ok := backing[f]
		if !ok {
			buf = make([]byte, pmm.PageSize)
			backing[f] = buf
		}
		return buf
	})
	t.Cleanup(func() { memobj.SetFrameView(func(pmm.Frame) []byte { return nil }) })
}

// newCallingThread creates a process, a memory object mapped at addr
// (used to pass syscall out-pointers and buffers), and a thread
// belonging to that process, returning a Context ready to hand to
// Dispatch.
func newCallingThread(t *testing.T, addr uintptr) (*process.Process, *thread.Thread) {
	t.Helper()

	p := process.Create("test")
	obj, code := memobj.New(pmm.PageSize)
	if !code.Ok() {
		t.Fatalf("memobj.New: %v", code)
	}
	flags := bitfield.PageFlags{Present: true, Read: true, Write: true}
	if code := p.Map(addr, pmm.PageSize, 0, flags, obj); !code.Ok() {
		t.Fatalf("Map: %v", code)
	}

	th := thread.Create(p, 0, 0)
	return p, th
}

const scratch = uintptr(0x1000_0000)

func TestDispatchUnknownNumberIsNotSupported(t *testing.T) {
	setup(t)
	_, th := newCallingThread(t, scratch)

	code := Dispatch(Number(99999), &Context{Thread: th})
	if code != kerr.NotSupported {
		t.Fatalf("expected NotSupported, got %v", code)
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	defer func() {
		Unregister(Number(123456))
		if r := recover(); r == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	Register(Number(123456), func(*Context) kerr.Code { return kerr.Success })
	Register(Number(123456), func(*Context) kerr.Code { return kerr.Success })
}

func TestHandleLogWritesThroughKlog(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	msg := "hello from userland"
	if code := writeBytes(p, scratch, []byte(msg)); !code.Ok() {
		t.Fatalf("writeBytes: %v", code)
	}

	sink := &logSink{}
	klog.Init(sink)
	t.Cleanup(func() { klog.Init(nil) })

	ctx := &Context{Thread: th, Args: Args{uintptr(3), scratch, uintptr(len(msg))}}
	if code := handleLog(ctx); !code.Ok() {
		t.Fatalf("handleLog: %v", code)
	}
	if !strings.Contains(string(sink.buf), msg) {
		t.Fatalf("expected klog output to contain %q, got %q", msg, sink.buf)
	}
}

func TestHandleLogRejectsBadLevel(t *testing.T) {
	setup(t)
	_, th := newCallingThread(t, scratch)

	ctx := &Context{Thread: th, Args: Args{uintptr(99), scratch, 0}}
	if code := handleLog(ctx); code != kerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", code)
	}
}

func TestMemoryObjectCreateThenSize(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	ctx := &Context{Thread: th, Args: Args{uintptr(2 * pmm.PageSize), scratch}}
	if code := handleMemoryObjectCreate(ctx); !code.Ok() {
		t.Fatalf("handleMemoryObjectCreate: %v", code)
	}
	h, code := readU64(p, scratch)
	if !code.Ok() {
		t.Fatalf("readU64: %v", code)
	}

	sizeOut := scratch + 8
	ctx2 := &Context{Thread: th, Args: Args{uintptr(h), sizeOut}}
	if code := handleMemoryObjectSize(ctx2); !code.Ok() {
		t.Fatalf("handleMemoryObjectSize: %v", code)
	}
	size, code := readU64(p, sizeOut)
	if !code.Ok() {
		t.Fatalf("readU64: %v", code)
	}
	if size != uint64(2*pmm.PageSize) {
		t.Fatalf("expected size %d, got %d", 2*pmm.PageSize, size)
	}
}

func TestProcessMMapRoundTrip(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	selfOut := scratch + 16
	if code := handleProcessOpenSelf(&Context{Thread: th, Args: Args{selfOut}}); !code.Ok() {
		t.Fatalf("handleProcessOpenSelf: %v", code)
	}
	selfHandle, code := readU64(p, selfOut)
	if !code.Ok() {
		t.Fatalf("readU64: %v", code)
	}

	objOut := scratch + 24
	if code := handleMemoryObjectCreate(&Context{Thread: th, Args: Args{uintptr(pmm.PageSize), objOut}}); !code.Ok() {
		t.Fatalf("handleMemoryObjectCreate: %v", code)
	}
	objHandle, code := readU64(p, objOut)
	if !code.Ok() {
		t.Fatalf("readU64: %v", code)
	}

	addr := uintptr(0x5000_0000)
	addrIn := scratch + 32
	if code := writeU64(p, addrIn, uint64(addr)); !code.Ok() {
		t.Fatalf("writeU64: %v", code)
	}

	args := Args{uintptr(selfHandle), addrIn, uintptr(pmm.PageSize), uintptr(1), uintptr(objHandle), 0}
	if code := handleProcessMMap(&Context{Thread: th, Args: args}); !code.Ok() {
		t.Fatalf("handleProcessMMap: %v", code)
	}

	echoed, code := readU64(p, addrIn)
	if !code.Ok() || echoed != uint64(addr) {
		t.Fatalf("expected echoed addr %d, got %d (%v)", addr, echoed, code)
	}

	if code := handleProcessMUnmap(&Context{Thread: th, Args: Args{uintptr(selfHandle), addr, uintptr(pmm.PageSize)}}); !code.Ok() {
		t.Fatalf("handleProcessMUnmap: %v", code)
	}
}

func TestProcessMMapZeroHintPicksFreeRegion(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	selfOut := scratch + 16
	if code := handleProcessOpenSelf(&Context{Thread: th, Args: Args{selfOut}}); !code.Ok() {
		t.Fatalf("handleProcessOpenSelf: %v", code)
	}
	selfHandle, _ := readU64(p, selfOut)

	objOut := scratch + 24
	if code := handleMemoryObjectCreate(&Context{Thread: th, Args: Args{uintptr(pmm.PageSize), objOut}}); !code.Ok() {
		t.Fatalf("handleMemoryObjectCreate: %v", code)
	}
	objHandle, _ := readU64(p, objOut)

	addrIn := scratch + 32
	if code := writeU64(p, addrIn, 0); !code.Ok() {
		t.Fatalf("writeU64: %v", code)
	}

	args := Args{uintptr(selfHandle), addrIn, uintptr(pmm.PageSize), uintptr(1), uintptr(objHandle), 0}
	if code := handleProcessMMap(&Context{Thread: th, Args: args}); !code.Ok() {
		t.Fatalf("handleProcessMMap: %v", code)
	}

	chosen, code := readU64(p, addrIn)
	if !code.Ok() || chosen == 0 {
		t.Fatalf("expected a nonzero chosen address, got %d (%v)", chosen, code)
	}
}

func TestProcessMMapRejectsZeroSize(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	selfOut := scratch + 16
	if code := handleProcessOpenSelf(&Context{Thread: th, Args: Args{selfOut}}); !code.Ok() {
		t.Fatalf("handleProcessOpenSelf: %v", code)
	}
	selfHandle, _ := readU64(p, selfOut)

	objOut := scratch + 24
	if code := handleMemoryObjectCreate(&Context{Thread: th, Args: Args{uintptr(pmm.PageSize), objOut}}); !code.Ok() {
		t.Fatalf("handleMemoryObjectCreate: %v", code)
	}
	objHandle, _ := readU64(p, objOut)

	addrIn := scratch + 32
	if code := writeU64(p, addrIn, uint64(0x5000_0000)); !code.Ok() {
		t.Fatalf("writeU64: %v", code)
	}

	args := Args{uintptr(selfHandle), addrIn, 0, uintptr(1), uintptr(objHandle), 0}
	if code := handleProcessMMap(&Context{Thread: th, Args: args}); code.Ok() {
		t.Fatal("expected a zero-size mmap to be rejected")
	}
}

func TestPortSendReceiveRoundTrip(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	nameAddr := scratch + 40
	name := "svc"
	if code := writeBytes(p, nameAddr, []byte(name)); !code.Ok() {
		t.Fatalf("writeBytes: %v", code)
	}

	rcvOut := scratch + 64
	sndOut := scratch + 72
	args := Args{nameAddr, uintptr(len(name)), rcvOut, sndOut}
	if code := handlePortCreate(&Context{Thread: th, Args: args}); !code.Ok() {
		t.Fatalf("handlePortCreate: %v", code)
	}
	sndHandle, _ := readU64(p, sndOut)
	rcvHandle, _ := readU64(p, rcvOut)

	msgAddr := scratch + 128
	if code := writeU64(p, msgAddr, 42); !code.Ok() {
		t.Fatalf("writeU64: %v", code)
	}
	if code := handlePortSend(&Context{Thread: th, Args: Args{uintptr(sndHandle), msgAddr}}); !code.Ok() {
		t.Fatalf("handlePortSend: %v", code)
	}

	outAddr := scratch + 256
	if code := handlePortReceive(&Context{Thread: th, Args: Args{uintptr(rcvHandle), outAddr}}); !code.Ok() {
		t.Fatalf("handlePortReceive: %v", code)
	}
	v, code := readU64(p, outAddr)
	if !code.Ok() || v != 42 {
		t.Fatalf("expected data word 42, got %d (%v)", v, code)
	}
}

func TestPortBlockingReceiveParksThread(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	port, code := ipc.Create("")
	if !code.Ok() {
		t.Fatalf("ipc.Create: %v", code)
	}
	h := p.Handles().Open(port)

	Scheduler.Add(th)
	outAddr := scratch + 256
	code = handlePortBlockingReceive(&Context{Thread: th, Args: Args{uintptr(h), outAddr}})
	if !code.Ok() {
		t.Fatalf("handlePortBlockingReceive: %v", code)
	}
	if th.State() != thread.StateBlocked {
		t.Fatalf("expected thread to be Blocked, got %v", th.State())
	}
	if ok := Scheduler.Remove(th); ok {
		t.Fatal("expected thread to already be off the ready list")
	}

	ipc.SetWakeHook(wakeEntry)
	t.Cleanup(func() { ipc.SetWakeHook(nil) })

	sender := handle.NewTable()
	if code := port.Send(sender, ipc.Message{}); !code.Ok() {
		t.Fatalf("Send: %v", code)
	}
	if th.State() != thread.StateReady {
		t.Fatalf("expected Send to make the blocked receiver Ready again, got %v", th.State())
	}
	if ok := Scheduler.Remove(th); !ok {
		t.Fatal("expected Send to put the woken thread back on the ready list")
	}
}

func TestThreadCreateSetsArgAndSchedules(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	selfOut := scratch + 16
	if code := handleProcessOpenSelf(&Context{Thread: th, Args: Args{selfOut}}); !code.Ok() {
		t.Fatalf("handleProcessOpenSelf: %v", code)
	}
	selfHandle, _ := readU64(p, selfOut)

	outAddr := scratch + 48
	args := Args{uintptr(selfHandle), uintptr(3), uintptr(0x4010_00), uintptr(0x7FFF_0000), uintptr(99), outAddr}
	if code := handleThreadCreate(&Context{Thread: th, Args: args}); !code.Ok() {
		t.Fatalf("handleThreadCreate: %v", code)
	}

	childHandle, code := readU64(p, outAddr)
	if !code.Ok() {
		t.Fatalf("readU64: %v", code)
	}
	child, code := handle.Resolve[*thread.Thread](p.Handles(), handle.Handle(childHandle), handle.KindThread)
	if !code.Ok() {
		t.Fatalf("Resolve: %v", code)
	}
	if child.Context().RDI != 99 {
		t.Fatalf("expected arg 99 in RDI, got %d", child.Context().RDI)
	}
	if ok := Scheduler.Remove(child); !ok {
		t.Fatal("expected the new thread to be on the ready list")
	}
}

func TestFutexWaitMismatchReturnsNotReady(t *testing.T) {
	setup(t)
	_, th := newCallingThread(t, scratch)

	if code := writeU32(mustProcess(t, th), scratch, 5); !code.Ok() {
		t.Fatalf("writeU32: %v", code)
	}

	args := Args{scratch, uintptr(7)}
	code := handleFutexWait(&Context{Thread: th, Args: args})
	if code != kerr.ObjectNotReady {
		t.Fatalf("expected ObjectNotReady, got %v", code)
	}
}

func TestFutexWakeReportsWokenCount(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	countAddr := scratch + 8
	if code := writeU64(p, countAddr, 10); !code.Ok() {
		t.Fatalf("writeU64: %v", code)
	}

	code := handleFutexWake(&Context{Thread: th, Args: Args{scratch, countAddr}})
	if !code.Ok() {
		t.Fatalf("handleFutexWake: %v", code)
	}
	woken, code := readU64(p, countAddr)
	if !code.Ok() || woken != 0 {
		t.Fatalf("expected 0 woken with nobody waiting, got %d (%v)", woken, code)
	}
}

func TestFutexWakeMakesBlockedWaiterReadyAgain(t *testing.T) {
	setup(t)
	p, waiter := newCallingThread(t, scratch)
	waker := thread.Create(p, 0, 0)

	if code := writeU32(p, scratch, 5); !code.Ok() {
		t.Fatalf("writeU32: %v", code)
	}
	if code := handleFutexWait(&Context{Thread: waiter, Args: Args{scratch, uintptr(5)}}); !code.Ok() {
		t.Fatalf("handleFutexWait: %v", code)
	}
	if waiter.State() != thread.StateBlocked {
		t.Fatalf("expected waiter to be Blocked, got %v", waiter.State())
	}

	futex.SetWakeHook(wakeEntry)
	t.Cleanup(func() { futex.SetWakeHook(nil) })

	countAddr := scratch + 8
	if code := writeU64(p, countAddr, 1); !code.Ok() {
		t.Fatalf("writeU64: %v", code)
	}
	if code := handleFutexWake(&Context{Thread: waker, Args: Args{scratch, countAddr}}); !code.Ok() {
		t.Fatalf("handleFutexWake: %v", code)
	}

	if waiter.State() != thread.StateReady {
		t.Fatalf("expected Wake to make the blocked waiter Ready again, got %v", waiter.State())
	}
	if ok := Scheduler.Remove(waiter); !ok {
		t.Fatal("expected Wake to put the woken waiter back on the ready list")
	}
}

func mustProcess(t *testing.T, th *thread.Thread) *process.Process {
	t.Helper()
	p, ok := process.Find(th.Process().ID())
	if !ok {
		t.Fatal("expected owning process to exist")
	}
	return p
}

func TestTimerCreateArmCancel(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	port, code := ipc.Create("")
	if !code.Ok() {
		t.Fatalf("ipc.Create: %v", code)
	}
	portHandle := p.Handles().Open(port)

	outAddr := scratch + 16
	args := Args{uintptr(portHandle), uintptr(7), outAddr}
	if code := handleTimerCreate(&Context{Thread: th, Args: args}); !code.Ok() {
		t.Fatalf("handleTimerCreate: %v", code)
	}
	timerHandle, code := readU64(p, outAddr)
	if !code.Ok() {
		t.Fatalf("readU64: %v", code)
	}

	if code := handleTimerArm(&Context{Thread: th, Args: Args{uintptr(timerHandle), uintptr(500)}}); !code.Ok() {
		t.Fatalf("handleTimerArm: %v", code)
	}
	if code := handleTimerCancel(&Context{Thread: th, Args: Args{uintptr(timerHandle)}}); !code.Ok() {
		t.Fatalf("handleTimerCancel: %v", code)
	}
}

func TestIoPortOpenReadWrite(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)

	fake := fakeIOPortBackend{}
	ioport.SetBackend(fake)

	outAddr := scratch + 16
	args := Args{uintptr(0x60), uintptr(1), uintptr(3), outAddr}
	if code := handleIoPortOpen(&Context{Thread: th, Args: args}); !code.Ok() {
		t.Fatalf("handleIoPortOpen: %v", code)
	}
	h, code := readU64(p, outAddr)
	if !code.Ok() {
		t.Fatalf("readU64: %v", code)
	}

	if code := handleIoPortWrite(&Context{Thread: th, Args: Args{uintptr(h), 0, uintptr(1), uintptr(0xAB)}}); !code.Ok() {
		t.Fatalf("handleIoPortWrite: %v", code)
	}
	if fake[0x60] != 0xAB {
		t.Fatalf("expected backend to observe write of 0xAB, got %#x", fake[0x60])
	}

	readOut := scratch + 24
	if code := handleIoPortRead(&Context{Thread: th, Args: Args{uintptr(h), 0, uintptr(1), readOut}}); !code.Ok() {
		t.Fatalf("handleIoPortRead: %v", code)
	}
	v, code := readU64(p, readOut)
	if !code.Ok() || v != 0xAB {
		t.Fatalf("expected read to return 0xAB, got %#x (%v)", v, code)
	}
}

// TestThreadFaultResumeRoundTrip exercises scenario S5's host-testable
// half: a supervisor reads a faulted thread's cause and saved context,
// patches RIP past the fault, and resumes it back onto the ready list.
func TestThreadFaultResumeRoundTrip(t *testing.T) {
	setup(t)
	p, supervisor := newCallingThread(t, scratch)
	child := thread.Create(p, 0x4000, 0)
	child.Context().RIP = 0x4000
	childHandle := p.Handles().Open(child)

	HandleFault(child, thread.Exception{Kind: thread.ExceptionPageFault, Addr: 0x5000})
	if child.State() != thread.StateError {
		t.Fatalf("expected child in StateError after fault, got %v", child.State())
	}

	infoOut := scratch + 64
	if code := handleThreadErrorInfo(&Context{Thread: supervisor, Args: Args{uintptr(childHandle), infoOut}}); !code.Ok() {
		t.Fatalf("handleThreadErrorInfo: %v", code)
	}
	kind, _ := readU64(p, infoOut)
	addr, _ := readU64(p, infoOut+8)
	if kind != uint64(thread.ExceptionPageFault) || addr != 0x5000 {
		t.Fatalf("unexpected error info: kind=%d addr=%#x", kind, addr)
	}

	ctxOut := scratch + 128
	if code := handleThreadContext(&Context{Thread: supervisor, Args: Args{uintptr(childHandle), ctxOut}}); !code.Ok() {
		t.Fatalf("handleThreadContext: %v", code)
	}
	rip, _ := readU64(p, ctxOut+16*8)
	if rip != 0x4000 {
		t.Fatalf("expected saved RIP 0x4000, got %#x", rip)
	}

	writesAddr := scratch + 256
	if code := writeU64(p, writesAddr, uint64(thread.RegRIP)); !code.Ok() {
		t.Fatalf("writeU64 reg: %v", code)
	}
	if code := writeU64(p, writesAddr+8, 0x4004); !code.Ok() {
		t.Fatalf("writeU64 value: %v", code)
	}
	updateArgs := Args{uintptr(childHandle), writesAddr, 1}
	if code := handleThreadUpdateContext(&Context{Thread: supervisor, Args: updateArgs}); !code.Ok() {
		t.Fatalf("handleThreadUpdateContext: %v", code)
	}
	if child.Context().RIP != 0x4004 {
		t.Fatalf("expected patched RIP 0x4004, got %#x", child.Context().RIP)
	}

	if code := handleThreadResume(&Context{Thread: supervisor, Args: Args{uintptr(childHandle)}}); !code.Ok() {
		t.Fatalf("handleThreadResume: %v", code)
	}
	if child.State() != thread.StateReady {
		t.Fatalf("expected child StateReady after resume, got %v", child.State())
	}
	if ok := Scheduler.Remove(child); !ok {
		t.Fatal("expected resumed thread to be back on the ready list")
	}
}

// TestThreadErrorInfoRejectsNonFaultedThread guards against reading a
// cause that was never recorded.
func TestThreadErrorInfoRejectsNonFaultedThread(t *testing.T) {
	setup(t)
	p, th := newCallingThread(t, scratch)
	other := thread.Create(p, 0, 0)
	h := p.Handles().Open(other)

	code := handleThreadErrorInfo(&Context{Thread: th, Args: Args{uintptr(h), scratch + 64}})
	if code != kerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", code)
	}
}

