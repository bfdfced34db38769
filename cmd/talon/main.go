// Command talon is the kernel entry point: KernelMain, called directly
// from the boot loader the way the teacher's boot.s calls KernelMain,
// wires every subsystem's Init/SetBackend/SetFrameView hook, and runs
// the scheduler loop. Kept in cmd/talon rather than internal/syscall so
// every handler package stays free of assembly and host-testable; this
// package is the one place that cannot be.
package main

import (
	"unsafe"

	"github.com/iansmith/talon/internal/boot"
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/ioport"
	"github.com/iansmith/talon/internal/klog"
	"github.com/iansmith/talon/internal/kvm"
	"github.com/iansmith/talon/internal/memobj"
	"github.com/iansmith/talon/internal/pmm"
	"github.com/iansmith/talon/internal/syscall"
	"github.com/iansmith/talon/internal/uart"
)

// com1Base is the standard first serial port's I/O base.
const com1Base = 0x3F8

// kvmPages pages: the kernel virtual range handed to internal/kvm for
// the slab heap and anything else that wants whole pages, carved out of
// the direct map rather than a separately mapped window (see
// DESIGN.md's note on directMapMapper).
const kvmPages = 1 << 15 // 128 MiB of 4 KiB pages

//go:linkname inb inb
//go:nosplit
func inb(port uint16) byte

//go:linkname outb outb
//go:nosplit
func outb(port uint16, value byte)

//go:linkname cliInstr cli
//go:nosplit
func cliInstr()

//go:linkname stiInstr sti
//go:nosplit
func stiInstr()

//go:linkname interruptsEnabled interrupts_enabled
//go:nosplit
func interruptsEnabled() bool

// loaderInfo is provided by the boot loader's real implementation
// (out of scope, per spec.md §6.5); this linkname declares the symbol
// the loader's stub defines with the parsed memory map already filled
// in, the same role the teacher's atags parameter plays for page.go.
//
//go:linkname loaderInfo talon_boot_info
var loaderInfo boot.Info

//go:nosplit
//go:noinline
func KernelMain() {
	info := &loaderInfo

	pmm.Init(info)
	critsec.Init(realArch{})

	com1 := uart.New(com1Base, realPortIO{})
	klog.Init(com1)
	klog.SetLevel(klog.LevelInfo)
	klog.Info("talon booting", "regions", len(info.Regions))

	ioport.SetBackend(realPortIO{})

	memobj.SetFrameView(func(f pmm.Frame) []byte {
		vaddr := info.PhysToVirt(f.Addr())
		return unsafe.Slice((*byte)(unsafe.Pointer(vaddr)), pmm.PageSize)
	})

	kvmStart := info.PhysToVirt(info.Regions[0].Start)
	kvm.Init(kvmStart, kvmStart+kvmPages*pmm.PageSize, directMapMapper{info: info})

	syscall.Init()
	syscall.SetInitBinary(initBinary)

	initializeSyscallEntry()
	installExceptionVectors()

	klog.Info("talon ready, enabling interrupts")
	stiInstr()

	runSchedulerLoop()
}

// runSchedulerLoop repeatedly picks the next ready thread and resumes
// it; a thread that is still Blocked after its last Dispatch call (a
// suspension point) is left off this loop entirely until some other
// handler's block()/wake call re-adds it to Scheduler.
//
//go:nosplit
func runSchedulerLoop() {
	for {
		entry, ok := syscall.Scheduler.Schedule()
		if !ok {
			haltUntilInterrupt()
			continue
		}
		resumeThread(entry)
	}
}

//go:linkname haltUntilInterrupt hlt
//go:nosplit
func haltUntilInterrupt()

// main is never called on bare metal; it exists so `go build` has an
// entry point to type-check, matching the teacher's own dummy main().
func main() {
	KernelMain()
	for {
	}
}
