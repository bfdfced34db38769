package main

import (
	_ "unsafe"

	"github.com/iansmith/talon/internal/boot"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/pmm"
)

//go:linkname inw inw
//go:nosplit
func inw(port uint16) uint16

//go:linkname inl inl
//go:nosplit
func inl(port uint16) uint32

//go:linkname outw outw
//go:nosplit
func outw(port uint16, value uint16)

//go:linkname outl outl
//go:nosplit
func outl(port uint16, value uint32)

// realArch wires internal/critsec to the real cli/sti instructions via
// the linknamed stubs declared in main.go, the same role the teacher's
// enable_irqs/disable_irqs assembly plays for its own critical sections.
type realArch struct{}

func (realArch) SaveAndDisable() bool {
	wasEnabled := interruptsEnabled()
	cliInstr()
	return wasEnabled
}

func (realArch) Restore(wasEnabled bool) {
	if wasEnabled {
		stiInstr()
	}
}

// realPortIO wires both internal/uart.Backend and internal/ioport.Backend
// to the raw in/out instruction stubs; one implementation serves both
// since COM1 and userland-granted I/O port ranges are the same
// instruction pair at different ports.
type realPortIO struct{}

func (realPortIO) Out(port uint16, value byte) { outb(port, value) }
func (realPortIO) In(port uint16) byte         { return inb(port) }

func (realPortIO) Read(port uint16, wordSize uint8) uint32 {
	switch wordSize {
	case 1:
		return uint32(inb(port))
	case 2:
		return uint32(inw(port))
	default:
		return inl(port)
	}
}

func (realPortIO) Write(port uint16, wordSize uint8, value uint32) {
	switch wordSize {
	case 1:
		outb(port, byte(value))
	case 2:
		outw(port, uint16(value))
	default:
		outl(port, value)
	}
}

// directMapMapper backs internal/kvm's virtual range for it. KVM's
// range is carved directly out of the kernel's direct map (main.go's
// kvmStart := info.PhysToVirt(...)) rather than a separately installed
// window, so every vaddr in range already resolves to its backing frame
// through the direct map's identity-plus-offset translation installed
// once at boot. MapKernelRW/UnmapKernel therefore only need to assert
// that invariant, not walk a page table — the teacher's own heap.go
// makes the identical simplification for its single-region heap.
type directMapMapper struct {
	info *boot.Info
}

func (m directMapMapper) MapKernelRW(vaddr uintptr, frame pmm.Frame) kerr.Code {
	if m.info.PhysToVirt(frame.Addr()) != vaddr {
		return kerr.InvalidArgument
	}
	return kerr.Success
}

func (m directMapMapper) UnmapKernel(vaddr uintptr) (pmm.Frame, kerr.Code) {
	return pmm.Frame(m.info.VirtToPhys(vaddr)), kerr.Success
}
