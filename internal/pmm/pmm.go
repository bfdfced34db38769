// Package pmm is the physical frame allocator (spec.md §4.A): a bitmap,
// one bit per 4 KiB frame, over the regions the boot loader advertised as
// usable. It is the x86-64 analogue of the teacher's page.go free list,
// rebuilt as a bitmap because unlike the teacher's identity-mapped
// Raspberry Pi target, Talon's frames are addressed by physical frame
// number alone and never carry an intrusive next/prev pointer of their
// own (kernel/src/memory/frame_allocator.rs takes the same bitmap
// approach for the same reason: frames are handed to MemoryObjects which
// track them in an ordinary slice, not a linked list).
package pmm

import (
	"github.com/iansmith/talon/internal/boot"
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/kerr"
)

// PageSize is the frame size Talon manages throughout: 4 KiB.
const PageSize = 4096

// Frame is a 4 KiB aligned physical address.
type Frame uintptr

// Addr returns the physical address of the frame.
func (f Frame) Addr() uintptr { return uintptr(f) }

type allocator struct {
	bitmap    []uint64 // 1 bit per frame; set == allocated
	baseFrame uintptr  // frame number of bit 0
	numFrames uintptr
	free      uintptr
}

var global allocator

// Init builds the bitmap from the boot-reported usable regions, excluding
// the kernel image itself. It must run before any other pmm call.
//
// Allocated frames are not pre-zeroed here (spec.md §4.A): callers that
// need zeroed memory (MemoryObject.Create, a fresh page-table page) zero
// through the direct-map window themselves.
func Init(info *boot.Info) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	var lo, hi uintptr
	for i, r := range info.Regions {
		if i == 0 || r.Start < lo {
			lo = r.Start
		}
		if i == 0 || r.End() > hi {
			hi = r.End()
		}
	}

	global.baseFrame = lo / PageSize
	global.numFrames = (hi - lo) / PageSize
	global.bitmap = make([]uint64, (global.numFrames+63)/64)

	// Start fully allocated; only bits inside a usable region (and
	// outside the kernel image) are cleared below.
	for i := range global.bitmap {
		global.bitmap[i] = ^uint64(0)
	}

	kernelStart := info.KernelPhysBase
	kernelEnd := info.KernelPhysBase + info.KernelImageSize

	for _, r := range info.Regions {
		for addr := r.Start; addr < r.End(); addr += PageSize {
			if addr >= kernelStart && addr < kernelEnd {
				continue
			}
			idx := addr/PageSize - global.baseFrame
			if global.clearBit(idx) {
				global.free++
			}
		}
	}
}

func (a *allocator) clearBit(idx uintptr) (wasSet bool) {
	word := idx / 64
	bit := uint(idx % 64)
	mask := uint64(1) << bit
	wasSet = a.bitmap[word]&mask != 0
	a.bitmap[word] &^= mask
	return wasSet
}

func (a *allocator) setBit(idx uintptr) (wasClear bool) {
	word := idx / 64
	bit := uint(idx % 64)
	mask := uint64(1) << bit
	wasClear = a.bitmap[word]&mask == 0
	a.bitmap[word] |= mask
	return wasClear
}

// Allocate hands out one free frame, or OutOfMemory.
func Allocate() (Frame, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	for word := range global.bitmap {
		if global.bitmap[word] == ^uint64(0) {
			continue
		}
		for bit := uint(0); bit < 64; bit++ {
			idx := uintptr(word)*64 + uintptr(bit)
			if idx >= global.numFrames {
				break
			}
			mask := uint64(1) << bit
			if global.bitmap[word]&mask == 0 {
				global.bitmap[word] |= mask
				global.free--
				frameNum := global.baseFrame + idx
				return Frame(frameNum * PageSize), kerr.Success
			}
		}
	}

	return 0, kerr.OutOfMemory
}

// Deallocate returns a frame previously obtained from Allocate.
func Deallocate(f Frame) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	idx := f.Addr()/PageSize - global.baseFrame
	if global.clearBit(idx) {
		global.free++
	}
}

// Stats reports allocator-wide counters, backing the MemoryStats syscall
// (spec.md §6.1).
type Stats struct {
	TotalFrames uintptr
	FreeFrames  uintptr
}

// ReadStats snapshots the current allocator stats.
func ReadStats() Stats {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	return Stats{TotalFrames: global.numFrames, FreeFrames: global.free}
}
