// Package kvm is the buddy allocator over the reserved kernel virtual
// range (spec.md §4.B), ported from the kernel's own
// kernel/src/memory/buddy/*.rs (itself credited there to
// rcore-os/buddy_system_allocator). Talon keeps the free-list-per-order
// shape but works in page units rather than bytes, since its KVM caller
// (internal/slab) wants whole pages.
package kvm

import (
	"math/bits"

	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/pmm"
)

// Orders is the number of buddy orders; order i covers blocks of 2^i
// pages, so the largest single allocation is 2^(Orders-1) pages.
const Orders = 16

// Mapper backs a virtual page with a physical frame and tears that
// mapping down again. cmd/talon's directMapMapper implements it over the
// direct map; kvm never touches a page table directly itself.
type Mapper interface {
	MapKernelRW(vaddr uintptr, frame pmm.Frame) kerr.Code
	UnmapKernel(vaddr uintptr) (pmm.Frame, kerr.Code)
}

type freeNode struct {
	addr uintptr
	next *freeNode
}

type buddyAllocator struct {
	start, end uintptr
	freeList   [Orders]*freeNode
	mapper     Mapper
}

var global buddyAllocator

// Init sets the virtual range the allocator manages and the mapper it
// will use to back/unback pages. start and end must be page-aligned.
func Init(start, end uintptr, mapper Mapper) {
	global = buddyAllocator{start: start, end: end, mapper: mapper}
	global.addRegion(start, end)
}

// addRegion seeds the free lists with the largest aligned power-of-two
// blocks covering [start, end), the same greedy construction as the
// original set_area.
func (a *buddyAllocator) addRegion(start, end uintptr) {
	current := start
	for current < end {
		lowBit := current & (^current + 1)
		size := prevPowerOfTwoPages(minPages(lowBit, end-current))
		a.pushFree(order(size), current)
		current += size * pmm.PageSize
	}
}

func (a *buddyAllocator) pushFree(ord int, addr uintptr) {
	a.freeList[ord] = &freeNode{addr: addr, next: a.freeList[ord]}
}

func (a *buddyAllocator) popFree(ord int) (uintptr, bool) {
	node := a.freeList[ord]
	if node == nil {
		return 0, false
	}
	a.freeList[ord] = node.next
	return node.addr, true
}

func (a *buddyAllocator) removeFree(ord int, addr uintptr) bool {
	var prev *freeNode
	for n := a.freeList[ord]; n != nil; n = n.next {
		if n.addr == addr {
			if prev == nil {
				a.freeList[ord] = n.next
			} else {
				prev.next = n.next
			}
			return true
		}
		prev = n
	}
	return false
}

// Allocate reserves nPages contiguous virtual pages, backs each with a
// freshly allocated physical frame mapped RW in the kernel address space,
// and returns the base virtual address. On partial failure it unwinds
// everything it did (spec.md §4.B).
func Allocate(nPages uintptr) (uintptr, kerr.Code) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	vaddr, code := global.reserve(nPages)
	if !code.Ok() {
		return 0, code
	}

	for i := uintptr(0); i < nPages; i++ {
		page := vaddr + i*pmm.PageSize
		frame, fcode := pmm.Allocate()
		if !fcode.Ok() {
			unwindMapped(vaddr, i)
			global.release(vaddr, nPages)
			return 0, kerr.OutOfMemory
		}
		if mcode := global.mapper.MapKernelRW(page, frame); !mcode.Ok() {
			pmm.Deallocate(frame)
			unwindMapped(vaddr, i)
			global.release(vaddr, nPages)
			return 0, mcode
		}
	}

	return vaddr, kerr.Success
}

func unwindMapped(vaddr uintptr, mappedPages uintptr) {
	for i := uintptr(0); i < mappedPages; i++ {
		page := vaddr + i*pmm.PageSize
		if frame, code := global.mapper.UnmapKernel(page); code.Ok() {
			pmm.Deallocate(frame)
		}
	}
}

// Deallocate unmaps and frees every page of a previous Allocate(nPages)
// call, then returns the virtual region to the buddy free lists.
func Deallocate(vaddr uintptr, nPages uintptr) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	unwindMapped(vaddr, nPages)
	global.release(vaddr, nPages)
}

func (a *buddyAllocator) reserve(nPages uintptr) (uintptr, kerr.Code) {
	size := nextPowerOfTwoPages(nPages)
	ord := order(size)
	if ord >= Orders {
		return 0, kerr.OutOfMemory
	}

	for cur := ord; cur < Orders; cur++ {
		addr, ok := a.popFree(cur)
		if !ok {
			continue
		}

		// Split blocks from cur down to ord, keeping the upper halves
		// on the free lists.
		for split := cur; split > ord; split-- {
			half := addr + (uintptr(1)<<(split-1))*pmm.PageSize
			a.pushFree(split-1, half)
		}

		return addr, kerr.Success
	}

	return 0, kerr.OutOfMemory
}

func (a *buddyAllocator) release(addr uintptr, nPages uintptr) {
	size := nextPowerOfTwoPages(nPages)
	ord := order(size)

	for ord < Orders-1 {
		buddy := addr ^ (size * pmm.PageSize)
		if !a.removeFree(ord, buddy) {
			break
		}
		if buddy < addr {
			addr = buddy
		}
		ord++
		size <<= 1
	}

	a.pushFree(ord, addr)
}

func order(pages uintptr) int {
	return bits.Len64(uint64(pages)) - 1
}

func nextPowerOfTwoPages(pages uintptr) uintptr {
	if pages <= 1 {
		return 1
	}
	return uintptr(1) << bits.Len64(uint64(pages-1))
}

func prevPowerOfTwoPages(pages uintptr) uintptr {
	if pages == 0 {
		return 0
	}
	return uintptr(1) << (bits.Len64(uint64(pages)) - 1)
}

func minPages(a, b uintptr) uintptr {
	aPages := a / pmm.PageSize
	bPages := b / pmm.PageSize
	if aPages < bPages {
		return aPages
	}
	return bPages
}
