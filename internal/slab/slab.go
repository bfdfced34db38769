// Package slab is the kernel heap allocator (spec.md §4.C): eight
// power-of-two size classes backed by KVM pages, ported from
// kernel/src/memory/slab/zone.rs (the ZoneAllocator) and
// kernel/src/memory/slab/mod.rs (the per-class SCAllocator). The teacher
// kernel's own heap.go takes a simpler best-fit free-list approach
// because it only ever serves a handful of boot-time allocations; Talon
// needs a real kernel-wide allocator (handles, mappings, wait-queue
// nodes, ...), so it follows the original's size-class design instead.
package slab

import (
	"github.com/iansmith/talon/internal/critsec"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/kvm"
)

// sizeClasses matches spec.md §4.C exactly: 8, 16, 32, 64, 128, 256, 512,
// 1024.
var sizeClasses = [8]uint32{8, 16, 32, 64, 128, 256, 512, 1024}

// MaxAllocSize is the largest request this package routes to a slab
// class; larger requests go straight to a raw KVM allocation.
const MaxAllocSize = 1024

const pageSize = 4096

// objectPage is the per-page metadata living at the start of each 4 KiB
// slab page (budget: well under 80 bytes, per spec.md §4.C).
type objectPage struct {
	class     int
	freeList  *freeObject
	freeCount uint32
	capacity  uint32
	next      *objectPage
}

type freeObject struct {
	next *freeObject
}

type class struct {
	size       uint32
	pages      *objectPage
	emptyPages int
}

var classes [8]class

func init() {
	for i, size := range sizeClasses {
		classes[i].size = size
	}
}

// pageBackend is the page source slab refills from: internal/kvm in
// production. Tests substitute a backend over real host memory so that
// the unsafe.Pointer writes below stay valid without a running kernel.
type pageBackend interface {
	Allocate(pages uintptr) (uintptr, kerr.Code)
	Deallocate(addr uintptr, pages uintptr)
}

type kvmBackend struct{}

func (kvmBackend) Allocate(pages uintptr) (uintptr, kerr.Code) { return kvm.Allocate(pages) }
func (kvmBackend) Deallocate(addr uintptr, pages uintptr)      { kvm.Deallocate(addr, pages) }

var backend pageBackend = kvmBackend{}

// SetBackend overrides the page source. Exposed for tests; production
// code never calls it.
func SetBackend(b pageBackend) { backend = b }

// Alloc routes a request by size: at most MaxAllocSize to the matching
// slab class, otherwise straight to KVM. Panics on a zero-sized request
// and returns a zero pointer on OutOfMemory, matching spec.md §4.C's
// stated contract.
func Alloc(size uint32) (uintptr, kerr.Code) {
	if size == 0 {
		panic("slab: zero-sized allocation")
	}

	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	idx, ok := classIndex(size)
	if !ok {
		pages := (uintptr(size) + pageSize - 1) / pageSize
		return backend.Allocate(pages)
	}

	c := &classes[idx]
	if addr, ok := c.allocate(); ok {
		return addr, kerr.Success
	}

	if code := refill(idx); !code.Ok() {
		return 0, code
	}

	addr, ok := c.allocate()
	if !ok {
		panic("slab: refilled class still empty")
	}
	return addr, kerr.Success
}

// Free returns a pointer previously obtained from Alloc for the same
// size. Freeing a raw-KVM allocation unmaps and frees it immediately;
// freeing a slab object reclaims empty pages of its class until at most
// one empty page is left (spec.md §9(c): only one spare empty page per
// class is kept).
func Free(ptr uintptr, size uint32) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	idx, ok := classIndex(size)
	if !ok {
		pages := (uintptr(size) + pageSize - 1) / pageSize
		backend.Deallocate(ptr, pages)
		return
	}

	c := &classes[idx]
	c.free(ptr)

	for c.emptyPages > 1 {
		reclaimed := c.reclaimOneEmptyPage()
		if !reclaimed {
			break
		}
	}
}

func classIndex(size uint32) (int, bool) {
	for i, s := range sizeClasses {
		if size <= s {
			return i, true
		}
	}
	return 0, false
}

func refill(idx int) kerr.Code {
	c := &classes[idx]

	addr, code := backend.Allocate(1)
	if !code.Ok() {
		return kerr.OutOfMemory
	}

	page := (*objectPage)(ptrAt(addr))
	*page = objectPage{class: idx, next: c.pages}

	objSize := uintptr(c.size)
	dataStart := addr + objectPageHeaderSize()
	capacity := uint32((pageSize - objectPageHeaderSize()) / objSize)

	page.capacity = capacity
	page.freeCount = capacity
	for i := uint32(0); i < capacity; i++ {
		obj := (*freeObject)(ptrAt(dataStart + uintptr(i)*objSize))
		obj.next = page.freeList
		page.freeList = obj
	}

	c.pages = page
	c.emptyPages++

	return kerr.Success
}

func (c *class) allocate() (uintptr, bool) {
	for p := c.pages; p != nil; p = p.next {
		if p.freeList == nil {
			continue
		}
		obj := p.freeList
		p.freeList = obj.next
		wasEmpty := p.freeCount == p.capacity
		p.freeCount--
		if wasEmpty && c.emptyPages > 0 {
			c.emptyPages--
		}
		return addrOf(obj), true
	}
	return 0, false
}

func (c *class) free(ptr uintptr) {
	pageBase := ptr &^ (pageSize - 1)
	page := (*objectPage)(ptrAt(pageBase))

	obj := (*freeObject)(ptrAt(ptr))
	obj.next = page.freeList
	page.freeList = obj
	page.freeCount++

	if page.freeCount == page.capacity {
		c.emptyPages++
	}
}

// reclaimOneEmptyPage releases a single fully-empty slab page back to
// KVM, keeping exactly one spare for the class (spec.md §9(c)).
func (c *class) reclaimOneEmptyPage() bool {
	var prev *objectPage
	for p := c.pages; p != nil; p = p.next {
		if p.freeCount == p.capacity {
			if prev == nil {
				c.pages = p.next
			} else {
				prev.next = p.next
			}
			c.emptyPages--
			backend.Deallocate(addrOf(p), 1)
			return true
		}
		prev = p
	}
	return false
}
