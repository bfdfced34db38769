package process

import (
	"testing"

	"github.com/iansmith/talon/internal/bitfield"
	"github.com/iansmith/talon/internal/boot"
	"github.com/iansmith/talon/internal/memobj"
	"github.com/iansmith/talon/internal/pmm"
)

func setup(t *testing.T) {
	t.Helper()
	pmm.Init(&boot.Info{
		Regions: []boot.Region{{Start: 0, Size: 64 * pmm.PageSize}},
	})
}

func TestCreateFindDestroy(t *testing.T) {
	setup(t)

	p := Create("init")
	if p.ID() == 0 {
		t.Fatal("expected a nonzero process id")
	}

	found, ok := Find(p.ID())
	if !ok || found != p {
		t.Fatal("expected Find to return the created process")
	}

	Destroy(p.ID())
	if _, ok := Find(p.ID()); ok {
		t.Fatal("expected destroyed process to be gone")
	}
}

func TestMapUnmapRoundTrip(t *testing.T) {
	setup(t)

	p := Create("a")
	obj, code := memobj.New(2 * pmm.PageSize)
	if !code.Ok() {
		t.Fatalf("memobj.New: %v", code)
	}

	flags := bitfield.PageFlags{Present: true, Read: true}
	if code := p.Map(0x4000_0000, 2*pmm.PageSize, 0, flags, obj); !code.Ok() {
		t.Fatalf("Map: %v", code)
	}

	m, ok := p.FindMapping(0x4000_0000 + pmm.PageSize)
	if !ok || m.MemoryObject != obj {
		t.Fatal("expected FindMapping to locate the mapping by address")
	}

	frame, _, code := p.AddressSpace().GetInfo(0x4000_0000)
	if !code.Ok() {
		t.Fatalf("GetInfo: %v", code)
	}
	if frame != obj.Frames()[0] {
		t.Fatal("expected mapped frame to match the memory object's first frame")
	}

	if code := p.Unmap(0x4000_0000); !code.Ok() {
		t.Fatalf("Unmap: %v", code)
	}
	if _, ok := p.FindMapping(0x4000_0000); ok {
		t.Fatal("expected mapping to be gone after Unmap")
	}
}

func TestMapRejectsOutOfBoundsOffset(t *testing.T) {
	setup(t)

	p := Create("a")
	obj, _ := memobj.New(pmm.PageSize)

	flags := bitfield.PageFlags{Present: true, Read: true}
	if code := p.Map(0x4000_0000, pmm.PageSize, pmm.PageSize, flags, obj); code.Ok() {
		t.Fatal("expected offset+size beyond the object's size to be rejected")
	}
}

func TestMapRejectsZeroSize(t *testing.T) {
	setup(t)

	p := Create("a")
	obj, _ := memobj.New(pmm.PageSize)

	flags := bitfield.PageFlags{Present: true, Read: true}
	if code := p.Map(0x4000_0000, 0, 0, flags, obj); code.Ok() {
		t.Fatal("expected a zero-size mapping to be rejected")
	}
	if _, ok := p.FindMapping(0x4000_0000); ok {
		t.Fatal("expected no mapping to be recorded for a rejected zero-size map")
	}
}

func TestFindFreeRegionSkipsExistingMappings(t *testing.T) {
	setup(t)

	p := Create("a")
	obj, _ := memobj.New(2 * pmm.PageSize)
	flags := bitfield.PageFlags{Present: true, Read: true}

	first, code := p.FindFreeRegion(pmm.PageSize)
	if !code.Ok() {
		t.Fatalf("FindFreeRegion: %v", code)
	}
	if code := p.Map(first, pmm.PageSize, 0, flags, obj); !code.Ok() {
		t.Fatalf("Map: %v", code)
	}

	second, code := p.FindFreeRegion(pmm.PageSize)
	if !code.Ok() {
		t.Fatalf("FindFreeRegion: %v", code)
	}
	if second == first {
		t.Fatal("expected the second search to skip the address just mapped")
	}
	if _, overlap := p.overlapping(second, pmm.PageSize); overlap {
		t.Fatal("expected the returned region not to overlap any existing mapping")
	}
}

func TestMapRejectsKernelAddress(t *testing.T) {
	setup(t)

	p := Create("a")
	obj, _ := memobj.New(pmm.PageSize)

	flags := bitfield.PageFlags{Present: true, Read: true}
	if code := p.Map(0xFFFF_8000_0000_0000, pmm.PageSize, 0, flags, obj); code.Ok() {
		t.Fatal("expected a kernel-half address to be rejected")
	}
}
