package slab

import "unsafe"

// ptrAt and addrOf convert between the uintptr addresses this package
// (and its kvm-backed callers) deal in and the unsafe.Pointer the Go
// runtime requires to dereference slab metadata, mirroring the teacher's
// own unsafe.Pointer arithmetic in heap.go and page.go.
func ptrAt(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

func addrOf[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func objectPageHeaderSize() uintptr {
	return unsafe.Sizeof(objectPage{})
}
