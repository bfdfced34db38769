package syscall

import (
	"encoding/binary"

	"github.com/iansmith/talon/internal/bitfield"
	"github.com/iansmith/talon/internal/kerr"
	"github.com/iansmith/talon/internal/paging"
	"github.com/iansmith/talon/internal/process"
)

// readU64 and writeU64 marshal a single 8-byte userland word, the Go
// equivalent of vm_access_typed::<u64>. They never cross a page
// boundary, which every syscall argument in spec.md §6.1 already
// respects (a single handle, size or counter per pointer).
func readU64(p *process.Process, addr uintptr) (uint64, kerr.Code) {
	data, code := p.AccessBytes(addr, 8, bitfield.PageFlags{Present: true, Read: true})
	if !code.Ok() {
		return 0, code
	}
	return binary.LittleEndian.Uint64(data), kerr.Success
}

func writeU64(p *process.Process, addr uintptr, v uint64) kerr.Code {
	data, code := p.AccessBytes(addr, 8, bitfield.PageFlags{Present: true, Write: true})
	if !code.Ok() {
		return code
	}
	binary.LittleEndian.PutUint64(data, v)
	return kerr.Success
}

// readU32 and writeU32 marshal a single 4-byte userland word, used by
// the futex operations' 32-bit value at uaddr.
func readU32(p *process.Process, addr uintptr) (uint32, kerr.Code) {
	data, code := p.AccessBytes(addr, 4, bitfield.PageFlags{Present: true, Read: true})
	if !code.Ok() {
		return 0, code
	}
	return binary.LittleEndian.Uint32(data), kerr.Success
}

func writeU32(p *process.Process, addr uintptr, v uint32) kerr.Code {
	data, code := p.AccessBytes(addr, 4, bitfield.PageFlags{Present: true, Write: true})
	if !code.Ok() {
		return code
	}
	binary.LittleEndian.PutUint32(data, v)
	return kerr.Success
}

// readString copies length bytes of a userland buffer out, one page at
// a time (each AccessBytes call resolves its own mapping), mirroring
// log()'s str::from_utf8 read from a vm_access range that may span
// several pages. Logging and port names are the only variable-length
// reads in the syscall surface.
func readString(p *process.Process, addr, length uintptr) (string, kerr.Code) {
	if length == 0 {
		return "", kerr.Success
	}

	buf := make([]byte, 0, length)
	cur := addr
	remaining := length
	for remaining > 0 {
		pageEnd := paging.PageAlignedDown(cur) + paging.PageSize
		n := pageEnd - cur
		if n > remaining {
			n = remaining
		}
		chunk, code := p.AccessBytes(cur, n, bitfield.PageFlags{Present: true, Read: true})
		if !code.Ok() {
			return "", code
		}
		buf = append(buf, chunk...)
		cur += n
		remaining -= n
	}
	return string(buf), kerr.Success
}

// writeBytes copies data into userland memory starting at addr, one
// page at a time like readString, backing the fixed 128-byte
// NUL-padded name fields spec.md §6.3 describes for *Info records.
func writeBytes(p *process.Process, addr uintptr, data []byte) kerr.Code {
	cur := addr
	remaining := data
	for len(remaining) > 0 {
		pageEnd := paging.PageAlignedDown(cur) + paging.PageSize
		n := pageEnd - cur
		if n > uintptr(len(remaining)) {
			n = uintptr(len(remaining))
		}
		chunk, code := p.AccessBytes(cur, n, bitfield.PageFlags{Present: true, Write: true})
		if !code.Ok() {
			return code
		}
		copy(chunk, remaining[:n])
		cur += n
		remaining = remaining[n:]
	}
	return kerr.Success
}

// writeU64Array backs the *List syscalls' ListOutputWriter equivalent:
// count words starting at addr, truncated silently by the caller ahead
// of time (it only ever passes as many values as the table already
// reported fit).
func writeU64Array(p *process.Process, addr uintptr, values []uint64) kerr.Code {
	for i, v := range values {
		if code := writeU64(p, addr+uintptr(i)*8, v); !code.Ok() {
			return code
		}
	}
	return kerr.Success
}

// permsFromBits decodes spec.md §6.4's wire permission bitmask
// (NONE=0, READ=1, WRITE=2, EXECUTE=4; any other bit is rejected)
// into the internal/paging representation.
func permsFromBits(bits uintptr) (bitfield.PageFlags, kerr.Code) {
	const all = uintptr(1 | 2 | 4)
	if bits&^all != 0 {
		return bitfield.PageFlags{}, kerr.InvalidArgument
	}
	return bitfield.PageFlags{
		Present: true,
		Read:    bits&1 != 0,
		Write:   bits&2 != 0,
		Execute: bits&4 != 0,
	}, kerr.Success
}
