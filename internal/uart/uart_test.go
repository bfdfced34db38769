package uart

import "testing"

type fakeBackend struct {
	regs      map[uint16]byte
	written   []byte
}

func (f *fakeBackend) Out(port uint16, value byte) {
	if f.regs == nil {
		f.regs = make(map[uint16]byte)
	}
	// Offset 0 is the data register only while DLAB (line control bit 7)
	// is clear; with DLAB set it is the divisor latch's low byte.
	if port == 0x3F8 && f.regs[0x3F8+regLineCtrl]&0x80 == 0 {
		f.written = append(f.written, value)
	}
	f.regs[port] = value
}

func (f *fakeBackend) In(port uint16) byte {
	if port == 0x3F8+regLineStatus {
		return lineStatusTHRE
	}
	return f.regs[port]
}

func TestNewConfiguresLineControl(t *testing.T) {
	backend := &fakeBackend{}
	p := New(0x3F8, backend)

	if backend.regs[0x3F8+regLineCtrl] != 0x03 {
		t.Fatalf("expected 8N1 line control, got %#x", backend.regs[0x3F8+regLineCtrl])
	}
	_ = p
}

func TestPutcWritesDataRegister(t *testing.T) {
	backend := &fakeBackend{}
	p := New(0x3F8, backend)

	p.Putc('A')
	if len(backend.written) != 1 || backend.written[0] != 'A' {
		t.Fatalf("expected 'A' written to the data register, got %v", backend.written)
	}
}
