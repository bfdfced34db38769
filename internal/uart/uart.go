// Package uart is the COM1 16550 serial backend for internal/klog,
// generalizing the teacher's hand-rolled PL011 driver (kernel.go's
// uartInit/uartPutc) to the x86 COM1 port-mapped register layout.
// Unlike the PL011's memory-mapped registers, COM1 is reached through
// in/out instructions, so this package depends on the same kind of
// Backend indirection internal/ioport uses for userland-granted port
// ranges, kept separate since UART access is never a capability a
// process can hold.
package uart

// Backend performs the raw in/out instructions. cmd/talon wires this to
// go:linkname'd inb/outb stubs; tests substitute an in-memory fake.
type Backend interface {
	Out(port uint16, value byte)
	In(port uint16) byte
}

// COM1 register offsets from the port base, matching the standard
// 16550 layout.
const (
	regData        = 0 // DLAB=0: transmit/receive holding register
	regDivisorLow   = 0 // DLAB=1: low byte of the baud-rate divisor
	regDivisorHigh  = 1 // DLAB=1: high byte of the baud-rate divisor
	regIntEnable    = 1 // DLAB=0: interrupt enable
	regFIFOCtrl     = 2
	regLineCtrl     = 3
	regModemCtrl    = 4
	regLineStatus   = 5
)

const lineStatusTHRE = 1 << 5 // transmit holding register empty

// Port is one 16550 UART reached at a fixed I/O port base.
type Port struct {
	base    uint16
	backend Backend
}

// New configures a 16550 at base for 38400 8N1 and returns it ready to
// use as a klog.Sink.
func New(base uint16, backend Backend) *Port {
	p := &Port{base: base, backend: backend}
	p.init()
	return p
}

func (p *Port) out(offset uint16, v byte) { p.backend.Out(p.base+offset, v) }
func (p *Port) in(offset uint16) byte     { return p.backend.In(p.base + offset) }

func (p *Port) init() {
	p.out(regIntEnable, 0x00) // disable interrupts, klog polls

	p.out(regLineCtrl, 0x80) // DLAB=1 to set the baud divisor
	p.out(regDivisorLow, 0x03)
	p.out(regDivisorHigh, 0x00) // 115200 / 3 = 38400 baud

	p.out(regLineCtrl, 0x03)  // DLAB=0, 8 bits, no parity, one stop bit
	p.out(regFIFOCtrl, 0xC7)  // enable FIFO, clear, 14-byte threshold
	p.out(regModemCtrl, 0x0B) // DTR, RTS, OUT2 (needed for some UARTs' IRQ line)
}

// Putc satisfies klog.Sink, spinning until the transmit holding
// register is empty, the same busy-wait the teacher's uartPutc does
// against PL011's TXFF flag.
func (p *Port) Putc(c byte) {
	for p.in(regLineStatus)&lineStatusTHRE == 0 {
	}
	p.out(regData, c)
}
