// Package kbd buffers decoded keyboard input so that continuations waiting
// on keyboard events can dequeue bytes in FIFO order.
package kbd

import (
	"sync/atomic"

	"contos/kernel/cpu"
	"contos/kernel/irq"
)

const (
	cmdPort  = 0x64
	dataPort = 0x60

	// shiftDelta is the difference between a lowercase letter and its
	// capital.
	shiftDelta = 'a' - 'A'

	bufferSize = 64
)

var portReadByteFn = cpu.PortReadByte

// scanCodeMap translates set-1 make codes to ASCII. Letters are stored in
// lowercase; the shift state decides the final case. A zero entry means the
// scan code does not produce input.
var scanCodeMap = [0x3a]byte{
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0a: '9', 0x0b: '0',
	0x0e: 8, // backspace
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1c: '\n',
	0x1e: 'a', 0x1f: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l',
	0x2c: 'z', 0x2d: 'x', 0x2e: 'c', 0x2f: 'v', 0x30: 'b',
	0x31: 'n', 0x32: 'm',
	0x39: ' ',
}

// Keyboard decodes controller scan codes into a bounded FIFO byte buffer.
// The interrupt handler is the only producer; NextByte is the only consumer.
// The ring is lock-free: the producer runs in interrupt context and must
// never spin on a lock held by the consumer it interrupted.
type Keyboard struct {
	buf [bufferSize]byte

	// Free-running indexes into buf, modulo bufferSize. wIndex is written
	// only by HandleInterrupt, rIndex only by NextByte.
	wIndex uint32
	rIndex uint32

	shift bool
}

// New returns a keyboard driver with an empty input buffer.
func New() *Keyboard {
	return &Keyboard{}
}

// HandleInterrupt reads one scan code from the keyboard controller and
// buffers the decoded byte, if any. It matches irq.IRQHandler so it can be
// registered for the keyboard interrupt line.
func (kb *Keyboard) HandleInterrupt(_ *irq.Frame, _ *irq.Regs) {
	// Wait for the controller's output buffer to fill. In interrupt
	// context the data byte is normally already available.
	for portReadByteFn(cmdPort)&1 == 0 {
	}
	scanCode := portReadByteFn(dataPort)

	if b, ok := kb.decode(scanCode); ok {
		kb.push(b)
	}
}

// decode maps a scan code to the ASCII byte it produces, tracking the shift
// state across calls.
func (kb *Keyboard) decode(scanCode byte) (byte, bool) {
	switch scanCode {
	case 0x2a, 0x36: // left/right shift make
		kb.shift = true
		return 0, false
	case 0xaa, 0xb6: // left/right shift break
		kb.shift = false
		return 0, false
	}

	if int(scanCode) >= len(scanCodeMap) {
		return 0, false
	}

	b := scanCodeMap[scanCode]
	if b == 0 {
		return 0, false
	}

	if kb.shift && b >= 'a' && b <= 'z' {
		b -= shiftDelta
	}

	return b, true
}

// push appends a byte to the ring, dropping it when the ring is full. The
// byte must be stored before the write index is published.
func (kb *Keyboard) push(b byte) {
	w := atomic.LoadUint32(&kb.wIndex)
	if w-atomic.LoadUint32(&kb.rIndex) >= bufferSize {
		return
	}

	kb.buf[w%bufferSize] = b
	atomic.StoreUint32(&kb.wIndex, w+1)
}

// NextByte removes and returns the oldest buffered byte. It never blocks.
func (kb *Keyboard) NextByte() (byte, bool) {
	r := atomic.LoadUint32(&kb.rIndex)
	if r == atomic.LoadUint32(&kb.wIndex) {
		return 0, false
	}

	b := kb.buf[r%bufferSize]
	atomic.StoreUint32(&kb.rIndex, r+1)
	return b, true
}
