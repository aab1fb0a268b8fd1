package kbd

import (
	"sync/atomic"
	"testing"

	"contos/kernel/cpu"
)

// scriptPorts feeds the driver a sequence of scan codes, reporting a ready
// status for every command port poll.
func scriptPorts(t *testing.T, scanCodes ...byte) {
	t.Helper()

	index := 0
	portReadByteFn = func(port uint16) uint8 {
		if port == cmdPort {
			return 1
		}

		if index >= len(scanCodes) {
			t.Fatal("driver read more scan codes than were scripted")
		}
		b := scanCodes[index]
		index++
		return b
	}
	t.Cleanup(func() { portReadByteFn = cpu.PortReadByte })
}

func drain(kb *Keyboard) []byte {
	var out []byte
	for {
		b, ok := kb.NextByte()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestDecodeScanCodes(t *testing.T) {
	specs := []struct {
		scanCodes []byte
		exp       string
	}{
		// Digits: 0x02-0x0a are '1'-'9', 0x0b is '0'.
		{[]byte{0x02, 0x0a, 0x0b}, "190"},
		// Letters arrive lowercase.
		{[]byte{0x23, 0x12, 0x26, 0x26, 0x18}, "hello"},
		// Shift make/break toggles case and produces no output itself.
		{[]byte{0x2a, 0x23, 0x17, 0xaa, 0x23, 0x17}, "HIhi"},
		// Right shift behaves like left shift.
		{[]byte{0x36, 0x1e, 0xb6, 0x1e}, "Aa"},
		// Enter, space and backspace.
		{[]byte{0x1c, 0x39, 0x0e}, "\n \x08"},
		// Unmapped scan codes and break codes produce nothing.
		{[]byte{0x01, 0x3b, 0x9e}, ""},
	}

	for specIndex, spec := range specs {
		kb := New()
		scriptPorts(t, spec.scanCodes...)

		for range spec.scanCodes {
			kb.HandleInterrupt(nil, nil)
		}

		if got := string(drain(kb)); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestBufferIsFIFO(t *testing.T) {
	kb := New()
	for _, b := range []byte("abc") {
		kb.push(b)
	}

	if got := string(drain(kb)); got != "abc" {
		t.Fatalf("expected bytes in FIFO order; got %q", got)
	}

	if _, ok := kb.NextByte(); ok {
		t.Fatal("expected an empty buffer after draining")
	}
}

func TestBufferWrapsAround(t *testing.T) {
	kb := New()

	// Cycle several buffer lengths of data through the ring so both
	// indexes wrap, interleaving one producer step with one consumer step.
	for i := 0; i < 4*bufferSize; i++ {
		exp := byte('a' + i%26)
		kb.push(exp)

		got, ok := kb.NextByte()
		if !ok {
			t.Fatalf("[byte %d] expected a buffered byte", i)
		}
		if got != exp {
			t.Fatalf("[byte %d] expected %q; got %q", i, exp, got)
		}
	}
}

// The interrupt handler produces into the ring while a continuation may be
// mid-drain on the interrupted stack, so neither side may ever wait on the
// other.
func TestProducerNeverBlocksOnConsumer(t *testing.T) {
	const total = 10000

	kb := New()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			for {
				// Retry when the consumer has not caught up;
				// the ring drops writes while full.
				w := atomic.LoadUint32(&kb.wIndex)
				kb.push(byte(i))
				if atomic.LoadUint32(&kb.wIndex) != w {
					break
				}
			}
		}
	}()

	var received int
	for received < total {
		b, ok := kb.NextByte()
		if !ok {
			continue
		}
		if b != byte(received) {
			t.Fatalf("[byte %d] expected %#x; got %#x", received, byte(received), b)
		}
		received++
	}
	<-done
}

func TestBufferDropsInputWhenFull(t *testing.T) {
	kb := New()
	for i := 0; i < bufferSize+8; i++ {
		kb.push(byte('a' + i%26))
	}

	got := drain(kb)
	if len(got) != bufferSize {
		t.Fatalf("expected the buffer to cap at %d bytes; got %d", bufferSize, len(got))
	}
	if got[0] != 'a' {
		t.Fatalf("expected the oldest byte to survive an overflow; got %q", got[0])
	}
}
