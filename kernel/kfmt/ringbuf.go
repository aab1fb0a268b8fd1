package kfmt

import "io"

// ringBufferSize defines the size of the ring buffer that captures early
// Printf output. It is large enough to buffer the contents of a standard
// 80x25 text-mode console and must always be a power of 2.
const ringBufferSize = 2048

// ringBuffer captures the output of Printf before the console system is
// initialized. When the buffer overflows, the oldest data is overwritten.
type ringBuffer struct {
	buffer [ringBufferSize]byte
	rIndex int
	used   int
}

// Write writes len(p) bytes from p to the ring buffer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.rIndex+rb.used)&(ringBufferSize-1)] = b
		if rb.used < ringBufferSize {
			rb.used++
		} else {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns the number of bytes read
// and io.EOF when the buffer has been fully drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.used == 0 {
		return 0, io.EOF
	}

	var n int
	for ; n < len(p) && rb.used > 0; n++ {
		p[n] = rb.buffer[rb.rIndex]
		rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		rb.used--
	}

	return n, nil
}
