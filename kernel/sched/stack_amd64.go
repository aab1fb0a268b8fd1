//go:build amd64

package sched

import "unsafe"

const (
	// stackWords is the size of each dispatch stack in machine words.
	stackWords = 1 << 12

	// stackPadWords is the distance (in words) kept between the top of a
	// stack buffer and the initial stack pointer, tolerating minor
	// stack-depth miscalculations around the switch itself.
	stackPadWords = 400

	// stackSentinel fills scrubbed stacks so that stale pointers into a
	// retired stack surface as recognizable garbage instead of silent
	// corruption.
	stackSentinel = uintptr(0xDEADBEEFDEADBEEF)
)

// stackBuffer is one of the scheduler's fixed dispatch stacks.
type stackBuffer struct {
	words [stackWords]uintptr
}

func newStackBuffer() *stackBuffer {
	return new(stackBuffer)
}

// startRSP returns the stack pointer a fresh dispatch should start from: the
// downward-growing top of the buffer minus the fixed padding.
func (b *stackBuffer) startRSP() uintptr {
	top := uintptr(unsafe.Pointer(&b.words[0])) + stackWords<<3
	return top - stackPadWords<<3
}

// scrub overwrites the whole buffer with the sentinel pattern.
func (b *stackBuffer) scrub() {
	for i := range b.words {
		b.words[i] = stackSentinel
	}
}

// switchStack loads rsp into the hardware stack pointer and calls fn on the
// new stack. It is the only place in the kernel that manipulates the stack
// pointer directly; fn must never return.
func switchStack(rsp uintptr, fn func())
