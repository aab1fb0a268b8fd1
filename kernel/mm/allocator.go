package mm

import "contos/kernel"

// FrameAllocator is implemented by physical memory allocators that can hand
// out and reclaim individual page frames. The page mapping and demand paging
// code uses this interface so tests can substitute an in-memory allocator.
type FrameAllocator interface {
	// AllocFrame reserves and returns the next available physical frame.
	AllocFrame() (Frame, *kernel.Error)

	// FreeFrame releases a frame previously obtained via AllocFrame.
	FreeFrame(Frame)
}
