// Package pmm manages physical memory frame allocations. Frames are handed
// out by a buddy allocator that is seeded from the memory regions reported by
// the bootloader, minus the frames occupied by the kernel image.
package pmm

import (
	"contos/kernel"
	"contos/kernel/kfmt"
	"contos/kernel/mm"
	"contos/kernel/mm/buddy"
	"contos/kernel/multiboot"
	"contos/kernel/sync"
)

var (
	// visitMemRegionsFn is mocked by tests and is automatically inlined
	// by the compiler.
	visitMemRegionsFn = multiboot.VisitMemRegions

	errOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}
)

// frameOrders is the number of buddy orders used for physical frames. With
// 4K pages, 24 orders cover up to 64GB of physical memory.
const frameOrders = 24

// Allocator hands out physical memory frames. It is constructed once at boot
// by the kernel entry point and shared by the demand-paging fault path.
type Allocator struct {
	mu sync.Spinlock

	frames *buddy.Allocator

	// totalFrames tracks the number of usable frames discovered at boot.
	totalFrames uint64

	// Keep track of the kernel location so we exclude this region.
	kernelStartFrame, kernelEndFrame mm.Frame
}

// Init seeds the allocator with the available memory regions reported by the
// bootloader. The frames occupied by the kernel image are never handed out.
func (alloc *Allocator) Init(kernelStart, kernelEnd uintptr) {
	// Round down the kernel start and round up the kernel end to the
	// nearest page boundaries.
	pageSizeMinus1 := mm.PageSize - 1
	alloc.kernelStartFrame = mm.Frame((kernelStart & ^pageSizeMinus1) >> mm.PageShift)
	alloc.kernelEndFrame = mm.Frame(((kernelEnd+pageSizeMinus1) & ^pageSizeMinus1)>>mm.PageShift) - 1

	alloc.mu.Acquire()
	defer alloc.mu.Release()

	alloc.frames = buddy.New(frameOrders)

	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
		// Ignore reserved regions and regions smaller than a single page
		if region.Type != multiboot.MemAvailable || region.Length < uint64(mm.PageSize) {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame.
		regionStartFrame := mm.Frame(((uintptr(region.PhysAddress) + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
		regionEndFrame := mm.Frame((uintptr(region.PhysAddress+region.Length) & ^pageSizeMinus1)>>mm.PageShift) - 1

		alloc.addRegion(regionStartFrame, regionEndFrame)
		return true
	})

	alloc.totalFrames = alloc.frames.FreeCount()
}

// addRegion adds the inclusive frame range [start, end] to the buddy pool,
// carving out the part that overlaps the kernel image.
func (alloc *Allocator) addRegion(start, end mm.Frame) {
	if start > end {
		return
	}

	// No overlap with the kernel image.
	if end < alloc.kernelStartFrame || start > alloc.kernelEndFrame {
		alloc.frames.Extend(uintptr(start), uintptr(end))
		return
	}

	if start < alloc.kernelStartFrame {
		alloc.frames.Extend(uintptr(start), uintptr(alloc.kernelStartFrame-1))
	}
	if end > alloc.kernelEndFrame {
		alloc.frames.Extend(uintptr(alloc.kernelEndFrame+1), uintptr(end))
	}
}

// AllocFrame reserves the next available free frame.
//
// AllocFrame returns an error if no more physical memory can be allocated.
func (alloc *Allocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mu.Acquire()
	start, err := alloc.frames.Alloc(1)
	alloc.mu.Release()

	if err != nil {
		return mm.InvalidFrame, errOutOfMemory
	}
	return mm.Frame(start), nil
}

// FreeFrame returns a frame previously reserved by AllocFrame to the pool.
func (alloc *Allocator) FreeFrame(frame mm.Frame) {
	alloc.mu.Acquire()
	alloc.frames.Free(uintptr(frame), 1)
	alloc.mu.Release()
}

// FreeFrameCount returns the number of frames currently available.
func (alloc *Allocator) FreeFrameCount() uint64 {
	alloc.mu.Acquire()
	count := alloc.frames.FreeCount()
	alloc.mu.Release()
	return count
}

// PrintMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func (alloc *Allocator) PrintMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree uint64
	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += region.Length
		}
		return true
	})
	kfmt.Printf("[pmm] available memory: %dKb\n", totalFree/1024)
	kfmt.Printf("[pmm] kernel reserved frames: %d - %d\n", uint64(alloc.kernelStartFrame), uint64(alloc.kernelEndFrame))
}
