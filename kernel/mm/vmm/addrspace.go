package vmm

import (
	"sort"
	"unsafe"

	"contos/kernel"
	"contos/kernel/cap"
	"contos/kernel/cpu"
	"contos/kernel/mm"
	"contos/kernel/mm/buddy"
	"contos/kernel/sync"
)

var (
	// readCR2Fn is used by tests to override reads of the fault address
	// register.
	readCR2Fn = cpu.ReadCR2

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// mapPageFn is used by tests and is automatically devirtualized by the
	// compiler.
	mapPageFn = (*AddressSpace).Map

	// nextAddrFn is used by tests to override the nextTableAddr
	// calculations used by Map. When compiling the kernel this function
	// will be automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// memsetFn is used by tests and is automatically inlined by the compiler.
	memsetFn = kernel.Memset

	errGuardedRegionTooSmall = &kernel.Error{Module: "vmm", Message: "guarded allocations require at least one usable page"}
	errEmptyRegion           = &kernel.Error{Module: "vmm", Message: "region allocations require at least one page"}
)

// allowedRange records a committed virtual range together with the page table
// flags that demand-paged mappings inside it must use.
type allowedRange struct {
	start  uintptr
	length uintptr
	flags  PageTableEntryFlag
}

// AddressSpace manages the single 48-bit virtual address space: it hands out
// page-aligned regions from a buddy allocator over page numbers, tracks which
// committed ranges may be demand-paged and installs leaf mappings backed by
// the supplied physical frame allocator.
//
// Virtual memory is committed lazily: AllocRegion only reserves addresses,
// MapRegion only grants paging permission for a range, and physical frames
// are attached one page at a time by the page fault handler.
type AddressSpace struct {
	mu sync.Spinlock

	frames mm.FrameAllocator
	pages  *buddy.Allocator

	// allowed is kept sorted by range start so the fault handler can
	// locate the covering range with a predecessor query.
	allowed []allowedRange
}

// NewAddressSpace returns an address space that allocates virtual pages from
// the inclusive [firstPage, lastPage] range and commits physical memory from
// the supplied frame allocator.
func NewAddressSpace(frames mm.FrameAllocator, firstPage, lastPage mm.Page) *AddressSpace {
	space := &AddressSpace{
		frames: frames,
		pages:  buddy.New(pageOrders),
	}
	space.pages.Extend(uintptr(firstPage), uintptr(lastPage))

	return space
}

// AllocRegion reserves pageCount contiguous virtual pages and wraps them in
// an unregistered virtual memory region capability. No physical memory is
// committed and no mapping is installed.
func (space *AddressSpace) AllocRegion(pageCount uintptr) (*cap.Unregistered[*cap.VirtualMemoryRegion], *kernel.Error) {
	if pageCount == 0 {
		return nil, errEmptyRegion
	}

	space.mu.Acquire()
	firstPage, err := space.pages.Alloc(pageCount)
	space.mu.Release()
	if err != nil {
		return nil, err
	}

	region := cap.NewVirtualMemoryRegion(mm.Page(firstPage).Address(), pageCount*mm.PageSize)
	return cap.NewUnregistered(region), nil
}

// AllocRegionWithGuard reserves pageCount+2 contiguous virtual pages and
// shrinks the region by one page on each end. The two discarded pages are
// never entered into the allowed-range map, so any access to them faults
// fatally instead of being demand-paged.
func (space *AddressSpace) AllocRegionWithGuard(pageCount uintptr) (*cap.Unregistered[*cap.VirtualMemoryRegion], *kernel.Error) {
	if pageCount == 0 {
		return nil, errGuardedRegionTooSmall
	}

	unreg, err := space.AllocRegion(pageCount + 2)
	if err != nil {
		return nil, err
	}

	unreg.Resource().Guard()
	return unreg, nil
}

// MapRegion grants demand paging for the region behind the supplied handle:
// it records (start, length, flags) in the allowed-range map and nothing
// else. Physical frames are committed later, one per page fault inside the
// range.
func (space *AddressSpace) MapRegion(reg *cap.Registry, handle cap.Handle[*cap.VirtualMemoryRegion], flags PageTableEntryFlag) {
	granted := cap.With(reg, handle, func(region *cap.VirtualMemoryRegion) allowedRange {
		return allowedRange{start: region.Start(), length: region.Len(), flags: flags}
	})

	space.mu.Acquire()
	index := sort.Search(len(space.allowed), func(i int) bool {
		return space.allowed[i].start >= granted.start
	})
	space.allowed = append(space.allowed, allowedRange{})
	copy(space.allowed[index+1:], space.allowed[index:])
	space.allowed[index] = granted
	space.mu.Release()
}

// lookupAllowed returns the allowed range covering addr. The caller must hold
// the address space lock.
func (space *AddressSpace) lookupAllowed(addr uintptr) (allowedRange, bool) {
	// Locate the last range whose start is <= addr.
	index := sort.Search(len(space.allowed), func(i int) bool {
		return space.allowed[i].start > addr
	})
	if index == 0 {
		return allowedRange{}, false
	}

	granted := space.allowed[index-1]
	if addr-granted.start >= granted.length {
		return allowedRange{}, false
	}

	return granted, true
}

// Map installs a present leaf mapping from a virtual page to a physical
// frame using the currently active page directory table. Missing page tables
// at each paging level are allocated from the address space's frame
// allocator and zeroed before use.
func (space *AddressSpace) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place, set its flags and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		// User access is only permitted when the U/S bit is set at
		// every paging level, so intermediate tables on the path of a
		// user mapping must carry it as well.
		tableFlags := FlagPresent | FlagRW
		if flags&FlagUserAccessible != 0 {
			tableFlags |= FlagUserAccessible
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it, map it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			newTableFrame, err = space.frames.AllocFrame()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(tableFlags)

			// The next pte entry becomes accessible through the
			// recursive mapping but we need to make sure that
			// the new table is properly cleared
			nextTableAddr := (uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1])
			memsetFn(nextAddrFn(nextTableAddr), 0, mm.PageSize)
		} else if !pte.HasFlags(tableFlags) {
			// A table first created for a kernel mapping widens
			// when a user mapping later routes through it.
			pte.SetFlags(tableFlags)
		}

		return true
	})

	return err
}
