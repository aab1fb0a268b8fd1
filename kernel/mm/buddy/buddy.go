// Package buddy implements a power-of-two block allocator. The allocator
// operates on abstract block indexes; the pmm package instantiates it over
// physical frame numbers and the vmm package over virtual page numbers.
package buddy

import "contos/kernel"

// ErrOutOfMemory is returned by Alloc when no free block large enough to
// satisfy the request is available.
var ErrOutOfMemory = &kernel.Error{Module: "buddy", Message: "out of memory"}

// Allocator tracks free blocks using one free set per power-of-two order.
// A block of order o spans 1<<o consecutive indexes and is always aligned to
// its own size, so the buddy of a block is found by flipping bit o of its
// start index.
//
// The allocator performs no locking; callers must serialize access.
type Allocator struct {
	// free[o] holds the start indexes of the free blocks of order o.
	free []map[uintptr]struct{}

	// freeBlockCount tracks the total number of free indexes across all
	// orders.
	freeBlockCount uint64
}

// New creates an allocator with the given number of orders. The largest
// allocatable block spans 1<<(orders-1) indexes.
func New(orders uint8) *Allocator {
	alloc := &Allocator{
		free: make([]map[uintptr]struct{}, orders),
	}
	for o := range alloc.free {
		alloc.free[o] = make(map[uintptr]struct{})
	}
	return alloc
}

// Extend adds the inclusive index range [start, end] to the allocator's free
// pool. The range is carved into maximal naturally-aligned blocks.
func (a *Allocator) Extend(start, end uintptr) {
	maxOrder := uint8(len(a.free) - 1)

	for start <= end {
		order := alignOrder(start)
		if order > maxOrder {
			order = maxOrder
		}

		// Shrink the block until it fits in the remaining range.
		for order > 0 && start+(1<<order)-1 > end {
			order--
		}

		a.free[order][start] = struct{}{}
		a.freeBlockCount += 1 << order

		next := start + (1 << order)
		if next <= start {
			// Index overflow; the range reached the top of the space.
			return
		}
		start = next
	}
}

// Alloc reserves a contiguous run of at least n indexes and returns its start.
// The request is rounded up to the nearest power of two.
func (a *Allocator) Alloc(n uintptr) (uintptr, *kernel.Error) {
	want := orderFor(n)
	if int(want) >= len(a.free) {
		return 0, ErrOutOfMemory
	}

	for order := want; int(order) < len(a.free); order++ {
		if len(a.free[order]) == 0 {
			continue
		}

		start := a.takeLowest(order)

		// Split the block in half repeatedly until it matches the
		// requested order, returning the upper halves to the free sets.
		for order > want {
			order--
			upper := start + (1 << order)
			a.free[order][upper] = struct{}{}
		}

		a.freeBlockCount -= 1 << want
		return start, nil
	}

	return 0, ErrOutOfMemory
}

// Free returns the block of n indexes starting at start to the allocator,
// coalescing it with its buddy at each order where the buddy is also free.
// The (start, n) pair must describe a block previously returned by Alloc.
func (a *Allocator) Free(start, n uintptr) {
	order := orderFor(n)
	a.freeBlockCount += 1 << order

	maxOrder := uint8(len(a.free) - 1)
	for order < maxOrder {
		buddy := start ^ (1 << order)
		if _, ok := a.free[order][buddy]; !ok {
			break
		}

		delete(a.free[order], buddy)
		if buddy < start {
			start = buddy
		}
		order++
	}

	a.free[order][start] = struct{}{}
}

// FreeCount returns the total number of free indexes tracked by the allocator.
func (a *Allocator) FreeCount() uint64 {
	return a.freeBlockCount
}

// takeLowest removes and returns the lowest free start index of the given
// order. Using the lowest index keeps allocation patterns deterministic.
func (a *Allocator) takeLowest(order uint8) uintptr {
	var (
		lowest uintptr
		found  bool
	)
	for start := range a.free[order] {
		if !found || start < lowest {
			lowest, found = start, true
		}
	}

	delete(a.free[order], lowest)
	return lowest
}

// orderFor returns the smallest order whose block size can hold n indexes.
func orderFor(n uintptr) uint8 {
	var order uint8
	for (uintptr(1) << order) < n {
		order++
	}
	return order
}

// alignOrder returns the highest order that start is naturally aligned to.
func alignOrder(start uintptr) uint8 {
	if start == 0 {
		return ^uint8(0) >> 1
	}

	var order uint8
	for start&1 == 0 {
		start >>= 1
		order++
	}
	return order
}
