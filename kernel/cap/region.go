package cap

import "contos/kernel/mm"

// VirtualMemoryRegion is a capability on a region of the single virtual
// address space. Holding it grants the right to map and use the region; it
// says nothing about physical memory, which is committed on demand by the
// page-fault path.
type VirtualMemoryRegion struct {
	// The first virtual address of the memory region.
	start uintptr

	// The length of the memory region in bytes.
	length uintptr
}

// NewVirtualMemoryRegion creates a capability for the given virtual address
// region. It is up to the caller to make sure the region was properly
// allocated before constructing the capability.
func NewVirtualMemoryRegion(start, length uintptr) *VirtualMemoryRegion {
	switch {
	case start%mm.PageSize != 0:
		panic("cap: virtual memory region start is not page-aligned")
	case length == 0 || length%mm.PageSize != 0:
		panic("cap: virtual memory region length is not a positive multiple of the page size")
	case start == 0:
		panic("cap: virtual memory region must not start at the null page")
	}

	return &VirtualMemoryRegion{start: start, length: length}
}

// Start returns the first virtual address of the memory region.
//
// It is the caller's job to make sure that the correct mappings exist before
// accessing the address.
func (r *VirtualMemoryRegion) Start() uintptr {
	return r.start
}

// Len returns the length of the region in bytes.
func (r *VirtualMemoryRegion) Len() uintptr {
	return r.length
}

// Guard shrinks the region by one page at the beginning and end to account
// for guard pages. The addressable span reported by Start/Len afterwards
// excludes both guard pages; a fault inside either one is fatal rather than
// demand-paged.
func (r *VirtualMemoryRegion) Guard() {
	if r.length < 3*mm.PageSize {
		panic("cap: virtual memory region too small to carry guard pages")
	}
	r.start += mm.PageSize
	r.length -= 2 * mm.PageSize
}

func (*VirtualMemoryRegion) isCapability() {}
func (*VirtualMemoryRegion) isResource()   {}

// Group is a capability that aggregates other capabilities, allowing a single
// handle to stand in for several resources. Members must satisfy Resource,
// which Group itself does not, so groups can never nest.
type Group struct {
	members []Resource
}

// NewGroup creates a capability group over the supplied members.
func NewGroup(members ...Resource) *Group {
	return &Group{members: members}
}

// Members returns the capabilities aggregated by this group.
func (g *Group) Members() []Resource {
	return g.members
}

func (*Group) isCapability() {}
