//go:build amd64

package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when we
	// need to convert a physical address to a page number (shift right by
	// PageShift) and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// AddressSpaceBits defines the number of usable virtual address bits.
	AddressSpaceBits = 48

	// MaxPage is the highest page number in the lower canonical half of
	// the virtual address space. The upper half is deliberately left
	// unused by the virtual address allocator.
	MaxPage = Page((1 << (AddressSpaceBits - 1 - PageShift)) - 1)
)
