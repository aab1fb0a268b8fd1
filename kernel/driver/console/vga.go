// Package console implements an io.Writer over the VGA text-mode
// framebuffer so that kernel log output lands somewhere during boot.
package console

import "unsafe"

const (
	// FrameBufferAddr is the physical address of the VGA text-mode
	// framebuffer, identity mapped during early boot.
	FrameBufferAddr = uintptr(0xb8000)

	width  = 80
	height = 25

	// defaultAttr selects light grey text on a black background.
	defaultAttr = 0x07
)

// VGAText writes characters to an 80x25 text-mode framebuffer, advancing a
// cursor and scrolling when the bottom row fills up.
type VGAText struct {
	fb []byte

	x, y int
}

// New returns a console attached to the VGA framebuffer at its standard
// physical address.
func New() *VGAText {
	return NewAt(FrameBufferAddr)
}

// NewAt returns a console writing to a framebuffer at a caller-supplied
// address. Tests point it at an in-memory buffer.
func NewAt(fbAddr uintptr) *VGAText {
	c := &VGAText{
		fb: unsafe.Slice((*byte)(unsafe.Pointer(fbAddr)), width*height*2),
	}
	c.Clear()

	return c
}

// Clear blanks the framebuffer and homes the cursor.
func (c *VGAText) Clear() {
	for i := 0; i < len(c.fb); i += 2 {
		c.fb[i] = ' '
		c.fb[i+1] = defaultAttr
	}
	c.x, c.y = 0, 0
}

// Write implements io.Writer. It never fails.
func (c *VGAText) Write(p []byte) (int, error) {
	for _, b := range p {
		c.writeByte(b)
	}

	return len(p), nil
}

func (c *VGAText) writeByte(b byte) {
	switch b {
	case '\n':
		c.x = 0
		c.y++
	case '\r':
		c.x = 0
	default:
		offset := (c.y*width + c.x) * 2
		c.fb[offset] = b
		c.fb[offset+1] = defaultAttr
		c.x++
		if c.x == width {
			c.x = 0
			c.y++
		}
	}

	if c.y == height {
		c.scroll()
		c.y = height - 1
	}
}

// scroll moves every row one line up and blanks the bottom row.
func (c *VGAText) scroll() {
	copy(c.fb, c.fb[width*2:])

	lastRow := c.fb[(height-1)*width*2:]
	for i := 0; i < len(lastRow); i += 2 {
		lastRow[i] = ' '
		lastRow[i+1] = defaultAttr
	}
}
