// Package cpu provides accessors for low-level CPU features. The functions in
// this package are implemented in assembly and are consumed by the rest of
// the kernel through package-level function variables so tests can intercept
// them.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution.
func Halt()

// HaltUntilInterrupt stops instruction execution until the next interrupt
// fires. It is used by the scheduler's idle continuation.
func HaltUntilInterrupt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ReadCR2 returns the value stored in the CR2 register. When a page fault is
// raised, the CPU stores the faulting virtual address in CR2.
func ReadCR2() uint64

// ReadTSC returns the current value of the CPU timestamp counter.
func ReadTSC() uint64

// ReadMSR returns the 64-bit value of the model-specific register with the
// supplied address.
func ReadMSR(reg uint32) uint64

// WriteMSR stores a 64-bit value to the model-specific register with the
// supplied address.
func WriteMSR(reg uint32, value uint64)

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
