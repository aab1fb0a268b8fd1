package irq

import "contos/kernel/cpu"

// 8259A PIC and 8253/8254 PIT port assignments.
const (
	picPrimaryCmd    = 0x20
	picPrimaryData   = 0x21
	picSecondaryCmd  = 0xa0
	picSecondaryData = 0xa1

	picCmdInit = 0x11
	picCmdEOI  = 0x20

	pitData = 0x40
	pitCmd  = 0x43

	// pitBaseFrequency is the fixed oscillator frequency (in Hz) that the
	// PIT divides to produce timer interrupts.
	pitBaseFrequency = 1193182
)

var (
	portWriteByteFn = cpu.PortWriteByte

	// ackIRQFn is used by tests to intercept PIC acknowledgements.
	ackIRQFn = ackIRQ
)

// RemapPIC reprograms the two cascaded PICs so that IRQ 0-15 are delivered on
// gate vectors 32-47 instead of the power-on defaults which overlap the CPU
// exception vectors. All interrupt lines are left unmasked.
func RemapPIC() {
	portWriteByteFn(picPrimaryCmd, picCmdInit)
	portWriteByteFn(picSecondaryCmd, picCmdInit)

	// New vector offsets for the primary and secondary PIC.
	portWriteByteFn(picPrimaryData, exceptionVectors)
	portWriteByteFn(picSecondaryData, exceptionVectors+8)

	// Wire the secondary PIC to IRQ line 2 of the primary.
	portWriteByteFn(picPrimaryData, 0x04)
	portWriteByteFn(picSecondaryData, 0x02)

	// 8086 mode.
	portWriteByteFn(picPrimaryData, 0x01)
	portWriteByteFn(picSecondaryData, 0x01)

	// Clear interrupt masks.
	portWriteByteFn(picPrimaryData, 0x00)
	portWriteByteFn(picSecondaryData, 0x00)
}

// SetTimerFrequency programs the PIT to fire IRQ 0 at the requested rate by
// loading channel 0 with the appropriate divisor in rate-generator mode.
func SetTimerFrequency(hz uint32) {
	divisor := uint16(pitBaseFrequency / hz)

	// Channel 0, lobyte/hibyte access, rate generator.
	portWriteByteFn(pitCmd, 0x36)
	portWriteByteFn(pitData, uint8(divisor))
	portWriteByteFn(pitData, uint8(divisor>>8))
}

// ackIRQ signals end-of-interrupt to the PIC(s) that routed the given IRQ.
func ackIRQ(irqNum uint8) {
	if irqNum >= 8 {
		portWriteByteFn(picSecondaryCmd, picCmdEOI)
	}
	portWriteByteFn(picPrimaryCmd, picCmdEOI)
}
