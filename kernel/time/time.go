// Package time tracks the passage of time using a monotonic tick counter
// that is incremented by the periodic timer interrupt.
package time

import "sync/atomic"

// TickFrequency is the rate at which the periodic timer fires, in ticks per
// second. The PIT divisor programmed at boot must match this value.
const TickFrequency = 1000

// ticks counts timer interrupts since boot.
var ticks uint64

// Time opaquely represents a system timestamp. Time values are totally
// ordered and can only be obtained via Now or derived via After.
type Time uint64

// Before returns true if t reads earlier than other.
func (t Time) Before(other Time) bool {
	return t < other
}

// After returns the time secs seconds after t.
func (t Time) After(secs uint64) Time {
	return t + Time(secs*TickFrequency)
}

// Now returns the current system time.
func Now() Time {
	return Time(atomic.LoadUint64(&ticks))
}

// Tick advances the system clock by one tick. It must only be called by the
// timer interrupt handler.
func Tick() {
	atomic.AddUint64(&ticks, 1)
}

// resetForTesting rewinds the clock. Tests covering timer waits need a
// deterministic starting point.
func resetForTesting() {
	atomic.StoreUint64(&ticks, 0)
}
