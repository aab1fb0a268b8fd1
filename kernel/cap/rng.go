package cap

import "contos/kernel/cpu"

// readTSCFn is used by tests to provide a deterministic seed.
var readTSCFn = cpu.ReadTSC

// newKeyGen returns a xorshift128+ generator seeded from the CPU timestamp
// counter. The generator only has to make accidental key collisions unlikely;
// unguessability against a hostile user is not load-bearing because handle
// keys never confer access without the registry.
func newKeyGen() func() Key {
	s0 := readTSCFn() | 1
	s1 := readTSCFn()*0x9e3779b97f4a7c15 | 1

	next := func() uint64 {
		x, y := s0, s1
		x ^= x << 23
		x ^= x >> 17
		x ^= y ^ (y >> 26)
		s0, s1 = y, x
		return x + y
	}

	return func() Key {
		return Key{Hi: next(), Lo: next()}
	}
}
