package sched

import (
	"contos/kernel/cpu"
	"contos/kernel/sync"
	"contos/kernel/time"
)

var (
	// nowFn is used by tests to override the tick counter reads that
	// gate Until waiters.
	nowFn = time.Now

	// haltUntilInterruptFn is used by tests to override the CPU halt
	// performed by the idle continuation.
	haltUntilInterruptFn = cpu.HaltUntilInterrupt

	// switchStackFn is used by tests to intercept the hardware stack
	// switch performed between dispatches.
	switchStackFn = switchStack
)

// KeyboardSource is the non-blocking byte stream that Keyboard waiters
// consume from. Bytes must be yielded in FIFO order.
type KeyboardSource interface {
	NextByte() (byte, bool)
}

// Scheduler owns the pending set of (EventKind, Continuation) pairs, the two
// fixed-size dispatch stacks and the main run loop. Scheduling is
// cooperative: at most one continuation runs at a time and the only
// suspension point is the run → dispatch handoff.
type Scheduler struct {
	mu sync.Spinlock

	pending  []Pending
	keyboard KeyboardSource

	// Two fixed stacks; current selects the one the dispatch loop is
	// executing on, the other is scrubbed and reused on the next handoff.
	stacks  [2]*stackBuffer
	current int

	// resumeFn is the phase-3 entry point, captured once so the handoff
	// itself performs no allocation.
	resumeFn func()
}

// New returns a scheduler with an empty pending set that polls the supplied
// keyboard source.
func New(keyboard KeyboardSource) *Scheduler {
	s := &Scheduler{
		keyboard: keyboard,
		stacks:   [2]*stackBuffer{newStackBuffer(), newStackBuffer()},
	}
	s.resumeFn = s.resume

	return s
}

// Enqueue appends a batch of pending pairs to the scheduler's pending set.
// Together with next()'s requeue path it is the only mutator of that set.
func (s *Scheduler) Enqueue(batch ...Pending) {
	s.mu.Acquire()
	s.pending = append(s.pending, batch...)
	s.mu.Release()
}

// Start enters the dispatch loop. It never returns.
func (s *Scheduler) Start() {
	s.dispatch()
}

// run executes a continuation with the event that satisfied its wait
// condition, enqueues its follow-ups and falls through into the dispatch
// loop. It never returns to its caller: this handoff is the only suspension
// point in the system.
func (s *Scheduler) run(cont *Continuation, event Event) {
	switch result := cont.invoke(event); result.typ {
	case resultSuccess:
		if len(result.followups) > 0 {
			s.Enqueue(result.followups...)
		}
	case resultError:
		// Error handlers run at the next dispatch.
		s.Enqueue(Pending{Kind: Now(), Cont: result.errCont})
	case resultDone:
	}

	s.dispatch()
}

// dispatch is phase 1 and 2 of the stack handoff: under the lock, swap the
// current and clean stacks and compute the new stack pointer; then load it.
// No local state from phase 1 may be relied upon after the switch, which is
// why phase 3 lives in a separate function that takes no arguments.
func (s *Scheduler) dispatch() {
	s.mu.Acquire()
	s.current ^= 1
	newRSP := s.stacks[s.current].startRSP()
	s.mu.Release()

	switchStackFn(newRSP, s.resumeFn)
}

// resume is phase 3: running on the freshly selected stack, scrub the now
// unused one so stale pointers into it fault loudly, pop the next ready pair
// and run it.
func (s *Scheduler) resume() {
	s.mu.Acquire()
	s.stacks[s.current^1].scrub()
	event, cont := s.next()
	s.mu.Release()

	s.run(cont, event)
}

// next scans the pending set for the first entry whose condition already
// holds and removes it. The scan is bounded by the set size so every waiting
// entry is examined at most once per call; entries that are not ready are
// requeued at the tail. When nothing is ready an idle pair is synthesized.
// The caller must hold s.mu.
func (s *Scheduler) next() (Event, *Continuation) {
	for scanned, limit := 0, len(s.pending); scanned < limit; scanned++ {
		entry := s.pending[0]
		s.pending = s.pending[1:]

		if event, ready := s.eventFor(entry.Kind); ready {
			return event, entry.Cont
		}

		s.pending = append(s.pending, entry)
	}

	// Nothing is ready. Halt until an interrupt updates the tick counter
	// or the keyboard buffer, then fall back into the scheduler. This is
	// not an error condition.
	return Event{typ: eventNow}, NewContinuation(func(Event) Result {
		haltUntilInterruptFn()
		return Done()
	})
}

// eventFor checks whether the condition described by kind currently holds
// and, if so, materializes the event to deliver. Keyboard checks consume the
// buffered byte.
func (s *Scheduler) eventFor(kind EventKind) (Event, bool) {
	switch kind.typ {
	case eventNow:
		return Event{typ: eventNow}, true
	case eventTimer:
		if !nowFn().Before(kind.until) {
			return Event{typ: eventTimer}, true
		}
	case eventKeyboard:
		if b, ok := s.keyboard.NextByte(); ok {
			return Event{typ: eventKeyboard, Byte: b}, true
		}
	}

	return Event{}, false
}
