package sched

import (
	"testing"

	"contos/kernel/cpu"
	"contos/kernel/time"
)

type fakeKeyboard struct {
	bytes []byte
}

func (k *fakeKeyboard) NextByte() (byte, bool) {
	if len(k.bytes) == 0 {
		return 0, false
	}

	b := k.bytes[0]
	k.bytes = k.bytes[1:]
	return b, true
}

func TestNextGatesTimerWaiters(t *testing.T) {
	defer func() { nowFn = time.Now }()

	s := New(&fakeKeyboard{})
	cont := NewContinuation(func(Event) Result { return Done() })
	s.pending = append(s.pending, Pending{Kind: Until(time.Time(4000)), Cont: cont})

	// One tick before the deadline the waiter must not be dispatched.
	nowFn = func() time.Time { return time.Time(3999) }
	if _, got := s.next(); got == cont {
		t.Fatal("expected the timer waiter to stay pending before its deadline")
	}
	if len(s.pending) != 1 {
		t.Fatalf("expected the waiter to be requeued; got %d pending entries", len(s.pending))
	}

	// At the deadline it becomes ready.
	nowFn = func() time.Time { return time.Time(4000) }
	event, got := s.next()
	if got != cont {
		t.Fatal("expected the timer waiter to be dispatched at its deadline")
	}
	if event.typ != eventTimer {
		t.Fatalf("expected a timer event; got type %d", event.typ)
	}
	if len(s.pending) != 0 {
		t.Fatalf("expected the pending set to be drained; got %d entries", len(s.pending))
	}
}

func TestNextDeliversKeyboardBytesInFIFOOrder(t *testing.T) {
	keyboard := &fakeKeyboard{bytes: []byte{'x', 'y'}}
	s := New(keyboard)

	contA := NewContinuation(func(Event) Result { return Done() })
	contB := NewContinuation(func(Event) Result { return Done() })
	s.pending = append(s.pending,
		Pending{Kind: Keyboard(), Cont: contA},
		Pending{Kind: Keyboard(), Cont: contB},
	)

	event, got := s.next()
	if got != contA || event.Byte != 'x' {
		t.Fatalf("expected the first waiter to consume 'x'; got cont %p byte %c", got, event.Byte)
	}

	event, got = s.next()
	if got != contB || event.Byte != 'y' {
		t.Fatalf("expected the second waiter to consume 'y'; got cont %p byte %c", got, event.Byte)
	}
}

func TestNextKeyboardWaiterStaysPendingWithoutInput(t *testing.T) {
	s := New(&fakeKeyboard{})
	cont := NewContinuation(func(Event) Result { return Done() })
	s.pending = append(s.pending, Pending{Kind: Keyboard(), Cont: cont})

	if _, got := s.next(); got == cont {
		t.Fatal("expected the keyboard waiter to stay pending with an empty buffer")
	}
	if len(s.pending) != 1 || s.pending[0].Cont != cont {
		t.Fatal("expected the keyboard waiter to be requeued")
	}
}

func TestNextSynthesizesIdleContinuation(t *testing.T) {
	defer func() { haltUntilInterruptFn = cpu.HaltUntilInterrupt }()

	halted := false
	haltUntilInterruptFn = func() { halted = true }

	s := New(&fakeKeyboard{})
	event, idle := s.next()
	if idle == nil {
		t.Fatal("expected an idle continuation when nothing is pending")
	}
	if event.typ != eventNow {
		t.Fatalf("expected the idle continuation to receive a Now event; got type %d", event.typ)
	}

	if result := idle.invoke(event); result.typ != resultDone {
		t.Fatalf("expected the idle continuation to return Done; got type %d", result.typ)
	}
	if !halted {
		t.Fatal("expected the idle continuation to halt until the next interrupt")
	}
}

func TestNextScanIsBounded(t *testing.T) {
	defer func() { nowFn = time.Now }()
	nowFn = func() time.Time { return time.Time(0) }

	s := New(&fakeKeyboard{})
	for i := 0; i < 3; i++ {
		s.pending = append(s.pending, Pending{
			Kind: Until(time.Time(100)),
			Cont: NewContinuation(func(Event) Result { return Done() }),
		})
	}

	// With nothing ready every entry is examined exactly once and
	// requeued; the pending set size must not change.
	_, _ = s.next()
	if len(s.pending) != 3 {
		t.Fatalf("expected 3 pending entries after an idle scan; got %d", len(s.pending))
	}
}

func TestEnqueueAppendsBatch(t *testing.T) {
	s := New(&fakeKeyboard{})

	contA := NewContinuation(func(Event) Result { return Done() })
	contB := NewContinuation(func(Event) Result { return Done() })
	s.Enqueue(
		Pending{Kind: Now(), Cont: contA},
		Pending{Kind: Keyboard(), Cont: contB},
	)

	if len(s.pending) != 2 {
		t.Fatalf("expected 2 pending entries; got %d", len(s.pending))
	}
}

func TestDispatchStackHandoff(t *testing.T) {
	defer func() { switchStackFn = switchStack }()

	var (
		gotRSPs []uintptr
		gotFns  []func()
	)
	switchStackFn = func(rsp uintptr, fn func()) {
		gotRSPs = append(gotRSPs, rsp)
		gotFns = append(gotFns, fn)
	}

	s := New(&fakeKeyboard{})

	var deliveredEvent *Event
	s.Enqueue(Pending{Kind: Now(), Cont: NewContinuation(func(event Event) Result {
		deliveredEvent = &event
		return Done()
	})})

	// Phase 1+2: the dispatch flips to the other stack and computes its
	// padded starting pointer.
	s.dispatch()
	if len(gotRSPs) != 1 {
		t.Fatalf("expected one stack switch; got %d", len(gotRSPs))
	}
	if exp := s.stacks[1].startRSP(); gotRSPs[0] != exp {
		t.Fatalf("expected the switch to target rsp 0x%x; got 0x%x", exp, gotRSPs[0])
	}

	// Phase 3: running the handed-off function scrubs the retired stack
	// and dispatches the pending continuation.
	gotFns[0]()

	if deliveredEvent == nil || deliveredEvent.typ != eventNow {
		t.Fatal("expected the pending continuation to run with a Now event")
	}
	for index, word := range s.stacks[0].words {
		if word != stackSentinel {
			t.Fatalf("expected retired stack word %d to hold the sentinel; got 0x%x", index, word)
		}
	}

	// The Done continuation falls back into dispatch, flipping stacks
	// again.
	if len(gotRSPs) != 2 {
		t.Fatalf("expected a second stack switch after the continuation finished; got %d", len(gotRSPs))
	}
	if exp := s.stacks[0].startRSP(); gotRSPs[1] != exp {
		t.Fatalf("expected the second switch to target rsp 0x%x; got 0x%x", exp, gotRSPs[1])
	}
}
