package sched

import (
	"contos/kernel"
	"contos/kernel/time"
)

type eventType uint8

const (
	eventNow eventType = iota
	eventTimer
	eventKeyboard
)

// EventKind describes the condition a queued continuation is waiting for.
// Each pending continuation is paired with exactly one EventKind.
type EventKind struct {
	typ   eventType
	until time.Time
}

// Now marks a continuation as immediately runnable.
func Now() EventKind {
	return EventKind{typ: eventNow}
}

// Until marks a continuation as runnable once the tick counter reaches t.
func Until(t time.Time) EventKind {
	return EventKind{typ: eventTimer, until: t}
}

// Keyboard marks a continuation as runnable once a buffered keyboard byte is
// available for it to consume.
func Keyboard() EventKind {
	return EventKind{typ: eventKeyboard}
}

// Event is delivered to a continuation when its EventKind condition holds.
// For keyboard events Byte carries the consumed input byte.
type Event struct {
	typ  eventType
	Byte byte
}

// Pending pairs a continuation with the event kind it waits for.
type Pending struct {
	Kind EventKind
	Cont *Continuation
}

type resultType uint8

const (
	resultSuccess resultType = iota
	resultError
	resultDone
)

// Result is the outcome of running a continuation once.
type Result struct {
	typ       resultType
	followups []Pending
	errCont   *Continuation
}

// Success schedules zero or more follow-up continuations.
func Success(followups ...Pending) Result {
	return Result{typ: resultSuccess, followups: followups}
}

// Error schedules an error-handling continuation to run immediately.
func Error(cont *Continuation) Result {
	return Result{typ: resultError, errCont: cont}
}

// Done signals that no further work follows; the scheduler falls back to its
// pending set (or idles).
func Done() Result {
	return Result{typ: resultDone}
}

var errContinuationConsumed = &kernel.Error{Module: "sched", Message: "continuation has already been run"}

// Continuation is an owned, one-shot unit of work. It is created by any code
// that wants to schedule future work, consumed exactly once by the scheduler
// and never cloned.
type Continuation struct {
	routine func(Event) Result
}

// NewContinuation wraps a one-shot routine. The routine receives the event
// that satisfied the continuation's wait condition.
func NewContinuation(routine func(Event) Result) *Continuation {
	return &Continuation{routine: routine}
}

// invoke runs the captured routine, consuming the continuation. Running a
// continuation twice is a bug in the caller and panics.
func (c *Continuation) invoke(event Event) Result {
	routine := c.routine
	if routine == nil {
		panic(errContinuationConsumed)
	}
	c.routine = nil

	return routine(event)
}
