package irq

import (
	"unsafe"

	"contos/kernel"
	"contos/kernel/kfmt"
)

// ExceptionNum defines an exception number that can be passed to the
// HandleException and HandleExceptionWithCode functions.
type ExceptionNum uint8

const (
	// InvalidOpcode is raised when the CPU decodes an undefined instruction.
	InvalidOpcode = ExceptionNum(6)

	// DoubleFault occurs when an exception is unhandled or when an
	// exception occurs while the CPU is trying to call an exception
	// handler.
	DoubleFault = ExceptionNum(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = ExceptionNum(13)

	// PageFaultException is raised when a PDT or PDT-entry is not present
	// or when a privilege and/or RW protection check fails.
	PageFaultException = ExceptionNum(14)
)

// IRQNum defines a hardware interrupt line number that can be passed to the
// HandleIRQ function. IRQ numbers are relative to the remapped PIC base so
// IRQ 0 corresponds to gate vector 32.
type IRQNum uint8

const (
	// TimerIRQ fires on each programmable interval timer tick.
	TimerIRQ = IRQNum(0)

	// KeyboardIRQ fires when the keyboard controller has a scan code
	// available.
	KeyboardIRQ = IRQNum(1)
)

const (
	exceptionVectors = 32
	irqVectors       = 16
	gateVectors      = exceptionVectors + irqVectors
)

// ExceptionHandler is a function that handles an exception that does not push
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode is a function that handles an exception that pushes
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandlerWithCode func(uint64, *Frame, *Regs)

// IRQHandler is a function that handles a hardware interrupt. The PIC is
// acknowledged automatically after the handler returns.
type IRQHandler func(*Frame, *Regs)

var (
	exceptionHandlers     [exceptionVectors]ExceptionHandler
	exceptionCodeHandlers [exceptionVectors]ExceptionHandlerWithCode
	irqHandlers           [irqVectors]IRQHandler

	errUnhandledException = &kernel.Error{Module: "irq", Message: "unhandled exception"}
)

// HandleException registers an exception handler (without an error code) for
// the given exception number.
func HandleException(exceptionNum ExceptionNum, handler ExceptionHandler) {
	exceptionHandlers[exceptionNum] = handler
}

// HandleExceptionWithCode registers an exception handler (with an error code)
// for the given exception number.
func HandleExceptionWithCode(exceptionNum ExceptionNum, handler ExceptionHandlerWithCode) {
	exceptionCodeHandlers[exceptionNum] = handler
}

// HandleIRQ registers a handler for the given hardware interrupt line.
func HandleIRQ(irqNum IRQNum, handler IRQHandler) {
	irqHandlers[irqNum] = handler
}

// gateDispatch is invoked by the assembly gate stubs once the interrupted
// register file has been spilled to the stack. It routes the vector to the
// registered handler; for hardware interrupts it also acknowledges the PIC.
//
//go:nosplit
func gateDispatch(vector, errCode uint64, frame *Frame, regs *Regs) {
	if vector < exceptionVectors {
		if handler := exceptionCodeHandlers[vector]; handler != nil {
			handler(errCode, frame, regs)
			return
		}
		if handler := exceptionHandlers[vector]; handler != nil {
			handler(frame, regs)
			return
		}

		kfmt.Printf("\nUnhandled exception %d (error code 0x%x)\n", vector, errCode)
		regs.Print()
		frame.Print()
		panic(errUnhandledException)
	}

	irqNum := uint8(vector - exceptionVectors)
	if handler := irqHandlers[irqNum]; handler != nil {
		handler(frame, regs)
	}
	ackIRQFn(irqNum)
}

// idtEntry describes an amd64 interrupt gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	flags      uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// idtDescriptor is the pseudo-descriptor consumed by the lidt instruction.
type idtDescriptor struct {
	limit uint16
	base  uintptr
}

var (
	idt     [gateVectors]idtEntry
	idtDesc idtDescriptor
)

const (
	kernelCodeSelector = 0x08

	// gateFlags marks a present, ring-0, 64-bit interrupt gate.
	gateFlags = 0x8e
)

// Init populates the interrupt descriptor table with the assembly gate stubs
// and activates it. It must be called once during early boot, before
// interrupts are enabled.
func Init() {
	stubs := (*[gateVectors]uintptr)(unsafe.Pointer(gateStubTable()))

	for vector := 0; vector < gateVectors; vector++ {
		setGate(&idt[vector], stubs[vector])
	}

	idtDesc.limit = uint16(unsafe.Sizeof(idt) - 1)
	idtDesc.base = uintptr(unsafe.Pointer(&idt[0]))
	loadIDT(&idtDesc)
}

func setGate(entry *idtEntry, stubAddr uintptr) {
	entry.offsetLow = uint16(stubAddr)
	entry.selector = kernelCodeSelector
	entry.ist = 0
	entry.flags = gateFlags
	entry.offsetMid = uint16(stubAddr >> 16)
	entry.offsetHigh = uint32(stubAddr >> 32)
	entry.reserved = 0
}

// loadIDT activates the supplied IDT pseudo-descriptor via lidt.
func loadIDT(descriptor *idtDescriptor)

// gateStubTable returns the address of the assembly-defined table that holds
// one gate stub entry point per supported vector.
func gateStubTable() uintptr
