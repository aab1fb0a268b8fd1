//go:build amd64

package vmm

import (
	"contos/kernel"
	"contos/kernel/irq"
	"contos/kernel/kfmt"
	"contos/kernel/mm"
)

var (
	// handleExceptionWithCodeFn is used by tests.
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// InstallFaultHandlers registers this address space's page fault handler
// together with the general protection fault handler.
func (space *AddressSpace) InstallFaultHandlers() {
	handleExceptionWithCodeFn(irq.PageFaultException, space.pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
	handleExceptionWithCodeFn(irq.DoubleFault, doubleFaultHandler)
}

// pageFaultHandler implements demand paging. A fault inside a range that was
// previously granted via MapRegion commits exactly one physical frame and
// installs a present leaf mapping for the faulting page using the range's
// recorded flags; the faulting instruction is then retried. A fault anywhere
// else (including guard pages) is fatal.
func (space *AddressSpace) pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	faultAddress := uintptr(readCR2Fn())

	space.mu.Acquire()
	granted, ok := space.lookupAllowed(faultAddress)
	space.mu.Release()

	if !ok {
		nonRecoverablePageFault(faultAddress, errorCode, frame, regs, errUnrecoverableFault)
	}

	newFrame, err := space.frames.AllocFrame()
	if err != nil {
		nonRecoverablePageFault(faultAddress, errorCode, frame, regs, err)
	}

	if err = mapPageFn(space, mm.PageFromAddress(faultAddress), newFrame, granted.flags); err != nil {
		nonRecoverablePageFault(faultAddress, errorCode, frame, regs, err)
	}

	// Fault recovered; returning retries the instruction that faulted.
}

func nonRecoverablePageFault(faultAddress uintptr, errorCode uint64, frame *irq.Frame, regs *irq.Regs, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case errorCode == 0:
		kfmt.Printf("read from non-present page")
	case errorCode == 1:
		kfmt.Printf("page protection violation (read)")
	case errorCode == 2:
		kfmt.Printf("write to non-present page")
	case errorCode == 3:
		kfmt.Printf("page protection violation (write)")
	case errorCode == 4:
		kfmt.Printf("page-fault in user-mode")
	case errorCode == 8:
		kfmt.Printf("page table has reserved bit set")
	case errorCode == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()

	panic(err)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	panic(errUnrecoverableFault)
}

func doubleFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nDouble fault\nRegisters:\n")
	regs.Print()
	frame.Print()

	panic(errUnrecoverableFault)
}
