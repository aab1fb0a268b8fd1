// Package kmain hosts the kernel entry point: it constructs the Kernel
// context that wires every subsystem together and never returns.
package kmain

import (
	"contos/kernel"
	"contos/kernel/cap"
	"contos/kernel/cpu"
	"contos/kernel/driver/console"
	"contos/kernel/driver/kbd"
	"contos/kernel/irq"
	"contos/kernel/kfmt"
	"contos/kernel/mm"
	"contos/kernel/mm/pmm"
	"contos/kernel/mm/vmm"
	"contos/kernel/multiboot"
	"contos/kernel/sched"
	"contos/kernel/time"
	"contos/kernel/user"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// switchToTaskFn is used by tests to intercept the final user-mode
	// transfer.
	switchToTaskFn = (*user.Task).SwitchTo
)

// System call numbers serviced by the kernel.
const (
	syscallExit    = 0
	syscallPutByte = 1
)

// userTestPayload is a placeholder user program: an infinite loop followed
// by nops, enough to prove the sysret path and keep the CPU busy in ring 3.
var userTestPayload = []byte{
	0xeb, 0xfe, // here: jmp here
	0x90, 0x90, 0x90, 0x90,
	0x90, 0x90, 0x90, 0x90,
}

// Kernel is the explicit context object holding every kernel-wide singleton.
// It is constructed exactly once during boot and passed by reference to the
// subsystems that need it; nothing in the kernel reaches for ambient global
// state.
type Kernel struct {
	Registry *cap.Registry
	Frames   *pmm.Allocator
	Space    *vmm.AddressSpace
	Sched    *sched.Scheduler
	Keyboard *kbd.Keyboard
	Console  *console.VGAText
}

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT and a minimal g0 struct that allows running Go
// code on the boot stack.
//
// The rt0 code passes the address of the multiboot info payload provided by
// the bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	k := &Kernel{
		Registry: cap.NewRegistry(),
		Frames:   &pmm.Allocator{},
		Keyboard: kbd.New(),
		Console:  console.New(),
	}
	k.Sched = sched.New(k.Keyboard)

	// Attaching the console flushes everything logged so far.
	kfmt.SetOutputSink(k.Console)
	kfmt.Printf("contos: booting\n")

	// Memory: physical frames first, then the virtual address space
	// covering the lower canonical half above the kernel image.
	k.Frames.Init(kernelStart, kernelEnd)
	k.Frames.PrintMemoryMap()
	k.Space = vmm.NewAddressSpace(k.Frames, mm.PageFromAddress(kernelEnd)+1, mm.MaxPage)

	// Interrupts: gates, fault handlers, then the PIC/PIT and the two
	// IRQ producers the scheduler observes.
	irq.Init()
	k.Space.InstallFaultHandlers()
	irq.RemapPIC()
	irq.SetTimerFrequency(time.TickFrequency)
	irq.HandleIRQ(irq.TimerIRQ, func(_ *irq.Frame, _ *irq.Regs) { time.Tick() })
	irq.HandleIRQ(irq.KeyboardIRQ, k.Keyboard.HandleInterrupt)

	// The system call path back from ring 3.
	user.InitSyscall()
	user.HandleSyscall(syscallExit, k.handleExit)
	user.HandleSyscall(syscallPutByte, k.handlePutByte)

	k.Sched.Enqueue(sched.Pending{Kind: sched.Now(), Cont: sched.NewContinuation(k.greet)})

	cpu.EnableInterrupts()
	k.Sched.Start()

	// Start never returns; reaching this point means the dispatch loop
	// broke its contract.
	kernel.Panic(errKmainReturned)
}

// greet is the first continuation: announce the scheduler and wait a few
// seconds before asking for input.
func (k *Kernel) greet(_ sched.Event) sched.Result {
	kfmt.Printf("contos: scheduler online; waiting 4s\n")

	return sched.Success(sched.Pending{
		Kind: sched.Until(time.Now().After(4)),
		Cont: sched.NewContinuation(k.promptForKey),
	})
}

func (k *Kernel) promptForKey(_ sched.Event) sched.Result {
	kfmt.Printf("contos: press any key to start the user task\n")

	return sched.Success(sched.Pending{
		Kind: sched.Keyboard(),
		Cont: sched.NewContinuation(k.startUserTask),
	})
}

// startUserTask echoes the consumed byte, builds the capability-backed user
// task and hands control to ring 3.
func (k *Kernel) startUserTask(event sched.Event) sched.Result {
	kfmt.Printf("contos: got %c; entering user mode\n", event.Byte)

	task, err := user.LoadTask(k.Registry, k.Space, userTestPayload)
	if err != nil {
		return sched.Error(sched.NewContinuation(func(sched.Event) sched.Result {
			kfmt.Printf("contos: user task setup failed: %s\n", err.Message)
			return sched.Done()
		}))
	}

	switchToTaskFn(task)
	return sched.Done()
}

// handleExit terminates the calling task and falls back into the scheduler
// instead of resuming user mode.
func (k *Kernel) handleExit(regs *user.RegSnapshot) {
	kfmt.Printf("contos: user task exited with status %d\n", regs.RBX)
	k.Sched.Start()
}

// handlePutByte prints the byte in RBX on behalf of the calling task, which
// is then resumed.
func (k *Kernel) handlePutByte(regs *user.RegSnapshot) {
	kfmt.Printf("%c", byte(regs.RBX))
}
