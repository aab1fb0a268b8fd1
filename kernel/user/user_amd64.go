//go:build amd64

// Package user builds capability-backed ring-3 tasks and performs the
// kernel/user control transfers in both directions: sysret to enter user
// mode and the fast system call entry path back into the kernel.
package user

import (
	"unsafe"

	"contos/kernel"
	"contos/kernel/cap"
	"contos/kernel/cpu"
	"contos/kernel/kfmt"
	"contos/kernel/mm"
	"contos/kernel/mm/vmm"
)

const (
	// userStackPages is the fixed size of a task's stack region.
	userStackPages = 1

	// rflagsDefault enables interrupts in user mode; bit 1 is the
	// always-set reserved bit.
	rflagsDefault = 0x202

	// rflagsIF masks the interrupt flag while the syscall entry runs on
	// the scratch stack.
	rflagsIF = 0x200
)

// Fast system call MSRs.
const (
	msrEFER  = 0xc0000080
	msrSTAR  = 0xc0000081
	msrLSTAR = 0xc0000082
	msrFMASK = 0xc0000084

	// eferSCE enables the syscall/sysret instruction pair.
	eferSCE = 1 << 0

	// kernelSegmentBase is loaded into STAR[47:32]: syscall sets
	// CS=base, SS=base+8.
	kernelSegmentBase = 0x08

	// userSegmentBase is loaded into STAR[63:48]: sysret sets
	// CS=base+16, SS=base+8 (both with RPL 3).
	userSegmentBase = 0x10
)

var (
	readMSRFn  = cpu.ReadMSR
	writeMSRFn = cpu.WriteMSR

	// switchToUserFn is used by tests to intercept the sysret transfer.
	switchToUserFn = switchToUser

	// memcopyFn is used by tests to capture payload copies instead of
	// writing through raw pointers.
	memcopyFn = kernel.Memcopy

	errUnknownSyscall   = &kernel.Error{Module: "user", Message: "unknown system call number"}
	errEmptyPayload     = &kernel.Error{Module: "user", Message: "task payload is empty"}
	errSyscallNumberOOR = &kernel.Error{Module: "user", Message: "system call number out of range"}
)

// RegSnapshot is the fixed register file loaded immediately before a mode
// switch and reconstructed on system call entry. All fields are zero unless
// explicitly set so no stale kernel register state leaks to user space.
//
// The field order is fixed: the assembly transfer stubs address the struct
// by byte offset.
type RegSnapshot struct {
	RIP    uint64
	RSP    uint64
	RFlags uint64
	RAX    uint64
	RBX    uint64
	RCX    uint64
	RDX    uint64
	RSI    uint64
	RDI    uint64
	RBP    uint64
	R8     uint64
	R9     uint64
	R10    uint64
	R11    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
}

// Task is a runnable ring-3 task: the register snapshot to load and the
// capability group standing in for its code and stack regions.
type Task struct {
	Regs   RegSnapshot
	Memory cap.Handle[*cap.Group]
}

// LoadTask builds a user task from a raw code payload: it allocates guarded
// code and stack regions, registers them, grants demand paging for both with
// user-accessible flags and copies the payload into the code region through
// its handle. The returned task starts at the payload's first byte with its
// stack pointer at the top of the stack region.
func LoadTask(reg *cap.Registry, space *vmm.AddressSpace, code []byte) (*Task, *kernel.Error) {
	if len(code) == 0 {
		return nil, errEmptyPayload
	}

	codePages := (uintptr(len(code)) + mm.PageSize - 1) >> mm.PageShift
	codeUnreg, err := space.AllocRegionWithGuard(codePages)
	if err != nil {
		return nil, err
	}
	stackUnreg, err := space.AllocRegionWithGuard(userStackPages)
	if err != nil {
		return nil, err
	}

	// The group snapshots the region objects before the wrappers are
	// consumed by registration.
	codeRes, stackRes := codeUnreg.Resource(), stackUnreg.Resource()
	codeHandle := codeUnreg.Register(reg)
	stackHandle := stackUnreg.Register(reg)

	// The code region stays writable so the loader's copy below can
	// demand-page it; the payload must remain executable so it carries no
	// NX flag. The stack is never executable.
	space.MapRegion(reg, codeHandle, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible)
	space.MapRegion(reg, stackHandle, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible|vmm.FlagNoExecute)

	entry := cap.With(reg, codeHandle, func(region *cap.VirtualMemoryRegion) uintptr {
		memcopyFn(uintptr(unsafe.Pointer(&code[0])), region.Start(), uintptr(len(code)))
		return region.Start()
	})

	// The stack grows downward from the end of its region; the byte just
	// past it belongs to the upper guard page.
	stackTop := cap.With(reg, stackHandle, func(region *cap.VirtualMemoryRegion) uintptr {
		return region.Start() + region.Len()
	})

	task := &Task{
		Memory: cap.NewUnregistered(cap.NewGroup(codeRes, stackRes)).Register(reg),
	}
	task.Regs.RIP = uint64(entry)
	task.Regs.RSP = uint64(stackTop)
	task.Regs.RFlags = rflagsDefault

	return task, nil
}

// SwitchTo loads the task's register snapshot and transfers control to ring
// 3 via sysret. It never returns.
func (t *Task) SwitchTo() {
	switchToUserFn(&t.Regs)
}

// SyscallHandler services one system call. It may mutate the snapshot (e.g.
// to set a return value in RAX) before the calling task is resumed.
type SyscallHandler func(*RegSnapshot)

var (
	// savedUserRegs is the statically known scratch area the syscall
	// entry stub spills the user register file into before any Go code
	// runs.
	savedUserRegs RegSnapshot

	// syscallStack is the kernel stack the syscall path executes on.
	syscallStack [512]uintptr

	syscallHandlers [64]SyscallHandler
)

// HandleSyscall registers a handler for the given system call number.
func HandleSyscall(num uint64, handler SyscallHandler) {
	if num >= uint64(len(syscallHandlers)) {
		panic(errSyscallNumberOOR)
	}
	syscallHandlers[num] = handler
}

// InitSyscall programs the fast system call MSRs: segment bases in STAR, the
// assembly entry stub in LSTAR and an FMASK that disables interrupts until
// the entry stub has switched to its kernel stack.
func InitSyscall() {
	writeMSRFn(msrEFER, readMSRFn(msrEFER)|eferSCE)
	writeMSRFn(msrSTAR, kernelSegmentBase<<32|userSegmentBase<<48)
	writeMSRFn(msrLSTAR, uint64(syscallEntryAddr()))
	writeMSRFn(msrFMASK, rflagsIF)
}

// syscallDispatch is called by the entry stub once the user register file
// has been saved and the kernel stack is active. It routes the request by
// the number in RAX and resumes the calling task with the (possibly
// modified) snapshot.
//
//go:nosplit
func syscallDispatch() {
	num := savedUserRegs.RAX
	if num < uint64(len(syscallHandlers)) {
		if handler := syscallHandlers[num]; handler != nil {
			handler(&savedUserRegs)
			switchToUserFn(&savedUserRegs)
		}
	}

	kfmt.Printf("\nUnknown system call %d invoked from 0x%16x\n", num, savedUserRegs.RIP)
	panic(errUnknownSyscall)
}

// switchToUser loads the snapshot into the hardware registers and issues
// sysret. It never returns.
func switchToUser(regs *RegSnapshot)

// syscallEntryAddr returns the address of the assembly syscall entry stub
// for LSTAR.
func syscallEntryAddr() uintptr
