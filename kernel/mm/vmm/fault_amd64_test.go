package vmm

import (
	"bytes"
	"testing"

	"contos/kernel"
	"contos/kernel/cap"
	"contos/kernel/cpu"
	"contos/kernel/irq"
	"contos/kernel/kfmt"
	"contos/kernel/mm"
)

// faultFixture wires an address space with a single guarded, mapped region
// and intercepts CR2 reads and leaf mappings.
type faultFixture struct {
	space   *AddressSpace
	frames  *fakeFrameAllocator
	start   uintptr
	length  uintptr
	mapped  map[mm.Page]mm.Frame
	flags   []PageTableEntryFlag
	faultAt uintptr
}

func newFaultFixture(t *testing.T, pageCount uintptr, flags PageTableEntryFlag) *faultFixture {
	t.Helper()

	space, frames := testAddressSpace()
	reg := cap.NewRegistry()

	unreg, err := space.AllocRegionWithGuard(pageCount)
	if err != nil {
		t.Fatal(err)
	}

	handle := unreg.Register(reg)
	space.MapRegion(reg, handle, flags)

	fixture := &faultFixture{
		space:  space,
		frames: frames,
		start:  cap.With(reg, handle, func(r *cap.VirtualMemoryRegion) uintptr { return r.Start() }),
		length: cap.With(reg, handle, func(r *cap.VirtualMemoryRegion) uintptr { return r.Len() }),
		mapped: make(map[mm.Page]mm.Frame),
	}

	readCR2Fn = func() uint64 { return uint64(fixture.faultAt) }
	mapPageFn = func(_ *AddressSpace, page mm.Page, frame mm.Frame, mapFlags PageTableEntryFlag) *kernel.Error {
		fixture.mapped[page] = frame
		fixture.flags = append(fixture.flags, mapFlags)
		return nil
	}
	t.Cleanup(func() {
		readCR2Fn = cpu.ReadCR2
		mapPageFn = (*AddressSpace).Map
	})

	return fixture
}

func (f *faultFixture) fault(errorCode uint64) {
	f.space.pageFaultHandler(errorCode, &irq.Frame{}, &irq.Regs{})
}

func TestPageFaultCommitsOneFrame(t *testing.T) {
	mapFlags := FlagPresent | FlagRW | FlagUserAccessible
	fixture := newFaultFixture(t, 1, mapFlags)

	fixture.faultAt = fixture.start
	fixture.fault(2)

	if fixture.frames.allocated != 1 {
		t.Fatalf("expected exactly one frame to be committed; got %d", fixture.frames.allocated)
	}

	frame, ok := fixture.mapped[mm.PageFromAddress(fixture.start)]
	if !ok {
		t.Fatal("expected a mapping to be installed for the faulting page")
	}
	if frame != mm.Frame(0x100) {
		t.Fatalf("expected the committed frame to be 0x100; got 0x%x", frame)
	}
	if len(fixture.flags) != 1 || fixture.flags[0] != mapFlags {
		t.Fatalf("expected the mapping to use the recorded flags 0x%x; got %v", mapFlags, fixture.flags)
	}
}

func TestPageFaultMapsFaultingPageNotRegionStart(t *testing.T) {
	fixture := newFaultFixture(t, 4, FlagPresent|FlagRW)

	fixture.faultAt = fixture.start + 2*mm.PageSize + 42
	fixture.fault(2)

	if _, ok := fixture.mapped[mm.PageFromAddress(fixture.faultAt)]; !ok {
		t.Fatal("expected the mapping to be installed for the page containing the fault address")
	}
	if _, ok := fixture.mapped[mm.PageFromAddress(fixture.start)]; ok {
		t.Fatal("expected no mapping to be installed for the region start")
	}
}

func TestTwoFaultsCommitTwoFrames(t *testing.T) {
	fixture := newFaultFixture(t, 2, FlagPresent|FlagRW)

	fixture.faultAt = fixture.start
	fixture.fault(2)
	fixture.faultAt = fixture.start + mm.PageSize
	fixture.fault(2)

	if fixture.frames.allocated != 2 {
		t.Fatalf("expected exactly two frames to be committed; got %d", fixture.frames.allocated)
	}
	if len(fixture.mapped) != 2 {
		t.Fatalf("expected two distinct pages to be mapped; got %d", len(fixture.mapped))
	}
}

func TestGuardPageFaultIsFatal(t *testing.T) {
	fixture := newFaultFixture(t, 1, FlagPresent|FlagRW)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	defer func() {
		kfmt.SetOutputSink(nil)
		if err := recover(); err != errUnrecoverableFault {
			t.Fatalf("expected panic with errUnrecoverableFault; got %v", err)
		}
		if fixture.frames.allocated != 0 {
			t.Errorf("expected no frame to be committed for a guard page fault; got %d", fixture.frames.allocated)
		}
		if !bytes.Contains(buf.Bytes(), []byte("Page fault while accessing address")) {
			t.Error("expected the fault address to be reported before panicking")
		}
	}()

	// One byte below the usable span lands inside the lower guard page.
	fixture.faultAt = fixture.start - 1
	fixture.fault(0)
}

func TestFaultOutsideAnyRegionIsFatal(t *testing.T) {
	fixture := newFaultFixture(t, 1, FlagPresent|FlagRW)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	defer func() {
		kfmt.SetOutputSink(nil)
		if err := recover(); err != errUnrecoverableFault {
			t.Fatalf("expected panic with errUnrecoverableFault; got %v", err)
		}
	}()

	// The byte at start+len lands inside the upper guard page.
	fixture.faultAt = fixture.start + fixture.length
	fixture.fault(2)
}

func TestPageFaultFrameExhaustionIsFatal(t *testing.T) {
	fixture := newFaultFixture(t, 1, FlagPresent|FlagRW)
	outOfMemory := &kernel.Error{Module: "test", Message: "out of frames"}
	fixture.frames.err = outOfMemory

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	defer func() {
		kfmt.SetOutputSink(nil)
		if err := recover(); err != outOfMemory {
			t.Fatalf("expected panic with the allocator error; got %v", err)
		}
	}()

	fixture.faultAt = fixture.start
	fixture.fault(2)
}

func TestInstallFaultHandlers(t *testing.T) {
	defer func() { handleExceptionWithCodeFn = irq.HandleExceptionWithCode }()

	var registered []irq.ExceptionNum
	handleExceptionWithCodeFn = func(num irq.ExceptionNum, _ irq.ExceptionHandlerWithCode) {
		registered = append(registered, num)
	}

	space, _ := testAddressSpace()
	space.InstallFaultHandlers()

	exp := []irq.ExceptionNum{irq.PageFaultException, irq.GPFException, irq.DoubleFault}
	if len(registered) != len(exp) {
		t.Fatalf("expected %d handler registrations; got %d", len(exp), len(registered))
	}
	for index, num := range exp {
		if registered[index] != num {
			t.Errorf("[registration %d] expected exception %d; got %d", index, num, registered[index])
		}
	}
}
