package kernel

import (
	"bytes"
	"testing"

	"contos/kernel/kfmt"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = func() {}
		kfmt.SetOutputSink(nil)
	}()

	var cpuHaltCalled bool
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}

	t.Run("with *kernel.Error", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)

		err := &Error{Module: "test", Message: "panic test"}
		Panic(err)

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt to be called by Panic")
		}

		exp := "\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}
	})

	t.Run("with error", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)

		Panic(&Error{Module: "rt", Message: "go runtime error"})

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt to be called by Panic")
		}
	})

	t.Run("without error", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)

		Panic(nil)

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt to be called by Panic")
		}

		exp := "\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}
	})
}
