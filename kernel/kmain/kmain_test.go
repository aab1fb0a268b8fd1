package kmain

import (
	"bytes"
	"testing"

	"contos/kernel/kfmt"
	"contos/kernel/user"
)

func TestPutByteSyscallEchoesToConsole(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	k := &Kernel{}
	k.handlePutByte(&user.RegSnapshot{RBX: 'x'})
	k.handlePutByte(&user.RegSnapshot{RBX: '\n'})

	if got, exp := buf.String(), "x\n"; got != exp {
		t.Fatalf("expected console output %q; got %q", exp, got)
	}
}
