package main

import "contos/kernel/kmain"

var bootInfoPtr uintptr

// main makes a dummy call to the actual kernel entrypoint function. It is
// intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code as it is not aware of the presence of the rt0 code.
//
// The rt0 assembly invokes kmain.Kmain directly after setting up the GDT and
// a minimal g0 struct that allows running Go code on the boot stack. A global
// variable is passed as an argument to Kmain to prevent the compiler from
// inlining the call and removing Kmain from the generated object file.
func main() {
	kmain.Kmain(bootInfoPtr, 0, 0)
}
