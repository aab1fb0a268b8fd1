// Package kfmt provides a minimal Printf implementation that can be safely
// used before the Go runtime has been properly initialized. The implementation
// does not allocate any memory.
package kfmt

import "io"

// maxNumBufSize defines the buffer size for formatting numbers.
const maxNumBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf = []byte("01234567890123456789012345678901")

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer stores Printf output generated before a console
	// becomes available.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. If nil,
	// output is redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf writes a formatted string to the active output sink. The following
// subset of formatting verbs is supported:
//
//	%s  string or []byte
//	%o  integer, base 8
//	%d  integer, base 10
//	%x  integer, base 16 (lower-case)
//	%c  byte, as a raw character
//	%t  "true" or "false"
//
// An optional decimal width may precede the verb. Strings and base-10 values
// are left-padded with spaces; base-8 and base-16 values are left-padded with
// zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArgIndex int
		padLen       int
		fmtLen       = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		// Scan the optional width and the verb that follows it.
		padLen = 0
		i++
		if i == fmtLen {
			doWrite(w, errNoVerb)
			return
		}

		for ; i < fmtLen && format[i] >= '0' && format[i] <= '9'; i++ {
			padLen = (padLen * 10) + int(format[i]-'0')
		}
		if i == fmtLen {
			doWrite(w, errNoVerb)
			return
		}

		if format[i] == '%' {
			writeByte(w, '%')
			continue
		}

		if nextArgIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		arg := args[nextArgIndex]
		nextArgIndex++

		switch format[i] {
		case 'o':
			fmtInt(w, arg, 8, padLen)
		case 'd':
			fmtInt(w, arg, 10, padLen)
		case 'x':
			fmtInt(w, arg, 16, padLen)
		case 's':
			fmtString(w, arg, padLen)
		case 'c':
			fmtChar(w, arg)
		case 't':
			fmtBool(w, arg)
		default:
			doWrite(w, errNoVerb)
		}
	}

	// Check for unused args
	for ; nextArgIndex < len(args); nextArgIndex++ {
		doWrite(w, errExtraArg)
	}
}

func doWrite(w io.Writer, p []byte) {
	if w == nil {
		w = &earlyPrintBuffer
	}
	w.Write(p)
}

// writeByte emits a single byte through the shared buffer; slicing a string
// argument would trigger a memory allocation.
func writeByte(w io.Writer, b byte) {
	singleByte[0] = b
	doWrite(w, singleByte)
}

func fmtBool(w io.Writer, v interface{}) {
	switch bVal := v.(type) {
	case bool:
		if bVal {
			doWrite(w, trueValue)
		} else {
			doWrite(w, falseValue)
		}
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtChar(w io.Writer, v interface{}) {
	switch cVal := v.(type) {
	case byte:
		writeByte(w, cVal)
	case rune:
		writeByte(w, byte(cVal))
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtString(w io.Writer, v interface{}, padLen int) {
	switch sVal := v.(type) {
	case string:
		for i := len(sVal); i < padLen; i++ {
			writeByte(w, ' ')
		}
		for i := 0; i < len(sVal); i++ {
			writeByte(w, sVal[i])
		}
	case []byte:
		for i := len(sVal); i < padLen; i++ {
			writeByte(w, ' ')
		}
		doWrite(w, sVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. All built-in signed and unsigned integer
// types are supported.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval     int64
		uval     uint64
		negative bool
		padCh    byte
		digits   int
	)

	if padLen >= maxNumBufSize {
		padLen = maxNumBufSize - 1
	}

	if base == 10 {
		padCh = ' '
	} else {
		padCh = '0'
	}

	switch cast := v.(type) {
	case uint8:
		uval = uint64(cast)
	case uint16:
		uval = uint64(cast)
	case uint32:
		uval = uint64(cast)
	case uint64:
		uval = cast
	case uint:
		uval = uint64(cast)
	case uintptr:
		uval = uint64(cast)
	case int8:
		sval = int64(cast)
	case int16:
		sval = int64(cast)
	case int32:
		sval = int64(cast)
	case int64:
		sval = cast
	case int:
		sval = int64(cast)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if sval < 0 {
		negative = true
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for {
		remainder := uval % uint64(base)
		if remainder < 10 {
			numFmtBuf[digits] = byte(remainder) + '0'
		} else {
			numFmtBuf[digits] = byte(remainder-10) + 'a'
		}
		digits++

		uval /= uint64(base)
		if uval == 0 {
			break
		}
	}

	if negative {
		numFmtBuf[digits] = '-'
		digits++
	}

	for i := digits; i < padLen; i++ {
		writeByte(w, padCh)
	}
	for i := digits - 1; i >= 0; i-- {
		writeByte(w, numFmtBuf[i])
	}
}
