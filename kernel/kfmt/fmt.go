// Package kfmt implements the kernel's diagnostic sink: a Printf that works
// before the heap is available and a Panic that reports fatal errors and
// halts the CPU.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize is large enough to hold a 64-bit value formatted in base 8.
const maxBufSize = 24

var (
	errMissingArg   = "(MISSING)"
	errWrongArgType = "%!(WRONGTYPE)"
	errNoVerb       = "%!(NOVERB)"
	errExtraArg     = "%!(EXTRA)"

	digits = "0123456789abcdef"

	// numBuf is shared by all formatting calls; the kernel is single
	// threaded while the memory subsystem is brought up.
	numBuf [maxBufSize]byte

	// earlyPrintBuffer captures Printf output until an output sink is
	// registered via SetOutputSink.
	earlyPrintBuffer ringBuffer

	// outputSink receives all Printf output. When nil, output is
	// redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and replays any
// output accumulated in the early print buffer.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the registered output sink or the early print buffer
// if no sink has been set.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf formats according to a format specifier and writes to the active
// output sink. It supports the following subset of fmt verbs:
//
//	%s  string or byte slice
//	%d  base 10 integer, left-padded with spaces to the requested width
//	%x  base 16 integer, left-padded with zeroes to the requested width
//	%o  base 8 integer, left-padded with zeroes to the requested width
//	%t  boolean
//	%%  literal percent sign
//
// A width is given as a decimal number between the % and the verb. Integer
// output is never wider than 24 characters; larger widths are capped. For
// negative %x and %o values the zeroes follow the sign. Printf never calls
// String() on its arguments.
func Printf(format string, args ...interface{}) {
	Fprintf(GetOutputSink(), format, args...)
}

// Fprintf behaves like Printf but writes its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex   int
		blockStart int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[blockStart:i])

		width := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			writeString(w, errNoVerb)
			blockStart = i
			break
		}

		verb := format[i]
		blockStart = i + 1

		if verb == '%' {
			writeString(w, "%")
			continue
		}

		if argIndex >= len(args) {
			writeString(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 's':
			fmtString(w, arg, width)
		case 't':
			fmtBool(w, arg)
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		default:
			writeString(w, errNoVerb)
		}
	}

	if blockStart < len(format) {
		writeString(w, format[blockStart:])
	}

	for ; argIndex < len(args); argIndex++ {
		writeString(w, errExtraArg)
	}
}

func fmtString(w io.Writer, arg interface{}, width int) {
	var s string
	switch v := arg.(type) {
	case string:
		s = v
	case []byte:
		s = unsafe.String(unsafe.SliceData(v), len(v))
	default:
		writeString(w, errWrongArgType)
		return
	}

	for pad := width - len(s); pad > 0; pad-- {
		writeString(w, " ")
	}
	writeString(w, s)
}

func fmtBool(w io.Writer, arg interface{}) {
	v, ok := arg.(bool)
	switch {
	case !ok:
		writeString(w, errWrongArgType)
	case v:
		writeString(w, "true")
	default:
		writeString(w, "false")
	}
}

func fmtInt(w io.Writer, arg interface{}, base uint64, width int) {
	var (
		val      uint64
		negative bool
	)

	switch v := arg.(type) {
	case uint8:
		val = uint64(v)
	case uint16:
		val = uint64(v)
	case uint32:
		val = uint64(v)
	case uint64:
		val = v
	case uint:
		val = uint64(v)
	case uintptr:
		val = uint64(v)
	case int8:
		val, negative = abs(int64(v))
	case int16:
		val, negative = abs(int64(v))
	case int32:
		val, negative = abs(int64(v))
	case int64:
		val, negative = abs(v)
	case int:
		val, negative = abs(int64(v))
	default:
		writeString(w, errWrongArgType)
		return
	}

	pos := maxBufSize
	for {
		pos--
		numBuf[pos] = digits[val%base]
		val /= base
		if val == 0 {
			break
		}
	}

	// Zeroes go between the sign and the digits; spaces go before the sign.
	// One slot is kept free for the sign.
	if base != 10 {
		signLen := 0
		if negative {
			signLen = 1
		}
		for pad := width - signLen - (maxBufSize - pos); pad > 0 && pos > signLen; pad-- {
			pos--
			numBuf[pos] = '0'
		}
	}

	if negative {
		pos--
		numBuf[pos] = '-'
	}

	for pad := width - (maxBufSize - pos); pad > 0 && pos > 0; pad-- {
		pos--
		numBuf[pos] = ' '
	}

	_, _ = w.Write(numBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// writeString writes s to w without converting it to a heap-allocated byte
// slice.
func writeString(w io.Writer, s string) {
	if len(s) == 0 {
		return
	}
	_, _ = w.Write(unsafe.Slice(unsafe.StringData(s), len(s)))
}
