package kfmt

import (
	"bytes"
	"strings"
	"testing"
)

func TestFprintf(t *testing.T) {
	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"no verbs", nil, "no verbs"},
		{"100%%", nil, "100%"},
		{"[%s] mapped", []interface{}{"vmm"}, "[vmm] mapped"},
		{"%s|%5s|", []interface{}{[]byte("ab"), "cd"}, "ab|   cd|"},
		{"%t %t", []interface{}{true, false}, "true false"},
		{"%d %d %d", []interface{}{0, int8(-12), uint64(18446744073709551615)}, "0 -12 18446744073709551615"},
		{"%4d|", []interface{}{uint16(42)}, "  42|"},
		{"0x%x", []interface{}{uintptr(0xb8000)}, "0xb8000"},
		{"0x%16x", []interface{}{uintptr(0xb8000)}, "0x00000000000b8000"},
		{"%o", []interface{}{uint32(8)}, "10"},
		{"%x", []interface{}{int64(-255)}, "-ff"},
		{"%4x|", []interface{}{-5}, "-005|"},
		{"%6o|", []interface{}{int8(-8)}, "-00010|"},
		{"%2x|", []interface{}{-5}, "-5|"},
		{"%5d|", []interface{}{-5}, "   -5|"},
		// integer widths are capped at 24 characters
		{"%30x|", []interface{}{uint8(0xff)}, strings.Repeat("0", 22) + "ff|"},
		{"%30x|", []interface{}{-1}, "-" + strings.Repeat("0", 22) + "1|"},
		{"%30d|", []interface{}{-5}, strings.Repeat(" ", 22) + "-5|"},
		{"%d", []interface{}{"string"}, "%!(WRONGTYPE)"},
		{"%s", []interface{}{42}, "%!(WRONGTYPE)"},
		{"%t", []interface{}{1}, "%!(WRONGTYPE)"},
		{"%d %d", []interface{}{1}, "1 (MISSING)"},
		{"%d", []interface{}{1, 2}, "1%!(EXTRA)"},
		{"trailing %", nil, "trailing %!(NOVERB)"},
		{"%q", []interface{}{1}, "%!(NOVERB)"},
	}

	var buf bytes.Buffer
	for specIndex, spec := range specs {
		buf.Reset()
		Fprintf(&buf, spec.format, spec.args...)

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected to get %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestPrintfEarlyBuffer(t *testing.T) {
	defer SetOutputSink(nil)
	SetOutputSink(nil)
	earlyPrintBuffer = ringBuffer{}

	Printf("[boot] physical memory offset: 0x%x\n", uintptr(0x10000000000))

	var buf bytes.Buffer
	SetOutputSink(&buf)

	exp := "[boot] physical memory offset: 0x10000000000\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected early output %q to be replayed; got %q", exp, got)
	}

	Printf("[vmm] %s", "ready")
	if got := buf.String(); got != exp+"[vmm] ready" {
		t.Fatalf("expected Printf to write to the registered sink; got %q", got)
	}

	if GetOutputSink() != &buf {
		t.Fatal("expected GetOutputSink to return the registered sink")
	}
}
