package kernel

import (
	"testing"
	"unsafe"
)

func TestMemset(t *testing.T) {
	// memset with a 0 size should be a no-op
	Memset(uintptr(0), 0x00, 0)

	for _, size := range []int{1, 3, 4096, 4096 * 3, 4096*2 + 17} {
		buf := make([]byte, size+2)
		for i := range buf {
			buf[i] = 0xfe
		}

		Memset(uintptr(unsafe.Pointer(&buf[1])), 0x00, uintptr(size))

		if buf[0] != 0xfe || buf[size+1] != 0xfe {
			t.Errorf("[size %d] Memset wrote outside the requested block", size)
		}

		for i := 1; i <= size; i++ {
			if got := buf[i]; got != 0x00 {
				t.Errorf("[size %d] expected byte %d to be 0x00; got 0x%x", size, i, got)
				break
			}
		}
	}
}
