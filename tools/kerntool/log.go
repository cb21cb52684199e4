package main

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
)

// kernelLogWriter implements io.Writer and logs every complete line written
// by the kernel as a separate logrus entry. Writes are logged synchronously so
// nothing is lost when the process exits right after the last write.
type kernelLogWriter struct {
	entry *logrus.Entry

	mu sync.Mutex
	// partial holds the bytes written after the last newline.
	partial []byte
}

func newKernelLogWriter(logger *logrus.Logger) *kernelLogWriter {
	return &kernelLogWriter{entry: logrus.NewEntry(logger)}
}

// Write implements io.Writer.
func (w *kernelLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.entry.Info(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}

	if len(w.partial) == 0 {
		w.partial = nil
	}
	return len(p), nil
}

// Flush logs any unterminated line.
func (w *kernelLogWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) != 0 {
		w.entry.Info(string(w.partial))
		w.partial = nil
	}
}
