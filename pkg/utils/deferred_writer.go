package utils

import (
	"bytes"
	"io"
	"sync"
)

// DeferredWriter passes writes through to an underlying writer until Hold
// is called. While held, writes are buffered in memory and replayed on
// Release. Safe for concurrent use.
type DeferredWriter struct {
	mu   sync.Mutex
	out  io.Writer
	held bool
	buf  bytes.Buffer
}

// NewDeferredWriter returns a DeferredWriter that writes to out.
func NewDeferredWriter(out io.Writer) *DeferredWriter {
	return &DeferredWriter{out: out}
}

func (d *DeferredWriter) Write(p []byte) (n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.held || d.out == nil {
		return d.buf.Write(p)
	}
	return d.out.Write(p)
}

// Hold starts buffering writes.
func (d *DeferredWriter) Hold() {
	d.mu.Lock()
	d.held = true
	d.mu.Unlock()
}

// Release writes everything buffered since Hold to the underlying writer
// and resumes passthrough.
func (d *DeferredWriter) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.held = false
	if d.buf.Len() == 0 || d.out == nil {
		return nil
	}

	_, err := d.buf.WriteTo(d.out)
	return err
}
