package encoding

import (
	"bytes"
	"math"
)

// Writer accumulates a module's on-disk byte representation. It is used by
// tests and by any external module producer (the compiler front-end, out of
// scope here) to build the binary format described in spec §6.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// WriteByte implements io.ByteWriter.
func (w *Writer) WriteByte(b byte) error {
	return w.buf.WriteByte(b)
}

// WriteN appends raw bytes.
func (w *Writer) WriteN(b []byte) {
	w.buf.Write(b)
}

// WriteU32 appends a little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	w.buf.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// WriteF32 appends a little-endian IEEE-754 single.
func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

// WriteString appends a VLE-length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) error {
	if err := WriteUVLE(w, uint64(len(s))); err != nil {
		return err
	}
	w.buf.WriteString(s)
	return nil
}
