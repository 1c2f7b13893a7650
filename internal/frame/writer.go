package frame

import (
	"bytes"
	"fmt"
	"io"

	"stagehand/util"
)

// Writer encodes units onto a payload stream.  It is the producer half
// of the protocol: the caller must write parents before children.
type Writer struct {
	w      io.Writer
	closed bool
}

// NewWriter returns a Writer that frames units onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteUnit frames a unit held in memory.
func (w *Writer) WriteUnit(name string, content []byte) error {
	return w.WriteFrom(name, int64(len(content)), bytes.NewReader(content))
}

// WriteFrom frames a unit of exactly size bytes read from src.
func (w *Writer) WriteFrom(name string, size int64, src io.Reader) error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("frame: unit %q: negative size %d", name, size)
	}

	if _, err := fmt.Fprintf(w.w, "%s\n%d\n", name, size); err != nil {
		return fmt.Errorf("frame: unit %q header: %w", name, err)
	}

	buf := util.GetBuf()
	defer util.PutBuf(buf)
	n, err := io.CopyBuffer(w.w, io.LimitReader(src, size), *buf)
	if err != nil {
		return fmt.Errorf("frame: unit %q content: %w", name, err)
	}
	if n != size {
		return fmt.Errorf("frame: unit %q content: short source, %d of %d bytes", name, n, size)
	}
	return nil
}

// KeepAlive writes a blank line, which readers skip.
func (w *Writer) KeepAlive() error {
	if w.closed {
		return ErrWriterClosed
	}
	_, err := io.WriteString(w.w, "\n")
	return err
}

// Close writes the sentinel.  It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := io.WriteString(w.w, Sentinel+"\n")
	return err
}
