package ami

import (
	"bufio"
	"io"
)

// Writer encodes events back into AMI wire format, for captures.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write encodes evt followed by the blank line that ends it.
func (w *Writer) Write(evt Event) error {
	for _, h := range evt.headers {
		if h.Key == "" {
			w.w.WriteString(h.Value + "\r\n")
			continue
		}
		w.w.WriteString(h.Key + ": " + h.Value + "\r\n")
	}
	_, err := w.w.WriteString("\r\n")
	return err
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
