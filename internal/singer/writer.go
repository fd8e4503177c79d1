package singer

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
)

// Writer emits Singer messages as JSON lines
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

// NewWriter creates a Writer on w, usually stdout
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{buf: buf, enc: json.NewEncoder(buf)}
}

// Write encodes msg on its own line. STATE messages are flushed at once.
func (w *Writer) Write(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	if msg.Type == TypeState {
		return w.buf.Flush()
	}
	return nil
}

// Flush writes any buffered messages
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}
