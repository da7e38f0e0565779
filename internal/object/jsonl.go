package object

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const maxLineBytes = 4 * 1024 * 1024

// Decode reads newline-delimited JSON descriptors. Blank lines are skipped.
func Decode(r io.Reader) ([]Descriptor, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []Descriptor
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var d Descriptor
		if err := json.Unmarshal([]byte(text), &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan descriptors: %w", err)
	}
	return out, nil
}

// ReadFile loads descriptors from path. An empty path yields no descriptors.
func ReadFile(path string) ([]Descriptor, error) {
	if path == "" {
		return nil, nil
	}
	// #nosec G304 -- the path is supplied by the operator.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	descriptors, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return descriptors, nil
}

// Truncate empties every existing file in paths. Missing files are left alone.
func Truncate(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := os.Truncate(p, 0)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("truncate %s: %w", p, err)
		}
	}
	return nil
}

// Writer appends descriptors as JSON lines. A nil Writer discards everything.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	enc *json.Encoder
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{w: w, enc: enc}
}

// OpenAppend opens path for appending, creating it if needed.
// An empty path returns a nil Writer.
func OpenAppend(path string) (*Writer, error) {
	if path == "" {
		return nil, nil
	}
	// #nosec G304 -- the path is supplied by the operator.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s for append: %w", path, err)
	}
	w := NewWriter(f)
	w.c = f
	return w, nil
}

// Append writes one descriptor on its own line.
func (w *Writer) Append(d Descriptor) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(d); err != nil {
		return fmt.Errorf("append descriptor: %w", err)
	}
	return nil
}

// Close releases the underlying file, if any.
func (w *Writer) Close() error {
	if w == nil || w.c == nil {
		return nil
	}
	if err := w.c.Close(); err != nil {
		return fmt.Errorf("close descriptor log: %w", err)
	}
	return nil
}
