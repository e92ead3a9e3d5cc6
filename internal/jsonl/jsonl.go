// Package jsonl reads and writes JSON Lines: one JSON value per line.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MaxLineSize bounds a single line. Segments embed their messages, so lines
// can be large.
const MaxLineSize = 64 * 1024 * 1024

// Writer buffers encoded values. Call Flush when done.
type Writer struct {
	bw  *bufio.Writer
	enc *json.Encoder
	n   int
}

func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Writer{bw: bw, enc: enc}
}

// Write encodes v followed by a newline.
func (w *Writer) Write(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("write line %d: %w", w.n+1, err)
	}
	w.n++
	return nil
}

func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Count returns how many values have been written.
func (w *Writer) Count() int { return w.n }

// LineError is a line that did not decode. Reading may continue.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Reader decodes one value per line, skipping blank lines.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024*1024), MaxLineSize)
	return &Reader{sc: sc}
}

// Next decodes the next line into v. It returns io.EOF at the end, a
// *LineError for a malformed line, or a read error.
func (r *Reader) Next(v any) error {
	for r.sc.Scan() {
		r.line++
		b := bytes.TrimSpace(r.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		if err := json.Unmarshal(b, v); err != nil {
			return &LineError{Line: r.line, Err: err}
		}
		return nil
	}
	if err := r.sc.Err(); err != nil {
		return fmt.Errorf("read line %d: %w", r.line+1, err)
	}
	return io.EOF
}

// Line returns the number of the last line read.
func (r *Reader) Line() int { return r.line }
