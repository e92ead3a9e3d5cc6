// Package parser recovers top-level JSON objects written back to back with
// no array brackets or delimiters, as produced by the message exporter.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/MikeSquared-Agency/convoseg/internal/message"
)

// DefaultMaxObjectSize bounds a single buffered object (10MB).
const DefaultMaxObjectSize = 10 * 1024 * 1024

// Reasons a located span could not be turned into a record.
const (
	ReasonDecode    = "decode"
	ReasonStray     = "stray"
	ReasonTruncated = "truncated"
	ReasonOversize  = "oversize"
)

// ParseError reports a span of input that did not yield a record. It is
// recoverable: the scanner has already advanced past the span.
type ParseError struct {
	Index  int   // 1-based ordinal of the object; 0 for stray bytes
	Offset int64 // byte offset where the span starts
	Length int64
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at offset %d (%d bytes): %v", e.Reason, e.Offset, e.Length, e.Err)
	}
	return fmt.Sprintf("%s at offset %d (%d bytes)", e.Reason, e.Offset, e.Length)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Ref identifies the span for issue reporting.
func (e *ParseError) Ref() string {
	if e.Index == 0 {
		return fmt.Sprintf("offset %d", e.Offset)
	}
	return fmt.Sprintf("object#%d@%d", e.Index, e.Offset)
}

// Scanner yields objects one at a time. It is single pass.
type Scanner struct {
	r       *bufio.Reader
	offset  int64
	index   int
	start   int64
	maxSize int64
	done    bool
}

// New returns a Scanner reading from r.
func New(r io.Reader) *Scanner {
	return &Scanner{
		r:       bufio.NewReaderSize(r, 64*1024),
		maxSize: DefaultMaxObjectSize,
	}
}

// SetMaxObjectSize overrides DefaultMaxObjectSize.
func (s *Scanner) SetMaxObjectSize(n int64) {
	if n > 0 {
		s.maxSize = n
	}
}

// Index returns how many objects have been located so far.
func (s *Scanner) Index() int { return s.index }

// Ref names the most recently located object, in the same form as
// ParseError.Ref.
func (s *Scanner) Ref() string {
	return fmt.Sprintf("object#%d@%d", s.index, s.start)
}

// Next returns the next object. It returns io.EOF when input is exhausted,
// a *ParseError for a span that could not be decoded (call Next again to
// continue), or any other error for a failed read.
func (s *Scanner) Next() (message.Raw, error) {
	if s.done {
		return message.Raw{}, io.EOF
	}

	for {
		b, err := s.readByte()
		if err != nil {
			return message.Raw{}, s.finish(err)
		}
		if isSpace(b) {
			continue
		}
		if b != '{' {
			return message.Raw{}, s.skipStray()
		}
		return s.scanObject()
	}
}

func (s *Scanner) readByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, err
	}
	s.offset++
	return b, nil
}

func (s *Scanner) unreadByte() {
	if err := s.r.UnreadByte(); err == nil {
		s.offset--
	}
}

func (s *Scanner) finish(err error) error {
	if errors.Is(err, io.EOF) {
		s.done = true
		return io.EOF
	}
	return fmt.Errorf("read input: %w", err)
}

// skipStray consumes bytes outside any object up to the next '{'.
func (s *Scanner) skipStray() error {
	start := s.offset - 1
	for {
		b, err := s.readByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("read input: %w", err)
			}
			s.done = true
			break
		}
		if b == '{' {
			s.unreadByte()
			break
		}
	}
	return &ParseError{Offset: start, Length: s.offset - start, Reason: ReasonStray}
}

// scanObject reads from just after an opening brace to its matching close,
// ignoring braces inside string literals.
func (s *Scanner) scanObject() (message.Raw, error) {
	s.index++
	start := s.offset - 1
	s.start = start
	buf := []byte{'{'}
	oversize := false

	depth := 1
	inString := false
	escaped := false

	for depth > 0 {
		b, err := s.readByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return message.Raw{}, fmt.Errorf("read input: %w", err)
			}
			s.done = true
			return message.Raw{}, &ParseError{
				Index:  s.index,
				Offset: start,
				Length: s.offset - start,
				Reason: ReasonTruncated,
				Err:    io.ErrUnexpectedEOF,
			}
		}

		if !oversize {
			if int64(len(buf)) >= s.maxSize {
				oversize = true
				buf = nil
			} else {
				buf = append(buf, b)
			}
		}

		switch {
		case escaped:
			escaped = false
		case inString:
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case b == '"':
			inString = true
		case b == '{':
			depth++
		case b == '}':
			depth--
		}
	}

	if oversize {
		return message.Raw{}, &ParseError{
			Index:  s.index,
			Offset: start,
			Length: s.offset - start,
			Reason: ReasonOversize,
			Err:    fmt.Errorf("object exceeds %d bytes", s.maxSize),
		}
	}

	raw, err := message.NewRaw(buf)
	if err != nil {
		return message.Raw{}, &ParseError{
			Index:  s.index,
			Offset: start,
			Length: s.offset - start,
			Reason: ReasonDecode,
			Err:    err,
		}
	}
	return raw, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Result is everything recovered from one input.
type Result struct {
	Records []message.Raw
	Errors  []*ParseError
}

// All drains r. Only read failures are returned as an error.
func All(r io.Reader) (Result, error) {
	var res Result
	s := New(r)
	for {
		raw, err := s.Next()
		if err == nil {
			res.Records = append(res.Records, raw)
			continue
		}
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		var pe *ParseError
		if errors.As(err, &pe) {
			res.Errors = append(res.Errors, pe)
			continue
		}
		return res, err
	}
}
