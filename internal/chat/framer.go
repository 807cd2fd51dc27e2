package chat

import "errors"

// ErrLineTooLong is returned by LineFramer.Push when the unterminated
// remainder exceeds the configured maximum. The caller must notify the peer
// and close the connection; this is a resource-exhaustion defense, not a
// recoverable protocol error.
var ErrLineTooLong = errors.New("unterminated line exceeds maximum length")

// LineFramer incrementally splits a byte stream into lines. Any of the
// terminator sequences "\r\n", "\r", or "\n" ends a line and is stripped.
// Unterminated trailing text is buffered across Push calls, bounded by max.
type LineFramer struct {
	max    int
	buf    []byte
	skipLF bool
}

// NewLineFramer returns a framer that buffers at most max bytes of
// unterminated input.
func NewLineFramer(max int) *LineFramer {
	return &LineFramer{max: max}
}

// Push feeds the next chunk of input and returns the complete lines it
// finished, in arrival order. When the retained remainder would exceed the
// maximum, Push returns the lines completed so far along with ErrLineTooLong;
// the framer must not be used afterwards.
func (f *LineFramer) Push(chunk []byte) ([]string, error) {
	var lines []string
	for _, b := range chunk {
		if f.skipLF {
			f.skipLF = false
			if b == '\n' {
				continue
			}
		}
		switch b {
		case '\n':
			lines = append(lines, string(f.buf))
			f.buf = f.buf[:0]
		case '\r':
			// A bare CR terminates the line; swallow an immediately
			// following LF so "\r\n" split across chunks yields one line.
			lines = append(lines, string(f.buf))
			f.buf = f.buf[:0]
			f.skipLF = true
		default:
			if len(f.buf) >= f.max {
				return lines, ErrLineTooLong
			}
			f.buf = append(f.buf, b)
		}
	}
	return lines, nil
}

// Pending returns the number of buffered unterminated bytes.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}
