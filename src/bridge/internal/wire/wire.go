// Package wire implements the header-delimited framing used by the JSON-RPC
// stream: each payload is preceded by a Content-Length header block measured
// in bytes, followed by a blank line.
package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const contentLengthHeader = "Content-Length"

// DefaultMaxFrameBytes bounds the payload size a Reader will accept. It sits
// well above the document size cap so escaped document text plus the message
// envelope still fits in one frame.
const DefaultMaxFrameBytes = 32 << 20

var (
	// ErrMissingContentLength reports a header block without a Content-Length header.
	ErrMissingContentLength = fmt.Errorf("missing %s header", contentLengthHeader)
	// ErrInvalidHeader reports a malformed header line or length value.
	ErrInvalidHeader = fmt.Errorf("invalid message header")
	// ErrFrameTooLarge reports a declared payload size above the Reader's limit.
	ErrFrameTooLarge = fmt.Errorf("frame exceeds size limit")
)

// Reader extracts framed payloads from a byte stream. A Reader is not safe
// for concurrent use.
type Reader struct {
	in  *bufio.Reader
	max int64
}

// NewReader returns a Reader consuming frames from r, limited to
// DefaultMaxFrameBytes per frame.
func NewReader(r io.Reader) *Reader {
	return NewReaderLimit(r, DefaultMaxFrameBytes)
}

// NewReaderLimit returns a Reader consuming frames from r, rejecting any
// frame whose declared payload size exceeds maxBytes.
func NewReaderLimit(r io.Reader, maxBytes int64) *Reader {
	return &Reader{in: bufio.NewReader(r), max: maxBytes}
}

// Read consumes one frame and returns its payload. Any error leaves the
// stream in an undefined position, so callers should treat it as terminal
// for the connection.
func (r *Reader) Read() ([]byte, error) {
	var length int64
	seen := false

	for {
		line, err := r.in.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("reading frame header: %w", err)
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		// Content-Type and any other headers are tolerated and skipped.
		if !strings.EqualFold(strings.TrimSpace(name), contentLengthHeader) {
			continue
		}

		length, err = strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		if err != nil || length < 0 {
			return nil, fmt.Errorf("%w: bad %s value %q", ErrInvalidHeader, contentLengthHeader, strings.TrimSpace(value))
		}
		seen = true
	}

	if !seen {
		return nil, ErrMissingContentLength
	}
	// Checked before any allocation, so a hostile header alone cannot
	// commit memory for a payload that never arrives.
	if length > r.max {
		return nil, fmt.Errorf("%w: %d bytes declared, limit is %d", ErrFrameTooLarge, length, r.max)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.in, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}

// Write frames payload and writes it to w in a single call, so concurrent
// writers serialized by the caller never interleave partial frames.
func Write(w io.Writer, payload []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(payload) + 32)
	fmt.Fprintf(&buf, "%s: %d\r\n\r\n", contentLengthHeader, len(payload))
	buf.Write(payload)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
