// Package frame implements the "First Bytes" long-message transfer
// protocol: a chunked, length-delimited framing of arbitrary byte
// payloads over a stream connection. Every segment on the wire is a
// one-byte continuation flag ('0' or '1'), a 4-hex-digit zero-padded
// length, then that many payload bytes.
package frame

import (
	"errors"
	"fmt"
	"io"
)

const (
	// headerSize is the continuation byte plus the 4 hex length digits.
	headerSize = 5

	// MaxSegmentSize is the largest data size a single segment can
	// carry; the length field is 4 hex digits wide.
	MaxSegmentSize = 0xFFFF

	// DefaultDataSize matches the reference implementation's default
	// chunk size.
	DefaultDataSize = 2048
)

// ErrFramingCorruption is returned when a segment header's continuation
// byte is not '0'/'1', or a read returns zero bytes mid-segment. The
// connection should be treated as unusable and closed.
var ErrFramingCorruption = errors.New("frame: protocol corruption detected")

// Framer sends and receives First-Bytes-framed messages over a byte
// stream. It is safe to share across goroutines only if the underlying
// stream is used by a single goroutine at a time per direction, which is
// the case for TaskIt: one framer per connection, used once.
type Framer struct {
	// DataSize is the maximum number of payload bytes carried in a
	// single non-final segment. Must be in [1, MaxSegmentSize].
	DataSize int
}

// New returns a Framer configured with DataSize, or DefaultDataSize if
// dataSize is zero.
func New(dataSize int) (*Framer, error) {
	if dataSize == 0 {
		dataSize = DefaultDataSize
	}
	if dataSize < 1 || dataSize > MaxSegmentSize {
		return nil, fmt.Errorf("frame: data size %d out of range [1, %d]", dataSize, MaxSegmentSize)
	}
	return &Framer{DataSize: dataSize}, nil
}

// Send chunks data into one or more segments and writes them to w in
// order, blocking until everything has been written or an error occurs.
func (f *Framer) Send(w io.Writer, data []byte) error {
	ds := f.dataSize()
	for {
		chunk := data
		more := len(data) > ds
		if more {
			chunk = data[:ds]
		}

		cont := byte('0')
		if more {
			cont = '1'
		}
		header := fmt.Sprintf("%c%04x", cont, len(chunk))

		if _, err := io.WriteString(w, header); err != nil {
			return err
		}
		if len(chunk) > 0 {
			if _, err := w.Write(chunk); err != nil {
				return err
			}
		}

		if !more {
			return nil
		}
		data = data[ds:]
	}
}

// Recv reassembles a full payload from r, reading segments until one
// with a '0' continuation byte is consumed.
func (f *Framer) Recv(r io.Reader) ([]byte, error) {
	var out []byte
	header := make([]byte, headerSize)
	for {
		if err := readFull(r, header); err != nil {
			return nil, err
		}

		cont := header[0]
		if cont != '0' && cont != '1' {
			return nil, ErrFramingCorruption
		}

		var size int
		if _, err := fmt.Sscanf(string(header[1:]), "%04x", &size); err != nil {
			return nil, ErrFramingCorruption
		}

		if size > 0 {
			chunk := make([]byte, size)
			if err := readFull(r, chunk); err != nil {
				return nil, err
			}
			out = append(out, chunk...)
		}

		if cont == '0' {
			return out, nil
		}
	}
}

func (f *Framer) dataSize() int {
	if f.DataSize <= 0 {
		return DefaultDataSize
	}
	return f.DataSize
}

// readFull reads exactly len(buf) bytes from r. A zero-length read with
// no error, or io.EOF before buf is full (including on the very first
// read), is reported as ErrFramingCorruption; other read errors are
// returned as they are.
func readFull(r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		if n == 0 && err == nil {
			return ErrFramingCorruption
		}
		read += n
		if err != nil {
			if err == io.EOF && read == len(buf) {
				return nil
			}
			if err == io.EOF {
				return ErrFramingCorruption
			}
			return err
		}
	}
	return nil
}
