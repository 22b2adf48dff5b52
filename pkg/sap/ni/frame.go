package ni

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds frames read from untrusted streams.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds the frame limit.
var ErrFrameTooLarge = errors.New("ni: frame exceeds size limit")

// SplitFrames returns a bufio.SplitFunc that yields whole NI frames, length
// prefix included. A frame cut off by EOF is reported as
// io.ErrUnexpectedEOF.
func SplitFrames(maxSize int) bufio.SplitFunc {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if len(data) < HeaderSize {
			if atEOF && len(data) > 0 {
				return 0, nil, io.ErrUnexpectedEOF
			}
			return 0, nil, nil
		}
		n := binary.BigEndian.Uint32(data)
		if uint64(n) > uint64(maxSize) {
			return 0, nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
		}
		total := HeaderSize + int(n)
		if len(data) < total {
			if atEOF {
				return 0, nil, io.ErrUnexpectedEOF
			}
			return 0, nil, nil
		}
		return total, data[:total], nil
	}
}

// NewScanner returns a scanner over the NI frames of r.
func NewScanner(r io.Reader, maxSize int) *bufio.Scanner {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxSize+HeaderSize)
	s.Split(SplitFrames(maxSize))
	return s
}

// ReadFrame reads one frame from r, length prefix included.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}
	frame := make([]byte, HeaderSize+int(n))
	copy(frame, hdr[:])
	if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}
