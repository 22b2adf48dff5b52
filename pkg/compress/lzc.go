package compress

import (
	"encoding/binary"
	"fmt"
)

// LZC token stream, after the header:
//
//	c < 0x80   literal run, c+1 bytes follow
//	c >= 0x80  match of (c&0x7f)+3 bytes, followed by the distance as a
//	           big-endian u16 in 1..4096
const (
	lzcWindowBits = 12
	lzcWindow     = 1 << lzcWindowBits
	lzcMinMatch   = 3
	lzcMaxMatch   = 0x7f + lzcMinMatch
	lzcMaxLiteral = 0x80
	lzcMaxChain   = 64
)

// CompressLZC compresses data with the LZC codec.
func CompressLZC(data []byte) []byte {
	out := Header{Length: uint32(len(data)), Algorithm: LZC, Version: version, Special: lzcWindowBits}.
		append(make([]byte, 0, HeaderSize+len(data)+len(data)/lzcMaxLiteral+1))

	m := newMatcher(data, lzcWindow, lzcMaxMatch, lzcMaxChain)
	lit := 0
	flush := func(end int) {
		for lit < end {
			n := min(end-lit, lzcMaxLiteral)
			out = append(out, byte(n-1))
			out = append(out, data[lit:lit+n]...)
			lit += n
		}
	}

	for i := 0; i < len(data); {
		length, dist := m.find(i)
		if length < lzcMinMatch {
			m.insert(i)
			i++
			continue
		}
		flush(i)
		out = append(out, 0x80|byte(length-lzcMinMatch))
		out = binary.BigEndian.AppendUint16(out, uint16(dist))
		for j := i; j < i+length; j++ {
			m.insert(j)
		}
		i += length
		lit = i
	}
	flush(len(data))
	return out
}

// DecompressLZC decodes an LZC buffer. See Decompress for hint.
func DecompressLZC(data []byte, hint int) ([]byte, error) {
	h, stream, err := openStream(data, LZC, hint)
	if err != nil {
		return nil, err
	}
	declared := int(h.Length)
	out := newOutput(h.Length)

	for i := 0; i < len(stream); {
		c := stream[i]
		i++
		if c < 0x80 {
			n := int(c) + 1
			if i+n > len(stream) {
				return out, fmt.Errorf("%w: literal run of %d bytes at %d overruns input", ErrCorruptStream, n, i-1)
			}
			out = append(out, stream[i:i+n]...)
			i += n
		} else {
			if i+2 > len(stream) {
				return out, fmt.Errorf("%w: match at %d has no distance", ErrCorruptStream, i-1)
			}
			length := int(c&0x7f) + lzcMinMatch
			dist := int(binary.BigEndian.Uint16(stream[i:]))
			i += 2
			if dist == 0 || dist > len(out) || dist > lzcWindow {
				return out, fmt.Errorf("%w: distance %d with %d bytes decoded", ErrInvalidBackReference, dist, len(out))
			}
			out = copyMatch(out, dist, length)
		}
		if len(out) > declared {
			return out, fmt.Errorf("%w: produced more than the declared %d bytes", ErrLengthMismatch, declared)
		}
	}
	if len(out) != declared {
		return out, fmt.Errorf("%w: produced %d bytes, header declares %d", ErrLengthMismatch, len(out), declared)
	}
	return out, nil
}

// copyMatch appends length bytes starting dist bytes back. Source and
// destination may overlap, so copying is byte by byte.
func copyMatch(out []byte, dist, length int) []byte {
	start := len(out) - dist
	for k := 0; k < length; k++ {
		out = append(out, out[start+k])
	}
	return out
}
