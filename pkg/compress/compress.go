// Package compress implements the LZC and LZH payload codecs used by SAP
// protocols and file formats.
//
// Every compressed buffer starts with an 8 byte header:
//
//	0..3  uncompressed length, little-endian
//	4     version<<4 | algorithm
//	5..6  magic 0x1f 0x9d
//	7     special byte, the window size in bits
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Algorithm identifies a codec.
type Algorithm uint8

const (
	None Algorithm = 0
	LZC  Algorithm = 1
	LZH  Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZC:
		return "lzc"
	case LZH:
		return "lzh"
	}
	return fmt.Sprintf("algorithm(%d)", uint8(a))
}

// ParseAlgorithm maps "lzc" and "lzh" to their Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "lzc":
		return LZC, nil
	case "lzh":
		return LZH, nil
	case "none", "":
		return None, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// Sentinel errors.
var (
	ErrShortHeader          = errors.New("compress: input shorter than header")
	ErrBadMagic             = errors.New("compress: bad magic")
	ErrUnknownAlgorithm     = errors.New("compress: unknown algorithm")
	ErrInvalidBackReference = errors.New("compress: back-reference before start of output")
	ErrLengthMismatch       = errors.New("compress: length mismatch")
	ErrCorruptStream        = errors.New("compress: corrupt stream")
)

const (
	// HeaderSize is the size of the container header.
	HeaderSize = 8

	version = 1
	magic0  = 0x1f
	magic1  = 0x9d

	// preallocation cap, the declared length is untrusted
	maxPrealloc = 1 << 20
)

// Header is the container header preceding every compressed stream.
type Header struct {
	Length    uint32
	Algorithm Algorithm
	Version   uint8
	Special   uint8
}

// ParseHeader validates and decodes the container header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	if data[5] != magic0 || data[6] != magic1 {
		return Header{}, fmt.Errorf("%w: %#02x %#02x", ErrBadMagic, data[5], data[6])
	}
	h := Header{
		Length:    binary.LittleEndian.Uint32(data[0:4]),
		Version:   data[4] >> 4,
		Algorithm: Algorithm(data[4] & 0x0f),
		Special:   data[7],
	}
	if h.Algorithm != LZC && h.Algorithm != LZH {
		return h, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, h.Algorithm)
	}
	return h, nil
}

func (h Header) append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, h.Length)
	return append(dst, h.Version<<4|uint8(h.Algorithm), magic0, magic1, h.Special)
}

// Compress compresses data with alg, header included.
func Compress(alg Algorithm, data []byte) ([]byte, error) {
	switch alg {
	case LZC:
		return CompressLZC(data), nil
	case LZH:
		return CompressLZH(data), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, alg)
}

// Decompress decodes a compressed buffer, picking the codec from its header.
// A positive hint is the largest output the caller accepts; a header
// declaring more is rejected before any work is done.
func Decompress(data []byte, hint int) ([]byte, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	switch h.Algorithm {
	case LZC:
		return DecompressLZC(data, hint)
	default:
		return DecompressLZH(data, hint)
	}
}

func openStream(data []byte, alg Algorithm, hint int) (Header, []byte, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return h, nil, err
	}
	if h.Algorithm != alg {
		return h, nil, fmt.Errorf("%w: header says %s, want %s", ErrUnknownAlgorithm, h.Algorithm, alg)
	}
	if hint > 0 && int64(h.Length) > int64(hint) {
		return h, nil, fmt.Errorf("%w: header declares %d bytes, limit %d", ErrLengthMismatch, h.Length, hint)
	}
	return h, data[HeaderSize:], nil
}

func newOutput(declared uint32) []byte {
	n := int64(declared)
	if n > maxPrealloc {
		n = maxPrealloc
	}
	return make([]byte, 0, n)
}
