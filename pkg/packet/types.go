package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind classifies the normalized Go value a FieldType produces.
type Kind uint8

const (
	KindUint   Kind = iota // uint64
	KindInt                // int64
	KindBool               // bool
	KindBits               // uint64, packed with neighbouring bit fields
	KindBytes              // []byte
	KindString             // string
	KindLayers             // []*Layer
)

// Variable is the Size of field types without a fixed wire width.
const Variable = -1

// FieldType reads and writes one primitive value. Implementations are
// immutable and safe for concurrent use.
//
// length is the resolved explicit length of the field, or -1 when the field
// declares none and the type falls back to its natural width.
type FieldType interface {
	Name() string
	Kind() Kind
	Size() int
	Decode(data []byte, length int) (value any, n int, err error)
	Encode(value any, length int) ([]byte, error)
	Zero() any
}

// Fixed-width integers. Plain names are big-endian (network order).
var (
	U8    FieldType = intType{name: "u8", size: 1, order: binary.BigEndian}
	U16   FieldType = intType{name: "u16", size: 2, order: binary.BigEndian}
	U32   FieldType = intType{name: "u32", size: 4, order: binary.BigEndian}
	U64   FieldType = intType{name: "u64", size: 8, order: binary.BigEndian}
	U16LE FieldType = intType{name: "u16le", size: 2, order: binary.LittleEndian}
	U32LE FieldType = intType{name: "u32le", size: 4, order: binary.LittleEndian}
	U64LE FieldType = intType{name: "u64le", size: 8, order: binary.LittleEndian}

	I8    FieldType = intType{name: "i8", size: 1, signed: true, order: binary.BigEndian}
	I16   FieldType = intType{name: "i16", size: 2, signed: true, order: binary.BigEndian}
	I32   FieldType = intType{name: "i32", size: 4, signed: true, order: binary.BigEndian}
	I64   FieldType = intType{name: "i64", size: 8, signed: true, order: binary.BigEndian}
	I16LE FieldType = intType{name: "i16le", size: 2, signed: true, order: binary.LittleEndian}
	I32LE FieldType = intType{name: "i32le", size: 4, signed: true, order: binary.LittleEndian}

	Bool FieldType = boolType{}

	// Bytes and String consume the remainder unless the field declares a length.
	Bytes   FieldType = bytesType{name: "bytes"}
	String  FieldType = bytesType{name: "string", text: true}
	CString FieldType = cstringType{}
)

// PaddedString is a string whose explicit-length encoding is filled with pad.
// Trailing pad bytes are stripped on decode.
func PaddedString(pad byte) FieldType {
	return bytesType{name: fmt.Sprintf("string(pad=%#02x)", pad), text: true, pad: pad, trim: true}
}

// PaddedBytes is a blob whose explicit-length encoding is filled with pad.
func PaddedBytes(pad byte) FieldType {
	return bytesType{name: fmt.Sprintf("bytes(pad=%#02x)", pad), pad: pad}
}

// Bits is an unsigned field of width bits. Consecutive bit fields are packed
// most significant bit first and must add up to whole bytes.
func Bits(width int) FieldType {
	if width < 1 || width > 64 {
		panic(fmt.Sprintf("packet: invalid bit width %d", width))
	}
	return bitsType{width: width}
}

// Flag is a one-bit field.
var Flag = Bits(1)

// LayerList is a repeated sub-layer: elements of def are decoded back to back
// until the field's bytes are exhausted.
func LayerList(def *Definition) FieldType {
	return &listType{def: def}
}

type intType struct {
	name   string
	size   int
	signed bool
	order  binary.ByteOrder
}

func (t intType) Name() string { return t.name }
func (t intType) Size() int    { return t.size }

func (t intType) Kind() Kind {
	if t.signed {
		return KindInt
	}
	return KindUint
}

func (t intType) Zero() any {
	if t.signed {
		return int64(0)
	}
	return uint64(0)
}

func (t intType) Decode(data []byte, _ int) (any, int, error) {
	if len(data) < t.size {
		return t.Zero(), 0, ErrTruncatedInput
	}
	var u uint64
	switch t.size {
	case 1:
		u = uint64(data[0])
	case 2:
		u = uint64(t.order.Uint16(data))
	case 4:
		u = uint64(t.order.Uint32(data))
	case 8:
		u = t.order.Uint64(data)
	}
	if !t.signed {
		return u, t.size, nil
	}
	shift := uint(64 - 8*t.size)
	return int64(u<<shift) >> shift, t.size, nil
}

// Encode wraps values wider than the field.
func (t intType) Encode(v any, _ int) ([]byte, error) {
	u, err := toUint64(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, t.size)
	switch t.size {
	case 1:
		b[0] = byte(u)
	case 2:
		t.order.PutUint16(b, uint16(u))
	case 4:
		t.order.PutUint32(b, uint32(u))
	case 8:
		t.order.PutUint64(b, u)
	}
	return b, nil
}

type boolType struct{}

func (boolType) Name() string { return "bool" }
func (boolType) Kind() Kind   { return KindBool }
func (boolType) Size() int    { return 1 }
func (boolType) Zero() any    { return false }

func (boolType) Decode(data []byte, _ int) (any, int, error) {
	if len(data) < 1 {
		return false, 0, ErrTruncatedInput
	}
	return data[0] != 0, 1, nil
}

func (boolType) Encode(v any, _ int) ([]byte, error) {
	b, err := toBool(v)
	if err != nil {
		return nil, err
	}
	if b {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

type bytesType struct {
	name string
	text bool
	pad  byte
	trim bool
}

func (t bytesType) Name() string { return t.name }
func (t bytesType) Size() int    { return Variable }

func (t bytesType) Kind() Kind {
	if t.text {
		return KindString
	}
	return KindBytes
}

func (t bytesType) Zero() any {
	if t.text {
		return ""
	}
	return []byte{}
}

func (t bytesType) Decode(data []byte, length int) (any, int, error) {
	if length < 0 {
		length = len(data)
	}
	if length > len(data) {
		return t.Zero(), 0, ErrTruncatedInput
	}
	raw := data[:length]
	if t.trim {
		raw = bytes.TrimRight(raw, string([]byte{t.pad}))
	}
	if t.text {
		return string(raw), length, nil
	}
	return bytes.Clone(raw), length, nil
}

// Encode truncates or pads the value when the field has an explicit length.
func (t bytesType) Encode(v any, length int) ([]byte, error) {
	raw, err := toBytes(v)
	if err != nil {
		return nil, err
	}
	return fit(raw, length, t.pad), nil
}

type cstringType struct{}

func (cstringType) Name() string { return "cstring" }
func (cstringType) Kind() Kind   { return KindString }
func (cstringType) Size() int    { return Variable }
func (cstringType) Zero() any    { return "" }

func (cstringType) Decode(data []byte, length int) (any, int, error) {
	if length >= 0 {
		if length > len(data) {
			return "", 0, ErrTruncatedInput
		}
		data = data[:length]
	}
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		if length >= 0 {
			// unterminated fixed-width string
			return string(data), length, nil
		}
		return "", 0, ErrTruncatedInput
	}
	if length >= 0 {
		return string(data[:i]), length, nil
	}
	return string(data[:i]), i + 1, nil
}

func (cstringType) Encode(v any, length int) ([]byte, error) {
	raw, err := toBytes(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw)+1)
	copy(out, raw)
	return fit(out, length, 0), nil
}

type bitsType struct {
	width int
}

func (t bitsType) Name() string { return fmt.Sprintf("bits(%d)", t.width) }
func (t bitsType) Kind() Kind   { return KindBits }
func (t bitsType) Zero() any    { return uint64(0) }

// Size is zero: bit fields only occupy bytes as part of their group.
func (t bitsType) Size() int { return 0 }

// Decode reads the field as if it were alone in a byte-aligned group.
func (t bitsType) Decode(data []byte, _ int) (any, int, error) {
	n := (t.width + 7) / 8
	if len(data) < n {
		return uint64(0), 0, ErrTruncatedInput
	}
	var u uint64
	for _, b := range data[:n] {
		u = u<<8 | uint64(b)
	}
	return u >> uint(n*8-t.width), n, nil
}

func (t bitsType) Encode(v any, _ int) ([]byte, error) {
	u, err := toUint64(v)
	if err != nil {
		return nil, err
	}
	n := (t.width + 7) / 8
	u = (u & mask(t.width)) << uint(n*8-t.width)
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(u)
		u >>= 8
	}
	return out, nil
}

type listType struct {
	def *Definition
}

// ElementDefinition returns the element definition of a LayerList type.
func ElementDefinition(t FieldType) (*Definition, bool) {
	if l, ok := t.(*listType); ok {
		return l.def, true
	}
	return nil, false
}

func (t *listType) Name() string { return "list(" + t.def.Name() + ")" }
func (t *listType) Kind() Kind   { return KindLayers }
func (t *listType) Size() int    { return Variable }
func (t *listType) Zero() any    { return []*Layer(nil) }

func (t *listType) Decode(data []byte, length int) (any, int, error) {
	if length >= 0 {
		if length > len(data) {
			return []*Layer(nil), 0, ErrTruncatedInput
		}
		data = data[:length]
	}
	return decodeList(data, t.def, defaultDissectConfig(), 0)
}

func (t *listType) Encode(v any, _ int) ([]byte, error) {
	items, err := toLayers(v)
	if err != nil {
		return nil, err
	}
	return encodeList(items, buildConfig{})
}

// fit pads or truncates b to length; a negative length leaves b untouched.
func fit(b []byte, length int, pad byte) []byte {
	if length < 0 || len(b) == length {
		return b
	}
	if len(b) > length {
		return b[:length]
	}
	out := make([]byte, length)
	copy(out, b)
	for i := len(b); i < length; i++ {
		out[i] = pad
	}
	return out
}

func mask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(width) - 1
}
