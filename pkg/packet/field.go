package packet

import (
	"fmt"
)

// Field binds a FieldType to a position in a layer.
type Field struct {
	Name    string
	Type    FieldType
	Default any

	// Length overrides the type's natural width. The zero value means none.
	Length LengthSpec

	// Present decides whether the field is on the wire. The zero value means
	// always present.
	Present Predicate

	// Derive computes the field on build when the caller left it unset.
	Derive *Deriver
}

type lengthKind uint8

const (
	lengthNatural lengthKind = iota
	lengthFixed
	lengthField
	lengthFunc
	lengthRemainder
)

// LengthSpec resolves the byte length of a field or payload during decoding.
type LengthSpec struct {
	kind   lengthKind
	n      int
	ref    string
	adjust int
	refs   []string
	fn     func(*Values) int
}

// Fixed is a constant length. Strings and blobs are padded or truncated to it.
func Fixed(n int) LengthSpec {
	return LengthSpec{kind: lengthFixed, n: n}
}

// FromField takes the length from an earlier integer field plus adjust.
// Negative results clamp to zero.
func FromField(name string, adjust int) LengthSpec {
	return LengthSpec{kind: lengthField, ref: name, adjust: adjust, refs: []string{name}}
}

// LengthFunc computes the length from earlier fields named in refs. A
// negative result means the remainder of the buffer.
func LengthFunc(fn func(v *Values) int, refs ...string) LengthSpec {
	return LengthSpec{kind: lengthFunc, fn: fn, refs: refs}
}

// Remainder consumes everything left in the buffer.
func Remainder() LengthSpec {
	return LengthSpec{kind: lengthRemainder}
}

// IsSet reports whether the spec overrides the natural width.
func (s LengthSpec) IsSet() bool { return s.kind != lengthNatural }

func (s LengthSpec) resolve(v *Values) (int, error) {
	switch s.kind {
	case lengthFixed:
		return s.n, nil
	case lengthField:
		n := int(v.Int(s.ref)) + s.adjust
		if v.err != nil {
			return 0, v.err
		}
		if n < 0 {
			n = 0
		}
		return n, nil
	case lengthFunc:
		n := s.fn(v)
		if v.err != nil {
			return 0, v.err
		}
		if n < 0 {
			return -1, nil
		}
		return n, nil
	}
	return -1, nil
}

// derivedFrom reports whether the length depends on a field the build will
// derive rather than take from the layer.
func (s LengthSpec) derivedFrom(l *Layer, cfg buildConfig) bool {
	for _, r := range s.refs {
		if i, ok := l.def.index[r]; ok {
			if f := &l.def.fields[i]; f.Derive != nil && l.derives(f, cfg) {
				return true
			}
		}
	}
	return false
}

// Predicate decides field presence from earlier fields.
type Predicate struct {
	refs []string
	fn   func(*Values) bool
}

// When builds a predicate over the fields named in refs.
func When(fn func(v *Values) bool, refs ...string) Predicate {
	return Predicate{refs: refs, fn: fn}
}

// FieldEquals is present when the integer field name equals want.
func FieldEquals(name string, want uint64) Predicate {
	return When(func(v *Values) bool { return v.Uint(name) == want }, name)
}

// FieldIn is present when the integer field name is one of want.
func FieldIn(name string, want ...uint64) Predicate {
	return When(func(v *Values) bool {
		got := v.Uint(name)
		for _, w := range want {
			if got == w {
				return true
			}
		}
		return false
	}, name)
}

// StringEquals is present when the string field name equals want.
func StringEquals(name, want string) Predicate {
	return When(func(v *Values) bool { return v.Str(name) == want }, name)
}

// IsSet reports whether the predicate is conditional.
func (p Predicate) IsSet() bool { return p.fn != nil }

func (p Predicate) eval(v *Values) (bool, error) {
	if p.fn == nil {
		return true, nil
	}
	ok := p.fn(v)
	return ok, v.err
}

// BuildContext is what a Deriver sees while a layer header is encoded.
type BuildContext struct {
	layer   *Layer
	parts   [][]byte
	current int
	payload []byte
}

// Layer is the layer being built.
func (c *BuildContext) Layer() *Layer { return c.layer }

// Prefix returns the encoded bytes of every field before the one being derived.
func (c *BuildContext) Prefix() []byte {
	var out []byte
	for _, p := range c.parts[:c.current] {
		out = append(out, p...)
	}
	return out
}

// Payload returns the serialized payload, after compression.
func (c *BuildContext) Payload() []byte { return c.payload }

// FieldSize returns the encoded size of a field in this layer.
func (c *BuildContext) FieldSize(name string) int {
	i, ok := c.layer.def.index[name]
	if !ok {
		return 0
	}
	return len(c.parts[i])
}

// HeaderLen returns the encoded size of every field in the layer.
func (c *BuildContext) HeaderLen() int {
	n := 0
	for _, p := range c.parts {
		n += len(p)
	}
	return n
}

// Deriver computes a field value at build time.
type Deriver struct {
	checksum bool
	refs     []string
	fn       func(*BuildContext) (any, error)
}

// PayloadLength derives the byte length of the payload plus adjust.
func PayloadLength(adjust int) *Deriver {
	return &Deriver{fn: func(c *BuildContext) (any, error) {
		return uint64(len(c.payload) + adjust), nil
	}}
}

// LayerLength derives the length of the whole layer, header and payload.
func LayerLength(adjust int) *Deriver {
	return &Deriver{fn: func(c *BuildContext) (any, error) {
		return uint64(c.HeaderLen() + len(c.payload) + adjust), nil
	}}
}

// FieldsLength derives the summed encoded size of the named fields.
func FieldsLength(adjust int, names ...string) *Deriver {
	return &Deriver{refs: names, fn: func(c *BuildContext) (any, error) {
		n := adjust
		for _, name := range names {
			n += c.FieldSize(name)
		}
		return uint64(n), nil
	}}
}

// Count derives the number of elements of a list field.
func Count(name string) *Deriver {
	return &Deriver{refs: []string{name}, fn: func(c *BuildContext) (any, error) {
		items, err := toLayers(c.layer.Get(name))
		if err != nil {
			return nil, err
		}
		return uint64(len(items)), nil
	}}
}

// Checksum derives a value from the encoded prefix of the layer.
func Checksum(fn func(prefix []byte) uint64) *Deriver {
	return &Deriver{checksum: true, fn: func(c *BuildContext) (any, error) {
		return fn(c.Prefix()), nil
	}}
}

// DeriveFunc wraps an arbitrary derivation.
func DeriveFunc(fn func(c *BuildContext) (any, error)) *Deriver {
	return &Deriver{fn: fn}
}

func (f *Field) fixedSize() int {
	if f.Length.kind == lengthFixed {
		return f.Length.n
	}
	return f.Type.Size()
}

func (f *Field) String() string {
	return fmt.Sprintf("%s:%s", f.Name, f.Type.Name())
}
