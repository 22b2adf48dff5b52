// Package packet is a declarative framework for binary protocol layers.
//
// A Definition describes the wire layout of one layer; a Layer is an instance
// of it. Dissect turns bytes into a chain of layers following discriminator
// tables, Build turns a chain back into bytes with length and checksum fields
// recomputed after the payload is complete.
package packet

import (
	"bytes"
	"fmt"

	"github.com/google/gopacket"

	"firestige.xyz/sapcraft/pkg/compress"
)

// Layer is one decoded or crafted protocol layer. Its payload is either an
// inner Layer or opaque bytes.
type Layer struct {
	def  *Definition
	vals map[string]any

	inner    *Layer
	raw      []byte
	trailing []byte

	contents   []byte
	payload    []byte
	payloadErr error
	codec      compress.Algorithm
}

// New returns an empty layer of type def. Every field reads as its default.
func New(def *Definition) *Layer {
	return &Layer{def: def, vals: make(map[string]any)}
}

// Stack chains layers so that each one is the payload of the previous one
// and returns the outermost.
func Stack(layers ...*Layer) *Layer {
	if len(layers) == 0 {
		return nil
	}
	for i := 0; i < len(layers)-1; i++ {
		layers[i].SetPayload(layers[i+1])
	}
	return layers[0]
}

// Definition returns the layer type.
func (l *Layer) Definition() *Definition { return l.def }

// Name returns the layer type name.
func (l *Layer) Name() string { return l.def.name }

// Get returns the value of a field: the explicitly set or decoded value, else
// the field default, else the type zero value. Unknown fields yield nil.
func (l *Layer) Get(name string) any {
	if v, ok := l.vals[name]; ok {
		return v
	}
	i, ok := l.def.index[name]
	if !ok {
		return nil
	}
	f := &l.def.fields[i]
	if f.Default != nil {
		return f.Default
	}
	return f.Type.Zero()
}

func (l *Layer) Uint(name string) uint64 {
	u, _ := toUint64(l.Get(name))
	return u
}

func (l *Layer) Int(name string) int64 {
	i, _ := toInt64(l.Get(name))
	return i
}

func (l *Layer) Bool(name string) bool {
	b, _ := toBool(l.Get(name))
	return b
}

func (l *Layer) Str(name string) string {
	b, _ := toBytes(l.Get(name))
	return string(b)
}

func (l *Layer) Bytes(name string) []byte {
	b, _ := toBytes(l.Get(name))
	return b
}

// List returns the elements of a layer list field.
func (l *Layer) List(name string) []*Layer {
	items, _ := toLayers(l.Get(name))
	return items
}

// Set assigns a field, normalizing v to the field kind.
func (l *Layer) Set(name string, v any) error {
	i, ok := l.def.index[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, l.def.name, name)
	}
	nv, err := normalize(l.def.fields[i].Type.Kind(), v)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", l.def.name, name, err)
	}
	l.vals[name] = nv
	return nil
}

// With sets a field and returns l. It panics if the field does not exist or
// v has the wrong type, which makes it suitable for literal construction.
func (l *Layer) With(name string, v any) *Layer {
	if err := l.Set(name, v); err != nil {
		panic(err)
	}
	return l
}

// IsSet reports whether a field holds an explicit or decoded value.
func (l *Layer) IsSet(name string) bool {
	_, ok := l.vals[name]
	return ok
}

// Unset drops the value of a field so it reads as its default again and,
// for derived fields, is recomputed on build.
func (l *Layer) Unset(name string) {
	delete(l.vals, name)
}

// Payload returns the inner layer, if any.
func (l *Layer) Payload() *Layer { return l.inner }

// Raw returns the opaque payload bytes when there is no inner layer.
func (l *Layer) Raw() []byte { return l.raw }

// SetPayload makes inner the payload of l and returns l.
func (l *Layer) SetPayload(inner *Layer) *Layer {
	l.inner = inner
	l.raw = nil
	return l
}

// SetRaw makes b the opaque payload of l and returns l.
func (l *Layer) SetRaw(b []byte) *Layer {
	l.inner = nil
	l.raw = b
	return l
}

// Trailing returns bytes found after a length-bounded payload.
func (l *Layer) Trailing() []byte { return l.trailing }

// SetTrailing sets bytes emitted after the payload.
func (l *Layer) SetTrailing(b []byte) *Layer {
	l.trailing = b
	return l
}

// PayloadErr explains why a payload was left opaque during decoding.
func (l *Layer) PayloadErr() error { return l.payloadErr }

// Codec returns the algorithm the payload was compressed with on the wire,
// or compress.None.
func (l *Layer) Codec() compress.Algorithm { return l.codec }

// Chain returns l and every inner layer, outermost first.
func (l *Layer) Chain() []*Layer {
	var out []*Layer
	for cur := l; cur != nil; cur = cur.inner {
		out = append(out, cur)
	}
	return out
}

// Find returns the first layer in the chain of the given type name.
func (l *Layer) Find(name string) *Layer {
	for cur := l; cur != nil; cur = cur.inner {
		if cur.def.name == name {
			return cur
		}
	}
	return nil
}

// LayerType implements gopacket.Layer.
func (l *Layer) LayerType() gopacket.LayerType { return l.def.layerType }

// LayerContents returns the encoded header bytes of the layer after it was
// decoded or serialized.
func (l *Layer) LayerContents() []byte { return l.contents }

// LayerPayload returns the payload bytes, decompressed if a codec applied.
func (l *Layer) LayerPayload() []byte { return l.payload }

// Equal compares two layer chains field by field. Derived fields that either
// side left to be computed are skipped, as are fields not on the wire.
func (l *Layer) Equal(o *Layer) bool {
	if l == nil || o == nil {
		return l == o
	}
	if l.def.name != o.def.name {
		return false
	}
	v := l.values()
	for i := range l.def.fields {
		f := &l.def.fields[i]
		if f.Derive != nil && (!l.IsSet(f.Name) || !o.IsSet(f.Name)) {
			continue
		}
		v.upto = i
		if ok, err := f.Present.eval(v); err != nil || !ok {
			continue
		}
		if !valuesEqual(l.Get(f.Name), o.Get(f.Name)) {
			return false
		}
	}
	if !bytes.Equal(l.trailing, o.trailing) {
		return false
	}
	if l.inner != nil || o.inner != nil {
		return l.inner.Equal(o.inner)
	}
	return bytes.Equal(l.raw, o.raw)
}

func (l *Layer) values() *Values {
	return &Values{layer: l, upto: len(l.def.fields)}
}
