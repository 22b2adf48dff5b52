package packet

import (
	"bytes"
	"fmt"

	"github.com/google/gopacket"

	"firestige.xyz/sapcraft/pkg/compress"
)

// BuildOptions tunes serialization.
type BuildOptions struct {
	// FixLengths recomputes derived length fields even when set explicitly.
	FixLengths bool
	// ComputeChecksums recomputes checksum fields even when set explicitly.
	ComputeChecksums bool
	// Strict rejects fixed-length strings and blobs whose value does not
	// fill the field exactly instead of padding or truncating them, and
	// values whose size disagrees with an explicitly set length field.
	Strict bool
}

type buildConfig struct {
	gopacket.SerializeOptions
	strict bool
}

// Build serializes the chain starting at l.
func Build(l *Layer) ([]byte, error) {
	return Serialize(l, BuildOptions{})
}

// Serialize serializes the chain starting at l. Inner layers are written
// first so that every header is computed over its finished payload.
func Serialize(l *Layer, opts BuildOptions) ([]byte, error) {
	return serializeChain(l, buildConfig{
		SerializeOptions: gopacket.SerializeOptions{
			FixLengths:       opts.FixLengths,
			ComputeChecksums: opts.ComputeChecksums,
		},
		strict: opts.Strict,
	})
}

func serializeChain(l *Layer, cfg buildConfig) ([]byte, error) {
	var chain []gopacket.SerializableLayer
	for cur := l; cur != nil; cur = cur.inner {
		chain = append(chain, serializer{Layer: cur, strict: cfg.strict})
		if cur.inner == nil && len(cur.raw) > 0 {
			chain = append(chain, gopacket.Payload(cur.raw))
		}
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, cfg.SerializeOptions, chain...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// serializer carries build options gopacket.SerializeOptions has no room for.
type serializer struct {
	*Layer
	strict bool
}

func (s serializer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	return s.Layer.serialize(b, buildConfig{SerializeOptions: opts, strict: s.strict})
}

// SerializeTo implements gopacket.SerializableLayer. b already holds the
// serialized payload of l.
func (l *Layer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	return l.serialize(b, buildConfig{SerializeOptions: opts})
}

func (l *Layer) serialize(b gopacket.SerializeBuffer, cfg buildConfig) error {
	payload := b.Bytes()
	if len(payload) > 0 && l.def.isCompressed(l) {
		alg := l.codec
		if alg == compress.None {
			alg = l.def.algorithm
		}
		out, err := compress.Compress(alg, payload)
		if err != nil {
			return fmt.Errorf("%s payload: %w", l.def.name, err)
		}
		if err := b.Clear(); err != nil {
			return err
		}
		dst, err := b.PrependBytes(len(out))
		if err != nil {
			return err
		}
		copy(dst, out)
		payload = out
	}
	if len(l.trailing) > 0 {
		dst, err := b.AppendBytes(len(l.trailing))
		if err != nil {
			return err
		}
		copy(dst, l.trailing)
	}

	hdr, err := l.encodeHeader(payload, cfg)
	if err != nil {
		return err
	}
	dst, err := b.PrependBytes(len(hdr))
	if err != nil {
		return err
	}
	copy(dst, hdr)
	return nil
}

// encodeHeader encodes the fields in two passes: first every field whose
// value is known, then derived fields in declaration order so each sees the
// final bytes of the fields before it.
func (l *Layer) encodeHeader(payload []byte, cfg buildConfig) ([]byte, error) {
	def := l.def
	parts := make([][]byte, len(def.fields))
	v := l.values()
	var pending []int

	for i := 0; i < len(def.fields); i++ {
		f := &def.fields[i]
		if g, ok := def.groups[i]; ok {
			parts[i] = l.encodeBits(def.fields[i:i+g.count], g.size)
			i += g.count - 1
			continue
		}
		present, err := f.Present.eval(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.name, f.Name, err)
		}
		if !present {
			continue
		}
		if f.Derive != nil && l.derives(f, cfg) {
			parts[i] = make([]byte, f.fixedSize())
			pending = append(pending, i)
			continue
		}
		b, err := l.encodeField(f, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.name, f.Name, err)
		}
		parts[i] = b
	}

	ctx := &BuildContext{layer: l, parts: parts, payload: payload}
	for _, i := range pending {
		f := &def.fields[i]
		ctx.current = i
		val, err := f.Derive.fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.name, f.Name, err)
		}
		b, err := f.Type.Encode(val, f.fixedSize())
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.name, f.Name, err)
		}
		parts[i] = b
	}
	return bytes.Join(parts, nil), nil
}

func (l *Layer) derives(f *Field, cfg buildConfig) bool {
	if !l.IsSet(f.Name) {
		return true
	}
	if f.Derive.checksum {
		return cfg.ComputeChecksums
	}
	return cfg.FixLengths
}

func (l *Layer) encodeField(f *Field, cfg buildConfig) ([]byte, error) {
	val := l.Get(f.Name)
	if _, ok := f.Type.(*listType); ok {
		items, err := toLayers(val)
		if err != nil {
			return nil, err
		}
		return encodeList(items, cfg)
	}
	n := -1
	switch f.Length.kind {
	case lengthFixed:
		n = f.Length.n
		if cfg.strict {
			if size := naturalSize(f.Type, val); size >= 0 && size != n {
				return nil, fmt.Errorf("%w: %d bytes for a %d byte field", ErrValueSize, size, n)
			}
		}
	case lengthField, lengthFunc:
		// Explicit length fields must agree with the value; derived ones
		// follow it.
		if cfg.strict && !f.Length.derivedFrom(l, cfg) {
			want, err := f.Length.resolve(l.values())
			if err != nil {
				return nil, err
			}
			if size := naturalSize(f.Type, val); want >= 0 && size >= 0 && size != want {
				return nil, fmt.Errorf("%w: %d bytes, length says %d", ErrValueSize, size, want)
			}
		}
	}
	return f.Type.Encode(val, n)
}

func (l *Layer) encodeBits(fields []Field, size int) []byte {
	var acc uint64
	for _, f := range fields {
		w := f.Type.(bitsType).width
		u, _ := toUint64(l.Get(f.Name))
		acc = acc<<uint(w) | u&mask(w)
	}
	out := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		out[i] = byte(acc)
		acc >>= 8
	}
	return out
}

func encodeList(items []*Layer, cfg buildConfig) ([]byte, error) {
	var out []byte
	for i, item := range items {
		b, err := serializeChain(item, cfg)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func naturalSize(t FieldType, v any) int {
	b, err := toBytes(v)
	if err != nil {
		return -1
	}
	switch t.(type) {
	case cstringType:
		return len(b) + 1
	case bytesType:
		return len(b)
	}
	return -1
}
