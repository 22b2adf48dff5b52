package packet

import (
	"fmt"

	"github.com/google/gopacket"

	"firestige.xyz/sapcraft/pkg/compress"
)

// Definition is a layer type: an ordered field layout plus the rule that
// picks what its payload decodes as. Definitions are immutable once built
// and may be shared across goroutines.
type Definition struct {
	name   string
	fields []Field
	index  map[string]int
	groups map[int]bitGroup

	next      *Definition
	discField string
	keyFn     func(*Values) uint64
	table     *Table
	selector  func(payload []byte) *Definition

	payloadLen LengthSpec
	compressed Predicate
	algorithm  compress.Algorithm
	noRecurse  bool

	layerType gopacket.LayerType
}

// bitGroup is a run of consecutive bit fields packed into whole bytes.
type bitGroup struct {
	count int
	size  int
}

// Option configures a Definition.
type Option func(*Definition)

// WithPayload decodes the payload as next.
func WithPayload(next *Definition) Option {
	return func(d *Definition) { d.next = next }
}

// WithDiscriminator picks the payload definition by looking up the value of
// field in t.
func WithDiscriminator(field string, t *Table) Option {
	return func(d *Definition) {
		d.discField = field
		d.table = t
	}
}

// WithKey picks the payload definition by looking up a key computed from
// several fields.
func WithKey(fn func(v *Values) uint64, t *Table) Option {
	return func(d *Definition) {
		d.keyFn = fn
		d.table = t
	}
}

// WithPayloadSelector inspects the payload bytes when no fixed or table
// binding applies. Returning nil leaves the payload opaque.
func WithPayloadSelector(fn func(payload []byte) *Definition) Option {
	return func(d *Definition) { d.selector = fn }
}

// WithPayloadLength bounds the payload. Bytes past it are kept as trailer.
func WithPayloadLength(spec LengthSpec) Option {
	return func(d *Definition) { d.payloadLen = spec }
}

// WithCompression marks the payload as compressed with alg whenever when holds.
func WithCompression(when Predicate, alg compress.Algorithm) Option {
	return func(d *Definition) {
		d.compressed = when
		d.algorithm = alg
	}
}

// NoRecurse keeps the payload of layers of this type opaque when they are
// reached through a discriminator.
func NoRecurse() Option {
	return func(d *Definition) { d.noRecurse = true }
}

// WithLayerType registers the definition with gopacket under num so packets
// can be decoded with gopacket.NewPacket.
func WithLayerType(num int) Option {
	return func(d *Definition) {
		d.layerType = gopacket.RegisterLayerType(num, gopacket.LayerTypeMetadata{
			Name:    d.name,
			Decoder: gopacket.DecodeFunc(d.decodeGoPacket),
		})
	}
}

// Define validates a field layout and returns its Definition.
func Define(name string, fields []Field, opts ...Option) (*Definition, error) {
	d := &Definition{
		name:   name,
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
		groups: make(map[int]bitGroup),
	}
	copy(d.fields, fields)

	for i := range d.fields {
		f := &d.fields[i]
		if f.Name == "" || f.Type == nil {
			return nil, fmt.Errorf("%w: %s field %d has no name or type", ErrMalformedLayer, name, i)
		}
		if _, dup := d.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: %s declares %q twice", ErrMalformedLayer, name, f.Name)
		}
		if f.Default != nil {
			v, err := normalize(f.Type.Kind(), f.Default)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s default: %v", ErrMalformedLayer, name, f.Name, err)
			}
			f.Default = v
		}
		if err := d.checkRefs(f.Name, f.Length.refs); err != nil {
			return nil, err
		}
		if err := d.checkRefs(f.Name, f.Present.refs); err != nil {
			return nil, err
		}
		if f.Length.kind == lengthRemainder && i != len(d.fields)-1 {
			return nil, fmt.Errorf("%w: %s.%s consumes the remainder but is not last", ErrMalformedLayer, name, f.Name)
		}
		if f.Derive != nil && f.fixedSize() <= 0 {
			return nil, fmt.Errorf("%w: %s.%s is derived but has no fixed width", ErrMalformedLayer, name, f.Name)
		}
		d.index[f.Name] = i
	}

	for _, f := range d.fields {
		if f.Derive == nil {
			continue
		}
		for _, r := range f.Derive.refs {
			if _, ok := d.index[r]; !ok {
				return nil, fmt.Errorf("%w: %s.%s derives from unknown field %q", ErrMalformedLayer, name, f.Name, r)
			}
		}
	}

	if err := d.groupBits(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(d)
	}
	if d.discField != "" {
		if _, ok := d.index[d.discField]; !ok {
			return nil, fmt.Errorf("%w: %s discriminates on unknown field %q", ErrMalformedLayer, name, d.discField)
		}
	}
	return d, nil
}

// MustDefine is Define for package-level layouts; it panics on error.
func MustDefine(name string, fields []Field, opts ...Option) *Definition {
	d, err := Define(name, fields, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// checkRefs enforces that a field only depends on fields declared before it.
func (d *Definition) checkRefs(field string, refs []string) error {
	for _, r := range refs {
		if _, ok := d.index[r]; !ok {
			return fmt.Errorf("%w: %s.%s references %q which is not declared before it",
				ErrMalformedLayer, d.name, field, r)
		}
	}
	return nil
}

func (d *Definition) groupBits() error {
	for i := 0; i < len(d.fields); {
		if d.fields[i].Type.Kind() != KindBits {
			i++
			continue
		}
		start, width := i, 0
		for i < len(d.fields) && d.fields[i].Type.Kind() == KindBits {
			f := &d.fields[i]
			if f.Present.IsSet() || f.Length.IsSet() || f.Derive != nil {
				return fmt.Errorf("%w: %s.%s: bit fields cannot be conditional, sized or derived",
					ErrMalformedLayer, d.name, f.Name)
			}
			width += f.Type.(bitsType).width
			i++
			if width%8 == 0 {
				break
			}
		}
		if width%8 != 0 || width > 64 {
			return fmt.Errorf("%w: %s: bit fields starting at %q span %d bits",
				ErrMalformedLayer, d.name, d.fields[start].Name, width)
		}
		d.groups[start] = bitGroup{count: i - start, size: width / 8}
	}
	return nil
}

// Name returns the layer type name.
func (d *Definition) Name() string { return d.name }

// Fields returns a copy of the field layout.
func (d *Definition) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Field returns the descriptor of name.
func (d *Definition) Field(name string) (Field, bool) {
	i, ok := d.index[name]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

// LayerType returns the gopacket type registered with WithLayerType, or
// gopacket.LayerTypeZero.
func (d *Definition) LayerType() gopacket.LayerType { return d.layerType }

// Table returns the discriminator table bound to the payload, if any.
func (d *Definition) Table() *Table { return d.table }

// WithPayload returns a copy of d whose payload always decodes as next.
func (d *Definition) WithPayload(next *Definition) *Definition {
	c := *d
	c.next = next
	return &c
}

// WithSelector returns a copy of d whose payload is picked by fn alone.
func (d *Definition) WithSelector(fn func(payload []byte) *Definition) *Definition {
	c := *d
	c.next, c.table, c.keyFn, c.discField = nil, nil, nil, ""
	c.selector = fn
	return &c
}

// New returns an empty layer of this type.
func (d *Definition) New() *Layer {
	return New(d)
}

// hasPayload reports whether layers of this type carry a payload slot.
func (d *Definition) hasPayload() bool {
	return d.next != nil || d.table != nil || d.selector != nil || d.payloadLen.IsSet()
}

// bind picks the definition of the payload of l.
func (d *Definition) bind(l *Layer, payload []byte) *Definition {
	if d.next != nil {
		return d.next
	}
	if d.table != nil {
		v := l.values()
		var key uint64
		if d.keyFn != nil {
			key = d.keyFn(v)
		} else {
			key = v.Uint(d.discField)
		}
		if v.err == nil {
			if next, ok := d.table.Lookup(key); ok {
				return next
			}
		}
	}
	if d.selector != nil {
		return d.selector(payload)
	}
	return nil
}

func (d *Definition) isCompressed(l *Layer) bool {
	if !d.compressed.IsSet() {
		return false
	}
	ok, err := d.compressed.eval(l.values())
	return ok && err == nil
}
