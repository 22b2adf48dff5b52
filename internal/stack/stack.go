// Package stack reads and writes YAML documents that describe a layer stack
// by definition name and field values.
//
//	layers:
//	  - layer: SAPNI
//	  - layer: SAPRouter
//	    fields:
//	      type: NI_ROUTE
//	      route_string:
//	        - {hostname: 10.0.0.1, port: "3299"}
//	        - {hostname: sapsrv, port: sapdp00}
//
// Byte and string values may be written as "hex:0a0b". Integers may be
// written as strings in any base strconv accepts ("0x1f"). List elements are
// either a plain map of fields or a full layer entry with fields, payload,
// raw and trailing keys.
package stack

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"firestige.xyz/sapcraft/pkg/packet"
)

const hexPrefix = "hex:"

var ErrEmptyStack = errors.New("stack: document has no layers")

// Document is a parsed stack document.
type Document struct {
	Name   string      `mapstructure:"name"`
	Layers []LayerSpec `mapstructure:"layers"`
	Build  BuildSpec   `mapstructure:"build"`
}

// LayerSpec describes one layer. Layer may be empty for list elements, which
// take the element definition of their list.
type LayerSpec struct {
	Layer    string         `mapstructure:"layer"`
	Fields   map[string]any `mapstructure:"fields"`
	Payload  []LayerSpec    `mapstructure:"payload"`
	Raw      string         `mapstructure:"raw"`
	Trailing string         `mapstructure:"trailing"`
}

// BuildSpec carries serialization options.
type BuildSpec struct {
	FixLengths *bool `mapstructure:"fix_lengths"`
	Strict     bool  `mapstructure:"strict"`
}

// Options returns the build options of the document.
func (b BuildSpec) Options() packet.BuildOptions {
	fix := true
	if b.FixLengths != nil {
		fix = *b.FixLengths
	}
	return packet.BuildOptions{FixLengths: fix, ComputeChecksums: true, Strict: b.Strict}
}

// Parse decodes a YAML stack document.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}
	var doc Document
	if err := decode(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Layers) == 0 {
		return nil, ErrEmptyStack
	}
	return &doc, nil
}

// LoadFile parses the stack document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("stack: %w", err)
	}
	return nil
}

// Stack resolves the document into a layer chain, outermost first.
func (d *Document) Stack() (*packet.Layer, error) {
	return chain(d.Layers, nil)
}

// Encode builds the document's stack and serializes it.
func (d *Document) Encode() ([]byte, error) {
	l, err := d.Stack()
	if err != nil {
		return nil, err
	}
	return packet.Serialize(l, d.Build.Options())
}

func chain(specs []LayerSpec, def *packet.Definition) (*packet.Layer, error) {
	layers := make([]*packet.Layer, 0, len(specs))
	for i, s := range specs {
		if s.Raw != "" && i != len(specs)-1 {
			return nil, fmt.Errorf("stack: layer %d: raw payload on a layer that has an inner layer", i)
		}
		l, err := s.layer(def)
		if err != nil {
			return nil, fmt.Errorf("stack: layer %d: %w", i, err)
		}
		layers = append(layers, l)
		def = nil
	}
	return packet.Stack(layers...), nil
}

func (s LayerSpec) layer(def *packet.Definition) (*packet.Layer, error) {
	if s.Layer != "" {
		d, err := packet.Lookup(s.Layer)
		if err != nil {
			return nil, err
		}
		def = d
	}
	if def == nil {
		return nil, errors.New("missing layer name")
	}
	l := packet.New(def)
	for name, v := range s.Fields {
		f, ok := def.Field(name)
		if !ok {
			return nil, fmt.Errorf("%s: %w: %s", def.Name(), packet.ErrUnknownField, name)
		}
		val, err := convert(f, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Name(), name, err)
		}
		if err := l.Set(name, val); err != nil {
			return nil, err
		}
	}
	if len(s.Payload) > 0 {
		if s.Raw != "" {
			return nil, errors.New("both payload and raw given")
		}
		inner, err := chain(s.Payload, nil)
		if err != nil {
			return nil, err
		}
		l.SetPayload(inner)
	}
	if s.Raw != "" {
		b, err := parseBytes(s.Raw)
		if err != nil {
			return nil, err
		}
		l.SetRaw(b)
	}
	if s.Trailing != "" {
		b, err := parseBytes(s.Trailing)
		if err != nil {
			return nil, err
		}
		l.SetTrailing(b)
	}
	return l, nil
}

func convert(f packet.Field, v any) (any, error) {
	switch f.Type.Kind() {
	case packet.KindLayers:
		elem, _ := packet.ElementDefinition(f.Type)
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: want a list, got %T", packet.ErrValueType, v)
		}
		out := make([]*packet.Layer, 0, len(items))
		for i, item := range items {
			spec, err := elementSpec(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			l, err := spec.layer(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, l)
		}
		return out, nil
	case packet.KindBytes, packet.KindString:
		if s, ok := v.(string); ok {
			return parseBytes(s)
		}
	case packet.KindUint, packet.KindInt, packet.KindBits:
		if s, ok := v.(string); ok {
			return parseInt(s)
		}
	}
	return v, nil
}

var specKeys = map[string]bool{"layer": true, "fields": true, "payload": true, "raw": true, "trailing": true}

func elementSpec(item any) (LayerSpec, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return LayerSpec{}, fmt.Errorf("%w: want a map, got %T", packet.ErrValueType, item)
	}
	for k := range m {
		if !specKeys[k] {
			return LayerSpec{Fields: m}, nil
		}
	}
	var spec LayerSpec
	err := decode(m, &spec)
	return spec, err
}

func parseBytes(s string) ([]byte, error) {
	if h, ok := strings.CutPrefix(s, hexPrefix); ok {
		b, err := hex.DecodeString(strings.ReplaceAll(h, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("bad hex value: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}

func parseInt(s string) (any, error) {
	if u, err := strconv.ParseUint(s, 0, 64); err == nil {
		return u, nil
	}
	i, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", packet.ErrValueType, s)
	}
	return i, nil
}
