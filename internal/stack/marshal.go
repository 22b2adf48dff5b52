package stack

import (
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"firestige.xyz/sapcraft/pkg/packet"
)

// Marshal renders the chain rooted at l as a stack document. Only fields
// that were set or decoded are written, in declaration order.
func Marshal(l *packet.Layer) ([]byte, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, x := range l.Chain() {
		seq.Content = append(seq.Content, layerNode(x, true))
	}
	doc := mapping()
	addPair(doc, "layers", seq)
	return yaml.Marshal(doc)
}

func layerNode(l *packet.Layer, named bool) *yaml.Node {
	n := mapping()
	if named {
		addPair(n, "layer", scalar(l.Name()))
	}
	if fields := fieldsNode(l); len(fields.Content) > 0 {
		addPair(n, "fields", fields)
	}
	if raw := l.Raw(); len(raw) > 0 {
		addPair(n, "raw", scalar(hexPrefix+hex.EncodeToString(raw)))
	}
	if tr := l.Trailing(); len(tr) > 0 {
		addPair(n, "trailing", scalar(hexPrefix+hex.EncodeToString(tr)))
	}
	return n
}

func fieldsNode(l *packet.Layer) *yaml.Node {
	n := mapping()
	for _, f := range l.Definition().Fields() {
		if !l.IsSet(f.Name) {
			continue
		}
		addPair(n, f.Name, valueNode(l.Get(f.Name)))
	}
	return n
}

func elementNode(l *packet.Layer) *yaml.Node {
	inner := l.Payload()
	if inner == nil && len(l.Raw()) == 0 && len(l.Trailing()) == 0 {
		return fieldsNode(l)
	}
	n := layerNode(l, false)
	if inner != nil {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, x := range inner.Chain() {
			seq.Content = append(seq.Content, layerNode(x, true))
		}
		addPair(n, "payload", seq)
	}
	return n
}

func valueNode(v any) *yaml.Node {
	switch x := v.(type) {
	case []byte:
		return scalar(hexPrefix + hex.EncodeToString(x))
	case string:
		if !printable(x) || strings.HasPrefix(x, hexPrefix) {
			return scalar(hexPrefix + hex.EncodeToString([]byte(x)))
		}
		n := scalar(x)
		n.Style = yaml.DoubleQuotedStyle
		return n
	case []*packet.Layer:
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range x {
			seq.Content = append(seq.Content, elementNode(item))
		}
		return seq
	}
	n := &yaml.Node{}
	if err := n.Encode(v); err != nil {
		return scalar("")
	}
	return n
}

func printable(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func mapping() *yaml.Node { return &yaml.Node{Kind: yaml.MappingNode} }

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func addPair(m *yaml.Node, key string, v *yaml.Node) {
	m.Content = append(m.Content, scalar(key), v)
}
