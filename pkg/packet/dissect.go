package packet

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"firestige.xyz/sapcraft/pkg/compress"
)

// DefaultMaxDepth bounds how many layers a single Dissect call may nest.
const DefaultMaxDepth = 32

// DefaultMaxDecompressed caps the size a compressed payload may expand to.
const DefaultMaxDecompressed = 16 << 20

type dissectConfig struct {
	maxDepth int
	maxSize  int
}

func defaultDissectConfig() dissectConfig {
	return dissectConfig{maxDepth: DefaultMaxDepth, maxSize: DefaultMaxDecompressed}
}

// DissectOption tunes a Dissect call.
type DissectOption func(*dissectConfig)

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) DissectOption {
	return func(c *dissectConfig) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// WithMaxDecompressed rejects compressed payloads declaring more than n
// bytes. n <= 0 keeps DefaultMaxDecompressed.
func WithMaxDecompressed(n int) DissectOption {
	return func(c *dissectConfig) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// Dissect decodes data as def and follows payload bindings down the chain.
//
// When a field of the outermost layer cannot be decoded, the partially
// decoded layer is returned together with a *DecodeError. Failures below the
// outermost layer never surface as errors: the enclosing layer keeps the
// payload as opaque bytes and records the cause in PayloadErr.
func Dissect(data []byte, def *Definition, opts ...DissectOption) (*Layer, error) {
	cfg := defaultDissectConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	l, _, err := dissectChain(data, def, cfg, 0, false)
	return l, err
}

// dissectChain decodes the head layer then walks inward iteratively.
// element layers stop after their bounded payload so they can be repeated.
func dissectChain(data []byte, def *Definition, cfg dissectConfig, depth int, element bool) (*Layer, int, error) {
	if depth >= cfg.maxDepth {
		return nil, 0, fmt.Errorf("%w: %s at depth %d", ErrDepthExceeded, def.name, depth)
	}
	head, consumed, payload, err := decodeLayer(data, def, cfg, depth, element)
	if err != nil {
		return head, consumed, err
	}

	cur := head
	for {
		if cur.payloadErr != nil || len(payload) == 0 {
			cur.raw = payload
			break
		}
		next := cur.def.bind(cur, payload)
		if next == nil || (next.noRecurse && cur.def.next != next) {
			cur.raw = payload
			break
		}
		depth++
		if depth >= cfg.maxDepth {
			cur.raw = payload
			cur.payloadErr = fmt.Errorf("%w: %s at depth %d", ErrDepthExceeded, next.name, depth)
			logger.WithField("layer", next.name).Debug("nesting limit reached, payload kept opaque")
			break
		}
		inner, _, innerPayload, err := decodeLayer(payload, next, cfg, depth, false)
		if err != nil {
			cur.raw = payload
			cur.payloadErr = err
			logger.WithFields(logrus.Fields{
				"layer":   cur.def.name,
				"payload": next.name,
				"error":   err,
			}).Debug("payload kept opaque")
			break
		}
		cur.inner = inner
		cur = inner
		payload = innerPayload
	}
	return head, consumed, nil
}

// decodeLayer decodes the fields of one layer and slices out its payload,
// decompressing it when the definition says so.
func decodeLayer(data []byte, def *Definition, cfg dissectConfig, depth int, element bool) (*Layer, int, []byte, error) {
	l := New(def)
	v := &Values{layer: l}
	off := 0

	for i := 0; i < len(def.fields); i++ {
		f := &def.fields[i]
		v.upto = i

		if g, ok := def.groups[i]; ok {
			if off+g.size > len(data) {
				return l, off, nil, &DecodeError{Layer: def.name, Field: f.Name, Offset: off, Err: ErrTruncatedInput}
			}
			decodeBits(l, def.fields[i:i+g.count], data[off:off+g.size])
			off += g.size
			i += g.count - 1
			continue
		}

		present, err := f.Present.eval(v)
		if err != nil {
			return l, off, nil, &DecodeError{Layer: def.name, Field: f.Name, Offset: off, Err: err}
		}
		if !present {
			continue
		}
		n, err := f.Length.resolve(v)
		if err != nil {
			return l, off, nil, &DecodeError{Layer: def.name, Field: f.Name, Offset: off, Err: err}
		}
		if n > len(data)-off {
			return l, off, nil, &DecodeError{Layer: def.name, Field: f.Name, Offset: off, Err: ErrTruncatedInput}
		}

		var val any
		var used int
		if lt, ok := f.Type.(*listType); ok {
			chunk := data[off:]
			if n >= 0 {
				chunk = chunk[:n]
			}
			val, used, err = decodeList(chunk, lt.def, cfg, depth+1)
		} else {
			val, used, err = f.Type.Decode(data[off:], n)
		}
		if err != nil {
			if items, ok := val.([]*Layer); ok && len(items) > 0 {
				l.vals[f.Name] = items
			}
			return l, off, nil, &DecodeError{Layer: def.name, Field: f.Name, Offset: off, Err: err}
		}
		l.vals[f.Name] = val
		off += used
	}

	l.contents = data[:off]
	rest := data[off:]
	payload := rest
	consumed := len(data)

	v.upto = len(def.fields)
	switch {
	case def.payloadLen.IsSet():
		n, err := def.payloadLen.resolve(v)
		if err != nil {
			return l, off, nil, &DecodeError{Layer: def.name, Field: "payload", Offset: off, Err: err}
		}
		if n >= 0 {
			if n > len(rest) {
				return l, off, nil, &DecodeError{Layer: def.name, Field: "payload", Offset: off, Err: ErrTruncatedInput}
			}
			payload = rest[:n]
			if element {
				consumed = off + n
			} else if n < len(rest) {
				l.trailing = rest[n:]
			}
		}
	case element && !def.hasPayload():
		payload = rest[:0]
		consumed = off
	}

	l.payload = payload
	if len(payload) > 0 && def.isCompressed(l) {
		out, err := compress.Decompress(payload, cfg.maxSize)
		if err != nil {
			l.payloadErr = fmt.Errorf("%s payload: %w", def.algorithm, err)
		} else {
			hdr, _ := compress.ParseHeader(payload)
			l.codec = hdr.Algorithm
			l.payload = out
			payload = out
		}
	}
	return l, consumed, payload, nil
}

func decodeBits(l *Layer, fields []Field, data []byte) {
	var acc uint64
	for _, b := range data {
		acc = acc<<8 | uint64(b)
	}
	shift := len(data) * 8
	for _, f := range fields {
		w := f.Type.(bitsType).width
		shift -= w
		l.vals[f.Name] = (acc >> uint(shift)) & mask(w)
	}
}

// decodeList decodes elements of def back to back until data is exhausted.
func decodeList(data []byte, def *Definition, cfg dissectConfig, depth int) ([]*Layer, int, error) {
	var items []*Layer
	off := 0
	for off < len(data) {
		item, n, err := dissectChain(data[off:], def, cfg, depth, true)
		if item != nil {
			items = append(items, item)
		}
		if err != nil {
			return items, off, fmt.Errorf("element %d: %w", len(items)-1, err)
		}
		if n == 0 {
			return items, off, fmt.Errorf("%w: %s element consumed no bytes", ErrMalformedLayer, def.name)
		}
		off += n
	}
	return items, off, nil
}

// IsTruncated reports whether err stems from running out of input.
func IsTruncated(err error) bool {
	return errors.Is(err, ErrTruncatedInput)
}
