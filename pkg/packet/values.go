package packet

import (
	"bytes"
	"fmt"
)

// Values is the read-only view of a layer handed to length, presence and key
// functions. During decoding only fields preceding the one being resolved are
// visible; touching any other field marks the view as malformed.
type Values struct {
	layer *Layer
	upto  int
	err   error
}

func (v *Values) lookup(name string) any {
	i, ok := v.layer.def.index[name]
	if !ok {
		v.fail(fmt.Errorf("%w: %s has no field %q", ErrMalformedLayer, v.layer.def.name, name))
		return nil
	}
	if i >= v.upto {
		v.fail(fmt.Errorf("%w: %s.%s read before it was resolved", ErrMalformedLayer, v.layer.def.name, name))
		return nil
	}
	return v.layer.Get(name)
}

func (v *Values) fail(err error) {
	if v.err == nil {
		v.err = err
	}
}

// Get returns the raw normalized value of a field.
func (v *Values) Get(name string) any {
	return v.lookup(name)
}

func (v *Values) Uint(name string) uint64 {
	u, _ := toUint64(v.lookup(name))
	return u
}

func (v *Values) Int(name string) int64 {
	i, _ := toInt64(v.lookup(name))
	return i
}

func (v *Values) Bool(name string) bool {
	b, _ := toBool(v.lookup(name))
	return b
}

func (v *Values) Str(name string) string {
	b, _ := toBytes(v.lookup(name))
	return string(b)
}

func (v *Values) Bytes(name string) []byte {
	b, _ := toBytes(v.lookup(name))
	return b
}

func (v *Values) Len(name string) int {
	switch x := v.lookup(name).(type) {
	case []byte:
		return len(x)
	case string:
		return len(x)
	case []*Layer:
		return len(x)
	}
	return 0
}

func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint64:
		return x, nil
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case int:
		return uint64(x), nil
	case int8:
		return uint64(x), nil
	case int16:
		return uint64(x), nil
	case int32:
		return uint64(x), nil
	case int64:
		return uint64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %T is not an integer", ErrValueType, v)
}

func toInt64(v any) (int64, error) {
	u, err := toUint64(v)
	return int64(u), err
}

func toBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	u, err := toUint64(v)
	if err != nil {
		return false, fmt.Errorf("%w: %T is not a flag", ErrValueType, v)
	}
	return u != 0, nil
}

func toBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %T is not a string or blob", ErrValueType, v)
}

func toLayers(v any) ([]*Layer, error) {
	switch x := v.(type) {
	case []*Layer:
		return x, nil
	case *Layer:
		return []*Layer{x}, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %T is not a layer list", ErrValueType, v)
}

// normalize converts v to the canonical Go type for kind.
func normalize(kind Kind, v any) (any, error) {
	switch kind {
	case KindUint, KindBits:
		return toUint64(v)
	case KindInt:
		return toInt64(v)
	case KindBool:
		return toBool(v)
	case KindBytes:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		return bytes.Clone(b), nil
	case KindString:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case KindLayers:
		return toLayers(v)
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrValueType, kind)
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case []*Layer:
		y, ok := b.([]*Layer)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !x[i].Equal(y[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}
