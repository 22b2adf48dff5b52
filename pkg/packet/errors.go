package packet

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the dissection and build engines.
var (
	// Decoding errors
	ErrTruncatedInput = errors.New("packet: truncated input")
	ErrMalformedLayer = errors.New("packet: malformed layer")
	ErrDepthExceeded  = errors.New("packet: nesting depth exceeded")

	// Field access errors
	ErrUnknownField = errors.New("packet: unknown field")
	ErrValueType    = errors.New("packet: value type mismatch")
	ErrValueSize    = errors.New("packet: value size mismatch")

	// Registration errors
	ErrTableSealed       = errors.New("packet: table sealed")
	ErrDuplicateKey      = errors.New("packet: duplicate discriminator")
	ErrDuplicateDef      = errors.New("packet: definition already registered")
	ErrDefinitionMissing = errors.New("packet: definition not found")
)

// DecodeError reports where decoding of a layer stopped. The layer returned
// alongside it holds every field decoded before Offset.
type DecodeError struct {
	Layer  string
	Field  string
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s at offset %d: %v", e.Layer, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s.%s at offset %d: %v", e.Layer, e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
