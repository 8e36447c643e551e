package polyglot

import (
	"fmt"

	"github.com/wippyai/polyglot-runtime/errors"
)

// Kind is the tag byte that precedes every encoded value.
type Kind byte

const (
	NilKind     Kind = 0x00
	ArrayKind   Kind = 0x01
	MapKind     Kind = 0x02
	BytesKind   Kind = 0x04
	StringKind  Kind = 0x05
	ErrorKind   Kind = 0x06
	BoolKind    Kind = 0x07
	Uint32Kind  Kind = 0x0A
	Uint64Kind  Kind = 0x0B
	Int32Kind   Kind = 0x0C
	Int64Kind   Kind = 0x0D
	Float32Kind Kind = 0x0E
	Float64Kind Kind = 0x0F
	RecordKind  Kind = 0x10
	EnumKind    Kind = 0x11
)

var kindNames = map[Kind]string{
	NilKind:     "nil",
	ArrayKind:   "array",
	MapKind:     "map",
	BytesKind:   "bytes",
	StringKind:  "string",
	ErrorKind:   "error",
	BoolKind:    "bool",
	Uint32Kind:  "uint32",
	Uint64Kind:  "uint64",
	Int32Kind:   "int32",
	Int64Kind:   "int64",
	Float32Kind: "float32",
	Float64Kind: "float64",
	RecordKind:  "record",
	EnumKind:    "enum",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// Kinds returns every registered kind in tag order.
func Kinds() []Kind {
	return []Kind{
		NilKind, ArrayKind, MapKind, BytesKind, StringKind, ErrorKind, BoolKind,
		Uint32Kind, Uint64Kind, Int32Kind, Int64Kind, Float32Kind, Float64Kind,
		RecordKind, EnumKind,
	}
}

// Valid reports whether k is a registered tag.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsScalar reports whether k has a fixed or length-prefixed payload with no
// nested values.
func (k Kind) IsScalar() bool {
	switch k {
	case BoolKind, Uint32Kind, Uint64Kind, Int32Kind, Int64Kind,
		Float32Kind, Float64Kind, StringKind, BytesKind, EnumKind:
		return true
	}
	return false
}

// IsContainer reports whether k is an array or a map.
func (k Kind) IsContainer() bool {
	return k == ArrayKind || k == MapKind
}

// Width returns the payload size of fixed-width kinds, or 0.
func (k Kind) Width() int {
	switch k {
	case BoolKind:
		return 1
	case Uint32Kind, Int32Kind, Float32Kind, EnumKind:
		return 4
	case Uint64Kind, Int64Kind, Float64Kind:
		return 8
	}
	return 0
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(0x%02x)", byte(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("unregistered kind 0x%02x", byte(k)))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind resolves a kind by its text name.
func ParseKind(name string) (Kind, error) {
	if k, ok := kindsByName[name]; ok {
		return k, nil
	}
	return 0, errors.New(errors.PhaseSchema, errors.KindUnknownKind).
		Value(name).
		Detail("unknown kind %q", name).
		Build()
}
