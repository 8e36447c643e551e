package polyglot

import (
	"fmt"
	"math"
	"reflect"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/polyglot-runtime/errors"
)

// Array is a dynamically typed array value.
type Array struct {
	Elem   Kind
	Values []any
}

// Map is a dynamically typed map value. Entries keep insertion order; setting
// an existing key replaces its value in place.
type Map struct {
	Key     Kind
	Value   Kind
	Entries *orderedmap.OrderedMap[any, any]
}

// NewMap creates an empty map value.
func NewMap(key, value Kind) *Map {
	return &Map{Key: key, Value: value, Entries: orderedmap.New[any, any]()}
}

// Set adds or replaces an entry.
func (m *Map) Set(key, value any) *Map {
	m.Entries.Set(key, value)
	return m
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil || m.Entries == nil {
		return 0
	}
	return m.Entries.Len()
}

// EncodeValue writes v as a value of kind k. Scalars must use their exact Go
// type (enum ordinals are uint32); arrays and maps use Array and Map; records
// are Models.
func EncodeValue(e *Encoder, k Kind, v any) error {
	switch k {
	case NilKind:
		if v != nil {
			return mismatch(k, v)
		}
		e.Nil()
		return nil
	case RecordKind:
		if v == nil {
			e.Nil()
			return nil
		}
		m, ok := v.(Model)
		if !ok {
			return mismatch(k, v)
		}
		EncodeModel(e, m)
		return nil
	case ArrayKind:
		a, ok := v.(*Array)
		if !ok || a == nil {
			return mismatch(k, v)
		}
		e.Array(len(a.Values), a.Elem)
		for i, elem := range a.Values {
			if err := EncodeValue(e, a.Elem, elem); err != nil {
				return elementError(err, i)
			}
		}
		return nil
	case MapKind:
		m, ok := v.(*Map)
		if !ok || m == nil {
			return mismatch(k, v)
		}
		e.Map(m.Len(), m.Key, m.Value)
		if m.Entries == nil {
			return nil
		}
		i := 0
		for pair := m.Entries.Oldest(); pair != nil; pair = pair.Next() {
			if isNaN(pair.Key) {
				return nanKey(errors.PhaseEncode, i)
			}
			if err := EncodeValue(e, m.Key, pair.Key); err != nil {
				return elementError(err, i)
			}
			if err := EncodeValue(e, m.Value, pair.Value); err != nil {
				return elementError(err, i)
			}
			i++
		}
		return nil
	}
	return encodeScalar(e, k, v)
}

func encodeScalar(e *Encoder, k Kind, v any) error {
	switch k {
	case BoolKind:
		if b, ok := v.(bool); ok {
			e.Bool(b)
			return nil
		}
	case Uint32Kind:
		if n, ok := v.(uint32); ok {
			e.Uint32(n)
			return nil
		}
	case Uint64Kind:
		if n, ok := v.(uint64); ok {
			e.Uint64(n)
			return nil
		}
	case Int32Kind:
		if n, ok := v.(int32); ok {
			e.Int32(n)
			return nil
		}
	case Int64Kind:
		if n, ok := v.(int64); ok {
			e.Int64(n)
			return nil
		}
	case Float32Kind:
		if f, ok := v.(float32); ok {
			e.Float32(f)
			return nil
		}
	case Float64Kind:
		if f, ok := v.(float64); ok {
			e.Float64(f)
			return nil
		}
	case StringKind:
		if s, ok := v.(string); ok {
			e.String(s)
			return nil
		}
	case BytesKind:
		if b, ok := v.([]byte); ok {
			e.Bytes(b)
			return nil
		}
	case EnumKind:
		if n, ok := v.(uint32); ok {
			e.Enum(n)
			return nil
		}
	case ErrorKind:
		if err, ok := v.(error); ok && err != nil {
			e.Error(err)
			return nil
		}
	default:
		return errors.New(errors.PhaseEncode, errors.KindUnknownKind).
			Value(k).
			Detail("cannot encode %s", k).
			Build()
	}
	return mismatch(k, v)
}

// DecodeValue reads a value of kind k. Records need a Model and are not
// supported here; use DecodeModel.
func DecodeValue(d *Decoder, k Kind) (any, error) {
	switch k {
	case NilKind:
		if d.IsNil() {
			return nil, nil
		}
		return nil, d.expect(NilKind)
	case BoolKind:
		return d.Bool()
	case Uint32Kind:
		return d.Uint32()
	case Uint64Kind:
		return d.Uint64()
	case Int32Kind:
		return d.Int32()
	case Int64Kind:
		return d.Int64()
	case Float32Kind:
		return d.Float32()
	case Float64Kind:
		return d.Float64()
	case StringKind:
		return d.String()
	case BytesKind:
		return d.Bytes()
	case EnumKind:
		return d.Enum()
	case ErrorKind:
		return d.Error()
	case ArrayKind:
		elem, n, err := d.ArrayHeader()
		if err != nil {
			return nil, err
		}
		a := &Array{Elem: elem, Values: make([]any, 0, n)}
		for i := 0; i < n; i++ {
			v, err := DecodeValue(d, elem)
			if err != nil {
				return nil, elementError(err, i)
			}
			a.Values = append(a.Values, v)
		}
		return a, nil
	case MapKind:
		key, val, n, err := d.MapHeader()
		if err != nil {
			return nil, err
		}
		m := &Map{Key: key, Value: val, Entries: orderedmap.New[any, any](orderedmap.WithCapacity[any, any](n))}
		for i := 0; i < n; i++ {
			kv, err := DecodeValue(d, key)
			if err != nil {
				return nil, elementError(err, i)
			}
			if !hashable(kv) {
				return nil, errors.TypeMismatch(errors.PhaseDecode, []string{fmt.Sprint(i)}, "hashable key", key.String())
			}
			if isNaN(kv) {
				return nil, nanKey(errors.PhaseDecode, i)
			}
			if _, exists := m.Entries.Get(kv); exists {
				return nil, errors.DuplicateKey([]string{fmt.Sprint(i)}, kv)
			}
			vv, err := DecodeValue(d, val)
			if err != nil {
				return nil, elementError(err, i)
			}
			m.Entries.Set(kv, vv)
		}
		return m, nil
	}
	return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Value(k).
		Detail("%s values need a model", k).
		Build()
}

func hashable(v any) bool {
	if v == nil {
		return false
	}
	return reflect.TypeOf(v).Comparable()
}

// NaN never equals itself, so NaN keys would slip past the uniqueness check.
func isNaN(v any) bool {
	switch f := v.(type) {
	case float32:
		return math.IsNaN(float64(f))
	case float64:
		return math.IsNaN(f)
	}
	return false
}

func nanKey(phase errors.Phase, i int) error {
	return errors.New(phase, errors.KindInvalidData).
		Path(fmt.Sprint(i)).
		Detail("map key is NaN").
		Build()
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func mismatch(k Kind, v any) error {
	return errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
		Expected(k.String()).
		Actual(fmt.Sprintf("%T", v)).
		Value(v).
		Build()
}
