package polyglot

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/polyglot-runtime/errors"
)

// Model is implemented by every record type. Encode writes the record's
// field stream in its fixed field order; Decode reads the same stream into
// the receiver. Neither touches the presence marker, which EncodeModel and
// DecodeModel handle so records nest inside fields, arrays and maps.
type Model interface {
	Encode(e *Encoder)
	Decode(d *Decoder) error
}

// Defaulter is implemented by models whose default value is not the Go zero
// value.
type Defaulter interface {
	SetDefaults()
}

// ModelPtr constrains PT to a pointer to T implementing Model.
type ModelPtr[T any] interface {
	*T
	Model
}

// New constructs a model from d. With a nil decoder it returns a
// default-valued instance; otherwise it decodes a presence-marked record and
// fails when the stream holds the absent marker.
func New[T any, PT ModelPtr[T]](d *Decoder) (PT, error) {
	if d == nil {
		m := PT(new(T))
		if def, ok := any(m).(Defaulter); ok {
			def.SetDefaults()
		}
		return m, nil
	}
	m, err := DecodeModel[T, PT](d)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
			Expected(RecordKind.String()).
			Actual(NilKind.String()).
			Detail("%T is absent", m).
			Build()
	}
	return m, nil
}

// EncodeModel writes m with its presence marker, or the absent marker when
// m is nil.
func EncodeModel(e *Encoder, m Model) {
	if isNilModel(m) {
		e.Nil()
		return
	}
	e.Record()
	m.Encode(e)
}

// EncodeAbsent writes the absent marker in place of a record.
func EncodeAbsent(e *Encoder) {
	e.Nil()
}

// DecodeModel reads a presence-marked record. It returns a nil pointer when
// the stream holds the absent marker.
func DecodeModel[T any, PT ModelPtr[T]](d *Decoder) (PT, error) {
	present, err := d.Record()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	m := PT(new(T))
	if def, ok := any(m).(Defaulter); ok {
		def.SetDefaults()
	}
	if err := m.Decode(d); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeModels writes an array of records. Nil elements are encoded absent.
func EncodeModels[PT Model](e *Encoder, models []PT) {
	e.Array(len(models), RecordKind)
	for _, m := range models {
		EncodeModel(e, m)
	}
}

// DecodeModels reads an array of records. Absent elements decode to nil.
func DecodeModels[T any, PT ModelPtr[T]](d *Decoder) ([]PT, error) {
	n, err := d.Array(RecordKind)
	if err != nil {
		return nil, err
	}
	out := make([]PT, 0, n)
	for i := 0; i < n; i++ {
		m, err := DecodeModel[T, PT](d)
		if err != nil {
			return nil, elementError(err, i)
		}
		out = append(out, m)
	}
	return out, nil
}

// EncodeModelMap writes a map with record values. Keys must be of keyKind.
func EncodeModelMap[K comparable, PT Model](e *Encoder, keyKind Kind, m *orderedmap.OrderedMap[K, PT]) {
	if m == nil {
		e.Map(0, keyKind, RecordKind)
		return
	}
	e.Map(m.Len(), keyKind, RecordKind)
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		if err := EncodeValue(e, keyKind, pair.Key); err != nil {
			panic(fmt.Sprintf("polyglot: map key: %v", err))
		}
		EncodeModel(e, pair.Value)
	}
}

// DecodeModelMap reads a map with record values. Duplicate keys are a format
// error.
func DecodeModelMap[K comparable, T any, PT ModelPtr[T]](d *Decoder, keyKind Kind) (*orderedmap.OrderedMap[K, PT], error) {
	n, err := d.Map(keyKind, RecordKind)
	if err != nil {
		return nil, err
	}
	out := orderedmap.New[K, PT](orderedmap.WithCapacity[K, PT](n))
	for i := 0; i < n; i++ {
		raw, err := DecodeValue(d, keyKind)
		if err != nil {
			return nil, elementError(err, i)
		}
		key, ok := raw.(K)
		if !ok {
			return nil, errors.TypeMismatch(errors.PhaseDecode, []string{fmt.Sprint(i)}, fmt.Sprintf("%T", *new(K)), fmt.Sprintf("%T", raw))
		}
		if _, exists := out.Get(key); exists {
			return nil, errors.DuplicateKey([]string{fmt.Sprint(i)}, key)
		}
		v, err := DecodeModel[T, PT](d)
		if err != nil {
			return nil, elementError(err, i)
		}
		out.Set(key, v)
	}
	return out, nil
}

// Marshal encodes m as a standalone presence-marked record.
func Marshal(m Model) []byte {
	e := NewEncoder(poolInitCap)
	EncodeModel(e, m)
	return e.Buffer()
}

// Unmarshal decodes a standalone record into m. The whole buffer must be
// consumed and the record must be present.
func Unmarshal(buf []byte, m Model) error {
	d := NewDecoder(buf)
	present, err := d.Record()
	if err != nil {
		return err
	}
	if !present {
		return errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
			Expected(RecordKind.String()).
			Actual(NilKind.String()).
			Build()
	}
	if err := m.Decode(d); err != nil {
		return err
	}
	if !d.Done() {
		return errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("%d trailing bytes after record", d.Remaining()))
	}
	return nil
}

func isNilModel(m Model) bool {
	return m == nil || isNilPointer(m)
}

func elementError(err error, index int) error {
	if e, ok := err.(*errors.Error); ok {
		cp := *e
		cp.Path = append([]string{fmt.Sprint(index)}, e.Path...)
		return &cp
	}
	return err
}
