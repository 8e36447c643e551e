package polyglot

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/polyglot-runtime/errors"
)

// Hand-written models in the shape a generator would emit for a signature
// with an enum, accessors, embedded models and every field kind.

type GenericEnum uint32

const (
	FirstValue GenericEnum = iota
	SecondValue
	DefaultValue
)

func decodeGenericEnum(d *Decoder) (GenericEnum, error) {
	v, err := d.Enum()
	if err != nil {
		return 0, err
	}
	if v > uint32(DefaultValue) {
		return 0, errors.InvalidEnum(errors.PhaseDecode, nil, v, "GenericEnum")
	}
	return GenericEnum(v), nil
}

type EmptyModel struct{}

func (m *EmptyModel) Encode(*Encoder)       {}
func (m *EmptyModel) Decode(*Decoder) error { return nil }

type ModelWithSingleStringField struct {
	StringField string
}

func (m *ModelWithSingleStringField) SetDefaults() { m.StringField = "DefaultValue" }

func (m *ModelWithSingleStringField) Encode(e *Encoder) { e.String(m.StringField) }

func (m *ModelWithSingleStringField) Decode(d *Decoder) (err error) {
	m.StringField, err = d.String()
	return err
}

type ModelWithEnum struct {
	EnumField GenericEnum
}

func (m *ModelWithEnum) SetDefaults() { m.EnumField = DefaultValue }

func (m *ModelWithEnum) Encode(e *Encoder) { e.Enum(uint32(m.EnumField)) }

func (m *ModelWithEnum) Decode(d *Decoder) (err error) {
	m.EnumField, err = decodeGenericEnum(d)
	return err
}

// ModelWithMultipleFieldsAccessor guards its fields behind validating setters.
type ModelWithMultipleFieldsAccessor struct {
	stringField string
	int32Field  int32
}

func (m *ModelWithMultipleFieldsAccessor) SetDefaults() {
	m.stringField = "DEFAULTVALUE"
	m.int32Field = 32
}

func (m *ModelWithMultipleFieldsAccessor) StringField() string { return m.stringField }

func (m *ModelWithMultipleFieldsAccessor) SetStringField(v string) error {
	if len(v) < 1 || len(v) > 20 {
		return errors.InvalidInput(errors.PhaseEncode, "stringField length must be between 1 and 20")
	}
	m.stringField = strings.ToUpper(v)
	return nil
}

func (m *ModelWithMultipleFieldsAccessor) Int32Field() int32 { return m.int32Field }

func (m *ModelWithMultipleFieldsAccessor) SetInt32Field(v int32) error {
	if v < 0 || v > 100 {
		return errors.Overflow(errors.PhaseEncode, []string{"int32Field"}, v, "0..100")
	}
	m.int32Field = v
	return nil
}

func (m *ModelWithMultipleFieldsAccessor) Encode(e *Encoder) {
	e.String(m.stringField).Int32(m.int32Field)
}

func (m *ModelWithMultipleFieldsAccessor) Decode(d *Decoder) (err error) {
	if m.stringField, err = d.String(); err != nil {
		return err
	}
	m.int32Field, err = d.Int32()
	return err
}

type ModelWithEmbeddedModels struct {
	EmbeddedEmptyModel                         *EmptyModel
	EmbeddedModelArrayWithMultipleFieldsAccessor []*ModelWithMultipleFieldsAccessor
}

func (m *ModelWithEmbeddedModels) Encode(e *Encoder) {
	EncodeModel(e, m.EmbeddedEmptyModel)
	EncodeModels(e, m.EmbeddedModelArrayWithMultipleFieldsAccessor)
}

func (m *ModelWithEmbeddedModels) Decode(d *Decoder) (err error) {
	if m.EmbeddedEmptyModel, err = DecodeModel[EmptyModel](d); err != nil {
		return err
	}
	m.EmbeddedModelArrayWithMultipleFieldsAccessor, err = DecodeModels[ModelWithMultipleFieldsAccessor](d)
	return err
}

type ModelWithAllFieldTypes struct {
	ModelField             *EmptyModel
	ModelArrayField        []*EmptyModel
	StringField            string
	StringArrayField       []string
	StringMapField         *orderedmap.OrderedMap[string, string]
	StringMapFieldEmbedded *orderedmap.OrderedMap[string, *EmptyModel]
	Int32Field             int32
	Int64Field             int64
	Int64ArrayField        []int64
	Uint32Field            uint32
	Uint64Field            uint64
	Uint64MapFieldEmbedded *orderedmap.OrderedMap[uint64, *EmptyModel]
	Float32Field           float32
	Float64Field           float64
	EnumField              GenericEnum
	EnumMapFieldEmbedded   *orderedmap.OrderedMap[uint32, *EmptyModel]
	BytesField             []byte
	BoolField              bool
	BoolArrayField         []bool
}

func (m *ModelWithAllFieldTypes) SetDefaults() {
	m.StringMapField = orderedmap.New[string, string]()
	m.StringMapFieldEmbedded = orderedmap.New[string, *EmptyModel]()
	m.Uint64MapFieldEmbedded = orderedmap.New[uint64, *EmptyModel]()
	m.EnumMapFieldEmbedded = orderedmap.New[uint32, *EmptyModel]()
	m.EnumField = DefaultValue
}

func (m *ModelWithAllFieldTypes) Encode(e *Encoder) {
	EncodeModel(e, m.ModelField)
	EncodeModels(e, m.ModelArrayField)
	e.String(m.StringField)
	e.Array(len(m.StringArrayField), StringKind)
	for _, s := range m.StringArrayField {
		e.String(s)
	}
	e.Map(m.StringMapField.Len(), StringKind, StringKind)
	for p := m.StringMapField.Oldest(); p != nil; p = p.Next() {
		e.String(p.Key).String(p.Value)
	}
	EncodeModelMap(e, StringKind, m.StringMapFieldEmbedded)
	e.Int32(m.Int32Field).Int64(m.Int64Field)
	e.Array(len(m.Int64ArrayField), Int64Kind)
	for _, v := range m.Int64ArrayField {
		e.Int64(v)
	}
	e.Uint32(m.Uint32Field).Uint64(m.Uint64Field)
	EncodeModelMap(e, Uint64Kind, m.Uint64MapFieldEmbedded)
	e.Float32(m.Float32Field).Float64(m.Float64Field)
	e.Enum(uint32(m.EnumField))
	EncodeModelMap(e, EnumKind, m.EnumMapFieldEmbedded)
	e.Bytes(m.BytesField).Bool(m.BoolField)
	e.Array(len(m.BoolArrayField), BoolKind)
	for _, b := range m.BoolArrayField {
		e.Bool(b)
	}
}

func (m *ModelWithAllFieldTypes) Decode(d *Decoder) (err error) {
	if m.ModelField, err = DecodeModel[EmptyModel](d); err != nil {
		return err
	}
	if m.ModelArrayField, err = DecodeModels[EmptyModel](d); err != nil {
		return err
	}
	if m.StringField, err = d.String(); err != nil {
		return err
	}
	n, err := d.Array(StringKind)
	if err != nil {
		return err
	}
	m.StringArrayField = make([]string, n)
	for i := range m.StringArrayField {
		if m.StringArrayField[i], err = d.String(); err != nil {
			return err
		}
	}
	if n, err = d.Map(StringKind, StringKind); err != nil {
		return err
	}
	m.StringMapField = orderedmap.New[string, string]()
	for i := 0; i < n; i++ {
		k, err := d.String()
		if err != nil {
			return err
		}
		v, err := d.String()
		if err != nil {
			return err
		}
		if _, dup := m.StringMapField.Set(k, v); dup {
			return errors.DuplicateKey(nil, k)
		}
	}
	if m.StringMapFieldEmbedded, err = DecodeModelMap[string, EmptyModel](d, StringKind); err != nil {
		return err
	}
	if m.Int32Field, err = d.Int32(); err != nil {
		return err
	}
	if m.Int64Field, err = d.Int64(); err != nil {
		return err
	}
	if n, err = d.Array(Int64Kind); err != nil {
		return err
	}
	m.Int64ArrayField = make([]int64, n)
	for i := range m.Int64ArrayField {
		if m.Int64ArrayField[i], err = d.Int64(); err != nil {
			return err
		}
	}
	if m.Uint32Field, err = d.Uint32(); err != nil {
		return err
	}
	if m.Uint64Field, err = d.Uint64(); err != nil {
		return err
	}
	if m.Uint64MapFieldEmbedded, err = DecodeModelMap[uint64, EmptyModel](d, Uint64Kind); err != nil {
		return err
	}
	if m.Float32Field, err = d.Float32(); err != nil {
		return err
	}
	if m.Float64Field, err = d.Float64(); err != nil {
		return err
	}
	if m.EnumField, err = decodeGenericEnum(d); err != nil {
		return err
	}
	if m.EnumMapFieldEmbedded, err = DecodeModelMap[uint32, EmptyModel](d, EnumKind); err != nil {
		return err
	}
	if m.BytesField, err = d.Bytes(); err != nil {
		return err
	}
	if m.BoolField, err = d.Bool(); err != nil {
		return err
	}
	if n, err = d.Array(BoolKind); err != nil {
		return err
	}
	m.BoolArrayField = make([]bool, n)
	for i := range m.BoolArrayField {
		if m.BoolArrayField[i], err = d.Bool(); err != nil {
			return err
		}
	}
	return nil
}

// Tree nests records through a field, an array and a map.
type Tree struct {
	Label    string
	Child    *Tree
	Children []*Tree
	Named    *orderedmap.OrderedMap[string, *Tree]
}

func (m *Tree) Encode(e *Encoder) {
	e.String(m.Label)
	EncodeModel(e, m.Child)
	EncodeModels(e, m.Children)
	EncodeModelMap(e, StringKind, m.Named)
}

func (m *Tree) Decode(d *Decoder) (err error) {
	if m.Label, err = d.String(); err != nil {
		return err
	}
	if m.Child, err = DecodeModel[Tree](d); err != nil {
		return err
	}
	if m.Children, err = DecodeModels[Tree](d); err != nil {
		return err
	}
	m.Named, err = DecodeModelMap[string, Tree](d, StringKind)
	return err
}
