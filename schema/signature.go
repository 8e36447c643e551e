package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/polyglot"
)

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	})
	return v
}()

// Signature describes the records a function exchanges with its host. The
// Context model is the record passed into and returned from every run.
type Signature struct {
	Name    string      `yaml:"name" json:"name" validate:"required,ident"`
	Tag     string      `yaml:"tag" json:"tag" validate:"required"`
	Context string      `yaml:"context" json:"context" validate:"required,ident"`
	Enums   []*EnumDef  `yaml:"enums,omitempty" json:"enums,omitempty" validate:"dive,required"`
	Models  []*ModelDef `yaml:"models" json:"models" validate:"required,min=1,dive,required"`
}

// EnumDef is a named, ordered set of values. Values are encoded by ordinal.
type EnumDef struct {
	Name        string   `yaml:"name" json:"name" validate:"required,ident"`
	Values      []string `yaml:"values" json:"values" validate:"required,min=1,dive,ident"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// ModelDef is a record type. Fields are encoded in declaration order.
type ModelDef struct {
	Name        string      `yaml:"name" json:"name" validate:"required,ident"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []*FieldDef `yaml:"fields,omitempty" json:"fields,omitempty" validate:"dive,required"`
}

// FieldDef is one field of a model.
//
// Kind is the field's wire kind. Arrays name their element kind in Elem; maps
// name their key kind in Key and their value kind in Elem. Model names the
// record type when Kind or Elem is a record; Enum names the enum used by any
// enum-kinded position.
type FieldDef struct {
	Name        string        `yaml:"name" json:"name" validate:"required,ident"`
	Kind        polyglot.Kind `yaml:"kind" json:"kind" validate:"required"`
	Elem        polyglot.Kind `yaml:"elem,omitempty" json:"elem,omitempty"`
	Key         polyglot.Kind `yaml:"key,omitempty" json:"key,omitempty"`
	Model       string        `yaml:"model,omitempty" json:"model,omitempty" validate:"omitempty,ident"`
	Enum        string        `yaml:"enum,omitempty" json:"enum,omitempty" validate:"omitempty,ident"`
	Optional    bool          `yaml:"optional,omitempty" json:"optional,omitempty"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Accessor    *Accessor     `yaml:"accessor,omitempty" json:"accessor,omitempty"`
}

// Accessor constrains writes to a scalar field. Min and Max bound numeric
// values or string and byte lengths; Pattern must match strings; Case
// normalizes strings before they are stored.
type Accessor struct {
	Min     *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Pattern string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Case    string   `yaml:"case,omitempty" json:"case,omitempty" validate:"omitempty,oneof=upper lower"`
}

// Model returns the model with the given name.
func (s *Signature) Model(name string) (*ModelDef, bool) {
	for _, m := range s.Models {
		if m != nil && m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Enum returns the enum with the given name.
func (s *Signature) Enum(name string) (*EnumDef, bool) {
	for _, e := range s.Enums {
		if e != nil && e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Field returns the field with the given name.
func (m *ModelDef) Field(name string) (int, *FieldDef, bool) {
	for i, f := range m.Fields {
		if f.Name == name {
			return i, f, true
		}
	}
	return -1, nil, false
}

// Ordinal returns the ordinal of a value name.
func (e *EnumDef) Ordinal(value string) (uint32, bool) {
	for i, v := range e.Values {
		if v == value {
			return uint32(i), true
		}
	}
	return 0, false
}

// Hash returns the hex sha256 of the signature's encoding.
func (s *Signature) Hash() string {
	sum := sha256.Sum256(polyglot.Marshal(s))
	return hex.EncodeToString(sum[:])
}

// Validate checks struct constraints and the semantic rules that make a
// signature decodable: unique names, resolvable references, legal container
// kinds and no model that embeds itself through non-optional record fields.
func (s *Signature) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.New(errors.PhaseSchema, errors.KindInvalidDefinition).
			Path(s.Name).
			Cause(err).
			Detail("signature validation failed").
			Build()
	}

	enums := make(map[string]bool, len(s.Enums))
	for _, e := range s.Enums {
		if enums[e.Name] {
			return errors.InvalidDefinition([]string{e.Name}, "duplicate enum")
		}
		enums[e.Name] = true
		seen := make(map[string]bool, len(e.Values))
		for _, v := range e.Values {
			if seen[v] {
				return errors.InvalidDefinition([]string{e.Name, v}, "duplicate enum value")
			}
			seen[v] = true
		}
	}

	models := make(map[string]bool, len(s.Models))
	for _, m := range s.Models {
		if models[m.Name] || enums[m.Name] {
			return errors.InvalidDefinition([]string{m.Name}, "duplicate type name")
		}
		models[m.Name] = true
	}

	for _, m := range s.Models {
		fields := make(map[string]bool, len(m.Fields))
		for _, f := range m.Fields {
			path := []string{m.Name, f.Name}
			if fields[f.Name] {
				return errors.InvalidDefinition(path, "duplicate field")
			}
			fields[f.Name] = true
			if err := s.validateField(path, f, models, enums); err != nil {
				return err
			}
		}
	}

	if !models[s.Context] {
		return errors.InvalidDefinition([]string{s.Context}, "context model is not defined")
	}
	return s.checkEmbedding()
}

func (s *Signature) validateField(path []string, f *FieldDef, models, enums map[string]bool) error {
	var kinds []polyglot.Kind
	switch f.Kind {
	case polyglot.ArrayKind:
		if !elementKind(f.Elem) {
			return errors.InvalidDefinition(path, fmt.Sprintf("array element kind %s is not allowed", f.Elem))
		}
		if f.Key != 0 {
			return errors.InvalidDefinition(path, "arrays have no key kind")
		}
		kinds = []polyglot.Kind{f.Elem}
	case polyglot.MapKind:
		if !keyKind(f.Key) {
			return errors.InvalidDefinition(path, fmt.Sprintf("map key kind %s is not allowed", f.Key))
		}
		if !elementKind(f.Elem) {
			return errors.InvalidDefinition(path, fmt.Sprintf("map value kind %s is not allowed", f.Elem))
		}
		kinds = []polyglot.Kind{f.Key, f.Elem}
	default:
		if !f.Kind.IsScalar() && f.Kind != polyglot.RecordKind {
			return errors.InvalidDefinition(path, fmt.Sprintf("field kind %s is not allowed", f.Kind))
		}
		if f.Elem != 0 || f.Key != 0 {
			return errors.InvalidDefinition(path, "only arrays and maps have element kinds")
		}
		kinds = []polyglot.Kind{f.Kind}
	}

	var usesModel, usesEnum bool
	for _, k := range kinds {
		usesModel = usesModel || k == polyglot.RecordKind
		usesEnum = usesEnum || k == polyglot.EnumKind
	}
	switch {
	case usesModel && !models[f.Model]:
		return errors.InvalidDefinition(path, fmt.Sprintf("model %q is not defined", f.Model))
	case !usesModel && f.Model != "":
		return errors.InvalidDefinition(path, "model set on a field without records")
	case usesEnum && !enums[f.Enum]:
		return errors.InvalidDefinition(path, fmt.Sprintf("enum %q is not defined", f.Enum))
	case !usesEnum && f.Enum != "":
		return errors.InvalidDefinition(path, "enum set on a field without enums")
	}

	if f.Accessor != nil {
		switch {
		case !f.Kind.IsScalar() || f.Kind == polyglot.EnumKind || f.Kind == polyglot.BoolKind:
			return errors.InvalidDefinition(path, "accessors apply to numeric, string and bytes fields")
		case f.Accessor.Case != "" && f.Kind != polyglot.StringKind:
			return errors.InvalidDefinition(path, "case applies to string fields")
		case f.Accessor.Pattern != "" && f.Kind != polyglot.StringKind:
			return errors.InvalidDefinition(path, "pattern applies to string fields")
		case f.Accessor.Min != nil && f.Accessor.Max != nil && *f.Accessor.Min > *f.Accessor.Max:
			return errors.InvalidDefinition(path, "accessor min exceeds max")
		}
		if f.Accessor.Pattern != "" {
			if _, err := regexp.Compile(f.Accessor.Pattern); err != nil {
				return errors.New(errors.PhaseSchema, errors.KindInvalidDefinition).
					Path(path...).
					Cause(err).
					Detail("invalid pattern").
					Build()
			}
		}
	}
	return nil
}

// checkEmbedding rejects models that contain themselves through required
// record fields; such records would have no finite default value.
func (s *Signature) checkEmbedding() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(s.Models))
	var visit func(name string, trail []string) error
	visit = func(name string, trail []string) error {
		switch state[name] {
		case visiting:
			return errors.InvalidDefinition(append(trail, name), "model embeds itself")
		case done:
			return nil
		}
		state[name] = visiting
		m, _ := s.Model(name)
		for _, f := range m.Fields {
			if f.Kind == polyglot.RecordKind && !f.Optional {
				if err := visit(f.Model, append(trail, name)); err != nil {
					return err
				}
			}
		}
		state[name] = done
		return nil
	}
	for _, m := range s.Models {
		if err := visit(m.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

func elementKind(k polyglot.Kind) bool {
	return k.IsScalar() || k == polyglot.RecordKind
}

func keyKind(k polyglot.Kind) bool {
	return k.IsScalar() && k != polyglot.Float32Kind && k != polyglot.Float64Kind && k != polyglot.BytesKind
}

// Encode writes the signature in a fixed order. It is the input of Hash and
// part of the function artifact.
func (s *Signature) Encode(e *polyglot.Encoder) {
	e.String(s.Name).String(s.Tag).String(s.Context)
	polyglot.EncodeModels(e, s.Enums)
	polyglot.EncodeModels(e, s.Models)
}

func (s *Signature) Decode(d *polyglot.Decoder) (err error) {
	if s.Name, err = d.String(); err != nil {
		return err
	}
	if s.Tag, err = d.String(); err != nil {
		return err
	}
	if s.Context, err = d.String(); err != nil {
		return err
	}
	if s.Enums, err = polyglot.DecodeModels[EnumDef](d); err != nil {
		return err
	}
	s.Models, err = polyglot.DecodeModels[ModelDef](d)
	return err
}

func (e *EnumDef) Encode(enc *polyglot.Encoder) {
	enc.String(e.Name)
	enc.Array(len(e.Values), polyglot.StringKind)
	for _, v := range e.Values {
		enc.String(v)
	}
	enc.String(e.Description)
}

func (e *EnumDef) Decode(d *polyglot.Decoder) (err error) {
	if e.Name, err = d.String(); err != nil {
		return err
	}
	n, err := d.Array(polyglot.StringKind)
	if err != nil {
		return err
	}
	e.Values = make([]string, n)
	for i := range e.Values {
		if e.Values[i], err = d.String(); err != nil {
			return err
		}
	}
	e.Description, err = d.String()
	return err
}

func (m *ModelDef) Encode(e *polyglot.Encoder) {
	e.String(m.Name).String(m.Description)
	polyglot.EncodeModels(e, m.Fields)
}

func (m *ModelDef) Decode(d *polyglot.Decoder) (err error) {
	if m.Name, err = d.String(); err != nil {
		return err
	}
	if m.Description, err = d.String(); err != nil {
		return err
	}
	m.Fields, err = polyglot.DecodeModels[FieldDef](d)
	return err
}

func (f *FieldDef) Encode(e *polyglot.Encoder) {
	e.String(f.Name)
	e.Enum(uint32(f.Kind)).Enum(uint32(f.Elem)).Enum(uint32(f.Key))
	e.String(f.Model).String(f.Enum)
	e.Bool(f.Optional)
	e.String(f.Description)
	polyglot.EncodeModel(e, f.Accessor)
}

func (f *FieldDef) Decode(d *polyglot.Decoder) (err error) {
	if f.Name, err = d.String(); err != nil {
		return err
	}
	for _, dst := range []*polyglot.Kind{&f.Kind, &f.Elem, &f.Key} {
		if *dst, err = decodeKind(d); err != nil {
			return err
		}
	}
	if f.Model, err = d.String(); err != nil {
		return err
	}
	if f.Enum, err = d.String(); err != nil {
		return err
	}
	if f.Optional, err = d.Bool(); err != nil {
		return err
	}
	if f.Description, err = d.String(); err != nil {
		return err
	}
	f.Accessor, err = polyglot.DecodeModel[Accessor](d)
	return err
}

func (a *Accessor) Encode(e *polyglot.Encoder) {
	for _, bound := range []*float64{a.Min, a.Max} {
		if bound == nil {
			e.Nil()
		} else {
			e.Float64(*bound)
		}
	}
	e.String(a.Pattern).String(a.Case)
}

func (a *Accessor) Decode(d *polyglot.Decoder) (err error) {
	for _, dst := range []**float64{&a.Min, &a.Max} {
		if d.IsNil() {
			*dst = nil
			continue
		}
		v, err := d.Float64()
		if err != nil {
			return err
		}
		*dst = &v
	}
	if a.Pattern, err = d.String(); err != nil {
		return err
	}
	a.Case, err = d.String()
	return err
}

func decodeKind(d *polyglot.Decoder) (polyglot.Kind, error) {
	v, err := d.Enum()
	if err != nil {
		return 0, err
	}
	k := polyglot.Kind(v)
	if v > 0xFF || !k.Valid() {
		return 0, errors.InvalidEnum(errors.PhaseDecode, nil, v, "Kind")
	}
	return k, nil
}
