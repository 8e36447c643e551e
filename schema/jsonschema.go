package schema

import (
	"encoding/json"
	"strconv"

	"github.com/invopop/jsonschema"

	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/polyglot"
)

// JSONSchema describes the JSON view of a model (Record.Map) as a JSON
// Schema document. Referenced models are emitted under $defs.
func (s *Signature) JSONSchema(model string) (*jsonschema.Schema, error) {
	m, ok := s.Model(model)
	if !ok {
		return nil, errors.NotFound(errors.PhaseSchema, "model", model)
	}
	defs := jsonschema.Definitions{}
	root := s.modelSchema(m, defs)
	root.Version = jsonschema.Version
	root.ID = jsonschema.ID("urn:polyglot:" + s.Name + ":" + s.Tag + ":" + m.Name)
	if len(defs) > 0 {
		root.Definitions = defs
	}
	return root, nil
}

// JSONSchemaBytes renders JSONSchema as indented JSON.
func (s *Signature) JSONSchemaBytes(model string) ([]byte, error) {
	js, err := s.JSONSchema(model)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(js, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSchema, errors.KindInvalidDefinition, err, "render json schema")
	}
	return out, nil
}

func (s *Signature) modelSchema(m *ModelDef, defs jsonschema.Definitions) *jsonschema.Schema {
	out := &jsonschema.Schema{
		Type:                 "object",
		Title:                m.Name,
		Description:          m.Description,
		Properties:           jsonschema.NewProperties(),
		AdditionalProperties: jsonschema.FalseSchema,
	}
	for _, f := range m.Fields {
		fs := s.fieldSchema(f, f.Kind, defs)
		fs.Description = f.Description
		if f.Optional {
			fs = &jsonschema.Schema{
				Description: f.Description,
				AnyOf:       []*jsonschema.Schema{{Type: "null"}, fs},
			}
		} else {
			out.Required = append(out.Required, f.Name)
		}
		out.Properties.Set(f.Name, fs)
	}
	return out
}

func (s *Signature) fieldSchema(f *FieldDef, k polyglot.Kind, defs jsonschema.Definitions) *jsonschema.Schema {
	switch k {
	case polyglot.ArrayKind:
		return &jsonschema.Schema{Type: "array", Items: s.fieldSchema(f, f.Elem, defs)}
	case polyglot.MapKind:
		return &jsonschema.Schema{
			Type:                 "object",
			PropertyNames:        s.fieldSchema(f, f.Key, defs),
			AdditionalProperties: s.fieldSchema(f, f.Elem, defs),
		}
	case polyglot.RecordKind:
		if _, ok := defs[f.Model]; !ok {
			defs[f.Model] = &jsonschema.Schema{}
			child, _ := s.Model(f.Model)
			*defs[f.Model] = *s.modelSchema(child, defs)
		}
		return &jsonschema.Schema{Ref: "#/$defs/" + f.Model}
	case polyglot.EnumKind:
		e, _ := s.Enum(f.Enum)
		out := &jsonschema.Schema{Type: "string", Title: e.Name}
		for _, v := range e.Values {
			out.Enum = append(out.Enum, v)
		}
		return out
	case polyglot.BoolKind:
		return &jsonschema.Schema{Type: "boolean"}
	case polyglot.StringKind:
		out := &jsonschema.Schema{Type: "string"}
		if a := f.Accessor; a != nil && k == f.Kind {
			out.Pattern = a.Pattern
		}
		return out
	case polyglot.BytesKind:
		return &jsonschema.Schema{Type: "string", ContentEncoding: "base64"}
	case polyglot.Float32Kind, polyglot.Float64Kind:
		return s.numberSchema(f, k, "number")
	case polyglot.Uint32Kind, polyglot.Uint64Kind, polyglot.Int32Kind, polyglot.Int64Kind:
		return s.numberSchema(f, k, "integer")
	}
	return &jsonschema.Schema{}
}

func (s *Signature) numberSchema(f *FieldDef, k polyglot.Kind, typ string) *jsonschema.Schema {
	out := &jsonschema.Schema{Type: typ}
	switch k {
	case polyglot.Uint32Kind, polyglot.Uint64Kind:
		out.Minimum = "0"
	}
	if a := f.Accessor; a != nil && k == f.Kind {
		if a.Min != nil {
			out.Minimum = json.Number(strconv.FormatFloat(*a.Min, 'g', -1, 64))
		}
		if a.Max != nil {
			out.Maximum = json.Number(strconv.FormatFloat(*a.Max, 'g', -1, 64))
		}
	}
	return out
}
