package schema

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/polyglot-runtime/errors"
)

// ParseSignatureYAML parses and validates a signature document. Unknown keys
// are rejected.
//
//	name: Example
//	tag: v1
//	context: Context
//	enums:
//	  - name: Level
//	    values: [Low, High]
//	models:
//	  - name: Context
//	    fields:
//	      - {name: Message, kind: string}
//	      - {name: Level, kind: enum, enum: Level}
//	      - {name: Tags, kind: array, elem: string}
func ParseSignatureYAML(data []byte) (*Signature, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Signature
	if err := dec.Decode(&s); err != nil {
		return nil, errors.New(errors.PhaseSchema, errors.KindInvalidDefinition).
			Cause(err).
			Detail("parse signature yaml").
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSignature reads a signature YAML file.
func LoadSignature(path string) (*Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseSchema, errors.KindNotFound).
			Path(path).
			Cause(err).
			Detail("read signature").
			Build()
	}
	return ParseSignatureYAML(data)
}

// YAML renders the signature in the form ParseSignatureYAML reads.
func (s *Signature) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, errors.Wrap(errors.PhaseSchema, errors.KindInvalidDefinition, err, "render signature yaml")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(errors.PhaseSchema, errors.KindInvalidDefinition, err, "render signature yaml")
	}
	return buf.Bytes(), nil
}
