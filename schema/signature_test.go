package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/polyglot"
)

func TestParseSignatureYAML(t *testing.T) {
	s := exampleSignature(t)

	assert.Equal(t, "Example", s.Name)
	assert.Equal(t, "Context", s.Context)
	require.Len(t, s.Models, 2)

	_, tags, ok := s.Models[0].Field("Tags")
	require.True(t, ok)
	assert.Equal(t, polyglot.ArrayKind, tags.Kind)
	assert.Equal(t, polyglot.StringKind, tags.Elem)

	_, scores, ok := s.Models[0].Field("Scores")
	require.True(t, ok)
	assert.Equal(t, polyglot.StringKind, scores.Key)
	assert.Equal(t, polyglot.Int64Kind, scores.Elem)

	level, ok := s.Enum("Level")
	require.True(t, ok)
	ord, ok := level.Ordinal("High")
	assert.True(t, ok)
	assert.Equal(t, uint32(2), ord)
}

func TestParseSignatureYAMLRejectsUnknownKeys(t *testing.T) {
	doc := strings.Replace(exampleYAML, "tag: v1", "tag: v1\nversion: 2", 1)
	_, err := ParseSignatureYAML([]byte(doc))
	assert.ErrorIs(t, err, errors.ErrSchema)
}

func TestParseSignatureYAMLRejectsUnknownKind(t *testing.T) {
	doc := strings.Replace(exampleYAML, "kind: float64", "kind: decimal", 1)
	_, err := ParseSignatureYAML([]byte(doc))
	assert.Error(t, err)
}

func TestSignatureYAMLRoundTrip(t *testing.T) {
	s := exampleSignature(t)

	out, err := s.YAML()
	require.NoError(t, err)

	back, err := ParseSignatureYAML(out)
	require.NoError(t, err)
	assert.Equal(t, s.Hash(), back.Hash())
}

func TestSignatureHash(t *testing.T) {
	a := exampleSignature(t)
	b := exampleSignature(t)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 64)

	b.Models[0].Fields[0].Description = "changed"
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestSignatureCodecRoundTrip(t *testing.T) {
	s := exampleSignature(t)
	buf := polyglot.Marshal(s)

	var out Signature
	require.NoError(t, polyglot.Unmarshal(buf, &out))
	require.NoError(t, out.Validate())
	assert.Equal(t, buf, polyglot.Marshal(&out))

	_, msg, _ := out.Models[0].Field("Message")
	require.NotNil(t, msg.Accessor)
	assert.Nil(t, msg.Accessor.Min)
	require.NotNil(t, msg.Accessor.Max)
	assert.Equal(t, 16.0, *msg.Accessor.Max)
	assert.Equal(t, "upper", msg.Accessor.Case)
}

func TestSignatureCodecRejectsInvalidKindOrdinal(t *testing.T) {
	e := polyglot.NewEncoder(0)
	e.Record()
	e.String("f").Enum(0x03).Enum(0).Enum(0)

	var f FieldDef
	err := polyglot.Unmarshal(e.Buffer(), &f)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidEnum})
}

func TestSignatureValidation(t *testing.T) {
	tests := []struct {
		name    string
		find    string
		replace string
	}{
		{"missing context model", "context: Context", "context: Missing"},
		{"unknown model reference", "model: Meta}", "model: Nope}"},
		{"unknown enum reference", "enum: Level}\n      - {name: Tags", "enum: Nope}\n      - {name: Tags"},
		{"array of arrays", "elem: string}", "elem: array}"},
		{"float map key", "key: string", "key: float64"},
		{"bytes map key", "key: string", "key: bytes"},
		{"elem on scalar", "{name: Total, kind: uint64}", "{name: Total, kind: uint64, elem: string}"},
		{"model on scalar", "{name: Total, kind: uint64}", "{name: Total, kind: uint64, model: Meta}"},
		{"duplicate field", "{name: Total, kind: uint64}", "{name: Count, kind: uint64}"},
		{"duplicate enum value", "[Low, Medium, High]", "[Low, Low, High]"},
		{"enum value not identifier", "[Low, Medium, High]", "[Low, 9lives]"},
		{"duplicate model", "  - name: Meta\n", "  - name: Context\n"},
		{"required self embedding", "model: Context, optional: true}", "model: Context}"},
		{"accessor on bool", "{name: Enabled, kind: bool}", "{name: Enabled, kind: bool, accessor: {max: 1}}"},
		{"case on number", "accessor: {min: 0, max: 100}", "accessor: {case: upper}"},
		{"min above max", "accessor: {min: 0, max: 100}", "accessor: {min: 10, max: 1}"},
		{"unknown case", "case: upper", "case: title"},
		{"bad pattern", `pattern: "^[a-z]*$"`, `pattern: "(["`},
		{"bad model name", "  - name: Meta\n", "  - name: meta-data\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(exampleYAML, tt.find, tt.replace, 1)
			require.NotEqual(t, exampleYAML, doc, "replacement did not apply")

			_, err := ParseSignatureYAML([]byte(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrSchema)
		})
	}
}

func TestSignatureEmbeddingCycleThroughOptionalIsAllowed(t *testing.T) {
	s := &Signature{
		Name:    "Tree",
		Tag:     "v1",
		Context: "Node",
		Models: []*ModelDef{{
			Name: "Node",
			Fields: []*FieldDef{
				{Name: "Next", Kind: polyglot.RecordKind, Model: "Node", Optional: true},
				{Name: "Children", Kind: polyglot.ArrayKind, Elem: polyglot.RecordKind, Model: "Node"},
			},
		}},
	}
	assert.NoError(t, s.Validate())
}
