package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/polyglot-runtime/errors"
)

func TestJSONSchema(t *testing.T) {
	s := exampleSignature(t)

	js, err := s.JSONSchema("Context")
	require.NoError(t, err)

	assert.Equal(t, "object", js.Type)
	keys := []string{}
	for p := js.Properties.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"Message", "Count", "Total", "Ratio", "Level", "Tags", "Scores",
		"Meta", "Parent", "Note", "Raw", "Enabled"}, keys)
	assert.NotContains(t, js.Required, "Parent")
	assert.NotContains(t, js.Required, "Note")
	assert.Contains(t, js.Required, "Meta")

	level, _ := js.Properties.Get("Level")
	assert.Equal(t, []any{"Low", "Medium", "High"}, level.Enum)

	count, _ := js.Properties.Get("Count")
	assert.Equal(t, "integer", count.Type)
	assert.Equal(t, json.Number("100"), count.Maximum)

	raw, _ := js.Properties.Get("Raw")
	assert.Equal(t, "base64", raw.ContentEncoding)

	parent, _ := js.Properties.Get("Parent")
	require.Len(t, parent.AnyOf, 2)
	assert.Equal(t, "#/$defs/Context", parent.AnyOf[1].Ref)

	require.Contains(t, js.Definitions, "Meta")
	require.Contains(t, js.Definitions, "Context")
	owner, _ := js.Definitions["Meta"].Properties.Get("Owner")
	assert.Equal(t, "^[a-z]*$", owner.Pattern)
}

func TestJSONSchemaBytes(t *testing.T) {
	out, err := exampleSignature(t).JSONSchemaBytes("Meta")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "Meta", doc["title"])
	assert.Equal(t, false, doc["additionalProperties"])

	_, err = exampleSignature(t).JSONSchema("Nope")
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseSchema, Kind: errors.KindNotFound})
}
