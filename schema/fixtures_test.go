package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const exampleYAML = `name: Example
tag: v1
context: Context
enums:
  - name: Level
    values: [Low, Medium, High]
models:
  - name: Context
    description: run context
    fields:
      - {name: Message, kind: string, accessor: {case: upper, max: 16}}
      - {name: Count, kind: int32, accessor: {min: 0, max: 100}}
      - {name: Total, kind: uint64}
      - {name: Ratio, kind: float64}
      - {name: Level, kind: enum, enum: Level}
      - {name: Tags, kind: array, elem: string}
      - {name: Scores, kind: map, key: string, elem: int64}
      - {name: Meta, kind: record, model: Meta}
      - {name: Parent, kind: record, model: Context, optional: true}
      - {name: Note, kind: string, optional: true}
      - {name: Raw, kind: bytes}
      - {name: Enabled, kind: bool}
  - name: Meta
    fields:
      - {name: Owner, kind: string, accessor: {pattern: "^[a-z]*$"}}
      - {name: Levels, kind: array, elem: enum, enum: Level}
`

func exampleSignature(t *testing.T) *Signature {
	t.Helper()
	s, err := ParseSignatureYAML([]byte(exampleYAML))
	require.NoError(t, err)
	return s
}
