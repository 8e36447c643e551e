// Package greeting is the local-example extension the end-to-end guests
// call: a root that creates Example capabilities and answers World, and an
// Example that answers Hello. Both exchange a single string field record.
package greeting

import (
	"github.com/wippyai/polyglot-runtime/polyglot"
	"github.com/wippyai/polyglot-runtime/schema"
)

// Name is the extension name and wasm import module.
const Name = "local-example"

// Stringval is a record with one string field.
type Stringval struct {
	Value string
}

func (s *Stringval) Encode(e *polyglot.Encoder) {
	e.String(s.Value)
}

func (s *Stringval) Decode(d *polyglot.Decoder) (err error) {
	s.Value, err = d.String()
	return err
}

// Interface is the extension root.
type Interface interface {
	New(*Stringval) (Example, error)
	World(*Stringval) (*Stringval, error)
}

// Example is the capability returned by New.
type Example interface {
	Hello(*Stringval) (*Stringval, error)
}

// Host implements Interface with fixed answers.
type Host struct{}

func (Host) New(*Stringval) (Example, error) {
	return example{}, nil
}

func (Host) World(*Stringval) (*Stringval, error) {
	return &Stringval{Value: "Return World"}, nil
}

type example struct{}

func (example) Hello(*Stringval) (*Stringval, error) {
	return &Stringval{Value: "Return Hello"}, nil
}

// Signature is the signature of the greeting guests: a context holding one
// string field.
func Signature() *schema.Signature {
	return &schema.Signature{
		Name:    "Greeting",
		Tag:     "v1",
		Context: "Stringval",
		Models: []*schema.ModelDef{{
			Name:   "Stringval",
			Fields: []*schema.FieldDef{{Name: "Value", Kind: polyglot.StringKind}},
		}},
	}
}

// Function bundles wasm with the greeting signature and extension refs.
func Function(language string, wasm []byte, extensions ...*schema.ExtensionDef) *schema.Function {
	return &schema.Function{
		Name:       "greeting",
		Tag:        "v1",
		Language:   language,
		Signature:  Signature(),
		Extensions: extensions,
		Module:     wasm,
	}
}

var _ Interface = Host{}
