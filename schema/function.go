package schema

import (
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"

	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/polyglot"
)

// V1Beta is the only artifact version this package reads and writes.
const V1Beta = "V1Beta"

// Function is a compiled guest bundled with the signature it exchanges and
// the extensions it imports. It is immutable once decoded.
type Function struct {
	Name       string          `yaml:"name" json:"name" validate:"required"`
	Tag        string          `yaml:"tag" json:"tag" validate:"required"`
	Language   string          `yaml:"language" json:"language" validate:"required"`
	Stateless  bool            `yaml:"stateless,omitempty" json:"stateless,omitempty"`
	Signature  *Signature      `yaml:"signature" json:"signature" validate:"required"`
	Extensions []*ExtensionDef `yaml:"extensions,omitempty" json:"extensions,omitempty" validate:"dive,required"`
	Module     []byte          `yaml:"-" json:"-" validate:"required"`
}

// ExtensionDef describes the host interfaces an extension provides. The
// first interface is the root bound at handle 0.
type ExtensionDef struct {
	Name       string          `yaml:"name" json:"name" validate:"required"`
	Tag        string          `yaml:"tag" json:"tag"`
	Interfaces []*InterfaceDef `yaml:"interfaces" json:"interfaces" validate:"required,min=1,dive,required"`
}

// InterfaceDef is a named set of methods callable through the bridge.
type InterfaceDef struct {
	Name    string       `yaml:"name" json:"name" validate:"required,ident"`
	Methods []*MethodDef `yaml:"methods" json:"methods" validate:"dive,required"`
}

// MethodDef is one bridge method. Params and Returns name models; Capability
// names the interface of a returned capability instead.
type MethodDef struct {
	Name       string `yaml:"name" json:"name" validate:"required,ident"`
	Params     string `yaml:"params,omitempty" json:"params,omitempty"`
	Returns    string `yaml:"returns,omitempty" json:"returns,omitempty"`
	Capability string `yaml:"capability,omitempty" json:"capability,omitempty" validate:"excluded_with=Returns"`
}

// Hash returns the hex sha256 of the extension definition's encoding.
func (x *ExtensionDef) Hash() string {
	sum := sha256.Sum256(polyglot.Marshal(x))
	return hex.EncodeToString(sum[:])
}

// Interface returns the interface with the given name.
func (x *ExtensionDef) Interface(name string) (*InterfaceDef, bool) {
	for _, i := range x.Interfaces {
		if i.Name == name {
			return i, true
		}
	}
	return nil, false
}

// Method returns the method with the given name.
func (i *InterfaceDef) Method(name string) (*MethodDef, bool) {
	for _, m := range i.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Validate checks the artifact and its signature.
func (f *Function) Validate() error {
	if err := validate.Struct(f); err != nil {
		return errors.New(errors.PhaseSchema, errors.KindInvalidDefinition).
			Path(f.Name).
			Cause(err).
			Detail("function validation failed").
			Build()
	}
	seen := make(map[string]bool, len(f.Extensions))
	for _, x := range f.Extensions {
		if seen[x.Name] {
			return errors.InvalidDefinition([]string{f.Name, x.Name}, "duplicate extension")
		}
		seen[x.Name] = true
	}
	return f.Signature.Validate()
}

// Encode returns the V1Beta encoding of the artifact.
func (f *Function) Encode() []byte {
	e := polyglot.NewEncoder(len(f.Module) + 1024)
	e.String(V1Beta)
	e.String(f.Name).String(f.Tag).String(f.Language).Bool(f.Stateless)
	polyglot.EncodeModel(e, f.Signature)
	e.String(f.Signature.Hash())
	e.Array(len(f.Extensions), polyglot.RecordKind)
	for _, x := range f.Extensions {
		polyglot.EncodeModel(e, x)
		e.String(x.Hash())
	}
	e.Bytes(f.Module)
	return e.Buffer()
}

// DecodeFunction decodes and validates a V1Beta artifact. It never returns a
// partially populated Function.
func DecodeFunction(buf []byte) (*Function, error) {
	f, err := decodeFunction(polyglot.NewDecoder(buf))
	if err != nil {
		if stderrors.Is(err, errors.ErrSchema) {
			return nil, err
		}
		return nil, errors.Wrap(errors.PhaseSchema, errors.KindInvalidData, err, "decode function artifact")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeFunction(d *polyglot.Decoder) (*Function, error) {
	version, err := d.String()
	if err != nil {
		return nil, err
	}
	if version != V1Beta {
		return nil, errors.UnsupportedVersion(version)
	}

	f := &Function{}
	if f.Name, err = d.String(); err != nil {
		return nil, err
	}
	if f.Tag, err = d.String(); err != nil {
		return nil, err
	}
	if f.Language, err = d.String(); err != nil {
		return nil, err
	}
	if f.Stateless, err = d.Bool(); err != nil {
		return nil, err
	}
	if f.Signature, err = polyglot.DecodeModel[Signature](d); err != nil {
		return nil, err
	}
	if f.Signature == nil {
		return nil, errors.FieldMissing(errors.PhaseSchema, []string{f.Name}, "signature")
	}
	hash, err := d.String()
	if err != nil {
		return nil, err
	}
	if actual := f.Signature.Hash(); actual != hash {
		return nil, errors.HashMismatch("signature "+f.Signature.Name, hash, actual)
	}

	n, err := d.Array(polyglot.RecordKind)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		x, err := polyglot.DecodeModel[ExtensionDef](d)
		if err != nil {
			return nil, err
		}
		if x == nil {
			return nil, errors.FieldMissing(errors.PhaseSchema, []string{f.Name}, "extension")
		}
		hash, err := d.String()
		if err != nil {
			return nil, err
		}
		if actual := x.Hash(); actual != hash {
			return nil, errors.HashMismatch("extension "+x.Name, hash, actual)
		}
		f.Extensions = append(f.Extensions, x)
	}

	if f.Module, err = d.Bytes(); err != nil {
		return nil, err
	}
	if !d.Done() {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, "trailing bytes after module")
	}
	return f, nil
}

func (x *ExtensionDef) Encode(e *polyglot.Encoder) {
	e.String(x.Name).String(x.Tag)
	polyglot.EncodeModels(e, x.Interfaces)
}

func (x *ExtensionDef) Decode(d *polyglot.Decoder) (err error) {
	if x.Name, err = d.String(); err != nil {
		return err
	}
	if x.Tag, err = d.String(); err != nil {
		return err
	}
	x.Interfaces, err = polyglot.DecodeModels[InterfaceDef](d)
	return err
}

func (i *InterfaceDef) Encode(e *polyglot.Encoder) {
	e.String(i.Name)
	polyglot.EncodeModels(e, i.Methods)
}

func (i *InterfaceDef) Decode(d *polyglot.Decoder) (err error) {
	if i.Name, err = d.String(); err != nil {
		return err
	}
	i.Methods, err = polyglot.DecodeModels[MethodDef](d)
	return err
}

func (m *MethodDef) Encode(e *polyglot.Encoder) {
	e.String(m.Name).String(m.Params).String(m.Returns).String(m.Capability)
}

func (m *MethodDef) Decode(d *polyglot.Decoder) (err error) {
	for _, dst := range []*string{&m.Name, &m.Params, &m.Returns, &m.Capability} {
		if *dst, err = d.String(); err != nil {
			return err
		}
	}
	return nil
}
