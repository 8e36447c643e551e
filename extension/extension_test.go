package extension

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/internal/greeting"
	"github.com/wippyai/polyglot-runtime/schema"
)

type Toolbox interface {
	Fail(*greeting.Stringval) (*greeting.Stringval, error)
	Panic() error
	Touch(context.Context)
	Open(*greeting.Stringval) (Resource, error)
	Missing() (Resource, error)
}

type Resource interface {
	Name() (*greeting.Stringval, error)
	Close() error
}

type toolbox struct {
	touched context.Context
	opened  []*resourceImpl
}

func (t *toolbox) Fail(in *greeting.Stringval) (*greeting.Stringval, error) {
	return nil, stderrors.New("failed: " + in.Value)
}

func (t *toolbox) Panic() error { panic("kaboom") }

func (t *toolbox) Touch(ctx context.Context) { t.touched = ctx }

func (t *toolbox) Open(in *greeting.Stringval) (Resource, error) {
	r := &resourceImpl{name: in.Value}
	t.opened = append(t.opened, r)
	return r, nil
}

func (t *toolbox) Missing() (Resource, error) { return nil, nil }

type resourceImpl struct {
	name   string
	closed int
}

func (r *resourceImpl) Name() (*greeting.Stringval, error) {
	return &greeting.Stringval{Value: r.name}, nil
}

func (r *resourceImpl) Close() error {
	r.closed++
	return nil
}

func TestNew_Definition(t *testing.T) {
	x, err := New[greeting.Interface](greeting.Name, greeting.Host{}, WithTag("v1"))
	require.NoError(t, err)

	assert.Equal(t, greeting.Name, x.Name())
	assert.Equal(t, "v1", x.Tag())
	assert.Equal(t, "Interface", x.Root())

	def := x.Definition()
	require.Len(t, def.Interfaces, 2)
	assert.Equal(t, "Interface", def.Interfaces[0].Name)
	assert.Equal(t, "Example", def.Interfaces[1].Name)

	newM, ok := def.Interfaces[0].Method("New")
	require.True(t, ok)
	assert.Equal(t, schema.MethodDef{Name: "New", Params: "Stringval", Capability: "Example"}, *newM)

	world, ok := def.Interfaces[0].Method("World")
	require.True(t, ok)
	assert.Equal(t, schema.MethodDef{Name: "World", Params: "Stringval", Returns: "Stringval"}, *world)

	hello, ok := def.Interfaces[1].Method("Hello")
	require.True(t, ok)
	assert.Equal(t, "Stringval", hello.Returns)
}

type notAnInterface struct{}

type twoParams interface {
	Do(*greeting.Stringval, *greeting.Stringval) error
}

type scalarParam interface {
	Do(string) error
}

type twoResults interface {
	Do() (*greeting.Stringval, *greeting.Stringval)
}

type scalarResult interface {
	Do() (string, error)
}

type empty interface{}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"empty name", func() error { _, err := New[greeting.Interface]("", greeting.Host{}); return err }},
		{"not an interface", func() error { _, err := New[notAnInterface]("x", notAnInterface{}); return err }},
		{"nil implementation", func() error { _, err := New[greeting.Interface]("x", nil); return err }},
		{"nil pointer", func() error { _, err := New[Toolbox]("x", (*toolbox)(nil)); return err }},
		{"two params", func() error { _, err := New[twoParams]("x", nil); return err }},
		{"scalar param", func() error { _, err := New[scalarParam]("x", nil); return err }},
		{"two results", func() error { _, err := New[twoResults]("x", nil); return err }},
		{"scalar result", func() error { _, err := New[scalarResult]("x", nil); return err }},
		{"no methods", func() error { _, err := New[empty]("x", 1); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseBridge, Kind: errors.KindRegistration})
		})
	}
}

func TestNew_Capabilities(t *testing.T) {
	x, err := New[Toolbox]("toolbox", &toolbox{})
	require.NoError(t, err)

	def := x.Definition()
	require.Len(t, def.Interfaces, 2)
	assert.Equal(t, "Resource", def.Interfaces[1].Name)

	touch, ok := def.Interfaces[0].Method("Touch")
	require.True(t, ok)
	assert.Equal(t, schema.MethodDef{Name: "Touch"}, *touch)
}

func TestSatisfies(t *testing.T) {
	x, err := New[greeting.Interface](greeting.Name, greeting.Host{})
	require.NoError(t, err)

	require.NoError(t, x.Satisfies(x.Definition()))

	subset := &schema.ExtensionDef{
		Name: greeting.Name,
		Interfaces: []*schema.InterfaceDef{{
			Name:    "Example",
			Methods: []*schema.MethodDef{{Name: "Hello", Params: "Stringval", Returns: "Stringval"}},
		}},
	}
	require.NoError(t, x.Satisfies(subset))

	tests := []struct {
		name string
		def  *schema.ExtensionDef
		kind errors.Kind
	}{
		{
			"other extension",
			&schema.ExtensionDef{Name: "other", Interfaces: subset.Interfaces},
			errors.KindInvalidDefinition,
		},
		{
			"missing interface",
			&schema.ExtensionDef{Name: greeting.Name, Interfaces: []*schema.InterfaceDef{{Name: "Nope"}}},
			errors.KindInvalidDefinition,
		},
		{
			"missing method",
			&schema.ExtensionDef{Name: greeting.Name, Interfaces: []*schema.InterfaceDef{{
				Name:    "Example",
				Methods: []*schema.MethodDef{{Name: "Goodbye"}},
			}}},
			errors.KindInvalidDefinition,
		},
		{
			"different result",
			&schema.ExtensionDef{Name: greeting.Name, Interfaces: []*schema.InterfaceDef{{
				Name:    "Example",
				Methods: []*schema.MethodDef{{Name: "Hello", Params: "Stringval", Returns: "Other"}},
			}}},
			errors.KindTypeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := x.Satisfies(tt.def)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrSchema)
			assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseSchema, Kind: tt.kind})
		})
	}
}

func TestHostFunctions(t *testing.T) {
	x, err := New[greeting.Interface](greeting.Name, greeting.Host{})
	require.NoError(t, err)

	var names []string
	for _, f := range x.HostFunctions() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Interface_New", "Interface_World", "Example_Hello", "invoke", "drop"}, names)
}

func TestBridgeFrom(t *testing.T) {
	x, err := New[greeting.Interface](greeting.Name, greeting.Host{})
	require.NoError(t, err)

	_, ok := BridgeFrom(context.Background(), greeting.Name)
	assert.False(t, ok)

	b := x.NewBridge()
	ctx := WithBridge(context.Background(), b)
	got, ok := BridgeFrom(ctx, greeting.Name)
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = BridgeFrom(ctx, "other")
	assert.False(t, ok)
}
