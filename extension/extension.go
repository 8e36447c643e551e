package extension

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/polyglot"
	"github.com/wippyai/polyglot-runtime/schema"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	modelType   = reflect.TypeOf((*polyglot.Model)(nil)).Elem()
)

// Option configures an extension.
type Option func(*Extension)

// WithTag sets the extension tag recorded in its definition.
func WithTag(tag string) Option {
	return func(x *Extension) {
		x.tag = tag
	}
}

// WithLogger sets the logger used by the extension's bridges.
func WithLogger(l *zap.Logger) Option {
	return func(x *Extension) {
		if l != nil {
			x.logger = l
		}
	}
}

// method is one bridge-callable method of an interface.
type method struct {
	name       string
	index      int
	ctx        bool
	param      reflect.Type // *Model or nil
	result     reflect.Type // *Model, capability interface or nil
	capability *iface
	err        bool
}

type iface struct {
	name    string
	typ     reflect.Type
	methods map[string]*method
	order   []*method
}

// Extension is a host implementation of a set of interfaces, bound to
// guests as a wasm import module of the same name.
type Extension struct {
	name   string
	tag    string
	root   *iface
	ifaces map[string]*iface
	order  []*iface
	impl   any
	logger *zap.Logger
	def    *schema.ExtensionDef
}

// New binds impl as the root capability of a new extension. I must be an
// interface type. Its methods, and the methods of every interface they
// return, must have the shape
//
//	func([context.Context], [*P]) ([R], [error])
//
// where P is a polyglot.Model and R is either a polyglot.Model pointer or
// another interface, returned to the guest as a new handle.
func New[I any](name string, impl I, opts ...Option) (*Extension, error) {
	typ := reflect.TypeOf((*I)(nil)).Elem()
	if name == "" {
		return nil, errors.Registration(errors.PhaseBridge, name, typ.String(), fmt.Errorf("extension name is empty"))
	}
	if typ.Kind() != reflect.Interface {
		return nil, errors.Registration(errors.PhaseBridge, name, typ.String(), fmt.Errorf("%s is not an interface", typ))
	}
	x := &Extension{
		name:   name,
		ifaces: make(map[string]*iface),
		impl:   impl,
		logger: Logger(),
	}
	for _, opt := range opts {
		opt(x)
	}

	byType := make(map[reflect.Type]*iface)
	root, err := x.bind(typ, byType)
	if err != nil {
		return nil, err
	}
	if v := reflect.ValueOf(impl); !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return nil, errors.Registration(errors.PhaseBridge, name, typ.Name(), fmt.Errorf("implementation is nil"))
	}
	x.root = root
	x.def = x.definition()

	x.logger.Debug("extension bound",
		zap.String("extension", name),
		zap.String("root", root.name),
		zap.Int("interfaces", len(x.order)))
	return x, nil
}

// bind registers typ and every capability interface reachable from it.
func (x *Extension) bind(typ reflect.Type, byType map[reflect.Type]*iface) (*iface, error) {
	if it, ok := byType[typ]; ok {
		return it, nil
	}
	if typ.Name() == "" {
		return nil, errors.Registration(errors.PhaseBridge, x.name, typ.String(), fmt.Errorf("capability interfaces must be named"))
	}
	if other, ok := x.ifaces[typ.Name()]; ok {
		return nil, errors.Registration(errors.PhaseBridge, x.name, typ.Name(),
			fmt.Errorf("interface name collides with %s", other.typ))
	}
	if typ.NumMethod() == 0 {
		return nil, errors.Registration(errors.PhaseBridge, x.name, typ.Name(), fmt.Errorf("interface has no methods"))
	}

	it := &iface{name: typ.Name(), typ: typ, methods: make(map[string]*method)}
	byType[typ] = it
	x.ifaces[it.name] = it
	x.order = append(x.order, it)

	for i := 0; i < typ.NumMethod(); i++ {
		rm := typ.Method(i)
		m, err := x.shape(it, rm)
		if err != nil {
			return nil, err
		}
		m.index = i
		if m.result != nil && m.result.Kind() == reflect.Interface {
			if m.capability, err = x.bind(m.result, byType); err != nil {
				return nil, err
			}
		}
		it.methods[m.name] = m
		it.order = append(it.order, m)
	}
	return it, nil
}

func (x *Extension) shape(it *iface, rm reflect.Method) (*method, error) {
	m := &method{name: rm.Name}
	ft := rm.Type
	bad := func(format string, args ...any) error {
		return errors.Registration(errors.PhaseBridge, x.name, it.name+"."+rm.Name, fmt.Errorf(format, args...))
	}

	in := 0
	if in < ft.NumIn() && ft.In(in) == contextType {
		m.ctx = true
		in++
	}
	if in < ft.NumIn() {
		p := ft.In(in)
		if !isModel(p) {
			return nil, bad("parameter %s is not a model pointer", p)
		}
		m.param = p
		in++
	}
	if in != ft.NumIn() {
		return nil, bad("takes %d parameters, want at most a context and one model", ft.NumIn())
	}

	out := ft.NumOut()
	if out > 0 && ft.Out(out-1) == errorType {
		m.err = true
		out--
	}
	switch out {
	case 0:
	case 1:
		r := ft.Out(0)
		if !isModel(r) && !isCapability(r) {
			return nil, bad("result %s is neither a model pointer nor an interface", r)
		}
		m.result = r
	default:
		return nil, bad("returns %d values, want at most a result and an error", ft.NumOut())
	}
	return m, nil
}

func isModel(t reflect.Type) bool {
	return t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct && t.Implements(modelType)
}

func isCapability(t reflect.Type) bool {
	return t.Kind() == reflect.Interface && t != errorType && t != contextType && t != modelType
}

// Name returns the extension name, which is also its wasm import module.
func (x *Extension) Name() string { return x.name }

// Tag returns the extension tag.
func (x *Extension) Tag() string { return x.tag }

// Root returns the name of the interface bound at handle 0.
func (x *Extension) Root() string { return x.root.name }

// Definition describes the extension's interfaces, root first.
func (x *Extension) Definition() *schema.ExtensionDef { return x.def }

func (x *Extension) definition() *schema.ExtensionDef {
	def := &schema.ExtensionDef{Name: x.name, Tag: x.tag}
	for _, it := range x.order {
		idef := &schema.InterfaceDef{Name: it.name}
		for _, m := range it.order {
			md := &schema.MethodDef{Name: m.name}
			if m.param != nil {
				md.Params = m.param.Elem().Name()
			}
			switch {
			case m.capability != nil:
				md.Capability = m.capability.name
			case m.result != nil:
				md.Returns = m.result.Elem().Name()
			}
			idef.Methods = append(idef.Methods, md)
		}
		def.Interfaces = append(def.Interfaces, idef)
	}
	return def
}

// Satisfies reports whether the extension implements every interface and
// method def references, with the same parameter and result types.
func (x *Extension) Satisfies(def *schema.ExtensionDef) error {
	if def.Name != x.name {
		return errors.InvalidDefinition([]string{def.Name}, fmt.Sprintf("bound extension is %q", x.name))
	}
	for _, want := range def.Interfaces {
		have, ok := x.def.Interface(want.Name)
		if !ok {
			return errors.InvalidDefinition([]string{def.Name, want.Name}, "interface not implemented")
		}
		for _, wm := range want.Methods {
			hm, ok := have.Method(wm.Name)
			if !ok {
				return errors.InvalidDefinition([]string{def.Name, want.Name, wm.Name}, "method not implemented")
			}
			if *hm != *wm {
				return errors.New(errors.PhaseSchema, errors.KindTypeMismatch).
					Path(def.Name, want.Name, wm.Name).
					Expected(methodString(wm)).
					Actual(methodString(hm)).
					Build()
			}
		}
	}
	return nil
}

func methodString(m *schema.MethodDef) string {
	ret := m.Returns
	if m.Capability != "" {
		ret = m.Capability
	}
	return fmt.Sprintf("%s(%s) %s", m.Name, m.Params, ret)
}

// lookup resolves a selector against the interface of a handle. A selector
// is "Method" or "Interface.Method".
func (x *Extension) lookup(kind, selector string) (*method, error) {
	it, ok := x.ifaces[kind]
	if !ok {
		return nil, errors.UnknownSelector(x.name, kind, selector)
	}
	name := selector
	if prefix, rest, found := strings.Cut(selector, "."); found {
		if prefix != kind {
			return nil, errors.UnknownSelector(x.name, kind, selector)
		}
		name = rest
	}
	m, ok := it.methods[name]
	if !ok {
		return nil, errors.UnknownSelector(x.name, kind, selector)
	}
	return m, nil
}
