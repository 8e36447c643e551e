package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/polyglot-runtime/engine"
	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/extension"
	"github.com/wippyai/polyglot-runtime/polyglot"
	"github.com/wippyai/polyglot-runtime/schema"
)

// Runtime is a loaded function: a verified artifact, its compiled guest and
// the extensions bound to it. Instances created from one Runtime share the
// compiled module and nothing else.
type Runtime[T polyglot.Model] struct {
	cfg        *Config[T]
	res        *resolved
	fn         *schema.Function
	engine     *engine.Engine
	module     *engine.Module
	extensions []*extension.Extension
	logger     *zap.Logger

	mu        sync.Mutex
	state     State
	instances map[*Instance[T]]struct{}
}

// New verifies the configured artifact, binds its extensions, compiles the
// guest and resolves its imports.
func New[T polyglot.Model](ctx context.Context, cfg *Config[T]) (*Runtime[T], error) {
	res, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	fn := res.function

	r := &Runtime[T]{
		cfg:       cfg,
		res:       res,
		fn:        fn,
		logger:    res.logger.With(zap.String("function", fn.Name), zap.String("tag", fn.Tag)),
		state:     StateUnloaded,
		instances: make(map[*Instance[T]]struct{}),
	}

	if err := checkContext(fn.Signature, cfg.factory()); err != nil {
		return nil, err
	}
	if r.extensions, err = bindExtensions(fn, cfg.extensions); err != nil {
		return nil, err
	}

	r.engine, err = engine.NewEngine(ctx, &engine.Config{
		MemoryLimitPages: res.memoryPages,
		CacheDir:         res.cacheDir,
	})
	if err != nil {
		return nil, err
	}
	if err := r.load(ctx); err != nil {
		_ = r.engine.Close(ctx)
		return nil, err
	}

	r.state = StateLoaded
	r.logger.Debug("function loaded",
		zap.String("language", fn.Language),
		zap.Bool("stateless", fn.Stateless),
		zap.Int("extensions", len(r.extensions)))
	return r, nil
}

func (r *Runtime[T]) load(ctx context.Context) error {
	for _, x := range r.extensions {
		if err := r.engine.DefineHostModule(ctx, x.Name(), x.HostFunctions()); err != nil {
			return err
		}
	}

	mod, err := r.engine.Compile(ctx, r.fn.Module)
	if err != nil {
		return err
	}
	if err := mod.CheckABI(); err != nil {
		return err
	}
	missing, err := r.engine.Unresolved(ctx, mod)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errors.NewMissingImportsError(missing)
	}
	r.module = mod
	return nil
}

// modelNamer is implemented by dynamic contexts that carry their model.
type modelNamer interface {
	Model() *schema.ModelDef
}

// checkContext verifies that T is the signature's context model, by name
// and by the shape of its encoded fields.
func checkContext(sig *schema.Signature, sample polyglot.Model) error {
	if isNil(sample) {
		return errors.InvalidInput(errors.PhaseConfig, "context factory returned nil")
	}
	var name string
	if m, ok := sample.(modelNamer); ok && m.Model() != nil {
		name = m.Model().Name
	} else {
		t := reflect.TypeOf(sample)
		for t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t != nil {
			name = t.Name()
		}
	}
	if name != sig.Context {
		return errors.New(errors.PhaseSchema, errors.KindTypeMismatch).
			Path(sig.Name, "context").
			Expected(sig.Context).
			Actual(name).
			Detail("context type does not match the signature").
			Build()
	}

	// the sample's field stream must decode as the context model
	rec, err := sig.NewContext()
	if err != nil {
		return err
	}
	if err := polyglot.Unmarshal(polyglot.Marshal(sample), rec); err != nil {
		return errors.New(errors.PhaseSchema, errors.KindTypeMismatch).
			Path(sig.Name, "context").
			Expected(sig.Context).
			Actual(name).
			Cause(err).
			Detail("context fields do not match the signature").
			Build()
	}
	return nil
}

// bindExtensions matches the artifact's extension references to the bound
// extensions. Every reference must be bound and implemented; bound
// extensions the artifact does not reference are still linked so guests
// built against a newer artifact can use them.
func bindExtensions(fn *schema.Function, bound []*extension.Extension) ([]*extension.Extension, error) {
	byName := make(map[string]*extension.Extension, len(bound))
	for _, x := range bound {
		if x == nil {
			return nil, errors.InvalidInput(errors.PhaseConfig, "extension is nil")
		}
		if _, dup := byName[x.Name()]; dup {
			return nil, errors.Registration(errors.PhaseLink, x.Name(), "", fmt.Errorf("extension %q bound twice", x.Name()))
		}
		byName[x.Name()] = x
	}

	var unbound []string
	for _, def := range fn.Extensions {
		x, ok := byName[def.Name]
		if !ok {
			unbound = append(unbound, def.Name)
			continue
		}
		if err := x.Satisfies(def); err != nil {
			return nil, err
		}
	}
	if len(unbound) > 0 {
		sort.Strings(unbound)
		return nil, errors.New(errors.PhaseSchema, errors.KindNotFound).
			Path(fn.Name).
			Value(unbound).
			Detail("extensions not bound: %v", unbound).
			Build()
	}
	return bound, nil
}

// Function returns the loaded artifact.
func (r *Runtime[T]) Function() *schema.Function {
	return r.fn
}

// State returns Loaded, or Closed after Close.
func (r *Runtime[T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Instance creates a ready guest instance with its own bridges.
func (r *Runtime[T]) Instance(ctx context.Context) (*Instance[T], error) {
	r.mu.Lock()
	if r.state != StateLoaded {
		s := r.state
		r.mu.Unlock()
		return nil, errors.InvalidState("instantiate", s.String())
	}
	r.mu.Unlock()

	inst := &Instance[T]{
		rt:    r,
		id:    uuid.NewString(),
		state: StateLoaded,
	}
	inst.logger = r.logger.With(zap.String("instance", inst.id))

	for _, x := range r.extensions {
		inst.bridges = append(inst.bridges, x.NewBridge())
	}

	guest, err := r.engine.Instantiate(inst.withBridges(ctx), r.module, &engine.InstanceConfig{
		Stdout: r.cfg.stdout,
		Stderr: r.cfg.stderr,
	})
	if err != nil {
		_ = inst.closeBridges()
		return nil, err
	}
	inst.guest = guest
	inst.transition(StateInstantiated)

	r.mu.Lock()
	if r.state != StateLoaded {
		r.mu.Unlock()
		_ = inst.closeBridges()
		_ = guest.Close(ctx)
		return nil, errors.InvalidState("instantiate", StateClosed.String())
	}
	r.instances[inst] = struct{}{}
	r.mu.Unlock()

	inst.transition(StateReady)
	return inst, nil
}

// Run runs sig on a fresh instance and closes it.
func (r *Runtime[T]) Run(ctx context.Context, sig T) error {
	inst, err := r.Instance(ctx)
	if err != nil {
		return err
	}
	runErr := inst.Run(ctx, sig)
	if err := inst.Close(ctx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func (r *Runtime[T]) forget(inst *Instance[T]) {
	r.mu.Lock()
	delete(r.instances, inst)
	r.mu.Unlock()
}

// Close closes every open instance, the compiled module and the engine.
func (r *Runtime[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = StateClosed
	open := make([]*Instance[T], 0, len(r.instances))
	for inst := range r.instances {
		open = append(open, inst)
	}
	r.mu.Unlock()

	var errs []error
	for _, inst := range open {
		errs = append(errs, inst.Close(ctx))
	}
	if r.module != nil {
		errs = append(errs, r.module.Close(ctx))
	}
	errs = append(errs, r.engine.Close(ctx))

	r.logger.Debug("function closed")
	return stderrors.Join(errs...)
}
