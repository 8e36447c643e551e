package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	polyglotruntime "github.com/wippyai/polyglot-runtime"
	"github.com/wippyai/polyglot-runtime/errors"
)

// Engine wraps a wazero runtime shared by every module it compiles.
type Engine struct {
	runtime      wazero.Runtime
	cache        wazero.CompilationCache
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// CacheDir enables wazero's on-disk compilation cache.
	CacheDir string
}

// NewEngine creates a new engine. Guest calls abort when their context is
// done.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	e := &Engine{}

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CacheDir != "" {
			cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
			if err != nil {
				return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
					Path("cache_dir").
					Value(cfg.CacheDir).
					Cause(err).
					Detail("open compilation cache").
					Build()
			}
			e.cache = cache
			runtimeCfg = runtimeCfg.WithCompilationCache(cache)
		}
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

// Close closes the runtime, every module compiled or instantiated by it and
// the compilation cache.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// HostFunc is one function of a host module.
type HostFunc struct {
	Fn      api.GoModuleFunc
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// DefineHostModule instantiates a host module under name. A name can be
// defined once per engine.
func (e *Engine) DefineHostModule(ctx context.Context, name string, funcs []HostFunc) error {
	if name == "" || name == WASIModuleName {
		return errors.Registration(errors.PhaseLink, name, "", fmt.Errorf("reserved module name %q", name))
	}
	if e.runtime.Module(name) != nil {
		return errors.Registration(errors.PhaseLink, name, "", fmt.Errorf("module %q already defined", name))
	}

	builder := e.runtime.NewHostModuleBuilder(name)
	for _, f := range funcs {
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(f.Fn, f.Params, f.Results).
			WithName(f.Name).
			Export(f.Name)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.Registration(errors.PhaseLink, name, "", err)
	}

	Logger().Debug("host module defined", zap.String("module", name), zap.Int("functions", len(funcs)))
	return nil
}

// Import is a function the guest imports.
type Import struct {
	Module  string
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Key returns "module#name".
func (i Import) Key() string {
	return i.Module + "#" + i.Name
}

// Module is a compiled guest module.
type Module struct {
	compiled wazero.CompiledModule
	imports  []Import
	exports  map[string]api.FunctionDefinition
	memory   bool
}

// Compile compiles guest bytes. Compilation validates the binary but does not
// resolve imports.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	m := &Module{
		compiled: compiled,
		exports:  compiled.ExportedFunctions(),
	}
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		m.imports = append(m.imports, Import{
			Module:  mod,
			Name:    name,
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		})
	}
	_, m.memory = compiled.ExportedMemories()[ExportMemory]
	return m, nil
}

// Imports returns the functions the module imports, in declaration order.
func (m *Module) Imports() []Import {
	return m.imports
}

// Exports returns the names of the exported functions, sorted.
func (m *Module) Exports() []string {
	names := make([]string, 0, len(m.exports))
	for name := range m.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasExport reports whether the module exports a function.
func (m *Module) HasExport(name string) bool {
	_, ok := m.exports[name]
	return ok
}

// CheckABI verifies the exports every guest must provide: memory,
// malloc(i32) -> i32 and run(i32, i32) -> i64.
func (m *Module) CheckABI() error {
	if !m.memory {
		return errors.MissingExport(ExportMemory)
	}
	want := []struct {
		name    string
		params  []api.ValueType
		results []api.ValueType
	}{
		{ExportMalloc, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}},
		{ExportRun, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}},
	}
	for _, w := range want {
		def, ok := m.exports[w.name]
		if !ok {
			return errors.MissingExport(w.name)
		}
		if !sameTypes(def.ParamTypes(), w.params) || !sameTypes(def.ResultTypes(), w.results) {
			return errors.New(errors.PhaseLoad, errors.KindMissingExport).
				Value(w.name).
				Expected(signature(w.params, w.results)).
				Actual(signature(def.ParamTypes(), def.ResultTypes())).
				Detail("export %q has the wrong signature", w.name).
				Build()
		}
	}
	return nil
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Unresolved returns the "module#name" keys of imports no instantiated
// module provides with a matching signature.
func (e *Engine) Unresolved(ctx context.Context, m *Module) ([]string, error) {
	if err := e.InitWASI(ctx); err != nil {
		return nil, err
	}
	var missing []string
	for _, imp := range m.imports {
		provider := e.runtime.Module(imp.Module)
		if provider == nil {
			missing = append(missing, imp.Key())
			continue
		}
		def, ok := provider.ExportedFunctionDefinitions()[imp.Name]
		if !ok || !sameTypes(def.ParamTypes(), imp.Params) || !sameTypes(def.ResultTypes(), imp.Results) {
			missing = append(missing, imp.Key())
		}
	}
	return missing, nil
}

// InstanceConfig holds configuration for module instantiation
type InstanceConfig struct {
	Stdout io.Writer
	Stderr io.Writer
	// Name is empty for anonymous instances, which may be created in
	// parallel from the same module.
	Name string
}

// Instance is a live guest.
type Instance struct {
	mod api.Module
}

// Instantiate creates a guest instance and runs its _initialize export when
// present. WASI is instantiated on first use.
func (e *Engine) Instantiate(ctx context.Context, m *Module, cfg *InstanceConfig) (*Instance, error) {
	if err := e.InitWASI(ctx); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &InstanceConfig{}
	}

	modConfig := wazero.NewModuleConfig().
		WithName(cfg.Name).
		WithStartFunctions()
	if cfg.Stdout != nil {
		modConfig = modConfig.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modConfig = modConfig.WithStderr(cfg.Stderr)
	}

	mod, err := e.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	if m.HasExport(ExportInitialize) {
		if _, err := mod.ExportedFunction(ExportInitialize).Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, classify(ExportInitialize, err)
		}
	}
	return &Instance{mod: mod}, nil
}

// Call writes input into guest memory, calls export(ptr, len) and returns a
// copy of the packed result buffer. The input buffer is freed afterwards
// when the guest exports free.
func (i *Instance) Call(ctx context.Context, export string, input []byte) ([]byte, error) {
	fn := i.mod.ExportedFunction(export)
	if fn == nil {
		return nil, errors.MissingExport(export)
	}

	packed, err := WriteBytes(ctx, i.mod, input)
	if err != nil {
		return nil, classify(ExportMalloc, err)
	}
	ptr, length := Unpack(packed)

	res, err := fn.Call(ctx, uint64(ptr), uint64(length))
	if err != nil {
		return nil, classify(export, err)
	}
	if len(res) != 1 {
		return nil, errors.New(errors.PhaseRun, errors.KindInvalidData).
			Path(export).
			Detail("export returned %d values", len(res)).
			Build()
	}
	outPtr, outLen := Unpack(res[0])
	out, err := ReadBytes(i.mod.Memory(), outPtr, outLen)
	// the result may alias the input, so free only after the copy
	FreeBytes(ctx, i.mod, packed)
	return out, err
}

// Memory returns the guest's linear memory.
func (i *Instance) Memory() *GuestMemory {
	return NewMemory(i.mod.Memory())
}

// Allocator returns an allocator over the guest's malloc export.
func (i *Instance) Allocator(ctx context.Context) (polyglotruntime.Allocator, error) {
	return NewAllocator(ctx, i.mod)
}

// Module returns the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.mod
}

// Closed reports whether the guest was closed, explicitly or by its context.
func (i *Instance) Closed() bool {
	return i.mod.IsClosed()
}

// Close closes the guest. Closing twice is a no-op.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// classify maps a guest call failure to a run error. Context expiry is a
// resource limit; everything else the guest did is a trap.
func classify(export string, err error) error {
	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			return errors.ResourceLimit("deadline exceeded", err)
		case sys.ExitCodeContextCanceled:
			return errors.ResourceLimit("context canceled", err)
		}
		return errors.New(errors.PhaseRun, errors.KindTrap).
			Path(export).
			Value(exitErr.ExitCode()).
			Cause(err).
			Detail("guest exited with code %d", exitErr.ExitCode()).
			Build()
	}
	var perr *errors.Error
	if stderrors.As(err, &perr) && perr.Phase == errors.PhaseRun && perr.Kind != errors.KindTrap {
		return err
	}
	return errors.Trap(export, err)
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func signature(params, results []api.ValueType) string {
	names := func(ts []api.ValueType) string {
		parts := make([]string, len(ts))
		for i, t := range ts {
			parts[i] = api.ValueTypeName(t)
		}
		return strings.Join(parts, ", ")
	}
	return "(" + names(params) + ") -> (" + names(results) + ")"
}
