package runtime

import (
	"bytes"
	"context"
	"encoding/binary"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/polyglot-runtime/config"
	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/extension"
	"github.com/wippyai/polyglot-runtime/internal/greeting"
	"github.com/wippyai/polyglot-runtime/internal/guest"
	"github.com/wippyai/polyglot-runtime/polyglot"
	"github.com/wippyai/polyglot-runtime/schema"
)

func newStringval() *greeting.Stringval { return &greeting.Stringval{} }

// Tally is the context of the counter guest.
type Tally struct {
	N uint32
}

func (t *Tally) Encode(e *polyglot.Encoder) { e.Uint32(t.N) }

func (t *Tally) Decode(d *polyglot.Decoder) (err error) {
	t.N, err = d.Uint32()
	return err
}

func tallyFunction(wasm []byte, stateless bool) *schema.Function {
	return &schema.Function{
		Name:      "tally",
		Tag:       "v1",
		Language:  "wat",
		Stateless: stateless,
		Signature: &schema.Signature{
			Name:    "Tally",
			Tag:     "v1",
			Context: "Tally",
			Models: []*schema.ModelDef{{
				Name:   "Tally",
				Fields: []*schema.FieldDef{{Name: "N", Kind: polyglot.Uint32Kind}},
			}},
		},
		Module: wasm,
	}
}

func greetingExtension(t *testing.T) *extension.Extension {
	t.Helper()
	x, err := extension.New[greeting.Interface](greeting.Name, greeting.Host{}, extension.WithTag("v1"))
	require.NoError(t, err)
	return x
}

func newRuntime[T polyglot.Model](t *testing.T, cfg *Config[T]) *Runtime[T] {
	t.Helper()
	r, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func newInstance[T polyglot.Model](t *testing.T, r *Runtime[T]) *Instance[T] {
	t.Helper()
	inst, err := r.Instance(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(context.Background()) })
	return inst
}

func TestRuntime_Greeting(t *testing.T) {
	tests := []struct {
		name   string
		wasm   []byte
		prefix string
	}{
		{"golang", guest.Golang(greeting.Name), guest.GolangPrefix},
		{"rust", guest.Rust(greeting.Name), guest.RustPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			x := greetingExtension(t)
			r := newRuntime(t, NewConfig(newStringval).
				WithFunction(greeting.Function(tt.name, tt.wasm, x.Definition())).
				WithExtension(x))
			assert.Equal(t, StateLoaded, r.State())

			inst := newInstance(t, r)
			assert.Equal(t, StateReady, inst.State())
			assert.NotEmpty(t, inst.ID())

			sig := &greeting.Stringval{}
			require.NoError(t, inst.Run(ctx, sig))
			assert.Equal(t, tt.prefix+"Return Hello"+guest.WorldPrefix+"Return World", sig.Value)
			assert.Equal(t, StateCompleted, inst.State())

			require.Len(t, inst.Bridges(), 1)
			b := inst.Bridges()[0]
			assert.Equal(t, 2, b.Live())

			require.NoError(t, inst.Close(ctx))
			assert.Equal(t, StateClosed, inst.State())
			assert.Equal(t, 0, b.Live())
		})
	}
}

func TestRuntime_Dynamic(t *testing.T) {
	x := greetingExtension(t)
	fn := greeting.Function("go", guest.Golang(greeting.Name), x.Definition())
	factory := func() *schema.Record {
		rec, err := fn.Signature.NewContext()
		require.NoError(t, err)
		return rec
	}
	r := newRuntime(t, NewConfig(factory).WithFunction(fn).WithExtension(x))

	rec := factory()
	require.NoError(t, r.Run(context.Background(), rec))
	v, err := rec.Get("Value")
	require.NoError(t, err)
	assert.Equal(t, guest.GolangPrefix+"Return Hello"+guest.WorldPrefix+"Return World", v)
}

func TestRuntime_FunctionBytes(t *testing.T) {
	buf := greeting.Function("wat", guest.Echo()).Encode()
	r := newRuntime(t, NewConfig(newStringval).WithFunctionBytes(buf))
	assert.Equal(t, "greeting", r.Function().Name)

	sig := &greeting.Stringval{Value: "echo"}
	require.NoError(t, r.Run(context.Background(), sig))
	assert.Equal(t, "echo", sig.Value)

	_, err := New(context.Background(), NewConfig(newStringval).WithFunctionBytes(buf[:len(buf)-3]))
	assert.ErrorIs(t, err, errors.ErrSchema)
}

func TestRuntime_LoadErrors(t *testing.T) {
	x := greetingExtension(t)
	other := &schema.ExtensionDef{
		Name: greeting.Name,
		Interfaces: []*schema.InterfaceDef{{
			Name:    "Interface",
			Methods: []*schema.MethodDef{{Name: "Goodbye"}},
		}},
	}

	tests := []struct {
		name string
		cfg  func() *Config[*greeting.Stringval]
		want error
	}{
		{
			name: "no function",
			cfg:  func() *Config[*greeting.Stringval] { return NewConfig(newStringval) },
			want: &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput},
		},
		{
			name: "no factory",
			cfg: func() *Config[*greeting.Stringval] {
				return NewConfig[*greeting.Stringval](nil).WithFunction(greeting.Function("wat", guest.Echo()))
			},
			want: &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput},
		},
		{
			name: "negative timeout",
			cfg: func() *Config[*greeting.Stringval] {
				return NewConfig(newStringval).WithFunction(greeting.Function("wat", guest.Echo())).WithTimeout(-time.Second)
			},
			want: &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput},
		},
		{
			name: "unbound extension",
			cfg: func() *Config[*greeting.Stringval] {
				return NewConfig(newStringval).WithFunction(greeting.Function("go", guest.Golang(greeting.Name), x.Definition()))
			},
			want: &errors.Error{Phase: errors.PhaseSchema, Kind: errors.KindNotFound},
		},
		{
			name: "extension lacks method",
			cfg: func() *Config[*greeting.Stringval] {
				return NewConfig(newStringval).WithFunction(greeting.Function("go", guest.Echo(), other)).WithExtension(x)
			},
			want: errors.ErrSchema,
		},
		{
			name: "extension bound twice",
			cfg: func() *Config[*greeting.Stringval] {
				return NewConfig(newStringval).WithFunction(greeting.Function("wat", guest.Echo())).WithExtension(x).WithExtension(x)
			},
			want: &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindRegistration},
		},
		{
			name: "missing import",
			cfg: func() *Config[*greeting.Stringval] {
				return NewConfig(newStringval).WithFunction(greeting.Function("wat", guest.Missing("env", "clock")))
			},
			want: &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindMissingImport},
		},
		{
			name: "missing run",
			cfg: func() *Config[*greeting.Stringval] {
				return NewConfig(newStringval).WithFunction(greeting.Function("wat", guest.NoRun()))
			},
			want: &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindMissingExport},
		},
		{
			name: "not wasm",
			cfg: func() *Config[*greeting.Stringval] {
				return NewConfig(newStringval).WithFunction(greeting.Function("wat", []byte("nope")))
			},
			want: &errors.Error{Phase: errors.PhaseLoad},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(context.Background(), tt.cfg())
			require.Error(t, err)
			assert.Nil(t, r)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRuntime_MissingImports(t *testing.T) {
	_, err := New(context.Background(), NewConfig(newStringval).
		WithFunction(greeting.Function("wat", guest.Missing("env", "clock"))))
	var missing *errors.MissingImportsError
	require.True(t, stderrors.As(err, &missing))
	assert.Contains(t, err.Error(), "clock")
}

func TestRuntime_ContextMismatch(t *testing.T) {
	_, err := New(context.Background(), NewConfig(func() *Tally { return &Tally{} }).
		WithFunction(greeting.Function("wat", guest.Echo())))
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseSchema, Kind: errors.KindTypeMismatch})
}

// Stringval shares the greeting context's name but carries an extra field.
type Stringval struct {
	Value string
	Extra int64
}

func (s *Stringval) Encode(e *polyglot.Encoder) {
	e.String(s.Value)
	e.Int64(s.Extra)
}

func (s *Stringval) Decode(d *polyglot.Decoder) (err error) {
	if s.Value, err = d.String(); err != nil {
		return err
	}
	s.Extra, err = d.Int64()
	return err
}

func TestRuntime_ContextFieldMismatch(t *testing.T) {
	t.Run("extra field", func(t *testing.T) {
		_, err := New(context.Background(), NewConfig(func() *Stringval { return &Stringval{} }).
			WithFunction(greeting.Function("wat", guest.Echo())))
		require.Error(t, err)
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseSchema, Kind: errors.KindTypeMismatch})
		assert.Contains(t, err.Error(), "context fields do not match")
	})

	t.Run("field kind", func(t *testing.T) {
		fn := greeting.Function("wat", guest.Echo())
		fn.Signature.Models[0].Fields[0].Kind = polyglot.Int64Kind
		_, err := New(context.Background(), NewConfig(newStringval).WithFunction(fn))
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseSchema, Kind: errors.KindTypeMismatch})
	})

	t.Run("nil sample", func(t *testing.T) {
		_, err := New(context.Background(), NewConfig(func() *greeting.Stringval { return nil }).
			WithFunction(greeting.Function("wat", guest.Echo())))
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput})
	})
}

func TestInstance_Failures(t *testing.T) {
	tests := []struct {
		name string
		wasm []byte
		want error
	}{
		{"trap", guest.Trap(), &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindTrap}},
		{"out of bounds result", guest.OutOfBounds(), errors.ErrGuestFault},
		{"guest error", guest.Fail("no greeting today"), &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindGuestError}},
		{"malformed result", guest.Garbage(), errors.ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRuntime(t, NewConfig(newStringval).WithFunction(greeting.Function("wat", tt.wasm)))
			inst := newInstance(t, r)

			sig := &greeting.Stringval{Value: "unchanged"}
			err := inst.Run(context.Background(), sig)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "unchanged", sig.Value)
			assert.Equal(t, StateFailed, inst.State())

			err = inst.Run(context.Background(), sig)
			assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindInvalidState})
		})
	}
}

func TestInstance_GuestErrorMessage(t *testing.T) {
	r := newRuntime(t, NewConfig(newStringval).WithFunction(greeting.Function("wat", guest.Fail("no greeting today"))))
	err := r.Run(context.Background(), newStringval())

	var perr *errors.Error
	require.True(t, stderrors.As(err, &perr))
	assert.Equal(t, "no greeting today", perr.Value)
}

func TestInstance_BridgeFault(t *testing.T) {
	for name, wasm := range map[string][]byte{
		"never allocated": guest.BadHandle(greeting.Name, 42),
		"dropped":         guest.DropThenUse(greeting.Name),
	} {
		t.Run(name, func(t *testing.T) {
			x := greetingExtension(t)
			r := newRuntime(t, NewConfig(newStringval).
				WithFunction(greeting.Function("wat", wasm, x.Definition())).
				WithExtension(x))
			inst := newInstance(t, r)

			err := inst.Run(context.Background(), newStringval())
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrGuestFault)
			assert.ErrorIs(t, err, errors.ErrBridge)
			assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseBridge, Kind: errors.KindUnknownHandle})

			assert.Equal(t, StateFailed, inst.State())
			assert.Equal(t, 0, inst.Bridges()[0].Live())
		})
	}
}

func TestInstance_Timeout(t *testing.T) {
	r := newRuntime(t, NewConfig(newStringval).
		WithFunction(greeting.Function("wat", guest.Spin())).
		WithTimeout(50*time.Millisecond))
	inst := newInstance(t, r)

	start := time.Now()
	err := inst.Run(context.Background(), newStringval())
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindResourceLimit})
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, StateFailed, inst.State())
}

func TestInstance_Canceled(t *testing.T) {
	r := newRuntime(t, NewConfig(newStringval).WithFunction(greeting.Function("wat", guest.Spin())))
	inst := newInstance(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err := inst.Run(ctx, newStringval())
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindResourceLimit})
}

func TestInstance_Stateless(t *testing.T) {
	ctx := context.Background()

	r := newRuntime(t, NewConfig(func() *Tally { return &Tally{} }).WithFunction(tallyFunction(guest.Counter(10), true)))
	inst := newInstance(t, r)
	for _, want := range []uint32{11, 12, 13} {
		tally := &Tally{}
		require.NoError(t, inst.Run(ctx, tally))
		assert.Equal(t, want, tally.N)
		assert.Equal(t, StateReady, inst.State())
	}

	// A fresh instance starts from _initialize again.
	tally := &Tally{}
	require.NoError(t, r.Run(ctx, tally))
	assert.Equal(t, uint32(11), tally.N)
}

func TestInstance_FreesGuestBuffers(t *testing.T) {
	ctx := context.Background()
	x := greetingExtension(t)
	fn := greeting.Function("go", guest.GolangFree(greeting.Name), x.Definition())
	fn.Stateless = true
	r := newRuntime(t, NewConfig(newStringval).WithFunction(fn).WithExtension(x))
	inst := newInstance(t, r)

	// each run frees its input and the three extension results
	for _, want := range []uint32{4, 8} {
		sig := &greeting.Stringval{}
		require.NoError(t, inst.Run(ctx, sig))
		assert.Equal(t, guest.GolangPrefix+"Return Hello"+guest.WorldPrefix+"Return World", sig.Value)

		raw, err := inst.guest.Memory().Read(guest.FreeLog, 4)
		require.NoError(t, err)
		assert.Equal(t, want, binary.LittleEndian.Uint32(raw))
	}
}

func TestInstance_SingleRun(t *testing.T) {
	ctx := context.Background()
	r := newRuntime(t, NewConfig(func() *Tally { return &Tally{} }).WithFunction(tallyFunction(guest.Counter(0), false)))
	inst := newInstance(t, r)

	tally := &Tally{}
	require.NoError(t, inst.Run(ctx, tally))
	assert.Equal(t, uint32(1), tally.N)
	assert.Equal(t, StateCompleted, inst.State())

	err := inst.Run(ctx, tally)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindInvalidState})
	assert.Equal(t, uint32(1), tally.N)

	again := newInstance(t, r)
	require.NoError(t, again.Run(ctx, tally))
	assert.Equal(t, uint32(1), tally.N)
}

func TestInstance_NilContext(t *testing.T) {
	r := newRuntime(t, NewConfig(newStringval).WithFunction(greeting.Function("wat", guest.Echo())))
	inst := newInstance(t, r)

	err := inst.Run(context.Background(), nil)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindInvalidInput})
	assert.Equal(t, StateReady, inst.State())
}

// Gate blocks in Pass until released.
type Gate interface {
	Pass(*greeting.Stringval) (*greeting.Stringval, error)
}

type gate struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gate) Pass(in *greeting.Stringval) (*greeting.Stringval, error) {
	g.entered <- struct{}{}
	<-g.release
	return &greeting.Stringval{Value: in.Value + "!"}, nil
}

func TestInstance_ConcurrentRun(t *testing.T) {
	ctx := context.Background()
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	x, err := extension.New[Gate]("gate", g)
	require.NoError(t, err)

	fn := greeting.Function("wat", guest.Relay("gate", extension.ImportName("Gate", "Pass")), x.Definition())
	r := newRuntime(t, NewConfig(newStringval).WithFunction(fn).WithExtension(x))
	inst := newInstance(t, r)

	sig := &greeting.Stringval{Value: "hi"}
	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = inst.Run(ctx, sig)
	}()

	<-g.entered
	assert.Equal(t, StateRunning, inst.State())
	err = inst.Run(ctx, &greeting.Stringval{})
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindInvalidState})

	close(g.release)
	wg.Wait()
	require.NoError(t, runErr)
	assert.Equal(t, "hi!", sig.Value)
}

type flushBuffer struct {
	bytes.Buffer
	flushed int
}

func (f *flushBuffer) Flush() error {
	f.flushed++
	return nil
}

func TestInstance_Stdio(t *testing.T) {
	stdout := &flushBuffer{}
	var stderr bytes.Buffer
	r := newRuntime(t, NewConfig(newStringval).
		WithFunction(greeting.Function("wat", guest.Print("hello out\n", "hello err\n"))).
		WithStdout(stdout).
		WithStderr(&stderr))

	sig := &greeting.Stringval{Value: "kept"}
	require.NoError(t, r.Run(context.Background(), sig))
	assert.Equal(t, "kept", sig.Value)
	assert.Equal(t, "hello out\n", stdout.String())
	assert.Equal(t, "hello err\n", stderr.String())
	assert.Equal(t, 1, stdout.flushed)
}

func TestRuntime_Close(t *testing.T) {
	ctx := context.Background()
	r, err := New(ctx, NewConfig(newStringval).WithFunction(greeting.Function("wat", guest.Echo())))
	require.NoError(t, err)

	a, err := r.Instance(ctx)
	require.NoError(t, err)
	b, err := r.Instance(ctx)
	require.NoError(t, err)

	require.NoError(t, r.Close(ctx))
	assert.Equal(t, StateClosed, r.State())
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, r.Close(ctx))

	_, err = r.Instance(ctx)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindInvalidState})
	err = a.Run(ctx, newStringval())
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindInvalidState})
}

func TestConfig_Settings(t *testing.T) {
	s := config.Default()
	s.Timeout = time.Second
	s.MemoryLimitPages = 32
	s.CacheDir = t.TempDir()

	fn := greeting.Function("wat", guest.Echo())
	res, err := NewConfig(newStringval).WithSettings(s).WithFunction(fn).validate()
	require.NoError(t, err)
	assert.Equal(t, time.Second, res.timeout)
	assert.Equal(t, uint32(32), res.memoryPages)
	assert.Equal(t, s.CacheDir, res.cacheDir)
	assert.NotNil(t, res.logger)

	res, err = NewConfig(newStringval).
		WithTimeout(time.Minute).
		WithMemoryLimit(8).
		WithSettings(s).
		WithFunction(fn).
		validate()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, res.timeout)
	assert.Equal(t, uint32(8), res.memoryPages)

	s.Log.Level = "loud"
	_, err = NewConfig(newStringval).WithSettings(s).WithFunction(fn).validate()
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}
