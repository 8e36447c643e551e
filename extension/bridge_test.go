package extension

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/polyglot-runtime/engine"
	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/internal/greeting"
	"github.com/wippyai/polyglot-runtime/internal/guest"
	"github.com/wippyai/polyglot-runtime/polyglot"
)

func arg(s string) []byte {
	return polyglot.Marshal(&greeting.Stringval{Value: s})
}

func decodeHandle(t *testing.T, out []byte) uint64 {
	t.Helper()
	h, err := polyglot.NewDecoder(out).Uint64()
	require.NoError(t, err)
	return h
}

func decodeString(t *testing.T, out []byte) string {
	t.Helper()
	var s greeting.Stringval
	require.NoError(t, polyglot.Unmarshal(out, &s))
	return s.Value
}

func newGreetingBridge(t *testing.T) *Bridge {
	t.Helper()
	x, err := New[greeting.Interface](greeting.Name, greeting.Host{})
	require.NoError(t, err)
	return x.NewBridge()
}

func TestBridge_Call(t *testing.T) {
	ctx := context.Background()
	b := newGreetingBridge(t)
	assert.Equal(t, 1, b.Live())

	out, err := b.Call(ctx, 0, "New", arg(""))
	require.NoError(t, err)
	h := decodeHandle(t, out)
	assert.Equal(t, uint64(1), h)
	assert.Equal(t, 2, b.Live())

	for _, sel := range []string{"Hello", "Example.Hello"} {
		out, err = b.Call(ctx, h, sel, arg(""))
		require.NoError(t, err, sel)
		assert.Equal(t, "Return Hello", decodeString(t, out))
	}

	out, err = b.Call(ctx, 0, "Interface.World", nil)
	require.NoError(t, err)
	assert.Equal(t, "Return World", decodeString(t, out))

	out, err = b.Call(ctx, 0, "New", arg(""))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), decodeHandle(t, out), "handles are never reused")
	assert.NoError(t, b.Fault())
}

func TestBridge_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		handle   uint64
		selector string
		args     []byte
		kind     errors.Kind
	}{
		{"unknown handle", 99, "Hello", arg(""), errors.KindUnknownHandle},
		{"unknown selector", 0, "Goodbye", arg(""), errors.KindUnknownSelector},
		{"selector of another interface", 0, "Example.Hello", arg(""), errors.KindUnknownSelector},
		{"method of another interface", 0, "Hello", arg(""), errors.KindUnknownSelector},
		{"truncated args", 0, "World", []byte{0x10, 0x05, 0xFF}, errors.KindInvalidArgument},
		{"wrong arg kind", 0, "World", []byte{0x05, 0, 0, 0, 0}, errors.KindInvalidArgument},
		{"trailing args", 0, "World", append(arg("x"), 0x00), errors.KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newGreetingBridge(t)
			_, err := b.Call(ctx, tt.handle, tt.selector, tt.args)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrBridge)
			assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseBridge, Kind: tt.kind})
			assert.Equal(t, err, b.Fault())
		})
	}
}

func TestBridge_FirstFaultWins(t *testing.T) {
	b := newGreetingBridge(t)
	_, first := b.Call(context.Background(), 7, "Hello", nil)
	_, _ = b.Call(context.Background(), 0, "Nope", nil)
	assert.Equal(t, first, b.Fault())
}

func TestBridge_HostResults(t *testing.T) {
	ctx := context.WithValue(context.Background(), bridgeKey("marker"), "yes")
	impl := &toolbox{}
	x, err := New[Toolbox]("toolbox", impl)
	require.NoError(t, err)
	b := x.NewBridge()

	t.Run("host error is a value", func(t *testing.T) {
		out, err := b.Call(ctx, 0, "Fail", arg("disk"))
		require.NoError(t, err)
		msg, err := polyglot.NewDecoder(out).Error()
		require.NoError(t, err)
		assert.EqualError(t, msg, "failed: disk")
		assert.NoError(t, b.Fault())
	})

	t.Run("no result", func(t *testing.T) {
		out, err := b.Call(ctx, 0, "Touch", nil)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(polyglot.NilKind)}, out)
		require.NotNil(t, impl.touched)
		assert.Equal(t, "yes", impl.touched.Value(bridgeKey("marker")))
	})

	t.Run("nil capability", func(t *testing.T) {
		out, err := b.Call(ctx, 0, "Missing", nil)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(polyglot.NilKind)}, out)
	})

	t.Run("panic", func(t *testing.T) {
		_, err := b.Call(ctx, 0, "Panic", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseBridge, Kind: errors.KindHostFailure})
		assert.Contains(t, err.Error(), "kaboom")
	})
}

func TestBridge_ReleaseAndClose(t *testing.T) {
	ctx := context.Background()
	impl := &toolbox{}
	x, err := New[Toolbox]("toolbox", impl)
	require.NoError(t, err)
	b := x.NewBridge()

	out, err := b.Call(ctx, 0, "Open", arg("a"))
	require.NoError(t, err)
	a := decodeHandle(t, out)
	out, err = b.Call(ctx, 0, "Open", arg("b"))
	require.NoError(t, err)
	bh := decodeHandle(t, out)

	out, err = b.Call(ctx, bh, "Resource.Name", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", decodeString(t, out))

	require.NoError(t, b.Release(a))
	assert.Equal(t, 1, impl.opened[0].closed)

	err = b.Release(a)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseBridge, Kind: errors.KindUnknownHandle})

	_, err = b.Call(ctx, a, "Name", nil)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseBridge, Kind: errors.KindUnknownHandle})

	require.NoError(t, b.Close())
	assert.Equal(t, 1, impl.opened[1].closed)
	assert.Equal(t, 0, b.Live())

	_, err = b.Call(ctx, 0, "Touch", nil)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseBridge, Kind: errors.KindUnknownHandle})
}

func TestBridge_LogsHandleEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	x, err := New[greeting.Interface](greeting.Name, greeting.Host{}, WithLogger(zap.New(core)))
	require.NoError(t, err)
	b := x.NewBridge()

	out, err := b.Call(context.Background(), 0, "New", arg(""))
	require.NoError(t, err)
	require.NoError(t, b.Release(decodeHandle(t, out)))

	created := logs.FilterMessage("handle created").All()
	require.Len(t, created, 2)
	assert.Equal(t, uint64(0), created[0].ContextMap()["handle"])
	assert.Equal(t, uint64(1), created[1].ContextMap()["handle"])
	assert.Equal(t, 1, logs.FilterMessage("handle released").Len())
}

type closingRoot struct {
	greeting.Host
	closed int
}

func (c *closingRoot) Close() error {
	c.closed++
	return nil
}

func TestBridge_CloseKeepsRoot(t *testing.T) {
	root := &closingRoot{}
	x, err := New[greeting.Interface](greeting.Name, root)
	require.NoError(t, err)

	require.NoError(t, x.NewBridge().Close())
	require.NoError(t, x.NewBridge().Close())
	assert.Equal(t, 0, root.closed)
}

// runGuest instantiates wasm against the greeting extension and runs it
// with a fresh bridge.
func runGuest(t *testing.T, wasm []byte) ([]byte, *Bridge, error) {
	t.Helper()
	ctx := context.Background()

	eng, err := engine.NewEngine(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(ctx) })

	x, err := New[greeting.Interface](greeting.Name, greeting.Host{})
	require.NoError(t, err)
	require.NoError(t, eng.DefineHostModule(ctx, x.Name(), x.HostFunctions()))

	mod, err := eng.Compile(ctx, wasm)
	require.NoError(t, err)
	missing, err := eng.Unresolved(ctx, mod)
	require.NoError(t, err)
	require.Empty(t, missing)

	inst, err := eng.Instantiate(ctx, mod, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(ctx) })

	b := x.NewBridge()
	out, err := inst.Call(WithBridge(ctx, b), engine.ExportRun, arg(""))
	return out, b, err
}

func TestImports_Guests(t *testing.T) {
	tests := []struct {
		name   string
		wasm   []byte
		prefix string
	}{
		{"per-method imports", guest.Golang(greeting.Name), guest.GolangPrefix},
		{"invoke", guest.Rust(greeting.Name), guest.RustPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, b, err := runGuest(t, tt.wasm)
			require.NoError(t, err)
			assert.Equal(t, tt.prefix+"Return Hello"+guest.WorldPrefix+"Return World", decodeString(t, out))
			assert.NoError(t, b.Fault())
			assert.Equal(t, 2, b.Live())

			// New answers a handle, Hello and World a one-string record
			alloc := &recordingAllocator{}
			assert.Equal(t, 3, b.FreeResults(alloc))
			assert.Equal(t, []uint32{9, 18, 18}, alloc.sizes)
			assert.Zero(t, b.FreeResults(alloc))
		})
	}
}

type recordingAllocator struct {
	sizes []uint32
}

func (a *recordingAllocator) Alloc(uint32, uint32) (uint32, error) { return 0, nil }

func (a *recordingAllocator) Free(_, size, _ uint32) { a.sizes = append(a.sizes, size) }

func TestImports_BridgeFaultTraps(t *testing.T) {
	tests := []struct {
		name string
		wasm []byte
	}{
		{"never allocated", guest.BadHandle(greeting.Name, 99)},
		{"dropped", guest.DropThenUse(greeting.Name)},
		{"dropped twice", guest.DoubleDrop(greeting.Name)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, b, err := runGuest(t, tt.wasm)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrGuestFault)
			assert.ErrorIs(t, b.Fault(), &errors.Error{Phase: errors.PhaseBridge, Kind: errors.KindUnknownHandle})
		})
	}
}

func TestImports_Relay(t *testing.T) {
	out, b, err := runGuest(t, guest.Relay(greeting.Name, "Interface_World"))
	require.NoError(t, err)
	assert.Equal(t, "Return World", decodeString(t, out))
	assert.NoError(t, b.Fault())
}
