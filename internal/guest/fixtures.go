package guest

import (
	"encoding/binary"
	"errors"

	"github.com/wippyai/polyglot-runtime/polyglot"
)

// Prefixes the greeting guests write before the extension results.
const (
	GolangPrefix = "This is a Golang Function. Extension New().Hello()="
	RustPrefix   = "This is a Rust Function. Extension New().Hello()="
	WorldPrefix  = " World()="
)

var (
	i32x1     = []ValType{I32}
	i64x1     = []ValType{I64}
	runParams = []ValType{I32, I32}
	callSig   = []ValType{I64, I32, I32}
)

// emptyString is a record holding one empty string field, the argument the
// greeting guests pass to every extension method.
var emptyString = polyglot.NewEncoder(8).Record().String("").Buffer()

// withMalloc adds a bump allocator starting at HeapBase and exports it.
func withMalloc(m *Module) uint32 {
	heap := m.Global(HeapBase)
	c := &Code{}
	c.GlobalGet(heap).LocalSet(1)
	c.GlobalGet(heap).LocalGet(0).I32Const(7).I32Add().I32Const(-8).I32And().I32Add().GlobalSet(heap)
	c.LocalGet(1).End()
	fn := m.Func(i32x1, i32x1, i32x1, c)
	m.Export("malloc", fn)
	return fn
}

// FreeLog is where guests built with a free export count their free calls
// (u32) followed by the last pointer freed (u32).
const FreeLog = 512

// withFree exports free(ptr), which only records the call at FreeLog.
func withFree(m *Module) {
	c := &Code{}
	c.I32Const(FreeLog).I32Const(FreeLog).I32Load(0).I32Const(1).I32Add().I32Store(0)
	c.I32Const(FreeLog).LocalGet(0).I32Store(4)
	c.End()
	m.Export("free", m.Func(i32x1, nil, nil, c))
}

func withRun(m *Module, locals []ValType, c *Code) {
	m.Export("run", m.Func(runParams, i64x1, locals, c))
}

func echo(c *Code) *Code {
	return c.Pack(0, 1).End()
}

// Echo returns its input unchanged.
func Echo() []byte {
	m := NewModule(2)
	withMalloc(m)
	withRun(m, nil, echo(&Code{}))
	return m.Bytes()
}

// EchoFree is Echo exporting a free that records its calls at FreeLog.
func EchoFree() []byte {
	m := NewModule(2)
	withMalloc(m)
	withFree(m)
	withRun(m, nil, echo(&Code{}))
	return m.Bytes()
}

// Fail returns an Error value carrying msg instead of a context.
func Fail(msg string) []byte {
	m := NewModule(2)
	withMalloc(m)
	value := polyglot.NewEncoder(len(msg) + 5).Error(errors.New(msg)).Buffer()
	addr := m.Data(value)
	withRun(m, nil, (&Code{}).PackConst(addr, uint32(len(value))).End())
	return m.Bytes()
}

// Garbage returns a record whose field stream is cut short.
func Garbage() []byte {
	m := NewModule(2)
	withMalloc(m)
	addr := m.Data([]byte{byte(polyglot.RecordKind), byte(polyglot.StringKind), 0xFF})
	withRun(m, nil, (&Code{}).PackConst(addr, 3).End())
	return m.Bytes()
}

// OutOfBounds returns a buffer outside its memory.
func OutOfBounds() []byte {
	m := NewModule(2)
	withMalloc(m)
	withRun(m, nil, (&Code{}).PackConst(0xFFFF0000, 64).End())
	return m.Bytes()
}

// Trap executes unreachable.
func Trap() []byte {
	m := NewModule(2)
	withMalloc(m)
	withRun(m, nil, (&Code{}).Unreachable().End())
	return m.Bytes()
}

// Spin never returns.
func Spin() []byte {
	m := NewModule(2)
	withMalloc(m)
	withRun(m, nil, (&Code{}).Loop().Br(0).End().Unreachable().End())
	return m.Bytes()
}

// NoRun exports memory and malloc but no entry point.
func NoRun() []byte {
	m := NewModule(2)
	withMalloc(m)
	return m.Bytes()
}

// Counter keeps a count across runs of one instance. _initialize sets it to
// start; each run increments it and returns a record holding one Uint32
// field with the new count.
func Counter(start uint32) []byte {
	m := NewModule(2)
	malloc := withMalloc(m)
	count := m.Global(0)

	m.Export("_initialize", m.Func(nil, nil, nil,
		(&Code{}).I32Const(int32(start)).GlobalSet(count).End()))

	const out = 2
	c := &Code{}
	c.GlobalGet(count).I32Const(1).I32Add().GlobalSet(count)
	c.I32Const(6).Call(malloc).LocalSet(out)
	c.LocalGet(out).I32Const(int32(polyglot.RecordKind)).I32Store8(0)
	c.LocalGet(out).I32Const(int32(polyglot.Uint32Kind)).I32Store8(1)
	c.LocalGet(out).GlobalGet(count).I32Store(2)
	c.LocalGet(out).I64ExtendI32U().I64Const(32).I64Shl().I64Const(6).I64Or().End()
	withRun(m, i32x1, c)
	return m.Bytes()
}

// Print writes stdout and stderr through WASI fd_write, then echoes.
func Print(stdout, stderr string) []byte {
	m := NewModule(2)
	fdWrite := m.Import("wasi_snapshot_preview1", "fd_write", []ValType{I32, I32, I32, I32}, i32x1)
	withMalloc(m)

	nwritten := m.Data(make([]byte, 4))
	c := &Code{}
	for fd, text := range []string{1: stdout, 2: stderr} {
		if text == "" {
			continue
		}
		addr := m.Data([]byte(text))
		iov := make([]byte, 8)
		binary.LittleEndian.PutUint32(iov, addr)
		binary.LittleEndian.PutUint32(iov[4:], uint32(len(text)))
		c.I32Const(int32(fd)).I32Const(int32(m.Data(iov))).I32Const(1).I32Const(int32(nwritten)).
			Call(fdWrite).Drop()
	}
	withRun(m, nil, echo(c))
	return m.Bytes()
}

// Missing echoes but imports module.name, which nothing provides.
func Missing(module, name string) []byte {
	m := NewModule(2)
	m.Import(module, name, callSig, i64x1)
	withMalloc(m)
	withRun(m, nil, echo(&Code{}))
	return m.Bytes()
}

// Relay passes its input to the extension import name on the root handle
// and returns the bridge's answer as its own result.
func Relay(extension, name string) []byte {
	m := NewModule(2)
	fn := m.Import(extension, name, callSig, i64x1)
	withMalloc(m)
	withRun(m, nil, (&Code{}).I64Const(0).LocalGet(0).LocalGet(1).Call(fn).End())
	return m.Bytes()
}

// BadHandle calls Example_Hello on a handle that was never allocated.
func BadHandle(extension string, handle uint64) []byte {
	m := NewModule(2)
	hello := m.Import(extension, "Example_Hello", callSig, i64x1)
	withMalloc(m)
	arg := m.Data(emptyString)

	c := &Code{}
	c.I64Const(int64(handle)).I32Const(int32(arg)).I32Const(int32(len(emptyString))).Call(hello).Drop()
	withRun(m, nil, echo(c))
	return m.Bytes()
}

// DropThenUse obtains an Example handle, drops it and calls Hello on it.
func DropThenUse(extension string) []byte {
	m := NewModule(2)
	newFn := m.Import(extension, "Interface_New", callSig, i64x1)
	drop := m.Import(extension, "drop", i64x1, i32x1)
	hello := m.Import(extension, "Example_Hello", callSig, i64x1)
	withMalloc(m)
	arg := m.Data(emptyString)

	const tmp, handle = 2, 3
	c := &Code{}
	c.I64Const(0).I32Const(int32(arg)).I32Const(int32(len(emptyString))).Call(newFn).LocalSet(tmp)
	c.UnpackPtr(tmp).I64Load(1).LocalSet(handle)
	c.LocalGet(handle).Call(drop).Drop()
	c.LocalGet(handle).I32Const(int32(arg)).I32Const(int32(len(emptyString))).Call(hello).Drop()
	withRun(m, []ValType{I64, I64}, echo(c))
	return m.Bytes()
}

// DoubleDrop obtains an Example handle and drops it twice.
func DoubleDrop(extension string) []byte {
	m := NewModule(2)
	newFn := m.Import(extension, "Interface_New", callSig, i64x1)
	drop := m.Import(extension, "drop", i64x1, i32x1)
	withMalloc(m)
	arg := m.Data(emptyString)

	const tmp, handle = 2, 3
	c := &Code{}
	c.I64Const(0).I32Const(int32(arg)).I32Const(int32(len(emptyString))).Call(newFn).LocalSet(tmp)
	c.UnpackPtr(tmp).I64Load(1).LocalSet(handle)
	c.LocalGet(handle).Call(drop).Drop()
	c.LocalGet(handle).Call(drop).Drop()
	withRun(m, []ValType{I64, I64}, echo(c))
	return m.Bytes()
}

// caller emits a bridge call leaving the packed result on the stack. The
// handle is already on the stack.
type caller func(c *Code, method string, arg, argLen int32)

// Golang is the greeting guest calling the extension through one import
// per method.
func Golang(extension string) []byte {
	m := NewModule(2)
	fns := map[string]uint32{}
	for _, name := range []string{"Interface_New", "Example_Hello", "Interface_World"} {
		fns[name] = m.Import(extension, name, callSig, i64x1)
	}
	call := func(c *Code, method string, arg, argLen int32) {
		c.I32Const(arg).I32Const(argLen).Call(fns[method])
	}
	return greeting(m, GolangPrefix, call, "Interface_New", "Example_Hello", "Interface_World")
}

// GolangFree is Golang exporting a free that records its calls at FreeLog.
func GolangFree(extension string) []byte {
	m := NewModule(2)
	fns := map[string]uint32{}
	for _, name := range []string{"Interface_New", "Example_Hello", "Interface_World"} {
		fns[name] = m.Import(extension, name, callSig, i64x1)
	}
	withFree(m)
	call := func(c *Code, method string, arg, argLen int32) {
		c.I32Const(arg).I32Const(argLen).Call(fns[method])
	}
	return greeting(m, GolangPrefix, call, "Interface_New", "Example_Hello", "Interface_World")
}

// Rust is the greeting guest calling the extension through the generic
// invoke import with string selectors.
func Rust(extension string) []byte {
	m := NewModule(2)
	invoke := m.Import(extension, "invoke", []ValType{I64, I32, I32, I32, I32}, i64x1)
	selectors := map[string][2]int32{}
	call := func(c *Code, method string, arg, argLen int32) {
		sel, ok := selectors[method]
		if !ok {
			sel = [2]int32{int32(m.Data([]byte(method))), int32(len(method))}
			selectors[method] = sel
		}
		c.I32Const(sel[0]).I32Const(sel[1]).I32Const(arg).I32Const(argLen).Call(invoke)
	}
	return greeting(m, RustPrefix, call, "New", "Example.Hello", "World")
}

// greeting builds run: h = New(), hello = h.Hello(), world = World(), then
// returns a single string field record prefix+hello+WorldPrefix+world.
func greeting(m *Module, prefix string, call caller, newM, helloM, worldM string) []byte {
	malloc := withMalloc(m)
	arg := int32(m.Data(emptyString))
	argLen := int32(len(emptyString))
	prefixAddr := m.Data([]byte(prefix))
	worldAddr := m.Data([]byte(WorldPrefix))

	const (
		tmp = iota + 2
		handle
		helloPtr
		helloLen
		worldPtr
		worldLen
		out
		total
		cursor
	)

	c := &Code{}
	c.I64Const(0)
	call(c, newM, arg, argLen)
	c.LocalSet(tmp)
	c.UnpackPtr(tmp).I64Load(1).LocalSet(handle)

	c.LocalGet(handle)
	call(c, helloM, arg, argLen)
	c.LocalSet(tmp)
	c.UnpackPtr(tmp).LocalSet(helloPtr)
	c.LocalGet(helloPtr).I32Load(2).LocalSet(helloLen)

	c.I64Const(0)
	call(c, worldM, arg, argLen)
	c.LocalSet(tmp)
	c.UnpackPtr(tmp).LocalSet(worldPtr)
	c.LocalGet(worldPtr).I32Load(2).LocalSet(worldLen)

	c.I32Const(int32(6 + len(prefix) + len(WorldPrefix))).
		LocalGet(helloLen).I32Add().LocalGet(worldLen).I32Add().LocalSet(total)
	c.LocalGet(total).Call(malloc).LocalSet(out)
	c.LocalGet(out).I32Const(int32(polyglot.RecordKind)).I32Store8(0)
	c.LocalGet(out).I32Const(int32(polyglot.StringKind)).I32Store8(1)
	c.LocalGet(out).LocalGet(total).I32Const(6).I32Sub().I32Store(2)
	c.LocalGet(out).I32Const(6).I32Add().LocalSet(cursor)

	appendConst := func(addr uint32, n int) {
		c.LocalGet(cursor).I32Const(int32(addr)).I32Const(int32(n)).MemoryCopy()
		c.LocalGet(cursor).I32Const(int32(n)).I32Add().LocalSet(cursor)
	}
	appendString := func(ptr, n uint32) {
		c.LocalGet(cursor).LocalGet(ptr).I32Const(6).I32Add().LocalGet(n).MemoryCopy()
		c.LocalGet(cursor).LocalGet(n).I32Add().LocalSet(cursor)
	}
	appendConst(prefixAddr, len(prefix))
	appendString(helloPtr, helloLen)
	appendConst(worldAddr, len(WorldPrefix))
	appendString(worldPtr, worldLen)

	c.Pack(out, total).End()
	withRun(m, []ValType{I64, I64, I32, I32, I32, I32, I32, I32, I32}, c)
	return m.Bytes()
}
