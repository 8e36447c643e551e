package extension

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/polyglot-runtime/engine"
	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/polyglot"
)

// Generic imports every extension module exports next to its per-method
// imports.
const (
	ImportInvoke = "invoke"
	ImportDrop   = "drop"
)

type bridgeKey string

// WithBridge returns a context carrying b as the active bridge of its
// extension. Host imports called under the context dispatch to b.
func WithBridge(ctx context.Context, b *Bridge) context.Context {
	return context.WithValue(ctx, bridgeKey(b.ext.name), b)
}

// BridgeFrom returns the active bridge for the named extension.
func BridgeFrom(ctx context.Context, name string) (*Bridge, bool) {
	b, ok := ctx.Value(bridgeKey(name)).(*Bridge)
	return b, ok
}

// ImportName returns the wasm import name of a method: Interface_Method.
func ImportName(iface, method string) string {
	return iface + "_" + method
}

// HostFunctions returns the functions of the extension's wasm import module:
//
//	<Interface>_<Method>(handle i64, argPtr i32, argLen i32) -> i64
//	invoke(handle i64, selPtr i32, selLen i32, argPtr i32, argLen i32) -> i64
//	drop(handle i64) -> i32
//
// Results are written into guest memory through malloc and returned packed.
// drop returns 1. A bridge error, including dropping an unknown or busy
// handle, traps the guest.
func (x *Extension) HostFunctions() []engine.HostFunc {
	i64 := api.ValueTypeI64
	i32 := api.ValueTypeI32

	var funcs []engine.HostFunc
	for _, it := range x.order {
		for _, m := range it.order {
			selector := it.name + "." + m.name
			funcs = append(funcs, engine.HostFunc{
				Name:    ImportName(it.name, m.name),
				Params:  []api.ValueType{i64, i32, i32},
				Results: []api.ValueType{i64},
				Fn: func(ctx context.Context, mod api.Module, stack []uint64) {
					b := x.active(ctx)
					args := b.read(mod, stack[1], stack[2])
					stack[0] = b.call(ctx, mod, stack[0], selector, args)
				},
			})
		}
	}

	funcs = append(funcs,
		engine.HostFunc{
			Name:    ImportInvoke,
			Params:  []api.ValueType{i64, i32, i32, i32, i32},
			Results: []api.ValueType{i64},
			Fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				b := x.active(ctx)
				selector := string(b.read(mod, stack[1], stack[2]))
				args := b.read(mod, stack[3], stack[4])
				stack[0] = b.call(ctx, mod, stack[0], selector, args)
			},
		},
		engine.HostFunc{
			Name:    ImportDrop,
			Params:  []api.ValueType{i64},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				b := x.active(ctx)
				if err := b.Release(stack[0]); err != nil {
					panic(b.fail(err))
				}
				stack[0] = 1
			},
		},
	)
	return funcs
}

// active returns the bridge bound to ctx. Without one the guest traps.
func (x *Extension) active(ctx context.Context) *Bridge {
	b, ok := BridgeFrom(ctx, x.name)
	if !ok {
		panic(errors.New(errors.PhaseBridge, errors.KindHostFailure).
			Path(x.name).
			Detail("no bridge bound for extension %q", x.name).
			Build())
	}
	return b
}

// read copies a guest buffer. Out of range buffers are a bridge fault.
func (b *Bridge) read(mod api.Module, ptr, length uint64) []byte {
	data, err := engine.ReadBytes(mod.Memory(), uint32(ptr), uint32(length))
	if err != nil {
		panic(b.fail(errors.New(errors.PhaseBridge, errors.KindInvalidArgument).
			Path(b.ext.name).
			Cause(err).
			Detail("read guest buffer").
			Build()))
	}
	return data
}

// call runs a bridge call on behalf of the guest and writes the result
// into guest memory.
// The result buffer is tracked until FreeResults.
func (b *Bridge) call(ctx context.Context, mod api.Module, handle uint64, selector string, args []byte) uint64 {
	e := polyglot.GetEncoder()
	defer polyglot.PutEncoder(e)
	if err := b.dispatch(ctx, e, handle, selector, args); err != nil {
		panic(err)
	}
	packed, err := engine.WriteBytes(ctx, mod, e.Buffer())
	if err != nil {
		panic(b.fail(errors.New(errors.PhaseBridge, errors.KindHostFailure).
			Path(b.ext.name, selector).
			Cause(err).
			Detail("write result into guest memory").
			Build()))
	}
	b.track(packed)
	return packed
}
