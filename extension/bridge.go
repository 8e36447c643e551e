package extension

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	polyglotruntime "github.com/wippyai/polyglot-runtime"
	"github.com/wippyai/polyglot-runtime/engine"
	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/polyglot"
	"github.com/wippyai/polyglot-runtime/resource"
)

// Bridge is the per-instance view of an extension: a handle table whose
// handle 0 is the extension's root and whose other handles are capabilities
// returned by host methods during the instance's lifetime.
type Bridge struct {
	ext   *Extension
	table *resource.Table

	mu    sync.Mutex
	fault error
	// result buffers written into guest memory and not yet freed
	pending []uint64
}

// rootRef holds the root implementation in the table. The root is shared
// by every bridge of the extension and is never closed by one of them.
type rootRef struct {
	impl any
}

// NewBridge creates a bridge with the root bound at handle 0.
func (x *Extension) NewBridge() *Bridge {
	b := &Bridge{ext: x, table: resource.NewTable()}
	b.table.Subscribe(b)
	// a new table is never closed, Insert cannot fail
	_, _ = b.table.Insert(x.root.name, rootRef{impl: x.impl})
	return b
}

// Extension returns the extension the bridge serves.
func (b *Bridge) Extension() *Extension { return b.ext }

// Table returns the bridge's handle table.
func (b *Bridge) Table() *resource.Table { return b.table }

// Call dispatches selector on the value behind handle with the encoded
// record args and returns the encoded result.
//
// Host errors are not bridge errors: they are returned to the guest as an
// encoded Error value. Bridge errors (unknown handle or selector, malformed
// arguments, a panicking host method) are recorded as the bridge fault and
// returned.
func (b *Bridge) Call(ctx context.Context, handle uint64, selector string, args []byte) ([]byte, error) {
	e := polyglot.NewEncoder(64)
	if err := b.dispatch(ctx, e, handle, selector, args); err != nil {
		return nil, err
	}
	return e.Buffer(), nil
}

// dispatch is Call writing the encoded result into e.
func (b *Bridge) dispatch(ctx context.Context, e *polyglot.Encoder, handle uint64, selector string, args []byte) error {
	value, kind, done, ok := b.table.Borrow(resource.Handle(handle))
	if !ok {
		return b.fail(errors.UnknownHandle(b.ext.name, handle))
	}
	defer done()

	m, err := b.ext.lookup(kind, selector)
	if err != nil {
		return b.fail(err)
	}

	in := make([]reflect.Value, 0, 2)
	if m.ctx {
		in = append(in, reflect.ValueOf(ctx))
	}
	if m.param != nil {
		arg, err := decodeArg(m.param, args)
		if err != nil {
			return b.fail(errors.New(errors.PhaseBridge, errors.KindInvalidArgument).
				Path(b.ext.name, kind, m.name).
				Cause(err).
				Detail("decode %s", m.param.Elem().Name()).
				Build())
		}
		in = append(in, arg)
	}

	out, err := b.invoke(kind, value, m, in)
	if err != nil {
		return b.fail(err)
	}

	if m.err {
		if herr, _ := out[len(out)-1].Interface().(error); herr != nil {
			b.ext.logger.Debug("host method failed",
				zap.String("extension", b.ext.name),
				zap.String("method", kind+"."+m.name),
				zap.Error(herr))
			e.Error(herr)
			return nil
		}
	}

	switch {
	case m.result == nil:
		e.Nil()
	case m.capability != nil:
		rv := out[0]
		if rv.IsNil() {
			e.Nil()
			break
		}
		h, err := b.table.Insert(m.capability.name, rv.Interface())
		if err != nil {
			return b.fail(errors.New(errors.PhaseBridge, errors.KindHostFailure).
				Path(b.ext.name, kind, m.name).
				Cause(err).
				Detail("store %s capability", m.capability.name).
				Build())
		}
		e.Uint64(uint64(h))
	default:
		model, _ := out[0].Interface().(polyglot.Model)
		polyglot.EncodeModel(e, model)
	}
	return nil
}

// invoke calls m on value, converting a panic into a host failure.
func (b *Bridge) invoke(kind string, value any, m *method, in []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseBridge, errors.KindHostFailure).
				Path(b.ext.name, kind, m.name).
				Value(r).
				Detail("host method panicked: %v", r).
				Build()
		}
	}()

	if r, ok := value.(rootRef); ok {
		value = r.impl
	}
	it := b.ext.ifaces[kind]
	recv := reflect.New(it.typ).Elem()
	recv.Set(reflect.ValueOf(value))
	return recv.Method(m.index).Call(in), nil
}

// decodeArg decodes a presence-marked record of type param. An absent
// record or empty args decode to a nil pointer.
func decodeArg(param reflect.Type, args []byte) (reflect.Value, error) {
	if len(args) == 0 {
		return reflect.Zero(param), nil
	}
	d := polyglot.NewDecoder(args)
	present, err := d.Record()
	if err != nil {
		return reflect.Value{}, err
	}
	if !present {
		if !d.Done() {
			return reflect.Value{}, fmt.Errorf("%d trailing bytes after absent record", d.Remaining())
		}
		return reflect.Zero(param), nil
	}
	arg := reflect.New(param.Elem())
	model := arg.Interface().(polyglot.Model)
	if def, ok := model.(polyglot.Defaulter); ok {
		def.SetDefaults()
	}
	if err := model.Decode(d); err != nil {
		return reflect.Value{}, err
	}
	if !d.Done() {
		return reflect.Value{}, fmt.Errorf("%d trailing bytes after record", d.Remaining())
	}
	return arg, nil
}

// Release drops a handle. Values implementing io.Closer are closed.
func (b *Bridge) Release(handle uint64) error {
	err := b.table.Release(resource.Handle(handle))
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, resource.ErrUnknownHandle):
		return errors.UnknownHandle(b.ext.name, handle)
	case stderrors.Is(err, resource.ErrOutstandingBorrow):
		return errors.New(errors.PhaseBridge, errors.KindInvalidState).
			Path(b.ext.name).
			Value(handle).
			Detail("handle %d is in use", handle).
			Build()
	}
	return errors.Wrap(errors.PhaseBridge, errors.KindHostFailure, err, fmt.Sprintf("release handle %d", handle))
}

// Close releases every live handle, root included.
func (b *Bridge) Close() error {
	if err := b.table.Close(); err != nil {
		return errors.Wrap(errors.PhaseBridge, errors.KindHostFailure, err, "close bridge")
	}
	return nil
}

// OnResourceEvent logs handle lifecycle at debug level.
func (b *Bridge) OnResourceEvent(e resource.Event) {
	b.ext.logger.Debug("handle "+e.Type.String(),
		zap.String("extension", b.ext.name),
		zap.Uint64("handle", uint64(e.Handle)),
		zap.String("kind", e.Kind))
}

// track records a result buffer written into guest memory.
func (b *Bridge) track(packed uint64) {
	b.mu.Lock()
	b.pending = append(b.pending, packed)
	b.mu.Unlock()
}

// FreeResults hands the result buffers written into guest memory since the
// last call back to alloc and returns how many there were. The guest has
// consumed them once its run returned.
func (b *Bridge) FreeResults(alloc polyglotruntime.Allocator) int {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, packed := range pending {
		ptr, size := engine.Unpack(packed)
		alloc.Free(ptr, size, 1)
	}
	return len(pending)
}

// Live returns the number of live handles.
func (b *Bridge) Live() int {
	return b.table.Len()
}

// Fault returns the first bridge error recorded since the bridge was
// created, or nil.
func (b *Bridge) Fault() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fault
}

func (b *Bridge) fail(err error) error {
	b.mu.Lock()
	if b.fault == nil {
		b.fault = err
	}
	b.mu.Unlock()
	b.ext.logger.Debug("bridge call failed", zap.String("extension", b.ext.name), zap.Error(err))
	return err
}
