package runtime

import (
	"context"
	stderrors "errors"
	"io"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/polyglot-runtime/engine"
	"github.com/wippyai/polyglot-runtime/errors"
	"github.com/wippyai/polyglot-runtime/extension"
	"github.com/wippyai/polyglot-runtime/polyglot"
)

// Instance is one guest instance of a Runtime with its own memory and
// extension bridges. Runs on an instance are serialized; a Run that finds
// the instance Running is rejected.
type Instance[T polyglot.Model] struct {
	rt      *Runtime[T]
	id      string
	logger  *zap.Logger
	bridges []*extension.Bridge
	guest   *engine.Instance

	mu    sync.Mutex
	state State
}

// ID returns the instance id used in log fields.
func (i *Instance[T]) ID() string {
	return i.id
}

// State returns the current state.
func (i *Instance[T]) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Bridges returns the instance's extension bridges, in binding order.
func (i *Instance[T]) Bridges() []*extension.Bridge {
	return i.bridges
}

func (i *Instance[T]) transition(s State) {
	i.mu.Lock()
	from := i.state
	if from != StateClosed {
		i.state = s
	}
	i.mu.Unlock()
	if from != StateClosed {
		i.logger.Debug("state", zap.Stringer("from", from), zap.Stringer("to", s))
	}
}

func (i *Instance[T]) withBridges(ctx context.Context) context.Context {
	for _, b := range i.bridges {
		ctx = extension.WithBridge(ctx, b)
	}
	return ctx
}

// Run encodes sig, runs the guest's entry export and decodes the mutated
// context back into sig. sig is left untouched unless the run succeeds.
func (i *Instance[T]) Run(ctx context.Context, sig T) error {
	if isNil(sig) {
		return errors.InvalidInput(errors.PhaseEncode, "context is nil")
	}
	i.mu.Lock()
	if i.state != StateReady {
		s := i.state
		i.mu.Unlock()
		return errors.InvalidState("run", s.String())
	}
	i.state = StateRunning
	i.mu.Unlock()

	log := i.logger.With(zap.String("run_id", uuid.NewString()))
	log.Debug("run started")

	err := i.run(ctx, sig)
	i.finish(ctx, log, err)
	return err
}

func (i *Instance[T]) run(ctx context.Context, sig T) error {
	// Call copies the input into guest memory before it returns.
	e := polyglot.GetEncoder()
	defer polyglot.PutEncoder(e)
	polyglot.EncodeModel(e, sig)
	input := e.Buffer()

	rt := i.rt
	if rt.res.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.res.timeout)
		defer cancel()
	}

	out, err := i.guest.Call(i.withBridges(ctx), engine.ExportRun, input)
	i.flush()
	if err != nil {
		for _, b := range i.bridges {
			if fault := b.Fault(); fault != nil {
				return errors.Trap(engine.ExportRun, fault)
			}
		}
		return err
	}
	i.freeResults(ctx)

	if len(out) > 0 && polyglot.Kind(out[0]) == polyglot.ErrorKind {
		d := polyglot.NewDecoder(out)
		msg, err := d.Error()
		if err != nil {
			return err
		}
		return errors.GuestError(msg.Error())
	}

	// Decode into a scratch value first so a malformed result never leaves
	// sig half written.
	if err := polyglot.Unmarshal(out, rt.cfg.factory()); err != nil {
		return err
	}
	return polyglot.Unmarshal(out, sig)
}

// freeResults returns the extension results of the finished run to the
// guest allocator.
func (i *Instance[T]) freeResults(ctx context.Context) {
	alloc, err := i.guest.Allocator(ctx)
	if err != nil {
		i.logger.Debug("no guest allocator", zap.Error(err))
		return
	}
	n := 0
	for _, b := range i.bridges {
		n += b.FreeResults(alloc)
	}
	if n > 0 {
		i.logger.Debug("freed extension results", zap.Int("buffers", n))
	}
}

type flusher interface{ Flush() error }
type syncer interface{ Sync() error }

func (i *Instance[T]) flush() {
	for _, w := range []io.Writer{i.rt.cfg.stdout, i.rt.cfg.stderr} {
		var err error
		switch s := w.(type) {
		case flusher:
			err = s.Flush()
		case syncer:
			err = s.Sync()
		}
		if err != nil {
			i.logger.Warn("flush guest output", zap.Error(err))
		}
	}
}

func (i *Instance[T]) finish(ctx context.Context, log *zap.Logger, err error) {
	if err != nil {
		log.Debug("run failed", zap.Error(err))
		i.transition(StateFailed)
		if cerr := stderrors.Join(i.closeBridges(), i.guest.Close(ctx)); cerr != nil {
			log.Warn("release failed instance", zap.Error(cerr))
		}
		return
	}
	log.Debug("run completed")
	i.transition(StateCompleted)
	if i.rt.fn.Stateless {
		i.transition(StateReady)
	}
}

func (i *Instance[T]) closeBridges() error {
	var errs []error
	for _, b := range i.bridges {
		errs = append(errs, b.Close())
	}
	return stderrors.Join(errs...)
}

// Close releases the instance's handles and guest. Closing twice is a
// no-op.
func (i *Instance[T]) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.state == StateClosed {
		i.mu.Unlock()
		return nil
	}
	i.state = StateClosed
	i.mu.Unlock()

	err := i.closeBridges()
	if i.guest != nil {
		err = stderrors.Join(err, i.guest.Close(ctx))
	}
	i.rt.forget(i)
	i.logger.Debug("instance closed")
	return err
}

func isNil(m polyglot.Model) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
