package engine

import (
	"context"

	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wippyai/polyglot-runtime/errors"
)

// WASIModuleName is the import module of WASI preview1.
const WASIModuleName = wasi_snapshot_preview1.ModuleName

// InitWASI instantiates WASI preview1 once for this engine's runtime. Guests
// use it for fd_write to stdout and stderr, clocks and random.
// Safe for concurrent calls.
func (e *Engine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(WASIModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
			return errors.Registration(errors.PhaseLink, WASIModuleName, "*", err)
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}
