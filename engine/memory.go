package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	polyglotruntime "github.com/wippyai/polyglot-runtime"
	"github.com/wippyai/polyglot-runtime/errors"
)

// GuestMemory wraps wazero memory with bounds-checked, structured errors.
type GuestMemory struct {
	mem api.Memory
}

// NewMemory wraps mem. A nil mem yields a memory whose every access fails.
func NewMemory(mem api.Memory) *GuestMemory {
	return &GuestMemory{mem: mem}
}

func (m *GuestMemory) bounds(offset, length uint32) error {
	if m.mem == nil {
		return errors.MissingExport(ExportMemory)
	}
	return errors.New(errors.PhaseRun, errors.KindInvalidData).
		Value(Pack(offset, length)).
		Detail("buffer [%d, %d) outside guest memory of %d bytes", offset, uint64(offset)+uint64(length), m.mem.Size()).
		Build()
}

// Read returns a view of guest memory. The view is invalidated when the
// guest grows its memory; copy it before calling back into the guest.
func (m *GuestMemory) Read(offset, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, m.bounds(offset, length)
	}
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.bounds(offset, length)
	}
	return data, nil
}

func (m *GuestMemory) Write(offset uint32, data []byte) error {
	if m.mem == nil || !m.mem.Write(offset, data) {
		return m.bounds(offset, uint32(len(data)))
	}
	return nil
}

// Size returns the memory size in bytes.
func (m *GuestMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// mallocAllocator allocates through the guest's malloc export. malloc has no
// alignment parameter, so align must not exceed the guest's own alignment.
type mallocAllocator struct {
	ctx    context.Context
	malloc api.Function
	free   api.Function
}

// NewAllocator returns an allocator over mod's malloc and optional free
// exports. Calls into the guest run under ctx.
func NewAllocator(ctx context.Context, mod api.Module) (polyglotruntime.Allocator, error) {
	malloc := mod.ExportedFunction(ExportMalloc)
	if malloc == nil {
		return nil, errors.MissingExport(ExportMalloc)
	}
	return &mallocAllocator{ctx: ctx, malloc: malloc, free: mod.ExportedFunction(ExportFree)}, nil
}

func (a *mallocAllocator) Alloc(size, align uint32) (uint32, error) {
	res, err := a.malloc.Call(a.ctx, uint64(size))
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseRun, size, err)
	}
	if len(res) != 1 {
		return 0, errors.AllocationFailed(errors.PhaseRun, size, fmt.Errorf("malloc returned %d values", len(res)))
	}
	ptr := uint32(res[0])
	if size > 0 && ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseRun, size, fmt.Errorf("malloc returned null"))
	}
	if align > 1 && ptr%align != 0 {
		return 0, errors.AllocationFailed(errors.PhaseRun, size, fmt.Errorf("malloc returned %d, not aligned to %d", ptr, align))
	}
	return ptr, nil
}

func (a *mallocAllocator) Free(ptr, size, align uint32) {
	if a.free == nil || ptr == 0 {
		return
	}
	if _, err := a.free.Call(a.ctx, uint64(ptr)); err != nil {
		Logger().Warn("guest free failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

var (
	_ polyglotruntime.Memory      = (*GuestMemory)(nil)
	_ polyglotruntime.MemorySizer = (*GuestMemory)(nil)
	_ polyglotruntime.Allocator   = (*mallocAllocator)(nil)
)
