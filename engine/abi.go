package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/polyglot-runtime/errors"
)

const (
	// ExportMemory is the guest's linear memory.
	ExportMemory = "memory"
	// ExportMalloc allocates guest memory: malloc(size i32) -> ptr i32.
	ExportMalloc = "malloc"
	// ExportRun is the entry point: run(ptr i32, len i32) -> i64 packed.
	ExportRun = "run"
	// ExportInitialize is the optional reactor initializer.
	ExportInitialize = "_initialize"
	// ExportFree is the optional deallocator: free(ptr i32).
	ExportFree = "free"
)

// Pack combines a guest pointer and length into the i64 used by every
// guest and host function returning a byte buffer.
func Pack(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// Unpack splits a packed pointer and length.
func Unpack(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}

// ReadBytes copies length bytes at ptr out of guest memory.
func ReadBytes(mem api.Memory, ptr, length uint32) ([]byte, error) {
	data, err := NewMemory(mem).Read(ptr, length)
	if err != nil {
		return nil, err
	}
	return append(make([]byte, 0, length), data...), nil
}

// WriteBytes allocates len(data) bytes with the guest's malloc export, copies
// data into them and returns the packed pointer and length.
func WriteBytes(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	if mod.Memory() == nil {
		return 0, errors.MissingExport(ExportMemory)
	}
	alloc, err := NewAllocator(ctx, mod)
	if err != nil {
		return 0, err
	}
	size := uint32(len(data))
	ptr, err := alloc.Alloc(size, 1)
	if err != nil {
		return 0, err
	}
	mem := NewMemory(mod.Memory())
	if err := mem.Write(ptr, data); err != nil {
		return 0, errors.AllocationFailed(errors.PhaseRun, size,
			fmt.Errorf("malloc returned %d, outside guest memory of %d bytes", ptr, mem.Size()))
	}
	return Pack(ptr, size), nil
}

// FreeBytes hands a buffer written by WriteBytes back to the guest's free
// export. Guests without one keep the buffer.
func FreeBytes(ctx context.Context, mod api.Module, packed uint64) {
	alloc, err := NewAllocator(ctx, mod)
	if err != nil {
		return
	}
	ptr, size := Unpack(packed)
	alloc.Free(ptr, size, 1)
}
