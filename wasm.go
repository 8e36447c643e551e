package polyglotruntime

// Memory is a bounds-checked view of a guest's linear memory.
type Memory interface {
	// Read returns length bytes at offset. The slice may alias guest
	// memory and is only valid until the guest runs again.
	Read(offset, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
}

// MemorySizer reports the current size of guest memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator hands out guest memory through the guest's own allocator.
// Free is a no-op for guests that export no deallocator.
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}
