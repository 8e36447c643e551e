package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed            = errors.New("resource table closed")
	ErrOutstandingBorrow = errors.New("cannot release resource with outstanding borrows")
)

// LocalBackend is an in-memory backend. Entries are indexed by handle and
// released slots stay empty, so handles are never handed out twice.
type LocalBackend struct {
	entries []entry
	live    int
	mu      sync.RWMutex
	closed  bool
}

type entry struct {
	value       any
	kind        string
	borrowCount uint32
	valid       bool
}

// NewLocalBackend creates an empty backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries: make([]entry, 0, 16),
	}
}

// Create stores a value and returns the next handle.
func (b *LocalBackend) Create(kind string, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	b.entries = append(b.entries, entry{
		kind:  kind,
		value: value,
		valid: true,
	})
	b.live++
	return Handle(len(b.entries) - 1), nil
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.lookup(handle)
	if !ok {
		return nil, "", false
	}
	return e.value, e.kind, true
}

// Drop removes an entry and returns its value.
func (b *LocalBackend) Drop(handle Handle) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(handle)
	if !ok || e.borrowCount > 0 {
		return nil, false
	}

	value := e.value
	*e = entry{}
	b.live--
	return value, true
}

// Borrow increments the borrow count for a handle.
func (b *LocalBackend) Borrow(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(handle)
	if !ok {
		return false
	}
	e.borrowCount++
	return true
}

// ReturnBorrow decrements the borrow count for a handle.
func (b *LocalBackend) ReturnBorrow(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(handle)
	if !ok || e.borrowCount == 0 {
		return false
	}
	e.borrowCount--
	return true
}

// Borrowed reports whether a live handle has outstanding borrows.
func (b *LocalBackend) Borrowed(handle Handle) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.lookup(handle)
	return ok && e.borrowCount > 0
}

// Len returns the number of live entries.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live
}

// Each iterates over live entries.
func (b *LocalBackend) Each(fn func(Handle, string, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid {
			if !fn(Handle(i), e.kind, e.value) {
				break
			}
		}
	}
}

// Close empties the backend, ignoring borrows.
func (b *LocalBackend) Close() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var live []Entry
	for i, e := range b.entries {
		if e.valid {
			live = append(live, Entry{Value: e.value, Kind: e.kind, Handle: Handle(i)})
		}
	}
	b.entries = nil
	b.live = 0
	return live
}

// Closed reports whether Close was called.
func (b *LocalBackend) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *LocalBackend) lookup(handle Handle) (*entry, bool) {
	if handle >= Handle(len(b.entries)) {
		return nil, false
	}
	e := &b.entries[handle]
	if !e.valid {
		return nil, false
	}
	return e, true
}
