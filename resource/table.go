package resource

import (
	"errors"
	"io"
	"sync"
)

// ErrUnknownHandle is returned for handles that were never allocated or are
// already released.
var ErrUnknownHandle = errors.New("unknown resource handle")

// Table maps handles to host values and notifies observers of inserts and
// releases. It is safe for concurrent use; no lock is held while observers
// run or while released values are closed.
type Table struct {
	backend   Backend
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates a table backed by a LocalBackend.
func NewTable() *Table {
	return NewTableWithBackend(NewLocalBackend())
}

// NewTableWithBackend creates a table over the given backend.
func NewTableWithBackend(b Backend) *Table {
	return &Table{backend: b}
}

// Insert adds a value and returns its handle.
func (t *Table) Insert(kind string, value any) (Handle, error) {
	handle, err := t.backend.Create(kind, value)
	if err != nil {
		return 0, err
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		Kind:   kind,
		Value:  value,
	})
	return handle, nil
}

// Get retrieves a value by handle.
func (t *Table) Get(handle Handle) (any, bool) {
	value, _, ok := t.backend.Get(handle)
	return value, ok
}

// Lookup retrieves a value and the kind it was inserted with.
func (t *Table) Lookup(handle Handle) (any, string, bool) {
	return t.backend.Get(handle)
}

// Borrow pins a handle for the duration of a call. The returned function
// returns the borrow; ok is false for unknown handles.
func (t *Table) Borrow(handle Handle) (value any, kind string, done func(), ok bool) {
	if !t.backend.Borrow(handle) {
		return nil, "", nil, false
	}
	value, kind, ok = t.backend.Get(handle)
	if !ok {
		t.backend.ReturnBorrow(handle)
		return nil, "", nil, false
	}
	return value, kind, func() { t.backend.ReturnBorrow(handle) }, true
}

// Remove takes a value out of the table without closing it.
func (t *Table) Remove(handle Handle) (any, bool) {
	_, kind, _ := t.backend.Get(handle)
	value, ok := t.backend.Drop(handle)
	if !ok {
		return nil, false
	}

	t.notify(Event{
		Type:   EventReleased,
		Handle: handle,
		Kind:   kind,
		Value:  value,
	})
	return value, true
}

// Release removes a value and closes it if it implements io.Closer.
func (t *Table) Release(handle Handle) error {
	value, ok := t.Remove(handle)
	if !ok {
		if _, _, live := t.backend.Get(handle); live {
			return ErrOutstandingBorrow
		}
		return ErrUnknownHandle
	}
	return closeValue(value)
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live values.
func (t *Table) Len() int {
	return t.backend.Len()
}

// Handles returns the live handles in ascending order.
func (t *Table) Handles() []Handle {
	var handles []Handle
	t.backend.Each(func(h Handle, _ string, _ any) bool {
		handles = append(handles, h)
		return true
	})
	return handles
}

// Close releases every live value, including borrowed ones, and stops
// accepting inserts. Errors from closing values are joined.
func (t *Table) Close() error {
	var errs []error
	for _, e := range t.backend.Close() {
		t.notify(Event{
			Type:   EventReleased,
			Handle: e.Handle,
			Kind:   e.Kind,
			Value:  e.Value,
		})
		if err := closeValue(e.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeValue(value any) error {
	if c, ok := value.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	observers := append([]Observer(nil), t.observers...)
	t.obsMu.RUnlock()
	for _, o := range observers {
		o.OnResourceEvent(e)
	}
}
