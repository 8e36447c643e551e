package resource

// Handle is an opaque reference to a value in a table. The first value
// inserted into a table gets handle 0; handles grow monotonically and are
// never reused.
type Handle uint64

// EventType identifies a table lifecycle event.
type EventType uint8

const (
	EventCreated EventType = iota
	EventReleased
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventReleased:
		return "released"
	}
	return "unknown"
}

// Event is delivered to observers after a value is inserted or released.
type Event struct {
	Value  any
	Kind   string
	Handle Handle
	Type   EventType
}

// Observer receives table lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend stores table entries.
type Backend interface {
	// Create stores a value and returns its handle.
	Create(kind string, value any) (Handle, error)

	// Get retrieves a value and its kind.
	Get(handle Handle) (value any, kind string, ok bool)

	// Drop removes an entry. It fails if the handle is unknown, already
	// released or currently borrowed.
	Drop(handle Handle) (any, bool)

	// Borrow pins an entry so Drop fails until ReturnBorrow.
	Borrow(handle Handle) bool

	// ReturnBorrow releases one borrow.
	ReturnBorrow(handle Handle) bool

	// Len returns the number of live entries.
	Len() int

	// Each visits live entries in handle order until fn returns false.
	Each(fn func(Handle, string, any) bool)

	// Close removes every entry and returns the removed entries in handle
	// order. Later calls to Create fail.
	Close() []Entry
}

// Entry is a live value returned by Backend.Close.
type Entry struct {
	Value  any
	Kind   string
	Handle Handle
}
