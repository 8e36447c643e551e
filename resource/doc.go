// Package resource provides the handle table behind extension bridges.
//
// A Table maps integer handles to host values. The guest only ever sees the
// handle; the value stays on the host side.
//
//	table := resource.NewTable()
//
//	root, _ := table.Insert("Interface", impl) // root == 0
//	h, _ := table.Insert("Example", example)   // h == 1
//
//	value, kind, ok := table.Lookup(h)
//	err := table.Release(h) // closes io.Closer values
//
// # Handles
//
// The first value inserted gets handle 0. Handles increase monotonically and
// a released handle is never handed out again, so a stale handle from the
// guest always fails instead of reaching a different object.
//
// # Borrows
//
// Borrow pins a handle while a host method runs; Release fails with
// ErrOutstandingBorrow until the borrow is returned. Close ignores borrows.
//
// # Observers
//
// Observers are notified after every insert and release, including the
// releases performed by Close:
//
//	table.Subscribe(observer)
package resource
