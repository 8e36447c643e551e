// Package extension binds Go implementations of host capabilities to wasm
// guests.
//
// An extension is created from an interface and its implementation:
//
//	type Interface interface {
//		New(*Stringval) (Example, error)
//		World(*Stringval) (*Stringval, error)
//	}
//
//	ext, err := extension.New[Interface]("local-example", host{})
//
// Every method takes an optional context.Context and an optional model
// pointer, and returns an optional result and an optional error. A result
// that is a model pointer is encoded back to the guest; a result that is
// another interface is a capability: the bridge stores it under a new
// handle and the guest receives the handle. Capability interfaces are bound
// transitively when the extension is created.
//
// # Bridges
//
// Each guest instance gets its own Bridge, a handle table whose handle 0 is
// the root implementation:
//
//	b := ext.NewBridge()
//	out, err := b.Call(ctx, 0, "New", args)
//
// Calls on unknown or released handles, unknown selectors, undecodable
// arguments and panicking host methods are bridge errors; the first one is
// kept as the bridge's Fault. An error returned by a host method is not a
// bridge error: it is sent to the guest as an Error value.
//
// # Imports
//
// HostFunctions returns the wasm import module of the extension. Guests
// call methods either through one import per method, named
// Interface_Method, or through invoke with a string selector. drop releases
// a handle. The bridge serving a call is taken from the context:
//
//	ctx = extension.WithBridge(ctx, b)
package extension
