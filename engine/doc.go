// Package engine runs polyglot guests on wazero.
//
// It owns the parts of the runtime that talk to wasm directly: compiling
// guest binaries, defining host modules, instantiating WASI preview1 and
// moving byte buffers across the guest boundary.
//
// # Architecture
//
//	Engine   - a wazero runtime with its host modules and optional cache
//	Module   - a compiled guest, with its imports and exported functions
//	Instance - an instantiated guest that can be called
//
// # Guest ABI
//
// Every guest exports:
//
//	memory                       linear memory
//	malloc(size i32) -> i32      allocator used by the host to pass data in
//	run(ptr i32, len i32) -> i64 entry point
//	_initialize()                optional, called once after instantiation
//
// Buffers crossing the boundary are returned as one i64 holding the pointer
// in the high 32 bits and the length in the low 32 bits (see Pack). The host
// writes the encoded context with malloc, calls run and copies the returned
// buffer out of guest memory:
//
//	out, err := inst.Call(ctx, engine.ExportRun, input)
//
// # Limits
//
// Engines are created with close-on-context-done, so a guest call aborts
// when its context expires; the failure is reported as a resource limit.
// Config.MemoryLimitPages caps the memory of every instance.
//
// # Logging
//
// The package logs through a zap logger set with SetLogger. It is a no-op
// logger by default.
package engine
