// Package polyglotruntime runs independently compiled WebAssembly guests and
// exchanges typed records with them.
//
// Host and guest share one binary wire format. Every value carries a kind
// tag; records are ordered field streams behind a presence marker. Any type
// implementing polyglot.Model crosses the boundary, and schema.Record does
// so for signatures known only at run time.
//
//	polyglotruntime/     Memory and Allocator over guest linear memory
//	├── polyglot/        wire format: Kind, Encoder, Decoder, Model helpers
//	├── schema/          function artifacts, signatures, dynamic records
//	├── resource/        handle tables
//	├── extension/       host capabilities exposed to guests as wasm imports
//	├── engine/          wazero integration and the guest ABI
//	├── runtime/         Config, Runtime and Instance lifecycle
//	├── config/          settings files and logger construction
//	├── errors/          structured errors
//	└── cmd/polyrun/     command line runner
//
// # Guest ABI
//
// A guest exports its memory, malloc(size i32) -> i32 and
// run(ptr i32, len i32) -> i64. The host writes the encoded context with
// malloc and calls run; run returns the encoded result as ptr<<32 | len.
// A result starting with the Error tag is a failure reported by the guest.
// An optional _initialize export runs once per instance. When the guest
// exports free(ptr i32), the host frees the input buffer and every extension
// result buffer once run returns; the result buffer stays with the guest.
//
// Extensions appear as import modules named after the extension. Every
// method is importable as Interface_Method(handle i64, ptr i32, len i32)
// -> i64; guests that prefer string selectors import invoke instead, and
// release capabilities with drop.
//
// # Running a function
//
//	ext, err := extension.New[greeter.Interface]("greeter", host)
//	cfg := runtime.NewConfig(func() *Context { return &Context{} }).
//		WithFunction(fn).
//		WithExtension(ext)
//	rt, err := runtime.New(ctx, cfg)
//	defer rt.Close(ctx)
//	err = rt.Run(ctx, &Context{Name: "world"})
//
// # Thread Safety
//
// Runtime is safe for concurrent use; instances created from it share only
// the compiled module and the artifact. An Instance runs one call at a time
// and rejects a Run while another is in progress. Bridges may be re-entered
// from host methods.
//
// # Errors
//
// Every failure is an *errors.Error carrying the phase and kind it came
// from. Category sentinels match by phase:
//
//	if errors.Is(err, errors.ErrGuestFault) { ... }
package polyglotruntime
