// Package schema describes functions and the records they exchange.
//
// A Signature lists the enums and models of a function and names the context
// model passed into every run. Signatures are written in YAML, validated with
// struct tags plus semantic checks, hashed over their polyglot encoding and
// rendered as JSON Schema for tooling.
//
// A Function is the V1Beta artifact: metadata, signature, the extensions the
// guest imports and the compiled module. DecodeFunction verifies version and
// hashes and either returns a complete artifact or an error.
//
// Record is a polyglot.Model built from a ModelDef at runtime, used by hosts
// that have no generated types for a signature:
//
//	ctx, _ := fn.Signature.NewContext()
//	_ = ctx.Set("Message", "hello")
//	_ = ctx.Set("Level", "High")
//	buf := polyglot.Marshal(ctx)
package schema
