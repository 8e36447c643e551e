// Package errors provides structured error types for the polyglot runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the field path, the expected and observed kind, the
// offending value and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
//		Path("context", "stringField").
//		Expected("string").
//		Actual("int32").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Truncated(offset, 8, 3)
//	err := errors.UnknownHandle("local-example", 7)
//
// The four error categories are matched by phase sentinels:
//
//	errors.Is(err, errors.ErrFormat)     // malformed wire bytes
//	errors.Is(err, errors.ErrSchema)     // artifact or definition problems
//	errors.Is(err, errors.ErrBridge)     // guest to host call failures
//	errors.Is(err, errors.ErrGuestFault) // trap, guest error or resource limit
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
