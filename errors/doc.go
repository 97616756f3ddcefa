// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: call path, home/foreign type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEncode, errors.KindUnsupportedMapping).
//		Path("greeter", "greet", "arg0").
//		HomeType("s64").
//		ForeignType("string").
//		Detail("declared mapping does not accept this value").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.RangeOverflow(errors.PhaseEncode, path, v, "number")
//	err := errors.ForeignFault(path, "TypeError: x is not a function", cause)
//
// Every cross-boundary failure is distinguishable by kind. IsUsage separates
// "my usage was wrong" (stale handle, wrong side, proxy re-wrapping) from
// IsForeignFailure, "the other side legitimately failed" (foreign fault,
// rejected operation):
//
//	if errors.IsForeignFailure(err) {
//		// recoverable, handle around the individual call
//	}
//
// All errors implement the standard error interface and support errors.Is/As.
// A phase-less target such as ErrStaleHandle matches the kind in any phase.
package errors
