// Package value defines the data model exchanged across the bridge.
//
// A Value is a tagged union over absent, boolean, exact-integer, float,
// arbitrary-precision integer, text, instant, object, function and pending
// references. A Mapping declares, per parameter or result, which representation
// a managed-side Kind takes on the host side:
//
//	value.As(value.KindInt64, value.TagBigInt) // s64 carried as a host bigint
//	value.M(value.KindString)                  // single legal representation
//	value.PendingOf(value.Text)                // promise<string>
//
// Wide integers (s64, u64) have two legal representations and must declare one;
// Validate rejects the omission at declaration time.
package value
