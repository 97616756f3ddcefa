// Package codec converts values between the managed side and a goja host
// runtime under declared mappings.
//
// Scalars convert by value. Wide integers (s64, u64) travel as host numbers
// only inside the exactly representable range and as bigint otherwise when so
// declared. Managed objects cross as host wrappers backed by the managed handle
// table; host objects cross as proxies backed by the host side's table.
// A wrapper or proxy returning to its home side converts back to the original
// object, never to a new wrapper.
package codec
