// Package dispatch declares cross-boundary signatures and invokes them.
//
// A Signature names a callable on the host or managed side together with the
// mapping of every parameter and of the result. Declaration validates the
// mappings, so an ambiguous wide integer is rejected before any call is made.
package dispatch
