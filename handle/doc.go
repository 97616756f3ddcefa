// Package handle implements the cross-boundary handle table.
//
// Each side of the bridge owns one Table holding the objects it has exposed to
// other sides. A Handle names a slot in the home side's table together with the
// foreign side it was issued to and a generation counter, so a handle outlives
// neither its object nor its slot:
//
//	managed := handle.NewTable(handle.Managed)
//
//	h, _ := managed.Expose(obj, hostSide) // same obj, same side: same handle
//	v, _ := managed.Resolve(h, hostSide)  // v == obj
//	_ = managed.Release(h)
//	_, err := managed.Resolve(h, hostSide) // StaleHandle
//
// # Proxies
//
// A Proxy is the foreign side's stand-in for one handle. Marshalling a proxy
// back toward its home side yields the original object; marshalling it to a
// third side fails with DoubleProxyNotSupported. Proxies are never wrapped.
//
// # Lifetimes
//
// Release is the disposal primitive. Scope gathers handles and proxies and
// releases them on every exit path:
//
//	s := handle.NewScope()
//	defer s.Close()
//
// Collection of a proxy, or of a holder registered with Watch, queues a
// notification that Sweep applies later. The notification is best-effort:
// collection may be observed late or never, so memory held by the other side
// cannot be assumed reclaimed within bounded time. Callers that care about
// pressure on both heaps release explicitly.
//
// # Re-entrancy
//
// Table operations lock only for their own duration. Observers and Dropper
// hooks run after the lock is dropped, and a handle pinned by an in-flight
// call defers its release to the final Unpin.
package handle
