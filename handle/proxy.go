package handle

import (
	"github.com/wippyai/js-bridge/errors"
)

// Proxy is the foreign-side stand-in for exactly one Handle.
// A Proxy is never itself wrapped into another Proxy.
type Proxy struct {
	table *Table
	h     Handle
}

// Handle returns the wrapped handle.
func (p *Proxy) Handle() Handle { return p.h }

// Home returns the side owning the referenced object.
func (p *Proxy) Home() Side { return p.h.Home }

// Holder returns the side the proxy was issued to.
func (p *Proxy) Holder() Side { return p.h.Foreign }

// Unwrap returns the referenced home object.
func (p *Proxy) Unwrap() (any, error) {
	return p.table.Resolve(p.h, p.h.Foreign)
}

// Live reports whether the referenced object can still be resolved.
func (p *Proxy) Live() bool {
	_, err := p.Unwrap()
	return err == nil
}

// Release disposes the proxy's handle deterministically.
func (p *Proxy) Release() error {
	return p.table.Release(p.h)
}

// Pin borrows the handle for the duration of a call.
func (p *Proxy) Pin() error { return p.table.Pin(p.h) }

// Unpin returns a borrow taken with Pin.
func (p *Proxy) Unpin() error { return p.table.Unpin(p.h) }

// MarshalTo returns the representation of the proxy on side to: the original
// object on its home side, the proxy itself on its holder side.
// Any other side fails DoubleProxyNotSupported.
func (p *Proxy) MarshalTo(to Side) (any, error) {
	switch to {
	case p.h.Home:
		return p.Unwrap()
	case p.h.Foreign:
		if !p.Live() {
			return nil, errors.StaleHandle(p.h)
		}
		return p, nil
	}
	return nil, errors.DoubleProxy(p.h, to)
}

func (p *Proxy) String() string {
	return "proxy(" + p.h.String() + ")"
}

// Marshal prepares obj to cross to side to. Home objects of t become proxies
// held by to; proxies follow MarshalTo; objects staying on the home side pass
// through unchanged.
func (t *Table) Marshal(obj any, to Side) (any, error) {
	if p, ok := obj.(*Proxy); ok {
		return p.MarshalTo(to)
	}
	if to == t.home {
		return obj, nil
	}
	h, err := t.ExposeTransient(obj, to)
	if err != nil {
		return nil, err
	}
	return t.Proxy(h)
}
