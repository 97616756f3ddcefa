package handle

import (
	"fmt"
	"sync/atomic"
)

// Side identifies one execution environment participating in the bridge.
type Side uint32

// Managed is the managed (Go) side. Host sides are allocated with NewSide.
const Managed Side = 1

var lastSide atomic.Uint32

// NewSide allocates a fresh host side identity.
func NewSide() Side {
	return Side(lastSide.Add(1) + 1)
}

func (s Side) String() string {
	switch s {
	case 0:
		return "none"
	case Managed:
		return "managed"
	}
	return fmt.Sprintf("host#%d", uint32(s)-1)
}

// Handle is an opaque reference to an object owned by Home and issued to Foreign.
// The zero Handle is reserved and always invalid.
type Handle struct {
	Home    Side
	Foreign Side
	Index   uint32
	Gen     uint32
}

// IsZero reports whether h is the reserved invalid handle.
func (h Handle) IsZero() bool { return h.Index == 0 }

func (h Handle) String() string {
	if h.IsZero() {
		return "handle(nil)"
	}
	return fmt.Sprintf("%s>%s:%d.%d", h.Home, h.Foreign, h.Index, h.Gen)
}

// EventType enumerates handle lifecycle notifications.
type EventType uint8

const (
	EventExposed EventType = iota
	EventReleased
	EventCollected
	EventDeferred
)

func (e EventType) String() string {
	switch e {
	case EventExposed:
		return "exposed"
	case EventReleased:
		return "released"
	case EventCollected:
		return "collected"
	case EventDeferred:
		return "deferred"
	}
	return "unknown"
}

// Event represents a handle lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
// Observers run outside the table lock and may call back into the table.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

// Dropper is optionally implemented by home objects that need cleanup
// when their last handle is released.
type Dropper interface {
	Drop()
}

// Releaser is anything with a deterministic release.
type Releaser interface {
	Release() error
}
