package handle

import (
	"reflect"
	"runtime"
	"sync"
	"weak"

	"github.com/wippyai/js-bridge/errors"
)

type subscription struct {
	o  Observer
	id uint64
}

type idKey struct {
	obj     any
	foreign Side
}

// Table is the handle table of one home side. It maps handles issued to
// foreign sides back to home objects.
//
// The mutex is held for the duration of a single operation and never while
// observers, droppers or cleanups run, so a callback delivered re-entrantly on
// the same logical thread can use the table freely.
type Table struct {
	ids       map[idKey]Handle
	proxies   map[Handle]weak.Pointer[Proxy]
	observers []subscription
	notes     []Handle
	nextObs   uint64
	slab      slab
	home      Side
	mu        sync.Mutex
	notesMu   sync.Mutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewTable creates a table for objects owned by home.
func NewTable(home Side) *Table {
	return &Table{
		home:    home,
		slab:    newSlab(),
		ids:     make(map[idKey]Handle),
		proxies: make(map[Handle]weak.Pointer[Proxy]),
	}
}

// Home returns the side owning every object in this table.
func (t *Table) Home() Side { return t.home }

// identityKey returns a map key for objects with pointer identity.
// Value types and non-comparable references get a fresh handle per exposure.
func identityKey(obj any, foreign Side) (idKey, bool) {
	switch reflect.TypeOf(obj).Kind() {
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return idKey{obj: obj, foreign: foreign}, true
	}
	return idKey{}, false
}

// Expose issues a handle for obj to the foreign side. Exposing the same live
// instance to the same side again returns the identical handle. The handle
// lives until Release, whatever happens to proxies of it.
//
// A *Proxy is never wrapped: toward its home or holder side it short-circuits
// to the handle it already wraps, toward a third side it fails
// DoubleProxyNotSupported.
func (t *Table) Expose(obj any, foreign Side) (Handle, error) {
	return t.expose(obj, foreign, true)
}

// ExposeTransient is Expose for implicit crossings: the handle is also
// released once every proxy or watched holder of it has been collected,
// unless some caller exposed the same object with Expose.
func (t *Table) ExposeTransient(obj any, foreign Side) (Handle, error) {
	return t.expose(obj, foreign, false)
}

func (t *Table) expose(obj any, foreign Side, keep bool) (Handle, error) {
	if p, ok := obj.(*Proxy); ok {
		switch foreign {
		case p.Home(), p.Holder():
			return p.h, nil
		}
		return Handle{}, errors.DoubleProxy(p.h, foreign)
	}
	if obj == nil {
		return Handle{}, errors.InvalidInput(errors.PhaseHandle, "cannot expose nil")
	}
	if foreign == t.home || foreign == 0 {
		return Handle{}, errors.WrongSide(Handle{Home: t.home}, foreign)
	}

	key, keyed := identityKey(obj, foreign)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Handle{}, errors.Closed(errors.PhaseHandle, "handle table")
	}
	if keyed {
		if h, ok := t.ids[key]; ok {
			if e := t.slab.lookup(h.Index, h.Gen); e != nil && !e.releasing {
				e.kept = e.kept || keep
				t.mu.Unlock()
				return h, nil
			}
		}
	}

	var stored any
	if keyed {
		stored = key
	}
	idx, gen := t.slab.alloc(obj, foreign, stored)
	t.slab.entries[idx-1].kept = keep
	h := Handle{Home: t.home, Foreign: foreign, Index: idx, Gen: gen}
	if keyed {
		t.ids[key] = h
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventExposed, Handle: h, Value: obj})
	return h, nil
}

// Find returns the live handle already issued for obj to foreign, if any.
func (t *Table) Find(obj any, foreign Side) (Handle, bool) {
	if obj == nil {
		return Handle{}, false
	}
	key, keyed := identityKey(obj, foreign)
	if !keyed {
		return Handle{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.ids[key]
	if !ok || t.slab.lookup(h.Index, h.Gen) == nil {
		return Handle{}, false
	}
	return h, true
}

// Resolve returns the home object for a handle presented by side.
func (t *Table) Resolve(h Handle, side Side) (any, error) {
	if h.Home != t.home || side != h.Foreign {
		return nil, errors.WrongSide(h, side)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.slab.lookup(h.Index, h.Gen)
	if e == nil || e.releasing {
		return nil, errors.StaleHandle(h)
	}
	if e.foreign != side {
		return nil, errors.WrongSide(h, side)
	}
	return e.value, nil
}

// Lookup returns the home object for a handle without a side check.
// It is the home side's own access path.
func (t *Table) Lookup(h Handle) (any, error) {
	if h.Home != t.home {
		return nil, errors.WrongSide(h, t.home)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.slab.lookup(h.Index, h.Gen)
	if e == nil || e.releasing {
		return nil, errors.StaleHandle(h)
	}
	return e.value, nil
}

// Release retires a handle. Resolving it afterwards fails StaleHandle.
// Releasing a handle pinned by an in-flight call is deferred to the last Unpin.
func (t *Table) Release(h Handle) error {
	if h.Home != t.home {
		return errors.WrongSide(h, t.home)
	}

	t.mu.Lock()
	e := t.slab.lookup(h.Index, h.Gen)
	if e == nil || e.releasing {
		t.mu.Unlock()
		return errors.StaleHandle(h)
	}
	if e.pins > 0 {
		e.releasing = true
		t.mu.Unlock()
		t.notify(Event{Type: EventDeferred, Handle: h})
		return nil
	}
	value := t.freeLocked(h)
	t.mu.Unlock()

	t.finish(EventReleased, h, value)
	return nil
}

func (t *Table) freeLocked(h Handle) any {
	value, key := t.slab.free(h.Index)
	if k, ok := key.(idKey); ok {
		if cur, ok := t.ids[k]; ok && cur == h {
			delete(t.ids, k)
		}
	}
	delete(t.proxies, h)
	return value
}

func (t *Table) finish(typ EventType, h Handle, value any) {
	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: typ, Handle: h, Value: value})
}

// Pin marks a handle as borrowed by an in-flight call.
func (t *Table) Pin(h Handle) error {
	if h.Home != t.home {
		return errors.WrongSide(h, t.home)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.slab.lookup(h.Index, h.Gen)
	if e == nil || e.releasing {
		return errors.StaleHandle(h)
	}
	e.pins++
	return nil
}

// Unpin returns a borrow taken with Pin, completing any deferred release.
func (t *Table) Unpin(h Handle) error {
	if h.Home != t.home {
		return errors.WrongSide(h, t.home)
	}

	t.mu.Lock()
	e := t.slab.lookup(h.Index, h.Gen)
	if e == nil || e.pins == 0 {
		t.mu.Unlock()
		return errors.StaleHandle(h)
	}
	e.pins--
	if e.pins > 0 || !e.releasing {
		t.mu.Unlock()
		return nil
	}
	value := t.freeLocked(h)
	t.mu.Unlock()

	t.finish(EventReleased, h, value)
	return nil
}

// Proxy materializes the foreign-side proxy for h. While a proxy for a handle
// is alive the same proxy is returned. Collection of the proxy queues a
// notification applied by Sweep.
func (t *Table) Proxy(h Handle) (*Proxy, error) {
	if h.Home != t.home {
		return nil, errors.WrongSide(h, t.home)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.slab.lookup(h.Index, h.Gen)
	if e == nil || e.releasing {
		return nil, errors.StaleHandle(h)
	}
	if wp, ok := t.proxies[h]; ok {
		if p := wp.Value(); p != nil {
			return p, nil
		}
	}

	p := &Proxy{h: h, table: t}
	t.proxies[h] = weak.Make(p)
	e.holders++
	runtime.AddCleanup(p, t.noteCollected, h)
	return p, nil
}

// Watch ties the lifetime of h to holder, a foreign-side object representing
// it. Once every watched holder of h has been collected and Sweep runs, the
// handle is released. Collection is observed best-effort with no bound on delay.
func Watch[T any](t *Table, h Handle, holder *T) error {
	if h.Home != t.home {
		return errors.WrongSide(h, t.home)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.slab.lookup(h.Index, h.Gen)
	if e == nil || e.releasing {
		return errors.StaleHandle(h)
	}
	e.holders++
	runtime.AddCleanup(holder, t.noteCollected, h)
	return nil
}

func (t *Table) noteCollected(h Handle) {
	t.notesMu.Lock()
	t.notes = append(t.notes, h)
	t.notesMu.Unlock()
}

// Pending returns the number of collection notifications awaiting Sweep.
func (t *Table) Pending() int {
	t.notesMu.Lock()
	defer t.notesMu.Unlock()
	return len(t.notes)
}

// Sweep applies queued collection notifications and returns the number of
// handles released. Notifications for handles already released, or whose
// slot has since been reused, are discarded.
func (t *Table) Sweep() int {
	t.notesMu.Lock()
	notes := t.notes
	t.notes = nil
	t.notesMu.Unlock()

	if len(notes) == 0 {
		return 0
	}

	type freed struct {
		value any
		h     Handle
	}
	var released []freed

	t.mu.Lock()
	for _, h := range notes {
		e := t.slab.lookup(h.Index, h.Gen)
		if e == nil {
			continue
		}
		if e.holders > 0 {
			e.holders--
		}
		if e.holders > 0 || e.kept {
			continue
		}
		if e.pins > 0 {
			e.releasing = true
			continue
		}
		released = append(released, freed{value: t.freeLocked(h), h: h})
	}
	t.mu.Unlock()

	for _, f := range released {
		t.finish(EventCollected, f.h, f.value)
	}
	return len(released)
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slab.live
}

// Each iterates over live handles.
func (t *Table) Each(fn func(Handle, any) bool) {
	type item struct {
		value any
		h     Handle
	}
	var items []item

	t.mu.Lock()
	t.slab.each(func(idx uint32, e *entry) bool {
		if !e.releasing {
			items = append(items, item{value: e.value, h: Handle{Home: t.home, Foreign: e.foreign, Index: idx, Gen: e.gen}})
		}
		return true
	})
	t.mu.Unlock()

	for _, it := range items {
		if !fn(it.h, it.value) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events and returns a function
// that removes it.
func (t *Table) Subscribe(o Observer) (cancel func()) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.nextObs++
	id := t.nextObs
	t.observers = append(t.observers, subscription{id: id, o: o})
	return func() { t.unsubscribe(id) }
}

func (t *Table) unsubscribe(id uint64) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, s := range t.observers {
		if s.id == id {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Close releases every live handle and stops accepting exposures.
func (t *Table) Close() error {
	type freed struct {
		value any
		h     Handle
	}
	var released []freed

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.slab.each(func(idx uint32, e *entry) bool {
		h := Handle{Home: t.home, Foreign: e.foreign, Index: idx, Gen: e.gen}
		released = append(released, freed{value: t.freeLocked(h), h: h})
		return true
	})
	t.mu.Unlock()

	for _, f := range released {
		t.finish(EventReleased, f.h, f.value)
	}
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	observers := make([]subscription, len(t.observers))
	copy(observers, t.observers)
	t.obsMu.RUnlock()

	for _, s := range observers {
		s.o.OnHandleEvent(e)
	}
}
