package handle

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/js-bridge/errors"
)

type testObserver struct {
	events []Event
	mu     sync.Mutex
}

func (o *testObserver) OnHandleEvent(e Event) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func (o *testObserver) types() []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]EventType, len(o.events))
	for i, e := range o.events {
		out[i] = e.Type
	}
	return out
}

type object struct{ name string }

func TestSide_String(t *testing.T) {
	a, b := NewSide(), NewSide()
	if a == b || a == Managed || b == Managed {
		t.Fatalf("sides must be distinct: %v %v", a, b)
	}
	if Managed.String() != "managed" {
		t.Errorf("Managed.String() = %q", Managed.String())
	}
}

func TestTable_ExposeResolveRelease(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)
	obj := &object{name: "a"}

	h, err := table.Expose(obj, host)
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}
	if h.IsZero() || h.Home != Managed || h.Foreign != host {
		t.Fatalf("unexpected handle %v", h)
	}

	got, err := table.Resolve(h, host)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != obj {
		t.Fatalf("Resolve returned %v, want %v", got, obj)
	}

	if err := table.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := table.Resolve(h, host); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Fatalf("Resolve after Release = %v, want stale handle", err)
	}
	if err := table.Release(h); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Fatalf("double Release = %v, want stale handle", err)
	}
	if table.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", table.Len())
	}
}

func TestTable_ExposeIdempotent(t *testing.T) {
	host := NewSide()
	other := NewSide()
	table := NewTable(Managed)
	obj := &object{name: "a"}

	h1, _ := table.Expose(obj, host)
	h2, _ := table.Expose(obj, host)
	if h1 != h2 {
		t.Fatalf("repeated Expose returned %v and %v", h1, h2)
	}

	h3, _ := table.Expose(obj, other)
	if h3 == h1 {
		t.Fatal("exposure to a different side must get its own handle")
	}

	h4, _ := table.Expose(&object{name: "a"}, host)
	if h4 == h1 {
		t.Fatal("distinct instances must get distinct handles")
	}

	if table.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", table.Len())
	}
}

func TestTable_NonComparableGetsFreshHandles(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)
	m := map[string]int{"a": 1}

	h1, _ := table.Expose(m, host)
	h2, _ := table.Expose(m, host)
	if h1 == h2 {
		t.Fatal("maps have no identity key and must not be deduplicated")
	}
}

func TestTable_GenerationInvalidatesReusedSlot(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)

	h1, _ := table.Expose(&object{name: "a"}, host)
	_ = table.Release(h1)
	h2, _ := table.Expose(&object{name: "b"}, host)

	if h2.Index != h1.Index {
		t.Fatalf("expected slot reuse, got %d and %d", h1.Index, h2.Index)
	}
	if h2.Gen == h1.Gen {
		t.Fatal("reused slot must bump generation")
	}
	if _, err := table.Resolve(h1, host); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Fatalf("old handle resolved: %v", err)
	}
}

func TestTable_WrongSide(t *testing.T) {
	host := NewSide()
	other := NewSide()
	table := NewTable(Managed)

	h, _ := table.Expose(&object{}, host)

	if _, err := table.Resolve(h, other); !errors.IsKind(err, errors.KindWrongSide) {
		t.Fatalf("Resolve from other side = %v, want wrong side", err)
	}

	foreignTable := NewTable(host)
	if _, err := foreignTable.Resolve(h, host); !errors.IsKind(err, errors.KindWrongSide) {
		t.Fatalf("Resolve in other table = %v, want wrong side", err)
	}

	if _, err := table.Expose(&object{}, Managed); !errors.IsKind(err, errors.KindWrongSide) {
		t.Fatalf("Expose to own side = %v, want wrong side", err)
	}

	// a live slot presented with a rewritten holder side
	forged := h
	forged.Foreign = other
	if _, err := table.Resolve(forged, other); !errors.IsKind(err, errors.KindWrongSide) {
		t.Fatalf("Resolve with rewritten side = %v, want wrong side", err)
	}
	if _, err := table.Resolve(h, host); err != nil {
		t.Fatalf("original handle must still resolve: %v", err)
	}
}

func TestTable_ProxyRules(t *testing.T) {
	host := NewSide()
	third := NewSide()
	managed := NewTable(Managed)
	obj := &object{name: "a"}

	v, err := managed.Marshal(obj, host)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	p, ok := v.(*Proxy)
	if !ok {
		t.Fatalf("Marshal returned %T, want *Proxy", v)
	}

	again, _ := managed.Marshal(obj, host)
	if again != p {
		t.Fatal("live proxy must be reused")
	}

	back, err := p.MarshalTo(Managed)
	if err != nil {
		t.Fatalf("MarshalTo(home): %v", err)
	}
	if back != obj {
		t.Fatalf("MarshalTo(home) = %v, want original object", back)
	}

	same, err := p.MarshalTo(host)
	if err != nil || same != p {
		t.Fatalf("MarshalTo(holder) = %v, %v", same, err)
	}

	if _, err := p.MarshalTo(third); !errors.IsKind(err, errors.KindDoubleProxy) {
		t.Fatalf("MarshalTo(third) = %v, want double proxy", err)
	}

	hostTable := NewTable(host)
	if _, err := hostTable.Expose(p, third); !errors.IsKind(err, errors.KindDoubleProxy) {
		t.Fatalf("Expose(proxy, third) = %v, want double proxy", err)
	}
	h, err := hostTable.Expose(p, Managed)
	if err != nil || h != p.Handle() {
		t.Fatalf("Expose(proxy, home) = %v, %v; want original handle", h, err)
	}
	h, err = managed.Expose(p, host)
	if err != nil || h != p.Handle() {
		t.Fatalf("Expose(proxy, holder) = %v, %v; want original handle", h, err)
	}
	if hostTable.Len() != 0 || managed.Len() != 1 {
		t.Fatalf("no new handle may be created: host=%d managed=%d", hostTable.Len(), managed.Len())
	}
}

func TestTable_PinDefersRelease(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)
	obs := &testObserver{}
	table.Subscribe(obs)

	h, _ := table.Expose(&object{}, host)
	if err := table.Pin(h); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if err := table.Release(h); err != nil {
		t.Fatalf("Release while pinned: %v", err)
	}
	if table.Len() != 1 {
		t.Fatal("pinned handle must stay allocated")
	}
	if _, err := table.Resolve(h, host); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Fatal("handle pending release must not resolve")
	}
	if err := table.Unpin(h); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if table.Len() != 0 {
		t.Fatal("final Unpin must complete the release")
	}

	want := []EventType{EventExposed, EventDeferred, EventReleased}
	got := obs.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestTable_ObserverReentrancy(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)

	var nested Handle
	entered := false
	table.Subscribe(ObserverFunc(func(e Event) {
		if e.Type == EventExposed && !entered {
			entered = true
			nested, _ = table.Expose(&object{name: "nested"}, host)
		}
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = table.Expose(&object{name: "outer"}, host)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("re-entrant Expose from an observer deadlocked")
	}
	if nested.IsZero() || table.Len() != 2 {
		t.Fatalf("nested expose failed: %v len=%d", nested, table.Len())
	}
}

func TestTable_Unsubscribe(t *testing.T) {
	table := NewTable(Managed)
	obs := &testObserver{}
	cancel := table.Subscribe(obs)
	cancel()

	_, _ = table.Expose(&object{}, NewSide())
	if len(obs.types()) != 0 {
		t.Fatal("cancelled observer received events")
	}
}

type dropped struct{ n *int }

func (d *dropped) Drop() { *d.n++ }

func TestTable_CloseDrops(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)
	n := 0

	_, _ = table.Expose(&dropped{n: &n}, host)
	_, _ = table.Expose(&dropped{n: &n}, host)

	if err := table.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n != 2 {
		t.Fatalf("dropped %d values, want 2", n)
	}
	if _, err := table.Expose(&object{}, host); !errors.IsKind(err, errors.KindClosed) {
		t.Fatalf("Expose after Close = %v", err)
	}
}

func TestTable_CollectedProxyIsSwept(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)

	h := func() Handle {
		v, err := table.Marshal(&object{name: "short-lived"}, host)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return v.(*Proxy).Handle()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for table.Pending() == 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if table.Pending() == 0 {
		t.Skip("collector did not report the proxy in time; notifications are best-effort")
	}

	if n := table.Sweep(); n != 1 {
		t.Fatalf("Sweep released %d, want 1", n)
	}
	if _, err := table.Lookup(h); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Fatalf("swept handle still live: %v", err)
	}
}

func TestTable_SweepIgnoresReusedSlot(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)

	h, _ := table.Expose(&object{}, host)
	table.noteCollected(h)
	_ = table.Release(h)
	h2, _ := table.Expose(&object{}, host)

	if n := table.Sweep(); n != 0 {
		t.Fatalf("stale notification released %d handles", n)
	}
	if _, err := table.Lookup(h2); err != nil {
		t.Fatalf("reused slot was released: %v", err)
	}
}

func TestTable_SweepKeepsExplicitExposure(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)
	obj := &object{}

	h, _ := table.Expose(obj, host)
	th, _ := table.ExposeTransient(obj, host)
	if th != h {
		t.Fatal("transient exposure must share the identity of an explicit one")
	}
	if err := Watch(table, h, &object{}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	table.noteCollected(h)

	if n := table.Sweep(); n != 0 {
		t.Fatalf("Sweep released an explicitly exposed handle")
	}
	if _, err := table.Resolve(h, host); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestTable_SweepReleasesTransient(t *testing.T) {
	host := NewSide()
	table := NewTable(Managed)
	obs := &testObserver{}
	table.Subscribe(obs)

	h, _ := table.ExposeTransient(&object{}, host)
	if err := Watch(table, h, &object{}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	table.noteCollected(h)

	if n := table.Sweep(); n != 1 {
		t.Fatalf("Sweep released %d, want 1", n)
	}
	got := obs.types()
	if got[len(got)-1] != EventCollected {
		t.Fatalf("last event = %v, want collected", got[len(got)-1])
	}
}
