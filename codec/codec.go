package codec

import (
	"sync"
	"weak"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/loop"
	"github.com/wippyai/js-bridge/value"
)

// Foreign is implemented by managed values that already own a stable host
// representation, such as registered callbacks.
type Foreign interface {
	Foreign() goja.Value
}

// PendingBridge converts pending operations. It is supplied by the async
// layer, which depends on the codec for settled values.
type PendingBridge interface {
	PendingToForeign(ref any, elem value.Mapping) (goja.Value, error)
	PendingToHome(fv goja.Value, elem value.Mapping) (value.Value, error)
}

// Codec converts between managed Values and host values following declared
// Mappings. Except for Conform, its methods must run on the loop.
type Codec struct {
	loop     *loop.Loop
	vm       *goja.Runtime
	managed  *handle.Table
	host     *handle.Table
	pending  PendingBridge
	log      *zap.Logger
	byHandle map[handle.Handle]weak.Pointer[goja.Object]
	byObject map[weak.Pointer[goja.Object]]handle.Handle
	funcs    map[handle.Handle]weak.Pointer[HostFunc]
	cancel   func()
	mu       sync.Mutex
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the codec logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.log = l
		}
	}
}

// WithPending installs the pending-operation converter.
func WithPending(p PendingBridge) Option {
	return func(c *Codec) { c.pending = p }
}

// New creates a codec for the loop's runtime. managed holds objects owned by
// the managed side; host holds objects owned by the loop's host side.
func New(l *loop.Loop, managed, host *handle.Table, opts ...Option) *Codec {
	c := &Codec{
		loop:     l,
		vm:       l.Runtime(),
		managed:  managed,
		host:     host,
		log:      zap.NewNop(),
		byHandle: make(map[handle.Handle]weak.Pointer[goja.Object]),
		byObject: make(map[weak.Pointer[goja.Object]]handle.Handle),
		funcs:    make(map[handle.Handle]weak.Pointer[HostFunc]),
	}
	for _, opt := range opts {
		opt(c)
	}
	stopManaged := managed.Subscribe(handle.ObserverFunc(c.forget))
	stopHost := host.Subscribe(handle.ObserverFunc(c.forgetFunc))
	c.cancel = func() {
		stopManaged()
		stopHost()
	}
	return c
}

// SetPending installs the pending-operation converter after construction.
func (c *Codec) SetPending(p PendingBridge) { c.pending = p }

// Side returns the host side this codec converts for.
func (c *Codec) Side() handle.Side { return c.host.Home() }

// Managed returns the managed-side handle table.
func (c *Codec) Managed() *handle.Table { return c.managed }

// Host returns the host-side handle table.
func (c *Codec) Host() *handle.Table { return c.host }

// Loop returns the loop the codec runs on.
func (c *Codec) Loop() *loop.Loop { return c.loop }

// Close detaches the codec from the managed table.
func (c *Codec) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// forget drops wrapper bookkeeping for handles that are gone.
func (c *Codec) forget(e handle.Event) {
	if e.Type != handle.EventReleased && e.Type != handle.EventCollected {
		return
	}
	c.mu.Lock()
	if wp, ok := c.byHandle[e.Handle]; ok {
		delete(c.byHandle, e.Handle)
		if c.byObject[wp] == e.Handle {
			delete(c.byObject, wp)
		}
	}
	c.mu.Unlock()
}

func (c *Codec) forgetFunc(e handle.Event) {
	if e.Type != handle.EventReleased && e.Type != handle.EventCollected {
		return
	}
	c.mu.Lock()
	delete(c.funcs, e.Handle)
	c.mu.Unlock()
}

func (c *Codec) cachedWrapper(h handle.Handle) *goja.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wp, ok := c.byHandle[h]; ok {
		return wp.Value()
	}
	return nil
}

func (c *Codec) remember(h handle.Handle, obj *goja.Object) {
	wp := weak.Make(obj)
	c.mu.Lock()
	if old, ok := c.byHandle[h]; ok {
		delete(c.byObject, old)
	}
	c.byHandle[h] = wp
	c.byObject[wp] = h
	c.mu.Unlock()
}

// managedOrigin returns the managed object a host wrapper stands for.
func (c *Codec) managedOrigin(obj *goja.Object) (any, bool) {
	c.mu.Lock()
	h, ok := c.byObject[weak.Make(obj)]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	v, err := c.managed.Lookup(h)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Wrappers returns the number of live host wrappers of managed objects.
func (c *Codec) Wrappers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byHandle)
}

// Conform checks that v fits m on the managed side and normalizes it:
// integers are range checked, floats widened, u64 values past the int64
// range carried as BigInt. It never crosses the boundary.
func Conform(v value.Value, m value.Mapping) (value.Value, error) {
	tag := v.Tag()

	switch m.Kind {
	case value.KindVoid:
		return value.Absent(), nil
	case value.KindAny:
		return v, nil
	}

	if tag == value.TagAbsent {
		if m.Nullable() {
			return v, nil
		}
		return value.Value{}, mismatch(errors.PhaseEncode, m, tag.String())
	}

	switch m.Kind {
	case value.KindBool:
		if tag == value.TagBool {
			return v, nil
		}
	case value.KindInt8, value.KindUint8, value.KindInt16, value.KindUint16,
		value.KindInt32, value.KindUint32, value.KindInt64, value.KindUint64:
		return conformInt(v, m)
	case value.KindFloat32:
		if tag == value.TagFloat || tag == value.TagInt {
			return value.Float(float64(float32(v.AsFloat()))), nil
		}
	case value.KindFloat64:
		if tag == value.TagFloat || tag == value.TagInt {
			return value.Float(v.AsFloat()), nil
		}
	case value.KindBigInt:
		if tag == value.TagBigInt || tag == value.TagInt {
			return value.BigInt(v.AsBigInt()), nil
		}
	case value.KindString:
		if tag == value.TagString {
			return v, nil
		}
	case value.KindInstant:
		if tag == value.TagInstant {
			return v, nil
		}
	case value.KindObject:
		if tag == value.TagObject {
			return v, nil
		}
	case value.KindFunction:
		if tag == value.TagFunction {
			return v, nil
		}
	case value.KindPending:
		if tag == value.TagPending {
			return v, nil
		}
	}
	return value.Value{}, mismatch(errors.PhaseEncode, m, tag.String())
}

func conformInt(v value.Value, m value.Mapping) (value.Value, error) {
	lo, hi, _ := m.Kind.IntRange()

	switch v.Tag() {
	case value.TagInt:
		i := v.AsInt()
		if i < lo || i > hi {
			return value.Value{}, errors.RangeOverflow(errors.PhaseEncode, nil, i, m.Kind.String())
		}
		return v, nil
	case value.TagBigInt:
		b := v.AsBigInt()
		if m.Kind == value.KindUint64 {
			if b.Sign() >= 0 && b.BitLen() <= 64 {
				return value.Uint(b.Uint64()), nil
			}
		} else if b.IsInt64() && b.Int64() >= lo && b.Int64() <= hi {
			return value.Int(b.Int64()), nil
		}
		return value.Value{}, errors.RangeOverflow(errors.PhaseEncode, nil, b, m.Kind.String())
	}
	return value.Value{}, mismatch(errors.PhaseEncode, m, v.Tag().String())
}

func mismatch(phase errors.Phase, m value.Mapping, got string) *errors.Error {
	return errors.New(phase, errors.KindUnsupportedMapping).
		HomeType(m.String()).
		ForeignType(got).
		Detail("value does not fit the declared mapping").
		Build()
}
