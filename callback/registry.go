package callback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-bridge/codec"
	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/loop"
	"github.com/wippyai/js-bridge/value"
)

// Entry is one registration: a managed callable bound to a single host
// function object. The host function is created once and reused for every
// crossing, so a host "remove" sees the exact function its "add" saw.
type Entry struct {
	fn      value.Invoker
	typed   codec.Typed
	js      *goja.Object
	params  []value.Mapping
	result  value.Mapping
	h       handle.Handle
	calls   atomic.Int64
	retired atomic.Bool
}

// Handle returns the identity issued at registration.
func (e *Entry) Handle() handle.Handle { return e.h }

// Foreign implements codec.Foreign.
func (e *Entry) Foreign() goja.Value { return e.js }

// Invoke runs the callable. After Unregister it does nothing, which matches
// a host delivering an event already queued before removal.
func (e *Entry) Invoke(ctx context.Context, args []value.Value) (value.Value, error) {
	if e.retired.Load() {
		return value.Absent(), nil
	}
	e.calls.Add(1)
	return e.fn.Invoke(ctx, args)
}

// ParamMapping implements codec.Typed.
func (e *Entry) ParamMapping(i int) value.Mapping {
	if e.typed != nil {
		return e.typed.ParamMapping(i)
	}
	if i < len(e.params) {
		return e.params[i]
	}
	return value.Any
}

// ResultMapping implements codec.Typed.
func (e *Entry) ResultMapping() value.Mapping { return e.result }

// Calls returns how many times the host invoked the entry.
func (e *Entry) Calls() int64 { return e.calls.Load() }

// Retired reports whether the entry was unregistered.
func (e *Entry) Retired() bool { return e.retired.Load() }

// Registry gives managed callables stable host identities.
//
// Each Register call creates a new entry, even for a callable registered
// before. Only the handle returned by Register retires its entry.
type Registry struct {
	loop    *loop.Loop
	codec   *codec.Codec
	table   *handle.Table
	log     *zap.Logger
	entries map[handle.Handle]*Entry
	cancel  func()
	mu      sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a registry whose entries live in the codec's managed table.
func New(l *loop.Loop, c *codec.Codec, opts ...Option) *Registry {
	r := &Registry{
		loop:    l,
		codec:   c,
		table:   c.Managed(),
		log:     zap.NewNop(),
		entries: make(map[handle.Handle]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cancel = r.table.Subscribe(handle.ObserverFunc(r.onHandleEvent))
	return r
}

// Register wraps fn into a host function and returns the handle that
// identifies the registration together with a function value for passing
// the wrapper across. params override the callable's own declared mappings.
func (r *Registry) Register(ctx context.Context, fn value.Invoker, params ...value.Mapping) (handle.Handle, value.Value, error) {
	if fn == nil {
		return handle.Handle{}, value.Value{}, errors.InvalidInput(errors.PhaseCallback, "cannot register a nil callable")
	}

	e := &Entry{fn: fn, params: params, result: value.Any}
	if typed, ok := fn.(codec.Typed); ok {
		e.result = typed.ResultMapping()
		if len(params) == 0 {
			e.typed = typed
		}
	}

	err := r.loop.Do(ctx, func(_ context.Context, vm *goja.Runtime) error {
		e.js = vm.ToValue(r.codec.NativeFunc(e)).ToObject(vm)
		return nil
	})
	if err != nil {
		return handle.Handle{}, value.Value{}, err
	}

	h, err := r.table.Expose(e, r.codec.Side())
	if err != nil {
		return handle.Handle{}, value.Value{}, err
	}
	e.h = h
	r.codec.Remember(h, e.js)

	r.mu.Lock()
	r.entries[h] = e
	r.mu.Unlock()

	r.log.Debug("callback registered", zap.Stringer("handle", h))
	return h, value.Function(e), nil
}

// Unregister retires the entry identified by h. A handle that was never
// returned by Register, or whose entry is already retired, fails NotFound.
func (r *Registry) Unregister(h handle.Handle) error {
	r.mu.Lock()
	e, ok := r.entries[h]
	if ok {
		delete(r.entries, h)
	}
	r.mu.Unlock()

	if !ok {
		return errors.NotFound(errors.PhaseCallback, "callback", h.String())
	}
	e.retired.Store(true)
	if err := r.table.Release(h); err != nil && !errors.IsKind(err, errors.KindStaleHandle) {
		return err
	}
	r.log.Debug("callback unregistered", zap.Stringer("handle", h), zap.Int64("calls", e.Calls()))
	return nil
}

// Lookup returns the live entry for h.
func (r *Registry) Lookup(h handle.Handle) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	return e, ok
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close retires every entry.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[handle.Handle]*Entry)
	r.mu.Unlock()

	for h, e := range entries {
		e.retired.Store(true)
		_ = r.table.Release(h)
	}
	if r.cancel != nil {
		r.cancel()
	}
}

// onHandleEvent retires entries whose handle was released through the table
// directly.
func (r *Registry) onHandleEvent(ev handle.Event) {
	if ev.Type != handle.EventReleased && ev.Type != handle.EventCollected {
		return
	}
	e, ok := ev.Value.(*Entry)
	if !ok {
		return
	}
	e.retired.Store(true)
	r.mu.Lock()
	if cur, ok := r.entries[ev.Handle]; ok && cur == e {
		delete(r.entries, ev.Handle)
	}
	r.mu.Unlock()
}
