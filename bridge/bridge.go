package bridge

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/js-bridge/async"
	"github.com/wippyai/js-bridge/callback"
	"github.com/wippyai/js-bridge/codec"
	"github.com/wippyai/js-bridge/config"
	"github.com/wippyai/js-bridge/diag"
	"github.com/wippyai/js-bridge/dispatch"
	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/loop"
	"github.com/wippyai/js-bridge/metrics"
	"github.com/wippyai/js-bridge/module"
	"github.com/wippyai/js-bridge/value"
)

// Bridge connects the managed side to one host script engine.
//
// All methods are safe for concurrent use. Host work is serialized on the
// bridge's event loop; managed calls run on the caller's goroutine.
type Bridge struct {
	cfg       *config.Config
	log       *zap.Logger
	sink      diag.Sink
	metrics   *metrics.Metrics
	loop      *loop.Loop
	managed   *handle.Table
	host      *handle.Table
	codec     *codec.Codec
	async     *async.Adapter
	sigs      *dispatch.Registry
	disp      *dispatch.Dispatcher
	loader    *module.Loader
	callbacks *callback.Registry
	id        string
	cancels   []func()
	closeOnce sync.Once
	closed    atomic.Bool
}

type options struct {
	cfg      *config.Config
	log      *zap.Logger
	sinks    []diag.Sink
	registry prometheus.Registerer
}

// Option configures a Bridge.
type Option func(*options)

// WithConfig sets the configuration. The default is config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the bridge logger. The default is the package Logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSink adds a diagnostics sink. Failures are always logged as well.
func WithSink(s diag.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithRegisterer registers bridge metrics with reg. Without it, metrics are
// only collected when the configuration enables them, into the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// New creates a bridge with its own host side and event loop.
func New(ctx context.Context, opts ...Option) (*Bridge, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg == nil {
		o.cfg = config.Default()
	}
	if o.log == nil {
		o.log = Logger()
	}

	b := &Bridge{
		cfg: o.cfg,
		id:  uuid.NewString(),
	}
	b.log = o.log.With(zap.String("bridge", b.id))
	b.sink = append(diag.Multi{diag.NewZapSink(b.log)}, o.sinks...)

	reg := o.registry
	if reg == nil && o.cfg.Metrics.Enabled {
		reg = prometheus.DefaultRegisterer
	}
	if reg != nil {
		b.metrics = metrics.New(prometheus.WrapRegistererWith(prometheus.Labels{"bridge": b.id}, reg), o.cfg.Metrics.Namespace)
	}

	b.loader = module.NewLoader(
		module.WithLogger(b.log.Named("module")),
		module.WithMemoryLimitPages(o.cfg.Wasm.MemoryLimitPages),
		module.WithLoadHook(b.loaded),
		module.WithLoadHook(b.metrics.LoadHook()),
	)

	l, err := loop.New(
		loop.WithLogger(b.log.Named("loop")),
		loop.WithRegistry(b.loader.Registry()),
		loop.WithCallTimeout(o.cfg.Loop.CallTimeout),
		loop.WithMaxCallStackSize(o.cfg.Loop.MaxCallStack),
		loop.WithConsole(o.cfg.Loop.Console),
	)
	if err != nil {
		return nil, err
	}
	b.loop = l
	b.loader.Attach(l)

	b.managed = handle.NewTable(handle.Managed)
	b.host = handle.NewTable(handle.NewSide())
	b.cancels = append(b.cancels,
		b.managed.Subscribe(b.metrics.HandleObserver(handle.Managed)),
		b.host.Subscribe(b.metrics.HandleObserver(b.host.Home())),
	)

	b.codec = codec.New(l, b.managed, b.host, codec.WithLogger(b.log.Named("codec")))
	b.async = async.NewAdapter(l, b.codec,
		async.WithLogger(b.log.Named("async")),
		async.WithRejectHook(b.rejected),
	)
	b.callbacks = callback.New(l, b.codec, callback.WithLogger(b.log.Named("callback")))

	b.sigs = dispatch.NewRegistry()
	b.disp = dispatch.New(b.sigs, b.loader, l, b.codec,
		dispatch.WithLogger(b.log.Named("dispatch")),
		dispatch.WithCallHook(b.called),
		dispatch.WithCallHook(b.metrics.CallHook()),
	)
	b.loader.SetExporter(b.disp.Export)

	b.metrics.Gauge("pending_operations", "Host operations awaited by the managed side", func() float64 {
		return float64(b.async.Inflight())
	})
	b.metrics.Gauge("callbacks_registered", "Live callback registrations", func() float64 {
		return float64(b.callbacks.Len())
	})
	b.metrics.Gauge("host_wrappers", "Cached host wrappers of managed objects", func() float64 {
		return float64(b.codec.Wrappers())
	})

	b.log.Info("bridge started", zap.Stringer("host_side", b.host.Home()))
	return b, nil
}

// ID returns the bridge instance identifier carried in logs and records.
func (b *Bridge) ID() string { return b.id }

// Side returns the bridge's host side.
func (b *Bridge) Side() handle.Side { return b.host.Home() }

// Config returns the configuration the bridge was built with.
func (b *Bridge) Config() *config.Config { return b.cfg }

func (b *Bridge) report(src diag.Source, target string, err error) {
	b.sink.Report(diag.FromError(b.id, src, target, err))
	b.metrics.Failure(string(src), err)
}

func (b *Bridge) called(sig *dispatch.Signature, _ time.Duration, err error) {
	if err != nil {
		b.report(diag.SourceCall, sig.Key(), err)
	}
}

func (b *Bridge) rejected(err error) {
	b.report(diag.SourceRejected, "", err)
}

func (b *Bridge) loaded(name string, _ module.Kind, err error) {
	if err != nil {
		b.report(diag.SourceLoad, name, err)
	}
}

func (b *Bridge) check() error {
	if b.closed.Load() {
		return errors.Closed(errors.PhaseDispatch, "bridge")
	}
	return nil
}

// Declare registers signatures. Every signature is validated; the errors of
// all rejected ones are returned together.
func (b *Bridge) Declare(sigs ...dispatch.Signature) error {
	var errs error
	for _, sig := range sigs {
		errs = multierr.Append(errs, b.sigs.Declare(sig))
	}
	return errs
}

// DeclareText parses declarations and registers them. Blocks without a
// host or managed prefix target def.
func (b *Bridge) DeclareText(text string, def dispatch.Target) error {
	sigs, err := dispatch.ParseDeclarations(text, def)
	if err != nil {
		return err
	}
	return b.Declare(sigs...)
}

// DeclareExports declares the exports of the managed module name that carry
// their own types, such as WebAssembly functions. Exports already declared
// keep their declaration. It returns the number of signatures added.
func (b *Bridge) DeclareExports(name string) (int, error) {
	mod, ok := b.loader.ManagedModule(name)
	if !ok {
		return 0, errors.ModuleNotLoaded(name)
	}
	typed, ok := mod.(interface{ Signatures() []dispatch.Signature })
	if !ok {
		return 0, nil
	}
	var (
		n    int
		errs error
	)
	for _, sig := range typed.Signatures() {
		if _, exists := b.sigs.Lookup(sig.Module, sig.Name); exists {
			continue
		}
		if err := b.sigs.Declare(sig); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		n++
	}
	return n, errs
}

// Signatures returns every declared signature.
func (b *Bridge) Signatures() []*dispatch.Signature { return b.sigs.All() }

// LoadModule loads a module under name.
func (b *Bridge) LoadModule(ctx context.Context, name string, loc module.Locator) error {
	if err := b.check(); err != nil {
		return err
	}
	return b.loader.LoadModule(ctx, name, loc)
}

// Modules describes the loaded modules.
func (b *Bridge) Modules() []module.Info { return b.loader.Modules() }

// Invoke calls the declared callable module#name. A pending result holds an
// *async.Future; Await resolves it.
func (b *Bridge) Invoke(ctx context.Context, mod, name string, args ...value.Value) (value.Value, error) {
	if err := b.check(); err != nil {
		return value.Value{}, err
	}
	return b.disp.Invoke(ctx, mod, name, args...)
}

// InvokeAsync runs Invoke on its own goroutine and awaits a pending result.
func (b *Bridge) InvokeAsync(ctx context.Context, mod, name string, args ...value.Value) *async.Future {
	return async.Go(ctx, func(ctx context.Context) (value.Value, error) {
		v, err := b.Invoke(ctx, mod, name, args...)
		if err != nil {
			return v, err
		}
		return b.Await(ctx, v)
	})
}

// Await settles a pending value. Other values are returned unchanged.
func (b *Bridge) Await(ctx context.Context, v value.Value) (value.Value, error) {
	if v.Tag() != value.TagPending {
		return v, nil
	}
	switch p := v.Ref().(type) {
	case *async.Future:
		return p.Await(ctx)
	case *async.Operation:
		return p.Future().Await(ctx)
	}
	return value.Value{}, errors.InvalidInput(errors.PhaseAsync, "pending value does not hold a future")
}

// Pending returns the number of host operations not yet settled.
func (b *Bridge) Pending() int { return b.async.Inflight() }

// Register gives fn a stable host identity. Keep the handle: it is the only
// way to Unregister.
func (b *Bridge) Register(ctx context.Context, fn value.Invoker, params ...value.Mapping) (handle.Handle, value.Value, error) {
	if err := b.check(); err != nil {
		return handle.Handle{}, value.Value{}, err
	}
	return b.callbacks.Register(ctx, fn, params...)
}

// Unregister retires a registration.
func (b *Bridge) Unregister(h handle.Handle) error {
	err := b.callbacks.Unregister(h)
	if err != nil {
		b.report(diag.SourceCallback, h.String(), err)
	}
	return err
}

// Callbacks returns the number of live registrations.
func (b *Bridge) Callbacks() int { return b.callbacks.Len() }

// Expose issues a handle for a managed object to the host. The handle stays
// valid until Release.
func (b *Bridge) Expose(obj any) (handle.Handle, error) {
	if err := b.check(); err != nil {
		return handle.Handle{}, err
	}
	return b.managed.Expose(obj, b.Side())
}

// Resolve returns the object behind h presented by side. A side other than
// the one h was issued to fails WrongSide.
func (b *Bridge) Resolve(h handle.Handle, side handle.Side) (any, error) {
	t, err := b.table(h)
	if err != nil {
		return nil, err
	}
	return t.Resolve(h, side)
}

// Release disposes h. Releasing a handle pinned by an in-flight call takes
// effect when the call returns.
func (b *Bridge) Release(h handle.Handle) error {
	t, err := b.table(h)
	if err != nil {
		return err
	}
	if err := t.Release(h); err != nil {
		return err
	}
	if b.cfg.Handles.SweepOnRelease {
		b.Sweep()
	}
	return nil
}

func (b *Bridge) table(h handle.Handle) (*handle.Table, error) {
	switch h.Home {
	case b.managed.Home():
		return b.managed, nil
	case b.host.Home():
		return b.host, nil
	}
	return nil, errors.WrongSide(h, b.Side())
}

// NewScope returns a scope whose Close releases everything added to it.
func (b *Bridge) NewScope() *handle.Scope { return handle.NewScope() }

// Track adds h to s, so closing s releases it.
func (b *Bridge) Track(s *handle.Scope, h handle.Handle) error {
	t, err := b.table(h)
	if err != nil {
		return err
	}
	return s.Track(t, h)
}

// Sweep applies queued collection notices on both tables and returns how
// many handles they freed. Notices are best-effort; Release is the
// deterministic path.
func (b *Bridge) Sweep() int {
	return b.managed.Sweep() + b.host.Sweep()
}

// Handles returns the live handle counts homed on each side.
func (b *Bridge) Handles() (managed, host int) {
	return b.managed.Len(), b.host.Len()
}

// Eval runs src on the host and converts its completion value with m.
func (b *Bridge) Eval(ctx context.Context, src string, m value.Mapping) (value.Value, error) {
	if err := b.check(); err != nil {
		return value.Value{}, err
	}
	var out value.Value
	err := b.loop.Do(ctx, func(_ context.Context, vm *goja.Runtime) error {
		res, err := vm.RunString(src)
		if err != nil {
			return codec.Fault([]string{"eval"}, err)
		}
		out, err = b.codec.ToHome(res, m)
		return errors.AtPath(err, "eval", "result")
	})
	return out, err
}

// Global converts the host global name with m.
func (b *Bridge) Global(ctx context.Context, name string, m value.Mapping) (value.Value, error) {
	var out value.Value
	err := b.loop.Do(ctx, func(_ context.Context, vm *goja.Runtime) error {
		v := vm.Get(name)
		if v == nil {
			v = goja.Undefined()
		}
		var err error
		out, err = b.codec.ToHome(v, m)
		return errors.AtPath(err, name)
	})
	return out, err
}

// SetGlobal converts v with m and binds it to the host global name.
func (b *Bridge) SetGlobal(ctx context.Context, name string, v value.Value, m value.Mapping) error {
	return b.loop.Do(ctx, func(_ context.Context, vm *goja.Runtime) error {
		fv, err := b.codec.ToForeign(v, m)
		if err != nil {
			return errors.AtPath(err, name)
		}
		return vm.Set(name, fv)
	})
}

// withObject runs fn on the loop with the host object behind p, pinned for
// the duration.
func (b *Bridge) withObject(ctx context.Context, p *handle.Proxy, fn func(vm *goja.Runtime, obj *goja.Object) error) error {
	if err := p.Pin(); err != nil {
		return err
	}
	defer func() { _ = p.Unpin() }()

	return b.loop.Do(ctx, func(_ context.Context, vm *goja.Runtime) error {
		raw, err := p.MarshalTo(b.Side())
		if err != nil {
			return err
		}
		fv, ok := raw.(goja.Value)
		if !ok {
			return errors.WrongSide(p.Handle(), b.Side())
		}
		obj, ok := fv.(*goja.Object)
		if !ok {
			return errors.InvalidInput(errors.PhaseDispatch, "proxy does not reference a host object")
		}
		return fn(vm, obj)
	})
}

// Get reads property key of the host object behind p.
func (b *Bridge) Get(ctx context.Context, p *handle.Proxy, key string, m value.Mapping) (value.Value, error) {
	var out value.Value
	err := b.withObject(ctx, p, func(_ *goja.Runtime, obj *goja.Object) error {
		v := obj.Get(key)
		if v == nil {
			v = goja.Undefined()
		}
		var err error
		out, err = b.codec.ToHome(v, m)
		return errors.AtPath(err, key)
	})
	return out, err
}

// Set writes property key of the host object behind p.
func (b *Bridge) Set(ctx context.Context, p *handle.Proxy, key string, v value.Value, m value.Mapping) error {
	return b.withObject(ctx, p, func(_ *goja.Runtime, obj *goja.Object) error {
		fv, err := b.codec.ToForeign(v, m)
		if err != nil {
			return errors.AtPath(err, key)
		}
		if err := obj.Set(key, fv); err != nil {
			return codec.Fault([]string{key}, err)
		}
		return nil
	})
}

// CallMethod calls method name on the host object behind p. Arguments cross
// by runtime inspection; the result is converted with result.
func (b *Bridge) CallMethod(ctx context.Context, p *handle.Proxy, name string, result value.Mapping, args ...value.Value) (value.Value, error) {
	var out value.Value
	err := b.withObject(ctx, p, func(_ *goja.Runtime, obj *goja.Object) error {
		fn, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			return errors.NotFound(errors.PhaseDispatch, "method", name)
		}
		in := make([]goja.Value, len(args))
		for i, a := range args {
			fv, err := b.codec.ToForeign(a, value.Any)
			if err != nil {
				return errors.AtPath(err, name, "arg"+strconv.Itoa(i))
			}
			in[i] = fv
		}
		res, err := fn(obj, in...)
		if err != nil {
			return codec.Fault([]string{name}, err)
		}
		out, err = b.codec.ToHome(res, result)
		return errors.AtPath(err, name, "result")
	})
	return out, err
}

// Close stops the bridge. Registrations are retired, wasm modules closed and
// every handle released.
func (b *Bridge) Close(ctx context.Context) error {
	var errs error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if b.callbacks != nil {
			b.callbacks.Close()
		}
		if b.codec != nil {
			b.codec.Close()
		}
		if b.loader != nil {
			errs = multierr.Append(errs, b.loader.Close(ctx))
		}
		if b.loop != nil {
			errs = multierr.Append(errs, b.loop.Close(ctx))
		}
		if b.managed != nil {
			errs = multierr.Append(errs, b.managed.Close())
		}
		if b.host != nil {
			errs = multierr.Append(errs, b.host.Close())
		}
		for _, cancel := range b.cancels {
			cancel()
		}
		b.log.Info("bridge closed")
	})
	return errs
}
