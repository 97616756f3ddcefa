package dispatch

import (
	"context"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-bridge/codec"
	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/loop"
	"github.com/wippyai/js-bridge/value"
)

// HostModule is a loaded script module. Exports must be called on the loop.
type HostModule interface {
	Name() string
	Exports() *goja.Object
}

// ManagedModule is a loaded managed module.
type ManagedModule interface {
	Name() string
	Func(name string) (value.Invoker, bool)
	Names() []string
}

// Resolver finds loaded modules. A module that is not loaded is reported
// missing, which the dispatcher turns into ModuleNotLoaded.
type Resolver interface {
	HostModule(name string) (HostModule, bool)
	ManagedModule(name string) (ManagedModule, bool)
}

// CallHook observes every dispatched call.
type CallHook func(sig *Signature, elapsed time.Duration, err error)

// Dispatcher invokes declared signatures on either side, applying the codec
// to arguments and results.
type Dispatcher struct {
	reg   *Registry
	res   Resolver
	loop  *loop.Loop
	codec *codec.Codec
	log   *zap.Logger
	hooks []CallHook
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithCallHook adds a call observer.
func WithCallHook(h CallHook) Option {
	return func(d *Dispatcher) { d.hooks = append(d.hooks, h) }
}

// New creates a dispatcher.
func New(reg *Registry, res Resolver, l *loop.Loop, c *codec.Codec, opts ...Option) *Dispatcher {
	d := &Dispatcher{reg: reg, res: res, loop: l, codec: c, log: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the signature registry.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Invoke calls the declared callable module#name with args.
//
// Calls are synchronous. A host call runs on the loop; called from inside the
// loop, for example from a managed function a script invoked, it runs inline.
func (d *Dispatcher) Invoke(ctx context.Context, module, name string, args ...value.Value) (value.Value, error) {
	sig, ok := d.reg.Lookup(module, name)
	if !ok {
		return value.Value{}, errors.NotFound(errors.PhaseDispatch, "signature", module+"#"+name)
	}
	return d.Call(ctx, sig, args...)
}

// Call invokes a signature directly.
func (d *Dispatcher) Call(ctx context.Context, sig *Signature, args ...value.Value) (out value.Value, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			d.log.Debug("call failed",
				zap.String("call", sig.Key()),
				zap.Stringer("target", sig.Target),
				zap.Error(err))
		}
		for _, h := range d.hooks {
			h(sig, time.Since(start), err)
		}
	}()

	if err := sig.CheckArity(len(args)); err != nil {
		return value.Value{}, err
	}

	switch sig.Target {
	case TargetHost:
		return d.callHost(ctx, sig, args)
	case TargetManaged:
		return d.callManaged(ctx, sig, args)
	}
	return value.Value{}, errors.InvalidInput(errors.PhaseDispatch, "unknown target "+sig.Target.String())
}

func (d *Dispatcher) callHost(ctx context.Context, sig *Signature, args []value.Value) (value.Value, error) {
	mod, ok := d.res.HostModule(sig.Module)
	if !ok {
		return value.Value{}, errors.ModuleNotLoaded(sig.Module)
	}

	unpin, err := pinArgs(args)
	if err != nil {
		return value.Value{}, errors.AtPath(err, sig.Module, sig.Name)
	}
	defer unpin()

	var out value.Value
	err = d.loop.Do(ctx, func(ctx context.Context, vm *goja.Runtime) error {
		exports := mod.Exports()
		fn, ok := goja.AssertFunction(exports.Get(sig.Name))
		if !ok {
			return errors.NotFound(errors.PhaseDispatch, "export", sig.Key())
		}

		in := make([]goja.Value, len(args))
		for i, a := range args {
			fv, err := d.codec.ToForeign(a, sig.Param(i))
			if err != nil {
				return errors.AtPath(err, sig.Module, sig.Name, argName(i))
			}
			in[i] = fv
		}

		res, err := fn(exports, in...)
		if err != nil {
			return codec.Fault([]string{sig.Module, sig.Name}, err)
		}

		out, err = d.codec.ToHome(res, sig.Result)
		return errors.AtPath(err, sig.Module, sig.Name, "result")
	})
	return out, err
}

func (d *Dispatcher) callManaged(ctx context.Context, sig *Signature, args []value.Value) (value.Value, error) {
	mod, ok := d.res.ManagedModule(sig.Module)
	if !ok {
		return value.Value{}, errors.ModuleNotLoaded(sig.Module)
	}
	fn, ok := mod.Func(sig.Name)
	if !ok {
		return value.Value{}, errors.NotFound(errors.PhaseDispatch, "function", sig.Key())
	}

	in := make([]value.Value, len(args))
	for i, a := range args {
		v, err := codec.Conform(a, sig.Param(i))
		if err != nil {
			return value.Value{}, errors.AtPath(err, sig.Module, sig.Name, argName(i))
		}
		in[i] = v
	}

	res, err := fn.Invoke(ctx, in)
	if err != nil {
		return value.Value{}, managedFault(sig, err)
	}
	out, err := codec.Conform(res, sig.Result)
	return out, errors.AtPath(err, sig.Module, sig.Name, "result")
}

// managedFault keeps bridge errors and turns anything else a managed function
// returned into ForeignFault.
func managedFault(sig *Signature, err error) error {
	if errors.KindOf(err) != "" {
		return errors.AtPath(err, sig.Module, sig.Name)
	}
	return errors.ForeignFault([]string{sig.Module, sig.Name}, err.Error(), err)
}

// pinArgs borrows the handles behind proxy arguments so a release issued
// during the call is deferred until it returns.
func pinArgs(args []value.Value) (func(), error) {
	var pinned []*handle.Proxy
	unpin := func() {
		for _, p := range pinned {
			_ = p.Unpin()
		}
	}
	for _, a := range args {
		p, ok := a.Ref().(*handle.Proxy)
		if !ok {
			continue
		}
		if err := p.Pin(); err != nil {
			unpin()
			return nil, err
		}
		pinned = append(pinned, p)
	}
	return unpin, nil
}
