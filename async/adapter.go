package async

import (
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-bridge/codec"
	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/loop"
	"github.com/wippyai/js-bridge/value"
)

// RejectHook is told about every rejection crossing the boundary.
type RejectHook func(err error)

// Adapter converts between host promises and managed futures for one loop.
// FromPromise, FromCallback and ToPromise must be called on the loop.
type Adapter struct {
	loop     *loop.Loop
	codec    *codec.Codec
	log      *zap.Logger
	onReject RejectHook
	inflight atomic.Int64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// WithRejectHook installs a hook observing rejections.
func WithRejectHook(h RejectHook) Option {
	return func(a *Adapter) { a.onReject = h }
}

// NewAdapter creates an adapter and installs it as the codec's pending converter.
func NewAdapter(l *loop.Loop, c *codec.Codec, opts ...Option) *Adapter {
	a := &Adapter{loop: l, codec: c, log: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	c.SetPending(a)
	return a
}

// Inflight returns the number of operations created by the adapter that have
// not settled yet.
func (a *Adapter) Inflight() int { return int(a.inflight.Load()) }

func (a *Adapter) track() *Operation {
	op := NewOperation()
	a.inflight.Add(1)
	op.Observe(func(_ value.Value, err error) {
		a.inflight.Add(-1)
		if err != nil && a.onReject != nil {
			a.onReject(err)
		}
	})
	return op
}

// FromPromise returns a future settling with the promise. The fulfillment
// value is decoded with elem; a decoding failure rejects the future.
func (a *Adapter) FromPromise(p *goja.Object, elem value.Mapping) (*Future, error) {
	vm := a.loop.Runtime()
	then, ok := goja.AssertFunction(p.Get("then"))
	if !ok {
		return nil, errors.UnsupportedMapping(errors.PhaseAsync, nil, "promise", codec.TypeOf(p))
	}

	op := a.track()
	onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := a.codec.ToHome(call.Argument(0), elem)
		if err != nil {
			_ = op.Reject(errors.AtPath(err, "fulfilled"))
		} else {
			_ = op.Resolve(v)
		}
		return goja.Undefined()
	})
	onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		_ = op.Reject(Rejection(call.Argument(0)))
		return goja.Undefined()
	})

	if _, err := then(p, onFulfilled, onRejected); err != nil {
		ferr := codec.Fault([]string{"then"}, err)
		_ = op.Reject(ferr)
		return nil, ferr
	}
	return op.Future(), nil
}

// FromCallback calls fn with args followed by a node-style completion
// callback (err, value) and returns a future of the completion. The callback
// settles the future once; later invocations are logged and ignored.
func (a *Adapter) FromCallback(fn goja.Callable, this goja.Value, args []goja.Value, elem value.Mapping) (*Future, error) {
	vm := a.loop.Runtime()
	op := a.track()

	var calls atomic.Int32
	done := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if calls.Add(1) > 1 {
			a.log.Warn("completion callback invoked more than once", zap.Int32("calls", calls.Load()))
			return goja.Undefined()
		}
		if reason := call.Argument(0); !goja.IsUndefined(reason) && !goja.IsNull(reason) {
			_ = op.Reject(Rejection(reason))
			return goja.Undefined()
		}
		v, err := a.codec.ToHome(call.Argument(1), elem)
		if err != nil {
			_ = op.Reject(errors.AtPath(err, "completion"))
		} else {
			_ = op.Resolve(v)
		}
		return goja.Undefined()
	})

	in := append(append(make([]goja.Value, 0, len(args)+1), args...), done)
	if _, err := fn(this, in...); err != nil {
		ferr := codec.Fault(nil, err)
		if calls.Add(1) == 1 {
			_ = op.Reject(ferr)
		}
		return nil, ferr
	}
	return op.Future(), nil
}

// ToPromise returns a host promise settling with f. The fulfillment value is
// encoded with elem. Settlement is delivered as a loop job, so it is observed
// in the order the loop runs jobs.
func (a *Adapter) ToPromise(f *Future, elem value.Mapping) goja.Value {
	vm := a.loop.Runtime()
	p, resolve, reject := vm.NewPromise()

	f.Observe(func(v value.Value, err error) {
		posted := a.loop.Post(func(vm *goja.Runtime) {
			if err != nil {
				reject(vm.NewGoError(err))
				return
			}
			fv, cerr := a.codec.ToForeign(v, elem)
			if cerr != nil {
				reject(vm.NewGoError(errors.AtPath(cerr, "fulfilled")))
				return
			}
			resolve(fv)
		})
		if !posted {
			a.log.Debug("promise settlement dropped, loop closed")
		}
	})
	return vm.ToValue(p)
}

// PendingToForeign implements codec.PendingBridge.
func (a *Adapter) PendingToForeign(ref any, elem value.Mapping) (goja.Value, error) {
	switch r := ref.(type) {
	case *Future:
		return a.ToPromise(r, elem), nil
	case *Operation:
		return a.ToPromise(r.Future(), elem), nil
	}
	return nil, errors.New(errors.PhaseEncode, errors.KindUnsupportedMapping).
		HomeType("promise").Detail("pending value does not hold a future").Build()
}

// PendingToHome implements codec.PendingBridge. Values that are not promises
// become already fulfilled futures, as awaiting them would.
func (a *Adapter) PendingToHome(fv goja.Value, elem value.Mapping) (value.Value, error) {
	if obj, ok := fv.(*goja.Object); ok {
		if _, ok := goja.AssertFunction(obj.Get("then")); ok {
			f, err := a.FromPromise(obj, elem)
			if err != nil {
				return value.Value{}, err
			}
			return value.Pending(f), nil
		}
	}

	v, err := a.codec.ToHome(fv, elem)
	if err != nil {
		return value.Value{}, err
	}
	return value.Pending(Fulfilled(v).Future()), nil
}

// Rejection converts a host rejection reason into a RejectedOperation error.
// The reason's string form is the diagnostic text; the exported reason is
// kept as payload.
func Rejection(reason goja.Value) error {
	if reason == nil || goja.IsUndefined(reason) {
		return errors.Rejected("undefined", nil)
	}
	return errors.Rejected(reason.String(), reason.Export())
}
