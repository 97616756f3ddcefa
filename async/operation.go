package async

import (
	"context"
	"sync"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/loop"
	"github.com/wippyai/js-bridge/value"
)

// State of a pending operation.
type State uint8

const (
	StatePending   State = iota // not yet settled
	StateFulfilled              // settled with a value
	StateRejected               // settled with an error
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// Observer receives the outcome of an operation exactly once.
type Observer func(v value.Value, err error)

// Operation is a cross-boundary result that settles exactly once. The
// resolving side holds the Operation; consumers hold its Future.
type Operation struct {
	val       value.Value
	err       error
	done      chan struct{}
	observers []Observer
	mu        sync.Mutex
	state     State
}

// NewOperation creates a pending operation.
func NewOperation() *Operation {
	return &Operation{done: make(chan struct{})}
}

// Fulfilled returns an operation already settled with v.
func Fulfilled(v value.Value) *Operation {
	op := NewOperation()
	_ = op.Resolve(v)
	return op
}

// Failed returns an operation already settled with err.
func Failed(err error) *Operation {
	op := NewOperation()
	_ = op.Reject(err)
	return op
}

// Resolve fulfills the operation. Settling twice fails AlreadySettled.
func (o *Operation) Resolve(v value.Value) error {
	return o.settle(StateFulfilled, v, nil)
}

// Reject fails the operation. A nil err is replaced by a generic rejection.
func (o *Operation) Reject(err error) error {
	if err == nil {
		err = errors.Rejected("rejected without a reason", nil)
	}
	return o.settle(StateRejected, value.Value{}, err)
}

func (o *Operation) settle(s State, v value.Value, err error) error {
	o.mu.Lock()
	if o.state != StatePending {
		prev := o.state
		o.mu.Unlock()
		return errors.New(errors.PhaseAsync, errors.KindAlreadySettled).
			Detail("operation already %s", prev).Build()
	}
	o.state, o.val, o.err = s, v, err
	observers := o.observers
	o.observers = nil
	o.mu.Unlock()

	for _, fn := range observers {
		fn(v, err)
	}
	close(o.done)
	return nil
}

// Observe registers fn to receive the outcome. Observers run in registration
// order on the settling goroutine, before waiters are released; on an already
// settled operation fn runs immediately.
func (o *Operation) Observe(fn Observer) {
	o.mu.Lock()
	if o.state == StatePending {
		o.observers = append(o.observers, fn)
		o.mu.Unlock()
		return
	}
	v, err := o.val, o.err
	o.mu.Unlock()
	fn(v, err)
}

// State returns the current state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Future returns the consuming view of the operation.
func (o *Operation) Future() *Future {
	return &Future{op: o}
}

// Future is the awaitable consumer side of an Operation.
//
// Abandoning a future, by cancelling the context passed to Await, does not
// cancel the operation behind it: a host promise keeps running and settles
// into nothing.
type Future struct {
	op *Operation
}

// Await blocks until the operation settles or ctx ends. It must not be called
// from the host event loop, which would then never deliver the result.
func (f *Future) Await(ctx context.Context) (value.Value, error) {
	if loop.From(ctx) != nil {
		select {
		case <-f.op.done:
		default:
			return value.Value{}, errors.InvalidInput(errors.PhaseAsync,
				"await on the host event loop would block it; chain the host promise instead")
		}
	}

	select {
	case <-f.op.done:
		return f.op.val, f.op.err
	case <-ctx.Done():
		return value.Value{}, errors.Wrap(errors.PhaseAsync, errors.KindAbandoned, ctx.Err(),
			"future abandoned; the underlying operation was not cancelled")
	}
}

// Done is closed once the operation settles.
func (f *Future) Done() <-chan struct{} { return f.op.done }

// Result returns the outcome without blocking. ok is false while the
// operation is pending.
func (f *Future) Result() (v value.Value, ok bool, err error) {
	select {
	case <-f.op.done:
		return f.op.val, true, f.op.err
	default:
		return value.Value{}, false, nil
	}
}

// State returns the state of the underlying operation.
func (f *Future) State() State { return f.op.State() }

// Observe registers an observer on the underlying operation.
func (f *Future) Observe(fn Observer) { f.op.Observe(fn) }

// Go runs fn on its own goroutine and returns a future of its result. This is
// how managed code produces a pending value for the host.
func Go(ctx context.Context, fn func(ctx context.Context) (value.Value, error)) *Future {
	op := NewOperation()
	go func() {
		v, err := fn(ctx)
		if err != nil {
			_ = op.Reject(err)
			return
		}
		_ = op.Resolve(v)
	}()
	return op.Future()
}
