package loop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	"github.com/wippyai/js-bridge/errors"
)

// Job runs on the loop goroutine with exclusive access to the runtime.
// ctx carries the loop marker, so nested Do calls made from it run inline.
type Job func(ctx context.Context, vm *goja.Runtime) error

// Loop owns a goja runtime on a goja_nodejs event loop and serializes every
// access to it. Jobs, timer callbacks and promise reactions run one at a time
// in delivery order.
type Loop struct {
	ev          *eventloop.EventLoop
	vm          *goja.Runtime
	registry    *require.Registry
	log         *zap.Logger
	current     context.Context
	done        chan struct{}
	callTimeout time.Duration
	depth       int
	closeOnce   sync.Once
	closed      atomic.Bool
}

type ctxKeyLoop struct{}

// With returns a context marking execution on l.
func With(ctx context.Context, l *Loop) context.Context {
	return context.WithValue(ctx, ctxKeyLoop{}, l)
}

// From returns the loop ctx is executing on, or nil.
func From(ctx context.Context) *Loop {
	if v := ctx.Value(ctxKeyLoop{}); v != nil {
		return v.(*Loop)
	}
	return nil
}

// New creates a runtime and starts its event loop. The runtime gets require
// backed by the configured registry, console routed to the logger, and the
// timer globals of the event loop.
func New(opts ...Option) (*Loop, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	reg := o.registry
	if reg == nil {
		reg = require.NewRegistry()
	}
	reg.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer{log: o.logger.Named("console")}))

	l := &Loop{
		ev:          eventloop.NewEventLoop(eventloop.WithRegistry(reg), eventloop.EnableConsole(o.console)),
		registry:    reg,
		log:         o.logger,
		done:        make(chan struct{}),
		callTimeout: o.callTimeout,
	}

	l.ev.Run(func(vm *goja.Runtime) {
		vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
		if o.maxCallStack > 0 {
			vm.SetMaxCallStackSize(o.maxCallStack)
		}
		l.vm = vm
	})
	if l.vm == nil {
		return nil, errors.New(errors.PhaseLoop, errors.KindInvalidInput).
			Detail("event loop did not hand out its runtime").Build()
	}
	l.ev.Start()
	return l, nil
}

// Runtime returns the owned runtime. It must only be used from jobs.
func (l *Loop) Runtime() *goja.Runtime { return l.vm }

// Registry returns the require registry the runtime resolves modules from.
func (l *Loop) Registry() *require.Registry { return l.registry }

// OnLoop reports whether ctx is executing on this loop.
func (l *Loop) OnLoop(ctx context.Context) bool {
	return ctx != nil && From(ctx) == l
}

// Current returns the context of the job running now. It must only be called
// from the loop goroutine, typically by Go functions invoked from scripts.
func (l *Loop) Current() context.Context {
	if l.current == nil {
		return With(context.Background(), l)
	}
	return l.current
}

// Do runs fn on the loop and waits for it. Called from the loop itself it runs
// inline, so a host callback nested inside a managed call cannot deadlock.
//
// When ctx ends before fn completes Do returns an Abandoned error; fn may still
// run to completion afterwards.
func (l *Loop) Do(ctx context.Context, fn Job) error {
	if l.OnLoop(ctx) {
		return l.exec(ctx, fn)
	}
	if l.closed.Load() {
		return errors.Closed(errors.PhaseLoop, "event loop")
	}

	res := make(chan error, 1)
	ok := l.ev.RunOnLoop(func(*goja.Runtime) {
		if err := ctx.Err(); err != nil {
			res <- errors.Wrap(errors.PhaseLoop, errors.KindAbandoned, err, "call abandoned before it started")
			return
		}
		res <- l.exec(With(ctx, l), fn)
	})
	if !ok {
		return errors.Closed(errors.PhaseLoop, "event loop")
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return errors.Wrap(errors.PhaseLoop, errors.KindAbandoned, ctx.Err(), "call abandoned")
	case <-l.done:
		select {
		case err := <-res:
			return err
		default:
			return errors.Closed(errors.PhaseLoop, "event loop")
		}
	}
}

// Post queues fn without waiting. It reports false when the loop is closed.
func (l *Loop) Post(fn func(vm *goja.Runtime)) bool {
	if l.closed.Load() {
		return false
	}
	return l.ev.RunOnLoop(func(vm *goja.Runtime) {
		err := l.exec(With(context.Background(), l), func(context.Context, *goja.Runtime) error {
			fn(vm)
			return nil
		})
		if err != nil {
			l.log.Warn("posted job failed", zap.Error(err))
		}
	})
}

// Close stops the loop after the running job and cancels its timers. Queued
// jobs are dropped.
//
// Called with a context executing on the loop, Close returns at once and the
// loop stops when the calling job returns. Otherwise it waits for the stop.
func (l *Loop) Close(ctx context.Context) error {
	onLoop := l.OnLoop(ctx)
	first := false
	l.closeOnce.Do(func() {
		first = true
		l.closed.Store(true)
		if onLoop {
			go l.terminate()
			return
		}
		l.vm.Interrupt("event loop closed")
		l.terminate()
	})
	if !first && !onLoop {
		<-l.done
	}
	return nil
}

func (l *Loop) terminate() {
	l.ev.Terminate()
	close(l.done)
	l.log.Debug("event loop closed")
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool { return l.closed.Load() }

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

// exec runs fn on the loop goroutine. The outermost job is bounded by the
// call timeout and interrupted when its context ends.
func (l *Loop) exec(ctx context.Context, fn Job) (err error) {
	prev := l.current
	l.current = ctx
	l.depth++
	outermost := l.depth == 1

	var stopTimer, stopCtx func() bool
	if outermost {
		if l.callTimeout > 0 {
			t := time.AfterFunc(l.callTimeout, func() {
				l.vm.Interrupt(fmt.Sprintf("execution timeout exceeded (%s)", l.callTimeout))
			})
			stopTimer = t.Stop
		}
		stopCtx = context.AfterFunc(ctx, func() {
			l.vm.Interrupt("context cancelled")
		})
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseLoop, errors.KindForeignFault).
				Detail("job panicked: %v", r).Build()
			l.log.Error("loop job panicked", zap.Any("panic", r))
		}
		l.depth--
		l.current = prev
		if outermost {
			if stopTimer != nil {
				stopTimer()
			}
			stopCtx()
			if !l.closed.Load() {
				l.vm.ClearInterrupt()
			}
		}
	}()

	return fn(ctx, l.vm)
}
