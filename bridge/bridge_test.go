package bridge

import (
	"context"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/js-bridge/diag"
	"github.com/wippyai/js-bridge/dispatch"
	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/module"
	"github.com/wippyai/js-bridge/value"
)

const appSource = `
const listeners = new Set()
let ticks = 0

exports.s32 = x => x
exports.str = x => x
exports.flag = x => x
exports.f64 = x => x
exports.date = x => x
exports.wide = x => x
exports.big = x => x
exports.same = o => o === globalThis.saved
exports.later = ms => new Promise(resolve => setTimeout(() => resolve("done"), ms))
exports.fail = () => Promise.reject(new Error("out of stock"))
exports.boom = () => { throw new RangeError("boom") }
exports.tick = () => { ticks++ }
exports.ticks = () => ticks
exports.on = fn => { listeners.add(fn) }
exports.off = fn => listeners.delete(fn)
exports.emit = x => { for (const fn of listeners) fn(x); return listeners.size }
exports.sum = (a, b) => require("mathx").add(a, b)
`

const appDecl = `
host module app {
	s32: func(x: s32) -> s32;
	str: func(x: string) -> string;
	flag: func(x: bool) -> bool;
	f64: func(x: f64) -> f64;
	date: func(x: instant) -> instant;
	wide: func(x: s64 as number) -> s64 as number;
	big: func(x: s64 as bigint) -> s64 as bigint;
	same: func(o: object) -> bool;
	later: func(ms: u32) -> promise<string>;
	fail: func() -> promise<string>;
	boom: func();
	tick: func();
	ticks: func() -> u32;
	on: func(listener: function);
	off: func(listener: function) -> bool;
	emit: func(x: s32) -> u32;
	sum: func(a: s32, b: s32) -> s32;
}

managed module mathx {
	add: func(a: s32, b: s32) -> s32;
}
`

type env struct {
	b    *Bridge
	sink *diag.Memory
	ctx  context.Context
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	sink := diag.NewMemory(0)
	ctx := context.Background()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithSink(sink)}, opts...)

	b, err := New(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(ctx) })

	require.NoError(t, b.DeclareText(appDecl, dispatch.TargetHost))

	add := value.NewCallable("add", func(_ context.Context, args []value.Value) (value.Value, error) {
		return value.Int(args[0].AsInt() + args[1].AsInt()), nil
	})
	require.NoError(t, b.LoadModule(ctx, "mathx", module.Funcs(map[string]value.Invoker{"add": add})))
	require.NoError(t, b.LoadModule(ctx, "app", module.Source(appSource)))
	return &env{b: b, sink: sink, ctx: ctx}
}

func (e *env) invoke(t *testing.T, name string, args ...value.Value) value.Value {
	t.Helper()
	v, err := e.b.Invoke(e.ctx, "app", name, args...)
	require.NoError(t, err, "app.%s", name)
	return v
}

func TestRoundTrip_Primitives(t *testing.T) {
	e := newEnv(t)
	when := time.UnixMilli(1_700_000_000_123).UTC()

	tests := []struct {
		name string
		fn   string
		in   value.Value
	}{
		{"s32", "s32", value.Int(-42)},
		{"s32 max", "s32", value.Int(math.MaxInt32)},
		{"string", "str", value.String("héllo, wörld")},
		{"empty string", "str", value.String("")},
		{"bool", "flag", value.Bool(true)},
		{"f64", "f64", value.Float(2.5)},
		{"instant", "date", value.Instant(when)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.invoke(t, tt.fn, tt.in)
			assert.True(t, value.Equal(tt.in, got), "got %v, want %v", got, tt.in)
		})
	}
}

func TestWideIntegers(t *testing.T) {
	e := newEnv(t)

	got := e.invoke(t, "wide", value.Int(value.MaxSafeInteger))
	assert.Equal(t, int64(value.MaxSafeInteger), got.AsInt())

	_, err := e.b.Invoke(e.ctx, "app", "wide", value.Int(value.MaxSafeInteger+1))
	assert.True(t, errors.IsKind(err, errors.KindRangeOverflow), "got %v", err)

	for _, v := range []int64{math.MaxInt64, math.MinInt64, value.MaxSafeInteger + 1} {
		got := e.invoke(t, "big", value.Int(v))
		assert.Zero(t, got.AsBigInt().Cmp(big.NewInt(v)), "big(%d) = %v", v, got)
	}
}

func TestEval_UnsafeNumberAsS64(t *testing.T) {
	e := newEnv(t)
	asNumber := value.As(value.KindInt64, value.TagInt)

	got, err := e.b.Eval(e.ctx, "-(2**53 - 1)", asNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(-value.MaxSafeInteger), got.AsInt())

	_, err = e.b.Eval(e.ctx, "2**53 + 2", asNumber)
	assert.True(t, errors.IsKind(err, errors.KindRangeOverflow), "got %v", err)

	_, err = e.b.Eval(e.ctx, "2**53 + 2", value.As(value.KindUint64, value.TagInt))
	assert.True(t, errors.IsKind(err, errors.KindRangeOverflow), "got %v", err)
}

func TestDeclare_RejectsAmbiguousMapping(t *testing.T) {
	e := newEnv(t)
	err := e.b.Declare(
		dispatch.Signature{Module: "m", Name: "f", Target: dispatch.TargetHost,
			Params: []value.Mapping{value.M(value.KindInt64)}, Result: value.Void},
		dispatch.Signature{Module: "m", Name: "g", Target: dispatch.TargetHost,
			Result: value.M(value.KindUint64)},
	)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnsupportedMapping))

	_, declared := e.b.sigs.Lookup("m", "f")
	assert.False(t, declared)
}

func TestExpose_IdentityAndRelease(t *testing.T) {
	e := newEnv(t)
	obj := &struct{ Name string }{"widget"}

	h1, err := e.b.Expose(obj)
	require.NoError(t, err)
	h2, err := e.b.Expose(obj)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	got, err := e.b.Resolve(h1, e.b.Side())
	require.NoError(t, err)
	assert.Same(t, obj, got)

	_, err = e.b.Resolve(h1, handle.NewSide())
	assert.True(t, errors.IsKind(err, errors.KindWrongSide), "other side: %v", err)

	require.NoError(t, e.b.Release(h1))
	_, err = e.b.Resolve(h1, e.b.Side())
	assert.True(t, errors.IsKind(err, errors.KindStaleHandle), "got %v", err)
	assert.True(t, errors.IsUsage(err))

	err = e.b.Release(h1)
	assert.True(t, errors.IsKind(err, errors.KindStaleHandle), "double release: %v", err)
}

func TestProxy_DoubleProxyAndHome(t *testing.T) {
	e := newEnv(t)
	other := newEnv(t)

	v, err := e.b.Eval(e.ctx, `globalThis.saved = { n: 1, inc() { return ++this.n } }; saved`, value.Obj)
	require.NoError(t, err)
	p, ok := v.Ref().(*handle.Proxy)
	require.True(t, ok, "host object should arrive as a proxy, got %T", v.Ref())

	_, err = other.b.Expose(p)
	assert.True(t, errors.IsKind(err, errors.KindDoubleProxy), "got %v", err)

	same := e.invoke(t, "same", v)
	assert.True(t, same.AsBool(), "the proxy must unwrap to the original host object")

	n, err := e.b.Get(e.ctx, p, "n", value.S32)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.AsInt())

	n, err = e.b.CallMethod(e.ctx, p, "inc", value.S32)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.AsInt())

	require.NoError(t, e.b.Set(e.ctx, p, "n", value.Int(10), value.S32))
	n, err = e.b.Get(e.ctx, p, "n", value.S32)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n.AsInt())

	_, err = e.b.CallMethod(e.ctx, p, "missing", value.Any)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestPending_Fulfilled(t *testing.T) {
	e := newEnv(t)

	v, err := e.b.InvokeAsync(e.ctx, "app", "later", value.Int(5)).Await(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", v.AsString())
	assert.Zero(t, e.b.Pending())
}

func TestPending_Rejected(t *testing.T) {
	e := newEnv(t)

	pending := e.invoke(t, "fail")
	require.Equal(t, value.TagPending, pending.Tag())

	_, err := e.b.Await(e.ctx, pending)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRejectedOperation))
	assert.True(t, errors.IsForeignFailure(err))
	assert.Contains(t, err.Error(), "out of stock")

	assert.Equal(t, 1, e.sink.Count(errors.KindRejectedOperation))
	assert.Zero(t, e.b.Pending())
}

func TestForeignFault_Reported(t *testing.T) {
	e := newEnv(t)

	_, err := e.b.Invoke(e.ctx, "app", "boom")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindForeignFault))
	assert.Contains(t, err.Error(), "RangeError: boom")

	records := e.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, diag.SourceCall, records[0].Source)
	assert.Equal(t, "app#boom", records[0].Target)
	assert.Equal(t, e.b.ID(), records[0].Bridge)
}

type listener struct {
	got []int64
	mu  sync.Mutex
}

func (l *listener) fn() *value.Callable {
	return value.NewCallable("listener", func(_ context.Context, args []value.Value) (value.Value, error) {
		l.mu.Lock()
		l.got = append(l.got, args[0].AsInt())
		l.mu.Unlock()
		return value.Absent(), nil
	}).Typed(value.Void, value.S32)
}

func TestCallbacks_RegisterUnregister(t *testing.T) {
	e := newEnv(t)
	l := &listener{}
	fn := l.fn()

	h, cb, err := e.b.Register(e.ctx, fn)
	require.NoError(t, err)
	e.invoke(t, "on", cb)
	e.invoke(t, "on", cb)
	assert.Equal(t, int64(1), e.invoke(t, "emit", value.Int(5)).AsInt())
	assert.Equal(t, []int64{5}, l.got)

	h2, cb2, err := e.b.Register(e.ctx, fn)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	assert.False(t, e.invoke(t, "off", cb2).AsBool(), "a separate registration is a different host function")
	require.NoError(t, e.b.Unregister(h2))

	err = e.b.Unregister(h2)
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "got %v", err)

	assert.True(t, e.invoke(t, "off", cb).AsBool(), "remove must match the exact function add saw")
	require.NoError(t, e.b.Unregister(h))
	assert.Zero(t, e.b.Callbacks())
}

func TestNoLeaks_RepeatedVoidCall(t *testing.T) {
	e := newEnv(t)
	managed, host := e.b.Handles()

	e.invoke(t, "tick")
	e.invoke(t, "tick")

	m2, h2 := e.b.Handles()
	assert.Equal(t, managed, m2)
	assert.Equal(t, host, h2)
	assert.Zero(t, e.b.Pending())
	assert.Equal(t, int64(2), e.invoke(t, "ticks").AsInt())
}

func TestModuleNotLoaded_ThenLoaded(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.b.DeclareText(`module late { hello: func(n: string) -> string; }`, dispatch.TargetHost))

	_, err := e.b.Invoke(e.ctx, "late", "hello", value.String("a"))
	assert.True(t, errors.IsKind(err, errors.KindModuleNotLoaded), "got %v", err)

	require.NoError(t, e.b.LoadModule(e.ctx, "late", module.Source(`exports.hello = n => "hello " + n`)))
	v, err := e.b.Invoke(e.ctx, "late", "hello", value.String("a"))
	require.NoError(t, err)
	assert.Equal(t, "hello a", v.AsString())
}

func TestRequire_Unknown(t *testing.T) {
	e := newEnv(t)

	_, err := e.b.Eval(e.ctx, `require("late")`, value.Any)
	assert.True(t, errors.IsKind(err, errors.KindModuleNotLoaded), "got %v", err)

	got, err := e.b.Eval(e.ctx, `require("app") === require("app") && require("mathx") === require("mathx")`, value.M(value.KindBool))
	require.NoError(t, err)
	assert.True(t, got.AsBool())
}

func TestManagedModule_FromScriptAndDirect(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, int64(5), e.invoke(t, "sum", value.Int(2), value.Int(3)).AsInt())

	v, err := e.b.Invoke(e.ctx, "mathx", "add", value.Int(40), value.Int(2))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.AsInt())
}

// arith exports add(i32,i32)->i32 and mul64(i64,i64)->i64.
var arith = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0d, 0x02,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7e,
	0x03, 0x03, 0x02, 0x00, 0x01,
	0x07, 0x0f, 0x02,
	0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x05, 'm', 'u', 'l', '6', '4', 0x00, 0x01,
	0x0a, 0x11, 0x02,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x7e, 0x0b,
}

func TestWasmModule(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.b.DeclareText(`
		managed module arith {
			add: func(a: s32, b: s32) -> s32;
			mul64: func(a: s64 as bigint, b: s64 as bigint) -> s64 as bigint;
		}`, dispatch.TargetManaged))
	require.NoError(t, e.b.LoadModule(e.ctx, "arith", module.WASM(arith)))

	v, err := e.b.Invoke(e.ctx, "arith", "add", value.Int(20), value.Int(22))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.AsInt())

	v, err = e.b.Invoke(e.ctx, "arith", "mul64", value.Int(1<<31), value.Int(1<<31))
	require.NoError(t, err)
	assert.Zero(t, v.AsBigInt().Cmp(big.NewInt(1<<62)))

	_, err = e.b.Invoke(e.ctx, "arith", "add", value.Int(math.MaxInt32+1), value.Int(0))
	assert.True(t, errors.IsKind(err, errors.KindRangeOverflow), "got %v", err)

	// The script side sees the wasm export through require.
	got, err := e.b.Eval(e.ctx, `require("arith").add(1, 2)`, value.S32)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.AsInt())
}

func TestDeclareExports(t *testing.T) {
	e := newEnv(t)
	_, err := e.b.DeclareExports("arith")
	assert.True(t, errors.IsKind(err, errors.KindModuleNotLoaded), "got %v", err)

	require.NoError(t, e.b.LoadModule(e.ctx, "arith", module.WASM(arith)))
	n, err := e.b.DeclareExports("arith")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, err := e.b.Invoke(e.ctx, "arith", "mul64", value.Int(3), value.Int(4))
	require.NoError(t, err)
	assert.Zero(t, v.AsBigInt().Cmp(big.NewInt(12)))

	n, err = e.b.DeclareExports("arith")
	require.NoError(t, err)
	assert.Zero(t, n)

	// Go function modules carry no types of their own.
	n, err = e.b.DeclareExports("mathx")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScope_ReleasesOnClose(t *testing.T) {
	e := newEnv(t)
	base, _ := e.b.Handles()

	s := e.b.NewScope()
	for i := 0; i < 3; i++ {
		h, err := e.b.Expose(&struct{ i int }{i})
		require.NoError(t, err)
		require.NoError(t, e.b.Track(s, h))
	}
	n, _ := e.b.Handles()
	assert.Equal(t, base+3, n)

	require.NoError(t, s.Close())
	n, _ = e.b.Handles()
	assert.Equal(t, base, n)
}

func TestClosed(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.b.Close(e.ctx))

	_, err := e.b.Invoke(e.ctx, "app", "tick")
	assert.True(t, errors.IsKind(err, errors.KindClosed), "got %v", err)
	assert.NoError(t, e.b.Close(e.ctx), "second close is a no-op")
}

func TestClose_FromScriptCallback(t *testing.T) {
	e := newEnv(t)
	stop := value.NewCallable("stop", func(ctx context.Context, _ []value.Value) (value.Value, error) {
		return value.Absent(), e.b.Close(ctx)
	})
	require.NoError(t, e.b.LoadModule(e.ctx, "ctl", module.Funcs(map[string]value.Invoker{"stop": stop})))

	done := make(chan error, 1)
	go func() {
		_, err := e.b.Eval(e.ctx, `require("ctl").stop()`, value.Any)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close from a script callback deadlocked")
	}

	_, err := e.b.Invoke(e.ctx, "app", "tick")
	assert.True(t, errors.IsKind(err, errors.KindClosed), "got %v", err)
	assert.NoError(t, e.b.Close(e.ctx))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEnv(t, WithRegisterer(reg))

	e.invoke(t, "tick")
	_, _ = e.b.Invoke(e.ctx, "app", "boom")

	n, err := testutil.GatherAndCount(reg, "jsbridge_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")

	n, err = testutil.GatherAndCount(reg, "jsbridge_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLogger(t *testing.T) {
	assert.NotNil(t, Logger())
	l := zaptest.NewLogger(t)
	SetLogger(l)
	defer SetLogger(nil)
	assert.Same(t, l, Logger())
}
