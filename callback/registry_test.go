package callback

import (
	"context"
	"sync"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/js-bridge/codec"
	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/loop"
	"github.com/wippyai/js-bridge/value"
)

const emitter = `({
	listeners: new Set(),
	on(fn) { this.listeners.add(fn) },
	off(fn) { this.listeners.delete(fn) },
	emit(x) { for (const fn of this.listeners) fn(x) },
	size() { return this.listeners.size },
})`

type env struct {
	loop    *loop.Loop
	codec   *codec.Codec
	reg     *Registry
	emitter *goja.Object
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	l, err := loop.New(loop.WithLogger(log))
	require.NoError(t, err)
	c := codec.New(l, handle.NewTable(handle.Managed), handle.NewTable(handle.NewSide()))
	r := New(l, c, WithLogger(log))
	t.Cleanup(func() {
		r.Close()
		c.Close()
		_ = l.Close(context.Background())
	})

	e := &env{loop: l, codec: c, reg: r}
	require.NoError(t, l.Do(context.Background(), func(_ context.Context, vm *goja.Runtime) error {
		v, err := vm.RunString(emitter)
		e.emitter = v.ToObject(vm)
		return err
	}))
	return e
}

// call invokes an emitter method with a managed function value.
func (e *env) call(t *testing.T, method string, fn value.Value) goja.Value {
	t.Helper()
	var out goja.Value
	require.NoError(t, e.loop.Do(context.Background(), func(_ context.Context, vm *goja.Runtime) error {
		m, ok := goja.AssertFunction(e.emitter.Get(method))
		require.True(t, ok)
		var args []goja.Value
		if !fn.IsAbsent() {
			fv, err := e.codec.ToForeign(fn, value.Fn)
			if err != nil {
				return err
			}
			args = append(args, fv)
		}
		res, err := m(e.emitter, args...)
		out = res
		return err
	}))
	return out
}

func (e *env) emit(t *testing.T, x int) {
	t.Helper()
	require.NoError(t, e.loop.Do(context.Background(), func(_ context.Context, vm *goja.Runtime) error {
		m, _ := goja.AssertFunction(e.emitter.Get("emit"))
		_, err := m(e.emitter, vm.ToValue(x))
		return err
	}))
}

type recorder struct {
	got []int64
	mu  sync.Mutex
}

func (r *recorder) callable() *value.Callable {
	return value.NewCallable("listener", func(_ context.Context, args []value.Value) (value.Value, error) {
		r.mu.Lock()
		r.got = append(r.got, args[0].AsInt())
		r.mu.Unlock()
		return value.Absent(), nil
	}).Typed(value.Void, value.S32)
}

func (r *recorder) values() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.got...)
}

func TestRegister_StableIdentity(t *testing.T) {
	e := newEnv(t)
	rec := &recorder{}
	fn := rec.callable()

	h, v, err := e.reg.Register(context.Background(), fn)
	require.NoError(t, err)

	e.call(t, "on", v)
	e.call(t, "on", v)
	assert.Equal(t, int64(1), e.call(t, "size", value.Absent()).ToInteger(),
		"the same registration must cross as the same host function")

	e.emit(t, 7)
	assert.Equal(t, []int64{7}, rec.values())

	e.call(t, "off", v)
	assert.Equal(t, int64(0), e.call(t, "size", value.Absent()).ToInteger())

	entry, ok := e.reg.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.Calls())
}

func TestRegister_SeparateRegistrationsAreDistinct(t *testing.T) {
	e := newEnv(t)
	fn := (&recorder{}).callable()

	h1, v1, err := e.reg.Register(context.Background(), fn)
	require.NoError(t, err)
	h2, v2, err := e.reg.Register(context.Background(), fn)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	e.call(t, "on", v1)
	e.call(t, "on", v2)
	assert.Equal(t, int64(2), e.call(t, "size", value.Absent()).ToInteger())
	assert.Equal(t, 2, e.reg.Len())
}

func TestUnregister(t *testing.T) {
	e := newEnv(t)
	fn := (&recorder{}).callable()

	h1, _, err := e.reg.Register(context.Background(), fn)
	require.NoError(t, err)
	h2, _, err := e.reg.Register(context.Background(), fn)
	require.NoError(t, err)
	require.NoError(t, e.reg.Unregister(h2))

	err = e.reg.Unregister(h2)
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "retired handle: %v", err)

	other, err := e.codec.Managed().Expose(&struct{ x int }{}, e.codec.Side())
	require.NoError(t, err)
	err = e.reg.Unregister(other)
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "non-callback handle: %v", err)

	err = e.reg.Unregister(handle.Handle{Home: handle.Managed, Foreign: e.codec.Side(), Index: 99, Gen: 1})
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "fabricated handle: %v", err)

	_, ok := e.reg.Lookup(h1)
	assert.True(t, ok, "a failed unregister must not retire another entry")
	require.NoError(t, e.reg.Unregister(h1))
	assert.Equal(t, 0, e.reg.Len())
}

func TestUnregister_LateDeliveryIsIgnored(t *testing.T) {
	e := newEnv(t)
	rec := &recorder{}

	h, v, err := e.reg.Register(context.Background(), rec.callable())
	require.NoError(t, err)
	e.call(t, "on", v)
	require.NoError(t, e.reg.Unregister(h))

	// The host still holds the function; deliveries after retirement do nothing.
	e.emit(t, 1)
	assert.Empty(t, rec.values())
}

func TestRegistry_ReleaseThroughTable(t *testing.T) {
	e := newEnv(t)

	h, _, err := e.reg.Register(context.Background(), (&recorder{}).callable())
	require.NoError(t, err)
	require.NoError(t, e.codec.Managed().Release(h))

	assert.Equal(t, 0, e.reg.Len())
	assert.True(t, errors.IsKind(e.reg.Unregister(h), errors.KindNotFound))
}

func TestRegister_ConvertsBack(t *testing.T) {
	e := newEnv(t)
	_, v, err := e.reg.Register(context.Background(), (&recorder{}).callable())
	require.NoError(t, err)

	var back value.Value
	require.NoError(t, e.loop.Do(context.Background(), func(context.Context, *goja.Runtime) error {
		fv, err := e.codec.ToForeign(v, value.Fn)
		if err != nil {
			return err
		}
		back, err = e.codec.ToHome(fv, value.Fn)
		return err
	}))
	inv, ok := back.AsInvoker()
	require.True(t, ok)
	orig, _ := v.AsInvoker()
	assert.Same(t, orig, inv)
}
