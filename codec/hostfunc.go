package codec

import (
	"context"
	"weak"

	"github.com/dop251/goja"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/value"
)

// HostFunc is the managed-side view of a host function. Invoking it schedules
// the call on the loop and waits for the result; from inside the loop it runs
// inline.
type HostFunc struct {
	codec  *Codec
	proxy  *handle.Proxy
	Params []value.Mapping
	Result value.Mapping
}

// hostFunc returns the cached HostFunc for a host function proxy.
func (c *Codec) hostFunc(p *handle.Proxy) *HostFunc {
	h := p.Handle()
	c.mu.Lock()
	defer c.mu.Unlock()
	if wp, ok := c.funcs[h]; ok {
		if f := wp.Value(); f != nil {
			return f
		}
	}
	f := &HostFunc{codec: c, proxy: p, Result: value.Any}
	c.funcs[h] = weak.Make(f)
	return f
}

// Proxy returns the handle proxy of the underlying host function.
func (f *HostFunc) Proxy() *handle.Proxy { return f.proxy }

// ParamMapping implements Typed.
func (f *HostFunc) ParamMapping(i int) value.Mapping {
	if i < len(f.Params) {
		return f.Params[i]
	}
	return value.Any
}

// ResultMapping implements Typed.
func (f *HostFunc) ResultMapping() value.Mapping { return f.Result }

// Invoke calls the host function with args.
func (f *HostFunc) Invoke(ctx context.Context, args []value.Value) (value.Value, error) {
	c := f.codec
	var out value.Value
	err := c.loop.Do(ctx, func(ctx context.Context, vm *goja.Runtime) error {
		if err := f.proxy.Pin(); err != nil {
			return err
		}
		defer func() { _ = f.proxy.Unpin() }()

		ref, err := f.proxy.MarshalTo(c.Side())
		if err != nil {
			return err
		}
		fn, ok := goja.AssertFunction(ref.(goja.Value))
		if !ok {
			return errors.InvalidInput(errors.PhaseDispatch, "host value is not callable")
		}

		in := make([]goja.Value, len(args))
		for i, a := range args {
			fv, err := c.ToForeign(a, f.ParamMapping(i))
			if err != nil {
				return errors.AtPath(err, "callback", argName(i))
			}
			in[i] = fv
		}

		res, err := fn(goja.Undefined(), in...)
		if err != nil {
			return Fault([]string{"callback"}, err)
		}
		out, err = c.ToHome(res, f.Result)
		return errors.AtPath(err, "callback", "result")
	})
	return out, err
}

func (f *HostFunc) String() string {
	return "hostfunc(" + f.proxy.Handle().String() + ")"
}
