package codec

import (
	"github.com/dop251/goja"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/value"
)

// Typed is implemented by invokers that declare parameter and result mappings.
type Typed interface {
	ParamMapping(i int) value.Mapping
	ResultMapping() value.Mapping
}

// ToForeign converts a managed value to its host representation under m.
func (c *Codec) ToForeign(v value.Value, m value.Mapping) (goja.Value, error) {
	v, err := Conform(v, m)
	if err != nil {
		return nil, err
	}

	if v.IsAbsent() {
		if m.Kind == value.KindObject || m.Kind == value.KindFunction {
			return goja.Null(), nil
		}
		return goja.Undefined(), nil
	}

	switch m.Kind {
	case value.KindAny:
		return c.anyToForeign(v)
	case value.KindBool:
		return c.vm.ToValue(v.AsBool()), nil
	case value.KindInt8, value.KindUint8, value.KindInt16, value.KindUint16,
		value.KindInt32, value.KindUint32:
		return c.vm.ToValue(v.AsInt()), nil
	case value.KindInt64, value.KindUint64:
		if m.As == value.TagBigInt {
			return c.vm.ToValue(v.AsBigInt()), nil
		}
		return c.safeNumber(v, m.Kind.String())
	case value.KindFloat32, value.KindFloat64:
		return c.vm.ToValue(v.AsFloat()), nil
	case value.KindBigInt:
		return c.vm.ToValue(v.AsBigInt()), nil
	case value.KindString:
		return c.vm.ToValue(v.AsString()), nil
	case value.KindInstant:
		return c.instantToForeign(v)
	case value.KindObject:
		return c.objectToForeign(v.Ref())
	case value.KindFunction:
		inv, _ := v.AsInvoker()
		return c.functionToForeign(inv)
	case value.KindPending:
		return c.pendingToForeign(v.Ref(), *m.Elem)
	}
	return nil, mismatch(errors.PhaseEncode, m, v.Tag().String())
}

func (c *Codec) anyToForeign(v value.Value) (goja.Value, error) {
	switch v.Tag() {
	case value.TagBool:
		return c.vm.ToValue(v.AsBool()), nil
	case value.TagInt:
		return c.safeNumber(v, "number")
	case value.TagFloat:
		return c.vm.ToValue(v.AsFloat()), nil
	case value.TagBigInt:
		return c.vm.ToValue(v.AsBigInt()), nil
	case value.TagString:
		return c.vm.ToValue(v.AsString()), nil
	case value.TagInstant:
		return c.instantToForeign(v)
	case value.TagObject:
		return c.objectToForeign(v.Ref())
	case value.TagFunction:
		inv, _ := v.AsInvoker()
		return c.functionToForeign(inv)
	case value.TagPending:
		return c.pendingToForeign(v.Ref(), value.Any)
	}
	return goja.Undefined(), nil
}

// safeNumber emits an integer as a host number, refusing values the number
// type cannot hold exactly.
func (c *Codec) safeNumber(v value.Value, target string) (goja.Value, error) {
	if v.Tag() == value.TagBigInt {
		b := v.AsBigInt()
		return nil, errors.RangeOverflow(errors.PhaseEncode, nil, b, target)
	}
	i := v.AsInt()
	if i > value.MaxSafeInteger || i < -value.MaxSafeInteger {
		return nil, errors.New(errors.PhaseEncode, errors.KindRangeOverflow).
			ForeignType(target).
			Value(i).
			Detail("value %d exceeds the exact number range; declare it as bigint", i).
			Build()
	}
	return c.vm.ToValue(i), nil
}

func (c *Codec) instantToForeign(v value.Value) (goja.Value, error) {
	ms := v.AsInstant().UnixMilli()
	d, err := c.vm.New(c.vm.Get("Date"), c.vm.ToValue(ms))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindForeignFault, err, "construct Date")
	}
	return d, nil
}

func (c *Codec) objectToForeign(ref any) (goja.Value, error) {
	switch r := ref.(type) {
	case nil:
		return goja.Null(), nil
	case Foreign:
		return r.Foreign(), nil
	case goja.Value:
		return r, nil
	case *handle.Proxy:
		return c.proxyToForeign(r)
	case handle.Handle:
		return c.handleToForeign(r)
	}
	return c.wrapManaged(ref)
}

func (c *Codec) proxyToForeign(p *handle.Proxy) (goja.Value, error) {
	if p.Home() == handle.Managed && p.Holder() == c.Side() {
		obj, err := p.Unwrap()
		if err != nil {
			return nil, err
		}
		return c.objectToForeign(obj)
	}
	obj, err := p.MarshalTo(c.Side())
	if err != nil {
		return nil, err
	}
	fv, ok := obj.(goja.Value)
	if !ok {
		return nil, errors.DoubleProxy(p.Handle(), c.Side())
	}
	return fv, nil
}

func (c *Codec) handleToForeign(h handle.Handle) (goja.Value, error) {
	switch h.Home {
	case c.Side():
		obj, err := c.host.Lookup(h)
		if err != nil {
			return nil, err
		}
		return obj.(goja.Value), nil
	case handle.Managed:
		obj, err := c.managed.Resolve(h, c.Side())
		if err != nil {
			return nil, err
		}
		return c.objectToForeign(obj)
	}
	return nil, errors.WrongSide(h, c.Side())
}

// wrapManaged returns the host wrapper of a managed object, creating and
// caching it per handle.
func (c *Codec) wrapManaged(ref any) (goja.Value, error) {
	h, err := c.managed.ExposeTransient(ref, c.Side())
	if err != nil {
		return nil, err
	}
	if w := c.cachedWrapper(h); w != nil {
		return w, nil
	}
	w := c.vm.ToValue(ref).ToObject(c.vm)
	return w, c.track(h, w)
}

func (c *Codec) track(h handle.Handle, w *goja.Object) error {
	if err := handle.Watch(c.managed, h, w); err != nil {
		return err
	}
	c.remember(h, w)
	return nil
}

// Remember records w as the host representation of a managed handle, so w
// converts back to the original managed object.
func (c *Codec) Remember(h handle.Handle, w *goja.Object) {
	c.remember(h, w)
}

func (c *Codec) functionToForeign(inv value.Invoker) (goja.Value, error) {
	switch f := inv.(type) {
	case nil:
		return goja.Null(), nil
	case Foreign:
		return f.Foreign(), nil
	case *HostFunc:
		return c.proxyToForeign(f.proxy)
	}

	h, err := c.managed.ExposeTransient(inv, c.Side())
	if err != nil {
		return nil, err
	}
	if w := c.cachedWrapper(h); w != nil {
		return w, nil
	}
	w := c.vm.ToValue(c.NativeFunc(inv)).ToObject(c.vm)
	return w, c.track(h, w)
}

// NativeFunc returns a host function body that converts its arguments,
// invokes inv on the loop's current context and converts the result back.
// Errors are thrown into the calling script.
func (c *Codec) NativeFunc(inv value.Invoker) func(goja.FunctionCall) goja.Value {
	typed, _ := inv.(Typed)
	return func(call goja.FunctionCall) goja.Value {
		args := make([]value.Value, len(call.Arguments))
		for i, a := range call.Arguments {
			m := value.Any
			if typed != nil {
				m = typed.ParamMapping(i)
			}
			v, err := c.ToHome(a, m)
			if err != nil {
				panic(c.vm.NewGoError(errors.AtPath(err, argName(i))))
			}
			args[i] = v
		}

		res, err := inv.Invoke(c.loop.Current(), args)
		if err != nil {
			panic(c.vm.NewGoError(err))
		}

		rm := value.Any
		if typed != nil {
			rm = typed.ResultMapping()
		}
		out, err := c.ToForeign(res, rm)
		if err != nil {
			panic(c.vm.NewGoError(errors.AtPath(err, "result")))
		}
		return out
	}
}

func (c *Codec) pendingToForeign(ref any, elem value.Mapping) (goja.Value, error) {
	if c.pending == nil {
		return nil, errors.UnsupportedMapping(errors.PhaseEncode, nil, "promise", "pending")
	}
	return c.pending.PendingToForeign(ref, elem)
}
