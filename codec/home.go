package codec

import (
	"math"
	"math/big"
	"time"

	"github.com/dop251/goja"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/handle"
	"github.com/wippyai/js-bridge/value"
)

// ToHome converts a host value to a managed Value under m.
func (c *Codec) ToHome(fv goja.Value, m value.Mapping) (value.Value, error) {
	if m.Kind == value.KindVoid {
		return value.Absent(), nil
	}
	if isNullish(fv) {
		if m.Nullable() {
			return value.Absent(), nil
		}
		return value.Value{}, mismatch(errors.PhaseDecode, m, TypeOf(fv))
	}

	switch m.Kind {
	case value.KindAny:
		return c.classify(fv)
	case value.KindBool:
		if b, ok := fv.Export().(bool); ok {
			return value.Bool(b), nil
		}
	case value.KindInt8, value.KindUint8, value.KindInt16, value.KindUint16,
		value.KindInt32, value.KindUint32:
		return decodeInt(fv, m)
	case value.KindInt64, value.KindUint64:
		if m.As == value.TagBigInt {
			return decodeWideBigInt(fv, m)
		}
		return decodeSafeInt(fv, m)
	case value.KindFloat32:
		if f, ok := number(fv); ok {
			return value.Float(float64(float32(f))), nil
		}
	case value.KindFloat64:
		if f, ok := number(fv); ok {
			return value.Float(f), nil
		}
	case value.KindBigInt:
		if b, ok := fv.Export().(*big.Int); ok {
			return value.BigInt(b), nil
		}
	case value.KindString:
		if s, ok := fv.Export().(string); ok {
			return value.String(s), nil
		}
	case value.KindInstant:
		if obj, ok := fv.(*goja.Object); ok && obj.ClassName() == "Date" {
			if t, ok := obj.Export().(time.Time); ok {
				return value.Instant(t), nil
			}
		}
	case value.KindObject:
		if obj, ok := fv.(*goja.Object); ok {
			return c.objectToHome(obj)
		}
	case value.KindFunction:
		if obj, ok := fv.(*goja.Object); ok {
			if _, ok := goja.AssertFunction(obj); ok {
				return c.functionToHome(obj)
			}
		}
	case value.KindPending:
		if c.pending == nil {
			return value.Value{}, errors.UnsupportedMapping(errors.PhaseDecode, nil, "promise", TypeOf(fv))
		}
		return c.pending.PendingToHome(fv, *m.Elem)
	}
	return value.Value{}, mismatch(errors.PhaseDecode, m, TypeOf(fv))
}

// classify picks the managed representation of an undeclared host value.
func (c *Codec) classify(fv goja.Value) (value.Value, error) {
	if isNullish(fv) {
		return value.Absent(), nil
	}

	switch x := fv.(type) {
	case *goja.Symbol:
		return c.opaqueToHome(x)
	case *goja.Object:
		switch x.ClassName() {
		case "Date":
			if t, ok := x.Export().(time.Time); ok {
				return value.Instant(t), nil
			}
		case "Promise":
			if c.pending != nil {
				return c.pending.PendingToHome(x, value.Any)
			}
		}
		if _, ok := goja.AssertFunction(x); ok {
			return c.functionToHome(x)
		}
		return c.objectToHome(x)
	}

	switch e := fv.Export().(type) {
	case bool:
		return value.Bool(e), nil
	case string:
		return value.String(e), nil
	case int64:
		if e > value.MaxSafeInteger || e < -value.MaxSafeInteger {
			return value.Float(float64(e)), nil
		}
		return value.Int(e), nil
	case float64:
		if e == math.Trunc(e) && math.Abs(e) <= value.MaxSafeInteger {
			return value.Int(int64(e)), nil
		}
		return value.Float(e), nil
	case *big.Int:
		return value.BigInt(e), nil
	}
	return c.opaqueToHome(fv)
}

func (c *Codec) objectToHome(obj *goja.Object) (value.Value, error) {
	if orig, ok := c.managedOrigin(obj); ok {
		return value.Object(orig), nil
	}
	return c.opaqueToHome(obj)
}

// opaqueToHome hands the managed side a proxy for a host value it cannot
// represent directly.
func (c *Codec) opaqueToHome(fv goja.Value) (value.Value, error) {
	p, err := c.hostProxy(fv)
	if err != nil {
		return value.Value{}, err
	}
	return value.Object(p), nil
}

func (c *Codec) hostProxy(fv goja.Value) (*handle.Proxy, error) {
	h, err := c.host.ExposeTransient(fv, handle.Managed)
	if err != nil {
		return nil, err
	}
	return c.host.Proxy(h)
}

func (c *Codec) functionToHome(obj *goja.Object) (value.Value, error) {
	if orig, ok := c.managedOrigin(obj); ok {
		if inv, ok := orig.(value.Invoker); ok {
			return value.Function(inv), nil
		}
		return value.Object(orig), nil
	}
	p, err := c.hostProxy(obj)
	if err != nil {
		return value.Value{}, err
	}
	return value.Function(c.hostFunc(p)), nil
}

func isNullish(fv goja.Value) bool {
	return fv == nil || goja.IsUndefined(fv) || goja.IsNull(fv)
}

func number(fv goja.Value) (float64, bool) {
	switch e := fv.Export().(type) {
	case int64:
		return float64(e), true
	case float64:
		return e, true
	}
	return 0, false
}

func decodeInt(fv goja.Value, m value.Mapping) (value.Value, error) {
	lo, hi, _ := m.Kind.IntRange()

	switch e := fv.Export().(type) {
	case int64:
		if e < lo || e > hi {
			return value.Value{}, errors.RangeOverflow(errors.PhaseDecode, nil, e, m.Kind.String())
		}
		return value.Int(e), nil
	case float64:
		if math.IsNaN(e) || math.IsInf(e, 0) || e != math.Trunc(e) {
			return value.Value{}, errors.New(errors.PhaseDecode, errors.KindUnsupportedMapping).
				HomeType(m.String()).ForeignType("number").Value(e).
				Detail("%v is not an integer", e).Build()
		}
		if m.Kind == value.KindUint64 && e >= 0 && e < math.Exp2(64) {
			return value.Uint(uint64(e)), nil
		}
		if e < math.MinInt64 || e >= math.Exp2(63) || int64(e) < lo || int64(e) > hi {
			return value.Value{}, errors.RangeOverflow(errors.PhaseDecode, nil, e, m.Kind.String())
		}
		return value.Int(int64(e)), nil
	}
	return value.Value{}, mismatch(errors.PhaseDecode, m, TypeOf(fv))
}

// decodeSafeInt decodes a wide integer carried as a host number. A number
// past the exact range may already have been rounded, so it is refused.
func decodeSafeInt(fv goja.Value, m value.Mapping) (value.Value, error) {
	var mag float64
	switch e := fv.Export().(type) {
	case int64:
		mag = math.Abs(float64(e))
	case float64:
		mag = math.Abs(e)
	}
	if mag > value.MaxSafeInteger {
		return value.Value{}, errors.New(errors.PhaseDecode, errors.KindRangeOverflow).
			HomeType(m.String()).ForeignType("number").Value(fv.Export()).
			Detail("number exceeds the exact integer range; declare %s as bigint", m.Kind).Build()
	}
	return decodeInt(fv, m)
}

func decodeWideBigInt(fv goja.Value, m value.Mapping) (value.Value, error) {
	b, ok := fv.Export().(*big.Int)
	if !ok {
		return value.Value{}, mismatch(errors.PhaseDecode, m, TypeOf(fv))
	}
	if m.Kind == value.KindUint64 {
		if b.Sign() < 0 || b.BitLen() > 64 {
			return value.Value{}, errors.RangeOverflow(errors.PhaseDecode, nil, b, m.Kind.String())
		}
		return value.Uint(b.Uint64()), nil
	}
	if !b.IsInt64() {
		return value.Value{}, errors.RangeOverflow(errors.PhaseDecode, nil, b, m.Kind.String())
	}
	return value.Int(b.Int64()), nil
}

// TypeOf names a host value's type for diagnostics.
func TypeOf(fv goja.Value) string {
	switch {
	case fv == nil || goja.IsUndefined(fv):
		return "undefined"
	case goja.IsNull(fv):
		return "null"
	}
	switch x := fv.(type) {
	case *goja.Symbol:
		return "symbol"
	case *goja.Object:
		if _, ok := goja.AssertFunction(x); ok {
			return "function"
		}
		switch cn := x.ClassName(); cn {
		case "Date", "Promise", "Array", "Error":
			return cn
		}
		return "object"
	}
	switch fv.Export().(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	case int64, float64:
		return "number"
	case *big.Int:
		return "bigint"
	}
	return "unknown"
}
