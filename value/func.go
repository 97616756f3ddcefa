package value

import "context"

// Func is the shape of a managed function.
type Func func(ctx context.Context, args []Value) (Value, error)

// Callable gives a Func a stable pointer identity.
// Two Callables wrapping the same Func are distinct.
type Callable struct {
	fn     Func
	Name   string
	Params []Mapping
	Result Mapping
}

// NewCallable wraps fn. Parameter and result mappings default to Any.
func NewCallable(name string, fn Func) *Callable {
	return &Callable{Name: name, fn: fn, Result: Mapping{Kind: KindAny}}
}

// Typed sets declared mappings for the callable's parameters and result.
func (c *Callable) Typed(result Mapping, params ...Mapping) *Callable {
	c.Params = params
	c.Result = result
	return c
}

// Invoke implements Invoker.
func (c *Callable) Invoke(ctx context.Context, args []Value) (Value, error) {
	return c.fn(ctx, args)
}

// ParamMapping returns the declared mapping for argument i, or Any.
func (c *Callable) ParamMapping(i int) Mapping {
	if i < len(c.Params) {
		return c.Params[i]
	}
	return Mapping{Kind: KindAny}
}

// ResultMapping returns the declared result mapping.
func (c *Callable) ResultMapping() Mapping { return c.Result }

// Func0 adapts a function without arguments or result.
func Func0(fn func(ctx context.Context) error) Func {
	return func(ctx context.Context, _ []Value) (Value, error) {
		return Absent(), fn(ctx)
	}
}
