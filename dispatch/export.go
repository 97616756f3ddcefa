package dispatch

import (
	"context"

	"github.com/dop251/goja"

	"github.com/wippyai/js-bridge/value"
)

// bound is a managed function seen through its declared signature.
type bound struct {
	sig *Signature
	fn  value.Invoker
}

func (b *bound) ParamMapping(i int) value.Mapping { return b.sig.Param(i) }

func (b *bound) ResultMapping() value.Mapping { return b.sig.Result }

func (b *bound) Invoke(ctx context.Context, args []value.Value) (value.Value, error) {
	if err := b.sig.CheckArity(len(args)); err != nil {
		return value.Value{}, err
	}
	res, err := b.fn.Invoke(ctx, args)
	if err != nil {
		return value.Value{}, managedFault(b.sig, err)
	}
	return res, nil
}

// Export builds the script-visible object of a managed module. Declared
// functions convert under their signatures; undeclared ones accept and
// return any value. Errors a managed function returns are thrown into the
// calling script. It must be called on the loop.
func (d *Dispatcher) Export(mod ManagedModule) *goja.Object {
	vm := d.loop.Runtime()
	obj := vm.NewObject()

	for _, name := range mod.Names() {
		fn, ok := mod.Func(name)
		if !ok {
			continue
		}
		sig, declared := d.reg.Lookup(mod.Name(), name)
		if !declared || sig.Target != TargetManaged {
			sig = &Signature{
				Module:   mod.Name(),
				Name:     name,
				Target:   TargetManaged,
				Params:   []value.Mapping{value.Any},
				Result:   value.Any,
				Variadic: true,
			}
		}
		_ = obj.Set(name, d.codec.NativeFunc(&bound{sig: sig, fn: fn}))
	}
	return obj
}
