package module

import (
	"github.com/dop251/goja"

	"github.com/wippyai/js-bridge/codec"
	"github.com/wippyai/js-bridge/errors"
)

// ScriptModule is a script evaluated on the host. Exports must only be
// touched on the loop.
type ScriptModule struct {
	exports *goja.Object
	name    string
	origin  string
}

// Name returns the module name.
func (m *ScriptModule) Name() string { return m.name }

// Exports returns the module's exports object.
func (m *ScriptModule) Exports() *goja.Object { return m.exports }

// Origin returns the file path or source digest the module was loaded from.
func (m *ScriptModule) Origin() string { return m.origin }

// evaluate requires name through the runtime's registry and returns its
// exports. The registry wraps the source as a CommonJS module.
func evaluate(vm *goja.Runtime, name string) (*goja.Object, error) {
	require, ok := goja.AssertFunction(vm.Get("require"))
	if !ok {
		return nil, errors.Load("script module "+name+": runtime has no require", nil)
	}
	out, err := require(goja.Undefined(), vm.ToValue(name))
	if err != nil {
		return nil, errors.Load("evaluate script module "+name, codec.Fault([]string{name}, err))
	}
	if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
		return nil, errors.Load("script module "+name+" has no exports", nil)
	}
	return out.ToObject(vm), nil
}
