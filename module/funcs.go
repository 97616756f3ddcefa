package module

import (
	"sort"

	"github.com/wippyai/js-bridge/value"
)

// FuncModule is a managed module made of Go callables.
type FuncModule struct {
	funcs map[string]value.Invoker
	name  string
}

// Name returns the module name.
func (m *FuncModule) Name() string { return m.name }

// Func returns the callable registered as name.
func (m *FuncModule) Func(name string) (value.Invoker, bool) {
	fn, ok := m.funcs[name]
	return fn, ok
}

// Names returns the callable names in sorted order.
func (m *FuncModule) Names() []string {
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
