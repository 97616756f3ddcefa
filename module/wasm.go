package module

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/js-bridge/dispatch"
	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/value"
)

// WasmModule is a managed module backed by an instantiated WebAssembly
// module. Only exports whose parameters and result are numeric core types
// are callable; calls into one instance are serialized.
type WasmModule struct {
	mod   api.Module
	funcs map[string]*wasmFunc
	name  string
	mu    sync.Mutex
}

// Name returns the module name.
func (m *WasmModule) Name() string { return m.name }

// Func returns the exported function name.
func (m *WasmModule) Func(name string) (value.Invoker, bool) {
	f, ok := m.funcs[name]
	if !ok {
		return nil, false
	}
	return f, true
}

// Names returns the callable exports in sorted order.
func (m *WasmModule) Names() []string {
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Signatures derives a managed signature for every callable export from its
// core types.
func (m *WasmModule) Signatures() []dispatch.Signature {
	out := make([]dispatch.Signature, 0, len(m.funcs))
	for _, name := range m.Names() {
		f := m.funcs[name]
		sig := dispatch.Signature{
			Module: m.name,
			Name:   name,
			Params: make([]value.Mapping, len(f.params)),
			Result: f.ResultMapping(),
			Target: dispatch.TargetManaged,
		}
		for i := range f.params {
			sig.Params[i] = f.ParamMapping(i)
		}
		out = append(out, sig)
	}
	return out
}

func (m *WasmModule) close(ctx context.Context) error {
	return m.mod.Close(ctx)
}

type wasmFunc struct {
	owner   *WasmModule
	fn      api.Function
	name    string
	params  []api.ValueType
	results []api.ValueType
}

func (f *wasmFunc) String() string { return f.owner.name + "." + f.name }

// ParamMapping reports the natural mapping of a core value type. Declared
// signatures override it at dispatch.
func (f *wasmFunc) ParamMapping(i int) value.Mapping {
	if i < len(f.params) {
		return coreMapping(f.params[i])
	}
	return value.Any
}

func (f *wasmFunc) ResultMapping() value.Mapping {
	if len(f.results) == 0 {
		return value.Void
	}
	return coreMapping(f.results[0])
}

func (f *wasmFunc) Invoke(ctx context.Context, args []value.Value) (value.Value, error) {
	if len(args) != len(f.params) {
		return value.Absent(), errors.InvalidInput(errors.PhaseDispatch,
			f.String()+": wrong number of arguments")
	}
	stack := make([]uint64, len(args))
	for i, arg := range args {
		raw, err := encodeCore(f.params[i], arg)
		if err != nil {
			return value.Absent(), errors.AtPath(err, f.owner.name, f.name, argName(i))
		}
		stack[i] = raw
	}

	f.owner.mu.Lock()
	out, err := f.fn.Call(ctx, stack...)
	f.owner.mu.Unlock()
	if err != nil {
		return value.Absent(), errors.ForeignFault([]string{f.owner.name, f.name}, err.Error(), err)
	}
	if len(f.results) == 0 {
		return value.Absent(), nil
	}
	return decodeCore(f.results[0], out[0]), nil
}

func coreMapping(t api.ValueType) value.Mapping {
	switch t {
	case api.ValueTypeI32:
		return value.S32
	case api.ValueTypeI64:
		return value.As(value.KindInt64, value.TagBigInt)
	case api.ValueTypeF32:
		return value.M(value.KindFloat32)
	case api.ValueTypeF64:
		return value.F64
	}
	return value.Any
}

func coreSupported(t api.ValueType) bool {
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		return true
	}
	return false
}

func encodeCore(t api.ValueType, v value.Value) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		i, err := integer(v, api.ValueTypeName(t))
		if err != nil {
			return 0, err
		}
		if i < math.MinInt32 || i > math.MaxUint32 {
			return 0, errors.RangeOverflow(errors.PhaseEncode, nil, i, "i32")
		}
		return api.EncodeI32(int32(i)), nil
	case api.ValueTypeI64:
		if v.Tag() == value.TagBigInt {
			b := v.AsBigInt()
			switch {
			case b.IsInt64():
				return uint64(b.Int64()), nil
			case b.IsUint64():
				return b.Uint64(), nil
			}
			return 0, errors.RangeOverflow(errors.PhaseEncode, nil, b.String(), "i64")
		}
		i, err := integer(v, api.ValueTypeName(t))
		if err != nil {
			return 0, err
		}
		return api.EncodeI64(i), nil
	case api.ValueTypeF32:
		if !numeric(v) {
			return 0, errors.UnsupportedMapping(errors.PhaseEncode, nil, v.Tag().String(), "f32")
		}
		return api.EncodeF32(float32(v.AsFloat())), nil
	case api.ValueTypeF64:
		if !numeric(v) {
			return 0, errors.UnsupportedMapping(errors.PhaseEncode, nil, v.Tag().String(), "f64")
		}
		return api.EncodeF64(v.AsFloat()), nil
	}
	return 0, errors.UnsupportedMapping(errors.PhaseEncode, nil, v.Tag().String(), api.ValueTypeName(t))
}

func numeric(v value.Value) bool {
	switch v.Tag() {
	case value.TagInt, value.TagFloat:
		return true
	}
	return false
}

func integer(v value.Value, target string) (int64, error) {
	switch v.Tag() {
	case value.TagInt:
		return v.AsInt(), nil
	case value.TagBool:
		if v.AsBool() {
			return 1, nil
		}
		return 0, nil
	case value.TagBigInt:
		if b := v.AsBigInt(); b.IsInt64() {
			return b.Int64(), nil
		}
		return 0, errors.RangeOverflow(errors.PhaseEncode, nil, v.AsBigInt().String(), target)
	case value.TagFloat:
		f := v.AsFloat()
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), nil
		}
	}
	return 0, errors.UnsupportedMapping(errors.PhaseEncode, nil, v.Tag().String(), target)
}

func decodeCore(t api.ValueType, raw uint64) value.Value {
	switch t {
	case api.ValueTypeI32:
		return value.Int(int64(api.DecodeI32(raw)))
	case api.ValueTypeI64:
		return value.Int(int64(raw))
	case api.ValueTypeF32:
		return value.Float(float64(api.DecodeF32(raw)))
	}
	return value.Float(api.DecodeF64(raw))
}

// instantiate compiles and instantiates data as name, keeping only exports
// with a numeric core signature of at most one result.
func instantiate(ctx context.Context, rt wazero.Runtime, name string, data []byte, log *zap.Logger) (*WasmModule, error) {
	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		return nil, errors.Load("compile wasm module "+name, err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Load("instantiate wasm module "+name, err)
	}

	m := &WasmModule{name: name, mod: mod, funcs: make(map[string]*wasmFunc)}
	for export, def := range compiled.ExportedFunctions() {
		params, results := def.ParamTypes(), def.ResultTypes()
		if !callable(params, results) {
			log.Debug("skipping wasm export with unsupported signature",
				zap.String("module", name), zap.String("export", export))
			continue
		}
		m.funcs[export] = &wasmFunc{
			owner:   m,
			fn:      mod.ExportedFunction(export),
			name:    export,
			params:  params,
			results: results,
		}
	}
	return m, nil
}

func callable(params, results []api.ValueType) bool {
	if len(results) > 1 {
		return false
	}
	for _, t := range params {
		if !coreSupported(t) {
			return false
		}
	}
	for _, t := range results {
		if !coreSupported(t) {
			return false
		}
	}
	return true
}
