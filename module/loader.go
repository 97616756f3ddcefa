package module

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/tetratelabs/wazero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/js-bridge/dispatch"
	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/loop"
)

// Kind names the flavour of a loaded module.
type Kind string

const (
	KindScript Kind = "script"
	KindFuncs  Kind = "funcs"
	KindWASM   Kind = "wasm"
)

// Info describes a loaded module.
type Info struct {
	Name      string
	Kind      Kind
	Origin    string
	Functions []string
}

// Exporter builds the script-visible object for a managed module.
type Exporter func(dispatch.ManagedModule) *goja.Object

// LoadHook observes every LoadModule call that did real work.
type LoadHook func(name string, kind Kind, err error)

type loaded struct {
	script  *ScriptModule
	managed dispatch.ManagedModule
	wasm    *WasmModule
	id      string
	kind    Kind
}

// nodeModules is the directory bare require names resolve under.
const nodeModules = "node_modules/"

// Loader loads script and managed modules by name and resolves them for the
// dispatcher. It is the dispatch.Resolver of a bridge.
//
// Scripts reach loaded modules through a require registry: managed modules
// are native modules, script sources are served to the registry's source
// loader. The registry caches every module object, so require returns the
// same exports each time.
type Loader struct {
	loop     *loop.Loop
	registry *require.Registry
	log      *zap.Logger
	exporter Exporter
	rt       wazero.Runtime
	rtConfig wazero.RuntimeConfig
	modules  map[string]*loaded
	sources  map[string][]byte
	failed   map[string]string
	hooks    []LoadHook
	loadMu   sync.Mutex
	mu       sync.RWMutex
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.log = l
		}
	}
}

// WithExporter sets how require exposes managed modules to scripts.
func WithExporter(e Exporter) Option {
	return func(ld *Loader) { ld.exporter = e }
}

// WithMemoryLimitPages caps the linear memory of wasm modules (64KiB pages).
func WithMemoryLimitPages(pages uint32) Option {
	return func(ld *Loader) {
		if pages > 0 {
			ld.rtConfig = ld.rtConfig.WithMemoryLimitPages(pages)
		}
	}
}

// WithLoadHook adds a load observer.
func WithLoadHook(h LoadHook) Option {
	return func(ld *Loader) { ld.hooks = append(ld.hooks, h) }
}

// NewLoader creates a loader with its require registry. The host loop must be
// built on Registry and handed back with Attach before modules are loaded:
//
//	ld := module.NewLoader()
//	l, _ := loop.New(loop.WithRegistry(ld.Registry()))
//	ld.Attach(l)
func NewLoader(opts ...Option) *Loader {
	ld := &Loader{
		log:      zap.NewNop(),
		rtConfig: wazero.NewRuntimeConfig().WithCloseOnContextDone(true),
		modules:  make(map[string]*loaded),
		sources:  make(map[string][]byte),
		failed:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(ld)
	}
	ld.registry = require.NewRegistry(require.WithLoader(ld.source))
	return ld
}

// Registry returns the require registry scripts resolve modules from.
func (ld *Loader) Registry() *require.Registry { return ld.registry }

// Attach sets the host loop modules are evaluated on.
func (ld *Loader) Attach(l *loop.Loop) {
	ld.loadMu.Lock()
	ld.loop = l
	ld.loadMu.Unlock()
}

// SetExporter sets the exporter after construction. The dispatcher needs the
// loader as its resolver, so the exporter is usually wired afterwards.
func (ld *Loader) SetExporter(e Exporter) {
	ld.mu.Lock()
	ld.exporter = e
	ld.mu.Unlock()
}

// LoadModule loads the module at loc under name. Loading the same locator
// again is a no-op; loading a different one under a taken name fails.
//
// LoadModule must not be called from inside a module's own evaluation.
func (ld *Loader) LoadModule(ctx context.Context, name string, loc Locator) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseLoad, "module name is empty")
	}
	if loc == nil {
		return errors.InvalidInput(errors.PhaseLoad, "module locator is nil")
	}

	ld.loadMu.Lock()
	defer ld.loadMu.Unlock()

	if ld.loop == nil {
		return errors.InvalidInput(errors.PhaseLoad, "loader is not attached to a loop")
	}

	ld.mu.RLock()
	prev, ok := ld.modules[name]
	failedID, failed := ld.failed[name]
	ld.mu.RUnlock()
	if ok {
		if prev.id == loc.ID() {
			return nil
		}
		return errors.InvalidInput(errors.PhaseLoad,
			fmt.Sprintf("module %q is already loaded from %s", name, prev.id))
	}
	// The registry keeps what a failed script left behind under its name.
	if failed && failedID != loc.ID() {
		return errors.InvalidInput(errors.PhaseLoad,
			fmt.Sprintf("module %q failed to load from %s and is bound to it", name, failedID))
	}

	m, err := ld.load(ctx, name, loc)
	for _, h := range ld.hooks {
		kind := Kind("")
		if m != nil {
			kind = m.kind
		}
		h(name, kind, err)
	}
	if err != nil {
		ld.log.Warn("module load failed", zap.String("module", name), zap.String("locator", loc.ID()), zap.Error(err))
		return err
	}

	ld.mu.Lock()
	ld.modules[name] = m
	ld.mu.Unlock()
	ld.log.Info("module loaded", zap.String("module", name), zap.String("kind", string(m.kind)), zap.String("locator", m.id))
	return nil
}

func (ld *Loader) load(ctx context.Context, name string, loc Locator) (*loaded, error) {
	p, err := loc.load()
	if err != nil {
		return nil, err
	}

	m := &loaded{id: loc.ID()}
	switch p.kind {
	case payloadScript:
		m.kind = KindScript
		ld.mu.Lock()
		ld.sources[name] = p.data
		ld.mu.Unlock()

		err = ld.loop.Do(ctx, func(_ context.Context, vm *goja.Runtime) error {
			exports, err := evaluate(vm, name)
			if err != nil {
				return err
			}
			m.script = &ScriptModule{name: name, origin: p.origin, exports: exports}
			return nil
		})
		if err != nil {
			ld.mu.Lock()
			ld.failed[name] = m.id
			ld.mu.Unlock()
		}
		return m, err
	case payloadFuncs:
		m.kind = KindFuncs
		m.managed = &FuncModule{name: name, funcs: p.funcs}
	case payloadWASM:
		m.kind = KindWASM
		m.wasm, err = instantiate(ctx, ld.runtime(ctx), name, p.data, ld.log)
		if err != nil {
			return m, err
		}
		m.managed = m.wasm
	}

	err = ld.loop.Do(ctx, func(context.Context, *goja.Runtime) error {
		ld.registry.RegisterNativeModule(name, ld.native(m.managed))
		return nil
	})
	if err != nil && m.wasm != nil {
		_ = m.wasm.close(ctx)
	}
	return m, err
}

// native builds the require loader of a managed module. The exporter runs on
// the first require; the registry caches its object.
func (ld *Loader) native(mod dispatch.ManagedModule) require.ModuleLoader {
	return func(vm *goja.Runtime, module *goja.Object) {
		ld.mu.RLock()
		exporter := ld.exporter
		ld.mu.RUnlock()
		if exporter == nil {
			panic(vm.NewGoError(errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("managed module %q cannot be required without an exporter", mod.Name()))))
		}
		_ = module.Set("exports", exporter(mod))
	}
}

// source serves script module text to the registry. A bare require name is
// looked up under node_modules, so the module name is what follows it.
func (ld *Loader) source(path string) ([]byte, error) {
	i := strings.LastIndex(path, nodeModules)
	if i < 0 {
		return nil, errors.ModuleNotLoaded(path)
	}
	name := path[i+len(nodeModules):]

	ld.mu.RLock()
	defer ld.mu.RUnlock()
	if src, ok := ld.sources[name]; ok {
		return src, nil
	}
	return nil, errors.ModuleNotLoaded(name)
}

func (ld *Loader) runtime(ctx context.Context) wazero.Runtime {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	if ld.rt == nil {
		ld.rt = wazero.NewRuntimeWithConfig(ctx, ld.rtConfig)
	}
	return ld.rt
}

// HostModule implements dispatch.Resolver.
func (ld *Loader) HostModule(name string) (dispatch.HostModule, bool) {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	m, ok := ld.modules[name]
	if !ok || m.script == nil {
		return nil, false
	}
	return m.script, true
}

// ManagedModule implements dispatch.Resolver.
func (ld *Loader) ManagedModule(name string) (dispatch.ManagedModule, bool) {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	m, ok := ld.modules[name]
	if !ok || m.managed == nil {
		return nil, false
	}
	return m.managed, true
}

// Loaded reports whether name is loaded.
func (ld *Loader) Loaded(name string) bool {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	_, ok := ld.modules[name]
	return ok
}

// Modules describes every loaded module, sorted by name.
func (ld *Loader) Modules() []Info {
	ld.mu.RLock()
	defer ld.mu.RUnlock()

	out := make([]Info, 0, len(ld.modules))
	for name, m := range ld.modules {
		info := Info{Name: name, Kind: m.kind, Origin: m.id}
		if m.managed != nil {
			info.Functions = m.managed.Names()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close releases every wasm instance and the wasm runtime.
func (ld *Loader) Close(ctx context.Context) error {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	var errs error
	for _, m := range ld.modules {
		if m.wasm != nil {
			errs = multierr.Append(errs, m.wasm.close(ctx))
		}
	}
	if ld.rt != nil {
		errs = multierr.Append(errs, ld.rt.Close(ctx))
		ld.rt = nil
	}
	ld.modules = make(map[string]*loaded)
	ld.sources = make(map[string][]byte)
	return errs
}

func argName(i int) string { return fmt.Sprintf("arg%d", i) }
