package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/value"
)

// Target selects the side a declared callable lives on.
type Target uint8

const (
	TargetHost    Target = iota + 1 // a function exported by a script module
	TargetManaged                   // a function of a managed module
)

func (t Target) String() string {
	switch t {
	case TargetHost:
		return "host"
	case TargetManaged:
		return "managed"
	}
	return "unknown"
}

// Signature declares one cross-boundary callable.
type Signature struct {
	Module   string
	Name     string
	Params   []value.Mapping
	Result   value.Mapping
	Target   Target
	Variadic bool
}

// Key returns the module-qualified name.
func (s *Signature) Key() string {
	return s.Module + "#" + s.Name
}

// Param returns the mapping for argument i. For variadic signatures the last
// parameter mapping covers every trailing argument.
func (s *Signature) Param(i int) value.Mapping {
	if i < len(s.Params) {
		return s.Params[i]
	}
	if s.Variadic && len(s.Params) > 0 {
		return s.Params[len(s.Params)-1]
	}
	return value.Any
}

// ParamMapping implements codec.Typed.
func (s *Signature) ParamMapping(i int) value.Mapping { return s.Param(i) }

// ResultMapping implements codec.Typed.
func (s *Signature) ResultMapping() value.Mapping { return s.Result }

// CheckArity validates an argument count.
func (s *Signature) CheckArity(n int) error {
	if s.Variadic {
		if min := len(s.Params) - 1; n < min {
			return errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
				Path(s.Module, s.Name).
				Detail("expected at least %d arguments, got %d", min, n).Build()
		}
		return nil
	}
	if n != len(s.Params) {
		return errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Path(s.Module, s.Name).
			Detail("expected %d arguments, got %d", len(s.Params), n).Build()
	}
	return nil
}

// Validate is the declaration-time check of a signature.
func (s *Signature) Validate() error {
	if s.Module == "" || s.Name == "" {
		return errors.InvalidInput(errors.PhaseDeclare, "signature requires a module and a name")
	}
	if s.Target != TargetHost && s.Target != TargetManaged {
		return errors.New(errors.PhaseDeclare, errors.KindInvalidInput).
			Path(s.Module, s.Name).Detail("unknown target %d", s.Target).Build()
	}
	for i, p := range s.Params {
		if p.Kind == value.KindVoid {
			return errors.New(errors.PhaseDeclare, errors.KindUnsupportedMapping).
				Path(s.Module, s.Name, argName(i)).HomeType("void").
				Detail("void is only valid as a result").Build()
		}
		if err := p.Validate(); err != nil {
			return errors.AtPath(err, s.Module, s.Name, argName(i))
		}
	}
	if err := s.Result.Validate(); err != nil {
		return errors.AtPath(err, s.Module, s.Name, "result")
	}
	return nil
}

func (s *Signature) String() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = p.String()
		if s.Variadic && i == len(s.Params)-1 {
			params[i] = "..." + params[i]
		}
	}
	out := fmt.Sprintf("%s %s.%s(%s)", s.Target, s.Module, s.Name, strings.Join(params, ", "))
	if s.Result.Kind != value.KindVoid {
		out += " -> " + s.Result.String()
	}
	return out
}

// Registry holds declared signatures.
type Registry struct {
	sigs map[string]*Signature
	mu   sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sigs: make(map[string]*Signature)}
}

// Declare validates and records a signature. Ambiguous mappings are rejected
// here, never at call time. Declaring the same module and name twice fails.
func (r *Registry) Declare(sig Signature) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	s := sig
	s.Params = append([]value.Mapping(nil), sig.Params...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sigs[s.Key()]; exists {
		return errors.Registration(errors.PhaseDeclare, s.Module, s.Name,
			fmt.Errorf("%s already declared", s.Key()))
	}
	r.sigs[s.Key()] = &s
	return nil
}

// Lookup returns the signature for module and name.
func (r *Registry) Lookup(module, name string) (*Signature, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sigs[module+"#"+name]
	return s, ok
}

// Module returns the signatures declared for module, sorted by name.
func (r *Registry) Module(module string) []*Signature {
	r.mu.RLock()
	var out []*Signature
	for _, s := range r.sigs {
		if s.Module == module {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every signature, sorted by key.
func (r *Registry) All() []*Signature {
	r.mu.RLock()
	out := make([]*Signature, 0, len(r.sigs))
	for _, s := range r.sigs {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of declared signatures.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sigs)
}

func argName(i int) string {
	return fmt.Sprintf("arg%d", i)
}
