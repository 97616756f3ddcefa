package module

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/value"
)

// Locator describes where a module comes from. Two locators with the same ID
// load the same module.
type Locator interface {
	ID() string
	load() (payload, error)
}

type payloadKind uint8

const (
	payloadScript payloadKind = iota
	payloadFuncs
	payloadWASM
)

type payload struct {
	funcs  map[string]value.Invoker
	origin string
	data   []byte
	kind   payloadKind
}

func digest(prefix string, data []byte) string {
	sum := sha256.Sum256(data)
	return prefix + hex.EncodeToString(sum[:8])
}

type sourceLocator struct {
	code string
}

// Source locates a script module given as source text.
func Source(code string) Locator { return sourceLocator{code: code} }

func (s sourceLocator) ID() string { return digest("source:", []byte(s.code)) }

func (s sourceLocator) load() (payload, error) {
	return payload{kind: payloadScript, data: []byte(s.code), origin: s.ID()}, nil
}

type fileLocator struct {
	path string
}

// File locates a script module on disk.
func File(path string) Locator {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fileLocator{path: path}
}

func (f fileLocator) ID() string { return "file:" + f.path }

func (f fileLocator) load() (payload, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return payload{}, errors.Load("read "+f.path, err)
	}
	return payload{kind: payloadScript, data: data, origin: f.path}, nil
}

type funcsLocator struct {
	funcs map[string]value.Invoker
	id    string
}

// Funcs locates a managed module made of Go callables. Every call to Funcs
// yields a distinct locator, even for the same map.
func Funcs(funcs map[string]value.Invoker) Locator {
	cp := make(map[string]value.Invoker, len(funcs))
	for name, fn := range funcs {
		cp[name] = fn
	}
	return &funcsLocator{funcs: cp, id: "funcs:" + uuid.NewString()}
}

func (f *funcsLocator) ID() string { return f.id }

func (f *funcsLocator) load() (payload, error) {
	return payload{kind: payloadFuncs, funcs: f.funcs, origin: f.id}, nil
}

type wasmLocator struct {
	path string
	data []byte
}

// WASM locates a managed WebAssembly module given as binary.
func WASM(data []byte) Locator { return wasmLocator{data: data} }

// WASMFile locates a managed WebAssembly module on disk.
func WASMFile(path string) Locator {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return wasmLocator{path: path}
}

func (w wasmLocator) ID() string {
	if w.path != "" {
		return "wasm-file:" + w.path
	}
	return digest("wasm:", w.data)
}

func (w wasmLocator) load() (payload, error) {
	if w.path == "" {
		return payload{kind: payloadWASM, data: w.data, origin: w.ID()}, nil
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return payload{}, errors.Load("read "+w.path, err)
	}
	return payload{kind: payloadWASM, data: data, origin: w.path}, nil
}
