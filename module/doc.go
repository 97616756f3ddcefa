// Package module loads the modules a bridge dispatches to.
//
// Script modules are evaluated on the host as CommonJS: the source sees
// exports, module and require. Managed modules are either tables of Go
// callables or WebAssembly binaries instantiated with wazero, whose numeric
// exports become callables.
//
// Every loaded module is reachable from scripts through a goja_nodejs require
// registry. Managed modules are registered as native modules; script sources
// are served by the registry's source loader under node_modules/<name>.
// Requiring a name that was never loaded fails with ModuleNotLoaded.
//
// A Loader is keyed by module name. Loading the same Locator twice under one
// name is a no-op. A script that failed to load keeps its name bound to the
// locator it came from.
package module
