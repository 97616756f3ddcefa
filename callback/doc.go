// Package callback gives managed callables a stable identity on the host.
//
// Host APIs that pair an "add" with a "remove" compare function objects, and
// a remove with a different object fails silently. Register creates the host
// function once and hands back the handle naming it; Unregister accepts only
// that handle and reports NotFound for anything else.
package callback
