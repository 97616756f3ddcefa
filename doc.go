// Package jsbridge connects Go code to a JavaScript engine running on its own
// event loop.
//
// Values crossing the boundary are converted according to declared type
// mappings. Objects cross as handles that keep their identity in both
// directions, and Go functions passed to scripts keep a stable identity
// until unregistered.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	jsbridge/
//	├── bridge/      Facade wiring every component together
//	├── value/       Home-side values and declared type mappings
//	├── codec/       Conversion between home values and host values
//	├── handle/      Handle tables, proxies and scopes for object identity
//	├── loop/        Single-threaded event loop owning the goja runtime
//	├── async/       Promise and future adaptation
//	├── callback/    Stable host functions for Go callbacks
//	├── dispatch/    Signatures, the declaration parser and the dispatcher
//	├── module/      Script, Go function and WebAssembly module loading
//	├── diag/        Failure records and sinks
//	├── metrics/     Prometheus collectors
//	├── config/      Viper-backed configuration
//	├── errors/      Structured error types for debugging
//	└── cmd/jsbridge Command line runner with an interactive mode
//
// # Quick Start
//
//	b, err := bridge.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close(ctx)
//
//	err = b.DeclareText(`host module app {
//	    total: func(a: s32, b: s32) -> s32;
//	    fetch: func(id: string) -> promise<string>;
//	}`, dispatch.TargetHost)
//
//	err = b.LoadModule(ctx, "app", module.File("app.js"))
//
//	sum, err := b.Invoke(ctx, "app", "total", value.Int(2), value.Int(3))
//	fmt.Println(sum) // 5
//
//	pending, err := b.Invoke(ctx, "app", "fetch", value.String("42"))
//	res, err := b.Await(ctx, pending)
//
// # Type Mappings
//
// Every parameter and result is declared with a mapping:
//
//   - Primitives: bool, s8-s64, u8-u64, f32, f64, char, string
//   - Wide integers: s64 and u64 must choose "as number" or "as bigint"
//   - Others: bigint, instant, object, function, promise<T>, any, void
//
// Values outside the chosen representation fail with a range overflow
// instead of losing precision.
//
// # Managed Modules
//
// Scripts reach Go through require. Go function sets are loaded with
// module.Funcs, and core WebAssembly modules with module.WASM; both are
// called through the same dispatcher as script exports.
//
// # Thread Safety
//
// Bridge is safe for concurrent use. The goja runtime is only ever touched
// from the loop goroutine; blocking calls from other goroutines wait on it.
package jsbridge
