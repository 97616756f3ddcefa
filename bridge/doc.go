// Package bridge assembles the interop components into one object.
//
// A Bridge owns a host script engine on its own event loop, the handle
// tables for both sides, the type codec, the async adapter, the callback
// registry, the module loader and the call dispatcher. Most programs only
// need this package:
//
//	b, err := bridge.New(ctx, bridge.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer b.Close(ctx)
//
//	err = b.DeclareText(`host module greeter {
//	    greet: func(name: string) -> string;
//	}`, dispatch.TargetHost)
//	err = b.LoadModule(ctx, "greeter", module.File("greeter.js"))
//
//	v, err := b.Invoke(ctx, "greeter", "greet", value.String("ada"))
//
// Failures are returned to the caller and also reported to the configured
// diag.Sink. When a Prometheus registerer is given, every collector carries
// a bridge label with the bridge ID.
//
// All methods are safe for concurrent use. Host work is serialized on the
// loop; methods called from inside a host callback run inline.
package bridge
