// Package loop runs the host script engine on a single-threaded event loop.
//
// A Loop owns one goja runtime driven by a goja_nodejs event loop. Every access
// to the runtime goes through the loop goroutine, either synchronously with Do
// or fire-and-forget with Post:
//
//	l, _ := loop.New(loop.WithCallTimeout(5 * time.Second))
//	defer l.Close(ctx)
//
//	err := l.Do(ctx, func(ctx context.Context, vm *goja.Runtime) error {
//		_, err := vm.RunString("1 + 1")
//		return err
//	})
//
// The context handed to a job carries the loop marker. A Go function called by
// a script receives it through Current, and any Do it issues with that context
// runs inline instead of queueing behind itself. This is how host callbacks
// nest inside managed calls on one logical thread. Close called with such a
// context does not wait for the loop; it stops once the calling job returns.
//
// The runtime has require, console, setTimeout, setInterval, setImmediate and
// their clear functions. Promise reactions run when the outermost job returns.
package loop
