// Package async bridges host asynchrony and managed futures.
//
// An Operation settles exactly once, fulfilled or rejected; its Future is
// what consumers await. Adapter turns host promises and node-style callbacks
// into futures, and futures into host promises.
//
// Await suspends only the calling goroutine. The host loop keeps running jobs
// meanwhile, which is what eventually settles the future. Cancelling the
// context given to Await abandons the future but never cancels the host
// operation behind it: most host operations cannot be cancelled, and the
// bridge does not pretend otherwise.
package async
