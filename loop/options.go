package loop

import (
	"time"

	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"
)

type options struct {
	logger       *zap.Logger
	registry     *require.Registry
	callTimeout  time.Duration
	maxCallStack int
	console      bool
}

func defaultOptions() options {
	return options{
		logger:  zap.NewNop(),
		console: true,
	}
}

// Option configures a Loop.
type Option func(*options)

// WithLogger sets the loop logger. Script console output goes to it too.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegistry sets the registry require resolves modules from.
func WithRegistry(r *require.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithConsole sets whether scripts get a console global.
func WithConsole(enabled bool) Option {
	return func(o *options) { o.console = enabled }
}

// WithCallTimeout bounds every outermost job. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithMaxCallStackSize limits script recursion depth.
func WithMaxCallStackSize(n int) Option {
	return func(o *options) { o.maxCallStack = n }
}
