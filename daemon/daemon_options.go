package daemon

import (
	"context"
	"time"

	"github.com/tessacoin/tessanode/ulogger"
)

type Option func(*Daemon)

// WithLoggerFactory sets how the stores and every service get their logger.
// The factory is called once per component with the component name.
func WithLoggerFactory(factory func(serviceName string) ulogger.Logger) Option {
	return func(d *Daemon) {
		d.loggerFactory = factory
	}
}

// WithContext sets the parent context of the services; cancelling it shuts
// the node down.
func WithContext(ctx context.Context) Option {
	return func(d *Daemon) {
		d.Ctx = ctx
	}
}

// WithStopTimeout sets how long Stop waits for the services when called
// without an explicit timeout.
func WithStopTimeout(timeout time.Duration) Option {
	return func(d *Daemon) {
		d.stopTimeout = timeout
	}
}
