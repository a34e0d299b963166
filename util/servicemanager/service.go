package servicemanager

import "context"

// Service is a long running component of the node.
//
// Init prepares the service and must not block. Start runs the service until
// ctx is cancelled, closing readyCh once it accepts work. Stop releases
// resources and flushes persistent state. Health reports liveness when
// checkLiveness is true, readiness otherwise.
type Service interface {
	Init(ctx context.Context) error
	Start(ctx context.Context, readyCh chan<- struct{}) error
	Stop(ctx context.Context) error
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
}
