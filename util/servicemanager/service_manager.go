// Package servicemanager runs the services of a node: it starts them in
// registration order, each one after its predecessor is ready, and stops
// them in reverse order once any of them fails or a shutdown is requested.
package servicemanager

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util"
	"github.com/tessacoin/tessanode/util/health"
	"golang.org/x/sync/errgroup"
)

// StopTimeout bounds the Stop call of a single service.
const StopTimeout = 30 * time.Second

type managedService struct {
	name     string
	instance Service
	readyCh  chan struct{}
}

func (s *managedService) ready() bool {
	select {
	case <-s.readyCh:
		return true
	default:
		return false
	}
}

var (
	mu        sync.RWMutex
	listeners []string
)

// AddListenerInfo records a listening address for the startup summary.
func AddListenerInfo(name string) {
	mu.Lock()
	defer mu.Unlock()

	listeners = append(listeners, name)
}

// GetListenerInfos returns the recorded listeners, sorted.
func GetListenerInfos() []string {
	mu.RLock()
	defer mu.RUnlock()

	sorted := append([]string(nil), listeners...)
	sort.Strings(sorted)

	return sorted
}

type ServiceManager struct {
	mu         sync.Mutex
	services   []*managedService
	logger     ulogger.Logger
	Ctx        context.Context
	cancelFunc context.CancelFunc
	g          *errgroup.Group
	interrupt  *util.Interrupt
}

// NewServiceManager returns a manager whose services run under ctx.
// SIGINT and SIGTERM, the interrupt, or cancellation of ctx trigger a
// graceful shutdown of every service.
func NewServiceManager(ctx context.Context, logger ulogger.Logger, interrupt *util.Interrupt) *ServiceManager {
	ctx, cancelFunc := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	if interrupt == nil {
		interrupt = util.NewInterrupt()
	}

	sm := &ServiceManager{
		logger:     logger,
		Ctx:        ctx,
		cancelFunc: cancelFunc,
		g:          g,
		interrupt:  interrupt,
	}

	go sm.watchShutdown()

	return sm
}

func (sm *ServiceManager) watchShutdown() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		sm.logger.Infof("🟠 Received %s, shutting down", sig)
	case <-sm.Ctx.Done():
	case <-sm.interrupt.Done():
	}

	sm.ForceShutdown()
}

// Interrupt returns the process-wide interrupt flag.
func (sm *ServiceManager) Interrupt() *util.Interrupt {
	return sm.interrupt
}

func (sm *ServiceManager) snapshot() []*managedService {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return append([]*managedService(nil), sm.services...)
}

// AddService initializes service synchronously and schedules its start. The
// service starts once the previously added one is ready.
func (sm *ServiceManager) AddService(name string, service Service) error {
	sm.mu.Lock()

	var prev *managedService
	if n := len(sm.services); n > 0 {
		prev = sm.services[n-1]
	}

	ms := &managedService{name: name, instance: service, readyCh: make(chan struct{})}
	sm.services = append(sm.services, ms)

	sm.mu.Unlock()

	sm.logger.Infof("⚪️ Initializing %s", name)

	if err := service.Init(sm.Ctx); err != nil {
		return errors.NewServiceError("failed to initialize %s", name, err)
	}

	sm.g.Go(func() error {
		if prev != nil {
			select {
			case <-prev.readyCh:
			case <-sm.Ctx.Done():
				return nil
			}
		}

		sm.logger.Infof("🟢 Starting %s", name)

		if err := service.Start(sm.Ctx, ms.readyCh); err != nil {
			sm.logger.Errorf("%s failed: %v", name, err)
			return err
		}

		return nil
	})

	return nil
}

// WaitForServiceToBeReady blocks until every added service is ready or the
// manager shuts down.
func (sm *ServiceManager) WaitForServiceToBeReady() {
	for _, s := range sm.snapshot() {
		select {
		case <-s.readyCh:
			sm.logger.Infof("🟢 %s is ready", s.name)
		case <-sm.Ctx.Done():
			return
		}
	}
}

// ServicesNotReady returns the names of the services that are not ready yet.
func (sm *ServiceManager) ServicesNotReady() []string {
	var names []string

	for _, s := range sm.snapshot() {
		if !s.ready() {
			names = append(names, s.name)
		}
	}

	return names
}

// ForceShutdown triggers the interrupt and cancels the context of every
// service.
func (sm *ServiceManager) ForceShutdown() {
	sm.interrupt.Trigger()
	sm.cancelFunc()
}

// Wait blocks until the services return, then stops them in reverse order.
// The first service error is returned; a plain shutdown returns nil.
func (sm *ServiceManager) Wait() error {
	err := sm.g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		sm.logger.Errorf("stopping services after error: %v", err)
	}

	sm.interrupt.Trigger()

	services := sm.snapshot()

	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]

		sm.logger.Infof("🟠 Stopping %s", s.name)

		stopCtx, cancel := context.WithTimeout(context.Background(), StopTimeout)

		if stopErr := s.instance.Stop(stopCtx); stopErr != nil {
			sm.logger.Warnf("[%s] failed to stop: %v", s.name, stopErr)
		}

		cancel()
	}

	sm.logger.Infof("🛑 All services stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// HealthHandler reports the health of every service. The status is 503 when
// any service is unhealthy or, for readiness, not ready yet.
func (sm *ServiceManager) HealthHandler(ctx context.Context, checkLiveness bool) (int, string, error) {
	services := sm.snapshot()
	deps := make([]*health.Report, 0, len(services))

	for _, s := range services {
		if !checkLiveness && !s.ready() {
			deps = append(deps, &health.Report{Resource: s.name, Status: http.StatusServiceUnavailable, Message: "starting"})
			continue
		}

		status, details, err := s.instance.Health(ctx, checkLiveness)
		deps = append(deps, health.NewReport(s.name, status, details, err))
	}

	r := health.Fold(deps)

	return r.Status, r.String(), nil
}
