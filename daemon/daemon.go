// Package daemon wires the stores and services of a node, serves the health
// and metrics endpoints and runs everything until shutdown.
package daemon

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util"
	"github.com/tessacoin/tessanode/util/servicemanager"
)

type Daemon struct {
	Ctx           context.Context
	doneCh        chan struct{}
	closeDoneOnce sync.Once

	stopCh        chan struct{} // closed once every service has stopped
	closeStopOnce sync.Once
	started       bool

	serverMu   sync.Mutex
	server     *echo.Echo
	healthAddr net.Addr

	ServiceManager *servicemanager.ServiceManager
	Services       Services
	Interrupt      *util.Interrupt

	loggerFactory   func(serviceName string) ulogger.Logger
	stopTimeout     time.Duration
	stores          *Stores
	chainOwnsStores bool
}

func New(opts ...Option) *Daemon {
	d := &Daemon{
		Ctx:         context.Background(),
		doneCh:      make(chan struct{}),
		stopCh:      make(chan struct{}),
		Interrupt:   util.NewInterrupt(),
		stopTimeout: 10 * time.Second,
		loggerFactory: func(serviceName string) ulogger.Logger {
			return ulogger.New(serviceName)
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	d.ServiceManager = servicemanager.NewServiceManager(d.Ctx, d.loggerFactory("ServiceManager"), d.Interrupt)

	return d
}

// HealthAddr returns the address the health server listens on, or nil
// before it is started.
func (d *Daemon) HealthAddr() net.Addr {
	d.serverMu.Lock()
	defer d.serverMu.Unlock()

	return d.healthAddr
}

// Stop requests a shutdown and waits for the services to stop, by default
// for the duration set with WithStopTimeout.
func (d *Daemon) Stop(timeout ...time.Duration) error {
	logger := d.loggerFactory("Daemon")

	d.closeDoneOnce.Do(func() { close(d.doneCh) })

	d.serverMu.Lock()
	started := d.started
	d.serverMu.Unlock()

	if !started {
		d.closeStopOnce.Do(func() { close(d.stopCh) })
		return nil
	}

	shutdownTimeout := d.stopTimeout
	if len(timeout) > 0 {
		shutdownTimeout = timeout[0]
	}

	select {
	case <-d.stopCh:
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warnf("Timeout waiting for services to stop after %v, still starting or running: %v",
			shutdownTimeout, d.ServiceManager.ServicesNotReady())

		return errors.NewProcessingError("timeout waiting for services to stop after %v", shutdownTimeout)
	}
}

// Start opens the stores, starts every service and blocks until the node
// shuts down. readyCh, when given, is closed once all services are ready.
// The returned error is nil on a clean shutdown.
func (d *Daemon) Start(logger ulogger.Logger, tSettings *settings.Settings, readyCh ...chan struct{}) error {
	sm := d.ServiceManager

	d.serverMu.Lock()
	d.started = true
	d.serverMu.Unlock()

	defer d.closeStopOnce.Do(func() { close(d.stopCh) })

	logger.Infof("Starting %s node in %s", tSettings.ChainCfgParams.Name, tSettings.DataDir)

	stores, err := openStores(d.loggerFactory("stores"), tSettings)
	if err != nil {
		return err
	}

	d.stores = stores

	if err = d.startServices(sm.Ctx, tSettings, sm, stores); err != nil {
		logger.Errorf("error starting services: %v", err)

		sm.ForceShutdown()
		_ = sm.Wait()

		d.closeStores(logger)

		return err
	}

	if err = d.startHealthServer(logger, sm, tSettings.Health.ListenAddress); err != nil {
		sm.ForceShutdown()
		_ = sm.Wait()

		d.closeStores(logger)

		return err
	}

	if len(readyCh) > 0 && readyCh[0] != nil {
		go func() {
			sm.WaitForServiceToBeReady()
			close(readyCh[0])
		}()
	}

	waitErr := make(chan error, 1)

	go func() {
		waitErr <- sm.Wait()
	}()

	select {
	case err = <-waitErr:
		if err != nil {
			logger.Errorf("services failed: %v", err)
		}
	case <-d.doneCh:
		logger.Infof("daemon shutdown requested")

		sm.ForceShutdown()

		err = <-waitErr
		if err != nil {
			logger.Errorf("error during service shutdown: %v", err)
		}
	}

	d.stopHealthServer(logger)
	d.closeStores(logger)

	logger.Infof("daemon shutdown completed")

	return err
}

// closeStores closes what the services do not close themselves: the
// wallet database, and the chain databases when no chain state was built.
func (d *Daemon) closeStores(logger ulogger.Logger) {
	if d.stores == nil {
		return
	}

	if !d.chainOwnsStores {
		if err := d.stores.closeChain(); err != nil {
			logger.Warnf("failed to close chain stores: %v", err)
		}
	}

	if err := d.stores.closeWallet(); err != nil {
		logger.Warnf("failed to close wallet store: %v", err)
	}

	d.stores = nil
}

func (d *Daemon) startHealthServer(logger ulogger.Logger, sm *servicemanager.ServiceManager, addr string) error {
	if addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewServiceError("failed to listen on health address %s", addr, err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = ln

	e.Use(middleware.Recover())

	healthFunc := func(liveness bool) echo.HandlerFunc {
		return func(c echo.Context) error {
			status, details, _ := sm.HealthHandler(c.Request().Context(), liveness)
			return c.Blob(status, echo.MIMEApplicationJSONCharsetUTF8, []byte(details))
		}
	}

	e.GET("/health", healthFunc(false))
	e.GET("/health/readiness", healthFunc(false))
	e.GET("/health/liveness", healthFunc(true))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	d.serverMu.Lock()
	d.server = e
	d.healthAddr = ln.Addr()
	d.serverMu.Unlock()

	servicemanager.AddListenerInfo("health: " + ln.Addr().String())

	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("health server failed: %v", err)
		}
	}()

	logger.Infof("Health check endpoint listening on http://%s/health", ln.Addr())

	return nil
}

func (d *Daemon) stopHealthServer(logger ulogger.Logger) {
	d.serverMu.Lock()
	defer d.serverMu.Unlock()

	if d.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.server.Shutdown(ctx); err != nil {
		logger.Warnf("Error shutting down health check server: %v", err)
	}

	d.server = nil
}
