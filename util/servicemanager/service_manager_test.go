package servicemanager

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util"
)

type mockService struct {
	initErr   error
	startErr  error
	healthy   bool
	started   atomic.Bool
	stopped   atomic.Bool
	startedAt time.Time
}

func (m *mockService) Init(context.Context) error {
	return m.initErr
}

func (m *mockService) Start(ctx context.Context, readyCh chan<- struct{}) error {
	m.startedAt = time.Now()
	m.started.Store(true)
	close(readyCh)

	if m.startErr != nil {
		return m.startErr
	}

	<-ctx.Done()

	return nil
}

func (m *mockService) Stop(context.Context) error {
	m.stopped.Store(true)
	return nil
}

func (m *mockService) Health(context.Context, bool) (int, string, error) {
	if m.healthy {
		return http.StatusOK, "", nil
	}

	return http.StatusServiceUnavailable, "", errors.NewServiceUnavailableError("not healthy")
}

func TestNewServiceManager(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{}, nil)

	assert.NotNil(t, sm.Ctx)
	assert.NotNil(t, sm.Interrupt())
	assert.Empty(t, sm.services)
}

func TestListenerInfos(t *testing.T) {
	mu.Lock()
	listeners = nil
	mu.Unlock()

	AddListenerInfo("p2p :44144")
	AddListenerInfo("health 127.0.0.1:44150")

	assert.Equal(t, []string{"health 127.0.0.1:44150", "p2p :44144"}, GetListenerInfos())
}

func TestServicesStartInOrderAndStop(t *testing.T) {
	interrupt := util.NewInterrupt()
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{}, interrupt)

	first := &mockService{healthy: true}
	second := &mockService{healthy: true}

	require.NoError(t, sm.AddService("first", first))
	require.NoError(t, sm.AddService("second", second))

	sm.WaitForServiceToBeReady()
	assert.Empty(t, sm.ServicesNotReady())

	status, _, err := sm.HealthHandler(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	sm.ForceShutdown()
	require.NoError(t, sm.Wait())

	assert.True(t, first.stopped.Load())
	assert.True(t, second.stopped.Load())
	assert.True(t, interrupt.Interrupted())
	assert.False(t, second.startedAt.Before(first.startedAt))
}

func TestServiceStartErrorStopsAll(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{}, nil)

	healthy := &mockService{healthy: true}
	failing := &mockService{startErr: errors.NewServiceError("boom")}

	require.NoError(t, sm.AddService("healthy", healthy))
	require.NoError(t, sm.AddService("failing", failing))

	err := sm.Wait()
	require.Error(t, err)
	assert.True(t, healthy.stopped.Load())
	assert.True(t, sm.Interrupt().Interrupted())
}

func TestServiceInitError(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{}, nil)

	err := sm.AddService("broken", &mockService{initErr: errors.NewConfigurationError("bad config")})
	require.Error(t, err)
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{}, nil)

	require.NoError(t, sm.AddService("sick", &mockService{}))

	status, body, err := sm.HealthHandler(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "sick")

	sm.ForceShutdown()
	require.NoError(t, sm.Wait())
}

type gatedService struct {
	mockService
	gate chan struct{}
}

func (g *gatedService) Start(ctx context.Context, readyCh chan<- struct{}) error {
	g.startedAt = time.Now()
	g.started.Store(true)

	select {
	case <-g.gate:
		close(readyCh)
	case <-ctx.Done():
		return nil
	}

	<-ctx.Done()

	return nil
}

func TestServiceWaitsForPredecessorReady(t *testing.T) {
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{}, nil)

	chain := &gatedService{mockService: mockService{healthy: true}, gate: make(chan struct{})}
	p2p := &mockService{healthy: true}

	require.NoError(t, sm.AddService("chain", chain))
	require.NoError(t, sm.AddService("p2p", p2p))

	require.Eventually(t, chain.started.Load, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, p2p.started.Load())
	assert.Equal(t, []string{"chain", "p2p"}, sm.ServicesNotReady())

	status, body, err := sm.HealthHandler(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "starting")

	close(chain.gate)
	sm.WaitForServiceToBeReady()
	assert.True(t, p2p.started.Load())

	sm.ForceShutdown()
	require.NoError(t, sm.Wait())
	assert.True(t, chain.stopped.Load())
}
