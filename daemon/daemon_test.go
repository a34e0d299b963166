package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/ulogger"
)

func testSettings(t *testing.T, dir string, flags map[string]string) *settings.Settings {
	t.Helper()

	all := map[string]string{
		"regtest":              "1",
		"datadir":              dir,
		"listen":               "0",
		"dnsseed":              "0",
		"staking":              "0",
		"keypool":              "5",
		"zerocoin_lookahead":   "1",
		"health_listenAddress": "127.0.0.1:0",
	}

	for k, v := range flags {
		all[k] = v
	}

	tSettings, err := settings.NewSettings(all)
	require.NoError(t, err)

	return tSettings
}

func newTestDaemon(t *testing.T) *Daemon {
	logger := ulogger.NewVerboseTestLogger(t)
	logger.SetLogLevel("WARN")

	return New(
		WithLoggerFactory(func(serviceName string) ulogger.Logger {
			return logger.New(serviceName)
		}),
		WithStopTimeout(30*time.Second),
	)
}

// runDaemon starts d and waits until every service is ready. The returned
// channel yields the result of Start.
func runDaemon(t *testing.T, d *Daemon, tSettings *settings.Settings) <-chan error {
	t.Helper()

	readyCh := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		errCh <- d.Start(ulogger.TestLogger{}, tSettings, readyCh)
	}()

	select {
	case <-readyCh:
	case err := <-errCh:
		t.Fatalf("daemon failed to start: %v", err)
	case <-time.After(30 * time.Second):
		t.Fatal("timeout waiting for the daemon to be ready")
	}

	return errCh
}

func stopDaemon(t *testing.T, d *Daemon, errCh <-chan error) {
	t.Helper()

	require.NoError(t, d.Stop())
	require.NoError(t, <-errCh)
}

func TestNew_WithOptions(t *testing.T) {
	t.Run("WithLoggerFactory", func(t *testing.T) {
		var used bool

		d := New(WithLoggerFactory(func(serviceName string) ulogger.Logger {
			used = true
			return ulogger.New(serviceName, ulogger.WithWriter(io.Discard))
		}))

		require.NotNil(t, d.ServiceManager)
		assert.True(t, used)
	})

	t.Run("WithContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		d := New(WithContext(ctx))
		assert.Equal(t, ctx, d.Ctx)

		cancel()

		select {
		case <-d.ServiceManager.Ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for the service context to be cancelled")
		}
	})
}

func TestDaemon_StopBeforeStart(t *testing.T) {
	d := newTestDaemon(t)

	require.NoError(t, d.Stop())

	select {
	case <-d.stopCh:
	case <-time.After(time.Second):
		t.Fatal("stop channel not closed")
	}
}

func TestCacheSplit(t *testing.T) {
	index, coins, zc := cacheSplit(100 << 20)
	assert.Equal(t, maxIndexCacheBytes, index)
	assert.Equal(t, maxIndexCacheBytes, zc)
	assert.Equal(t, 25<<20, coins)

	index, coins, zc = cacheSplit(4 << 20)
	assert.Equal(t, 512<<10, index)
	assert.Equal(t, 512<<10, zc)
	assert.Equal(t, 1<<20, coins)
}

func TestDaemon_StartStop(t *testing.T) {
	dir := t.TempDir()
	tSettings := testSettings(t, dir, nil)

	d := newTestDaemon(t)
	errCh := runDaemon(t, d, tSettings)

	require.NotNil(t, d.Services.Chain)
	require.NotNil(t, d.Services.Wallet)
	assert.Equal(t, int32(0), d.Services.Chain.Height())

	base := fmt.Sprintf("http://%s", d.HealthAddr())

	resp, err := http.Get(base + "/health/liveness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "tessa_")

	addr, err := d.Services.Wallet.NewAddress("")
	require.NoError(t, err)

	dest, err := txscript.DecodeDestination(addr, tSettings.ChainCfgParams)
	require.NoError(t, err)

	payTo, err := dest.Script()
	require.NoError(t, err)

	hashes, err := d.Services.Miner.Generate(context.Background(), 3, payTo)
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	stopDaemon(t, d, errCh)

	// the chain and the wallet survive a restart
	d = newTestDaemon(t)
	errCh = runDaemon(t, d, testSettings(t, dir, nil))

	tip := d.Services.Chain.Tip()
	assert.Equal(t, int32(3), tip.Height)
	assert.Equal(t, hashes[2], tip.Hash)
	assert.Equal(t, int32(3), d.Services.Wallet.BestHeight())
	assert.Positive(t, d.Services.Wallet.Balance().Immature)

	stopDaemon(t, d, errCh)
}

func TestDaemon_DisableWallet(t *testing.T) {
	d := newTestDaemon(t)
	errCh := runDaemon(t, d, testSettings(t, t.TempDir(), map[string]string{"disablewallet": "1"}))

	assert.Nil(t, d.Services.Wallet)
	require.NotNil(t, d.Services.Miner)

	_, err := d.Services.Miner.Stake(context.Background())
	require.Error(t, err)

	stopDaemon(t, d, errCh)
}
