package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/chaincfg"
)

// check settings object is initialised
func TestInitialiseSettings(t *testing.T) {
	dir := t.TempDir()

	tSettings, err := NewSettings(map[string]string{"datadir": dir})
	require.NoError(t, err)

	require.NotNil(t, tSettings.ChainCfgParams)
	assert.Equal(t, &chaincfg.MainNetParams, tSettings.ChainCfgParams)
	assert.Equal(t, dir, tSettings.DataDir)
	assert.Equal(t, filepath.Join(dir, DefaultConfFile), tSettings.ConfFile)
	assert.Equal(t, 44144, tSettings.P2P.Port)
	assert.Equal(t, 16, tSettings.P2P.MaxOutbound)
	assert.Equal(t, 100, tSettings.P2P.BanScore)
	assert.Equal(t, 100, tSettings.Utxo.DBCacheMB)
	assert.Equal(t, time.Hour, tSettings.Block.DatabaseWriteInterval)
	assert.Equal(t, 2*time.Second, tSettings.P2P.BlockStallingTimeout)
	assert.NotEmpty(t, tSettings.InstanceID)
}

func TestNetworkSelection(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		flags  map[string]string
		params *chaincfg.Params
		subdir string
	}{
		{"mainnet", map[string]string{}, &chaincfg.MainNetParams, ""},
		{"testnet", map[string]string{"testnet": ""}, &chaincfg.TestNetParams, "testnet4"},
		{"regtest", map[string]string{"regtest": "1"}, &chaincfg.RegressionNetParams, "regtest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.flags["datadir"] = dir

			tSettings, err := NewSettings(tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.params, tSettings.ChainCfgParams)
			assert.Equal(t, filepath.Join(dir, tt.subdir), tSettings.DataDir)
		})
	}
}

func TestConfFileAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()

	conf := "dbcache=500\nport=1234\ntxindex=1\naddnode=10.0.0.1:44144,10.0.0.2:44144\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfFile), []byte(conf), 0o600))

	tSettings, err := NewSettings(map[string]string{"datadir": dir, "port": "4321"})
	require.NoError(t, err)

	assert.Equal(t, 500, tSettings.Utxo.DBCacheMB)
	assert.Equal(t, 4321, tSettings.P2P.Port)
	assert.True(t, tSettings.Block.TxIndex)
	assert.Equal(t, []string{"10.0.0.1:44144", "10.0.0.2:44144"}, tSettings.P2P.AddNode)
}

func TestDBCacheBounds(t *testing.T) {
	dir := t.TempDir()

	for flag, want := range map[string]int{"1": 4, "100000": 4096, "64": 64} {
		tSettings, err := NewSettings(map[string]string{"datadir": dir, "dbcache": flag})
		require.NoError(t, err)
		assert.Equal(t, want, tSettings.Utxo.DBCacheMB)
	}
}

func TestScriptCheckThreads(t *testing.T) {
	tSettings, err := NewSettings(map[string]string{"datadir": t.TempDir()})
	require.NoError(t, err)

	tSettings.Validation.ScriptCheckThreads = 4
	assert.Equal(t, 4, tSettings.ScriptCheckThreads())

	tSettings.Validation.ScriptCheckThreads = 64
	assert.Equal(t, MaxScriptCheckThreads, tSettings.ScriptCheckThreads())

	tSettings.Validation.ScriptCheckThreads = -1000
	assert.Equal(t, 1, tSettings.ScriptCheckThreads())

	tSettings.Validation.ScriptCheckThreads = 0
	assert.GreaterOrEqual(t, tSettings.ScriptCheckThreads(), 1)
}
