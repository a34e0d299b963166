package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/settings"
	"github.com/urfave/cli/v2"
)

func parse(t *testing.T, args ...string) map[string]string {
	t.Helper()

	var values map[string]string

	app := newApp(func(c *cli.Context) error {
		values = flagValues(c)
		return nil
	})

	require.NoError(t, app.Run(append([]string{progname}, args...)))

	return values
}

func TestFlagValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{
			name: "nothing set",
			args: nil,
			want: map[string]string{},
		},
		{
			name: "single dash flags",
			args: []string{"-regtest", "-staking=0", "-dbcache=50", "-datadir=/tmp/tessa"},
			want: map[string]string{"regtest": "1", "staking": "0", "dbcache": "50", "datadir": "/tmp/tessa"},
		},
		{
			name: "repeated flags",
			args: []string{"-connect=10.0.0.1:44144", "-connect=10.0.0.2:44144"},
			want: map[string]string{"connect": "10.0.0.1:44144,10.0.0.2:44144"},
		},
		{
			name: "renamed keys",
			args: []string{"-loglevel=DEBUG", "-healthaddr=127.0.0.1:9000"},
			want: map[string]string{"logLevel": "DEBUG", "health_listenAddress": "127.0.0.1:9000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parse(t, tt.args...))
		})
	}
}

func TestFlagValues_Settings(t *testing.T) {
	dir := t.TempDir()

	values := parse(t, "-regtest", "-datadir="+dir, "-staking=0", "-dbcache=1", "-addnode=127.0.0.1:1")

	tSettings, err := settings.NewSettings(values)
	require.NoError(t, err)

	assert.Equal(t, "regtest", tSettings.ChainCfgParams.Name)
	assert.False(t, tSettings.Staking.Enabled)
	assert.Equal(t, 4, tSettings.Utxo.DBCacheMB)
	assert.Equal(t, []string{"127.0.0.1:1"}, tSettings.P2P.AddNode)
}

func TestRun_RejectsArguments(t *testing.T) {
	err := newApp(run).Run([]string{progname, "-regtest", "start"})
	require.Error(t, err)
}
