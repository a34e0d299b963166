package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/services/legacy/wire"
)

const someHash = "000000000000000000000000000000000000000000000000000000000000abcd"

func TestBuildMessage(t *testing.T) {
	params := &chaincfg.RegressionNetParams

	t.Run("ping", func(t *testing.T) {
		msg, err := buildMessage("ping", []string{"42"}, params)
		require.NoError(t, err)

		ping, ok := msg.(*wire.MsgPing)
		require.True(t, ok)
		assert.Equal(t, uint64(42), ping.Nonce)
	})

	t.Run("simple commands", func(t *testing.T) {
		for cmd, want := range map[string]string{
			"getaddr":   wire.CmdGetAddr,
			"mempool":   wire.CmdMemPool,
			"getsporks": wire.CmdGetSporks,
		} {
			msg, err := buildMessage(cmd, nil, params)
			require.NoError(t, err)
			assert.Equal(t, want, msg.Command())
		}
	})

	t.Run("getheaders defaults to genesis", func(t *testing.T) {
		msg, err := buildMessage("getheaders", nil, params)
		require.NoError(t, err)

		gh, ok := msg.(*wire.MsgGetHeaders)
		require.True(t, ok)
		require.Len(t, gh.BlockLocatorHashes, 1)
		assert.Equal(t, params.GenesisHash, *gh.BlockLocatorHashes[0])
	})

	t.Run("getdata block", func(t *testing.T) {
		msg, err := buildMessage("getdata", []string{"block", someHash}, params)
		require.NoError(t, err)

		gd, ok := msg.(*wire.MsgGetData)
		require.True(t, ok)
		require.Len(t, gd.InvList, 1)
		assert.Equal(t, wire.InvTypeBlock, gd.InvList[0].Type)
		assert.Equal(t, someHash, gd.InvList[0].Hash.String())
	})

	t.Run("inv tx", func(t *testing.T) {
		msg, err := buildMessage("inv", []string{"tx", someHash, someHash}, params)
		require.NoError(t, err)

		inv, ok := msg.(*wire.MsgInv)
		require.True(t, ok)
		assert.Len(t, inv.InvList, 2)
	})

	t.Run("errors", func(t *testing.T) {
		for _, line := range []string{
			"bogus",
			"ping notanumber",
			"getdata tx",
			"getdata utxo " + someHash,
			"getdata tx zz",
		} {
			f := strings.Fields(line)
			_, err := buildMessage(f[0], f[1:], params)
			assert.Error(t, err, line)
		}
	})
}

func TestSession_Printf(t *testing.T) {
	var buf bytes.Buffer

	s := &session{out: &buf, dump: true}
	s.printf("hello %d\n", 1)
	s.dumpMsg(wire.NewMsgPong(7))

	assert.Contains(t, buf.String(), "hello 1")
	assert.Contains(t, buf.String(), "Nonce")
}
