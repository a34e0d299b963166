// Package chaintest opens throwaway regtest chain states for the tests of
// the services built on top of the chain.
package chaintest

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/crypto"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/settings"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/stores/blockfile"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/stores/utxo"
	zcstore "github.com/tessacoin/tessanode/stores/zerocoin"
	"github.com/tessacoin/tessanode/ulogger"
)

// Chain is a loaded regtest chain state with a key that receives every
// coinbase it mines.
type Chain struct {
	t        *testing.T
	CS       *blockchain.ChainState
	Settings *settings.Settings
	Key      *bec.PrivateKey
	PkScript []byte

	extra int64
}

// New opens a regtest chain over in-memory stores. flags override the
// default settings.
func New(t *testing.T, flags map[string]string) *Chain {
	t.Helper()

	dir := t.TempDir()

	all := map[string]string{
		"regtest": "1",
		"datadir": dir,
	}

	for k, v := range flags {
		all[k] = v
	}

	tSettings, err := settings.NewSettings(all)
	require.NoError(t, err)

	logger := ulogger.TestLogger{}

	files, err := blockfile.New(logger, filepath.Join(dir, "blocks"), tSettings.ChainCfgParams.MessageStart)
	require.NoError(t, err)

	cs, err := blockchain.NewChainState(logger, tSettings, blockchain.Stores{
		TreeDB:   blockchain_store.NewTreeDB(logger, kvstore.NewMemory(logger, "index")),
		Files:    files,
		Coins:    utxo.NewDB(logger, kvstore.NewMemory(logger, "coins")),
		Zerocoin: zcstore.New(logger, kvstore.NewMemory(logger, "zerocoin")),
	})
	require.NoError(t, err)

	require.NoError(t, cs.Load(context.Background()))

	t.Cleanup(func() {
		_ = cs.Close(context.Background())
	})

	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	pkScript, err := txscript.PayToPubKeyHashScript(crypto.Hash160(key.PubKey().SerialiseCompressed()))
	require.NoError(t, err)

	return &Chain{
		t:        t,
		CS:       cs,
		Settings: tSettings,
		Key:      key,
		PkScript: pkScript,
	}
}

// NextBlock builds a solved proof of work block on parent paying the
// subsidy to payTo, or to the chain key when payTo is nil.
func (c *Chain) NextBlock(parent *blockchain.BlockIndex, payTo []byte, txs ...*model.Tx) *model.Block {
	c.t.Helper()

	if payTo == nil {
		payTo = c.PkScript
	}

	params := c.CS.Params()
	height := parent.Height + 1

	c.extra++

	sigScript, err := txscript.NewScriptBuilder().AddInt64(int64(height)).AddInt64(c.extra).Script()
	require.NoError(c.t, err)

	coinbase := model.NewTx(1)
	coinbase.AddTxIn(model.NewTxIn(&model.OutPoint{Index: math.MaxUint32}, sigScript))
	coinbase.AddTxOut(model.NewTxOut(params.BlockSubsidy(height), payTo))

	header := &model.BlockHeader{
		Version:       params.HeaderVersion(height),
		HashPrevBlock: parent.Hash,
		Timestamp:     parent.Header.Timestamp + 60,
		Bits:          c.CS.Difficulty().CalcNextWorkRequired(parent),
	}

	block := model.NewBlock(header, append([]*model.Tx{coinbase}, txs...))
	header.HashMerkleRoot, _ = block.BuildMerkleRoot()

	for c.CS.Difficulty().CheckProofOfWork(header, header.Bits) != nil {
		header.Nonce++
	}

	return block
}

// Mine extends the active chain by n blocks paying payTo.
func (c *Chain) Mine(n int, payTo []byte) []*model.Block {
	c.t.Helper()

	blocks := make([]*model.Block, 0, n)
	parent := c.CS.Tip()

	for i := 0; i < n; i++ {
		block := c.NextBlock(parent, payTo)

		bi, err := c.CS.ProcessNewBlock(context.Background(), block, true)
		require.NoError(c.t, err)

		blocks = append(blocks, block)
		parent = bi
	}

	return blocks
}

// Spend builds a transaction paying value of the coinbase output of block
// back to the chain key.
func (c *Chain) Spend(block *model.Block, value int64) *model.Tx {
	c.t.Helper()

	prev := block.Transactions[0].TxHash()

	return c.SpendOutput(model.OutPoint{Hash: prev, Index: 0}, value)
}

// SpendOutput builds a transaction paying value of op, an output locked to
// the chain key, back to the chain key.
func (c *Chain) SpendOutput(op model.OutPoint, value int64) *model.Tx {
	c.t.Helper()

	tx := model.NewTx(1)
	tx.AddTxIn(model.NewTxIn(&op, nil))
	tx.AddTxOut(model.NewTxOut(value, c.PkScript))

	sigScript, err := txscript.SignatureScript(tx, 0, c.PkScript, txscript.SigHashAll, c.Key, true)
	require.NoError(c.t, err)

	tx.TxIn[0].SignatureScript = sigScript

	return tx
}

// Coins reads the coins of hash as the active chain sees them.
func (c *Chain) Coins(hash chainhash.Hash) *utxo.Coins {
	c.t.Helper()

	var coins *utxo.Coins

	require.NoError(c.t, c.CS.ReadCoins(func(view utxo.View, _ *blockchain.BlockIndex) error {
		var err error
		coins, err = view.GetCoins(hash)

		return err
	}))

	return coins
}
