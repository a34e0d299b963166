package blockchain

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
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/settings"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/stores/blockfile"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/stores/utxo"
	zcstore "github.com/tessacoin/tessanode/stores/zerocoin"
	"github.com/tessacoin/tessanode/ulogger"
)

// testStores keeps the key value stores of a test chain so a second chain
// state can be opened over the same data.
type testStores struct {
	dir      string
	index    kvstore.Store
	coins    kvstore.Store
	zerocoin kvstore.Store
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()

	logger := ulogger.TestLogger{}

	return &testStores{
		dir:      t.TempDir(),
		index:    kvstore.NewMemory(logger, "index"),
		coins:    kvstore.NewMemory(logger, "coins"),
		zerocoin: kvstore.NewMemory(logger, "zerocoin"),
	}
}

type testChain struct {
	t        *testing.T
	cs       *ChainState
	stores   *testStores
	key      *bec.PrivateKey
	pkScript []byte
	extra    int64
}

// newTestChain opens and loads a regtest chain state. flags override the
// default settings.
func newTestChain(t *testing.T, stores *testStores, flags map[string]string) *testChain {
	t.Helper()

	if stores == nil {
		stores = newTestStores(t)
	}

	all := map[string]string{
		"regtest":     "1",
		"datadir":     stores.dir,
		"checkblocks": "6",
		"checklevel":  "3",
	}

	for k, v := range flags {
		all[k] = v
	}

	tSettings, err := settings.NewSettings(all)
	require.NoError(t, err)

	logger := ulogger.NewErrorTestLogger(t)
	t.Cleanup(logger.Close)

	files, err := blockfile.New(logger, filepath.Join(stores.dir, "blocks"), tSettings.ChainCfgParams.MessageStart)
	require.NoError(t, err)

	cs, err := NewChainState(logger, tSettings, Stores{
		TreeDB:   blockchain_store.NewTreeDB(logger, stores.index),
		Files:    files,
		Coins:    utxo.NewDB(logger, stores.coins),
		Zerocoin: zcstore.New(logger, stores.zerocoin),
	})
	require.NoError(t, err)

	require.NoError(t, cs.Load(context.Background()))

	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	pkScript, err := txscript.PayToPubKeyHashScript(crypto.Hash160(key.PubKey().SerialiseCompressed()))
	require.NoError(t, err)

	return &testChain{
		t:        t,
		cs:       cs,
		stores:   stores,
		key:      key,
		pkScript: pkScript,
	}
}

// nextBlock builds a solved proof of work block on parent. Every call
// produces a distinct coinbase so sibling blocks differ.
func (tc *testChain) nextBlock(parent *BlockIndex, txs ...*model.Tx) *model.Block {
	tc.t.Helper()

	params := tc.cs.Params()
	height := parent.Height + 1

	tc.extra++

	sigScript, err := txscript.NewScriptBuilder().AddInt64(int64(height)).AddInt64(tc.extra).Script()
	require.NoError(tc.t, err)

	coinbase := model.NewTx(1)
	coinbase.AddTxIn(model.NewTxIn(&model.OutPoint{Index: math.MaxUint32}, sigScript))
	coinbase.AddTxOut(model.NewTxOut(params.BlockSubsidy(height), tc.pkScript))

	header := &model.BlockHeader{
		Version:       params.HeaderVersion(height),
		HashPrevBlock: parent.Hash,
		Timestamp:     parent.Header.Timestamp + 60,
		Bits:          tc.cs.Difficulty().CalcNextWorkRequired(parent),
	}

	block := model.NewBlock(header, append([]*model.Tx{coinbase}, txs...))
	header.HashMerkleRoot, _ = block.BuildMerkleRoot()

	for tc.cs.Difficulty().CheckProofOfWork(header, header.Bits) != nil {
		header.Nonce++
	}

	return block
}

// mine builds n blocks on parent and submits them.
func (tc *testChain) mine(parent *BlockIndex, n int) []*model.Block {
	tc.t.Helper()

	blocks := make([]*model.Block, 0, n)

	for i := 0; i < n; i++ {
		block := tc.nextBlock(parent)

		bi, err := tc.cs.ProcessNewBlock(context.Background(), block, true)
		require.NoError(tc.t, err)

		blocks = append(blocks, block)
		parent = bi
	}

	return blocks
}

// spend builds a transaction paying value of the first coinbase output of
// block back to the test key.
func (tc *testChain) spend(block *model.Block, value int64) *model.Tx {
	tc.t.Helper()

	prev := block.Transactions[0].TxHash()

	tx := model.NewTx(1)
	tx.AddTxIn(model.NewTxIn(model.NewOutPoint(&prev, 0), nil))
	tx.AddTxOut(model.NewTxOut(value, tc.pkScript))

	sigScript, err := txscript.SignatureScript(tx, 0, tc.pkScript, txscript.SigHashAll, tc.key, true)
	require.NoError(tc.t, err)

	tx.TxIn[0].SignatureScript = sigScript

	return tx
}

func (tc *testChain) tipHash() chainhash.Hash {
	return tc.cs.Tip().Hash
}

// coinsOf reads the coins of hash as the active chain sees them.
func (tc *testChain) coinsOf(hash chainhash.Hash) *utxo.Coins {
	tc.t.Helper()

	var coins *utxo.Coins

	require.NoError(tc.t, tc.cs.ReadCoins(func(view utxo.View, _ *BlockIndex) error {
		var err error
		coins, err = view.GetCoins(hash)

		return err
	}))

	return coins
}
