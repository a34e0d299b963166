package mempool

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/validator"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/stores/utxo"
	"github.com/tessacoin/tessanode/ulogger"
)

const (
	tipHeight = 200
	fundValue = 50 * model.COIN
)

type fakeChain struct {
	coins *utxo.Cache
	tip   *blockchain.BlockIndex
	ts    blockchain.TimeSource
}

func (f *fakeChain) ReadCoins(fn func(view utxo.View, tip *blockchain.BlockIndex) error) error {
	return fn(f.coins, f.tip)
}

func (f *fakeChain) TimeSource() blockchain.TimeSource {
	return f.ts
}

type fakeZerocoin struct{}

func (fakeZerocoin) VerifySpendTx(context.Context, *model.Tx, int32) error { return nil }

func (fakeZerocoin) ValidateMint(*model.TxOut) (*libzerocoin.PublicCoin, error) {
	return nil, nil
}

type recordingListener struct {
	accepted []chainhash.Hash
}

func (l *recordingListener) TxAccepted(desc *TxDesc) {
	l.accepted = append(l.accepted, desc.Hash)
}

type testPool struct {
	t        *testing.T
	mp       *TxMempool
	chain    *fakeChain
	key      *bec.PrivateKey
	pkScript []byte
	funds    int
}

func newTestPool(t *testing.T, flags map[string]string) *testPool {
	t.Helper()

	all := map[string]string{
		"regtest":        "1",
		"datadir":        t.TempDir(),
		"relaypriority":  "0",
		"limitfreerelay": "0",
	}

	for k, v := range flags {
		all[k] = v
	}

	tSettings, err := settings.NewSettings(all)
	require.NoError(t, err)

	logger := ulogger.NewErrorTestLogger(t)
	t.Cleanup(logger.Close)

	chain := &fakeChain{
		coins: utxo.NewCache(utxo.NewDB(logger, kvstore.NewMemory(logger, "coins"))),
		tip:   &blockchain.BlockIndex{Height: tipHeight},
		ts:    blockchain.NewMedianTimeSource(logger),
	}

	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	pkScript, err := txscript.PayToPubKeyHashScript(crypto.Hash160(key.PubKey().SerialiseCompressed()))
	require.NoError(t, err)

	mp := New(logger, tSettings, chain, fakeZerocoin{}, validator.NewTxValidator(logger, tSettings.ChainCfgParams))

	return &testPool{t: t, mp: mp, chain: chain, key: key, pkScript: pkScript}
}

// fund adds a confirmed output paying fundValue to the test key.
func (tp *testPool) fund() model.OutPoint {
	tp.funds++

	hash := chainhash.HashH([]byte{byte(tp.funds), byte(tp.funds >> 8), 'f'})

	tp.chain.coins.ModifyNew(hash, &utxo.Coins{
		Height:  1,
		Version: 1,
		Outputs: []*model.TxOut{{Value: fundValue, PkScript: tp.pkScript}},
	})

	return model.OutPoint{Hash: hash}
}

// spend signs a transaction spending prev, which holds value, paying fee.
func (tp *testPool) spend(prev model.OutPoint, value, fee int64) *model.Tx {
	tp.t.Helper()

	tx := model.NewTx(1)
	tx.AddTxIn(model.NewTxIn(&prev, nil))
	tx.AddTxOut(model.NewTxOut(value-fee, tp.pkScript))

	sigScript, err := txscript.SignatureScript(tx, 0, tp.pkScript, txscript.SigHashAll, tp.key, true)
	require.NoError(tp.t, err)

	tx.TxIn[0].SignatureScript = sigScript

	return tx
}

func (tp *testPool) accept(tx *model.Tx) []*TxDesc {
	tp.t.Helper()

	descs, err := tp.mp.ProcessTransaction(context.Background(), tx, true, false)
	require.NoError(tp.t, err)

	return descs
}

func outOf(tx *model.Tx) model.OutPoint {
	return model.OutPoint{Hash: tx.TxHash()}
}

func TestAcceptTransaction(t *testing.T) {
	tp := newTestPool(t, nil)

	listener := &recordingListener{}
	tp.mp.Subscribe(listener)

	prev := tp.fund()
	tx := tp.spend(prev, fundValue, 10000)

	descs := tp.accept(tx)
	require.Len(t, descs, 1)

	d := descs[0]
	assert.Equal(t, tx.TxHash(), d.Hash)
	assert.Equal(t, int64(10000), d.Fee)
	assert.Equal(t, tx.SerializeSize(), d.Size)
	assert.Equal(t, int32(tipHeight), d.Height)
	assert.Greater(t, d.StartingPriority, 0.0)

	assert.True(t, tp.mp.Have(tx.TxHash()))
	assert.Equal(t, 1, tp.mp.Count())
	assert.Equal(t, d.Size, tp.mp.Size())

	spender, ok := tp.mp.SpentBy(prev)
	require.True(t, ok)
	assert.Equal(t, tx.TxHash(), spender)

	fetched, ok := tp.mp.Fetch(tx.TxHash())
	require.True(t, ok)
	assert.Equal(t, tx, fetched)

	assert.Equal(t, []chainhash.Hash{tx.TxHash()}, listener.accepted)
}

func TestRejectDuplicate(t *testing.T) {
	tp := newTestPool(t, nil)

	tx := tp.spend(tp.fund(), fundValue, 10000)
	tp.accept(tx)

	_, err := tp.mp.ProcessTransaction(context.Background(), tx, true, false)
	require.Error(t, err)
	assert.Equal(t, errors.ERR_TX_ALREADY_EXISTS, errors.CodeOf(err))
	assert.False(t, tp.mp.IsRecentlyRejected(tx.TxHash()))
}

func TestRejectConflictingSpend(t *testing.T) {
	tp := newTestPool(t, nil)

	prev := tp.fund()
	tp.accept(tp.spend(prev, fundValue, 10000))

	double := tp.spend(prev, fundValue, 20000)

	_, err := tp.mp.ProcessTransaction(context.Background(), double, true, false)
	require.Error(t, err)
	assert.Equal(t, errors.ERR_TX_CONFLICTING, errors.CodeOf(err))
	assert.Equal(t, 1, tp.mp.Count())
}

func TestRejectLowFee(t *testing.T) {
	tp := newTestPool(t, nil)

	tx := tp.spend(tp.fund(), fundValue, 0)

	_, err := tp.mp.ProcessTransaction(context.Background(), tx, true, false)
	require.Error(t, err)
	assert.Equal(t, errors.ERR_TX_LOW_FEE, errors.CodeOf(err))
	assert.True(t, tp.mp.IsRecentlyRejected(tx.TxHash()))

	tp.mp.UpdatedTip(tp.chain.tip, false)
	assert.False(t, tp.mp.IsRecentlyRejected(tx.TxHash()))
}

func TestFreeTransactionWithPriority(t *testing.T) {
	tp := newTestPool(t, map[string]string{"relaypriority": "1"})

	// 50 coins aged 199 blocks qualify for free relay
	tx := tp.spend(tp.fund(), fundValue, 0)

	descs := tp.accept(tx)
	require.Len(t, descs, 1)
	assert.True(t, validator.AllowFree(descs[0].StartingPriority))
}

func TestRejectAbsurdFee(t *testing.T) {
	tp := newTestPool(t, nil)

	tx := tp.spend(tp.fund(), fundValue, fundValue/2)

	_, err := tp.mp.ProcessTransaction(context.Background(), tx, true, false)
	require.Error(t, err)
	assert.Equal(t, errors.ERR_TX_POLICY, errors.CodeOf(err))
}

func TestRejectCoinbase(t *testing.T) {
	tp := newTestPool(t, nil)

	sigScript, err := txscript.NewScriptBuilder().AddInt64(tipHeight + 1).AddInt64(1).Script()
	require.NoError(t, err)

	coinbase := model.NewTx(1)
	coinbase.AddTxIn(model.NewTxIn(&model.OutPoint{Index: math.MaxUint32}, sigScript))
	coinbase.AddTxOut(model.NewTxOut(fundValue, tp.pkScript))

	_, err = tp.mp.ProcessTransaction(context.Background(), coinbase, true, false)
	require.Error(t, err)
	assert.Equal(t, errors.ERR_TX_INVALID, errors.CodeOf(err))
}

func TestRejectImmatureCoinbaseSpend(t *testing.T) {
	tp := newTestPool(t, nil)

	hash := chainhash.HashH([]byte("young coinbase"))
	tp.chain.coins.ModifyNew(hash, &utxo.Coins{
		CoinBase: true,
		Height:   tipHeight - 10,
		Version:  1,
		Outputs:  []*model.TxOut{{Value: fundValue, PkScript: tp.pkScript}},
	})

	tx := tp.spend(model.OutPoint{Hash: hash}, fundValue, 10000)

	_, err := tp.mp.ProcessTransaction(context.Background(), tx, true, false)
	require.Error(t, err)
	assert.Equal(t, errors.ERR_TX_INVALID, errors.CodeOf(err))
	assert.Zero(t, tp.mp.Count())
}

func TestChainedTransactions(t *testing.T) {
	tp := newTestPool(t, nil)

	parent := tp.spend(tp.fund(), fundValue, 10000)
	tp.accept(parent)

	child := tp.spend(outOf(parent), fundValue-10000, 10000)
	descs := tp.accept(child)
	require.Len(t, descs, 1)

	// unconfirmed inputs add no priority
	assert.Zero(t, descs[0].StartingPriority)
	assert.Equal(t, 2, tp.mp.Count())
}

func TestOrphanAdmittedWithParent(t *testing.T) {
	tp := newTestPool(t, nil)

	parent := tp.spend(tp.fund(), fundValue, 10000)
	child := tp.spend(outOf(parent), fundValue-10000, 10000)
	grandchild := tp.spend(outOf(child), fundValue-20000, 10000)

	descs := tp.accept(grandchild)
	assert.Empty(t, descs)

	descs = tp.accept(child)
	assert.Empty(t, descs)

	assert.True(t, tp.mp.HaveTransaction(child.TxHash()))
	assert.False(t, tp.mp.Have(child.TxHash()))

	descs = tp.accept(parent)
	require.Len(t, descs, 3)
	assert.Equal(t, parent.TxHash(), descs[0].Hash)
	assert.Equal(t, child.TxHash(), descs[1].Hash)
	assert.Equal(t, grandchild.TxHash(), descs[2].Hash)

	assert.Equal(t, 3, tp.mp.Count())
	assert.Zero(t, tp.mp.orphans.count())
}

func TestOrphanRejectedWhenNotAllowed(t *testing.T) {
	tp := newTestPool(t, nil)

	parent := tp.spend(tp.fund(), fundValue, 10000)
	child := tp.spend(outOf(parent), fundValue-10000, 10000)

	_, err := tp.mp.ProcessTransaction(context.Background(), child, false, false)
	require.Error(t, err)
	assert.Equal(t, errors.ERR_TX_MISSING_PARENT, errors.CodeOf(err))
	assert.False(t, tp.mp.HaveTransaction(child.TxHash()))
}

func TestOrphanOfRejectedParent(t *testing.T) {
	tp := newTestPool(t, nil)

	parent := tp.spend(tp.fund(), fundValue, 0)

	_, err := tp.mp.ProcessTransaction(context.Background(), parent, true, false)
	require.Error(t, err)

	child := tp.spend(outOf(parent), fundValue, 10000)

	_, err = tp.mp.ProcessTransaction(context.Background(), child, true, false)
	require.Error(t, err)
	assert.True(t, tp.mp.IsRecentlyRejected(child.TxHash()))
}

func TestBlockConnectedRemovesIncluded(t *testing.T) {
	tp := newTestPool(t, nil)

	parent := tp.spend(tp.fund(), fundValue, 10000)
	tp.accept(parent)

	child := tp.spend(outOf(parent), fundValue-10000, 10000)
	tp.accept(child)

	block := model.NewBlock(&model.BlockHeader{}, []*model.Tx{parent})
	tp.mp.BlockConnected(block, &blockchain.BlockIndex{Height: tipHeight + 1})

	assert.False(t, tp.mp.Have(parent.TxHash()))
	assert.True(t, tp.mp.Have(child.TxHash()))

	_, ok := tp.mp.SpentBy(outOf(parent))
	assert.True(t, ok)
}

func TestBlockConnectedRemovesConflicts(t *testing.T) {
	tp := newTestPool(t, nil)

	prev := tp.fund()

	pooled := tp.spend(prev, fundValue, 10000)
	tp.accept(pooled)

	child := tp.spend(outOf(pooled), fundValue-10000, 10000)
	tp.accept(child)

	other := tp.accept(tp.spend(tp.fund(), fundValue, 10000))
	require.Len(t, other, 1)

	mined := tp.spend(prev, fundValue, 30000)

	block := model.NewBlock(&model.BlockHeader{}, []*model.Tx{mined})
	tp.mp.BlockConnected(block, &blockchain.BlockIndex{Height: tipHeight + 1})

	assert.False(t, tp.mp.Have(pooled.TxHash()))
	assert.False(t, tp.mp.Have(child.TxHash()))
	assert.True(t, tp.mp.Have(other[0].Hash))
	assert.Equal(t, 1, tp.mp.Count())

	_, ok := tp.mp.SpentBy(prev)
	assert.False(t, ok)
}

func TestBlockDisconnectedReadmits(t *testing.T) {
	tp := newTestPool(t, nil)

	tx := tp.spend(tp.fund(), fundValue, 10000)

	block := model.NewBlock(&model.BlockHeader{}, []*model.Tx{tx})
	tp.mp.BlockDisconnected(block, &blockchain.BlockIndex{Height: tipHeight + 1})
	tp.mp.UpdatedTip(tp.chain.tip, false)

	select {
	case <-tp.mp.resurrectCh:
	default:
		t.Fatal("tip update did not signal readmission")
	}

	tp.mp.processResurrected(context.Background())

	assert.True(t, tp.mp.Have(tx.TxHash()))
}

func TestRevalidateDropsSpentInputs(t *testing.T) {
	tp := newTestPool(t, nil)

	prev := tp.fund()

	parent := tp.spend(prev, fundValue, 10000)
	tp.accept(parent)

	child := tp.spend(outOf(parent), fundValue-10000, 10000)
	tp.accept(child)

	require.NoError(t, tp.chain.coins.Modify(prev.Hash, func(coins *utxo.Coins) error {
		coins.Spend(0)
		return nil
	}))

	require.NoError(t, tp.mp.revalidate())

	assert.Zero(t, tp.mp.Count())
}

func TestExpire(t *testing.T) {
	tp := newTestPool(t, nil)

	parent := tp.spend(tp.fund(), fundValue, 10000)
	tp.accept(parent)

	child := tp.spend(outOf(parent), fundValue-10000, 10000)
	tp.accept(child)

	assert.Zero(t, tp.mp.Expire(time.Now().Add(-time.Hour)))
	assert.Equal(t, 2, tp.mp.Expire(time.Now().Add(time.Second)))
	assert.Zero(t, tp.mp.Count())
	assert.Zero(t, tp.mp.Size())
}

func TestTrimToSizeEvictsLowestFeeRate(t *testing.T) {
	tp := newTestPool(t, nil)

	cheap := tp.spend(tp.fund(), fundValue, 10000)
	tp.accept(cheap)

	rich := tp.spend(tp.fund(), fundValue, 50000)
	tp.accept(rich)

	usage := tp.mp.DynamicMemoryUsage()

	assert.Zero(t, tp.mp.TrimToSize(usage))
	assert.Equal(t, 1, tp.mp.TrimToSize(usage-1))

	assert.False(t, tp.mp.Have(cheap.TxHash()))
	assert.True(t, tp.mp.Have(rich.TxHash()))
}

func TestTxDescsOrderedByFeeRate(t *testing.T) {
	tp := newTestPool(t, nil)

	fees := []int64{20000, 50000, 10000}
	for _, fee := range fees {
		tp.accept(tp.spend(tp.fund(), fundValue, fee))
	}

	descs := tp.mp.TxDescs()
	require.Len(t, descs, 3)

	assert.Equal(t, int64(50000), descs[0].Fee)
	assert.Equal(t, int64(20000), descs[1].Fee)
	assert.Equal(t, int64(10000), descs[2].Fee)
}

func TestFreeRelayLimited(t *testing.T) {
	tp := newTestPool(t, map[string]string{"relaypriority": "1", "limitfreerelay": "0"})

	tx := tp.spend(tp.fund(), fundValue, 0)

	_, err := tp.mp.ProcessTransaction(context.Background(), tx, true, true)
	require.Error(t, err)
	assert.Equal(t, errors.ERR_TX_LOW_FEE, errors.CodeOf(err))

	// the limit only applies to relayed transactions
	tp.accept(tx)
}

func TestClear(t *testing.T) {
	tp := newTestPool(t, nil)

	parent := tp.spend(tp.fund(), fundValue, 10000)
	orphan := tp.spend(outOf(tp.spend(tp.fund(), fundValue, 10000)), fundValue-10000, 10000)

	tp.accept(parent)
	tp.accept(orphan)

	tp.mp.Clear()

	assert.Zero(t, tp.mp.Count())
	assert.Zero(t, tp.mp.orphans.count())
	assert.Empty(t, tp.mp.TxHashes())
}
