package zerocoin

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	zcstore "github.com/tessacoin/tessanode/stores/zerocoin"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/ulogger"
)

type memChain struct {
	blocks []*model.Block
}

func (c *memChain) BlockAt(height int32) (*model.Block, error) {
	if height < 0 || int(height) >= len(c.blocks) {
		return nil, errors.NewBlockNotFoundError("no block at %d", height)
	}

	return c.blocks[height], nil
}

func (c *memChain) HeaderAt(height int32) (*model.BlockHeader, error) {
	block, err := c.BlockAt(height)
	if err != nil {
		return nil, err
	}

	return block.Header, nil
}

func (c *memChain) tip() *model.BlockHeader {
	if len(c.blocks) == 0 {
		return nil
	}

	return c.blocks[len(c.blocks)-1].Header
}

func testParams() *chaincfg.Params {
	params := chaincfg.RegressionNetParams
	params.Zerocoin.StartHeight = 1
	params.Zerocoin.AccBlockInterval = 2
	params.Zerocoin.MintRequiredConfirmations = 2

	return &params
}

type fixture struct {
	params  *chaincfg.Params
	store   *zcstore.Store
	chain   *memChain
	tracker *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		params: testParams(),
		store:  zcstore.New(ulogger.TestLogger{}, kvstore.NewMemory(ulogger.TestLogger{}, "zerocoin")),
		chain:  &memChain{},
	}
	f.tracker = New(ulogger.TestLogger{}, f.params, f.store, f.chain)

	return f
}

// nextBlock builds the next block on the fixture chain carrying the
// checkpoint the tracker expects.
func (f *fixture) nextBlock(t *testing.T, txs ...*model.Tx) (*model.Block, int32) {
	t.Helper()

	height := int32(len(f.chain.blocks))

	cp, err := f.tracker.ExpectedCheckpoint(f.chain.tip(), height)
	require.NoError(t, err)

	header := &model.BlockHeader{
		Version:               model.ZerocoinHeaderVersion,
		Timestamp:             uint32(1600000000 + height),
		Nonce:                 uint32(height),
		AccumulatorCheckpoint: cp,
	}

	if prev := f.chain.tip(); prev != nil {
		header.HashPrevBlock = prev.Hash()
	}

	coinbase := model.NewTx(model.TxVersion)
	coinbase.AddTxIn(model.NewTxIn(model.NewOutPoint(&chainhash.Hash{}, model.MaxPrevOutIndex), []byte{byte(height), 0x01}))
	coinbase.AddTxOut(model.NewTxOut(0, nil))

	return model.NewBlock(header, append([]*model.Tx{coinbase}, txs...)), height
}

func (f *fixture) connect(t *testing.T, txs ...*model.Tx) int32 {
	t.Helper()

	block, height := f.nextBlock(t, txs...)

	_, err := f.tracker.ConnectBlock(context.Background(), block, height, f.chain.tip())
	require.NoError(t, err)

	f.chain.blocks = append(f.chain.blocks, block)

	return height
}

func (f *fixture) disconnect(t *testing.T) {
	t.Helper()

	height := int32(len(f.chain.blocks)) - 1
	require.NoError(t, f.tracker.DisconnectBlock(context.Background(), f.chain.blocks[height], height))

	f.chain.blocks = f.chain.blocks[:height]
}

func deriveCoin(t *testing.T, params *chaincfg.Params, n uint32) *libzerocoin.PrivateCoin {
	t.Helper()

	coin, err := libzerocoin.DeriveCoin(params.Zerocoin.Group, bytes.Repeat([]byte{0x07}, 32), n)
	require.NoError(t, err)

	coin.SetDenomination(libzerocoin.DenomOne)

	return coin
}

func mintTx(coins ...*libzerocoin.PrivateCoin) *model.Tx {
	prev := chainhash.DoubleHashH([]byte("funding"))

	tx := model.NewTx(model.TxVersion)
	tx.AddTxIn(model.NewTxIn(model.NewOutPoint(&prev, 0), []byte{0x51}))

	for _, c := range coins {
		tx.AddTxOut(model.NewTxOut(c.PublicCoin.Denomination.Amount(), model.NewZerocoinMintScript(c.PublicCoin.Bytes())))
	}

	return tx
}

func spendTx(t *testing.T, f *fixture, coin *libzerocoin.PrivateCoin, mintHeight, spendHeight int32) *model.Tx {
	t.Helper()

	material, err := f.tracker.SpendWitness(context.Background(), coin.PublicCoin, mintHeight, spendHeight)
	require.NoError(t, err)

	tx := model.NewTx(model.TxVersion)
	in := model.NewTxIn(model.NewOutPoint(&chainhash.Hash{}, model.MaxPrevOutIndex), nil)
	in.Sequence = uint32(coin.PublicCoin.Denomination)
	tx.AddTxIn(in)
	tx.AddTxOut(model.NewTxOut(coin.PublicCoin.Denomination.Amount()-model.CENT, []byte{0x51}))

	spend, err := libzerocoin.NewCoinSpend(f.params.Zerocoin.Group, coin, material.Accumulator, material.Checksum, material.Witness, tx.PartialHash())
	require.NoError(t, err)

	tx.TxIn[0].SignatureScript = model.NewZerocoinSpendScript(spend.Bytes())

	return tx
}

func assertSameAccumulators(t *testing.T, expected, actual map[libzerocoin.Denomination]*big.Int) {
	t.Helper()

	require.Len(t, actual, len(expected))

	for denom, value := range expected {
		assert.Zero(t, value.Cmp(actual[denom]), "accumulator %s", denom)
	}
}

func rejectReason(t *testing.T, err error) string {
	t.Helper()

	require.Error(t, err)

	data, ok := errors.RejectDataOf(err)
	require.True(t, ok, "no reject data in %v", err)

	return data.Reason
}

func TestExpectedCheckpoint(t *testing.T) {
	f := newFixture(t)

	f.connect(t)
	assert.Equal(t, chainhash.Hash{}, f.chain.tip().AccumulatorCheckpoint)

	// The first zerocoin block recalculates from an empty checkpoint.
	f.connect(t)
	base := f.chain.tip().AccumulatorCheckpoint
	assert.NotEqual(t, chainhash.Hash{}, base)
	assert.Equal(t, f.tracker.Checkpoint(), base)

	coin := deriveCoin(t, f.params, 1)
	f.connect(t, mintTx(coin))

	// Height 3 inherits, height 4 picks up the mint.
	h := f.connect(t)
	assert.Equal(t, int32(3), h)
	assert.Equal(t, base, f.chain.tip().AccumulatorCheckpoint)

	f.connect(t)
	assert.NotEqual(t, base, f.chain.tip().AccumulatorCheckpoint)

	t.Run("wrong checkpoint", func(t *testing.T) {
		block, height := f.nextBlock(t)
		block.Header.AccumulatorCheckpoint = base

		_, err := f.tracker.ConnectBlock(context.Background(), block, height, f.chain.tip())
		assert.Contains(t, rejectReason(t, err), "bad-accumulator-checkpoint")
		assert.Equal(t, height-1, f.tracker.Height())
	})

	t.Run("out of order", func(t *testing.T) {
		block, height := f.nextBlock(t)

		_, err := f.tracker.ConnectBlock(context.Background(), block, height+1, f.chain.tip())
		require.Error(t, err)
	})
}

func TestMints(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	coin := deriveCoin(t, f.params, 1)

	t.Run("before start", func(t *testing.T) {
		params := testParams()
		params.Zerocoin.StartHeight = 100

		g := &fixture{params: params, store: f.store, chain: &memChain{}}
		g.tracker = New(ulogger.TestLogger{}, params, g.store, g.chain)

		block, height := g.nextBlock(t, mintTx(coin))
		_, err := g.tracker.ConnectBlock(context.Background(), block, height, nil)
		assert.Contains(t, rejectReason(t, err), "bad-txns-zerocoin-inactive")
	})

	t.Run("duplicate in block", func(t *testing.T) {
		block, height := f.nextBlock(t, mintTx(coin, coin))
		_, err := f.tracker.ConnectBlock(context.Background(), block, height, f.chain.tip())
		assert.Contains(t, rejectReason(t, err), "bad-txns-zerocoin-mint-duplicate")
	})

	t.Run("bad pubcoin", func(t *testing.T) {
		bad := mintTx(coin)
		bad.TxOut[0].PkScript = model.NewZerocoinMintScript([]byte{0x04})

		block, height := f.nextBlock(t, bad)
		_, err := f.tracker.ConnectBlock(context.Background(), block, height, f.chain.tip())
		assert.Contains(t, rejectReason(t, err), "bad-txns-zerocoin-mint")
	})

	height := f.connect(t, mintTx(coin))

	rec, err := f.tracker.ReadMint(coin.PublicCoin.Hash())
	require.NoError(t, err)
	assert.Equal(t, height, rec.Height)
	assert.Equal(t, libzerocoin.DenomOne, rec.Denomination)

	t.Run("duplicate in chain", func(t *testing.T) {
		block, height := f.nextBlock(t, mintTx(coin))
		_, err := f.tracker.ConnectBlock(context.Background(), block, height, f.chain.tip())
		assert.Contains(t, rejectReason(t, err), "bad-txns-zerocoin-mint-duplicate")
	})

	supply, err := f.tracker.Supply()
	require.NoError(t, err)
	assert.Equal(t, 1, supply[libzerocoin.DenomOne])

	f.disconnect(t)

	has, err := f.tracker.HasMint(coin.PublicCoin.Hash())
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSpendLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	coinA := deriveCoin(t, f.params, 1)
	coinB := deriveCoin(t, f.params, 2)

	f.connect(t)
	base := f.tracker.Accumulators()

	mintHeight := f.connect(t, mintTx(coinA, coinB))
	f.connect(t) // 2: checkpoint over both mints
	f.connect(t) // 3

	tx := spendTx(t, f, coinA, mintHeight, 4)

	t.Run("immature checkpoint", func(t *testing.T) {
		err := f.tracker.VerifySpendTx(ctx, tx, 3)
		assert.Contains(t, rejectReason(t, err), "bad-txns-zerocoin-accumulator-immature")
	})

	t.Run("wrong denomination", func(t *testing.T) {
		bad := tx.Copy()
		bad.TxIn[0].Sequence = uint32(libzerocoin.DenomFive)

		err := f.tracker.VerifySpendTx(ctx, bad, 4)
		assert.Contains(t, rejectReason(t, err), "bad-txns-zerocoin-spend-denom")
	})

	t.Run("altered transaction", func(t *testing.T) {
		bad := tx.Copy()
		bad.TxOut[0].Value--

		err := f.tracker.VerifySpendTx(ctx, bad, 4)
		assert.Contains(t, rejectReason(t, err), "bad-txns-zerocoin-spend-txhash")
	})

	require.NoError(t, f.tracker.VerifySpendTx(ctx, tx, 4))

	spendHeight := f.connect(t, tx)
	assert.Equal(t, int32(4), spendHeight)

	spend, err := parseSpend(tx.TxIn[0])
	require.NoError(t, err)

	spent, err := f.tracker.IsSerialSpent(spend.SerialHash())
	require.NoError(t, err)
	assert.True(t, spent)

	t.Run("double spend", func(t *testing.T) {
		err := f.tracker.VerifySpendTx(ctx, tx, 5)
		assert.Contains(t, rejectReason(t, err), "bad-txns-zerocoin-double-spend")
	})

	t.Run("reload", func(t *testing.T) {
		reloaded := New(ulogger.TestLogger{}, f.params, f.store, f.chain)
		require.NoError(t, reloaded.Load(ctx, f.tracker.Height()))
		assertSameAccumulators(t, f.tracker.Accumulators(), reloaded.Accumulators())
	})

	f.disconnect(t)

	spent, err = f.tracker.IsSerialSpent(spend.SerialHash())
	require.NoError(t, err)
	assert.False(t, spent)
	require.NoError(t, f.tracker.VerifySpendTx(ctx, tx, 4))

	f.disconnect(t)
	f.disconnect(t)
	f.disconnect(t)

	assert.Equal(t, int32(0), f.tracker.Height())
	assertSameAccumulators(t, base, f.tracker.Accumulators())

	err = f.tracker.VerifySpendTx(ctx, tx, 4)
	assert.Contains(t, rejectReason(t, err), "bad-txns-zerocoin-unknown-accumulator")
}

func TestSpendWitnessNeedsDepth(t *testing.T) {
	f := newFixture(t)
	coin := deriveCoin(t, f.params, 1)

	f.connect(t)
	mintHeight := f.connect(t, mintTx(coin))

	_, err := f.tracker.SpendWitness(context.Background(), coin.PublicCoin, mintHeight, mintHeight+1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrZerocoinInvalid))
}
