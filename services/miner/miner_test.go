package miner

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockassembly"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/blockchain/chaintest"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/mempool"
	"github.com/tessacoin/tessanode/services/validator"
	"github.com/tessacoin/tessanode/services/wallet"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util"
)

// emptyPool is a mempool with nothing to offer and that refuses nothing.
type emptyPool struct {
	policy *validator.Policy
}

func (p *emptyPool) TxDescs() []*mempool.TxDesc { return nil }

func (p *emptyPool) Policy() *validator.Policy { return p.policy }

func (p *emptyPool) ProcessTransaction(_ context.Context, tx *model.Tx, _, _ bool) ([]*mempool.TxDesc, error) {
	return []*mempool.TxDesc{{Tx: tx, Hash: tx.TxHash()}}, nil
}

func (p *emptyPool) Subscribe(mempool.Listener) {}

type testNode struct {
	chain  *chaintest.Chain
	wallet *wallet.Wallet
	miner  *Miner
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()

	chain := chaintest.New(t, map[string]string{"keypool": "5", "zerocoin_lookahead": "1"})
	pool := &emptyPool{policy: validator.NewPolicy(chain.Settings)}
	logger := ulogger.TestLogger{}

	w := wallet.New(logger, chain.Settings, chain.CS, pool, kvstore.NewMemory(logger, "wallet"))
	require.NoError(t, w.Open(context.Background()))

	assembler := blockassembly.NewBlockAssembler(logger, chain.Settings, chain.CS, pool)

	return &testNode{
		chain:  chain,
		wallet: w,
		miner:  NewMiner(logger, chain.Settings, chain.CS, assembler, w),
	}
}

func (n *testNode) walletScript(t *testing.T) []byte {
	t.Helper()

	addr, err := n.wallet.NewAddress("")
	require.NoError(t, err)

	dest, err := txscript.DecodeDestination(addr, n.chain.CS.Params())
	require.NoError(t, err)

	script, err := dest.Script()
	require.NoError(t, err)

	return script
}

func TestMiner_Generate(t *testing.T) {
	node := newTestNode(t)

	hashes, err := node.miner.Generate(context.Background(), 5, node.chain.PkScript)
	require.NoError(t, err)
	require.Len(t, hashes, 5)

	tip := node.chain.CS.Tip()
	assert.Equal(t, int32(5), tip.Height)
	assert.Equal(t, hashes[4], tip.Hash)
}

func TestMiner_GenerateCanceled(t *testing.T) {
	node := newTestNode(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := node.miner.Generate(ctx, 1, node.chain.PkScript)
	require.Error(t, err)
	assert.Equal(t, int32(0), node.chain.CS.Height())
}

type mainChain struct {
	Chain
}

func (mainChain) Params() *chaincfg.Params { return &chaincfg.MainNetParams }

func TestMiner_GenerateNeedsOnDemandChain(t *testing.T) {
	node := newTestNode(t)
	m := NewMiner(ulogger.TestLogger{}, node.chain.Settings, mainChain{node.chain.CS}, nil, nil)

	_, err := m.Generate(context.Background(), 1, nil)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestMiner_StakeDuringProofOfWork(t *testing.T) {
	node := newTestNode(t)

	hash, err := node.miner.Stake(context.Background())
	require.NoError(t, err)
	assert.Nil(t, hash)
}

func TestMiner_Stake(t *testing.T) {
	node := newTestNode(t)
	params := node.chain.CS.Params()

	_, err := node.miner.Generate(context.Background(), int(params.LastPOWBlock), node.walletScript(t))
	require.NoError(t, err)

	before := node.wallet.Balance()

	hash, err := node.miner.Stake(context.Background())
	require.NoError(t, err)
	require.NotNil(t, hash)

	tip := node.chain.CS.Tip()
	require.Equal(t, *hash, tip.Hash)
	assert.Equal(t, params.LastPOWBlock+1, tip.Height)

	block, err := node.chain.CS.ReadBlock(tip)
	require.NoError(t, err)
	require.True(t, block.IsProofOfStake())
	require.NoError(t, blockchain.CheckBlockSignature(block, tip.Hash))

	coinstake := block.Transactions[1]
	require.True(t, coinstake.IsCoinStake())

	wtx, ok := node.wallet.Transaction(coinstake.TxHash())
	require.True(t, ok)
	assert.True(t, wtx.IsConfirmed())

	// the staked coin and its reward are immature again
	after := node.wallet.Balance()
	reward := params.BlockSubsidy(tip.Height)
	assert.Equal(t, before.Confirmed+before.Immature+reward, after.Confirmed+after.Immature)

	// the same slot on the same tip is not searched twice
	hash, err = node.miner.Stake(context.Background())
	require.NoError(t, err)

	if hash != nil {
		assert.Equal(t, params.LastPOWBlock+2, node.chain.CS.Height())
	}
}

func TestMiner_StakeLockedWallet(t *testing.T) {
	node := newTestNode(t)
	params := node.chain.CS.Params()

	_, err := node.miner.Generate(context.Background(), int(params.LastPOWBlock), node.walletScript(t))
	require.NoError(t, err)

	require.NoError(t, node.wallet.Encrypt([]byte("pass")))

	hash, err := node.miner.Stake(context.Background())
	require.NoError(t, err)
	assert.Nil(t, hash)

	code, _, _ := node.miner.Health(context.Background(), false)
	assert.NotEqual(t, 200, code)
}

func output(value int64, index uint32) wallet.Output {
	return wallet.Output{
		OutPoint: model.OutPoint{Hash: chainhash.Hash{byte(index + 1)}, Index: index},
		TxOut:    model.NewTxOut(value, []byte{0x51}),
	}
}

func TestSelectStakeCoins(t *testing.T) {
	coins := []wallet.Output{output(50, 0), output(10, 1), output(30, 2)}

	tests := []struct {
		name    string
		reserve int64
		want    []int64
	}{
		{name: "no reserve", reserve: 0, want: []int64{10, 30, 50}},
		{name: "reserve keeps the largest", reserve: 45, want: []int64{10, 30}},
		{name: "reserve above balance", reserve: 100, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int64
			for _, c := range selectStakeCoins(coins, tt.reserve) {
				got = append(got, c.TxOut.Value)
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchKernel(t *testing.T) {
	easy := util.BigToCompact(chaincfg.RegressionNetParams.PosLimit)
	candidates := []stakeCandidate{
		{coin: output(50*model.COIN, 0), outTime: 1000},
	}

	k, found := searchKernel(42, easy, 0, candidates, 2000, 2010)
	require.True(t, found)
	assert.Equal(t, uint32(2010), k.tryTime)
	assert.Equal(t, blockchain.KernelHash(42, 1000, candidates[0].coin.OutPoint, 2010), k.hash)

	// too young at every time in the window
	_, found = searchKernel(42, easy, 3600, candidates, 2000, 2010)
	assert.False(t, found)

	// a target of one cannot be met
	_, found = searchKernel(42, 0x01010000, 0, candidates, 2000, 2010)
	assert.False(t, found)

	_, found = searchKernel(42, easy, 0, candidates, 2011, 2010)
	assert.False(t, found)
}

func TestNewCoinStake(t *testing.T) {
	coin := output(100*model.COIN, 3)

	tx := newCoinStake(coin, 5*model.COIN, 0)
	require.True(t, tx.IsCoinStake())
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, 105*model.COIN, tx.TxOut[1].Value)

	split := newCoinStake(coin, 5*model.COIN, 50*model.COIN)
	require.Len(t, split.TxOut, 3)
	assert.Equal(t, 105*model.COIN, split.TxOut[1].Value+split.TxOut[2].Value)
	assert.Equal(t, coin.OutPoint, split.TxIn[0].PreviousOutPoint)
}
