package blockchain

import (
	"math"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
)

func TestComputeStakeModifier(t *testing.T) {
	assert.Equal(t, uint64(0), ComputeStakeModifier(nil))

	pow := &blockchain_store.BlockIndex{Hash: chainhash.Hash{1}, StakeModifier: 7}
	pos := &blockchain_store.BlockIndex{
		Hash:           chainhash.Hash{1},
		StakeModifier:  7,
		ProofOfStake:   true,
		KernelOutPoint: model.OutPoint{Hash: chainhash.Hash{2}},
	}

	assert.Equal(t, ComputeStakeModifier(pow), ComputeStakeModifier(pow))
	assert.NotEqual(t, ComputeStakeModifier(pow), ComputeStakeModifier(pos))

	next := &blockchain_store.BlockIndex{Hash: chainhash.Hash{1}, StakeModifier: ComputeStakeModifier(pow)}
	assert.NotEqual(t, ComputeStakeModifier(pow), ComputeStakeModifier(next))
}

func TestKernelHash(t *testing.T) {
	op := model.OutPoint{Hash: chainhash.Hash{3}, Index: 1}

	a := KernelHash(42, 1000, op, 2000)
	assert.Equal(t, a, KernelHash(42, 1000, op, 2000))
	assert.NotEqual(t, a, KernelHash(42, 1000, op, 2016))
	assert.NotEqual(t, a, KernelHash(43, 1000, op, 2000))

	op.Index = 2
	assert.NotEqual(t, a, KernelHash(42, 1000, op, 2000))
}

func TestCheckKernelHash(t *testing.T) {
	kernel := chainhash.Hash{}
	kernel[31] = 0x01 // a large little endian value

	assert.False(t, CheckKernelHash(kernel, 0x207fffff, 0))
	assert.False(t, CheckKernelHash(kernel, 0, model.COIN))
	assert.True(t, CheckKernelHash(kernel, 0x207fffff, model.COIN))

	// weight scales the target
	assert.False(t, CheckKernelHash(kernel, 0x1d00ffff, 1))
	assert.True(t, CheckKernelHash(kernel, 0x1d00ffff, math.MaxInt64))
}

func posBlock(t *testing.T, key *bec.PrivateKey) *model.Block {
	t.Helper()

	pkScript, err := txscript.PayToPubKeyScript(key.PubKey().SerialiseCompressed())
	require.NoError(t, err)

	coinbase := model.NewTx(1)
	coinbase.AddTxIn(model.NewTxIn(&model.OutPoint{Index: math.MaxUint32}, []byte{0x51, 0x51}))
	coinbase.AddTxOut(model.NewTxOut(0, nil))

	coinstake := model.NewTx(1)
	coinstake.AddTxIn(model.NewTxIn(&model.OutPoint{Hash: chainhash.Hash{5}}, nil))
	coinstake.AddTxOut(model.NewTxOut(0, nil))
	coinstake.AddTxOut(model.NewTxOut(10*model.COIN, pkScript))

	block := model.NewBlock(&model.BlockHeader{Version: 4, Timestamp: 1600000000, Bits: 0x207fffff}, []*model.Tx{coinbase, coinstake})
	block.Header.HashMerkleRoot, _ = block.BuildMerkleRoot()

	require.True(t, block.IsProofOfStake())

	return block
}

func TestBlockSignature(t *testing.T) {
	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	block := posBlock(t, key)
	hash := block.Hash()

	err = CheckBlockSignature(block, hash)
	require.Error(t, err)
	assert.Contains(t, NewValidationState(err).Reason, "missing")

	require.NoError(t, SignBlock(block, hash, key))
	require.NoError(t, CheckBlockSignature(block, hash))

	// a signature by another key
	other, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)
	require.NoError(t, SignBlock(block, hash, other))
	require.Error(t, CheckBlockSignature(block, hash))

	// proof of work blocks must not be signed
	pow := model.NewBlock(block.Header, block.Transactions[:1])
	require.NoError(t, CheckBlockSignature(pow, hash))

	pow.Signature = []byte{1}
	require.Error(t, CheckBlockSignature(pow, hash))
}
