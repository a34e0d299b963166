package utxo

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
)

func p2pkh(b byte) []byte {
	script := []byte{opDup, opHash160, 20}
	script = append(script, bytes.Repeat([]byte{b}, 20)...)

	return append(script, opEqualVerify, opCheckSig)
}

func TestCompressAmount(t *testing.T) {
	cases := map[uint64]uint64{
		0:                             0x0,
		1:                             0x1,
		uint64(model.CENT):            0x7,
		uint64(model.COIN):            0x9,
		uint64(50 * model.COIN):       0x32,
		uint64(21000000 * model.COIN): 0x1406f40,
	}

	for amount, compressed := range cases {
		assert.Equal(t, compressed, CompressAmount(amount), "amount %d", amount)
		assert.Equal(t, amount, DecompressAmount(compressed), "amount %d", amount)
	}

	for i := uint64(0); i < 100000; i += 7 {
		assert.Equal(t, i, DecompressAmount(CompressAmount(i)))
	}
}

func TestCompressedTxOut(t *testing.T) {
	gCompressed, _ := hex.DecodeString("0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	gUncompressed, _ := hex.DecodeString("0479be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798" +
		"483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8")

	p2sh := append([]byte{opHash160, 20}, bytes.Repeat([]byte{7}, 20)...)
	p2sh = append(p2sh, opEqual)

	scripts := []struct {
		name string
		pk   []byte
		size int
	}{
		{"p2pkh", p2pkh(1), 21},
		{"p2sh", p2sh, 21},
		{"p2pk compressed", append(append([]byte{33}, gCompressed...), opCheckSig), 33},
		{"p2pk uncompressed", append(append([]byte{65}, gUncompressed...), opCheckSig), 33},
		{"raw", []byte{0x51, 0x52, 0x93}, 4},
	}

	for _, tc := range scripts {
		t.Run(tc.name, func(t *testing.T) {
			out := &model.TxOut{Value: 5 * model.COIN, PkScript: tc.pk}

			b := AppendCompressedTxOut(nil, out)
			assert.Len(t, b, 1+tc.size)

			decoded, err := ReadCompressedTxOut(bytes.NewReader(b))
			require.NoError(t, err)
			assert.True(t, out.Equal(decoded))
		})
	}
}

func TestIsUnspendable(t *testing.T) {
	assert.True(t, IsUnspendable(&model.TxOut{}))
	assert.True(t, IsUnspendable(&model.TxOut{Value: 1, PkScript: []byte{opReturn, 1, 2}}))
	assert.True(t, IsUnspendable(&model.TxOut{Value: model.COIN, PkScript: model.NewZerocoinMintScript([]byte{1, 2, 3})}))
	assert.True(t, IsUnspendable(&model.TxOut{Value: 1, PkScript: make([]byte, maxScriptSize+1)}))
	assert.False(t, IsUnspendable(&model.TxOut{Value: 1, PkScript: p2pkh(3)}))
}

func testTx(outputs ...int64) *model.Tx {
	tx := model.NewTx(model.TxVersion)
	tx.AddTxIn(model.NewTxIn(&model.OutPoint{Index: 3}, []byte{1}))

	for i, v := range outputs {
		tx.AddTxOut(model.NewTxOut(v, p2pkh(byte(i))))
	}

	return tx
}

func TestCoins(t *testing.T) {
	tx := testTx(10, 20, 30)
	tx.AddTxOut(&model.TxOut{Value: 0, PkScript: []byte{opReturn}})

	coins := NewCoinsFromTx(tx, 55)
	assert.Len(t, coins.Outputs, 3, "trailing unspendable output is trimmed")
	assert.False(t, coins.IsPruned())
	assert.True(t, coins.IsMature(0, 100))

	out, ok := coins.Spend(1)
	require.True(t, ok)
	assert.Equal(t, int64(20), out.Value)

	_, ok = coins.Spend(1)
	assert.False(t, ok)
	assert.False(t, coins.IsAvailable(1))

	decoded, err := NewCoinsFromBytes(coins.Bytes())
	require.NoError(t, err)
	assert.True(t, coins.Equal(decoded))
	assert.Equal(t, int32(55), decoded.Height)

	_, ok = coins.Spend(2)
	require.True(t, ok)
	assert.Len(t, coins.Outputs, 1)

	_, ok = coins.Spend(0)
	require.True(t, ok)
	assert.True(t, coins.IsPruned())
	assert.Empty(t, coins.Outputs)
}

func TestCoinsMaturity(t *testing.T) {
	coinbase := model.NewTx(model.TxVersion)
	coinbase.AddTxIn(model.NewTxIn(&model.OutPoint{Index: model.MaxPrevOutIndex}, []byte{1, 1}))
	coinbase.AddTxOut(model.NewTxOut(50*model.COIN, p2pkh(9)))

	coins := NewCoinsFromTx(coinbase, 10)
	require.True(t, coins.CoinBase)

	assert.False(t, coins.IsMature(109, 100))
	assert.True(t, coins.IsMature(110, 100))

	decoded, err := NewCoinsFromBytes(coins.Bytes())
	require.NoError(t, err)
	assert.True(t, decoded.CoinBase)
	assert.False(t, decoded.CoinStake)
}

func TestCoinsCorrupt(t *testing.T) {
	b := NewCoinsFromTx(testTx(1, 2), 1).Bytes()

	_, err := NewCoinsFromBytes(b[:len(b)-1])
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCorruption))

	_, err = NewCoinsFromBytes(append(b, 0))
	require.Error(t, err)
}

func TestBlockUndoEncoding(t *testing.T) {
	bu := &BlockUndo{Txs: []TxUndo{
		{Prevouts: []TxInUndo{
			{Out: model.TxOut{Value: 7, PkScript: p2pkh(1)}, CoinBase: true, Height: 12, Version: 1},
			{Out: model.TxOut{Value: 9, PkScript: p2pkh(2)}, CoinStake: true, Height: 300, Version: 1},
		}},
		{Prevouts: []TxInUndo{
			{Out: model.TxOut{Value: 1, PkScript: []byte{0x51}}, Height: 0, Version: 2},
		}},
	}}

	decoded, err := NewBlockUndoFromBytes(bu.Bytes())
	require.NoError(t, err)
	assert.Equal(t, bu, decoded)

	_, err = NewBlockUndoFromBytes(bu.Bytes()[:5])
	require.Error(t, err)
}
