package wallet

import (
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	"github.com/tessacoin/tessanode/services/mempool"
)

func mintsOf(denoms ...libzerocoin.Denomination) []*Mint {
	mints := make([]*Mint, 0, len(denoms))

	for i, d := range denoms {
		mints = append(mints, &Mint{Count: uint32(i + 1), Denomination: d})
	}

	return mints
}

func denomsOf(mints []*Mint) []libzerocoin.Denomination {
	out := make([]libzerocoin.Denomination, 0, len(mints))
	for _, m := range mints {
		out = append(out, m.Denomination)
	}

	return out
}

func TestSelectMints(t *testing.T) {
	tests := []struct {
		name   string
		mints  []libzerocoin.Denomination
		amount int64
		want   []libzerocoin.Denomination
	}{
		{
			name:   "exact sum",
			mints:  []libzerocoin.Denomination{libzerocoin.DenomOne, libzerocoin.DenomFive, libzerocoin.DenomTen, libzerocoin.DenomFive},
			amount: 11,
			want:   []libzerocoin.Denomination{libzerocoin.DenomTen, libzerocoin.DenomOne},
		},
		{
			name:   "single mint beats combined overshoot",
			mints:  []libzerocoin.Denomination{libzerocoin.DenomTen, libzerocoin.DenomFifty},
			amount: 20,
			want:   []libzerocoin.Denomination{libzerocoin.DenomFifty},
		},
		{
			name:   "combined overshoot",
			mints:  []libzerocoin.Denomination{libzerocoin.DenomTen, libzerocoin.DenomTen},
			amount: 15,
			want:   []libzerocoin.Denomination{libzerocoin.DenomTen, libzerocoin.DenomTen},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, total, err := SelectMints(mintsOf(tt.mints...), tt.amount*model.COIN, 10)
			require.NoError(t, err)

			assert.Equal(t, tt.want, denomsOf(selected))

			var want int64
			for _, d := range tt.want {
				want += d.Amount()
			}

			assert.Equal(t, want, total)
		})
	}
}

func TestSelectMints_Limits(t *testing.T) {
	_, _, err := SelectMints(mintsOf(libzerocoin.DenomOne, libzerocoin.DenomOne), 5*model.COIN, 10)
	require.ErrorIs(t, err, errors.ErrWalletInsufficient)

	ones := mintsOf(libzerocoin.DenomOne, libzerocoin.DenomOne, libzerocoin.DenomOne, libzerocoin.DenomOne)

	_, _, err = SelectMints(ones, 4*model.COIN, 3)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

// mintTx builds an unconfirmed transaction minting the wallet's coin count.
func mintTx(t *testing.T, tw *testWallet, count uint32, denom libzerocoin.Denomination) *model.Tx {
	t.Helper()

	coin, err := libzerocoin.DeriveCoin(tw.params.Zerocoin.Group, tw.zcSeed, count)
	require.NoError(t, err)

	tx := model.NewTx(model.TxVersion)
	tx.AddTxIn(model.NewTxIn(model.NewOutPoint(&chainhash.Hash{1}, 0), nil))
	tx.AddTxOut(model.NewTxOut(denom.Amount(), model.NewZerocoinMintScript(coin.PublicCoin.Bytes())))

	return tx
}

func TestWallet_RecoversLookaheadMint(t *testing.T) {
	tw := newTestWallet(t)

	require.Len(t, tw.lookaheadCoins, 2)

	// a mint of the second derived coin, made by another copy of the seed
	tx := mintTx(t, tw, 2, libzerocoin.DenomFive)
	tw.TxAccepted(&mempool.TxDesc{Tx: tx, Hash: tx.TxHash()})

	mints := tw.Mints()
	require.Len(t, mints, 1)
	assert.Equal(t, uint32(2), mints[0].Count)
	assert.Equal(t, libzerocoin.DenomFive, mints[0].Denomination)
	assert.Equal(t, tx.TxHash(), mints[0].TxHash)
	assert.Equal(t, unconfirmed, mints[0].Height)

	// the lookahead moves past the recovered count
	assert.Equal(t, uint32(2), tw.meta.MintCount)
	assert.NotNil(t, tw.lookaheadByCount(1))
	assert.NotNil(t, tw.lookaheadByCount(4))
	assert.Nil(t, tw.lookaheadByCount(2))

	// unconfirmed mints do not count
	assert.Zero(t, tw.Balance().Zerocoin)

	tw.abandon(tx.TxHash())
	assert.Empty(t, tw.Mints())
}

func TestWallet_IgnoresForeignMint(t *testing.T) {
	tw := newTestWallet(t)

	other := newTestWallet(t)
	tx := mintTx(t, other, 1, libzerocoin.DenomOne)

	tw.TxAccepted(&mempool.TxDesc{Tx: tx, Hash: tx.TxHash()})

	assert.Empty(t, tw.Mints())

	_, known := tw.Transaction(tx.TxHash())
	assert.False(t, known)
}

func TestWallet_MintBeforeActivation(t *testing.T) {
	tw := newTestWallet(t)

	_, err := tw.CreateMint(5 * model.COIN)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = tw.CreateMint(model.COIN / 2)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestWallet_SpendWithoutMints(t *testing.T) {
	tw := newTestWallet(t)

	_, err := tw.CreateZerocoinSpend(t.Context(), 5*model.COIN, tw.chainAddress())
	require.ErrorIs(t, err, errors.ErrWalletInsufficient)

	_, err = tw.CreateZerocoinSpend(t.Context(), model.COIN+1, tw.chainAddress())
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}
