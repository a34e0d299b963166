package wallet

import (
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
)

func outputs(values ...int64) []Output {
	out := make([]Output, 0, len(values))

	for i, v := range values {
		out = append(out, Output{
			OutPoint: model.OutPoint{Hash: chainhash.Hash{byte(i + 1)}, Index: uint32(i)},
			TxOut:    model.NewTxOut(v, nil),
		})
	}

	return out
}

func values(coins []Output) []int64 {
	v := make([]int64, 0, len(coins))
	for _, c := range coins {
		v = append(v, c.TxOut.Value)
	}

	return v
}

func TestSelectCoins(t *testing.T) {
	tests := []struct {
		name   string
		coins  []int64
		target int64
		want   []int64
		total  int64
	}{
		{name: "exact single", coins: []int64{5, 10, 20}, target: 10, want: []int64{10}, total: 10},
		{name: "exact subset", coins: []int64{1, 3, 4, 50}, target: 7, want: []int64{3, 4}, total: 7},
		{name: "smallest above", coins: []int64{1, 2, 30, 50}, target: 10, want: []int64{30}, total: 30},
		{name: "aggregate", coins: []int64{4, 4, 4}, target: 10, want: []int64{4, 4, 4}, total: 12},
		{name: "prefers exact subset over single above", coins: []int64{2, 8, 100}, target: 10, want: []int64{2, 8}, total: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, total, err := SelectCoins(outputs(tt.coins...), tt.target)
			require.NoError(t, err)

			assert.Equal(t, tt.want, values(selected))
			assert.Equal(t, tt.total, total)
		})
	}
}

func TestSelectCoins_Insufficient(t *testing.T) {
	_, _, err := SelectCoins(outputs(1, 2, 3), 10)
	require.ErrorIs(t, err, errors.ErrWalletInsufficient)

	_, _, err = SelectCoins(nil, 1)
	require.ErrorIs(t, err, errors.ErrWalletInsufficient)

	_, _, err = SelectCoins(outputs(1), 0)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestSelectCoins_ManyCoins(t *testing.T) {
	coins := make([]int64, 0, 200)
	for i := 0; i < 200; i++ {
		coins = append(coins, 3)
	}

	// no subset of threes sums to 100, so the search gives up and the
	// aggregate covers the target
	selected, total, err := SelectCoins(outputs(coins...), 100)
	require.NoError(t, err)
	assert.Len(t, selected, 34)
	assert.Equal(t, int64(102), total)
}
