package mempool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// confirm tracks n transactions paying feeRate per kB at height and
// confirms them after blocks.
func confirm(fe *FeeEstimator, seq *int, height int32, blocks int32, feeRate int64, n int) {
	hashes := make([]chainhash.Hash, 0, n)
	rates := make([]int64, 0, n)

	for i := 0; i < n; i++ {
		*seq++

		h := chainhash.HashH([]byte{byte(*seq), byte(*seq >> 8), byte(*seq >> 16)})
		fe.ProcessTransaction(&TxDesc{Hash: h, Height: height, Fee: feeRate, Size: 1000})

		hashes = append(hashes, h)
		rates = append(rates, feeRate)
	}

	fe.ProcessBlock(height+blocks, hashes, rates)
}

func TestEstimateFeeWithoutData(t *testing.T) {
	fe := NewFeeEstimator()

	assert.Equal(t, int64(-1), fe.EstimateFee(1))
	assert.Equal(t, int64(-1), fe.EstimateFee(0))
	assert.Equal(t, int64(-1), fe.EstimateFee(MaxConfirmTarget+1))
}

func TestEstimateFeeSeparatesTargets(t *testing.T) {
	fe := NewFeeEstimator()
	seq := 0

	// high fees confirm in the next block, low fees take five
	for h := int32(1); h < 200; h += 10 {
		confirm(fe, &seq, h, 1, 100000, 5)
		confirm(fe, &seq, h+5, 5, 10000, 5)
	}

	fast := fe.EstimateFee(1)
	require.Positive(t, fast)
	assert.InDelta(t, 100000, fast, 1)

	slow := fe.EstimateFee(5)
	require.Positive(t, slow)
	assert.InDelta(t, 10000, slow, 1)
}

func TestEstimatorIgnoresOldBlocks(t *testing.T) {
	fe := NewFeeEstimator()
	seq := 0

	confirm(fe, &seq, 10, 1, 50000, 3)
	assert.Positive(t, fe.EstimateFee(1))

	before := fe.EstimateFee(1)

	// a block at an already seen height is a reorg and is not counted
	confirm(fe, &seq, 9, 1, 1000, 20)
	assert.Equal(t, before, fe.EstimateFee(1))
	assert.Empty(t, fe.tracked)
}

func TestEstimatorRemoveTx(t *testing.T) {
	fe := NewFeeEstimator()

	h := chainhash.HashH([]byte("gone"))
	fe.ProcessTransaction(&TxDesc{Hash: h, Height: 1, Fee: 5000, Size: 250})
	fe.RemoveTx(h)

	fe.ProcessBlock(2, []chainhash.Hash{h}, []int64{20000})
	assert.Equal(t, int64(-1), fe.EstimateFee(1))
}

func TestEstimatorSaveLoad(t *testing.T) {
	fe := NewFeeEstimator()
	seq := 0

	for h := int32(1); h < 50; h += 2 {
		confirm(fe, &seq, h, 2, 30000, 4)
	}

	path := filepath.Join(t.TempDir(), feeEstimatesFile)
	require.NoError(t, fe.Save(path))

	restored := NewFeeEstimator()
	require.NoError(t, restored.Load(path))

	assert.Equal(t, fe.bestHeight, restored.bestHeight)
	assert.Equal(t, fe.EstimateFee(2), restored.EstimateFee(2))
	assert.Equal(t, fe.EstimateFee(10), restored.EstimateFee(10))
}

func TestEstimatorLoadTolerance(t *testing.T) {
	dir := t.TempDir()
	fe := NewFeeEstimator()

	require.NoError(t, fe.Load(filepath.Join(dir, "missing.json")))

	foreign := filepath.Join(dir, "foreign.json")
	require.NoError(t, os.WriteFile(foreign, []byte(`{"version":99,"buckets":3}`), 0o600))
	require.NoError(t, fe.Load(foreign))
	assert.Zero(t, fe.bestHeight)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"version":`), 0o600))
	require.Error(t, fe.Load(corrupt))
}
