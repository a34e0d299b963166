package mempool

import (
	"math"
	"os"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	jsoniter "github.com/json-iterator/go"
	"github.com/tessacoin/tessanode/errors"
)

const (
	estimatorVersion = 1

	// MaxConfirmTarget is the largest target EstimateFee answers for.
	MaxConfirmTarget = 25

	minBucketFeeRate = 1000
	maxBucketFeeRate = 1e8
	bucketSpacing    = 1.1

	// estimateDecay halves the weight of an observation after ~350 blocks.
	estimateDecay = 0.998

	// successThreshold is the share of transactions that must confirm
	// within the target for a fee rate to qualify.
	successThreshold = 0.85

	// sufficientTxs is the decayed sample count a bucket range needs.
	sufficientTxs = 1.0
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type trackedTx struct {
	height int32
	bucket int
}

// FeeEstimator learns which fee rates confirm within how many blocks.
// Confirmed pool transactions are sorted into geometric fee rate buckets;
// per bucket it keeps decayed counts of all confirmations and of those
// that took at most N blocks.
type FeeEstimator struct {
	mu         sync.Mutex
	buckets    []float64
	txCount    []float64
	feeSum     []float64
	confirmed  [][]float64
	tracked    map[chainhash.Hash]trackedTx
	bestHeight int32
}

func NewFeeEstimator() *FeeEstimator {
	var buckets []float64
	for rate := float64(minBucketFeeRate); rate <= maxBucketFeeRate; rate *= bucketSpacing {
		buckets = append(buckets, rate)
	}

	// catch all
	buckets = append(buckets, math.Inf(1))

	fe := &FeeEstimator{
		buckets: buckets,
		tracked: make(map[chainhash.Hash]trackedTx),
	}

	fe.reset()

	return fe
}

func (fe *FeeEstimator) reset() {
	n := len(fe.buckets)

	fe.txCount = make([]float64, n)
	fe.feeSum = make([]float64, n)
	fe.confirmed = make([][]float64, MaxConfirmTarget)

	for i := range fe.confirmed {
		fe.confirmed[i] = make([]float64, n)
	}
}

func (fe *FeeEstimator) bucketOf(feeRate int64) int {
	for i, upper := range fe.buckets {
		if float64(feeRate) < upper {
			return i
		}
	}

	return len(fe.buckets) - 1
}

// ProcessTransaction starts tracking a newly accepted pool transaction.
func (fe *FeeEstimator) ProcessTransaction(desc *TxDesc) {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	fe.tracked[desc.Hash] = trackedTx{height: desc.Height, bucket: fe.bucketOf(desc.FeeRate())}
}

// RemoveTx stops tracking a transaction that left the pool unconfirmed.
func (fe *FeeEstimator) RemoveTx(hash chainhash.Hash) {
	fe.mu.Lock()
	delete(fe.tracked, hash)
	fe.mu.Unlock()
}

// ProcessBlock records the tracked transactions confirmed at height.
// Blocks at or below the best height seen, as during a reorg, are ignored.
func (fe *FeeEstimator) ProcessBlock(height int32, hashes []chainhash.Hash, feeRates []int64) {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if height <= fe.bestHeight {
		for _, h := range hashes {
			delete(fe.tracked, h)
		}

		return
	}

	fe.bestHeight = height

	for b := range fe.buckets {
		fe.txCount[b] *= estimateDecay
		fe.feeSum[b] *= estimateDecay

		for t := range fe.confirmed {
			fe.confirmed[t][b] *= estimateDecay
		}
	}

	for i, h := range hashes {
		tx, ok := fe.tracked[h]
		if !ok {
			continue
		}

		delete(fe.tracked, h)

		blocks := int(height - tx.height)
		if blocks <= 0 {
			continue
		}

		fe.txCount[tx.bucket]++
		fe.feeSum[tx.bucket] += float64(feeRates[i])

		for t := blocks - 1; t < MaxConfirmTarget; t++ {
			fe.confirmed[t][tx.bucket]++
		}
	}
}

// EstimateFee returns the lowest fee per kB for which at least 85% of
// transactions confirmed within target blocks, or -1 without enough data.
// Buckets are merged from the highest fee rate down until they hold
// enough samples.
func (fe *FeeEstimator) EstimateFee(target int) int64 {
	if target < 1 || target > MaxConfirmTarget {
		return -1
	}

	fe.mu.Lock()
	defer fe.mu.Unlock()

	conf := fe.confirmed[target-1]
	best := int64(-1)

	var curConf, curTotal, curFees float64

	for b := len(fe.buckets) - 1; b >= 0; b-- {
		curConf += conf[b]
		curTotal += fe.txCount[b]
		curFees += fe.feeSum[b]

		if curTotal < sufficientTxs {
			continue
		}

		if curConf/curTotal < successThreshold {
			break
		}

		best = int64(curFees / curTotal)
		curConf, curTotal, curFees = 0, 0, 0
	}

	return best
}

type estimatorFile struct {
	Version    int         `json:"version"`
	BestHeight int32       `json:"bestHeight"`
	Buckets    int         `json:"buckets"`
	TxCount    []float64   `json:"txCount"`
	FeeSum     []float64   `json:"feeSum"`
	Confirmed  [][]float64 `json:"confirmed"`
}

// Save writes the statistics to path.
func (fe *FeeEstimator) Save(path string) error {
	fe.mu.Lock()
	data, err := json.Marshal(estimatorFile{
		Version:    estimatorVersion,
		BestHeight: fe.bestHeight,
		Buckets:    len(fe.buckets),
		TxCount:    fe.txCount,
		FeeSum:     fe.feeSum,
		Confirmed:  fe.confirmed,
	})
	fe.mu.Unlock()

	if err != nil {
		return errors.NewProcessingError("[mempool] failed to encode fee estimates", err)
	}

	tmp := path + ".new"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.NewStorageError("[mempool] failed to write %s", tmp, err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return errors.NewStorageError("[mempool] failed to rename %s", tmp, err)
	}

	return nil
}

// Load restores statistics saved by Save. A missing file is not an error;
// a file from another version or bucket layout is ignored.
func (fe *FeeEstimator) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errors.NewStorageError("[mempool] failed to read %s", path, err)
	}

	var f estimatorFile
	if err = json.Unmarshal(data, &f); err != nil {
		return errors.NewProcessingError("[mempool] corrupt fee estimates %s", path, err)
	}

	fe.mu.Lock()
	defer fe.mu.Unlock()

	if f.Version != estimatorVersion || f.Buckets != len(fe.buckets) ||
		len(f.TxCount) != f.Buckets || len(f.FeeSum) != f.Buckets || len(f.Confirmed) != MaxConfirmTarget {
		return nil
	}

	for _, row := range f.Confirmed {
		if len(row) != f.Buckets {
			return nil
		}
	}

	fe.bestHeight = f.BestHeight
	fe.txCount = f.TxCount
	fe.feeSum = f.FeeSum
	fe.confirmed = f.Confirmed

	return nil
}
