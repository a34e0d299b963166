package blockchain

import (
	"math/big"

	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util"
)

// Difficulty computes the required target of the next block: Dark Gravity
// Wave over the proof of work segment, a per block exponential retarget
// towards the target spacing afterwards.
type Difficulty struct {
	logger      ulogger.Logger
	chainParams *chaincfg.Params
	index       *blockchain_store.Index
	posLimit    uint32
}

func NewDifficulty(logger ulogger.Logger, params *chaincfg.Params, index *blockchain_store.Index) *Difficulty {
	return &Difficulty{
		logger:      logger,
		chainParams: params,
		index:       index,
		posLimit:    util.BigToCompact(params.PosLimit),
	}
}

// CalcNextWorkRequired returns the compact target of the block following
// last.
func (d *Difficulty) CalcNextWorkRequired(last *blockchain_store.BlockIndex) uint32 {
	if last == nil {
		return d.chainParams.PowLimitBits
	}

	height := last.Height + 1

	if height > d.chainParams.LastPOWBlock {
		if d.chainParams.PowNoRetargeting {
			return d.posLimit
		}

		return d.calcStakeTarget(last)
	}

	// quick exit while proof of work is not checked
	if d.chainParams.PowNoRetargeting || d.chainParams.SkipPoWUntilLastPoW {
		return d.chainParams.PowLimitBits
	}

	return d.calcDarkGravityWave(last)
}

func (d *Difficulty) calcDarkGravityWave(last *blockchain_store.BlockIndex) uint32 {
	pastBlocks := d.chainParams.DGWPastBlocks

	if last.Height == 0 || last.Height < pastBlocks {
		return d.chainParams.PowLimitBits
	}

	var (
		count           int64
		lastBlockTime   int64
		actualTimespan  int64
		average         = new(big.Int)
		previousAverage = new(big.Int)
	)

	for reading := last; reading != nil && reading.Height > 0; reading = d.index.Get(reading.Prev) {
		if count >= int64(pastBlocks) {
			break
		}

		count++

		target := util.CompactToBig(reading.Header.Bits)
		if count == 1 {
			average.Set(target)
		} else {
			average.Mul(previousAverage, big.NewInt(count))
			average.Add(average, target)
			average.Div(average, big.NewInt(count+1))
		}

		previousAverage.Set(average)

		if lastBlockTime > 0 {
			actualTimespan += lastBlockTime - reading.BlockTime()
		}

		lastBlockTime = reading.BlockTime()
	}

	targetTimespan := count * int64(d.chainParams.TargetSpacing.Seconds())

	if actualTimespan < targetTimespan/3 {
		actualTimespan = targetTimespan / 3
	}

	if actualTimespan > targetTimespan*3 {
		actualTimespan = targetTimespan * 3
	}

	newTarget := new(big.Int).Mul(average, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))

	if newTarget.Cmp(d.chainParams.PowLimit) > 0 {
		newTarget.Set(d.chainParams.PowLimit)
	}

	return util.BigToCompact(newTarget)
}

// calcStakeTarget moves the previous target by the ratio of the last
// block spacing to the target spacing, smoothed over the retarget window.
func (d *Difficulty) calcStakeTarget(last *blockchain_store.BlockIndex) uint32 {
	spacing := int64(d.chainParams.TargetSpacing.Seconds())
	interval := int64(d.chainParams.TargetTimespan.Seconds()) / spacing

	var actualSpacing int64

	if prev := d.index.Get(last.Prev); prev != nil {
		actualSpacing = last.BlockTime() - prev.BlockTime()
	}

	if actualSpacing < 0 {
		actualSpacing = 1
	}

	newTarget := util.CompactToBig(last.Header.Bits)
	newTarget.Mul(newTarget, big.NewInt((interval-1)*spacing+2*actualSpacing))
	newTarget.Div(newTarget, big.NewInt((interval+1)*spacing))

	if newTarget.Sign() <= 0 || newTarget.Cmp(d.chainParams.PosLimit) > 0 {
		return d.posLimit
	}

	return util.BigToCompact(newTarget)
}

// CheckProofOfWork checks that hash satisfies the compact target bits.
func (d *Difficulty) CheckProofOfWork(header *model.BlockHeader, bits uint32) error {
	if util.CompactOverflows(bits) {
		return blockInvalid(50, "bad-diffbits overflow %08x", bits)
	}

	target := util.CompactToBig(bits)
	if target.Sign() <= 0 || target.Cmp(d.chainParams.PowLimit) > 0 {
		return blockInvalid(50, "bad-diffbits %08x out of range", bits)
	}

	hash := d.chainParams.BlockHash(header)
	if util.HashToBig(&hash).Cmp(target) > 0 {
		return blockInvalid(50, "high-hash %s", hash)
	}

	return nil
}

// validateBlockHeaderDifficulty checks the bits of header against the
// target required after prev.
func (d *Difficulty) validateBlockHeaderDifficulty(header *model.BlockHeader, prev *blockchain_store.BlockIndex) error {
	expected := d.CalcNextWorkRequired(prev)

	if header.Bits != expected {
		return errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, 100,
			"bad-diffbits incorrect proof of work %08x, expected %08x", header.Bits, expected)
	}

	return nil
}
