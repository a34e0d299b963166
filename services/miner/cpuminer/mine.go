// Package cpuminer solves proof of work headers on the CPU. It is only
// fast enough for regtest difficulty.
package cpuminer

import (
	"context"
	"math"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/util"
)

// checkInterval is the number of nonces tried between context checks.
const checkInterval = 1 << 16

// ErrNonceSpace is returned when every nonce of a header was tried; the
// caller needs a new template with a fresh extra nonce.
var ErrNonceSpace = errors.NewProcessingError("nonce space exhausted")

// Solve searches header.Nonce for a hash at or below the target of
// header.Bits and leaves the winning nonce in the header.
func Solve(ctx context.Context, header *model.BlockHeader) error {
	target := util.CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		return errors.NewInvalidArgumentError("invalid target bits %08x", header.Bits)
	}

	for nonce := uint64(0); nonce <= math.MaxUint32; nonce++ {
		if nonce%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return errors.NewContextCanceledError("mining interrupted", err)
			}
		}

		header.Nonce = uint32(nonce)

		hash := header.Hash()
		if util.HashToBig(&hash).Cmp(target) <= 0 {
			return nil
		}
	}

	return ErrNonceSpace
}
