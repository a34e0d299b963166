package zerocoin

import (
	"context"
	"math/big"
	"runtime"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	"github.com/tessacoin/tessanode/util"
	"golang.org/x/sync/errgroup"
)

// verifiedSpend is a spend that passed the chain-context checks and awaits
// its proof verification against accValue.
type verifiedSpend struct {
	txHash   chainhash.Hash
	index    int
	spend    *libzerocoin.CoinSpend
	accValue *big.Int
}

func parseSpend(in *model.TxIn) (*libzerocoin.CoinSpend, error) {
	raw, err := model.ZerocoinSpendData(in.SignatureScript)
	if err != nil {
		return nil, err
	}

	return libzerocoin.NewCoinSpendFromBytes(raw)
}

// SpendSerialHashes returns the serial hashes revealed by the spends of tx.
func SpendSerialHashes(tx *model.Tx) ([]chainhash.Hash, error) {
	var hashes []chainhash.Hash

	for i, in := range tx.TxIn {
		if !in.IsZerocoinSpend() {
			continue
		}

		spend, err := parseSpend(in)
		if err != nil {
			return nil, spendInvalid(100, "bad-txns-zerocoin-spend-malformed %s:%d", tx.TxHash(), i, err)
		}

		hashes = append(hashes, spend.SerialHash())
	}

	return hashes, nil
}

func spendInvalid(banScore int, reason string, params ...interface{}) error {
	return errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectInvalid, banScore, reason, params...)
}

// prepareSpends runs the checks of every spend of tx that need the chain:
// the serial range and denomination, the cited accumulator and its depth,
// the signed transaction hash and the spend index.
func (t *Tracker) prepareSpends(tx *model.Tx, height int32) ([]*verifiedSpend, error) {
	txHash := tx.TxHash()
	partial := tx.PartialHash()
	spends := make([]*verifiedSpend, 0, len(tx.TxIn))

	for i, in := range tx.TxIn {
		if !in.IsZerocoinSpend() {
			return nil, spendInvalid(100, "bad-txns-zerocoin-mixed-inputs %s:%d", txHash, i)
		}

		spend, err := parseSpend(in)
		if err != nil {
			return nil, spendInvalid(100, "bad-txns-zerocoin-spend-malformed %s:%d", txHash, i, err)
		}

		if !spend.HasValidSerial(t.group()) {
			return nil, spendInvalid(100, "bad-txns-zerocoin-serial %s:%d", txHash, i)
		}

		if !spend.Denomination.IsValid() || spend.Denomination != libzerocoin.Denomination(in.Sequence) {
			return nil, spendInvalid(100, "bad-txns-zerocoin-spend-denom %s:%d", txHash, i)
		}

		accValue, err := t.citedAccumulator(spend, height)
		if err != nil {
			return nil, err
		}

		if spend.PtxHash != partial {
			return nil, spendInvalid(100, "bad-txns-zerocoin-spend-txhash %s:%d", txHash, i)
		}

		if known, err := t.store.ReadSpend(spend.SerialHash()); err == nil {
			if known.TxHash != txHash || known.Height != height {
				return nil, errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectDuplicate, 100,
					"bad-txns-zerocoin-double-spend %s:%d serial %s", txHash, i, spend.SerialHash())
			}
		} else if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}

		spends = append(spends, &verifiedSpend{txHash: txHash, index: i, spend: spend, accValue: accValue})
	}

	return spends, nil
}

// citedAccumulator resolves the accumulator checksum a spend cites. The
// checksum must be the spend's denomination slot of a checkpoint in the
// active chain at least MintRequiredConfirmations below height.
func (t *Tracker) citedAccumulator(spend *libzerocoin.CoinSpend, height int32) (*big.Int, error) {
	rec, err := t.store.ReadAccumulator(spend.AccChecksum)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, spendInvalid(100, "bad-txns-zerocoin-unknown-accumulator %08x", spend.AccChecksum)
	} else if err != nil {
		return nil, err
	}

	if rec.Height > height-t.params.Zerocoin.MintRequiredConfirmations {
		return nil, spendInvalid(10, "bad-txns-zerocoin-accumulator-immature %08x at %d", spend.AccChecksum, rec.Height)
	}

	header, err := t.chain.HeaderAt(rec.Height)
	if err != nil {
		return nil, err
	}

	checksum, err := libzerocoin.ChecksumFromCheckpoint(header.AccumulatorCheckpoint, spend.Denomination)
	if err != nil {
		return nil, err
	}

	if checksum != spend.AccChecksum {
		return nil, spendInvalid(100, "bad-txns-zerocoin-accumulator-denom %08x is not a %s checkpoint", spend.AccChecksum, spend.Denomination)
	}

	return rec.Value, nil
}

// verifySpends checks the spend proofs in parallel.
func (t *Tracker) verifySpends(ctx context.Context, spends []*verifiedSpend) error {
	if len(spends) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	util.SafeSetLimit(g, runtime.NumCPU())

	for _, sp := range spends {
		sp := sp

		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			start := time.Now()
			err := sp.spend.Verify(t.group(), sp.accValue)

			prometheusSpendVerify.Observe(float64(time.Since(start).Microseconds()) / 1_000_000)

			if err != nil {
				prometheusInvalidSpends.Inc()
				return spendInvalid(100, "bad-txns-zerocoin-spend-proof %s:%d", sp.txHash, sp.index, err)
			}

			return nil
		})
	}

	return g.Wait()
}

// VerifySpendTx validates the spends of tx as if it were included in a
// block at height on top of the tracked chain.
func (t *Tracker) VerifySpendTx(ctx context.Context, tx *model.Tx, height int32) error {
	if !tx.IsZerocoinSpend() {
		return nil
	}

	if height < t.params.Zerocoin.StartHeight {
		return spendInvalid(100, "bad-txns-zerocoin-inactive %s", tx.TxHash())
	}

	t.mu.RLock()
	spends, err := t.prepareSpends(tx, height)
	t.mu.RUnlock()

	if err != nil {
		return err
	}

	seen := make(map[chainhash.Hash]struct{}, len(spends))
	for _, sp := range spends {
		serialHash := sp.spend.SerialHash()
		if _, dup := seen[serialHash]; dup {
			return errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectDuplicate, 100, "bad-txns-zerocoin-double-spend %s in tx", serialHash)
		}

		seen[serialHash] = struct{}{}
	}

	return t.verifySpends(ctx, spends)
}

// SpendMaterial is what a wallet needs to build a spend of one coin: the
// accumulator of the newest usable checkpoint, its checksum and a witness
// for the coin against it.
type SpendMaterial struct {
	Accumulator *libzerocoin.Accumulator
	Checksum    uint32
	Witness     *libzerocoin.Witness
	Height      int32
}

// SpendWitness builds the spend material for a coin minted at mintHeight
// so that a spend included at spendHeight cites a checkpoint deep enough.
func (t *Tracker) SpendWitness(ctx context.Context, coin *libzerocoin.PublicCoin, mintHeight, spendHeight int32) (*SpendMaterial, error) {
	zc := t.params.Zerocoin

	t.mu.RLock()
	tip := t.height
	t.mu.RUnlock()

	limit := spendHeight - zc.MintRequiredConfirmations
	if limit > tip {
		limit = tip
	}

	r := t.lastRecalculation(limit)
	if r > limit || r <= mintHeight {
		return nil, errors.NewZerocoinInvalidError("coin minted at %d has no checkpoint %d blocks deep yet", mintHeight, zc.MintRequiredConfirmations)
	}

	header, err := t.chain.HeaderAt(r)
	if err != nil {
		return nil, err
	}

	checksum, err := libzerocoin.ChecksumFromCheckpoint(header.AccumulatorCheckpoint, coin.Denomination)
	if err != nil {
		return nil, err
	}

	rec, err := t.store.ReadAccumulator(checksum)
	if err != nil {
		return nil, err
	}

	acc := libzerocoin.NewAccumulatorFromValue(t.group(), coin.Denomination, rec.Value)
	witness := libzerocoin.NewWitness(t.group(), libzerocoin.NewAccumulator(t.group(), coin.Denomination), coin)

	for h := zc.StartHeight; h < r; h++ {
		if err = ctx.Err(); err != nil {
			return nil, errors.NewContextCanceledError("[zerocoin] witness interrupted at height %d", h, err)
		}

		block, err := t.chain.BlockAt(h)
		if err != nil {
			return nil, err
		}

		for _, tx := range block.Transactions {
			for _, out := range tx.TxOut {
				if !out.IsZerocoinMint() {
					continue
				}

				other, err := t.ValidateMint(out)
				if err != nil || other.Denomination != coin.Denomination {
					continue
				}

				witness.AddElement(other)
			}
		}
	}

	if !witness.Verify(acc) {
		return nil, errors.NewZerocoinInvalidError("coin %s is not in the %s accumulator at height %d", coin.Hash(), coin.Denomination, r)
	}

	return &SpendMaterial{Accumulator: acc, Checksum: checksum, Witness: witness, Height: r}, nil
}
