// Package zerocoin follows the zerocoin state of the active chain: the
// per-denomination accumulators, the accumulator checkpoint every header
// must carry, and the mints and spends each block records.
package zerocoin

import (
	"context"
	"math/big"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	zcstore "github.com/tessacoin/tessanode/stores/zerocoin"
	"github.com/tessacoin/tessanode/ulogger"
)

// ChainReader reads blocks and headers of the active chain by height.
type ChainReader interface {
	BlockAt(height int32) (*model.Block, error)
	HeaderAt(height int32) (*model.BlockHeader, error)
}

// Tracker holds the accumulators over every mint of the active chain up to
// its height. Callers serialize ConnectBlock and DisconnectBlock under the
// chain-state lock; reads may run concurrently.
type Tracker struct {
	logger ulogger.Logger
	params *chaincfg.Params
	store  *zcstore.Store
	chain  ChainReader

	mu     sync.RWMutex
	accs   map[libzerocoin.Denomination]*libzerocoin.Accumulator
	height int32
}

func New(logger ulogger.Logger, params *chaincfg.Params, store *zcstore.Store, chain ChainReader) *Tracker {
	initPrometheusMetrics()

	t := &Tracker{
		logger: logger,
		params: params,
		store:  store,
		chain:  chain,
		height: -1,
	}
	t.accs = t.baseAccumulators()

	return t
}

func (t *Tracker) group() *libzerocoin.Params {
	return t.params.Zerocoin.Group
}

func (t *Tracker) baseAccumulators() map[libzerocoin.Denomination]*libzerocoin.Accumulator {
	accs := make(map[libzerocoin.Denomination]*libzerocoin.Accumulator, len(libzerocoin.Denominations))
	for _, denom := range libzerocoin.Denominations {
		accs[denom] = libzerocoin.NewAccumulator(t.group(), denom)
	}

	return accs
}

func accumulatorValues(accs map[libzerocoin.Denomination]*libzerocoin.Accumulator) map[libzerocoin.Denomination]*big.Int {
	values := make(map[libzerocoin.Denomination]*big.Int, len(accs))
	for denom, acc := range accs {
		values[denom] = acc.Value()
	}

	return values
}

// Height is the height of the last block folded into the accumulators.
func (t *Tracker) Height() int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.height
}

// Accumulators returns a copy of the current accumulator values.
func (t *Tracker) Accumulators() map[libzerocoin.Denomination]*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return accumulatorValues(t.accs)
}

// Checkpoint is the digest of the current accumulators, the value a block
// recalculating its checkpoint on top of the tracked tip carries.
func (t *Tracker) Checkpoint() chainhash.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return libzerocoin.Checkpoint(accumulatorValues(t.accs))
}

// isRecalculation reports whether the block at height computes a fresh
// checkpoint rather than inheriting its parent's.
func (t *Tracker) isRecalculation(height int32, prevCheckpoint chainhash.Hash) bool {
	zc := t.params.Zerocoin

	if height < zc.StartHeight {
		return false
	}

	return height%zc.AccBlockInterval == 0 || prevCheckpoint == (chainhash.Hash{})
}

// ExpectedCheckpoint is the checkpoint the block at height must carry on
// top of prev. The tracker must be at height-1.
func (t *Tracker) ExpectedCheckpoint(prev *model.BlockHeader, height int32) (chainhash.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.expectedCheckpoint(prev, height)
}

func (t *Tracker) expectedCheckpoint(prev *model.BlockHeader, height int32) (chainhash.Hash, error) {
	if height < t.params.Zerocoin.StartHeight {
		return chainhash.Hash{}, nil
	}

	var prevCheckpoint chainhash.Hash
	if prev != nil {
		prevCheckpoint = prev.AccumulatorCheckpoint
	}

	if !t.isRecalculation(height, prevCheckpoint) {
		return prevCheckpoint, nil
	}

	if t.height != height-1 {
		return chainhash.Hash{}, errors.NewProcessingError("[zerocoin] accumulators at height %d cannot checkpoint block %d", t.height, height)
	}

	return libzerocoin.Checkpoint(accumulatorValues(t.accs)), nil
}

// CheckBlock validates the zerocoin content of the block at height without
// changing any state.
func (t *Tracker) CheckBlock(ctx context.Context, block *model.Block, height int32, prev *model.BlockHeader) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, _, err := t.checkBlock(ctx, block, height, prev)

	return err
}

// ConnectBlock validates the zerocoin content of the block at height,
// records its mints, spends and checkpoint accumulators, and folds its
// mints into the accumulators.
func (t *Tracker) ConnectBlock(ctx context.Context, block *model.Block, height int32, prev *model.BlockHeader) (*zcstore.BlockRecords, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.height != height-1 {
		return nil, errors.NewProcessingError("[zerocoin] connecting block %d on accumulators at height %d", height, t.height)
	}

	records, coins, err := t.checkBlock(ctx, block, height, prev)
	if err != nil {
		return nil, err
	}

	if err = t.store.WriteBlock(records); err != nil {
		return nil, err
	}

	for _, coin := range coins {
		if err = t.accs[coin.Denomination].Accumulate(coin); err != nil {
			return nil, err
		}
	}

	t.height = height

	if len(coins) > 0 || len(records.Spends) > 0 {
		t.logger.Debugf("[zerocoin] block %d: %d mints, %d spends", height, len(coins), len(records.Spends))
	}

	prometheusMints.Add(float64(len(coins)))
	prometheusSpends.Add(float64(len(records.Spends)))

	return records, nil
}

func (t *Tracker) checkBlock(ctx context.Context, block *model.Block, height int32, prev *model.BlockHeader) (*zcstore.BlockRecords, []*libzerocoin.PublicCoin, error) {
	expected, err := t.expectedCheckpoint(prev, height)
	if err != nil {
		return nil, nil, err
	}

	if block.Header.AccumulatorCheckpoint != expected {
		return nil, nil, errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, 100,
			"bad-accumulator-checkpoint %s, expected %s", block.Header.AccumulatorCheckpoint, expected)
	}

	records := &zcstore.BlockRecords{}

	if t.isRecalculation(height, prevCheckpointOf(prev)) {
		for _, denom := range libzerocoin.Denominations {
			acc := t.accs[denom]
			records.Accumulators = append(records.Accumulators, zcstore.AccumulatorRecord{
				Checksum: acc.Checksum(),
				Value:    acc.Value(),
				Height:   height,
			})
		}
	}

	var (
		coins   []*libzerocoin.PublicCoin
		seen    = make(map[chainhash.Hash]struct{})
		serials = make(map[chainhash.Hash]struct{})
		spends  []*verifiedSpend
	)

	for _, tx := range block.Transactions {
		if !tx.ContainsZerocoins() {
			continue
		}

		if height < t.params.Zerocoin.StartHeight {
			return nil, nil, errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectInvalid, 100, "bad-txns-zerocoin-inactive %s", tx.TxHash())
		}

		txHash := tx.TxHash()

		for i, out := range tx.TxOut {
			if !out.IsZerocoinMint() {
				continue
			}

			coin, err := t.ValidateMint(out)
			if err != nil {
				return nil, nil, errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectInvalid, 100, "bad-txns-zerocoin-mint %s:%d", txHash, i, err)
			}

			pubCoinHash := coin.Hash()

			if _, dup := seen[pubCoinHash]; dup {
				return nil, nil, errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectInvalid, 100, "bad-txns-zerocoin-mint-duplicate %s:%d", txHash, i)
			}

			// a record of this very mint at this height is left over from a
			// connect that was not flushed before shutdown
			if known, err := t.store.ReadMint(pubCoinHash); err == nil {
				if known.TxHash != txHash || known.Height != height {
					return nil, nil, errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectInvalid, 100, "bad-txns-zerocoin-mint-duplicate %s:%d", txHash, i)
				}
			} else if !errors.Is(err, errors.ErrNotFound) {
				return nil, nil, err
			}

			seen[pubCoinHash] = struct{}{}
			coins = append(coins, coin)
			records.Mints = append(records.Mints, zcstore.MintRecord{
				PubCoinHash:  pubCoinHash,
				TxHash:       txHash,
				Denomination: coin.Denomination,
				Height:       height,
			})
		}

		if !tx.IsZerocoinSpend() {
			continue
		}

		txSpends, err := t.prepareSpends(tx, height)
		if err != nil {
			return nil, nil, err
		}

		for _, sp := range txSpends {
			serialHash := sp.spend.SerialHash()

			if _, dup := serials[serialHash]; dup {
				return nil, nil, errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectDuplicate, 100, "bad-txns-zerocoin-double-spend %s in block", serialHash)
			}

			serials[serialHash] = struct{}{}

			records.Spends = append(records.Spends, zcstore.SpendRecord{
				SerialHash:   serialHash,
				TxHash:       txHash,
				Denomination: sp.spend.Denomination,
				Height:       height,
			})
		}

		spends = append(spends, txSpends...)
	}

	if err = t.verifySpends(ctx, spends); err != nil {
		return nil, nil, err
	}

	return records, coins, nil
}

func prevCheckpointOf(prev *model.BlockHeader) chainhash.Hash {
	if prev == nil {
		return chainhash.Hash{}
	}

	return prev.AccumulatorCheckpoint
}

// ValidateMint parses and validates the pubcoin of a mint output.
func (t *Tracker) ValidateMint(out *model.TxOut) (*libzerocoin.PublicCoin, error) {
	raw, err := model.ZerocoinMintValue(out.PkScript)
	if err != nil {
		return nil, err
	}

	denom, err := libzerocoin.AmountToDenomination(out.Value)
	if err != nil {
		return nil, err
	}

	coin := libzerocoin.NewPublicCoin(new(big.Int).SetBytes(raw), denom)
	if err = coin.Validate(t.group()); err != nil {
		return nil, err
	}

	return coin, nil
}

// DisconnectBlock erases the records of the tip block at height and rolls
// the accumulators back to height-1.
func (t *Tracker) DisconnectBlock(ctx context.Context, block *model.Block, height int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.height != height {
		return errors.NewProcessingError("[zerocoin] disconnecting block %d from accumulators at height %d", height, t.height)
	}

	records := &zcstore.BlockRecords{}
	mints := 0

	for _, tx := range block.Transactions {
		if !tx.ContainsZerocoins() {
			continue
		}

		txHash := tx.TxHash()

		for _, out := range tx.TxOut {
			if !out.IsZerocoinMint() {
				continue
			}

			raw, err := model.ZerocoinMintValue(out.PkScript)
			if err != nil {
				return err
			}

			mints++

			records.Mints = append(records.Mints, zcstore.MintRecord{PubCoinHash: libzerocoin.PubCoinHash(new(big.Int).SetBytes(raw)), TxHash: txHash, Height: height})
		}

		for _, in := range tx.TxIn {
			if !in.IsZerocoinSpend() {
				continue
			}

			spend, err := parseSpend(in)
			if err != nil {
				return err
			}

			records.Spends = append(records.Spends, zcstore.SpendRecord{SerialHash: spend.SerialHash(), TxHash: txHash, Height: height})
		}
	}

	if cp := block.Header.AccumulatorCheckpoint; cp != (chainhash.Hash{}) {
		for _, denom := range libzerocoin.Denominations {
			checksum, err := libzerocoin.ChecksumFromCheckpoint(cp, denom)
			if err != nil {
				return err
			}

			records.Accumulators = append(records.Accumulators, zcstore.AccumulatorRecord{Checksum: checksum, Height: height})
		}
	}

	if err := t.store.EraseBlock(records); err != nil {
		return err
	}

	if mints == 0 {
		t.height = height - 1
		return nil
	}

	return t.rebuild(ctx, height-1)
}

// Load restores the accumulators of the active chain at height.
func (t *Tracker) Load(ctx context.Context, height int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rebuild(ctx, height)
}

// lastRecalculation is the highest height at or below height that
// recalculated its checkpoint.
func (t *Tracker) lastRecalculation(height int32) int32 {
	zc := t.params.Zerocoin

	r := height - height%zc.AccBlockInterval
	if r < zc.StartHeight {
		r = zc.StartHeight
	}

	return r
}

// rebuild restores the accumulators behind the last recalculated checkpoint
// at or below height from the accumulator index, then replays the mints of
// the blocks after it. Without a usable snapshot every mint since the
// zerocoin start is replayed.
func (t *Tracker) rebuild(ctx context.Context, height int32) error {
	accs := t.baseAccumulators()
	from := t.params.Zerocoin.StartHeight

	if height < from {
		t.accs = accs
		t.height = height

		return nil
	}

	r := t.lastRecalculation(height)

	restored, err := t.restoreCheckpoint(r)
	if err != nil {
		return err
	}

	if restored != nil {
		accs = restored
		from = r
	} else {
		t.logger.Warnf("[zerocoin] no accumulator snapshot at height %d, replaying mints from %d", r, from)
	}

	for h := from; h <= height; h++ {
		if err = ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[zerocoin] accumulator rebuild interrupted at height %d", h, err)
		}

		block, err := t.chain.BlockAt(h)
		if err != nil {
			return err
		}

		if err = t.accumulateBlock(accs, block); err != nil {
			return errors.NewProcessingError("[zerocoin] replaying mints of block %d", h, err)
		}
	}

	t.accs = accs
	t.height = height

	t.logger.Debugf("[zerocoin] accumulators rebuilt at height %d from %d", height, from)

	return nil
}

// restoreCheckpoint loads the accumulators behind the checkpoint of the
// block at height. It returns nil when the index lacks any of them.
func (t *Tracker) restoreCheckpoint(height int32) (map[libzerocoin.Denomination]*libzerocoin.Accumulator, error) {
	header, err := t.chain.HeaderAt(height)
	if err != nil {
		return nil, err
	}

	accs := make(map[libzerocoin.Denomination]*libzerocoin.Accumulator, len(libzerocoin.Denominations))

	for _, denom := range libzerocoin.Denominations {
		checksum, err := libzerocoin.ChecksumFromCheckpoint(header.AccumulatorCheckpoint, denom)
		if err != nil {
			return nil, err
		}

		rec, err := t.store.ReadAccumulator(checksum)
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		} else if err != nil {
			return nil, err
		}

		accs[denom] = libzerocoin.NewAccumulatorFromValue(t.group(), denom, rec.Value)
	}

	return accs, nil
}

func (t *Tracker) accumulateBlock(accs map[libzerocoin.Denomination]*libzerocoin.Accumulator, block *model.Block) error {
	for _, tx := range block.Transactions {
		if !tx.IsZerocoinMint() {
			continue
		}

		for _, out := range tx.TxOut {
			if !out.IsZerocoinMint() {
				continue
			}

			coin, err := t.ValidateMint(out)
			if err != nil {
				return err
			}

			if err = accs[coin.Denomination].Accumulate(coin); err != nil {
				return err
			}
		}
	}

	return nil
}

// IsSerialSpent reports whether a serial was revealed in the active chain.
func (t *Tracker) IsSerialSpent(serialHash chainhash.Hash) (bool, error) {
	return t.store.IsSpent(serialHash)
}

// HasMint reports whether a pubcoin was minted in the active chain.
func (t *Tracker) HasMint(pubCoinHash chainhash.Hash) (bool, error) {
	return t.store.HasMint(pubCoinHash)
}

// ReadMint returns where a pubcoin was minted.
func (t *Tracker) ReadMint(pubCoinHash chainhash.Hash) (*zcstore.MintRecord, error) {
	return t.store.ReadMint(pubCoinHash)
}

// Supply counts the mints of the active chain per denomination.
func (t *Tracker) Supply() (map[libzerocoin.Denomination]int, error) {
	return t.store.CountMints()
}
