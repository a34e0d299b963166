// Package blockassembly builds block templates from the active tip and the
// mempool, for the regtest miner and the staker.
package blockassembly

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/mempool"
	"github.com/tessacoin/tessanode/services/validator"
	"github.com/tessacoin/tessanode/services/zerocoin"
	"github.com/tessacoin/tessanode/settings"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/stores/utxo"
	"github.com/tessacoin/tessanode/ulogger"
	"go.uber.org/atomic"
)

const (
	// coinbaseReserve is the room kept for the coinbase and, in proof of
	// stake templates, again for the coinstake added by the staker.
	coinbaseReserve = 1000
	sigOpsReserve   = 100
)

// Chain is the chain state the assembler builds on.
type Chain interface {
	Params() *chaincfg.Params
	Index() *blockchain_store.Index
	Difficulty() *blockchain.Difficulty
	TimeSource() blockchain.TimeSource
	Tracker() *zerocoin.Tracker
	TxValidator() *validator.TxValidator
	ReadCoins(fn func(view utxo.View, tip *blockchain.BlockIndex) error) error
}

// TxSource is the pool of transactions waiting for a block.
type TxSource interface {
	TxDescs() []*mempool.TxDesc
	Policy() *validator.Policy
}

// BlockTemplate is an unsolved block on top of Prev. Fees and SigOps run
// parallel to the block transactions; the coinbase entry of Fees is the
// negated total.
type BlockTemplate struct {
	Block     *model.Block
	Prev      *blockchain.BlockIndex
	Height    int32
	Fees      []int64
	SigOps    []int
	TotalFees int64

	// MinTime is the earliest timestamp the block may carry.
	MinTime uint32
}

// AddCoinStake places the coinstake right after the coinbase and refreshes
// the merkle root.
func (t *BlockTemplate) AddCoinStake(coinstake *model.Tx) {
	txs := make([]*model.Tx, 0, len(t.Block.Transactions)+1)
	txs = append(txs, t.Block.Transactions[0], coinstake)
	txs = append(txs, t.Block.Transactions[1:]...)

	t.Block.Transactions = txs
	t.Fees = append([]int64{t.Fees[0], 0}, t.Fees[1:]...)
	t.SigOps = append([]int{t.SigOps[0], validator.LegacySigOpCount(coinstake)}, t.SigOps[1:]...)

	t.UpdateMerkleRoot()
}

// UpdateMerkleRoot recomputes the merkle root after the transactions
// changed.
func (t *BlockTemplate) UpdateMerkleRoot() {
	t.Block.Header.HashMerkleRoot, _ = t.Block.BuildMerkleRoot()
}

// BlockAssembler selects mempool transactions into block templates.
type BlockAssembler struct {
	logger     ulogger.Logger
	settings   *settings.Settings
	chain      Chain
	txSource   TxSource
	extraNonce atomic.Uint64
}

func NewBlockAssembler(logger ulogger.Logger, tSettings *settings.Settings, chain Chain, txSource TxSource) *BlockAssembler {
	initPrometheusMetrics()

	return &BlockAssembler{
		logger:   logger,
		settings: tSettings,
		chain:    chain,
		txSource: txSource,
	}
}

// NewBlockTemplate assembles a block on the active tip. A proof of work
// template pays subsidy and fees to payTo; a proof of stake template has an
// empty coinbase output and leaves the reward to the coinstake the caller
// adds with AddCoinStake.
func (b *BlockAssembler) NewBlockTemplate(ctx context.Context, payTo []byte, proofOfStake bool) (*BlockTemplate, error) {
	start := time.Now()

	var tmpl *BlockTemplate

	err := b.chain.ReadCoins(func(view utxo.View, tip *blockchain.BlockIndex) error {
		var err error
		tmpl, err = b.newBlockTemplate(ctx, view, tip, payTo, proofOfStake)

		return err
	})
	if err != nil {
		return nil, err
	}

	prometheusBlockAssemblerTemplates.Inc()
	prometheusBlockAssemblerTemplateDuration.Observe(time.Since(start).Seconds())
	prometheusBlockAssemblerTransactions.Set(float64(len(tmpl.Block.Transactions) - 1))

	b.logger.Debugf("[BlockAssembler] template at height %d with %d transactions, fees %s",
		tmpl.Height, len(tmpl.Block.Transactions), model.FormatMoney(tmpl.TotalFees))

	return tmpl, nil
}

func (b *BlockAssembler) newBlockTemplate(ctx context.Context, view utxo.View, tip *blockchain.BlockIndex, payTo []byte, proofOfStake bool) (*BlockTemplate, error) {
	params := b.chain.Params()
	height := tip.Height + 1

	if proofOfStake && height <= params.LastPOWBlock {
		return nil, errors.NewProcessingError("[BlockAssembler] proof of stake starts after height %d", params.LastPOWBlock)
	}

	if !proofOfStake && height > params.LastPOWBlock {
		return nil, errors.NewProcessingError("[BlockAssembler] proof of work ended at height %d", params.LastPOWBlock)
	}

	medianTime := b.chain.Index().MedianTimePast(tip)
	minTime := uint32(medianTime + 1)

	blockTime := minTime
	if now := uint32(b.chain.TimeSource().AdjustedTime().Unix()); now > blockTime {
		blockTime = now
	}

	txs, fees, sigOps, totalFees, err := b.selectTransactions(ctx, view, height, int64(minTime), proofOfStake)
	if err != nil {
		return nil, err
	}

	coinbase, err := b.coinbase(height, payTo, params.BlockSubsidy(height)+totalFees, proofOfStake)
	if err != nil {
		return nil, err
	}

	checkpoint, err := b.chain.Tracker().ExpectedCheckpoint(&tip.Header, height)
	if err != nil {
		return nil, err
	}

	header := &model.BlockHeader{
		Version:               params.HeaderVersion(height),
		HashPrevBlock:         tip.Hash,
		Timestamp:             blockTime,
		Bits:                  b.chain.Difficulty().CalcNextWorkRequired(tip),
		AccumulatorCheckpoint: checkpoint,
	}

	tmpl := &BlockTemplate{
		Block:     model.NewBlock(header, append([]*model.Tx{coinbase}, txs...)),
		Prev:      tip,
		Height:    height,
		Fees:      append([]int64{-totalFees}, fees...),
		SigOps:    append([]int{validator.LegacySigOpCount(coinbase)}, sigOps...),
		TotalFees: totalFees,
		MinTime:   minTime,
	}

	tmpl.UpdateMerkleRoot()

	return tmpl, nil
}

// coinbase builds the coinbase of height. Its script starts with the
// height and carries an extra nonce so every template is distinct.
func (b *BlockAssembler) coinbase(height int32, payTo []byte, value int64, proofOfStake bool) (*model.Tx, error) {
	sigScript, err := txscript.NewScriptBuilder().
		AddInt64(int64(height)).
		AddInt64(int64(b.extraNonce.Inc())).
		Script()
	if err != nil {
		return nil, errors.NewProcessingError("[BlockAssembler] coinbase script", err)
	}

	tx := model.NewTx(1)
	tx.AddTxIn(model.NewTxIn(&model.OutPoint{Index: math.MaxUint32}, sigScript))

	if proofOfStake {
		tx.AddTxOut(model.NewTxOut(0, nil))
		return tx, nil
	}

	if len(payTo) == 0 {
		return nil, errors.NewInvalidArgumentError("[BlockAssembler] proof of work template needs a payout script")
	}

	tx.AddTxOut(model.NewTxOut(value, payTo))

	return tx, nil
}

// selectTransactions fills the block from the mempool: first the highest
// priority transactions into the priority area, then by fee rate. A
// transaction waits until every mempool parent is in the block.
func (b *BlockAssembler) selectTransactions(_ context.Context, view utxo.View, height int32, lockTimeCutoff int64, proofOfStake bool) ([]*model.Tx, []int64, []int, int64, error) {
	params := b.chain.Params()
	policy := b.txSource.Policy()
	txValidator := b.chain.TxValidator()
	tracker := b.chain.Tracker()

	maxSize := b.settings.Block.BlockMaxSize
	if maxSize <= 0 || maxSize > params.MaxBlockSize-coinbaseReserve {
		maxSize = params.MaxBlockSize - coinbaseReserve
	}

	prioritySize := min(policy.BlockPrioritySize, maxSize)

	blockSize := coinbaseReserve
	blockSigOps := sigOpsReserve

	if proofOfStake {
		blockSize += coinbaseReserve
	}

	descs := b.txSource.TxDescs()
	inPool := make(map[chainhash.Hash]*mempool.TxDesc, len(descs))

	for _, d := range descs {
		inPool[d.Hash] = d
	}

	// parents counts the mempool parents an entry still waits for;
	// dependents maps a parent to the entries waiting on it.
	parents := make(map[chainhash.Hash]int)
	dependents := make(map[chainhash.Hash][]*txPrioItem)

	queue := newTxPriorityQueue(len(descs), true)

	for _, d := range descs {
		if !d.Tx.IsFinal(height, lockTimeCutoff) {
			continue
		}

		item := &txPrioItem{desc: d, priority: d.CurrentPriority(height), feeRate: d.FeeRate()}

		waiting := make(map[chainhash.Hash]struct{})

		for _, in := range d.Tx.TxIn {
			if in.IsZerocoinSpend() {
				continue
			}

			if _, ok := inPool[in.PreviousOutPoint.Hash]; ok {
				waiting[in.PreviousOutPoint.Hash] = struct{}{}
			}
		}

		if len(waiting) == 0 {
			heap.Push(queue, item)
			continue
		}

		parents[d.Hash] = len(waiting)

		for parent := range waiting {
			dependents[parent] = append(dependents[parent], item)
		}
	}

	var (
		cache     = utxo.NewCache(view)
		serials   = make(map[chainhash.Hash]struct{})
		txs       []*model.Tx
		fees      []int64
		sigOps    []int
		totalFees int64
	)

	for queue.Len() > 0 {
		item := heap.Pop(queue).(*txPrioItem)
		d := item.desc

		if blockSize+d.Size >= maxSize {
			continue
		}

		txSigOps := validator.LegacySigOpCount(d.Tx)
		if blockSigOps+txSigOps >= params.MaxBlockSigOps {
			continue
		}

		// free transactions only ride in the priority area
		if !queue.byPriority && d.Fee < policy.FeeForSize(d.Size) {
			continue
		}

		// leave the priority area once it is full or priorities drop
		if queue.byPriority && (blockSize+d.Size >= prioritySize || !validator.AllowFree(item.priority)) {
			queue.SetByPriority(false)

			// the item is judged again by fee rate
			heap.Push(queue, item)

			continue
		}

		if d.Tx.IsZerocoinSpend() {
			ok, err := b.acceptSerials(d.Tx, serials, tracker)
			if err != nil {
				return nil, nil, nil, 0, err
			}

			if !ok {
				continue
			}
		} else {
			ok, err := cache.HaveInputs(d.Tx)
			if err != nil {
				return nil, nil, nil, 0, err
			}

			if !ok {
				continue
			}

			p2sh, err := validator.P2SHSigOpCount(d.Tx, cache)
			if err != nil {
				return nil, nil, nil, 0, err
			}

			txSigOps += p2sh
			if blockSigOps+txSigOps >= params.MaxBlockSigOps {
				continue
			}
		}

		fee, checks, err := txValidator.CheckInputs(d.Tx, cache, height, txscript.MandatoryVerifyFlags)
		if err != nil {
			b.logger.Debugf("[BlockAssembler] skipping %s: %v", d.Hash, err)
			continue
		}

		if err = validator.RunScriptChecks(checks); err != nil {
			b.logger.Debugf("[BlockAssembler] skipping %s: %v", d.Hash, err)
			continue
		}

		if err = utxo.UpdateCoins(cache, d.Tx, height, nil); err != nil {
			return nil, nil, nil, 0, err
		}

		if d.Tx.IsZerocoinSpend() {
			hashes, _ := zerocoin.SpendSerialHashes(d.Tx)
			for _, h := range hashes {
				serials[h] = struct{}{}
			}
		}

		txs = append(txs, d.Tx)
		fees = append(fees, fee)
		sigOps = append(sigOps, txSigOps)
		totalFees += fee
		blockSize += d.Size
		blockSigOps += txSigOps

		for _, dep := range dependents[d.Hash] {
			parents[dep.desc.Hash]--
			if parents[dep.desc.Hash] == 0 {
				heap.Push(queue, dep)
			}
		}
	}

	return txs, fees, sigOps, totalFees, nil
}

// acceptSerials reports whether every serial tx reveals is unseen both in
// the block so far and on the chain.
func (b *BlockAssembler) acceptSerials(tx *model.Tx, serials map[chainhash.Hash]struct{}, tracker *zerocoin.Tracker) (bool, error) {
	hashes, err := zerocoin.SpendSerialHashes(tx)
	if err != nil {
		return false, nil
	}

	seen := make(map[chainhash.Hash]struct{}, len(hashes))

	for _, h := range hashes {
		if _, ok := serials[h]; ok {
			return false, nil
		}

		if _, ok := seen[h]; ok {
			return false, nil
		}

		seen[h] = struct{}{}

		spent, err := tracker.IsSerialSpent(h)
		if err != nil {
			return false, err
		}

		if spent {
			return false, nil
		}
	}

	return true, nil
}
