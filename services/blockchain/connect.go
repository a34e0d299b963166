package blockchain

import (
	"context"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/validator"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/stores/blockfile"
	"github.com/tessacoin/tessanode/stores/utxo"
	"github.com/tessacoin/tessanode/util"
)

// connectBlock applies block on top of view, whose best block must be the
// parent of bi. The zerocoin tracker is advanced only after every other
// check passed.
func (cs *ChainState) connectBlock(ctx context.Context, block *model.Block, bi *BlockIndex, view *utxo.Cache) error {
	prev := cs.index.Parent(bi)

	var prevHash chainhash.Hash
	if prev != nil {
		prevHash = prev.Hash
	}

	best, err := view.BestBlock()
	if err != nil {
		return err
	}

	if best != prevHash {
		return errors.NewProcessingError("[chain] connecting %s on coins at %s, expected %s", bi.Hash, best, prevHash)
	}

	if bi.Hash == cs.params.GenesisHash {
		// the genesis outputs are not spendable
		if _, err = cs.tracker.ConnectBlock(ctx, block, bi.Height, nil); err != nil {
			return err
		}

		view.SetBestBlock(bi.Hash)

		return nil
	}

	if block.IsProofOfStake() {
		if err = cs.checkProofOfStake(block, bi, prev, view); err != nil {
			return err
		}
	}

	skipScripts := cs.settings.Block.CheckpointsEnabled && bi.Height <= cs.params.LastCheckpointHeight()

	var (
		fees     int64
		sigOps   int
		mintIn   int64
		undo     = &utxo.BlockUndo{Txs: make([]utxo.TxUndo, 0, len(block.Transactions)-1)}
		txIndex  []blockchain_store.TxIndexEntry
		txOffset = uint32(block.Header.SerializeSize() + util.CompactSizeLen(uint64(len(block.Transactions))))
		control  = cs.checkQueue.Begin(ctx)
		pos      = blockfile.Pos{File: bi.File, Offset: bi.DataPos}
	)

	// the queue is released on every return path
	defer func() {
		_ = control.Wait()
	}()

	for i, tx := range block.Transactions {
		txHash := tx.TxHash()

		sigOps += validator.LegacySigOpCount(tx)

		if !tx.IsCoinBase() {
			if !tx.IsZerocoinSpend() {
				ok, err := view.HaveInputs(tx)
				if err != nil {
					return err
				}

				if !ok {
					return blockInvalid(100, "bad-txns-inputs-missingorspent %s", txHash)
				}

				p2sh, err := validator.P2SHSigOpCount(tx, view)
				if err != nil {
					return err
				}

				sigOps += p2sh
			}

			if sigOps > cs.params.MaxBlockSigOps {
				return blockInvalid(100, "bad-blk-sigops %d", sigOps)
			}

			if tx.IsCoinStake() {
				if mintIn, err = view.ValueIn(tx); err != nil {
					return err
				}
			}

			fee, checks, err := cs.txValidator.CheckInputs(tx, view, bi.Height, txscript.MandatoryVerifyFlags, validator.WithSkipScripts(skipScripts))
			if err != nil {
				if errors.CodeOf(err) == errors.ERR_TX_MISSING_PARENT {
					return blockInvalid(100, "bad-txns-inputs-missingorspent %s", txHash, err)
				}

				if data, ok := errors.RejectDataOf(err); ok {
					return errors.NewRejectError(errors.ERR_BLOCK_INVALID, data.RejectCode, data.BanScore, "%s in %s", data.Reason, txHash, err)
				}

				return err
			}

			var ok bool
			if fees, ok = model.AddMoney(fees, fee); !ok {
				return blockInvalid(100, "bad-txns-fee-outofrange")
			}

			control.Add(checks)
		}

		var txUndo *utxo.TxUndo
		if i > 0 {
			undo.Txs = append(undo.Txs, utxo.TxUndo{})
			txUndo = &undo.Txs[len(undo.Txs)-1]
		}

		if err = utxo.UpdateCoins(view, tx, bi.Height, txUndo); err != nil {
			if errors.CodeOf(err) == errors.ERR_TX_MISSING_PARENT {
				return blockInvalid(100, "bad-txns-inputs-missingorspent %s", txHash, err)
			}

			return errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, 100, "bad-txns-coins %s", txHash, err)
		}

		if cs.txIndex {
			txIndex = append(txIndex, blockchain_store.TxIndexEntry{Hash: txHash, Pos: blockchain_store.TxPos{Block: pos, TxOffset: txOffset}})
		}

		txOffset += uint32(tx.SerializeSize())
	}

	if err = cs.checkBlockReward(block, bi.Height, fees, mintIn); err != nil {
		return err
	}

	if err = control.Wait(); err != nil {
		if data, ok := errors.RejectDataOf(err); ok {
			return errors.NewRejectError(errors.ERR_BLOCK_INVALID, data.RejectCode, data.BanScore, "%s", data.Reason, err)
		}

		return err
	}

	if _, err = cs.tracker.ConnectBlock(ctx, block, bi.Height, &prev.Header); err != nil {
		return err
	}

	if !bi.HasUndo() {
		undoPos, err := cs.files.WriteUndo(bi.File, undo.Bytes(), bi.Hash)
		if err != nil {
			return errors.NewStorageError("[chain] failed to write undo of %s", bi.Hash, err)
		}

		bi.UndoPos = undoPos.Offset
		bi.AddStatus(blockchain_store.BlockHaveUndo)
	}

	if len(txIndex) > 0 {
		if err = cs.treeDB.WriteTxIndex(txIndex); err != nil {
			return err
		}
	}

	bi.StakeModifier = ComputeStakeModifier(prev)
	bi.RaiseValidity(blockchain_store.BlockValidScripts)
	cs.index.MarkDirty(bi)

	view.SetBestBlock(bi.Hash)

	return nil
}

// checkBlockReward bounds what the coinbase (proof of work) or the
// coinstake (proof of stake) may create.
func (cs *ChainState) checkBlockReward(block *model.Block, height int32, fees, stakeIn int64) error {
	allowed := cs.params.BlockSubsidy(height) + fees

	if block.IsProofOfStake() {
		out, err := block.Transactions[1].ValueOut()
		if err != nil {
			return blockInvalid(100, "bad-cs-amount")
		}

		if out-stakeIn > allowed {
			return blockInvalid(100, "bad-cs-amount %s > %s", model.FormatMoney(out-stakeIn), model.FormatMoney(allowed))
		}

		return nil
	}

	out, err := block.Transactions[0].ValueOut()
	if err != nil {
		return blockInvalid(100, "bad-cb-amount")
	}

	if out > allowed {
		return blockInvalid(100, "bad-cb-amount %s > %s", model.FormatMoney(out), model.FormatMoney(allowed))
	}

	return nil
}

// disconnectBlock undoes the coin changes of block in view. The result is
// false when the view did not match the undo data exactly. The zerocoin
// tracker is left to the caller.
func (cs *ChainState) disconnectBlock(block *model.Block, bi *BlockIndex, view *utxo.Cache) (bool, error) {
	prev := cs.index.Parent(bi)
	if prev == nil {
		return false, errors.NewProcessingError("[chain] cannot disconnect genesis")
	}

	best, err := view.BestBlock()
	if err != nil {
		return false, err
	}

	if best != bi.Hash {
		return false, errors.NewCorruptionError("[chain] disconnecting %s from coins at %s", bi.Hash, best)
	}

	if !bi.HasUndo() {
		return false, errors.NewCorruptionError("[chain] no undo data for %s", bi.Hash)
	}

	data, err := cs.files.ReadUndo(blockfile.Pos{File: bi.File, Offset: bi.UndoPos}, bi.Hash)
	if err != nil {
		return false, err
	}

	undo, err := utxo.NewBlockUndoFromBytes(data)
	if err != nil {
		return false, err
	}

	if len(undo.Txs) != len(block.Transactions)-1 {
		return false, errors.NewCorruptionError("[chain] undo of %s has %d entries for %d transactions", bi.Hash, len(undo.Txs), len(block.Transactions))
	}

	clean := true

	for i := len(block.Transactions) - 1; i >= 0; i-- {
		var txUndo *utxo.TxUndo
		if i > 0 {
			txUndo = &undo.Txs[i-1]
		}

		ok, err := utxo.DisconnectTx(view, block.Transactions[i], bi.Height, txUndo)
		if err != nil {
			return false, err
		}

		clean = clean && ok
	}

	view.SetBestBlock(prev.Hash)

	return clean, nil
}

// connectTip connects bi, a child of the tip. block may be the already
// decoded block of bi.
func (cs *ChainState) connectTip(ctx context.Context, bi *BlockIndex, block *model.Block) error {
	start := time.Now()

	if block == nil || cs.params.BlockHash(block.Header) != bi.Hash {
		var err error
		if block, err = cs.ReadBlock(bi); err != nil {
			return err
		}
	}

	view := utxo.NewCache(cs.coinsTip)

	if err := cs.connectBlock(ctx, block, bi, view); err != nil {
		return err
	}

	if err := view.Flush(); err != nil {
		return err
	}

	cs.setTip(bi)

	prometheusConnectBlock.Observe(time.Since(start).Seconds())
	prometheusBlockTransactions.Add(float64(len(block.Transactions)))
	prometheusCoinsCacheBytes.Set(float64(cs.coinsTip.DynamicMemoryUsage()))

	cs.logger.Debugf("[chain] connected %s at height %d (%d txs) in %s", bi.Hash, bi.Height, len(block.Transactions), time.Since(start))

	cs.notify(func(o Observer) { o.BlockConnected(block, bi) })

	return nil
}

// disconnectTip disconnects the tip block.
func (cs *ChainState) disconnectTip(ctx context.Context) error {
	bi := cs.chain.Tip()

	block, err := cs.ReadBlock(bi)
	if err != nil {
		return err
	}

	view := utxo.NewCache(cs.coinsTip)

	clean, err := cs.disconnectBlock(block, bi, view)
	if err != nil {
		return err
	}

	if err = cs.tracker.DisconnectBlock(ctx, block, bi.Height); err != nil {
		return err
	}

	if !clean {
		cs.logger.Warnf("[chain] coins did not match undo data while disconnecting %s", bi.Hash)
	}

	if err = view.Flush(); err != nil {
		return err
	}

	cs.setTip(cs.index.Parent(bi))

	prometheusDisconnectBlock.Inc()

	cs.logger.Debugf("[chain] disconnected %s at height %d", bi.Hash, bi.Height)

	cs.notify(func(o Observer) { o.BlockDisconnected(block, bi) })

	return nil
}

// findMostWorkChain returns the candidate with the most work whose branch
// down to the active chain is fully stored and not failed. Candidates on
// failed branches are dropped and their descendants marked.
func (cs *ChainState) findMostWorkChain() *BlockIndex {
	for {
		var best *BlockIndex

		for c := range cs.candidates {
			if best == nil || blockchain_store.WorkCompare(c, best) > 0 {
				best = c
			}
		}

		if best == nil {
			return nil
		}

		usable := true

		for e := best; e != nil && !cs.chain.Contains(e); e = cs.index.Parent(e) {
			if !e.Failed() && e.HasData() {
				continue
			}

			if e.Failed() {
				for f := best; f != e; f = cs.index.Parent(f) {
					f.AddStatus(blockchain_store.BlockFailedChild)
					cs.index.MarkDirty(f)
					delete(cs.candidates, f)
				}
			}

			delete(cs.candidates, best)

			usable = false

			break
		}

		if usable {
			return best
		}
	}
}

// pruneCandidates drops candidates with less work than the tip.
func (cs *ChainState) pruneCandidates() {
	tip := cs.chain.Tip()
	if tip == nil {
		return
	}

	for c := range cs.candidates {
		if c != tip && blockchain_store.WorkCompare(c, tip) < 0 {
			delete(cs.candidates, c)
		}
	}
}

// activateBestChainStep moves the tip to mostWork. It reports whether a
// block on the way turned out invalid; the caller then retries with the
// next best candidate.
func (cs *ChainState) activateBestChainStep(ctx context.Context, mostWork *BlockIndex, hint *model.Block) (bool, error) {
	oldTip := cs.chain.Tip()
	fork := cs.chain.FindFork(mostWork)

	for tip := cs.chain.Tip(); tip != nil && tip != fork; tip = cs.chain.Tip() {
		if err := cs.disconnectTip(ctx); err != nil {
			return false, err
		}
	}

	if oldTip != nil && oldTip != fork {
		prometheusReorgs.Inc()
		cs.logger.Infof("[chain] reorganising from %s (%d) to %s (%d), fork at %d", oldTip.Hash, oldTip.Height, mostWork.Hash, mostWork.Height, heightOf(fork))
	}

	var path []*BlockIndex
	for e := mostWork; e != nil && e != fork; e = cs.index.Parent(e) {
		path = append(path, e)
	}

	for i := len(path) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return false, errors.NewContextCanceledError("[chain] activation interrupted", err)
		}

		bi := path[i]

		err := cs.connectTip(ctx, bi, hint)
		if err == nil {
			continue
		}

		state := NewValidationState(err)
		if !state.IsInvalid() {
			return false, err
		}

		cs.invalidBlockFound(bi, state)

		return true, nil
	}

	return false, nil
}

func heightOf(bi *BlockIndex) int32 {
	if bi == nil {
		return -1
	}

	return bi.Height
}

func (cs *ChainState) invalidBlockFound(bi *BlockIndex, state ValidationState) {
	bi.AddStatus(blockchain_store.BlockFailedValid)
	cs.index.MarkDirty(bi)
	delete(cs.candidates, bi)

	prometheusInvalidBlocks.Inc()

	cs.logger.Warnf("[chain] invalid block %s at height %d: %s", bi.Hash, bi.Height, state.Reason)
}

// ActivateBestChain connects the most-work valid chain. hint is an already
// decoded block that is likely to be connected, or nil.
func (cs *ChainState) ActivateBestChain(ctx context.Context, hint *model.Block) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[chain] activation interrupted", err)
		}

		cs.lock()

		oldTip := cs.chain.Tip()

		mostWork := cs.findMostWorkChain()
		if mostWork == nil || mostWork == oldTip {
			cs.mu.Unlock()
			return nil
		}

		_, err := cs.activateBestChainStep(ctx, mostWork, hint)

		cs.pruneCandidates()

		newTip := cs.chain.Tip()
		if newTip != oldTip {
			ibd := cs.IsInitialBlockDownload()

			cs.notify(func(o Observer) { o.UpdatedTip(newTip, ibd) })

			if !ibd || newTip.Height%1000 == 0 {
				cs.logger.Infof("[chain] new tip %s height %d work %s txs %d", newTip.Hash, newTip.Height, newTip.ChainWork.Text(16), newTip.ChainTxCount)
			}
		}

		if err == nil {
			err = cs.flushStateToDisk(FlushPeriodic)
		}

		cs.mu.Unlock()

		if err != nil {
			return err
		}
	}
}

// InvalidateBlock marks bi invalid, disconnecting it and its descendants
// from the active chain, and activates the best remaining chain.
func (cs *ChainState) InvalidateBlock(ctx context.Context, hash chainhash.Hash) error {
	bi := cs.index.Lookup(hash)
	if bi == nil {
		return errors.NewBlockNotFoundError("[chain] unknown block %s", hash)
	}

	cs.lock()

	bi.AddStatus(blockchain_store.BlockFailedValid)
	cs.index.MarkDirty(bi)
	delete(cs.candidates, bi)

	for cs.chain.Contains(bi) {
		tip := cs.chain.Tip()
		if tip != bi {
			tip.AddStatus(blockchain_store.BlockFailedChild)
			cs.index.MarkDirty(tip)
			delete(cs.candidates, tip)
		}

		if err := cs.disconnectTip(ctx); err != nil {
			cs.mu.Unlock()
			return err
		}
	}

	cs.resetCandidates()

	tip := cs.chain.Tip()
	ibd := cs.IsInitialBlockDownload()
	cs.notify(func(o Observer) { o.UpdatedTip(tip, ibd) })

	cs.logger.Infof("[chain] invalidated %s at height %d", bi.Hash, bi.Height)

	cs.mu.Unlock()

	return cs.ActivateBestChain(ctx, nil)
}

// ReconsiderBlock clears the failure marks of bi, its ancestors and its
// descendants, and activates the best chain.
func (cs *ChainState) ReconsiderBlock(ctx context.Context, hash chainhash.Hash) error {
	bi := cs.index.Lookup(hash)
	if bi == nil {
		return errors.NewBlockNotFoundError("[chain] unknown block %s", hash)
	}

	cs.lock()

	for _, e := range cs.index.All() {
		if !e.Failed() {
			continue
		}

		if cs.index.Ancestor(e, bi.Height) == bi || cs.index.Ancestor(bi, e.Height) == e {
			e.ClearStatus(blockchain_store.BlockFailedMask)
			cs.index.MarkDirty(e)
		}
	}

	cs.resetCandidates()

	cs.mu.Unlock()

	return cs.ActivateBestChain(ctx, nil)
}

// resetCandidates rebuilds the candidate set from the index.
func (cs *ChainState) resetCandidates() {
	tip := cs.chain.Tip()

	for _, e := range cs.index.All() {
		if e.IsValid(blockchain_store.BlockValidTransactions) && e.ChainTxCount > 0 &&
			(tip == nil || blockchain_store.WorkCompare(e, tip) >= 0) {
			cs.candidates[e] = struct{}{}
		}
	}
}
