package blockchain

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/stores/blockfile"
	"github.com/tessacoin/tessanode/stores/utxo"
)

const txIndexFlag = "txindex"

// NeedsReindex reports whether the coins and zerocoin stores must be
// opened wiped: a reindex was requested or an earlier one did not finish.
func NeedsReindex(treeDB blockchain_store.Store, reindex bool) (bool, error) {
	if reindex {
		return true, nil
	}

	return treeDB.IsReindexing()
}

// Load restores the chain state: the block index and file statistics, the
// active chain from the coins best block and the zerocoin accumulators. A
// fresh data directory gets the genesis block; a pending reindex replays
// the block files. The best chain is then activated and the newest blocks
// are verified.
func (cs *ChainState) Load(ctx context.Context) error {
	reindex, err := NeedsReindex(cs.treeDB, cs.settings.Block.Reindex)
	if err != nil {
		return err
	}

	cs.lock()
	err = cs.loadLocked(ctx, reindex)
	cs.mu.Unlock()

	if err != nil {
		return err
	}

	if reindex {
		if err = cs.reindexFromFiles(ctx); err != nil {
			return err
		}
	}

	if err = cs.ActivateBestChain(ctx, nil); err != nil {
		return err
	}

	if cs.Tip() == nil {
		if err = cs.initGenesis(ctx); err != nil {
			return err
		}
	}

	if err = cs.fsmEvent(EventCatchUp); err != nil {
		cs.logger.Debugf("[chain] %v", err)
	}

	cs.IsInitialBlockDownload()

	return cs.VerifyDB(ctx, cs.settings.Validation.CheckLevel, cs.settings.Validation.CheckBlocks)
}

func (cs *ChainState) loadLocked(ctx context.Context, reindex bool) error {
	if err := cs.fsmEvent(EventLoad); err != nil {
		cs.logger.Debugf("[chain] %v", err)
	}

	cs.txIndex = cs.settings.Block.TxIndex

	if reindex {
		cs.logger.Infof("[chain] reindexing: dropping the block index")

		if err := cs.treeDB.Wipe(); err != nil {
			return err
		}

		if err := cs.treeDB.WriteReindexing(true); err != nil {
			return err
		}

		if err := cs.treeDB.WriteFlag(txIndexFlag, cs.txIndex); err != nil {
			return err
		}

		cs.files.ResetInfo()

		return nil
	}

	if err := cs.checkTxIndexFlag(); err != nil {
		return err
	}

	entries, err := cs.treeDB.LoadBlockIndex()
	if err != nil {
		return err
	}

	for _, e := range entries {
		bi := cs.index.Insert(e)

		if bi.HasData() && bi.ChainTxCount == 0 && bi.TxCount > 0 {
			if prev := cs.index.Parent(bi); prev != nil {
				cs.unlinked[prev.Handle] = append(cs.unlinked[prev.Handle], bi)
			}
		}

		if !bi.Failed() {
			cs.setBestHeader(bi)
		}
	}

	info, err := cs.treeDB.ReadAllFileInfo()
	if err != nil {
		return err
	}

	lastFile, found, err := cs.treeDB.ReadLastBlockFile()
	if err != nil {
		return err
	}

	if found {
		cs.files.LoadInfo(info, lastFile)
	}

	best, err := cs.coinsTip.BestBlock()
	if err != nil {
		return err
	}

	if best != (chainhash.Hash{}) {
		tip := cs.index.Lookup(best)
		if tip == nil {
			return errors.NewCorruptionError("[chain] coins best block %s is not in the block index; restart with reindex", best)
		}

		cs.setTip(tip)
	}

	if err = cs.tracker.Load(ctx, cs.chain.Height()); err != nil {
		return err
	}

	cs.resetCandidates()
	cs.pruneCandidates()

	prometheusUnlinkedBlocks.Set(float64(len(cs.unlinked)))

	if tip := cs.chain.Tip(); tip != nil {
		cs.logger.Infof("[chain] loaded %d index entries, tip %s at height %d", len(entries), tip.Hash, tip.Height)
	}

	return nil
}

// checkTxIndexFlag refuses to turn the transaction index on without a
// reindex, since past blocks would be missing from it.
func (cs *ChainState) checkTxIndexFlag() error {
	stored, found, err := cs.treeDB.ReadFlag(txIndexFlag)
	if err != nil {
		return err
	}

	if !found {
		return cs.treeDB.WriteFlag(txIndexFlag, cs.txIndex)
	}

	if cs.txIndex && !stored {
		return errors.NewConfigurationError("[chain] enabling the transaction index requires a reindex")
	}

	if !cs.txIndex && stored {
		return cs.treeDB.WriteFlag(txIndexFlag, false)
	}

	return nil
}

// initGenesis stores and connects the genesis block of a new chain.
func (cs *ChainState) initGenesis(ctx context.Context) error {
	genesis := cs.params.GenesisBlock

	cs.lock()
	_, err := cs.acceptBlock(genesis, true, nil)
	cs.mu.Unlock()

	if err != nil && errors.CodeOf(err) != errors.ERR_BLOCK_EXISTS {
		return errors.NewProcessingError("[chain] failed to store genesis block", err)
	}

	if err = cs.ActivateBestChain(ctx, genesis); err != nil {
		return err
	}

	return cs.FlushStateToDisk(ctx, FlushAlways)
}

type pendingImport struct {
	pos   blockfile.Pos
	block *model.Block
}

// reindexFromFiles rebuilds the index from the block files. Blocks whose
// parent was not seen yet wait until it is.
func (cs *ChainState) reindexFromFiles(ctx context.Context) error {
	var (
		imported int
		waiting  = make(map[chainhash.Hash][]pendingImport)
	)

	accept := func(pos blockfile.Pos, block *model.Block) error {
		cs.lock()
		_, err := cs.acceptBlock(block, true, &pos)
		cs.mu.Unlock()

		switch {
		case err == nil:
			imported++
		case errors.CodeOf(err) == errors.ERR_BLOCK_EXISTS:
		case errors.CodeOf(err) == errors.ERR_BLOCK_ORPHAN:
			waiting[block.Header.HashPrevBlock] = append(waiting[block.Header.HashPrevBlock], pendingImport{pos: pos, block: block})
			return nil
		case errors.IsFatal(err):
			return err
		default:
			cs.logger.Warnf("[chain] reindex skipped block at %s: %v", pos, err)
			return nil
		}

		return nil
	}

	err := cs.files.Import(func(pos blockfile.Pos, block *model.Block) error {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[chain] reindex interrupted", err)
		}

		if err := accept(pos, block); err != nil {
			return err
		}

		// blocks waiting for this one can follow now
		queue := []chainhash.Hash{cs.params.BlockHash(block.Header)}

		for len(queue) > 0 {
			hash := queue[0]
			queue = queue[1:]

			children := waiting[hash]
			delete(waiting, hash)

			for _, child := range children {
				if err := accept(child.pos, child.block); err != nil {
					return err
				}

				queue = append(queue, cs.params.BlockHash(child.block.Header))
			}
		}

		if imported > 0 && imported%10000 == 0 {
			cs.logger.Infof("[chain] reindex imported %d blocks", imported)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if len(waiting) > 0 {
		cs.logger.Warnf("[chain] reindex left %d blocks without a parent", len(waiting))
	}

	cs.logger.Infof("[chain] reindex imported %d blocks", imported)

	if err = cs.FlushStateToDisk(ctx, FlushAlways); err != nil {
		return err
	}

	return cs.treeDB.WriteReindexing(false)
}

// VerifyDB checks the newest depth blocks of the active chain. Level 0
// reads them, level 1 runs the context free checks, level 2 reads the undo
// data and level 3 disconnects them from a scratch view until it outgrows the
// coins cache budget, checking the coins match the undo data.
func (cs *ChainState) VerifyDB(ctx context.Context, level, depth int) error {
	cs.lock()
	defer cs.mu.Unlock()

	tip := cs.chain.Tip()
	if tip == nil || tip.Height == 0 {
		return nil
	}

	if depth <= 0 || depth > int(tip.Height) {
		depth = int(tip.Height)
	}

	if level > 3 {
		level = 3
	}

	view := utxo.NewCache(cs.coinsTip)
	budget := cs.settings.CoinsCacheBytes()
	unclean := 0
	overBudget := false

	cs.logger.Infof("[chain] verifying the last %d blocks at level %d", depth, level)

	for bi, n := tip, 0; bi != nil && bi.Height > 0 && n < depth; bi, n = cs.index.Parent(bi), n+1 {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[chain] verification interrupted", err)
		}

		block, err := cs.ReadBlock(bi)
		if err != nil {
			return errors.NewCorruptionError("[chain] verify: block %d unreadable", bi.Height, err)
		}

		if level >= 1 {
			if err = cs.CheckBlock(block, bi.Hash); err != nil {
				return errors.NewCorruptionError("[chain] verify: block %d fails checks", bi.Height, err)
			}
		}

		if level >= 2 && bi.HasUndo() {
			if _, err = cs.files.ReadUndo(blockfile.Pos{File: bi.File, Offset: bi.UndoPos}, bi.Hash); err != nil {
				return errors.NewCorruptionError("[chain] verify: undo of block %d unreadable", bi.Height, err)
			}
		}

		if level >= 3 && !overBudget {
			if int64(view.DynamicMemoryUsage()+cs.coinsTip.DynamicMemoryUsage()) > budget {
				overBudget = true
				continue
			}

			clean, err := cs.disconnectBlock(block, bi, view)
			if err != nil {
				return errors.NewCorruptionError("[chain] verify: cannot disconnect block %d", bi.Height, err)
			}

			if !clean {
				unclean++
			}
		}
	}

	if unclean > 0 {
		return errors.NewCorruptionError("[chain] verify: %d blocks did not match their undo data", unclean)
	}

	return nil
}
