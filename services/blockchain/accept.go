package blockchain

import (
	"bytes"
	"context"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/validator"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/stores/blockfile"
	"github.com/tessacoin/tessanode/util"
)

// CheckBlockHeader runs the context free header checks.
func (cs *ChainState) CheckBlockHeader(header *model.BlockHeader) error {
	if header.Version < 1 {
		return blockInvalid(100, "bad-version %d", header.Version)
	}

	if util.CompactOverflows(header.Bits) {
		return blockInvalid(50, "bad-diffbits overflow %08x", header.Bits)
	}

	return nil
}

// contextualCheckBlockHeader checks a header against its parent.
func (cs *ChainState) contextualCheckBlockHeader(header *model.BlockHeader, hash chainhash.Hash, prev *BlockIndex) error {
	height := prev.Height + 1

	if err := cs.difficulty.validateBlockHeaderDifficulty(header, prev); err != nil {
		return err
	}

	if height <= cs.params.LastPOWBlock && !cs.params.SkipPoWUntilLastPoW {
		if err := cs.difficulty.CheckProofOfWork(header, header.Bits); err != nil {
			return err
		}
	}

	if int64(header.Timestamp) <= cs.index.MedianTimePast(prev) {
		return blockInvalid(0, "time-too-old %d at height %d", header.Timestamp, height)
	}

	if maxTime := cs.timeSource.AdjustedTime().Add(cs.params.MaxFutureBlockTime); int64(header.Timestamp) > maxTime.Unix() {
		return errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, 0, "time-too-new %d", header.Timestamp)
	}

	if cs.settings.Block.CheckpointsEnabled {
		if cp, ok := cs.params.CheckpointAt(height); ok && *cp != hash {
			return blockCheckpoint("checkpoint-mismatch at height %d", height)
		}

		if last := cs.lastKnownCheckpoint(); last != nil && height < last.Height {
			return blockCheckpoint("bad-fork-prior-to-checkpoint at height %d", height)
		}
	}

	if cs.params.IsZerocoinActive(height) && header.Version < model.ZerocoinHeaderVersion {
		return errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectObsolete, 100, "bad-version %d below zerocoin version at height %d", header.Version, height)
	}

	for _, v := range []int32{2, 3} {
		if header.Version < v && cs.isSuperMajority(v, prev, cs.params.RejectBlockOutdatedMajority) {
			return errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectObsolete, 0, "bad-version %d rejected by majority", header.Version)
		}
	}

	return nil
}

// lastKnownCheckpoint returns the newest checkpoint present in the index.
func (cs *ChainState) lastKnownCheckpoint() *BlockIndex {
	for i := len(cs.params.Checkpoints) - 1; i >= 0; i-- {
		if bi := cs.index.Lookup(*cs.params.Checkpoints[i].Hash); bi != nil {
			return bi
		}
	}

	return nil
}

// isSuperMajority reports whether required of the last checked blocks up to
// start have at least version minVersion.
func (cs *ChainState) isSuperMajority(minVersion int32, start *BlockIndex, required int) bool {
	found := 0

	for i, bi := 0, start; i < cs.params.ToCheckBlockUpgradeMajority && found < required && bi != nil; i++ {
		if bi.Header.Version >= minVersion {
			found++
		}

		bi = cs.index.Parent(bi)
	}

	return found >= required
}

// CheckBlock runs the context free block checks.
func (cs *ChainState) CheckBlock(block *model.Block, hash chainhash.Hash) error {
	if err := cs.CheckBlockHeader(block.Header); err != nil {
		return err
	}

	hashes := block.TxHashes()

	root, mutated := model.BuildMerkleRoot(hashes)
	if root != block.Header.HashMerkleRoot {
		return errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, 100, "bad-txnmrklroot")
	}

	// the merkle tree only catches duplicates that end up as siblings
	seen := make(map[chainhash.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			mutated = true
			break
		}

		seen[h] = struct{}{}
	}

	if mutated {
		return errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, 100, "bad-txns-duplicate")
	}

	if len(block.Transactions) == 0 || len(block.Transactions) > cs.params.MaxBlockSize || block.SerializeSize() > cs.params.MaxBlockSize {
		return blockInvalid(100, "bad-blk-length")
	}

	if !block.Transactions[0].IsCoinBase() {
		return blockInvalid(100, "bad-cb-missing")
	}

	for _, tx := range block.Transactions[1:] {
		if tx.IsCoinBase() {
			return blockInvalid(100, "bad-cb-multiple")
		}
	}

	if block.IsProofOfStake() {
		coinbase := block.Transactions[0]
		if len(coinbase.TxOut) != 1 || !coinbase.TxOut[0].IsEmpty() {
			return blockInvalid(100, "bad-cb-pos-not-empty")
		}

		for _, tx := range block.Transactions[2:] {
			if tx.IsCoinStake() {
				return blockInvalid(100, "bad-cs-multiple")
			}
		}
	}

	if err := CheckBlockSignature(block, hash); err != nil {
		return err
	}

	sigOps := 0

	for _, tx := range block.Transactions {
		if err := cs.txValidator.CheckTransaction(tx); err != nil {
			return errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, banScoreOf(err, 100), "bad-tx %s", tx.TxHash(), err)
		}

		sigOps += validator.LegacySigOpCount(tx)
	}

	if sigOps > cs.params.MaxBlockSigOps {
		return blockInvalid(100, "bad-blk-sigops %d", sigOps)
	}

	return nil
}

func banScoreOf(err error, fallback int) int {
	if data, ok := errors.RejectDataOf(err); ok {
		return data.BanScore
	}

	return fallback
}

// contextualCheckBlock checks a block body against its parent.
func (cs *ChainState) contextualCheckBlock(block *model.Block, prev *BlockIndex) error {
	height := prev.Height + 1

	if block.IsProofOfWork() && height > cs.params.LastPOWBlock {
		return blockInvalid(100, "PoW-ended at height %d", height)
	}

	if block.IsProofOfStake() && height <= cs.params.LastPOWBlock {
		return blockInvalid(100, "PoS-early at height %d", height)
	}

	for _, tx := range block.Transactions {
		if !tx.IsFinal(height, int64(block.Header.Timestamp)) {
			return blockInvalid(10, "bad-txns-nonfinal %s", tx.TxHash())
		}
	}

	if height >= cs.params.BIP34Height {
		expected, err := txscript.NewScriptBuilder().AddInt64(int64(height)).Script()
		if err != nil {
			return errors.NewProcessingError("[chain] height script", err)
		}

		sigScript := block.Transactions[0].TxIn[0].SignatureScript
		if !bytes.HasPrefix(sigScript, expected) {
			return errors.NewRejectError(errors.ERR_COINBASE_MISSING_BLOCK_HEIGHT, errors.RejectInvalid, 100, "bad-cb-height at %d", height)
		}
	}

	return nil
}

// acceptBlockHeader validates a header and adds it to the index.
func (cs *ChainState) acceptBlockHeader(header *model.BlockHeader) (*BlockIndex, error) {
	hash := cs.params.BlockHash(header)

	if bi := cs.index.Lookup(hash); bi != nil {
		if bi.Failed() {
			return bi, errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectDuplicate, 0, "duplicate-invalid %s", hash)
		}

		return bi, nil
	}

	if hash == cs.params.GenesisHash {
		bi, _ := cs.index.AddHeader(hash, header)
		cs.setBestHeader(bi)

		return bi, nil
	}

	if err := cs.CheckBlockHeader(header); err != nil {
		return nil, err
	}

	prev := cs.index.Lookup(header.HashPrevBlock)
	if prev == nil {
		return nil, errors.NewBlockOrphanError("[chain] header %s has unknown parent %s", hash, header.HashPrevBlock)
	}

	if prev.Failed() {
		return nil, blockInvalid(100, "bad-prevblk %s", header.HashPrevBlock)
	}

	if err := cs.contextualCheckBlockHeader(header, hash, prev); err != nil {
		return nil, err
	}

	bi, _ := cs.index.AddHeader(hash, header)
	cs.setBestHeader(bi)

	return bi, nil
}

// ProcessNewBlockHeaders accepts a run of headers and returns the entry of
// the last one.
func (cs *ChainState) ProcessNewBlockHeaders(headers []*model.BlockHeader) (*BlockIndex, error) {
	cs.lock()
	defer cs.mu.Unlock()

	var last *BlockIndex

	for _, header := range headers {
		bi, err := cs.acceptBlockHeader(header)
		if err != nil {
			if errors.IsInvalid(err) && bi == nil {
				prometheusInvalidBlocks.Inc()
			}

			return last, err
		}

		last = bi
	}

	return last, nil
}

// acceptBlock validates a block, stores it and links it into the tree.
// knownPos is set while reindexing, when the block is already on disk.
func (cs *ChainState) acceptBlock(block *model.Block, requested bool, knownPos *blockfile.Pos) (*BlockIndex, error) {
	bi, err := cs.acceptBlockHeader(block.Header)
	if err != nil {
		return bi, err
	}

	if bi.HasData() {
		return bi, errors.NewBlockExistsError("[chain] already have block %s", bi.Hash)
	}

	// unrequested blocks that would not extend the tip are ignored
	if !requested {
		if tip := cs.chain.Tip(); tip != nil && bi.ChainWork.Cmp(tip.ChainWork) <= 0 {
			return bi, nil
		}
	}

	prev := cs.index.Parent(bi)

	err = cs.CheckBlock(block, bi.Hash)
	if err == nil && prev != nil {
		err = cs.contextualCheckBlock(block, prev)
	}

	if err != nil {
		// a mutated merkle tree says nothing about the header
		if errors.IsInvalid(err) && !isMutation(err) {
			bi.AddStatus(blockchain_store.BlockFailedValid)
			cs.index.MarkDirty(bi)
			prometheusInvalidBlocks.Inc()
		}

		return bi, err
	}

	var pos blockfile.Pos

	if knownPos != nil {
		pos = *knownPos
		cs.files.AddImported(pos, block, uint32(bi.Height))
	} else if pos, err = cs.files.WriteBlock(block, uint32(bi.Height)); err != nil {
		return bi, errors.NewStorageError("[chain] failed to write block %s", bi.Hash, err)
	}

	cs.receivedBlockTransactions(block, bi, pos)

	prometheusBlockSize.Observe(float64(block.SerializeSize()))

	return bi, nil
}

func isMutation(err error) bool {
	data, ok := errors.RejectDataOf(err)

	return ok && (data.Reason == "bad-txnmrklroot" || data.Reason == "bad-txns-duplicate")
}

// receivedBlockTransactions records the block data of bi and, once the
// data of all its ancestors is present, makes it and its waiting
// descendants chain candidates.
func (cs *ChainState) receivedBlockTransactions(block *model.Block, bi *BlockIndex, pos blockfile.Pos) {
	bi.TxCount = uint32(len(block.Transactions))
	bi.File = pos.File
	bi.DataPos = pos.Offset
	bi.ProofOfStake = block.IsProofOfStake()

	if bi.ProofOfStake {
		bi.KernelOutPoint = block.Transactions[1].TxIn[0].PreviousOutPoint
	}

	bi.AddStatus(blockchain_store.BlockHaveData)
	bi.RaiseValidity(blockchain_store.BlockValidTransactions)
	cs.index.MarkDirty(bi)

	prev := cs.index.Parent(bi)
	if prev != nil && prev.ChainTxCount == 0 {
		cs.unlinked[prev.Handle] = append(cs.unlinked[prev.Handle], bi)
		prometheusUnlinkedBlocks.Set(float64(len(cs.unlinked)))

		return
	}

	queue := []*BlockIndex{bi}

	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]

		if p := cs.index.Parent(e); p != nil {
			e.ChainTxCount = p.ChainTxCount + uint64(e.TxCount)
		} else {
			e.ChainTxCount = uint64(e.TxCount)
		}

		if tip := cs.chain.Tip(); tip == nil || blockchain_store.WorkCompare(e, tip) >= 0 {
			cs.candidates[e] = struct{}{}
		}

		if children, ok := cs.unlinked[e.Handle]; ok {
			queue = append(queue, children...)
			delete(cs.unlinked, e.Handle)
		}
	}

	prometheusUnlinkedBlocks.Set(float64(len(cs.unlinked)))
}

// ProcessNewBlock accepts a block and advances the active chain. requested
// is false for blocks a peer pushed without being asked. A block that was
// already stored is reported with an ERR_BLOCK_EXISTS error.
func (cs *ChainState) ProcessNewBlock(ctx context.Context, block *model.Block, requested bool) (*BlockIndex, error) {
	start := time.Now()
	defer func() {
		prometheusProcessNewBlock.Observe(time.Since(start).Seconds())
	}()

	cs.lock()
	bi, err := cs.acceptBlock(block, requested, nil)
	cs.mu.Unlock()

	if err != nil {
		if bi != nil && errors.IsInvalid(err) {
			cs.logger.Warnf("[chain] block %s rejected: %v", bi.Hash, err)
		}

		return bi, err
	}

	if err = cs.ActivateBestChain(ctx, block); err != nil {
		return bi, err
	}

	return bi, nil
}
