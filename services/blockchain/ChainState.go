// Package blockchain maintains the block tree, selects and connects the
// most-work valid chain and keeps the coin, zerocoin and index stores in
// step with it.
package blockchain

import (
	"context"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/looplab/fsm"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/validator"
	"github.com/tessacoin/tessanode/services/zerocoin"
	"github.com/tessacoin/tessanode/settings"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/stores/blockfile"
	"github.com/tessacoin/tessanode/stores/utxo"
	zcstore "github.com/tessacoin/tessanode/stores/zerocoin"
	"github.com/tessacoin/tessanode/ulogger"
	"go.uber.org/atomic"
)

// BlockIndex is re-exported for callers that only deal with the chain state.
type BlockIndex = blockchain_store.BlockIndex

// Stores bundles the persistent state the chain state drives.
type Stores struct {
	TreeDB   blockchain_store.Store
	Files    *blockfile.Store
	Coins    *utxo.DB
	Zerocoin *zcstore.Store
}

// Option configures a ChainState.
type Option func(cs *ChainState)

// WithTimeSource replaces the network adjusted clock.
func WithTimeSource(ts TimeSource) Option {
	return func(cs *ChainState) {
		cs.timeSource = ts
	}
}

// ChainState owns the block index, the active chain and the coins cache.
//
// Connecting and disconnecting blocks, header and block acceptance and
// flushing run under mu. The active chain array has its own lock so the
// zerocoin tracker and peers can read it while a block is being connected.
type ChainState struct {
	logger   ulogger.Logger
	settings *settings.Settings
	params   *chaincfg.Params

	mu sync.Mutex

	index      *blockchain_store.Index
	chainMu    sync.RWMutex
	chain      *blockchain_store.Chain
	bestHeader *BlockIndex

	treeDB   blockchain_store.Store
	files    *blockfile.Store
	coinsDB  *utxo.DB
	coinsTip *utxo.Cache
	zcStore  *zcstore.Store
	tracker  *zerocoin.Tracker

	txValidator *validator.TxValidator
	checkQueue  *validator.CheckQueue
	difficulty  *Difficulty
	timeSource  TimeSource

	// candidates holds every entry with data for itself and its ancestors
	// that has at least the work of the tip.
	candidates map[*BlockIndex]struct{}
	// unlinked maps a parent without data to children that have data.
	unlinked map[blockchain_store.Handle][]*BlockIndex

	observersMu sync.RWMutex
	observers   []Observer
	notifying   atomic.Bool

	initialDownloadDone atomic.Bool
	txIndex             bool

	lastWrite time.Time
	lastFlush time.Time

	fsm *fsm.FSM
}

// NewChainState wires the chain state to its stores. Load must be called
// before blocks are processed.
func NewChainState(logger ulogger.Logger, tSettings *settings.Settings, stores Stores, opts ...Option) (*ChainState, error) {
	initPrometheusMetrics()

	if stores.TreeDB == nil || stores.Files == nil || stores.Coins == nil || stores.Zerocoin == nil {
		return nil, errors.NewConfigurationError("[chain] every store must be provided")
	}

	params := tSettings.ChainCfgParams
	index := blockchain_store.NewIndex()

	cs := &ChainState{
		logger:      logger,
		settings:    tSettings,
		params:      params,
		index:       index,
		chain:       blockchain_store.NewChain(index),
		treeDB:      stores.TreeDB,
		files:       stores.Files,
		coinsDB:     stores.Coins,
		coinsTip:    utxo.NewCache(stores.Coins),
		zcStore:     stores.Zerocoin,
		txValidator: validator.NewTxValidator(logger, params),
		checkQueue:  validator.NewCheckQueue(tSettings.ScriptCheckThreads()),
		difficulty:  NewDifficulty(logger, params, index),
		candidates:  make(map[*BlockIndex]struct{}),
		unlinked:    make(map[blockchain_store.Handle][]*BlockIndex),
		lastWrite:   time.Now(),
		lastFlush:   time.Now(),
	}

	cs.tracker = zerocoin.New(logger, params, stores.Zerocoin, cs)
	cs.fsm = cs.NewFiniteStateMachine()

	for _, opt := range opts {
		opt(cs)
	}

	if cs.timeSource == nil {
		cs.timeSource = NewMedianTimeSource(logger)
	}

	return cs, nil
}

// lock takes the chain-state lock. With lock checks enabled, taking it
// from an observer callback is reported instead of deadlocking silently.
func (cs *ChainState) lock() {
	if cs.settings.Validation.DebugLockChecks && cs.notifying.Load() {
		if !cs.mu.TryLock() {
			cs.logger.Errorf("[chain] chain-state lock requested while observers run")
			cs.mu.Lock()
		}

		return
	}

	cs.mu.Lock()
}

func (cs *ChainState) Params() *chaincfg.Params {
	return cs.params
}

func (cs *ChainState) Index() *blockchain_store.Index {
	return cs.index
}

func (cs *ChainState) Tracker() *zerocoin.Tracker {
	return cs.tracker
}

func (cs *ChainState) TxValidator() *validator.TxValidator {
	return cs.txValidator
}

func (cs *ChainState) TimeSource() TimeSource {
	return cs.timeSource
}

func (cs *ChainState) Difficulty() *Difficulty {
	return cs.difficulty
}

// Tip returns the tip of the active chain.
func (cs *ChainState) Tip() *BlockIndex {
	cs.chainMu.RLock()
	defer cs.chainMu.RUnlock()

	return cs.chain.Tip()
}

// Height returns the height of the active chain, -1 when empty.
func (cs *ChainState) Height() int32 {
	cs.chainMu.RLock()
	defer cs.chainMu.RUnlock()

	return cs.chain.Height()
}

// At returns the active chain entry at height.
func (cs *ChainState) At(height int32) *BlockIndex {
	cs.chainMu.RLock()
	defer cs.chainMu.RUnlock()

	return cs.chain.At(height)
}

// Contains reports whether bi is part of the active chain.
func (cs *ChainState) Contains(bi *BlockIndex) bool {
	cs.chainMu.RLock()
	defer cs.chainMu.RUnlock()

	return cs.chain.Contains(bi)
}

// Next returns the successor of bi in the active chain.
func (cs *ChainState) Next(bi *BlockIndex) *BlockIndex {
	cs.chainMu.RLock()
	defer cs.chainMu.RUnlock()

	return cs.chain.Next(bi)
}

// Locator returns a block locator for bi, or for the tip when bi is nil.
func (cs *ChainState) Locator(bi *BlockIndex) []chainhash.Hash {
	cs.chainMu.RLock()
	defer cs.chainMu.RUnlock()

	return cs.chain.Locator(bi)
}

// FindLocatorFork returns the newest active entry named by the locator.
func (cs *ChainState) FindLocatorFork(locator []chainhash.Hash) *BlockIndex {
	cs.chainMu.RLock()
	defer cs.chainMu.RUnlock()

	return cs.chain.FindLocatorFork(locator)
}

// FindFork returns the last active entry that is an ancestor of bi.
func (cs *ChainState) FindFork(bi *BlockIndex) *BlockIndex {
	cs.chainMu.RLock()
	defer cs.chainMu.RUnlock()

	return cs.chain.FindFork(bi)
}

// LookupBlockIndex returns the index entry of hash, or nil.
func (cs *ChainState) LookupBlockIndex(hash chainhash.Hash) *BlockIndex {
	return cs.index.Lookup(hash)
}

// BestHeader returns the known header with the most work.
func (cs *ChainState) BestHeader() *BlockIndex {
	cs.chainMu.RLock()
	defer cs.chainMu.RUnlock()

	return cs.bestHeader
}

func (cs *ChainState) setBestHeader(bi *BlockIndex) {
	cs.chainMu.Lock()
	defer cs.chainMu.Unlock()

	if cs.bestHeader == nil || blockchain_store.WorkCompare(bi, cs.bestHeader) > 0 {
		cs.bestHeader = bi

		prometheusHeadersHeight.Set(float64(bi.Height))
	}
}

func (cs *ChainState) setTip(bi *BlockIndex) {
	cs.chainMu.Lock()
	cs.chain.SetTip(bi)
	cs.chainMu.Unlock()

	if bi != nil {
		prometheusChainHeight.Set(float64(bi.Height))
	}
}

// BlockAt reads the active block at height.
func (cs *ChainState) BlockAt(height int32) (*model.Block, error) {
	bi := cs.At(height)
	if bi == nil {
		return nil, errors.NewNotFoundError("[chain] no active block at height %d", height)
	}

	return cs.ReadBlock(bi)
}

// HeaderAt returns the active header at height.
func (cs *ChainState) HeaderAt(height int32) (*model.BlockHeader, error) {
	bi := cs.At(height)
	if bi == nil {
		return nil, errors.NewNotFoundError("[chain] no active block at height %d", height)
	}

	header := bi.Header

	return &header, nil
}

// ReadBlock loads the stored block of bi and checks it hashes to bi.
func (cs *ChainState) ReadBlock(bi *BlockIndex) (*model.Block, error) {
	if !bi.HasData() {
		return nil, errors.NewNotFoundError("[chain] no data for block %s", bi.Hash)
	}

	block, err := cs.files.ReadBlock(blockfile.Pos{File: bi.File, Offset: bi.DataPos})
	if err != nil {
		return nil, err
	}

	if hash := cs.params.BlockHash(block.Header); hash != bi.Hash {
		return nil, errors.NewStorageError("[chain] block at %d:%d hashes to %s, expected %s", bi.File, bi.DataPos, hash, bi.Hash)
	}

	return block, nil
}

// ReadTx finds a confirmed transaction through the transaction index.
func (cs *ChainState) ReadTx(hash chainhash.Hash) (*model.Tx, *BlockIndex, error) {
	if !cs.txIndex {
		return nil, nil, errors.NewServiceUnavailableError("[chain] transaction index is disabled")
	}

	pos, err := cs.treeDB.ReadTxIndex(hash)
	if err != nil {
		return nil, nil, err
	}

	tx, err := blockchain_store.ReadTx(cs.files, pos)
	if err != nil {
		return nil, nil, err
	}

	block, err := cs.files.ReadBlock(pos.Block)
	if err != nil {
		return nil, nil, err
	}

	return tx, cs.index.Lookup(cs.params.BlockHash(block.Header)), nil
}

// IsInitialBlockDownload reports whether the node is still catching up.
// Once it has caught up it never reports true again.
func (cs *ChainState) IsInitialBlockDownload() bool {
	if cs.initialDownloadDone.Load() {
		return false
	}

	tip := cs.Tip()
	if tip == nil {
		return true
	}

	if cs.params.MineBlocksOnDemand {
		cs.finishInitialDownload()
		return false
	}

	if cp := cs.params.LastCheckpointHeight(); cs.settings.Block.CheckpointsEnabled && tip.Height < cp {
		return true
	}

	if best := cs.BestHeader(); best != nil && best.Height-tip.Height > 24*6 {
		return true
	}

	if tip.BlockTime() < cs.timeSource.AdjustedTime().Add(-6*time.Hour).Unix() {
		return true
	}

	cs.finishInitialDownload()

	return false
}

func (cs *ChainState) finishInitialDownload() {
	if cs.initialDownloadDone.CompareAndSwap(false, true) {
		cs.logger.Infof("[chain] leaving initial block download")

		if err := cs.fsmEvent(EventRun); err != nil {
			cs.logger.Debugf("[chain] %v", err)
		}
	}
}

// ReadCoins runs fn with a read-only view of the tip coins. The view is
// consistent with Tip for the duration of fn; fn must not block on the
// chain state.
func (cs *ChainState) ReadCoins(fn func(view utxo.View, tip *BlockIndex) error) error {
	cs.lock()
	defer cs.mu.Unlock()

	return fn(&tipView{cache: cs.coinsTip}, cs.Tip())
}

// CoinsMemoryUsage returns the estimated size of the coins cache.
func (cs *ChainState) CoinsMemoryUsage() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.coinsTip.DynamicMemoryUsage()
}

// tipView reads through the coins cache without filling it.
type tipView struct {
	cache *utxo.Cache
}

func (v *tipView) GetCoins(hash chainhash.Hash) (*utxo.Coins, error) {
	return v.cache.PeekCoins(hash)
}

func (v *tipView) HaveCoins(hash chainhash.Hash) (bool, error) {
	coins, err := v.cache.PeekCoins(hash)
	if err != nil {
		return false, err
	}

	return coins != nil && !coins.IsPruned(), nil
}

func (v *tipView) BestBlock() (chainhash.Hash, error) {
	return v.cache.BestBlock()
}

func (v *tipView) BatchWrite(_ *utxo.EntryMap, _ chainhash.Hash) error {
	return errors.NewProcessingError("[chain] tip coins view is read only")
}

var _ zerocoin.ChainReader = (*ChainState)(nil)

// Close flushes and closes the stores.
func (cs *ChainState) Close(ctx context.Context) error {
	flushErr := cs.FlushStateToDisk(ctx, FlushAlways)

	return errors.Join(flushErr, cs.files.Flush(false), cs.treeDB.Close(), cs.coinsDB.Close(), cs.zcStore.Close())
}
