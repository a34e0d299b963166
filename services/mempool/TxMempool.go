package mempool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/cespare/xxhash"
	"github.com/dolthub/swiss"
	"github.com/greatroar/blobloom"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/validator"
	"github.com/tessacoin/tessanode/services/zerocoin"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/stores/utxo"
	"github.com/tessacoin/tessanode/ulogger"
	"golang.org/x/time/rate"
)

const (
	// descOverhead approximates the memory held per entry besides the
	// serialized transaction.
	descOverhead = 400

	recentRejectsCapacity = 120000
	recentRejectsFPRate   = 0.000001

	// absurdFeeFactor times the relay fee is refused unless forced.
	absurdFeeFactor = 10000
)

// Chain is the view of the chain state the mempool validates against.
type Chain interface {
	// ReadCoins runs fn with the coins of the active tip while the chain
	// cannot move.
	ReadCoins(fn func(view utxo.View, tip *blockchain.BlockIndex) error) error
	TimeSource() blockchain.TimeSource
}

// ZerocoinVerifier checks zerocoin mints and spends against the chain.
type ZerocoinVerifier interface {
	VerifySpendTx(ctx context.Context, tx *model.Tx, height int32) error
	ValidateMint(out *model.TxOut) (*libzerocoin.PublicCoin, error)
}

// Listener is told about every transaction entering the pool.
type Listener interface {
	TxAccepted(desc *TxDesc)
}

// TxDesc is a pool entry.
type TxDesc struct {
	Tx     *model.Tx
	Hash   chainhash.Hash
	Added  time.Time
	Height int32
	Fee    int64
	Size   int

	// StartingPriority is the priority at admission; inputValue is the
	// value of its confirmed inputs, which ages it further.
	StartingPriority float64
	inputValue       int64

	serials []chainhash.Hash
}

// FeeRate is the fee per kB.
func (d *TxDesc) FeeRate() int64 {
	if d.Size == 0 {
		return 0
	}

	return d.Fee * 1000 / int64(d.Size)
}

// CurrentPriority ages the starting priority to height.
func (d *TxDesc) CurrentPriority(height int32) float64 {
	if height <= d.Height || d.Size == 0 {
		return d.StartingPriority
	}

	return d.StartingPriority + float64(d.inputValue)*float64(height-d.Height)/float64(d.Size)
}

// TxMempool holds validated transactions waiting for a block. Its lock is
// always taken after the chain-state lock.
type TxMempool struct {
	logger      ulogger.Logger
	settings    *settings.Settings
	chain       Chain
	zc          ZerocoinVerifier
	txValidator *validator.TxValidator
	policy      *validator.Policy

	mu        sync.RWMutex
	pool      map[chainhash.Hash]*TxDesc
	spenders  *swiss.Map[model.OutPoint, chainhash.Hash]
	serials   map[chainhash.Hash]chainhash.Hash
	totalSize int

	rejectsMu     sync.Mutex
	recentRejects *blobloom.Filter

	orphans     *orphanPool
	freeLimiter *rate.Limiter
	estimator   *FeeEstimator

	listenersMu sync.RWMutex
	listeners   []Listener

	resurrectMu sync.Mutex
	resurrect   []*model.Tx
	resurrectCh chan struct{}
}

func New(logger ulogger.Logger, tSettings *settings.Settings, chain Chain, zc ZerocoinVerifier, txValidator *validator.TxValidator) *TxMempool {
	initPrometheusMetrics()

	// the free relay budget is in kB per minute
	freeBytesPerSecond := rate.Limit(float64(tSettings.Mempool.LimitFreeRelay*1000) / 60)

	return &TxMempool{
		logger:        logger,
		settings:      tSettings,
		chain:         chain,
		zc:            zc,
		txValidator:   txValidator,
		policy:        validator.NewPolicy(tSettings),
		pool:          make(map[chainhash.Hash]*TxDesc),
		spenders:      swiss.NewMap[model.OutPoint, chainhash.Hash](1024),
		serials:       make(map[chainhash.Hash]chainhash.Hash),
		recentRejects: newRejectFilter(),
		orphans:       newOrphanPool(tSettings.Mempool.MaxOrphanTxs),
		freeLimiter:   rate.NewLimiter(freeBytesPerSecond, tSettings.Mempool.LimitFreeRelay*1000),
		estimator:     NewFeeEstimator(),
		resurrectCh:   make(chan struct{}, 1),
	}
}

func newRejectFilter() *blobloom.Filter {
	return blobloom.NewOptimized(blobloom.Config{
		Capacity: recentRejectsCapacity,
		FPRate:   recentRejectsFPRate,
	})
}

func (mp *TxMempool) Policy() *validator.Policy {
	return mp.policy
}

func (mp *TxMempool) Estimator() *FeeEstimator {
	return mp.estimator
}

// Subscribe registers l for accepted transactions.
func (mp *TxMempool) Subscribe(l Listener) {
	mp.listenersMu.Lock()
	mp.listeners = append(mp.listeners, l)
	mp.listenersMu.Unlock()
}

func (mp *TxMempool) notifyAccepted(descs []*TxDesc) {
	mp.listenersMu.RLock()
	listeners := mp.listeners
	mp.listenersMu.RUnlock()

	for _, d := range descs {
		for _, l := range listeners {
			l.TxAccepted(d)
		}
	}
}

// Count returns the number of pool entries.
func (mp *TxMempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Size returns the total serialized size of the pool.
func (mp *TxMempool) Size() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.totalSize
}

// DynamicMemoryUsage approximates the memory held by the pool.
func (mp *TxMempool) DynamicMemoryUsage() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.usageLocked()
}

func (mp *TxMempool) usageLocked() int {
	return mp.totalSize + len(mp.pool)*descOverhead
}

func (mp *TxMempool) Have(hash chainhash.Hash) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, ok := mp.pool[hash]

	return ok
}

// HaveTransaction reports whether hash is in the pool or the orphan pool.
func (mp *TxMempool) HaveTransaction(hash chainhash.Hash) bool {
	return mp.Have(hash) || mp.orphans.have(hash)
}

func (mp *TxMempool) Fetch(hash chainhash.Hash) (*model.Tx, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	d, ok := mp.pool[hash]
	if !ok {
		return nil, false
	}

	return d.Tx, true
}

// SpentBy returns the pool transaction spending op.
func (mp *TxMempool) SpentBy(op model.OutPoint) (chainhash.Hash, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.spenders.Get(op)
}

// HasSerial reports whether a pool transaction spends the zerocoin serial.
func (mp *TxMempool) HasSerial(serialHash chainhash.Hash) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, ok := mp.serials[serialHash]

	return ok
}

// TxHashes returns the hashes of all pool entries.
func (mp *TxMempool) TxHashes() []chainhash.Hash {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	hashes := make([]chainhash.Hash, 0, len(mp.pool))
	for h := range mp.pool {
		hashes = append(hashes, h)
	}

	return hashes
}

// TxDescs returns the pool entries ordered by fee rate, highest first.
// Ties go to the older entry.
func (mp *TxMempool) TxDescs() []*TxDesc {
	mp.mu.RLock()
	descs := make([]*TxDesc, 0, len(mp.pool))

	for _, d := range mp.pool {
		descs = append(descs, d)
	}
	mp.mu.RUnlock()

	sort.Slice(descs, func(i, j int) bool {
		if ri, rj := descs[i].FeeRate(), descs[j].FeeRate(); ri != rj {
			return ri > rj
		}

		return descs[i].Added.Before(descs[j].Added)
	})

	return descs
}

// IsRecentlyRejected reports whether hash failed admission since the last
// tip change.
func (mp *TxMempool) IsRecentlyRejected(hash chainhash.Hash) bool {
	mp.rejectsMu.Lock()
	defer mp.rejectsMu.Unlock()

	return mp.recentRejects.Has(xxhash.Sum64(hash[:]))
}

func (mp *TxMempool) addRecentReject(hash chainhash.Hash) {
	mp.rejectsMu.Lock()
	mp.recentRejects.Add(xxhash.Sum64(hash[:]))
	mp.rejectsMu.Unlock()
}

func (mp *TxMempool) resetRecentRejects() {
	mp.rejectsMu.Lock()
	mp.recentRejects.Clear()
	mp.rejectsMu.Unlock()
}

// ProcessTransaction validates tx and adds it to the pool. A transaction
// with unknown inputs goes to the orphan pool when allowOrphan is set.
// Orphans waiting for tx are processed after it; every transaction that
// entered the pool is returned.
func (mp *TxMempool) ProcessTransaction(ctx context.Context, tx *model.Tx, allowOrphan, limitFree bool) ([]*TxDesc, error) {
	txHash := tx.TxHash()

	missing, desc, err := mp.maybeAcceptTransaction(ctx, tx, limitFree, true)
	if err != nil {
		mp.rejected(txHash, err)
		return nil, err
	}

	if len(missing) == 0 {
		accepted := append([]*TxDesc{desc}, mp.processOrphans(ctx, desc.Tx)...)
		mp.notifyAccepted(accepted)

		return accepted, nil
	}

	if !allowOrphan {
		return nil, errors.NewTxMissingParentError("orphan transaction %s references outputs of unknown or spent transaction %s", txHash, missing[0])
	}

	for _, parent := range missing {
		if mp.IsRecentlyRejected(parent) {
			mp.addRecentReject(txHash)
			return nil, errors.NewRejectError(errors.ERR_TX_INVALID, errors.RejectInvalid, 0, "bad-txns-parent-rejected %s", parent)
		}
	}

	if err = mp.orphans.add(tx); err != nil {
		return nil, err
	}

	prometheusOrphans.Set(float64(mp.orphans.count()))

	mp.logger.Debugf("[mempool] stored orphan %s missing %d parents", txHash, len(missing))

	return nil, nil
}

func (mp *TxMempool) rejected(txHash chainhash.Hash, err error) {
	prometheusRejected.Inc()

	// conflicts and duplicates may become valid; keep asking for them
	switch errors.CodeOf(err) {
	case errors.ERR_TX_ALREADY_EXISTS, errors.ERR_TX_CONFLICTING, errors.ERR_CONTEXT_CANCELED:
		return
	}

	if blockchain.NewValidationState(err).IsInvalid() {
		mp.addRecentReject(txHash)
	}
}

// processOrphans admits the orphans unlocked by tx, and those unlocked by
// them in turn.
func (mp *TxMempool) processOrphans(ctx context.Context, tx *model.Tx) []*TxDesc {
	var accepted []*TxDesc

	queue := []*model.Tx{tx}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		for _, orphan := range mp.orphans.spendersOf(parent) {
			orphanHash := orphan.TxHash()

			missing, desc, err := mp.maybeAcceptTransaction(ctx, orphan, true, true)
			if err != nil {
				mp.orphans.remove(orphanHash, true)
				mp.rejected(orphanHash, err)

				continue
			}

			if len(missing) > 0 {
				continue
			}

			mp.orphans.remove(orphanHash, false)
			accepted = append(accepted, desc)
			queue = append(queue, orphan)
		}
	}

	prometheusOrphans.Set(float64(mp.orphans.count()))

	return accepted
}

// maybeAcceptTransaction runs the admission checks. Unknown parents are
// returned instead of an error.
func (mp *TxMempool) maybeAcceptTransaction(ctx context.Context, tx *model.Tx, limitFree, rejectAbsurdFee bool) ([]chainhash.Hash, *TxDesc, error) {
	txHash := tx.TxHash()

	if err := mp.txValidator.CheckTransaction(tx); err != nil {
		return nil, nil, err
	}

	if tx.IsCoinBase() {
		return nil, nil, errors.NewRejectError(errors.ERR_TX_INVALID, errors.RejectInvalid, 100, "coinbase")
	}

	if tx.IsCoinStake() {
		return nil, nil, errors.NewRejectError(errors.ERR_TX_INVALID, errors.RejectInvalid, 100, "coinstake")
	}

	if err := mp.policy.IsStandardTx(tx); err != nil {
		return nil, nil, err
	}

	mints := 0

	for _, out := range tx.TxOut {
		if !out.IsZerocoinMint() {
			continue
		}

		if _, err := mp.zc.ValidateMint(out); err != nil {
			return nil, nil, err
		}

		mints++
	}

	serials, err := zerocoin.SpendSerialHashes(tx)
	if err != nil {
		return nil, nil, err
	}

	var (
		missing []chainhash.Hash
		desc    *TxDesc
	)

	err = mp.chain.ReadCoins(func(base utxo.View, tip *blockchain.BlockIndex) error {
		mp.mu.Lock()
		defer mp.mu.Unlock()

		if _, ok := mp.pool[txHash]; ok {
			return errors.NewRejectError(errors.ERR_TX_ALREADY_EXISTS, errors.RejectDuplicate, 0, "txn-already-in-mempool %s", txHash)
		}

		nextHeight := tip.Height + 1

		if !tx.IsFinal(nextHeight, mp.chain.TimeSource().AdjustedTime().Unix()) {
			return errors.NewRejectError(errors.ERR_TX_POLICY, errors.RejectNonstandard, 0, "non-final")
		}

		for _, in := range tx.TxIn {
			if in.IsZerocoinSpend() {
				continue
			}

			if spender, ok := mp.spenders.Get(in.PreviousOutPoint); ok {
				return errors.NewRejectError(errors.ERR_TX_CONFLICTING, errors.RejectDuplicate, 0,
					"txn-mempool-conflict %s already spent by %s", in.PreviousOutPoint, spender)
			}
		}

		for _, serial := range serials {
			if spender, ok := mp.serials[serial]; ok {
				return errors.NewRejectError(errors.ERR_TX_CONFLICTING, errors.RejectDuplicate, 0,
					"txn-mempool-conflict zerocoin serial %s already spent by %s", serial, spender)
			}
		}

		view := utxo.NewCache(&poolView{base: base, pool: mp.pool})

		if have, err := view.HaveCoins(txHash); err != nil {
			return err
		} else if have {
			return errors.NewRejectError(errors.ERR_TX_ALREADY_EXISTS, errors.RejectDuplicate, 0, "txn-already-known %s", txHash)
		}

		if !tx.IsZerocoinSpend() {
			for _, in := range tx.TxIn {
				coins, err := view.AccessCoins(in.PreviousOutPoint.Hash)
				if err != nil {
					return err
				}

				if coins == nil {
					missing = append(missing, in.PreviousOutPoint.Hash)
					continue
				}

				if !coins.IsAvailable(in.PreviousOutPoint.Index) {
					return errors.NewRejectError(errors.ERR_TX_CONFLICTING, errors.RejectDuplicate, 0, "bad-txns-inputs-spent %s", in.PreviousOutPoint)
				}
			}

			if len(missing) > 0 {
				return nil
			}

			if err := mp.policy.AreInputsStandard(tx, view); err != nil {
				return err
			}

			sigOps, err := validator.P2SHSigOpCount(tx, view)
			if err != nil {
				return err
			}

			sigOps += validator.LegacySigOpCount(tx)

			if sigOps > mp.txValidator.Params().MaxBlockSigOps/5 {
				return errors.NewRejectError(errors.ERR_TX_POLICY, errors.RejectNonstandard, 0, "bad-txns-too-many-sigops %d", sigOps)
			}
		}

		fee, checks, err := mp.txValidator.CheckInputs(tx, view, nextHeight, txscript.StandardVerifyFlags)
		if err != nil {
			return err
		}

		size := tx.SerializeSize()
		priority, inputValue := calcPriority(tx, view, nextHeight, size)

		minFee := mp.policy.MinRelayFee(size, mp.settings.Mempool.RelayPriority && validator.AllowFree(priority))

		switch {
		case tx.IsZerocoinSpend():
			// spends pay for themselves through the burned denomination
			minFee = 0
		case mints > 0:
			if mintFee := int64(mints) * mp.txValidator.Params().Zerocoin.MintFee; mintFee > minFee {
				minFee = mintFee
			}
		}

		if fee < minFee {
			return errors.NewRejectError(errors.ERR_TX_LOW_FEE, errors.RejectInsufficientFee, 0,
				"insufficient fee %s < %s", model.FormatMoney(fee), model.FormatMoney(minFee))
		}

		if limitFree && fee < mp.policy.FeeForSize(size) && !mp.freeLimiter.AllowN(time.Now(), size) {
			return errors.NewRejectError(errors.ERR_TX_LOW_FEE, errors.RejectInsufficientFee, 0, "rate limited free transaction")
		}

		if rejectAbsurdFee && fee > mp.policy.FeeForSize(size)*absurdFeeFactor {
			return errors.NewRejectError(errors.ERR_TX_POLICY, errors.RejectNonstandard, 0,
				"absurdly-high-fee %s", model.FormatMoney(fee))
		}

		if err := validator.RunScriptChecks(checks); err != nil {
			return err
		}

		if err := mp.zc.VerifySpendTx(ctx, tx, nextHeight); err != nil {
			return err
		}

		desc = &TxDesc{
			Tx:               tx,
			Hash:             txHash,
			Added:            time.Now(),
			Height:           tip.Height,
			Fee:              fee,
			Size:             size,
			StartingPriority: priority,
			inputValue:       inputValue,
			serials:          serials,
		}

		mp.addLocked(desc)

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(missing) > 0 {
		return missing, nil, nil
	}

	mp.estimator.ProcessTransaction(desc)

	prometheusAccepted.Inc()
	mp.logger.Debugf("[mempool] accepted %s fee %s size %d (pool %d txs)", txHash, model.FormatMoney(desc.Fee), desc.Size, mp.Count())

	return nil, desc, nil
}

// calcPriority is the sum over confirmed inputs of value times depth,
// divided by the size without the input script overhead.
func calcPriority(tx *model.Tx, view *utxo.Cache, height int32, size int) (float64, int64) {
	if tx.IsZerocoinSpend() {
		return 0, 0
	}

	var (
		weighted   float64
		inputValue int64
	)

	for _, in := range tx.TxIn {
		coins, err := view.AccessCoins(in.PreviousOutPoint.Hash)
		if err != nil || coins == nil || coins.Height >= height {
			continue
		}

		out, ok := coins.Output(in.PreviousOutPoint.Index)
		if !ok {
			continue
		}

		weighted += float64(out.Value) * float64(height-coins.Height)
		inputValue += out.Value
	}

	modSize := size
	for _, in := range tx.TxIn {
		offset := 41 + min(110, len(in.SignatureScript))
		if modSize > offset {
			modSize -= offset
		}
	}

	if modSize == 0 {
		return 0, inputValue
	}

	return weighted / float64(modSize), inputValue
}

func (mp *TxMempool) addLocked(desc *TxDesc) {
	mp.pool[desc.Hash] = desc

	for _, in := range desc.Tx.TxIn {
		if !in.IsZerocoinSpend() {
			mp.spenders.Put(in.PreviousOutPoint, desc.Hash)
		}
	}

	for _, serial := range desc.serials {
		mp.serials[serial] = desc.Hash
	}

	mp.totalSize += desc.Size

	prometheusTransactions.Set(float64(len(mp.pool)))
	prometheusBytes.Set(float64(mp.totalSize))
}

// removeLocked drops hash and, when recursive, every pool descendant.
func (mp *TxMempool) removeLocked(hash chainhash.Hash, recursive bool) []*TxDesc {
	desc, ok := mp.pool[hash]
	if !ok {
		return nil
	}

	removed := []*TxDesc{desc}

	if recursive {
		for i := range desc.Tx.TxOut {
			if child, ok := mp.spenders.Get(model.OutPoint{Hash: hash, Index: uint32(i)}); ok {
				removed = append(removed, mp.removeLocked(child, true)...)
			}
		}
	}

	for _, in := range desc.Tx.TxIn {
		if !in.IsZerocoinSpend() {
			mp.spenders.Delete(in.PreviousOutPoint)
		}
	}

	for _, serial := range desc.serials {
		delete(mp.serials, serial)
	}

	delete(mp.pool, hash)
	mp.totalSize -= desc.Size

	prometheusTransactions.Set(float64(len(mp.pool)))
	prometheusBytes.Set(float64(mp.totalSize))

	return removed
}

// RemoveTransaction drops tx and its descendants, e.g. after it failed
// to make it into a block.
func (mp *TxMempool) RemoveTransaction(hash chainhash.Hash) {
	mp.mu.Lock()
	removed := mp.removeLocked(hash, true)
	mp.mu.Unlock()

	for _, d := range removed {
		mp.estimator.RemoveTx(d.Hash)
	}
}

// removeConflictsLocked drops pool transactions that spend an input or a
// serial of tx.
func (mp *TxMempool) removeConflictsLocked(tx *model.Tx, txHash chainhash.Hash) []*TxDesc {
	var removed []*TxDesc

	for _, in := range tx.TxIn {
		if in.IsZerocoinSpend() {
			continue
		}

		if spender, ok := mp.spenders.Get(in.PreviousOutPoint); ok && spender != txHash {
			removed = append(removed, mp.removeLocked(spender, true)...)
		}
	}

	serials, err := zerocoin.SpendSerialHashes(tx)
	if err != nil {
		return removed
	}

	for _, serial := range serials {
		if spender, ok := mp.serials[serial]; ok && spender != txHash {
			removed = append(removed, mp.removeLocked(spender, true)...)
		}
	}

	return removed
}

// Expire drops entries added before cutoff together with their
// descendants.
func (mp *TxMempool) Expire(cutoff time.Time) int {
	mp.mu.Lock()

	var removed []*TxDesc

	for hash, d := range mp.pool {
		if d.Added.Before(cutoff) {
			removed = append(removed, mp.removeLocked(hash, true)...)
		}
	}
	mp.mu.Unlock()

	for _, d := range removed {
		mp.estimator.RemoveTx(d.Hash)
	}

	if len(removed) > 0 {
		prometheusExpired.Add(float64(len(removed)))
		mp.logger.Infof("[mempool] expired %d transactions", len(removed))
	}

	return len(removed)
}

// TrimToSize evicts the lowest fee rate entries, with their descendants,
// until the pool uses at most limit bytes.
func (mp *TxMempool) TrimToSize(limit int) int {
	mp.mu.Lock()

	if mp.usageLocked() <= limit {
		mp.mu.Unlock()
		return 0
	}

	descs := make([]*TxDesc, 0, len(mp.pool))
	for _, d := range mp.pool {
		descs = append(descs, d)
	}

	sort.Slice(descs, func(i, j int) bool {
		if ri, rj := descs[i].FeeRate(), descs[j].FeeRate(); ri != rj {
			return ri < rj
		}

		return descs[i].Added.After(descs[j].Added)
	})

	var removed []*TxDesc

	for _, d := range descs {
		if mp.usageLocked() <= limit {
			break
		}

		removed = append(removed, mp.removeLocked(d.Hash, true)...)
	}
	mp.mu.Unlock()

	for _, d := range removed {
		mp.estimator.RemoveTx(d.Hash)
	}

	if len(removed) > 0 {
		prometheusEvicted.Add(float64(len(removed)))
		mp.logger.Infof("[mempool] evicted %d transactions to fit %d bytes", len(removed), limit)
	}

	return len(removed)
}

// Clear drops every entry and orphan.
func (mp *TxMempool) Clear() {
	mp.mu.Lock()
	mp.pool = make(map[chainhash.Hash]*TxDesc)
	mp.spenders.Clear()
	mp.serials = make(map[chainhash.Hash]chainhash.Hash)
	mp.totalSize = 0
	mp.mu.Unlock()

	mp.orphans.clear()
}
