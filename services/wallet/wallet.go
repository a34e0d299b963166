// Package wallet keeps the node's keys and the transactions that concern
// them. It derives keys from an HD seed, tracks balances from chain and
// mempool events, builds and signs payments, and mints and spends
// zerocoins.
package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bip32"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/mempool"
	"github.com/tessacoin/tessanode/services/validator"
	"github.com/tessacoin/tessanode/services/zerocoin"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/ulogger"
)

// Chain is the part of the chain state the wallet reads.
type Chain interface {
	Params() *chaincfg.Params
	Tip() *blockchain.BlockIndex
	At(height int32) *blockchain.BlockIndex
	ReadBlock(bi *blockchain.BlockIndex) (*model.Block, error)
	Tracker() *zerocoin.Tracker
	Subscribe(o blockchain.Observer)
}

// TxPool admits the wallet's transactions for relay.
type TxPool interface {
	ProcessTransaction(ctx context.Context, tx *model.Tx, allowOrphan, limitFree bool) ([]*mempool.TxDesc, error)
	Policy() *validator.Policy
	Subscribe(l mempool.Listener)
}

// unconfirmed is the block height of a transaction not in the active chain.
const unconfirmed int32 = -1

// WalletTx is a transaction relevant to the wallet with its metadata.
type WalletTx struct {
	Tx          *model.Tx
	Hash        chainhash.Hash
	Received    time.Time
	BlockHash   chainhash.Hash
	BlockHeight int32
	BlockIndex  int
	Conflicted  bool
	WatchOnly   bool
	FromMe      bool
	OrderPos    int64
}

func (wtx *WalletTx) IsConfirmed() bool {
	return wtx.BlockHeight != unconfirmed
}

// Depth is the number of confirmations at tip height.
func (wtx *WalletTx) Depth(tipHeight int32) int32 {
	if !wtx.IsConfirmed() {
		return 0
	}

	return tipHeight - wtx.BlockHeight + 1
}

func (wtx *WalletTx) isGenerated() bool {
	return wtx.Tx.IsCoinBase() || wtx.Tx.IsCoinStake()
}

func (wtx *WalletTx) record() *txRecord {
	return &txRecord{
		Raw:         wtx.Tx.Bytes(),
		Received:    wtx.Received.Unix(),
		BlockHash:   wtx.BlockHash.String(),
		BlockHeight: wtx.BlockHeight,
		BlockIndex:  wtx.BlockIndex,
		Conflicted:  wtx.Conflicted,
		WatchOnly:   wtx.WatchOnly,
		FromMe:      wtx.FromMe,
		OrderPos:    wtx.OrderPos,
	}
}

func walletTxFromRecord(rec *txRecord) (*WalletTx, error) {
	tx, err := model.NewTxFromBytes(rec.Raw)
	if err != nil {
		return nil, err
	}

	blockHash, err := chainhash.NewHashFromStr(rec.BlockHash)
	if err != nil {
		return nil, errors.NewStorageError("corrupt wallet transaction block hash", err)
	}

	return &WalletTx{
		Tx:          tx,
		Hash:        tx.TxHash(),
		Received:    time.Unix(rec.Received, 0),
		BlockHash:   *blockHash,
		BlockHeight: rec.BlockHeight,
		BlockIndex:  rec.BlockIndex,
		Conflicted:  rec.Conflicted,
		WatchOnly:   rec.WatchOnly,
		FromMe:      rec.FromMe,
		OrderPos:    rec.OrderPos,
	}, nil
}

// Output is an unspent wallet output.
type Output struct {
	OutPoint    model.OutPoint
	TxOut       *model.TxOut
	Height      int32
	IsCoinBase  bool
	IsCoinStake bool
}

// Balances splits the wallet value by spendability.
type Balances struct {
	Confirmed   int64
	Unconfirmed int64
	Immature    int64
	Zerocoin    int64
}

// Wallet is safe for concurrent use.
type Wallet struct {
	logger   ulogger.Logger
	settings *settings.Settings
	params   *chaincfg.Params
	chain    Chain
	txPool   TxPool
	db       *walletDB

	mu          sync.RWMutex
	meta        *walletMeta
	keys        *keyChain
	imported    map[[20]byte]*keyRecord
	txs         map[chainhash.Hash]*WalletTx
	spent       map[model.OutPoint]chainhash.Hash
	addressBook map[string]*AddressEntry
	entries     []*AccountingEntry
	mints       map[chainhash.Hash]*Mint
	serials     map[chainhash.Hash]chainhash.Hash
	lookahead   map[chainhash.Hash]uint32
	tipHeight   int32

	lookaheadCoins []*lookaheadCoin

	// unlocked secrets, nil while locked
	masterKey   []byte
	seed        []byte
	zcSeed      []byte
	accountPriv *bip32.ExtendedKey
	relock      *time.Timer
}

func New(logger ulogger.Logger, tSettings *settings.Settings, chain Chain, txPool TxPool, store kvstore.Store) *Wallet {
	initPrometheusMetrics()

	return &Wallet{
		logger:      logger,
		settings:    tSettings,
		params:      chain.Params(),
		chain:       chain,
		txPool:      txPool,
		db:          &walletDB{store: store},
		imported:    make(map[[20]byte]*keyRecord),
		txs:         make(map[chainhash.Hash]*WalletTx),
		spent:       make(map[model.OutPoint]chainhash.Hash),
		addressBook: make(map[string]*AddressEntry),
		mints:       make(map[chainhash.Hash]*Mint),
		serials:     make(map[chainhash.Hash]chainhash.Hash),
		lookahead:   make(map[chainhash.Hash]uint32),
		tipHeight:   unconfirmed,
	}
}

// Open loads the wallet, creating a new seed on first use, and subscribes
// to chain and mempool events.
func (w *Wallet) Open(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	meta, err := w.db.readMeta()

	switch {
	case errors.Is(err, errors.ErrNotFound):
		if err := w.create(); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		w.meta = meta
		if err := w.load(); err != nil {
			return err
		}
	}

	if tip := w.chain.Tip(); tip != nil {
		w.tipHeight = tip.Height
	}

	w.chain.Subscribe(w)
	w.txPool.Subscribe(w)

	w.logger.Infof("[wallet] opened with %d transactions, %d keys, %d mints", len(w.txs), len(w.keys.paths)+len(w.imported), len(w.mints))

	return nil
}

func (w *Wallet) create() error {
	seed, err := bip32.GenerateSeed(bip32.RecommendedSeedLen)
	if err != nil {
		return errors.NewWalletError("failed to generate seed", err)
	}

	zcSeed, err := randomBytes(32)
	if err != nil {
		return err
	}

	account, err := accountKey(seed, w.params)
	if err != nil {
		return err
	}

	xpub, err := account.Neuter()
	if err != nil {
		return errors.NewWalletError("failed to derive account public key", err)
	}

	birth := int32(0)
	if tip := w.chain.Tip(); tip != nil {
		birth = tip.Height
	}

	w.meta = &walletMeta{
		Version:      walletVersion,
		Scrypt:       defaultScrypt,
		Seed:         seed,
		ZerocoinSeed: zcSeed,
		AccountXPub:  xpub.String(),
		BirthHeight:  birth,
		BestHeight:   birth,
	}

	if w.keys, err = newKeyChain(w.meta.AccountXPub); err != nil {
		return err
	}

	w.setUnlocked(nil, seed, zcSeed, account)

	if err := w.topUpKeyPool(); err != nil {
		return err
	}

	w.topUpMintLookahead()

	w.logger.Infof("[wallet] created new wallet at height %d", birth)

	return w.saveMeta()
}

func (w *Wallet) load() error {
	var err error

	if w.keys, err = newKeyChain(w.meta.AccountXPub); err != nil {
		return err
	}

	if err := w.topUpKeyPool(); err != nil {
		return err
	}

	if err := each(w.db, prefixKey, func(key []byte, rec *keyRecord) error {
		var h [20]byte
		copy(h[:], key)
		w.imported[h] = rec

		return nil
	}); err != nil {
		return err
	}

	if err := each(w.db, prefixTx, func(_ []byte, rec *txRecord) error {
		wtx, err := walletTxFromRecord(rec)
		if err != nil {
			return err
		}

		w.txs[wtx.Hash] = wtx

		return nil
	}); err != nil {
		return err
	}

	for _, wtx := range w.sortedTxs() {
		w.markSpends(wtx)
	}

	if err := each(w.db, prefixAddress, func(key []byte, entry *AddressEntry) error {
		w.addressBook[string(key)] = entry
		return nil
	}); err != nil {
		return err
	}

	if err := each(w.db, prefixAccounting, func(_ []byte, entry *AccountingEntry) error {
		w.entries = append(w.entries, entry)
		return nil
	}); err != nil {
		return err
	}

	if err := each(w.db, prefixMint, func(_ []byte, mint *Mint) error {
		w.mints[mint.PubCoinHash] = mint
		w.serials[mint.SerialHash] = mint.PubCoinHash

		return nil
	}); err != nil {
		return err
	}

	if !w.meta.Encrypted {
		account, err := accountKey(w.meta.Seed, w.params)
		if err != nil {
			return err
		}

		w.setUnlocked(nil, w.meta.Seed, w.meta.ZerocoinSeed, account)
		w.topUpMintLookahead()
	}

	return nil
}

func (w *Wallet) saveMeta() error {
	batch := kvstore.NewBatch()
	if err := w.db.put(batch, metaKey(), w.meta); err != nil {
		return err
	}

	return w.db.write(batch)
}

// topUpKeyPool keeps KeyPoolSize unused keys derived on each branch.
func (w *Wallet) topUpKeyPool() error {
	size := uint32(w.settings.Wallet.KeyPoolSize)
	if size == 0 {
		size = 1
	}

	if err := w.keys.extend(branchExternal, w.meta.NextExternal+size); err != nil {
		return err
	}

	return w.keys.extend(branchInternal, w.meta.NextInternal+size)
}

// KeyPoolSize is the number of derived keys not yet handed out.
func (w *Wallet) KeyPoolSize() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return int(w.keys.derived[branchExternal]-w.meta.NextExternal) + int(w.keys.derived[branchInternal]-w.meta.NextInternal)
}

// nextKey hands out the next pool key of branch and refills the pool.
func (w *Wallet) nextKey(branch uint32) ([]byte, [20]byte, error) {
	next := &w.meta.NextExternal
	if branch == branchInternal {
		next = &w.meta.NextInternal
	}

	for {
		path := KeyPath{Branch: branch, Index: *next}
		*next++

		if err := w.topUpKeyPool(); err != nil {
			return nil, [20]byte{}, err
		}

		if pub, h, ok := w.keys.pubKeyAt(path); ok {
			return pub, h, nil
		}
	}
}

// markKeyUsed advances the pool past a key seen on chain.
func (w *Wallet) markKeyUsed(h [20]byte) {
	path, ok := w.keys.paths[h]
	if !ok {
		return
	}

	next := &w.meta.NextExternal
	if path.Branch == branchInternal {
		next = &w.meta.NextInternal
	}

	if path.Index >= *next {
		*next = path.Index + 1
		if err := w.topUpKeyPool(); err != nil {
			w.logger.Errorf("[wallet] failed to refill key pool: %v", err)
		}
	}
}

// keyHash returns the key hash an output pays to, if it is a key output.
func keyHash(pkScript []byte) ([20]byte, bool) {
	dest, _ := txscript.ExtractDestination(pkScript)

	return dest.Hash, dest.Kind == txscript.DestPubKeyHash
}

func (w *Wallet) haveKey(h [20]byte) bool {
	if _, ok := w.keys.paths[h]; ok {
		return true
	}

	_, ok := w.imported[h]

	return ok
}

func (w *Wallet) isMine(pkScript []byte) bool {
	h, ok := keyHash(pkScript)
	return ok && w.haveKey(h)
}

// IsMine reports whether the wallet can spend an output with pkScript.
func (w *Wallet) IsMine(pkScript []byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.isMine(pkScript)
}

// prevOut returns the wallet output spent by op, if any.
func (w *Wallet) prevOut(op model.OutPoint) (*model.TxOut, bool) {
	prev, ok := w.txs[op.Hash]
	if !ok || int(op.Index) >= len(prev.Tx.TxOut) {
		return nil, false
	}

	out := prev.Tx.TxOut[op.Index]

	return out, w.isMine(out.PkScript)
}

// isFromMe reports whether tx spends a wallet output or a wallet mint.
func (w *Wallet) isFromMe(tx *model.Tx) bool {
	if tx.IsZerocoinSpend() {
		serials, err := zerocoin.SpendSerialHashes(tx)
		if err != nil {
			return false
		}

		for _, s := range serials {
			if _, ok := w.serials[s]; ok {
				return true
			}
		}

		return false
	}

	for _, in := range tx.TxIn {
		if _, mine := w.prevOut(in.PreviousOutPoint); mine {
			return true
		}
	}

	return false
}

func (w *Wallet) isRelevant(tx *model.Tx) bool {
	for _, out := range tx.TxOut {
		if w.isMine(out.PkScript) {
			return true
		}

		if out.IsZerocoinMint() && w.mintFor(out) != nil {
			return true
		}
	}

	return w.isFromMe(tx)
}

func (w *Wallet) markSpends(wtx *WalletTx) {
	if wtx.Conflicted || wtx.Tx.IsCoinBase() || wtx.Tx.IsZerocoinSpend() {
		return
	}

	for _, in := range wtx.Tx.TxIn {
		w.spent[in.PreviousOutPoint] = wtx.Hash
	}
}

// addTx records tx if it concerns the wallet. block is nil for mempool
// transactions. The caller holds w.mu and persists the returned batch.
func (w *Wallet) addTx(batch *kvstore.Batch, tx *model.Tx, block *model.Block, bi *blockchain.BlockIndex, index int) (*WalletTx, error) {
	hash := tx.TxHash()

	wtx, known := w.txs[hash]
	if !known {
		if !w.isRelevant(tx) {
			return nil, nil
		}

		wtx = &WalletTx{
			Tx:          tx,
			Hash:        hash,
			Received:    time.Now(),
			BlockHeight: unconfirmed,
			FromMe:      w.isFromMe(tx),
			OrderPos:    w.meta.OrderPos,
		}

		w.meta.OrderPos++
		w.txs[hash] = wtx
	}

	if block != nil {
		wtx.BlockHash = bi.Hash
		wtx.BlockHeight = bi.Height
		wtx.BlockIndex = index
		wtx.Conflicted = false

		if !known {
			wtx.Received = time.Unix(int64(block.Header.Timestamp), 0)
		}

		w.resolveConflicts(batch, wtx)
	}

	w.markSpends(wtx)

	for _, out := range tx.TxOut {
		if h, ok := keyHash(out.PkScript); ok {
			w.markKeyUsed(h)
		}
	}

	if err := w.trackZerocoin(batch, wtx); err != nil {
		return nil, err
	}

	if err := w.db.put(batch, kvstore.Key(prefixTx, hash[:]), wtx.record()); err != nil {
		return nil, err
	}

	return wtx, nil
}

// resolveConflicts marks unconfirmed wallet transactions spending the same
// outputs as the confirmed wtx as conflicted.
func (w *Wallet) resolveConflicts(batch *kvstore.Batch, wtx *WalletTx) {
	if wtx.Tx.IsCoinBase() || wtx.Tx.IsZerocoinSpend() {
		return
	}

	for _, in := range wtx.Tx.TxIn {
		other, ok := w.spent[in.PreviousOutPoint]
		if !ok || other == wtx.Hash {
			continue
		}

		if conflict := w.txs[other]; conflict != nil && !conflict.IsConfirmed() {
			conflict.Conflicted = true
			w.logger.Warnf("[wallet] transaction %s conflicts with confirmed %s", other, wtx.Hash)

			_ = w.db.put(batch, kvstore.Key(prefixTx, other[:]), conflict.record())
		}
	}
}

// BlockConnected records the wallet transactions of a connected block.
func (w *Wallet) BlockConnected(block *model.Block, bi *blockchain.BlockIndex) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.connectBlock(block, bi); err != nil {
		w.logger.Errorf("[wallet] failed to record block %s: %v", bi.Hash, err)
	}
}

func (w *Wallet) connectBlock(block *model.Block, bi *blockchain.BlockIndex) error {
	batch := kvstore.NewBatch()

	for i, tx := range block.Transactions {
		if _, err := w.addTx(batch, tx, block, bi, i); err != nil {
			return err
		}
	}

	if bi.Height > w.meta.BestHeight {
		w.meta.BestHeight = bi.Height
	}

	if batch.Len() == 0 {
		return nil
	}

	if err := w.db.put(batch, metaKey(), w.meta); err != nil {
		return err
	}

	return w.db.write(batch)
}

// BlockDisconnected returns the wallet transactions of a disconnected block
// to unconfirmed. Generated transactions of the block can never confirm
// again and are marked conflicted.
func (w *Wallet) BlockDisconnected(block *model.Block, bi *blockchain.BlockIndex) {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch := kvstore.NewBatch()

	for _, tx := range block.Transactions {
		hash := tx.TxHash()

		wtx, ok := w.txs[hash]
		if !ok {
			continue
		}

		wtx.BlockHash = chainhash.Hash{}
		wtx.BlockHeight = unconfirmed
		wtx.BlockIndex = 0

		if wtx.isGenerated() {
			wtx.Conflicted = true

			for _, in := range tx.TxIn {
				if w.spent[in.PreviousOutPoint] == hash {
					delete(w.spent, in.PreviousOutPoint)
				}
			}
		}

		w.unconfirmMints(batch, hash)

		if err := w.db.put(batch, kvstore.Key(prefixTx, hash[:]), wtx.record()); err != nil {
			w.logger.Errorf("[wallet] failed to record disconnect of %s: %v", hash, err)
			return
		}
	}

	if w.meta.BestHeight >= bi.Height {
		w.meta.BestHeight = bi.Height - 1
	}

	if err := w.db.put(batch, metaKey(), w.meta); err != nil {
		w.logger.Errorf("[wallet] failed to record disconnect of block %s: %v", bi.Hash, err)
		return
	}

	if err := w.db.write(batch); err != nil {
		w.logger.Errorf("[wallet] failed to record disconnect of block %s: %v", bi.Hash, err)
	}
}

func (w *Wallet) UpdatedTip(tip *blockchain.BlockIndex, _ bool) {
	w.mu.Lock()
	w.tipHeight = tip.Height
	w.mu.Unlock()

	w.updateBalanceMetrics()
}

// TxAccepted records wallet transactions admitted to the mempool.
func (w *Wallet) TxAccepted(desc *mempool.TxDesc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch := kvstore.NewBatch()

	wtx, err := w.addTx(batch, desc.Tx, nil, nil, 0)
	if err == nil && wtx != nil {
		err = w.db.put(batch, metaKey(), w.meta)
		if err == nil {
			err = w.db.write(batch)
		}
	}

	if err != nil {
		w.logger.Errorf("[wallet] failed to record transaction %s: %v", desc.Hash, err)
	}
}

func (w *Wallet) isMature(wtx *WalletTx) bool {
	if !wtx.isGenerated() {
		return true
	}

	return wtx.IsConfirmed() && w.tipHeight+1-wtx.BlockHeight >= w.params.CoinbaseMaturity
}

// unspent lists unspent wallet outputs of non-conflicted transactions with
// at least minConf confirmations.
func (w *Wallet) unspent(minConf int32, includeImmature bool) []Output {
	var outputs []Output

	for _, wtx := range w.txs {
		if wtx.Conflicted || wtx.Depth(w.tipHeight) < minConf {
			continue
		}

		if !includeImmature && !w.isMature(wtx) {
			continue
		}

		for i, out := range wtx.Tx.TxOut {
			if out.IsEmpty() || !w.isMine(out.PkScript) {
				continue
			}

			op := model.OutPoint{Hash: wtx.Hash, Index: uint32(i)}
			if _, spent := w.spent[op]; spent {
				continue
			}

			outputs = append(outputs, Output{
				OutPoint:    op,
				TxOut:       out,
				Height:      wtx.BlockHeight,
				IsCoinBase:  wtx.Tx.IsCoinBase(),
				IsCoinStake: wtx.Tx.IsCoinStake(),
			})
		}
	}

	sort.Slice(outputs, func(i, j int) bool {
		if outputs[i].TxOut.Value != outputs[j].TxOut.Value {
			return outputs[i].TxOut.Value < outputs[j].TxOut.Value
		}

		return outputs[i].OutPoint.String() < outputs[j].OutPoint.String()
	})

	return outputs
}

// ListUnspent returns the spendable outputs with at least minConf
// confirmations, smallest first.
func (w *Wallet) ListUnspent(minConf int32) []Output {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.unspent(minConf, false)
}

// StakeableCoins returns the mature confirmed outputs that may stake a
// block at height.
func (w *Wallet) StakeableCoins(height int32) ([]Output, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.isLocked() {
		return nil, errors.NewWalletLockedError("wallet is locked")
	}

	var coins []Output

	for _, out := range w.unspent(1, false) {
		if height-out.Height >= w.params.StakeMinDepth {
			coins = append(coins, out)
		}
	}

	return coins, nil
}

// Balance returns the wallet balances at the current tip.
func (w *Wallet) Balance() Balances {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.balance()
}

func (w *Wallet) balance() Balances {
	var b Balances

	for _, out := range w.unspent(0, true) {
		wtx := w.txs[out.OutPoint.Hash]

		switch {
		case !w.isMature(wtx):
			b.Immature += out.TxOut.Value
		case !wtx.IsConfirmed():
			b.Unconfirmed += out.TxOut.Value
		default:
			b.Confirmed += out.TxOut.Value
		}
	}

	for _, m := range w.mints {
		if !m.Used && m.Height != unconfirmed {
			b.Zerocoin += m.Denomination.Amount()
		}
	}

	return b
}

// Transaction returns a wallet transaction.
func (w *Wallet) Transaction(hash chainhash.Hash) (*WalletTx, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	wtx, ok := w.txs[hash]

	return wtx, ok
}

// Transactions returns the wallet transactions in the order they were
// first seen.
func (w *Wallet) Transactions() []*WalletTx {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.sortedTxs()
}

func (w *Wallet) sortedTxs() []*WalletTx {
	txs := make([]*WalletTx, 0, len(w.txs))
	for _, wtx := range w.txs {
		txs = append(txs, wtx)
	}

	sort.Slice(txs, func(i, j int) bool {
		return txs[i].OrderPos < txs[j].OrderPos
	})

	return txs
}

// Credit is the value tx pays to the wallet.
func (w *Wallet) Credit(tx *model.Tx) int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var credit int64

	for _, out := range tx.TxOut {
		if w.isMine(out.PkScript) {
			credit += out.Value
		}
	}

	return credit
}

// Debit is the wallet value tx spends.
func (w *Wallet) Debit(tx *model.Tx) int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var debit int64

	for _, in := range tx.TxIn {
		if out, mine := w.prevOut(in.PreviousOutPoint); mine {
			debit += out.Value
		}
	}

	return debit
}

// BestHeight is the last block height the wallet has processed.
func (w *Wallet) BestHeight() int32 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.meta.BestHeight
}

// Flush persists the wallet header.
func (w *Wallet) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.saveMeta()
}
