package mempool

import (
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
)

const (
	// maxOrphanTxSize bounds orphans so a full pool cannot exhaust memory.
	maxOrphanTxSize = 5000

	orphanTTL = 20 * time.Minute
)

type orphanTx struct {
	tx      *model.Tx
	expires time.Time
}

// orphanPool holds transactions whose parents are unknown, indexed by the
// parent transactions they wait for.
type orphanPool struct {
	mu       sync.Mutex
	max      int
	orphans  map[chainhash.Hash]*orphanTx
	byParent map[chainhash.Hash]map[chainhash.Hash]*model.Tx
}

func newOrphanPool(max int) *orphanPool {
	return &orphanPool{
		max:      max,
		orphans:  make(map[chainhash.Hash]*orphanTx),
		byParent: make(map[chainhash.Hash]map[chainhash.Hash]*model.Tx),
	}
}

func (op *orphanPool) count() int {
	op.mu.Lock()
	defer op.mu.Unlock()

	return len(op.orphans)
}

func (op *orphanPool) have(hash chainhash.Hash) bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	_, ok := op.orphans[hash]

	return ok
}

func (op *orphanPool) add(tx *model.Tx) error {
	if op.max <= 0 {
		return errors.NewTxPolicyError("orphan transactions are not accepted")
	}

	if size := tx.SerializeSize(); size > maxOrphanTxSize {
		return errors.NewRejectError(errors.ERR_TX_POLICY, errors.RejectNonstandard, 0, "orphan transaction size %d exceeds %d", size, maxOrphanTxSize)
	}

	hash := tx.TxHash()

	op.mu.Lock()
	defer op.mu.Unlock()

	if _, ok := op.orphans[hash]; ok {
		return nil
	}

	op.expireLocked(time.Now())

	// map iteration order picks the victim at random
	for len(op.orphans) >= op.max {
		for victim := range op.orphans {
			op.removeLocked(victim, false)
			break
		}
	}

	op.orphans[hash] = &orphanTx{tx: tx, expires: time.Now().Add(orphanTTL)}

	for _, in := range tx.TxIn {
		parent := in.PreviousOutPoint.Hash

		spenders, ok := op.byParent[parent]
		if !ok {
			spenders = make(map[chainhash.Hash]*model.Tx)
			op.byParent[parent] = spenders
		}

		spenders[hash] = tx
	}

	return nil
}

// spendersOf returns the orphans spending an output of tx.
func (op *orphanPool) spendersOf(tx *model.Tx) []*model.Tx {
	op.mu.Lock()
	defer op.mu.Unlock()

	spenders := op.byParent[tx.TxHash()]
	txs := make([]*model.Tx, 0, len(spenders))

	for _, s := range spenders {
		txs = append(txs, s)
	}

	return txs
}

// remove drops hash and, when recursive, the orphans waiting for it.
func (op *orphanPool) remove(hash chainhash.Hash, recursive bool) {
	op.mu.Lock()
	defer op.mu.Unlock()

	op.removeLocked(hash, recursive)
}

func (op *orphanPool) removeLocked(hash chainhash.Hash, recursive bool) {
	o, ok := op.orphans[hash]
	if !ok {
		return
	}

	for _, in := range o.tx.TxIn {
		parent := in.PreviousOutPoint.Hash

		if spenders, ok := op.byParent[parent]; ok {
			delete(spenders, hash)

			if len(spenders) == 0 {
				delete(op.byParent, parent)
			}
		}
	}

	delete(op.orphans, hash)

	if recursive {
		for child := range op.byParent[hash] {
			op.removeLocked(child, true)
		}
	}
}

func (op *orphanPool) expireLocked(now time.Time) {
	for hash, o := range op.orphans {
		if now.After(o.expires) {
			op.removeLocked(hash, false)
		}
	}
}

func (op *orphanPool) clear() {
	op.mu.Lock()
	op.orphans = make(map[chainhash.Hash]*orphanTx)
	op.byParent = make(map[chainhash.Hash]map[chainhash.Hash]*model.Tx)
	op.mu.Unlock()
}
