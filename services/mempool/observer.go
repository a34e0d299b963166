package mempool

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/stores/utxo"
)

var _ blockchain.Observer = (*TxMempool)(nil)

// BlockConnected drops the transactions of block and everything that
// conflicts with them by outpoint or zerocoin serial. It runs under the
// chain-state lock.
func (mp *TxMempool) BlockConnected(block *model.Block, bi *blockchain.BlockIndex) {
	var (
		hashes   = make([]chainhash.Hash, 0, len(block.Transactions))
		feeRates = make([]int64, 0, len(block.Transactions))
		removed  []*TxDesc
	)

	mp.mu.Lock()

	for _, tx := range block.Transactions {
		txHash := tx.TxHash()

		if d, ok := mp.pool[txHash]; ok {
			hashes = append(hashes, txHash)
			feeRates = append(feeRates, d.FeeRate())

			// children stay, their parent is confirmed now
			mp.removeLocked(txHash, false)
		}

		removed = append(removed, mp.removeConflictsLocked(tx, txHash)...)
	}
	mp.mu.Unlock()

	for _, tx := range block.Transactions {
		mp.orphans.remove(tx.TxHash(), false)
	}

	mp.estimator.ProcessBlock(bi.Height, hashes, feeRates)

	for _, d := range removed {
		mp.estimator.RemoveTx(d.Hash)
	}

	if len(removed) > 0 {
		prometheusConflicts.Add(float64(len(removed)))
		mp.logger.Infof("[mempool] block %s removed %d conflicting transactions", bi.Hash, len(removed))
	}
}

// BlockDisconnected queues the transactions of block for readmission once
// the reorg settles.
func (mp *TxMempool) BlockDisconnected(block *model.Block, _ *blockchain.BlockIndex) {
	txs := make([]*model.Tx, 0, len(block.Transactions))

	for _, tx := range block.Transactions {
		if tx.IsCoinBase() || tx.IsCoinStake() {
			continue
		}

		txs = append(txs, tx)
	}

	mp.resurrectMu.Lock()
	// blocks disconnect newest first, parents must be readmitted first
	mp.resurrect = append(txs, mp.resurrect...)
	mp.resurrectMu.Unlock()
}

func (mp *TxMempool) UpdatedTip(_ *blockchain.BlockIndex, _ bool) {
	mp.resetRecentRejects()

	select {
	case mp.resurrectCh <- struct{}{}:
	default:
	}
}

// processResurrected readmits disconnected transactions and drops pool
// entries the new tip no longer supports.
func (mp *TxMempool) processResurrected(ctx context.Context) {
	mp.resurrectMu.Lock()
	txs := mp.resurrect
	mp.resurrect = nil
	mp.resurrectMu.Unlock()

	readmitted := 0

	for _, tx := range txs {
		if ctx.Err() != nil {
			return
		}

		if _, err := mp.ProcessTransaction(ctx, tx, false, false); err == nil {
			readmitted++
		}
	}

	if len(txs) > 0 {
		mp.logger.Infof("[mempool] readmitted %d of %d disconnected transactions", readmitted, len(txs))
	}

	if err := mp.revalidate(); err != nil {
		mp.logger.Errorf("[mempool] revalidation failed: %v", err)
	}
}

// revalidate removes entries spending outputs that no longer exist or
// that are immature at the new tip.
func (mp *TxMempool) revalidate() error {
	var removed []*TxDesc

	maturity := mp.txValidator.Params().CoinbaseMaturity

	err := mp.chain.ReadCoins(func(base utxo.View, tip *blockchain.BlockIndex) error {
		mp.mu.Lock()
		defer mp.mu.Unlock()

		view := utxo.NewCache(&poolView{base: base, pool: mp.pool})
		spendHeight := tip.Height + 1

		var stale []chainhash.Hash

		for hash, d := range mp.pool {
			for _, in := range d.Tx.TxIn {
				if in.IsZerocoinSpend() {
					continue
				}

				coins, err := view.AccessCoins(in.PreviousOutPoint.Hash)
				if err != nil {
					return err
				}

				if coins == nil || !coins.IsAvailable(in.PreviousOutPoint.Index) ||
					((coins.CoinBase || coins.CoinStake) && !coins.IsMature(spendHeight, maturity)) {
					stale = append(stale, hash)
					break
				}
			}
		}

		for _, hash := range stale {
			removed = append(removed, mp.removeLocked(hash, true)...)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, d := range removed {
		mp.estimator.RemoveTx(d.Hash)
	}

	if len(removed) > 0 {
		mp.logger.Infof("[mempool] removed %d transactions invalidated by the new tip", len(removed))
	}

	return nil
}
