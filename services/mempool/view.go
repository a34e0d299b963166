package mempool

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/stores/utxo"
)

// mempoolHeight marks coins created by unconfirmed transactions.
const mempoolHeight int32 = 0x7fffffff

// poolView layers the outputs of pool transactions over the chain tip so
// chains of unconfirmed transactions validate. It is read only and must be
// used with the pool lock held.
type poolView struct {
	base utxo.View
	pool map[chainhash.Hash]*TxDesc
}

func (v *poolView) GetCoins(hash chainhash.Hash) (*utxo.Coins, error) {
	if d, ok := v.pool[hash]; ok {
		return utxo.NewCoinsFromTx(d.Tx, mempoolHeight), nil
	}

	return v.base.GetCoins(hash)
}

func (v *poolView) HaveCoins(hash chainhash.Hash) (bool, error) {
	if _, ok := v.pool[hash]; ok {
		return true, nil
	}

	return v.base.HaveCoins(hash)
}

func (v *poolView) BestBlock() (chainhash.Hash, error) {
	return v.base.BestBlock()
}

func (v *poolView) BatchWrite(*utxo.EntryMap, chainhash.Hash) error {
	return errors.NewProcessingError("[mempool] pool view is read only")
}
