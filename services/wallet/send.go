package wallet

import (
	"context"
	"math/rand/v2"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/stores/kvstore"
)

// Recipient is one payment of a transaction.
type Recipient struct {
	Address string
	Amount  int64
}

// spendable lists the outputs new transactions may spend: confirmed ones
// and unconfirmed change of the wallet's own transactions.
func (w *Wallet) spendable() []Output {
	var coins []Output

	for _, out := range w.unspent(0, false) {
		wtx := w.txs[out.OutPoint.Hash]
		if wtx.IsConfirmed() || wtx.FromMe {
			coins = append(coins, out)
		}
	}

	return coins
}

// CreateTransaction builds and signs a payment to recipients. A zero
// feePerKB pays the relay fee.
func (w *Wallet) CreateTransaction(recipients []Recipient, feePerKB int64) (*model.Tx, int64, error) {
	if len(recipients) == 0 {
		return nil, 0, errors.NewInvalidArgumentError("no recipients")
	}

	policy := w.txPool.Policy()
	outputs := make([]*model.TxOut, 0, len(recipients))

	for _, r := range recipients {
		if r.Amount <= 0 || !model.MoneyRange(r.Amount) {
			return nil, 0, errors.NewInvalidArgumentError("invalid amount %d", r.Amount)
		}

		dest, err := txscript.DecodeDestination(r.Address, w.params)
		if err != nil {
			return nil, 0, err
		}

		script, err := dest.Script()
		if err != nil {
			return nil, 0, err
		}

		out := model.NewTxOut(r.Amount, script)
		if policy.IsDust(out) {
			return nil, 0, errors.NewInvalidArgumentError("amount %s is dust", model.FormatMoney(out.Value))
		}

		outputs = append(outputs, out)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isLocked() {
		return nil, 0, errors.NewWalletLockedError("wallet is locked")
	}

	return w.fund(outputs, 0, feePerKB)
}

// fund selects wallet coins paying for outputs plus a fee of at least
// minFee and the relay fee, adds change and signs. The caller holds w.mu.
func (w *Wallet) fund(outputs []*model.TxOut, minFee, feePerKB int64) (*model.Tx, int64, error) {
	var amount int64

	for _, out := range outputs {
		var ok bool
		if amount, ok = model.AddMoney(amount, out.Value); !ok {
			return nil, 0, errors.NewInvalidArgumentError("total amount out of range")
		}
	}

	policy := w.txPool.Policy()
	coins := w.spendable()

	var changeScript []byte

	fee := minFee

	for {
		selected, total, err := SelectCoins(coins, amount+fee)
		if err != nil {
			return nil, 0, err
		}

		tx := model.NewTx(model.TxVersion)

		for _, c := range selected {
			op := c.OutPoint
			tx.AddTxIn(model.NewTxIn(&op, nil))
		}

		for _, out := range outputs {
			tx.AddTxOut(model.NewTxOut(out.Value, out.PkScript))
		}

		paid := fee

		if change := total - amount - fee; change > 0 {
			if changeScript == nil {
				if changeScript, err = w.changeScript(); err != nil {
					return nil, 0, err
				}
			}

			changeOut := model.NewTxOut(change, changeScript)

			if policy.IsDust(changeOut) {
				paid += change
			} else {
				pos := rand.IntN(len(tx.TxOut) + 1)
				tx.TxOut = append(tx.TxOut, nil)
				copy(tx.TxOut[pos+1:], tx.TxOut[pos:])
				tx.TxOut[pos] = changeOut
			}
		}

		if err := w.signInputs(tx, selected); err != nil {
			return nil, 0, err
		}

		size := tx.SerializeSize()

		required := max(minFee, policy.FeeForSize(size), feePerKB*int64(size)/1000)

		if paid >= required {
			return tx, paid, nil
		}

		fee = required
	}
}

// signInputs signs every input of tx spending the matching coin. The
// caller holds w.mu.
func (w *Wallet) signInputs(tx *model.Tx, coins []Output) error {
	kdb := w.keyDB()

	for i, c := range coins {
		sigScript, err := txscript.SignTxOutput(tx, i, c.TxOut.PkScript, txscript.SigHashAll, kdb, nil)
		if err != nil {
			return err
		}

		tx.TxIn[i].SignatureScript = sigScript
	}

	return nil
}

// CommitTransaction records tx and submits it to the mempool, which relays
// it. A transaction the mempool refuses is marked conflicted so its inputs
// become spendable again.
func (w *Wallet) CommitTransaction(ctx context.Context, tx *model.Tx) error {
	hash := tx.TxHash()

	w.mu.Lock()

	batch := kvstore.NewBatch()

	_, err := w.addTx(batch, tx, nil, nil, 0)
	if err == nil {
		err = w.db.put(batch, metaKey(), w.meta)
	}

	if err == nil {
		err = w.db.write(batch)
	}

	w.mu.Unlock()

	if err != nil {
		return err
	}

	if _, err := w.txPool.ProcessTransaction(ctx, tx, false, false); err != nil {
		w.abandon(hash)
		return err
	}

	prometheusWalletSent.Inc()

	w.logger.Infof("[wallet] committed transaction %s", hash)

	return nil
}

// abandon marks an unconfirmed wallet transaction conflicted and releases
// its inputs.
func (w *Wallet) abandon(hash chainhash.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()

	wtx, ok := w.txs[hash]
	if !ok || wtx.IsConfirmed() {
		return
	}

	wtx.Conflicted = true

	for _, in := range wtx.Tx.TxIn {
		if w.spent[in.PreviousOutPoint] == hash {
			delete(w.spent, in.PreviousOutPoint)
		}
	}

	batch := kvstore.NewBatch()

	w.releaseMints(batch, hash)

	err := w.db.put(batch, kvstore.Key(prefixTx, hash[:]), wtx.record())
	if err == nil {
		err = w.db.write(batch)
	}

	if err != nil {
		w.logger.Errorf("[wallet] failed to record abandoned %s: %v", hash, err)
	}
}

// SendTo pays amount to addr and returns the transaction hash.
func (w *Wallet) SendTo(ctx context.Context, addr string, amount int64) (chainhash.Hash, error) {
	tx, _, err := w.CreateTransaction([]Recipient{{Address: addr, Amount: amount}}, 0)
	if err != nil {
		return chainhash.Hash{}, err
	}

	if err := w.CommitTransaction(ctx, tx); err != nil {
		return chainhash.Hash{}, err
	}

	w.mu.Lock()
	if _, known := w.addressBook[addr]; !known {
		batch := kvstore.NewBatch()
		if err := w.setAddressEntry(batch, addr, "", PurposeSend); err == nil {
			_ = w.db.write(batch)
		}
	}
	w.mu.Unlock()

	return tx.TxHash(), nil
}

// ResendUnconfirmed offers the wallet's own unconfirmed transactions to
// the mempool again.
func (w *Wallet) ResendUnconfirmed(ctx context.Context) int {
	w.mu.RLock()

	var pending []*model.Tx

	for _, wtx := range w.sortedTxs() {
		if wtx.FromMe && !wtx.IsConfirmed() && !wtx.Conflicted && !wtx.isGenerated() {
			pending = append(pending, wtx.Tx)
		}
	}

	w.mu.RUnlock()

	resent := 0

	for _, tx := range pending {
		if _, err := w.txPool.ProcessTransaction(ctx, tx, false, false); err != nil {
			if !errors.Is(err, errors.ErrTxAlreadyExists) {
				w.logger.Debugf("[wallet] resend of %s refused: %v", tx.TxHash(), err)
			}

			continue
		}

		resent++
	}

	return resent
}
