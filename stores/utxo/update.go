package utxo

import (
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
)

// UpdateCoins spends the transparent inputs of tx, recording undo data, and
// adds its outputs at height.
func UpdateCoins(view *Cache, tx *model.Tx, height int32, undo *TxUndo) error {
	if !tx.IsCoinBase() && !tx.IsZerocoinSpend() {
		for _, in := range tx.TxIn {
			op := in.PreviousOutPoint

			err := view.Modify(op.Hash, func(coins *Coins) error {
				out, ok := coins.Spend(op.Index)
				if !ok {
					return errors.NewTxMissingParentError("input %s missing or spent", op, ErrMissingInputs)
				}

				if undo != nil {
					undo.Prevouts = append(undo.Prevouts, TxInUndo{
						Out:       *out,
						CoinBase:  coins.CoinBase,
						CoinStake: coins.CoinStake,
						Height:    coins.Height,
						Version:   coins.Version,
					})
				}

				return nil
			})
			if err != nil {
				return err
			}
		}
	}

	return AddCoins(view, tx, height)
}

// AddCoins adds the outputs of tx, refusing to overwrite unspent coins.
func AddCoins(view *Cache, tx *model.Tx, height int32) error {
	hash := tx.TxHash()
	fresh := NewCoinsFromTx(tx, height)

	return view.Modify(hash, func(coins *Coins) error {
		if !coins.IsPruned() {
			return errors.NewTxInvalidError("tx %s overwrites unspent coins", hash, ErrOverwrite)
		}

		*coins = *fresh

		return nil
	})
}

// DisconnectTx reverses UpdateCoins for tx using its undo record. The
// returned clean flag is false when the view did not match the undo data
// exactly; the view is still updated as far as possible.
func DisconnectTx(view *Cache, tx *model.Tx, height int32, undo *TxUndo) (bool, error) {
	clean := true
	hash := tx.TxHash()
	expected := NewCoinsFromTx(tx, height)

	err := view.Modify(hash, func(coins *Coins) error {
		if coins.IsPruned() && !expected.IsPruned() {
			clean = false
		} else if !coins.IsPruned() {
			// outputs must not have been spent by a later block
			if !coins.Equal(expected) {
				clean = false
			}
		}

		coins.Clear()

		return nil
	})
	if err != nil {
		return false, err
	}

	if tx.IsCoinBase() || tx.IsZerocoinSpend() {
		return clean, nil
	}

	if undo == nil || len(undo.Prevouts) != len(tx.TxIn) {
		return false, errors.NewCorruptionError("undo data for tx %s does not match its inputs", hash, ErrBadUndo)
	}

	for i := len(tx.TxIn) - 1; i >= 0; i-- {
		op := tx.TxIn[i].PreviousOutPoint
		u := undo.Prevouts[i]

		err := view.Modify(op.Hash, func(coins *Coins) error {
			if coins.IsPruned() {
				coins.CoinBase = u.CoinBase
				coins.CoinStake = u.CoinStake
				coins.Height = u.Height
				coins.Version = u.Version
			} else if coins.Height != u.Height || coins.CoinBase != u.CoinBase {
				clean = false
			}

			if coins.IsAvailable(op.Index) {
				clean = false
			}

			for uint32(len(coins.Outputs)) <= op.Index {
				coins.Outputs = append(coins.Outputs, nullTxOut())
			}

			out := u.Out
			coins.Outputs[op.Index] = &out

			return nil
		})
		if err != nil {
			return false, err
		}
	}

	return clean, nil
}
