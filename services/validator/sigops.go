package validator

import (
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/stores/utxo"
)

// LegacySigOpCount counts the signature operations of every script of tx
// without looking at spent outputs.
func LegacySigOpCount(tx *model.Tx) int {
	n := 0

	for _, in := range tx.TxIn {
		if in.IsZerocoinSpend() {
			continue
		}

		n += txscript.GetSigOpCount(in.SignatureScript)
	}

	for _, out := range tx.TxOut {
		if out.IsZerocoinMint() {
			continue
		}

		n += txscript.GetSigOpCount(out.PkScript)
	}

	return n
}

// P2SHSigOpCount counts the signature operations of the redeem scripts tx
// spends. Missing inputs count as zero.
func P2SHSigOpCount(tx *model.Tx, view *utxo.Cache) (int, error) {
	if tx.IsCoinBase() || tx.IsZerocoinSpend() {
		return 0, nil
	}

	n := 0

	for _, in := range tx.TxIn {
		out, err := view.GetOutput(in.PreviousOutPoint)
		if err != nil {
			return 0, err
		}

		if out == nil || !txscript.IsPayToScriptHash(out.PkScript) {
			continue
		}

		n += txscript.GetPreciseSigOpCount(in.SignatureScript, out.PkScript, true)
	}

	return n, nil
}
