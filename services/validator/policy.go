package validator

import (
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/stores/utxo"
)

const (
	// MaxStandardTxSize bounds relayed transactions; zerocoin transactions
	// carry proofs and get MaxZerocoinTxSize.
	MaxStandardTxSize = 100000
	MaxZerocoinTxSize = 150000

	MaxStandardSigScriptSize = 1650
	MaxStandardTxVersion     = 1

	// MaxP2SHSigOps bounds the sigops of a relayed redeem script.
	MaxP2SHSigOps = 15

	DefaultMinRelayTxFee = 10000

	// DefaultBlockPrioritySize is the block space reserved for free
	// high-priority transactions.
	DefaultBlockPrioritySize = 50000

	// spendInputSize is the size of a typical input spending a
	// pay-to-pubkey-hash output, used by the dust rule.
	spendInputSize = 148
)

// Policy holds the relay rules applied on top of consensus.
type Policy struct {
	MinRelayTxFee     int64
	BlockPrioritySize int
}

func NewPolicy(tSettings *settings.Settings) *Policy {
	p := &Policy{
		MinRelayTxFee:     DefaultMinRelayTxFee,
		BlockPrioritySize: DefaultBlockPrioritySize,
	}

	if tSettings != nil {
		if tSettings.Mempool.MinRelayTxFee > 0 {
			p.MinRelayTxFee = tSettings.Mempool.MinRelayTxFee
		}

		if tSettings.Block.BlockPrioritySize > 0 {
			p.BlockPrioritySize = tSettings.Block.BlockPrioritySize
		}
	}

	return p
}

func nonStandard(reason string, params ...interface{}) error {
	return errors.NewRejectError(errors.ERR_TX_POLICY, errors.RejectNonstandard, 0, reason, params...)
}

// FeeForSize is the relay fee rate applied to size bytes.
func (p *Policy) FeeForSize(size int) int64 {
	fee := p.MinRelayTxFee * int64(size) / 1000
	if fee == 0 && p.MinRelayTxFee > 0 {
		fee = p.MinRelayTxFee
	}

	return fee
}

// MinRelayFee is the fee a transaction of size bytes must pay to be relayed.
// Small transactions may go free when allowFree is set.
func (p *Policy) MinRelayFee(size int, allowFree bool) int64 {
	if allowFree && size < p.BlockPrioritySize-1000 {
		return 0
	}

	fee := p.FeeForSize(size)
	if !model.MoneyRange(fee) {
		fee = model.MaxMoney
	}

	return fee
}

// AllowFree reports whether a priority qualifies for free relay: one coin
// a day old per 250 bytes.
func AllowFree(priority float64) bool {
	return priority > float64(model.COIN)*1440/250
}

// IsDust reports whether spending out would cost more than a third of its
// value at the relay fee.
func (p *Policy) IsDust(out *model.TxOut) bool {
	if txscript.IsUnspendable(out.PkScript) {
		return false
	}

	size := out.SerializeSize() + spendInputSize

	return out.Value < 3*p.FeeForSize(size)
}

// IsStandardTx applies the relay rules that need no inputs.
func (p *Policy) IsStandardTx(tx *model.Tx) error {
	if tx.Version > MaxStandardTxVersion || tx.Version < 1 {
		return nonStandard("version")
	}

	maxSize := MaxStandardTxSize
	if tx.ContainsZerocoins() {
		maxSize = MaxZerocoinTxSize
	}

	if tx.SerializeSize() >= maxSize {
		return nonStandard("tx-size")
	}

	for _, in := range tx.TxIn {
		if in.IsZerocoinSpend() {
			continue
		}

		if len(in.SignatureScript) > MaxStandardSigScriptSize {
			return nonStandard("scriptsig-size")
		}

		if !txscript.IsPushOnlyScript(in.SignatureScript) {
			return nonStandard("scriptsig-not-pushonly")
		}
	}

	nullData := 0

	for _, out := range tx.TxOut {
		switch class := txscript.GetScriptClass(out.PkScript); class {
		case txscript.NonStandardTy:
			return nonStandard("scriptpubkey")
		case txscript.NullDataTy:
			nullData++
		case txscript.MultiSigTy:
			n, keys, err := txscript.ExtractMultiSig(out.PkScript)
			if err != nil || n < 1 || len(keys) > 3 {
				return nonStandard("bare-multisig")
			}
		}

		if !out.IsZerocoinMint() && p.IsDust(out) {
			return errors.NewRejectError(errors.ERR_TX_POLICY, errors.RejectDust, 0, "dust")
		}
	}

	if nullData > 1 {
		return nonStandard("multi-op-return")
	}

	return nil
}

// AreInputsStandard checks that every spent output has a standard template
// and that the signature script pushes exactly what the template expects.
func (p *Policy) AreInputsStandard(tx *model.Tx, view *utxo.Cache) error {
	if tx.IsCoinBase() || tx.IsZerocoinSpend() {
		return nil
	}

	for i, in := range tx.TxIn {
		prev, err := view.GetOutput(in.PreviousOutPoint)
		if err != nil {
			return err
		}

		if prev == nil {
			return errors.NewTxMissingParentError("input %d missing", i, utxo.ErrMissingInputs)
		}

		class := txscript.GetScriptClass(prev.PkScript)
		if class == txscript.NonStandardTy || class == txscript.NullDataTy || class == txscript.ZerocoinMintTy {
			return nonStandard("bad-txns-nonstandard-inputs input %d spends %s", i, class)
		}

		info, err := txscript.CalcScriptInfo(in.SignatureScript, prev.PkScript, true)
		if err != nil {
			return nonStandard("bad-txns-nonstandard-inputs input %d: %s", i, err.Error())
		}

		if info.ExpectedInputs < 0 || info.NumInputs != info.ExpectedInputs {
			return nonStandard("bad-txns-nonstandard-inputs input %d pushes %d items, expected %d", i, info.NumInputs, info.ExpectedInputs)
		}

		if class == txscript.ScriptHashTy && info.SigOps > MaxP2SHSigOps {
			return nonStandard("bad-txns-nonstandard-inputs input %d redeem script has %d sigops", i, info.SigOps)
		}
	}

	return nil
}
