/*
Package validator implements transaction validation: the context-free
consensus checks, the input checks against a coins view, the script check
queue used when connecting blocks, and the relay policy applied by the
mempool.
*/
package validator

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/stores/utxo"
	"github.com/tessacoin/tessanode/ulogger"
)

const (
	minCoinbaseScriptLen = 2
	maxCoinbaseScriptLen = 150
)

// TxValidator applies the consensus transaction rules of one network.
type TxValidator struct {
	logger ulogger.Logger
	params *chaincfg.Params
}

func NewTxValidator(logger ulogger.Logger, params *chaincfg.Params) *TxValidator {
	initPrometheusMetrics()

	return &TxValidator{
		logger: logger,
		params: params,
	}
}

func (tv *TxValidator) Params() *chaincfg.Params {
	return tv.params
}

func invalid(banScore int, reason string, params ...interface{}) error {
	return errors.NewRejectError(errors.ERR_TX_INVALID, errors.RejectInvalid, banScore, reason, params...)
}

// CheckTransaction applies the checks that need no chain context.
func (tv *TxValidator) CheckTransaction(tx *model.Tx) error {
	if len(tx.TxIn) == 0 {
		return invalid(10, "bad-txns-vin-empty")
	}

	if len(tx.TxOut) == 0 {
		return invalid(10, "bad-txns-vout-empty")
	}

	if tx.SerializeSize() > tv.params.MaxBlockSize {
		return invalid(100, "bad-txns-oversize")
	}

	isCoinBase := tx.IsCoinBase()
	isCoinStake := tx.IsCoinStake()

	var valueOut int64

	for i, out := range tx.TxOut {
		if out.IsEmpty() && !isCoinBase && !isCoinStake {
			return invalid(100, "bad-txns-vout-empty")
		}

		if out.Value < 0 {
			return invalid(100, "bad-txns-vout-negative")
		}

		if out.Value > model.MaxMoney {
			return invalid(100, "bad-txns-vout-toolarge")
		}

		var ok bool
		if valueOut, ok = model.AddMoney(valueOut, out.Value); !ok {
			return invalid(100, "bad-txns-txouttotal-toolarge")
		}

		if out.IsZerocoinMint() {
			if _, err := libzerocoin.AmountToDenomination(out.Value); err != nil {
				return errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectInvalid, 100, "bad-txns-zerocoin-mint-denom output %d", i, err)
			}
		}
	}

	if tx.IsZerocoinSpend() {
		if err := tv.checkZerocoinSpendInputs(tx); err != nil {
			return err
		}
	} else {
		seen := make(map[model.OutPoint]struct{}, len(tx.TxIn))

		for _, in := range tx.TxIn {
			if in.IsZerocoinSpend() {
				return invalid(100, "bad-txns-zerocoin-mixed-inputs")
			}

			if _, dup := seen[in.PreviousOutPoint]; dup {
				return invalid(100, "bad-txns-inputs-duplicate")
			}

			seen[in.PreviousOutPoint] = struct{}{}
		}
	}

	if isCoinBase {
		if l := len(tx.TxIn[0].SignatureScript); l < minCoinbaseScriptLen || l > maxCoinbaseScriptLen {
			return invalid(100, "bad-cb-length")
		}

		return nil
	}

	for _, in := range tx.TxIn {
		if in.PreviousOutPoint.IsNull() && !in.IsZerocoinSpend() {
			return invalid(10, "bad-txns-prevout-null")
		}
	}

	return nil
}

// checkZerocoinSpendInputs requires every input of a spend transaction to
// be a zerocoin spend whose sequence names a denomination.
func (tv *TxValidator) checkZerocoinSpendInputs(tx *model.Tx) error {
	if len(tx.TxIn) > tv.params.Zerocoin.MaxSpendsPerTx {
		return errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectInvalid, 100, "bad-txns-zerocoin-too-many-spends")
	}

	for i, in := range tx.TxIn {
		if !in.IsZerocoinSpend() {
			return invalid(100, "bad-txns-zerocoin-mixed-inputs")
		}

		if !libzerocoin.Denomination(in.Sequence).IsValid() {
			return errors.NewRejectError(errors.ERR_ZEROCOIN_INVALID, errors.RejectInvalid, 100, "bad-txns-zerocoin-spend-denom input %d", i)
		}
	}

	return nil
}

// ZerocoinSpendValue sums the denominations of the spend inputs of tx.
func ZerocoinSpendValue(tx *model.Tx) int64 {
	var total int64

	for _, in := range tx.TxIn {
		if in.IsZerocoinSpend() {
			total += libzerocoin.Denomination(in.Sequence).Amount()
		}
	}

	return total
}

// ScriptCheck verifies one input script. Checks are queued while a block is
// connected and run on the check queue workers.
type ScriptCheck struct {
	PkScript []byte
	Tx       *model.Tx
	TxHash   chainhash.Hash
	Idx      int
	Flags    txscript.ScriptFlags
}

// Verify runs the script. A failure under relay flags that passes under the
// mandatory flags is reported as non-standard without a ban score.
func (c *ScriptCheck) Verify() error {
	err := txscript.VerifyScript(c.PkScript, c.Tx, c.Idx, c.Flags)
	if err == nil {
		return nil
	}

	if c.Flags != txscript.MandatoryVerifyFlags {
		if txscript.VerifyScript(c.PkScript, c.Tx, c.Idx, txscript.MandatoryVerifyFlags) == nil {
			return errors.NewRejectError(errors.ERR_SCRIPT_ERROR, errors.RejectNonstandard, 0,
				"non-mandatory-script-verify-flag (%s) input %d of %s", err.Error(), c.Idx, c.TxHash.String())
		}
	}

	return errors.NewRejectError(errors.ERR_SCRIPT_ERROR, errors.RejectInvalid, 100,
		"mandatory-script-verify-flag-failed (%s) input %d of %s", err.Error(), c.Idx, c.TxHash.String())
}

// CheckInputs validates the inputs of tx against view at spendHeight:
// availability, maturity, amounts and fee. It returns the fee and, unless
// scripts are skipped, one ScriptCheck per transparent input. Zerocoin
// spend proofs are verified by the zerocoin tracker.
func (tv *TxValidator) CheckInputs(tx *model.Tx, view *utxo.Cache, spendHeight int32, flags txscript.ScriptFlags, opts ...Option) (int64, []ScriptCheck, error) {
	options := ProcessOptions(opts...)

	if tx.IsCoinBase() {
		return 0, nil, nil
	}

	txHash := tx.TxHash()

	if tx.IsZerocoinSpend() {
		valueIn := ZerocoinSpendValue(tx)

		valueOut, err := tx.ValueOut()
		if err != nil {
			return 0, nil, invalid(100, "bad-txns-txouttotal-toolarge")
		}

		if valueIn < valueOut {
			return 0, nil, invalid(100, "bad-txns-zerocoin-in-belowout (%s < %s)", model.FormatMoney(valueIn), model.FormatMoney(valueOut))
		}

		return valueIn - valueOut, nil, nil
	}

	var (
		valueIn int64
		checks  []ScriptCheck
	)

	if !options.skipScripts {
		checks = make([]ScriptCheck, 0, len(tx.TxIn))
	}

	for i, in := range tx.TxIn {
		coins, err := view.AccessCoins(in.PreviousOutPoint.Hash)
		if err != nil {
			return 0, nil, err
		}

		if coins == nil || !coins.IsAvailable(in.PreviousOutPoint.Index) {
			return 0, nil, errors.NewTxMissingParentError("input %d of %s spends missing or spent output %s", i, txHash, in.PreviousOutPoint, utxo.ErrMissingInputs)
		}

		if !coins.IsMature(spendHeight, tv.params.CoinbaseMaturity) {
			kind := "coinbase"
			if coins.CoinStake {
				kind = "coinstake"
			}

			return 0, nil, errors.NewRejectError(errors.ERR_TX_INVALID, errors.RejectInvalid, 0,
				"bad-txns-premature-spend-of-%s at depth %d", kind, spendHeight-coins.Height)
		}

		out, _ := coins.Output(in.PreviousOutPoint.Index)

		if !model.MoneyRange(out.Value) {
			return 0, nil, invalid(100, "bad-txns-inputvalues-outofrange")
		}

		var ok bool
		if valueIn, ok = model.AddMoney(valueIn, out.Value); !ok {
			return 0, nil, invalid(100, "bad-txns-inputvalues-outofrange")
		}

		if !options.skipScripts {
			checks = append(checks, ScriptCheck{
				PkScript: out.PkScript,
				Tx:       tx,
				TxHash:   txHash,
				Idx:      i,
				Flags:    flags,
			})
		}
	}

	if tx.IsCoinStake() {
		return 0, checks, nil
	}

	valueOut, err := tx.ValueOut()
	if err != nil {
		return 0, nil, invalid(100, "bad-txns-txouttotal-toolarge")
	}

	if valueIn < valueOut {
		return 0, nil, invalid(100, "bad-txns-in-belowout (%s < %s)", model.FormatMoney(valueIn), model.FormatMoney(valueOut))
	}

	return valueIn - valueOut, checks, nil
}

// RunScriptChecks verifies checks in order on the calling goroutine.
func RunScriptChecks(checks []ScriptCheck) error {
	initPrometheusMetrics()

	for i := range checks {
		if err := checks[i].Verify(); err != nil {
			prometheusInvalidScripts.Inc()
			return err
		}
	}

	return nil
}
