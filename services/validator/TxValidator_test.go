package validator

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/stores/utxo"
	"github.com/tessacoin/tessanode/ulogger"
)

func newTestValidator() *TxValidator {
	return NewTxValidator(ulogger.TestLogger{}, &chaincfg.RegressionNetParams)
}

func newTestView() *utxo.Cache {
	return utxo.NewCache(utxo.NewDB(ulogger.TestLogger{}, kvstore.NewMemory(ulogger.TestLogger{}, "chainstate")))
}

func p2pkhScript(t *testing.T, key *bec.PrivateKey) []byte {
	t.Helper()

	script, err := txscript.NewKeyDestination(key.PubKey().SerialiseCompressed()).Script()
	require.NoError(t, err)

	return script
}

// fundingTx pays value to pkScript from a fake previous output.
func fundingTx(value int64, pkScript []byte) *model.Tx {
	prev := chainhash.DoubleHashH([]byte("prev"))

	tx := model.NewTx(model.TxVersion)
	tx.AddTxIn(model.NewTxIn(model.NewOutPoint(&prev, 0), []byte{txscript.OP_1}))
	tx.AddTxOut(model.NewTxOut(value, pkScript))

	return tx
}

func spendingTx(prev *model.Tx, value int64, pkScript []byte) *model.Tx {
	h := prev.TxHash()

	tx := model.NewTx(model.TxVersion)
	tx.AddTxIn(model.NewTxIn(model.NewOutPoint(&h, 0), nil))
	tx.AddTxOut(model.NewTxOut(value, pkScript))

	return tx
}

func signInput(t *testing.T, tx *model.Tx, idx int, pkScript []byte, key *bec.PrivateKey) {
	t.Helper()

	sigScript, err := txscript.SignatureScript(tx, idx, pkScript, txscript.SigHashAll, key, true)
	require.NoError(t, err)

	tx.TxIn[idx].SignatureScript = sigScript
}

func rejectReason(t *testing.T, err error) string {
	t.Helper()

	data, ok := errors.RejectDataOf(err)
	require.True(t, ok, "no reject data in %v", err)

	return data.Reason
}

func TestCheckTransaction(t *testing.T) {
	tv := newTestValidator()
	script := []byte{txscript.OP_TRUE}

	coinbase := func(sigScript []byte) *model.Tx {
		tx := model.NewTx(model.TxVersion)
		tx.AddTxIn(model.NewTxIn(&model.OutPoint{Index: 0xffffffff}, sigScript))
		tx.AddTxOut(model.NewTxOut(50*model.COIN, script))

		return tx
	}

	zcSpend := func(n int, denom libzerocoin.Denomination) *model.Tx {
		tx := model.NewTx(model.TxVersion)

		for i := 0; i < n; i++ {
			in := model.NewTxIn(&model.OutPoint{Index: 0xffffffff}, model.NewZerocoinSpendScript([]byte{byte(i)}))
			in.Sequence = uint32(denom)
			tx.AddTxIn(in)
		}

		tx.AddTxOut(model.NewTxOut(denom.Amount(), script))

		return tx
	}

	tests := []struct {
		name   string
		tx     func() *model.Tx
		reason string
	}{
		{"valid", func() *model.Tx { return fundingTx(model.COIN, script) }, ""},
		{"valid coinbase", func() *model.Tx { return coinbase([]byte{0x01, 0x02}) }, ""},
		{"no inputs", func() *model.Tx {
			tx := fundingTx(model.COIN, script)
			tx.TxIn = nil

			return tx
		}, "bad-txns-vin-empty"},
		{"no outputs", func() *model.Tx {
			tx := fundingTx(model.COIN, script)
			tx.TxOut = nil

			return tx
		}, "bad-txns-vout-empty"},
		{"negative output", func() *model.Tx { return fundingTx(-1, script) }, "bad-txns-vout-negative"},
		{"output too large", func() *model.Tx { return fundingTx(model.MaxMoney+1, script) }, "bad-txns-vout-toolarge"},
		{"total too large", func() *model.Tx {
			tx := fundingTx(model.MaxMoney, script)
			tx.AddTxOut(model.NewTxOut(1, script))

			return tx
		}, "bad-txns-txouttotal-toolarge"},
		{"empty output outside coinstake", func() *model.Tx {
			tx := fundingTx(model.COIN, script)
			tx.AddTxOut(model.NewTxOut(0, nil))

			return tx
		}, "bad-txns-vout-empty"},
		{"duplicate inputs", func() *model.Tx {
			tx := fundingTx(model.COIN, script)
			tx.AddTxIn(model.NewTxIn(&tx.TxIn[0].PreviousOutPoint, nil))

			return tx
		}, "bad-txns-inputs-duplicate"},
		{"coinbase script too short", func() *model.Tx { return coinbase([]byte{0x01}) }, "bad-cb-length"},
		{"coinbase script too long", func() *model.Tx { return coinbase(make([]byte, 151)) }, "bad-cb-length"},
		{"null prevout", func() *model.Tx {
			tx := fundingTx(model.COIN, script)
			tx.AddTxIn(model.NewTxIn(&model.OutPoint{Index: 0xffffffff}, nil))

			return tx
		}, "bad-txns-prevout-null"},
		{"mint of no denomination", func() *model.Tx {
			return fundingTx(3*model.COIN, model.NewZerocoinMintScript([]byte{0x05}))
		}, "bad-txns-zerocoin-mint-denom output 0"},
		{"valid zerocoin spend", func() *model.Tx { return zcSpend(2, libzerocoin.DenomTen) }, ""},
		{"spend of no denomination", func() *model.Tx { return zcSpend(1, libzerocoin.Denomination(3)) }, "bad-txns-zerocoin-spend-denom input 0"},
		{"too many spends", func() *model.Tx {
			return zcSpend(chaincfg.RegressionNetParams.Zerocoin.MaxSpendsPerTx+1, libzerocoin.DenomOne)
		}, "bad-txns-zerocoin-too-many-spends"},
		{"mixed spend inputs", func() *model.Tx {
			tx := zcSpend(1, libzerocoin.DenomOne)
			tx.AddTxIn(fundingTx(1, script).TxIn[0])

			return tx
		}, "bad-txns-zerocoin-mixed-inputs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tv.CheckTransaction(tt.tx())
			if tt.reason == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.reason, rejectReason(t, err))
		})
	}
}

func TestCheckInputs(t *testing.T) {
	tv := newTestValidator()

	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	pkScript := p2pkhScript(t, key)

	funding := fundingTx(10*model.COIN, pkScript)
	view := newTestView()
	require.NoError(t, utxo.AddCoins(view, funding, 1))

	t.Run("fee and script checks", func(t *testing.T) {
		tx := spendingTx(funding, 9*model.COIN, pkScript)
		signInput(t, tx, 0, pkScript, key)

		fee, checks, err := tv.CheckInputs(tx, view, 2, txscript.StandardVerifyFlags)
		require.NoError(t, err)
		assert.Equal(t, model.COIN, fee)
		require.Len(t, checks, 1)
		require.NoError(t, RunScriptChecks(checks))

		_, checks, err = tv.CheckInputs(tx, view, 2, txscript.StandardVerifyFlags, WithSkipScripts(true))
		require.NoError(t, err)
		assert.Empty(t, checks)
	})

	t.Run("bad signature", func(t *testing.T) {
		tx := spendingTx(funding, 9*model.COIN, pkScript)
		signInput(t, tx, 0, pkScript, key)
		tx.TxOut[0].Value--

		_, checks, err := tv.CheckInputs(tx, view, 2, txscript.StandardVerifyFlags)
		require.NoError(t, err)

		err = RunScriptChecks(checks)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrScriptError))

		data, ok := errors.RejectDataOf(err)
		require.True(t, ok)
		assert.Equal(t, 100, data.BanScore)
	})

	t.Run("spends more than inputs", func(t *testing.T) {
		tx := spendingTx(funding, 11*model.COIN, pkScript)

		_, _, err := tv.CheckInputs(tx, view, 2, txscript.StandardVerifyFlags)
		require.Error(t, err)
		assert.Contains(t, rejectReason(t, err), "bad-txns-in-belowout")
	})

	t.Run("missing input", func(t *testing.T) {
		tx := spendingTx(fundingTx(1, pkScript), 1, pkScript)

		_, _, err := tv.CheckInputs(tx, view, 2, txscript.StandardVerifyFlags)
		require.Error(t, err)
		assert.True(t, errors.Is(err, utxo.ErrMissingInputs))
	})

	t.Run("immature coinbase", func(t *testing.T) {
		cb := model.NewTx(model.TxVersion)
		cb.AddTxIn(model.NewTxIn(&model.OutPoint{Index: 0xffffffff}, []byte{0x01, 0x02}))
		cb.AddTxOut(model.NewTxOut(50*model.COIN, pkScript))
		require.NoError(t, utxo.AddCoins(view, cb, 10))

		tx := spendingTx(cb, model.COIN, pkScript)
		maturity := chaincfg.RegressionNetParams.CoinbaseMaturity

		_, _, err := tv.CheckInputs(tx, view, 10+maturity-1, txscript.StandardVerifyFlags)
		require.Error(t, err)
		assert.Contains(t, rejectReason(t, err), "bad-txns-premature-spend-of-coinbase")

		_, _, err = tv.CheckInputs(tx, view, 10+maturity, txscript.StandardVerifyFlags)
		require.NoError(t, err)
	})

	t.Run("zerocoin spend fee", func(t *testing.T) {
		tx := model.NewTx(model.TxVersion)
		in := model.NewTxIn(&model.OutPoint{Index: 0xffffffff}, model.NewZerocoinSpendScript([]byte{0x01}))
		in.Sequence = uint32(libzerocoin.DenomFive)
		tx.AddTxIn(in)
		tx.AddTxOut(model.NewTxOut(5*model.COIN-model.CENT, pkScript))

		fee, checks, err := tv.CheckInputs(tx, view, 2, txscript.StandardVerifyFlags)
		require.NoError(t, err)
		assert.Equal(t, model.CENT, fee)
		assert.Empty(t, checks)
	})
}

func TestCheckQueue(t *testing.T) {
	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	pkScript := p2pkhScript(t, key)
	funding := fundingTx(10*model.COIN, pkScript)

	good := spendingTx(funding, model.COIN, pkScript)
	signInput(t, good, 0, pkScript, key)

	bad := spendingTx(funding, model.COIN, pkScript)
	signInput(t, bad, 0, pkScript, key)
	bad.TxOut[0].Value++

	check := func(tx *model.Tx) ScriptCheck {
		return ScriptCheck{PkScript: pkScript, Tx: tx, TxHash: tx.TxHash(), Flags: txscript.StandardVerifyFlags}
	}

	for _, workers := range []int{1, 4} {
		q := NewCheckQueue(workers)

		control := q.Begin(context.Background())
		for i := 0; i < 16; i++ {
			control.Add([]ScriptCheck{check(good)})
		}
		require.NoError(t, control.Wait())

		control = q.Begin(context.Background())
		control.Add([]ScriptCheck{check(good), check(bad), check(good)})
		require.Error(t, control.Wait(), "workers=%d", workers)

		// A panicking check fails the batch without taking the process down.
		control = q.Begin(context.Background())
		control.Add([]ScriptCheck{{PkScript: pkScript}})
		err := control.Wait()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrProcessing))

		// An interrupted batch must fail even though nothing ran.
		ctx, cancel := context.WithCancel(context.Background())
		control = q.Begin(ctx)
		cancel()

		failing := ScriptCheck{PkScript: []byte{txscript.OP_FALSE}, Tx: good, TxHash: good.TxHash(), Flags: txscript.StandardVerifyFlags}
		control.Add([]ScriptCheck{failing, failing, failing})

		err = control.Wait()
		require.Error(t, err, "workers=%d", workers)
		assert.Equal(t, errors.ERR_CONTEXT_CANCELED, errors.CodeOf(err), "workers=%d", workers)
		assert.False(t, errors.IsInvalid(err), "workers=%d", workers)

		_, isReject := errors.RejectDataOf(err)
		assert.False(t, isReject, "workers=%d", workers)

		// The queue is usable again after an interrupted batch.
		control = q.Begin(context.Background())
		control.Add([]ScriptCheck{check(good)})
		require.NoError(t, control.Wait())
	}
}
