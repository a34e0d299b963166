package validator

import (
	"testing"

	"github.com/libsv/go-bk/bec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/stores/utxo"
)

func TestRelayFees(t *testing.T) {
	p := NewPolicy(nil)

	assert.Equal(t, int64(DefaultMinRelayTxFee), p.FeeForSize(1000))
	assert.Equal(t, int64(DefaultMinRelayTxFee*250/1000), p.FeeForSize(250))
	assert.Equal(t, int64(0), p.MinRelayFee(250, true))
	assert.Equal(t, p.FeeForSize(250), p.MinRelayFee(250, false))
	assert.Equal(t, p.FeeForSize(DefaultBlockPrioritySize), p.MinRelayFee(DefaultBlockPrioritySize, true))

	assert.True(t, AllowFree(float64(model.COIN)*1440/250+1))
	assert.False(t, AllowFree(1))
}

func TestIsDust(t *testing.T) {
	p := NewPolicy(nil)
	script, err := txscript.PayToPubKeyHashScript(make([]byte, 20))
	require.NoError(t, err)

	threshold := 3 * p.FeeForSize(model.NewTxOut(0, script).SerializeSize()+spendInputSize)

	assert.True(t, p.IsDust(model.NewTxOut(threshold-1, script)))
	assert.False(t, p.IsDust(model.NewTxOut(threshold, script)))

	nullData, err := txscript.NullDataScript([]byte("x"))
	require.NoError(t, err)
	assert.False(t, p.IsDust(model.NewTxOut(0, nullData)))
}

func TestIsStandardTx(t *testing.T) {
	p := NewPolicy(nil)

	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	pkScript := p2pkhScript(t, key)
	nullData, err := txscript.NullDataScript([]byte("memo"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		tx     func() *model.Tx
		reason string
	}{
		{"standard", func() *model.Tx { return fundingTx(model.COIN, pkScript) }, ""},
		{"version", func() *model.Tx {
			tx := fundingTx(model.COIN, pkScript)
			tx.Version = 2

			return tx
		}, "version"},
		{"nonstandard output", func() *model.Tx { return fundingTx(model.COIN, []byte{txscript.OP_1, txscript.OP_ADD}) }, "scriptpubkey"},
		{"dust", func() *model.Tx { return fundingTx(1, pkScript) }, "dust"},
		{"not push only", func() *model.Tx {
			tx := fundingTx(model.COIN, pkScript)
			tx.TxIn[0].SignatureScript = []byte{txscript.OP_1, txscript.OP_DUP}

			return tx
		}, "scriptsig-not-pushonly"},
		{"two op returns", func() *model.Tx {
			tx := fundingTx(model.COIN, pkScript)
			tx.AddTxOut(model.NewTxOut(0, nullData))
			tx.AddTxOut(model.NewTxOut(0, nullData))

			return tx
		}, "multi-op-return"},
		{"zerocoin mint", func() *model.Tx { return fundingTx(model.COIN, model.NewZerocoinMintScript([]byte{0x01})) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.IsStandardTx(tt.tx())
			if tt.reason == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.reason, rejectReason(t, err))
		})
	}
}

func TestAreInputsStandard(t *testing.T) {
	p := NewPolicy(nil)

	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	pkScript := p2pkhScript(t, key)
	funding := fundingTx(10*model.COIN, pkScript)

	view := newTestView()
	require.NoError(t, utxo.AddCoins(view, funding, 1))

	tx := spendingTx(funding, 9*model.COIN, pkScript)
	signInput(t, tx, 0, pkScript, key)
	require.NoError(t, p.AreInputsStandard(tx, view))

	// An extra push is consensus valid but not relayed.
	padded := tx.Copy()
	padded.TxIn[0].SignatureScript = append([]byte{txscript.OP_0}, tx.TxIn[0].SignatureScript...)
	require.Error(t, p.AreInputsStandard(padded, view))
}
