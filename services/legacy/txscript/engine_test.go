package txscript

import (
	"math/big"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/model"
)

// spendingTx returns a one-input, one-output transaction spending a fake
// previous output.
func spendingTx(sigScript []byte) *model.Tx {
	prev := chainhash.DoubleHashH([]byte("funding"))

	tx := model.NewTx(1)
	tx.AddTxIn(model.NewTxIn(model.NewOutPoint(&prev, 0), sigScript))
	tx.AddTxOut(model.NewTxOut(5000, []byte{OP_TRUE}))

	return tx
}

func mustScript(t *testing.T, b *ScriptBuilder) []byte {
	t.Helper()

	script, err := b.Script()
	require.NoError(t, err)

	return script
}

func TestScriptEvaluation(t *testing.T) {
	tests := []struct {
		name      string
		sigScript []byte
		pkScript  []byte
		flags     ScriptFlags
		code      ErrorCode
		ok        bool
	}{
		{
			name:      "arithmetic",
			sigScript: []byte{OP_1},
			pkScript:  []byte{OP_1, OP_ADD, OP_2, OP_EQUAL},
			ok:        true,
		},
		{
			name:      "false result",
			sigScript: []byte{OP_1},
			pkScript:  []byte{OP_2, OP_EQUAL},
			code:      ErrEvalFalse,
		},
		{
			name:     "empty scripts",
			code:     ErrEvalFalse,
			pkScript: nil,
		},
		{
			name:     "disabled opcode in unexecuted branch",
			pkScript: []byte{OP_0, OP_IF, OP_CAT, OP_ENDIF, OP_1},
			code:     ErrDisabledOpcode,
		},
		{
			name:     "reserved opcode in unexecuted branch",
			pkScript: []byte{OP_0, OP_IF, OP_RESERVED, OP_ENDIF, OP_1},
			ok:       true,
		},
		{
			name:     "verif in unexecuted branch",
			pkScript: []byte{OP_0, OP_IF, OP_VERIF, OP_ENDIF, OP_1},
			code:     ErrReservedOpcode,
		},
		{
			name:     "unbalanced conditional",
			pkScript: []byte{OP_1, OP_IF, OP_1},
			code:     ErrUnbalancedConditional,
		},
		{
			name:     "else without if",
			pkScript: []byte{OP_1, OP_ELSE},
			code:     ErrUnbalancedConditional,
		},
		{
			name:     "if else branch",
			pkScript: []byte{OP_0, OP_IF, OP_0, OP_ELSE, OP_1, OP_ENDIF},
			ok:       true,
		},
		{
			name:     "early return",
			pkScript: []byte{OP_1, OP_RETURN},
			code:     ErrEarlyReturn,
		},
		{
			name:      "non minimal push allowed",
			sigScript: []byte{OP_DATA_1, 0x01},
			pkScript:  []byte{OP_1, OP_EQUAL},
			ok:        true,
		},
		{
			name:      "non minimal push rejected",
			sigScript: []byte{OP_DATA_1, 0x01},
			pkScript:  []byte{OP_1, OP_EQUAL},
			flags:     ScriptVerifyMinimalData,
			code:      ErrMinimalData,
		},
		{
			name:     "upgradable nop allowed",
			pkScript: []byte{OP_NOP3, OP_1},
			ok:       true,
		},
		{
			name:     "upgradable nop discouraged",
			pkScript: []byte{OP_NOP3, OP_1},
			flags:    ScriptDiscourageUpgradableNops,
			code:     ErrDiscourageUpgradableNOPs,
		},
		{
			name:      "signature script not push only",
			sigScript: []byte{OP_1, OP_DUP},
			pkScript:  []byte{OP_EQUAL},
			flags:     ScriptVerifySigPushOnly,
			code:      ErrNotPushOnly,
		},
		{
			name:      "unclean stack",
			sigScript: []byte{OP_1, OP_1},
			pkScript:  []byte{OP_1},
			flags:     ScriptBip16 | ScriptVerifyCleanStack,
			code:      ErrCleanStack,
		},
		{
			name:     "clean stack requires bip16",
			pkScript: []byte{OP_1},
			flags:    ScriptVerifyCleanStack,
			code:     ErrInvalidFlags,
		},
		{
			name:     "zerocoin mint opcode",
			pkScript: []byte{OP_ZEROCOINMINT},
			code:     ErrReservedOpcode,
		},
		{
			name:     "stack underflow",
			pkScript: []byte{OP_DROP},
			code:     ErrInvalidStackOperation,
		},
		{
			name:     "within",
			pkScript: []byte{OP_2, OP_1, OP_3, OP_WITHIN},
			ok:       true,
		},
		{
			name:     "altstack round trip",
			pkScript: []byte{OP_1, OP_TOALTSTACK, OP_FROMALTSTACK},
			ok:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyScript(tt.pkScript, spendingTx(tt.sigScript), 0, tt.flags)
			if tt.ok {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, IsErrorCode(err, tt.code), "got %v", err)
		})
	}
}

func TestInvalidIndex(t *testing.T) {
	_, err := NewEngine([]byte{OP_1}, spendingTx(nil), 1, 0)
	require.True(t, IsErrorCode(err, ErrInvalidIndex))
}

func TestOpCountLimit(t *testing.T) {
	pkScript := []byte{OP_1}
	for i := 0; i <= MaxOpsPerScript; i++ {
		pkScript = append(pkScript, OP_NOP)
	}

	err := VerifyScript(pkScript, spendingTx(nil), 0, 0)
	require.True(t, IsErrorCode(err, ErrTooManyOperations))
}

func TestPayToPubKeyHash(t *testing.T) {
	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	dest := NewKeyDestination(key.PubKey().SerialiseCompressed())

	pkScript, err := dest.Script()
	require.NoError(t, err)
	assert.Equal(t, PubKeyHashTy, GetScriptClass(pkScript))

	kdb := KeyClosure(func(h [20]byte) (*bec.PrivateKey, bool, error) {
		require.Equal(t, dest.Hash, h)
		return key, true, nil
	})

	tx := spendingTx(nil)

	sigScript, err := SignTxOutput(tx, 0, pkScript, SigHashAll, kdb, nil)
	require.NoError(t, err)

	tx.TxIn[0].SignatureScript = sigScript
	require.NoError(t, VerifyScript(pkScript, tx, 0, StandardVerifyFlags))

	t.Run("tampered output", func(t *testing.T) {
		tampered := tx.Copy()
		tampered.TxOut[0].Value++

		err := VerifyScript(pkScript, tampered, 0, StandardVerifyFlags)
		assert.True(t, IsErrorCode(err, ErrEvalFalse), "got %v", err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := bec.NewPrivateKey(bec.S256())
		require.NoError(t, err)

		sigScript, err := SignatureScript(tx, 0, pkScript, SigHashAll, other, true)
		require.NoError(t, err)

		forged := tx.Copy()
		forged.TxIn[0].SignatureScript = sigScript

		err = VerifyScript(pkScript, forged, 0, StandardVerifyFlags)
		assert.True(t, IsErrorCode(err, ErrEqualVerify), "got %v", err)
	})
}

func TestPayToPubKeyAnyoneCanPay(t *testing.T) {
	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	pkScript, err := PayToPubKeyScript(key.PubKey().SerialiseUncompressed())
	require.NoError(t, err)

	tx := spendingTx(nil)
	kdb := KeyClosure(func([20]byte) (*bec.PrivateKey, bool, error) { return key, false, nil })

	sigScript, err := SignTxOutput(tx, 0, pkScript, SigHashAll|SigHashAnyOneCanPay, kdb, nil)
	require.NoError(t, err)

	tx.TxIn[0].SignatureScript = sigScript

	// Other inputs do not take part in the hash.
	prev := chainhash.DoubleHashH([]byte("other"))
	tx.AddTxIn(model.NewTxIn(model.NewOutPoint(&prev, 3), nil))

	require.NoError(t, VerifyScript(pkScript, tx, 0, StandardVerifyFlags))
}

func TestPayToScriptHashMultiSig(t *testing.T) {
	keys := make(map[[20]byte]*bec.PrivateKey)
	pubKeys := make([][]byte, 0, 3)

	for i := 0; i < 3; i++ {
		key, err := bec.NewPrivateKey(bec.S256())
		require.NoError(t, err)

		pub := key.PubKey().SerialiseCompressed()
		pubKeys = append(pubKeys, pub)

		if i != 1 {
			keys[NewKeyDestination(pub).Hash] = key
		}
	}

	redeemScript, err := MultiSigScript(pubKeys, 2)
	require.NoError(t, err)
	assert.Equal(t, MultiSigTy, GetScriptClass(redeemScript))

	dest := NewScriptDestination(redeemScript)
	pkScript, err := dest.Script()
	require.NoError(t, err)
	assert.Equal(t, ScriptHashTy, GetScriptClass(pkScript))

	kdb := KeyClosure(func(h [20]byte) (*bec.PrivateKey, bool, error) {
		return keys[h], true, nil
	})
	sdb := ScriptClosure(func(h [20]byte) ([]byte, error) {
		require.Equal(t, dest.Hash, h)
		return redeemScript, nil
	})

	tx := spendingTx(nil)

	sigScript, err := SignTxOutput(tx, 0, pkScript, SigHashAll, kdb, sdb)
	require.NoError(t, err)

	tx.TxIn[0].SignatureScript = sigScript
	require.NoError(t, VerifyScript(pkScript, tx, 0, StandardVerifyFlags))

	info, err := CalcScriptInfo(sigScript, pkScript, true)
	require.NoError(t, err)
	assert.Equal(t, info.ExpectedInputs, info.NumInputs)
	assert.Equal(t, 3, info.SigOps)

	assert.Equal(t, 3, GetPreciseSigOpCount(sigScript, pkScript, true))
	assert.Equal(t, MaxPubKeysPerMultiSig, GetSigOpCount(redeemScript))

	t.Run("non null dummy", func(t *testing.T) {
		pushes, err := PushedData(sigScript)
		require.NoError(t, err)

		b := NewScriptBuilder().AddOp(OP_1)
		for _, p := range pushes[1:] {
			b.AddData(p)
		}

		bad := tx.Copy()
		bad.TxIn[0].SignatureScript = mustScript(t, b)

		err = VerifyScript(pkScript, bad, 0, StandardVerifyFlags)
		assert.True(t, IsErrorCode(err, ErrSigNullDummy), "got %v", err)
	})
}

func TestCheckLockTimeVerify(t *testing.T) {
	pkScript := func(lockTime int64) []byte {
		return mustScript(t, NewScriptBuilder().AddInt64(lockTime).
			AddOp(OP_CHECKLOCKTIMEVERIFY).AddOp(OP_DROP).AddOp(OP_1))
	}

	newTx := func(sequence uint32) *model.Tx {
		tx := spendingTx(nil)
		tx.LockTime = 100
		tx.TxIn[0].Sequence = sequence

		return tx
	}

	flags := ScriptVerifyCheckLockTimeVerify

	require.NoError(t, VerifyScript(pkScript(50), newTx(0), 0, flags))

	err := VerifyScript(pkScript(200), newTx(0), 0, flags)
	assert.True(t, IsErrorCode(err, ErrUnsatisfiedLockTime))

	err = VerifyScript(pkScript(50), newTx(model.MaxTxInSequenceNum), 0, flags)
	assert.True(t, IsErrorCode(err, ErrUnsatisfiedLockTime))

	err = VerifyScript(pkScript(600000000), newTx(0), 0, flags)
	assert.True(t, IsErrorCode(err, ErrUnsatisfiedLockTime))

	err = VerifyScript(pkScript(-1), newTx(0), 0, flags)
	assert.True(t, IsErrorCode(err, ErrNegativeLockTime))

	// As a plain NOP the operand is left alone.
	require.NoError(t, VerifyScript(pkScript(200), newTx(0), 0, 0))
}

// derSig encodes r and s as a DER signature without normalising s.
func derSig(r, s *big.Int) []byte {
	enc := func(v *big.Int) []byte {
		b := v.Bytes()
		if b[0]&0x80 != 0 {
			b = append([]byte{0x00}, b...)
		}

		return append([]byte{0x02, byte(len(b))}, b...)
	}

	body := append(enc(r), enc(s)...)

	return append([]byte{0x30, byte(len(body))}, body...)
}

func TestSignatureEncoding(t *testing.T) {
	vm := &Engine{flags: ScriptVerifyLowS | ScriptVerifyDERSignatures}

	r := big.NewInt(0x1234567)
	low := new(big.Int).Set(halfOrder)
	high := new(big.Int).Add(halfOrder, big.NewInt(1))

	require.NoError(t, vm.checkSignatureEncoding(derSig(r, low)))
	assert.True(t, IsErrorCode(vm.checkSignatureEncoding(derSig(r, high)), ErrSigHighS))

	padded := derSig(r, low)
	padded = append(padded[:4], append([]byte{0x00}, padded[4:]...)...)
	padded[1]++
	padded[3]++
	assert.True(t, IsErrorCode(vm.checkSignatureEncoding(padded), ErrSigTooMuchRPadding))

	assert.True(t, IsErrorCode(vm.checkSignatureEncoding([]byte{0x30, 0x01}), ErrSigTooShort))

	lax := &Engine{}
	require.NoError(t, lax.checkSignatureEncoding(derSig(r, high)))
}

func TestSigHashSingleWithoutOutput(t *testing.T) {
	tx := spendingTx(nil)
	prev := chainhash.DoubleHashH([]byte("second"))
	tx.AddTxIn(model.NewTxIn(model.NewOutPoint(&prev, 0), nil))

	hash, err := CalcSignatureHash([]byte{OP_1}, SigHashSingle, tx, 1)
	require.NoError(t, err)

	expected := make([]byte, chainhash.HashSize)
	expected[0] = 0x01
	assert.Equal(t, expected, hash)

	hash, err = CalcSignatureHash([]byte{OP_1}, SigHashSingle, tx, 0)
	require.NoError(t, err)
	assert.NotEqual(t, expected, hash)
}
