package txscript

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/model"
)

func TestGetScriptClass(t *testing.T) {
	hash := bytes.Repeat([]byte{0x11}, 20)
	pub := append([]byte{0x02}, bytes.Repeat([]byte{0x22}, 32)...)

	p2pkh, err := PayToPubKeyHashScript(hash)
	require.NoError(t, err)

	p2sh, err := PayToScriptHashScript(hash)
	require.NoError(t, err)

	p2pk, err := PayToPubKeyScript(pub)
	require.NoError(t, err)

	multi, err := MultiSigScript([][]byte{pub, pub}, 1)
	require.NoError(t, err)

	nulldata, err := NullDataScript([]byte("memo"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		script []byte
		class  ScriptClass
	}{
		{"p2pkh", p2pkh, PubKeyHashTy},
		{"p2sh", p2sh, ScriptHashTy},
		{"p2pk", p2pk, PubKeyTy},
		{"multisig", multi, MultiSigTy},
		{"nulldata", nulldata, NullDataTy},
		{"bare return", []byte{OP_RETURN}, NullDataTy},
		{"zerocoin mint", model.NewZerocoinMintScript([]byte{0x01, 0x02}), ZerocoinMintTy},
		{"nonstandard", []byte{OP_1, OP_ADD}, NonStandardTy},
		{"truncated push", []byte{OP_DATA_20, 0x01}, NonStandardTy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, GetScriptClass(tt.script))
		})
	}

	_, err = NullDataScript(make([]byte, MaxDataCarrierSize+1))
	require.Error(t, err)

	_, err = MultiSigScript([][]byte{pub}, 2)
	assert.True(t, IsErrorCode(err, ErrTooManyRequiredSigs))
}

func TestDestinationEncoding(t *testing.T) {
	pub := append([]byte{0x03}, bytes.Repeat([]byte{0x42}, 32)...)

	for _, dest := range []Destination{NewKeyDestination(pub), NewScriptDestination([]byte{OP_1})} {
		addr := dest.Encode(&chaincfg.MainNetParams)
		require.NotEmpty(t, addr)

		decoded, err := DecodeDestination(addr, &chaincfg.MainNetParams)
		require.NoError(t, err)
		assert.Equal(t, dest, decoded)

		_, err = DecodeDestination(addr, &chaincfg.TestNetParams)
		require.Error(t, err)

		script, err := dest.Script()
		require.NoError(t, err)

		extracted, _ := ExtractDestination(script)
		assert.Equal(t, dest, extracted)
	}

	assert.Equal(t, "", Destination{}.Encode(&chaincfg.MainNetParams))
	assert.False(t, Destination{}.IsValid())

	p2pk, err := PayToPubKeyScript(pub)
	require.NoError(t, err)

	extracted, class := ExtractDestination(p2pk)
	assert.Equal(t, PubKeyTy, class)
	assert.Equal(t, NewKeyDestination(pub), extracted)

	_, err = DecodeDestination("not-an-address", &chaincfg.MainNetParams)
	require.Error(t, err)
}

func TestCanonicalPushes(t *testing.T) {
	for i := 0; i < 65535; i += 7 {
		script, err := NewScriptBuilder().AddInt64(int64(i)).Script()
		require.NoError(t, err)
		require.True(t, IsPushOnlyScript(script), "%x", script)

		pops, err := ParseScript(script)
		require.NoError(t, err)

		for _, pop := range pops {
			require.True(t, CanonicalPush(pop), "int %d: %x", i, script)
		}
	}

	for i := 0; i <= MaxScriptElementSize; i++ {
		script, err := NewScriptBuilder().AddData(bytes.Repeat([]byte{0x49}, i)).Script()
		require.NoError(t, err)
		require.True(t, IsPushOnlyScript(script))

		pops, err := ParseScript(script)
		require.NoError(t, err)

		for _, pop := range pops {
			require.True(t, CanonicalPush(pop), "data %d: %x", i, script)
		}
	}
}

func TestBuilderLimits(t *testing.T) {
	_, err := NewScriptBuilder().AddData(make([]byte, MaxScriptElementSize+1)).Script()
	require.Error(t, err)

	script, err := NewScriptBuilder().AddFullData(make([]byte, 1000)).Script()
	require.NoError(t, err)
	assert.Equal(t, byte(OP_PUSHDATA2), script[0])

	b := NewScriptBuilder()
	for i := 0; i < MaxScriptSize; i++ {
		b.AddOp(OP_NOP)
	}

	_, err = b.AddOp(OP_NOP).Script()
	require.Error(t, err)

	script, err = b.Reset().AddInt64(-1).AddInt64(17).Script()
	require.NoError(t, err)
	assert.Equal(t, []byte{OP_1NEGATE, OP_DATA_1, 17}, script)
}

func TestDisasmString(t *testing.T) {
	s, err := DisasmString([]byte{OP_DUP, OP_HASH160, OP_DATA_1, 0xab, OP_CHECKSIG})
	require.NoError(t, err)
	assert.Equal(t, "OP_DUP OP_HASH160 ab OP_CHECKSIG", s)
}
