package libzerocoin

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed() []byte {
	return bytes.Repeat([]byte{0x01}, 32)
}

func TestParamsValidate(t *testing.T) {
	t.Run("mainnet", func(t *testing.T) {
		require.NoError(t, MainnetParams(MinPrimeRounds).Validate())
	})

	t.Run("regtest", func(t *testing.T) {
		require.NoError(t, RegtestParams(MinPrimeRounds).Validate())
	})

	t.Run("too few prime rounds", func(t *testing.T) {
		require.Error(t, RegtestParams(MinPrimeRounds-1).Validate())
	})
}

func TestDenominations(t *testing.T) {
	d, err := AmountToDenomination(50 * coin)
	require.NoError(t, err)
	assert.Equal(t, DenomFifty, d)

	_, err = AmountToDenomination(3 * coin)
	require.Error(t, err)

	_, err = AmountToDenomination(coin + 1)
	require.Error(t, err)

	split, rest := SplitAmount(5616*coin + 7)
	assert.Equal(t, int64(7), rest)
	assert.Equal(t, map[Denomination]int{
		DenomFiveThousand: 1,
		DenomFiveHundred:  1,
		DenomOneHundred:   1,
		DenomTen:          1,
		DenomFive:         1,
		DenomOne:          1,
	}, split)
}

func TestDeriveCoin(t *testing.T) {
	params := RegtestParams(MinPrimeRounds)

	first, err := DeriveCoin(params, testSeed(), 1)
	require.NoError(t, err)

	again, err := DeriveCoin(params, testSeed(), 1)
	require.NoError(t, err)

	assert.Equal(t, first.PublicCoin.Hash(), again.PublicCoin.Hash())
	assert.Equal(t, 0, first.Serial.Cmp(again.Serial))
	assert.Equal(t, 0, first.Commitment(params).Cmp(first.PublicCoin.Value))

	second, err := DeriveCoin(params, testSeed(), 2)
	require.NoError(t, err)
	assert.NotEqual(t, first.PublicCoin.Hash(), second.PublicCoin.Hash())

	first.SetDenomination(DenomOne)
	require.NoError(t, first.PublicCoin.Validate(params))

	assert.True(t, HasValidSerialNybble(first.Serial))
	assert.Equal(t, 0, SerialFromPubKey(first.PubKey()).Cmp(first.Serial))

	_, err = DeriveCoin(params, testSeed(), 0)
	require.Error(t, err)
}

func TestPublicCoinValidate(t *testing.T) {
	params := RegtestParams(MinPrimeRounds)

	coin, err := NewPrivateCoin(params, DenomTen)
	require.NoError(t, err)
	require.NoError(t, coin.PublicCoin.Validate(params))

	composite := new(big.Int).Add(coin.PublicCoin.Value, big.NewInt(1))
	require.Error(t, NewPublicCoin(composite, DenomTen).Validate(params))

	require.Error(t, NewPublicCoin(big.NewInt(7), DenomTen).Validate(params))
	require.Error(t, NewPublicCoin(coin.PublicCoin.Value, Denomination(3)).Validate(params))
}

func TestAccumulatorWitness(t *testing.T) {
	params := RegtestParams(MinPrimeRounds)

	coins := make([]*PrivateCoin, 3)
	for i := range coins {
		c, err := NewPrivateCoin(params, DenomFive)
		require.NoError(t, err)

		coins[i] = c
	}

	acc := NewAccumulator(params, DenomFive)
	witness := NewWitness(params, acc, coins[1].PublicCoin)

	for _, c := range coins {
		require.NoError(t, acc.Accumulate(c.PublicCoin))
		witness.AddElement(c.PublicCoin)
	}

	assert.True(t, witness.Verify(acc))

	other := NewAccumulator(params, DenomOne)
	require.Error(t, other.Accumulate(coins[0].PublicCoin))
}

func TestCheckpoint(t *testing.T) {
	params := RegtestParams(MinPrimeRounds)

	accs := map[Denomination]*big.Int{
		DenomFive: big.NewInt(12345),
	}

	cp := Checkpoint(accs)

	sum, err := ChecksumFromCheckpoint(cp, DenomFive)
	require.NoError(t, err)
	assert.Equal(t, AccumulatorChecksum(big.NewInt(12345)), sum)

	sum, err = ChecksumFromCheckpoint(cp, DenomOne)
	require.NoError(t, err)
	assert.Equal(t, NewAccumulator(params, DenomOne).Checksum(), sum)

	_, err = ChecksumFromCheckpoint(cp, Denomination(2))
	require.Error(t, err)
}

func TestCoinSpend(t *testing.T) {
	params := RegtestParams(MinPrimeRounds)

	coin, err := DeriveCoin(params, testSeed(), 1)
	require.NoError(t, err)
	coin.SetDenomination(DenomOne)

	other, err := NewPrivateCoin(params, DenomOne)
	require.NoError(t, err)

	acc := NewAccumulator(params, DenomOne)
	witness := NewWitness(params, acc, coin.PublicCoin)

	for _, c := range []*PrivateCoin{other, coin} {
		require.NoError(t, acc.Accumulate(c.PublicCoin))
		witness.AddElement(c.PublicCoin)
	}

	ptxHash := chainhash.DoubleHashH([]byte("spending transaction"))

	spend, err := NewCoinSpend(params, coin, acc, acc.Checksum(), witness, ptxHash)
	require.NoError(t, err)
	require.NoError(t, spend.Verify(params, acc.Value()))

	t.Run("round trip", func(t *testing.T) {
		parsed, err := NewCoinSpendFromBytes(spend.Bytes())
		require.NoError(t, err)
		require.NoError(t, parsed.Verify(params, acc.Value()))
		assert.Equal(t, spend.SerialHash(), parsed.SerialHash())
		assert.Equal(t, SerialHash(coin.Serial), parsed.SerialHash())
	})

	t.Run("wrong accumulator", func(t *testing.T) {
		stale := NewAccumulator(params, DenomOne)
		require.Error(t, spend.Verify(params, stale.Value()))
	})

	t.Run("different transaction", func(t *testing.T) {
		parsed, err := NewCoinSpendFromBytes(spend.Bytes())
		require.NoError(t, err)

		parsed.PtxHash = chainhash.DoubleHashH([]byte("another transaction"))
		assert.False(t, parsed.VerifySignatureOfKnowledge(params))
		assert.False(t, parsed.HasValidSignature())
	})

	t.Run("swapped public key", func(t *testing.T) {
		parsed, err := NewCoinSpendFromBytes(spend.Bytes())
		require.NoError(t, err)

		parsed.PubKey = other.PubKey()
		assert.False(t, parsed.HasValidPubKey())
	})

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := NewCoinSpendFromBytes(append(spend.Bytes(), 0))
		require.Error(t, err)
	})

	t.Run("denomination mismatch", func(t *testing.T) {
		five := NewAccumulator(params, DenomFive)
		_, err := NewCoinSpend(params, coin, five, five.Checksum(), witness, ptxHash)
		require.Error(t, err)
	})
}
