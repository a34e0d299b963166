package libzerocoin

import (
	"encoding/binary"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
)

// Accumulator is the RSA accumulator of all pubcoins of one denomination.
type Accumulator struct {
	params *Params
	denom  Denomination
	value  *big.Int
}

func NewAccumulator(params *Params, denom Denomination) *Accumulator {
	return &Accumulator{params: params, denom: denom, value: big.NewInt(AccumulatorBase)}
}

// NewAccumulatorFromValue restores an accumulator from a stored value.
func NewAccumulatorFromValue(params *Params, denom Denomination, value *big.Int) *Accumulator {
	return &Accumulator{params: params, denom: denom, value: new(big.Int).Set(value)}
}

func (a *Accumulator) Denomination() Denomination {
	return a.denom
}

func (a *Accumulator) Value() *big.Int {
	return new(big.Int).Set(a.value)
}

// Accumulate adds a validated pubcoin of the same denomination.
func (a *Accumulator) Accumulate(coin *PublicCoin) error {
	if coin.Denomination != a.denom {
		return errors.NewZerocoinInvalidError("pubcoin denomination %s does not match accumulator %s", coin.Denomination, a.denom)
	}

	if err := coin.Validate(a.params); err != nil {
		return err
	}

	a.value.Exp(a.value, coin.Value, a.params.N)

	return nil
}

// Checksum is the 32-bit digest of the accumulator value.
func (a *Accumulator) Checksum() uint32 {
	return AccumulatorChecksum(a.value)
}

func (a *Accumulator) Copy() *Accumulator {
	return NewAccumulatorFromValue(a.params, a.denom, a.value)
}

// AccumulatorChecksum is the first four bytes of SHA256d of the value.
func AccumulatorChecksum(value *big.Int) uint32 {
	h := chainhash.DoubleHashB(value.Bytes())
	return binary.LittleEndian.Uint32(h[:4])
}

// Checkpoint packs the checksums of one accumulator per denomination into a
// block header checkpoint, in Denominations order.
func Checkpoint(accs map[Denomination]*big.Int) chainhash.Hash {
	var cp chainhash.Hash

	for i, denom := range Denominations {
		value, ok := accs[denom]
		if !ok {
			value = big.NewInt(AccumulatorBase)
		}

		binary.LittleEndian.PutUint32(cp[i*4:], AccumulatorChecksum(value))
	}

	return cp
}

// ChecksumFromCheckpoint extracts the checksum of one denomination.
func ChecksumFromCheckpoint(cp chainhash.Hash, denom Denomination) (uint32, error) {
	i := denom.index()
	if i < 0 {
		return 0, errors.NewZerocoinInvalidError("invalid denomination %d", denom)
	}

	return binary.LittleEndian.Uint32(cp[i*4:]), nil
}

// Witness proves that one coin is contained in an accumulator.
type Witness struct {
	params *Params
	coin   *PublicCoin
	value  *big.Int
}

// NewWitness starts a witness over an accumulator that does not yet contain
// the coin.
func NewWitness(params *Params, checkpoint *Accumulator, coin *PublicCoin) *Witness {
	return &Witness{params: params, coin: coin, value: checkpoint.Value()}
}

// AddElement accumulates another coin into the witness. The witness' own
// coin is skipped.
func (w *Witness) AddElement(coin *PublicCoin) {
	if coin.Value.Cmp(w.coin.Value) == 0 {
		return
	}

	w.value.Exp(w.value, coin.Value, w.params.N)
}

func (w *Witness) Value() *big.Int {
	return new(big.Int).Set(w.value)
}

// Verify checks that witness^coin equals the accumulator.
func (w *Witness) Verify(acc *Accumulator) bool {
	return new(big.Int).Exp(w.value, w.coin.Value, w.params.N).Cmp(acc.value) == 0
}
