package libzerocoin

import (
	"crypto/rand"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/tessacoin/tessanode/errors"
)

// CurrentCoinVersion is the version of coins whose serial is bound to a spend
// public key.
const CurrentCoinVersion uint8 = 2

// maxSerialNybble is the largest allowed top nybble of a serial.
const maxSerialNybble = 0x0c

// PublicCoin is the commitment published on chain when a coin is minted.
type PublicCoin struct {
	Value        *big.Int
	Denomination Denomination
}

func NewPublicCoin(value *big.Int, denom Denomination) *PublicCoin {
	return &PublicCoin{Value: new(big.Int).Set(value), Denomination: denom}
}

// Validate checks the denomination, the value range and the primality of
// the commitment.
func (c *PublicCoin) Validate(params *Params) error {
	if !c.Denomination.IsValid() {
		return errors.NewZerocoinInvalidError("invalid denomination %d", c.Denomination)
	}

	if c.Value == nil || c.Value.Cmp(params.MinCoinValue) < 0 || c.Value.Cmp(params.MaxCoinValue) > 0 {
		return errors.NewZerocoinInvalidError("pubcoin value out of range")
	}

	if !c.Value.ProbablyPrime(params.PrimeRounds) {
		return errors.NewZerocoinInvalidError("pubcoin value is not prime")
	}

	return nil
}

// Hash is the identifier of the coin in the mint index.
func (c *PublicCoin) Hash() chainhash.Hash {
	return PubCoinHash(c.Value)
}

func (c *PublicCoin) Bytes() []byte {
	return c.Value.Bytes()
}

// PubCoinHash hashes a pubcoin value.
func PubCoinHash(value *big.Int) chainhash.Hash {
	return chainhash.DoubleHashH(value.Bytes())
}

// SerialHash hashes a serial for the spend index.
func SerialHash(serial *big.Int) chainhash.Hash {
	h := hashFromInt(serial)
	return chainhash.DoubleHashH(h[:])
}

// SerialFromPubKey derives the serial bound to a spend public key.
func SerialFromPubKey(pubKey []byte) *big.Int {
	return Hash256(pubKey)
}

// IsValidSerial reports whether the serial lies in (0, Q).
func IsValidSerial(params *Params, serial *big.Int) bool {
	return serial.Sign() > 0 && serial.Cmp(params.Q) < 0
}

// HasValidSerialNybble reports whether the top nybble of a 256-bit serial is
// within the range produced by key derivation.
func HasValidSerialNybble(serial *big.Int) bool {
	return serial.BitLen() <= 256 && new(big.Int).Rsh(serial, 252).Int64() <= maxSerialNybble
}

// PrivateCoin holds the secrets needed to spend a coin.
type PrivateCoin struct {
	PublicCoin *PublicCoin
	Serial     *big.Int
	Randomness *big.Int
	PrivKey    *bec.PrivateKey
	Version    uint8
}

// PubKey is the compressed spend public key.
func (pc *PrivateCoin) PubKey() []byte {
	if pc.PrivKey == nil {
		return nil
	}

	return pc.PrivKey.PubKey().SerialiseCompressed()
}

// SetDenomination fixes the denomination once the coin is minted.
func (pc *PrivateCoin) SetDenomination(denom Denomination) {
	pc.PublicCoin.Denomination = denom
}

// NewPrivateCoin mints a coin from fresh randomness.
func NewPrivateCoin(params *Params, denom Denomination) (*PrivateCoin, error) {
	var key *bec.PrivateKey

	for {
		k, err := bec.NewPrivateKey(bec.S256())
		if err != nil {
			return nil, errors.NewProcessingError("failed to generate spend key", err)
		}

		serial := SerialFromPubKey(k.PubKey().SerialiseCompressed())
		if HasValidSerialNybble(serial) && IsValidSerial(params, serial) {
			key = k
			break
		}
	}

	r, err := rand.Int(rand.Reader, params.Q)
	if err != nil {
		return nil, errors.NewProcessingError("failed to draw coin randomness", err)
	}

	randSeed := make([]byte, 32)
	if _, err = rand.Read(randSeed); err != nil {
		return nil, errors.NewProcessingError("failed to draw coin randomness", err)
	}

	return mintCoin(params, key, r, randSeed, denom)
}

// mintCoin searches for a prime commitment starting from randomness r.
func mintCoin(params *Params, key *bec.PrivateKey, r *big.Int, randSeed []byte, denom Denomination) (*PrivateCoin, error) {
	serial := SerialFromPubKey(key.PubKey().SerialiseCompressed())
	if !IsValidSerial(params, serial) {
		return nil, errors.NewZerocoinInvalidError("spend key does not give a valid serial")
	}

	r = new(big.Int).Mod(r, params.Q)

	c := new(big.Int).Exp(params.G, serial, params.P)
	c.Mul(c, new(big.Int).Exp(params.H, r, params.P))
	c.Mod(c, params.P)

	attemptBuf := make([]byte, len(randSeed)+4)
	copy(attemptBuf, randSeed)

	for attempt := uint32(0); attempt < MaxCoinMintAttempts; attempt++ {
		if c.Cmp(params.MinCoinValue) >= 0 && c.Cmp(params.MaxCoinValue) <= 0 && c.ProbablyPrime(params.PrimeRounds) {
			return &PrivateCoin{
				PublicCoin: &PublicCoin{Value: c, Denomination: denom},
				Serial:     serial,
				Randomness: r,
				PrivKey:    key,
				Version:    CurrentCoinVersion,
			}, nil
		}

		attemptBuf[len(randSeed)] = byte(attempt)
		attemptBuf[len(randSeed)+1] = byte(attempt >> 8)
		attemptBuf[len(randSeed)+2] = byte(attempt >> 16)
		attemptBuf[len(randSeed)+3] = byte(attempt >> 24)

		inc := Hash256(attemptBuf)
		inc.Mod(inc, params.Q)

		r.Add(r, inc)
		r.Mod(r, params.Q)

		c.Mul(c, new(big.Int).Exp(params.H, inc, params.P))
		c.Mod(c, params.P)
	}

	return nil, errors.NewZerocoinInvalidError("no prime commitment found in %d attempts", MaxCoinMintAttempts)
}

// Commitment returns C = G^serial * H^randomness mod P.
func (pc *PrivateCoin) Commitment(params *Params) *big.Int {
	c := new(big.Int).Exp(params.G, pc.Serial, params.P)
	c.Mul(c, new(big.Int).Exp(params.H, pc.Randomness, params.P))

	return c.Mod(c, params.P)
}
