package libzerocoin

import (
	"encoding/binary"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/tessacoin/tessanode/errors"
)

// maxKeyDerivations bounds the rehashing of the spend key seed.
const maxKeyDerivations = 1000

// ZerocoinSeed derives the per-mint seed for count n: SHA512(seed || n).
func ZerocoinSeed(masterSeed []byte, count uint32) [64]byte {
	buf := make([]byte, 0, len(masterSeed)+4)
	buf = append(buf, masterSeed...)
	buf = binary.LittleEndian.AppendUint32(buf, count)

	return sha512Sum(buf)
}

// SeedHash identifies the master seed without revealing it.
func SeedHash(masterSeed []byte) chainhash.Hash {
	return chainhash.DoubleHashH(masterSeed)
}

// DeriveCoin deterministically mints the coin with the given count from the
// master seed. The denomination is left unset.
func DeriveCoin(params *Params, masterSeed []byte, count uint32) (*PrivateCoin, error) {
	if count == 0 {
		return nil, errors.NewInvalidArgumentError("mint count starts at 1")
	}

	return DeriveCoinFromZerocoinSeed(params, ZerocoinSeed(masterSeed, count))
}

// DeriveCoinFromZerocoinSeed mints from a per-mint seed. The upper 256 bits
// seed the spend key, the lower 256 bits seed the commitment randomness.
func DeriveCoinFromZerocoinSeed(params *Params, seed [64]byte) (*PrivateCoin, error) {
	key, err := deriveSpendKey(params, seed[:32])
	if err != nil {
		return nil, err
	}

	randSeed := seed[32:]

	r := Hash256(randSeed)
	r.Mod(r, params.Q)

	return mintCoin(params, key, r, randSeed, DenomError)
}

// deriveSpendKey hashes the key seed until the public key hash is a valid
// serial.
func deriveSpendKey(params *Params, keySeed []byte) (*bec.PrivateKey, error) {
	curveN := bec.S256().N
	k := chainhash.DoubleHashB(keySeed)

	for i := 0; i < maxKeyDerivations; i++ {
		d := new(big.Int).SetBytes(k)
		if d.Sign() > 0 && d.Cmp(curveN) < 0 {
			priv, pub := bec.PrivKeyFromBytes(bec.S256(), k)

			serial := SerialFromPubKey(pub.SerialiseCompressed())
			if HasValidSerialNybble(serial) && IsValidSerial(params, serial) {
				return priv, nil
			}
		}

		k = chainhash.DoubleHashB(k)
	}

	return nil, errors.NewZerocoinInvalidError("no valid spend key after %d derivations", maxKeyDerivations)
}
