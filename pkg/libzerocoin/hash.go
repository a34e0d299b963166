package libzerocoin

import (
	"crypto/sha256"
	"crypto/sha512"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/util"
)

// hashInts returns SHA256d over the length prefixed big-endian encoding of
// each value, as a non-negative integer.
func hashInts(values ...*big.Int) *big.Int {
	var buf []byte

	for _, v := range values {
		b := v.Bytes()
		buf = util.AppendCompactSize(buf, uint64(len(b)))
		buf = append(buf, b...)
	}

	return new(big.Int).SetBytes(chainhash.DoubleHashB(buf))
}

// Hash256 is SHA256d of b as a non-negative integer.
func Hash256(b []byte) *big.Int {
	return new(big.Int).SetBytes(chainhash.DoubleHashB(b))
}

// expandHash stretches the inputs to at least bits bits by hashing with a
// counter.
func expandHash(bits int, parts ...[]byte) *big.Int {
	var out []byte

	for counter := byte(0); len(out)*8 < bits; counter++ {
		h := sha256.New()
		for _, p := range parts {
			h.Write(p)
		}

		h.Write([]byte{counter})
		out = h.Sum(out)
	}

	return new(big.Int).SetBytes(out)
}

func sha512Sum(b []byte) [64]byte {
	return sha512.Sum512(b)
}

// hashFromInt stores the low 256 bits of v big-endian in a hash.
func hashFromInt(v *big.Int) chainhash.Hash {
	var h chainhash.Hash

	b := v.Bytes()
	if len(b) > chainhash.HashSize {
		b = b[len(b)-chainhash.HashSize:]
	}

	copy(h[chainhash.HashSize-len(b):], b)

	return h
}

// intFromHash is the inverse of hashFromInt.
func intFromHash(h chainhash.Hash) *big.Int {
	return new(big.Int).SetBytes(h[:])
}
