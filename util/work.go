package util

import (
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

var (
	// bigOne is 1 represented as a big.Int.
	bigOne = big.NewInt(1)

	// oneLsh256 is 1 shifted left 256 bits.
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)
)

// HashToBig converts a hash into a big.Int that can be used to perform math
// comparisons. Hashes are stored little-endian.
func HashToBig(hash *chainhash.Hash) *big.Int {
	buf := *hash
	blen := len(buf)

	for i := 0; i < blen/2; i++ {
		buf[i], buf[blen-1-i] = buf[blen-1-i], buf[i]
	}

	return new(big.Int).SetBytes(buf[:])
}

// BigToHash is the inverse of HashToBig. Values wider than 256 bits are truncated.
func BigToHash(n *big.Int) chainhash.Hash {
	var h chainhash.Hash

	b := n.Bytes()
	if len(b) > chainhash.HashSize {
		b = b[len(b)-chainhash.HashSize:]
	}

	for i, v := range b {
		h[len(b)-1-i] = v
	}

	return h
}

// CompactToBig converts a compact representation of a whole number N to an
// unsigned 32-bit number. The representation is similar to IEEE754 floating
// point numbers.
//
//   - the most significant 8 bits represent the unsigned base 256 exponent
//   - bit 23 (the 24th bit) represents the sign bit
//   - the least significant 23 bits represent the mantissa
//
//	-------------------------------------------------
//	|   Exponent     |    Sign    |    Mantissa     |
//	-------------------------------------------------
//	| 8 bits [31-24] | 1 bit [23] | 23 bits [22-00] |
//	-------------------------------------------------
//
// The formula to calculate N is:
//
//	N = (-1^sign) * mantissa * 256^(exponent-3)
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var bn *big.Int

	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if isNegative {
		bn = bn.Neg(bn)
	}

	return bn
}

// CompactOverflows reports whether the compact encoding is negative or wider
// than 256 bits, either of which makes it an invalid target.
func CompactOverflows(compact uint32) bool {
	mantissa := compact & 0x007fffff
	exponent := compact >> 24

	if mantissa != 0 && compact&0x00800000 != 0 {
		return true
	}

	return mantissa != 0 && (exponent > 34 ||
		(mantissa > 0xff && exponent > 33) ||
		(mantissa > 0xffff && exponent > 32))
}

// BigToCompact converts a whole number N to a compact representation using
// an unsigned 32-bit number. The compact representation only provides 23 bits
// of precision, so values larger than (2^23 - 1) only encode the most
// significant digits of the number.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32

	exponent := uint(len(n.Bytes()))

	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	// When the mantissa already has the sign bit set, the number is too large
	// to fit into the available 23-bits, so divide the number by 256 and
	// increment the exponent accordingly.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}

	return compact
}

// CalcWork calculates a work value from difficulty bits. The work done is
// 2^256 / (target+1); a negative or zero target yields zero work.
func CalcWork(bits uint32) *big.Int {
	difficultyNum := CompactToBig(bits)
	if difficultyNum.Sign() <= 0 {
		return big.NewInt(0)
	}

	denominator := new(big.Int).Add(difficultyNum, bigOne)

	return new(big.Int).Div(oneLsh256, denominator)
}
