package libzerocoin

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/util"
)

// maxIntBytes bounds a serialized proof integer.
const maxIntBytes = 4096

func randomBits(bits int) (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), uint(bits))

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, errors.NewProcessingError("failed to draw random value", err)
	}

	return n, nil
}

func randomBelow(limit *big.Int) (*big.Int, error) {
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, errors.NewProcessingError("failed to draw random value", err)
	}

	return n, nil
}

// modExp computes base^exp mod m, inverting base for negative exponents. It
// returns nil when base has no inverse.
func modExp(base, exp, m *big.Int) *big.Int {
	if exp.Sign() >= 0 {
		return new(big.Int).Exp(base, exp, m)
	}

	inv := new(big.Int).ModInverse(base, m)
	if inv == nil {
		return nil
	}

	return inv.Exp(inv, new(big.Int).Neg(exp), m)
}

// mulMod multiplies the values modulo m, propagating nil.
func mulMod(m *big.Int, values ...*big.Int) *big.Int {
	out := big.NewInt(1)

	for _, v := range values {
		if v == nil {
			return nil
		}

		out.Mul(out, v)
		out.Mod(out, m)
	}

	return out
}

func writeInt(w io.Writer, v *big.Int) error {
	if v.Sign() < 0 {
		return errors.NewInvalidArgumentError("cannot serialize negative proof value")
	}

	return util.WriteVarBytes(w, v.Bytes())
}

func readInt(r io.Reader) (*big.Int, error) {
	b, err := util.ReadVarBytes(r, maxIntBytes, "proof integer")
	if err != nil {
		return nil, err
	}

	return new(big.Int).SetBytes(b), nil
}

func writeInts(w io.Writer, values ...*big.Int) error {
	for _, v := range values {
		if err := writeInt(w, v); err != nil {
			return err
		}
	}

	return nil
}

func readInts(r io.Reader, values ...**big.Int) error {
	for _, v := range values {
		n, err := readInt(r)
		if err != nil {
			return err
		}

		*v = n
	}

	return nil
}
