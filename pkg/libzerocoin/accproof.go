package libzerocoin

import (
	"io"
	"math/big"

	"github.com/tessacoin/tessanode/errors"
)

// AccumulatorProofOfKnowledge proves that the integer committed to in the
// accumulator proof group is an element of an accumulator, without
// revealing which one.
type AccumulatorProofOfKnowledge struct {
	Cu *big.Int
	Cr *big.Int

	Challenge *big.Int

	SE     *big.Int
	SR     *big.Int
	S1     *big.Int
	S2     *big.Int
	SDelta *big.Int
	SEps   *big.Int
}

// NewAccumulatorProofOfKnowledge builds the membership proof for the coin
// committed to by commitment, with witness against acc.
func NewAccumulatorProofOfKnowledge(params *Params, commitment *Commitment, witness *Witness, acc *Accumulator) (*AccumulatorProofOfKnowledge, error) {
	if !witness.Verify(acc) {
		return nil, errors.NewZerocoinInvalidError("witness does not verify against accumulator")
	}

	n := params.N
	nBits := n.BitLen()
	coinBits := params.MaxCoinValue.BitLen()
	slack := ChallengeBits + ZKPSecurityLevel

	sizes := []int{
		nBits,
		nBits,
		coinBits + slack,
		params.AccPoKGroup.Order.BitLen() + slack,
		nBits + slack,
		nBits + slack,
		nBits + coinBits + slack,
		nBits + coinBits + slack,
	}

	blinds := make([]*big.Int, len(sizes))

	for i, bits := range sizes {
		v, err := randomBits(bits)
		if err != nil {
			return nil, err
		}

		blinds[i] = v
	}

	r1, r2, re, rr, b1, b2, bd, be := blinds[0], blinds[1], blinds[2], blinds[3], blinds[4], blinds[5], blinds[6], blinds[7]

	e := commitment.Contents
	group := params.AccPoKGroup

	cu := mulMod(n, witness.Value(), new(big.Int).Exp(params.AccH, r2, n))
	cr := mulMod(n, new(big.Int).Exp(params.AccG, r1, n), new(big.Int).Exp(params.AccH, r2, n))

	delta := new(big.Int).Mul(e, r1)
	eps := new(big.Int).Mul(e, r2)

	t1 := mulMod(group.Modulus, new(big.Int).Exp(group.G, re, group.Modulus), new(big.Int).Exp(group.H, rr, group.Modulus))
	t2 := mulMod(n, new(big.Int).Exp(params.AccG, b1, n), new(big.Int).Exp(params.AccH, b2, n))
	t3 := mulMod(n,
		new(big.Int).Exp(cr, re, n),
		modExp(params.AccG, new(big.Int).Neg(bd), n),
		modExp(params.AccH, new(big.Int).Neg(be), n),
	)
	t4 := mulMod(n, new(big.Int).Exp(cu, re, n), modExp(params.AccH, new(big.Int).Neg(be), n))

	if t3 == nil || t4 == nil {
		return nil, errors.NewZerocoinInvalidError("accumulator generators are not invertible")
	}

	c := hashInts(acc.value, commitment.Value, cu, cr, t1, t2, t3, t4)

	response := func(blind, secret *big.Int) *big.Int {
		s := new(big.Int).Mul(c, secret)
		return s.Add(s, blind)
	}

	return &AccumulatorProofOfKnowledge{
		Cu:        cu,
		Cr:        cr,
		Challenge: c,
		SE:        response(re, e),
		SR:        response(rr, commitment.Randomness),
		S1:        response(b1, r1),
		S2:        response(b2, r2),
		SDelta:    response(bd, delta),
		SEps:      response(be, eps),
	}, nil
}

// Verify checks the proof against the accumulator value and the coin
// commitment in the accumulator proof group.
func (p *AccumulatorProofOfKnowledge) Verify(params *Params, accValue *big.Int, commitment *big.Int) bool {
	for _, v := range []*big.Int{p.Cu, p.Cr, p.Challenge, p.SE, p.SR, p.S1, p.S2, p.SDelta, p.SEps} {
		if v == nil || v.Sign() < 0 {
			return false
		}
	}

	if p.Challenge.BitLen() > ChallengeBits {
		return false
	}

	n := params.N
	group := params.AccPoKGroup
	negC := new(big.Int).Neg(p.Challenge)

	t1 := mulMod(group.Modulus,
		new(big.Int).Exp(group.G, p.SE, group.Modulus),
		new(big.Int).Exp(group.H, p.SR, group.Modulus),
		modExp(commitment, negC, group.Modulus),
	)
	t2 := mulMod(n,
		new(big.Int).Exp(params.AccG, p.S1, n),
		new(big.Int).Exp(params.AccH, p.S2, n),
		modExp(p.Cr, negC, n),
	)
	t3 := mulMod(n,
		new(big.Int).Exp(p.Cr, p.SE, n),
		modExp(params.AccG, new(big.Int).Neg(p.SDelta), n),
		modExp(params.AccH, new(big.Int).Neg(p.SEps), n),
	)
	t4 := mulMod(n,
		new(big.Int).Exp(p.Cu, p.SE, n),
		modExp(params.AccH, new(big.Int).Neg(p.SEps), n),
		modExp(accValue, negC, n),
	)

	if t1 == nil || t2 == nil || t3 == nil || t4 == nil {
		return false
	}

	return hashInts(accValue, commitment, p.Cu, p.Cr, t1, t2, t3, t4).Cmp(p.Challenge) == 0
}

func (p *AccumulatorProofOfKnowledge) Serialize(w io.Writer) error {
	return writeInts(w, p.Cu, p.Cr, p.Challenge, p.SE, p.SR, p.S1, p.S2, p.SDelta, p.SEps)
}

func (p *AccumulatorProofOfKnowledge) Deserialize(r io.Reader) error {
	return readInts(r, &p.Cu, &p.Cr, &p.Challenge, &p.SE, &p.SR, &p.S1, &p.S2, &p.SDelta, &p.SEps)
}
