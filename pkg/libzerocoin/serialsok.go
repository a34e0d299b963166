package libzerocoin

import (
	"io"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/util"
)

// SerialNumberSignatureOfKnowledge proves knowledge of the randomness of a
// coin with a revealed serial that is committed to in the serial group, and
// signs a message in doing so.
type SerialNumberSignatureOfKnowledge struct {
	S         []*big.Int
	SPrime    []*big.Int
	Challenge *big.Int
}

// NewSerialNumberSignatureOfKnowledge signs msg. commitment must commit to
// the coin's public value in params.SerialGroup.
func NewSerialNumberSignatureOfKnowledge(params *Params, coin *PrivateCoin, commitment *Commitment, msg chainhash.Hash) (*SerialNumberSignatureOfKnowledge, error) {
	group := params.SerialGroup

	if commitment.Contents.Cmp(coin.PublicCoin.Value) != 0 {
		return nil, errors.NewInvalidArgumentError("serial commitment does not open to the coin")
	}

	gs := new(big.Int).Exp(params.G, coin.Serial, params.P)

	v := make([]*big.Int, SerialSoKRounds)
	w := make([]*big.Int, SerialSoKRounds)
	t := make([]*big.Int, 0, SerialSoKRounds+3)
	t = append(t, intFromHash(msg), commitment.Value, coin.Serial)

	for i := 0; i < SerialSoKRounds; i++ {
		var err error

		if v[i], err = randomBelow(params.Q); err != nil {
			return nil, err
		}

		if w[i], err = randomBelow(group.Order); err != nil {
			return nil, err
		}

		t = append(t, serialRoundCommit(params, gs, v[i], w[i]))
	}

	c := hashInts(t...)

	sok := &SerialNumberSignatureOfKnowledge{
		S:         make([]*big.Int, SerialSoKRounds),
		SPrime:    make([]*big.Int, SerialSoKRounds),
		Challenge: c,
	}

	for i := 0; i < SerialSoKRounds; i++ {
		if c.Bit(i) == 0 {
			sok.S[i] = v[i]
			sok.SPrime[i] = w[i]

			continue
		}

		s := new(big.Int).Sub(v[i], coin.Randomness)
		s.Mod(s, params.Q)

		u := new(big.Int).Exp(params.H, s, params.P)
		u.Mul(u, commitment.Randomness)
		u.Sub(w[i], u)
		u.Mod(u, group.Order)

		sok.S[i] = s
		sok.SPrime[i] = u
	}

	return sok, nil
}

// serialRoundCommit is g2^(G^serial * H^v mod P) * h2^w mod P2.
func serialRoundCommit(params *Params, gs, v, w *big.Int) *big.Int {
	group := params.SerialGroup

	exp := new(big.Int).Exp(params.H, v, params.P)
	exp.Mul(exp, gs)
	exp.Mod(exp, params.P)

	return mulMod(group.Modulus, new(big.Int).Exp(group.G, exp, group.Modulus), new(big.Int).Exp(group.H, w, group.Modulus))
}

// Verify checks the signature over msg for the revealed serial and the
// commitment value in the serial group.
func (p *SerialNumberSignatureOfKnowledge) Verify(params *Params, serial, commitment *big.Int, msg chainhash.Hash) bool {
	if p.Challenge == nil || len(p.S) != SerialSoKRounds || len(p.SPrime) != SerialSoKRounds {
		return false
	}

	group := params.SerialGroup
	gs := new(big.Int).Exp(params.G, serial, params.P)

	t := make([]*big.Int, 0, SerialSoKRounds+3)
	t = append(t, intFromHash(msg), commitment, serial)

	for i := 0; i < SerialSoKRounds; i++ {
		s, u := p.S[i], p.SPrime[i]
		if s == nil || u == nil || s.Sign() < 0 || s.Cmp(params.Q) >= 0 || u.Sign() < 0 || u.Cmp(group.Order) >= 0 {
			return false
		}

		if p.Challenge.Bit(i) == 0 {
			t = append(t, serialRoundCommit(params, gs, s, u))
			continue
		}

		exp := new(big.Int).Exp(params.H, s, params.P)
		t = append(t, mulMod(group.Modulus, new(big.Int).Exp(commitment, exp, group.Modulus), new(big.Int).Exp(group.H, u, group.Modulus)))
	}

	return hashInts(t...).Cmp(p.Challenge) == 0
}

func (p *SerialNumberSignatureOfKnowledge) Serialize(w io.Writer) error {
	if err := util.WriteCompactSize(w, uint64(len(p.S))); err != nil {
		return err
	}

	for i := range p.S {
		if err := writeInts(w, p.S[i], p.SPrime[i]); err != nil {
			return err
		}
	}

	return writeInt(w, p.Challenge)
}

func (p *SerialNumberSignatureOfKnowledge) Deserialize(r io.Reader) error {
	n, err := util.ReadCompactSize(r)
	if err != nil {
		return err
	}

	if n != SerialSoKRounds {
		return errors.NewZerocoinInvalidError("serial signature of knowledge has %d rounds", n)
	}

	p.S = make([]*big.Int, n)
	p.SPrime = make([]*big.Int, n)

	for i := range p.S {
		if err = readInts(r, &p.S[i], &p.SPrime[i]); err != nil {
			return err
		}
	}

	p.Challenge, err = readInt(r)

	return err
}
