package libzerocoin

import (
	"io"
	"math/big"

	"github.com/tessacoin/tessanode/errors"
)

// Commitment is a Pedersen commitment G^contents * H^randomness in a group.
type Commitment struct {
	Group      IntegerGroup
	Contents   *big.Int
	Randomness *big.Int
	Value      *big.Int
}

// NewCommitment commits to contents with fresh randomness below the group
// order.
func NewCommitment(group IntegerGroup, contents *big.Int) (*Commitment, error) {
	r, err := randomBelow(group.Order)
	if err != nil {
		return nil, err
	}

	v := new(big.Int).Exp(group.G, contents, group.Modulus)
	v.Mul(v, new(big.Int).Exp(group.H, r, group.Modulus))
	v.Mod(v, group.Modulus)

	return &Commitment{Group: group, Contents: contents, Randomness: r, Value: v}, nil
}

// CommitmentProofOfKnowledge proves that two commitments in different groups
// open to the same integer.
type CommitmentProofOfKnowledge struct {
	S1        *big.Int
	S2        *big.Int
	S3        *big.Int
	Challenge *big.Int
}

// NewCommitmentProofOfKnowledge proves a and b commit to the same contents.
// maxContentBits bounds the committed integer.
func NewCommitmentProofOfKnowledge(a, b *Commitment, maxContentBits int) (*CommitmentProofOfKnowledge, error) {
	if a.Contents.Cmp(b.Contents) != 0 {
		return nil, errors.NewInvalidArgumentError("commitments do not open to the same value")
	}

	rx, err := randomBits(maxContentBits + ChallengeBits + ZKPSecurityLevel)
	if err != nil {
		return nil, err
	}

	r1, err := randomBits(a.Group.Order.BitLen() + ChallengeBits + ZKPSecurityLevel)
	if err != nil {
		return nil, err
	}

	r2, err := randomBits(b.Group.Order.BitLen() + ChallengeBits + ZKPSecurityLevel)
	if err != nil {
		return nil, err
	}

	t1 := mulMod(a.Group.Modulus, new(big.Int).Exp(a.Group.G, rx, a.Group.Modulus), new(big.Int).Exp(a.Group.H, r1, a.Group.Modulus))
	t2 := mulMod(b.Group.Modulus, new(big.Int).Exp(b.Group.G, rx, b.Group.Modulus), new(big.Int).Exp(b.Group.H, r2, b.Group.Modulus))

	c := hashInts(a.Value, b.Value, t1, t2)

	s1 := new(big.Int).Mul(c, a.Contents)
	s1.Add(s1, rx)

	s2 := new(big.Int).Mul(c, a.Randomness)
	s2.Add(s2, r1)

	s3 := new(big.Int).Mul(c, b.Randomness)
	s3.Add(s3, r2)

	return &CommitmentProofOfKnowledge{S1: s1, S2: s2, S3: s3, Challenge: c}, nil
}

// Verify checks the proof against the two commitment values.
func (p *CommitmentProofOfKnowledge) Verify(groupA IntegerGroup, a *big.Int, groupB IntegerGroup, b *big.Int) bool {
	if p.S1 == nil || p.S2 == nil || p.S3 == nil || p.Challenge == nil {
		return false
	}

	if p.Challenge.BitLen() > ChallengeBits {
		return false
	}

	negC := new(big.Int).Neg(p.Challenge)

	t1 := mulMod(groupA.Modulus,
		new(big.Int).Exp(groupA.G, p.S1, groupA.Modulus),
		new(big.Int).Exp(groupA.H, p.S2, groupA.Modulus),
		modExp(a, negC, groupA.Modulus),
	)

	t2 := mulMod(groupB.Modulus,
		new(big.Int).Exp(groupB.G, p.S1, groupB.Modulus),
		new(big.Int).Exp(groupB.H, p.S3, groupB.Modulus),
		modExp(b, negC, groupB.Modulus),
	)

	if t1 == nil || t2 == nil {
		return false
	}

	return hashInts(a, b, t1, t2).Cmp(p.Challenge) == 0
}

func (p *CommitmentProofOfKnowledge) Serialize(w io.Writer) error {
	return writeInts(w, p.S1, p.S2, p.S3, p.Challenge)
}

func (p *CommitmentProofOfKnowledge) Deserialize(r io.Reader) error {
	return readInts(r, &p.S1, &p.S2, &p.S3, &p.Challenge)
}
