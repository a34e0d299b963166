package libzerocoin

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/util"
)

// CoinSpend reveals the serial of a coin together with the proofs that the
// coin is in an accumulator and that the spender knows its opening.
type CoinSpend struct {
	Version          uint8
	Denomination     Denomination
	AccChecksum      uint32
	PtxHash          chainhash.Hash
	CoinSerial       *big.Int
	SerialCommitment *big.Int
	AccCommitment    *big.Int
	CommitmentPoK    *CommitmentProofOfKnowledge
	AccPoK           *AccumulatorProofOfKnowledge
	SerialSoK        *SerialNumberSignatureOfKnowledge
	PubKey           []byte
	Signature        []byte
}

// NewCoinSpend builds a spend of coin against acc, whose checksum is cited,
// signing ptxHash: the hash of the spending transaction with this input's
// signature script cleared.
func NewCoinSpend(params *Params, coin *PrivateCoin, acc *Accumulator, checksum uint32, witness *Witness, ptxHash chainhash.Hash) (*CoinSpend, error) {
	if coin.PublicCoin.Denomination != acc.Denomination() {
		return nil, errors.NewZerocoinInvalidError("coin denomination %s does not match accumulator %s", coin.PublicCoin.Denomination, acc.Denomination())
	}

	if coin.PrivKey == nil {
		return nil, errors.NewZerocoinInvalidError("coin has no spend key")
	}

	if !witness.Verify(acc) {
		return nil, errors.NewZerocoinInvalidError("witness does not verify against accumulator")
	}

	value := coin.PublicCoin.Value

	serialCommitment, err := NewCommitment(params.SerialGroup, value)
	if err != nil {
		return nil, err
	}

	accCommitment, err := NewCommitment(params.AccPoKGroup, value)
	if err != nil {
		return nil, err
	}

	pok, err := NewCommitmentProofOfKnowledge(serialCommitment, accCommitment, params.MaxCoinValue.BitLen())
	if err != nil {
		return nil, err
	}

	accPoK, err := NewAccumulatorProofOfKnowledge(params, accCommitment, witness, acc)
	if err != nil {
		return nil, err
	}

	sok, err := NewSerialNumberSignatureOfKnowledge(params, coin, serialCommitment, ptxHash)
	if err != nil {
		return nil, err
	}

	spend := &CoinSpend{
		Version:          coin.Version,
		Denomination:     coin.PublicCoin.Denomination,
		AccChecksum:      checksum,
		PtxHash:          ptxHash,
		CoinSerial:       new(big.Int).Set(coin.Serial),
		SerialCommitment: serialCommitment.Value,
		AccCommitment:    accCommitment.Value,
		CommitmentPoK:    pok,
		AccPoK:           accPoK,
		SerialSoK:        sok,
		PubKey:           coin.PubKey(),
	}

	sigHash := spend.SignatureHash()

	sig, err := coin.PrivKey.Sign(sigHash[:])
	if err != nil {
		return nil, errors.NewProcessingError("failed to sign coin spend", err)
	}

	spend.Signature = sig.Serialise()

	return spend, nil
}

// SignatureHash is the digest signed by the spend key.
func (cs *CoinSpend) SignatureHash() chainhash.Hash {
	serial := hashFromInt(cs.CoinSerial)

	buf := make([]byte, 0, 128)
	buf = append(buf, cs.PtxHash[:]...)
	buf = append(buf, serial[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, cs.AccChecksum)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(cs.Denomination))
	buf = util.AppendVarBytes(buf, cs.SerialCommitment.Bytes())
	buf = util.AppendVarBytes(buf, cs.AccCommitment.Bytes())

	return chainhash.DoubleHashH(buf)
}

// SerialHash is the key of this spend in the spend index.
func (cs *CoinSpend) SerialHash() chainhash.Hash {
	return SerialHash(cs.CoinSerial)
}

// HasValidSerial checks that the serial lies in (0, Q).
func (cs *CoinSpend) HasValidSerial(params *Params) bool {
	return cs.CoinSerial != nil && IsValidSerial(params, cs.CoinSerial)
}

// VerifyAccumulator checks membership of the coin in the accumulator value.
func (cs *CoinSpend) VerifyAccumulator(params *Params, accValue *big.Int) bool {
	return cs.AccPoK != nil && cs.AccPoK.Verify(params, accValue, cs.AccCommitment)
}

// VerifyCommitments checks that both coin commitments open to one value.
func (cs *CoinSpend) VerifyCommitments(params *Params) bool {
	return cs.CommitmentPoK != nil &&
		cs.CommitmentPoK.Verify(params.SerialGroup, cs.SerialCommitment, params.AccPoKGroup, cs.AccCommitment)
}

// VerifySignatureOfKnowledge checks the serial signature over PtxHash.
func (cs *CoinSpend) VerifySignatureOfKnowledge(params *Params) bool {
	return cs.SerialSoK != nil && cs.SerialSoK.Verify(params, cs.CoinSerial, cs.SerialCommitment, cs.PtxHash)
}

// HasValidPubKey checks that the public key hashes to the serial.
func (cs *CoinSpend) HasValidPubKey() bool {
	if len(cs.PubKey) == 0 || !HasValidSerialNybble(cs.CoinSerial) {
		return false
	}

	return SerialFromPubKey(cs.PubKey).Cmp(cs.CoinSerial) == 0
}

// HasValidSignature checks the spend key signature.
func (cs *CoinSpend) HasValidSignature() bool {
	pub, err := bec.ParsePubKey(cs.PubKey, bec.S256())
	if err != nil {
		return false
	}

	sig, err := bec.ParseDERSignature(cs.Signature, bec.S256())
	if err != nil {
		return false
	}

	sigHash := cs.SignatureHash()

	return sig.Verify(sigHash[:], pub)
}

// Verify runs every check that does not need chain context against the
// accumulator value the spend cites.
func (cs *CoinSpend) Verify(params *Params, accValue *big.Int) error {
	switch {
	case !cs.HasValidSerial(params):
		return errors.NewZerocoinInvalidError("invalid serial")
	case !cs.Denomination.IsValid():
		return errors.NewZerocoinInvalidError("invalid denomination %d", cs.Denomination)
	case !cs.VerifyAccumulator(params, accValue):
		return errors.NewZerocoinInvalidError("accumulator membership proof failed")
	case !cs.VerifyCommitments(params):
		return errors.NewZerocoinInvalidError("commitment proof failed")
	case !cs.VerifySignatureOfKnowledge(params):
		return errors.NewZerocoinInvalidError("serial signature of knowledge failed")
	case !cs.HasValidPubKey():
		return errors.NewZerocoinInvalidError("public key does not match serial")
	case !cs.HasValidSignature():
		return errors.NewZerocoinInvalidError("invalid spend signature")
	}

	return nil
}

func (cs *CoinSpend) Serialize(w io.Writer) error {
	if err := util.WriteUint8(w, cs.Version); err != nil {
		return err
	}

	if err := util.WriteUint64(w, uint64(cs.Denomination)); err != nil {
		return err
	}

	if err := util.WriteUint32(w, cs.AccChecksum); err != nil {
		return err
	}

	if _, err := w.Write(cs.PtxHash[:]); err != nil {
		return err
	}

	if err := writeInts(w, cs.CoinSerial, cs.SerialCommitment, cs.AccCommitment); err != nil {
		return err
	}

	if err := cs.CommitmentPoK.Serialize(w); err != nil {
		return err
	}

	if err := cs.AccPoK.Serialize(w); err != nil {
		return err
	}

	if err := cs.SerialSoK.Serialize(w); err != nil {
		return err
	}

	if err := util.WriteVarBytes(w, cs.PubKey); err != nil {
		return err
	}

	return util.WriteVarBytes(w, cs.Signature)
}

func (cs *CoinSpend) Deserialize(r io.Reader) error {
	var err error

	if cs.Version, err = util.ReadUint8(r); err != nil {
		return err
	}

	denom, err := util.ReadUint64(r)
	if err != nil {
		return err
	}

	cs.Denomination = Denomination(denom)

	if cs.AccChecksum, err = util.ReadUint32(r); err != nil {
		return err
	}

	if _, err = io.ReadFull(r, cs.PtxHash[:]); err != nil {
		return errors.NewProcessingError("failed to read spend transaction hash", err)
	}

	if err = readInts(r, &cs.CoinSerial, &cs.SerialCommitment, &cs.AccCommitment); err != nil {
		return err
	}

	cs.CommitmentPoK = &CommitmentProofOfKnowledge{}
	if err = cs.CommitmentPoK.Deserialize(r); err != nil {
		return err
	}

	cs.AccPoK = &AccumulatorProofOfKnowledge{}
	if err = cs.AccPoK.Deserialize(r); err != nil {
		return err
	}

	cs.SerialSoK = &SerialNumberSignatureOfKnowledge{}
	if err = cs.SerialSoK.Deserialize(r); err != nil {
		return err
	}

	if cs.PubKey, err = util.ReadVarBytes(r, 65, "spend public key"); err != nil {
		return err
	}

	cs.Signature, err = util.ReadVarBytes(r, 80, "spend signature")

	return err
}

func (cs *CoinSpend) Bytes() []byte {
	var buf bytes.Buffer

	_ = cs.Serialize(&buf)

	return buf.Bytes()
}

// NewCoinSpendFromBytes parses a serialized spend.
func NewCoinSpendFromBytes(b []byte) (*CoinSpend, error) {
	r := bytes.NewReader(b)

	cs := &CoinSpend{}
	if err := cs.Deserialize(r); err != nil {
		return nil, errors.NewZerocoinInvalidError("malformed coin spend", err)
	}

	if r.Len() != 0 {
		return nil, errors.NewZerocoinInvalidError("trailing data after coin spend")
	}

	return cs, nil
}
