package wire

import (
	"bytes"
	"io"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/tessacoin/tessanode/util"
)

const maxSporkSignatureSize = 80

// MsgSpork is a network policy switch signed by the spork key: the value
// of ID as of TimeSigned.
type MsgSpork struct {
	ID         int32
	Value      int64
	TimeSigned int64
	Signature  []byte
}

func (msg *MsgSpork) writeBody(w io.Writer) error {
	if err := util.WriteUint32(w, uint32(msg.ID)); err != nil {
		return err
	}

	if err := util.WriteUint64(w, uint64(msg.Value)); err != nil {
		return err
	}

	return util.WriteUint64(w, uint64(msg.TimeSigned))
}

// SigHash is the digest the spork key signs.
func (msg *MsgSpork) SigHash() chainhash.Hash {
	var buf bytes.Buffer

	_ = msg.writeBody(&buf)

	return chainhash.DoubleHashH(buf.Bytes())
}

// Hash identifies the spork in inventory.
func (msg *MsgSpork) Hash() chainhash.Hash {
	var buf bytes.Buffer

	_ = msg.Encode(&buf, ProtocolVersion)

	return chainhash.DoubleHashH(buf.Bytes())
}

// Sign signs the spork with key.
func (msg *MsgSpork) Sign(key *bec.PrivateKey) error {
	hash := msg.SigHash()

	sig, err := key.Sign(hash[:])
	if err != nil {
		return err
	}

	msg.Signature = sig.Serialise()

	return nil
}

// Verify reports whether the spork is signed by pubKey.
func (msg *MsgSpork) Verify(pubKey []byte) bool {
	pub, err := bec.ParsePubKey(pubKey, bec.S256())
	if err != nil {
		return false
	}

	sig, err := bec.ParseDERSignature(msg.Signature, bec.S256())
	if err != nil {
		return false
	}

	hash := msg.SigHash()

	return sig.Verify(hash[:], pub)
}

func (msg *MsgSpork) Decode(r io.Reader, _ uint32) error {
	id, err := util.ReadUint32(r)
	if err != nil {
		return err
	}

	value, err := util.ReadUint64(r)
	if err != nil {
		return err
	}

	timeSigned, err := util.ReadUint64(r)
	if err != nil {
		return err
	}

	msg.ID = int32(id)
	msg.Value = int64(value)
	msg.TimeSigned = int64(timeSigned)

	msg.Signature, err = util.ReadVarBytes(r, maxSporkSignatureSize, "spork signature")

	return err
}

func (msg *MsgSpork) Encode(w io.Writer, _ uint32) error {
	if err := msg.writeBody(w); err != nil {
		return err
	}

	return util.WriteVarBytes(w, msg.Signature)
}

func (msg *MsgSpork) Command() string {
	return CmdSpork
}

func (msg *MsgSpork) MaxPayloadLength(uint32) uint32 {
	return 4 + 8 + 8 + 1 + maxSporkSignatureSize
}
