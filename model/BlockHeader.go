package model

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
)

const (
	// BlockHeaderLen is the length of a header without the accumulator
	// checkpoint.
	BlockHeaderLen = 80

	// ZerocoinBlockHeaderLen is the length of a header that carries an
	// accumulator checkpoint.
	ZerocoinBlockHeaderLen = BlockHeaderLen + chainhash.HashSize

	// ZerocoinHeaderVersion is the first header version that carries the
	// accumulator checkpoint.
	ZerocoinHeaderVersion int32 = 4
)

type BlockHeader struct {
	// Version of the block. This is not the same as the protocol version.
	Version int32

	// Hash of the previous block header in the blockchain.
	HashPrevBlock chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	HashMerkleRoot chainhash.Hash

	// Time the block was created in unix time.
	Timestamp uint32

	// Difficulty target for the block in compact form.
	Bits uint32

	// Nonce used to generate the block.
	Nonce uint32

	// Digest of the per denomination zerocoin accumulators, present when
	// Version >= ZerocoinHeaderVersion.
	AccumulatorCheckpoint chainhash.Hash
}

func NewBlockHeaderFromBytes(headerBytes []byte) (*BlockHeader, error) {
	r := bytes.NewReader(headerBytes)

	bh := &BlockHeader{}
	if err := bh.Deserialize(r); err != nil {
		return nil, errors.NewProcessingError("error reading block header", err)
	}

	if r.Len() != 0 {
		return nil, errors.NewProcessingError("block header has %d trailing bytes", r.Len())
	}

	return bh, nil
}

func NewBlockHeaderFromString(headerHex string) (*BlockHeader, error) {
	headerBytes, err := hex.DecodeString(headerHex)
	if err != nil {
		return nil, errors.NewProcessingError("error decoding hex string to bytes", err)
	}

	return NewBlockHeaderFromBytes(headerBytes)
}

func (bh *BlockHeader) HasAccumulatorCheckpoint() bool {
	return bh.Version >= ZerocoinHeaderVersion
}

func (bh *BlockHeader) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(bh.Bytes())
}

func (bh *BlockHeader) Time() time.Time {
	return time.Unix(int64(bh.Timestamp), 0)
}

func (bh *BlockHeader) SerializeSize() int {
	if bh.HasAccumulatorCheckpoint() {
		return ZerocoinBlockHeaderLen
	}

	return BlockHeaderLen
}

func (bh *BlockHeader) Bytes() []byte {
	b := make([]byte, 0, bh.SerializeSize())

	b = binary.LittleEndian.AppendUint32(b, uint32(bh.Version))
	b = append(b, bh.HashPrevBlock[:]...)
	b = append(b, bh.HashMerkleRoot[:]...)
	b = binary.LittleEndian.AppendUint32(b, bh.Timestamp)
	b = binary.LittleEndian.AppendUint32(b, bh.Bits)
	b = binary.LittleEndian.AppendUint32(b, bh.Nonce)

	if bh.HasAccumulatorCheckpoint() {
		b = append(b, bh.AccumulatorCheckpoint[:]...)
	}

	return b
}

func (bh *BlockHeader) Serialize(w io.Writer) error {
	_, err := w.Write(bh.Bytes())
	return err
}

func (bh *BlockHeader) Deserialize(r io.Reader) error {
	var buf [BlockHeaderLen]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	bh.Version = int32(binary.LittleEndian.Uint32(buf[0:4]))
	copy(bh.HashPrevBlock[:], buf[4:36])
	copy(bh.HashMerkleRoot[:], buf[36:68])
	bh.Timestamp = binary.LittleEndian.Uint32(buf[68:72])
	bh.Bits = binary.LittleEndian.Uint32(buf[72:76])
	bh.Nonce = binary.LittleEndian.Uint32(buf[76:80])

	if bh.HasAccumulatorCheckpoint() {
		if _, err := io.ReadFull(r, bh.AccumulatorCheckpoint[:]); err != nil {
			return err
		}
	} else {
		bh.AccumulatorCheckpoint = chainhash.Hash{}
	}

	return nil
}

func (bh *BlockHeader) StringDump() string {
	h := bh.Hash()

	return "hash: " + h.String() +
		"\nversion: " + itoa(int64(bh.Version)) +
		"\nprev: " + bh.HashPrevBlock.String() +
		"\nmerkle: " + bh.HashMerkleRoot.String() +
		"\ntime: " + itoa(int64(bh.Timestamp)) +
		"\nbits: " + hex.EncodeToString(binary.BigEndian.AppendUint32(nil, bh.Bits)) +
		"\nnonce: " + itoa(int64(bh.Nonce)) +
		"\naccumulator checkpoint: " + bh.AccumulatorCheckpoint.String()
}
