package model

import (
	"bytes"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/util"
)

// maxBlockSignatureSize bounds the DER encoded block signature.
const maxBlockSignatureSize = 80

type Block struct {
	Header       *BlockHeader
	Transactions []*Tx

	// Signature over the block hash by the staker, present for
	// proof-of-stake blocks only.
	Signature []byte
}

func NewBlock(header *BlockHeader, txs []*Tx) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

func NewBlockFromBytes(blockBytes []byte) (*Block, error) {
	r := bytes.NewReader(blockBytes)

	block := &Block{}
	if err := block.Deserialize(r); err != nil {
		return nil, errors.NewProcessingError("error reading block", err)
	}

	if r.Len() != 0 {
		return nil, errors.NewProcessingError("block has %d trailing bytes", r.Len())
	}

	return block, nil
}

func (b *Block) Hash() chainhash.Hash {
	return b.Header.Hash()
}

// IsProofOfStake reports whether the second transaction is a coinstake.
func (b *Block) IsProofOfStake() bool {
	return len(b.Transactions) > 1 && b.Transactions[1].IsCoinStake()
}

func (b *Block) IsProofOfWork() bool {
	return !b.IsProofOfStake()
}

// TxHashes returns the hashes of the block's transactions in order.
func (b *Block) TxHashes() []chainhash.Hash {
	hashes := make([]chainhash.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.TxHash()
	}

	return hashes
}

// BuildMerkleRoot computes the merkle root of the block's transactions and
// whether the tree is mutated by duplicate subtrees.
func (b *Block) BuildMerkleRoot() (chainhash.Hash, bool) {
	return BuildMerkleRoot(b.TxHashes())
}

func (b *Block) SerializeSize() int {
	n := b.Header.SerializeSize() + util.CompactSizeLen(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		n += tx.SerializeSize()
	}

	if b.IsProofOfStake() {
		n += util.CompactSizeLen(uint64(len(b.Signature))) + len(b.Signature)
	}

	return n
}

func (b *Block) Bytes() []byte {
	buf := make([]byte, 0, b.SerializeSize())
	buf = append(buf, b.Header.Bytes()...)
	buf = util.AppendCompactSize(buf, uint64(len(b.Transactions)))

	for _, tx := range b.Transactions {
		buf = append(buf, tx.Bytes()...)
	}

	if b.IsProofOfStake() {
		buf = util.AppendVarBytes(buf, b.Signature)
	}

	return buf
}

func (b *Block) Serialize(w io.Writer) error {
	_, err := w.Write(b.Bytes())
	return err
}

func (b *Block) Deserialize(r io.Reader) error {
	b.Header = &BlockHeader{}
	if err := b.Header.Deserialize(r); err != nil {
		return err
	}

	count, err := util.ReadCompactSize(r)
	if err != nil {
		return err
	}

	b.Transactions = make([]*Tx, 0, capHint(count))

	for i := uint64(0); i < count; i++ {
		tx := &Tx{}
		if err = tx.Deserialize(r); err != nil {
			return errors.NewProcessingError("error reading transaction %d", i, err)
		}

		b.Transactions = append(b.Transactions, tx)
	}

	b.Signature = nil

	if b.IsProofOfStake() {
		if b.Signature, err = util.ReadVarBytes(r, maxBlockSignatureSize, "block signature"); err != nil {
			return err
		}
	}

	return nil
}

func (b *Block) String() string {
	return hex.EncodeToString(b.Bytes())
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
