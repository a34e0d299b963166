// Package zerocoin stores the public zerocoin indexes of the active chain:
// minted pubcoins, revealed serials and the accumulator values behind each
// checkpoint checksum.
package zerocoin

import (
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
)

// MintRecord locates the transaction that minted a pubcoin.
type MintRecord struct {
	PubCoinHash  chainhash.Hash
	TxHash       chainhash.Hash
	Denomination libzerocoin.Denomination
	Height       int32
}

// SpendRecord locates the transaction that revealed a serial.
type SpendRecord struct {
	SerialHash   chainhash.Hash
	TxHash       chainhash.Hash
	Denomination libzerocoin.Denomination
	Height       int32
}

// AccumulatorRecord is the accumulator value behind a checksum and the
// height of the first block whose header carried it.
type AccumulatorRecord struct {
	Checksum uint32
	Value    *big.Int
	Height   int32
}

// BlockRecords are the index changes of one connected block.
type BlockRecords struct {
	Mints        []MintRecord
	Spends       []SpendRecord
	Accumulators []AccumulatorRecord
}

func (r *BlockRecords) Empty() bool {
	return len(r.Mints) == 0 && len(r.Spends) == 0 && len(r.Accumulators) == 0
}
