package blockchain

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/stores/blockfile"
)

// Store persists the block index together with block file statistics, the
// reindex marker, named flags and the optional transaction index.
type Store interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)

	// LoadBlockIndex decodes every stored entry, ordered by height.
	LoadBlockIndex() ([]*BlockIndex, error)
	// WriteBatchSync atomically stores file statistics, the last file number
	// and index entries, syncing to disk.
	WriteBatchSync(files map[int32]*blockfile.FileInfo, lastFile int32, entries []*BlockIndex) error

	ReadLastBlockFile() (int32, bool, error)
	ReadBlockFileInfo(n int32) (*blockfile.FileInfo, error)
	ReadAllFileInfo() (map[int32]*blockfile.FileInfo, error)

	WriteReindexing(reindexing bool) error
	IsReindexing() (bool, error)

	WriteFlag(name string, value bool) error
	ReadFlag(name string) (value bool, found bool, err error)

	WriteTxIndex(entries []TxIndexEntry) error
	ReadTxIndex(hash chainhash.Hash) (TxPos, error)

	// Wipe removes every record, used when reindexing from block files.
	Wipe() error
	Close() error
}

// TxPos locates a confirmed transaction: the block payload position and
// the offset of the transaction within the block.
type TxPos struct {
	Block    blockfile.Pos
	TxOffset uint32
}

type TxIndexEntry struct {
	Hash chainhash.Hash
	Pos  TxPos
}
