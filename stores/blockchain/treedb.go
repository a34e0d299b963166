package blockchain

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/stores/blockfile"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util"
)

// diskIndexVersion is written at the start of every stored entry.
const diskIndexVersion = 1

// Proof-of-stake flags of a stored entry.
const (
	flagProofOfStake uint64 = 1 << 0
)

// TreeDB is the kvstore backed Store.
type TreeDB struct {
	logger ulogger.Logger
	db     kvstore.Store
}

// NewStore opens the block tree database at storeURL.
func NewStore(logger ulogger.Logger, storeURL *url.URL, cacheBytes int) (*TreeDB, error) {
	db, err := kvstore.NewStore(logger, "blocks/index", storeURL, kvstore.Options{CacheBytes: cacheBytes})
	if err != nil {
		return nil, err
	}

	return NewTreeDB(logger, db), nil
}

func NewTreeDB(logger ulogger.Logger, db kvstore.Store) *TreeDB {
	return &TreeDB{logger: logger, db: db}
}

func (t *TreeDB) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	return t.db.Health(ctx, checkLiveness)
}

func (t *TreeDB) Close() error {
	return t.db.Close()
}

// EncodeBlockIndex serialises an entry: version, height, status, tx count,
// file and positions as present, stake fields, then the header.
func EncodeBlockIndex(bi *BlockIndex) []byte {
	status := bi.Status()

	b := make([]byte, 0, 160)
	b = util.AppendVarInt(b, diskIndexVersion)
	b = util.AppendVarInt(b, uint64(bi.Height))
	b = util.AppendVarInt(b, uint64(status))
	b = util.AppendVarInt(b, uint64(bi.TxCount))

	if status&BlockHaveMask != 0 {
		b = util.AppendVarInt(b, uint64(bi.File))
	}

	if status&BlockHaveData != 0 {
		b = util.AppendVarInt(b, uint64(bi.DataPos))
	}

	if status&BlockHaveUndo != 0 {
		b = util.AppendVarInt(b, uint64(bi.UndoPos))
	}

	var flags uint64
	if bi.ProofOfStake {
		flags |= flagProofOfStake
	}

	b = util.AppendVarInt(b, flags)
	b = util.AppendVarInt(b, bi.StakeModifier)

	if bi.ProofOfStake {
		b = append(b, bi.KernelOutPoint.Hash[:]...)
		b = util.AppendVarInt(b, uint64(bi.KernelOutPoint.Index))
	}

	return append(b, bi.Header.Bytes()...)
}

// DecodeBlockIndex is the inverse of EncodeBlockIndex.
func DecodeBlockIndex(hash chainhash.Hash, data []byte) (*BlockIndex, error) {
	r := bytes.NewReader(data)

	var fields [4]uint64

	for i := range fields {
		v, err := util.ReadVarInt(r)
		if err != nil {
			return nil, errors.NewCorruptionError("block index %s: truncated", hash, err)
		}

		fields[i] = v
	}

	if fields[1] > 0x7fffffff || fields[2] > 0xffffffff || fields[3] > 0xffffffff {
		return nil, errors.NewCorruptionError("block index %s: field out of range", hash)
	}

	bi := &BlockIndex{
		Hash:    hash,
		Height:  int32(fields[1]),
		TxCount: uint32(fields[3]),
		File:    -1,
	}

	status := uint32(fields[2])
	bi.SetStatus(status)

	readU32 := func(what string) (uint32, error) {
		v, err := util.ReadVarInt(r)
		if err != nil || v > 0xffffffff {
			return 0, errors.NewCorruptionError("block index %s: bad %s", hash, what)
		}

		return uint32(v), nil
	}

	var err error

	if status&BlockHaveMask != 0 {
		var f uint32
		if f, err = readU32("file"); err != nil {
			return nil, err
		}

		bi.File = int32(f)
	}

	if status&BlockHaveData != 0 {
		if bi.DataPos, err = readU32("data position"); err != nil {
			return nil, err
		}
	}

	if status&BlockHaveUndo != 0 {
		if bi.UndoPos, err = readU32("undo position"); err != nil {
			return nil, err
		}
	}

	flags, err := util.ReadVarInt(r)
	if err != nil {
		return nil, errors.NewCorruptionError("block index %s: bad flags", hash, err)
	}

	if bi.StakeModifier, err = util.ReadVarInt(r); err != nil {
		return nil, errors.NewCorruptionError("block index %s: bad stake modifier", hash, err)
	}

	if flags&flagProofOfStake != 0 {
		bi.ProofOfStake = true

		if _, err = io.ReadFull(r, bi.KernelOutPoint.Hash[:]); err != nil {
			return nil, errors.NewCorruptionError("block index %s: bad kernel", hash, err)
		}

		if bi.KernelOutPoint.Index, err = readU32("kernel index"); err != nil {
			return nil, err
		}
	}

	if err = bi.Header.Deserialize(r); err != nil {
		return nil, errors.NewCorruptionError("block index %s: bad header", hash, err)
	}

	if r.Len() != 0 {
		return nil, errors.NewCorruptionError("block index %s: %d trailing bytes", hash, r.Len())
	}

	return bi, nil
}

func (t *TreeDB) LoadBlockIndex() ([]*BlockIndex, error) {
	iter := t.db.NewIterator([]byte{kvstore.PrefixBlockIndex})
	defer iter.Release()

	var out []*BlockIndex

	for iter.Next() {
		key := iter.Key()
		if len(key) != 1+chainhash.HashSize {
			return nil, errors.NewCorruptionError("block index key of length %d", len(key))
		}

		var hash chainhash.Hash
		copy(hash[:], key[1:])

		bi, err := DecodeBlockIndex(hash, iter.Value())
		if err != nil {
			return nil, err
		}

		out = append(out, bi)
	}

	if err := iter.Error(); err != nil {
		return nil, errors.NewStorageError("failed iterating block index", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Height < out[j].Height })

	return out, nil
}

func (t *TreeDB) WriteBatchSync(files map[int32]*blockfile.FileInfo, lastFile int32, entries []*BlockIndex) error {
	batch := kvstore.NewBatch()

	for n, fi := range files {
		batch.Put(kvstore.Uint32Key(kvstore.PrefixFileInfo, uint32(n)), fi.Bytes())
	}

	batch.Put([]byte{kvstore.KeyLastBlockFile}, util.AppendVarInt(nil, uint64(lastFile)))

	for _, bi := range entries {
		batch.Put(kvstore.Key(kvstore.PrefixBlockIndex, bi.Hash[:]), EncodeBlockIndex(bi))
	}

	return t.db.Write(batch, true)
}

func (t *TreeDB) ReadLastBlockFile() (int32, bool, error) {
	v, err := t.db.Get([]byte{kvstore.KeyLastBlockFile})
	if errors.Is(err, errors.ErrNotFound) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}

	n, err := util.ReadVarInt(bytes.NewReader(v))
	if err != nil || n > 0x7fffffff {
		return 0, false, errors.NewCorruptionError("invalid last block file record")
	}

	return int32(n), true, nil
}

func (t *TreeDB) ReadBlockFileInfo(n int32) (*blockfile.FileInfo, error) {
	v, err := t.db.Get(kvstore.Uint32Key(kvstore.PrefixFileInfo, uint32(n)))
	if err != nil {
		return nil, err
	}

	return blockfile.NewFileInfoFromBytes(v)
}

func (t *TreeDB) ReadAllFileInfo() (map[int32]*blockfile.FileInfo, error) {
	iter := t.db.NewIterator([]byte{kvstore.PrefixFileInfo})
	defer iter.Release()

	out := make(map[int32]*blockfile.FileInfo)

	for iter.Next() {
		key := iter.Key()
		if len(key) != 5 {
			return nil, errors.NewCorruptionError("file info key of length %d", len(key))
		}

		fi, err := blockfile.NewFileInfoFromBytes(iter.Value())
		if err != nil {
			return nil, err
		}

		n := int32(uint32(key[1]) | uint32(key[2])<<8 | uint32(key[3])<<16 | uint32(key[4])<<24)
		out[n] = fi
	}

	return out, iter.Error()
}

func (t *TreeDB) WriteReindexing(reindexing bool) error {
	if reindexing {
		return t.db.Put([]byte{kvstore.KeyReindexing}, []byte{'1'}, true)
	}

	return t.db.Delete([]byte{kvstore.KeyReindexing}, true)
}

func (t *TreeDB) IsReindexing() (bool, error) {
	return t.db.Has([]byte{kvstore.KeyReindexing})
}

func (t *TreeDB) WriteFlag(name string, value bool) error {
	v := byte('0')
	if value {
		v = '1'
	}

	return t.db.Put(kvstore.FlagKey(name), []byte{v}, true)
}

func (t *TreeDB) ReadFlag(name string) (bool, bool, error) {
	v, err := t.db.Get(kvstore.FlagKey(name))
	if errors.Is(err, errors.ErrNotFound) {
		return false, false, nil
	} else if err != nil {
		return false, false, err
	}

	return len(v) == 1 && v[0] == '1', true, nil
}

func (t *TreeDB) WriteTxIndex(entries []TxIndexEntry) error {
	batch := kvstore.NewBatch()

	for _, e := range entries {
		var buf bytes.Buffer

		_, _ = e.Pos.Block.WriteTo(&buf)
		buf.Write(util.AppendVarInt(nil, uint64(e.Pos.TxOffset)))

		batch.Put(kvstore.Key(kvstore.PrefixTxIndex, e.Hash[:]), buf.Bytes())
	}

	return t.db.Write(batch, false)
}

func (t *TreeDB) ReadTxIndex(hash chainhash.Hash) (TxPos, error) {
	v, err := t.db.Get(kvstore.Key(kvstore.PrefixTxIndex, hash[:]))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return TxPos{}, errors.NewTxNotFoundError("tx %s not indexed", hash)
		}

		return TxPos{}, err
	}

	r := bytes.NewReader(v)

	pos, err := blockfile.ReadPos(r)
	if err != nil {
		return TxPos{}, errors.NewCorruptionError("bad tx index record for %s", hash, err)
	}

	off, err := util.ReadVarInt(r)
	if err != nil || off > 0xffffffff {
		return TxPos{}, errors.NewCorruptionError("bad tx index offset for %s", hash)
	}

	return TxPos{Block: pos, TxOffset: uint32(off)}, nil
}

func (t *TreeDB) Wipe() error {
	batch := kvstore.NewBatch()

	iter := t.db.NewIterator(nil)
	for iter.Next() {
		key := iter.Key()

		// named flags survive a reindex
		if len(key) > 0 && key[0] == kvstore.PrefixFlag {
			continue
		}

		batch.Delete(append([]byte(nil), key...))
	}

	iter.Release()

	if err := iter.Error(); err != nil {
		return errors.NewStorageError("failed iterating block tree", err)
	}

	t.logger.Infof("[blocktree] wiping %d records", batch.Len())

	return t.db.Write(batch, true)
}

// ReadTx reads a transaction located by the tx index from the block files.
func ReadTx(files *blockfile.Store, pos TxPos) (*model.Tx, error) {
	data, err := files.ReadBlockBytes(pos.Block)
	if err != nil {
		return nil, err
	}

	if int(pos.TxOffset) >= len(data) {
		return nil, errors.NewCorruptionError("tx offset %d beyond block of %d bytes", pos.TxOffset, len(data))
	}

	tx := &model.Tx{}
	if err := tx.Deserialize(bytes.NewReader(data[pos.TxOffset:])); err != nil {
		return nil, errors.NewCorruptionError("failed to decode indexed tx", err)
	}

	return tx, nil
}
