package zerocoin

import (
	"bytes"
	"context"
	"io"
	"math/big"
	"net/url"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util"
)

// maxAccumulatorBytes bounds a stored accumulator value.
const maxAccumulatorBytes = 1024

type Store struct {
	logger ulogger.Logger
	db     kvstore.Store
}

// NewStore opens the zerocoin database at storeURL.
func NewStore(logger ulogger.Logger, storeURL *url.URL, cacheBytes int, wipe bool) (*Store, error) {
	db, err := kvstore.NewStore(logger, "zerocoin", storeURL, kvstore.Options{CacheBytes: cacheBytes, Wipe: wipe})
	if err != nil {
		return nil, err
	}

	return New(logger, db), nil
}

func New(logger ulogger.Logger, db kvstore.Store) *Store {
	return &Store{logger: logger, db: db}
}

func (s *Store) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	return s.db.Health(ctx, checkLiveness)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func mintKey(pubCoinHash chainhash.Hash) []byte {
	return kvstore.Key(kvstore.PrefixMint, pubCoinHash[:])
}

func spendKey(serialHash chainhash.Hash) []byte {
	return kvstore.Key(kvstore.PrefixSpend, serialHash[:])
}

func accumulatorKey(checksum uint32) []byte {
	return kvstore.Uint32Key(kvstore.PrefixAccumulator, checksum)
}

func encodeLocation(txHash chainhash.Hash, denom libzerocoin.Denomination, height int32) []byte {
	b := make([]byte, 0, chainhash.HashSize+10)
	b = append(b, txHash[:]...)
	b = util.AppendVarInt(b, uint64(denom))

	return util.AppendVarInt(b, uint64(height))
}

func decodeLocation(v []byte) (txHash chainhash.Hash, denom libzerocoin.Denomination, height int32, err error) {
	r := bytes.NewReader(v)

	if _, err = io.ReadFull(r, txHash[:]); err != nil {
		return txHash, 0, 0, errors.NewCorruptionError("truncated zerocoin index record", err)
	}

	d, err := util.ReadVarInt(r)
	if err != nil {
		return txHash, 0, 0, errors.NewCorruptionError("truncated zerocoin index record", err)
	}

	h, err := util.ReadVarInt(r)
	if err != nil || h > 0x7fffffff {
		return txHash, 0, 0, errors.NewCorruptionError("bad zerocoin index height", err)
	}

	return txHash, libzerocoin.Denomination(d), int32(h), nil
}

func encodeAccumulator(rec *AccumulatorRecord) []byte {
	b := util.AppendVarBytes(nil, rec.Value.Bytes())
	return util.AppendVarInt(b, uint64(rec.Height))
}

// WriteBlock records the index changes of a connected block in one batch.
// Accumulator checksums already recorded keep their first height.
func (s *Store) WriteBlock(records *BlockRecords) error {
	if records.Empty() {
		return nil
	}

	batch := kvstore.NewBatch()

	for _, m := range records.Mints {
		batch.Put(mintKey(m.PubCoinHash), encodeLocation(m.TxHash, m.Denomination, m.Height))
	}

	for _, sp := range records.Spends {
		batch.Put(spendKey(sp.SerialHash), encodeLocation(sp.TxHash, sp.Denomination, sp.Height))
	}

	for i := range records.Accumulators {
		rec := &records.Accumulators[i]

		has, err := s.db.Has(accumulatorKey(rec.Checksum))
		if err != nil {
			return err
		}

		if !has {
			batch.Put(accumulatorKey(rec.Checksum), encodeAccumulator(rec))
		}
	}

	return s.db.Write(batch, true)
}

// EraseBlock removes the index changes of a disconnected block. Accumulator
// records are only erased when they were first written at that block.
func (s *Store) EraseBlock(records *BlockRecords) error {
	batch := kvstore.NewBatch()

	for _, m := range records.Mints {
		batch.Delete(mintKey(m.PubCoinHash))
	}

	for _, sp := range records.Spends {
		batch.Delete(spendKey(sp.SerialHash))
	}

	for _, rec := range records.Accumulators {
		stored, err := s.ReadAccumulator(rec.Checksum)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		} else if err != nil {
			return err
		}

		if stored.Height == rec.Height {
			batch.Delete(accumulatorKey(rec.Checksum))
		}
	}

	if batch.Len() == 0 {
		return nil
	}

	return s.db.Write(batch, true)
}

// ReadMint returns the mint of a pubcoin; a NOT_FOUND error when unknown.
func (s *Store) ReadMint(pubCoinHash chainhash.Hash) (*MintRecord, error) {
	v, err := s.db.Get(mintKey(pubCoinHash))
	if err != nil {
		return nil, err
	}

	txHash, denom, height, err := decodeLocation(v)
	if err != nil {
		return nil, err
	}

	return &MintRecord{PubCoinHash: pubCoinHash, TxHash: txHash, Denomination: denom, Height: height}, nil
}

func (s *Store) HasMint(pubCoinHash chainhash.Hash) (bool, error) {
	return s.db.Has(mintKey(pubCoinHash))
}

// ReadSpend returns the spend of a serial; a NOT_FOUND error when unspent.
func (s *Store) ReadSpend(serialHash chainhash.Hash) (*SpendRecord, error) {
	v, err := s.db.Get(spendKey(serialHash))
	if err != nil {
		return nil, err
	}

	txHash, denom, height, err := decodeLocation(v)
	if err != nil {
		return nil, err
	}

	return &SpendRecord{SerialHash: serialHash, TxHash: txHash, Denomination: denom, Height: height}, nil
}

// IsSpent reports whether a serial was revealed in the active chain.
func (s *Store) IsSpent(serialHash chainhash.Hash) (bool, error) {
	return s.db.Has(spendKey(serialHash))
}

// ReadAccumulator returns the accumulator behind a checksum.
func (s *Store) ReadAccumulator(checksum uint32) (*AccumulatorRecord, error) {
	v, err := s.db.Get(accumulatorKey(checksum))
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(v)

	value, err := util.ReadVarBytes(r, maxAccumulatorBytes, "accumulator")
	if err != nil {
		return nil, errors.NewCorruptionError("bad accumulator record %08x", checksum, err)
	}

	height, err := util.ReadVarInt(r)
	if err != nil || height > 0x7fffffff {
		return nil, errors.NewCorruptionError("bad accumulator record %08x height", checksum, err)
	}

	rec := &AccumulatorRecord{Checksum: checksum, Value: new(big.Int).SetBytes(value), Height: int32(height)}

	if libzerocoin.AccumulatorChecksum(rec.Value) != checksum {
		return nil, errors.NewCorruptionError("accumulator record %08x does not match its checksum", checksum)
	}

	return rec, nil
}

// CountMints walks the mint index, per denomination.
func (s *Store) CountMints() (map[libzerocoin.Denomination]int, error) {
	counts := make(map[libzerocoin.Denomination]int)

	iter := s.db.NewIterator([]byte{kvstore.PrefixMint})
	defer iter.Release()

	for iter.Next() {
		_, denom, _, err := decodeLocation(iter.Value())
		if err != nil {
			return nil, err
		}

		counts[denom]++
	}

	return counts, iter.Error()
}

// Wipe empties every namespace, for reindexing.
func (s *Store) Wipe() error {
	batch := kvstore.NewBatch()

	for _, prefix := range []byte{kvstore.PrefixMint, kvstore.PrefixSpend, kvstore.PrefixAccumulator} {
		iter := s.db.NewIterator([]byte{prefix})

		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}

		err := iter.Error()
		iter.Release()

		if err != nil {
			return err
		}
	}

	s.logger.Infof("[zerocoin] wiping %d index records", batch.Len())

	return s.db.Write(batch, true)
}
