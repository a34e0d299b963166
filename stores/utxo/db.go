package utxo

import (
	"context"
	"net/url"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/ulogger"
)

// DB is the bottom view, backed by the chainstate key/value store.
type DB struct {
	logger ulogger.Logger
	db     kvstore.Store
}

// NewStore opens the chainstate database at storeURL.
func NewStore(logger ulogger.Logger, storeURL *url.URL, cacheBytes int, wipe bool) (*DB, error) {
	db, err := kvstore.NewStore(logger, "chainstate", storeURL, kvstore.Options{CacheBytes: cacheBytes, Wipe: wipe})
	if err != nil {
		return nil, err
	}

	return NewDB(logger, db), nil
}

func NewDB(logger ulogger.Logger, db kvstore.Store) *DB {
	return &DB{logger: logger, db: db}
}

func (d *DB) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	return d.db.Health(ctx, checkLiveness)
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) GetCoins(hash chainhash.Hash) (*Coins, error) {
	v, err := d.db.Get(kvstore.Key(kvstore.PrefixCoins, hash[:]))
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return NewCoinsFromBytes(v)
}

func (d *DB) HaveCoins(hash chainhash.Hash) (bool, error) {
	return d.db.Has(kvstore.Key(kvstore.PrefixCoins, hash[:]))
}

func (d *DB) BestBlock() (chainhash.Hash, error) {
	v, err := d.db.Get([]byte{kvstore.KeyBestBlock})
	if errors.Is(err, errors.ErrNotFound) {
		return chainhash.Hash{}, nil
	} else if err != nil {
		return chainhash.Hash{}, err
	}

	if len(v) != chainhash.HashSize {
		return chainhash.Hash{}, errors.NewCorruptionError("best block record of length %d", len(v))
	}

	var hash chainhash.Hash
	copy(hash[:], v)

	return hash, nil
}

func (d *DB) BatchWrite(entries *EntryMap, bestBlock chainhash.Hash) error {
	batch := kvstore.NewBatch()

	var changed, erased int

	entries.Iter(func(hash chainhash.Hash, e *CacheEntry) bool {
		if e.Flags&Dirty == 0 {
			return false
		}

		key := kvstore.Key(kvstore.PrefixCoins, hash[:])

		if e.Coins.IsPruned() {
			batch.Delete(key)
			erased++
		} else {
			batch.Put(key, e.Coins.Bytes())
			changed++
		}

		return false
	})

	if bestBlock != (chainhash.Hash{}) {
		batch.Put([]byte{kvstore.KeyBestBlock}, bestBlock[:])
	}

	d.logger.Debugf("[chainstate] committing %d changed and %d erased coins to the coin database", changed, erased)

	return d.db.Write(batch, true)
}

// Stats summarises the coins set.
type Stats struct {
	BestBlock    chainhash.Hash
	Transactions uint64
	Outputs      uint64
	TotalAmount  int64
}

// GetStats walks every coins record.
func (d *DB) GetStats() (*Stats, error) {
	best, err := d.BestBlock()
	if err != nil {
		return nil, err
	}

	stats := &Stats{BestBlock: best}

	iter := d.db.NewIterator([]byte{kvstore.PrefixCoins})
	defer iter.Release()

	for iter.Next() {
		coins, err := NewCoinsFromBytes(iter.Value())
		if err != nil {
			return nil, err
		}

		stats.Transactions++

		for _, out := range coins.Outputs {
			if !out.IsNull() {
				stats.Outputs++
				stats.TotalAmount += out.Value
			}
		}
	}

	return stats, iter.Error()
}
