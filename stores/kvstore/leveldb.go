package kvstore

import (
	"context"
	"net/http"
	"sync"

	"github.com/btcsuite/goleveldb/leveldb"
	ldberrors "github.com/btcsuite/goleveldb/leveldb/errors"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/btcsuite/goleveldb/leveldb/storage"
	"github.com/btcsuite/goleveldb/leveldb/util"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
)

// Batch collects puts and deletes that are applied atomically.
type Batch struct {
	b leveldb.Batch
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.b.Put(key, value)
}

func (b *Batch) Delete(key []byte) {
	b.b.Delete(key)
}

func (b *Batch) Len() int {
	return b.b.Len()
}

func (b *Batch) Reset() {
	b.b.Reset()
}

// LevelDB is the goleveldb backed Store.
type LevelDB struct {
	logger ulogger.Logger
	name   string
	db     *leveldb.DB
	mu     sync.RWMutex
	closed bool
}

// Options configures a LevelDB store.
type Options struct {
	// CacheBytes is the block cache size.
	CacheBytes int
	// Wipe removes any existing content on open.
	Wipe bool
}

// New opens (creating if needed) a database at path.
func New(logger ulogger.Logger, name string, path string, opts Options) (*LevelDB, error) {
	o := &opt.Options{
		BlockCacheCapacity: opts.CacheBytes / 2,
		WriteBuffer:        opts.CacheBytes / 4,
		Compression:        opt.NoCompression,
	}

	if o.BlockCacheCapacity < opt.MiB {
		o.BlockCacheCapacity = opt.MiB
	}

	if o.WriteBuffer < opt.MiB {
		o.WriteBuffer = opt.MiB
	}

	db, err := leveldb.OpenFile(path, o)
	if err != nil {
		if ldberrors.IsCorrupted(err) {
			return nil, errors.NewCorruptionError("[%s] database at %s is corrupted", name, path, err)
		}

		return nil, errors.NewStorageError("[%s] failed to open database at %s", name, path, err)
	}

	s := &LevelDB{logger: logger, name: name, db: db}

	if opts.Wipe {
		if err := s.wipe(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Infof("[%s] opened database at %s", name, path)

	return s, nil
}

// NewMemory returns a store kept entirely in memory.
func NewMemory(logger ulogger.Logger, name string) *LevelDB {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		// opening a fresh memory storage only fails on programmer error
		panic(err)
	}

	return &LevelDB{logger: logger, name: name, db: db}
}

func (s *LevelDB) Health(_ context.Context, _ bool) (int, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return http.StatusServiceUnavailable, s.name + " closed", errors.NewStorageUnavailableError("[%s] database closed", s.name)
	}

	return http.StatusOK, s.name + " available", nil
}

func (s *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if err != nil {
		return nil, s.wrap("get", err)
	}

	return value, nil
}

func (s *LevelDB) Has(key []byte) (bool, error) {
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return false, s.wrap("has", err)
	}

	return ok, nil
}

func (s *LevelDB) Put(key, value []byte, sync bool) error {
	return s.wrap("put", s.db.Put(key, value, &opt.WriteOptions{Sync: sync}))
}

func (s *LevelDB) Delete(key []byte, sync bool) error {
	return s.wrap("delete", s.db.Delete(key, &opt.WriteOptions{Sync: sync}))
}

func (s *LevelDB) Write(batch *Batch, sync bool) error {
	if batch.Len() == 0 && !sync {
		return nil
	}

	return s.wrap("write batch", s.db.Write(&batch.b, &opt.WriteOptions{Sync: sync}))
}

func (s *LevelDB) NewIterator(prefix []byte) Iterator {
	var r *util.Range
	if len(prefix) > 0 {
		r = util.BytesPrefix(prefix)
	}

	return s.db.NewIterator(r, nil)
}

func (s *LevelDB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.wrap("close", s.db.Close())
}

func (s *LevelDB) wipe() error {
	batch := NewBatch()

	iter := s.NewIterator(nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}

	iter.Release()

	if err := iter.Error(); err != nil {
		return s.wrap("wipe", err)
	}

	s.logger.Infof("[%s] wiping %d keys", s.name, batch.Len())

	return s.Write(batch, true)
}

func (s *LevelDB) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case err == leveldb.ErrNotFound:
		return errors.NewNotFoundError("[%s] %s: key not found", s.name, op)
	case ldberrors.IsCorrupted(err):
		return errors.NewCorruptionError("[%s] %s failed", s.name, op, err)
	default:
		return errors.NewStorageError("[%s] %s failed", s.name, op, err)
	}
}
