package kvstore

import (
	"context"
)

// Store is an ordered byte-keyed store with atomic batches, prefix iterators
// and optionally synchronous writes. Get returns an error coded
// ERR_NOT_FOUND for missing keys.
type Store interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte, sync bool) error
	Delete(key []byte, sync bool) error
	Write(batch *Batch, sync bool) error
	NewIterator(prefix []byte) Iterator
	Close() error
}

// Iterator walks keys in ascending byte order. It must be released.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}
