package blockchain

import (
	"context"
	"time"

	"github.com/tessacoin/tessanode/errors"
)

// FlushMode selects how eagerly FlushStateToDisk writes.
type FlushMode int

const (
	// FlushIfNeeded writes only when the coins cache is over its limit.
	FlushIfNeeded FlushMode = iota
	// FlushPeriodic also writes once the write interval has passed.
	FlushPeriodic
	// FlushAlways writes everything.
	FlushAlways
)

// coinsFlushFactor spaces full coins flushes relative to index writes.
const coinsFlushFactor = 24

// FlushStateToDisk persists the block files, the dirty index entries and,
// when due, the coins cache.
func (cs *ChainState) FlushStateToDisk(_ context.Context, mode FlushMode) error {
	cs.lock()
	defer cs.mu.Unlock()

	return cs.flushStateToDisk(mode)
}

// flushStateToDisk writes block files before the index entries that point
// into them, and the index before the coins whose best block it must know.
func (cs *ChainState) flushStateToDisk(mode FlushMode) error {
	now := time.Now()
	interval := cs.settings.Block.DatabaseWriteInterval

	cacheSize := int64(cs.coinsTip.DynamicMemoryUsage())
	overLimit := cacheSize > cs.settings.CoinsCacheBytes()

	periodicWrite := mode == FlushPeriodic && now.Sub(cs.lastWrite) > interval
	periodicFlush := mode == FlushPeriodic && now.Sub(cs.lastFlush) > interval*coinsFlushFactor

	doFlush := mode == FlushAlways || overLimit || periodicFlush
	doWrite := doFlush || periodicWrite

	if !doWrite {
		return nil
	}

	if err := cs.files.Flush(false); err != nil {
		return errors.NewStorageError("[chain] failed to flush block files", err)
	}

	info, lastFile := cs.files.TakeDirty()
	entries := cs.index.TakeDirty()

	if err := cs.treeDB.WriteBatchSync(info, lastFile, entries); err != nil {
		// put the entries back so a later flush retries them
		for _, bi := range entries {
			cs.index.MarkDirty(bi)
		}

		return errors.NewStorageError("[chain] failed to write block index", err)
	}

	cs.lastWrite = now

	if !doFlush {
		return nil
	}

	if err := cs.coinsTip.Flush(); err != nil {
		return errors.NewStorageError("[chain] failed to flush coins", err)
	}

	cs.lastFlush = now

	prometheusFlushes.Inc()
	prometheusCoinsCacheBytes.Set(0)

	cs.logger.Debugf("[chain] flushed %d index entries and %d bytes of coins", len(entries), cacheSize)

	return nil
}
