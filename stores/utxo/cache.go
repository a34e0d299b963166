package utxo

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dolthub/swiss"
	"github.com/tessacoin/tessanode/model"
)

const (
	initialCacheSize = 1024
	entryOverhead    = 64
)

// Cache is an in-memory view layered on a parent. Reads fall through to the
// parent and are cached; writes stay in the cache until Flush.
//
// A Cache is not safe for concurrent use; the chain-state lock owns it.
type Cache struct {
	parent    View
	entries   *EntryMap
	bestBlock chainhash.Hash
	hasBest   bool
	usage     int
}

func NewCache(parent View) *Cache {
	return &Cache{
		parent:  parent,
		entries: swiss.NewMap[chainhash.Hash, *CacheEntry](initialCacheSize),
	}
}

// fetch returns the cached entry for hash, pulling it from the parent on a
// miss. Misses in the parent are not cached.
func (c *Cache) fetch(hash chainhash.Hash) (*CacheEntry, error) {
	if e, ok := c.entries.Get(hash); ok {
		return e, nil
	}

	coins, err := c.parent.GetCoins(hash)
	if err != nil || coins == nil {
		return nil, err
	}

	e := &CacheEntry{Coins: coins}
	if coins.IsPruned() {
		e.Flags = Fresh
	}

	c.entries.Put(hash, e)
	c.usage += entryOverhead + coins.MemoryUsage()

	return e, nil
}

// GetCoins returns a copy of the coins of hash.
func (c *Cache) GetCoins(hash chainhash.Hash) (*Coins, error) {
	e, err := c.fetch(hash)
	if err != nil || e == nil {
		return nil, err
	}

	return e.Coins.Clone(), nil
}

// AccessCoins returns the cached coins of hash without copying. The result
// must not be modified and is only valid until the next mutation.
func (c *Cache) AccessCoins(hash chainhash.Hash) (*Coins, error) {
	e, err := c.fetch(hash)
	if err != nil || e == nil {
		return nil, err
	}

	return e.Coins, nil
}

// PeekCoins returns a copy of the coins of hash without caching a parent
// read, so concurrent readers never mutate the cache.
func (c *Cache) PeekCoins(hash chainhash.Hash) (*Coins, error) {
	if e, ok := c.entries.Get(hash); ok {
		return e.Coins.Clone(), nil
	}

	return c.parent.GetCoins(hash)
}

func (c *Cache) HaveCoins(hash chainhash.Hash) (bool, error) {
	e, err := c.fetch(hash)
	if err != nil || e == nil {
		return false, err
	}

	return !e.Coins.IsPruned(), nil
}

// HaveCoinsInCache reports whether hash is cached, without consulting the
// parent.
func (c *Cache) HaveCoinsInCache(hash chainhash.Hash) bool {
	e, ok := c.entries.Get(hash)

	return ok && !e.Coins.IsPruned()
}

// Modify applies fn to the coins of hash, creating an empty entry when none
// exists. The entry becomes dirty; a fresh entry left pruned is dropped
// because the parent never knew it.
func (c *Cache) Modify(hash chainhash.Hash, fn func(coins *Coins) error) error {
	e, err := c.fetch(hash)
	if err != nil {
		return err
	}

	if e == nil {
		e = &CacheEntry{Coins: &Coins{}, Flags: Fresh}
		c.entries.Put(hash, e)
		c.usage += entryOverhead
	}

	before := e.Coins.MemoryUsage()

	if err = fn(e.Coins); err != nil {
		return err
	}

	e.Coins.Cleanup()
	e.Flags |= Dirty
	c.usage += e.Coins.MemoryUsage() - before

	if e.Flags&Fresh != 0 && e.Coins.IsPruned() {
		c.entries.Delete(hash)
		c.usage -= entryOverhead + e.Coins.MemoryUsage()
	}

	return nil
}

// ModifyNew installs coins for a transaction known not to have unspent coins
// in any parent, skipping the parent lookup.
func (c *Cache) ModifyNew(hash chainhash.Hash, coins *Coins) {
	if old, ok := c.entries.Get(hash); ok {
		c.usage -= old.Coins.MemoryUsage()
		old.Coins = coins
		old.Flags |= Dirty
		c.usage += coins.MemoryUsage()

		return
	}

	if coins.IsPruned() {
		return
	}

	c.entries.Put(hash, &CacheEntry{Coins: coins, Flags: Dirty | Fresh})
	c.usage += entryOverhead + coins.MemoryUsage()
}

// Uncache drops an unmodified entry.
func (c *Cache) Uncache(hash chainhash.Hash) {
	if e, ok := c.entries.Get(hash); ok && e.Flags == 0 {
		c.entries.Delete(hash)
		c.usage -= entryOverhead + e.Coins.MemoryUsage()
	}
}

// GetOutput returns the unspent output referenced by op.
func (c *Cache) GetOutput(op model.OutPoint) (*model.TxOut, error) {
	coins, err := c.AccessCoins(op.Hash)
	if err != nil {
		return nil, err
	}

	if coins == nil {
		return nil, nil
	}

	out, _ := coins.Output(op.Index)

	return out, nil
}

// HaveInputs reports whether every transparent input of tx is unspent.
func (c *Cache) HaveInputs(tx *model.Tx) (bool, error) {
	if tx.IsCoinBase() || tx.IsZerocoinSpend() {
		return true, nil
	}

	for _, in := range tx.TxIn {
		out, err := c.GetOutput(in.PreviousOutPoint)
		if err != nil {
			return false, err
		}

		if out == nil {
			return false, nil
		}
	}

	return true, nil
}

// ValueIn sums the values of the transparent inputs of tx.
func (c *Cache) ValueIn(tx *model.Tx) (int64, error) {
	if tx.IsCoinBase() || tx.IsZerocoinSpend() {
		return 0, nil
	}

	var total int64

	for _, in := range tx.TxIn {
		out, err := c.GetOutput(in.PreviousOutPoint)
		if err != nil {
			return 0, err
		}

		if out == nil {
			return 0, ErrMissingInputs
		}

		var ok bool
		if total, ok = model.AddMoney(total, out.Value); !ok {
			return 0, ErrMissingInputs
		}
	}

	return total, nil
}

func (c *Cache) BestBlock() (chainhash.Hash, error) {
	if !c.hasBest {
		best, err := c.parent.BestBlock()
		if err != nil {
			return chainhash.Hash{}, err
		}

		c.bestBlock = best
		c.hasBest = true
	}

	return c.bestBlock, nil
}

func (c *Cache) SetBestBlock(hash chainhash.Hash) {
	c.bestBlock = hash
	c.hasBest = true
}

// BatchWrite merges a child's entries into this cache.
func (c *Cache) BatchWrite(child *EntryMap, bestBlock chainhash.Hash) error {
	child.Iter(func(hash chainhash.Hash, ce *CacheEntry) bool {
		if ce.Flags&Dirty == 0 {
			return false
		}

		pe, ok := c.entries.Get(hash)
		if !ok {
			// the child's fresh-and-pruned entries never reach the parent
			if ce.Flags&Fresh == 0 || !ce.Coins.IsPruned() {
				ne := &CacheEntry{Coins: ce.Coins, Flags: Dirty}
				if ce.Flags&Fresh != 0 {
					ne.Flags |= Fresh
				}

				c.entries.Put(hash, ne)
				c.usage += entryOverhead + ce.Coins.MemoryUsage()
			}

			return false
		}

		if pe.Flags&Fresh != 0 && ce.Coins.IsPruned() {
			c.usage -= entryOverhead + pe.Coins.MemoryUsage()
			c.entries.Delete(hash)

			return false
		}

		c.usage += ce.Coins.MemoryUsage() - pe.Coins.MemoryUsage()
		pe.Coins = ce.Coins
		pe.Flags |= Dirty

		return false
	})

	c.SetBestBlock(bestBlock)

	return nil
}

// Flush pushes every modification to the parent and empties the cache.
func (c *Cache) Flush() error {
	best, err := c.BestBlock()
	if err != nil {
		return err
	}

	if err = c.parent.BatchWrite(c.entries, best); err != nil {
		return err
	}

	c.entries = swiss.NewMap[chainhash.Hash, *CacheEntry](initialCacheSize)
	c.usage = 0

	return nil
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	return c.entries.Count()
}

// DynamicMemoryUsage estimates the heap bytes held by the cache.
func (c *Cache) DynamicMemoryUsage() int {
	return c.usage
}
