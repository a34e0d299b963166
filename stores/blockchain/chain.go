package blockchain

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Chain is the active chain: an ordered sequence of index entries by height.
// It is owned by the chain-state lock; the forward handles it maintains in
// the entries may be read without it.
type Chain struct {
	index   *Index
	entries []*BlockIndex
}

func NewChain(index *Index) *Chain {
	return &Chain{index: index}
}

// Tip returns the last entry, or nil for an empty chain.
func (c *Chain) Tip() *BlockIndex {
	if len(c.entries) == 0 {
		return nil
	}

	return c.entries[len(c.entries)-1]
}

func (c *Chain) Genesis() *BlockIndex {
	if len(c.entries) == 0 {
		return nil
	}

	return c.entries[0]
}

// Height returns the tip height, -1 for an empty chain.
func (c *Chain) Height() int32 {
	return int32(len(c.entries)) - 1
}

// At returns the entry at height, or nil.
func (c *Chain) At(height int32) *BlockIndex {
	if height < 0 || int(height) >= len(c.entries) {
		return nil
	}

	return c.entries[height]
}

func (c *Chain) Contains(bi *BlockIndex) bool {
	return bi != nil && c.At(bi.Height) == bi
}

// Next returns the successor of bi in the chain, or nil.
func (c *Chain) Next(bi *BlockIndex) *BlockIndex {
	if !c.Contains(bi) {
		return nil
	}

	return c.At(bi.Height + 1)
}

// SetTip makes bi the tip, rewriting entries from the fork point.
func (c *Chain) SetTip(bi *BlockIndex) {
	if bi == nil {
		for _, e := range c.entries {
			e.setNext(NoHandle)
		}

		c.entries = nil

		return
	}

	if int(bi.Height)+1 < len(c.entries) {
		for i := int(bi.Height) + 1; i < len(c.entries); i++ {
			c.entries[i].setNext(NoHandle)
			c.entries[i] = nil
		}
	}

	if int(bi.Height)+1 <= cap(c.entries) {
		c.entries = c.entries[:bi.Height+1]
	} else {
		grown := make([]*BlockIndex, bi.Height+1, (bi.Height+1)*5/4+16)
		copy(grown, c.entries)
		c.entries = grown
	}

	bi.setNext(NoHandle)

	for e := bi; e != nil && c.entries[e.Height] != e; e = c.index.Get(e.Prev) {
		if old := c.entries[e.Height]; old != nil {
			old.setNext(NoHandle)
		}

		c.entries[e.Height] = e

		if parent := c.index.Get(e.Prev); parent != nil {
			parent.setNext(e.Handle)
		}
	}
}

// FindFork returns the last entry of the chain that is an ancestor of bi.
func (c *Chain) FindFork(bi *BlockIndex) *BlockIndex {
	if bi == nil {
		return nil
	}

	if bi.Height > c.Height() {
		bi = c.index.Ancestor(bi, c.Height())
	}

	for bi != nil && !c.Contains(bi) {
		bi = c.index.Get(bi.Prev)
	}

	return bi
}

// Locator returns the block locator of bi (the tip when nil): the last ten
// hashes, then exponentially sparser, always ending with genesis.
func (c *Chain) Locator(bi *BlockIndex) []chainhash.Hash {
	if bi == nil {
		bi = c.Tip()
	}

	step := int32(1)
	hashes := make([]chainhash.Hash, 0, 32)

	for bi != nil {
		hashes = append(hashes, bi.Hash)

		if bi.Height == 0 {
			break
		}

		height := bi.Height - step
		if height < 0 {
			height = 0
		}

		if c.Contains(bi) {
			bi = c.At(height)
		} else {
			bi = c.index.Ancestor(bi, height)
		}

		if len(hashes) > 10 {
			step *= 2
		}
	}

	return hashes
}

// FindLocatorFork returns the highest locator entry in the active chain,
// genesis when none match.
func (c *Chain) FindLocatorFork(locator []chainhash.Hash) *BlockIndex {
	for _, hash := range locator {
		if bi := c.index.Lookup(hash); bi != nil && c.Contains(bi) {
			return bi
		}
	}

	return c.Genesis()
}
