package blockchain

import (
	"math"
	"math/big"
	"sort"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/util"
	"go.uber.org/atomic"
)

// Status bits of a block index entry. The low three bits are a validity
// level; the remaining bits are flags.
const (
	BlockValidUnknown      uint32 = 0
	BlockValidHeader       uint32 = 1
	BlockValidTree         uint32 = 2
	BlockValidTransactions uint32 = 3
	BlockValidChain        uint32 = 4
	BlockValidScripts      uint32 = 5
	BlockValidMask         uint32 = 7

	BlockHaveData uint32 = 8
	BlockHaveUndo uint32 = 16
	BlockHaveMask uint32 = BlockHaveData | BlockHaveUndo

	BlockFailedValid uint32 = 32
	BlockFailedChild uint32 = 64
	BlockFailedMask  uint32 = BlockFailedValid | BlockFailedChild
)

// Handle addresses an entry of the block index arena.
type Handle uint32

// NoHandle is the handle of a missing entry, e.g. the parent of genesis.
const NoHandle Handle = math.MaxUint32

const medianTimeSpan = 11

// BlockIndex is the in-memory record of a known header. Entries are created
// once and never freed. Fields other than the status bits and the forward
// handle are written before the entry is published or under the chain-state
// lock.
type BlockIndex struct {
	Handle Handle
	Hash   chainhash.Hash
	Header model.BlockHeader
	Height int32
	Prev   Handle
	Skip   Handle

	// ChainWork is the total work of the chain up to and including this block.
	ChainWork *big.Int

	TxCount      uint32
	ChainTxCount uint64

	// SequenceID orders entries with equal work by arrival.
	SequenceID uint64

	File    int32
	DataPos uint32
	UndoPos uint32

	ProofOfStake   bool
	StakeModifier  uint64
	KernelOutPoint model.OutPoint

	status atomic.Uint32
	next   atomic.Uint32
}

func (bi *BlockIndex) Status() uint32 {
	return bi.status.Load()
}

// SetStatus replaces the status bits.
func (bi *BlockIndex) SetStatus(s uint32) {
	bi.status.Store(s)
}

// AddStatus ors flags into the status.
func (bi *BlockIndex) AddStatus(flags uint32) {
	for {
		old := bi.status.Load()
		if bi.status.CompareAndSwap(old, old|flags) {
			return
		}
	}
}

// ClearStatus removes flags from the status.
func (bi *BlockIndex) ClearStatus(flags uint32) {
	for {
		old := bi.status.Load()
		if bi.status.CompareAndSwap(old, old&^flags) {
			return
		}
	}
}

// IsValid reports whether the entry reached validity level up to and is not
// marked failed.
func (bi *BlockIndex) IsValid(upTo uint32) bool {
	s := bi.status.Load()
	if s&BlockFailedMask != 0 {
		return false
	}

	return s&BlockValidMask >= upTo
}

// RaiseValidity raises the validity level to upTo and reports whether it
// changed. Failed entries are left alone.
func (bi *BlockIndex) RaiseValidity(upTo uint32) bool {
	for {
		old := bi.status.Load()
		if old&BlockFailedMask != 0 || old&BlockValidMask >= upTo {
			return false
		}

		if bi.status.CompareAndSwap(old, (old&^BlockValidMask)|upTo) {
			return true
		}
	}
}

func (bi *BlockIndex) HasData() bool {
	return bi.status.Load()&BlockHaveData != 0
}

func (bi *BlockIndex) HasUndo() bool {
	return bi.status.Load()&BlockHaveUndo != 0
}

func (bi *BlockIndex) Failed() bool {
	return bi.status.Load()&BlockFailedMask != 0
}

// Next returns the forward handle in the active chain.
func (bi *BlockIndex) Next() Handle {
	return Handle(bi.next.Load())
}

func (bi *BlockIndex) setNext(h Handle) {
	bi.next.Store(uint32(h))
}

// BlockTime returns the header time as a signed value.
func (bi *BlockIndex) BlockTime() int64 {
	return int64(bi.Header.Timestamp)
}

// Index is the process-wide arena of block index entries keyed by hash.
type Index struct {
	mu       sync.RWMutex
	entries  []*BlockIndex
	byHash   map[chainhash.Hash]Handle
	dirty    map[Handle]struct{}
	sequence uint64
}

func NewIndex() *Index {
	return &Index{
		byHash: make(map[chainhash.Hash]Handle),
		dirty:  make(map[Handle]struct{}),
	}
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.entries)
}

// Get returns the entry for h, or nil.
func (ix *Index) Get(h Handle) *BlockIndex {
	if h == NoHandle {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if int(h) >= len(ix.entries) {
		return nil
	}

	return ix.entries[h]
}

// Lookup returns the entry with the given hash, or nil.
func (ix *Index) Lookup(hash chainhash.Hash) *BlockIndex {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	h, ok := ix.byHash[hash]
	if !ok {
		return nil
	}

	return ix.entries[h]
}

// Parent returns the entry's parent, or nil for genesis.
func (ix *Index) Parent(bi *BlockIndex) *BlockIndex {
	return ix.Get(bi.Prev)
}

// AddHeader inserts a header under hash, linking it to its parent when the
// parent is known. If the hash is already indexed the existing entry is
// returned with added false.
func (ix *Index) AddHeader(hash chainhash.Hash, header *model.BlockHeader) (bi *BlockIndex, added bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if h, ok := ix.byHash[hash]; ok {
		return ix.entries[h], false
	}

	bi = &BlockIndex{
		Hash:   hash,
		Header: *header,
		Prev:   NoHandle,
		Skip:   NoHandle,
		File:   -1,
	}
	bi.setNext(NoHandle)

	work := util.CalcWork(header.Bits)

	if ph, ok := ix.byHash[header.HashPrevBlock]; ok {
		parent := ix.entries[ph]
		bi.Prev = ph
		bi.Height = parent.Height + 1
		bi.ChainWork = new(big.Int).Add(parent.ChainWork, work)
		bi.Skip = ix.ancestorLocked(parent, skipHeight(bi.Height)).handleOrNone()
	} else {
		bi.ChainWork = work
	}

	bi.RaiseValidity(BlockValidTree)
	ix.insertLocked(bi)

	return bi, true
}

// Insert adds a fully populated entry loaded from disk. Parents must be
// inserted before children.
func (ix *Index) Insert(bi *BlockIndex) *BlockIndex {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if h, ok := ix.byHash[bi.Hash]; ok {
		return ix.entries[h]
	}

	bi.Prev = NoHandle
	bi.Skip = NoHandle
	bi.setNext(NoHandle)

	work := util.CalcWork(bi.Header.Bits)

	if ph, ok := ix.byHash[bi.Header.HashPrevBlock]; ok {
		parent := ix.entries[ph]
		bi.Prev = ph
		bi.ChainWork = new(big.Int).Add(parent.ChainWork, work)
		bi.Skip = ix.ancestorLocked(parent, skipHeight(bi.Height)).handleOrNone()

		if parent.ChainTxCount > 0 && bi.TxCount > 0 {
			bi.ChainTxCount = parent.ChainTxCount + uint64(bi.TxCount)
		}
	} else {
		bi.ChainWork = work
		bi.ChainTxCount = uint64(bi.TxCount)
	}

	ix.insertLocked(bi)
	delete(ix.dirty, bi.Handle)

	return bi
}

func (ix *Index) insertLocked(bi *BlockIndex) {
	bi.Handle = Handle(len(ix.entries))
	ix.sequence++
	bi.SequenceID = ix.sequence

	ix.entries = append(ix.entries, bi)
	ix.byHash[bi.Hash] = bi.Handle
	ix.dirty[bi.Handle] = struct{}{}
}

func (bi *BlockIndex) handleOrNone() Handle {
	if bi == nil {
		return NoHandle
	}

	return bi.Handle
}

// MarkDirty queues the entry for the next flush.
func (ix *Index) MarkDirty(bi *BlockIndex) {
	ix.mu.Lock()
	ix.dirty[bi.Handle] = struct{}{}
	ix.mu.Unlock()
}

// TakeDirty returns and clears the entries changed since the last call,
// ordered by height.
func (ix *Index) TakeDirty() []*BlockIndex {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]*BlockIndex, 0, len(ix.dirty))
	for h := range ix.dirty {
		out = append(out, ix.entries[h])
	}

	ix.dirty = make(map[Handle]struct{})

	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })

	return out
}

// All returns every entry ordered by height.
func (ix *Index) All() []*BlockIndex {
	ix.mu.RLock()
	out := append([]*BlockIndex(nil), ix.entries...)
	ix.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Height < out[j].Height })

	return out
}

// Descendants returns every entry built on top of bi.
func (ix *Index) Descendants(bi *BlockIndex) []*BlockIndex {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []*BlockIndex

	for _, e := range ix.entries[bi.Handle+1:] {
		if e.Height > bi.Height && ix.ancestorLocked(e, bi.Height) == bi {
			out = append(out, e)
		}
	}

	return out
}

// Ancestor returns the ancestor of bi at height, or nil.
func (ix *Index) Ancestor(bi *BlockIndex, height int32) *BlockIndex {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.ancestorLocked(bi, height)
}

func (ix *Index) ancestorLocked(bi *BlockIndex, height int32) *BlockIndex {
	if bi == nil || height > bi.Height || height < 0 {
		return nil
	}

	walk := bi
	heightWalk := bi.Height

	for heightWalk > height {
		heightSkip := skipHeight(heightWalk)
		heightSkipPrev := skipHeight(heightWalk - 1)

		if walk.Skip != NoHandle && (heightSkip == height ||
			(heightSkip > height && !(heightSkipPrev < heightSkip-2 && heightSkipPrev >= height))) {
			walk = ix.entries[walk.Skip]
			heightWalk = heightSkip
		} else {
			if walk.Prev == NoHandle {
				return nil
			}

			walk = ix.entries[walk.Prev]
			heightWalk--
		}
	}

	return walk
}

// LastCommonAncestor returns the fork point of a and b.
func (ix *Index) LastCommonAncestor(a, b *BlockIndex) *BlockIndex {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if a.Height > b.Height {
		a = ix.ancestorLocked(a, b.Height)
	} else if b.Height > a.Height {
		b = ix.ancestorLocked(b, a.Height)
	}

	for a != b && a != nil && b != nil {
		if a.Prev == NoHandle || b.Prev == NoHandle {
			return nil
		}

		a = ix.entries[a.Prev]
		b = ix.entries[b.Prev]
	}

	return a
}

// MedianTimePast returns the median time of the last 11 blocks ending at bi.
func (ix *Index) MedianTimePast(bi *BlockIndex) int64 {
	timestamps := make([]int64, 0, medianTimeSpan)

	for e := bi; e != nil && len(timestamps) < medianTimeSpan; e = ix.Get(e.Prev) {
		timestamps = append(timestamps, e.BlockTime())
	}

	median, _ := util.CalcPastMedianTime(timestamps)

	return median
}

// WorkCompare orders entries by chain work, then by arrival.
func WorkCompare(a, b *BlockIndex) int {
	if c := a.ChainWork.Cmp(b.ChainWork); c != 0 {
		return c
	}

	switch {
	case a.SequenceID < b.SequenceID:
		return 1
	case a.SequenceID > b.SequenceID:
		return -1
	}

	return 0
}

func invertLowestOne(n int32) int32 {
	return n & (n - 1)
}

// skipHeight picks the height the skip handle of an entry at height points
// to, giving O(log n) ancestor lookups.
func skipHeight(height int32) int32 {
	if height < 2 {
		return 0
	}

	if height&1 != 0 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}

	return invertLowestOne(height)
}
