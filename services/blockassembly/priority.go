package blockassembly

import (
	"container/heap"

	"github.com/tessacoin/tessanode/services/mempool"
)

type txPrioItem struct {
	desc     *mempool.TxDesc
	priority float64
	feeRate  int64
}

// txPriorityQueue orders candidates by priority then fee rate, or by fee
// rate then priority once the priority area is full.
type txPriorityQueue struct {
	items      []*txPrioItem
	byPriority bool
}

func newTxPriorityQueue(reserve int, byPriority bool) *txPriorityQueue {
	return &txPriorityQueue{
		items:      make([]*txPrioItem, 0, reserve),
		byPriority: byPriority,
	}
}

// SetByPriority switches the ordering and restores the heap.
func (pq *txPriorityQueue) SetByPriority(byPriority bool) {
	if pq.byPriority == byPriority {
		return
	}

	pq.byPriority = byPriority
	heap.Init(pq)
}

func (pq *txPriorityQueue) Len() int {
	return len(pq.items)
}

func (pq *txPriorityQueue) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]

	if pq.byPriority {
		if a.priority != b.priority {
			return a.priority > b.priority
		}

		return a.feeRate > b.feeRate
	}

	if a.feeRate != b.feeRate {
		return a.feeRate > b.feeRate
	}

	if a.priority != b.priority {
		return a.priority > b.priority
	}

	return a.desc.Added.Before(b.desc.Added)
}

func (pq *txPriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

func (pq *txPriorityQueue) Push(x interface{}) {
	pq.items = append(pq.items, x.(*txPrioItem))
}

func (pq *txPriorityQueue) Pop() interface{} {
	n := len(pq.items)
	item := pq.items[n-1]
	pq.items[n-1] = nil
	pq.items = pq.items[:n-1]

	return item
}
