package blockchain

import (
	"github.com/tessacoin/tessanode/model"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
)

// Observer receives chain events. Callbacks run synchronously while the
// chain-state lock is held and must not call back into ChainState methods
// that take it.
type Observer interface {
	BlockConnected(block *model.Block, bi *blockchain_store.BlockIndex)
	BlockDisconnected(block *model.Block, bi *blockchain_store.BlockIndex)
	UpdatedTip(tip *blockchain_store.BlockIndex, initialDownload bool)
}

// Subscribe registers an observer.
func (cs *ChainState) Subscribe(o Observer) {
	cs.observersMu.Lock()
	cs.observers = append(cs.observers, o)
	cs.observersMu.Unlock()
}

func (cs *ChainState) notify(fn func(o Observer)) {
	cs.observersMu.RLock()
	observers := cs.observers
	cs.observersMu.RUnlock()

	cs.notifying.Store(true)
	defer cs.notifying.Store(false)

	for _, o := range observers {
		fn(o)
	}
}
