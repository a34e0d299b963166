package utxo

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dolthub/swiss"
)

// Cache entry flags.
const (
	// Dirty marks an entry that differs from the parent view.
	Dirty uint8 = 1 << 0
	// Fresh marks an entry that is absent (or pruned) in the parent view.
	Fresh uint8 = 1 << 1
)

// CacheEntry is one layered coins entry.
type CacheEntry struct {
	Coins *Coins
	Flags uint8
}

// EntryMap holds the entries handed from a child view to its parent.
type EntryMap = swiss.Map[chainhash.Hash, *CacheEntry]

// View is a layer of the coins database. GetCoins returns nil without error
// when the transaction has no coins in the view.
type View interface {
	GetCoins(hash chainhash.Hash) (*Coins, error)
	HaveCoins(hash chainhash.Hash) (bool, error)
	BestBlock() (chainhash.Hash, error)
	// BatchWrite merges the dirty entries of a child view and sets the best
	// block.
	BatchWrite(entries *EntryMap, bestBlock chainhash.Hash) error
}
