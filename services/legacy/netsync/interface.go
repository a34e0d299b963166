// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/mempool"
	"github.com/tessacoin/tessanode/services/legacy/peer"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
)

// PeerNotifier exposes methods to notify peers of status changes to
// blocks and peer behaviour. The legacy server implements this interface.
type PeerNotifier interface {
	UpdatePeerHeights(latestBlkHash *chainhash.Hash, latestHeight int32, updateSource *peer.Peer)

	// AddBanScore charges a peer for misbehaviour.
	AddBanScore(p *peer.Peer, score int, reason string)
}

// Chain is the part of the chain state the sync manager drives.
type Chain interface {
	Index() *blockchain_store.Index
	Tip() *blockchain_store.BlockIndex
	BestHeader() *blockchain_store.BlockIndex
	Contains(bi *blockchain_store.BlockIndex) bool
	Locator(bi *blockchain_store.BlockIndex) []chainhash.Hash
	LookupBlockIndex(hash chainhash.Hash) *blockchain_store.BlockIndex
	ProcessNewBlockHeaders(headers []*model.BlockHeader) (*blockchain_store.BlockIndex, error)
	ProcessNewBlock(ctx context.Context, block *model.Block, requested bool) (*blockchain_store.BlockIndex, error)
	IsInitialBlockDownload() bool
}

// TxPool is the part of the mempool the sync manager feeds.
type TxPool interface {
	Have(hash chainhash.Hash) bool
	IsRecentlyRejected(hash chainhash.Hash) bool
	ProcessTransaction(ctx context.Context, tx *model.Tx, allowOrphan, limitFree bool) ([]*mempool.TxDesc, error)
}

// Config is a configuration struct used to initialize a new SyncManager.
type Config struct {
	PeerNotifier PeerNotifier
	Chain        Chain
	TxPool       TxPool
}
