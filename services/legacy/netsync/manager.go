// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"context"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/jellydator/ttlcache/v3"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/peer"
	"github.com/tessacoin/tessanode/services/legacy/wire"
	"github.com/tessacoin/tessanode/settings"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/ulogger"
	"go.uber.org/atomic"
)

const (
	// BlockDownloadWindow is how far past the last block shared with a
	// peer we are willing to download.
	BlockDownloadWindow = 1024

	// MaxBlocksInTransitPerPeer bounds the blocks requested from one peer.
	MaxBlocksInTransitPerPeer = 16

	// maxUnconnectingHeaders is the number of headers messages that do
	// not connect to our index before the peer is penalised.
	maxUnconnectingHeaders = 10

	// txRequestTimeout is how long a requested transaction is not asked
	// for again from another peer.
	txRequestTimeout = 2 * time.Minute

	stallCheckInterval = time.Second

	msgChanSize = 5000
)

type blockIndex = blockchain_store.BlockIndex

// queuedBlock is a block requested from a peer.
type queuedBlock struct {
	hash      chainhash.Hash
	requested time.Time
}

// peerSyncState is the download state of one peer. It is only touched by
// the block handler goroutine.
type peerSyncState struct {
	peer *peer.Peer

	bestKnown        *blockIndex
	lastUnknownBlock *chainhash.Hash
	lastCommon       *blockIndex

	inFlight      []queuedBlock
	stallingSince time.Time
	syncStarted   bool

	unconnectingHeaders int
}

func (state *peerSyncState) removeInFlight(hash chainhash.Hash) bool {
	for i := range state.inFlight {
		if state.inFlight[i].hash == hash {
			state.inFlight = append(state.inFlight[:i], state.inFlight[i+1:]...)
			return true
		}
	}

	return false
}

type newPeerMsg struct {
	peer *peer.Peer
}

type donePeerMsg struct {
	peer *peer.Peer
}

type txMsg struct {
	tx    *model.Tx
	peer  *peer.Peer
	reply chan struct{}
}

type blockMsg struct {
	block *model.Block
	peer  *peer.Peer
	reply chan struct{}
}

type invMsg struct {
	inv  *wire.MsgInv
	peer *peer.Peer
}

type headersMsg struct {
	headers *wire.MsgHeaders
	peer    *peer.Peer
}

type notFoundMsg struct {
	notFound *wire.MsgNotFound
	peer     *peer.Peer
}

type getSyncPeerMsg struct {
	reply chan int32
}

type inFlightMsg struct {
	peer  *peer.Peer
	reply chan []chainhash.Hash
}

// SyncManager coordinates header-first block download and transaction
// fetching across peers. All mutable state lives in a single goroutine fed
// by msgChan so per-peer messages are handled in arrival order.
type SyncManager struct {
	logger    ulogger.Logger
	chain     Chain
	txPool    TxPool
	notifier  PeerNotifier
	started   atomic.Bool
	shutdown  atomic.Bool
	msgChan   chan interface{}
	wg        sync.WaitGroup
	quit      chan struct{}
	ctx       context.Context
	cancelCtx context.CancelFunc

	peerStates     map[*peer.Peer]*peerSyncState
	blocksInFlight map[chainhash.Hash]*peerSyncState
	headerSyncers  int

	requestedTxns  *ttlcache.Cache[chainhash.Hash, int32]
	stallTimeout   time.Duration
	downloadWindow int32
}

// New returns a new sync manager. Start begins processing.
func New(logger ulogger.Logger, tSettings *settings.Settings, cfg *Config) (*SyncManager, error) {
	if cfg.Chain == nil || cfg.TxPool == nil || cfg.PeerNotifier == nil {
		return nil, errors.NewInvalidArgumentError("sync manager needs a chain, a tx pool and a peer notifier")
	}

	initPrometheusMetrics()

	ctx, cancel := context.WithCancel(context.Background())

	stallTimeout := tSettings.P2P.BlockStallingTimeout
	if stallTimeout <= 0 {
		stallTimeout = 2 * time.Second
	}

	return &SyncManager{
		logger:         logger,
		chain:          cfg.Chain,
		txPool:         cfg.TxPool,
		notifier:       cfg.PeerNotifier,
		msgChan:        make(chan interface{}, msgChanSize),
		quit:           make(chan struct{}),
		ctx:            ctx,
		cancelCtx:      cancel,
		peerStates:     make(map[*peer.Peer]*peerSyncState),
		blocksInFlight: make(map[chainhash.Hash]*peerSyncState),
		requestedTxns: ttlcache.New[chainhash.Hash, int32](
			ttlcache.WithTTL[chainhash.Hash, int32](txRequestTimeout),
			ttlcache.WithDisableTouchOnHit[chainhash.Hash, int32](),
		),
		stallTimeout:   stallTimeout,
		downloadWindow: BlockDownloadWindow,
	}, nil
}

// Start begins the core block handler which processes block and inv
// messages.
func (sm *SyncManager) Start() {
	if !sm.started.CompareAndSwap(false, true) {
		return
	}

	sm.logger.Infof("[netsync] starting sync manager")

	sm.wg.Add(1)

	go sm.blockHandler()
}

// Stop gracefully shuts down the sync manager by stopping all asynchronous
// handlers and waiting for them to finish.
func (sm *SyncManager) Stop() error {
	if !sm.shutdown.CompareAndSwap(false, true) {
		sm.logger.Warnf("[netsync] sync manager is already in the process of shutting down")
		return nil
	}

	sm.logger.Infof("[netsync] sync manager shutting down")
	sm.cancelCtx()
	close(sm.quit)
	sm.wg.Wait()

	return nil
}

func (sm *SyncManager) send(msg interface{}) bool {
	if sm.shutdown.Load() {
		return false
	}

	select {
	case sm.msgChan <- msg:
		return true
	case <-sm.quit:
		return false
	}
}

// NewPeer informs the sync manager of a newly active peer.
func (sm *SyncManager) NewPeer(p *peer.Peer) {
	sm.send(&newPeerMsg{peer: p})
}

// DonePeer informs the sync manager that a peer has disconnected.
func (sm *SyncManager) DonePeer(p *peer.Peer) {
	sm.send(&donePeerMsg{peer: p})
}

// QueueTx adds the passed transaction message and peer to the block
// handling queue. Responds to the done channel argument, which must be
// buffered, after the tx message is processed.
func (sm *SyncManager) QueueTx(tx *model.Tx, p *peer.Peer, done chan struct{}) {
	if !sm.send(&txMsg{tx: tx, peer: p, reply: done}) && done != nil {
		done <- struct{}{}
	}
}

// QueueBlock adds the passed block message and peer to the block handling
// queue. Responds to the done channel argument, which must be buffered,
// after the block message is processed.
func (sm *SyncManager) QueueBlock(block *model.Block, p *peer.Peer, done chan struct{}) {
	if !sm.send(&blockMsg{block: block, peer: p, reply: done}) && done != nil {
		done <- struct{}{}
	}
}

// QueueInv adds the passed inv message and peer to the block handling queue.
func (sm *SyncManager) QueueInv(inv *wire.MsgInv, p *peer.Peer) {
	sm.send(&invMsg{inv: inv, peer: p})
}

// QueueHeaders adds the passed headers message and peer to the block
// handling queue.
func (sm *SyncManager) QueueHeaders(headers *wire.MsgHeaders, p *peer.Peer) {
	sm.send(&headersMsg{headers: headers, peer: p})
}

// QueueNotFound adds the passed notfound message and peer to the block
// handling queue.
func (sm *SyncManager) QueueNotFound(notFound *wire.MsgNotFound, p *peer.Peer) {
	sm.send(&notFoundMsg{notFound: notFound, peer: p})
}

// SyncPeerID returns the ID of the peer headers are synced from, or 0.
func (sm *SyncManager) SyncPeerID() int32 {
	reply := make(chan int32, 1)

	if !sm.send(getSyncPeerMsg{reply: reply}) {
		return 0
	}

	select {
	case id := <-reply:
		return id
	case <-sm.quit:
		return 0
	}
}

// InFlight returns the hashes of the blocks requested from p, oldest first.
func (sm *SyncManager) InFlight(p *peer.Peer) []chainhash.Hash {
	reply := make(chan []chainhash.Hash, 1)

	if !sm.send(inFlightMsg{peer: p, reply: reply}) {
		return nil
	}

	select {
	case hashes := <-reply:
		return hashes
	case <-sm.quit:
		return nil
	}
}

// IsCurrent reports whether the chain is believed to be synced.
func (sm *SyncManager) IsCurrent() bool {
	return !sm.chain.IsInitialBlockDownload()
}

// blockHandler is the main handler for the sync manager. It must be run
// as a goroutine.
func (sm *SyncManager) blockHandler() {
	defer sm.wg.Done()

	ticker := time.NewTicker(stallCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case m := <-sm.msgChan:
			sm.handleMessage(m)

		case <-ticker.C:
			sm.checkStalling(time.Now())
			sm.requestedTxns.DeleteExpired()

		case <-sm.quit:
			sm.logger.Infof("[netsync] block handler done")
			return
		}
	}
}

func (sm *SyncManager) handleMessage(m interface{}) {
	switch msg := m.(type) {
	case *newPeerMsg:
		sm.handleNewPeerMsg(msg.peer)

	case *donePeerMsg:
		sm.handleDonePeerMsg(msg.peer)

	case *txMsg:
		sm.handleTxMsg(msg)

		if msg.reply != nil {
			msg.reply <- struct{}{}
		}

	case *blockMsg:
		sm.handleBlockMsg(msg)

		if msg.reply != nil {
			msg.reply <- struct{}{}
		}

	case *invMsg:
		sm.handleInvMsg(msg)

	case *headersMsg:
		sm.handleHeadersMsg(msg)

	case *notFoundMsg:
		sm.handleNotFoundMsg(msg)

	case getSyncPeerMsg:
		var id int32

		for p, state := range sm.peerStates {
			if state.syncStarted {
				id = p.ID()
				break
			}
		}

		msg.reply <- id

	case inFlightMsg:
		var hashes []chainhash.Hash

		if state, ok := sm.peerStates[msg.peer]; ok {
			for _, qb := range state.inFlight {
				hashes = append(hashes, qb.hash)
			}
		}

		msg.reply <- hashes

	default:
		sm.logger.Warnf("[netsync] invalid message type in block handler: %T", msg)
	}
}

func (sm *SyncManager) handleNewPeerMsg(p *peer.Peer) {
	if sm.shutdown.Load() {
		return
	}

	sm.logger.Infof("[netsync] new valid peer %s (%s)", p, p.UserAgent())

	state := &peerSyncState{peer: p}
	sm.peerStates[p] = state

	prometheusPeers.Set(float64(len(sm.peerStates)))

	sm.maybeStartHeaderSync(state)
}

// maybeStartHeaderSync asks the peer for headers when no other peer is
// currently serving them, or when our best header is already recent.
func (sm *SyncManager) maybeStartHeaderSync(state *peerSyncState) {
	if state.syncStarted || !state.peer.Connected() {
		return
	}

	best := sm.chain.BestHeader()
	if best == nil {
		return
	}

	recent := time.Unix(best.BlockTime(), 0).After(time.Now().Add(-24 * time.Hour))
	if sm.headerSyncers > 0 && !recent {
		return
	}

	state.syncStarted = true
	sm.headerSyncers++

	sm.pushGetHeaders(state, best)
}

// pushGetHeaders requests the headers following from. Starting from its
// parent makes the reply non-empty even when the peer is in sync.
func (sm *SyncManager) pushGetHeaders(state *peerSyncState, from *blockIndex) {
	if parent := sm.chain.Index().Parent(from); parent != nil {
		from = parent
	}

	locator := sm.chain.Locator(from)

	sm.logger.Debugf("[netsync] requesting headers from height %d from %s", from.Height, state.peer)

	if err := state.peer.PushGetHeadersMsg(locator, &chainhash.Hash{}); err != nil {
		sm.logger.Warnf("[netsync] failed to send getheaders to %s: %v", state.peer, err)
	}
}

func (sm *SyncManager) handleDonePeerMsg(p *peer.Peer) {
	state, ok := sm.peerStates[p]
	if !ok {
		sm.logger.Warnf("[netsync] received done peer message for unknown peer %s", p)
		return
	}

	delete(sm.peerStates, p)

	prometheusPeers.Set(float64(len(sm.peerStates)))

	for _, qb := range state.inFlight {
		delete(sm.blocksInFlight, qb.hash)
	}

	prometheusBlocksInFlight.Set(float64(len(sm.blocksInFlight)))

	if state.syncStarted {
		sm.headerSyncers--

		for _, other := range sm.peerStates {
			sm.maybeStartHeaderSync(other)

			if sm.headerSyncers > 0 {
				break
			}
		}
	}

	sm.logger.Infof("[netsync] lost peer %s", p)

	// blocks the peer was carrying are now free for others
	sm.requestBlocksFromAll()
}

// processBlockAvailability resolves a previously announced but unknown
// block once its header has arrived.
func (sm *SyncManager) processBlockAvailability(state *peerSyncState) {
	if state.lastUnknownBlock == nil {
		return
	}

	bi := sm.chain.LookupBlockIndex(*state.lastUnknownBlock)
	if bi != nil && bi.ChainWork != nil && bi.ChainWork.Sign() > 0 {
		if state.bestKnown == nil || bi.ChainWork.Cmp(state.bestKnown.ChainWork) >= 0 {
			state.bestKnown = bi
		}

		state.lastUnknownBlock = nil
	}
}

// updateBlockAvailability records that the peer has the block hash.
func (sm *SyncManager) updateBlockAvailability(state *peerSyncState, hash chainhash.Hash) {
	sm.processBlockAvailability(state)

	bi := sm.chain.LookupBlockIndex(hash)
	if bi != nil && bi.ChainWork != nil && bi.ChainWork.Sign() > 0 {
		if state.bestKnown == nil || bi.ChainWork.Cmp(state.bestKnown.ChainWork) >= 0 {
			state.bestKnown = bi
		}

		return
	}

	h := hash
	state.lastUnknownBlock = &h
}

// findNextBlocksToDownload returns up to count blocks the peer can serve
// that we should fetch next. When nothing can be fetched because the window
// is blocked by a block in flight from another peer, that peer is returned
// as the staller.
func (sm *SyncManager) findNextBlocksToDownload(state *peerSyncState, count int) ([]*blockIndex, *peerSyncState) {
	if count <= 0 {
		return nil, nil
	}

	sm.processBlockAvailability(state)

	tip := sm.chain.Tip()
	if state.bestKnown == nil || tip == nil || state.bestKnown.ChainWork.Cmp(tip.ChainWork) < 0 {
		// the peer has nothing interesting
		return nil, nil
	}

	index := sm.chain.Index()

	if state.lastCommon == nil {
		height := state.bestKnown.Height
		if tip.Height < height {
			height = tip.Height
		}

		state.lastCommon = index.Ancestor(state.bestKnown, height)
	}

	// the last common block may have been reorganised away on either side
	state.lastCommon = index.LastCommonAncestor(state.lastCommon, state.bestKnown)
	if state.lastCommon == nil || state.lastCommon == state.bestKnown {
		return nil, nil
	}

	var (
		blocks     []*blockIndex
		waitingFor *peerSyncState
	)

	walk := state.lastCommon
	windowEnd := state.lastCommon.Height + sm.downloadWindow

	maxHeight := state.bestKnown.Height
	if windowEnd+1 < maxHeight {
		maxHeight = windowEnd + 1
	}

	for walk.Height < maxHeight {
		// read the next chunk of ancestors of the peer's best block,
		// ascending
		n := maxHeight - walk.Height
		if limit := int32(max(count-len(blocks), 128)); n > limit {
			n = limit
		}

		target := index.Ancestor(state.bestKnown, walk.Height+n)
		if target == nil {
			return blocks, nil
		}

		toFetch := make([]*blockIndex, n)
		toFetch[n-1] = target

		for i := n - 1; i > 0; i-- {
			toFetch[i-1] = index.Parent(toFetch[i])
		}

		walk = target

		for _, bi := range toFetch {
			if !bi.IsValid(blockchain_store.BlockValidTree) {
				// invalid blocks end the peer's usable chain
				return blocks, nil
			}

			if bi.HasData() || sm.chain.Contains(bi) {
				if bi.ChainTxCount > 0 {
					state.lastCommon = bi
				}

				continue
			}

			if carrier, ok := sm.blocksInFlight[bi.Hash]; ok {
				if waitingFor == nil {
					waitingFor = carrier
				}

				continue
			}

			if bi.Height > windowEnd {
				if len(blocks) == 0 && waitingFor != nil && waitingFor != state {
					return nil, waitingFor
				}

				return blocks, nil
			}

			blocks = append(blocks, bi)

			if len(blocks) == count {
				return blocks, nil
			}
		}
	}

	return blocks, nil
}

// requestBlocks fills the peer's download queue.
func (sm *SyncManager) requestBlocks(state *peerSyncState) {
	if !state.peer.Connected() {
		return
	}

	free := MaxBlocksInTransitPerPeer - len(state.inFlight)

	blocks, staller := sm.findNextBlocksToDownload(state, free)

	if staller != nil && staller.stallingSince.IsZero() {
		staller.stallingSince = time.Now()
		sm.logger.Debugf("[netsync] stall started on peer %s", staller.peer)
	}

	if len(blocks) == 0 {
		return
	}

	gdmsg := wire.NewMsgGetData()
	now := time.Now()

	for _, bi := range blocks {
		hash := bi.Hash

		if err := gdmsg.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash)); err != nil {
			break
		}

		state.inFlight = append(state.inFlight, queuedBlock{hash: hash, requested: now})
		sm.blocksInFlight[hash] = state
	}

	prometheusBlocksInFlight.Set(float64(len(sm.blocksInFlight)))

	sm.logger.Debugf("[netsync] requesting %d blocks from %s, first at height %d", len(gdmsg.InvList), state.peer, blocks[0].Height)

	state.peer.QueueMessage(gdmsg, nil)
}

func (sm *SyncManager) requestBlocksFromAll() {
	for _, state := range sm.peerStates {
		sm.requestBlocks(state)
	}
}

// checkStalling disconnects peers that held up the download window for
// longer than the stall timeout.
func (sm *SyncManager) checkStalling(now time.Time) {
	for p, state := range sm.peerStates {
		if state.stallingSince.IsZero() || now.Sub(state.stallingSince) <= sm.stallTimeout {
			continue
		}

		sm.logger.Warnf("[netsync] peer %s is stalling block download, disconnecting", p)
		prometheusStalledPeers.Inc()

		// reset so the peer is not reported again while it shuts down
		state.stallingSince = time.Time{}

		p.Disconnect()
	}
}

func (sm *SyncManager) handleHeadersMsg(hmsg *headersMsg) {
	state, ok := sm.peerStates[hmsg.peer]
	if !ok {
		sm.logger.Warnf("[netsync] received headers message from unknown peer %s", hmsg.peer)
		return
	}

	headers := hmsg.headers.Headers
	if len(headers) == 0 {
		return
	}

	if sm.chain.LookupBlockIndex(headers[0].HashPrevBlock) == nil {
		// a new tip was announced by header; ask for the gap
		state.unconnectingHeaders++

		if state.unconnectingHeaders%maxUnconnectingHeaders == 0 {
			sm.notifier.AddBanScore(state.peer, 20, "too many unconnecting headers")
		}

		sm.pushGetHeaders(state, sm.chain.BestHeader())

		return
	}

	for i := 1; i < len(headers); i++ {
		if headers[i].HashPrevBlock != headers[i-1].Hash() {
			sm.notifier.AddBanScore(state.peer, 20, "non-continuous headers sequence")
			return
		}
	}

	state.unconnectingHeaders = 0

	last, err := sm.chain.ProcessNewBlockHeaders(headers)
	if err != nil {
		sm.rejectPeer(state.peer, wire.CmdHeaders, nil, err)
		return
	}

	sm.updateBlockAvailability(state, last.Hash)

	if len(headers) == wire.MaxBlockHeadersPerMsg {
		// there may be more
		sm.pushGetHeaders(state, last)
	}

	sm.requestBlocks(state)
}

func (sm *SyncManager) handleInvMsg(imsg *invMsg) {
	state, ok := sm.peerStates[imsg.peer]
	if !ok {
		sm.logger.Warnf("[netsync] received inv message from unknown peer %s", imsg.peer)
		return
	}

	p := imsg.peer
	gdmsg := wire.NewMsgGetData()

	for _, iv := range imsg.inv.InvList {
		p.AddKnownInventory(iv)

		switch iv.Type {
		case wire.InvTypeBlock:
			hash := iv.Hash

			p.UpdateLastAnnouncedBlock(&hash)
			sm.updateBlockAvailability(state, hash)

			if sm.chain.LookupBlockIndex(hash) == nil {
				// headers first: learn the header and let the download
				// logic fetch the block
				if err := p.PushGetHeadersMsg(sm.chain.Locator(sm.chain.BestHeader()), &hash); err != nil {
					sm.logger.Debugf("[netsync] failed to send getheaders to %s: %v", p, err)
				}
			}

		case wire.InvTypeTx, wire.InvTypeTxLockRequest:
			if sm.chain.IsInitialBlockDownload() {
				continue
			}

			if sm.txPool.Have(iv.Hash) || sm.txPool.IsRecentlyRejected(iv.Hash) || sm.requestedTxns.Has(iv.Hash) {
				continue
			}

			sm.requestedTxns.Set(iv.Hash, p.ID(), ttlcache.DefaultTTL)

			if err := gdmsg.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &iv.Hash)); err != nil {
				sm.logger.Debugf("[netsync] getdata for %s full: %v", p, err)
			}
		}
	}

	if len(gdmsg.InvList) > 0 {
		p.QueueMessage(gdmsg, nil)
	}

	sm.requestBlocks(state)
}

func (sm *SyncManager) handleTxMsg(tmsg *txMsg) {
	if _, ok := sm.peerStates[tmsg.peer]; !ok {
		sm.logger.Warnf("[netsync] received tx message from unknown peer %s", tmsg.peer)
		return
	}

	hash := tmsg.tx.TxHash()

	sm.requestedTxns.Delete(hash)

	if sm.txPool.Have(hash) || sm.txPool.IsRecentlyRejected(hash) {
		return
	}

	if _, err := sm.txPool.ProcessTransaction(sm.ctx, tmsg.tx, true, true); err != nil {
		if errors.CodeOf(err) == errors.ERR_TX_ALREADY_EXISTS {
			return
		}

		sm.logger.Debugf("[netsync] rejected transaction %s from %s: %v", hash, tmsg.peer, err)
		sm.rejectPeer(tmsg.peer, wire.CmdTx, &hash, err)
	}
}

func (sm *SyncManager) handleBlockMsg(bmsg *blockMsg) {
	state, ok := sm.peerStates[bmsg.peer]
	if !ok {
		sm.logger.Warnf("[netsync] received block message from unknown peer %s", bmsg.peer)
		return
	}

	hash := bmsg.block.Hash()

	requested := false

	if carrier, ok := sm.blocksInFlight[hash]; ok {
		carrier.removeInFlight(hash)
		carrier.stallingSince = time.Time{}
		delete(sm.blocksInFlight, hash)

		requested = carrier == state

		prometheusBlocksInFlight.Set(float64(len(sm.blocksInFlight)))
	}

	bi, err := sm.chain.ProcessNewBlock(sm.ctx, bmsg.block, requested)
	if err != nil {
		if errors.CodeOf(err) == errors.ERR_BLOCK_EXISTS {
			return
		}

		sm.logger.Infof("[netsync] rejected block %s from %s: %v", hash, bmsg.peer, err)
		sm.rejectPeer(bmsg.peer, wire.CmdBlock, &hash, err)

		sm.requestBlocksFromAll()

		return
	}

	prometheusBlocksReceived.Inc()

	if bi != nil {
		sm.updateBlockAvailability(state, bi.Hash)

		if sm.chain.Contains(bi) {
			bmsg.peer.UpdateLastBlockHeight(bi.Height)
			sm.notifier.UpdatePeerHeights(&bi.Hash, bi.Height, bmsg.peer)
		}
	}

	sm.requestBlocksFromAll()
}

func (sm *SyncManager) handleNotFoundMsg(nmsg *notFoundMsg) {
	state, ok := sm.peerStates[nmsg.peer]
	if !ok {
		return
	}

	for _, iv := range nmsg.notFound.InvList {
		switch iv.Type {
		case wire.InvTypeBlock:
			if sm.blocksInFlight[iv.Hash] == state {
				state.removeInFlight(iv.Hash)
				delete(sm.blocksInFlight, iv.Hash)
			}

		case wire.InvTypeTx, wire.InvTypeTxLockRequest:
			sm.requestedTxns.Delete(iv.Hash)
		}
	}

	prometheusBlocksInFlight.Set(float64(len(sm.blocksInFlight)))
}

// rejectPeer tells the peer why its object was refused and charges the
// ban score the failure carries.
func (sm *SyncManager) rejectPeer(p *peer.Peer, command string, hash *chainhash.Hash, err error) {
	data, ok := errors.RejectDataOf(err)
	if !ok {
		// internal failures are not the peer's fault
		return
	}

	p.PushRejectMsg(command, wire.RejectCode(data.RejectCode), data.Reason, hash, false)

	if data.BanScore > 0 {
		sm.notifier.AddBanScore(p, data.BanScore, data.Reason)
	}
}
