// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2018 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package legacy

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/davecgh/go-spew/spew"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/legacy/addrmgr"
	"github.com/tessacoin/tessanode/services/legacy/netsync"
	"github.com/tessacoin/tessanode/services/legacy/peer"
	"github.com/tessacoin/tessanode/services/legacy/wire"
	"github.com/tessacoin/tessanode/services/mempool"
	"github.com/tessacoin/tessanode/settings"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/ulogger"
	"go.uber.org/atomic"
)

const (
	// defaultServices describes the default services that are supported by
	// the server.
	defaultServices = wire.SFNodeNetwork

	// connectionRetryInterval is the base amount of time to wait in between
	// retries when connecting to persistent peers.
	connectionRetryInterval = 5 * time.Second

	// maxConnectionRetryInterval caps the back off of persistent peers.
	maxConnectionRetryInterval = 5 * time.Minute

	// openConnectionsInterval paces the outbound connection task.
	openConnectionsInterval = 500 * time.Millisecond

	// maxAddressTries bounds the address manager draws per outbound slot.
	maxAddressTries = 100

	// maxKnownAddresses is the maximum number of addresses remembered as
	// known to a peer.
	maxKnownAddresses = 1000

	// banSweepInterval is how often expired bans are dropped.
	banSweepInterval = time.Minute

	// banScoreOversizedAddr is charged for addr messages over the limit.
	banScoreOversizedAddr = 20
)

var (
	// userAgentName is the user agent name and is used to help identify
	// ourselves to other peers.
	userAgentName = "tessanode"

	// userAgentVersion is the user agent version and is used to help
	// identify ourselves to other peers.
	userAgentVersion = "1.0.0"
)

// Chain is the chain state the peer server reads from and feeds.
type Chain interface {
	netsync.Chain

	Height() int32
	Next(bi *blockchain_store.BlockIndex) *blockchain_store.BlockIndex
	FindLocatorFork(locator []chainhash.Hash) *blockchain_store.BlockIndex
	ReadBlock(bi *blockchain_store.BlockIndex) (*model.Block, error)
	ReadTx(hash chainhash.Hash) (*model.Tx, *blockchain_store.BlockIndex, error)
	TimeSource() blockchain.TimeSource
	Subscribe(o blockchain.Observer)
}

// TxPool is the mempool the peer server serves and relays from.
type TxPool interface {
	netsync.TxPool

	Fetch(hash chainhash.Hash) (*model.Tx, bool)
	TxDescs() []*mempool.TxDesc
	Subscribe(l mempool.Listener)
}

// relayMsg packages an inventory vector along with the newly discovered
// inventory so the relay has access to that information.
type relayMsg struct {
	invVect *wire.InvVect
	data    interface{}
}

// updatePeerHeightsMsg is a message sent from the blockmanager to the server
// after a new block has been accepted. The purpose of the message is to update
// the heights of peers that were known to announce the block before we
// connected it to the main chain or recognized it as an orphan. With these
// updates, peer heights will be kept up to date, allowing for fresh data when
// selecting sync peer candidacy.
type updatePeerHeightsMsg struct {
	newHash    *chainhash.Hash
	newHeight  int32
	originPeer *peer.Peer
}

// broadcastMsg provides the ability to house a bitcoin message to be broadcast
// to all connected peers except specified excluded peers.
type broadcastMsg struct {
	message      wire.Message
	excludePeers []*serverPeer
}

// peerState maintains state of inbound, persistent, outbound peers as well
// as banned peers and outbound groups.
type peerState struct {
	inboundPeers    map[*serverPeer]struct{}
	outboundPeers   map[*serverPeer]struct{}
	persistentPeers map[*serverPeer]struct{}
	outboundGroups  map[string]int
}

// Count returns the count of all known peers.
func (ps *peerState) Count() int {
	return len(ps.inboundPeers) + len(ps.outboundPeers) + len(ps.persistentPeers)
}

// OutboundCount returns the count of outbound peers, persistent ones
// included.
func (ps *peerState) OutboundCount() int {
	return len(ps.outboundPeers) + len(ps.persistentPeers)
}

// forAllOutboundPeers is a helper function that runs closure on all outbound
// peers known to peerState.
func (ps *peerState) forAllOutboundPeers(closure func(sp *serverPeer)) {
	for sp := range ps.outboundPeers {
		closure(sp)
	}

	for sp := range ps.persistentPeers {
		closure(sp)
	}
}

// forAllPeers is a helper function that runs closure on all peers known to
// peerState.
func (ps *peerState) forAllPeers(closure func(sp *serverPeer)) {
	for sp := range ps.inboundPeers {
		closure(sp)
	}

	ps.forAllOutboundPeers(closure)
}

// server provides a peer-to-peer server for handling communications to and
// from tessa peers.
type server struct {
	logger   ulogger.Logger
	settings *settings.Settings

	bytesReceived atomic.Uint64
	bytesSent     atomic.Uint64
	started       atomic.Bool
	shutdown      atomic.Bool

	chain       Chain
	txPool      TxPool
	addrManager *addrmgr.AddrManager
	syncManager *netsync.SyncManager
	banList     *BanList
	sporks      *SporkManager
	services    wire.ServiceFlag
	whitelists  []*net.IPNet
	dial        func(network, addr string, timeout time.Duration) (net.Conn, error)
	lookup      addrmgr.LookupFunc

	// trickleInterval overrides the peer inventory batching interval.
	trickleInterval time.Duration

	listeners []net.Listener

	// serverPeers maps the connection to its server side state, for the
	// sync manager callbacks that only know the connection.
	serverPeers sync.Map

	// pendingOutbound counts dials in progress.
	pendingOutbound atomic.Int32

	newPeers          chan *serverPeer
	donePeers         chan *serverPeer
	banPeers          chan *serverPeer
	query             chan interface{}
	relayInv          chan relayMsg
	broadcast         chan broadcastMsg
	peerHeightsUpdate chan updatePeerHeightsMsg
	wg                sync.WaitGroup
	quit              chan struct{}
}

// serverPeer extends the peer to maintain state shared by the server and
// the sync manager.
type serverPeer struct {
	*peer.Peer

	server        *server
	persistent    bool
	isWhitelisted bool
	continueHash  *chainhash.Hash
	sentAddrs     bool
	banScore      atomic.Int32
	registered    atomic.Bool

	addrMtx        sync.RWMutex
	knownAddresses map[string]struct{}

	quit chan struct{}
	// The following chans are used to sync the sync manager and server.
	txProcessed    chan struct{}
	blockProcessed chan struct{}
}

// newServerPeer returns a new serverPeer instance. The peer needs to be set by
// the caller.
func newServerPeer(s *server, isPersistent bool) *serverPeer {
	return &serverPeer{
		server:         s,
		persistent:     isPersistent,
		knownAddresses: make(map[string]struct{}),
		quit:           make(chan struct{}),
		txProcessed:    make(chan struct{}, 1),
		blockProcessed: make(chan struct{}, 1),
	}
}

// newestBlock returns the current best block hash and height using the format
// required by the configuration for the peer package.
func (sp *serverPeer) newestBlock() (*chainhash.Hash, int32, error) {
	tip := sp.server.chain.Tip()
	if tip == nil {
		return nil, 0, errors.NewServiceUnavailableError("chain is not loaded")
	}

	hash := tip.Hash

	return &hash, tip.Height, nil
}

// addKnownAddresses adds the given addresses to the set of known addresses to
// the peer to prevent sending duplicate addresses.
func (sp *serverPeer) addKnownAddresses(addresses []*wire.NetAddress) {
	sp.addrMtx.Lock()
	defer sp.addrMtx.Unlock()

	for _, na := range addresses {
		if len(sp.knownAddresses) >= maxKnownAddresses {
			for key := range sp.knownAddresses {
				delete(sp.knownAddresses, key)

				if len(sp.knownAddresses) <= maxKnownAddresses/2 {
					break
				}
			}
		}

		sp.knownAddresses[addrmgr.NetAddressKey(na)] = struct{}{}
	}
}

// addressKnown true if the given address is already known to the peer.
func (sp *serverPeer) addressKnown(na *wire.NetAddress) bool {
	sp.addrMtx.RLock()
	defer sp.addrMtx.RUnlock()

	_, exists := sp.knownAddresses[addrmgr.NetAddressKey(na)]

	return exists
}

// pushAddrMsg sends an addr message to the connected peer using the provided
// addresses.
func (sp *serverPeer) pushAddrMsg(addresses []*wire.NetAddress) {
	addrs := make([]*wire.NetAddress, 0, len(addresses))

	for _, na := range addresses {
		if !sp.addressKnown(na) {
			addrs = append(addrs, na)
		}
	}

	sp.addKnownAddresses(sp.PushAddrMsg(addrs))
}

// addBanScore increases the misbehaviour score. Once the score reaches the
// ban threshold the peer is banned and disconnected. Whitelisted peers are
// never banned.
func (sp *serverPeer) addBanScore(score int, reason string) {
	if score <= 0 {
		return
	}

	if sp.isWhitelisted {
		sp.server.logger.Debugf("[p2p] misbehaving whitelisted peer %s: %s", sp, reason)
		return
	}

	threshold := int32(sp.server.settings.P2P.BanScore)

	newScore := sp.banScore.Add(int32(score))
	sp.server.logger.Warnf("[p2p] misbehaving peer %s: %s -- ban score increased to %d", sp, reason, newScore)

	if newScore >= threshold && newScore-int32(score) < threshold {
		sp.server.BanPeer(sp)
		sp.Disconnect()
	}
}

// OnVersion is invoked when a peer receives a version message and is used
// to negotiate the protocol version details as well as kick start the
// communications.
func (sp *serverPeer) OnVersion(_ *peer.Peer, msg *wire.MsgVersion) *wire.MsgReject {
	addrManager := sp.server.addrManager

	// Outbound connections are to addresses we chose, so they are worth
	// remembering and asking for more.
	if !sp.Inbound() {
		if sp.server.settings.P2P.Listen && sp.server.syncManager.IsCurrent() {
			lna := addrManager.GetBestLocalAddress(sp.NA())
			if addrmgr.IsRoutable(lna) {
				sp.pushAddrMsg([]*wire.NetAddress{lna})
			}
		}

		if addrManager.NeedMoreAddresses() {
			sp.QueueMessage(&wire.MsgGetAddr{}, nil)
		}

		addrManager.Good(sp.NA())
	}

	// Add the remote peer time as a sample for creating an offset against
	// the local clock to keep the network time in sync.
	sp.server.chain.TimeSource().AddTimeSample(sp.Addr(), msg.Timestamp)

	return nil
}

// OnVerAck is invoked once the handshake completed; the peer joins the
// server and becomes a sync candidate.
func (sp *serverPeer) OnVerAck(_ *peer.Peer, _ *wire.MsgVerAck) {
	sp.server.AddPeer(sp)
}

// OnMemPool is invoked when a peer receives a mempool message.  It creates
// and sends an inventory message with the contents of the memory pool up to
// the maximum inventory allowed per message.
func (sp *serverPeer) OnMemPool(_ *peer.Peer, _ *wire.MsgMemPool) {
	invMsg := wire.NewMsgInv()

	for _, desc := range sp.server.txPool.TxDescs() {
		hash := desc.Hash
		if err := invMsg.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &hash)); err != nil {
			break
		}
	}

	if len(invMsg.InvList) > 0 {
		sp.QueueMessage(invMsg, nil)
	}
}

// OnTx is invoked when a peer receives a tx message.  It blocks until the
// transaction has been fully processed so that a misbehaving peer cannot
// queue up a pile of bad transactions before being disconnected.
func (sp *serverPeer) OnTx(_ *peer.Peer, msg *wire.MsgTx) {
	hash := msg.Tx.TxHash()
	sp.AddKnownInventory(wire.NewInvVect(wire.InvTypeTx, &hash))

	sp.server.syncManager.QueueTx(msg.Tx, sp.Peer, sp.txProcessed)
	<-sp.txProcessed
}

// OnTxLock handles instant-send lock requests. The locking vote protocol is
// not run; the transaction enters the normal admission path.
func (sp *serverPeer) OnTxLock(_ *peer.Peer, msg *wire.MsgTxLock) {
	hash := msg.Tx.TxHash()
	sp.AddKnownInventory(wire.NewInvVect(wire.InvTypeTxLockRequest, &hash))

	if !sp.server.sporks.IsActive(SporkSwiftTx) {
		sp.server.logger.Debugf("[p2p] ix %s from %s handled as tx, swift tx spork is off", hash, sp)
	}

	sp.server.syncManager.QueueTx(msg.Tx, sp.Peer, sp.txProcessed)
	<-sp.txProcessed
}

// OnBlock is invoked when a peer receives a block message.  It blocks until
// the block has been fully processed.
func (sp *serverPeer) OnBlock(_ *peer.Peer, msg *wire.MsgBlock, _ []byte) {
	hash := msg.Block.Hash()
	sp.AddKnownInventory(wire.NewInvVect(wire.InvTypeBlock, &hash))

	sp.server.syncManager.QueueBlock(msg.Block, sp.Peer, sp.blockProcessed)
	<-sp.blockProcessed
}

// OnInv is invoked when a peer receives an inv message.  Spork inventory is
// fetched directly, the rest is passed to the sync manager.
func (sp *serverPeer) OnInv(_ *peer.Peer, msg *wire.MsgInv) {
	syncInv := wire.NewMsgInv()
	getData := wire.NewMsgGetData()

	for _, iv := range msg.InvList {
		sp.AddKnownInventory(iv)

		if iv.Type == wire.InvTypeSpork {
			if _, ok := sp.server.sporks.Get(iv.Hash); !ok {
				_ = getData.AddInvVect(iv)
			}

			continue
		}

		_ = syncInv.AddInvVect(iv)
	}

	if len(getData.InvList) > 0 {
		sp.QueueMessage(getData, nil)
	}

	if len(syncInv.InvList) > 0 {
		sp.server.syncManager.QueueInv(syncInv, sp.Peer)
	}
}

// OnHeaders is invoked when a peer receives a headers message.  The message
// is passed down to the sync manager.
func (sp *serverPeer) OnHeaders(_ *peer.Peer, msg *wire.MsgHeaders) {
	sp.server.syncManager.QueueHeaders(msg, sp.Peer)
}

// OnNotFound passes not found messages to the sync manager, which frees the
// blocks it expected from the peer.
func (sp *serverPeer) OnNotFound(_ *peer.Peer, msg *wire.MsgNotFound) {
	sp.server.syncManager.QueueNotFound(msg, sp.Peer)
}

// OnGetData is invoked when a peer receives a getdata message and is used to
// deliver block, transaction and spork information.
func (sp *serverPeer) OnGetData(_ *peer.Peer, msg *wire.MsgGetData) {
	numAdded := 0
	notFound := wire.NewMsgNotFound()

	length := len(msg.InvList)

	// We wait on this wait channel periodically to prevent queuing far more
	// data than we can send in a reasonable time, wasting memory.  The
	// waiting occurs after the fetch for the next one to provide a little
	// pipelining.
	var waitChan chan struct{}

	doneChan := make(chan struct{}, 1)

	for i, iv := range msg.InvList {
		var c chan struct{}
		// If this will be the last message we send.
		if i == length-1 && len(notFound.InvList) == 0 {
			c = doneChan
		} else if (i+1)%3 == 0 {
			// Buffered so as to not make the send goroutine block.
			c = make(chan struct{}, 1)
		}

		var err error

		switch iv.Type {
		case wire.InvTypeTx, wire.InvTypeTxLockRequest:
			err = sp.server.pushTxMsg(sp, iv, c, waitChan)
		case wire.InvTypeBlock:
			err = sp.server.pushBlockMsg(sp, &iv.Hash, c, waitChan)
		case wire.InvTypeSpork:
			err = sp.server.pushSporkMsg(sp, &iv.Hash, c, waitChan)
		default:
			sp.server.logger.Warnf("[p2p] unknown type %s in inventory request from %s", iv.Type, sp)
			continue
		}

		if err != nil {
			_ = notFound.AddInvVect(iv)

			// When there is a failure fetching the final entry and the
			// done channel was sent in due to there being no outstanding
			// not found inventory, consume it here because there is now
			// not found inventory that will use the channel momentarily.
			if i == length-1 && c != nil {
				<-c
			}
		}

		numAdded++
		waitChan = c
	}

	if len(notFound.InvList) != 0 {
		sp.QueueMessage(notFound, doneChan)
	}

	// Wait for messages to be sent so that nothing else from this peer is
	// processed before the data is on the wire.
	if numAdded > 0 {
		<-doneChan
	}
}

// OnGetBlocks is invoked when a peer receives a getblocks message.
func (sp *serverPeer) OnGetBlocks(_ *peer.Peer, msg *wire.MsgGetBlocks) {
	chain := sp.server.chain

	// Find the most recent known block in the best chain based on the block
	// locator and fetch all of the block hashes after it until either
	// MaxBlocksPerInv have been fetched or the provided stop hash is
	// encountered.
	invMsg := wire.NewMsgInv()

	for bi := chain.Next(chain.FindLocatorFork(msg.Locator())); bi != nil; bi = chain.Next(bi) {
		hash := bi.Hash
		_ = invMsg.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash))

		if hash == msg.HashStop || len(invMsg.InvList) >= wire.MaxBlocksPerInv {
			break
		}
	}

	if invListLen := len(invMsg.InvList); invListLen > 0 {
		if invListLen == wire.MaxBlocksPerInv {
			// Intentionally use a copy of the final hash so there is not a
			// reference into the inventory slice.
			continueHash := invMsg.InvList[invListLen-1].Hash
			sp.continueHash = &continueHash
		}

		sp.QueueMessage(invMsg, nil)
	}
}

// OnGetHeaders is invoked when a peer receives a getheaders message.
func (sp *serverPeer) OnGetHeaders(_ *peer.Peer, msg *wire.MsgGetHeaders) {
	chain := sp.server.chain

	// Headers served during our own initial download would only describe a
	// chain we are not on yet.
	if chain.IsInitialBlockDownload() && !sp.isWhitelisted {
		sp.server.logger.Debugf("[p2p] ignoring getheaders from %s during initial download", sp)
		return
	}

	headersMsg := wire.NewMsgHeaders()

	locator := msg.Locator()
	if len(locator) == 0 {
		// a bare stop hash asks for that one header
		bi := chain.LookupBlockIndex(msg.HashStop)
		if bi == nil {
			return
		}

		_ = headersMsg.AddBlockHeader(&bi.Header)
		sp.QueueMessage(headersMsg, nil)

		return
	}

	for bi := chain.Next(chain.FindLocatorFork(locator)); bi != nil; bi = chain.Next(bi) {
		header := bi.Header
		_ = headersMsg.AddBlockHeader(&header)

		if bi.Hash == msg.HashStop || len(headersMsg.Headers) >= wire.MaxBlockHeadersPerMsg {
			break
		}
	}

	sp.QueueMessage(headersMsg, nil)
}

// OnGetAddr is invoked when a peer receives a getaddr message and is used to
// provide the peer with known addresses from the address manager.
func (sp *serverPeer) OnGetAddr(_ *peer.Peer, _ *wire.MsgGetAddr) {
	// Do not accept getaddr requests from outbound peers.  This reduces
	// fingerprinting attacks.
	if !sp.Inbound() {
		sp.server.logger.Debugf("[p2p] ignoring getaddr request from outbound peer %s", sp)
		return
	}

	// Only allow one getaddr request per connection to discourage address
	// stamping of inv announcements.
	if sp.sentAddrs {
		sp.server.logger.Debugf("[p2p] ignoring repeated getaddr request from peer %s", sp)
		return
	}

	sp.sentAddrs = true

	addrCache := sp.server.addrManager.AddressCache()

	// Add our best net address for peers to discover us. If the port is 0
	// that indicates no worthy address was found.
	bestAddress := sp.server.addrManager.GetBestLocalAddress(sp.NA())
	if bestAddress.Port != 0 {
		if len(addrCache) >= wire.MaxAddrPerMsg {
			addrCache = addrCache[1:]
		}

		addrCache = append(addrCache, bestAddress)
	}

	sp.pushAddrMsg(addrCache)
}

// OnAddr is invoked when a peer receives an addr message and is used to
// notify the server about advertised addresses.
func (sp *serverPeer) OnAddr(_ *peer.Peer, msg *wire.MsgAddr) {
	if len(msg.AddrList) > wire.MaxAddrPerMsg {
		sp.addBanScore(banScoreOversizedAddr, fmt.Sprintf("addr message with %d addresses", len(msg.AddrList)))
		return
	}

	if len(msg.AddrList) == 0 {
		return
	}

	now := time.Now()

	for _, na := range msg.AddrList {
		// Don't add more address if we're disconnecting.
		if !sp.Connected() {
			return
		}

		// Set the timestamp to 5 days ago if it's more than 10 minutes in
		// the future so this address is one of the first to be removed
		// when space is needed.
		if na.Timestamp.After(now.Add(10 * time.Minute)) {
			na.Timestamp = now.Add(-5 * 24 * time.Hour)
		}
	}

	sp.addKnownAddresses(msg.AddrList)

	// The address manager handles the details of things such as preventing
	// duplicate addresses, max addresses, and last seen updates.
	sp.server.addrManager.AddAddresses(msg.AddrList, sp.NA())
}

// OnSpork verifies a spork and relays it when it is new.
func (sp *serverPeer) OnSpork(_ *peer.Peer, msg *wire.MsgSpork) {
	hash := msg.Hash()
	iv := wire.NewInvVect(wire.InvTypeSpork, &hash)
	sp.AddKnownInventory(iv)

	isNew, err := sp.server.sporks.Process(msg)
	if err != nil {
		if data, ok := errors.RejectDataOf(err); ok {
			sp.PushRejectMsg(msg.Command(), wire.RejectCode(data.RejectCode), data.Reason, &hash, true)
			sp.addBanScore(data.BanScore, data.Reason)
		}

		return
	}

	if isNew {
		sp.server.logger.Infof("[p2p] spork %d set to %d by %s", msg.ID, msg.Value, sp)
		sp.server.RelayInventory(iv, msg)
	}
}

// OnGetSporks sends every held spork.
func (sp *serverPeer) OnGetSporks(_ *peer.Peer, _ *wire.MsgGetSporks) {
	for _, msg := range sp.server.sporks.All() {
		sp.QueueMessage(msg, nil)
	}
}

// OnReject logs all reject messages received from the remote peer.
func (sp *serverPeer) OnReject(_ *peer.Peer, msg *wire.MsgReject) {
	sp.server.logger.Warnf("[p2p] received reject from %s, cmd: %s, code: %s, reason: %s, hash: %s",
		sp, msg.Cmd, msg.Code, msg.Reason, msg.Hash)

	if sp.server.logger.LogLevel() <= ulogger.LevelDebug {
		sp.server.logger.Debugf("[p2p] reject from %s: %s", sp, spew.Sdump(msg))
	}
}

// OnRead is invoked when a peer receives a message and it is used to update
// the bytes received by the server.
func (sp *serverPeer) OnRead(_ *peer.Peer, bytesRead int, msg wire.Message, _ error) {
	sp.server.AddBytesReceived(uint64(bytesRead))

	if msg != nil {
		prometheusMessages.WithLabelValues(msg.Command()).Inc()
	}
}

// OnWrite is invoked when a peer sends a message and it is used to update
// the bytes sent by the server.
func (sp *serverPeer) OnWrite(_ *peer.Peer, bytesWritten int, _ wire.Message, _ error) {
	sp.server.AddBytesSent(uint64(bytesWritten))
}

// pushTxMsg sends a tx message for the provided transaction hash to the
// connected peer.  An error is returned if the transaction hash is not known.
func (s *server) pushTxMsg(sp *serverPeer, iv *wire.InvVect, doneChan chan<- struct{}, waitChan <-chan struct{}) error {
	tx, ok := s.txPool.Fetch(iv.Hash)
	if !ok {
		var err error

		if tx, _, err = s.chain.ReadTx(iv.Hash); err != nil {
			s.logger.Debugf("[p2p] unable to fetch tx %s: %v", iv.Hash, err)

			if doneChan != nil {
				doneChan <- struct{}{}
			}

			return err
		}
	}

	// Once we have fetched data wait for any previous operation to finish.
	if waitChan != nil {
		<-waitChan
	}

	var msg wire.Message = wire.NewMsgTx(tx)
	if iv.Type == wire.InvTypeTxLockRequest {
		msg = &wire.MsgTxLock{Tx: tx}
	}

	sp.QueueMessage(msg, doneChan)

	return nil
}

// pushBlockMsg sends a block message for the provided block hash to the
// connected peer.  An error is returned if the block hash is not known.
func (s *server) pushBlockMsg(sp *serverPeer, hash *chainhash.Hash, doneChan chan<- struct{}, waitChan <-chan struct{}) error {
	fail := func(err error) error {
		s.logger.Debugf("[p2p] unable to fetch requested block %s: %v", hash, err)

		if doneChan != nil {
			doneChan <- struct{}{}
		}

		return err
	}

	bi := s.chain.LookupBlockIndex(*hash)
	if bi == nil || !bi.HasData() {
		return fail(errors.NewBlockNotFoundError("block %s not available", hash))
	}

	block, err := s.chain.ReadBlock(bi)
	if err != nil {
		return fail(err)
	}

	// Once we have fetched data wait for any previous operation to finish.
	if waitChan != nil {
		<-waitChan
	}

	// We only send the channel for this message if we aren't sending an
	// inv straight after.
	var dc chan<- struct{}

	continueHash := sp.continueHash
	sendInv := continueHash != nil && continueHash.IsEqual(hash)

	if !sendInv {
		dc = doneChan
	}

	sp.QueueMessage(wire.NewMsgBlock(block), dc)

	// When the peer requests the final block that was advertised in
	// response to a getblocks message which requested more blocks than
	// would fit into a single message, send it a new inventory message to
	// trigger it to issue another getblocks message for the next batch of
	// inventory.
	if sendInv {
		tip := s.chain.Tip()
		tipHash := tip.Hash

		invMsg := wire.NewMsgInv()
		_ = invMsg.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &tipHash))
		sp.QueueMessage(invMsg, doneChan)
		sp.continueHash = nil
	}

	return nil
}

func (s *server) pushSporkMsg(sp *serverPeer, hash *chainhash.Hash, doneChan chan<- struct{}, waitChan <-chan struct{}) error {
	msg, ok := s.sporks.Get(*hash)
	if !ok {
		if doneChan != nil {
			doneChan <- struct{}{}
		}

		return errors.NewNotFoundError("spork %s not found", hash)
	}

	if waitChan != nil {
		<-waitChan
	}

	sp.QueueMessage(msg, doneChan)

	return nil
}

// handleUpdatePeerHeights updates the heights of all peers who were known to
// announce a block we recently accepted.
func (s *server) handleUpdatePeerHeights(state *peerState, umsg updatePeerHeightsMsg) {
	state.forAllPeers(func(sp *serverPeer) {
		// The origin peer should already have the updated height.
		if sp.Peer == umsg.originPeer {
			return
		}

		latestBlkHash := sp.LastAnnouncedBlock()

		// Skip this peer if it hasn't recently announced any new blocks.
		if latestBlkHash == nil {
			return
		}

		// If the peer has recently announced a block, and this block
		// matches our newly accepted block, then update their block height.
		if *latestBlkHash == *umsg.newHash {
			sp.UpdateLastBlockHeight(umsg.newHeight)
			sp.UpdateLastAnnouncedBlock(nil)
		}
	})
}

// handleAddPeerMsg deals with adding new peers.  It is invoked from the
// peerHandler goroutine.
func (s *server) handleAddPeerMsg(state *peerState, sp *serverPeer) bool {
	if sp == nil || !sp.Connected() {
		return false
	}

	// Ignore new peers if we're shutting down.
	if s.shutdown.Load() {
		s.logger.Infof("[p2p] new peer %s ignored - server is shutting down", sp)
		sp.Disconnect()

		return false
	}

	// Disconnect banned peers.
	if !sp.isWhitelisted && s.banList.IsBanned(sp.Addr()) {
		s.logger.Debugf("[p2p] peer %s is banned - disconnecting", sp)
		sp.Disconnect()

		return false
	}

	if sp.Inbound() {
		maxInbound := s.settings.P2P.MaxConnections - s.settings.P2P.MaxOutbound
		if len(state.inboundPeers) >= maxInbound && !sp.isWhitelisted {
			s.logger.Infof("[p2p] max inbound peers reached [%d] - disconnecting peer %s", maxInbound, sp)
			sp.Disconnect()

			return false
		}
	}

	s.logger.Debugf("[p2p] new peer %s", sp)

	switch {
	case sp.Inbound():
		state.inboundPeers[sp] = struct{}{}
	case sp.persistent:
		state.persistentPeers[sp] = struct{}{}
		state.outboundGroups[addrmgr.GroupKey(sp.NA())]++
	default:
		state.outboundPeers[sp] = struct{}{}
		state.outboundGroups[addrmgr.GroupKey(sp.NA())]++
	}

	s.updatePeerGauges(state)

	// Signal the sync manager this peer is a new sync candidate.
	sp.registered.Store(true)
	s.syncManager.NewPeer(sp.Peer)

	// Ask for the sporks once per connection.
	sp.QueueMessage(&wire.MsgGetSporks{}, nil)

	return true
}

// handleDonePeerMsg deals with peers that have signalled they are done.  It is
// invoked from the peerHandler goroutine.
func (s *server) handleDonePeerMsg(state *peerState, sp *serverPeer) {
	var list map[*serverPeer]struct{}

	switch {
	case sp.persistent:
		list = state.persistentPeers
	case sp.Inbound():
		list = state.inboundPeers
	default:
		list = state.outboundPeers
	}

	if _, ok := list[sp]; ok {
		if !sp.Inbound() {
			key := addrmgr.GroupKey(sp.NA())

			state.outboundGroups[key]--
			if state.outboundGroups[key] <= 0 {
				delete(state.outboundGroups, key)
			}
		}

		delete(list, sp)
		s.updatePeerGauges(state)

		s.logger.Debugf("[p2p] removed peer %s", sp)
	}

	// Update the address' last seen time if the peer has acknowledged our
	// version and has sent us its version as well.
	if sp.VerAckReceived() && sp.VersionKnown() && sp.NA() != nil {
		s.addrManager.Connected(sp.NA())
	}
}

// handleBanPeerMsg deals with banning peers.  It is invoked from the
// peerHandler goroutine.
func (s *server) handleBanPeerMsg(state *peerState, sp *serverPeer) {
	host, _, err := net.SplitHostPort(sp.Addr())
	if err != nil {
		s.logger.Debugf("[p2p] can't split ban peer %s: %v", sp.Addr(), err)
		return
	}

	banTime := s.settings.P2P.BanTime

	s.logger.Infof("[p2p] banned peer %s for %v", host, banTime)

	if err = s.banList.Add(host, time.Now().Add(banTime)); err != nil {
		s.logger.Errorf("[p2p] failed to record ban of %s: %v", host, err)
	}

	prometheusPeersBanned.Inc()

	// every other connection from the host goes too
	state.forAllPeers(func(other *serverPeer) {
		if other == sp || other.isWhitelisted {
			return
		}

		if otherHost, _, err := net.SplitHostPort(other.Addr()); err == nil && otherHost == host {
			other.Disconnect()
		}
	})
}

// handleRelayInvMsg deals with relaying inventory to peers that are not already
// known to have it.  It is invoked from the peerHandler goroutine.
func (s *server) handleRelayInvMsg(state *peerState, msg relayMsg) {
	state.forAllPeers(func(sp *serverPeer) {
		if !sp.Connected() {
			return
		}

		// Don't relay the transaction to the peer when it has transaction
		// relaying disabled.
		if msg.invVect.Type == wire.InvTypeTx && sp.RelayTxDisabled() {
			return
		}

		// Queue the inventory to be relayed with the next batch.  It will
		// be ignored if the peer is already known to have the inventory.
		sp.QueueInventory(msg.invVect)
	})
}

// handleBroadcastMsg deals with broadcasting messages to peers.  It is invoked
// from the peerHandler goroutine.
func (s *server) handleBroadcastMsg(state *peerState, bmsg *broadcastMsg) {
	state.forAllPeers(func(sp *serverPeer) {
		if !sp.Connected() {
			return
		}

		for _, ep := range bmsg.excludePeers {
			if sp == ep {
				return
			}
		}

		sp.QueueMessage(bmsg.message, nil)
	})
}

func (s *server) updatePeerGauges(state *peerState) {
	prometheusInboundPeers.Set(float64(len(state.inboundPeers)))
	prometheusOutboundPeers.Set(float64(state.OutboundCount()))
}

type getConnCountMsg struct {
	reply chan int32
}

type getOutboundCountMsg struct {
	reply chan int
}

type getPeersMsg struct {
	reply chan []*serverPeer
}

type getOutboundGroup struct {
	key   string
	reply chan int
}

type isConnectedMsg struct {
	addr  string
	reply chan bool
}

// disconnectBannedMsg drops every connected peer that is now banned.
type disconnectBannedMsg struct{}

// handleQuery is the central handler for all queries and commands from other
// goroutines related to peer state.
func (s *server) handleQuery(state *peerState, querymsg interface{}) {
	switch msg := querymsg.(type) {
	case getConnCountMsg:
		nconnected := int32(0)

		state.forAllPeers(func(sp *serverPeer) {
			if sp.Connected() {
				nconnected++
			}
		})

		msg.reply <- nconnected

	case getOutboundCountMsg:
		msg.reply <- state.OutboundCount()

	case getPeersMsg:
		peers := make([]*serverPeer, 0, state.Count())

		state.forAllPeers(func(sp *serverPeer) {
			if sp.Connected() {
				peers = append(peers, sp)
			}
		})

		msg.reply <- peers

	case getOutboundGroup:
		msg.reply <- state.outboundGroups[msg.key]

	case isConnectedMsg:
		connected := false

		state.forAllPeers(func(sp *serverPeer) {
			if sp.Addr() == msg.addr {
				connected = true
			}
		})

		msg.reply <- connected

	case disconnectBannedMsg:
		state.forAllPeers(func(sp *serverPeer) {
			if !sp.isWhitelisted && s.banList.IsBanned(sp.Addr()) {
				s.logger.Infof("[p2p] disconnecting banned peer %s", sp)
				sp.Disconnect()
			}
		})
	}
}

// newPeerConfig returns the configuration for the given serverPeer.
func newPeerConfig(sp *serverPeer) *peer.Config {
	return &peer.Config{
		Listeners: peer.MessageListeners{
			OnVersion:    sp.OnVersion,
			OnVerAck:     sp.OnVerAck,
			OnMemPool:    sp.OnMemPool,
			OnTx:         sp.OnTx,
			OnTxLock:     sp.OnTxLock,
			OnBlock:      sp.OnBlock,
			OnInv:        sp.OnInv,
			OnHeaders:    sp.OnHeaders,
			OnNotFound:   sp.OnNotFound,
			OnGetData:    sp.OnGetData,
			OnGetBlocks:  sp.OnGetBlocks,
			OnGetHeaders: sp.OnGetHeaders,
			OnGetAddr:    sp.OnGetAddr,
			OnAddr:       sp.OnAddr,
			OnSpork:      sp.OnSpork,
			OnGetSporks:  sp.OnGetSporks,
			OnReject:     sp.OnReject,
			OnRead:       sp.OnRead,
			OnWrite:      sp.OnWrite,
		},
		NewestBlock:       sp.newestBlock,
		UserAgentName:     userAgentName,
		UserAgentVersion:  userAgentVersion,
		UserAgentComments: sp.server.userAgentComments(),
		Services:          sp.server.services,
		ProtocolVersion:   peer.MaxProtocolVersion,
		TrickleInterval:   sp.server.trickleInterval,
	}
}

// inboundPeerConnected is invoked when a new inbound connection is
// established.  It initializes a new inbound server peer instance, associates
// it with the connection, and starts a goroutine to wait for disconnection.
func (s *server) inboundPeerConnected(conn net.Conn) {
	sp := newServerPeer(s, false)
	sp.isWhitelisted = s.isWhitelisted(conn.RemoteAddr())

	if !sp.isWhitelisted && s.banList.IsBanned(conn.RemoteAddr().String()) {
		s.logger.Debugf("[p2p] rejecting banned inbound peer %s", conn.RemoteAddr())
		_ = conn.Close()

		return
	}

	sp.Peer = peer.NewInboundPeer(s.logger, s.settings, newPeerConfig(sp))
	s.serverPeers.Store(sp.Peer, sp)
	sp.AssociateConnection(conn)

	go s.peerDoneHandler(sp)
}

// outboundPeerConnected is invoked when a new outbound connection is
// established.  It initializes a new outbound server peer instance, associates
// it with the connection, and finally notifies the address manager of the
// attempt.
func (s *server) outboundPeerConnected(addr string, conn net.Conn, persistent bool) (*serverPeer, error) {
	sp := newServerPeer(s, persistent)

	p, err := peer.NewOutboundPeer(s.logger, s.settings, newPeerConfig(sp), addr)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	sp.Peer = p
	sp.isWhitelisted = s.isWhitelisted(conn.RemoteAddr())
	s.serverPeers.Store(sp.Peer, sp)
	sp.AssociateConnection(conn)

	go s.peerDoneHandler(sp)

	return sp, nil
}

// peerDoneHandler handles peer disconnects by notifying the server that it's
// done along with other performing other desirable cleanup.
func (s *server) peerDoneHandler(sp *serverPeer) {
	sp.WaitForDisconnect()

	select {
	case s.donePeers <- sp:
	case <-s.quit:
	}

	// Only tell sync manager we are gone if we ever told it we existed.
	if sp.registered.Load() {
		s.syncManager.DonePeer(sp.Peer)
	}

	s.serverPeers.Delete(sp.Peer)
	close(sp.quit)
}

// peerHandler is used to handle peer operations such as adding and removing
// peers to and from the server, banning peers, and broadcasting messages to
// peers.  It must be run in a goroutine.
func (s *server) peerHandler() {
	defer s.wg.Done()

	s.logger.Infof("[p2p] peer handler starting")

	state := &peerState{
		inboundPeers:    make(map[*serverPeer]struct{}),
		outboundPeers:   make(map[*serverPeer]struct{}),
		persistentPeers: make(map[*serverPeer]struct{}),
		outboundGroups:  make(map[string]int),
	}

	sweep := time.NewTicker(banSweepInterval)
	defer sweep.Stop()

out:
	for {
		select {
		// New peers connected to the server.
		case p := <-s.newPeers:
			s.handleAddPeerMsg(state, p)

		// Disconnected peers.
		case p := <-s.donePeers:
			s.handleDonePeerMsg(state, p)

		// Block accepted in mainchain, update peer height.
		case umsg := <-s.peerHeightsUpdate:
			s.handleUpdatePeerHeights(state, umsg)

		// Peer to ban.
		case p := <-s.banPeers:
			s.handleBanPeerMsg(state, p)

		// New inventory to potentially be relayed to other peers.
		case invMsg := <-s.relayInv:
			s.handleRelayInvMsg(state, invMsg)

		// Message to broadcast to all connected peers except those which
		// are excluded by the message.
		case bmsg := <-s.broadcast:
			s.handleBroadcastMsg(state, &bmsg)

		case qmsg := <-s.query:
			s.handleQuery(state, qmsg)

		case <-sweep.C:
			s.banList.Sweep()

		case <-s.quit:
			// Disconnect all peers on server shutdown.
			state.forAllPeers(func(sp *serverPeer) {
				sp.Disconnect()
			})

			break out
		}
	}

	// Drain channels before exiting so nothing is left waiting around to
	// send.
cleanup:
	for {
		select {
		case <-s.newPeers:
		case <-s.donePeers:
		case <-s.peerHeightsUpdate:
		case <-s.banPeers:
		case <-s.relayInv:
		case <-s.broadcast:
		case <-s.query:
		default:
			break cleanup
		}
	}

	s.logger.Infof("[p2p] peer handler done")
}

// AddPeer adds a new peer that has already been connected to the server.
func (s *server) AddPeer(sp *serverPeer) {
	select {
	case s.newPeers <- sp:
	case <-s.quit:
		sp.Disconnect()
	}
}

// BanPeer bans a peer that has already been connected to the server by ip.
func (s *server) BanPeer(sp *serverPeer) {
	select {
	case s.banPeers <- sp:
	case <-s.quit:
	}
}

// RelayInventory relays the passed inventory vector to all connected peers
// that are not already known to have it.
func (s *server) RelayInventory(invVect *wire.InvVect, data interface{}) {
	select {
	case s.relayInv <- relayMsg{invVect: invVect, data: data}:
	case <-s.quit:
	}
}

// BroadcastMessage sends msg to all peers currently connected to the server
// except those in the passed peers to exclude.
func (s *server) BroadcastMessage(msg wire.Message, exclPeers ...*serverPeer) {
	select {
	case s.broadcast <- broadcastMsg{message: msg, excludePeers: exclPeers}:
	case <-s.quit:
	}
}

// queryPeers sends a query to the peer handler, returning false once the
// server is shutting down.
func (s *server) queryPeers(msg interface{}) bool {
	select {
	case s.query <- msg:
		return true
	case <-s.quit:
		return false
	}
}

// ConnectedCount returns the number of currently connected peers.
func (s *server) ConnectedCount() int32 {
	replyChan := make(chan int32, 1)
	if !s.queryPeers(getConnCountMsg{reply: replyChan}) {
		return 0
	}

	return <-replyChan
}

// OutboundCount returns the number of registered outbound peers.
func (s *server) OutboundCount() int {
	replyChan := make(chan int, 1)
	if !s.queryPeers(getOutboundCountMsg{reply: replyChan}) {
		return 0
	}

	return <-replyChan
}

// OutboundGroupCount returns the number of peers connected to the given
// outbound group key.
func (s *server) OutboundGroupCount(key string) int {
	replyChan := make(chan int, 1)
	if !s.queryPeers(getOutboundGroup{key: key, reply: replyChan}) {
		return 0
	}

	return <-replyChan
}

// IsConnected reports whether a peer with the given address is registered.
func (s *server) IsConnected(addr string) bool {
	replyChan := make(chan bool, 1)
	if !s.queryPeers(isConnectedMsg{addr: addr, reply: replyChan}) {
		return false
	}

	return <-replyChan
}

// Peers returns the registered, connected peers.
func (s *server) Peers() []*serverPeer {
	replyChan := make(chan []*serverPeer, 1)
	if !s.queryPeers(getPeersMsg{reply: replyChan}) {
		return nil
	}

	return <-replyChan
}

// AddBytesSent adds the passed number of bytes to the total bytes sent counter
// for the server.  It is safe for concurrent access.
func (s *server) AddBytesSent(bytesSent uint64) {
	s.bytesSent.Add(bytesSent)
	prometheusBytesSent.Add(float64(bytesSent))
}

// AddBytesReceived adds the passed number of bytes to the total bytes received
// counter for the server.  It is safe for concurrent access.
func (s *server) AddBytesReceived(bytesReceived uint64) {
	s.bytesReceived.Add(bytesReceived)
	prometheusBytesReceived.Add(float64(bytesReceived))
}

// NetTotals returns the sum of all bytes received and sent across the network
// for all peers.  It is safe for concurrent access.
func (s *server) NetTotals() (uint64, uint64) {
	return s.bytesReceived.Load(), s.bytesSent.Load()
}

// UpdatePeerHeights updates the heights of all peers who have have announced
// the latest connected main chain block. These height updates allow us to
// dynamically refresh peer heights, ensuring sync peer selection has access
// to the latest block heights for each peer.
func (s *server) UpdatePeerHeights(latestBlkHash *chainhash.Hash, latestHeight int32, updateSource *peer.Peer) {
	select {
	case s.peerHeightsUpdate <- updatePeerHeightsMsg{
		newHash:    latestBlkHash,
		newHeight:  latestHeight,
		originPeer: updateSource,
	}:
	case <-s.quit:
	}
}

// AddBanScore charges the server peer behind p.
func (s *server) AddBanScore(p *peer.Peer, score int, reason string) {
	if v, ok := s.serverPeers.Load(p); ok {
		v.(*serverPeer).addBanScore(score, reason)
	}
}

// TxAccepted relays transactions admitted to the mempool.
func (s *server) TxAccepted(desc *mempool.TxDesc) {
	hash := desc.Hash
	s.RelayInventory(wire.NewInvVect(wire.InvTypeTx, &hash), desc)
}

// chainObserver relays new tips once the node is synced.
type chainObserver struct {
	s *server
}

func (o chainObserver) BlockConnected(*model.Block, *blockchain_store.BlockIndex) {}

func (o chainObserver) BlockDisconnected(*model.Block, *blockchain_store.BlockIndex) {}

func (o chainObserver) UpdatedTip(tip *blockchain_store.BlockIndex, initialDownload bool) {
	if initialDownload || tip == nil || !o.s.started.Load() {
		return
	}

	hash := tip.Hash
	o.s.RelayInventory(wire.NewInvVect(wire.InvTypeBlock, &hash), tip)
}

// isWhitelisted returns whether the IP address is included in the whitelisted
// networks and IPs.
func (s *server) isWhitelisted(addr net.Addr) bool {
	if len(s.whitelists) == 0 {
		return false
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		s.logger.Warnf("[p2p] unable to split host and port of %s: %v", addr, err)
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, ipnet := range s.whitelists {
		if ipnet.Contains(ip) {
			return true
		}
	}

	return false
}

// defaultPort is the network's peer port.
func (s *server) defaultPort() uint16 {
	port, err := strconv.ParseUint(s.settings.ChainCfgParams.DefaultPort, 10, 16)
	if err != nil {
		return 0
	}

	return uint16(port)
}

// userAgentComments tags the user agent with a short instance id.
func (s *server) userAgentComments() []string {
	id := s.settings.InstanceID
	if len(id) > 8 {
		id = id[:8]
	}

	if id == "" {
		return nil
	}

	return []string{id}
}
