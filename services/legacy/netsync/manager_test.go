package netsync

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/peer"
	"github.com/tessacoin/tessanode/services/legacy/wire"
	"github.com/tessacoin/tessanode/services/mempool"
	"github.com/tessacoin/tessanode/settings"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/ulogger"
)

const waitFor = 5 * time.Second

// fakeChain accepts every header and block that connects to its index.
type fakeChain struct {
	mu       sync.Mutex
	index    *blockchain_store.Index
	active   *blockchain_store.Chain
	best     *blockchain_store.BlockIndex
	ibd      bool
	blockErr error
	received []chainhash.Hash
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()

	index := blockchain_store.NewIndex()
	genesis := &model.BlockHeader{Version: 3, Bits: 0x207fffff, Timestamp: 1538753921}

	bi, added := index.AddHeader(genesis.Hash(), genesis)
	require.True(t, added)

	bi.TxCount = 1
	bi.ChainTxCount = 1
	bi.AddStatus(blockchain_store.BlockHaveData)

	active := blockchain_store.NewChain(index)
	active.SetTip(bi)

	return &fakeChain{index: index, active: active, best: bi}
}

func (c *fakeChain) Index() *blockchain_store.Index { return c.index }

func (c *fakeChain) Tip() *blockchain_store.BlockIndex {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active.Tip()
}

func (c *fakeChain) BestHeader() *blockchain_store.BlockIndex {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.best
}

func (c *fakeChain) Contains(bi *blockchain_store.BlockIndex) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active.Contains(bi)
}

func (c *fakeChain) Locator(bi *blockchain_store.BlockIndex) []chainhash.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active.Locator(bi)
}

func (c *fakeChain) LookupBlockIndex(hash chainhash.Hash) *blockchain_store.BlockIndex {
	return c.index.Lookup(hash)
}

func (c *fakeChain) ProcessNewBlockHeaders(headers []*model.BlockHeader) (*blockchain_store.BlockIndex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var last *blockchain_store.BlockIndex

	for _, header := range headers {
		if c.index.Lookup(header.HashPrevBlock) == nil {
			return nil, errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, 10, "prev-blk-not-found")
		}

		last, _ = c.index.AddHeader(header.Hash(), header)

		if last.ChainWork.Cmp(c.best.ChainWork) > 0 {
			c.best = last
		}
	}

	return last, nil
}

func (c *fakeChain) ProcessNewBlock(_ context.Context, block *model.Block, _ bool) (*blockchain_store.BlockIndex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.blockErr != nil {
		return nil, c.blockErr
	}

	hash := block.Hash()
	c.received = append(c.received, hash)

	bi, _ := c.index.AddHeader(hash, block.Header)
	bi.AddStatus(blockchain_store.BlockHaveData)

	// connect as far as the data allows
	for {
		tip := c.active.Tip()

		var next *blockchain_store.BlockIndex

		for _, child := range c.index.Descendants(tip) {
			if c.index.Parent(child) == tip && child.HasData() {
				next = child
				break
			}
		}

		if next == nil {
			break
		}

		next.ChainTxCount = tip.ChainTxCount + 1
		c.active.SetTip(next)
	}

	return bi, nil
}

func (c *fakeChain) IsInitialBlockDownload() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ibd
}

func (c *fakeChain) receivedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.received)
}

type fakePool struct {
	mu       sync.Mutex
	have     map[chainhash.Hash]bool
	rejected map[chainhash.Hash]bool
	err      error
	accepted []chainhash.Hash
}

func newFakePool() *fakePool {
	return &fakePool{have: map[chainhash.Hash]bool{}, rejected: map[chainhash.Hash]bool{}}
}

func (p *fakePool) Have(hash chainhash.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.have[hash]
}

func (p *fakePool) IsRecentlyRejected(hash chainhash.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.rejected[hash]
}

func (p *fakePool) ProcessTransaction(_ context.Context, tx *model.Tx, _, _ bool) ([]*mempool.TxDesc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}

	hash := tx.TxHash()
	p.have[hash] = true
	p.accepted = append(p.accepted, hash)

	return []*mempool.TxDesc{{Tx: tx, Hash: hash}}, nil
}

type banRecord struct {
	peer   *peer.Peer
	score  int
	reason string
}

type fakeNotifier struct {
	mu      sync.Mutex
	bans    []banRecord
	heights map[*peer.Peer]int32
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{heights: map[*peer.Peer]int32{}}
}

func (n *fakeNotifier) UpdatePeerHeights(_ *chainhash.Hash, latestHeight int32, updateSource *peer.Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.heights[updateSource] = latestHeight
}

func (n *fakeNotifier) AddBanScore(p *peer.Peer, score int, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.bans = append(n.bans, banRecord{peer: p, score: score, reason: reason})
}

func (n *fakeNotifier) banScores() []banRecord {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]banRecord(nil), n.bans...)
}

type harness struct {
	t        *testing.T
	settings *settings.Settings
	chain    *fakeChain
	pool     *fakePool
	notifier *fakeNotifier
	sm       *SyncManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tSettings, err := settings.NewSettings(map[string]string{
		"regtest": "1",
		"datadir": t.TempDir(),
	})
	require.NoError(t, err)

	h := &harness{
		t:        t,
		settings: tSettings,
		chain:    newFakeChain(t),
		pool:     newFakePool(),
		notifier: newFakeNotifier(),
	}

	h.sm, err = New(ulogger.TestLogger{}, tSettings, &Config{
		PeerNotifier: h.notifier,
		Chain:        h.chain,
		TxPool:       h.pool,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, h.sm.Stop())
	})

	return h
}

// remote is the far end of a connected peer.
type remote struct {
	t     *testing.T
	conn  net.Conn
	magic [4]byte
}

func (r *remote) write(msg wire.Message) {
	r.t.Helper()
	require.NoError(r.t, wire.WriteMessage(r.conn, msg, wire.ProtocolVersion, r.magic))
}

func (r *remote) read() wire.Message {
	r.t.Helper()

	require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(waitFor)))

	msg, _, err := wire.ReadMessage(r.conn, wire.ProtocolVersion, r.magic)
	require.NoError(r.t, err)

	return msg
}

// expectSilence asserts the peer sends nothing for a short while.
func (r *remote) expectSilence() {
	r.t.Helper()

	require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))

	msg, _, err := wire.ReadMessage(r.conn, wire.ProtocolVersion, r.magic)
	require.Error(r.t, err, "unexpected message %v", msg)
}

// connect returns a peer that completed its handshake with a remote.
func (h *harness) connect() (*peer.Peer, *remote) {
	h.t.Helper()

	local, far := net.Pipe()
	h.t.Cleanup(func() {
		_ = local.Close()
		_ = far.Close()
	})

	verAck := make(chan struct{}, 1)

	p := peer.NewInboundPeer(ulogger.TestLogger{}, h.settings, &peer.Config{
		NewestBlock: func() (*chainhash.Hash, int32, error) {
			return &chainhash.Hash{}, 0, nil
		},
		UserAgentName:    "tessad",
		UserAgentVersion: "1.0.0",
		Services:         wire.SFNodeNetwork,
		Listeners: peer.MessageListeners{
			OnVerAck: func(*peer.Peer, *wire.MsgVerAck) { verAck <- struct{}{} },
		},
	})
	p.AssociateConnection(local)

	r := &remote{t: h.t, conn: far, magic: h.settings.ChainCfgParams.MessageStart}

	version := wire.NewMsgVersion(&wire.NetAddress{}, &wire.NetAddress{}, uint64(time.Now().UnixNano()), 0)
	require.NoError(h.t, version.AddUserAgent("remote", "0.1"))
	r.write(version)

	_, ok := r.read().(*wire.MsgVersion)
	require.True(h.t, ok)

	_, ok = r.read().(*wire.MsgVerAck)
	require.True(h.t, ok)

	r.write(&wire.MsgVerAck{})

	select {
	case <-verAck:
	case <-time.After(waitFor):
		h.t.Fatal("handshake did not complete")
	}

	return p, r
}

// buildHeaders returns n headers extending parent.
func buildHeaders(parent *blockchain_store.BlockIndex, n int, salt uint32) []*model.BlockHeader {
	headers := make([]*model.BlockHeader, 0, n)
	prevHash := parent.Hash
	timestamp := parent.Header.Timestamp

	for i := 0; i < n; i++ {
		timestamp += 60

		header := &model.BlockHeader{Version: 3, Bits: 0x207fffff, Timestamp: timestamp, Nonce: salt, HashPrevBlock: prevHash}
		headers = append(headers, header)
		prevHash = header.Hash()
	}

	return headers
}

func headersMsgOf(headers []*model.BlockHeader) *wire.MsgHeaders {
	msg := wire.NewMsgHeaders()
	msg.Headers = append(msg.Headers, headers...)

	return msg
}

func readGetData(t *testing.T, r *remote) []*wire.InvVect {
	t.Helper()

	gd, ok := r.read().(*wire.MsgGetData)
	require.True(t, ok)

	return gd.InvList
}

func readGetHeaders(t *testing.T, r *remote) *wire.MsgGetHeaders {
	t.Helper()

	gh, ok := r.read().(*wire.MsgGetHeaders)
	require.True(t, ok)

	return gh
}

func TestHeaderSyncWithSinglePeer(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	p2, r2 := h.connect()

	h.sm.NewPeer(p1)
	h.sm.NewPeer(p2)

	gh := readGetHeaders(t, r1)
	require.NotEmpty(t, gh.BlockLocatorHashes)
	assert.Equal(t, h.chain.BestHeader().Hash, *gh.BlockLocatorHashes[0])

	r2.expectSilence()
	assert.Equal(t, p1.ID(), h.sm.SyncPeerID())

	// the second peer takes over when the first goes away
	h.sm.DonePeer(p1)

	readGetHeaders(t, r2)
	assert.Equal(t, p2.ID(), h.sm.SyncPeerID())
}

func TestHeadersTriggerBlockDownload(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	h.sm.NewPeer(p1)
	readGetHeaders(t, r1)

	headers := buildHeaders(h.chain.Tip(), 20, 0)
	h.sm.QueueHeaders(headersMsgOf(headers), p1)

	invs := readGetData(t, r1)
	require.Len(t, invs, MaxBlocksInTransitPerPeer)

	for i, iv := range invs {
		assert.Equal(t, wire.InvTypeBlock, iv.Type)
		assert.Equal(t, headers[i].Hash(), iv.Hash)
	}

	assert.Len(t, h.sm.InFlight(p1), MaxBlocksInTransitPerPeer)

	done := make(chan struct{}, 1)
	h.sm.QueueBlock(&model.Block{Header: headers[0]}, p1, done)
	<-done

	// one slot freed, the next block is requested
	invs = readGetData(t, r1)
	require.Len(t, invs, 1)
	assert.Equal(t, headers[MaxBlocksInTransitPerPeer].Hash(), invs[0].Hash)

	inFlight := h.sm.InFlight(p1)
	assert.Len(t, inFlight, MaxBlocksInTransitPerPeer)
	assert.NotContains(t, inFlight, headers[0].Hash())

	assert.Equal(t, int32(1), h.chain.Tip().Height)
	assert.Equal(t, int32(1), p1.LastBlock())
}

func TestFullHeadersBatchAsksForMore(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	h.sm.NewPeer(p1)
	readGetHeaders(t, r1)

	headers := buildHeaders(h.chain.Tip(), wire.MaxBlockHeadersPerMsg, 0)
	h.sm.QueueHeaders(headersMsgOf(headers), p1)

	gh := readGetHeaders(t, r1)
	last := h.chain.LookupBlockIndex(headers[len(headers)-1].Hash())
	require.NotNil(t, last)

	// the locator starts at the parent of the last header received
	assert.Equal(t, h.chain.Index().Parent(last).Hash, *gh.BlockLocatorHashes[0])

	readGetData(t, r1)
}

func TestStallingPeerDisconnected(t *testing.T) {
	h := newHarness(t)
	h.sm.stallTimeout = 50 * time.Millisecond
	h.sm.downloadWindow = MaxBlocksInTransitPerPeer
	h.sm.Start()

	p1, r1 := h.connect()
	p2, r2 := h.connect()

	h.sm.NewPeer(p1)
	h.sm.NewPeer(p2)
	readGetHeaders(t, r1)

	headers := buildHeaders(h.chain.Tip(), 20, 0)

	h.sm.QueueHeaders(headersMsgOf(headers), p1)
	require.Len(t, readGetData(t, r1), MaxBlocksInTransitPerPeer)

	// the whole window is with p1, so p2 has nothing to fetch and p1
	// becomes the staller
	h.sm.QueueHeaders(headersMsgOf(headers), p2)
	r2.expectSilence()

	done := make(chan struct{})

	go func() {
		p1.WaitForDisconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("stalling peer was not disconnected")
	}

	assert.True(t, p2.Connected())

	// once p1 is gone p2 takes over header sync and its blocks
	h.sm.DonePeer(p1)
	readGetHeaders(t, r2)
	assert.Len(t, readGetData(t, r2), MaxBlocksInTransitPerPeer)
}

func TestDonePeerReleasesBlocks(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	p2, r2 := h.connect()

	h.sm.NewPeer(p1)
	h.sm.NewPeer(p2)
	readGetHeaders(t, r1)

	headers := buildHeaders(h.chain.Tip(), 20, 0)

	h.sm.QueueHeaders(headersMsgOf(headers), p1)
	require.Len(t, readGetData(t, r1), MaxBlocksInTransitPerPeer)

	h.sm.QueueHeaders(headersMsgOf(headers), p2)
	require.Len(t, readGetData(t, r2), 4)

	h.sm.DonePeer(p1)
	readGetHeaders(t, r2)

	invs := readGetData(t, r2)
	require.Len(t, invs, MaxBlocksInTransitPerPeer-4)
	assert.Equal(t, headers[0].Hash(), invs[0].Hash)
	assert.Len(t, h.sm.InFlight(p2), MaxBlocksInTransitPerPeer)
}

func TestUnconnectingHeadersRequestGap(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	p2, r2 := h.connect()

	h.sm.NewPeer(p1)
	h.sm.NewPeer(p2)
	readGetHeaders(t, r1)

	orphan := &model.BlockHeader{Version: 3, Bits: 0x207fffff, Timestamp: 1538754921, HashPrevBlock: chainhash.Hash{0xde, 0xad}}
	h.sm.QueueHeaders(headersMsgOf([]*model.BlockHeader{orphan}), p2)

	gh := readGetHeaders(t, r2)
	assert.Equal(t, h.chain.BestHeader().Hash, *gh.BlockLocatorHashes[0])
	assert.Empty(t, h.notifier.banScores())
}

func TestNonContinuousHeadersPenalised(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	h.sm.NewPeer(p1)
	readGetHeaders(t, r1)

	headers := buildHeaders(h.chain.Tip(), 3, 0)
	headers[2] = buildHeaders(h.chain.Tip(), 1, 7)[0]

	h.sm.QueueHeaders(headersMsgOf(headers), p1)
	h.sm.SyncPeerID()

	bans := h.notifier.banScores()
	require.Len(t, bans, 1)
	assert.Equal(t, 20, bans[0].score)
	assert.Nil(t, h.chain.LookupBlockIndex(headers[0].Hash()))
}

func TestBlockInvFetchesHeaders(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	p2, r2 := h.connect()

	h.sm.NewPeer(p1)
	h.sm.NewPeer(p2)
	readGetHeaders(t, r1)

	announced := chainhash.Hash{0x42}
	inv := wire.NewMsgInv()
	require.NoError(t, inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &announced)))

	h.sm.QueueInv(inv, p2)

	gh := readGetHeaders(t, r2)
	assert.Equal(t, announced, gh.HashStop)
	assert.Equal(t, announced, *p2.LastAnnouncedBlock())
}

func TestTxInvRequestedOnce(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	p2, r2 := h.connect()

	h.sm.NewPeer(p1)
	h.sm.NewPeer(p2)
	readGetHeaders(t, r1)

	fresh := chainhash.Hash{0x01}
	pooled := chainhash.Hash{0x02}
	rejected := chainhash.Hash{0x03}

	h.pool.have[pooled] = true
	h.pool.rejected[rejected] = true

	inv := wire.NewMsgInv()
	for _, hash := range []chainhash.Hash{fresh, pooled, rejected} {
		hash := hash
		require.NoError(t, inv.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &hash)))
	}

	h.sm.QueueInv(inv, p1)

	invs := readGetData(t, r1)
	require.Len(t, invs, 1)
	assert.Equal(t, fresh, invs[0].Hash)

	// already requested from p1
	h.sm.QueueInv(inv, p2)
	r2.expectSilence()
}

func TestTxInvIgnoredDuringInitialDownload(t *testing.T) {
	h := newHarness(t)
	h.chain.ibd = true
	h.sm.Start()

	p1, r1 := h.connect()
	h.sm.NewPeer(p1)
	readGetHeaders(t, r1)

	hash := chainhash.Hash{0x01}
	inv := wire.NewMsgInv()
	require.NoError(t, inv.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &hash)))

	h.sm.QueueInv(inv, p1)
	r1.expectSilence()
}

func newTestTx() *model.Tx {
	tx := model.NewTx(1)
	tx.AddTxIn(model.NewTxIn(&model.OutPoint{Hash: chainhash.Hash{0x09}, Index: 0}, []byte{0x51}))
	tx.AddTxOut(model.NewTxOut(1000, []byte{0x51}))

	return tx
}

func TestTxAccepted(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	h.sm.NewPeer(p1)
	readGetHeaders(t, r1)

	tx := newTestTx()

	done := make(chan struct{}, 1)
	h.sm.QueueTx(tx, p1, done)
	<-done

	assert.Equal(t, []chainhash.Hash{tx.TxHash()}, h.pool.accepted)
	assert.Empty(t, h.notifier.banScores())
}

func TestTxRejectedChargesBanScore(t *testing.T) {
	h := newHarness(t)
	h.pool.err = errors.NewRejectError(errors.ERR_TX_INVALID, errors.RejectInvalid, 100, "bad-txns-vout-negative")
	h.sm.Start()

	p1, r1 := h.connect()
	h.sm.NewPeer(p1)
	readGetHeaders(t, r1)

	tx := newTestTx()

	done := make(chan struct{}, 1)
	h.sm.QueueTx(tx, p1, done)
	<-done

	reject, ok := r1.read().(*wire.MsgReject)
	require.True(t, ok)
	assert.Equal(t, wire.CmdTx, reject.Cmd)
	assert.Equal(t, wire.RejectInvalid, reject.Code)
	assert.Equal(t, tx.TxHash(), reject.Hash)

	bans := h.notifier.banScores()
	require.Len(t, bans, 1)
	assert.Equal(t, 100, bans[0].score)
	assert.Same(t, p1, bans[0].peer)
}

func TestRejectedBlockChargesBanScore(t *testing.T) {
	h := newHarness(t)
	h.chain.blockErr = errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, 100, "bad-blk-sigops")
	h.sm.Start()

	p1, r1 := h.connect()
	h.sm.NewPeer(p1)
	readGetHeaders(t, r1)

	block := &model.Block{Header: buildHeaders(h.chain.Tip(), 1, 0)[0]}

	done := make(chan struct{}, 1)
	h.sm.QueueBlock(block, p1, done)
	<-done

	reject, ok := r1.read().(*wire.MsgReject)
	require.True(t, ok)
	assert.Equal(t, wire.CmdBlock, reject.Cmd)
	assert.Equal(t, "bad-blk-sigops", reject.Reason)

	bans := h.notifier.banScores()
	require.Len(t, bans, 1)
	assert.Equal(t, 100, bans[0].score)
}

func TestInternalBlockErrorIsNotPeersFault(t *testing.T) {
	h := newHarness(t)
	h.chain.blockErr = errors.NewStorageError("disk full")
	h.sm.Start()

	p1, r1 := h.connect()
	h.sm.NewPeer(p1)
	readGetHeaders(t, r1)

	done := make(chan struct{}, 1)
	h.sm.QueueBlock(&model.Block{Header: buildHeaders(h.chain.Tip(), 1, 0)[0]}, p1, done)
	<-done

	r1.expectSilence()
	assert.Empty(t, h.notifier.banScores())
}

func TestNotFoundFreesBlock(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()

	p1, r1 := h.connect()
	h.sm.NewPeer(p1)
	readGetHeaders(t, r1)

	headers := buildHeaders(h.chain.Tip(), 2, 0)
	h.sm.QueueHeaders(headersMsgOf(headers), p1)
	require.Len(t, readGetData(t, r1), 2)

	missing := headers[1].Hash()
	nf := wire.NewMsgNotFound()
	require.NoError(t, nf.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &missing)))

	h.sm.QueueNotFound(nf, p1)

	assert.Equal(t, []chainhash.Hash{headers[0].Hash()}, h.sm.InFlight(p1))
}

func TestNewRequiresDependencies(t *testing.T) {
	tSettings, err := settings.NewSettings(map[string]string{"regtest": "1", "datadir": t.TempDir()})
	require.NoError(t, err)

	_, err = New(ulogger.TestLogger{}, tSettings, &Config{})
	require.Error(t, err)
}

func TestQueueAfterStop(t *testing.T) {
	h := newHarness(t)
	h.sm.Start()
	require.NoError(t, h.sm.Stop())

	done := make(chan struct{}, 1)
	h.sm.QueueBlock(&model.Block{Header: buildHeaders(h.chain.Tip(), 1, 0)[0]}, nil, done)

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("queue after stop did not answer")
	}

	assert.Zero(t, h.chain.receivedCount())
	assert.Zero(t, h.sm.SyncPeerID())
}
