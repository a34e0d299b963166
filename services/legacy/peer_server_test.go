package legacy

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/legacy/wire"
	"github.com/tessacoin/tessanode/services/mempool"
	"github.com/tessacoin/tessanode/settings"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/ulogger"
)

const waitFor = 5 * time.Second

// testChain is an in-memory active chain of blocks with a single coinbase.
type testChain struct {
	mu         sync.Mutex
	index      *blockchain_store.Index
	active     *blockchain_store.Chain
	blocks     map[chainhash.Hash]*model.Block
	ibd        bool
	timeSource blockchain.TimeSource
	observers  []blockchain.Observer
}

func newTestChain(t *testing.T, n int) *testChain {
	t.Helper()

	c := &testChain{
		index:      blockchain_store.NewIndex(),
		blocks:     make(map[chainhash.Hash]*model.Block),
		timeSource: blockchain.NewMedianTimeSource(ulogger.TestLogger{}),
	}
	c.active = blockchain_store.NewChain(c.index)

	var (
		prevHash  chainhash.Hash
		timestamp uint32 = 1538753921
		tip       *blockchain_store.BlockIndex
	)

	for i := 0; i <= n; i++ {
		coinbase := model.NewTx(1)
		coinbase.AddTxIn(model.NewTxIn(&model.OutPoint{Index: 0xffffffff}, []byte{byte(i), 0x51}))
		coinbase.AddTxOut(model.NewTxOut(50*model.COIN, []byte{0x51}))

		header := &model.BlockHeader{Version: 3, Bits: 0x207fffff, Timestamp: timestamp, HashPrevBlock: prevHash}
		block := model.NewBlock(header, []*model.Tx{coinbase})
		header.HashMerkleRoot = coinbase.TxHash()

		bi, added := c.index.AddHeader(header.Hash(), header)
		require.True(t, added)

		bi.TxCount = 1
		bi.AddStatus(blockchain_store.BlockHaveData)

		c.blocks[bi.Hash] = block
		tip = bi
		prevHash = bi.Hash
		timestamp += 60
	}

	c.active.SetTip(tip)

	return c
}

func (c *testChain) Index() *blockchain_store.Index { return c.index }

func (c *testChain) Tip() *blockchain_store.BlockIndex { return c.active.Tip() }

func (c *testChain) BestHeader() *blockchain_store.BlockIndex { return c.active.Tip() }

func (c *testChain) Height() int32 { return c.active.Height() }

func (c *testChain) Contains(bi *blockchain_store.BlockIndex) bool { return c.active.Contains(bi) }

func (c *testChain) Next(bi *blockchain_store.BlockIndex) *blockchain_store.BlockIndex {
	return c.active.Next(bi)
}

func (c *testChain) Locator(bi *blockchain_store.BlockIndex) []chainhash.Hash {
	return c.active.Locator(bi)
}

func (c *testChain) FindLocatorFork(locator []chainhash.Hash) *blockchain_store.BlockIndex {
	return c.active.FindLocatorFork(locator)
}

func (c *testChain) LookupBlockIndex(hash chainhash.Hash) *blockchain_store.BlockIndex {
	return c.index.Lookup(hash)
}

func (c *testChain) ProcessNewBlockHeaders([]*model.BlockHeader) (*blockchain_store.BlockIndex, error) {
	return c.Tip(), nil
}

func (c *testChain) ProcessNewBlock(context.Context, *model.Block, bool) (*blockchain_store.BlockIndex, error) {
	return c.Tip(), nil
}

func (c *testChain) IsInitialBlockDownload() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ibd
}

func (c *testChain) ReadBlock(bi *blockchain_store.BlockIndex) (*model.Block, error) {
	block, ok := c.blocks[bi.Hash]
	if !ok {
		return nil, errors.NewBlockNotFoundError("block %s", bi.Hash)
	}

	return block, nil
}

func (c *testChain) ReadTx(hash chainhash.Hash) (*model.Tx, *blockchain_store.BlockIndex, error) {
	return nil, nil, errors.NewTxNotFoundError("tx %s", hash)
}

func (c *testChain) TimeSource() blockchain.TimeSource { return c.timeSource }

func (c *testChain) Subscribe(o blockchain.Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// testPool holds transactions handed to it without validation.
type testPool struct {
	mu    sync.Mutex
	descs map[chainhash.Hash]*mempool.TxDesc
}

func newTestPool() *testPool {
	return &testPool{descs: make(map[chainhash.Hash]*mempool.TxDesc)}
}

func (p *testPool) add(tx *model.Tx) *mempool.TxDesc {
	p.mu.Lock()
	defer p.mu.Unlock()

	desc := &mempool.TxDesc{Tx: tx, Hash: tx.TxHash(), Added: time.Now()}
	p.descs[desc.Hash] = desc

	return desc
}

func (p *testPool) Have(hash chainhash.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.descs[hash]

	return ok
}

func (p *testPool) IsRecentlyRejected(chainhash.Hash) bool { return false }

func (p *testPool) ProcessTransaction(_ context.Context, tx *model.Tx, _, _ bool) ([]*mempool.TxDesc, error) {
	return []*mempool.TxDesc{p.add(tx)}, nil
}

func (p *testPool) Fetch(hash chainhash.Hash) (*model.Tx, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	desc, ok := p.descs[hash]
	if !ok {
		return nil, false
	}

	return desc.Tx, true
}

func (p *testPool) TxDescs() []*mempool.TxDesc {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*mempool.TxDesc, 0, len(p.descs))
	for _, desc := range p.descs {
		out = append(out, desc)
	}

	return out
}

func (p *testPool) Subscribe(mempool.Listener) {}

type serverHarness struct {
	t        *testing.T
	settings *settings.Settings
	chain    *testChain
	pool     *testPool
	sporkKey *bec.PrivateKey
	s        *server
}

func newServerHarness(t *testing.T, flags map[string]string) *serverHarness {
	t.Helper()

	all := map[string]string{
		"regtest":     "1",
		"datadir":     t.TempDir(),
		"listen":      "0",
		"dnsseed":     "0",
		"maxoutbound": "0",
	}
	for k, v := range flags {
		all[k] = v
	}

	tSettings, err := settings.NewSettings(all)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(tSettings.DataDir, 0o755))

	h := &serverHarness{
		t:        t,
		settings: tSettings,
		chain:    newTestChain(t, 20),
		pool:     newTestPool(),
	}

	h.s, err = newServer(ulogger.TestLogger{}, tSettings, h.chain, h.pool)
	require.NoError(t, err)

	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	h.sporkKey = key
	h.s.sporks = NewSporkManager(key.PubKey().SerialiseCompressed())
	h.s.trickleInterval = 50 * time.Millisecond

	require.NoError(t, h.s.start())

	t.Cleanup(func() {
		require.NoError(t, h.s.stop())
		h.s.waitForShutdown()
	})

	return h
}

// remote is the far end of a connection accepted by the server.
type remote struct {
	t     *testing.T
	conn  net.Conn
	magic [4]byte
}

func (r *remote) write(msg wire.Message) {
	r.t.Helper()
	require.NoError(r.t, wire.WriteMessage(r.conn, msg, wire.ProtocolVersion, r.magic))
}

// readUntil returns the first message accepted by match, skipping others.
func (r *remote) readUntil(match func(wire.Message) bool) wire.Message {
	r.t.Helper()

	deadline := time.Now().Add(waitFor)
	require.NoError(r.t, r.conn.SetReadDeadline(deadline))

	for {
		msg, _, err := wire.ReadMessage(r.conn, wire.ProtocolVersion, r.magic)
		require.NoError(r.t, err)

		if match(msg) {
			return msg
		}
	}
}

// waitClosed reads until the server drops the connection.
func (r *remote) waitClosed() {
	r.t.Helper()

	require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(waitFor)))

	for {
		if _, _, err := wire.ReadMessage(r.conn, wire.ProtocolVersion, r.magic); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				r.t.Fatal("connection was not closed")
			}

			return
		}
	}
}

func isType[T wire.Message](msg wire.Message) bool {
	_, ok := msg.(T)
	return ok
}

// connect opens a loopback connection to the server and completes the
// handshake.
func (h *serverHarness) connect() *remote {
	h.t.Helper()

	far, local := h.dialServer()
	h.s.inboundPeerConnected(local)

	r := &remote{t: h.t, conn: far, magic: h.settings.ChainCfgParams.MessageStart}

	version := wire.NewMsgVersion(&wire.NetAddress{}, &wire.NetAddress{}, uint64(time.Now().UnixNano()), 0)
	require.NoError(h.t, version.AddUserAgent("remote", "0.1"))
	r.write(version)

	r.readUntil(isType[*wire.MsgVersion])
	r.readUntil(isType[*wire.MsgVerAck])
	r.write(&wire.MsgVerAck{})

	addr := far.LocalAddr().String()

	require.Eventually(h.t, func() bool {
		return h.s.IsConnected(addr)
	}, waitFor, 10*time.Millisecond)

	return r
}

func (h *serverHarness) dialServer() (far, local net.Conn) {
	h.t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(h.t, err)

	defer ln.Close()

	accepted := make(chan net.Conn, 1)

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	far, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(h.t, err)

	select {
	case local = <-accepted:
	case <-time.After(waitFor):
		h.t.Fatal("accept timed out")
	}

	h.t.Cleanup(func() {
		_ = far.Close()
		_ = local.Close()
	})

	return far, local
}

func (h *serverHarness) onlyPeer() *serverPeer {
	h.t.Helper()

	peers := h.s.Peers()
	require.Len(h.t, peers, 1)

	return peers[0]
}

func TestGetHeadersServesActiveChain(t *testing.T) {
	h := newServerHarness(t, nil)
	r := h.connect()

	genesis := h.chain.active.Genesis().Hash

	gh := wire.NewMsgGetHeaders()
	require.NoError(t, gh.AddBlockLocatorHash(&genesis))
	r.write(gh)

	headers := r.readUntil(isType[*wire.MsgHeaders]).(*wire.MsgHeaders)
	require.Len(t, headers.Headers, 20)
	assert.Equal(t, genesis, headers.Headers[0].HashPrevBlock)
	assert.Equal(t, h.chain.Tip().Hash, headers.Headers[19].Hash())
}

func TestGetHeadersStopsAtHashStop(t *testing.T) {
	h := newServerHarness(t, nil)
	r := h.connect()

	genesis := h.chain.active.Genesis().Hash
	stop := h.chain.active.At(5).Hash

	gh := wire.NewMsgGetHeaders()
	require.NoError(t, gh.AddBlockLocatorHash(&genesis))
	gh.HashStop = stop
	r.write(gh)

	headers := r.readUntil(isType[*wire.MsgHeaders]).(*wire.MsgHeaders)
	require.Len(t, headers.Headers, 5)
	assert.Equal(t, stop, headers.Headers[4].Hash())

	// an empty locator asks for the stop header alone
	single := wire.NewMsgGetHeaders()
	single.HashStop = stop
	r.write(single)

	headers = r.readUntil(isType[*wire.MsgHeaders]).(*wire.MsgHeaders)
	require.Len(t, headers.Headers, 1)
	assert.Equal(t, stop, headers.Headers[0].Hash())
}

func TestGetBlocksAndGetData(t *testing.T) {
	h := newServerHarness(t, nil)
	r := h.connect()

	genesis := h.chain.active.Genesis().Hash

	gb := wire.NewMsgGetBlocks(&chainhash.Hash{})
	require.NoError(t, gb.AddBlockLocatorHash(&genesis))
	r.write(gb)

	inv := r.readUntil(func(msg wire.Message) bool {
		m, ok := msg.(*wire.MsgInv)
		return ok && len(m.InvList) == 20
	}).(*wire.MsgInv)
	assert.Equal(t, h.chain.active.At(1).Hash, inv.InvList[0].Hash)

	unknown := chainhash.Hash{0xde, 0xad}

	gd := wire.NewMsgGetData()
	require.NoError(t, gd.AddInvVect(inv.InvList[0]))
	require.NoError(t, gd.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &unknown)))
	r.write(gd)

	block := r.readUntil(isType[*wire.MsgBlock]).(*wire.MsgBlock)
	assert.Equal(t, inv.InvList[0].Hash, block.Block.Hash())

	notFound := r.readUntil(isType[*wire.MsgNotFound]).(*wire.MsgNotFound)
	require.Len(t, notFound.InvList, 1)
	assert.Equal(t, unknown, notFound.InvList[0].Hash)
}

func TestMemPoolAndTxGetData(t *testing.T) {
	h := newServerHarness(t, nil)

	tx := model.NewTx(1)
	tx.AddTxIn(model.NewTxIn(&model.OutPoint{Hash: chainhash.Hash{0x01}}, []byte{0x51}))
	tx.AddTxOut(model.NewTxOut(1000, []byte{0x51}))
	h.pool.add(tx)

	r := h.connect()
	r.write(&wire.MsgMemPool{})

	inv := r.readUntil(isType[*wire.MsgInv]).(*wire.MsgInv)
	require.Len(t, inv.InvList, 1)
	assert.Equal(t, wire.InvTypeTx, inv.InvList[0].Type)
	assert.Equal(t, tx.TxHash(), inv.InvList[0].Hash)

	missing := chainhash.Hash{0x02}

	gd := wire.NewMsgGetData()
	require.NoError(t, gd.AddInvVect(inv.InvList[0]))
	require.NoError(t, gd.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &missing)))
	r.write(gd)

	got := r.readUntil(isType[*wire.MsgTx]).(*wire.MsgTx)
	assert.Equal(t, tx.TxHash(), got.Tx.TxHash())

	notFound := r.readUntil(isType[*wire.MsgNotFound]).(*wire.MsgNotFound)
	require.Len(t, notFound.InvList, 1)
	assert.Equal(t, missing, notFound.InvList[0].Hash)
}

func TestTxAcceptedRelaysInventory(t *testing.T) {
	h := newServerHarness(t, nil)
	r := h.connect()

	tx := model.NewTx(1)
	tx.AddTxIn(model.NewTxIn(&model.OutPoint{Hash: chainhash.Hash{0x03}}, []byte{0x51}))
	tx.AddTxOut(model.NewTxOut(1000, []byte{0x51}))

	h.s.TxAccepted(h.pool.add(tx))

	inv := r.readUntil(func(msg wire.Message) bool {
		m, ok := msg.(*wire.MsgInv)
		return ok && len(m.InvList) == 1 && m.InvList[0].Type == wire.InvTypeTx
	}).(*wire.MsgInv)
	assert.Equal(t, tx.TxHash(), inv.InvList[0].Hash)
}

func TestBanScoreThresholdBansHost(t *testing.T) {
	h := newServerHarness(t, nil)
	r := h.connect()

	sp := h.onlyPeer()

	h.s.AddBanScore(sp.Peer, 50, "first strike")
	assert.False(t, h.s.banList.IsBanned("127.0.0.1"))

	h.s.AddBanScore(sp.Peer, 50, "second strike")

	r.waitClosed()

	require.Eventually(t, func() bool {
		return h.s.banList.IsBanned("127.0.0.1")
	}, waitFor, 10*time.Millisecond)

	// a new connection from the banned host is dropped on accept
	far, local := h.dialServer()
	h.s.inboundPeerConnected(local)

	again := &remote{t: t, conn: far, magic: h.settings.ChainCfgParams.MessageStart}
	again.waitClosed()
}

func TestWhitelistedPeerIsNotBanned(t *testing.T) {
	h := newServerHarness(t, map[string]string{"whitelist": "127.0.0.1"})
	r := h.connect()

	sp := h.onlyPeer()
	assert.True(t, sp.isWhitelisted)

	h.s.AddBanScore(sp.Peer, 1000, "misbehaving friend")

	assert.Zero(t, sp.banScore.Load())
	assert.False(t, h.s.banList.IsBanned("127.0.0.1"))

	r.write(&wire.MsgMemPool{})
	assert.True(t, sp.Connected())
}

func TestSporkRelayedToOtherPeers(t *testing.T) {
	h := newServerHarness(t, nil)
	sender := h.connect()
	receiver := h.connect()

	msg := &wire.MsgSpork{ID: SporkMaxValue, Value: 5000, TimeSigned: time.Now().Unix()}
	require.NoError(t, msg.Sign(h.sporkKey))

	sender.write(msg)

	inv := receiver.readUntil(func(m wire.Message) bool {
		iv, ok := m.(*wire.MsgInv)
		return ok && len(iv.InvList) == 1 && iv.InvList[0].Type == wire.InvTypeSpork
	}).(*wire.MsgInv)
	assert.Equal(t, msg.Hash(), inv.InvList[0].Hash)
	assert.Equal(t, int64(5000), h.s.sporks.Value(SporkMaxValue))

	gd := wire.NewMsgGetData()
	require.NoError(t, gd.AddInvVect(inv.InvList[0]))
	receiver.write(gd)

	got := receiver.readUntil(isType[*wire.MsgSpork]).(*wire.MsgSpork)
	assert.Equal(t, msg.Hash(), got.Hash())

	// getsporks replays the current set
	receiver.write(&wire.MsgGetSporks{})
	got = receiver.readUntil(isType[*wire.MsgSpork]).(*wire.MsgSpork)
	assert.Equal(t, msg.ID, got.ID)
}

func TestBadSporkSignatureBansSender(t *testing.T) {
	h := newServerHarness(t, nil)
	r := h.connect()

	other, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	msg := &wire.MsgSpork{ID: SporkMaxValue, Value: 5000, TimeSigned: time.Now().Unix()}
	require.NoError(t, msg.Sign(other))

	r.write(msg)

	reject := r.readUntil(isType[*wire.MsgReject]).(*wire.MsgReject)
	assert.Equal(t, wire.CmdSpork, reject.Cmd)
	assert.Equal(t, wire.RejectInvalid, reject.Code)

	r.waitClosed()

	require.Eventually(t, func() bool {
		return h.s.banList.IsBanned("127.0.0.1")
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, int64(1000), h.s.sporks.Value(SporkMaxValue))
}

func TestPeersSnapshot(t *testing.T) {
	h := newServerHarness(t, nil)
	h.connect()

	peers := (&Server{server: h.s}).Peers()
	require.Len(t, peers, 1)
	assert.True(t, peers[0].Inbound)
	assert.Contains(t, peers[0].UserAgent, "remote")
	assert.Equal(t, int32(1), h.s.ConnectedCount())
}

func TestManualBanDisconnectsPeer(t *testing.T) {
	h := newServerHarness(t, nil)
	(&Server{logger: ulogger.TestLogger{}, settings: h.settings, server: h.s}).watchBans()

	r := h.connect()

	require.NoError(t, h.s.banList.Add("127.0.0.0/8", time.Now().Add(time.Hour)))

	r.waitClosed()

	require.Eventually(t, func() bool {
		return h.s.ConnectedCount() == 0
	}, waitFor, 10*time.Millisecond)
}

func TestExpiredBanAllowsReconnect(t *testing.T) {
	h := newServerHarness(t, nil)

	var (
		mu     sync.Mutex
		events []BanEvent
	)

	srv := &Server{logger: ulogger.TestLogger{}, settings: h.settings, server: h.s}
	srv.watchBans()

	// observe what the installed handler sees without replacing it
	installed := h.s.banList.handler
	h.s.banList.SetHandler(func(ev BanEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()

		installed(ev)
	})

	require.NoError(t, h.s.banList.Add("127.0.0.1", time.Now().Add(50*time.Millisecond)))

	require.Eventually(t, func() bool {
		h.s.banList.Sweep()

		mu.Lock()
		defer mu.Unlock()

		return len(events) == 2
	}, waitFor, 20*time.Millisecond)

	assert.False(t, h.s.banList.IsBanned("127.0.0.1"))

	mu.Lock()
	assert.Equal(t, "add", events[0].Action)
	assert.Equal(t, "remove", events[1].Action)
	assert.Equal(t, "127.0.0.1/32", events[1].Subnet)
	mu.Unlock()

	h.connect()
	assert.Equal(t, int32(1), h.s.ConnectedCount())
}
