// Package peer manages a single connection to a remote node: the version
// handshake, ordered message dispatch to listeners, inventory trickling and
// keepalive pings.
package peer

import (
	"container/list"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/cespare/xxhash"
	"github.com/greatroar/blobloom"
	"github.com/jellydator/ttlcache/v3"
	"github.com/looplab/fsm"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/services/legacy/wire"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/ulogger"
	"go.uber.org/atomic"
)

const (
	// MaxProtocolVersion is the highest protocol version this package
	// speaks.
	MaxProtocolVersion = wire.ProtocolVersion

	// DefaultTrickleInterval is the interval at which queued inventory is
	// flushed to the peer.
	DefaultTrickleInterval = 10 * time.Second

	// HandshakeTimeout bounds the version/verack exchange.
	HandshakeTimeout = 60 * time.Second

	// IdleTimeout disconnects peers that send nothing at all.
	IdleTimeout = 20 * time.Minute

	// PingTimeout disconnects peers that leave a ping unanswered.
	PingTimeout = 20 * time.Minute

	pingInterval = 2 * time.Minute

	outputBufferSize = 50

	// knownInventorySize is the capacity of the known inventory filter
	// before it is reset.
	knownInventorySize = 50000

	sentNonceTTL = 10 * time.Minute
)

// Handshake states and events.
const (
	StateConnected    = "connected"
	StateVersionKnown = "version_known"
	StateEstablished  = "established"
	StateDisconnected = "disconnected"

	eventVersion    = "version"
	eventVerAck     = "verack"
	eventDisconnect = "disconnect"
)

var (
	nodeCount atomic.Int32

	// allowSelfConns is only set by tests that connect two local peers.
	allowSelfConns atomic.Bool

	// sentNonces holds the nonces of version messages we sent so that
	// connections to ourselves can be detected.
	sentNonces = ttlcache.New[uint64, struct{}](
		ttlcache.WithTTL[uint64, struct{}](sentNonceTTL),
		ttlcache.WithDisableTouchOnHit[uint64, struct{}](),
	)
)

// MessageListeners are invoked from the peer's input goroutine, in the order
// messages arrive.  A nil listener ignores the message.
type MessageListeners struct {
	OnGetAddr    func(p *Peer, msg *wire.MsgGetAddr)
	OnAddr       func(p *Peer, msg *wire.MsgAddr)
	OnPing       func(p *Peer, msg *wire.MsgPing)
	OnPong       func(p *Peer, msg *wire.MsgPong)
	OnMemPool    func(p *Peer, msg *wire.MsgMemPool)
	OnTx         func(p *Peer, msg *wire.MsgTx)
	OnTxLock     func(p *Peer, msg *wire.MsgTxLock)
	OnBlock      func(p *Peer, msg *wire.MsgBlock, buf []byte)
	OnInv        func(p *Peer, msg *wire.MsgInv)
	OnHeaders    func(p *Peer, msg *wire.MsgHeaders)
	OnNotFound   func(p *Peer, msg *wire.MsgNotFound)
	OnGetData    func(p *Peer, msg *wire.MsgGetData)
	OnGetBlocks  func(p *Peer, msg *wire.MsgGetBlocks)
	OnGetHeaders func(p *Peer, msg *wire.MsgGetHeaders)
	OnReject     func(p *Peer, msg *wire.MsgReject)
	OnSpork      func(p *Peer, msg *wire.MsgSpork)
	OnGetSporks  func(p *Peer, msg *wire.MsgGetSporks)

	// OnVersion is invoked while negotiating.  Returning a reject message
	// aborts the connection after the reject is sent.
	OnVersion func(p *Peer, msg *wire.MsgVersion) *wire.MsgReject
	OnVerAck  func(p *Peer, msg *wire.MsgVerAck)

	// OnRead and OnWrite see every message, including ones that failed.
	OnRead  func(p *Peer, bytesRead int, msg wire.Message, err error)
	OnWrite func(p *Peer, bytesWritten int, msg wire.Message, err error)
}

// Config is the configuration of a peer.
type Config struct {
	// NewestBlock returns the tip advertised in our version message.
	NewestBlock func() (*chainhash.Hash, int32, error)

	UserAgentName     string
	UserAgentVersion  string
	UserAgentComments []string

	Services        wire.ServiceFlag
	ProtocolVersion uint32
	DisableRelayTx  bool

	Listeners MessageListeners

	// TrickleInterval defaults to DefaultTrickleInterval.
	TrickleInterval time.Duration

	// Zero timeouts fall back to the p2p settings, then to the package
	// constants.
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	PingTimeout      time.Duration
	PingInterval     time.Duration
}

// StatsSnap is a snapshot of peer counters.
type StatsSnap struct {
	ID             int32
	Addr           string
	Services       wire.ServiceFlag
	LastSend       time.Time
	LastRecv       time.Time
	BytesSent      uint64
	BytesRecv      uint64
	ConnTime       time.Time
	TimeOffset     int64
	Version        uint32
	UserAgent      string
	Inbound        bool
	StartingHeight int32
	LastBlock      int32
	LastPingNonce  uint64
	LastPingTime   time.Time
	LastPingMicros int64
}

type outMsg struct {
	msg      wire.Message
	doneChan chan<- struct{}
}

// Peer is a connection to a remote node.
type Peer struct {
	bytesReceived atomic.Uint64
	bytesSent     atomic.Uint64
	lastRecv      atomic.Int64
	lastSend      atomic.Int64
	connected     atomic.Bool
	disconnect    atomic.Bool

	logger  ulogger.Logger
	magic   [4]byte
	conn    net.Conn
	addr    string
	cfg     Config
	inbound bool
	id      int32

	handshake *fsm.FSM

	flagsMtx           sync.Mutex
	na                 *wire.NetAddress
	services           wire.ServiceFlag
	advertisedProtoVer uint32
	protocolVersion    uint32
	userAgent          string
	versionKnown       bool
	verAckReceived     bool
	disableRelayTx     bool

	knownMtx       sync.Mutex
	knownInventory *blobloom.Filter
	knownCount     int

	prevGetBlocksMtx   sync.Mutex
	prevGetBlocksBegin *chainhash.Hash
	prevGetBlocksStop  *chainhash.Hash
	prevGetHdrsMtx     sync.Mutex
	prevGetHdrsBegin   *chainhash.Hash
	prevGetHdrsStop    *chainhash.Hash

	statsMtx           sync.RWMutex
	timeOffset         int64
	timeConnected      time.Time
	startingHeight     int32
	lastBlock          int32
	lastAnnouncedBlock *chainhash.Hash
	lastPingNonce      uint64
	lastPingTime       time.Time
	lastPingMicros     int64

	outputQueue   chan outMsg
	sendQueue     chan outMsg
	sendDoneQueue chan struct{}
	outputInvChan chan *wire.InvVect
	inQuit        chan struct{}
	queueQuit     chan struct{}
	outQuit       chan struct{}
	quit          chan struct{}
}

func newPeerBase(logger ulogger.Logger, tSettings *settings.Settings, origCfg *Config, inbound bool) *Peer {
	cfg := *origCfg

	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = MaxProtocolVersion
	}

	if cfg.TrickleInterval <= 0 {
		cfg.TrickleInterval = DefaultTrickleInterval
	}

	cfg.HandshakeTimeout = firstPositive(cfg.HandshakeTimeout, tSettings.P2P.InitialMessageTimeout, HandshakeTimeout)
	cfg.IdleTimeout = firstPositive(cfg.IdleTimeout, tSettings.P2P.InactivityTimeout, IdleTimeout)
	cfg.PingTimeout = firstPositive(cfg.PingTimeout, PingTimeout)
	cfg.PingInterval = firstPositive(cfg.PingInterval, tSettings.P2P.PingInterval, pingInterval)

	p := &Peer{
		logger:          logger,
		magic:           tSettings.ChainCfgParams.MessageStart,
		inbound:         inbound,
		cfg:             cfg,
		services:        cfg.Services,
		protocolVersion: cfg.ProtocolVersion,
		knownInventory:  newKnownInventory(),
		outputQueue:     make(chan outMsg, outputBufferSize),
		sendQueue:       make(chan outMsg, 1),
		sendDoneQueue:   make(chan struct{}, 1),
		outputInvChan:   make(chan *wire.InvVect, outputBufferSize),
		inQuit:          make(chan struct{}),
		queueQuit:       make(chan struct{}),
		outQuit:         make(chan struct{}),
		quit:            make(chan struct{}),
	}

	p.handshake = fsm.NewFSM(
		StateConnected,
		fsm.Events{
			{Name: eventVersion, Src: []string{StateConnected}, Dst: StateVersionKnown},
			{Name: eventVerAck, Src: []string{StateVersionKnown}, Dst: StateEstablished},
			{
				Name: eventDisconnect,
				Src:  []string{StateConnected, StateVersionKnown, StateEstablished},
				Dst:  StateDisconnected,
			},
		},
		fsm.Callbacks{},
	)

	return p
}

func newKnownInventory() *blobloom.Filter {
	return blobloom.NewOptimized(blobloom.Config{
		Capacity: knownInventorySize,
		FPRate:   1e-4,
	})
}

// NewInboundPeer returns a peer for a connection accepted by us.
func NewInboundPeer(logger ulogger.Logger, tSettings *settings.Settings, cfg *Config) *Peer {
	return newPeerBase(logger, tSettings, cfg, true)
}

// NewOutboundPeer returns a peer for a connection we make to addr.
func NewOutboundPeer(logger ulogger.Logger, tSettings *settings.Settings, cfg *Config, addr string) (*Peer, error) {
	p := newPeerBase(logger, tSettings, cfg, false)
	p.addr = addr

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("invalid peer address %s", addr, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("invalid peer port %s", addr, err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.IPv4zero
	}

	p.na = wire.NewNetAddressIPPort(ip, uint16(port), 0)

	return p, nil
}

func (p *Peer) String() string {
	dir := "outbound"
	if p.inbound {
		dir = "inbound"
	}

	return fmt.Sprintf("%s (%s)", p.addr, dir)
}

// ID returns the unique id assigned when the connection was associated.
func (p *Peer) ID() int32 {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	return p.id
}

func (p *Peer) Addr() string {
	return p.addr
}

func (p *Peer) Inbound() bool {
	return p.inbound
}

// NA returns the network address of the peer.
func (p *Peer) NA() *wire.NetAddress {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	return p.na
}

func (p *Peer) Services() wire.ServiceFlag {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	return p.services
}

func (p *Peer) UserAgent() string {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	return p.userAgent
}

// ProtocolVersion is the negotiated protocol version.
func (p *Peer) ProtocolVersion() uint32 {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	return p.protocolVersion
}

func (p *Peer) VersionKnown() bool {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	return p.versionKnown
}

func (p *Peer) VerAckReceived() bool {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	return p.verAckReceived
}

// RelayTxDisabled reports whether the peer asked not to be sent
// transactions.
func (p *Peer) RelayTxDisabled() bool {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	return p.disableRelayTx
}

// State returns the handshake state.
func (p *Peer) State() string {
	return p.handshake.Current()
}

// TimeOffset is the remote clock minus ours, in seconds, as of the version
// message.
func (p *Peer) TimeOffset() int64 {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()

	return p.timeOffset
}

func (p *Peer) StartingHeight() int32 {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()

	return p.startingHeight
}

func (p *Peer) LastBlock() int32 {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()

	return p.lastBlock
}

// UpdateLastBlockHeight raises the height the peer is known to have.
func (p *Peer) UpdateLastBlockHeight(height int32) {
	p.statsMtx.Lock()
	if height > p.lastBlock {
		p.lastBlock = height
	}
	p.statsMtx.Unlock()
}

func (p *Peer) LastAnnouncedBlock() *chainhash.Hash {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()

	return p.lastAnnouncedBlock
}

func (p *Peer) UpdateLastAnnouncedBlock(hash *chainhash.Hash) {
	p.statsMtx.Lock()
	p.lastAnnouncedBlock = hash
	p.statsMtx.Unlock()
}

func (p *Peer) LastPingMicros() int64 {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()

	return p.lastPingMicros
}

func (p *Peer) BytesSent() uint64 {
	return p.bytesSent.Load()
}

func (p *Peer) BytesReceived() uint64 {
	return p.bytesReceived.Load()
}

func (p *Peer) LastSend() time.Time {
	return time.Unix(0, p.lastSend.Load())
}

func (p *Peer) LastRecv() time.Time {
	return time.Unix(0, p.lastRecv.Load())
}

// StatsSnapshot returns a copy of the peer's counters.
func (p *Peer) StatsSnapshot() *StatsSnap {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()

	p.flagsMtx.Lock()
	id := p.id
	services := p.services
	protocolVersion := p.advertisedProtoVer
	userAgent := p.userAgent
	p.flagsMtx.Unlock()

	return &StatsSnap{
		ID:             id,
		Addr:           p.addr,
		Services:       services,
		LastSend:       p.LastSend(),
		LastRecv:       p.LastRecv(),
		BytesSent:      p.BytesSent(),
		BytesRecv:      p.BytesReceived(),
		ConnTime:       p.timeConnected,
		TimeOffset:     p.timeOffset,
		Version:        protocolVersion,
		UserAgent:      userAgent,
		Inbound:        p.inbound,
		StartingHeight: p.startingHeight,
		LastBlock:      p.lastBlock,
		LastPingNonce:  p.lastPingNonce,
		LastPingTime:   p.lastPingTime,
		LastPingMicros: p.lastPingMicros,
	}
}

// AddKnownInventory marks iv as known to the peer so it is not announced
// back to it.
func (p *Peer) AddKnownInventory(iv *wire.InvVect) {
	p.knownMtx.Lock()
	defer p.knownMtx.Unlock()

	if p.knownCount >= knownInventorySize {
		p.knownInventory = newKnownInventory()
		p.knownCount = 0
	}

	p.knownInventory.Add(invKey(iv))
	p.knownCount++
}

// HasKnownInventory reports whether iv is (probably) known to the peer.
func (p *Peer) HasKnownInventory(iv *wire.InvVect) bool {
	p.knownMtx.Lock()
	defer p.knownMtx.Unlock()

	return p.knownInventory.Has(invKey(iv))
}

func invKey(iv *wire.InvVect) uint64 {
	var b [4 + chainhash.HashSize]byte

	binary.LittleEndian.PutUint32(b[:4], uint32(iv.Type))
	copy(b[4:], iv.Hash[:])

	return xxhash.Sum64(b[:])
}

// Connected reports whether the peer is connected and not disconnecting.
func (p *Peer) Connected() bool {
	return p.connected.Load() && !p.disconnect.Load()
}

// Disconnect closes the connection.  It is safe to call more than once.
func (p *Peer) Disconnect() {
	if p.disconnect.Swap(true) {
		return
	}

	p.logger.Debugf("[peer] disconnecting %s", p)

	if p.handshake.Can(eventDisconnect) {
		_ = p.handshake.Event(context.Background(), eventDisconnect)
	}

	if p.connected.Load() {
		_ = p.conn.Close()
	}

	close(p.quit)
}

// WaitForDisconnect blocks until the peer has disconnected.
func (p *Peer) WaitForDisconnect() {
	<-p.quit
}

// AssociateConnection binds conn to the peer and starts the handshake in
// the background.  The peer disconnects if the handshake fails.
func (p *Peer) AssociateConnection(conn net.Conn) {
	if !p.connected.CompareAndSwap(false, true) {
		return
	}

	p.conn = conn
	p.timeConnected = time.Now()

	if p.inbound {
		p.addr = conn.RemoteAddr().String()

		if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			p.na = wire.NewNetAddress(tcp, p.services)
		} else {
			p.na = &wire.NetAddress{Timestamp: time.Now(), IP: net.IPv4zero}
		}
	}

	go func() {
		if err := p.start(); err != nil {
			p.logger.Debugf("[peer] cannot start %s: %v", p, err)
			p.Disconnect()
		}
	}()
}

func (p *Peer) start() error {
	negotiateErr := make(chan error, 1)

	go func() {
		if p.inbound {
			negotiateErr <- p.negotiateInboundProtocol()
		} else {
			negotiateErr <- p.negotiateOutboundProtocol()
		}
	}()

	select {
	case err := <-negotiateErr:
		if err != nil {
			return err
		}
	case <-time.After(p.cfg.HandshakeTimeout):
		return errors.NewNetworkTimeoutError("handshake with %s timed out", p)
	case <-p.quit:
		return errors.NewNetworkError("disconnected during handshake with %s", p)
	}

	p.flagsMtx.Lock()
	p.id = nodeCount.Inc()
	p.flagsMtx.Unlock()

	p.logger.Debugf("[peer] connected to %s", p)

	go p.stallHandler()
	go p.inHandler()
	go p.queueHandler()
	go p.outHandler()
	go p.pingHandler()

	return nil
}

// The verack order is fixed so that synchronous transports never have
// both ends writing at the same time.
func (p *Peer) negotiateInboundProtocol() error {
	if err := p.readRemoteVersionMsg(); err != nil {
		return err
	}

	if err := p.writeLocalVersionMsg(); err != nil {
		return err
	}

	if err := p.writeMessage(&wire.MsgVerAck{}); err != nil {
		return err
	}

	return p.readRemoteVerAckMsg()
}

func (p *Peer) negotiateOutboundProtocol() error {
	if err := p.writeLocalVersionMsg(); err != nil {
		return err
	}

	if err := p.readRemoteVersionMsg(); err != nil {
		return err
	}

	if err := p.readRemoteVerAckMsg(); err != nil {
		return err
	}

	return p.writeMessage(&wire.MsgVerAck{})
}

func (p *Peer) localVersionMsg() (*wire.MsgVersion, error) {
	var lastBlock int32

	if p.cfg.NewestBlock != nil {
		_, height, err := p.cfg.NewestBlock()
		if err != nil {
			return nil, err
		}

		lastBlock = height
	}

	theirNA := p.NA()
	if theirNA == nil {
		theirNA = &wire.NetAddress{Timestamp: time.Now(), IP: net.IPv4zero}
	}

	ourNA := &wire.NetAddress{Timestamp: time.Now(), Services: p.cfg.Services, IP: net.IPv4zero}

	nonce := randomUint64()
	sentNonces.Set(nonce, struct{}{}, ttlcache.DefaultTTL)
	sentNonces.DeleteExpired()

	msg := wire.NewMsgVersion(ourNA, theirNA, nonce, lastBlock)
	if err := msg.AddUserAgent(p.cfg.UserAgentName, p.cfg.UserAgentVersion, p.cfg.UserAgentComments...); err != nil {
		return nil, err
	}

	msg.Services = p.cfg.Services
	msg.ProtocolVersion = int32(p.cfg.ProtocolVersion)
	msg.DisableRelayTx = p.cfg.DisableRelayTx

	return msg, nil
}

func (p *Peer) writeLocalVersionMsg() error {
	msg, err := p.localVersionMsg()
	if err != nil {
		return err
	}

	return p.writeMessage(msg)
}

func (p *Peer) readRemoteVersionMsg() error {
	msg, _, err := p.readMessage()
	if err != nil {
		return err
	}

	remoteVerMsg, ok := msg.(*wire.MsgVersion)
	if !ok {
		reason := "a version message must precede all others"
		_ = p.writeMessage(wire.NewMsgReject(msg.Command(), wire.RejectMalformed, reason))

		return errors.NewProcessingError(reason)
	}

	if !allowSelfConns.Load() && sentNonces.Has(remoteVerMsg.Nonce) {
		return errors.NewProcessingError("disconnecting peer connected to self")
	}

	if uint32(remoteVerMsg.ProtocolVersion) < wire.MinPeerProtoVersion {
		reason := fmt.Sprintf("protocol version must be %d or greater", wire.MinPeerProtoVersion)
		_ = p.writeMessage(wire.NewMsgReject(msg.Command(), wire.RejectObsolete, reason))

		return errors.NewProcessingError(reason)
	}

	p.statsMtx.Lock()
	p.lastBlock = remoteVerMsg.LastBlock
	p.startingHeight = remoteVerMsg.LastBlock
	p.timeOffset = remoteVerMsg.Timestamp.Unix() - time.Now().Unix()
	p.statsMtx.Unlock()

	p.flagsMtx.Lock()
	p.advertisedProtoVer = uint32(remoteVerMsg.ProtocolVersion)
	p.protocolVersion = minUint32(p.protocolVersion, p.advertisedProtoVer)
	p.versionKnown = true
	p.services = remoteVerMsg.Services
	p.userAgent = remoteVerMsg.UserAgent
	p.disableRelayTx = remoteVerMsg.DisableRelayTx

	if p.na != nil {
		p.na.Services = remoteVerMsg.Services
	}
	p.flagsMtx.Unlock()

	if err = p.handshake.Event(context.Background(), eventVersion); err != nil {
		return err
	}

	if p.cfg.Listeners.OnVersion != nil {
		if rejectMsg := p.cfg.Listeners.OnVersion(p, remoteVerMsg); rejectMsg != nil {
			_ = p.writeMessage(rejectMsg)
			return errors.NewProcessingError("version rejected: %s", rejectMsg.Reason)
		}
	}

	return nil
}

func (p *Peer) readRemoteVerAckMsg() error {
	msg, _, err := p.readMessage()
	if err != nil {
		return err
	}

	verAck, ok := msg.(*wire.MsgVerAck)
	if !ok {
		return errors.NewProcessingError("expected verack, received %s", msg.Command())
	}

	p.flagsMtx.Lock()
	p.verAckReceived = true
	p.flagsMtx.Unlock()

	if err = p.handshake.Event(context.Background(), eventVerAck); err != nil {
		return err
	}

	if p.cfg.Listeners.OnVerAck != nil {
		p.cfg.Listeners.OnVerAck(p, verAck)
	}

	return nil
}

func (p *Peer) readMessage() (wire.Message, []byte, error) {
	n, msg, buf, err := wire.ReadMessageN(p.conn, p.ProtocolVersion(), p.magic)

	p.bytesReceived.Add(uint64(n))
	p.lastRecv.Store(time.Now().UnixNano())

	if p.cfg.Listeners.OnRead != nil {
		p.cfg.Listeners.OnRead(p, n, msg, err)
	}

	return msg, buf, err
}

func (p *Peer) writeMessage(msg wire.Message) error {
	if p.disconnect.Load() {
		return nil
	}

	n, err := wire.WriteMessageN(p.conn, msg, p.ProtocolVersion(), p.magic)

	p.bytesSent.Add(uint64(n))
	p.lastSend.Store(time.Now().UnixNano())

	if p.cfg.Listeners.OnWrite != nil {
		p.cfg.Listeners.OnWrite(p, n, msg, err)
	}

	return err
}

// stallHandler closes connections that go quiet in either direction.  The
// read deadline is refreshed after every message.
func (p *Peer) stallHandler() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if time.Since(p.LastRecv()) > p.cfg.IdleTimeout {
				p.logger.Infof("[peer] %s no answer for %v -- disconnecting", p, p.cfg.IdleTimeout)
				p.Disconnect()

				return
			}

			if time.Since(p.LastSend()) > p.cfg.IdleTimeout {
				p.logger.Infof("[peer] %s nothing sent for %v -- disconnecting", p, p.cfg.IdleTimeout)
				p.Disconnect()

				return
			}

			p.statsMtx.RLock()
			outstanding := p.lastPingNonce != 0 && time.Since(p.lastPingTime) > p.cfg.PingTimeout
			p.statsMtx.RUnlock()

			if outstanding {
				p.logger.Infof("[peer] %s ping timeout -- disconnecting", p)
				p.Disconnect()

				return
			}
		case <-p.quit:
			return
		}
	}
}

func (p *Peer) inHandler() {
out:
	for !p.disconnect.Load() {
		_ = p.conn.SetReadDeadline(time.Now().Add(p.cfg.IdleTimeout))

		rmsg, buf, err := p.readMessage()
		if err != nil {
			var unknown *wire.UnknownCommandError
			if errors.As(err, &unknown) {
				p.logger.Debugf("[peer] %s sent unknown command %q", p, unknown.Command)
				continue
			}

			if p.disconnect.Load() {
				break out
			}

			var msgErr *wire.MessageError
			if errors.As(err, &msgErr) {
				_ = p.writeMessage(wire.NewMsgReject("malformed", wire.RejectMalformed, msgErr.Description))
			}

			if err != io.EOF {
				p.logger.Debugf("[peer] cannot read message from %s: %v", p, err)
			}

			break out
		}

		switch msg := rmsg.(type) {
		case *wire.MsgVersion:
			p.PushRejectMsg(msg.Command(), wire.RejectDuplicate, "duplicate version message", nil, true)
			break out

		case *wire.MsgVerAck:
			// already negotiated

		case *wire.MsgPing:
			p.QueueMessage(wire.NewMsgPong(msg.Nonce), nil)
			callListener(p, msg, p.cfg.Listeners.OnPing)

		case *wire.MsgPong:
			p.handlePongMsg(msg)
			callListener(p, msg, p.cfg.Listeners.OnPong)

		case *wire.MsgGetAddr:
			callListener(p, msg, p.cfg.Listeners.OnGetAddr)
		case *wire.MsgAddr:
			callListener(p, msg, p.cfg.Listeners.OnAddr)
		case *wire.MsgMemPool:
			callListener(p, msg, p.cfg.Listeners.OnMemPool)
		case *wire.MsgTx:
			callListener(p, msg, p.cfg.Listeners.OnTx)
		case *wire.MsgTxLock:
			callListener(p, msg, p.cfg.Listeners.OnTxLock)

		case *wire.MsgBlock:
			if p.cfg.Listeners.OnBlock != nil {
				p.cfg.Listeners.OnBlock(p, msg, buf)
			}

		case *wire.MsgInv:
			callListener(p, msg, p.cfg.Listeners.OnInv)
		case *wire.MsgHeaders:
			callListener(p, msg, p.cfg.Listeners.OnHeaders)
		case *wire.MsgNotFound:
			callListener(p, msg, p.cfg.Listeners.OnNotFound)
		case *wire.MsgGetData:
			callListener(p, msg, p.cfg.Listeners.OnGetData)
		case *wire.MsgGetBlocks:
			callListener(p, msg, p.cfg.Listeners.OnGetBlocks)
		case *wire.MsgGetHeaders:
			callListener(p, msg, p.cfg.Listeners.OnGetHeaders)
		case *wire.MsgReject:
			p.logger.Debugf("[peer] %s rejected: %s", p, msg)
			callListener(p, msg, p.cfg.Listeners.OnReject)
		case *wire.MsgSpork:
			callListener(p, msg, p.cfg.Listeners.OnSpork)
		case *wire.MsgGetSporks:
			callListener(p, msg, p.cfg.Listeners.OnGetSporks)

		default:
			p.logger.Debugf("[peer] %s sent unhandled command %s", p, rmsg.Command())
		}
	}

	p.Disconnect()
	close(p.inQuit)
}

func callListener[M wire.Message](p *Peer, msg M, fn func(*Peer, M)) {
	if fn != nil {
		fn(p, msg)
	}
}

func (p *Peer) handlePongMsg(msg *wire.MsgPong) {
	p.statsMtx.Lock()
	defer p.statsMtx.Unlock()

	if p.lastPingNonce != 0 && msg.Nonce == p.lastPingNonce {
		p.lastPingMicros = time.Since(p.lastPingTime).Microseconds()
		p.lastPingNonce = 0
	}
}

// queueHandler serialises writes: one message at a time is handed to
// outHandler and inventory is batched on the trickle ticker.
func (p *Peer) queueHandler() {
	pendingMsgs := list.New()
	invSendQueue := list.New()

	trickleTicker := time.NewTicker(p.cfg.TrickleInterval)
	defer trickleTicker.Stop()

	waiting := false

	queuePacket := func(msg outMsg) bool {
		if !waiting {
			p.sendQueue <- msg
		} else {
			pendingMsgs.PushBack(msg)
		}

		return true
	}

out:
	for {
		select {
		case msg := <-p.outputQueue:
			waiting = queuePacket(msg)

		case <-p.sendDoneQueue:
			next := pendingMsgs.Front()
			if next == nil {
				waiting = false
				continue
			}

			val := pendingMsgs.Remove(next)
			p.sendQueue <- val.(outMsg)

		case iv := <-p.outputInvChan:
			if p.VerAckReceived() {
				invSendQueue.PushBack(iv)
			}

		case <-trickleTicker.C:
			if p.disconnect.Load() || invSendQueue.Len() == 0 {
				continue
			}

			invMsg := wire.NewMsgInv()

			for e := invSendQueue.Front(); e != nil; e = invSendQueue.Front() {
				iv := invSendQueue.Remove(e).(*wire.InvVect)

				if p.HasKnownInventory(iv) {
					continue
				}

				_ = invMsg.AddInvVect(iv)

				if len(invMsg.InvList) >= wire.MaxInvPerMsg {
					waiting = queuePacket(outMsg{msg: invMsg})
					invMsg = wire.NewMsgInv()
				}

				p.AddKnownInventory(iv)
			}

			if len(invMsg.InvList) > 0 {
				waiting = queuePacket(outMsg{msg: invMsg})
			}

		case <-p.quit:
			break out
		}
	}

	for e := pendingMsgs.Front(); e != nil; e = pendingMsgs.Front() {
		val := pendingMsgs.Remove(e)
		if msg := val.(outMsg); msg.doneChan != nil {
			msg.doneChan <- struct{}{}
		}
	}

cleanup:
	for {
		select {
		case msg := <-p.outputQueue:
			if msg.doneChan != nil {
				msg.doneChan <- struct{}{}
			}
		case <-p.outputInvChan:
		default:
			break cleanup
		}
	}

	close(p.queueQuit)
}

func (p *Peer) outHandler() {
out:
	for {
		select {
		case msg := <-p.sendQueue:
			if ping, ok := msg.msg.(*wire.MsgPing); ok {
				p.statsMtx.Lock()
				p.lastPingNonce = ping.Nonce
				p.lastPingTime = time.Now()
				p.statsMtx.Unlock()
			}

			if err := p.writeMessage(msg.msg); err != nil {
				p.logger.Debugf("[peer] cannot send %s to %s: %v", msg.msg.Command(), p, err)
				p.Disconnect()
			}

			if msg.doneChan != nil {
				msg.doneChan <- struct{}{}
			}

			p.sendDoneQueue <- struct{}{}

		case <-p.quit:
			break out
		}
	}

	<-p.queueQuit

cleanup:
	for {
		select {
		case msg := <-p.sendQueue:
			if msg.doneChan != nil {
				msg.doneChan <- struct{}{}
			}
		default:
			break cleanup
		}
	}

	close(p.outQuit)
}

func (p *Peer) pingHandler() {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.statsMtx.RLock()
			outstanding := p.lastPingNonce != 0
			p.statsMtx.RUnlock()

			if outstanding {
				continue
			}

			p.QueueMessage(wire.NewMsgPing(randomUint64()), nil)
		case <-p.quit:
			return
		}
	}
}

// QueueMessage queues msg for sending.  doneChan, if not nil, is signalled
// once the message is written or dropped.
func (p *Peer) QueueMessage(msg wire.Message, doneChan chan<- struct{}) {
	if !p.Connected() {
		if doneChan != nil {
			go func() {
				doneChan <- struct{}{}
			}()
		}

		return
	}

	select {
	case p.outputQueue <- outMsg{msg: msg, doneChan: doneChan}:
	case <-p.quit:
		if doneChan != nil {
			go func() {
				doneChan <- struct{}{}
			}()
		}
	}
}

// QueueInventory queues iv for the next trickle unless the peer already
// knows it.
func (p *Peer) QueueInventory(iv *wire.InvVect) {
	if p.HasKnownInventory(iv) || !p.Connected() {
		return
	}

	select {
	case p.outputInvChan <- iv:
	case <-p.quit:
	}
}

// PushAddrMsg sends up to MaxAddrPerMsg of addresses, chosen at random when
// there are more, and returns the ones sent.
func (p *Peer) PushAddrMsg(addresses []*wire.NetAddress) []*wire.NetAddress {
	if len(addresses) == 0 {
		return nil
	}

	msg := wire.NewMsgAddr()
	msg.AddrList = make([]*wire.NetAddress, len(addresses))
	copy(msg.AddrList, addresses)

	if len(msg.AddrList) > wire.MaxAddrPerMsg {
		for i := range msg.AddrList {
			j := i + int(randomUint64()%uint64(len(msg.AddrList)-i))
			msg.AddrList[i], msg.AddrList[j] = msg.AddrList[j], msg.AddrList[i]
		}

		msg.AddrList = msg.AddrList[:wire.MaxAddrPerMsg]
	}

	p.QueueMessage(msg, nil)

	return msg.AddrList
}

// PushGetBlocksMsg requests the inventory after locator, skipping requests
// identical to the previous one.
func (p *Peer) PushGetBlocksMsg(locator []chainhash.Hash, stopHash *chainhash.Hash) error {
	var beginHash *chainhash.Hash
	if len(locator) > 0 {
		beginHash = &locator[0]
	}

	p.prevGetBlocksMtx.Lock()
	isDuplicate := p.prevGetBlocksStop != nil && p.prevGetBlocksBegin != nil &&
		beginHash != nil && stopHash.IsEqual(p.prevGetBlocksStop) && beginHash.IsEqual(p.prevGetBlocksBegin)
	p.prevGetBlocksMtx.Unlock()

	if isDuplicate {
		p.logger.Debugf("[peer] filtering duplicate getblocks with begin %v end %v", beginHash, stopHash)
		return nil
	}

	msg := wire.NewMsgGetBlocks(stopHash)

	for i := range locator {
		if err := msg.AddBlockLocatorHash(&locator[i]); err != nil {
			return err
		}
	}

	p.QueueMessage(msg, nil)

	p.prevGetBlocksMtx.Lock()
	p.prevGetBlocksBegin = beginHash
	p.prevGetBlocksStop = stopHash
	p.prevGetBlocksMtx.Unlock()

	return nil
}

// PushGetHeadersMsg requests the headers after locator, skipping requests
// identical to the previous one.
func (p *Peer) PushGetHeadersMsg(locator []chainhash.Hash, stopHash *chainhash.Hash) error {
	var beginHash *chainhash.Hash
	if len(locator) > 0 {
		beginHash = &locator[0]
	}

	p.prevGetHdrsMtx.Lock()
	isDuplicate := p.prevGetHdrsStop != nil && p.prevGetHdrsBegin != nil &&
		beginHash != nil && stopHash.IsEqual(p.prevGetHdrsStop) && beginHash.IsEqual(p.prevGetHdrsBegin)
	p.prevGetHdrsMtx.Unlock()

	if isDuplicate {
		p.logger.Debugf("[peer] filtering duplicate getheaders with begin %v", beginHash)
		return nil
	}

	msg := wire.NewMsgGetHeaders()
	msg.HashStop = *stopHash

	for i := range locator {
		if err := msg.AddBlockLocatorHash(&locator[i]); err != nil {
			return err
		}
	}

	p.QueueMessage(msg, nil)

	p.prevGetHdrsMtx.Lock()
	p.prevGetHdrsBegin = beginHash
	p.prevGetHdrsStop = stopHash
	p.prevGetHdrsMtx.Unlock()

	return nil
}

// PushRejectMsg sends a reject for command.  With wait set it blocks until
// the message is written.
func (p *Peer) PushRejectMsg(command string, code wire.RejectCode, reason string, hash *chainhash.Hash, wait bool) {
	msg := wire.NewMsgReject(command, code, reason)

	if hash != nil {
		msg.Hash = *hash
	}

	if !wait {
		p.QueueMessage(msg, nil)
		return
	}

	doneChan := make(chan struct{}, 1)
	p.QueueMessage(msg, doneChan)
	<-doneChan
}

func randomUint64() uint64 {
	var b [8]byte

	_, _ = rand.Read(b[:])

	return binary.LittleEndian.Uint64(b[:])
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}

	return b
}

func firstPositive(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}

	return 0
}
