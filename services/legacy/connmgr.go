// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package legacy

import (
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/go-socks/socks"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/services/legacy/addrmgr"
	"github.com/tessacoin/tessanode/services/legacy/netsync"
	"github.com/tessacoin/tessanode/services/legacy/wire"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/ulogger"
)

// newServer returns a new peer server configured to listen on the bind
// addresses of the settings. Use start to begin accepting connections.
func newServer(logger ulogger.Logger, tSettings *settings.Settings, chain Chain, txPool TxPool) (*server, error) {
	s := &server{
		logger:            logger,
		settings:          tSettings,
		chain:             chain,
		txPool:            txPool,
		services:          defaultServices,
		banList:           NewBanList(logger, tSettings.Path(BanListFilename)),
		sporks:            NewSporkManager(tSettings.ChainCfgParams.SporkPubKey),
		dial:              net.DialTimeout,
		lookup:            net.LookupIP,
		newPeers:          make(chan *serverPeer, tSettings.P2P.MaxConnections),
		donePeers:         make(chan *serverPeer, tSettings.P2P.MaxConnections),
		banPeers:          make(chan *serverPeer, tSettings.P2P.MaxConnections),
		query:             make(chan interface{}),
		relayInv:          make(chan relayMsg, tSettings.P2P.MaxConnections),
		broadcast:         make(chan broadcastMsg, tSettings.P2P.MaxConnections),
		peerHeightsUpdate: make(chan updatePeerHeightsMsg),
		quit:              make(chan struct{}),
	}

	for _, entry := range tSettings.P2P.Whitelist {
		ipnet, err := parseSubnet(entry)
		if err != nil {
			return nil, errors.NewConfigurationError("invalid whitelist entry %s", entry, err)
		}

		s.whitelists = append(s.whitelists, ipnet)
	}

	if tSettings.P2P.Proxy != "" {
		proxy := &socks.Proxy{Addr: tSettings.P2P.Proxy}
		s.dial = proxy.DialTimeout
		// resolving through the local resolver would leak the lookups
		s.lookup = func(host string) ([]net.IP, error) {
			return nil, errors.NewNetworkError("dns lookup of %s disabled behind proxy", host)
		}
	}

	s.addrManager = addrmgr.New(logger, tSettings.Path(addrmgr.PeersFilename), s.lookup)

	syncManager, err := netsync.New(logger, tSettings, &netsync.Config{
		PeerNotifier: s,
		Chain:        chain,
		TxPool:       txPool,
	})
	if err != nil {
		return nil, err
	}

	s.syncManager = syncManager

	return s, nil
}

// initListeners binds the configured addresses. With no bind address the
// node listens on every interface at the network port.
func (s *server) initListeners() error {
	if !s.settings.P2P.Listen {
		return nil
	}

	port := s.settings.P2P.Port
	if port == 0 {
		port = int(s.defaultPort())
	}

	binds := s.settings.P2P.Bind
	if len(binds) == 0 {
		binds = []string{":" + strconv.Itoa(port)}
	}

	for _, addr := range binds {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, strconv.Itoa(port))
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range s.listeners {
				_ = l.Close()
			}

			s.listeners = nil

			return errors.NewNetworkError("unable to bind %s", addr, err)
		}

		s.listeners = append(s.listeners, listener)
		s.addLocalAddress(listener.Addr())
	}

	return nil
}

// addLocalAddress registers a routable bound address as one to advertise.
func (s *server) addLocalAddress(addr net.Addr) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok || tcpAddr.IP.IsUnspecified() {
		return
	}

	na := wire.NewNetAddress(tcpAddr, s.services)
	if err := s.addrManager.AddLocalAddress(na); err != nil {
		s.logger.Debugf("[p2p] skipping local address %s: %v", addr, err)
	}
}

// listenHandler accepts incoming connections on a listener.
func (s *server) listenHandler(listener net.Listener) {
	defer s.wg.Done()

	s.logger.Infof("[p2p] listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				break
			}

			s.logger.Errorf("[p2p] can't accept connection: %v", err)

			continue
		}

		go s.inboundPeerConnected(conn)
	}

	s.logger.Infof("[p2p] listener on %s done", listener.Addr())
}

// connect dials addr and hands the connection to a new outbound peer.
func (s *server) connect(addr string, persistent bool) (*serverPeer, error) {
	if s.banList.IsBanned(addr) {
		return nil, errors.NewNetworkPeerBannedError("%s is banned", addr)
	}

	conn, err := s.dial("tcp", addr, s.settings.P2P.ConnectTimeout)
	if err != nil {
		return nil, errors.NewNetworkError("failed to connect to %s", addr, err)
	}

	return s.outboundPeerConnected(addr, conn, persistent)
}

// persistentPeerHandler keeps a -connect or -addnode peer connected,
// backing off between failed attempts.
func (s *server) persistentPeerHandler(addr string) {
	defer s.wg.Done()

	retry := connectionRetryInterval

	for {
		sp, err := s.connect(addr, true)
		if err != nil {
			s.logger.Debugf("[p2p] persistent peer %s: %v", addr, err)
		} else {
			retry = connectionRetryInterval

			select {
			case <-sp.quit:
			case <-s.quit:
				return
			}
		}

		select {
		case <-time.After(retry):
		case <-s.quit:
			return
		}

		retry *= 2
		if retry > maxConnectionRetryInterval {
			retry = maxConnectionRetryInterval
		}
	}
}

// connectionHandler fills the outbound slots from the address manager, one
// connection per network group.
func (s *server) connectionHandler() {
	defer s.wg.Done()

	ticker := time.NewTicker(openConnectionsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.openOutbound()
		case <-s.quit:
			return
		}
	}
}

func (s *server) openOutbound() {
	maxOutbound := s.settings.P2P.MaxOutbound
	if s.OutboundCount()+int(s.pendingOutbound.Load()) >= maxOutbound {
		return
	}

	if s.addrManager.NumAddresses() == 0 {
		return
	}

	now := time.Now()

	for tries := 0; tries < maxAddressTries; tries++ {
		ka := s.addrManager.GetAddress()
		if ka == nil {
			return
		}

		na := ka.NetAddress()

		// one peer per network group
		if s.OutboundGroupCount(addrmgr.GroupKey(na)) != 0 {
			continue
		}

		// only allow recent nodes (10mins) after we failed 30 times
		if tries < 30 && now.Sub(ka.LastAttempt()) < 10*time.Minute {
			continue
		}

		// allow nondefault ports after 50 failed tries.
		if tries < 50 && na.Port != s.defaultPort() {
			continue
		}

		addr := net.JoinHostPort(na.IP.String(), strconv.Itoa(int(na.Port)))
		if s.banList.IsBanned(addr) || s.IsConnected(addr) {
			continue
		}

		s.addrManager.Attempt(na)
		s.pendingOutbound.Inc()

		go func() {
			defer s.pendingOutbound.Dec()

			if _, err := s.connect(addr, false); err != nil {
				s.logger.Debugf("[p2p] outbound %s: %v", addr, err)
			}
		}()

		return
	}
}

// seedFromDNS queries the network's seeders and adds the results to the
// address book with timestamps a few days old, so that they are tried but
// easily replaced by fresher gossip.
func (s *server) seedFromDNS() {
	seeds := s.settings.ChainCfgParams.DNSSeeds
	if len(seeds) == 0 {
		return
	}

	port := s.defaultPort()

	for _, seed := range seeds {
		go func(host string) {
			ips, err := s.lookup(host)
			if err != nil {
				s.logger.Infof("[p2p] dns seed %s failed: %v", host, err)
				return
			}

			if len(ips) == 0 {
				return
			}

			s.logger.Infof("[p2p] %d addresses found from dns seed %s", len(ips), host)

			addresses := make([]*wire.NetAddress, len(ips))
			for i, ip := range ips {
				// 3 to 7 days old
				age := time.Duration(3*24+rand.Intn(4*24)) * time.Hour // nolint:gosec
				addresses[i] = wire.NewNetAddressTimestamp(time.Now().Add(-age), s.services, ip, port)
			}

			src, err := s.addrManager.HostToNetAddress(host, port, s.services)
			if err != nil {
				src = addresses[0]
			}

			s.addrManager.AddAddresses(addresses, src)
		}(seed.Host)
	}
}

// start begins accepting connections from peers and dialing out.
func (s *server) start() error {
	if s.started.Swap(true) {
		return nil
	}

	s.logger.Infof("[p2p] starting server")

	s.addrManager.Start()
	s.syncManager.Start()

	s.chain.Subscribe(chainObserver{s: s})
	s.txPool.Subscribe(s)

	s.wg.Add(1)

	go s.peerHandler()

	for _, listener := range s.listeners {
		s.wg.Add(1)

		go s.listenHandler(listener)
	}

	connect := s.settings.P2P.Connect

	persistent := connect
	if len(connect) == 0 {
		persistent = s.settings.P2P.AddNode
	}

	for _, addr := range persistent {
		addr = s.normalizeAddress(addr)

		s.wg.Add(1)

		go s.persistentPeerHandler(addr)
	}

	// -connect disables automatic connections
	if len(connect) == 0 {
		if s.settings.P2P.DNSSeed && s.addrManager.NumAddresses() == 0 {
			s.seedFromDNS()
		}

		if s.settings.P2P.MaxOutbound > 0 {
			s.wg.Add(1)

			go s.connectionHandler()
		}
	}

	return nil
}

// stop gracefully shuts down the server by stopping and disconnecting all
// peers and the main listener.
func (s *server) stop() error {
	if s.shutdown.Swap(true) {
		s.logger.Infof("[p2p] server is already in the process of shutting down")
		return nil
	}

	s.logger.Warnf("[p2p] server shutting down")

	for _, listener := range s.listeners {
		if err := listener.Close(); err != nil {
			s.logger.Warnf("[p2p] closing listener %s: %v", listener.Addr(), err)
		}
	}

	// Signal the remaining goroutines to quit.
	close(s.quit)

	if !s.started.Load() {
		return nil
	}

	if err := s.syncManager.Stop(); err != nil {
		s.logger.Warnf("[p2p] stopping sync manager: %v", err)
	}

	if err := s.addrManager.Stop(); err != nil {
		s.logger.Warnf("[p2p] stopping address manager: %v", err)
	}

	if err := s.banList.Save(); err != nil {
		s.logger.Warnf("[p2p] saving banlist: %v", err)
	}

	return nil
}

// waitForShutdown blocks until the main listener and peer handlers are
// stopped.
func (s *server) waitForShutdown() {
	s.wg.Wait()
}

// normalizeAddress adds the network port to an address without one.
func (s *server) normalizeAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(int(s.defaultPort())))
	}

	return addr
}
