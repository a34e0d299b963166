// Package legacy is the peer-to-peer service: it speaks the tessa wire
// protocol, keeps the address book and banlist, and feeds the sync manager.
package legacy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/services/legacy/netsync"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/ulogger"
)

// PeerInfo is a snapshot of one connected peer.
type PeerInfo struct {
	ID             int32
	Addr           string
	Inbound        bool
	Persistent     bool
	Whitelisted    bool
	UserAgent      string
	Version        uint32
	StartingHeight int32
	CurrentHeight  int32
	BanScore       int32
	ConnTime       time.Time
	BytesSent      uint64
	BytesReceived  uint64
}

// Server wraps the peer server as a node service.
type Server struct {
	logger   ulogger.Logger
	settings *settings.Settings
	server   *server
}

// New returns the p2p service for the given chain and mempool.
func New(logger ulogger.Logger, tSettings *settings.Settings, chain Chain, txPool TxPool) (*Server, error) {
	s, err := newServer(logger, tSettings, chain, txPool)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		logger:   logger,
		settings: tSettings,
		server:   s,
	}
	srv.watchBans()

	return srv, nil
}

// watchBans hooks the server into banlist changes. New bans drop connected
// peers in the subnet, whichever path created them.
func (s *Server) watchBans() {
	s.server.banList.SetHandler(func(ev BanEvent) {
		switch ev.Action {
		case "add":
			s.logger.Infof("[p2p] %s banned until %s", ev.Subnet, ev.Until.Format(time.RFC3339))

			// the handler may run on the peer handler goroutine itself
			go s.server.queryPeers(disconnectBannedMsg{})

		case "remove":
			s.logger.Infof("[p2p] ban on %s lifted", ev.Subnet)
		}
	})
}

func (s *Server) Health(_ context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	if !s.server.started.Load() || s.server.shutdown.Load() {
		return http.StatusServiceUnavailable, "p2p server not running", nil
	}

	return http.StatusOK, fmt.Sprintf("%d peers connected", s.server.ConnectedCount()), nil
}

// Init loads the banlist and binds the listeners.
func (s *Server) Init(_ context.Context) error {
	if err := s.server.banList.Load(); err != nil {
		// a corrupt banlist is not worth refusing to start over
		s.logger.Warnf("[p2p] ignoring banlist: %v", err)
	}

	return s.server.initListeners()
}

// Start runs the server until ctx is done.
func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	if err := s.server.start(); err != nil {
		return err
	}

	close(readyCh)

	<-ctx.Done()

	return nil
}

func (s *Server) Stop(_ context.Context) error {
	if err := s.server.stop(); err != nil {
		return errors.NewServiceError("[p2p] failed to stop", err)
	}

	s.server.waitForShutdown()

	return nil
}

// ConnectedCount returns the number of connected peers.
func (s *Server) ConnectedCount() int32 {
	return s.server.ConnectedCount()
}

// NetTotals returns the bytes received and sent.
func (s *Server) NetTotals() (uint64, uint64) {
	return s.server.NetTotals()
}

func (s *Server) BanList() *BanList {
	return s.server.banList
}

func (s *Server) Sporks() *SporkManager {
	return s.server.sporks
}

func (s *Server) SyncManager() *netsync.SyncManager {
	return s.server.syncManager
}

// Connect adds a persistent peer at addr.
func (s *Server) Connect(addr string) {
	addr = s.server.normalizeAddress(addr)

	s.server.wg.Add(1)

	go s.server.persistentPeerHandler(addr)
}

// Peers returns a snapshot of every connected peer.
func (s *Server) Peers() []PeerInfo {
	peers := s.server.Peers()
	out := make([]PeerInfo, 0, len(peers))

	for _, sp := range peers {
		stats := sp.StatsSnapshot()

		out = append(out, PeerInfo{
			ID:             stats.ID,
			Addr:           stats.Addr,
			Inbound:        stats.Inbound,
			Persistent:     sp.persistent,
			Whitelisted:    sp.isWhitelisted,
			UserAgent:      stats.UserAgent,
			Version:        stats.Version,
			StartingHeight: stats.StartingHeight,
			CurrentHeight:  stats.LastBlock,
			BanScore:       sp.banScore.Load(),
			ConnTime:       stats.ConnTime,
			BytesSent:      stats.BytesSent,
			BytesReceived:  stats.BytesRecv,
		})
	}

	return out
}
