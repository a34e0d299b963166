// Command peercli connects to a tessa node over the peer protocol, completes
// the handshake and lets the user send protocol messages interactively,
// printing whatever the node answers.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/services/legacy/peer"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/urfave/cli/v2"
)

const (
	userAgentName    = "peercli"
	userAgentVersion = "1.0.0"
	handshakeTimeout = 10 * time.Second
)

func main() {
	app := &cli.App{
		Name:  "peercli",
		Usage: "talk to a tessa node over the peer protocol",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "address", Required: true, Usage: "host:port of the node"},
			&cli.StringFlag{Name: "network", Value: "main", Usage: "main, test or regtest"},
			&cli.BoolFlag{Name: "dump", Usage: "dump every received message"},
			&cli.StringFlag{Name: "loglevel", Value: "WARN", Usage: "log level of the peer connection"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "peercli: %v\n", err)
		os.Exit(1)
	}
}

// session is one connection to a node.
type session struct {
	logger    ulogger.Logger
	settings  *settings.Settings
	out       io.Writer
	dump      bool
	outMu     sync.Mutex
	p         *peer.Peer
	verack    chan struct{}
	verackOne sync.Once
}

func run(c *cli.Context) error {
	tSettings, err := settings.NewSettings(map[string]string{"network": c.String("network")})
	if err != nil {
		return err
	}

	s := &session{
		logger:   ulogger.New("peercli", ulogger.WithLevel(c.String("loglevel"))),
		settings: tSettings,
		out:      os.Stdout,
		dump:     c.Bool("dump"),
	}

	if err = s.connect(c.String("address")); err != nil {
		return err
	}

	s.interactiveLoop(os.Stdin)

	return nil
}

func (s *session) peerConfig() *peer.Config {
	genesis := s.settings.ChainCfgParams.GenesisHash

	return &peer.Config{
		NewestBlock: func() (*chainhash.Hash, int32, error) {
			return &genesis, 0, nil
		},
		UserAgentName:    userAgentName,
		UserAgentVersion: userAgentVersion,
		DisableRelayTx:   false,
		HandshakeTimeout: handshakeTimeout,
		Listeners:        s.listeners(),
	}
}

func (s *session) connect(addr string) error {
	s.verack = make(chan struct{})
	s.verackOne = sync.Once{}

	p, err := peer.NewOutboundPeer(s.logger, s.settings, s.peerConfig(), addr)
	if err != nil {
		return err
	}

	s.printf("Dialing %s\n", p.Addr())

	conn, err := net.DialTimeout("tcp", p.Addr(), s.settings.P2P.ConnectTimeout)
	if err != nil {
		return errors.NewNetworkError("failed to dial %s", addr, err)
	}

	s.p = p
	p.AssociateConnection(conn)

	select {
	case <-s.verack:
		s.printf("Connected to %s (%s, height %d)\n", p, p.UserAgent(), p.StartingHeight())
		return nil
	case <-time.After(handshakeTimeout):
		p.Disconnect()
		return errors.NewNetworkError("no verack from %s", addr)
	}
}

func (s *session) printf(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	fmt.Fprintf(s.out, format, args...)
}

func (s *session) interactiveLoop(in io.Reader) {
	scanner := bufio.NewScanner(in)

	for {
		s.printf("peercli> ")

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "exit", "quit":
			s.p.Disconnect()
			return
		case "help":
			s.printf("%s", usage)
			continue
		}

		if err := s.handleCommand(line); err != nil {
			s.printf("error: %v\n", err)
		}
	}

	s.p.Disconnect()
}

func (s *session) handleCommand(line string) error {
	fields := strings.Fields(line)

	if !s.p.Connected() {
		if err := s.connect(s.p.Addr()); err != nil {
			return errors.NewNetworkError("failed to reconnect", err)
		}
	}

	msg, err := buildMessage(fields[0], fields[1:], s.settings.ChainCfgParams)
	if err != nil {
		return err
	}

	s.p.QueueMessage(msg, nil)
	s.printf("sent %s\n", msg.Command())

	return nil
}

