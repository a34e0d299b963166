package main

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/tessacoin/tessanode/services/legacy/peer"
	"github.com/tessacoin/tessanode/services/legacy/wire"
)

// listeners prints every message the node sends back. With -dump the whole
// message is printed as well.
func (s *session) listeners() peer.MessageListeners {
	return peer.MessageListeners{
		OnVersion: func(_ *peer.Peer, msg *wire.MsgVersion) *wire.MsgReject {
			s.printf("received version %d from %s\n", msg.ProtocolVersion, msg.UserAgent)
			s.dumpMsg(msg)

			return nil
		},
		OnVerAck: func(_ *peer.Peer, _ *wire.MsgVerAck) {
			s.verackOne.Do(func() { close(s.verack) })
		},
		OnInv: func(_ *peer.Peer, msg *wire.MsgInv) {
			s.printf("received inv with %d entries\n", len(msg.InvList))

			for _, iv := range msg.InvList {
				s.printf("  %s %s\n", iv.Type, iv.Hash)
			}
		},
		OnNotFound: func(_ *peer.Peer, msg *wire.MsgNotFound) {
			for _, iv := range msg.InvList {
				s.printf("not found: %s %s\n", iv.Type, iv.Hash)
			}
		},
		OnHeaders: func(_ *peer.Peer, msg *wire.MsgHeaders) {
			s.printf("received %d headers\n", len(msg.Headers))

			for _, h := range msg.Headers {
				s.printf("  %s\n", h.Hash())
			}
		},
		OnAddr: func(_ *peer.Peer, msg *wire.MsgAddr) {
			s.printf("received %d addresses\n", len(msg.AddrList))

			for _, na := range msg.AddrList {
				s.printf("  %s:%d\n", na.IP, na.Port)
			}
		},
		OnPong: func(_ *peer.Peer, msg *wire.MsgPong) {
			s.printf("received pong %d\n", msg.Nonce)
		},
		OnReject: func(_ *peer.Peer, msg *wire.MsgReject) {
			s.printf("received reject: %s\n", msg)
		},
		OnTx: func(_ *peer.Peer, msg *wire.MsgTx) {
			s.printf("received tx %s\n", msg.Tx.TxHash())
			s.dumpMsg(msg.Tx)
		},
		OnBlock: func(_ *peer.Peer, msg *wire.MsgBlock, buf []byte) {
			s.printf("received block %s (%d bytes, %d txs)\n", msg.Block.Hash(), len(buf), len(msg.Block.Transactions))
			s.dumpMsg(msg.Block.Header)
		},
		OnSpork: func(_ *peer.Peer, msg *wire.MsgSpork) {
			s.printf("received spork %d = %d (signed %d)\n", msg.ID, msg.Value, msg.TimeSigned)
		},
	}
}

func (s *session) dumpMsg(v interface{}) {
	if !s.dump {
		return
	}

	s.printf("%s", spew.Sdump(v))
}
