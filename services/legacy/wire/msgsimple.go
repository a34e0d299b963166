// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/tessacoin/tessanode/util"
)

// MsgVerAck defines a verack message which is used for a peer to
// acknowledge a version message (MsgVersion) after it has used the
// information to negotiate parameters.  It implements the Message
// interface and has no payload.
type MsgVerAck struct{}

func (msg *MsgVerAck) Decode(io.Reader, uint32) error { return nil }
func (msg *MsgVerAck) Encode(io.Writer, uint32) error { return nil }
func (msg *MsgVerAck) Command() string                { return CmdVerAck }
func (msg *MsgVerAck) MaxPayloadLength(uint32) uint32 { return 0 }

// MsgGetAddr asks a peer for known active peers.  It has no payload.
type MsgGetAddr struct{}

func (msg *MsgGetAddr) Decode(io.Reader, uint32) error { return nil }
func (msg *MsgGetAddr) Encode(io.Writer, uint32) error { return nil }
func (msg *MsgGetAddr) Command() string                { return CmdGetAddr }
func (msg *MsgGetAddr) MaxPayloadLength(uint32) uint32 { return 0 }

// MsgMemPool asks a peer for the inventory of its mempool.  It has no
// payload.
type MsgMemPool struct{}

func (msg *MsgMemPool) Decode(io.Reader, uint32) error { return nil }
func (msg *MsgMemPool) Encode(io.Writer, uint32) error { return nil }
func (msg *MsgMemPool) Command() string                { return CmdMemPool }
func (msg *MsgMemPool) MaxPayloadLength(uint32) uint32 { return 0 }

// MsgGetSporks asks a peer for its active sporks.  It has no payload.
type MsgGetSporks struct{}

func (msg *MsgGetSporks) Decode(io.Reader, uint32) error { return nil }
func (msg *MsgGetSporks) Encode(io.Writer, uint32) error { return nil }
func (msg *MsgGetSporks) Command() string                { return CmdGetSporks }
func (msg *MsgGetSporks) MaxPayloadLength(uint32) uint32 { return 0 }

// MsgPing implements the Message interface and represents a ping message.
// The nonce is echoed back in the pong so round trips can be matched.
type MsgPing struct {
	// Unique value associated with message that is used to identify
	// specific ping message.
	Nonce uint64
}

func NewMsgPing(nonce uint64) *MsgPing {
	return &MsgPing{Nonce: nonce}
}

func (msg *MsgPing) Decode(r io.Reader, _ uint32) (err error) {
	msg.Nonce, err = util.ReadUint64(r)
	return err
}

func (msg *MsgPing) Encode(w io.Writer, _ uint32) error {
	return util.WriteUint64(w, msg.Nonce)
}

func (msg *MsgPing) Command() string                { return CmdPing }
func (msg *MsgPing) MaxPayloadLength(uint32) uint32 { return 8 }

// MsgPong implements the Message interface and represents a pong message
// which is used primarily to confirm that a connection is still valid in
// response to a ping message (MsgPing).
type MsgPong struct {
	// Unique value associated with message that is used to identify
	// specific ping message.
	Nonce uint64
}

func NewMsgPong(nonce uint64) *MsgPong {
	return &MsgPong{Nonce: nonce}
}

func (msg *MsgPong) Decode(r io.Reader, _ uint32) (err error) {
	msg.Nonce, err = util.ReadUint64(r)
	return err
}

func (msg *MsgPong) Encode(w io.Writer, _ uint32) error {
	return util.WriteUint64(w, msg.Nonce)
}

func (msg *MsgPong) Command() string                { return CmdPong }
func (msg *MsgPong) MaxPayloadLength(uint32) uint32 { return 8 }
