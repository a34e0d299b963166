// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tessacoin/tessanode/util"
)

// MaxUserAgentLen is the maximum allowed length for the user agent field in a
// version message (MsgVersion).
const MaxUserAgentLen = 256

// DefaultUserAgent for wire in the stack
const DefaultUserAgent = "/tessawire:0.1.0/"

// MsgVersion implements the Message interface and represents a version
// message.  It is used for a peer to advertise itself as soon as an outbound
// connection is made.  The remote peer then uses this information along with
// its own to negotiate.  The remote peer must then respond with a version
// message of its own containing the negotiated values followed by a verack
// message (MsgVerAck).  This exchange must take place before any further
// communication is allowed to proceed.
type MsgVersion struct {
	// Version of the protocol the node is using.
	ProtocolVersion int32

	// Bitfield which identifies the enabled services.
	Services ServiceFlag

	// Time the message was generated.  This is encoded as an int64 on the wire.
	Timestamp time.Time

	// Address of the remote peer.
	AddrYou NetAddress

	// Address of the local peer.
	AddrMe NetAddress

	// Unique value associated with message that is used to detect self
	// connections.
	Nonce uint64

	// The user agent that generated message.  This is a encoded as a varString
	// on the wire.  This has a max length of MaxUserAgentLen.
	UserAgent string

	// Last block seen by the generator of the version message.
	LastBlock int32

	// Don't announce transactions to peer.
	DisableRelayTx bool
}

// HasService returns whether the specified service is supported by the peer
// that generated the message.
func (msg *MsgVersion) HasService(service ServiceFlag) bool {
	return msg.Services&service == service
}

// AddService adds service as a supported service by the peer generating the
// message.
func (msg *MsgVersion) AddService(service ServiceFlag) {
	msg.Services |= service
}

// Decode decodes r into the receiver.  The relay flag is optional; old
// peers omit it.
func (msg *MsgVersion) Decode(r io.Reader, _ uint32) error {
	buf, ok := r.(*bytes.Buffer)
	if !ok {
		return fmt.Errorf("MsgVersion.Decode reader is not a *bytes.Buffer")
	}

	version, err := util.ReadUint32(buf)
	if err != nil {
		return err
	}

	services, err := util.ReadUint64(buf)
	if err != nil {
		return err
	}

	stamp, err := util.ReadUint64(buf)
	if err != nil {
		return err
	}

	msg.ProtocolVersion = int32(version)
	msg.Services = ServiceFlag(services)
	msg.Timestamp = time.Unix(int64(stamp), 0)

	if err = readNetAddress(buf, &msg.AddrYou, false); err != nil {
		return err
	}

	// Protocol versions >= 106 added a from address, nonce, and user agent
	// field and they are only considered present if there are bytes
	// remaining in the message.
	if buf.Len() > 0 {
		if err = readNetAddress(buf, &msg.AddrMe, false); err != nil {
			return err
		}
	}

	if buf.Len() > 0 {
		if msg.Nonce, err = util.ReadUint64(buf); err != nil {
			return err
		}
	}

	if buf.Len() > 0 {
		userAgent, err := readVarString(buf, MaxUserAgentLen, "MsgVersion.Decode", "user agent")
		if err != nil {
			return err
		}

		msg.UserAgent = userAgent
	}

	if buf.Len() > 0 {
		lastBlock, err := util.ReadUint32(buf)
		if err != nil {
			return err
		}

		msg.LastBlock = int32(lastBlock)
	}

	if buf.Len() > 0 {
		relay, err := util.ReadUint8(buf)
		if err != nil {
			return err
		}

		msg.DisableRelayTx = relay == 0
	}

	return nil
}

func (msg *MsgVersion) Encode(w io.Writer, _ uint32) error {
	if len(msg.UserAgent) > MaxUserAgentLen {
		str := fmt.Sprintf("user agent too long [len %v, max %v]", len(msg.UserAgent), MaxUserAgentLen)
		return messageError("MsgVersion.Encode", str)
	}

	if err := util.WriteUint32(w, uint32(msg.ProtocolVersion)); err != nil {
		return err
	}

	if err := util.WriteUint64(w, uint64(msg.Services)); err != nil {
		return err
	}

	if err := util.WriteUint64(w, uint64(msg.Timestamp.Unix())); err != nil {
		return err
	}

	if err := writeNetAddress(w, &msg.AddrYou, false); err != nil {
		return err
	}

	if err := writeNetAddress(w, &msg.AddrMe, false); err != nil {
		return err
	}

	if err := util.WriteUint64(w, msg.Nonce); err != nil {
		return err
	}

	if err := util.WriteVarString(w, msg.UserAgent); err != nil {
		return err
	}

	if err := util.WriteUint32(w, uint32(msg.LastBlock)); err != nil {
		return err
	}

	relay := uint8(1)
	if msg.DisableRelayTx {
		relay = 0
	}

	return util.WriteUint8(w, relay)
}

func (msg *MsgVersion) Command() string {
	return CmdVersion
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.
func (msg *MsgVersion) MaxPayloadLength(_ uint32) uint32 {
	// version 4 bytes + services 8 bytes + timestamp 8 bytes + remote and
	// local net addresses + nonce 8 bytes + length of user agent (varInt) +
	// max allowed user agent length + last block 4 bytes + relay 1 byte.
	return 33 + (26 * 2) + 9 + MaxUserAgentLen
}

// NewMsgVersion returns a new version message that conforms to the Message
// interface using the passed parameters and defaults for the remaining
// fields.
func NewMsgVersion(me *NetAddress, you *NetAddress, nonce uint64, lastBlock int32) *MsgVersion {
	return &MsgVersion{
		ProtocolVersion: int32(ProtocolVersion),
		Services:        0,
		Timestamp:       time.Unix(time.Now().Unix(), 0),
		AddrYou:         *you,
		AddrMe:          *me,
		Nonce:           nonce,
		UserAgent:       DefaultUserAgent,
		LastBlock:       lastBlock,
		DisableRelayTx:  false,
	}
}

// validateUserAgent checks userAgent length against MaxUserAgentLen
func validateUserAgent(userAgent string) error {
	if len(userAgent) > MaxUserAgentLen {
		str := fmt.Sprintf("user agent too long [len %v, max %v]", len(userAgent), MaxUserAgentLen)
		return messageError("MsgVersion", str)
	}

	return nil
}

// AddUserAgent adds a user agent to the user agent string for the version
// message.  The version string is not defined to any strict format, although
// it is recommended to use the form "major.minor.revision" e.g. "2.6.41".
func (msg *MsgVersion) AddUserAgent(name string, version string, comments ...string) error {
	newUserAgent := fmt.Sprintf("%s:%s", name, version)
	if len(comments) != 0 {
		newUserAgent = fmt.Sprintf("%s(%s)", newUserAgent, strings.Join(comments, "; "))
	}

	newUserAgent = fmt.Sprintf("%s%s/", msg.UserAgent, newUserAgent)

	if err := validateUserAgent(newUserAgent); err != nil {
		return err
	}

	msg.UserAgent = newUserAgent

	return nil
}
