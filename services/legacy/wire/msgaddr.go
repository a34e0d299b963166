// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/tessacoin/tessanode/util"
)

// MaxAddrPerMsg is the maximum number of addresses that can be in a single
// addr message (MsgAddr).
const MaxAddrPerMsg = 1000

// maxNetAddressPayload is the max payload of a timestamped address:
// timestamp 4 bytes + services 8 bytes + ip 16 bytes + port 2 bytes.
const maxNetAddressPayload = 30

// MsgAddr implements the Message interface and represents an addr message.
// It is used to provide a list of known active peers on the network.  An
// active peer is considered one that has transmitted a message within the
// last 3 hours.  Nodes which have not transmitted in that time frame should
// be forgotten.
type MsgAddr struct {
	AddrList []*NetAddress
}

func NewMsgAddr() *MsgAddr {
	return &MsgAddr{
		AddrList: make([]*NetAddress, 0, MaxAddrPerMsg),
	}
}

// AddAddress adds a known active peer to the message.
func (msg *MsgAddr) AddAddress(na *NetAddress) error {
	if len(msg.AddrList)+1 > MaxAddrPerMsg {
		str := fmt.Sprintf("too many addresses in message [max %v]", MaxAddrPerMsg)
		return messageError("MsgAddr.AddAddress", str)
	}

	msg.AddrList = append(msg.AddrList, na)

	return nil
}

// ClearAddresses removes all addresses from the message.
func (msg *MsgAddr) ClearAddresses() {
	msg.AddrList = []*NetAddress{}
}

func (msg *MsgAddr) Decode(r io.Reader, _ uint32) error {
	count, err := util.ReadCompactSize(r)
	if err != nil {
		return err
	}

	// Limit to max addresses per message.
	if count > MaxAddrPerMsg {
		str := fmt.Sprintf("too many addresses for message [count %v, max %v]", count, MaxAddrPerMsg)
		return messageError("MsgAddr.Decode", str)
	}

	addrList := make([]NetAddress, count)
	msg.AddrList = make([]*NetAddress, 0, count)

	for i := uint64(0); i < count; i++ {
		na := &addrList[i]
		if err = readNetAddress(r, na, true); err != nil {
			return err
		}

		msg.AddrList = append(msg.AddrList, na)
	}

	return nil
}

func (msg *MsgAddr) Encode(w io.Writer, _ uint32) error {
	count := len(msg.AddrList)
	if count > MaxAddrPerMsg {
		str := fmt.Sprintf("too many addresses for message [count %v, max %v]", count, MaxAddrPerMsg)
		return messageError("MsgAddr.Encode", str)
	}

	if err := util.WriteCompactSize(w, uint64(count)); err != nil {
		return err
	}

	for _, na := range msg.AddrList {
		if err := writeNetAddress(w, na, true); err != nil {
			return err
		}
	}

	return nil
}

func (msg *MsgAddr) Command() string {
	return CmdAddr
}

func (msg *MsgAddr) MaxPayloadLength(uint32) uint32 {
	return uint32(util.CompactSizeLen(MaxAddrPerMsg)) + MaxAddrPerMsg*maxNetAddressPayload
}
