// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/util"
)

// MaxInvPerMsg is the maximum number of inventory vectors that can be in a
// single inv, getdata or notfound message.
const MaxInvPerMsg = 50000

// maxInvVectPayload is the maximum payload size for an inventory vector:
// type 4 bytes + hash 32 bytes.
const maxInvVectPayload = 4 + chainhash.HashSize

// InvType represents the allowed types of inventory vectors.  See InvVect.
type InvType uint32

// These constants define the various supported inventory vector types.
const (
	InvTypeError         InvType = 0
	InvTypeTx            InvType = 1
	InvTypeBlock         InvType = 2
	InvTypeFilteredBlock InvType = 3
	InvTypeTxLockRequest InvType = 4
	InvTypeSpork         InvType = 6
)

// Map of service flags back to their constant names for pretty printing.
var ivStrings = map[InvType]string{
	InvTypeError:         "ERROR",
	InvTypeTx:            "MSG_TX",
	InvTypeBlock:         "MSG_BLOCK",
	InvTypeFilteredBlock: "MSG_FILTERED_BLOCK",
	InvTypeTxLockRequest: "MSG_TXLOCK_REQUEST",
	InvTypeSpork:         "MSG_SPORK",
}

// String returns the InvType in human-readable form.
func (invtype InvType) String() string {
	if s, ok := ivStrings[invtype]; ok {
		return s
	}

	return fmt.Sprintf("Unknown InvType (%d)", uint32(invtype))
}

// InvVect defines an inventory vector which is used to describe data,
// as specified by the Type field, that a peer wants, has, or does not have
// to another peer.
type InvVect struct {
	Type InvType        // Type of data
	Hash chainhash.Hash // Hash of the data
}

// NewInvVect returns a new InvVect using the provided type and hash.
func NewInvVect(typ InvType, hash *chainhash.Hash) *InvVect {
	return &InvVect{
		Type: typ,
		Hash: *hash,
	}
}

func (iv *InvVect) String() string {
	return iv.Type.String() + " " + iv.Hash.String()
}

func readInvVect(r io.Reader, iv *InvVect) error {
	typ, err := util.ReadUint32(r)
	if err != nil {
		return err
	}

	iv.Type = InvType(typ)

	_, err = io.ReadFull(r, iv.Hash[:])

	return err
}

func writeInvVect(w io.Writer, iv *InvVect) error {
	if err := util.WriteUint32(w, uint32(iv.Type)); err != nil {
		return err
	}

	_, err := w.Write(iv.Hash[:])

	return err
}

// invList is the payload shared by inv, getdata and notfound.
type invList struct {
	InvList []*InvVect
}

func (l *invList) add(fn string, iv *InvVect) error {
	if len(l.InvList)+1 > MaxInvPerMsg {
		str := fmt.Sprintf("too many invvect in message [max %v]", MaxInvPerMsg)
		return messageError(fn, str)
	}

	l.InvList = append(l.InvList, iv)

	return nil
}

func (l *invList) decode(r io.Reader, fn string) error {
	count, err := util.ReadCompactSize(r)
	if err != nil {
		return err
	}

	// Limit to max inventory vectors per message.
	if count > MaxInvPerMsg {
		str := fmt.Sprintf("too many invvect in message [%v]", count)
		return messageError(fn, str)
	}

	// Create a contiguous slice of inventory vectors to deserialize into in
	// order to reduce the number of allocations.
	invList := make([]InvVect, count)
	l.InvList = make([]*InvVect, 0, count)

	for i := uint64(0); i < count; i++ {
		iv := &invList[i]
		if err = readInvVect(r, iv); err != nil {
			return err
		}

		l.InvList = append(l.InvList, iv)
	}

	return nil
}

func (l *invList) encode(w io.Writer, fn string) error {
	count := len(l.InvList)
	if count > MaxInvPerMsg {
		str := fmt.Sprintf("too many invvect in message [%v]", count)
		return messageError(fn, str)
	}

	if err := util.WriteCompactSize(w, uint64(count)); err != nil {
		return err
	}

	for _, iv := range l.InvList {
		if err := writeInvVect(w, iv); err != nil {
			return err
		}
	}

	return nil
}

func invListMaxPayload() uint32 {
	// Num inventory vectors (varInt) + max allowed inventory vectors.
	return uint32(util.CompactSizeLen(MaxInvPerMsg)) + MaxInvPerMsg*maxInvVectPayload
}

// MsgInv implements the Message interface and represents an inv message.
// It is used to advertise a peer's known data such as blocks and
// transactions through inventory vectors.
type MsgInv struct{ invList }

func NewMsgInv() *MsgInv {
	return &MsgInv{invList{InvList: make([]*InvVect, 0, 8)}}
}

func (msg *MsgInv) AddInvVect(iv *InvVect) error   { return msg.add("MsgInv.AddInvVect", iv) }
func (msg *MsgInv) Decode(r io.Reader, _ uint32) error { return msg.decode(r, "MsgInv.Decode") }
func (msg *MsgInv) Encode(w io.Writer, _ uint32) error { return msg.encode(w, "MsgInv.Encode") }
func (msg *MsgInv) Command() string                    { return CmdInv }
func (msg *MsgInv) MaxPayloadLength(uint32) uint32     { return invListMaxPayload() }

// MsgGetData implements the Message interface and represents a getdata
// message.  It is used to request data such as blocks and transactions from
// another peer.
type MsgGetData struct{ invList }

func NewMsgGetData() *MsgGetData {
	return &MsgGetData{invList{InvList: make([]*InvVect, 0, 8)}}
}

func (msg *MsgGetData) AddInvVect(iv *InvVect) error   { return msg.add("MsgGetData.AddInvVect", iv) }
func (msg *MsgGetData) Decode(r io.Reader, _ uint32) error { return msg.decode(r, "MsgGetData.Decode") }
func (msg *MsgGetData) Encode(w io.Writer, _ uint32) error { return msg.encode(w, "MsgGetData.Encode") }
func (msg *MsgGetData) Command() string                    { return CmdGetData }
func (msg *MsgGetData) MaxPayloadLength(uint32) uint32     { return invListMaxPayload() }

// MsgNotFound defines a notfound message which is sent in response to a
// getdata message if any of the requested data is not available on the
// peer.
type MsgNotFound struct{ invList }

func NewMsgNotFound() *MsgNotFound {
	return &MsgNotFound{invList{InvList: make([]*InvVect, 0, 8)}}
}

func (msg *MsgNotFound) AddInvVect(iv *InvVect) error   { return msg.add("MsgNotFound.AddInvVect", iv) }
func (msg *MsgNotFound) Decode(r io.Reader, _ uint32) error { return msg.decode(r, "MsgNotFound.Decode") }
func (msg *MsgNotFound) Encode(w io.Writer, _ uint32) error { return msg.encode(w, "MsgNotFound.Encode") }
func (msg *MsgNotFound) Command() string                    { return CmdNotFound }
func (msg *MsgNotFound) MaxPayloadLength(uint32) uint32     { return invListMaxPayload() }
