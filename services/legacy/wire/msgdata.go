// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/util"
)

// MaxBlockHeadersPerMsg is the maximum number of block headers that can be
// in a single headers message.
const MaxBlockHeadersPerMsg = 2000

// MsgHeaders implements the Message interface and represents a headers
// message.  It is used to deliver block header information in response
// to a getheaders message (MsgGetHeaders).  Each header is followed by a
// zero transaction count.
type MsgHeaders struct {
	Headers []*model.BlockHeader
}

func NewMsgHeaders() *MsgHeaders {
	return &MsgHeaders{
		Headers: make([]*model.BlockHeader, 0, MaxBlockHeadersPerMsg),
	}
}

// AddBlockHeader adds a new block header to the message.
func (msg *MsgHeaders) AddBlockHeader(bh *model.BlockHeader) error {
	if len(msg.Headers)+1 > MaxBlockHeadersPerMsg {
		str := fmt.Sprintf("too many block headers in message [max %v]", MaxBlockHeadersPerMsg)
		return messageError("MsgHeaders.AddBlockHeader", str)
	}

	msg.Headers = append(msg.Headers, bh)

	return nil
}

func (msg *MsgHeaders) Decode(r io.Reader, _ uint32) error {
	count, err := util.ReadCompactSize(r)
	if err != nil {
		return err
	}

	// Limit to max block headers per message.
	if count > MaxBlockHeadersPerMsg {
		str := fmt.Sprintf("too many block headers for message [count %v, max %v]", count, MaxBlockHeadersPerMsg)
		return messageError("MsgHeaders.Decode", str)
	}

	headers := make([]model.BlockHeader, count)
	msg.Headers = make([]*model.BlockHeader, 0, count)

	for i := uint64(0); i < count; i++ {
		bh := &headers[i]
		if err = bh.Deserialize(r); err != nil {
			return err
		}

		txCount, err := util.ReadCompactSize(r)
		if err != nil {
			return err
		}

		// Ensure the transaction count is zero for headers.
		if txCount > 0 {
			str := fmt.Sprintf("block headers may not contain transactions [count %v]", txCount)
			return messageError("MsgHeaders.Decode", str)
		}

		msg.Headers = append(msg.Headers, bh)
	}

	return nil
}

func (msg *MsgHeaders) Encode(w io.Writer, _ uint32) error {
	count := len(msg.Headers)
	if count > MaxBlockHeadersPerMsg {
		str := fmt.Sprintf("too many block headers for message [count %v, max %v]", count, MaxBlockHeadersPerMsg)
		return messageError("MsgHeaders.Encode", str)
	}

	if err := util.WriteCompactSize(w, uint64(count)); err != nil {
		return err
	}

	for _, bh := range msg.Headers {
		if err := bh.Serialize(w); err != nil {
			return err
		}

		if err := util.WriteCompactSize(w, 0); err != nil {
			return err
		}
	}

	return nil
}

func (msg *MsgHeaders) Command() string {
	return CmdHeaders
}

func (msg *MsgHeaders) MaxPayloadLength(uint32) uint32 {
	// Num headers (varInt) + max allowed headers (header length + 1 byte
	// for the number of transactions which is always 0).
	return uint32(util.CompactSizeLen(MaxBlockHeadersPerMsg)) + (model.ZerocoinBlockHeaderLen+1)*MaxBlockHeadersPerMsg
}

// MsgTx implements the Message interface and carries a transaction.
type MsgTx struct {
	Tx *model.Tx
}

func NewMsgTx(tx *model.Tx) *MsgTx {
	return &MsgTx{Tx: tx}
}

func (msg *MsgTx) Decode(r io.Reader, _ uint32) error {
	msg.Tx = &model.Tx{}
	return msg.Tx.Deserialize(r)
}

func (msg *MsgTx) Encode(w io.Writer, _ uint32) error {
	return msg.Tx.Serialize(w)
}

func (msg *MsgTx) Command() string                { return CmdTx }
func (msg *MsgTx) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// MsgTxLock carries a transaction lock request.  Its payload is a plain
// transaction; the node relays it as an ordinary transaction.
type MsgTxLock struct {
	Tx *model.Tx
}

func (msg *MsgTxLock) Decode(r io.Reader, _ uint32) error {
	msg.Tx = &model.Tx{}
	return msg.Tx.Deserialize(r)
}

func (msg *MsgTxLock) Encode(w io.Writer, _ uint32) error {
	return msg.Tx.Serialize(w)
}

func (msg *MsgTxLock) Command() string                { return CmdTxLock }
func (msg *MsgTxLock) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }

// MsgBlock implements the Message interface and carries a full block,
// including the block signature of proof of stake blocks.
type MsgBlock struct {
	Block *model.Block
}

func NewMsgBlock(block *model.Block) *MsgBlock {
	return &MsgBlock{Block: block}
}

func (msg *MsgBlock) Decode(r io.Reader, _ uint32) error {
	msg.Block = &model.Block{}
	return msg.Block.Deserialize(r)
}

func (msg *MsgBlock) Encode(w io.Writer, _ uint32) error {
	return msg.Block.Serialize(w)
}

func (msg *MsgBlock) Command() string                { return CmdBlock }
func (msg *MsgBlock) MaxPayloadLength(uint32) uint32 { return MaxMessagePayload }
