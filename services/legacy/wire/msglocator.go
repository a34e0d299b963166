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

// MaxBlockLocatorsPerMsg is the maximum number of block locator hashes
// allowed per message.
const MaxBlockLocatorsPerMsg = 500

// MaxBlocksPerInv bounds the inventory sent in reply to getblocks.
const MaxBlocksPerInv = 500

// blockLocator is the payload shared by getblocks and getheaders: the
// sender's protocol version, a locator of hashes from its tip back to
// genesis with exponentially growing gaps, and a stop hash.
type blockLocator struct {
	ProtocolVersion    uint32
	BlockLocatorHashes []*chainhash.Hash
	HashStop           chainhash.Hash
}

func (l *blockLocator) add(fn string, hash *chainhash.Hash) error {
	if len(l.BlockLocatorHashes)+1 > MaxBlockLocatorsPerMsg {
		str := fmt.Sprintf("too many block locator hashes for message [max %v]", MaxBlockLocatorsPerMsg)
		return messageError(fn, str)
	}

	l.BlockLocatorHashes = append(l.BlockLocatorHashes, hash)

	return nil
}

func (l *blockLocator) decode(r io.Reader, fn string) error {
	var err error

	if l.ProtocolVersion, err = util.ReadUint32(r); err != nil {
		return err
	}

	// Read num block locator hashes and limit to max.
	count, err := util.ReadCompactSize(r)
	if err != nil {
		return err
	}

	if count > MaxBlockLocatorsPerMsg {
		str := fmt.Sprintf("too many block locator hashes for message [count %v, max %v]", count, MaxBlockLocatorsPerMsg)
		return messageError(fn, str)
	}

	// Create a contiguous slice of hashes to deserialize into in order to
	// reduce the number of allocations.
	locatorHashes := make([]chainhash.Hash, count)
	l.BlockLocatorHashes = make([]*chainhash.Hash, 0, count)

	for i := uint64(0); i < count; i++ {
		hash := &locatorHashes[i]
		if _, err = io.ReadFull(r, hash[:]); err != nil {
			return err
		}

		l.BlockLocatorHashes = append(l.BlockLocatorHashes, hash)
	}

	_, err = io.ReadFull(r, l.HashStop[:])

	return err
}

func (l *blockLocator) encode(w io.Writer, fn string) error {
	count := len(l.BlockLocatorHashes)
	if count > MaxBlockLocatorsPerMsg {
		str := fmt.Sprintf("too many block locator hashes for message [count %v, max %v]", count, MaxBlockLocatorsPerMsg)
		return messageError(fn, str)
	}

	if err := util.WriteUint32(w, l.ProtocolVersion); err != nil {
		return err
	}

	if err := util.WriteCompactSize(w, uint64(count)); err != nil {
		return err
	}

	for _, hash := range l.BlockLocatorHashes {
		if _, err := w.Write(hash[:]); err != nil {
			return err
		}
	}

	_, err := w.Write(l.HashStop[:])

	return err
}

// Locator returns the locator hashes by value.
func (l *blockLocator) Locator() []chainhash.Hash {
	hashes := make([]chainhash.Hash, len(l.BlockLocatorHashes))
	for i, h := range l.BlockLocatorHashes {
		hashes[i] = *h
	}

	return hashes
}

func locatorMaxPayload() uint32 {
	// Protocol version 4 bytes + num hashes (varInt) + max block locator
	// hashes + hash stop.
	return 4 + uint32(util.CompactSizeLen(MaxBlockLocatorsPerMsg)) + (MaxBlockLocatorsPerMsg * chainhash.HashSize) + chainhash.HashSize
}

// MsgGetBlocks implements the Message interface and represents a getblocks
// message.  It is used to request a list of blocks starting after the last
// known hash in the slice of block locator hashes.  The list is returned
// via an inv message (MsgInv) and is limited by a specific hash to stop at
// or the maximum number of blocks per message, which is currently 500.
type MsgGetBlocks struct{ blockLocator }

func NewMsgGetBlocks(hashStop *chainhash.Hash) *MsgGetBlocks {
	return &MsgGetBlocks{blockLocator{
		ProtocolVersion:    ProtocolVersion,
		BlockLocatorHashes: make([]*chainhash.Hash, 0, MaxBlockLocatorsPerMsg),
		HashStop:           *hashStop,
	}}
}

func (msg *MsgGetBlocks) AddBlockLocatorHash(hash *chainhash.Hash) error {
	return msg.add("MsgGetBlocks.AddBlockLocatorHash", hash)
}

func (msg *MsgGetBlocks) Decode(r io.Reader, _ uint32) error {
	return msg.decode(r, "MsgGetBlocks.Decode")
}

func (msg *MsgGetBlocks) Encode(w io.Writer, _ uint32) error {
	return msg.encode(w, "MsgGetBlocks.Encode")
}

func (msg *MsgGetBlocks) Command() string                { return CmdGetBlocks }
func (msg *MsgGetBlocks) MaxPayloadLength(uint32) uint32 { return locatorMaxPayload() }

// MsgGetHeaders implements the Message interface and represents a
// getheaders message.  It is used to request a list of block headers for
// blocks starting after the last known hash in the slice of block locator
// hashes.  The list is returned via a headers message (MsgHeaders) and is
// limited by a specific hash to stop at or the maximum number of block
// headers per message, which is currently 2000.
type MsgGetHeaders struct{ blockLocator }

func NewMsgGetHeaders() *MsgGetHeaders {
	return &MsgGetHeaders{blockLocator{
		ProtocolVersion:    ProtocolVersion,
		BlockLocatorHashes: make([]*chainhash.Hash, 0, MaxBlockLocatorsPerMsg),
	}}
}

func (msg *MsgGetHeaders) AddBlockLocatorHash(hash *chainhash.Hash) error {
	return msg.add("MsgGetHeaders.AddBlockLocatorHash", hash)
}

func (msg *MsgGetHeaders) Decode(r io.Reader, _ uint32) error {
	return msg.decode(r, "MsgGetHeaders.Decode")
}

func (msg *MsgGetHeaders) Encode(w io.Writer, _ uint32) error {
	return msg.encode(w, "MsgGetHeaders.Encode")
}

func (msg *MsgGetHeaders) Command() string                { return CmdGetHeaders }
func (msg *MsgGetHeaders) MaxPayloadLength(uint32) uint32 { return locatorMaxPayload() }
