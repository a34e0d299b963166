// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/util"
)

// MsgReject implements the Message interface and represents a reject
// message.
type MsgReject struct {
	// Cmd is the command for the message which was rejected such as
	// as CmdBlock or CmdTx.  This can be obtained from the Command function
	// of a Message.
	Cmd string

	// RejectCode is a code indicating why the command was rejected.  It
	// is encoded as a uint8 on the wire.
	Code RejectCode

	// Reason is a human-readable string with specific details (over and
	// above the reject code) about why the command was rejected.
	Reason string

	// Hash identifies a specific block or transaction that was rejected
	// and therefore only applies the MsgBlock and MsgTx messages.
	Hash chainhash.Hash
}

// hasHash reports whether rejects of cmd carry the hash of the object.
func hasHash(cmd string) bool {
	return cmd == CmdBlock || cmd == CmdTx || cmd == CmdTxLock
}

func (msg *MsgReject) Decode(r io.Reader, _ uint32) error {
	cmd, err := readVarString(r, CommandSize, "MsgReject.Decode", "command")
	if err != nil {
		return err
	}

	msg.Cmd = cmd

	code, err := util.ReadUint8(r)
	if err != nil {
		return err
	}

	msg.Code = RejectCode(code)

	if msg.Reason, err = readVarString(r, MaxMessagePayload, "MsgReject.Decode", "reason"); err != nil {
		return err
	}

	if hasHash(msg.Cmd) {
		if _, err = io.ReadFull(r, msg.Hash[:]); err != nil {
			return err
		}
	}

	return nil
}

func (msg *MsgReject) Encode(w io.Writer, _ uint32) error {
	if err := util.WriteVarString(w, msg.Cmd); err != nil {
		return err
	}

	if err := util.WriteUint8(w, uint8(msg.Code)); err != nil {
		return err
	}

	if err := util.WriteVarString(w, msg.Reason); err != nil {
		return err
	}

	if hasHash(msg.Cmd) {
		if _, err := w.Write(msg.Hash[:]); err != nil {
			return err
		}
	}

	return nil
}

func (msg *MsgReject) Command() string {
	return CmdReject
}

func (msg *MsgReject) MaxPayloadLength(uint32) uint32 {
	return MaxMessagePayload
}

func (msg *MsgReject) String() string {
	str := fmt.Sprintf("cmd %s, code %v, reason %s", msg.Cmd, msg.Code, msg.Reason)
	if hasHash(msg.Cmd) {
		str += ", hash " + msg.Hash.String()
	}

	return str
}

// NewMsgReject returns a new reject message that conforms to the Message
// interface.
func NewMsgReject(command string, code RejectCode, reason string) *MsgReject {
	return &MsgReject{
		Cmd:    command,
		Code:   code,
		Reason: reason,
	}
}
