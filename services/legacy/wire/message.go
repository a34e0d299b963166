// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/libsv/go-bk/crypto"
	"github.com/tessacoin/tessanode/util"
)

// MessageHeaderSize is the number of bytes in a message header: network
// magic 4 bytes + command 12 bytes + payload length 4 bytes + checksum
// 4 bytes.
const MessageHeaderSize = 24

// CommandSize is the fixed size of all commands in the common message
// header.  Shorter commands must be zero padded.
const CommandSize = 12

// MaxMessagePayload is the maximum bytes a message can be regardless of
// other individual limits imposed by messages themselves.
const MaxMessagePayload = 2 * 1024 * 1024

// Commands used in message headers which describe the type of message.
const (
	CmdVersion    = "version"
	CmdVerAck     = "verack"
	CmdGetAddr    = "getaddr"
	CmdAddr       = "addr"
	CmdGetBlocks  = "getblocks"
	CmdInv        = "inv"
	CmdGetData    = "getdata"
	CmdNotFound   = "notfound"
	CmdBlock      = "block"
	CmdTx         = "tx"
	CmdTxLock     = "ix"
	CmdGetHeaders = "getheaders"
	CmdHeaders    = "headers"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdMemPool    = "mempool"
	CmdReject     = "reject"
	CmdSpork      = "spork"
	CmdGetSporks  = "getsporks"
)

// Message is an interface that describes a message.  The interface
// allows custom messages to be defined and used with the framing
// functions.
type Message interface {
	Decode(r io.Reader, pver uint32) error
	Encode(w io.Writer, pver uint32) error
	Command() string
	MaxPayloadLength(pver uint32) uint32
}

// makeEmptyMessage creates a message of the appropriate concrete type based
// on the command.
func makeEmptyMessage(command string) (Message, error) {
	var msg Message

	switch command {
	case CmdVersion:
		msg = &MsgVersion{}
	case CmdVerAck:
		msg = &MsgVerAck{}
	case CmdGetAddr:
		msg = &MsgGetAddr{}
	case CmdAddr:
		msg = &MsgAddr{}
	case CmdGetBlocks:
		msg = &MsgGetBlocks{}
	case CmdInv:
		msg = &MsgInv{}
	case CmdGetData:
		msg = &MsgGetData{}
	case CmdNotFound:
		msg = &MsgNotFound{}
	case CmdBlock:
		msg = &MsgBlock{}
	case CmdTx:
		msg = &MsgTx{}
	case CmdTxLock:
		msg = &MsgTxLock{}
	case CmdGetHeaders:
		msg = &MsgGetHeaders{}
	case CmdHeaders:
		msg = &MsgHeaders{}
	case CmdPing:
		msg = &MsgPing{}
	case CmdPong:
		msg = &MsgPong{}
	case CmdMemPool:
		msg = &MsgMemPool{}
	case CmdReject:
		msg = &MsgReject{}
	case CmdSpork:
		msg = &MsgSpork{}
	case CmdGetSporks:
		msg = &MsgGetSporks{}
	default:
		return nil, &UnknownCommandError{Command: command}
	}

	return msg, nil
}

// messageHeader defines the header structure for all protocol messages.
type messageHeader struct {
	magic    [4]byte
	command  string
	length   uint32
	checksum [4]byte
}

func readMessageHeader(r io.Reader) (int, *messageHeader, error) {
	var headerBytes [MessageHeaderSize]byte

	n, err := io.ReadFull(r, headerBytes[:])
	if err != nil {
		return n, nil, err
	}

	hdr := messageHeader{}

	var command [CommandSize]byte

	copy(hdr.magic[:], headerBytes[0:4])
	copy(command[:], headerBytes[4:16])

	hdr.length = uint32(headerBytes[16]) | uint32(headerBytes[17])<<8 | uint32(headerBytes[18])<<16 | uint32(headerBytes[19])<<24
	copy(hdr.checksum[:], headerBytes[20:24])

	// strip trailing zeros from the command string
	hdr.command = string(bytes.TrimRight(command[:], "\x00"))

	return n, &hdr, nil
}

// discardInput reads n bytes from reader r in chunks and discards the read
// bytes.  This is used to skip payloads when various errors occur and helps
// prevent rogue nodes from causing massive memory allocation through
// forging header length.
func discardInput(r io.Reader, n uint32) {
	maxSize := uint32(10 * 1024) // 10k at a time
	numReads := n / maxSize
	bytesRemaining := n % maxSize

	if n > 0 {
		buf := make([]byte, maxSize)
		for i := uint32(0); i < numReads; i++ {
			_, _ = io.ReadFull(r, buf)
		}
	}

	if bytesRemaining > 0 {
		buf := make([]byte, bytesRemaining)
		_, _ = io.ReadFull(r, buf)
	}
}

// checksum is the first four bytes of the double SHA-256 of payload.
func checksum(payload []byte) [4]byte {
	var sum [4]byte

	copy(sum[:], crypto.Sha256d(payload)[0:4])

	return sum
}

// WriteMessageN writes a message to w including the necessary header
// information and returns the number of bytes written.
func WriteMessageN(w io.Writer, msg Message, pver uint32, magic [4]byte) (int, error) {
	cmd := msg.Command()
	if len(cmd) > CommandSize {
		str := fmt.Sprintf("command [%s] is too long [max %v]", cmd, CommandSize)
		return 0, messageError("WriteMessage", str)
	}

	var bw bytes.Buffer
	if err := msg.Encode(&bw, pver); err != nil {
		return 0, err
	}

	payload := bw.Bytes()
	lenp := len(payload)

	if lenp > MaxMessagePayload {
		str := fmt.Sprintf("message payload is too large - encoded %d bytes, but maximum message payload is %d bytes", lenp, MaxMessagePayload)
		return 0, messageError("WriteMessage", str)
	}

	if mpl := msg.MaxPayloadLength(pver); uint32(lenp) > mpl {
		str := fmt.Sprintf("message payload is too large - encoded %d bytes, but maximum message payload size for messages of type [%s] is %d.", lenp, cmd, mpl)
		return 0, messageError("WriteMessage", str)
	}

	hdr := make([]byte, 0, MessageHeaderSize+lenp)
	hdr = append(hdr, magic[:]...)

	var command [CommandSize]byte
	copy(command[:], cmd)

	hdr = append(hdr, command[:]...)
	hdr = append(hdr, byte(lenp), byte(lenp>>8), byte(lenp>>16), byte(lenp>>24))

	sum := checksum(payload)
	hdr = append(hdr, sum[:]...)
	hdr = append(hdr, payload...)

	return w.Write(hdr)
}

// WriteMessage writes a message to w including the necessary header
// information.
func WriteMessage(w io.Writer, msg Message, pver uint32, magic [4]byte) error {
	_, err := WriteMessageN(w, msg, pver, magic)
	return err
}

// ReadMessageN reads, validates, and parses the next message from r for
// the provided protocol version and network.  It returns the number of
// bytes read in addition to the parsed message and the raw payload.
//
// A message with an unknown command is skipped and reported with an
// *UnknownCommandError; the stream stays usable.
func ReadMessageN(r io.Reader, pver uint32, magic [4]byte) (int, Message, []byte, error) {
	totalBytes := 0

	n, hdr, err := readMessageHeader(r)
	totalBytes += n

	if err != nil {
		return totalBytes, nil, nil, err
	}

	// Enforce maximum message payload.
	if hdr.length > MaxMessagePayload {
		str := fmt.Sprintf("message payload is too large - header indicates %d bytes, but max message payload is %d bytes.", hdr.length, MaxMessagePayload)
		return totalBytes, nil, nil, messageError("ReadMessage", str)
	}

	// Check for messages from the wrong network.
	if hdr.magic != magic {
		discardInput(r, hdr.length)

		str := fmt.Sprintf("message from other network [%x]", hdr.magic)

		return totalBytes, nil, nil, messageError("ReadMessage", str)
	}

	// Check for malformed commands.
	command := hdr.command
	if !utf8.ValidString(command) {
		discardInput(r, hdr.length)

		str := fmt.Sprintf("invalid command %v", []byte(command))

		return totalBytes, nil, nil, messageError("ReadMessage", str)
	}

	msg, err := makeEmptyMessage(command)
	if err != nil {
		discardInput(r, hdr.length)
		return totalBytes, nil, nil, err
	}

	// Check for maximum length based on the message type as a malicious client
	// could otherwise create a well-formed header and set the length to max
	// numbers in order to exhaust the machine's memory.
	mpl := msg.MaxPayloadLength(pver)
	if hdr.length > mpl {
		discardInput(r, hdr.length)

		str := fmt.Sprintf("payload exceeds max length - header indicates %v bytes, but max payload size for messages of type [%v] is %v.", hdr.length, command, mpl)

		return totalBytes, nil, nil, messageError("ReadMessage", str)
	}

	payload := make([]byte, hdr.length)

	n, err = io.ReadFull(r, payload)
	totalBytes += n

	if err != nil {
		return totalBytes, nil, nil, err
	}

	if sum := checksum(payload); sum != hdr.checksum {
		str := fmt.Sprintf("payload checksum failed - header indicates %x, but actual checksum is %x.", hdr.checksum, sum)
		return totalBytes, nil, nil, messageError("ReadMessage", str)
	}

	pr := bytes.NewBuffer(payload)
	if err = msg.Decode(pr, pver); err != nil {
		return totalBytes, nil, nil, err
	}

	return totalBytes, msg, payload, nil
}

// ReadMessage reads, validates, and parses the next message from r.
func ReadMessage(r io.Reader, pver uint32, magic [4]byte) (Message, []byte, error) {
	_, msg, buf, err := ReadMessageN(r, pver, magic)
	return msg, buf, err
}

// MessageError describes an issue with a message.  An example of some
// potential issues are messages from the wrong network, invalid commands,
// mismatched checksums, and exceeding max payloads.
type MessageError struct {
	Func        string // Function name
	Description string // Human readable description of the issue
}

func (e *MessageError) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("%v: %v", e.Func, e.Description)
	}

	return e.Description
}

func messageError(f string, desc string) *MessageError {
	return &MessageError{Func: f, Description: desc}
}

// UnknownCommandError reports a well framed message with a command this
// node does not implement.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unhandled command [%s]", e.Command)
}

// readVarString reads a variable length string bounded by maxLen, reported
// as a MessageError when longer.
func readVarString(r io.Reader, maxLen uint64, fn, field string) (string, error) {
	count, err := util.ReadCompactSize(r)
	if err != nil {
		return "", err
	}

	if count > maxLen {
		str := fmt.Sprintf("%s too long [len %d, max %d]", field, count, maxLen)
		return "", messageError(fn, str)
	}

	buf := make([]byte, count)
	if _, err = io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}
