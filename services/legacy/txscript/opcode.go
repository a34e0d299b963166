// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"fmt"
	"strings"
)

// Opcode values. Data pushes 0x01-0x4b are named OP_DATA_n.
const (
	OP_0                   = 0x00
	OP_FALSE               = 0x00
	OP_DATA_1              = 0x01
	OP_DATA_20             = 0x14
	OP_DATA_32             = 0x20
	OP_DATA_33             = 0x21
	OP_DATA_65             = 0x41
	OP_DATA_75             = 0x4b
	OP_PUSHDATA1           = 0x4c
	OP_PUSHDATA2           = 0x4d
	OP_PUSHDATA4           = 0x4e
	OP_1NEGATE             = 0x4f
	OP_RESERVED            = 0x50
	OP_1                   = 0x51
	OP_TRUE                = 0x51
	OP_2                   = 0x52
	OP_3                   = 0x53
	OP_16                  = 0x60
	OP_NOP                 = 0x61
	OP_VER                 = 0x62
	OP_IF                  = 0x63
	OP_NOTIF               = 0x64
	OP_VERIF               = 0x65
	OP_VERNOTIF            = 0x66
	OP_ELSE                = 0x67
	OP_ENDIF               = 0x68
	OP_VERIFY              = 0x69
	OP_RETURN              = 0x6a
	OP_TOALTSTACK          = 0x6b
	OP_FROMALTSTACK        = 0x6c
	OP_2DROP               = 0x6d
	OP_2DUP                = 0x6e
	OP_3DUP                = 0x6f
	OP_2OVER               = 0x70
	OP_2ROT                = 0x71
	OP_2SWAP               = 0x72
	OP_IFDUP               = 0x73
	OP_DEPTH               = 0x74
	OP_DROP                = 0x75
	OP_DUP                 = 0x76
	OP_NIP                 = 0x77
	OP_OVER                = 0x78
	OP_PICK                = 0x79
	OP_ROLL                = 0x7a
	OP_ROT                 = 0x7b
	OP_SWAP                = 0x7c
	OP_TUCK                = 0x7d
	OP_CAT                 = 0x7e
	OP_SUBSTR              = 0x7f
	OP_LEFT                = 0x80
	OP_RIGHT               = 0x81
	OP_SIZE                = 0x82
	OP_INVERT              = 0x83
	OP_AND                 = 0x84
	OP_OR                  = 0x85
	OP_XOR                 = 0x86
	OP_EQUAL               = 0x87
	OP_EQUALVERIFY         = 0x88
	OP_RESERVED1           = 0x89
	OP_RESERVED2           = 0x8a
	OP_1ADD                = 0x8b
	OP_1SUB                = 0x8c
	OP_2MUL                = 0x8d
	OP_2DIV                = 0x8e
	OP_NEGATE              = 0x8f
	OP_ABS                 = 0x90
	OP_NOT                 = 0x91
	OP_0NOTEQUAL           = 0x92
	OP_ADD                 = 0x93
	OP_SUB                 = 0x94
	OP_MUL                 = 0x95
	OP_DIV                 = 0x96
	OP_MOD                 = 0x97
	OP_LSHIFT              = 0x98
	OP_RSHIFT              = 0x99
	OP_BOOLAND             = 0x9a
	OP_BOOLOR              = 0x9b
	OP_NUMEQUAL            = 0x9c
	OP_NUMEQUALVERIFY      = 0x9d
	OP_NUMNOTEQUAL         = 0x9e
	OP_LESSTHAN            = 0x9f
	OP_GREATERTHAN         = 0xa0
	OP_LESSTHANOREQUAL     = 0xa1
	OP_GREATERTHANOREQUAL  = 0xa2
	OP_MIN                 = 0xa3
	OP_MAX                 = 0xa4
	OP_WITHIN              = 0xa5
	OP_RIPEMD160           = 0xa6
	OP_SHA1                = 0xa7
	OP_SHA256              = 0xa8
	OP_HASH160             = 0xa9
	OP_HASH256             = 0xaa
	OP_CODESEPARATOR       = 0xab
	OP_CHECKSIG            = 0xac
	OP_CHECKSIGVERIFY      = 0xad
	OP_CHECKMULTISIG       = 0xae
	OP_CHECKMULTISIGVERIFY = 0xaf
	OP_NOP1                = 0xb0
	OP_NOP2                = 0xb1
	OP_CHECKLOCKTIMEVERIFY = 0xb1
	OP_NOP3                = 0xb2
	OP_NOP10               = 0xb9
	OP_ZEROCOINMINT        = 0xc1
	OP_ZEROCOINSPEND       = 0xc2
	OP_INVALIDOPCODE       = 0xff
)

// Conditional execution states.
const (
	OpCondFalse = 0
	OpCondTrue  = 1
	OpCondSkip  = 2
)

// opcode describes one opcode. length is 1 for plain opcodes, the total
// size for fixed data pushes, and -1, -2 or -4 for the length prefix size of
// OP_PUSHDATA1/2/4.
type opcode struct {
	value  byte
	name   string
	length int
	opfunc func(*parsedOpcode, *Engine) error
}

var opcodeNames = map[byte]string{
	OP_0: "OP_0", OP_PUSHDATA1: "OP_PUSHDATA1", OP_PUSHDATA2: "OP_PUSHDATA2", OP_PUSHDATA4: "OP_PUSHDATA4",
	OP_1NEGATE: "OP_1NEGATE", OP_RESERVED: "OP_RESERVED",
	OP_NOP: "OP_NOP", OP_VER: "OP_VER", OP_IF: "OP_IF", OP_NOTIF: "OP_NOTIF", OP_VERIF: "OP_VERIF",
	OP_VERNOTIF: "OP_VERNOTIF", OP_ELSE: "OP_ELSE", OP_ENDIF: "OP_ENDIF", OP_VERIFY: "OP_VERIFY",
	OP_RETURN: "OP_RETURN", OP_TOALTSTACK: "OP_TOALTSTACK", OP_FROMALTSTACK: "OP_FROMALTSTACK",
	OP_2DROP: "OP_2DROP", OP_2DUP: "OP_2DUP", OP_3DUP: "OP_3DUP", OP_2OVER: "OP_2OVER", OP_2ROT: "OP_2ROT",
	OP_2SWAP: "OP_2SWAP", OP_IFDUP: "OP_IFDUP", OP_DEPTH: "OP_DEPTH", OP_DROP: "OP_DROP", OP_DUP: "OP_DUP",
	OP_NIP: "OP_NIP", OP_OVER: "OP_OVER", OP_PICK: "OP_PICK", OP_ROLL: "OP_ROLL", OP_ROT: "OP_ROT",
	OP_SWAP: "OP_SWAP", OP_TUCK: "OP_TUCK", OP_CAT: "OP_CAT", OP_SUBSTR: "OP_SUBSTR", OP_LEFT: "OP_LEFT",
	OP_RIGHT: "OP_RIGHT", OP_SIZE: "OP_SIZE", OP_INVERT: "OP_INVERT", OP_AND: "OP_AND", OP_OR: "OP_OR",
	OP_XOR: "OP_XOR", OP_EQUAL: "OP_EQUAL", OP_EQUALVERIFY: "OP_EQUALVERIFY", OP_RESERVED1: "OP_RESERVED1",
	OP_RESERVED2: "OP_RESERVED2", OP_1ADD: "OP_1ADD", OP_1SUB: "OP_1SUB", OP_2MUL: "OP_2MUL", OP_2DIV: "OP_2DIV",
	OP_NEGATE: "OP_NEGATE", OP_ABS: "OP_ABS", OP_NOT: "OP_NOT", OP_0NOTEQUAL: "OP_0NOTEQUAL", OP_ADD: "OP_ADD",
	OP_SUB: "OP_SUB", OP_MUL: "OP_MUL", OP_DIV: "OP_DIV", OP_MOD: "OP_MOD", OP_LSHIFT: "OP_LSHIFT",
	OP_RSHIFT: "OP_RSHIFT", OP_BOOLAND: "OP_BOOLAND", OP_BOOLOR: "OP_BOOLOR", OP_NUMEQUAL: "OP_NUMEQUAL",
	OP_NUMEQUALVERIFY: "OP_NUMEQUALVERIFY", OP_NUMNOTEQUAL: "OP_NUMNOTEQUAL", OP_LESSTHAN: "OP_LESSTHAN",
	OP_GREATERTHAN: "OP_GREATERTHAN", OP_LESSTHANOREQUAL: "OP_LESSTHANOREQUAL",
	OP_GREATERTHANOREQUAL: "OP_GREATERTHANOREQUAL", OP_MIN: "OP_MIN", OP_MAX: "OP_MAX", OP_WITHIN: "OP_WITHIN",
	OP_RIPEMD160: "OP_RIPEMD160", OP_SHA1: "OP_SHA1", OP_SHA256: "OP_SHA256", OP_HASH160: "OP_HASH160",
	OP_HASH256: "OP_HASH256", OP_CODESEPARATOR: "OP_CODESEPARATOR", OP_CHECKSIG: "OP_CHECKSIG",
	OP_CHECKSIGVERIFY: "OP_CHECKSIGVERIFY", OP_CHECKMULTISIG: "OP_CHECKMULTISIG",
	OP_CHECKMULTISIGVERIFY: "OP_CHECKMULTISIGVERIFY", OP_NOP1: "OP_NOP1", OP_CHECKLOCKTIMEVERIFY: "OP_CHECKLOCKTIMEVERIFY",
	OP_ZEROCOINMINT: "OP_ZEROCOINMINT", OP_ZEROCOINSPEND: "OP_ZEROCOINSPEND", OP_INVALIDOPCODE: "OP_INVALIDOPCODE",
}

var opcodeArray [256]opcode

func init() {
	for i := 0; i < 256; i++ {
		op := byte(i)
		oc := opcode{value: op, length: 1}

		switch {
		case op >= OP_DATA_1 && op <= OP_DATA_75:
			oc.name = fmt.Sprintf("OP_DATA_%d", op)
			oc.length = int(op) + 1
		case op >= OP_1 && op <= OP_16:
			oc.name = fmt.Sprintf("OP_%d", op-OP_1+1)
		case op >= OP_NOP3 && op <= OP_NOP10:
			oc.name = fmt.Sprintf("OP_NOP%d", op-OP_NOP1+1)
		default:
			if name, ok := opcodeNames[op]; ok {
				oc.name = name
			} else {
				oc.name = fmt.Sprintf("OP_UNKNOWN%d", op)
			}
		}

		switch op {
		case OP_PUSHDATA1:
			oc.length = -1
		case OP_PUSHDATA2:
			oc.length = -2
		case OP_PUSHDATA4:
			oc.length = -4
		}

		oc.opfunc = opfuncFor(op)
		opcodeArray[i] = oc
	}
}

// opcodeByName maps names, including the OP_TRUE and OP_FALSE aliases, to
// opcode values.
func opcodeByName(name string) (byte, bool) {
	switch strings.ToUpper(name) {
	case "OP_TRUE":
		return OP_TRUE, true
	case "OP_FALSE":
		return OP_FALSE, true
	}

	for i := range opcodeArray {
		if opcodeArray[i].name == strings.ToUpper(name) {
			return byte(i), true
		}
	}

	return 0, false
}

// isDisabled reports opcodes that fail even in unexecuted branches.
func isDisabled(op byte) bool {
	switch op {
	case OP_CAT, OP_SUBSTR, OP_LEFT, OP_RIGHT, OP_INVERT, OP_AND, OP_OR, OP_XOR,
		OP_2MUL, OP_2DIV, OP_MUL, OP_DIV, OP_MOD, OP_LSHIFT, OP_RSHIFT:
		return true
	}

	return false
}

// alwaysIllegal reports opcodes that fail even in unexecuted branches.
func alwaysIllegal(op byte) bool {
	return op == OP_VERIF || op == OP_VERNOTIF
}

func isConditional(op byte) bool {
	switch op {
	case OP_IF, OP_NOTIF, OP_ELSE, OP_ENDIF:
		return true
	}

	return false
}

// parsedOpcode is an opcode with its push data.
type parsedOpcode struct {
	opcode *opcode
	data   []byte
}

func (pop *parsedOpcode) isDisabled() bool {
	return isDisabled(pop.opcode.value)
}

// checkMinimalDataPush enforces the smallest possible push encoding.
func (pop *parsedOpcode) checkMinimalDataPush() error {
	data := pop.data
	dataLen := len(data)
	op := pop.opcode.value

	switch {
	case dataLen == 0 && op != OP_0:
		return scriptError(ErrMinimalData, fmt.Sprintf("zero length data push is encoded with opcode %s instead of OP_0", pop.opcode.name))
	case dataLen == 1 && data[0] >= 1 && data[0] <= 16:
		if op != OP_1+data[0]-1 {
			return scriptError(ErrMinimalData, fmt.Sprintf("data push of the value %d encoded with opcode %s instead of OP_%d", data[0], pop.opcode.name, data[0]))
		}
	case dataLen == 1 && data[0] == 0x81:
		if op != OP_1NEGATE {
			return scriptError(ErrMinimalData, fmt.Sprintf("data push of the value -1 encoded with opcode %s instead of OP_1NEGATE", pop.opcode.name))
		}
	case dataLen <= 75:
		if int(op) != dataLen {
			return scriptError(ErrMinimalData, fmt.Sprintf("data push of %d bytes encoded with opcode %s instead of OP_DATA_%d", dataLen, pop.opcode.name, dataLen))
		}
	case dataLen <= 255:
		if op != OP_PUSHDATA1 {
			return scriptError(ErrMinimalData, fmt.Sprintf("data push of %d bytes encoded with opcode %s instead of OP_PUSHDATA1", dataLen, pop.opcode.name))
		}
	case dataLen <= 65535:
		if op != OP_PUSHDATA2 {
			return scriptError(ErrMinimalData, fmt.Sprintf("data push of %d bytes encoded with opcode %s instead of OP_PUSHDATA2", dataLen, pop.opcode.name))
		}
	}

	return nil
}

// print renders the opcode for disassembly.
func (pop *parsedOpcode) print(oneline bool) string {
	name := pop.opcode.name

	if pop.opcode.length == 1 {
		return name
	}

	if oneline {
		return fmt.Sprintf("%x", pop.data)
	}

	return fmt.Sprintf("%s 0x%x", name, pop.data)
}

// bytes re-encodes the opcode.
func (pop *parsedOpcode) bytes() ([]byte, error) {
	var b []byte

	switch {
	case pop.opcode.length > 0:
		b = make([]byte, 1, pop.opcode.length)
	default:
		b = make([]byte, 1, 1-pop.opcode.length+len(pop.data))
	}

	b[0] = pop.opcode.value

	switch pop.opcode.length {
	case -1:
		b = append(b, byte(len(pop.data)))
	case -2:
		b = append(b, byte(len(pop.data)), byte(len(pop.data)>>8))
	case -4:
		n := len(pop.data)
		b = append(b, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	}

	b = append(b, pop.data...)

	if pop.opcode.length > 0 && len(b) != pop.opcode.length {
		return nil, scriptError(ErrInternal, fmt.Sprintf("internal consistency error - parsed opcode %s has data length %d when %d was expected",
			pop.opcode.name, len(b)-1, pop.opcode.length-1))
	}

	return b, nil
}
