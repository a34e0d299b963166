// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Limits of the script engine.
const (
	MaxOpsPerScript       = 201
	MaxPubKeysPerMultiSig = 20
	MaxScriptElementSize  = 520
	MaxScriptSize         = 10000
	maxStackSize          = 1000
)

// ParseScript splits a raw script into opcodes.
func ParseScript(script []byte) ([]parsedOpcode, error) {
	return parseScriptTemplate(script, &opcodeArray)
}

func parseScriptTemplate(script []byte, opcodes *[256]opcode) ([]parsedOpcode, error) {
	retScript := make([]parsedOpcode, 0, len(script))

	for i := 0; i < len(script); {
		instr := script[i]
		op := &opcodes[instr]
		pop := parsedOpcode{opcode: op}

		switch {
		case op.length == 1:
			i++

		case op.length > 1:
			if len(script[i:]) < op.length {
				return retScript, scriptError(ErrMalformedPush, fmt.Sprintf("opcode %s requires %d bytes, but script only has %d remaining",
					op.name, op.length, len(script[i:])))
			}

			pop.data = script[i+1 : i+op.length]
			i += op.length

		case op.length < 0:
			var l uint
			off := i + 1

			if len(script[off:]) < -op.length {
				return retScript, scriptError(ErrMalformedPush, fmt.Sprintf("opcode %s requires %d bytes, but script only has %d remaining",
					op.name, -op.length, len(script[off:])))
			}

			switch op.length {
			case -1:
				l = uint(script[off])
			case -2:
				l = uint(binary.LittleEndian.Uint16(script[off:]))
			case -4:
				l = uint(binary.LittleEndian.Uint32(script[off:]))
			default:
				return retScript, scriptError(ErrMalformedPush, fmt.Sprintf("invalid opcode length %d", op.length))
			}

			off += -op.length

			if l > uint(len(script[off:])) {
				return retScript, scriptError(ErrMalformedPush, fmt.Sprintf("opcode %s pushes %d bytes, but script only has %d remaining",
					op.name, l, len(script[off:])))
			}

			pop.data = script[off : off+int(l)]
			i = off + int(l)
		}

		retScript = append(retScript, pop)
	}

	return retScript, nil
}

// unparseScript re-encodes parsed opcodes.
func unparseScript(pops []parsedOpcode) ([]byte, error) {
	script := make([]byte, 0, len(pops))

	for i := range pops {
		b, err := pops[i].bytes()
		if err != nil {
			return nil, err
		}

		script = append(script, b...)
	}

	return script, nil
}

func isPushOnly(pops []parsedOpcode) bool {
	for _, pop := range pops {
		// OP_RESERVED counts as a push
		if pop.opcode.value > OP_16 {
			return false
		}
	}

	return true
}

// IsPushOnlyScript reports whether script only pushes data. False when the
// script does not parse.
func IsPushOnlyScript(script []byte) bool {
	pops, err := ParseScript(script)
	if err != nil {
		return false
	}

	return isPushOnly(pops)
}

// CanonicalPush reports whether a push uses its minimal encoding.
func CanonicalPush(pop parsedOpcode) bool {
	op := pop.opcode.value
	data := pop.data
	dataLen := len(pop.data)

	if op > OP_16 {
		return true
	}

	if op < OP_PUSHDATA1 && op > OP_0 && (dataLen == 1 && data[0] <= 16) {
		return false
	}

	if op == OP_PUSHDATA1 && dataLen < OP_PUSHDATA1 {
		return false
	}

	if op == OP_PUSHDATA2 && dataLen <= 0xff {
		return false
	}

	if op == OP_PUSHDATA4 && dataLen <= 0xffff {
		return false
	}

	return true
}

// removeOpcode drops every occurrence of opcode.
func removeOpcode(pkscript []parsedOpcode, opcode byte) []parsedOpcode {
	retScript := make([]parsedOpcode, 0, len(pkscript))

	for _, pop := range pkscript {
		if pop.opcode.value != opcode {
			retScript = append(retScript, pop)
		}
	}

	return retScript
}

// removeOpcodeByData drops every canonical push of data.
func removeOpcodeByData(pkscript []parsedOpcode, data []byte) []parsedOpcode {
	retScript := make([]parsedOpcode, 0, len(pkscript))

	for _, pop := range pkscript {
		if !CanonicalPush(pop) || !bytes.Contains(pop.data, data) {
			retScript = append(retScript, pop)
		}
	}

	return retScript
}

// DisasmString renders a one-line disassembly. A parse failure is marked
// [error] after the opcodes that did parse.
func DisasmString(buf []byte) (string, error) {
	var disbuf strings.Builder

	opcodes, err := ParseScript(buf)
	for _, pop := range opcodes {
		disbuf.WriteString(pop.print(true))
		disbuf.WriteByte(' ')
	}

	if disbuf.Len() > 0 {
		out := disbuf.String()
		disbuf.Reset()
		disbuf.WriteString(out[:len(out)-1])
	}

	if err != nil {
		disbuf.WriteString("[error]")
	}

	return disbuf.String(), err
}

// asSmallInt returns the value of OP_0 and OP_1..OP_16.
func asSmallInt(op *opcode) int {
	if op.value == OP_0 {
		return 0
	}

	return int(op.value - (OP_1 - 1))
}

func isSmallInt(op *opcode) bool {
	return op.value == OP_0 || (op.value >= OP_1 && op.value <= OP_16)
}

// getSigOpCount counts signature operations, treating multisig as 20 unless
// precise and preceded by a small integer.
func getSigOpCount(pops []parsedOpcode, precise bool) int {
	nSigs := 0

	for i, pop := range pops {
		switch pop.opcode.value {
		case OP_CHECKSIG, OP_CHECKSIGVERIFY:
			nSigs++
		case OP_CHECKMULTISIG, OP_CHECKMULTISIGVERIFY:
			if precise && i > 0 && pops[i-1].opcode.value >= OP_1 && pops[i-1].opcode.value <= OP_16 {
				nSigs += asSmallInt(pops[i-1].opcode)
			} else {
				nSigs += MaxPubKeysPerMultiSig
			}
		}
	}

	return nSigs
}

// GetSigOpCount is the legacy, imprecise count used for block limits.
// Unparseable tails are counted up to the failure point.
func GetSigOpCount(script []byte) int {
	pops, _ := ParseScript(script)
	return getSigOpCount(pops, false)
}

// GetPreciseSigOpCount counts the signature operations of a pay-to-script-hash
// redeem script carried in scriptSig.
func GetPreciseSigOpCount(scriptSig, scriptPubKey []byte, bip16 bool) int {
	pops, _ := ParseScript(scriptPubKey)

	if !(bip16 && isScriptHash(pops)) {
		return getSigOpCount(pops, true)
	}

	sigPops, err := ParseScript(scriptSig)
	if err != nil || len(sigPops) == 0 || !isPushOnly(sigPops) {
		return 0
	}

	shScript := sigPops[len(sigPops)-1].data
	shPops, _ := ParseScript(shScript)

	return getSigOpCount(shPops, true)
}

func isScriptHash(pops []parsedOpcode) bool {
	return len(pops) == 3 &&
		pops[0].opcode.value == OP_HASH160 &&
		pops[1].opcode.value == OP_DATA_20 &&
		pops[2].opcode.value == OP_EQUAL
}

// IsPayToScriptHash reports whether script is the P2SH template.
func IsPayToScriptHash(script []byte) bool {
	return len(script) == 23 && script[0] == OP_HASH160 && script[1] == OP_DATA_20 && script[22] == OP_EQUAL
}

// IsUnspendable reports whether the output script can never be satisfied.
func IsUnspendable(pkScript []byte) bool {
	if len(pkScript) > MaxScriptSize {
		return true
	}

	pops, err := ParseScript(pkScript)
	if err != nil {
		return true
	}

	return len(pops) > 0 && pops[0].opcode.value == OP_RETURN
}
