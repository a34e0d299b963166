// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"encoding/binary"
	"fmt"
)

const defaultScriptAlloc = 500

// ErrScriptNotCanonical is returned when the builder would produce a
// script exceeding the size limits.
type ErrScriptNotCanonical string

func (e ErrScriptNotCanonical) Error() string {
	return string(e)
}

// ScriptBuilder assembles scripts using canonical pushes. The first error
// sticks and is returned by Script.
type ScriptBuilder struct {
	script []byte
	err    error
}

func NewScriptBuilder() *ScriptBuilder {
	return &ScriptBuilder{script: make([]byte, 0, defaultScriptAlloc)}
}

func (b *ScriptBuilder) AddOp(opcode byte) *ScriptBuilder {
	if b.err != nil {
		return b
	}

	if len(b.script)+1 > MaxScriptSize {
		b.err = ErrScriptNotCanonical(fmt.Sprintf("adding an opcode would exceed the maximum allowed canonical script length of %d", MaxScriptSize))
		return b
	}

	b.script = append(b.script, opcode)

	return b
}

func (b *ScriptBuilder) AddOps(opcodes []byte) *ScriptBuilder {
	for _, op := range opcodes {
		b.AddOp(op)
	}

	return b
}

// canonicalDataSize is the encoded size of a canonical push of data.
func canonicalDataSize(data []byte) int {
	dataLen := len(data)

	if dataLen == 0 || (dataLen == 1 && data[0] <= 16) || (dataLen == 1 && data[0] == 0x81) {
		return 1
	}

	switch {
	case dataLen < OP_PUSHDATA1:
		return 1 + dataLen
	case dataLen <= 0xff:
		return 2 + dataLen
	case dataLen <= 0xffff:
		return 3 + dataLen
	}

	return 5 + dataLen
}

func (b *ScriptBuilder) addData(data []byte) *ScriptBuilder {
	dataLen := len(data)

	if dataLen == 0 || (dataLen == 1 && data[0] == 0) {
		b.script = append(b.script, OP_0)
		return b
	} else if dataLen == 1 && data[0] <= 16 {
		b.script = append(b.script, (OP_1-1)+data[0])
		return b
	} else if dataLen == 1 && data[0] == 0x81 {
		b.script = append(b.script, OP_1NEGATE)
		return b
	}

	switch {
	case dataLen < OP_PUSHDATA1:
		b.script = append(b.script, byte(OP_DATA_1-1+dataLen))
	case dataLen <= 0xff:
		b.script = append(b.script, OP_PUSHDATA1, byte(dataLen))
	case dataLen <= 0xffff:
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(dataLen))
		b.script = append(b.script, OP_PUSHDATA2)
		b.script = append(b.script, buf...)
	default:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(dataLen))
		b.script = append(b.script, OP_PUSHDATA4)
		b.script = append(b.script, buf...)
	}

	b.script = append(b.script, data...)

	return b
}

// AddData pushes data with the smallest possible opcode.
func (b *ScriptBuilder) AddData(data []byte) *ScriptBuilder {
	if b.err != nil {
		return b
	}

	if dataSize := canonicalDataSize(data); len(b.script)+dataSize > MaxScriptSize {
		b.err = ErrScriptNotCanonical(fmt.Sprintf("adding %d bytes of data would exceed the maximum allowed canonical script length of %d", dataSize, MaxScriptSize))
		return b
	}

	if dataLen := len(data); dataLen > MaxScriptElementSize {
		b.err = ErrScriptNotCanonical(fmt.Sprintf("adding a data element of %d bytes would exceed the maximum allowed script element size of %d", dataLen, MaxScriptElementSize))
		return b
	}

	return b.addData(data)
}

// AddFullData pushes data without the element size limit. Used for the
// zerocoin payloads, which are larger than any executable element.
func (b *ScriptBuilder) AddFullData(data []byte) *ScriptBuilder {
	if b.err != nil {
		return b
	}

	return b.addData(data)
}

func (b *ScriptBuilder) AddInt64(val int64) *ScriptBuilder {
	if b.err != nil {
		return b
	}

	if len(b.script)+1 > MaxScriptSize {
		b.err = ErrScriptNotCanonical(fmt.Sprintf("adding an integer would exceed the maximum allow canonical script length of %d", MaxScriptSize))
		return b
	}

	if val == 0 {
		b.script = append(b.script, OP_0)
		return b
	}

	if val == -1 || (val >= 1 && val <= 16) {
		b.script = append(b.script, byte((OP_1-1)+val))
		return b
	}

	return b.AddData(scriptNum(val).Bytes())
}

func (b *ScriptBuilder) Reset() *ScriptBuilder {
	b.script = b.script[0:0]
	b.err = nil

	return b
}

func (b *ScriptBuilder) Script() ([]byte, error) {
	return b.script, b.err
}
