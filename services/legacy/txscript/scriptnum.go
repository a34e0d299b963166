// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"fmt"
)

const (
	maxInt32 = 1<<31 - 1
	minInt32 = -1 << 31

	// defaultScriptNumLen is the default number of bytes data being
	// interpreted as an integer may be.
	defaultScriptNumLen = 4
)

// scriptNum is a stack number: little endian with a sign bit in the most
// significant byte. Results of arithmetic may overflow four bytes but such
// values are never reinterpreted as numbers.
type scriptNum int64

func checkMinimalDataEncoding(v []byte) error {
	if len(v) == 0 {
		return nil
	}

	// the most significant byte may only be zero (or 0x80) when the next
	// byte would otherwise set the sign bit
	if v[len(v)-1]&0x7f == 0 {
		if len(v) == 1 || v[len(v)-2]&0x80 == 0 {
			return scriptError(ErrMinimalData, fmt.Sprintf("numeric value encoded as %x is not minimally encoded", v))
		}
	}

	return nil
}

// Bytes returns the minimal encoding of n.
func (n scriptNum) Bytes() []byte {
	if n == 0 {
		return nil
	}

	isNegative := n < 0
	if isNegative {
		n = -n
	}

	result := make([]byte, 0, 9)
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}

	if result[len(result)-1]&0x80 != 0 {
		extraByte := byte(0x00)
		if isNegative {
			extraByte = 0x80
		}

		result = append(result, extraByte)
	} else if isNegative {
		result[len(result)-1] |= 0x80
	}

	return result
}

// Int32 clamps n to the int32 range.
func (n scriptNum) Int32() int32 {
	if n > maxInt32 {
		return maxInt32
	}

	if n < minInt32 {
		return minInt32
	}

	return int32(n)
}

// makeScriptNum interprets v as a number of at most scriptNumLen bytes.
func makeScriptNum(v []byte, requireMinimal bool, scriptNumLen int) (scriptNum, error) {
	if len(v) > scriptNumLen {
		return 0, scriptError(ErrNumberTooBig, fmt.Sprintf("numeric value encoded as %x is %d bytes which exceeds the max allowed of %d", v, len(v), scriptNumLen))
	}

	if requireMinimal {
		if err := checkMinimalDataEncoding(v); err != nil {
			return 0, err
		}
	}

	if len(v) == 0 {
		return 0, nil
	}

	var result int64
	for i, val := range v {
		result |= int64(val) << uint8(8*i)
	}

	if v[len(v)-1]&0x80 != 0 {
		result &= ^(int64(0x80) << uint8(8*(len(v)-1)))
		return scriptNum(-result), nil
	}

	return scriptNum(result), nil
}
