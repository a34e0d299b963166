package model

import (
	"encoding/binary"

	"github.com/tessacoin/tessanode/errors"
)

const (
	OpZerocoinMint  byte = 0xc1
	OpZerocoinSpend byte = 0xc2
)

const (
	opPushData1 = 0x4c
	opPushData2 = 0x4d
	opPushData4 = 0x4e
)

// NewZerocoinMintScript builds the output script that burns the output value
// into the zerocoin commitment pubcoin.
func NewZerocoinMintScript(pubcoin []byte) []byte {
	script := make([]byte, 0, len(pubcoin)+6)
	script = append(script, OpZerocoinMint)

	return appendPush(script, pubcoin)
}

// ZerocoinMintValue extracts the serialized pubcoin from a mint script.
func ZerocoinMintValue(script []byte) ([]byte, error) {
	if len(script) < 2 || script[0] != OpZerocoinMint {
		return nil, errors.NewTxInvalidError("not a zerocoin mint script")
	}

	data, rest, err := readPush(script[1:])
	if err != nil {
		return nil, err
	}

	if len(rest) != 0 {
		return nil, errors.NewTxInvalidError("trailing data after zerocoin mint value")
	}

	return data, nil
}

// NewZerocoinSpendScript builds the signature script carrying a serialized
// spend proof.
func NewZerocoinSpendScript(spend []byte) []byte {
	script := make([]byte, 0, len(spend)+6)
	script = append(script, OpZerocoinSpend)

	return appendPush(script, spend)
}

// ZerocoinSpendData extracts the serialized spend proof from a signature
// script.
func ZerocoinSpendData(script []byte) ([]byte, error) {
	if len(script) < 2 || script[0] != OpZerocoinSpend {
		return nil, errors.NewTxInvalidError("not a zerocoin spend script")
	}

	data, rest, err := readPush(script[1:])
	if err != nil {
		return nil, err
	}

	if len(rest) != 0 {
		return nil, errors.NewTxInvalidError("trailing data after zerocoin spend")
	}

	return data, nil
}

func appendPush(script []byte, data []byte) []byte {
	switch n := len(data); {
	case n < opPushData1:
		script = append(script, byte(n))
	case n <= 0xff:
		script = append(script, opPushData1, byte(n))
	case n <= 0xffff:
		script = append(script, opPushData2, byte(n), byte(n>>8))
	default:
		script = append(script, opPushData4)
		script = binary.LittleEndian.AppendUint32(script, uint32(n))
	}

	return append(script, data...)
}

func readPush(script []byte) ([]byte, []byte, error) {
	if len(script) == 0 {
		return nil, nil, errors.NewTxInvalidError("missing push")
	}

	var (
		n      int
		header int
	)

	switch op := script[0]; {
	case op < opPushData1:
		n, header = int(op), 1
	case op == opPushData1 && len(script) >= 2:
		n, header = int(script[1]), 2
	case op == opPushData2 && len(script) >= 3:
		n, header = int(binary.LittleEndian.Uint16(script[1:3])), 3
	case op == opPushData4 && len(script) >= 5:
		n, header = int(binary.LittleEndian.Uint32(script[1:5])), 5
	default:
		return nil, nil, errors.NewTxInvalidError("malformed push")
	}

	if n < 0 || len(script)-header < n {
		return nil, nil, errors.NewTxInvalidError("push exceeds script length")
	}

	return script[header : header+n], script[header+n:], nil
}
