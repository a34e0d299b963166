// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"encoding/binary"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/model"
)

// SigHashType selects the parts of a transaction a signature commits to.
type SigHashType uint32

const (
	SigHashOld          SigHashType = 0x0
	SigHashAll          SigHashType = 0x1
	SigHashNone         SigHashType = 0x2
	SigHashSingle       SigHashType = 0x3
	SigHashAnyOneCanPay SigHashType = 0x80

	sigHashMask = 0x1f
)

// CalcSignatureHash computes the legacy signature hash of input idx of tx
// for script.
func CalcSignatureHash(script []byte, hashType SigHashType, tx *model.Tx, idx int) ([]byte, error) {
	parsedScript, err := ParseScript(script)
	if err != nil {
		return nil, err
	}

	return calcSignatureHash(parsedScript, hashType, tx, idx), nil
}

// calcSignatureHash keeps the historical behaviour of hashing the value one
// for SIGHASH_SINGLE without a matching output and for an out of range input.
func calcSignatureHash(script []parsedOpcode, hashType SigHashType, tx *model.Tx, idx int) []byte {
	if idx >= len(tx.TxIn) || (hashType&sigHashMask == SigHashSingle && idx >= len(tx.TxOut)) {
		var hash chainhash.Hash
		hash[0] = 0x01

		return hash[:]
	}

	script = removeOpcode(script, OP_CODESEPARATOR)

	txCopy := tx.Copy()
	for i := range txCopy.TxIn {
		if i == idx {
			sigScript, _ := unparseScript(script)
			txCopy.TxIn[idx].SignatureScript = sigScript
		} else {
			txCopy.TxIn[i].SignatureScript = nil
		}
	}

	switch hashType & sigHashMask {
	case SigHashNone:
		txCopy.TxOut = txCopy.TxOut[0:0]

		for i := range txCopy.TxIn {
			if i != idx {
				txCopy.TxIn[i].Sequence = 0
			}
		}

	case SigHashSingle:
		txCopy.TxOut = txCopy.TxOut[:idx+1]

		for i := 0; i < idx; i++ {
			txCopy.TxOut[i].SetNull()
		}

		for i := range txCopy.TxIn {
			if i != idx {
				txCopy.TxIn[i].Sequence = 0
			}
		}

	default:
		// SigHashOld and SigHashAll, and anything unknown, sign everything
	}

	if hashType&SigHashAnyOneCanPay != 0 {
		txCopy.TxIn = txCopy.TxIn[idx : idx+1]
	}

	b := txCopy.Bytes()
	b = binary.LittleEndian.AppendUint32(b, uint32(hashType))

	return chainhash.DoubleHashB(b)
}
