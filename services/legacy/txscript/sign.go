// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"github.com/libsv/go-bk/bec"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
)

// KeyDB looks up private keys by the hash160 of their public key.
type KeyDB interface {
	GetKey(keyHash [20]byte) (key *bec.PrivateKey, compressed bool, err error)
}

// ScriptDB looks up redeem scripts by their hash160.
type ScriptDB interface {
	GetScript(scriptHash [20]byte) ([]byte, error)
}

// KeyClosure adapts a function to KeyDB.
type KeyClosure func([20]byte) (*bec.PrivateKey, bool, error)

func (kc KeyClosure) GetKey(keyHash [20]byte) (*bec.PrivateKey, bool, error) {
	return kc(keyHash)
}

// ScriptClosure adapts a function to ScriptDB.
type ScriptClosure func([20]byte) ([]byte, error)

func (sc ScriptClosure) GetScript(scriptHash [20]byte) ([]byte, error) {
	return sc(scriptHash)
}

// RawTxInSignature signs input idx against subScript and appends the hash
// type byte.
func RawTxInSignature(tx *model.Tx, idx int, subScript []byte, hashType SigHashType, key *bec.PrivateKey) ([]byte, error) {
	hash, err := CalcSignatureHash(subScript, hashType, tx, idx)
	if err != nil {
		return nil, err
	}

	signature, err := key.Sign(hash)
	if err != nil {
		return nil, errors.NewProcessingError("cannot sign tx input", err)
	}

	return append(signature.Serialise(), byte(hashType)), nil
}

func serializePubKey(key *bec.PrivateKey, compress bool) []byte {
	if compress {
		return key.PubKey().SerialiseCompressed()
	}

	return key.PubKey().SerialiseUncompressed()
}

// SignatureScript returns the signature script of a pay-to-pubkey-hash
// spend.
func SignatureScript(tx *model.Tx, idx int, subscript []byte, hashType SigHashType, key *bec.PrivateKey, compress bool) ([]byte, error) {
	sig, err := RawTxInSignature(tx, idx, subscript, hashType, key)
	if err != nil {
		return nil, err
	}

	return NewScriptBuilder().AddData(sig).AddData(serializePubKey(key, compress)).Script()
}

func p2pkSignatureScript(tx *model.Tx, idx int, subScript []byte, hashType SigHashType, key *bec.PrivateKey) ([]byte, error) {
	sig, err := RawTxInSignature(tx, idx, subScript, hashType, key)
	if err != nil {
		return nil, err
	}

	return NewScriptBuilder().AddData(sig).Script()
}

func signMultiSig(tx *model.Tx, idx int, subScript []byte, hashType SigHashType, pubKeys [][]byte, nRequired int, kdb KeyDB) ([]byte, bool) {
	builder := NewScriptBuilder().AddOp(OP_FALSE)
	signed := 0

	for _, pubKey := range pubKeys {
		key, _, err := kdb.GetKey(NewKeyDestination(pubKey).Hash)
		if err != nil || key == nil {
			continue
		}

		sig, err := RawTxInSignature(tx, idx, subScript, hashType, key)
		if err != nil {
			continue
		}

		builder.AddData(sig)
		signed++

		if signed == nRequired {
			break
		}
	}

	script, _ := builder.Script()

	return script, signed == nRequired
}

func sign(tx *model.Tx, idx int, subScript []byte, hashType SigHashType, kdb KeyDB, sdb ScriptDB) ([]byte, ScriptClass, error) {
	dest, class := ExtractDestination(subScript)

	switch class {
	case PubKeyTy:
		key, _, err := kdb.GetKey(dest.Hash)
		if err != nil {
			return nil, class, err
		}

		script, err := p2pkSignatureScript(tx, idx, subScript, hashType, key)

		return script, class, err

	case PubKeyHashTy:
		key, compressed, err := kdb.GetKey(dest.Hash)
		if err != nil {
			return nil, class, err
		}

		script, err := SignatureScript(tx, idx, subScript, hashType, key, compressed)

		return script, class, err

	case ScriptHashTy:
		script, err := sdb.GetScript(dest.Hash)

		return script, class, err

	case MultiSigTy:
		nRequired, pubKeys, err := ExtractMultiSig(subScript)
		if err != nil {
			return nil, class, err
		}

		script, complete := signMultiSig(tx, idx, subScript, hashType, pubKeys, nRequired, kdb)
		if !complete {
			return nil, class, errors.NewProcessingError("not enough keys to sign multisig input %d", idx)
		}

		return script, class, nil
	}

	return nil, class, errors.NewProcessingError("cannot sign input %d: %s output", idx, class)
}

// SignTxOutput produces the signature script of input idx spending
// pkScript, looking keys and redeem scripts up in kdb and sdb.
func SignTxOutput(tx *model.Tx, idx int, pkScript []byte, hashType SigHashType, kdb KeyDB, sdb ScriptDB) ([]byte, error) {
	sigScript, class, err := sign(tx, idx, pkScript, hashType, kdb, sdb)
	if err != nil {
		return nil, err
	}

	if class != ScriptHashTy {
		return sigScript, nil
	}

	redeemScript := sigScript

	realSigScript, _, err := sign(tx, idx, redeemScript, hashType, kdb, sdb)
	if err != nil {
		return nil, err
	}

	builder := NewScriptBuilder()
	builder.script = append(builder.script, realSigScript...)
	builder.AddData(redeemScript)

	return builder.Script()
}
