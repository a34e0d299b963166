// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"github.com/libsv/go-bk/crypto"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
)

// MaxDataCarrierSize is the largest standard OP_RETURN payload.
const MaxDataCarrierSize = 80

// ScriptClass is the recognised template of an output script.
type ScriptClass byte

const (
	NonStandardTy ScriptClass = iota
	PubKeyTy
	PubKeyHashTy
	ScriptHashTy
	MultiSigTy
	NullDataTy
	ZerocoinMintTy
)

var scriptClassToName = []string{
	NonStandardTy:  "nonstandard",
	PubKeyTy:       "pubkey",
	PubKeyHashTy:   "pubkeyhash",
	ScriptHashTy:   "scripthash",
	MultiSigTy:     "multisig",
	NullDataTy:     "nulldata",
	ZerocoinMintTy: "zerocoinmint",
}

func (t ScriptClass) String() string {
	if int(t) >= len(scriptClassToName) {
		return "Invalid"
	}

	return scriptClassToName[t]
}

func isPubkey(pops []parsedOpcode) bool {
	return len(pops) == 2 &&
		(len(pops[0].data) == 33 || len(pops[0].data) == 65) &&
		pops[1].opcode.value == OP_CHECKSIG
}

func isPubkeyHash(pops []parsedOpcode) bool {
	return len(pops) == 5 &&
		pops[0].opcode.value == OP_DUP &&
		pops[1].opcode.value == OP_HASH160 &&
		pops[2].opcode.value == OP_DATA_20 &&
		pops[3].opcode.value == OP_EQUALVERIFY &&
		pops[4].opcode.value == OP_CHECKSIG
}

func isMultiSig(pops []parsedOpcode) bool {
	l := len(pops)
	if l < 4 {
		return false
	}

	if !isSmallInt(pops[0].opcode) || !isSmallInt(pops[l-2].opcode) {
		return false
	}

	if pops[l-1].opcode.value != OP_CHECKMULTISIG {
		return false
	}

	if l-2-1 != asSmallInt(pops[l-2].opcode) {
		return false
	}

	for _, pop := range pops[1 : l-2] {
		if len(pop.data) != 33 && len(pop.data) != 65 {
			return false
		}
	}

	return true
}

func isNullData(pops []parsedOpcode) bool {
	l := len(pops)
	if l == 1 && pops[0].opcode.value == OP_RETURN {
		return true
	}

	return l == 2 &&
		pops[0].opcode.value == OP_RETURN &&
		(isSmallInt(pops[1].opcode) || pops[1].opcode.value <= OP_PUSHDATA4) &&
		len(pops[1].data) <= MaxDataCarrierSize
}

func typeOfScript(pops []parsedOpcode) ScriptClass {
	switch {
	case isPubkey(pops):
		return PubKeyTy
	case isPubkeyHash(pops):
		return PubKeyHashTy
	case isScriptHash(pops):
		return ScriptHashTy
	case isMultiSig(pops):
		return MultiSigTy
	case isNullData(pops):
		return NullDataTy
	}

	return NonStandardTy
}

// GetScriptClass classifies an output script.
func GetScriptClass(script []byte) ScriptClass {
	if len(script) > 0 && script[0] == OP_ZEROCOINMINT {
		return ZerocoinMintTy
	}

	pops, err := ParseScript(script)
	if err != nil {
		return NonStandardTy
	}

	return typeOfScript(pops)
}

// expectedInputs is the number of signature script items a standard
// spend of the class pushes, -1 when unknown.
func expectedInputs(pops []parsedOpcode, class ScriptClass) int {
	switch class {
	case PubKeyTy:
		return 1
	case PubKeyHashTy:
		return 2
	case ScriptHashTy:
		return 1
	case MultiSigTy:
		return asSmallInt(pops[0].opcode) + 1
	}

	return -1
}

// ScriptInfo summarises a signature script and the output script it spends.
type ScriptInfo struct {
	PkScriptClass  ScriptClass
	NumInputs      int
	ExpectedInputs int
	SigOps         int
}

// CalcScriptInfo reports the inputs a spend provides against those the
// output template expects, following a pay-to-script-hash redeem script.
func CalcScriptInfo(sigScript, pkScript []byte, bip16 bool) (*ScriptInfo, error) {
	sigPops, err := ParseScript(sigScript)
	if err != nil {
		return nil, err
	}

	pkPops, err := ParseScript(pkScript)
	if err != nil {
		return nil, err
	}

	si := new(ScriptInfo)
	si.PkScriptClass = typeOfScript(pkPops)

	if !isPushOnly(sigPops) {
		return nil, scriptError(ErrNotPushOnly, "signature script is not push only")
	}

	si.ExpectedInputs = expectedInputs(pkPops, si.PkScriptClass)

	if si.PkScriptClass == ScriptHashTy && bip16 && len(sigPops) > 0 {
		script := sigPops[len(sigPops)-1].data

		shPops, err := ParseScript(script)
		if err != nil {
			return nil, err
		}

		shInputs := expectedInputs(shPops, typeOfScript(shPops))
		if shInputs == -1 {
			si.ExpectedInputs = -1
		} else {
			si.ExpectedInputs += shInputs
		}

		si.SigOps = getSigOpCount(shPops, true)
	} else {
		si.SigOps = getSigOpCount(pkPops, true)
	}

	si.NumInputs = len(sigPops)

	return si, nil
}

// DestinationKind tags a Destination.
type DestinationKind byte

const (
	DestNone DestinationKind = iota
	DestPubKeyHash
	DestScriptHash
)

// Destination is where an output pays: a key hash, a script hash, or
// nothing recognisable.
type Destination struct {
	Kind DestinationKind
	Hash [20]byte
}

func (d Destination) IsValid() bool {
	return d.Kind != DestNone
}

// NewKeyDestination returns the key-hash destination of a serialised
// public key.
func NewKeyDestination(pubKey []byte) Destination {
	d := Destination{Kind: DestPubKeyHash}
	copy(d.Hash[:], crypto.Hash160(pubKey))

	return d
}

// NewScriptDestination returns the script-hash destination of a redeem
// script.
func NewScriptDestination(redeemScript []byte) Destination {
	d := Destination{Kind: DestScriptHash}
	copy(d.Hash[:], crypto.Hash160(redeemScript))

	return d
}

// Encode renders the destination as a base58check address.
func (d Destination) Encode(params *chaincfg.Params) string {
	switch d.Kind {
	case DestPubKeyHash:
		return model.EncodeBase58Check([]byte{params.PubKeyHashAddrID}, d.Hash[:])
	case DestScriptHash:
		return model.EncodeBase58Check([]byte{params.ScriptHashAddrID}, d.Hash[:])
	}

	return ""
}

// DecodeDestination parses a base58check address of the given network.
func DecodeDestination(addr string, params *chaincfg.Params) (Destination, error) {
	for _, kind := range []DestinationKind{DestPubKeyHash, DestScriptHash} {
		version := params.PubKeyHashAddrID
		if kind == DestScriptHash {
			version = params.ScriptHashAddrID
		}

		payload, err := model.DecodeBase58Check(addr, []byte{version})
		if err != nil || len(payload) != 20 {
			continue
		}

		d := Destination{Kind: kind}
		copy(d.Hash[:], payload)

		return d, nil
	}

	return Destination{}, errors.NewInvalidArgumentError("invalid %s address %q", params.Name, addr)
}

// Script returns the output script paying to the destination.
func (d Destination) Script() ([]byte, error) {
	switch d.Kind {
	case DestPubKeyHash:
		return PayToPubKeyHashScript(d.Hash[:])
	case DestScriptHash:
		return PayToScriptHashScript(d.Hash[:])
	}

	return nil, scriptError(ErrUnsupportedAddress, "unsupported destination kind")
}

// ExtractDestination returns the single destination of a pay-to-pubkey,
// pay-to-pubkey-hash or pay-to-script-hash script.
func ExtractDestination(pkScript []byte) (Destination, ScriptClass) {
	pops, err := ParseScript(pkScript)
	if err != nil {
		return Destination{}, NonStandardTy
	}

	class := typeOfScript(pops)

	switch class {
	case PubKeyTy:
		return NewKeyDestination(pops[0].data), class
	case PubKeyHashTy:
		d := Destination{Kind: DestPubKeyHash}
		copy(d.Hash[:], pops[2].data)

		return d, class
	case ScriptHashTy:
		d := Destination{Kind: DestScriptHash}
		copy(d.Hash[:], pops[1].data)

		return d, class
	}

	return Destination{}, class
}

// ExtractMultiSig returns the required signature count and the public keys
// of a multisig script.
func ExtractMultiSig(pkScript []byte) (int, [][]byte, error) {
	pops, err := ParseScript(pkScript)
	if err != nil {
		return 0, nil, err
	}

	if !isMultiSig(pops) {
		return 0, nil, scriptError(ErrNotMultisigScript, "script is not a multisig script")
	}

	keys := make([][]byte, 0, len(pops)-3)
	for _, pop := range pops[1 : len(pops)-2] {
		keys = append(keys, pop.data)
	}

	return asSmallInt(pops[0].opcode), keys, nil
}

// ExtractPubKey returns the key of a pay-to-pubkey script.
func ExtractPubKey(pkScript []byte) ([]byte, bool) {
	pops, err := ParseScript(pkScript)
	if err != nil || !isPubkey(pops) {
		return nil, false
	}

	return pops[0].data, true
}

func PayToPubKeyHashScript(pubKeyHash []byte) ([]byte, error) {
	return NewScriptBuilder().AddOp(OP_DUP).AddOp(OP_HASH160).
		AddData(pubKeyHash).AddOp(OP_EQUALVERIFY).AddOp(OP_CHECKSIG).
		Script()
}

func PayToScriptHashScript(scriptHash []byte) ([]byte, error) {
	return NewScriptBuilder().AddOp(OP_HASH160).AddData(scriptHash).
		AddOp(OP_EQUAL).Script()
}

func PayToPubKeyScript(serializedPubKey []byte) ([]byte, error) {
	return NewScriptBuilder().AddData(serializedPubKey).
		AddOp(OP_CHECKSIG).Script()
}

func NullDataScript(data []byte) ([]byte, error) {
	if len(data) > MaxDataCarrierSize {
		return nil, scriptError(ErrElementTooBig, "data size exceeds the standard carrier size")
	}

	return NewScriptBuilder().AddOp(OP_RETURN).AddData(data).Script()
}

// MultiSigScript returns an nrequired-of-len(pubkeys) multisig script.
func MultiSigScript(pubkeys [][]byte, nrequired int) ([]byte, error) {
	if len(pubkeys) < nrequired {
		return nil, scriptError(ErrTooManyRequiredSigs, "unable to generate multisig script with more required signatures than pubkeys")
	}

	builder := NewScriptBuilder().AddInt64(int64(nrequired))
	for _, key := range pubkeys {
		builder.AddData(key)
	}

	builder.AddInt64(int64(len(pubkeys)))
	builder.AddOp(OP_CHECKMULTISIG)

	return builder.Script()
}

// PushedData returns every data push in script.
func PushedData(script []byte) ([][]byte, error) {
	pops, err := ParseScript(script)
	if err != nil {
		return nil, err
	}

	var data [][]byte

	for _, pop := range pops {
		if pop.data != nil {
			data = append(data, pop.data)
		} else if pop.opcode.value == OP_0 {
			data = append(data, nil)
		}
	}

	return data, nil
}
