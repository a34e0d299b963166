// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"fmt"
	"math/big"

	"github.com/libsv/go-bk/bec"
	"github.com/tessacoin/tessanode/model"
)

// ScriptFlags select optional verification rules.
type ScriptFlags uint32

const (
	// ScriptBip16 evaluates pay-to-script-hash redeem scripts.
	ScriptBip16 ScriptFlags = 1 << iota

	// ScriptVerifyStrictEncoding requires strict signature and public key
	// encodings and defined hash types.
	ScriptVerifyStrictEncoding

	// ScriptVerifyDERSignatures requires strict DER signatures.
	ScriptVerifyDERSignatures

	// ScriptVerifyLowS requires S <= order/2.
	ScriptVerifyLowS

	// ScriptVerifySigPushOnly requires push-only signature scripts.
	ScriptVerifySigPushOnly

	// ScriptVerifyMinimalData requires minimal pushes and numbers.
	ScriptVerifyMinimalData

	// ScriptStrictMultiSig requires the extra multisig stack item to be
	// empty.
	ScriptStrictMultiSig

	// ScriptDiscourageUpgradableNops fails on the reserved NOPs.
	ScriptDiscourageUpgradableNops

	// ScriptVerifyCleanStack requires exactly one stack item after
	// evaluation.
	ScriptVerifyCleanStack

	// ScriptVerifyCheckLockTimeVerify enables OP_CHECKLOCKTIMEVERIFY.
	ScriptVerifyCheckLockTimeVerify
)

const (
	// MandatoryVerifyFlags are enforced in blocks.
	MandatoryVerifyFlags = ScriptBip16

	// StandardVerifyFlags are enforced on relay and in the mempool.
	StandardVerifyFlags = MandatoryVerifyFlags |
		ScriptVerifyDERSignatures |
		ScriptVerifyStrictEncoding |
		ScriptVerifyMinimalData |
		ScriptStrictMultiSig |
		ScriptDiscourageUpgradableNops |
		ScriptVerifyCleanStack |
		ScriptVerifyCheckLockTimeVerify |
		ScriptVerifyLowS
)

// halfOrder is used to tame ECDSA malleability.
var halfOrder = new(big.Int).Rsh(bec.S256().N, 1)

// Engine executes the signature script and public key script of one input.
type Engine struct {
	scripts         [][]parsedOpcode
	scriptIdx       int
	scriptOff       int
	lastCodeSep     int
	dstack          stack
	astack          stack
	tx              *model.Tx
	txIdx           int
	condStack       []int
	numOps          int
	flags           ScriptFlags
	bip16           bool
	savedFirstStack [][]byte
}

func (vm *Engine) hasFlag(flag ScriptFlags) bool {
	return vm.flags&flag == flag
}

func (vm *Engine) isBranchExecuting() bool {
	if len(vm.condStack) == 0 {
		return true
	}

	return vm.condStack[len(vm.condStack)-1] == OpCondTrue
}

func (vm *Engine) executeOpcode(pop *parsedOpcode) error {
	if pop.isDisabled() {
		return scriptError(ErrDisabledOpcode, fmt.Sprintf("attempt to execute disabled opcode %s", pop.opcode.name))
	}

	if alwaysIllegal(pop.opcode.value) {
		return scriptError(ErrReservedOpcode, fmt.Sprintf("attempt to execute reserved opcode %s", pop.opcode.name))
	}

	if pop.opcode.value > OP_16 {
		vm.numOps++
		if vm.numOps > MaxOpsPerScript {
			return scriptError(ErrTooManyOperations, fmt.Sprintf("exceeded max operation limit of %d", MaxOpsPerScript))
		}
	} else if len(pop.data) > MaxScriptElementSize {
		return scriptError(ErrElementTooBig, fmt.Sprintf("element size %d exceeds max allowed size %d", len(pop.data), MaxScriptElementSize))
	}

	if !vm.isBranchExecuting() && !isConditional(pop.opcode.value) {
		return nil
	}

	if vm.dstack.verifyMinimalData && vm.isBranchExecuting() && pop.opcode.value <= OP_PUSHDATA4 {
		if err := pop.checkMinimalDataPush(); err != nil {
			return err
		}
	}

	return pop.opcode.opfunc(pop, vm)
}

func (vm *Engine) validPC() error {
	if vm.scriptIdx >= len(vm.scripts) {
		return scriptError(ErrInvalidProgramCounter, fmt.Sprintf("past input scripts %v:%v %v:xxxx", vm.scriptIdx, vm.scriptOff, len(vm.scripts)))
	}

	if vm.scriptOff >= len(vm.scripts[vm.scriptIdx]) {
		return scriptError(ErrInvalidProgramCounter, fmt.Sprintf("past input scripts %v:%v %v:%04d", vm.scriptIdx, vm.scriptOff, vm.scriptIdx, len(vm.scripts[vm.scriptIdx])))
	}

	return nil
}

// subScript is the executing script from the last OP_CODESEPARATOR.
func (vm *Engine) subScript() []parsedOpcode {
	return vm.scripts[vm.scriptIdx][vm.lastCodeSep:]
}

// CheckErrorCondition checks the final state after all scripts ran.
func (vm *Engine) CheckErrorCondition(finalScript bool) error {
	if vm.scriptIdx < len(vm.scripts) {
		return scriptError(ErrScriptUnfinished, "error check when script unfinished")
	}

	if finalScript && vm.hasFlag(ScriptVerifyCleanStack) && vm.dstack.Depth() != 1 {
		return scriptError(ErrCleanStack, fmt.Sprintf("stack contains %d unexpected items", vm.dstack.Depth()-1))
	} else if vm.dstack.Depth() < 1 {
		return scriptError(ErrEmptyStack, "stack empty at end of script execution")
	}

	v, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}

	if !v {
		return scriptError(ErrEvalFalse, "false stack entry at end of script execution")
	}

	return nil
}

// Step executes the next opcode and reports whether the last script ended.
func (vm *Engine) Step() (bool, error) {
	if err := vm.validPC(); err != nil {
		return true, err
	}

	opcode := &vm.scripts[vm.scriptIdx][vm.scriptOff]
	vm.scriptOff++

	if err := vm.executeOpcode(opcode); err != nil {
		return true, err
	}

	if combined := vm.dstack.Depth() + vm.astack.Depth(); combined > maxStackSize {
		return false, scriptError(ErrStackOverflow, fmt.Sprintf("combined stack size %d > max allowed %d", combined, maxStackSize))
	}

	if vm.scriptOff < len(vm.scripts[vm.scriptIdx]) {
		return false, nil
	}

	if len(vm.condStack) != 0 {
		return false, scriptError(ErrUnbalancedConditional, "end of script reached in conditional execution")
	}

	vm.astack.stk = nil
	vm.numOps = 0
	vm.scriptOff = 0

	switch {
	case vm.scriptIdx == 0 && vm.bip16:
		vm.scriptIdx++
		vm.savedFirstStack = vm.GetStack()

	case vm.scriptIdx == 1 && vm.bip16:
		vm.scriptIdx++

		if err := vm.CheckErrorCondition(false); err != nil {
			return false, err
		}

		script := vm.savedFirstStack[len(vm.savedFirstStack)-1]

		pops, err := ParseScript(script)
		if err != nil {
			return false, err
		}

		vm.scripts = append(vm.scripts, pops)
		vm.SetStack(vm.savedFirstStack[:len(vm.savedFirstStack)-1])

	default:
		vm.scriptIdx++
	}

	if vm.scriptIdx < len(vm.scripts) && vm.scriptOff >= len(vm.scripts[vm.scriptIdx]) {
		vm.scriptIdx++
	}

	vm.lastCodeSep = 0

	return vm.scriptIdx >= len(vm.scripts), nil
}

// Execute runs all scripts to completion.
func (vm *Engine) Execute() error {
	done := false

	for !done {
		var err error

		if done, err = vm.Step(); err != nil {
			return err
		}
	}

	return vm.CheckErrorCondition(true)
}

// GetStack returns a copy of the data stack, bottom first.
func (vm *Engine) GetStack() [][]byte {
	return append([][]byte(nil), vm.dstack.stk...)
}

func (vm *Engine) SetStack(data [][]byte) {
	vm.dstack.stk = append([][]byte(nil), data...)
}

// NewEngine prepares execution of scriptPubKey against input txIdx of tx.
func NewEngine(scriptPubKey []byte, tx *model.Tx, txIdx int, flags ScriptFlags) (*Engine, error) {
	if txIdx < 0 || txIdx >= len(tx.TxIn) {
		return nil, scriptError(ErrInvalidIndex, fmt.Sprintf("transaction input index %d is negative or >= %d", txIdx, len(tx.TxIn)))
	}

	scriptSig := tx.TxIn[txIdx].SignatureScript

	if len(scriptSig) == 0 && len(scriptPubKey) == 0 {
		return nil, scriptError(ErrEvalFalse, "false stack entry at end of script execution")
	}

	vm := Engine{flags: flags, tx: tx, txIdx: txIdx}

	if vm.hasFlag(ScriptVerifyCleanStack) && !vm.hasFlag(ScriptBip16) {
		return nil, scriptError(ErrInvalidFlags, "invalid flags combination")
	}

	if vm.hasFlag(ScriptVerifySigPushOnly) && !IsPushOnlyScript(scriptSig) {
		return nil, scriptError(ErrNotPushOnly, "signature script is not push only")
	}

	scripts := [][]byte{scriptSig, scriptPubKey}
	vm.scripts = make([][]parsedOpcode, len(scripts))

	for i, scr := range scripts {
		if len(scr) > MaxScriptSize {
			return nil, scriptError(ErrScriptTooBig, fmt.Sprintf("script size %d is larger than max allowed size %d", len(scr), MaxScriptSize))
		}

		var err error
		if vm.scripts[i], err = ParseScript(scr); err != nil {
			return nil, err
		}
	}

	if len(scriptSig) == 0 {
		vm.scriptIdx++
	}

	if vm.hasFlag(ScriptBip16) && isScriptHash(vm.scripts[1]) {
		if !isPushOnly(vm.scripts[0]) {
			return nil, scriptError(ErrNotPushOnly, "pay to script hash is not push only")
		}

		vm.bip16 = true
	}

	if vm.hasFlag(ScriptVerifyMinimalData) {
		vm.dstack.verifyMinimalData = true
		vm.astack.verifyMinimalData = true
	}

	return &vm, nil
}

// VerifyScript evaluates input txIdx of tx against the output script it
// spends.
func VerifyScript(scriptPubKey []byte, tx *model.Tx, txIdx int, flags ScriptFlags) error {
	vm, err := NewEngine(scriptPubKey, tx, txIdx, flags)
	if err != nil {
		return err
	}

	return vm.Execute()
}

func (vm *Engine) checkHashTypeEncoding(hashType SigHashType) error {
	if !vm.hasFlag(ScriptVerifyStrictEncoding) {
		return nil
	}

	sigHashType := hashType & ^SigHashAnyOneCanPay
	if sigHashType < SigHashAll || sigHashType > SigHashSingle {
		return scriptError(ErrInvalidSigHashType, fmt.Sprintf("invalid hash type 0x%x", hashType))
	}

	return nil
}

func (vm *Engine) checkPubKeyEncoding(pubKey []byte) error {
	if !vm.hasFlag(ScriptVerifyStrictEncoding) {
		return nil
	}

	if len(pubKey) == 33 && (pubKey[0] == 0x02 || pubKey[0] == 0x03) {
		return nil
	}

	if len(pubKey) == 65 && pubKey[0] == 0x04 {
		return nil
	}

	return scriptError(ErrPubKeyType, "unsupported public key type")
}

// checkSignatureEncoding enforces strict DER with the low S rule when the
// flags ask for it.
func (vm *Engine) checkSignatureEncoding(sig []byte) error {
	if !vm.hasFlag(ScriptVerifyDERSignatures) && !vm.hasFlag(ScriptVerifyLowS) && !vm.hasFlag(ScriptVerifyStrictEncoding) {
		return nil
	}

	const (
		asn1SequenceID = 0x30
		asn1IntegerID  = 0x02
		minSigLen      = 8
		maxSigLen      = 72
		sequenceOffset = 0
		dataLenOffset  = 1
		rTypeOffset    = 2
		rLenOffset     = 3
		rOffset        = 4
	)

	sigLen := len(sig)
	if sigLen < minSigLen {
		return scriptError(ErrSigTooShort, fmt.Sprintf("malformed signature: too short: %d < %d", sigLen, minSigLen))
	}

	if sigLen > maxSigLen {
		return scriptError(ErrSigTooLong, fmt.Sprintf("malformed signature: too long: %d > %d", sigLen, maxSigLen))
	}

	if sig[sequenceOffset] != asn1SequenceID {
		return scriptError(ErrSigInvalidSeqID, fmt.Sprintf("malformed signature: format has wrong type: %#x", sig[sequenceOffset]))
	}

	if int(sig[dataLenOffset]) != sigLen-2 {
		return scriptError(ErrSigInvalidDataLen, fmt.Sprintf("malformed signature: bad length: %d != %d", sig[dataLenOffset], sigLen-2))
	}

	rLen := int(sig[rLenOffset])
	sTypeOffset := rOffset + rLen
	sLenOffset := sTypeOffset + 1

	if sTypeOffset >= sigLen {
		return scriptError(ErrSigMissingSTypeID, "malformed signature: S type indicator missing")
	}

	if sLenOffset >= sigLen {
		return scriptError(ErrSigMissingSLen, "malformed signature: S length missing")
	}

	sOffset := sLenOffset + 1
	sLen := int(sig[sLenOffset])

	if sOffset+sLen != sigLen {
		return scriptError(ErrSigInvalidSLen, "malformed signature: invalid S length")
	}

	if sig[rTypeOffset] != asn1IntegerID {
		return scriptError(ErrSigInvalidRIntID, fmt.Sprintf("malformed signature: R integer marker: %#x != %#x", sig[rTypeOffset], asn1IntegerID))
	}

	if rLen == 0 {
		return scriptError(ErrSigZeroRLen, "malformed signature: R length is zero")
	}

	if sig[rOffset]&0x80 != 0 {
		return scriptError(ErrSigNegativeR, "malformed signature: R is negative")
	}

	if rLen > 1 && sig[rOffset] == 0x00 && sig[rOffset+1]&0x80 == 0 {
		return scriptError(ErrSigTooMuchRPadding, "malformed signature: R value has too much padding")
	}

	if sig[sTypeOffset] != asn1IntegerID {
		return scriptError(ErrSigInvalidSIntID, fmt.Sprintf("malformed signature: S integer marker: %#x != %#x", sig[sTypeOffset], asn1IntegerID))
	}

	if sLen == 0 {
		return scriptError(ErrSigZeroSLen, "malformed signature: S length is zero")
	}

	if sig[sOffset]&0x80 != 0 {
		return scriptError(ErrSigNegativeS, "malformed signature: S is negative")
	}

	if sLen > 1 && sig[sOffset] == 0x00 && sig[sOffset+1]&0x80 == 0 {
		return scriptError(ErrSigTooMuchSPadding, "malformed signature: S value has too much padding")
	}

	if vm.hasFlag(ScriptVerifyLowS) {
		sValue := new(big.Int).SetBytes(sig[sOffset : sOffset+sLen])
		if sValue.Cmp(halfOrder) > 0 {
			return scriptError(ErrSigHighS, "signature is not canonical due to unnecessarily high S value")
		}
	}

	return nil
}

// parseSignature uses the strict parser when any encoding rule is active.
func (vm *Engine) parseSignature(sig []byte) (*bec.Signature, error) {
	if vm.hasFlag(ScriptVerifyStrictEncoding) || vm.hasFlag(ScriptVerifyDERSignatures) {
		return bec.ParseDERSignature(sig, bec.S256())
	}

	return bec.ParseSignature(sig, bec.S256())
}

func parsePubKey(pkBytes []byte) (*bec.PublicKey, error) {
	return bec.ParsePubKey(pkBytes, bec.S256())
}
