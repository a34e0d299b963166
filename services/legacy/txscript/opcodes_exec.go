// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // consensus opcode
	"crypto/sha256"
	"fmt"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/crypto"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/util"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // consensus opcode
)

// opfuncFor returns the handler executing op.
func opfuncFor(op byte) func(*parsedOpcode, *Engine) error {
	switch {
	case op == OP_0:
		return opcodeFalse
	case op >= OP_DATA_1 && op <= OP_PUSHDATA4:
		return opcodePushData
	case op == OP_1NEGATE:
		return opcode1Negate
	case op >= OP_1 && op <= OP_16:
		return opcodeN
	case op >= OP_NOP3 && op <= OP_NOP10, op == OP_NOP1:
		return opcodeNop
	}

	switch op {
	case OP_RESERVED, OP_VER, OP_RESERVED1, OP_RESERVED2:
		return opcodeReserved
	case OP_VERIF, OP_VERNOTIF:
		return opcodeReserved
	case OP_NOP:
		return opcodeNop
	case OP_IF:
		return opcodeIf
	case OP_NOTIF:
		return opcodeNotIf
	case OP_ELSE:
		return opcodeElse
	case OP_ENDIF:
		return opcodeEndif
	case OP_VERIFY:
		return opcodeVerify
	case OP_RETURN:
		return opcodeReturn
	case OP_TOALTSTACK:
		return opcodeToAltStack
	case OP_FROMALTSTACK:
		return opcodeFromAltStack
	case OP_2DROP:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.DropN(2) }
	case OP_2DUP:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.DupN(2) }
	case OP_3DUP:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.DupN(3) }
	case OP_2OVER:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.OverN(2) }
	case OP_2ROT:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.RotN(2) }
	case OP_2SWAP:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.SwapN(2) }
	case OP_IFDUP:
		return opcodeIfDup
	case OP_DEPTH:
		return func(_ *parsedOpcode, vm *Engine) error {
			vm.dstack.PushInt(scriptNum(vm.dstack.Depth()))
			return nil
		}
	case OP_DROP:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.DropN(1) }
	case OP_DUP:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.DupN(1) }
	case OP_NIP:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.NipN(1) }
	case OP_OVER:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.OverN(1) }
	case OP_PICK:
		return opcodePick
	case OP_ROLL:
		return opcodeRoll
	case OP_ROT:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.RotN(1) }
	case OP_SWAP:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.SwapN(1) }
	case OP_TUCK:
		return func(_ *parsedOpcode, vm *Engine) error { return vm.dstack.Tuck() }
	case OP_SIZE:
		return opcodeSize
	case OP_EQUAL:
		return opcodeEqual
	case OP_EQUALVERIFY:
		return func(pop *parsedOpcode, vm *Engine) error {
			return abstractVerify(pop, vm, opcodeEqual, ErrEqualVerify)
		}
	case OP_1ADD, OP_1SUB, OP_NEGATE, OP_ABS, OP_NOT, OP_0NOTEQUAL:
		return opcodeUnaryNum
	case OP_ADD, OP_SUB, OP_BOOLAND, OP_BOOLOR, OP_NUMEQUAL, OP_NUMNOTEQUAL,
		OP_LESSTHAN, OP_GREATERTHAN, OP_LESSTHANOREQUAL, OP_GREATERTHANOREQUAL, OP_MIN, OP_MAX:
		return opcodeBinaryNum
	case OP_NUMEQUALVERIFY:
		return func(pop *parsedOpcode, vm *Engine) error {
			return abstractVerify(pop, vm, opcodeNumEqual, ErrNumEqualVerify)
		}
	case OP_WITHIN:
		return opcodeWithin
	case OP_RIPEMD160, OP_SHA1, OP_SHA256, OP_HASH160, OP_HASH256:
		return opcodeHash
	case OP_CODESEPARATOR:
		return func(_ *parsedOpcode, vm *Engine) error {
			vm.lastCodeSep = vm.scriptOff
			return nil
		}
	case OP_CHECKSIG:
		return opcodeCheckSig
	case OP_CHECKSIGVERIFY:
		return func(pop *parsedOpcode, vm *Engine) error {
			return abstractVerify(pop, vm, opcodeCheckSig, ErrCheckSigVerify)
		}
	case OP_CHECKMULTISIG:
		return opcodeCheckMultiSig
	case OP_CHECKMULTISIGVERIFY:
		return func(pop *parsedOpcode, vm *Engine) error {
			return abstractVerify(pop, vm, opcodeCheckMultiSig, ErrCheckMultiSigVerify)
		}
	case OP_CHECKLOCKTIMEVERIFY:
		return opcodeCheckLockTimeVerify
	case OP_CAT, OP_SUBSTR, OP_LEFT, OP_RIGHT, OP_INVERT, OP_AND, OP_OR, OP_XOR,
		OP_2MUL, OP_2DIV, OP_MUL, OP_DIV, OP_MOD, OP_LSHIFT, OP_RSHIFT:
		return opcodeDisabled
	}

	// The zerocoin opcodes mark outputs and inputs handled outside the
	// interpreter, so evaluating them fails like any undefined opcode.
	return opcodeInvalid
}

func opcodeDisabled(pop *parsedOpcode, _ *Engine) error {
	return scriptError(ErrDisabledOpcode, fmt.Sprintf("attempt to execute disabled opcode %s", pop.opcode.name))
}

func opcodeReserved(pop *parsedOpcode, _ *Engine) error {
	return scriptError(ErrReservedOpcode, fmt.Sprintf("attempt to execute reserved opcode %s", pop.opcode.name))
}

func opcodeInvalid(pop *parsedOpcode, _ *Engine) error {
	return scriptError(ErrReservedOpcode, fmt.Sprintf("attempt to execute invalid opcode %s", pop.opcode.name))
}

func opcodeFalse(_ *parsedOpcode, vm *Engine) error {
	vm.dstack.PushByteArray(nil)
	return nil
}

func opcodePushData(pop *parsedOpcode, vm *Engine) error {
	vm.dstack.PushByteArray(pop.data)
	return nil
}

func opcode1Negate(_ *parsedOpcode, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(-1))
	return nil
}

func opcodeN(pop *parsedOpcode, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(pop.opcode.value - (OP_1 - 1)))
	return nil
}

func opcodeNop(pop *parsedOpcode, vm *Engine) error {
	if pop.opcode.value != OP_NOP && vm.hasFlag(ScriptDiscourageUpgradableNops) {
		return scriptError(ErrDiscourageUpgradableNOPs, fmt.Sprintf("%s reserved for soft-fork upgrades", pop.opcode.name))
	}

	return nil
}

func popIfBool(vm *Engine) (bool, error) {
	return vm.dstack.PopBool()
}

func opcodeIf(_ *parsedOpcode, vm *Engine) error {
	condVal := OpCondFalse

	if vm.isBranchExecuting() {
		ok, err := popIfBool(vm)
		if err != nil {
			return err
		}

		if ok {
			condVal = OpCondTrue
		}
	} else {
		condVal = OpCondSkip
	}

	vm.condStack = append(vm.condStack, condVal)

	return nil
}

func opcodeNotIf(_ *parsedOpcode, vm *Engine) error {
	condVal := OpCondFalse

	if vm.isBranchExecuting() {
		ok, err := popIfBool(vm)
		if err != nil {
			return err
		}

		if !ok {
			condVal = OpCondTrue
		}
	} else {
		condVal = OpCondSkip
	}

	vm.condStack = append(vm.condStack, condVal)

	return nil
}

func opcodeElse(pop *parsedOpcode, vm *Engine) error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, fmt.Sprintf("encountered opcode %s with no matching opcode to begin conditional execution", pop.opcode.name))
	}

	idx := len(vm.condStack) - 1

	switch vm.condStack[idx] {
	case OpCondTrue:
		vm.condStack[idx] = OpCondFalse
	case OpCondFalse:
		vm.condStack[idx] = OpCondTrue
	}

	return nil
}

func opcodeEndif(pop *parsedOpcode, vm *Engine) error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, fmt.Sprintf("encountered opcode %s with no matching opcode to begin conditional execution", pop.opcode.name))
	}

	vm.condStack = vm.condStack[:len(vm.condStack)-1]

	return nil
}

// abstractVerify runs fn and fails with c when it leaves false on the stack.
func abstractVerify(pop *parsedOpcode, vm *Engine, fn func(*parsedOpcode, *Engine) error, c ErrorCode) error {
	if err := fn(pop, vm); err != nil {
		return err
	}

	verified, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}

	if !verified {
		return scriptError(c, fmt.Sprintf("%s failed", pop.opcode.name))
	}

	return nil
}

func opcodeVerify(pop *parsedOpcode, vm *Engine) error {
	verified, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}

	if !verified {
		return scriptError(ErrVerify, fmt.Sprintf("%s failed", pop.opcode.name))
	}

	return nil
}

func opcodeReturn(_ *parsedOpcode, _ *Engine) error {
	return scriptError(ErrEarlyReturn, "script returned early")
}

func opcodeToAltStack(_ *parsedOpcode, vm *Engine) error {
	so, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	vm.astack.PushByteArray(so)

	return nil
}

func opcodeFromAltStack(_ *parsedOpcode, vm *Engine) error {
	so, err := vm.astack.PopByteArray()
	if err != nil {
		return err
	}

	vm.dstack.PushByteArray(so)

	return nil
}

func opcodeIfDup(_ *parsedOpcode, vm *Engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}

	if asBool(so) {
		vm.dstack.PushByteArray(so)
	}

	return nil
}

func opcodePick(_ *parsedOpcode, vm *Engine) error {
	val, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	return vm.dstack.PickN(val.Int32())
}

func opcodeRoll(_ *parsedOpcode, vm *Engine) error {
	val, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	return vm.dstack.RollN(val.Int32())
}

func opcodeSize(_ *parsedOpcode, vm *Engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}

	vm.dstack.PushInt(scriptNum(len(so)))

	return nil
}

func opcodeEqual(_ *parsedOpcode, vm *Engine) error {
	a, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	b, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	vm.dstack.PushBool(bytes.Equal(a, b))

	return nil
}

func opcodeUnaryNum(pop *parsedOpcode, vm *Engine) error {
	m, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	switch pop.opcode.value {
	case OP_1ADD:
		m++
	case OP_1SUB:
		m--
	case OP_NEGATE:
		m = -m
	case OP_ABS:
		if m < 0 {
			m = -m
		}
	case OP_NOT:
		if m == 0 {
			m = 1
		} else {
			m = 0
		}
	case OP_0NOTEQUAL:
		if m != 0 {
			m = 1
		}
	}

	vm.dstack.PushInt(m)

	return nil
}

func opcodeNumEqual(_ *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, OP_NUMEQUAL)
}

func opcodeBinaryNum(pop *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, pop.opcode.value)
}

func binaryNum(vm *Engine, op byte) error {
	v0, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	v1, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	switch op {
	case OP_ADD:
		vm.dstack.PushInt(v1 + v0)
	case OP_SUB:
		vm.dstack.PushInt(v1 - v0)
	case OP_BOOLAND:
		vm.dstack.PushBool(v0 != 0 && v1 != 0)
	case OP_BOOLOR:
		vm.dstack.PushBool(v0 != 0 || v1 != 0)
	case OP_NUMEQUAL:
		vm.dstack.PushBool(v0 == v1)
	case OP_NUMNOTEQUAL:
		vm.dstack.PushBool(v0 != v1)
	case OP_LESSTHAN:
		vm.dstack.PushBool(v1 < v0)
	case OP_GREATERTHAN:
		vm.dstack.PushBool(v1 > v0)
	case OP_LESSTHANOREQUAL:
		vm.dstack.PushBool(v1 <= v0)
	case OP_GREATERTHANOREQUAL:
		vm.dstack.PushBool(v1 >= v0)
	case OP_MIN:
		vm.dstack.PushInt(min(v0, v1))
	case OP_MAX:
		vm.dstack.PushInt(max(v0, v1))
	}

	return nil
}

func opcodeWithin(_ *parsedOpcode, vm *Engine) error {
	maxVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	minVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	x, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	vm.dstack.PushBool(x >= minVal && x < maxVal)

	return nil
}

func opcodeHash(pop *parsedOpcode, vm *Engine) error {
	buf, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	switch pop.opcode.value {
	case OP_RIPEMD160:
		h := ripemd160.New()
		_, _ = h.Write(buf)
		vm.dstack.PushByteArray(h.Sum(nil))
	case OP_SHA1:
		sum := sha1.Sum(buf) //nolint:gosec // consensus opcode
		vm.dstack.PushByteArray(sum[:])
	case OP_SHA256:
		sum := sha256.Sum256(buf)
		vm.dstack.PushByteArray(sum[:])
	case OP_HASH160:
		vm.dstack.PushByteArray(crypto.Hash160(buf))
	case OP_HASH256:
		vm.dstack.PushByteArray(chainhash.DoubleHashB(buf))
	}

	return nil
}

func opcodeCheckSig(_ *parsedOpcode, vm *Engine) error {
	pkBytes, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	fullSigBytes, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	if len(fullSigBytes) < 1 {
		vm.dstack.PushBool(false)
		return nil
	}

	hashType := SigHashType(fullSigBytes[len(fullSigBytes)-1])
	sigBytes := fullSigBytes[:len(fullSigBytes)-1]

	if err = vm.checkHashTypeEncoding(hashType); err != nil {
		return err
	}

	if err = vm.checkSignatureEncoding(sigBytes); err != nil {
		return err
	}

	if err = vm.checkPubKeyEncoding(pkBytes); err != nil {
		return err
	}

	subScript := removeOpcodeByData(vm.subScript(), fullSigBytes)
	hash := calcSignatureHash(subScript, hashType, vm.tx, vm.txIdx)

	vm.dstack.PushBool(vm.verifySignature(sigBytes, pkBytes, hash))

	return nil
}

func (vm *Engine) verifySignature(sigBytes, pkBytes, hash []byte) bool {
	pubKey, err := parsePubKey(pkBytes)
	if err != nil {
		return false
	}

	signature, err := vm.parseSignature(sigBytes)
	if err != nil {
		return false
	}

	return signature.Verify(hash, pubKey)
}

func opcodeCheckMultiSig(_ *parsedOpcode, vm *Engine) error {
	numKeys, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	numPubKeys := int(numKeys.Int32())
	if numPubKeys < 0 {
		return scriptError(ErrInvalidPubKeyCount, fmt.Sprintf("number of pubkeys %d is negative", numPubKeys))
	} else if numPubKeys > MaxPubKeysPerMultiSig {
		return scriptError(ErrInvalidPubKeyCount, fmt.Sprintf("too many pubkeys: %d > %d", numPubKeys, MaxPubKeysPerMultiSig))
	}

	vm.numOps += numPubKeys
	if vm.numOps > MaxOpsPerScript {
		return scriptError(ErrTooManyOperations, fmt.Sprintf("exceeded max operation limit of %d", MaxOpsPerScript))
	}

	pubKeys := make([][]byte, 0, numPubKeys)

	for i := 0; i < numPubKeys; i++ {
		pubKey, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}

		pubKeys = append(pubKeys, pubKey)
	}

	numSigs, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	numSignatures := int(numSigs.Int32())
	if numSignatures < 0 {
		return scriptError(ErrInvalidSignatureCount, fmt.Sprintf("number of signatures %d is negative", numSignatures))
	}

	if numSignatures > numPubKeys {
		return scriptError(ErrInvalidSignatureCount, fmt.Sprintf("more signatures than pubkeys: %d > %d", numSignatures, numPubKeys))
	}

	signatures := make([][]byte, 0, numSignatures)

	for i := 0; i < numSignatures; i++ {
		signature, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}

		signatures = append(signatures, signature)
	}

	// An off-by-one in the reference client consumes one extra item.
	dummy, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	if vm.hasFlag(ScriptStrictMultiSig) && len(dummy) != 0 {
		return scriptError(ErrSigNullDummy, fmt.Sprintf("multisig dummy argument has length %d instead of 0", len(dummy)))
	}

	script := vm.subScript()
	for _, sig := range signatures {
		script = removeOpcodeByData(script, sig)
	}

	success := true
	numPubKeys++
	pubKeyIdx := -1
	signatureIdx := 0

	for numSignatures > 0 {
		pubKeyIdx++
		numPubKeys--

		if numSignatures > numPubKeys {
			success = false
			break
		}

		rawSig := signatures[signatureIdx]
		pubKey := pubKeys[pubKeyIdx]

		if len(rawSig) == 0 {
			continue
		}

		hashType := SigHashType(rawSig[len(rawSig)-1])
		sigBytes := rawSig[:len(rawSig)-1]

		if err := vm.checkHashTypeEncoding(hashType); err != nil {
			return err
		}

		if err := vm.checkSignatureEncoding(sigBytes); err != nil {
			return err
		}

		if err := vm.checkPubKeyEncoding(pubKey); err != nil {
			return err
		}

		hash := calcSignatureHash(script, hashType, vm.tx, vm.txIdx)

		if vm.verifySignature(sigBytes, pubKey, hash) {
			signatureIdx++
			numSignatures--
		}
	}

	vm.dstack.PushBool(success)

	return nil
}

func opcodeCheckLockTimeVerify(pop *parsedOpcode, vm *Engine) error {
	if !vm.hasFlag(ScriptVerifyCheckLockTimeVerify) {
		return opcodeNop(pop, vm)
	}

	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}

	// Lock times reach 2^32-1, hence the five byte operand.
	lockTime, err := makeScriptNum(so, vm.dstack.verifyMinimalData, 5)
	if err != nil {
		return err
	}

	if lockTime < 0 {
		return scriptError(ErrNegativeLockTime, fmt.Sprintf("negative lock time: %d", lockTime))
	}

	txLockTime := int64(vm.tx.LockTime)

	if !((txLockTime < util.LockTimeThreshold && int64(lockTime) < util.LockTimeThreshold) ||
		(txLockTime >= util.LockTimeThreshold && int64(lockTime) >= util.LockTimeThreshold)) {
		return scriptError(ErrUnsatisfiedLockTime, fmt.Sprintf("mismatched locktime types -- tx locktime %d, stack locktime %d", txLockTime, lockTime))
	}

	if int64(lockTime) > txLockTime {
		return scriptError(ErrUnsatisfiedLockTime, fmt.Sprintf("locktime requirement not satisfied -- locktime is greater than the transaction locktime: %d > %d", lockTime, txLockTime))
	}

	if vm.tx.TxIn[vm.txIdx].Sequence == model.MaxTxInSequenceNum {
		return scriptError(ErrUnsatisfiedLockTime, "transaction input is finalized")
	}

	return nil
}
