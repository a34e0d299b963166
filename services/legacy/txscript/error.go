// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"fmt"

	"github.com/tessacoin/tessanode/errors"
)

// ErrorCode identifies a kind of script error.
type ErrorCode int

const (
	ErrInternal ErrorCode = iota
	ErrInvalidFlags
	ErrInvalidIndex
	ErrUnsupportedAddress
	ErrNotMultisigScript
	ErrTooManyRequiredSigs
	ErrEvalFalse
	ErrEmptyStack
	ErrScriptUnfinished
	ErrInvalidProgramCounter
	ErrScriptTooBig
	ErrElementTooBig
	ErrTooManyOperations
	ErrStackOverflow
	ErrInvalidPubKeyCount
	ErrInvalidSignatureCount
	ErrNumberTooBig
	ErrVerify
	ErrEqualVerify
	ErrNumEqualVerify
	ErrCheckSigVerify
	ErrCheckMultiSigVerify
	ErrDisabledOpcode
	ErrReservedOpcode
	ErrMalformedPush
	ErrInvalidStackOperation
	ErrUnbalancedConditional
	ErrMinimalData
	ErrInvalidSigHashType
	ErrSigTooShort
	ErrSigTooLong
	ErrSigInvalidSeqID
	ErrSigInvalidDataLen
	ErrSigMissingSTypeID
	ErrSigMissingSLen
	ErrSigInvalidSLen
	ErrSigInvalidRIntID
	ErrSigZeroRLen
	ErrSigNegativeR
	ErrSigTooMuchRPadding
	ErrSigInvalidSIntID
	ErrSigZeroSLen
	ErrSigNegativeS
	ErrSigTooMuchSPadding
	ErrSigHighS
	ErrNotPushOnly
	ErrSigNullDummy
	ErrPubKeyType
	ErrCleanStack
	ErrDiscourageUpgradableNOPs
	ErrNegativeLockTime
	ErrUnsatisfiedLockTime
	ErrEarlyReturn

	numErrorCodes
)

var errorCodeStrings = map[ErrorCode]string{
	ErrInternal:                 "ErrInternal",
	ErrInvalidFlags:             "ErrInvalidFlags",
	ErrInvalidIndex:             "ErrInvalidIndex",
	ErrUnsupportedAddress:       "ErrUnsupportedAddress",
	ErrNotMultisigScript:        "ErrNotMultisigScript",
	ErrTooManyRequiredSigs:      "ErrTooManyRequiredSigs",
	ErrEvalFalse:                "ErrEvalFalse",
	ErrEmptyStack:               "ErrEmptyStack",
	ErrScriptUnfinished:         "ErrScriptUnfinished",
	ErrInvalidProgramCounter:    "ErrInvalidProgramCounter",
	ErrScriptTooBig:             "ErrScriptTooBig",
	ErrElementTooBig:            "ErrElementTooBig",
	ErrTooManyOperations:        "ErrTooManyOperations",
	ErrStackOverflow:            "ErrStackOverflow",
	ErrInvalidPubKeyCount:       "ErrInvalidPubKeyCount",
	ErrInvalidSignatureCount:    "ErrInvalidSignatureCount",
	ErrNumberTooBig:             "ErrNumberTooBig",
	ErrVerify:                   "ErrVerify",
	ErrEqualVerify:              "ErrEqualVerify",
	ErrNumEqualVerify:           "ErrNumEqualVerify",
	ErrCheckSigVerify:           "ErrCheckSigVerify",
	ErrCheckMultiSigVerify:      "ErrCheckMultiSigVerify",
	ErrDisabledOpcode:           "ErrDisabledOpcode",
	ErrReservedOpcode:           "ErrReservedOpcode",
	ErrMalformedPush:            "ErrMalformedPush",
	ErrInvalidStackOperation:    "ErrInvalidStackOperation",
	ErrUnbalancedConditional:    "ErrUnbalancedConditional",
	ErrMinimalData:              "ErrMinimalData",
	ErrInvalidSigHashType:       "ErrInvalidSigHashType",
	ErrSigTooShort:              "ErrSigTooShort",
	ErrSigTooLong:               "ErrSigTooLong",
	ErrSigInvalidSeqID:          "ErrSigInvalidSeqID",
	ErrSigInvalidDataLen:        "ErrSigInvalidDataLen",
	ErrSigMissingSTypeID:        "ErrSigMissingSTypeID",
	ErrSigMissingSLen:           "ErrSigMissingSLen",
	ErrSigInvalidSLen:           "ErrSigInvalidSLen",
	ErrSigInvalidRIntID:         "ErrSigInvalidRIntID",
	ErrSigZeroRLen:              "ErrSigZeroRLen",
	ErrSigNegativeR:             "ErrSigNegativeR",
	ErrSigTooMuchRPadding:       "ErrSigTooMuchRPadding",
	ErrSigInvalidSIntID:         "ErrSigInvalidSIntID",
	ErrSigZeroSLen:              "ErrSigZeroSLen",
	ErrSigNegativeS:             "ErrSigNegativeS",
	ErrSigTooMuchSPadding:       "ErrSigTooMuchSPadding",
	ErrSigHighS:                 "ErrSigHighS",
	ErrNotPushOnly:              "ErrNotPushOnly",
	ErrSigNullDummy:             "ErrSigNullDummy",
	ErrPubKeyType:               "ErrPubKeyType",
	ErrCleanStack:               "ErrCleanStack",
	ErrDiscourageUpgradableNOPs: "ErrDiscourageUpgradableNOPs",
	ErrNegativeLockTime:         "ErrNegativeLockTime",
	ErrUnsatisfiedLockTime:      "ErrUnsatisfiedLockTime",
	ErrEarlyReturn:              "ErrEarlyReturn",
}

func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}

	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is a script failure with its code.
type Error struct {
	ErrorCode   ErrorCode
	Description string
}

func (e Error) Error() string {
	return e.Description
}

func scriptError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// IsErrorCode reports whether err is a script Error with code c, possibly
// wrapped in a coded error.
func IsErrorCode(err error, c ErrorCode) bool {
	var serr Error
	if errors.As(err, &serr) {
		return serr.ErrorCode == c
	}

	return false
}
