package blockchain

import (
	"github.com/tessacoin/tessanode/errors"
)

// ValidationResult is the outcome class of a validation step.
type ValidationResult int

const (
	ResultValid ValidationResult = iota
	// ResultInvalid is a consensus rejection; the offending block or
	// transaction is recorded as such and the error goes no further.
	ResultInvalid
	// ResultError is an internal failure (database, I/O) that stops chain
	// advancement.
	ResultError
)

func (r ValidationResult) String() string {
	switch r {
	case ResultValid:
		return "VALID"
	case ResultInvalid:
		return "INVALID"
	default:
		return "ERROR"
	}
}

// ValidationState classifies the error returned by a validation routine.
type ValidationState struct {
	Result     ValidationResult
	Code       errors.ERR
	RejectCode uint8
	Reason     string
	BanScore   int
	Err        error
}

// NewValidationState derives the state of err. Errors carrying reject data
// and consensus error codes are invalid; everything else is an error.
func NewValidationState(err error) ValidationState {
	if err == nil {
		return ValidationState{Result: ResultValid}
	}

	state := ValidationState{
		Result: ResultError,
		Code:   errors.CodeOf(err),
		Reason: err.Error(),
		Err:    err,
	}

	if data, ok := errors.RejectDataOf(err); ok {
		state.Result = ResultInvalid
		state.RejectCode = data.RejectCode
		state.Reason = data.Reason
		state.BanScore = data.BanScore

		return state
	}

	if errors.IsInvalid(err) {
		state.Result = ResultInvalid
		state.RejectCode = errors.RejectInvalid
	}

	return state
}

func (s ValidationState) IsValid() bool {
	return s.Result == ResultValid
}

func (s ValidationState) IsInvalid() bool {
	return s.Result == ResultInvalid
}

func (s ValidationState) IsError() bool {
	return s.Result == ResultError
}

// blockInvalid builds a consensus rejection of a block.
func blockInvalid(banScore int, reason string, params ...interface{}) error {
	return errors.NewRejectError(errors.ERR_BLOCK_INVALID, errors.RejectInvalid, banScore, reason, params...)
}

func blockCheckpoint(reason string, params ...interface{}) error {
	return errors.NewRejectError(errors.ERR_BLOCK_CHECKPOINT, errors.RejectCheckpoint, 100, reason, params...)
}
