package errors

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrDataI is an interface for error data that can be set, retrieved, and encoded.
type ErrDataI interface {
	EncodeErrorData() []byte
	Error() string
	GetData(key string) interface{}
	SetData(key string, value interface{})
}

// ErrData is a generic error data structure that implements the ErrDataI interface.
type ErrData map[string]interface{}

// Error returns a string representation of the error data.
func (e *ErrData) Error() string {
	return fmt.Sprintf(" %v", *e)
}

// SetData sets a key-value pair in the error data.
func (e *ErrData) SetData(key string, value interface{}) {
	if e == nil {
		return
	}

	(*e)[key] = value
}

// GetData retrieves the value associated with a key in the error data.
func (e *ErrData) GetData(key string) interface{} {
	if e == nil {
		return nil
	}

	return (*e)[key]
}

// EncodeErrorData encodes the error data to a byte slice using JSON encoding.
func (e *ErrData) EncodeErrorData() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte{}
	}

	return data
}

// Wire reject codes.
const (
	RejectMalformed       uint8 = 0x01
	RejectInvalid         uint8 = 0x10
	RejectObsolete        uint8 = 0x11
	RejectDuplicate       uint8 = 0x12
	RejectNonstandard     uint8 = 0x40
	RejectDust            uint8 = 0x41
	RejectInsufficientFee uint8 = 0x42
	RejectCheckpoint      uint8 = 0x43
)

// RejectErrData carries the wire reject code and ban score of a validation
// failure so that peer handlers can answer and score without re-deriving them.
type RejectErrData struct {
	RejectCode uint8  `json:"reject_code"`
	Reason     string `json:"reason"`
	BanScore   int    `json:"ban_score"`
}

func (r *RejectErrData) Error() string {
	return fmt.Sprintf("reject 0x%02x %s (ban score %d)", r.RejectCode, r.Reason, r.BanScore)
}

func (r *RejectErrData) SetData(string, interface{}) {}

func (r *RejectErrData) GetData(key string) interface{} {
	switch key {
	case "reject_code":
		return r.RejectCode
	case "reason":
		return r.Reason
	case "ban_score":
		return r.BanScore
	}

	return nil
}

func (r *RejectErrData) EncodeErrorData() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return []byte{}
	}

	return data
}

// NewRejectError builds an error of the given code carrying reject data.
func NewRejectError(code ERR, rejectCode uint8, banScore int, reason string, params ...interface{}) *Error {
	e := New(code, reason, params...)
	e.data = &RejectErrData{RejectCode: rejectCode, Reason: e.message, BanScore: banScore}

	return e
}

// GetErrorData decodes error data by error code.
func GetErrorData(code ERR, dataBytes []byte) (ErrDataI, error) {
	var errData ErrDataI

	switch code {
	case ERR_BLOCK_INVALID, ERR_TX_INVALID, ERR_TX_POLICY, ERR_TX_LOW_FEE, ERR_ZEROCOIN_INVALID:
		errData = &RejectErrData{}
	default:
		errData = &ErrData{}
	}

	if err := json.Unmarshal(dataBytes, errData); err != nil {
		return errData, err
	}

	return errData, nil
}

// RejectDataOf returns the reject data of the first error in err's chain
// that carries it.
func RejectDataOf(err error) (*RejectErrData, bool) {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return nil, false
		}

		if r, ok := e.data.(*RejectErrData); ok {
			return r, true
		}

		err = e.wrappedErr
	}

	return nil, false
}
