package blockchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tessacoin/tessanode/errors"
)

func TestNewValidationState(t *testing.T) {
	t.Run("nil is valid", func(t *testing.T) {
		s := NewValidationState(nil)
		assert.True(t, s.IsValid())
		assert.Equal(t, "VALID", s.Result.String())
	})

	t.Run("reject data", func(t *testing.T) {
		s := NewValidationState(blockInvalid(100, "bad-cb-missing"))
		assert.True(t, s.IsInvalid())
		assert.Equal(t, errors.ERR_BLOCK_INVALID, s.Code)
		assert.Equal(t, errors.RejectInvalid, s.RejectCode)
		assert.Equal(t, "bad-cb-missing", s.Reason)
		assert.Equal(t, 100, s.BanScore)
	})

	t.Run("checkpoint", func(t *testing.T) {
		s := NewValidationState(blockCheckpoint("checkpoint-mismatch"))
		assert.True(t, s.IsInvalid())
		assert.Equal(t, errors.RejectCheckpoint, s.RejectCode)
	})

	t.Run("wrapped rejection keeps its class", func(t *testing.T) {
		s := NewValidationState(errors.NewProcessingError("connect failed", blockInvalid(10, "bad-txns-in-belowout")))
		assert.True(t, s.IsInvalid())
		assert.Equal(t, "bad-txns-in-belowout", s.Reason)
	})

	t.Run("storage failure is an error", func(t *testing.T) {
		s := NewValidationState(errors.NewStorageError("disk full"))
		assert.True(t, s.IsError())
		assert.Equal(t, "ERROR", s.Result.String())
		assert.Equal(t, errors.ERR_STORAGE_ERROR, s.Code)
	})
}
