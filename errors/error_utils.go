package errors

import (
	"context"
	"errors"
	"strings"
)

// IsRetryableError determines if an error is transient and the operation should be retried.
// Cosmetic writes (address book, peers file) use this to decide whether to try again.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		switch tErr.Code() {
		case ERR_NETWORK_TIMEOUT,
			ERR_NETWORK_ERROR,
			ERR_SERVICE_UNAVAILABLE,
			ERR_STORAGE_UNAVAILABLE:
			return true
		}
	}

	return false
}

// IsNetworkError determines if an error is network-related.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		switch tErr.Code() {
		case ERR_NETWORK_ERROR,
			ERR_NETWORK_TIMEOUT,
			ERR_NETWORK_PEER_MISBEHAVING,
			ERR_NETWORK_PEER_BANNED,
			ERR_NETWORK_MESSAGE_INVALID:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "i/o timeout", "use of closed network connection"} {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// IsFatal reports whether err means the chain state can no longer be trusted:
// on-disk corruption or a failed chain-state write.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	code := CodeOf(err)

	return code == ERR_CORRUPTION || code == ERR_STORAGE_ERROR
}

// IsInvalid reports whether err is a consensus rejection of a block or
// transaction, as opposed to an internal failure.
func IsInvalid(err error) bool {
	switch CodeOf(err) {
	case ERR_BLOCK_INVALID, ERR_BLOCK_CHECKPOINT, ERR_TX_INVALID, ERR_TX_CONFLICTING,
		ERR_SCRIPT_ERROR, ERR_ZEROCOIN_INVALID, ERR_LOCKTIME, ERR_COINBASE_MISSING_BLOCK_HEIGHT:
		return true
	}

	return false
}
