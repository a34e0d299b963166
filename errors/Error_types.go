package errors

var (
	ErrUnknown                    = New(ERR_UNKNOWN, "unknown error")
	ErrInvalidArgument            = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrNotFound                   = New(ERR_NOT_FOUND, "not found")
	ErrProcessing                 = New(ERR_PROCESSING, "error processing")
	ErrConfiguration              = New(ERR_CONFIGURATION, "configuration error")
	ErrContextCanceled            = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrInterrupted                = New(ERR_INTERRUPTED, "interrupted")
	ErrError                      = New(ERR_ERROR, "generic error")
	ErrStorageError               = New(ERR_STORAGE_ERROR, "storage error")
	ErrStorageUnavailable         = New(ERR_STORAGE_UNAVAILABLE, "storage unavailable")
	ErrCorruption                 = New(ERR_CORRUPTION, "on-disk state corrupted")
	ErrBlockNotFound              = New(ERR_BLOCK_NOT_FOUND, "block not found")
	ErrBlockInvalid               = New(ERR_BLOCK_INVALID, "block invalid")
	ErrBlockExists                = New(ERR_BLOCK_EXISTS, "block exists")
	ErrBlockError                 = New(ERR_BLOCK_ERROR, "block error")
	ErrBlockCheckpoint            = New(ERR_BLOCK_CHECKPOINT, "block conflicts with checkpoint")
	ErrBlockOrphan                = New(ERR_BLOCK_ORPHAN, "block parent unknown")
	ErrTxNotFound                 = New(ERR_TX_NOT_FOUND, "tx not found")
	ErrTxInvalid                  = New(ERR_TX_INVALID, "tx invalid")
	ErrTxMissingParent            = New(ERR_TX_MISSING_PARENT, "tx missing parent")
	ErrTxConflicting              = New(ERR_TX_CONFLICTING, "tx conflicting")
	ErrTxAlreadyExists            = New(ERR_TX_ALREADY_EXISTS, "tx already exists")
	ErrTxPolicy                   = New(ERR_TX_POLICY, "tx rejected by policy")
	ErrTxLowFee                   = New(ERR_TX_LOW_FEE, "tx fee too low")
	ErrLockTime                   = New(ERR_LOCKTIME, "bad lock time")
	ErrCoinbaseMissingBlockHeight = New(ERR_COINBASE_MISSING_BLOCK_HEIGHT, "the coinbase signature script doesn't have the block height")
	ErrScriptError                = New(ERR_SCRIPT_ERROR, "script error")
	ErrZerocoinInvalid            = New(ERR_ZEROCOIN_INVALID, "zerocoin invalid")
	ErrWalletLocked               = New(ERR_WALLET_LOCKED, "wallet locked")
	ErrWalletError                = New(ERR_WALLET_ERROR, "wallet error")
	ErrWalletInsufficient         = New(ERR_WALLET_INSUFFICIENT, "insufficient funds")
	ErrNetworkError               = New(ERR_NETWORK_ERROR, "network error")
	ErrNetworkTimeout             = New(ERR_NETWORK_TIMEOUT, "network timeout")
	ErrNetworkPeerMisbehaving     = New(ERR_NETWORK_PEER_MISBEHAVING, "peer misbehaving")
	ErrNetworkPeerBanned          = New(ERR_NETWORK_PEER_BANNED, "peer banned")
	ErrNetworkMessageInvalid      = New(ERR_NETWORK_MESSAGE_INVALID, "invalid network message")
	ErrServiceError               = New(ERR_SERVICE_ERROR, "service error")
	ErrServiceUnavailable         = New(ERR_SERVICE_UNAVAILABLE, "service unavailable")
	ErrThresholdExceeded          = New(ERR_THRESHOLD_EXCEEDED, "threshold exceeded")
)

// errors initialization functions

func NewUnknownError(message string, params ...interface{}) error {
	return New(ERR_UNKNOWN, message, params...)
}
func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}
func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}
func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}
func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
func NewContextCanceledError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT_CANCELED, message, params...)
}
func NewInterruptedError(message string, params ...interface{}) error {
	return New(ERR_INTERRUPTED, message, params...)
}
func NewError(message string, params ...interface{}) error {
	return New(ERR_ERROR, message, params...)
}
func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_ERROR, message, params...)
}
func NewStorageUnavailableError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_UNAVAILABLE, message, params...)
}
func NewCorruptionError(message string, params ...interface{}) error {
	return New(ERR_CORRUPTION, message, params...)
}
func NewBlockNotFoundError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_NOT_FOUND, message, params...)
}
func NewBlockInvalidError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_INVALID, message, params...)
}
func NewBlockExistsError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_EXISTS, message, params...)
}
func NewBlockError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_ERROR, message, params...)
}
func NewBlockCheckpointError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_CHECKPOINT, message, params...)
}
func NewBlockOrphanError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_ORPHAN, message, params...)
}
func NewTxNotFoundError(message string, params ...interface{}) error {
	return New(ERR_TX_NOT_FOUND, message, params...)
}
func NewTxInvalidError(message string, params ...interface{}) error {
	return New(ERR_TX_INVALID, message, params...)
}
func NewTxMissingParentError(message string, params ...interface{}) error {
	return New(ERR_TX_MISSING_PARENT, message, params...)
}
func NewTxConflictingError(message string, params ...interface{}) error {
	return New(ERR_TX_CONFLICTING, message, params...)
}
func NewTxAlreadyExistsError(message string, params ...interface{}) error {
	return New(ERR_TX_ALREADY_EXISTS, message, params...)
}
func NewTxPolicyError(message string, params ...interface{}) error {
	return New(ERR_TX_POLICY, message, params...)
}
func NewTxLowFeeError(message string, params ...interface{}) error {
	return New(ERR_TX_LOW_FEE, message, params...)
}
func NewLockTimeError(message string, params ...interface{}) error {
	return New(ERR_LOCKTIME, message, params...)
}
func NewCoinbaseMissingBlockHeightError(message string, params ...interface{}) error {
	return New(ERR_COINBASE_MISSING_BLOCK_HEIGHT, message, params...)
}
func NewScriptError(message string, params ...interface{}) error {
	return New(ERR_SCRIPT_ERROR, message, params...)
}
func NewZerocoinInvalidError(message string, params ...interface{}) error {
	return New(ERR_ZEROCOIN_INVALID, message, params...)
}
func NewWalletLockedError(message string, params ...interface{}) error {
	return New(ERR_WALLET_LOCKED, message, params...)
}
func NewWalletError(message string, params ...interface{}) error {
	return New(ERR_WALLET_ERROR, message, params...)
}
func NewWalletInsufficientError(message string, params ...interface{}) error {
	return New(ERR_WALLET_INSUFFICIENT, message, params...)
}
func NewNetworkError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_ERROR, message, params...)
}
func NewNetworkTimeoutError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_TIMEOUT, message, params...)
}
func NewNetworkPeerMisbehavingError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_PEER_MISBEHAVING, message, params...)
}
func NewNetworkPeerBannedError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_PEER_BANNED, message, params...)
}
func NewNetworkMessageInvalidError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_MESSAGE_INVALID, message, params...)
}
func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}
func NewServiceUnavailableError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_UNAVAILABLE, message, params...)
}
func NewThresholdExceededError(message string, params ...interface{}) error {
	return New(ERR_THRESHOLD_EXCEEDED, message, params...)
}
