package errors

// ERR is the numeric error code carried by every *Error.
type ERR int32

const (
	ERR_UNKNOWN          ERR = 0
	ERR_INVALID_ARGUMENT ERR = 1
	ERR_NOT_FOUND        ERR = 2
	ERR_PROCESSING       ERR = 3
	ERR_CONFIGURATION    ERR = 4
	ERR_CONTEXT_CANCELED ERR = 5
	ERR_INTERRUPTED      ERR = 6
	ERR_ERROR            ERR = 9

	// storage
	ERR_STORAGE_ERROR       ERR = 20
	ERR_STORAGE_UNAVAILABLE ERR = 21
	ERR_CORRUPTION          ERR = 22

	// blocks
	ERR_BLOCK_NOT_FOUND  ERR = 30
	ERR_BLOCK_INVALID    ERR = 31
	ERR_BLOCK_EXISTS     ERR = 32
	ERR_BLOCK_ERROR      ERR = 33
	ERR_BLOCK_CHECKPOINT ERR = 34
	ERR_BLOCK_ORPHAN     ERR = 35

	// transactions
	ERR_TX_NOT_FOUND                  ERR = 40
	ERR_TX_INVALID                    ERR = 41
	ERR_TX_MISSING_PARENT             ERR = 42
	ERR_TX_CONFLICTING                ERR = 43
	ERR_TX_ALREADY_EXISTS             ERR = 44
	ERR_TX_POLICY                     ERR = 45
	ERR_TX_LOW_FEE                    ERR = 46
	ERR_LOCKTIME                      ERR = 47
	ERR_COINBASE_MISSING_BLOCK_HEIGHT ERR = 48

	// scripts and zerocoin
	ERR_SCRIPT_ERROR     ERR = 50
	ERR_ZEROCOIN_INVALID ERR = 51

	// wallet
	ERR_WALLET_LOCKED       ERR = 60
	ERR_WALLET_ERROR        ERR = 61
	ERR_WALLET_INSUFFICIENT ERR = 62

	// network
	ERR_NETWORK_ERROR            ERR = 70
	ERR_NETWORK_TIMEOUT          ERR = 71
	ERR_NETWORK_PEER_MISBEHAVING ERR = 72
	ERR_NETWORK_PEER_BANNED      ERR = 73
	ERR_NETWORK_MESSAGE_INVALID  ERR = 74

	// services
	ERR_SERVICE_ERROR       ERR = 80
	ERR_SERVICE_UNAVAILABLE ERR = 81
	ERR_THRESHOLD_EXCEEDED  ERR = 82
)

var ERR_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "INVALID_ARGUMENT",
	2:  "NOT_FOUND",
	3:  "PROCESSING",
	4:  "CONFIGURATION",
	5:  "CONTEXT_CANCELED",
	6:  "INTERRUPTED",
	9:  "ERROR",
	20: "STORAGE_ERROR",
	21: "STORAGE_UNAVAILABLE",
	22: "CORRUPTION",
	30: "BLOCK_NOT_FOUND",
	31: "BLOCK_INVALID",
	32: "BLOCK_EXISTS",
	33: "BLOCK_ERROR",
	34: "BLOCK_CHECKPOINT",
	35: "BLOCK_ORPHAN",
	40: "TX_NOT_FOUND",
	41: "TX_INVALID",
	42: "TX_MISSING_PARENT",
	43: "TX_CONFLICTING",
	44: "TX_ALREADY_EXISTS",
	45: "TX_POLICY",
	46: "TX_LOW_FEE",
	47: "LOCKTIME",
	48: "COINBASE_MISSING_BLOCK_HEIGHT",
	50: "SCRIPT_ERROR",
	51: "ZEROCOIN_INVALID",
	60: "WALLET_LOCKED",
	61: "WALLET_ERROR",
	62: "WALLET_INSUFFICIENT",
	70: "NETWORK_ERROR",
	71: "NETWORK_TIMEOUT",
	72: "NETWORK_PEER_MISBEHAVING",
	73: "NETWORK_PEER_BANNED",
	74: "NETWORK_MESSAGE_INVALID",
	80: "SERVICE_ERROR",
	81: "SERVICE_UNAVAILABLE",
	82: "THRESHOLD_EXCEEDED",
}

func (x ERR) String() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return "UNKNOWN"
}
