package settings

import (
	"time"

	"github.com/tessacoin/tessanode/chaincfg"
)

type Settings struct {
	ChainCfgParams *chaincfg.Params

	// BaseDataDir is the -datadir root; DataDir is the network directory
	// below it that holds all state.
	BaseDataDir string
	DataDir     string
	ConfFile    string
	Daemon      bool

	// InstanceID identifies this process in logs and the user agent.
	InstanceID string

	P2P        P2PSettings
	Utxo       UtxoSettings
	Validation ValidationSettings
	Block      BlockSettings
	Mempool    MempoolSettings
	Staking    StakingSettings
	Wallet     WalletSettings
	Health     HealthSettings
	Logging    LoggingSettings
}

type P2PSettings struct {
	Port           int
	Bind           []string
	Connect        []string
	AddNode        []string
	Listen         bool
	DNSSeed        bool
	Proxy          string
	MaxConnections int
	MaxOutbound    int
	BanScore       int
	BanTime        time.Duration
	Whitelist      []string

	ConnectTimeout        time.Duration
	InitialMessageTimeout time.Duration
	InactivityTimeout     time.Duration
	PingInterval          time.Duration
	BlockStallingTimeout  time.Duration
}

type UtxoSettings struct {
	// DBCacheMB is the coins cache budget.
	DBCacheMB int
}

type ValidationSettings struct {
	// ScriptCheckThreads is the -par value: 0 selects the number of CPUs,
	// a negative value leaves that many CPUs free.
	ScriptCheckThreads int
	CheckBlocks        int
	CheckLevel         int
	DebugLockChecks    bool
}

type BlockSettings struct {
	Reindex               bool
	TxIndex               bool
	CheckpointsEnabled    bool
	BlockMaxSize          int
	BlockPrioritySize     int
	DatabaseWriteInterval time.Duration
}

type MempoolSettings struct {
	MaxMempoolMB   int
	Expiry         time.Duration
	MinRelayTxFee  int64
	LimitFreeRelay int
	RelayPriority  bool
	MaxOrphanTxs   int
}

type StakingSettings struct {
	Enabled        bool
	SplitThreshold int64
	ReserveBalance int64
	SlotInterval   time.Duration
}

type WalletSettings struct {
	Disabled          bool
	Rescan            bool
	KeyPoolSize       int
	ZerocoinLookahead int
}

type HealthSettings struct {
	ListenAddress string
}

type LoggingSettings struct {
	Level string
}
