package settings

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/util"
)

const (
	DefaultConfFile = "tessa.conf"

	// MaxScriptCheckThreads caps the script verification pool.
	MaxScriptCheckThreads = 16
)

// NewSettings builds the settings from the command line flags (keyed by flag
// name without the leading dash), the configuration file and the gocore
// defaults, in that order of precedence.
func NewSettings(flags map[string]string) (*Settings, error) {
	s := &source{flags: flags}

	baseDir := s.getString("datadir", util.DefaultDataDir())

	confFile := s.getString("conf", DefaultConfFile)
	if !filepath.IsAbs(confFile) {
		confFile = filepath.Join(baseDir, confFile)
	}

	conf, err := godotenv.Read(confFile)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.NewConfigurationError("failed to read configuration file %s", confFile, err)
	}

	s.conf = conf

	network := s.getString("network", "main")

	switch {
	case s.getBool("regtest", false):
		network = "regtest"
	case s.getBool("testnet", false):
		network = "test"
	}

	params, err := chaincfg.GetChainParams(network)
	if err != nil {
		return nil, err
	}

	defaultPort, _ := strconv.Atoi(params.DefaultPort)

	settings := &Settings{
		ChainCfgParams: params,
		BaseDataDir:    baseDir,
		DataDir:        filepath.Join(baseDir, params.DataSubDir),
		ConfFile:       confFile,
		Daemon:         s.getBool("daemon", false),
		InstanceID:     uuid.New().String(),
		P2P: P2PSettings{
			Port:                  s.getInt("port", defaultPort),
			Bind:                  s.getMultiString("bind"),
			Connect:               s.getMultiString("connect"),
			AddNode:               s.getMultiString("addnode"),
			Listen:                s.getBool("listen", true),
			DNSSeed:               s.getBool("dnsseed", true),
			Proxy:                 s.getString("proxy", ""),
			MaxConnections:        s.getInt("maxconnections", 125),
			MaxOutbound:           s.getInt("maxoutbound", 16),
			BanScore:              s.getInt("banscore", 100),
			BanTime:               time.Duration(s.getInt("bantime", 24*60*60)) * time.Second,
			Whitelist:             s.getMultiString("whitelist"),
			ConnectTimeout:        s.getDuration("p2p_connectTimeout", 60*time.Second),
			InitialMessageTimeout: s.getDuration("p2p_initialMessageTimeout", 60*time.Second),
			InactivityTimeout:     s.getDuration("p2p_inactivityTimeout", 20*time.Minute),
			PingInterval:          s.getDuration("p2p_pingInterval", 2*time.Minute),
			BlockStallingTimeout:  s.getDuration("p2p_blockStallingTimeout", 2*time.Second),
		},
		Utxo: UtxoSettings{
			DBCacheMB: clamp(s.getInt("dbcache", 100), 4, 4096),
		},
		Validation: ValidationSettings{
			ScriptCheckThreads: s.getInt("par", 0),
			CheckBlocks:        s.getInt("checkblocks", 6),
			CheckLevel:         s.getInt("checklevel", 3),
			DebugLockChecks:    s.getBool("debuglockchecks", false),
		},
		Block: BlockSettings{
			Reindex:               s.getBool("reindex", false),
			TxIndex:               s.getBool("txindex", false),
			CheckpointsEnabled:    s.getBool("checkpoints", true),
			BlockMaxSize:          s.getInt("blockmaxsize", 750000),
			BlockPrioritySize:     s.getInt("blockprioritysize", 50000),
			DatabaseWriteInterval: s.getDuration("databaseWriteInterval", time.Hour),
		},
		Mempool: MempoolSettings{
			MaxMempoolMB:   s.getInt("maxmempool", 300),
			Expiry:         time.Duration(s.getInt("mempoolexpiry", 72)) * time.Hour,
			MinRelayTxFee:  s.getInt64("minrelaytxfee", 10000),
			LimitFreeRelay: s.getInt("limitfreerelay", 15),
			RelayPriority:  s.getBool("relaypriority", true),
			MaxOrphanTxs:   s.getInt("maxorphantx", 100),
		},
		Staking: StakingSettings{
			Enabled:        s.getBool("staking", true),
			SplitThreshold: s.getInt64("stakesplitthreshold", 2000) * model.COIN,
			ReserveBalance: s.getInt64("reservebalance", 0) * model.COIN,
			SlotInterval:   s.getDuration("staking_slotInterval", 15*time.Second),
		},
		Wallet: WalletSettings{
			Disabled:          s.getBool("disablewallet", false),
			Rescan:            s.getBool("rescan", false),
			KeyPoolSize:       s.getInt("keypool", 100),
			ZerocoinLookahead: s.getInt("zerocoin_lookahead", 20),
		},
		Health: HealthSettings{
			ListenAddress: s.getString("health_listenAddress", "127.0.0.1:44150"),
		},
		Logging: LoggingSettings{
			Level: s.getString("logLevel", "INFO"),
		},
	}

	return settings, nil
}

// ScriptCheckThreads resolves -par into a worker count in
// [1, MaxScriptCheckThreads].
func (s *Settings) ScriptCheckThreads() int {
	n := s.Validation.ScriptCheckThreads
	if n <= 0 {
		n += runtime.NumCPU()
	}

	return clamp(n, 1, MaxScriptCheckThreads)
}

// CoinsCacheBytes is the byte budget of the coins cache.
func (s *Settings) CoinsCacheBytes() int64 {
	return int64(s.Utxo.DBCacheMB) << 20
}

// Path returns a file below the network data directory.
func (s *Settings) Path(name string) string {
	return filepath.Join(s.DataDir, name)
}
