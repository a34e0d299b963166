// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
)

// These variables are the chain proof-of-work and proof-of-stake limit
// parameters for each default network.
var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value a block can have for
	// the main network.  It is the value 2^236 - 1.
	mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 236), bigOne)

	// mainPosLimit is the highest proof of stake target.  It is the value
	// 2^232 - 1.
	mainPosLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 232), bigOne)

	// regressionPowLimit is the highest proof of work value a block can have
	// for the regression test network.  It is the value 2^255 - 1.
	regressionPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)
)

// Checkpoint identifies a known good point in the block chain.  Using
// checkpoints allows a few optimizations for old blocks during initial download
// and also prevents forks from old blocks.
type Checkpoint struct {
	Height int32
	Hash   *chainhash.Hash
}

// DNSSeed identifies a DNS seed.
type DNSSeed struct {
	// Host defines the hostname of the seed.
	Host string
}

// ZerocoinParams holds the consensus parameters of the zerocoin subsystem.
type ZerocoinParams struct {
	// StartHeight is the first height at which mints and spends are
	// accepted and the header carries an accumulator checkpoint.
	StartHeight int32

	// AccBlockInterval is the number of blocks between accumulator
	// checkpoint recalculations.
	AccBlockInterval int32

	// MintRequiredConfirmations is the depth a checkpoint must have before a
	// spend may cite it.
	MintRequiredConfirmations int32

	// MintPrimeRounds is the Miller-Rabin iteration count for pubcoin
	// validity.  It is consensus critical and never below
	// libzerocoin.MinPrimeRounds.
	MintPrimeRounds int

	// MaxSpendsPerTx bounds the number of zerocoin spends in one transaction.
	MaxSpendsPerTx int

	// MintFee is the fee required per minted coin.
	MintFee int64

	// Group holds the group parameters.
	Group *libzerocoin.Params
}

// Params defines a network by its parameters.  These parameters may be used
// by applications to differentiate networks as well as addresses and keys for
// one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// DataSubDir is the directory below the data directory holding this
	// network's state.  Empty for the main network.
	DataSubDir string

	// MessageStart is the magic prefix of every wire message and stored
	// block.
	MessageStart [4]byte

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// DNSSeeds defines a list of DNS seeds for the network that are used
	// as one method to discover peers.
	DNSSeeds []DNSSeed

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *model.Block

	// GenesisHash is the starting block hash.  It is a consensus constant and
	// is not recomputed from GenesisBlock.
	GenesisHash chainhash.Hash

	// PowLimit defines the highest allowed proof of work value for a block
	// as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// PosLimit is the highest allowed proof of stake target.
	PosLimit *big.Int

	// LastPOWBlock is the last height that may be mined with proof of work.
	LastPOWBlock int32

	// SkipPoWUntilLastPoW disables proof of work checks on headers at or
	// below LastPOWBlock.
	SkipPoWUntilLastPoW bool

	// PowNoRetargeting keeps the difficulty at PowLimitBits.
	PowNoRetargeting bool

	// MineBlocksOnDemand allows the CPU miner to generate blocks.
	MineBlocksOnDemand bool

	// TargetSpacing is the desired time between blocks.
	TargetSpacing time.Duration

	// TargetTimespan is the averaging window of the proof of stake
	// retarget.
	TargetTimespan time.Duration

	// DGWPastBlocks is the number of blocks averaged by Dark Gravity Wave.
	DGWPastBlocks int32

	// MaxFutureBlockTime is how far ahead of adjusted time a header may be.
	MaxFutureBlockTime time.Duration

	// CoinbaseMaturity is the number of blocks required before newly mined
	// or staked coins can be spent.
	CoinbaseMaturity int32

	// StakeMinAge is the minimum age of an output before it may stake.
	StakeMinAge time.Duration

	// StakeMinDepth is the minimum depth of an output before it may stake.
	StakeMinDepth int32

	// HashDrift is the width of the timestamp window searched by the
	// staker.
	HashDrift time.Duration

	// MaxBlockSize and MaxBlockSigOps bound the serialized size and the
	// signature operations of a block.
	MaxBlockSize   int
	MaxBlockSigOps int

	// BIP34Height is the height from which the coinbase must push the block
	// height.
	BIP34Height int32

	// Block version majority rule.
	EnforceBlockUpgradeMajority int
	RejectBlockOutdatedMajority int
	ToCheckBlockUpgradeMajority int

	// Checkpoints ordered from oldest to newest.
	Checkpoints []Checkpoint

	// Address encoding magics
	PubKeyHashAddrID byte
	ScriptHashAddrID byte
	PrivateKeyID     byte

	// BIP32 hierarchical deterministic extended key magics
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	// HDCoinType is the BIP44 coin type of wallet derivation paths.
	HDCoinType uint32

	// SporkPubKey verifies spork messages.
	SporkPubKey []byte

	// Zerocoin consensus parameters.
	Zerocoin ZerocoinParams
}

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Name:         "main",
	MessageStart: [4]byte{0x5d, 0x2a, 0x61, 0x8f},
	DefaultPort:  "44144",
	DNSSeeds: []DNSSeed{
		{"seed1.tessacoin.io"},
		{"seed2.tessacoin.io"},
	},

	// Chain parameters
	GenesisBlock:        &genesisBlock,
	GenesisHash:         genesisHash,
	PowLimit:            mainPowLimit,
	PowLimitBits:        0x1e0fffff,
	PosLimit:            mainPosLimit,
	LastPOWBlock:        200,
	SkipPoWUntilLastPoW: false,
	TargetSpacing:       time.Minute,
	TargetTimespan:      40 * time.Minute,
	DGWPastBlocks:       24,
	MaxFutureBlockTime:  3 * time.Minute,
	CoinbaseMaturity:    100,
	StakeMinAge:         time.Hour,
	StakeMinDepth:       60,
	HashDrift:           45 * time.Second,
	MaxBlockSize:        2000000,
	MaxBlockSigOps:      2000000 / 50,
	BIP34Height:         1,

	EnforceBlockUpgradeMajority: 750,
	RejectBlockOutdatedMajority: 950,
	ToCheckBlockUpgradeMajority: 1000,

	// Checkpoints ordered from oldest to newest.
	Checkpoints: []Checkpoint{
		{0, &genesisHash},
	},

	// Address encoding magics
	PubKeyHashAddrID: 0x41, // starts with T
	ScriptHashAddrID: 0x0d, // starts with 6
	PrivateKeyID:     0xd4,

	HDPrivateKeyID: [4]byte{0x02, 0x21, 0x31, 0x2b},
	HDPublicKeyID:  [4]byte{0x02, 0x2d, 0x25, 0x33},
	HDCoinType:     119,

	SporkPubKey: mustDecodeHex("024eeddb9fe99258f433d011979c94136803e1cf130632a7dfd06b8565cc2e46a6"),

	Zerocoin: ZerocoinParams{
		StartHeight:               201,
		AccBlockInterval:          10,
		MintRequiredConfirmations: 20,
		MintPrimeRounds:           libzerocoin.MinPrimeRounds,
		MaxSpendsPerTx:            7,
		MintFee:                   model.CENT,
		Group:                     libzerocoin.MainnetParams(libzerocoin.MinPrimeRounds),
	},
}

// TestNetParams defines the network parameters for the test network.
var TestNetParams = Params{
	Name:         "test",
	DataSubDir:   "testnet4",
	MessageStart: [4]byte{0x45, 0x76, 0x65, 0xba},
	DefaultPort:  "44146",
	DNSSeeds: []DNSSeed{
		{"testnet-seed.tessacoin.io"},
	},

	GenesisBlock:        &testNetGenesisBlock,
	GenesisHash:         testNetGenesisHash,
	PowLimit:            mainPowLimit,
	PowLimitBits:        0x1e0fffff,
	PosLimit:            mainPosLimit,
	LastPOWBlock:        200,
	SkipPoWUntilLastPoW: true,
	TargetSpacing:       time.Minute,
	TargetTimespan:      40 * time.Minute,
	DGWPastBlocks:       24,
	MaxFutureBlockTime:  3 * time.Minute,
	CoinbaseMaturity:    15,
	StakeMinAge:         time.Hour,
	StakeMinDepth:       15,
	HashDrift:           45 * time.Second,
	MaxBlockSize:        2000000,
	MaxBlockSigOps:      2000000 / 50,
	BIP34Height:         1,

	EnforceBlockUpgradeMajority: 51,
	RejectBlockOutdatedMajority: 75,
	ToCheckBlockUpgradeMajority: 100,

	Checkpoints: []Checkpoint{
		{0, &testNetGenesisHash},
	},

	PubKeyHashAddrID: 0x7f, // starts with t
	ScriptHashAddrID: 0x13,
	PrivateKeyID:     0xef,

	HDPrivateKeyID: [4]byte{0x3a, 0x80, 0x58, 0x37},
	HDPublicKeyID:  [4]byte{0x3a, 0x80, 0x61, 0xa0},
	HDCoinType:     1,

	SporkPubKey: mustDecodeHex("038b6c107abce949ab92ec3f900ca47f012e60b979facea942b1c9b9954cd9f840"),

	Zerocoin: ZerocoinParams{
		StartHeight:               201,
		AccBlockInterval:          10,
		MintRequiredConfirmations: 20,
		MintPrimeRounds:           libzerocoin.MinPrimeRounds,
		MaxSpendsPerTx:            7,
		MintFee:                   model.CENT,
		Group:                     libzerocoin.MainnetParams(libzerocoin.MinPrimeRounds),
	},
}

// RegressionNetParams defines the network parameters for the regression test
// network.
var RegressionNetParams = Params{
	Name:         "regtest",
	DataSubDir:   "regtest",
	MessageStart: [4]byte{0xa1, 0xcf, 0x7e, 0xac},
	DefaultPort:  "44148",
	DNSSeeds:     nil,

	GenesisBlock:        &regTestGenesisBlock,
	GenesisHash:         regTestGenesisHash,
	PowLimit:            regressionPowLimit,
	PowLimitBits:        0x207fffff,
	PosLimit:            regressionPowLimit,
	LastPOWBlock:        250,
	SkipPoWUntilLastPoW: false,
	PowNoRetargeting:    true,
	MineBlocksOnDemand:  true,
	TargetSpacing:       time.Minute,
	TargetTimespan:      40 * time.Minute,
	DGWPastBlocks:       24,
	MaxFutureBlockTime:  3 * time.Minute,
	CoinbaseMaturity:    100,
	StakeMinAge:         0,
	StakeMinDepth:       1,
	HashDrift:           45 * time.Second,
	MaxBlockSize:        2000000,
	MaxBlockSigOps:      2000000 / 50,
	BIP34Height:         1,

	EnforceBlockUpgradeMajority: 750,
	RejectBlockOutdatedMajority: 950,
	ToCheckBlockUpgradeMajority: 1000,

	Checkpoints: nil,

	PubKeyHashAddrID: 0x7f,
	ScriptHashAddrID: 0x13,
	PrivateKeyID:     0xef,

	HDPrivateKeyID: [4]byte{0x3a, 0x80, 0x58, 0x37},
	HDPublicKeyID:  [4]byte{0x3a, 0x80, 0x61, 0xa0},
	HDCoinType:     1,

	SporkPubKey: mustDecodeHex("023d26b33e8400a8de30bc040700a6b8be223a0588c30fd4e6062e58a126fa20c5"),

	Zerocoin: ZerocoinParams{
		StartHeight:               300,
		AccBlockInterval:          10,
		MintRequiredConfirmations: 20,
		MintPrimeRounds:           libzerocoin.MinPrimeRounds,
		MaxSpendsPerTx:            7,
		MintFee:                   model.CENT,
		Group:                     libzerocoin.RegtestParams(libzerocoin.MinPrimeRounds),
	},
}

// GetChainParams returns the parameters of a named network.
func GetChainParams(network string) (*Params, error) {
	switch strings.ToLower(network) {
	case "main", "mainnet":
		return &MainNetParams, nil
	case "test", "testnet":
		return &TestNetParams, nil
	case "regtest":
		return &RegressionNetParams, nil
	default:
		return nil, errors.NewConfigurationError("unknown network %s", network)
	}
}

// BlockHash returns the identifier of a header, mapping the genesis header
// to the GenesisHash constant.
func (p *Params) BlockHash(header *model.BlockHeader) chainhash.Hash {
	if header.HashPrevBlock == (chainhash.Hash{}) && *header == *p.GenesisBlock.Header {
		return p.GenesisHash
	}

	return header.Hash()
}

// BlockSubsidy returns the coinbase or coinstake reward at height.
func (p *Params) BlockSubsidy(height int32) int64 {
	switch {
	case height == 0:
		return 0
	case height <= p.LastPOWBlock && p.MineBlocksOnDemand:
		return 50 * model.COIN
	case height <= p.LastPOWBlock:
		return 250 * model.COIN
	case height < 525600:
		return 5 * model.COIN
	default:
		return 5 * model.COIN / 2
	}
}

// IsZerocoinActive reports whether zerocoin rules apply at height.
func (p *Params) IsZerocoinActive(height int32) bool {
	return height >= p.Zerocoin.StartHeight
}

// HeaderVersion returns the block version produced at height.
func (p *Params) HeaderVersion(height int32) int32 {
	if p.IsZerocoinActive(height) {
		return model.ZerocoinHeaderVersion
	}

	return 3
}

// CheckpointAt returns the checkpoint at height, if any.
func (p *Params) CheckpointAt(height int32) (*chainhash.Hash, bool) {
	for _, cp := range p.Checkpoints {
		if cp.Height == height {
			return cp.Hash, true
		}
	}

	return nil, false
}

// LastCheckpointHeight returns the height of the newest checkpoint, or -1.
func (p *Params) LastCheckpointHeight() int32 {
	if len(p.Checkpoints) == 0 {
		return -1
	}

	return p.Checkpoints[len(p.Checkpoints)-1].Height
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}

	return b
}
