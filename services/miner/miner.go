// Package miner produces blocks: the staker searches proof of stake kernels
// for the wallet's coins each slot, and on chains that allow it the CPU
// miner generates proof of work blocks on demand.
package miner

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockassembly"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/miner/cpuminer"
	"github.com/tessacoin/tessanode/services/wallet"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util/health"
)

// Chain is the chain state blocks are submitted to.
type Chain interface {
	Params() *chaincfg.Params
	Tip() *blockchain.BlockIndex
	At(height int32) *blockchain.BlockIndex
	IsInitialBlockDownload() bool
	ProcessNewBlock(ctx context.Context, block *model.Block, requested bool) (*blockchain.BlockIndex, error)
}

// Assembler builds block templates on the active tip.
type Assembler interface {
	NewBlockTemplate(ctx context.Context, payTo []byte, proofOfStake bool) (*blockassembly.BlockTemplate, error)
}

// StakeWallet is the wallet the staker spends from.
type StakeWallet interface {
	IsLocked() bool
	StakeableCoins(height int32) ([]wallet.Output, error)
	KeyForScript(pkScript []byte) (*bec.PrivateKey, error)
}

type Miner struct {
	logger    ulogger.Logger
	settings  *settings.Settings
	chain     Chain
	assembler Assembler
	wallet    StakeWallet

	// mu serializes block production between the staker and Generate
	mu sync.Mutex

	// lastSearch is the newest timestamp already tried on lastTip
	lastSearch uint32
	lastTip    chainhash.Hash
}

// NewMiner creates the block producer. wallet may be nil when the wallet
// is disabled, which disables staking.
func NewMiner(logger ulogger.Logger, tSettings *settings.Settings, chain Chain, assembler Assembler, w StakeWallet) *Miner {
	initPrometheusMetrics()

	return &Miner{
		logger:    logger,
		settings:  tSettings,
		chain:     chain,
		assembler: assembler,
		wallet:    w,
	}
}

func (m *Miner) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	checks := make([]health.Check, 0, 1)

	if m.stakingEnabled() {
		checks = append(checks, health.Check{Name: "Staker", Check: health.CheckFunc(func(context.Context) error {
			if m.wallet.IsLocked() {
				return errors.NewWalletLockedError("wallet is locked, staking paused")
			}

			return nil
		})})
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}

func (m *Miner) Init(_ context.Context) error {
	return nil
}

func (m *Miner) stakingEnabled() bool {
	return m.settings.Staking.Enabled && m.wallet != nil
}

// Start runs the staker once per slot until ctx is done.
func (m *Miner) Start(ctx context.Context, readyCh chan<- struct{}) error {
	close(readyCh)

	if !m.stakingEnabled() {
		m.logger.Infof("[Miner] staking disabled")
		<-ctx.Done()

		return nil
	}

	interval := m.settings.Staking.SlotInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	m.logger.Infof("[Miner] staking every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Infof("[Miner] Stopping staker as ctx is done")
			return nil

		case <-ticker.C:
			hash, err := m.Stake(ctx)

			switch {
			case err != nil && ctx.Err() == nil:
				m.logger.Warnf("[Miner] staking slot failed: %v", err)
			case hash != nil:
				m.logger.Infof("[Miner] staked block %s", hash)
			}
		}
	}
}

func (m *Miner) Stop(_ context.Context) error {
	m.logger.Infof("[Miner] Stopping miner")
	return nil
}

// Generate mines n proof of work blocks paying payTo and returns their
// hashes. It is only available on chains that mine blocks on demand.
func (m *Miner) Generate(ctx context.Context, n int, payTo []byte) ([]chainhash.Hash, error) {
	params := m.chain.Params()
	if !params.MineBlocksOnDemand {
		return nil, errors.NewInvalidArgumentError("[Miner] %s does not mine blocks on demand", params.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hashes := make([]chainhash.Hash, 0, n)

	for i := 0; i < n; i++ {
		start := time.Now()

		block, err := m.solveBlock(ctx, payTo)
		if err != nil {
			return hashes, err
		}

		bi, err := m.chain.ProcessNewBlock(ctx, block, true)
		if err != nil {
			return hashes, errors.NewProcessingError("[Miner] generated block %s refused", block.Header.Hash(), err)
		}

		prometheusBlockMined.Observe(time.Since(start).Seconds())
		prometheusBlocksGenerated.Inc()

		m.logger.Debugf("[Miner] generated block %d of %d: %s at height %d", i+1, n, bi.Hash, bi.Height)

		hashes = append(hashes, bi.Hash)
	}

	return hashes, nil
}

// solveBlock builds templates until one solves; a template whose nonce
// space runs out is replaced with one carrying the next extra nonce.
func (m *Miner) solveBlock(ctx context.Context, payTo []byte) (*model.Block, error) {
	for {
		tmpl, err := m.assembler.NewBlockTemplate(ctx, payTo, false)
		if err != nil {
			return nil, err
		}

		err = cpuminer.Solve(ctx, tmpl.Block.Header)

		switch {
		case err == nil:
			return tmpl.Block, nil
		case errors.Is(err, cpuminer.ErrNonceSpace):
			continue
		default:
			return nil, err
		}
	}
}
