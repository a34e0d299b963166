package miner

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/crypto"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockassembly"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/wallet"
)

// stakeCandidate is a wallet output with the time of the block that
// created it.
type stakeCandidate struct {
	coin    wallet.Output
	outTime uint32
}

// kernel is a winning stake: the coin and the block time it wins at.
type kernel struct {
	coin    wallet.Output
	tryTime uint32
	hash    chainhash.Hash
}

// Stake runs one staking slot. It returns the hash of the block it staked,
// or nil when no kernel was found or staking is not possible yet.
func (m *Miner) Stake(ctx context.Context) (*chainhash.Hash, error) {
	if m.wallet == nil {
		return nil, errors.NewWalletError("staking needs a wallet")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	defer func() {
		prometheusKernelSearchTime.Observe(time.Since(start).Seconds())
	}()

	params := m.chain.Params()

	tip := m.chain.Tip()
	if tip == nil || tip.Height+1 <= params.LastPOWBlock {
		return nil, nil
	}

	if m.chain.IsInitialBlockDownload() {
		m.logger.Debugf("[Miner] not staking during initial block download")
		return nil, nil
	}

	if m.wallet.IsLocked() {
		m.logger.Debugf("[Miner] not staking, wallet is locked")
		return nil, nil
	}

	prometheusStakeAttempts.Inc()

	coins, err := m.wallet.StakeableCoins(tip.Height + 1)
	if err != nil {
		return nil, err
	}

	coins = selectStakeCoins(coins, m.settings.Staking.ReserveBalance)

	var weight int64
	for _, c := range coins {
		weight += c.TxOut.Value
	}

	prometheusStakingWeight.Set(float64(weight) / float64(model.COIN))

	if len(coins) == 0 {
		return nil, nil
	}

	tmpl, err := m.assembler.NewBlockTemplate(ctx, nil, true)
	if err != nil {
		return nil, err
	}

	candidates := make([]stakeCandidate, 0, len(coins))

	for _, c := range coins {
		outBlock := m.chain.At(c.Height)
		if outBlock == nil {
			continue
		}

		candidates = append(candidates, stakeCandidate{coin: c, outTime: uint32(outBlock.BlockTime())})
	}

	from, to := m.searchWindow(tmpl)

	k, found := searchKernel(blockchain.ComputeStakeModifier(tmpl.Prev), tmpl.Block.Header.Bits,
		int64(params.StakeMinAge.Seconds()), candidates, from, to)
	if !found {
		return nil, nil
	}

	prometheusStakeKernels.Inc()

	block, err := m.stakeBlock(tmpl, k)
	if err != nil {
		return nil, err
	}

	bi, err := m.chain.ProcessNewBlock(ctx, block, true)
	if err != nil {
		prometheusStakeRejected.Inc()
		return nil, errors.NewProcessingError("[Miner] staked block %s refused", block.Header.Hash(), err)
	}

	return &bi.Hash, nil
}

// searchWindow returns the block times to try for tmpl: the hash drift
// window ending now, minus what an earlier slot already tried on the same
// parent.
func (m *Miner) searchWindow(tmpl *blockassembly.BlockTemplate) (uint32, uint32) {
	to := tmpl.Block.Header.Timestamp

	from := tmpl.MinTime
	if drift := uint32(m.chain.Params().HashDrift.Seconds()); to > drift && to-drift > from {
		from = to - drift
	}

	if m.lastTip == tmpl.Prev.Hash && m.lastSearch >= from {
		from = m.lastSearch + 1
	}

	m.lastTip = tmpl.Prev.Hash
	m.lastSearch = to

	return from, to
}

// selectStakeCoins keeps the outputs that may stake while reserve stays
// unstaked, smallest first.
func selectStakeCoins(coins []wallet.Output, reserve int64) []wallet.Output {
	var total int64
	for _, c := range coins {
		total += c.TxOut.Value
	}

	available := total - reserve
	if available <= 0 {
		return nil
	}

	sorted := append([]wallet.Output(nil), coins...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TxOut.Value < sorted[j].TxOut.Value
	})

	var (
		selected []wallet.Output
		sum      int64
	)

	for _, c := range sorted {
		if sum+c.TxOut.Value > available {
			break
		}

		selected = append(selected, c)
		sum += c.TxOut.Value
	}

	return selected
}

// searchKernel tries every candidate at every block time in [from, to],
// newest first, and returns the first kernel under the weighted target.
func searchKernel(modifier uint64, bits uint32, minAge int64, candidates []stakeCandidate, from, to uint32) (kernel, bool) {
	if from > to {
		return kernel{}, false
	}

	for tryTime := to; ; tryTime-- {
		for _, c := range candidates {
			if int64(tryTime)-int64(c.outTime) < minAge {
				continue
			}

			hash := blockchain.KernelHash(modifier, c.outTime, c.coin.OutPoint, tryTime)
			if blockchain.CheckKernelHash(hash, bits, c.coin.TxOut.Value) {
				return kernel{coin: c.coin, tryTime: tryTime, hash: hash}, true
			}
		}

		if tryTime == from {
			return kernel{}, false
		}
	}
}

// newCoinStake builds the unsigned coinstake spending the kernel coin. The
// reward goes back to the staked script, split in two outputs when the
// stake is at least splitThreshold.
func newCoinStake(coin wallet.Output, reward, splitThreshold int64) *model.Tx {
	tx := model.NewTx(model.TxVersion)

	op := coin.OutPoint
	tx.AddTxIn(model.NewTxIn(&op, nil))
	tx.AddTxOut(model.NewTxOut(0, nil))

	total := coin.TxOut.Value + reward
	pkScript := coin.TxOut.PkScript

	if splitThreshold > 0 && coin.TxOut.Value >= splitThreshold {
		half := total / 2
		tx.AddTxOut(model.NewTxOut(half, pkScript))
		tx.AddTxOut(model.NewTxOut(total-half, pkScript))
	} else {
		tx.AddTxOut(model.NewTxOut(total, pkScript))
	}

	return tx
}

// stakeBlock turns tmpl into a signed proof of stake block for k.
func (m *Miner) stakeBlock(tmpl *blockassembly.BlockTemplate, k kernel) (*model.Block, error) {
	params := m.chain.Params()
	pkScript := k.coin.TxOut.PkScript

	key, err := m.wallet.KeyForScript(pkScript)
	if err != nil {
		return nil, err
	}

	coinstake := newCoinStake(k.coin, params.BlockSubsidy(tmpl.Height)+tmpl.TotalFees, m.settings.Staking.SplitThreshold)

	sigScript, err := txscript.SignatureScript(coinstake, 0, pkScript, txscript.SigHashAll, key, compressedFor(key, pkScript))
	if err != nil {
		return nil, errors.NewProcessingError("[Miner] failed to sign coinstake", err)
	}

	coinstake.TxIn[0].SignatureScript = sigScript

	tmpl.AddCoinStake(coinstake)
	tmpl.Block.Header.Timestamp = k.tryTime

	hash := params.BlockHash(tmpl.Block.Header)
	if err := blockchain.SignBlock(tmpl.Block, hash, key); err != nil {
		return nil, err
	}

	m.logger.Infof("[Miner] kernel %s found for %s at %d", k.hash, k.coin.OutPoint, k.tryTime)

	return tmpl.Block, nil
}

// compressedFor reports whether pkScript pays to the compressed form of
// key.
func compressedFor(key *bec.PrivateKey, pkScript []byte) bool {
	dest, _ := txscript.ExtractDestination(pkScript)

	return bytes.Equal(crypto.Hash160(key.PubKey().SerialiseCompressed()), dest.Hash[:])
}
