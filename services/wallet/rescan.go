package wallet

import (
	"context"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockchain"
	"golang.org/x/sync/errgroup"
)

// rescanWindow is the number of blocks read ahead in parallel.
const rescanWindow = 32

// Rescan replays the active chain from fromHeight into the wallet. Blocks
// are read concurrently and applied in height order.
func (w *Wallet) Rescan(ctx context.Context, fromHeight int32) error {
	tip := w.chain.Tip()
	if tip == nil {
		return nil
	}

	if fromHeight < 0 {
		fromHeight = 0
	}

	w.logger.Infof("[wallet] rescanning from height %d to %d", fromHeight, tip.Height)

	for start := fromHeight; start <= tip.Height; start += rescanWindow {
		end := min(start+rescanWindow-1, tip.Height)

		indexes := make([]*blockchain.BlockIndex, end-start+1)
		blocks := make([]*model.Block, len(indexes))

		g, gCtx := errgroup.WithContext(ctx)

		for i := range indexes {
			height := start + int32(i)

			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return err
				}

				bi := w.chain.At(height)
				if bi == nil {
					// the chain shrank under us; the observers catch up
					return nil
				}

				block, err := w.chain.ReadBlock(bi)
				if err != nil {
					return errors.NewStorageError("[wallet] failed to read block %d", height, err)
				}

				indexes[i], blocks[i] = bi, block

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		for i, block := range blocks {
			if block == nil {
				continue
			}

			w.mu.Lock()
			err := w.connectBlock(block, indexes[i])
			w.mu.Unlock()

			if err != nil {
				return err
			}
		}

		prometheusWalletRescanHeight.Set(float64(end))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.meta.BestHeight = tip.Height

	return w.saveMeta()
}
