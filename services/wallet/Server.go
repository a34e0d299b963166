package wallet

import (
	"context"
	"net/http"
	"time"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util/health"
)

const resendInterval = 5 * time.Minute

// Server runs the wallet: it opens the wallet, catches up with the chain
// and periodically resends unconfirmed wallet transactions.
type Server struct {
	logger ulogger.Logger
	wallet *Wallet
}

func NewServer(logger ulogger.Logger, wallet *Wallet) *Server {
	return &Server{
		logger: logger,
		wallet: wallet,
	}
}

func (s *Server) Wallet() *Wallet {
	return s.wallet
}

// Init opens the wallet and replays the blocks it has not seen. A rescan
// request replays from the wallet's birth height.
func (s *Server) Init(ctx context.Context) error {
	w := s.wallet

	if err := w.Open(ctx); err != nil {
		return errors.NewServiceError("[wallet] failed to open wallet", err)
	}

	tip := w.chain.Tip()
	if tip == nil {
		return nil
	}

	from := w.BestHeight() + 1

	if w.settings.Wallet.Rescan {
		w.mu.RLock()
		from = w.meta.BirthHeight
		w.mu.RUnlock()
	}

	if from > tip.Height {
		return nil
	}

	if err := w.Rescan(ctx, from); err != nil {
		return errors.NewServiceError("[wallet] rescan failed", err)
	}

	return nil
}

// Start blocks until ctx is done.
func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	ticker := time.NewTicker(resendInterval)
	defer ticker.Stop()

	close(readyCh)

	s.wallet.updateBalanceMetrics()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.wallet.ResendUnconfirmed(ctx); n > 0 {
				s.logger.Infof("[wallet] resent %d transactions", n)
			}
		}
	}
}

func (s *Server) Stop(_ context.Context) error {
	if err := s.wallet.Flush(); err != nil {
		return errors.NewServiceError("[wallet] failed to flush wallet", err)
	}

	return nil
}

func (s *Server) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	checks := []health.Check{
		{Name: "Wallet", Check: health.CheckFunc(func(context.Context) error {
			tip := s.wallet.chain.Tip()
			if tip == nil {
				return nil
			}

			// a wallet far behind the tip has missed block notifications
			if behind := tip.Height - s.wallet.BestHeight(); behind > 1 {
				return errors.NewServiceError("wallet is %d blocks behind the chain", behind)
			}

			return nil
		})},
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}
