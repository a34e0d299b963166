package blockchain

import (
	"context"
	"net/http"
	"time"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util/health"
)

// Server runs the chain state as a node service: it loads the chain on
// Init, flushes periodically while running and flushes fully on Stop.
type Server struct {
	logger     ulogger.Logger
	chainState *ChainState
}

func New(logger ulogger.Logger, chainState *ChainState) *Server {
	return &Server{
		logger:     logger,
		chainState: chainState,
	}
}

func (s *Server) ChainState() *ChainState {
	return s.chainState
}

func (s *Server) Init(ctx context.Context) error {
	return s.chainState.Load(ctx)
}

// Start blocks until ctx is done.
func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	// periodic flushes are cheap when nothing is due
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	close(readyCh)

	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("[chain] stopping periodic flush")
			return nil
		case <-ticker.C:
			if err := s.chainState.FlushStateToDisk(ctx, FlushPeriodic); err != nil {
				s.logger.Errorf("[chain] periodic flush failed: %v", err)

				if errors.IsFatal(err) {
					return err
				}
			}
		}
	}
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.chainState.Stop(); err != nil {
		s.logger.Debugf("[chain] %v", err)
	}

	return s.chainState.Close(ctx)
}

func (s *Server) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	cs := s.chainState

	checks := []health.Check{
		{Name: "BlockIndex", Check: cs.treeDB.Health},
		{Name: "CoinsDB", Check: cs.coinsDB.Health},
		{Name: "ZerocoinDB", Check: cs.zcStore.Health},
		{Name: "ChainTip", Check: health.CheckFunc(func(context.Context) error {
			if cs.Tip() == nil {
				return errors.NewServiceUnavailableError("no active chain")
			}

			return nil
		})},
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}
