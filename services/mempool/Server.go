package mempool

import (
	"context"
	"net/http"
	"time"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
	"github.com/tessacoin/tessanode/util/health"
)

const (
	feeEstimatesFile    = "fee_estimates.json"
	maintenanceInterval = time.Minute
)

// Server runs the mempool maintenance: expiry, the size limit, readmission
// after reorgs and the fee estimate file.
type Server struct {
	logger  ulogger.Logger
	mempool *TxMempool
}

func NewServer(logger ulogger.Logger, mempool *TxMempool) *Server {
	return &Server{
		logger:  logger,
		mempool: mempool,
	}
}

func (s *Server) Mempool() *TxMempool {
	return s.mempool
}

func (s *Server) Init(ctx context.Context) error {
	path := s.mempool.settings.Path(feeEstimatesFile)

	if err := s.mempool.estimator.Load(path); err != nil {
		// estimates are rebuilt from new blocks
		s.logger.Warnf("[mempool] ignoring fee estimates: %v", err)
	}

	return nil
}

// Start blocks until ctx is done.
func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	close(readyCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.mempool.resurrectCh:
			s.mempool.processResurrected(ctx)
		case <-ticker.C:
			s.maintain()
		}
	}
}

func (s *Server) maintain() {
	mp := s.mempool

	mp.Expire(time.Now().Add(-mp.settings.Mempool.Expiry))
	mp.TrimToSize(mp.settings.Mempool.MaxMempoolMB * 1000000)
}

func (s *Server) Stop(_ context.Context) error {
	path := s.mempool.settings.Path(feeEstimatesFile)

	if err := s.mempool.estimator.Save(path); err != nil {
		return errors.NewServiceError("[mempool] failed to save fee estimates", err)
	}

	return nil
}

func (s *Server) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	checks := []health.Check{
		{Name: "Mempool", Check: health.CheckFunc(func(context.Context) error {
			limit := s.mempool.settings.Mempool.MaxMempoolMB * 1000000
			if usage := s.mempool.DynamicMemoryUsage(); usage > limit {
				return errors.NewThresholdExceededError("mempool uses %d bytes, limit %d", usage, limit)
			}

			return nil
		})},
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}
