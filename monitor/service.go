// Package monitor ingests transactions from two chain sources, derives
// energy and optimization metrics for each unique hash, and drives the
// persistence, notification, and reward side effects.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/greenode-labs/greenode-monitor/dedup"
)

// ChainSource is the chain access the producers need. *client.Client
// satisfies it.
type ChainSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BatchGetReceipts(ctx context.Context, hashes []common.Hash) ([]*types.Receipt, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Sender(tx *types.Transaction) (common.Address, error)
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
}

// Config holds monitor service configuration.
type Config struct {
	// PollInterval is the cadence of the latest-block poller.
	PollInterval time.Duration

	// ClearInterval bounds dedup ledger growth by clearing it wholesale.
	ClearInterval time.Duration

	// ReceiptWait bounds the pending listener's wait for a receipt.
	ReceiptWait time.Duration

	// ReconnectDelay is the backoff before redialing a dropped
	// pending-transaction subscription.
	ReconnectDelay time.Duration

	// CallTimeout bounds each chain call made by the producers. A hung
	// endpoint must never stall the poll or listener loops.
	CallTimeout time.Duration
}

// Validate validates the service configuration.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.ClearInterval <= 0 {
		return fmt.Errorf("clear interval must be positive")
	}
	return nil
}

// Service owns the two transaction producers and the shared pipeline. One
// instance is constructed at process start and runs until Stop.
type Service struct {
	chain    ChainSource
	pipeline *Pipeline
	ledger   *dedup.Ledger
	config   *Config
	logger   *zap.Logger

	// inflight enforces single-flight processing in the push listener.
	inflight *semaphore.Weighted

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a monitor service.
func NewService(chain ChainSource, pipeline *Pipeline, ledger *dedup.Ledger, cfg *Config, logger *zap.Logger) (*Service, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain source cannot be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.ReceiptWait <= 0 {
		cfg.ReceiptWait = 2 * time.Minute
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}

	return &Service{
		chain:    chain,
		pipeline: pipeline,
		ledger:   ledger,
		config:   cfg,
		logger:   logger.Named("monitor"),
		inflight: semaphore.NewWeighted(1),
	}, nil
}

// Start reads the contract reward threshold, then launches the poller, the
// pending listener, and the ledger clear loop. A failed threshold read is
// fatal; the reward gate cannot run without it.
func (s *Service) Start(ctx context.Context) error {
	if s.pipeline.chain != nil && s.pipeline.chain.CanWrite() && s.pipeline.rewardThreshold == nil {
		threshold, err := s.pipeline.chain.RewardThreshold(ctx)
		if err != nil {
			return fmt.Errorf("failed to read reward threshold: %w", err)
		}
		s.pipeline.SetRewardThreshold(threshold)
		s.logger.Info("loaded reward threshold",
			zap.String("threshold", threshold.String()))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(3)
	go s.runPoller(runCtx)
	go s.runListener(runCtx)
	go s.runClearLoop(runCtx)

	s.logger.Info("monitor started",
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Duration("clear_interval", s.config.ClearInterval))
	return nil
}

// Stop shuts down both producers and waits for in-flight work to settle.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("monitor stopped")
}

// callCtx derives a deadline-bounded context for one chain call.
func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.CallTimeout)
}

// runClearLoop clears the dedup ledger on a fixed interval. A cleared hash
// can re-enter the pipeline; the store's unique key keeps the re-run from
// repeating side effects.
func (s *Service) runClearLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ClearInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size := s.ledger.Len()
			s.ledger.Clear()
			s.logger.Info("cleared dedup ledger",
				zap.Int("evicted", size))
		}
	}
}
