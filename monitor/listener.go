package monitor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/greenode-labs/greenode-monitor/events"
)

// runListener consumes the pending-transaction feed. Only one notification
// is resolved at a time; hashes arriving while one is in flight are dropped,
// the poller backstops coverage. A dropped subscription is redialed with
// backoff.
func (s *Service) runListener(ctx context.Context) {
	defer s.wg.Done()

	for {
		if err := s.consumePending(ctx); err != nil {
			s.logger.Warn("pending subscription ended", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.ReconnectDelay):
		}
	}
}

func (s *Service) consumePending(ctx context.Context) error {
	hashes := make(chan common.Hash, 64)
	sub, err := s.chain.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	s.logger.Info("subscribed to pending transactions")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case hash := <-hashes:
			if !s.inflight.TryAcquire(1) {
				if m := s.pipeline.metrics; m != nil {
					m.PendingDropped.Inc()
				}
				s.logger.Debug("dropped pending notification",
					zap.String("tx_hash", hash.Hex()))
				continue
			}
			go func(h common.Hash) {
				defer s.inflight.Release(1)
				s.handlePending(ctx, h)
			}(hash)
		}
	}
}

// handlePending resolves one pending hash, waits for it to be mined, and
// feeds the mined data through the pipeline. Every failure is logged and
// swallowed; the feed keeps running.
func (s *Service) handlePending(ctx context.Context, hash common.Hash) {
	txCtx, cancel := s.callCtx(ctx)
	tx, _, err := s.chain.TransactionByHash(txCtx, hash)
	cancel()
	if err != nil {
		s.logger.Debug("failed to resolve pending transaction",
			zap.String("tx_hash", hash.Hex()),
			zap.Error(err))
		return
	}
	if tx.To() == nil {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.config.ReceiptWait)
	defer cancel()

	receipt, err := s.chain.WaitMined(waitCtx, hash)
	if err != nil {
		s.logger.Debug("pending transaction not mined in time",
			zap.String("tx_hash", hash.Hex()),
			zap.Error(err))
		return
	}

	from, err := s.chain.Sender(tx)
	if err != nil {
		s.logger.Warn("failed to recover sender",
			zap.String("tx_hash", hash.Hex()),
			zap.Error(err))
		return
	}

	headerCtx, headerCancel := s.callCtx(ctx)
	timestamp := time.Now().UTC()
	if header, err := s.chain.HeaderByNumber(headerCtx, receipt.BlockNumber.Uint64()); err == nil {
		timestamp = time.Unix(int64(header.Time), 0).UTC()
	}
	headerCancel()

	raw := events.RawTransaction{
		Hash:        hash,
		From:        from,
		To:          *tx.To(),
		GasUsed:     receipt.GasUsed,
		GasPrice:    tx.GasPrice(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Timestamp:   timestamp,
		Input:       tx.Data(),
	}

	if _, err := s.pipeline.Process(ctx, raw); err != nil {
		s.logger.Warn("pipeline rejected pending transaction",
			zap.String("tx_hash", hash.Hex()),
			zap.Error(err))
	}
}
