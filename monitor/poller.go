package monitor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/greenode-labs/greenode-monitor/events"
)

// runPoller fetches the latest block on a fixed interval and feeds its
// transactions through the pipeline. Transient failures are logged and the
// loop continues; a bad block never stops polling.
func (s *Service) runPoller(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	var lastPolled uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			polled, err := s.pollOnce(ctx, lastPolled)
			if err != nil {
				s.logger.Warn("poll failed", zap.Error(err))
				continue
			}
			lastPolled = polled
		}
	}
}

// pollOnce fetches the latest block if it advanced past lastPolled and
// processes its transactions. Returns the polled block number.
func (s *Service) pollOnce(ctx context.Context, lastPolled uint64) (uint64, error) {
	numCtx, cancel := s.callCtx(ctx)
	latest, err := s.chain.LatestBlockNumber(numCtx)
	cancel()
	if err != nil {
		return lastPolled, err
	}
	if latest == lastPolled {
		return lastPolled, nil
	}

	blockCtx, cancel := s.callCtx(ctx)
	block, err := s.chain.BlockByNumber(blockCtx, latest)
	cancel()
	if err != nil {
		return lastPolled, err
	}

	if m := s.pipeline.metrics; m != nil {
		m.LastBlockPolled.Set(float64(latest))
	}

	var included []*types.Transaction
	for _, tx := range block.Transactions() {
		// Contract creations have no recipient and are out of scope.
		if tx.To() == nil {
			continue
		}
		included = append(included, tx)
	}

	receipts := s.receiptsByHash(ctx, included)

	for _, tx := range included {
		raw, err := s.rawFromBlockTx(block, tx, receipts[tx.Hash()])
		if err != nil {
			s.logger.Warn("skipping unreadable transaction",
				zap.String("tx_hash", tx.Hash().Hex()),
				zap.Error(err))
			continue
		}

		if _, err := s.pipeline.Process(ctx, raw); err != nil {
			s.logger.Warn("pipeline rejected transaction",
				zap.String("tx_hash", tx.Hash().Hex()),
				zap.Error(err))
		}
	}

	s.logger.Debug("polled block",
		zap.Uint64("block", latest),
		zap.Int("transactions", block.Transactions().Len()))
	return latest, nil
}

// receiptsByHash batch-fetches receipts for the block's transactions so the
// pipeline sees actual gas consumption. Best effort; callers fall back to
// the transaction gas limit for any hash missing from the result.
func (s *Service) receiptsByHash(ctx context.Context, txs []*types.Transaction) map[common.Hash]*types.Receipt {
	if len(txs) == 0 {
		return nil
	}

	hashes := make([]common.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}

	batchCtx, cancel := s.callCtx(ctx)
	defer cancel()

	receipts, err := s.chain.BatchGetReceipts(batchCtx, hashes)
	if err != nil {
		s.logger.Debug("batch receipt fetch unavailable, using gas limits",
			zap.Error(err))
		return nil
	}

	out := make(map[common.Hash]*types.Receipt, len(receipts))
	for _, receipt := range receipts {
		if receipt != nil {
			out[receipt.TxHash] = receipt
		}
	}
	return out
}

func (s *Service) rawFromBlockTx(block *types.Block, tx *types.Transaction, receipt *types.Receipt) (events.RawTransaction, error) {
	from, err := s.chain.Sender(tx)
	if err != nil {
		return events.RawTransaction{}, err
	}

	gasUsed := tx.Gas()
	if receipt != nil {
		gasUsed = receipt.GasUsed
	}

	return events.RawTransaction{
		Hash:        tx.Hash(),
		From:        from,
		To:          *tx.To(),
		GasUsed:     gasUsed,
		GasPrice:    tx.GasPrice(),
		BlockNumber: block.NumberU64(),
		Timestamp:   time.Unix(int64(block.Time()), 0).UTC(),
		Input:       tx.Data(),
	}, nil
}
