package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/greenode-labs/greenode-monitor/contract"
	"github.com/greenode-labs/greenode-monitor/dedup"
	"github.com/greenode-labs/greenode-monitor/energy"
	"github.com/greenode-labs/greenode-monitor/events"
	"github.com/greenode-labs/greenode-monitor/explorer"
	"github.com/greenode-labs/greenode-monitor/insight"
	"github.com/greenode-labs/greenode-monitor/storage"
)

// Notifier is the on-chain contract surface the pipeline drives.
// *contract.Monitor satisfies it.
type Notifier interface {
	RewardThreshold(ctx context.Context) (*big.Int, error)
	Registry(ctx context.Context, address common.Address) (*contract.Registration, error)
	NotifyOptimization(ctx context.Context, contractAddress common.Address, gasUsed uint64, suggestion string) (common.Hash, error)
	RewardEfficientTransaction(ctx context.Context, user common.Address, gasUsed uint64) (common.Hash, error)
	CanWrite() bool
}

// OwnerResolver looks up contract-owner metadata from a block explorer.
// *explorer.Client satisfies it.
type OwnerResolver interface {
	ContractCreation(ctx context.Context, address common.Address) (*explorer.ContractInfo, error)
}

// NameResolver reverse-resolves an address to an ENS name. *client.Client
// satisfies it. Empty name with nil error means no record exists.
type NameResolver interface {
	ResolveName(ctx context.Context, addr common.Address) (string, error)
}

// Insighter produces free-text analysis for a processed transaction.
// *insight.Client satisfies it.
type Insighter interface {
	TransactionInsight(ctx context.Context, data insight.TransactionData) string
	Enabled() bool
}

// Pipeline turns a raw transaction into an enriched record and drives the
// persistence, notification, and reward side effects exactly once per hash.
//
// Persistence is the commit point: when the store reports a duplicate row,
// every conditional side effect after it is skipped so a hash that slipped
// past a cleared ledger cannot notify or reward twice. The record is still
// delivered to subscribers so late observers see it.
type Pipeline struct {
	model   *energy.Model
	rules   *energy.Rules
	ledger  *dedup.Ledger
	store   storage.Store
	chain   Notifier
	owners  OwnerResolver
	names   NameResolver
	insight Insighter
	bus     *events.Bus
	window  *events.Window
	metrics *Metrics
	logger  *zap.Logger

	// minSavingsPct is the recommendation floor; highPriorityPct splits
	// HIGH from MEDIUM.
	minSavingsPct   float64
	highPriorityPct float64

	// rewardThreshold is read from the contract once at startup.
	rewardThreshold *big.Int

	callTimeout time.Duration
}

// PipelineConfig wires the pipeline's collaborators. Chain, Owners, Names,
// and Insight are optional; the corresponding steps become no-ops when
// absent.
type PipelineConfig struct {
	Model   *energy.Model
	Rules   *energy.Rules
	Ledger  *dedup.Ledger
	Store   storage.Store
	Chain   Notifier
	Owners  OwnerResolver
	Names   NameResolver
	Insight Insighter
	Bus     *events.Bus
	Window  *events.Window
	Metrics *Metrics
	Logger  *zap.Logger

	MinSavingsPct   float64
	HighPriorityPct float64
	RewardThreshold *big.Int
	CallTimeout     time.Duration
}

// NewPipeline creates a Pipeline. Model, Rules, Ledger, Store, Bus, and
// Window are required.
func NewPipeline(cfg *PipelineConfig) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Model == nil || cfg.Rules == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("model, rules, and ledger are required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Bus == nil || cfg.Window == nil {
		return nil, fmt.Errorf("bus and window are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	minSavings := cfg.MinSavingsPct
	if minSavings <= 0 {
		minSavings = 10
	}
	highPriority := cfg.HighPriorityPct
	if highPriority <= 0 {
		highPriority = 25
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}

	return &Pipeline{
		model:           cfg.Model,
		rules:           cfg.Rules,
		ledger:          cfg.Ledger,
		store:           cfg.Store,
		chain:           cfg.Chain,
		owners:          cfg.Owners,
		names:           cfg.Names,
		insight:         cfg.Insight,
		bus:             cfg.Bus,
		window:          cfg.Window,
		metrics:         cfg.Metrics,
		logger:          logger.Named("pipeline"),
		minSavingsPct:   minSavings,
		highPriorityPct: highPriority,
		rewardThreshold: cfg.RewardThreshold,
		callTimeout:     callTimeout,
	}, nil
}

// SetRewardThreshold installs the contract reward threshold. Called once at
// service startup, before any producer runs.
func (p *Pipeline) SetRewardThreshold(threshold *big.Int) {
	p.rewardThreshold = threshold
}

// Process runs raw through the pipeline. It returns (nil, nil) when the
// transaction was dropped by the dedup gate, and an error only when the
// initial persist failed for a reason other than a duplicate row.
func (p *Pipeline) Process(ctx context.Context, raw events.RawTransaction) (*events.EnrichedTransaction, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
			p.metrics.LedgerSize.Set(float64(p.ledger.Len()))
		}
	}()

	if !p.ledger.MarkSeen(raw.Hash) {
		p.count(outcomeDroppedSeen)
		p.logger.Debug("dropped already-seen transaction",
			zap.String("tx_hash", raw.Hash.Hex()))
		return nil, nil
	}

	impact := p.model.Impact(raw.GasUsed)
	suggestion := p.rules.Suggest(raw.GasUsed)

	enriched := &events.EnrichedTransaction{
		RawTransaction:  raw,
		EnergyImpactKWh: impact,
		Optimization:    suggestion,
	}

	fresh, err := p.persist(ctx, enriched)
	if err != nil {
		p.count(outcomeFailed)
		p.logger.Error("failed to persist transaction",
			zap.String("tx_hash", raw.Hash.Hex()),
			zap.Error(err))
		return nil, err
	}

	if fresh {
		p.recommend(ctx, enriched)
		p.resolveOwner(ctx, enriched)
		p.notifyOwner(ctx, enriched)
		p.reward(ctx, enriched)
		p.appendMetrics(ctx, enriched)
		p.annotate(ctx, enriched)
		p.count(outcomeProcessed)
		if p.metrics != nil {
			p.metrics.EnergyKWhTotal.Add(impact)
		}
	} else {
		p.count(outcomeDuplicateRow)
		p.logger.Info("transaction already stored, skipping side effects",
			zap.String("tx_hash", raw.Hash.Hex()))
	}

	p.window.Add(*enriched)
	p.bus.Publish(*enriched)

	return enriched, nil
}

// persist saves the transaction record. Returns false when the store already
// held the hash.
func (p *Pipeline) persist(ctx context.Context, tx *events.EnrichedTransaction) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	record := &storage.TransactionRecord{
		Hash:                tx.Hash.Hex(),
		From:                tx.From.Hex(),
		To:                  tx.To.Hex(),
		GasUsed:             tx.GasUsed,
		GasPrice:            bigString(tx.GasPrice),
		BlockNumber:         tx.BlockNumber,
		Timestamp:           tx.Timestamp,
		EnergyImpactKWh:     tx.EnergyImpactKWh,
		Input:               common.Bytes2Hex(tx.Input),
		Suggestion:          tx.Optimization.Text,
		PotentialSavingsPct: tx.Optimization.PotentialSavingsPct,
	}

	err := p.store.SaveTransaction(ctx, record)
	if errors.Is(err, storage.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// recommend persists an optimization recommendation when the savings clear
// the floor.
func (p *Pipeline) recommend(ctx context.Context, tx *events.EnrichedTransaction) {
	pct := tx.Optimization.PotentialSavingsPct
	if pct <= p.minSavingsPct {
		return
	}

	priority := storage.PriorityMedium
	if pct > p.highPriorityPct {
		priority = storage.PriorityHigh
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	err := p.store.SaveRecommendation(ctx, &storage.Recommendation{
		ContractAddress:     tx.To.Hex(),
		Recommendation:      tx.Optimization.Text,
		Category:            tx.Optimization.Category,
		Priority:            priority,
		PotentialSavingsPct: pct,
		Status:              storage.StatusPending,
	})
	if err != nil {
		p.countFailure(stageRecommend)
		p.logger.Warn("failed to save recommendation",
			zap.String("tx_hash", tx.Hash.Hex()),
			zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.RecommendationsSaved.WithLabelValues(priority).Inc()
	}
}

// resolveOwner looks up the recipient's creator through the explorer.
// Best effort.
func (p *Pipeline) resolveOwner(ctx context.Context, tx *events.EnrichedTransaction) {
	if p.owners == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	info, err := p.owners.ContractCreation(ctx, tx.To)
	if err != nil {
		p.countFailure(stageOwnerLookup)
		p.logger.Debug("owner lookup unavailable",
			zap.String("contract", tx.To.Hex()),
			zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("contract", tx.To.Hex()),
		zap.String("creator", info.Creator.Hex()),
	}
	if p.names != nil {
		if name, err := p.names.ResolveName(ctx, info.Creator); err == nil && name != "" {
			fields = append(fields, zap.String("creator_ens", name))
		}
	}
	p.logger.Debug("resolved contract creator", fields...)
}

// notifyOwner invokes the contract's notify entry point when the recipient
// is registered with notifications enabled. Best effort.
func (p *Pipeline) notifyOwner(ctx context.Context, tx *events.EnrichedTransaction) {
	if p.chain == nil || !p.chain.CanWrite() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	reg, err := p.chain.Registry(ctx, tx.To)
	if err != nil {
		p.countFailure(stageRegistry)
		p.logger.Warn("registry lookup failed",
			zap.String("contract", tx.To.Hex()),
			zap.Error(err))
		return
	}
	if !reg.Registered() || !reg.NotificationsEnabled {
		return
	}

	txHash, err := p.chain.NotifyOptimization(ctx, tx.To, tx.GasUsed, tx.Optimization.Text)
	if err != nil {
		p.countFailure(stageNotify)
		p.logger.Warn("failed to notify contract owner",
			zap.String("contract", tx.To.Hex()),
			zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.NotificationsSent.Inc()
	}
	p.logger.Info("notified contract owner",
		zap.String("contract", tx.To.Hex()),
		zap.String("notify_tx", txHash.Hex()))
}

// reward issues an efficiency reward to the sender when gas usage is below
// the contract threshold. Best effort.
func (p *Pipeline) reward(ctx context.Context, tx *events.EnrichedTransaction) {
	if p.chain == nil || !p.chain.CanWrite() || p.rewardThreshold == nil {
		return
	}
	if new(big.Int).SetUint64(tx.GasUsed).Cmp(p.rewardThreshold) >= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	txHash, err := p.chain.RewardEfficientTransaction(ctx, tx.From, tx.GasUsed)
	if err != nil {
		p.countFailure(stageReward)
		p.logger.Warn("failed to issue efficiency reward",
			zap.String("user", tx.From.Hex()),
			zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.RewardsIssued.Inc()
	}
	p.logger.Info("issued efficiency reward",
		zap.String("user", tx.From.Hex()),
		zap.Uint64("gas_used", tx.GasUsed),
		zap.String("reward_tx", txHash.Hex()))
}

// appendMetrics adds this transaction's contribution to the daily
// aggregates. Best effort.
func (p *Pipeline) appendMetrics(ctx context.Context, tx *events.EnrichedTransaction) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	var gasPrice float64
	if tx.GasPrice != nil {
		gasPrice, _ = new(big.Float).SetInt(tx.GasPrice).Float64()
	}

	err := p.store.AppendDailyMetrics(ctx, &storage.DailyMetrics{
		Date:              tx.Timestamp,
		TotalGasUsed:      tx.GasUsed,
		AverageGasPrice:   gasPrice,
		TotalTransactions: 1,
		EnergyImpactKWh:   tx.EnergyImpactKWh,
		CarbonOffsetKg:    p.model.CarbonOffset(tx.EnergyImpactKWh),
		L2AdoptionPct:     100,
	})
	if err != nil {
		p.countFailure(stageDailyMetrics)
		p.logger.Warn("failed to append daily metrics",
			zap.String("tx_hash", tx.Hash.Hex()),
			zap.Error(err))
	}
}

// annotate attaches AI analysis. Failures inside the insight client already
// degrade to a fixed fallback string.
func (p *Pipeline) annotate(ctx context.Context, tx *events.EnrichedTransaction) {
	if p.insight == nil || !p.insight.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	tx.AIInsight = p.insight.TransactionInsight(ctx, insight.TransactionData{
		GasUsed:      tx.GasUsed,
		EnergyImpact: tx.EnergyImpactKWh,
		To:           tx.To.Hex(),
	})
}

func (p *Pipeline) count(outcome string) {
	if p.metrics != nil {
		p.metrics.TransactionsProcessed.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) countFailure(stage string) {
	if p.metrics != nil {
		p.metrics.StepFailures.WithLabelValues(stage).Inc()
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
