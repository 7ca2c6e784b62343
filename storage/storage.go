// Package storage persists enriched transactions, optimization
// recommendations, and daily aggregate metrics behind a narrow interface.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by SaveTransaction when a record with the same
// transaction hash already exists. Callers treat it as a benign signal that
// the hash slipped past the dedup ledger, not as a failure.
var ErrDuplicate = errors.New("storage: duplicate record")

// Recommendation priorities.
const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
)

// StatusPending is the initial status of every recommendation. Later
// transitions (APPLIED, REJECTED) are driven by external tooling.
const StatusPending = "PENDING"

// TransactionRecord is the persisted form of an enriched transaction.
type TransactionRecord struct {
	Hash                string
	From                string
	To                  string
	GasUsed             uint64
	GasPrice            string
	BlockNumber         uint64
	Timestamp           time.Time
	EnergyImpactKWh     float64
	Input               string
	Suggestion          string
	PotentialSavingsPct float64
}

// Recommendation is a persisted optimization recommendation for a contract.
type Recommendation struct {
	ContractAddress     string
	Recommendation      string
	Category            string
	Priority            string
	PotentialSavingsPct float64
	Status              string
}

// DailyMetrics is one per-transaction contribution to the running daily
// aggregates. Rows are append-only; rollup happens at query time.
type DailyMetrics struct {
	Date              time.Time
	TotalGasUsed      uint64
	AverageGasPrice   float64
	TotalTransactions int
	EnergyImpactKWh   float64
	CarbonOffsetKg    float64
	L2AdoptionPct     float64
}

// Stats summarizes transaction activity over a query period.
type Stats struct {
	TotalTransactions int64
	AvgGasPrice       float64
	TotalGasUsed      uint64
	TotalEnergyKWh    float64
}

// Store is the persistence boundary used by the processing pipeline and the
// dashboard data API.
type Store interface {
	// SaveTransaction inserts a transaction record. Returns ErrDuplicate
	// when the hash is already stored.
	SaveTransaction(ctx context.Context, record *TransactionRecord) error

	// SaveRecommendation inserts an optimization recommendation.
	SaveRecommendation(ctx context.Context, rec *Recommendation) error

	// AppendDailyMetrics appends one aggregate metrics row.
	AppendDailyMetrics(ctx context.Context, metrics *DailyMetrics) error

	// RecentTransactions returns the most recent records, newest first.
	RecentTransactions(ctx context.Context, limit int) ([]TransactionRecord, error)

	// RecentRecommendations returns the most recent recommendations,
	// newest first.
	RecentRecommendations(ctx context.Context, limit int) ([]Recommendation, error)

	// TransactionStats aggregates activity over the trailing number of days.
	TransactionStats(ctx context.Context, days int) (*Stats, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
