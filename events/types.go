// Package events delivers enriched transaction records from the processing
// pipeline to registered observers without blocking ingestion.
package events

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/greenode-labs/greenode-monitor/energy"
)

// RawTransaction is a transaction as observed from a chain source, before
// enrichment. Immutable once constructed.
type RawTransaction struct {
	Hash        common.Hash    `json:"hash"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	GasUsed     uint64         `json:"gasUsed"`
	GasPrice    *big.Int       `json:"gasPrice"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   time.Time      `json:"timestamp"`
	Input       []byte         `json:"input"`
}

// EnrichedTransaction is a RawTransaction plus the derived energy and
// optimization metrics. Created once per unique hash by the pipeline and
// never mutated afterwards; observers receive it as a read-only snapshot.
type EnrichedTransaction struct {
	RawTransaction

	// EnergyImpactKWh is the derived energy impact estimate.
	EnergyImpactKWh float64 `json:"energyImpactKwh"`

	// Optimization is the rules engine classification.
	Optimization energy.Suggestion `json:"optimization"`

	// AIInsight is free-text analysis from the insight collaborator,
	// or a fixed unavailable sentinel when the collaborator failed.
	AIInsight string `json:"aiInsight,omitempty"`
}
