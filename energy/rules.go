package energy

import "math"

// Recommendation categories assigned by the rules engine.
const (
	CategoryBatchProcessing = "BATCH_PROCESSING"
	CategoryStorageAccess   = "STORAGE_ACCESS"
	CategoryCalldataPacking = "CALLDATA_PACKING"
	CategoryL2Migration     = "L2_MIGRATION"
)

// Suggestion is the output of the rules engine for a single transaction.
type Suggestion struct {
	// Text is the human-readable optimization suggestion.
	Text string

	// Category classifies the suggestion for downstream filtering.
	Category string

	// PotentialSavingsPct is the estimated gas savings in percent,
	// within [0, the band's cap].
	PotentialSavingsPct float64
}

// Band is one tier of the gas-usage classifier. A transaction falls into
// the first band whose Threshold it exceeds.
type Band struct {
	// Threshold is the exclusive lower gas bound for this band.
	// The final band must have Threshold 0 so the classifier is total.
	Threshold uint64 `yaml:"threshold"`

	// Suggestion is the template text emitted for this band.
	Suggestion string `yaml:"suggestion"`

	// Category labels recommendations produced from this band.
	Category string `yaml:"category"`

	// Multiplier converts the gas overhead fraction into a percentage.
	Multiplier float64 `yaml:"multiplier"`

	// Cap is the maximum savings percentage this band may report.
	Cap float64 `yaml:"cap"`
}

// RulesConfig holds the classifier tiers and the base transaction cost.
type RulesConfig struct {
	// BaseGas is the intrinsic cost of a plain transfer; gas at or below
	// this carries no optimizable overhead.
	BaseGas uint64 `yaml:"base_gas"`

	// Bands are evaluated in order; the first match wins.
	Bands []Band `yaml:"bands"`
}

// DefaultRulesConfig returns the four-tier production classifier.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		BaseGas: 21000,
		Bands: []Band{
			{
				Threshold:  2_000_000,
				Suggestion: "Consider implementing batch processing",
				Category:   CategoryBatchProcessing,
				Multiplier: 40,
				Cap:        30,
			},
			{
				Threshold:  1_500_000,
				Suggestion: "Optimize storage access patterns",
				Category:   CategoryStorageAccess,
				Multiplier: 30,
				Cap:        20,
			},
			{
				Threshold:  500_000,
				Suggestion: "Reduce calldata size and pack storage slots",
				Category:   CategoryCalldataPacking,
				Multiplier: 25,
				Cap:        15,
			},
			{
				Threshold:  0,
				Suggestion: "Evaluate L2 migration opportunity",
				Category:   CategoryL2Migration,
				Multiplier: 90,
				Cap:        85,
			},
		},
	}
}

// Rules is a pure, total classifier over gas usage. Construct with NewRules.
type Rules struct {
	cfg RulesConfig
}

// NewRules creates a Rules engine from cfg, substituting the default
// configuration when cfg has no bands.
func NewRules(cfg RulesConfig) *Rules {
	if len(cfg.Bands) == 0 {
		cfg = DefaultRulesConfig()
	}
	if cfg.BaseGas == 0 {
		cfg.BaseGas = DefaultRulesConfig().BaseGas
	}
	return &Rules{cfg: cfg}
}

// Suggest classifies gasUsed into a band and derives the potential savings
// percentage from the gas overhead above the base transaction cost. It
// never fails; gasUsed at or below BaseGas yields zero savings.
func (r *Rules) Suggest(gasUsed uint64) Suggestion {
	band := r.cfg.Bands[len(r.cfg.Bands)-1]
	for _, b := range r.cfg.Bands {
		if gasUsed > b.Threshold {
			band = b
			break
		}
	}

	var overhead float64
	if gasUsed > r.cfg.BaseGas {
		overhead = float64(gasUsed-r.cfg.BaseGas) / float64(gasUsed)
	}

	pct := math.Min(overhead*band.Multiplier, band.Cap)
	return Suggestion{
		Text:                band.Suggestion,
		Category:            band.Category,
		PotentialSavingsPct: math.Round(pct*100) / 100,
	}
}
