// Package energy derives per-transaction energy impact estimates and
// gas-efficiency optimization suggestions from observed gas usage.
package energy

import "math"

// ModelConfig holds the constants of the energy impact model.
// The defaults reflect an L2 rollup settling on Ethereum mainnet.
type ModelConfig struct {
	// EnergyPerGas is the estimated kWh consumed per unit of gas.
	EnergyPerGas float64 `yaml:"energy_per_gas"`

	// L2EfficiencyFactor scales base-layer energy down to the L2's share.
	L2EfficiencyFactor float64 `yaml:"l2_efficiency_factor"`

	// NetworkLoadFactor accounts for current network utilization.
	NetworkLoadFactor float64 `yaml:"network_load_factor"`

	// CarbonIntensity is the kg CO2 attributed per kWh, used for the
	// carbon offset estimate in daily metrics.
	CarbonIntensity float64 `yaml:"carbon_intensity"`
}

// DefaultModelConfig returns the model constants used in production.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		EnergyPerGas:       0.000002,
		L2EfficiencyFactor: 0.15,
		NetworkLoadFactor:  0.9,
		CarbonIntensity:    0.4,
	}
}

// Model computes energy impact estimates. The zero value is unusable;
// construct with NewModel.
type Model struct {
	cfg ModelConfig
}

// NewModel creates a Model from cfg, substituting defaults for unset fields.
func NewModel(cfg ModelConfig) *Model {
	def := DefaultModelConfig()
	if cfg.EnergyPerGas <= 0 {
		cfg.EnergyPerGas = def.EnergyPerGas
	}
	if cfg.L2EfficiencyFactor <= 0 {
		cfg.L2EfficiencyFactor = def.L2EfficiencyFactor
	}
	if cfg.NetworkLoadFactor <= 0 {
		cfg.NetworkLoadFactor = def.NetworkLoadFactor
	}
	if cfg.CarbonIntensity <= 0 {
		cfg.CarbonIntensity = def.CarbonIntensity
	}
	return &Model{cfg: cfg}
}

// Impact returns the estimated energy impact of a transaction in kWh,
// rounded to 4 decimal places. Deterministic and monotonically
// non-decreasing in gasUsed; gasUsed of 0 yields 0.
func (m *Model) Impact(gasUsed uint64) float64 {
	base := float64(gasUsed) * m.cfg.EnergyPerGas
	l2 := base * m.cfg.L2EfficiencyFactor
	final := l2 * m.cfg.NetworkLoadFactor
	return math.Round(final*10000) / 10000
}

// CarbonOffset returns the kg CO2 offset estimate for an energy impact
// expressed in kWh, rounded to 4 decimal places.
func (m *Model) CarbonOffset(impactKWh float64) float64 {
	return math.Round(impactKWh*m.cfg.CarbonIntensity*10000) / 10000
}
