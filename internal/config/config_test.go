package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := NewConfig()
	cfg.RPC.HTTPEndpoint = "http://localhost:8545"
	cfg.Database.DSN = "greenode:secret@tcp(localhost:3306)/greenode?parseTime=true"
	return cfg
}

// TestNewConfig tests creating a config with defaults
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}

	// Check defaults
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected default log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Monitor.PollInterval != 15*time.Second {
		t.Errorf("Expected default poll interval 15s, got %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.ClearInterval != time.Hour {
		t.Errorf("Expected default clear interval 1h, got %v", cfg.Monitor.ClearInterval)
	}
	if cfg.Monitor.WindowSize != 20 {
		t.Errorf("Expected default window size 20, got %d", cfg.Monitor.WindowSize)
	}
	if cfg.Monitor.WindowAge != 300*time.Second {
		t.Errorf("Expected default window age 300s, got %v", cfg.Monitor.WindowAge)
	}
	if cfg.Energy.Model.EnergyPerGas != 0.000002 {
		t.Errorf("Expected default energy per gas 0.000002, got %v", cfg.Energy.Model.EnergyPerGas)
	}
	if len(cfg.Energy.Rules.Bands) != 4 {
		t.Errorf("Expected 4 default classifier bands, got %d", len(cfg.Energy.Rules.Bands))
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing http endpoint",
			mutate:  func(c *Config) { c.RPC.HTTPEndpoint = "" },
			wantErr: true,
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "negative poll interval",
			mutate:  func(c *Config) { c.Monitor.PollInterval = -time.Second },
			wantErr: true,
		},
		{
			name:    "savings floor above 100",
			mutate:  func(c *Config) { c.Monitor.MinSavingsPct = 150 },
			wantErr: true,
		},
		{
			name: "high priority below savings floor",
			mutate: func(c *Config) {
				c.Monitor.MinSavingsPct = 30
				c.Monitor.HighPriorityPct = 20
			},
			wantErr: true,
		},
		{
			name: "non-total classifier",
			mutate: func(c *Config) {
				c.Energy.Rules.Bands[len(c.Energy.Rules.Bands)-1].Threshold = 1000
			},
			wantErr: true,
		},
		{
			name:    "no classifier bands",
			mutate:  func(c *Config) { c.Energy.Rules.Bands = nil },
			wantErr: true,
		},
		{
			name:    "key without contract address",
			mutate:  func(c *Config) { c.Contract.PrivateKey = "ac09" },
			wantErr: true,
		},
		{
			name: "api enabled with bad port",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 99999
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestLoadFromFile tests loading configuration from a YAML file
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
rpc:
  http_endpoint: http://localhost:8545
  ws_endpoint: ws://localhost:8546
database:
  dsn: greenode:secret@tcp(localhost:3306)/greenode?parseTime=true
monitor:
  poll_interval: 5s
  min_savings_pct: 12
energy:
  model:
    energy_per_gas: 0.000003
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RPC.WSEndpoint != "ws://localhost:8546" {
		t.Errorf("WSEndpoint = %q", cfg.RPC.WSEndpoint)
	}
	if cfg.Monitor.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.MinSavingsPct != 12 {
		t.Errorf("MinSavingsPct = %v", cfg.Monitor.MinSavingsPct)
	}
	if cfg.Energy.Model.EnergyPerGas != 0.000003 {
		t.Errorf("EnergyPerGas = %v", cfg.Energy.Model.EnergyPerGas)
	}
	// Unset fields fall back to defaults
	if cfg.Monitor.ClearInterval != time.Hour {
		t.Errorf("ClearInterval = %v", cfg.Monitor.ClearInterval)
	}
}

// TestLoadFromEnv tests environment variable overrides
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GREENODE_RPC_HTTP_ENDPOINT", "http://node:8545")
	t.Setenv("GREENODE_DB_DSN", "greenode:secret@tcp(db:3306)/greenode?parseTime=true")
	t.Setenv("GREENODE_POLL_INTERVAL", "7s")
	t.Setenv("GREENODE_HIGH_PRIORITY_PCT", "40")
	t.Setenv("GREENODE_API_ENABLED", "true")
	t.Setenv("GREENODE_API_PORT", "9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RPC.HTTPEndpoint != "http://node:8545" {
		t.Errorf("HTTPEndpoint = %q", cfg.RPC.HTTPEndpoint)
	}
	if cfg.Monitor.PollInterval != 7*time.Second {
		t.Errorf("PollInterval = %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.HighPriorityPct != 40 {
		t.Errorf("HighPriorityPct = %v", cfg.Monitor.HighPriorityPct)
	}
	if !cfg.API.Enabled || cfg.API.Port != 9090 {
		t.Errorf("API = %+v", cfg.API)
	}
}

// TestLoadFromEnv_Invalid tests that malformed env values are rejected
func TestLoadFromEnv_Invalid(t *testing.T) {
	t.Setenv("GREENODE_POLL_INTERVAL", "soon")

	cfg := &Config{}
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("LoadFromEnv() accepted malformed duration")
	}
}

// TestLoad_MissingFile tests loading a nonexistent config file
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() accepted missing file")
	}
}
