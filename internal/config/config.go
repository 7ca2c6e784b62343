// Package config provides configuration management for the monitor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/greenode-labs/greenode-monitor/energy"
)

// Config is the root configuration structure
type Config struct {
	RPC      RPCConfig      `yaml:"rpc"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Energy   EnergyConfig   `yaml:"energy"`
	Contract ContractConfig `yaml:"contract"`
	Explorer ExplorerConfig `yaml:"explorer"`
	Insight  InsightConfig  `yaml:"insight"`
	API      APIConfig      `yaml:"api"`
}

// RPCConfig holds chain endpoint configuration
type RPCConfig struct {
	// HTTPEndpoint serves block and transaction reads
	HTTPEndpoint string `yaml:"http_endpoint"`
	// WSEndpoint serves the pending-transaction subscription; optional
	WSEndpoint string        `yaml:"ws_endpoint,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DatabaseConfig holds persistent store configuration
type DatabaseConfig struct {
	// DSN is a go-sql-driver/mysql data source name
	DSN string `yaml:"dsn"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MonitorConfig holds ingestion and pipeline configuration
type MonitorConfig struct {
	// PollInterval is the latest-block polling cadence
	PollInterval time.Duration `yaml:"poll_interval"`
	// ClearInterval is the dedup ledger wholesale-clear cadence
	ClearInterval time.Duration `yaml:"clear_interval"`
	// ReceiptWait bounds the pending listener's wait for a mined receipt
	ReceiptWait time.Duration `yaml:"receipt_wait"`
	// ReconnectDelay is the backoff before redialing a dropped subscription
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// CallTimeout bounds each external call made by the producers and the pipeline
	CallTimeout time.Duration `yaml:"call_timeout"`
	// MinSavingsPct is the floor above which a recommendation is persisted
	MinSavingsPct float64 `yaml:"min_savings_pct"`
	// HighPriorityPct splits HIGH from MEDIUM recommendations
	HighPriorityPct float64 `yaml:"high_priority_pct"`
	// WindowSize is the rolling window entry cap for late subscribers
	WindowSize int `yaml:"window_size"`
	// WindowAge is the rolling window retention period
	WindowAge time.Duration `yaml:"window_age"`
	// FanoutBuffer is the per-subscriber delivery buffer size
	FanoutBuffer int `yaml:"fanout_buffer"`
}

// EnergyConfig holds the energy model and classifier configuration
type EnergyConfig struct {
	Model energy.ModelConfig `yaml:"model"`
	Rules energy.RulesConfig `yaml:"rules"`
}

// ContractConfig holds GreenodeMonitor contract configuration
type ContractConfig struct {
	// Address of the deployed GreenodeMonitor contract; empty disables
	// notifications and rewards
	Address string `yaml:"address,omitempty"`
	// PrivateKey signs notify and reward transactions
	PrivateKey string `yaml:"private_key,omitempty"`
	// GasLimit for write transactions
	GasLimit uint64 `yaml:"gas_limit"`
}

// ExplorerConfig holds block explorer API configuration
type ExplorerConfig struct {
	// BaseURL of a Basescan-compatible API; empty disables owner lookups
	BaseURL string        `yaml:"base_url,omitempty"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
	// RequestsPerSecond caps the explorer call rate
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// InsightConfig holds AI agent endpoint configuration
type InsightConfig struct {
	// Endpoint of the analysis service; empty disables insights
	Endpoint string        `yaml:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

// APIConfig holds HTTP API server configuration
type APIConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = 30 * time.Second
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Monitor defaults
	if c.Monitor.PollInterval == 0 {
		c.Monitor.PollInterval = 15 * time.Second
	}
	if c.Monitor.ClearInterval == 0 {
		c.Monitor.ClearInterval = time.Hour
	}
	if c.Monitor.ReceiptWait == 0 {
		c.Monitor.ReceiptWait = 2 * time.Minute
	}
	if c.Monitor.ReconnectDelay == 0 {
		c.Monitor.ReconnectDelay = 3 * time.Second
	}
	if c.Monitor.CallTimeout == 0 {
		c.Monitor.CallTimeout = 15 * time.Second
	}
	if c.Monitor.MinSavingsPct == 0 {
		c.Monitor.MinSavingsPct = 10
	}
	if c.Monitor.HighPriorityPct == 0 {
		c.Monitor.HighPriorityPct = 25
	}
	if c.Monitor.WindowSize == 0 {
		c.Monitor.WindowSize = 20
	}
	if c.Monitor.WindowAge == 0 {
		c.Monitor.WindowAge = 300 * time.Second
	}
	if c.Monitor.FanoutBuffer == 0 {
		c.Monitor.FanoutBuffer = 64
	}

	// Energy defaults
	if c.Energy.Model == (energy.ModelConfig{}) {
		c.Energy.Model = energy.DefaultModelConfig()
	}
	if len(c.Energy.Rules.Bands) == 0 {
		c.Energy.Rules = energy.DefaultRulesConfig()
	}

	// Contract defaults
	if c.Contract.GasLimit == 0 {
		c.Contract.GasLimit = 200_000
	}

	// Explorer defaults
	if c.Explorer.Timeout == 0 {
		c.Explorer.Timeout = 10 * time.Second
	}
	if c.Explorer.RequestsPerSecond == 0 {
		c.Explorer.RequestsPerSecond = 5
	}

	// Insight defaults
	if c.Insight.Timeout == 0 {
		c.Insight.Timeout = 15 * time.Second
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoint := os.Getenv("GREENODE_RPC_HTTP_ENDPOINT"); endpoint != "" {
		c.RPC.HTTPEndpoint = endpoint
	}
	if endpoint := os.Getenv("GREENODE_RPC_WS_ENDPOINT"); endpoint != "" {
		c.RPC.WSEndpoint = endpoint
	}
	if timeout := os.Getenv("GREENODE_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid GREENODE_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}

	// Database configuration
	if dsn := os.Getenv("GREENODE_DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}

	// Log configuration
	if level := os.Getenv("GREENODE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("GREENODE_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Monitor configuration
	if interval := os.Getenv("GREENODE_POLL_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid GREENODE_POLL_INTERVAL: %w", err)
		}
		c.Monitor.PollInterval = duration
	}
	if interval := os.Getenv("GREENODE_CLEAR_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid GREENODE_CLEAR_INTERVAL: %w", err)
		}
		c.Monitor.ClearInterval = duration
	}
	if pct := os.Getenv("GREENODE_MIN_SAVINGS_PCT"); pct != "" {
		val, err := strconv.ParseFloat(pct, 64)
		if err != nil {
			return fmt.Errorf("invalid GREENODE_MIN_SAVINGS_PCT: %w", err)
		}
		c.Monitor.MinSavingsPct = val
	}
	if pct := os.Getenv("GREENODE_HIGH_PRIORITY_PCT"); pct != "" {
		val, err := strconv.ParseFloat(pct, 64)
		if err != nil {
			return fmt.Errorf("invalid GREENODE_HIGH_PRIORITY_PCT: %w", err)
		}
		c.Monitor.HighPriorityPct = val
	}

	// Contract configuration
	if address := os.Getenv("GREENODE_CONTRACT_ADDRESS"); address != "" {
		c.Contract.Address = address
	}
	if key := os.Getenv("GREENODE_CONTRACT_PRIVATE_KEY"); key != "" {
		c.Contract.PrivateKey = key
	}

	// Explorer configuration
	if baseURL := os.Getenv("GREENODE_EXPLORER_BASE_URL"); baseURL != "" {
		c.Explorer.BaseURL = baseURL
	}
	if apiKey := os.Getenv("GREENODE_EXPLORER_API_KEY"); apiKey != "" {
		c.Explorer.APIKey = apiKey
	}

	// Insight configuration
	if endpoint := os.Getenv("GREENODE_INSIGHT_ENDPOINT"); endpoint != "" {
		c.Insight.Endpoint = endpoint
	}

	// API configuration
	if enabled := os.Getenv("GREENODE_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid GREENODE_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("GREENODE_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("GREENODE_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid GREENODE_API_PORT: %w", err)
		}
		c.API.Port = val
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if c.RPC.HTTPEndpoint == "" {
		return fmt.Errorf("RPC HTTP endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}

	// Validate database configuration
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate monitor configuration
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Monitor.ClearInterval <= 0 {
		return fmt.Errorf("clear interval must be positive")
	}
	if c.Monitor.MinSavingsPct < 0 || c.Monitor.MinSavingsPct > 100 {
		return fmt.Errorf("min savings percentage must be within [0, 100]")
	}
	if c.Monitor.HighPriorityPct < c.Monitor.MinSavingsPct {
		return fmt.Errorf("high priority percentage cannot be below the minimum savings percentage")
	}
	if c.Monitor.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive")
	}

	// Validate energy configuration
	if len(c.Energy.Rules.Bands) == 0 {
		return fmt.Errorf("classifier must define at least one band")
	}
	last := c.Energy.Rules.Bands[len(c.Energy.Rules.Bands)-1]
	if last.Threshold != 0 {
		return fmt.Errorf("final classifier band must have threshold 0")
	}

	// Validate contract configuration
	if c.Contract.PrivateKey != "" && c.Contract.Address == "" {
		return fmt.Errorf("contract private key set without a contract address")
	}

	// Validate API configuration
	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("API port must be within (0, 65535]")
		}
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for any missing values
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	// Load from file if provided
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load from environment variables (override file)
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
