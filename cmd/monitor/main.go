package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/greenode-labs/greenode-monitor/api"
	"github.com/greenode-labs/greenode-monitor/client"
	"github.com/greenode-labs/greenode-monitor/contract"
	"github.com/greenode-labs/greenode-monitor/dedup"
	"github.com/greenode-labs/greenode-monitor/energy"
	"github.com/greenode-labs/greenode-monitor/events"
	"github.com/greenode-labs/greenode-monitor/explorer"
	"github.com/greenode-labs/greenode-monitor/insight"
	"github.com/greenode-labs/greenode-monitor/internal/config"
	"github.com/greenode-labs/greenode-monitor/internal/logger"
	"github.com/greenode-labs/greenode-monitor/monitor"
	"github.com/greenode-labs/greenode-monitor/storage"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		rpcEndpoint = flag.String("rpc", "", "Chain HTTP RPC endpoint URL")
		wsEndpoint  = flag.String("ws", "", "Chain WebSocket endpoint URL")
		dbDSN       = flag.String("db", "", "MySQL data source name")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")

		enableAPI = flag.Bool("api", false, "Enable API server")
		apiHost   = flag.String("api-host", "", "API server host")
		apiPort   = flag.Int("api-port", 0, "API server port")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("greenode-monitor version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	applyFlags(cfg, *rpcEndpoint, *wsEndpoint, *dbDSN, *logLevel, *logFormat)
	applyAPIFlags(cfg, *enableAPI, *apiHost, *apiPort)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := initLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting monitor",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("rpc_endpoint", cfg.RPC.HTTPEndpoint),
		zap.String("ws_endpoint", cfg.RPC.WSEndpoint),
		zap.Duration("poll_interval", cfg.Monitor.PollInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info("Initializing components...")

	chainClient, err := client.NewClient(&client.Config{
		HTTPEndpoint: cfg.RPC.HTTPEndpoint,
		WSEndpoint:   cfg.RPC.WSEndpoint,
		Timeout:      cfg.RPC.Timeout,
		Logger:       log,
	})
	if err != nil {
		log.Fatal("Failed to create chain client", zap.Error(err))
	}
	defer chainClient.Close()

	log.Info("Connected to chain",
		zap.String("chain_id", chainClient.ChainID().String()),
	)

	store, err := storage.NewMySQLStore(cfg.Database.DSN, log)
	if err != nil {
		log.Fatal("Failed to create storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()

	log.Info("Storage initialized")

	var owners monitor.OwnerResolver
	if cfg.Explorer.BaseURL != "" {
		explorerClient, err := explorer.NewClient(&explorer.Config{
			BaseURL:           cfg.Explorer.BaseURL,
			APIKey:            cfg.Explorer.APIKey,
			Timeout:           cfg.Explorer.Timeout,
			RequestsPerSecond: cfg.Explorer.RequestsPerSecond,
			Logger:            log,
		})
		if err != nil {
			log.Fatal("Failed to create explorer client", zap.Error(err))
		}
		owners = explorerClient
		log.Info("Explorer client initialized",
			zap.String("base_url", cfg.Explorer.BaseURL),
		)
	} else {
		log.Info("Explorer lookups disabled, no base URL configured")
	}

	var notifier monitor.Notifier
	if cfg.Contract.Address != "" {
		contractMonitor, err := contract.NewMonitor(chainClient.EthClient(), &contract.Config{
			Address:       common.HexToAddress(cfg.Contract.Address),
			PrivateKeyHex: cfg.Contract.PrivateKey,
			ChainID:       chainClient.ChainID(),
			GasLimit:      cfg.Contract.GasLimit,
			Logger:        log,
		})
		if err != nil {
			log.Fatal("Failed to create contract monitor", zap.Error(err))
		}

		deployed, err := contractMonitor.Deployed(ctx)
		if err != nil {
			log.Warn("Failed to check contract deployment", zap.Error(err))
		} else if !deployed {
			log.Warn("No code at contract address, notifications will fail",
				zap.String("address", cfg.Contract.Address),
			)
		}

		notifier = contractMonitor
		log.Info("Contract monitor initialized",
			zap.String("address", cfg.Contract.Address),
			zap.Bool("can_write", contractMonitor.CanWrite()),
		)
	} else {
		log.Info("On-chain notifications disabled, no contract address configured")
	}

	insightClient := insight.NewClient(&insight.Config{
		Endpoint: cfg.Insight.Endpoint,
		Timeout:  cfg.Insight.Timeout,
		Logger:   log,
	})
	if insightClient.Enabled() {
		log.Info("Insight client initialized",
			zap.String("endpoint", cfg.Insight.Endpoint),
		)
	}

	ledger := dedup.NewLedger()
	bus := events.NewBus(cfg.Monitor.FanoutBuffer, log)
	defer bus.Close()
	window := events.NewWindow(cfg.Monitor.WindowSize, cfg.Monitor.WindowAge)
	metrics := monitor.NewMetrics("greenode", nil)

	pipeline, err := monitor.NewPipeline(&monitor.PipelineConfig{
		Model:           energy.NewModel(cfg.Energy.Model),
		Rules:           energy.NewRules(cfg.Energy.Rules),
		Ledger:          ledger,
		Store:           store,
		Chain:           notifier,
		Owners:          owners,
		Names:           chainClient,
		Insight:         insightClient,
		Bus:             bus,
		Window:          window,
		Metrics:         metrics,
		Logger:          log,
		MinSavingsPct:   cfg.Monitor.MinSavingsPct,
		HighPriorityPct: cfg.Monitor.HighPriorityPct,
		CallTimeout:     cfg.Monitor.CallTimeout,
	})
	if err != nil {
		log.Fatal("Failed to create pipeline", zap.Error(err))
	}

	service, err := monitor.NewService(chainClient, pipeline, ledger, &monitor.Config{
		PollInterval:   cfg.Monitor.PollInterval,
		ClearInterval:  cfg.Monitor.ClearInterval,
		ReceiptWait:    cfg.Monitor.ReceiptWait,
		ReconnectDelay: cfg.Monitor.ReconnectDelay,
		CallTimeout:    cfg.Monitor.CallTimeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to create monitor service", zap.Error(err))
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		log.Info("Initializing API server...")

		apiConfig := api.DefaultConfig()
		apiConfig.Host = cfg.API.Host
		apiConfig.Port = cfg.API.Port
		apiConfig.EnableCORS = cfg.API.EnableCORS
		if len(cfg.API.AllowedOrigins) > 0 {
			apiConfig.AllowedOrigins = cfg.API.AllowedOrigins
		}

		apiServer, err = api.NewServer(apiConfig, store, bus, window, log)
		if err != nil {
			log.Fatal("Failed to create API server", zap.Error(err))
		}

		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error("API server failed", zap.Error(err))
			}
		}()

		log.Info("API server started",
			zap.String("address", apiConfig.Address()),
		)
	}

	if err := service.Start(ctx); err != nil {
		log.Fatal("Failed to start monitor service", zap.Error(err))
	}

	log.Info("Monitor running")

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
	case <-ctx.Done():
	}

	log.Info("Shutting down gracefully...")
	cancel()

	service.Stop()

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			log.Error("Failed to stop API server gracefully", zap.Error(err))
		}
	}

	published, delivered, dropped := bus.Stats()
	log.Info("Final statistics",
		zap.Uint64("events_published", published),
		zap.Uint64("events_delivered", delivered),
		zap.Uint64("events_dropped", dropped),
		zap.Int("ledger_size", ledger.Len()),
	)

	log.Info("Monitor stopped")
}

// loadConfig loads configuration from file and environment variables
func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, rpcEndpoint, wsEndpoint, dbDSN, logLevel, logFormat string) {
	if rpcEndpoint != "" {
		cfg.RPC.HTTPEndpoint = rpcEndpoint
	}
	if wsEndpoint != "" {
		cfg.RPC.WSEndpoint = wsEndpoint
	}
	if dbDSN != "" {
		cfg.Database.DSN = dbDSN
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

// applyAPIFlags applies API-related command-line flags to configuration
func applyAPIFlags(cfg *config.Config, enableAPI bool, apiHost string, apiPort int) {
	if enableAPI {
		cfg.API.Enabled = true
	}
	if apiHost != "" {
		cfg.API.Host = apiHost
	}
	if apiPort > 0 {
		cfg.API.Port = apiPort
	}
}

// initLogger initializes the logger based on configuration
func initLogger(level, format string) (*zap.Logger, error) {
	if format == "json" || format == "production" {
		return logger.NewProduction()
	}

	cfg := logger.Config{
		Level:       level,
		Encoding:    "console",
		Development: true,
	}
	return logger.NewWithConfig(&cfg)
}
