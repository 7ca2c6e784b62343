// Package insight requests natural-language energy analysis from an external
// AI agent endpoint. The endpoint is best effort: any failure degrades to a
// fixed fallback message instead of blocking transaction processing.
package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Fallback messages returned when the agent endpoint is unavailable or
// responds without an analysis.
const (
	TransactionFallback = "Unable to analyze transaction at this time."
	NetworkFallback     = "Unable to analyze network metrics at this time."
)

// TransactionData describes one transaction for analysis.
type TransactionData struct {
	GasUsed      uint64  `json:"gasUsed"`
	EnergyImpact float64 `json:"energyImpact"`
	To           string  `json:"to"`
}

// NetworkData describes aggregate network metrics for analysis.
type NetworkData struct {
	TotalGasUsed      uint64  `json:"totalGasUsed"`
	AverageGasPrice   float64 `json:"averageGasPrice"`
	TotalTransactions int64   `json:"totalTransactions"`
	EnergyImpact      float64 `json:"energyImpact"`
}

// Client calls the AI agent endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds insight client configuration.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewClient creates an insight client. An empty endpoint disables analysis;
// every request then returns the fallback immediately.
func NewClient(cfg *Config) *Client {
	var (
		endpoint string
		timeout  = 15 * time.Second
		logger   = zap.NewNop()
	)
	if cfg != nil {
		endpoint = cfg.Endpoint
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		if cfg.Logger != nil {
			logger = cfg.Logger
		}
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("insight"),
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

// TransactionInsight analyzes one transaction. Never returns an error to the
// caller; failures come back as the fallback message.
func (c *Client) TransactionInsight(ctx context.Context, data TransactionData) string {
	analysis, err := c.analyze(ctx, "transaction", data)
	if err != nil {
		c.logger.Warn("transaction analysis unavailable", zap.Error(err))
		return TransactionFallback
	}
	if analysis == "" {
		return TransactionFallback
	}
	return analysis
}

// NetworkInsight analyzes aggregate network metrics.
func (c *Client) NetworkInsight(ctx context.Context, data NetworkData) string {
	analysis, err := c.analyze(ctx, "network", data)
	if err != nil {
		c.logger.Warn("network analysis unavailable", zap.Error(err))
		return NetworkFallback
	}
	if analysis == "" {
		return NetworkFallback
	}
	return analysis
}

func (c *Client) analyze(ctx context.Context, kind string, data interface{}) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("insight endpoint not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type": kind,
		"data": data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read analysis response: %w", err)
	}

	var result struct {
		Analysis string `json:"analysis"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode analysis response: %w", err)
	}
	return result.Analysis, nil
}
