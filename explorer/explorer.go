// Package explorer queries a Basescan-compatible block explorer API for
// contract metadata. All lookups are best effort: the monitor keeps running
// when the explorer is slow, rate limited, or unavailable.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client talks to a Basescan-compatible explorer API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Config holds explorer client configuration.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// ContractInfo describes how a contract came to exist on chain.
type ContractInfo struct {
	Address         common.Address `json:"address"`
	Creator         common.Address `json:"creator"`
	CreationTxHash  common.Hash    `json:"creationTxHash"`
	ContractName    string         `json:"contractName,omitempty"`
	CompilerVersion string         `json:"compilerVersion,omitempty"`
}

// NewClient creates an explorer client. Free-tier explorer keys allow 5
// requests per second, which is the default limit.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("explorer base URL cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger.Named("explorer"),
	}, nil
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// ContractCreation looks up the creator and creation transaction of a
// contract address.
func (c *Client) ContractCreation(ctx context.Context, address common.Address) (*ContractInfo, error) {
	params := url.Values{}
	params.Set("module", "contract")
	params.Set("action", "getcontractcreation")
	params.Set("contractaddresses", address.Hex())

	var result []struct {
		ContractAddress string `json:"contractAddress"`
		ContractCreator string `json:"contractCreator"`
		TxHash          string `json:"txHash"`
	}
	if err := c.call(ctx, params, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no creation info for %s", address.Hex())
	}

	return &ContractInfo{
		Address:        address,
		Creator:        common.HexToAddress(result[0].ContractCreator),
		CreationTxHash: common.HexToHash(result[0].TxHash),
	}, nil
}

// ContractName returns the verified source name of a contract, or an empty
// string when the source is not verified.
func (c *Client) ContractName(ctx context.Context, address common.Address) (string, error) {
	params := url.Values{}
	params.Set("module", "contract")
	params.Set("action", "getsourcecode")
	params.Set("address", address.Hex())

	var result []struct {
		ContractName    string `json:"ContractName"`
		CompilerVersion string `json:"CompilerVersion"`
	}
	if err := c.call(ctx, params, &result); err != nil {
		return "", err
	}
	if len(result) == 0 {
		return "", nil
	}
	return result[0].ContractName, nil
}

// IsContract reports whether the address holds deployed code, probed through
// the explorer's proxy to eth_getCode.
func (c *Client) IsContract(ctx context.Context, address common.Address) (bool, error) {
	params := url.Values{}
	params.Set("module", "proxy")
	params.Set("action", "eth_getCode")
	params.Set("address", address.Hex())
	params.Set("tag", "latest")

	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	body, err := c.get(ctx, params)
	if err != nil {
		return false, err
	}

	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("failed to decode explorer response: %w", err)
	}
	return resp.Result != "" && resp.Result != "0x", nil
}

func (c *Client) call(ctx context.Context, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := c.get(ctx, params)
	if err != nil {
		return err
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode explorer response: %w", err)
	}
	if resp.Status != "1" {
		return fmt.Errorf("explorer API error: %s", resp.Message)
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to decode explorer result: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build explorer request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read explorer response: %w", err)
	}
	return body, nil
}
