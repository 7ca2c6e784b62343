// Package client wraps the Ethereum JSON-RPC surface the monitor needs: block
// and transaction reads over HTTP, and the pending-transaction stream over
// WebSocket.
package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Client wraps the Ethereum JSON-RPC clients with additional functionality.
// Reads go over the HTTP endpoint; subscriptions use the WebSocket endpoint.
type Client struct {
	ethClient *ethclient.Client
	rpcClient *rpc.Client
	wsClient  *rpc.Client
	chainID   *big.Int
	logger    *zap.Logger
}

// Config holds client configuration.
type Config struct {
	HTTPEndpoint string
	WSEndpoint   string
	Timeout      time.Duration
	Logger       *zap.Logger
}

// NewClient connects to both endpoints and verifies the HTTP connection.
// The WebSocket endpoint is optional; without it SubscribePendingTransactions
// returns an error and the poller is the only ingestion path.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.HTTPEndpoint == "" {
		return nil, fmt.Errorf("http endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.HTTPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	ethClient := ethclient.NewClient(rpcClient)

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to ping RPC endpoint: %w", err)
	}

	var wsClient *rpc.Client
	if cfg.WSEndpoint != "" {
		wsClient, err = rpc.DialContext(ctx, cfg.WSEndpoint)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("failed to connect to WebSocket endpoint: %w", err)
		}
	}

	logger.Info("connected to Ethereum RPC",
		zap.String("http_endpoint", cfg.HTTPEndpoint),
		zap.Bool("ws_enabled", wsClient != nil),
		zap.String("chain_id", chainID.String()))

	return &Client{
		ethClient: ethClient,
		rpcClient: rpcClient,
		wsClient:  wsClient,
		chainID:   chainID,
		logger:    logger,
	}, nil
}

// Ping verifies the connection to the RPC endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ethClient.ChainID(ctx)
	return err
}

// ChainID returns the chain ID observed at connect time.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// EthClient exposes the underlying go-ethereum client for contract bindings.
func (c *Client) EthClient() *ethclient.Client {
	return c.ethClient
}

// Close closes both connections.
func (c *Client) Close() {
	if c.ethClient != nil {
		c.ethClient.Close()
	}
	if c.wsClient != nil {
		c.wsClient.Close()
	}
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	blockNumber, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// BlockByNumber fetches a full block, including transactions.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	block, err := c.ethClient.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	return block, nil
}

// HeaderByNumber fetches a block header without its transactions.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, fmt.Errorf("failed to get header %d: %w", number, err)
	}
	return header, nil
}

// TransactionByHash fetches a transaction by its hash.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, isPending, err := c.ethClient.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), err)
	}
	return tx, isPending, nil
}

// TransactionReceipt fetches a transaction receipt.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.ethClient.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt for %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

// WaitMined polls for the receipt of hash until it is available or ctx
// expires. Pending transactions picked up from the mempool carry no gas
// usage, so processing has to wait for a receipt.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.ethClient.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			c.logger.Debug("receipt not yet available",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt of %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Sender recovers the sending address of tx.
func (c *Client) Sender(tx *types.Transaction) (common.Address, error) {
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover sender of %s: %w", tx.Hash().Hex(), err)
	}
	return from, nil
}

// SubscribePendingTransactions subscribes to newPendingTransactions over the
// WebSocket endpoint. The node delivers transaction hashes into ch.
func (c *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	if c.wsClient == nil {
		return nil, fmt.Errorf("websocket endpoint not configured")
	}

	sub, err := c.wsClient.EthSubscribe(ctx, ch, "newPendingTransactions")
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to pending transactions: %w", err)
	}
	return sub, nil
}

// BatchGetReceipts fetches multiple transaction receipts in a single batch
// request.
func (c *Client) BatchGetReceipts(ctx context.Context, hashes []common.Hash) ([]*types.Receipt, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	receipts := make([]*types.Receipt, len(hashes))
	batch := make([]rpc.BatchElem, len(hashes))

	for i, hash := range hashes {
		batch[i] = rpc.BatchElem{
			Method: "eth_getTransactionReceipt",
			Args:   []interface{}{hash},
			Result: &receipts[i],
		}
	}

	if err := c.rpcClient.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("batch call failed: %w", err)
	}

	for i, elem := range batch {
		if elem.Error != nil {
			c.logger.Error("failed to fetch receipt in batch",
				zap.String("tx_hash", hashes[i].Hex()),
				zap.Error(elem.Error))
			return nil, fmt.Errorf("failed to fetch receipt for %s: %w", hashes[i].Hex(), elem.Error)
		}
	}

	return receipts, nil
}
