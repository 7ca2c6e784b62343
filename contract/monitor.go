// Package contract binds the on-chain GreenodeMonitor contract: registry
// reads, owner notifications, and efficiency rewards in GREEN tokens.
package contract

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// GreenodeMonitorABI covers the contract surface the monitor uses.
const GreenodeMonitorABI = `[
	{
		"inputs": [],
		"name": "REWARD_THRESHOLD",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "", "type": "address"}],
		"name": "contractRegistry",
		"outputs": [
			{"internalType": "address", "name": "owner", "type": "address"},
			{"internalType": "string", "name": "contactInfo", "type": "string"},
			{"internalType": "bool", "name": "notificationsEnabled", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "contractAddress", "type": "address"},
			{"internalType": "uint256", "name": "gasUsed", "type": "uint256"},
			{"internalType": "string", "name": "suggestion", "type": "string"}
		],
		"name": "notifyOptimization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "uint256", "name": "gasUsed", "type": "uint256"}
		],
		"name": "rewardEfficientTransaction",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "contractAddress", "type": "address"},
			{"internalType": "string", "name": "contactInfo", "type": "string"}
		],
		"name": "registerContract",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "contractAddress", "type": "address"}],
		"name": "toggleNotifications",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "totalSupply",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "symbol",
		"outputs": [{"internalType": "string", "name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Backend is the chain access the monitor adapter needs. *ethclient.Client
// satisfies it; tests substitute a fake.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Registration is a contractRegistry entry.
type Registration struct {
	Owner                common.Address
	ContactInfo          string
	NotificationsEnabled bool
}

// Registered reports whether the entry belongs to a registered contract.
// The registry returns the zero address for unknown contracts.
func (r Registration) Registered() bool {
	return r.Owner != (common.Address{})
}

// Monitor submits notifications and rewards to the GreenodeMonitor contract.
type Monitor struct {
	backend Backend
	address common.Address
	abi     abi.ABI
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	gasLim  uint64
	logger  *zap.Logger

	// Serializes writes so concurrent notifications do not race on the
	// pending nonce.
	writeMu sync.Mutex
}

// Config holds monitor contract configuration.
type Config struct {
	Address common.Address
	// PrivateKeyHex signs notification and reward transactions. Leave
	// empty for read-only operation.
	PrivateKeyHex string
	ChainID       *big.Int
	GasLimit      uint64
	Logger        *zap.Logger
}

// NewMonitor creates the contract adapter. A signing key is optional; without
// one all write operations fail.
func NewMonitor(backend Backend, cfg *Config) (*Monitor, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if cfg == nil || cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("contract address cannot be empty")
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain ID cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	parsedABI, err := abi.JSON(strings.NewReader(GreenodeMonitorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	gasLim := cfg.GasLimit
	if gasLim == 0 {
		gasLim = 200_000
	}

	m := &Monitor{
		backend: backend,
		address: cfg.Address,
		abi:     parsedABI,
		chainID: cfg.ChainID,
		gasLim:  gasLim,
		logger:  logger.Named("contract"),
	}

	if cfg.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		m.key = key
		m.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return m, nil
}

// Signer returns the address write transactions are sent from.
func (m *Monitor) Signer() common.Address {
	return m.from
}

// CanWrite reports whether a signing key was configured.
func (m *Monitor) CanWrite() bool {
	return m.key != nil
}

// Deployed checks that contract code exists at the configured address.
func (m *Monitor) Deployed(ctx context.Context) (bool, error) {
	code, err := m.backend.CodeAt(ctx, m.address, nil)
	if err != nil {
		return false, fmt.Errorf("failed to check contract code: %w", err)
	}
	return len(code) > 0, nil
}

// RewardThreshold reads REWARD_THRESHOLD. Transactions with gas usage below
// it earn a token reward.
func (m *Monitor) RewardThreshold(ctx context.Context) (*big.Int, error) {
	result, err := m.call(ctx, "REWARD_THRESHOLD")
	if err != nil {
		return nil, err
	}

	var threshold *big.Int
	if err := m.abi.UnpackIntoInterface(&threshold, "REWARD_THRESHOLD", result); err != nil {
		return nil, fmt.Errorf("failed to unpack REWARD_THRESHOLD result: %w", err)
	}
	return threshold, nil
}

// Registry reads the contractRegistry entry for address.
func (m *Monitor) Registry(ctx context.Context, address common.Address) (*Registration, error) {
	result, err := m.call(ctx, "contractRegistry", address)
	if err != nil {
		return nil, err
	}

	values, err := m.abi.Unpack("contractRegistry", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack contractRegistry result: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected contractRegistry result arity: %d", len(values))
	}

	reg := &Registration{}
	var ok bool
	if reg.Owner, ok = values[0].(common.Address); !ok {
		return nil, fmt.Errorf("unexpected contractRegistry owner type %T", values[0])
	}
	if reg.ContactInfo, ok = values[1].(string); !ok {
		return nil, fmt.Errorf("unexpected contractRegistry contactInfo type %T", values[1])
	}
	if reg.NotificationsEnabled, ok = values[2].(bool); !ok {
		return nil, fmt.Errorf("unexpected contractRegistry notificationsEnabled type %T", values[2])
	}
	return reg, nil
}

// TotalSupply reads the GREEN token supply.
func (m *Monitor) TotalSupply(ctx context.Context) (*big.Int, error) {
	result, err := m.call(ctx, "totalSupply")
	if err != nil {
		return nil, err
	}

	var supply *big.Int
	if err := m.abi.UnpackIntoInterface(&supply, "totalSupply", result); err != nil {
		return nil, fmt.Errorf("failed to unpack totalSupply result: %w", err)
	}
	return supply, nil
}

// Symbol reads the GREEN token symbol.
func (m *Monitor) Symbol(ctx context.Context) (string, error) {
	result, err := m.call(ctx, "symbol")
	if err != nil {
		return "", err
	}

	var symbol string
	if err := m.abi.UnpackIntoInterface(&symbol, "symbol", result); err != nil {
		return "", fmt.Errorf("failed to unpack symbol result: %w", err)
	}
	return symbol, nil
}

// NotifyOptimization sends an on-chain optimization notice to the owner of
// contractAddress.
func (m *Monitor) NotifyOptimization(ctx context.Context, contractAddress common.Address, gasUsed uint64, suggestion string) (common.Hash, error) {
	return m.transact(ctx, "notifyOptimization", contractAddress, new(big.Int).SetUint64(gasUsed), suggestion)
}

// RewardEfficientTransaction mints a GREEN reward for user.
func (m *Monitor) RewardEfficientTransaction(ctx context.Context, user common.Address, gasUsed uint64) (common.Hash, error) {
	return m.transact(ctx, "rewardEfficientTransaction", user, new(big.Int).SetUint64(gasUsed))
}

// RegisterContract enrolls contractAddress in the notification registry.
func (m *Monitor) RegisterContract(ctx context.Context, contractAddress common.Address, contactInfo string) (common.Hash, error) {
	return m.transact(ctx, "registerContract", contractAddress, contactInfo)
}

// ToggleNotifications flips the notification flag for contractAddress.
func (m *Monitor) ToggleNotifications(ctx context.Context, contractAddress common.Address) (common.Hash, error) {
	return m.transact(ctx, "toggleNotifications", contractAddress)
}

func (m *Monitor) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := m.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := m.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &m.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%s call returned no data", method)
	}
	return result, nil
}

func (m *Monitor) transact(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	if m.key == nil {
		return common.Hash{}, fmt.Errorf("no signing key configured for %s", method)
	}

	data, err := m.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	nonce, err := m.backend.PendingNonceAt(ctx, m.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get pending nonce: %w", err)
	}

	gasPrice, err := m.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &m.address,
		Gas:      m.gasLim,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(m.chainID), m.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign %s transaction: %w", method, err)
	}

	if err := m.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send %s transaction: %w", method, err)
	}

	m.logger.Info("submitted contract transaction",
		zap.String("method", method),
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.Uint64("nonce", nonce))

	return signedTx.Hash(), nil
}
