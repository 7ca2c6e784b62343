package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ensRegistryAddress is the ENS registry, deployed at the same address on
// mainnet and test networks.
var ensRegistryAddress = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

const ensABI = `[
	{"name":"resolver","type":"function","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"name","type":"function","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"string"}]}
]`

var (
	ensOnce   sync.Once
	ensParsed abi.ABI
	ensErr    error
)

func ensAbi() (abi.ABI, error) {
	ensOnce.Do(func() {
		ensParsed, ensErr = abi.JSON(strings.NewReader(ensABI))
	})
	return ensParsed, ensErr
}

// ResolveName reverse-resolves addr to its ENS name. Returns an empty string
// with a nil error when no reverse record or resolver exists.
func (c *Client) ResolveName(ctx context.Context, addr common.Address) (string, error) {
	parsed, err := ensAbi()
	if err != nil {
		return "", fmt.Errorf("failed to parse ens abi: %w", err)
	}

	node := reverseNode(addr)

	input, err := parsed.Pack("resolver", node)
	if err != nil {
		return "", fmt.Errorf("failed to pack resolver call: %w", err)
	}
	out, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{
		To:   &ensRegistryAddress,
		Data: input,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to query ens registry: %w", err)
	}
	if len(out) == 0 {
		return "", nil
	}

	var resolver common.Address
	if err := parsed.UnpackIntoInterface(&resolver, "resolver", out); err != nil {
		return "", fmt.Errorf("failed to unpack resolver address: %w", err)
	}
	if resolver == (common.Address{}) {
		return "", nil
	}

	input, err = parsed.Pack("name", node)
	if err != nil {
		return "", fmt.Errorf("failed to pack name call: %w", err)
	}
	out, err = c.ethClient.CallContract(ctx, ethereum.CallMsg{
		To:   &resolver,
		Data: input,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to query ens resolver: %w", err)
	}
	if len(out) == 0 {
		return "", nil
	}

	var name string
	if err := parsed.UnpackIntoInterface(&name, "name", out); err != nil {
		return "", fmt.Errorf("failed to unpack ens name: %w", err)
	}
	return name, nil
}

// reverseNode computes the namehash of "<addr-hex>.addr.reverse".
func reverseNode(addr common.Address) [32]byte {
	return namehash(strings.ToLower(common.Bytes2Hex(addr.Bytes())), "addr", "reverse")
}

// namehash folds labels right to left per EIP-137.
func namehash(labels ...string) [32]byte {
	var node common.Hash
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256([]byte(labels[i]))
		node = crypto.Keccak256Hash(node.Bytes(), label)
	}
	return node
}
