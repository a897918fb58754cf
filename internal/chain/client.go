// Package chain implements the escrow contract adapter over go-ethereum:
// transaction submission and confirmation against the pool factory, the
// four authoritative flag reads, and operator key handling.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// ClientConfig holds connection parameters for the chain client.
type ClientConfig struct {
	RPCURL              string
	ChainID             int64
	FactoryAddress      string
	ConfirmTimeout      time.Duration
	ReceiptPollInterval time.Duration
}

// Client wraps an ethclient connection with the verified chain ID.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
}

// New dials the RPC endpoint and verifies the remote chain ID against the
// configured one, guarding against pointing a mainnet key at a testnet.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	remoteID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if cfg.ChainID != 0 && remoteID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: endpoint reports chain id %d, config expects %d", remoteID.Int64(), cfg.ChainID)
	}

	return &Client{eth: eth, chainID: remoteID}, nil
}

// Underlying returns the raw ethclient for sub-components.
func (c *Client) Underlying() *ethclient.Client {
	return c.eth
}

// ChainID returns the verified chain ID.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close closes the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
