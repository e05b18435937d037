package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// ClientOptions parameterise the ledger RPC client.
type ClientOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Client provides read access to the settlement ledger via Ethereum RPC.
type Client struct {
	opts      ClientOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewClient builds a new ledger client. The RPC connection is dialled
// lazily on first use.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	return &Client{opts: opts, logger: logger.With().Str("component", "chain_client").Logger()}
}

// Call executes a read-only contract call.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.callFrom(ctx, common.Address{}, to, data)
}

func (c *Client) callFrom(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	return client.CallContract(ctx, msg, nil)
}

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}
	return client.BlockNumber(ctx)
}

// FilterLogs queries confirmed event logs.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.FilterLogs(ctx, query)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	if c.opts.RPCURL == "" {
		return nil, errors.New("ledger rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Reader = (*Client)(nil)
