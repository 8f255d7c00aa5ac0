package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Client wraps an RPC connection and enforces the provider's maximum block
// range by splitting log queries into chunks.
type Client struct {
	eth      *ethclient.Client
	maxRange uint64
	timeout  time.Duration
	log      *zap.Logger
}

func Dial(ctx context.Context, rpcURL string, maxRange uint64, timeout time.Duration, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	if maxRange == 0 {
		maxRange = 500
	}
	return &Client{eth: eth, maxRange: maxRange, timeout: timeout, log: log}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// Backend exposes the underlying client for components that send transactions.
func (c *Client) Backend() *ethclient.Client {
	return c.eth
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.BlockNumber(ctx)
}

// BlockTime returns the timestamp of the given block.
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// FilterLogs fetches all logs emitted by address in [from, to], chunked so no
// single query spans more than maxRange blocks.
func (c *Client) FilterLogs(ctx context.Context, address common.Address, from, to uint64) ([]types.Log, error) {
	if from > to {
		return nil, nil
	}
	var out []types.Log
	for start := from; start <= to; start += c.maxRange {
		end := start + c.maxRange - 1
		if end > to {
			end = to
		}
		chunk, err := c.filterChunk(ctx, address, start, end)
		if err != nil {
			return nil, fmt.Errorf("logs [%d, %d]: %w", start, end, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (c *Client) filterChunk(ctx context.Context, address common.Address, from, to uint64) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
	})
}
