// Package chain wraps go-ethereum's ethclient per configured network,
// exposing the narrow set of operations the deposit scanner, confirmation
// tracker, and payout executor need: current block height, chunked log
// queries, receipts, balances, and signed-transaction broadcast.
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

	"github.com/cryptostake/platform/pkg/config"
)

// maxLogRange bounds a single eth_getLogs call; public RPC providers commonly
// reject wider ranges, so the scanner must chunk larger backfills itself.
const maxLogRange = uint64(2000)

// Client wraps one chain's JSON-RPC endpoint.
type Client struct {
	Slug                  string
	ChainID               int64
	ConfirmationsRequired int

	eth *ethclient.Client
}

// Dial connects to cfg's RPC endpoint for the named chain slug.
func Dial(ctx context.Context, slug string, cc config.ChainConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cc.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain %s: dial: %w", slug, err)
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain %s: fetch chain id: %w", slug, err)
	}
	return &Client{
		Slug:                  slug,
		ChainID:               id.Int64(),
		ConfirmationsRequired: cc.ConfirmationsRequired,
		eth:                   eth,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// Raw exposes the underlying ethclient for callers that need go-ethereum
// types directly (the payout executor's transaction signing path).
func (c *Client) Raw() *ethclient.Client { return c.eth }

// CurrentBlock returns the chain's latest block number.
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, &TransientError{Op: "currentBlock", Err: err}
	}
	return n, nil
}

// Logs returns every log matching contract/topics between fromBlock and
// toBlock inclusive, issuing multiple eth_getLogs calls chunked to
// maxLogRange so wide backfills don't get rejected by the RPC provider.
func (c *Client) Logs(ctx context.Context, contract common.Address, topics [][]common.Hash, fromBlock, toBlock uint64) ([]types.Log, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("chain %s: logs: toBlock %d < fromBlock %d", c.Slug, toBlock, fromBlock)
	}

	var all []types.Log
	for start := fromBlock; start <= toBlock; start += maxLogRange {
		end := start + maxLogRange - 1
		if end > toBlock {
			end = toBlock
		}
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{contract},
			Topics:    topics,
		}
		logs, err := c.eth.FilterLogs(ctx, query)
		if err != nil {
			return nil, &TransientError{Op: "logs", Err: fmt.Errorf("range [%d,%d]: %w", start, end, err)}
		}
		all = append(all, logs...)
	}
	return all, nil
}

// Receipt returns a transaction's receipt, or ErrPending if it is not yet
// mined.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, txHash)
	if err == ethereum.NotFound {
		return nil, ErrPending
	}
	if err != nil {
		return nil, &TransientError{Op: "receipt", Err: err}
	}
	return r, nil
}

// Balance returns the native-asset balance of address at the latest block.
func (c *Client) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, &TransientError{Op: "balance", Err: err}
	}
	return bal, nil
}

// Send broadcasts a signed transaction and returns its hash and the nonce
// it consumed. Callers (the payout executor) are responsible for building
// and signing tx themselves via the shared nonce tracker.
func (c *Client) Send(ctx context.Context, signed *types.Transaction) (txHash string, nonce uint64, err error) {
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", 0, &TransientError{Op: "send", Err: err}
	}
	return signed.Hash().Hex(), signed.Nonce(), nil
}

// SuggestGasPrice proxies to the node's gas oracle, enforcing a 5 gwei
// floor so transactions on congested testnets don't stall indefinitely.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TransientError{Op: "gasPrice", Err: err}
	}
	floor := big.NewInt(5_000_000_000)
	if price.Cmp(floor) < 0 {
		price = floor
	}
	return price, nil
}

// PendingNonceAt returns the next nonce to use for address, accounting for
// pending (unconfirmed) transactions already in the mempool.
func (c *Client) PendingNonceAt(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, &TransientError{Op: "nonce", Err: err}
	}
	return nonce, nil
}

// Health reports whether the RPC endpoint is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.eth.BlockNumber(ctx)
	return err
}
