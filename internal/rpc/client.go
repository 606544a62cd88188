// Package rpc wraps an Ethereum JSON-RPC client with a circuit breaker,
// per-call timeouts, retries and adaptive log range splitting.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ClientConfig configures the RPC client.
type ClientConfig struct {
	// URL is the http(s) or ws(s) endpoint.
	URL string

	// Timeout bounds each individual call.
	Timeout time.Duration

	// MaxRetries is how many times a failed call is retried.
	MaxRetries int

	// CircuitBreaker configures the breaker around every call.
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig configures the gobreaker settings.
type CircuitBreakerConfig struct {
	// MaxRequests is the number of requests allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state.
	Interval time.Duration

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// FailureThreshold is the consecutive failures that open the breaker.
	FailureThreshold uint32
}

// DefaultConfig returns defaults suitable for public endpoints. URL must be
// set by the caller.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// minRange is the smallest block span FilterLogs will split down to.
const minRange = 1

// Client is a resilient Ethereum RPC client.
type Client struct {
	eth *ethclient.Client
	cb  *gobreaker.CircuitBreaker
	cfg ClientConfig
}

// New dials the endpoint.
//
// Returns:
//   - *Client: the connected client
//   - error: nil on success, dial error on failure
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing rpc url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported rpc url scheme %q", u.Scheme)
	}

	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.Host, err)
	}

	threshold := cfg.CircuitBreaker.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rpc",
		MaxRequests: cfg.CircuitBreaker.MaxRequests,
		Interval:    cfg.CircuitBreaker.Interval,
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Range errors are the provider working as intended.
		IsSuccessful: func(err error) bool {
			return err == nil || isRangeTooLargeError(err) || errors.Is(err, ethereum.NotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Client{eth: eth, cb: cb, cfg: cfg}, nil
}

// call runs fn through the breaker with a per-attempt timeout, retrying
// with exponential backoff. Range errors and NotFound are returned without
// retry.
func call[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := 250 * time.Millisecond

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		res, err := c.cb.Execute(func() (interface{}, error) {
			callCtx := ctx
			if c.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
				defer cancel()
			}
			return fn(callCtx)
		})
		if err == nil {
			return res.(T), nil
		}
		if isRangeTooLargeError(err) || errors.Is(err, ethereum.NotFound) || ctx.Err() != nil {
			return zero, err
		}

		lastErr = err
		log.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("rpc call failed")
	}

	return zero, fmt.Errorf("%s after %d attempts: %w", op, c.cfg.MaxRetries+1, lastErr)
}

// ChainID returns the network chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, "eth_chainId", c.eth.ChainID)
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, "eth_blockNumber", c.eth.BlockNumber)
}

// HeaderByNumber returns a block header. A nil number is the latest block.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return call(ctx, c, "eth_getBlockByNumber", func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, number)
	})
}

// FilterLogs returns logs matching q. When the provider rejects the block
// range, the range is split in half and each half is fetched in order.
//
// Returns:
//   - []types.Log: logs in provider order
//   - error: nil on success, RPC error otherwise
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := call(ctx, c, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return c.eth.FilterLogs(ctx, q)
	})
	if err == nil || !isRangeTooLargeError(err) {
		return logs, err
	}
	if q.FromBlock == nil || q.ToBlock == nil {
		return nil, err
	}

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if to-from < minRange {
		return nil, fmt.Errorf("block range %d-%d cannot be split further: %w", from, to, err)
	}

	mid := from + (to-from)/2
	log.Debug().Uint64("from", from).Uint64("to", to).Uint64("mid", mid).Msg("splitting log range")

	left := q
	left.FromBlock = new(big.Int).SetUint64(from)
	left.ToBlock = new(big.Int).SetUint64(mid)
	first, err := c.FilterLogs(ctx, left)
	if err != nil {
		return nil, err
	}

	right := q
	right.FromBlock = new(big.Int).SetUint64(mid + 1)
	right.ToBlock = new(big.Int).SetUint64(to)
	second, err := c.FilterLogs(ctx, right)
	if err != nil {
		return nil, err
	}

	return append(first, second...), nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

var rangeTooLargePatterns = []string{
	"query returned more than",
	"block range too large",
	"exceed maximum block range",
	"too many results",
	"range too wide",
	"block range is too wide",
	"query timeout",
	"response too large",
	"max results",
	"limit exceeded",
}

// isRangeTooLargeError reports whether a provider rejected a getLogs call
// because of its block span.
func isRangeTooLargeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rangeTooLargePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
