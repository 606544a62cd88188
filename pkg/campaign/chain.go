package campaign

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultBlockTime is the spacing between simulated blocks in seconds.
const DefaultBlockTime = 2

// ErrUnknownCampaign is returned for calls to an address the factory never
// deployed.
var ErrUnknownCampaign = errors.New("unknown campaign")

// Chain is an in-memory chain hosting one factory and its campaigns. Every
// successful call is mined into its own block. Reverted calls mine nothing.
//
// Chain answers the read calls the indexer makes against an RPC node, so the
// whole pipeline can run without a network.
type Chain struct {
	mu sync.Mutex

	chainID   *big.Int
	factory   *Factory
	blockTime uint64

	headers  []*types.Header
	logs     []types.Log
	nextTime uint64
	balances map[common.Address]*big.Int

	filterErr error
}

// NewChain creates a chain with a genesis block at genesisTime and a
// factory deployed at factory.
func NewChain(chainID uint64, factory common.Address, genesisTime uint64) *Chain {
	genesis := &types.Header{
		Number:     new(big.Int),
		Time:       genesisTime,
		Difficulty: new(big.Int),
	}
	return &Chain{
		chainID:   new(big.Int).SetUint64(chainID),
		factory:   NewFactory(factory),
		blockTime: DefaultBlockTime,
		headers:   []*types.Header{genesis},
		nextTime:  genesisTime + DefaultBlockTime,
		balances:  make(map[common.Address]*big.Int),
	}
}

// Factory returns the hosted factory.
func (c *Chain) Factory() *Factory { return c.factory }

// Campaign returns the campaign at addr.
func (c *Chain) Campaign(addr common.Address) (*Campaign, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.factory.Campaign(addr)
}

// Now returns the timestamp the next block will carry.
func (c *Chain) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextTime
}

// Head returns the latest block number.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.headers) - 1)
}

// AdvanceTime moves the next block's timestamp forward by seconds.
func (c *Chain) AdvanceTime(seconds uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTime += seconds
}

// Mine appends n empty blocks.
func (c *Chain) Mine(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.mine(nil)
	}
}

// BalanceOf returns the native balance paid out to addr.
func (c *Chain) BalanceOf(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetFilterError makes FilterLogs fail with err until cleared with nil.
func (c *Chain) SetFilterError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterErr = err
}

// CreateCampaign sends a createCampaign transaction from sender. deadline is
// absolute; Now gives the time the transaction will carry.
func (c *Chain) CreateCampaign(from, beneficiary common.Address, goal *big.Int, deadline, withdrawalPeriod uint64, name string) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := c.tx(from, new(big.Int))
	camp, err := c.factory.CreateCampaign(tx, beneficiary, goal, deadline, withdrawalPeriod, name)
	if err != nil {
		return common.Address{}, err
	}
	camp.SetPayee(PayeeFunc(c.pay))
	c.mine(c.factory.Logs())
	return camp.Address(), nil
}

// Contribute sends value to campaign on behalf of onBehalfOf.
func (c *Chain) Contribute(from, campaign common.Address, value *big.Int, onBehalfOf common.Address) error {
	return c.call(campaign, from, value, func(camp *Campaign, tx Tx) error {
		return camp.Contribute(tx, onBehalfOf)
	})
}

// Finalize sends finalizeCampaignAfterDeadline.
func (c *Chain) Finalize(from, campaign common.Address) error {
	return c.call(campaign, from, nil, func(camp *Campaign, tx Tx) error {
		return camp.FinalizeCampaignAfterDeadline(tx)
	})
}

// Withdraw sends withdraw.
func (c *Chain) Withdraw(from, campaign common.Address) error {
	return c.call(campaign, from, nil, func(camp *Campaign, tx Tx) error {
		return camp.Withdraw(tx)
	})
}

// ClaimRefund sends claimRefund.
func (c *Chain) ClaimRefund(from, campaign, onBehalfOf common.Address) error {
	return c.call(campaign, from, nil, func(camp *Campaign, tx Tx) error {
		return camp.ClaimRefund(tx, onBehalfOf)
	})
}

// ReclaimContribution sends reclaimContribution.
func (c *Chain) ReclaimContribution(from, campaign common.Address) error {
	return c.call(campaign, from, nil, func(camp *Campaign, tx Tx) error {
		return camp.ReclaimContribution(tx)
	})
}

func (c *Chain) call(campaign, from common.Address, value *big.Int, fn func(*Campaign, Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	camp, ok := c.factory.Campaign(campaign)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCampaign, campaign.Hex())
	}
	if value == nil {
		value = new(big.Int)
	}
	if err := fn(camp, c.tx(from, value)); err != nil {
		camp.Logs()
		return err
	}
	c.mine(camp.Logs())
	return nil
}

func (c *Chain) tx(from common.Address, value *big.Int) Tx {
	return Tx{From: from, Value: value, Time: c.nextTime}
}

func (c *Chain) pay(to common.Address, amount *big.Int) error {
	b, ok := c.balances[to]
	if !ok {
		b = new(big.Int)
		c.balances[to] = b
	}
	b.Add(b, amount)
	return nil
}

// mine must be called with c.mu held.
func (c *Chain) mine(logs []types.Log) {
	parent := c.headers[len(c.headers)-1]
	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number, common.Big1),
		Time:       c.nextTime,
		Difficulty: new(big.Int),
	}
	hash := header.Hash()

	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], header.Number.Uint64())
	txHash := crypto.Keccak256Hash(hash.Bytes(), seed[:])

	for i := range logs {
		logs[i].BlockNumber = header.Number.Uint64()
		logs[i].BlockHash = hash
		logs[i].TxHash = txHash
		logs[i].Index = uint(i)
		c.logs = append(c.logs, logs[i])
	}

	c.headers = append(c.headers, header)
	c.nextTime += c.blockTime
}

// ChainID returns the configured chain id.
func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// BlockNumber returns the head block number.
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.Head(), nil
}

// HeaderByNumber returns the header at number, or the head for nil.
func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if number == nil {
		return types.CopyHeader(c.headers[len(c.headers)-1]), nil
	}
	if !number.IsUint64() || number.Uint64() >= uint64(len(c.headers)) {
		return nil, ethereum.NotFound
	}
	return types.CopyHeader(c.headers[number.Uint64()]), nil
}

// FilterLogs returns logs matching q in chain order. Only topic0 filters
// are honored.
func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filterErr != nil {
		return nil, c.filterErr
	}

	from := uint64(0)
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	to := uint64(len(c.headers) - 1)
	if q.ToBlock != nil && q.ToBlock.Uint64() < to {
		to = q.ToBlock.Uint64()
	}

	addrs := make(map[common.Address]bool, len(q.Addresses))
	for _, a := range q.Addresses {
		addrs[a] = true
	}
	var topics map[common.Hash]bool
	if len(q.Topics) > 0 && len(q.Topics[0]) > 0 {
		topics = make(map[common.Hash]bool, len(q.Topics[0]))
		for _, t := range q.Topics[0] {
			topics[t] = true
		}
	}

	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(addrs) > 0 && !addrs[l.Address] {
			continue
		}
		if topics != nil && (len(l.Topics) == 0 || !topics[l.Topics[0]]) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// Close is a no-op.
func (c *Chain) Close() {}
