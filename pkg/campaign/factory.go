package campaign

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xredeth/doneth/pkg/contracts"
)

// Factory deploys campaign proxies and announces each with
// CampaignCreated.
type Factory struct {
	address   common.Address
	nonce     uint64
	campaigns map[common.Address]*Campaign
	order     []common.Address
	logs      []types.Log
}

// NewFactory returns a factory deployed at address.
func NewFactory(address common.Address) *Factory {
	return &Factory{
		address:   address,
		nonce:     1, // EIP-161: contract accounts start at nonce 1
		campaigns: make(map[common.Address]*Campaign),
	}
}

// Address returns the factory address.
func (f *Factory) Address() common.Address { return f.address }

// CreateCampaign deploys a proxy at the next CREATE address and initializes
// it with deadline, an absolute unix time.
func (f *Factory) CreateCampaign(tx Tx, beneficiary common.Address, goal *big.Int, deadline, withdrawalPeriod uint64, name string) (*Campaign, error) {
	if goal == nil || goal.Sign() < 0 {
		return nil, fmt.Errorf("invalid goal %v", goal)
	}

	addr := crypto.CreateAddress(f.address, f.nonce)
	c := New(addr)

	if err := c.Initialize(Tx{From: f.address, Time: tx.Time}, beneficiary, goal, deadline, withdrawalPeriod, name); err != nil {
		return nil, fmt.Errorf("initializing campaign %s: %w", addr.Hex(), err)
	}

	created, err := contracts.PackLog(contracts.FactoryABI(), contracts.EventCampaignCreated, f.address,
		addr, beneficiary, new(big.Int).Set(goal), new(big.Int).SetUint64(deadline),
		new(big.Int).SetUint64(withdrawalPeriod), name)
	if err != nil {
		return nil, fmt.Errorf("encoding CampaignCreated: %w", err)
	}

	f.nonce++
	f.campaigns[addr] = c
	f.order = append(f.order, addr)
	f.logs = append(f.logs, c.Logs()...)
	f.logs = append(f.logs, created)

	return c, nil
}

// Campaign returns the campaign deployed at addr.
func (f *Factory) Campaign(addr common.Address) (*Campaign, bool) {
	c, ok := f.campaigns[addr]
	return c, ok
}

// Campaigns returns the deployed addresses in creation order.
func (f *Factory) Campaigns() []common.Address {
	return append([]common.Address(nil), f.order...)
}

// Logs returns and clears the logs emitted since the last call, including
// those of campaigns during deployment.
func (f *Factory) Logs() []types.Log {
	logs := f.logs
	f.logs = nil
	return logs
}
