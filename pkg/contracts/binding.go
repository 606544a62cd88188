package contracts

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrCampaignCreatedNotFound is returned when a receipt carries no
// CampaignCreated log.
var ErrCampaignCreatedNotFound = errors.New("CampaignCreated log not found in receipt")

// Campaign is a typed binding to a deployed campaign proxy.
type Campaign struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewCampaign binds the campaign at address.
func NewCampaign(address common.Address, backend bind.ContractBackend) *Campaign {
	return &Campaign{
		address:  address,
		contract: bind.NewBoundContract(address, campaignABI, backend, backend, backend),
	}
}

// Address returns the bound campaign address.
func (c *Campaign) Address() common.Address { return c.address }

// Contribute sends opts.Value to the campaign, credited to onBehalfOf.
// The zero address credits the sender.
func (c *Campaign) Contribute(opts *bind.TransactOpts, onBehalfOf common.Address) (*types.Transaction, error) {
	return c.contract.Transact(opts, "contribute", onBehalfOf)
}

// FinalizeCampaignAfterDeadline settles the campaign as successful or failed.
func (c *Campaign) FinalizeCampaignAfterDeadline(opts *bind.TransactOpts) (*types.Transaction, error) {
	return c.contract.Transact(opts, "finalizeCampaignAfterDeadline")
}

// Withdraw pays the raised funds to the beneficiary.
func (c *Campaign) Withdraw(opts *bind.TransactOpts) (*types.Transaction, error) {
	return c.contract.Transact(opts, "withdraw")
}

// ClaimRefund refunds onBehalfOf from a failed campaign.
func (c *Campaign) ClaimRefund(opts *bind.TransactOpts, onBehalfOf common.Address) (*types.Transaction, error) {
	return c.contract.Transact(opts, "claimRefund", onBehalfOf)
}

// ReclaimContribution returns the sender's contribution.
func (c *Campaign) ReclaimContribution(opts *bind.TransactOpts) (*types.Transaction, error) {
	return c.contract.Transact(opts, "reclaimContribution")
}

// State returns the on-chain state enum.
func (c *Campaign) State(opts *bind.CallOpts) (uint8, error) {
	var out []interface{}
	if err := c.contract.Call(opts, &out, "getState"); err != nil {
		return 0, fmt.Errorf("calling getState: %w", err)
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// TotalRaised returns the amount raised so far.
func (c *Campaign) TotalRaised(opts *bind.CallOpts) (*big.Int, error) {
	return c.callBig(opts, "totalRaised")
}

// Goal returns the campaign goal.
func (c *Campaign) Goal(opts *bind.CallOpts) (*big.Int, error) {
	return c.callBig(opts, "goal")
}

// Deadline returns the campaign deadline as unix seconds.
func (c *Campaign) Deadline(opts *bind.CallOpts) (*big.Int, error) {
	return c.callBig(opts, "deadline")
}

// ContributionOf returns the refundable balance of contributor.
func (c *Campaign) ContributionOf(opts *bind.CallOpts, contributor common.Address) (*big.Int, error) {
	return c.callBig(opts, "getContribution", contributor)
}

func (c *Campaign) callBig(opts *bind.CallOpts, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := c.contract.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Factory is a typed binding to the campaign factory.
type Factory struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewFactory binds the factory at address.
func NewFactory(address common.Address, backend bind.ContractBackend) *Factory {
	return &Factory{
		address:  address,
		contract: bind.NewBoundContract(address, factoryABI, backend, backend, backend),
	}
}

// CreateCampaign deploys and initializes a new campaign proxy. deadline is
// a unix timestamp.
func (f *Factory) CreateCampaign(opts *bind.TransactOpts, beneficiary common.Address, goal, deadline, withdrawalPeriod *big.Int, name string) (*types.Transaction, error) {
	return f.contract.Transact(opts, "createCampaign", beneficiary, goal, deadline, withdrawalPeriod, name)
}

// CreatedCampaign returns the campaign address announced in a receipt.
func CreatedCampaign(receipt *types.Receipt) (common.Address, error) {
	topic := factoryABI.Events[EventCampaignCreated].ID
	for _, l := range receipt.Logs {
		if len(l.Topics) > 1 && l.Topics[0] == topic {
			return common.BytesToAddress(l.Topics[1].Bytes()), nil
		}
	}
	return common.Address{}, ErrCampaignCreatedNotFound
}
