// Package indexer holds the event mappings that project Campaign and
// Factory logs into the read-side tables.
//
// Every mapping is idempotent: replaying a log that was already applied
// leaves every row and total unchanged.
package indexer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xredeth/doneth/pkg/contracts"
	"github.com/0xredeth/doneth/pkg/handler"
)

// EventID joins a contract and event name into a registry key.
func EventID(contract, event string) string {
	return contract + ":" + event
}

// Event ids with mappings.
var (
	CampaignCreatedID       = EventID(contracts.FactoryContract, contracts.EventCampaignCreated)
	CampaignStartedID       = EventID(contracts.CampaignContract, contracts.EventCampaignStarted)
	ContributionID          = EventID(contracts.CampaignContract, contracts.EventContribution)
	RefundID                = EventID(contracts.CampaignContract, contracts.EventRefund)
	ContributionReclaimedID = EventID(contracts.CampaignContract, contracts.EventContributionReclaimed)
	WithdrawalID            = EventID(contracts.CampaignContract, contracts.EventWithdrawal)
	CampaignSuccessfulID    = EventID(contracts.CampaignContract, contracts.EventCampaignSuccessful)
	CampaignFailedID        = EventID(contracts.CampaignContract, contracts.EventCampaignFailed)
)

// Register installs every mapping on r.
func Register(r *handler.Registry) {
	r.Register(CampaignCreatedID, handleCampaignCreated)
	r.Register(CampaignStartedID, handleCampaignStarted)
	r.Register(ContributionID, handleContribution)
	r.Register(RefundID, handleRefund)
	r.Register(ContributionReclaimedID, handleContributionReclaimed)
	r.Register(WithdrawalID, handleWithdrawal)
	r.Register(CampaignSuccessfulID, handleCampaignSuccessful)
	r.Register(CampaignFailedID, handleCampaignFailed)
}

// CampaignEvents are the Campaign events the engine subscribes to.
func CampaignEvents() []string {
	return []string{
		contracts.EventCampaignStarted,
		contracts.EventContribution,
		contracts.EventRefund,
		contracts.EventContributionReclaimed,
		contracts.EventWithdrawal,
		contracts.EventCampaignSuccessful,
		contracts.EventCampaignFailed,
		contracts.EventInitialized,
	}
}

// FactoryEvents are the Factory events the engine subscribes to.
func FactoryEvents() []string {
	return []string{contracts.EventCampaignCreated}
}

func addressArg(ctx *handler.Context, name string) (common.Address, error) {
	v, ok := ctx.Event.Data[name]
	if !ok {
		return common.Address{}, fmt.Errorf("missing argument %q", name)
	}
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("argument %q: want address, got %T", name, v)
	}
	return a, nil
}

func bigArg(ctx *handler.Context, name string) (*big.Int, error) {
	v, ok := ctx.Event.Data[name]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", name)
	}
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("argument %q: want uint256, got %T", name, v)
	}
	return b, nil
}

// uintArg reads a uint256 argument that must fit in 64 bits, such as a
// timestamp or duration.
func uintArg(ctx *handler.Context, name string) (uint64, error) {
	b, err := bigArg(ctx, name)
	if err != nil {
		return 0, err
	}
	if !b.IsUint64() {
		return 0, fmt.Errorf("argument %q: %s overflows uint64", name, b)
	}
	return b.Uint64(), nil
}

func stringArg(ctx *handler.Context, name string) (string, error) {
	v, ok := ctx.Event.Data[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: want string, got %T", name, v)
	}
	return s, nil
}
