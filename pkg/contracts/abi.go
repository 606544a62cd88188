// Package contracts embeds the Campaign and Factory ABIs and provides
// helpers for encoding logs, decoding reverts and sending transactions.
//
// The embedded ABIs are the exact surface of the deployed contracts. Any
// change here breaks selector and topic compatibility with the chain.
package contracts

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract names as registered with the decoder.
const (
	CampaignContract = "Campaign"
	FactoryContract  = "Factory"
)

// Event names emitted by the contracts.
const (
	EventCampaignCreated       = "CampaignCreated"
	EventCampaignStarted       = "CampaignStarted"
	EventContribution          = "Contribution"
	EventRefund                = "Refund"
	EventContributionReclaimed = "ContributionReclaimed"
	EventWithdrawal            = "Withdrawal"
	EventCampaignSuccessful    = "CampaignSuccessful"
	EventCampaignFailed        = "CampaignFailed"
	EventInitialized           = "Initialized"
)

//go:embed campaign.abi.json
var campaignABIJSON string

//go:embed factory.abi.json
var factoryABIJSON string

var (
	campaignABI = mustParse(CampaignContract, campaignABIJSON)
	factoryABI  = mustParse(FactoryContract, factoryABIJSON)
)

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parsing embedded %s ABI: %v", name, err))
	}
	return parsed
}

// CampaignABI returns the parsed Campaign ABI.
func CampaignABI() abi.ABI { return campaignABI }

// FactoryABI returns the parsed Factory ABI.
func FactoryABI() abi.ABI { return factoryABI }

// CampaignABIJSON returns the raw Campaign ABI JSON.
func CampaignABIJSON() string { return campaignABIJSON }

// FactoryABIJSON returns the raw Factory ABI JSON.
func FactoryABIJSON() string { return factoryABIJSON }

// EventTopic returns topic0 of a named event in the given ABI.
func EventTopic(contract abi.ABI, event string) (common.Hash, error) {
	ev, ok := contract.Events[event]
	if !ok {
		return common.Hash{}, fmt.Errorf("event %s not found in ABI", event)
	}
	return ev.ID, nil
}

// PackLog builds the log a contract would emit for event with args given in
// ABI input order. Indexed arguments become topics, the rest is ABI-encoded
// into data.
func PackLog(contract abi.ABI, event string, address common.Address, args ...interface{}) (types.Log, error) {
	ev, ok := contract.Events[event]
	if !ok {
		return types.Log{}, fmt.Errorf("event %s not found in ABI", event)
	}
	if len(args) != len(ev.Inputs) {
		return types.Log{}, fmt.Errorf("event %s: want %d args, got %d", event, len(ev.Inputs), len(args))
	}

	var indexed [][]interface{}
	var plain []interface{}
	for i, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, []interface{}{args[i]})
			continue
		}
		plain = append(plain, args[i])
	}

	topics := []common.Hash{ev.ID}
	if len(indexed) > 0 {
		rules, err := abi.MakeTopics(indexed...)
		if err != nil {
			return types.Log{}, fmt.Errorf("event %s: encoding topics: %w", event, err)
		}
		for _, rule := range rules {
			topics = append(topics, rule[0])
		}
	}

	data, err := ev.Inputs.NonIndexed().Pack(plain...)
	if err != nil {
		return types.Log{}, fmt.Errorf("event %s: encoding data: %w", event, err)
	}

	return types.Log{
		Address: address,
		Topics:  topics,
		Data:    data,
	}, nil
}
