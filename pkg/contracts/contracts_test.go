package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func TestFunctionSelectors(t *testing.T) {
	tests := []struct {
		method    string
		signature string
	}{
		{"contribute", "contribute(address)"},
		{"claimRefund", "claimRefund(address)"},
		{"finalizeCampaignAfterDeadline", "finalizeCampaignAfterDeadline()"},
		{"withdraw", "withdraw()"},
		{"reclaimContribution", "reclaimContribution()"},
		{"getState", "getState()"},
		{"getContribution", "getContribution(address)"},
		{"initialize", "initialize(address,uint256,uint256,uint256,string)"},
		{"totalRaised", "totalRaised()"},
	}

	for _, tc := range tests {
		t.Run(tc.method, func(t *testing.T) {
			m, ok := CampaignABI().Methods[tc.method]
			require.True(t, ok)
			require.Equal(t, tc.signature, m.Sig)
			require.Equal(t, selector(tc.signature), m.ID)
		})
	}

	create := FactoryABI().Methods["createCampaign"]
	require.Equal(t, selector("createCampaign(address,uint256,uint256,uint256,string)"), create.ID)
}

func TestEventTopics(t *testing.T) {
	tests := []struct {
		contract  string
		event     string
		signature string
	}{
		{CampaignContract, EventCampaignStarted, "CampaignStarted(address,uint256,uint256,uint256,string)"},
		{CampaignContract, EventContribution, "Contribution(address,uint256)"},
		{CampaignContract, EventRefund, "Refund(address,uint256)"},
		{CampaignContract, EventContributionReclaimed, "ContributionReclaimed(address,uint256)"},
		{CampaignContract, EventWithdrawal, "Withdrawal(address,uint256)"},
		{CampaignContract, EventCampaignSuccessful, "CampaignSuccessful(uint256)"},
		{CampaignContract, EventCampaignFailed, "CampaignFailed()"},
		{CampaignContract, EventInitialized, "Initialized(uint64)"},
		{FactoryContract, EventCampaignCreated, "CampaignCreated(address,address,uint256,uint256,uint256,string)"},
	}

	for _, tc := range tests {
		t.Run(tc.event, func(t *testing.T) {
			parsed := CampaignABI()
			if tc.contract == FactoryContract {
				parsed = FactoryABI()
			}
			topic, err := EventTopic(parsed, tc.event)
			require.NoError(t, err)
			require.Equal(t, crypto.Keccak256Hash([]byte(tc.signature)), topic)
		})
	}

	_, err := EventTopic(CampaignABI(), "Transfer")
	require.Error(t, err)
}

func TestPackLog(t *testing.T) {
	campaign := common.HexToAddress("0x176211869cA2b568f2A7D4EE941E073a821EE1ff")
	contributor := common.HexToAddress("0x1111111111111111111111111111111111111111")
	amount := big.NewInt(42)

	log, err := PackLog(CampaignABI(), EventContribution, campaign, contributor, amount)
	require.NoError(t, err)
	require.Equal(t, campaign, log.Address)
	require.Len(t, log.Topics, 2)
	require.Equal(t, common.BytesToHash(contributor.Bytes()), log.Topics[1])

	out, err := CampaignABI().Unpack(EventContribution, log.Data)
	require.NoError(t, err)
	require.Equal(t, amount, out[0])

	failed, err := PackLog(CampaignABI(), EventCampaignFailed, campaign)
	require.NoError(t, err)
	require.Len(t, failed.Topics, 1)
	require.Empty(t, failed.Data)

	_, err = PackLog(CampaignABI(), EventContribution, campaign, contributor)
	require.Error(t, err)
	require.Contains(t, err.Error(), "want 2 args")

	_, err = PackLog(CampaignABI(), "Nope", campaign)
	require.Error(t, err)
}

func TestDecodeRevert(t *testing.T) {
	for name := range CampaignABI().Errors {
		t.Run(name, func(t *testing.T) {
			got, ok := DecodeRevert(selector(name + "()"))
			require.True(t, ok)
			require.Equal(t, name, got)
		})
	}

	_, ok := DecodeRevert([]byte{0x01, 0x02})
	require.False(t, ok)

	_, ok = DecodeRevert([]byte{0xde, 0xad, 0xbe, 0xef})
	require.False(t, ok)
}

type dataError struct {
	msg  string
	data interface{}
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

func TestRevertFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantOK   bool
		wantName string
	}{
		{
			name:     "goal already reached",
			err:      &dataError{msg: "execution reverted", data: hexutil.Encode(selector("GoalAlreadyReached()"))},
			wantOK:   true,
			wantName: "GoalAlreadyReached",
		},
		{
			name:     "wrapped",
			err:      fmt.Errorf("sending tx: %w", &dataError{msg: "execution reverted", data: hexutil.Encode(selector("NotBeneficiary()"))}),
			wantOK:   true,
			wantName: "NotBeneficiary",
		},
		{
			name: "plain error",
			err:  errors.New("connection refused"),
		},
		{
			name: "non-string data",
			err:  &dataError{msg: "execution reverted", data: 12},
		},
		{
			name: "bad hex",
			err:  &dataError{msg: "execution reverted", data: "0xzz"},
		},
		{
			name: "unknown selector",
			err:  &dataError{msg: "execution reverted", data: "0xdeadbeef"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rev, ok := RevertFromError(tc.err)
			require.Equal(t, tc.wantOK, ok)
			if !tc.wantOK {
				require.Nil(t, rev)
				return
			}
			require.Equal(t, tc.wantName, rev.Name)
			require.Equal(t, "execution reverted: "+tc.wantName, rev.Error())
		})
	}
}

func TestCreatedCampaign(t *testing.T) {
	factory := common.HexToAddress("0xB90AcF57C3BFE8e0E8215defc282B5F48b3edC74")
	campaign := common.HexToAddress("0x3333333333333333333333333333333333333333")
	beneficiary := common.HexToAddress("0x2222222222222222222222222222222222222222")

	created, err := PackLog(FactoryABI(), EventCampaignCreated, factory,
		campaign, beneficiary, big.NewInt(1), big.NewInt(2), big.NewInt(3), "x")
	require.NoError(t, err)

	started, err := PackLog(CampaignABI(), EventCampaignStarted, campaign,
		beneficiary, big.NewInt(1), big.NewInt(2), big.NewInt(3), "x")
	require.NoError(t, err)

	got, err := CreatedCampaign(&types.Receipt{Logs: []*types.Log{&started, &created}})
	require.NoError(t, err)
	require.Equal(t, campaign, got)

	_, err = CreatedCampaign(&types.Receipt{Logs: []*types.Log{&started}})
	require.ErrorIs(t, err, ErrCampaignCreatedNotFound)
}
