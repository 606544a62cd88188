// Package campaign models the Doneth Campaign and Factory contracts as a
// deterministic state machine.
//
// Every entry point enforces the same guards, in the same order, as the
// deployed contracts and records the ABI-encoded logs they would emit. The
// model lets the CLI preflight a transaction and drives the indexer in tests
// through Chain.
package campaign

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xredeth/doneth/pkg/contracts"
)

// State is the on-chain campaign state, as returned by getState().
type State uint8

const (
	Fundraising State = iota
	Successful
	Failed
	WithdrawalClosed
)

func (s State) String() string {
	switch s {
	case Fundraising:
		return "fundraising"
	case Successful:
		return "successful"
	case Failed:
		return "failed"
	case WithdrawalClosed:
		return "withdrawal_closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// initializedVersion is the version OpenZeppelin's Initializable reports.
const initializedVersion = 1

// Tx is the message context of a call.
type Tx struct {
	// From is msg.sender.
	From common.Address

	// Value is msg.value. Nil is treated as an invalid value.
	Value *big.Int

	// Token is the ERC-20 sent along with the call. The zero address means
	// the native currency.
	Token common.Address

	// Time is block.timestamp in unix seconds.
	Time uint64
}

// Payee receives payouts. Implementations may call back into the campaign
// to exercise the reentrancy guard.
type Payee interface {
	Pay(to common.Address, amount *big.Int) error
}

// PayeeFunc adapts a function to Payee.
type PayeeFunc func(to common.Address, amount *big.Int) error

// Pay calls f.
func (f PayeeFunc) Pay(to common.Address, amount *big.Int) error { return f(to, amount) }

// Campaign is one campaign proxy. It is not safe for concurrent use; the
// chain serializes calls.
type Campaign struct {
	address common.Address
	payee   Payee

	initialized bool
	entered     bool

	beneficiary        common.Address
	currency           common.Address
	goal               *big.Int
	deadline           uint64
	withdrawalPeriod   uint64
	withdrawalDeadline uint64
	name               string

	state         State
	totalRaised   *big.Int
	balance       *big.Int
	withdrawn     bool
	contributions map[common.Address]*big.Int

	logs []types.Log
}

// New allocates an uninitialized campaign at address.
func New(address common.Address) *Campaign {
	return &Campaign{
		address:       address,
		goal:          new(big.Int),
		totalRaised:   new(big.Int),
		balance:       new(big.Int),
		contributions: make(map[common.Address]*big.Int),
	}
}

// SetPayee sets the payout receiver. Nil drops payouts.
func (c *Campaign) SetPayee(p Payee) { c.payee = p }

// Initialize sets the campaign parameters. It succeeds exactly once.
func (c *Campaign) Initialize(tx Tx, beneficiary common.Address, goal *big.Int, deadline, withdrawalPeriod uint64, name string) error {
	if c.initialized {
		return ErrInvalidInitialization
	}

	c.initialized = true
	c.beneficiary = beneficiary
	c.goal = new(big.Int).Set(goal)
	c.deadline = deadline
	c.withdrawalPeriod = withdrawalPeriod
	c.name = name
	c.state = Fundraising

	c.emit(contracts.EventCampaignStarted, beneficiary, new(big.Int).Set(goal),
		new(big.Int).SetUint64(deadline), new(big.Int).SetUint64(withdrawalPeriod), name)
	c.emit(contracts.EventInitialized, uint64(initializedVersion))
	return nil
}

// Contribute credits tx.Value to onBehalfOf, or to the sender when
// onBehalfOf is the zero address.
func (c *Campaign) Contribute(tx Tx, onBehalfOf common.Address) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()

	switch {
	case tx.Value == nil || tx.Value.Sign() < 0:
		return ErrIncorrectEthValue
	case tx.Token != c.currency:
		return ErrIncorrectToken
	case tx.Value.Sign() == 0:
		return ErrZeroContribution
	case tx.Time > c.deadline:
		return ErrDeadlinePassed
	case c.state != Fundraising:
		return ErrNotFundraising
	case c.totalRaised.Cmp(c.goal) >= 0:
		return ErrGoalAlreadyReached
	}

	contributor := onBehalfOf
	if contributor == (common.Address{}) {
		contributor = tx.From
	}

	amount := new(big.Int).Set(tx.Value)
	c.credit(contributor, amount)
	c.totalRaised.Add(c.totalRaised, amount)
	c.balance.Add(c.balance, amount)

	c.emit(contracts.EventContribution, contributor, amount)
	return nil
}

// FinalizeCampaignAfterDeadline settles a fundraising campaign. Before the
// deadline only a funded campaign can be finalized.
func (c *Campaign) FinalizeCampaignAfterDeadline(tx Tx) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()

	if c.state != Fundraising {
		return ErrAlreadyEnded
	}

	funded := c.totalRaised.Cmp(c.goal) >= 0
	if tx.Time <= c.deadline && !funded {
		return ErrGoalNotReached
	}

	if !funded {
		c.state = Failed
		c.emit(contracts.EventCampaignFailed)
		return nil
	}

	c.state = Successful
	c.withdrawalDeadline = tx.Time + c.withdrawalPeriod
	c.emit(contracts.EventCampaignSuccessful, new(big.Int).SetUint64(c.withdrawalDeadline))
	return nil
}

// Withdraw pays the whole balance to the beneficiary inside the withdrawal
// window.
func (c *Campaign) Withdraw(tx Tx) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()

	switch {
	case tx.From != c.beneficiary:
		return ErrNotBeneficiary
	case c.state != Successful:
		return ErrNotSuccessful
	case tx.Time > c.withdrawalDeadline:
		return ErrWithdrawalDeadlinePassed
	case c.withdrawn || c.balance.Sign() == 0:
		return ErrNothingToWithdraw
	}

	amount := new(big.Int).Set(c.balance)
	if err := c.pay(c.beneficiary, amount); err != nil {
		return err
	}
	c.withdrawn = true
	c.balance.SetUint64(0)

	c.emit(contracts.EventWithdrawal, c.beneficiary, amount)
	return nil
}

// ClaimRefund refunds the full contribution of onBehalfOf, or of the
// sender when onBehalfOf is the zero address, from a failed campaign.
func (c *Campaign) ClaimRefund(tx Tx, onBehalfOf common.Address) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()

	if c.state != Failed {
		return ErrNotFailed
	}

	contributor := onBehalfOf
	if contributor == (common.Address{}) {
		contributor = tx.From
	}

	amount := c.Contribution(contributor)
	if amount.Sign() == 0 {
		return ErrNothingToRefund
	}

	if err := c.pay(contributor, amount); err != nil {
		return err
	}
	c.debit(contributor, amount)

	c.emit(contracts.EventRefund, contributor, amount)
	return nil
}

// ReclaimContribution returns the sender's contribution from a failed
// campaign, or from a successful one whose beneficiary let the withdrawal
// window lapse. The latter closes withdrawals for good.
func (c *Campaign) ReclaimContribution(tx Tx) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()

	next := c.state
	switch c.state {
	case Fundraising:
		return ErrNotFailed
	case Successful:
		if tx.Time <= c.withdrawalDeadline {
			return ErrWithdrawalDeadlineNotPassed
		}
		if c.withdrawn {
			return ErrNothingToReclaim
		}
		next = WithdrawalClosed
	}

	amount := c.Contribution(tx.From)
	if amount.Sign() == 0 {
		return ErrNothingToReclaim
	}

	if err := c.pay(tx.From, amount); err != nil {
		return err
	}
	c.state = next
	c.debit(tx.From, amount)

	c.emit(contracts.EventContributionReclaimed, tx.From, amount)
	return nil
}

// Address returns the proxy address.
func (c *Campaign) Address() common.Address { return c.address }

// Initialized reports whether Initialize has run.
func (c *Campaign) Initialized() bool { return c.initialized }

// State returns the current state.
func (c *Campaign) State() State { return c.state }

// Beneficiary returns the withdrawal recipient.
func (c *Campaign) Beneficiary() common.Address { return c.beneficiary }

// Name returns the campaign name.
func (c *Campaign) Name() string { return c.name }

// Goal returns a copy of the goal.
func (c *Campaign) Goal() *big.Int { return new(big.Int).Set(c.goal) }

// Deadline returns the fundraising deadline in unix seconds.
func (c *Campaign) Deadline() uint64 { return c.deadline }

// WithdrawalPeriod returns the withdrawal window length in seconds.
func (c *Campaign) WithdrawalPeriod() uint64 { return c.withdrawalPeriod }

// WithdrawalDeadline returns the end of the withdrawal window, zero until
// the campaign succeeds.
func (c *Campaign) WithdrawalDeadline() uint64 { return c.withdrawalDeadline }

// TotalRaised returns the lifetime amount contributed.
func (c *Campaign) TotalRaised() *big.Int { return new(big.Int).Set(c.totalRaised) }

// Balance returns the funds currently held.
func (c *Campaign) Balance() *big.Int { return new(big.Int).Set(c.balance) }

// Contribution returns the refundable balance of contributor.
func (c *Campaign) Contribution(contributor common.Address) *big.Int {
	if v, ok := c.contributions[contributor]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Logs returns and clears the logs emitted since the last call.
func (c *Campaign) Logs() []types.Log {
	logs := c.logs
	c.logs = nil
	return logs
}

// enter checks initialization and takes the reentrancy lock.
func (c *Campaign) enter() (func(), error) {
	if !c.initialized {
		return nil, ErrNotInitializing
	}
	if c.entered {
		return nil, ErrReentrancyGuardReentrantCall
	}
	c.entered = true
	return func() { c.entered = false }, nil
}

func (c *Campaign) pay(to common.Address, amount *big.Int) error {
	if c.payee == nil {
		return nil
	}
	if err := c.payee.Pay(to, new(big.Int).Set(amount)); err != nil {
		return fmt.Errorf("paying %s: %w", to.Hex(), err)
	}
	return nil
}

func (c *Campaign) credit(contributor common.Address, amount *big.Int) {
	v, ok := c.contributions[contributor]
	if !ok {
		v = new(big.Int)
		c.contributions[contributor] = v
	}
	v.Add(v, amount)
}

func (c *Campaign) debit(contributor common.Address, amount *big.Int) {
	c.contributions[contributor].Sub(c.contributions[contributor], amount)
	c.balance.Sub(c.balance, amount)
}

// emit records a log. Arguments always match the embedded ABI, so a pack
// failure is a programming error.
func (c *Campaign) emit(event string, args ...interface{}) {
	log, err := contracts.PackLog(contracts.CampaignABI(), event, c.address, args...)
	if err != nil {
		panic(err)
	}
	c.logs = append(c.logs, log)
}
