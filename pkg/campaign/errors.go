package campaign

import "errors"

// Contract faults. Each is named after the Solidity custom error the
// deployed contract reverts with.
var (
	ErrAlreadyEnded                 = errors.New("AlreadyEnded")
	ErrDeadlinePassed               = errors.New("DeadlinePassed")
	ErrGoalAlreadyReached           = errors.New("GoalAlreadyReached")
	ErrGoalNotReached               = errors.New("GoalNotReached")
	ErrIncorrectEthValue            = errors.New("IncorrectEthValue")
	ErrIncorrectToken               = errors.New("IncorrectToken")
	ErrInvalidInitialization        = errors.New("InvalidInitialization")
	ErrNotBeneficiary               = errors.New("NotBeneficiary")
	ErrNotFailed                    = errors.New("NotFailed")
	ErrNotFundraising               = errors.New("NotFundraising")
	ErrNotInitializing              = errors.New("NotInitializing")
	ErrNotSuccessful                = errors.New("NotSuccessful")
	ErrNothingToReclaim             = errors.New("NothingToReclaim")
	ErrNothingToRefund              = errors.New("NothingToRefund")
	ErrNothingToWithdraw            = errors.New("NothingToWithdraw")
	ErrReentrancyGuardReentrantCall = errors.New("ReentrancyGuardReentrantCall")
	ErrWithdrawalDeadlineNotPassed  = errors.New("WithdrawalDeadlineNotPassed")
	ErrWithdrawalDeadlinePassed     = errors.New("WithdrawalDeadlinePassed")
	ErrZeroContribution             = errors.New("ZeroContribution")
)

var faults = func() map[string]error {
	m := make(map[string]error)
	for _, err := range []error{
		ErrAlreadyEnded, ErrDeadlinePassed, ErrGoalAlreadyReached, ErrGoalNotReached,
		ErrIncorrectEthValue, ErrIncorrectToken, ErrInvalidInitialization, ErrNotBeneficiary,
		ErrNotFailed, ErrNotFundraising, ErrNotInitializing, ErrNotSuccessful,
		ErrNothingToReclaim, ErrNothingToRefund, ErrNothingToWithdraw,
		ErrReentrancyGuardReentrantCall, ErrWithdrawalDeadlineNotPassed,
		ErrWithdrawalDeadlinePassed, ErrZeroContribution,
	} {
		m[err.Error()] = err
	}
	return m
}()

// Fault returns the sentinel for a revert name, as decoded from chain
// revert data, or nil for an unknown name.
func Fault(name string) error {
	return faults[name]
}
