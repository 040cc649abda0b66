package approval

import (
	"errors"
	"fmt"

	"github.com/garyjia/expense-approval/internal/domain/money"
)

// Sentinel errors. Match them with errors.Is; the structured errors below unwrap to them.
var (
	// configuration
	ErrInvalidRule = errors.New("invalid approval rule")
	ErrEmptyChain  = errors.New("approval chain has no steps")

	// authorization
	ErrUnauthorizedApprover = errors.New("caller is not the designated approver")
	ErrNotOwner             = errors.New("caller does not own the expense")

	// input
	ErrInvalidDecision = errors.New("decision must be approved or rejected")
	ErrInvalidExpense  = errors.New("invalid expense")

	// idempotency
	ErrInvalidStep   = errors.New("invalid approval step")
	ErrChainTerminal = errors.New("approval chain already terminal")

	// lifecycle
	ErrNotCancellable = errors.New("expense cannot be cancelled in its current state")
	ErrNotSubmittable = errors.New("expense cannot be submitted in its current state")

	// dependency
	ErrManagerNotFound   = errors.New("expense owner has no manager")
	ErrDependencyTimeout = errors.New("dependency lookup timed out")
	ErrRateUnavailable   = money.ErrRateUnavailable

	// lookups
	ErrChainNotFound   = errors.New("approval chain not found")
	ErrExpenseNotFound = errors.New("expense not found")
	ErrRuleNotFound    = errors.New("approval rule not found")
)

// RuleError describes why a rule failed validation.
type RuleError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *RuleError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("invalid approval rule: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid approval rule %s: %s %s", e.RuleID, e.Field, e.Reason)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRule }

// InvalidStepError is returned for decisions on an unknown, already decided or
// not yet actionable step.
type InvalidStepError struct {
	ChainID   string
	StepIndex int
	Reason    string
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("invalid step %d on chain %s: %s", e.StepIndex, e.ChainID, e.Reason)
}

func (e *InvalidStepError) Unwrap() error { return ErrInvalidStep }

// UnauthorizedApproverError is returned when a caller decides a step assigned to someone else.
type UnauthorizedApproverError struct {
	ChainID    string
	StepIndex  int
	ApproverID string
}

func (e *UnauthorizedApproverError) Error() string {
	if e.StepIndex < 0 {
		return fmt.Sprintf("user %s is not an approver on chain %s", e.ApproverID, e.ChainID)
	}
	return fmt.Sprintf("user %s is not the approver of step %d on chain %s", e.ApproverID, e.StepIndex, e.ChainID)
}

func (e *UnauthorizedApproverError) Unwrap() error { return ErrUnauthorizedApprover }

// TerminalError is returned for decisions on a chain that has already concluded.
type TerminalError struct {
	ChainID string
	Status  string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("approval chain %s already %s", e.ChainID, e.Status)
}

func (e *TerminalError) Unwrap() error { return ErrChainTerminal }

// DependencyTimeoutError names the lookup that did not answer in time.
type DependencyTimeoutError struct {
	Dependency string
	Err        error
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("%s lookup timed out: %v", e.Dependency, e.Err)
}

func (e *DependencyTimeoutError) Unwrap() []error { return []error{ErrDependencyTimeout, e.Err} }

// IsConfiguration reports errors caused by rule setup. They are not retried.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidRule) || errors.Is(err, ErrEmptyChain)
}

// IsAuthorization reports errors caused by the caller acting on something it does not own.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrUnauthorizedApprover) || errors.Is(err, ErrNotOwner)
}

// IsIdempotency reports errors for repeated or stale decisions. Retrying is harmless.
func IsIdempotency(err error) bool {
	return errors.Is(err, ErrInvalidStep) || errors.Is(err, ErrChainTerminal)
}

// IsDependency reports failures of an external collaborator.
func IsDependency(err error) bool {
	return errors.Is(err, ErrRateUnavailable) ||
		errors.Is(err, ErrManagerNotFound) ||
		errors.Is(err, ErrDependencyTimeout)
}

// IsRetryable returns true if the same call may succeed later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateUnavailable) || errors.Is(err, ErrDependencyTimeout)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChainNotFound) ||
		errors.Is(err, ErrExpenseNotFound) ||
		errors.Is(err, ErrRuleNotFound)
}
