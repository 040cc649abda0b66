package workflow

import (
	"context"

	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// ApprovalEngine drives expenses through their approval chains.
//
// Decisions on one chain are serialized; different chains proceed in parallel.
// Every operation either persists all of its changes or none of them, and
// returns the notifications the caller should hand to a sink.
type ApprovalEngine interface {
	// SubmitExpense builds a chain for the expense from rule and moves it to PENDING.
	// A nil rule approves the expense without a chain.
	SubmitExpense(ctx context.Context, expense *entity.Expense, rule *approval.Rule) (*SubmitResult, error)

	// RecordDecision applies one approver's decision and re-evaluates the chain.
	RecordDecision(ctx context.Context, in DecisionInput) (*DecisionResult, error)

	// CancelExpense moves a DRAFT or PENDING expense to CANCELLED on behalf of its owner.
	CancelExpense(ctx context.Context, expenseID, actorID string) (*CancelResult, error)

	// GetChainStatus returns the current state of a chain without side effects.
	GetChainStatus(ctx context.Context, chainID string) (approval.ExpenseState, error)

	// GetChain returns the chain with its steps and decisions.
	GetChain(ctx context.Context, chainID string) (*approval.Chain, error)
}

// DecisionInput is one approver's verdict. A nil StepIndex lets the engine pick
// the approver's actionable step.
type DecisionInput struct {
	ChainID    string
	StepIndex  *int
	ApproverID string
	Decision   approval.Decision
	Comment    string
}

// SubmitResult reports the outcome of a submission.
type SubmitResult struct {
	ChainID       string
	Status        domainwf.State
	Notifications []*event.Event
}

// DecisionResult reports the chain state after a decision.
type DecisionResult struct {
	ChainID          string
	StepIndex        int
	Status           domainwf.State
	CurrentStepIndex int
	Notifications    []*event.Event
}

// CancelResult reports a cancellation.
type CancelResult struct {
	ExpenseID     string
	Notifications []*event.Event
}

// Observer receives engine outcomes, typically for metrics.
type Observer interface {
	Submitted(ruleType string, status domainwf.State)
	Decided(decision approval.Decision, status domainwf.State)
	Cancelled(from domainwf.State)
	LookupFailed(dependency string, timeout bool)
}

type nopObserver struct{}

func (nopObserver) Submitted(string, domainwf.State) {}
func (nopObserver) Decided(approval.Decision, domainwf.State) {}
func (nopObserver) Cancelled(domainwf.State) {}
func (nopObserver) LookupFailed(string, bool) {}
