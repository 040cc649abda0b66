package approval

import (
	"time"

	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Decision is an approver's verdict on a step.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func (d Decision) IsValid() bool {
	return d == DecisionPending || d == DecisionApproved || d == DecisionRejected
}

// StepRole records why a step is part of the chain.
type StepRole string

const (
	StepRoleManager  StepRole = "manager"
	StepRoleRequired StepRole = "required"
	StepRolePool     StepRole = "pool"
)

// Step is one approver slot in a chain.
type Step struct {
	Index      int
	ApproverID string
	Required   bool
	Role       StepRole
}

// Approval is the decision record of one step.
type Approval struct {
	StepIndex  int
	ApproverID string
	Decision   Decision
	Comment    string
	DecidedAt  *time.Time
}

// ExpenseState is the engine-owned status of a submission.
type ExpenseState struct {
	Status           workflow.State
	CurrentStepIndex int
}

// Subject identifies the expense a chain is built for.
type Subject struct {
	ExpenseID string
	CompanyID string
	OwnerID   string
}

// Org is the organisational context resolved before building a chain.
type Org struct {
	ManagerID string // empty when the owner has no manager
	Pool      []string
}

// Chain is the ordered set of approval steps for one submission. Steps and the
// rule snapshot are fixed at creation; only Approvals and State change.
type Chain struct {
	ID        string
	ExpenseID string
	CompanyID string
	OwnerID   string
	RuleID    string

	RuleType     RuleType
	Threshold    int
	ManagerFirst bool

	Steps     []Step
	Approvals []Approval
	State     ExpenseState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BuildChain derives the steps for subject from rule and org:
// the owner's manager first when the rule asks for it, then the required
// approvers, then for percentage and hybrid rules the remaining pool members.
// Approvers appear once and the owner never approves their own expense.
func BuildChain(id string, rule *Rule, subject Subject, org Org, now time.Time) (*Chain, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{subject.OwnerID: {}}
	var steps []Step
	add := func(approverID string, role StepRole, required bool) {
		if approverID == "" {
			return
		}
		if _, dup := seen[approverID]; dup {
			return
		}
		seen[approverID] = struct{}{}
		steps = append(steps, Step{Index: len(steps), ApproverID: approverID, Required: required, Role: role})
	}

	if rule.ManagerFirst {
		if org.ManagerID == "" || org.ManagerID == subject.OwnerID {
			return nil, ErrManagerNotFound
		}
		add(org.ManagerID, StepRoleManager, true)
	}

	for _, id := range sortedUnique(rule.RequiredApproverIDs) {
		add(id, StepRoleRequired, true)
	}

	if rule.Type.UsesPool() {
		for _, id := range sortedUnique(org.Pool) {
			add(id, StepRolePool, false)
		}
	}

	if len(steps) == 0 {
		return nil, ErrEmptyChain
	}

	approvals := make([]Approval, len(steps))
	for i, s := range steps {
		approvals[i] = Approval{StepIndex: i, ApproverID: s.ApproverID, Decision: DecisionPending}
	}

	return &Chain{
		ID:           id,
		ExpenseID:    subject.ExpenseID,
		CompanyID:    subject.CompanyID,
		OwnerID:      subject.OwnerID,
		RuleID:       rule.ID,
		RuleType:     rule.Type,
		Threshold:    rule.Threshold,
		ManagerFirst: rule.ManagerFirst,
		Steps:        steps,
		Approvals:    approvals,
		State:        ExpenseState{Status: workflow.StatePending, CurrentStepIndex: 0},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy so a decision can be evaluated without touching the original.
func (c *Chain) Clone() *Chain {
	out := *c
	out.Steps = append([]Step(nil), c.Steps...)
	out.Approvals = make([]Approval, len(c.Approvals))
	for i, a := range c.Approvals {
		if a.DecidedAt != nil {
			at := *a.DecidedAt
			a.DecidedAt = &at
		}
		out.Approvals[i] = a
	}
	return &out
}

// IsTerminal reports whether the chain accepts no further decisions.
func (c *Chain) IsTerminal() bool {
	return c.State.Status.IsTerminal()
}

// sequential chains are decided strictly in step order.
func (c *Chain) sequential() bool {
	return c.RuleType == RuleTypeManagerFirst
}

func (c *Chain) managerPending() bool {
	return c.ManagerFirst && len(c.Approvals) > 0 && c.Approvals[0].Decision == DecisionPending
}

// Actionable reports whether step index may be decided now.
func (c *Chain) Actionable(index int) bool {
	if index < 0 || index >= len(c.Steps) || c.Approvals[index].Decision != DecisionPending {
		return false
	}
	if c.sequential() {
		return index == c.firstPending()
	}
	if c.managerPending() {
		return index == 0
	}
	return true
}

// ActionableSteps lists the steps whose approvers should be asked to decide now.
func (c *Chain) ActionableSteps() []Step {
	if c.IsTerminal() {
		return nil
	}
	var out []Step
	for _, s := range c.Steps {
		if c.Actionable(s.Index) {
			out = append(out, s)
		}
	}
	return out
}

// PendingApprovers returns the approvers of undecided steps in step order.
func (c *Chain) PendingApprovers() []string {
	var out []string
	for _, a := range c.Approvals {
		if a.Decision == DecisionPending {
			out = append(out, a.ApproverID)
		}
	}
	return out
}

func (c *Chain) firstPending() int {
	for i, a := range c.Approvals {
		if a.Decision == DecisionPending {
			return i
		}
	}
	return len(c.Approvals)
}

// ResolveStep finds the step an approver should decide when the caller did not name one.
// It prefers an actionable step, then any step of that approver so the caller gets
// the precise error for it.
func (c *Chain) ResolveStep(approverID string) (int, error) {
	fallback := -1
	for _, s := range c.Steps {
		if s.ApproverID != approverID {
			continue
		}
		if c.Actionable(s.Index) {
			return s.Index, nil
		}
		if fallback < 0 {
			fallback = s.Index
		}
	}
	if fallback < 0 {
		return -1, &UnauthorizedApproverError{ChainID: c.ID, StepIndex: -1, ApproverID: approverID}
	}
	return fallback, nil
}

// CheckDecision validates that approverID may decide step index now.
func (c *Chain) CheckDecision(index int, approverID string) error {
	if c.IsTerminal() {
		return &TerminalError{ChainID: c.ID, Status: string(c.State.Status)}
	}
	if index < 0 || index >= len(c.Steps) {
		return &InvalidStepError{ChainID: c.ID, StepIndex: index, Reason: "no such step"}
	}
	if c.Approvals[index].Decision != DecisionPending {
		return &InvalidStepError{ChainID: c.ID, StepIndex: index, Reason: "already decided"}
	}
	if c.Steps[index].ApproverID != approverID {
		return &UnauthorizedApproverError{ChainID: c.ID, StepIndex: index, ApproverID: approverID}
	}
	if !c.Actionable(index) {
		if c.managerPending() {
			return &InvalidStepError{ChainID: c.ID, StepIndex: index, Reason: "manager step must be decided first"}
		}
		return &InvalidStepError{ChainID: c.ID, StepIndex: index, Reason: "earlier steps are still pending"}
	}
	return nil
}

// Decide records decision on step index and re-evaluates the chain in place.
// Callers run CheckDecision first and work on a Clone.
func (c *Chain) Decide(index int, decision Decision, comment string, at time.Time) {
	c.Approvals[index].Decision = decision
	c.Approvals[index].Comment = comment
	decided := at
	c.Approvals[index].DecidedAt = &decided
	c.State = Evaluate(c)
	c.UpdatedAt = at
}

// requiredIndexes lists the steps added from the rule's required approvers.
func (c *Chain) requiredIndexes() []int {
	var out []int
	for _, s := range c.Steps {
		if s.Role == StepRoleRequired {
			out = append(out, s.Index)
		}
	}
	return out
}
