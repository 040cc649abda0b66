package approval

import "github.com/garyjia/expense-approval/internal/domain/workflow"

type tally struct {
	total    int
	approved int
	rejected int
	pending  int
}

func count(c *Chain) tally {
	t := tally{total: len(c.Approvals)}
	for _, a := range c.Approvals {
		switch a.Decision {
		case DecisionApproved:
			t.approved++
		case DecisionRejected:
			t.rejected++
		default:
			t.pending++
		}
	}
	return t
}

// thresholdMet compares approved/total >= threshold% without floating point.
func (t tally) thresholdMet(threshold int) bool {
	return t.total > 0 && t.approved*100 >= threshold*t.total
}

// thresholdUnreachable is true once even approving every pending step cannot meet threshold.
func (t tally) thresholdUnreachable(threshold int) bool {
	return (t.pending+t.approved)*100 < threshold*t.total
}

// Evaluate computes the chain state from its current decisions.
//
// A rejected required step rejects the chain, except the required approvers of a
// hybrid rule, whose rejection only closes the specific-approver path. Percentage
// chains reject early once the threshold is out of reach; hybrid chains only when
// both paths are.
func Evaluate(c *Chain) ExpenseState {
	next := ExpenseState{Status: workflow.StatePending, CurrentStepIndex: c.firstPending()}
	t := count(c)

	for _, s := range c.Steps {
		if c.Approvals[s.Index].Decision != DecisionRejected || !s.Required {
			continue
		}
		if c.RuleType == RuleTypeHybrid && s.Role == StepRoleRequired {
			continue
		}
		next.Status = workflow.StateRejected
		return next
	}

	switch c.RuleType {
	case RuleTypeManagerFirst, RuleTypeSpecificApprover:
		if allApproved(c, requiredSteps(c)) {
			next.Status = workflow.StateApproved
		}

	case RuleTypePercentage:
		switch {
		case t.thresholdMet(c.Threshold):
			next.Status = workflow.StateApproved
		case t.thresholdUnreachable(c.Threshold):
			next.Status = workflow.StateRejected
		}

	case RuleTypeHybrid:
		specific := c.requiredIndexes()
		specificMet := allApproved(c, specific)
		specificDead := anyRejected(c, specific)
		switch {
		case specificMet || t.thresholdMet(c.Threshold):
			next.Status = workflow.StateApproved
		case specificDead && t.thresholdUnreachable(c.Threshold):
			next.Status = workflow.StateRejected
		}
	}

	return next
}

func requiredSteps(c *Chain) []int {
	var out []int
	for _, s := range c.Steps {
		if s.Required {
			out = append(out, s.Index)
		}
	}
	return out
}

func allApproved(c *Chain, indexes []int) bool {
	if len(indexes) == 0 {
		return false
	}
	for _, i := range indexes {
		if c.Approvals[i].Decision != DecisionApproved {
			return false
		}
	}
	return true
}

func anyRejected(c *Chain, indexes []int) bool {
	for _, i := range indexes {
		if c.Approvals[i].Decision == DecisionRejected {
			return true
		}
	}
	return false
}
