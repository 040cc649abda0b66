// Package approval holds the approval rule model, chain construction and the
// evaluation of decisions against a chain.
package approval

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RuleType selects how a chain is satisfied.
type RuleType string

const (
	RuleTypePercentage       RuleType = "percentage"
	RuleTypeSpecificApprover RuleType = "specific_approver"
	RuleTypeHybrid           RuleType = "hybrid"
	RuleTypeManagerFirst     RuleType = "manager_first"
)

func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypePercentage, RuleTypeSpecificApprover, RuleTypeHybrid, RuleTypeManagerFirst:
		return true
	}
	return false
}

// UsesThreshold reports whether the type is satisfied by a share of approvals.
func (t RuleType) UsesThreshold() bool {
	return t == RuleTypePercentage || t == RuleTypeHybrid
}

// UsesPool reports whether the chain is extended with the company's approver pool.
func (t RuleType) UsesPool() bool {
	return t.UsesThreshold()
}

// Rule is a company's approval configuration.
type Rule struct {
	ID          string
	CompanyID   string
	Name        string
	Description string
	Type        RuleType

	// Threshold is the percentage (1..100) of approved steps needed by
	// percentage and hybrid rules. Zero for the other types.
	Threshold int

	RequiredApproverIDs []string
	ManagerFirst        bool

	// Applicability. Amounts are in the company currency; nil bounds are open.
	IsActive  bool
	Category  string
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Priority  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Normalize sorts and deduplicates the required approvers and sets the
// manager-first flag implied by the manager_first type.
func (r *Rule) Normalize() {
	r.RequiredApproverIDs = sortedUnique(r.RequiredApproverIDs)
	if r.Type == RuleTypeManagerFirst {
		r.ManagerFirst = true
	}
	r.Category = strings.TrimSpace(r.Category)
}

// Validate checks the rule invariants. It does not modify the rule.
func (r *Rule) Validate() error {
	fail := func(field, reason string) error {
		return &RuleError{RuleID: r.ID, Field: field, Reason: reason}
	}

	if strings.TrimSpace(r.CompanyID) == "" {
		return fail("company_id", "is required")
	}
	if !r.Type.IsValid() {
		return fail("type", "must be one of percentage, specific_approver, hybrid, manager_first")
	}

	if r.Type.UsesThreshold() {
		if r.Threshold < 1 || r.Threshold > 100 {
			return fail("threshold", "must be between 1 and 100")
		}
	} else if r.Threshold != 0 {
		return fail("threshold", "is only allowed for percentage and hybrid rules")
	}

	for _, id := range r.RequiredApproverIDs {
		if strings.TrimSpace(id) == "" {
			return fail("required_approver_ids", "must not contain empty ids")
		}
	}
	switch r.Type {
	case RuleTypeSpecificApprover, RuleTypeHybrid:
		if len(r.RequiredApproverIDs) == 0 {
			return fail("required_approver_ids", "must not be empty")
		}
	case RuleTypePercentage:
		if len(r.RequiredApproverIDs) > 0 {
			return fail("required_approver_ids", "is not allowed for percentage rules")
		}
	}

	if r.Type == RuleTypeManagerFirst && !r.ManagerFirst {
		return fail("manager_first", "must be set for manager_first rules")
	}

	if r.MinAmount != nil && r.MinAmount.IsNegative() {
		return fail("min_amount", "must not be negative")
	}
	if r.MinAmount != nil && r.MaxAmount != nil && r.MaxAmount.LessThan(*r.MinAmount) {
		return fail("max_amount", "must not be below min_amount")
	}
	return nil
}

// AppliesTo reports whether an active rule covers an expense of the given
// company-currency amount and category. An empty rule category matches all.
func (r *Rule) AppliesTo(amount decimal.Decimal, category string) bool {
	if !r.IsActive {
		return false
	}
	if r.Category != "" && !strings.EqualFold(r.Category, strings.TrimSpace(category)) {
		return false
	}
	if r.MinAmount != nil && amount.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && amount.GreaterThan(*r.MaxAmount) {
		return false
	}
	return true
}

// SelectRule picks the applicable rule with the lowest priority, then lowest id.
// It returns nil when no rule applies.
func SelectRule(rules []*Rule, amount decimal.Decimal, category string) *Rule {
	var best *Rule
	for _, r := range rules {
		if !r.AppliesTo(amount, category) {
			continue
		}
		if best == nil || r.Priority < best.Priority || (r.Priority == best.Priority && r.ID < best.ID) {
			best = r
		}
	}
	return best
}

func sortedUnique(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
