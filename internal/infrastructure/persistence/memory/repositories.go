package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ExpenseRepository implements port.ExpenseRepository
type ExpenseRepository struct{ s *Store }

func (r *ExpenseRepository) Create(ctx context.Context, expense *entity.Expense) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.expenses[expense.ID]; exists {
		return fmt.Errorf("expense %s already exists", expense.ID)
	}
	putUndo(ctx, r.s.expenses, expense.ID)
	r.s.expenses[expense.ID] = *expense
	return nil
}

func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.expenses[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *ExpenseRepository) Update(ctx context.Context, expense *entity.Expense) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.expenses[expense.ID]; !exists {
		return fmt.Errorf("expense %s not found", expense.ID)
	}
	putUndo(ctx, r.s.expenses, expense.ID)
	r.s.expenses[expense.ID] = *expense
	return nil
}

func (r *ExpenseRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*entity.Expense, error) {
	r.s.mu.RLock()
	var out []*entity.Expense
	for _, e := range r.s.expenses {
		if e.OwnerID == ownerID {
			e := e
			out = append(out, &e)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

// ChainRepository implements port.ChainRepository
type ChainRepository struct{ s *Store }

func (r *ChainRepository) Create(ctx context.Context, chain *approval.Chain) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.chains[chain.ID]; exists {
		return fmt.Errorf("chain %s already exists", chain.ID)
	}
	putUndo(ctx, r.s.chains, chain.ID)
	r.s.chains[chain.ID] = chain.Clone()
	return nil
}

func (r *ChainRepository) GetByID(ctx context.Context, id string) (*approval.Chain, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.chains[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

// SaveProgress replaces decisions and state; steps stay as created.
func (r *ChainRepository) SaveProgress(ctx context.Context, chain *approval.Chain) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.chains[chain.ID]
	if !ok {
		return fmt.Errorf("chain %s not found", chain.ID)
	}
	if len(existing.Approvals) != len(chain.Approvals) {
		return fmt.Errorf("chain %s: expected %d approvals, got %d", chain.ID, len(existing.Approvals), len(chain.Approvals))
	}

	updated := existing.Clone()
	incoming := chain.Clone()
	updated.Approvals = incoming.Approvals
	updated.State = incoming.State
	updated.UpdatedAt = incoming.UpdatedAt

	putUndo(ctx, r.s.chains, chain.ID)
	r.s.chains[chain.ID] = updated
	return nil
}

func (r *ChainRepository) ListPendingByApprover(ctx context.Context, approverID string) ([]*approval.Chain, error) {
	r.s.mu.RLock()
	var out []*approval.Chain
	for _, c := range r.s.chains {
		if c.IsTerminal() {
			continue
		}
		for _, a := range c.Approvals {
			if a.ApproverID == approverID && a.Decision == approval.DecisionPending {
				out = append(out, c.Clone())
				break
			}
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RuleRepository implements port.RuleRepository
type RuleRepository struct{ s *Store }

func (r *RuleRepository) Create(ctx context.Context, rule *approval.Rule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.rules[rule.ID]; exists {
		return fmt.Errorf("rule %s already exists", rule.ID)
	}
	putUndo(ctx, r.s.rules, rule.ID)
	r.s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*approval.Rule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rule, ok := r.s.rules[id]
	if !ok {
		return nil, nil
	}
	out := copyRule(&rule)
	return &out, nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *approval.Rule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.rules[rule.ID]; !exists {
		return fmt.Errorf("rule %s not found", rule.ID)
	}
	putUndo(ctx, r.s.rules, rule.ID)
	r.s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	putUndo(ctx, r.s.rules, id)
	delete(r.s.rules, id)
	return nil
}

func (r *RuleRepository) ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*approval.Rule, error) {
	r.s.mu.RLock()
	var out []*approval.Rule
	for _, rule := range r.s.rules {
		if rule.CompanyID != companyID || (activeOnly && !rule.IsActive) {
			continue
		}
		c := copyRule(&rule)
		out = append(out, &c)
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func copyRule(r *approval.Rule) approval.Rule {
	out := *r
	out.RequiredApproverIDs = append([]string(nil), r.RequiredApproverIDs...)
	if r.MinAmount != nil {
		v := *r.MinAmount
		out.MinAmount = &v
	}
	if r.MaxAmount != nil {
		v := *r.MaxAmount
		out.MaxAmount = &v
	}
	return out
}

// CompanyRepository implements port.CompanyRepository
type CompanyRepository struct{ s *Store }

func (r *CompanyRepository) Create(ctx context.Context, company *entity.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.companies[company.ID]; exists {
		return fmt.Errorf("company %s already exists", company.ID)
	}
	putUndo(ctx, r.s.companies, company.ID)
	r.s.companies[company.ID] = *company
	return nil
}

func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.companies[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// UserRepository implements port.UserRepository
type UserRepository struct{ s *Store }

func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.users[user.ID]; exists {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	putUndo(ctx, r.s.users, user.ID)
	r.s.users[user.ID] = *user
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *UserRepository) ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error) {
	r.s.mu.RLock()
	var out []*entity.User
	for _, u := range r.s.users {
		if u.CompanyID == companyID {
			u := u
			out = append(out, &u)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CategoryRepository implements port.CategoryRepository
type CategoryRepository struct{ s *Store }

func categoryKey(companyID, name string) string {
	return companyID + "/" + entity.NormalizeCategory(name)
}

func (r *CategoryRepository) Create(ctx context.Context, category *entity.ExpenseCategory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := categoryKey(category.CompanyID, category.Name)
	if _, exists := r.s.categories[k]; exists {
		return fmt.Errorf("category %q already exists in company %s", category.Name, category.CompanyID)
	}
	putUndo(ctx, r.s.categories, k)
	r.s.categories[k] = *category
	return nil
}

func (r *CategoryRepository) GetByName(ctx context.Context, companyID, name string) (*entity.ExpenseCategory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.categories[categoryKey(companyID, name)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CategoryRepository) ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*entity.ExpenseCategory, error) {
	r.s.mu.RLock()
	var out []*entity.ExpenseCategory
	for _, c := range r.s.categories {
		if c.CompanyID != companyID || (activeOnly && !c.IsActive) {
			continue
		}
		c := c
		out = append(out, &c)
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ExchangeRateRepository implements port.ExchangeRateRepository
type ExchangeRateRepository struct{ s *Store }

func rateKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}

func (r *ExchangeRateRepository) Upsert(ctx context.Context, rate *entity.ExchangeRate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := rateKey(rate.From, rate.To)
	putUndo(ctx, r.s.rates, k)
	r.s.rates[k] = *rate
	return nil
}

func (r *ExchangeRateRepository) Get(ctx context.Context, from, to string) (*entity.ExchangeRate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rate, ok := r.s.rates[rateKey(from, to)]
	if !ok {
		return nil, nil
	}
	return &rate, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var (
	_ port.ExpenseRepository      = (*ExpenseRepository)(nil)
	_ port.ChainRepository        = (*ChainRepository)(nil)
	_ port.RuleRepository         = (*RuleRepository)(nil)
	_ port.CompanyRepository      = (*CompanyRepository)(nil)
	_ port.UserRepository         = (*UserRepository)(nil)
	_ port.CategoryRepository     = (*CategoryRepository)(nil)
	_ port.ExchangeRateRepository = (*ExchangeRateRepository)(nil)
)
