package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/domain/money"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// recordingSink collects notifications and can be told to fail
type recordingSink struct {
	mu     sync.Mutex
	events []*event.Event
	err    error
}

func (s *recordingSink) Notify(ctx context.Context, events []*event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return s.err
}

func (s *recordingSink) types() []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Type, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	expenses  ExpenseService
	rules     RuleService
	directory DirectoryService
	rates     RateService
	sink      *recordingSink
	deps      ExpenseDeps
}

// stalledRates never answers and ignores cancellation
type stalledRates struct{}

func (stalledRates) Rate(context.Context, string, string) (decimal.Decimal, error) {
	time.Sleep(time.Second)
	return decimal.NewFromInt(1), nil
}

// newTestEnv seeds a USD company with an admin, a manager and an employee
// reporting to the manager.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	logger := nopLogger{}

	directory := NewDirectoryService(repos.Companies, repos.Users, repos.Categories, store, logger)
	rates := NewRateService(repos.Rates, logger)
	rules := NewRuleService(repos.Rules, repos.Companies, repos.Users, repos.Categories, logger)
	sink := &recordingSink{}
	engine := workflow.NewEngine(repos.Expenses, repos.Chains, store, directory, directory)

	_, err := directory.CreateCompany(ctx, &entity.Company{ID: "acme", Name: "Acme", Currency: "usd"})
	require.NoError(t, err)
	for _, u := range []*entity.User{
		{ID: "admin", CompanyID: "acme", Name: "Ada", Role: entity.RoleAdmin},
		{ID: "mgr", CompanyID: "acme", Name: "Max", Role: entity.RoleManager},
		{ID: "emp", CompanyID: "acme", Name: "Eve", Role: entity.RoleEmployee, ManagerID: "mgr"},
	} {
		_, err := directory.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	_, err = rates.SetRate(ctx, "EUR", "USD", decimal.RequireFromString("1.1"))
	require.NoError(t, err)

	deps := ExpenseDeps{
		Expenses:   repos.Expenses,
		Chains:     repos.Chains,
		Rules:      repos.Rules,
		Companies:  repos.Companies,
		Users:      repos.Users,
		Categories: repos.Categories,
		Rates:      rates,
		Engine:     engine,
		Sink:       sink,
		Logger:     logger,
	}
	return &testEnv{
		expenses:  NewExpenseService(deps),
		rules:     rules,
		directory: directory,
		rates:     rates,
		sink:      sink,
		deps:      deps,
	}
}

func (env *testEnv) draft(t *testing.T, amount, currency string) *entity.Expense {
	t.Helper()
	exp, err := env.expenses.CreateExpense(context.Background(), NewExpenseInput{
		OwnerID:  "emp",
		Category: "Travel",
		Amount:   decimal.RequireFromString(amount),
		Currency: currency,
	})
	require.NoError(t, err)
	return exp
}

func TestExpenseService_CreateExpense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.directory.CreateCompany(ctx, &entity.Company{ID: "other", Name: "Other", Currency: "EUR"})
	require.NoError(t, err)
	_, err = env.directory.CreateCategory(ctx, &entity.ExpenseCategory{CompanyID: "other", Name: "rockets", IsActive: true})
	require.NoError(t, err)

	exp := env.draft(t, "12.5", "eur")
	assert.Equal(t, "acme", exp.CompanyID)
	assert.Equal(t, "EUR", exp.Currency)
	assert.Equal(t, entity.CategoryTravel, exp.Category)
	assert.Equal(t, domainwf.StateDraft, exp.Status)

	tests := []struct {
		name string
		in   NewExpenseInput
		want error
	}{
		{"unknown owner", NewExpenseInput{OwnerID: "ghost", Amount: decimal.NewFromInt(1), Currency: "USD"}, ErrUserNotFound},
		{"zero amount", NewExpenseInput{OwnerID: "emp", Amount: decimal.Zero, Currency: "USD"}, ErrValidation},
		{"negative amount", NewExpenseInput{OwnerID: "emp", Amount: decimal.NewFromInt(-3), Currency: "USD"}, ErrValidation},
		{"bad currency", NewExpenseInput{OwnerID: "emp", Amount: decimal.NewFromInt(1), Currency: "dollars"}, ErrValidation},
		{"bad category", NewExpenseInput{OwnerID: "emp", Amount: decimal.NewFromInt(1), Currency: "USD", Category: "yacht"}, ErrValidation},
		{"category of another company", NewExpenseInput{OwnerID: "emp", Amount: decimal.NewFromInt(1), Currency: "USD", Category: "rockets"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.expenses.CreateExpense(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExpenseService_SubmitConvertsAndSelectsRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	small := decimal.NewFromInt(50)
	_, err := env.rules.CreateRule(ctx, &approval.Rule{
		CompanyID: "acme", Name: "small", Type: approval.RuleTypeSpecificApprover,
		RequiredApproverIDs: []string{"admin"}, MaxAmount: &small, IsActive: true,
	})
	require.NoError(t, err)
	_, err = env.rules.CreateRule(ctx, &approval.Rule{
		CompanyID: "acme", Name: "large", Type: approval.RuleTypeManagerFirst, IsActive: true, Priority: 1,
	})
	require.NoError(t, err)

	exp := env.draft(t, "100", "EUR")
	res, err := env.expenses.Submit(ctx, exp.ID, "emp")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePending, res.Status)

	stored, err := env.expenses.GetExpense(ctx, exp.ID)
	require.NoError(t, err)
	assert.True(t, stored.CompanyAmount.Valid)
	assert.True(t, decimal.RequireFromString("110").Equal(stored.CompanyAmount.Decimal), stored.CompanyAmount.Decimal.String())
	assert.Equal(t, "USD", stored.CompanyCurrency)

	chain, err := env.expenses.GetChain(ctx, res.ChainID)
	require.NoError(t, err)
	assert.Equal(t, approval.RuleTypeManagerFirst, chain.RuleType, "110 USD is over the small limit")
	require.Len(t, chain.Steps, 1)
	assert.Equal(t, "mgr", chain.Steps[0].ApproverID)

	assert.Equal(t, []event.Type{event.TypeExpenseSubmitted, event.TypeApprovalRequest}, env.sink.types())

	pending, err := env.expenses.PendingApprovals(ctx, "mgr")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.ChainID, pending[0].ID)

	dec, err := env.expenses.Decide(ctx, workflow.DecisionInput{ChainID: res.ChainID, ApproverID: "mgr", Decision: approval.DecisionApproved})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, dec.Status)

	stored, err = env.expenses.GetExpense(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, stored.Status)
}

func TestExpenseService_SubmitWithoutRuleAutoApproves(t *testing.T) {
	env := newTestEnv(t)
	exp := env.draft(t, "20", "USD")

	res, err := env.expenses.Submit(context.Background(), exp.ID, "emp")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, res.Status)
	assert.Equal(t, []event.Type{event.TypeExpenseApproved}, env.sink.types())
}

func TestExpenseService_SubmitMissingRateStaysDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exp := env.draft(t, "20", "GBP")

	_, err := env.expenses.Submit(ctx, exp.ID, "emp")
	require.ErrorIs(t, err, money.ErrRateUnavailable)
	assert.True(t, approval.IsRetryable(err))

	stored, err := env.expenses.GetExpense(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateDraft, stored.Status)
	assert.Empty(t, env.sink.types())

	_, err = env.rates.SetRate(ctx, "USD", "GBP", decimal.RequireFromString("0.8"))
	require.NoError(t, err)
	res, err := env.expenses.Submit(ctx, exp.ID, "emp")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, res.Status)

	stored, err = env.expenses.GetExpense(ctx, exp.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("25").Equal(stored.CompanyAmount.Decimal), stored.CompanyAmount.Decimal.String())
}

func TestExpenseService_SubmitRateLookupIgnoringContextTimesOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exp := env.draft(t, "20", "EUR")

	deps := env.deps
	deps.Rates = stalledRates{}
	deps.LookupTimeout = 20 * time.Millisecond
	expenses := NewExpenseService(deps)

	start := time.Now()
	_, err := expenses.Submit(ctx, exp.ID, "emp")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.ErrorIs(t, err, approval.ErrDependencyTimeout)
	var timeout *approval.DependencyTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "exchange rate", timeout.Dependency)

	stored, err := env.expenses.GetExpense(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateDraft, stored.Status)
}

func TestExpenseService_PendingApprovalsFiltersToActionable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.rules.CreateRule(ctx, &approval.Rule{
		CompanyID: "acme", Name: "both", Type: approval.RuleTypeManagerFirst,
		RequiredApproverIDs: []string{"admin"}, IsActive: true,
	})
	require.NoError(t, err)

	var chainIDs []string
	for i := 0; i < 3; i++ {
		res, err := env.expenses.Submit(ctx, env.draft(t, "20", "USD").ID, "emp")
		require.NoError(t, err)
		chainIDs = append(chainIDs, res.ChainID)
	}

	// admin's step waits for the manager, so nothing is actionable yet
	pending, err := env.expenses.PendingApprovals(ctx, "admin")
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = env.expenses.PendingApprovals(ctx, "mgr")
	require.NoError(t, err)
	require.Len(t, pending, 3)

	_, err = env.expenses.Decide(ctx, workflow.DecisionInput{ChainID: chainIDs[1], ApproverID: "mgr", Decision: approval.DecisionApproved})
	require.NoError(t, err)

	pending, err = env.expenses.PendingApprovals(ctx, "admin")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, chainIDs[1], pending[0].ID)
}

func TestExpenseService_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exp := env.draft(t, "20", "USD")

	_, err := env.expenses.Submit(ctx, exp.ID, "mgr")
	assert.ErrorIs(t, err, approval.ErrNotOwner)

	_, err = env.expenses.Cancel(ctx, exp.ID, "mgr")
	assert.ErrorIs(t, err, approval.ErrNotOwner)

	_, err = env.expenses.Cancel(ctx, exp.ID, "emp")
	require.NoError(t, err)

	_, err = env.expenses.Submit(ctx, exp.ID, "emp")
	assert.ErrorIs(t, err, approval.ErrNotSubmittable)
}

func TestExpenseService_SinkFailureDoesNotFailDecision(t *testing.T) {
	env := newTestEnv(t)
	env.sink.err = errors.New("broker down")
	exp := env.draft(t, "20", "USD")

	res, err := env.expenses.Submit(context.Background(), exp.ID, "emp")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, res.Status)
	assert.NotEmpty(t, env.sink.types())
}

func TestDirectoryService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pool, err := env.directory.ApproverPool(ctx, "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "mgr"}, pool)

	manager, err := env.directory.ManagerOf(ctx, "emp")
	require.NoError(t, err)
	assert.Equal(t, "mgr", manager)

	manager, err = env.directory.ManagerOf(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, manager)

	_, err = env.directory.CreateUser(ctx, &entity.User{CompanyID: "acme", Name: "Bob", ManagerID: "ghost"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.directory.CreateUser(ctx, &entity.User{CompanyID: "nowhere", Name: "Bob"})
	assert.ErrorIs(t, err, ErrCompanyNotFound)

	_, err = env.directory.CreateCompany(ctx, &entity.Company{Name: "Bad", Currency: "EURO"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDirectoryService_Categories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seeded, err := env.directory.ListCategories(ctx, "acme", true)
	require.NoError(t, err)
	var names []string
	for _, c := range seeded {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, entity.DefaultCategories(), names)

	created, err := env.directory.CreateCategory(ctx, &entity.ExpenseCategory{
		CompanyID: "acme", Name: "  Training ", Description: "courses", IsActive: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "training", created.Name)

	tests := []struct {
		name     string
		category *entity.ExpenseCategory
		want     error
	}{
		{"duplicate name", &entity.ExpenseCategory{CompanyID: "acme", Name: "TRAINING"}, ErrValidation},
		{"seeded name", &entity.ExpenseCategory{CompanyID: "acme", Name: "meals"}, ErrValidation},
		{"blank name", &entity.ExpenseCategory{CompanyID: "acme", Name: " "}, ErrValidation},
		{"unknown company", &entity.ExpenseCategory{CompanyID: "nowhere", Name: "x"}, ErrCompanyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.directory.CreateCategory(ctx, tt.category)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = env.directory.CreateCategory(ctx, &entity.ExpenseCategory{CompanyID: "acme", Name: "retired"})
	require.NoError(t, err)
	active, err := env.directory.ListCategories(ctx, "acme", true)
	require.NoError(t, err)
	assert.Len(t, active, len(entity.DefaultCategories())+1)
	all, err := env.directory.ListCategories(ctx, "acme", false)
	require.NoError(t, err)
	assert.Len(t, all, len(entity.DefaultCategories())+2)

	// an inactive category cannot be used for new expenses
	_, err = env.expenses.CreateExpense(ctx, NewExpenseInput{OwnerID: "emp", Category: "retired", Amount: decimal.NewFromInt(5), Currency: "USD"})
	assert.ErrorIs(t, err, ErrValidation)
	exp, err := env.expenses.CreateExpense(ctx, NewExpenseInput{OwnerID: "emp", Category: "Training", Amount: decimal.NewFromInt(5), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "training", exp.Category)

	_, err = env.directory.ListCategories(ctx, "nowhere", false)
	assert.ErrorIs(t, err, ErrCompanyNotFound)
}

func TestRateService_InverseFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rate, err := env.rates.Rate(ctx, "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.1").Equal(rate))

	rate, err = env.rates.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.9090909091", rate.String())

	_, err = env.rates.Rate(ctx, "USD", "JPY")
	assert.ErrorIs(t, err, money.ErrRateUnavailable)

	_, err = env.rates.SetRate(ctx, "USD", "USD", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.rates.SetRate(ctx, "USD", "JPY", decimal.Zero)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRuleService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.rules.CreateRule(ctx, &approval.Rule{CompanyID: "acme", Type: approval.RuleTypePercentage, Threshold: 0})
	assert.ErrorIs(t, err, approval.ErrInvalidRule)

	_, err = env.rules.CreateRule(ctx, &approval.Rule{CompanyID: "other", Type: approval.RuleTypePercentage, Threshold: 60})
	assert.ErrorIs(t, err, ErrCompanyNotFound)

	rule, err := env.rules.CreateRule(ctx, &approval.Rule{
		CompanyID: "acme", Type: approval.RuleTypeHybrid, Threshold: 60,
		RequiredApproverIDs: []string{"mgr", "admin", "mgr"}, IsActive: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, []string{"admin", "mgr"}, rule.RequiredApproverIDs)

	_, err = env.rules.SetActive(ctx, rule.ID, false)
	require.NoError(t, err)
	active, err := env.rules.ListRules(ctx, "acme", true)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, env.rules.DeleteRule(ctx, rule.ID))
	_, err = env.rules.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, approval.ErrRuleNotFound)
}

func TestRuleService_ReferencesMustBelongToCompany(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.directory.CreateCompany(ctx, &entity.Company{ID: "other", Name: "Other", Currency: "EUR"})
	require.NoError(t, err)
	_, err = env.directory.CreateUser(ctx, &entity.User{ID: "outsider", CompanyID: "other", Name: "Olga", Role: entity.RoleManager})
	require.NoError(t, err)
	_, err = env.directory.CreateCategory(ctx, &entity.ExpenseCategory{CompanyID: "other", Name: "rockets", IsActive: true})
	require.NoError(t, err)

	tests := []struct {
		name      string
		approvers []string
		category  string
		wantErr   error
	}{
		{name: "approver from another company", approvers: []string{"mgr", "outsider"}, wantErr: ErrValidation},
		{name: "unknown approver", approvers: []string{"ghost"}, wantErr: ErrValidation},
		{name: "category from another company", approvers: []string{"mgr"}, category: "rockets", wantErr: ErrValidation},
		{name: "unknown category", approvers: []string{"mgr"}, category: "yacht", wantErr: ErrValidation},
		{name: "own approvers and category", approvers: []string{"mgr", "admin"}, category: "Meals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newRule := func() *approval.Rule {
				return &approval.Rule{
					CompanyID: "acme", Type: approval.RuleTypeSpecificApprover,
					RequiredApproverIDs: tt.approvers, Category: tt.category, IsActive: true,
				}
			}

			created, err := env.rules.CreateRule(ctx, newRule())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "meals", created.Category)
			}

			base, err := env.rules.CreateRule(ctx, &approval.Rule{
				CompanyID: "acme", Type: approval.RuleTypeSpecificApprover,
				RequiredApproverIDs: []string{"mgr"}, IsActive: true,
			})
			require.NoError(t, err)

			update := newRule()
			update.ID = base.ID
			_, err = env.rules.UpdateRule(ctx, update)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				stored, err := env.rules.GetRule(ctx, base.ID)
				require.NoError(t, err)
				assert.Equal(t, []string{"mgr"}, stored.RequiredApproverIDs)
				return
			}
			require.NoError(t, err)
		})
	}
}
