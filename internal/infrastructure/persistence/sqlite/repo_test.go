package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/pkg/database"
)

func setupTestDB(t *testing.T) (*DB, *Repositories) {
	t.Helper()
	logger := zap.NewNop()
	cfg := database.Config{Path: filepath.Join(t.TempDir(), "test.db"), MaxOpenConns: 4}

	require.NoError(t, database.NewMigrator(cfg, logger).Up())

	conn, err := database.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db := NewDB(conn.DB, logger)
	repos := db.Repositories()

	ctx := context.Background()
	require.NoError(t, repos.Companies.Create(ctx, &entity.Company{ID: "acme", Name: "Acme", Currency: "USD"}))
	for _, u := range []*entity.User{
		{ID: "mgr", CompanyID: "acme", Name: "Max", Role: entity.RoleManager},
		{ID: "emp", CompanyID: "acme", Name: "Eve", Role: entity.RoleEmployee, ManagerID: "mgr"},
	} {
		require.NoError(t, repos.Users.Create(ctx, u))
	}
	return db, repos
}

func newExpense(id string) *entity.Expense {
	return &entity.Expense{
		ID:          id,
		CompanyID:   "acme",
		OwnerID:     "emp",
		Category:    entity.CategoryMeals,
		ExpenseDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString("42.50"),
		Currency:    "EUR",
		Status:      workflow.StateDraft,
	}
}

func TestMigrations_Idempotent(t *testing.T) {
	cfg := database.Config{Path: filepath.Join(t.TempDir(), "m.db")}
	m := database.NewMigrator(cfg, zap.NewNop())
	require.NoError(t, m.Up())
	require.NoError(t, m.Up())
	require.NoError(t, m.Down())
}

func TestExpenseRepository(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	missing, err := repos.Expenses.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	exp := newExpense("e1")
	require.NoError(t, repos.Expenses.Create(ctx, exp))

	got, err := repos.Expenses.GetByID(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, exp.Amount.Equal(got.Amount))
	assert.False(t, got.CompanyAmount.Valid)
	assert.Nil(t, got.SubmittedAt)
	assert.Equal(t, workflow.StateDraft, got.Status)

	submitted := time.Now().UTC()
	got.Status = workflow.StatePending
	got.CompanyAmount = decimal.NewNullDecimal(decimal.RequireFromString("46.75"))
	got.CompanyCurrency = "USD"
	got.ExchangeRate = decimal.NewNullDecimal(decimal.RequireFromString("1.1"))
	got.SubmittedAt = &submitted
	require.NoError(t, repos.Expenses.Update(ctx, got))

	got, err = repos.Expenses.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatePending, got.Status)
	assert.Equal(t, "46.75", got.CompanyAmount.Decimal.StringFixed(2))
	require.NotNil(t, got.SubmittedAt)
	assert.WithinDuration(t, submitted, *got.SubmittedAt, time.Millisecond)

	assert.Error(t, repos.Expenses.Update(ctx, newExpense("ghost")))

	second := newExpense("e2")
	second.CreatedAt = exp.CreatedAt.Add(time.Minute)
	require.NoError(t, repos.Expenses.Create(ctx, second))

	list, err := repos.Expenses.ListByOwner(ctx, "emp", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e2", list[0].ID)

	list, err = repos.Expenses.ListByOwner(ctx, "emp", 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e1", list[0].ID)
}

func TestChainRepository(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repos.Expenses.Create(ctx, newExpense("e1")))

	rule := &approval.Rule{ID: "r1", CompanyID: "acme", Type: approval.RuleTypeSpecificApprover, RequiredApproverIDs: []string{"a", "b"}}
	chain, err := approval.BuildChain("c1", rule,
		approval.Subject{ExpenseID: "e1", CompanyID: "acme", OwnerID: "emp"},
		approval.Org{}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repos.Chains.Create(ctx, chain))

	got, err := repos.Chains.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, chain.Steps, got.Steps)
	assert.Equal(t, approval.RuleTypeSpecificApprover, got.RuleType)
	assert.Equal(t, workflow.StatePending, got.State.Status)

	pending, err := repos.Chains.ListPendingByApprover(ctx, "b")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	next := got.Clone()
	next.Decide(1, approval.DecisionRejected, "no receipt", time.Now().UTC())
	require.NoError(t, repos.Chains.SaveProgress(ctx, next))

	got, err = repos.Chains.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateRejected, got.State.Status)
	assert.Equal(t, approval.DecisionRejected, got.Approvals[1].Decision)
	assert.Equal(t, "no receipt", got.Approvals[1].Comment)
	assert.NotNil(t, got.Approvals[1].DecidedAt)
	assert.Nil(t, got.Approvals[0].DecidedAt)

	pending, err = repos.Chains.ListPendingByApprover(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, pending, "terminal chains are not pending")

	missing, err := repos.Chains.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRuleRepository(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	limit := decimal.RequireFromString("500")
	rules := []*approval.Rule{
		{ID: "r-b", CompanyID: "acme", Type: approval.RuleTypePercentage, Threshold: 60, IsActive: true, Priority: 2},
		{ID: "r-a", CompanyID: "acme", Type: approval.RuleTypeHybrid, Threshold: 50, RequiredApproverIDs: []string{"mgr"}, IsActive: true, Priority: 1, MaxAmount: &limit, Category: "travel"},
		{ID: "r-c", CompanyID: "acme", Type: approval.RuleTypeManagerFirst, ManagerFirst: true, IsActive: false},
	}
	for _, r := range rules {
		require.NoError(t, repos.Rules.Create(ctx, r))
	}

	active, err := repos.Rules.ListByCompany(ctx, "acme", true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "r-a", active[0].ID)
	assert.Equal(t, []string{"mgr"}, active[0].RequiredApproverIDs)
	require.NotNil(t, active[0].MaxAmount)
	assert.True(t, limit.Equal(*active[0].MaxAmount))
	assert.Nil(t, active[0].MinAmount)
	assert.Nil(t, active[1].RequiredApproverIDs)

	all, err := repos.Rules.ListByCompany(ctx, "acme", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	rules[2].IsActive = true
	require.NoError(t, repos.Rules.Update(ctx, rules[2]))
	got, err := repos.Rules.GetByID(ctx, "r-c")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.True(t, got.ManagerFirst)

	require.NoError(t, repos.Rules.Delete(ctx, "r-c"))
	got, err = repos.Rules.GetByID(ctx, "r-c")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDirectoryAndRates(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	users, err := repos.Users.ListByCompany(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "emp", users[0].ID)
	assert.Equal(t, "mgr", users[0].ManagerID)

	company, err := repos.Companies.GetByID(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "USD", company.Currency)

	rate, err := repos.Rates.Get(ctx, "EUR", "USD")
	require.NoError(t, err)
	assert.Nil(t, rate)

	require.NoError(t, repos.Rates.Upsert(ctx, &entity.ExchangeRate{From: "eur", To: "usd", Rate: decimal.RequireFromString("1.1"), UpdatedAt: time.Now().UTC()}))
	require.NoError(t, repos.Rates.Upsert(ctx, &entity.ExchangeRate{From: "EUR", To: "USD", Rate: decimal.RequireFromString("1.2"), UpdatedAt: time.Now().UTC()}))

	rate, err = repos.Rates.Get(ctx, "EUR", "USD")
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.Equal(t, "1.2", rate.Rate.String())
}

func TestCategoryRepository(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repos.Companies.Create(ctx, &entity.Company{ID: "other", Name: "Other", Currency: "EUR"}))

	require.NoError(t, repos.Categories.Create(ctx, &entity.ExpenseCategory{ID: "k1", CompanyID: "acme", Name: "Travel", IsActive: true}))
	require.NoError(t, repos.Categories.Create(ctx, &entity.ExpenseCategory{ID: "k2", CompanyID: "acme", Name: "gifts"}))
	require.NoError(t, repos.Categories.Create(ctx, &entity.ExpenseCategory{ID: "k3", CompanyID: "other", Name: "travel", IsActive: true}))

	err := repos.Categories.Create(ctx, &entity.ExpenseCategory{ID: "k4", CompanyID: "acme", Name: "travel"})
	assert.Error(t, err, "names are unique per company")

	got, err := repos.Categories.GetByName(ctx, "acme", " TRAVEL")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "k1", got.ID)
	assert.Equal(t, "travel", got.Name)
	assert.True(t, got.IsActive)

	missing, err := repos.Categories.GetByName(ctx, "acme", "meals")
	require.NoError(t, err)
	assert.Nil(t, missing)

	active, err := repos.Categories.ListByCompany(ctx, "acme", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "k1", active[0].ID)

	all, err := repos.Categories.ListByCompany(ctx, "acme", false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "gifts", all[0].Name)
}

func TestWithTransaction_Rollback(t *testing.T) {
	db, repos := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := repos.Expenses.Create(txCtx, newExpense("e1")); err != nil {
			return err
		}
		// nested calls join the outer transaction
		return db.WithTransaction(txCtx, func(inner context.Context) error {
			if err := repos.Expenses.Create(inner, newExpense("e2")); err != nil {
				return err
			}
			return errors.New("abort")
		})
	})
	require.EqualError(t, err, "abort")

	for _, id := range []string{"e1", "e2"} {
		got, err := repos.Expenses.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got, id)
	}

	require.NoError(t, db.WithTransaction(ctx, func(txCtx context.Context) error {
		return repos.Expenses.Create(txCtx, newExpense("e3"))
	}))
	got, err := repos.Expenses.GetByID(ctx, "e3")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
