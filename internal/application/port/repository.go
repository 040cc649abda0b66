package port

import (
	"context"

	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Getters return (nil, nil) when the record does not exist.

// ExpenseRepository defines persistence operations for Expense
type ExpenseRepository interface {
	Create(ctx context.Context, expense *entity.Expense) error
	GetByID(ctx context.Context, id string) (*entity.Expense, error)
	Update(ctx context.Context, expense *entity.Expense) error
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*entity.Expense, error)
}

// ChainRepository defines persistence operations for approval chains.
// Steps are written once by Create; SaveProgress writes decisions and state.
type ChainRepository interface {
	Create(ctx context.Context, chain *approval.Chain) error
	GetByID(ctx context.Context, id string) (*approval.Chain, error)
	SaveProgress(ctx context.Context, chain *approval.Chain) error
	ListPendingByApprover(ctx context.Context, approverID string) ([]*approval.Chain, error)
}

// RuleRepository defines persistence operations for approval rules
type RuleRepository interface {
	Create(ctx context.Context, rule *approval.Rule) error
	GetByID(ctx context.Context, id string) (*approval.Rule, error)
	Update(ctx context.Context, rule *approval.Rule) error
	Delete(ctx context.Context, id string) error
	ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*approval.Rule, error)
}

// CompanyRepository defines persistence operations for Company
type CompanyRepository interface {
	Create(ctx context.Context, company *entity.Company) error
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// UserRepository defines persistence operations for the user directory
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error)
}

// CategoryRepository defines persistence operations for company expense
// categories. Names are looked up in their normalized form.
type CategoryRepository interface {
	Create(ctx context.Context, category *entity.ExpenseCategory) error
	GetByName(ctx context.Context, companyID, name string) (*entity.ExpenseCategory, error)
	ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*entity.ExpenseCategory, error)
}

// ExchangeRateRepository stores conversion rates between currency pairs
type ExchangeRateRepository interface {
	Upsert(ctx context.Context, rate *entity.ExchangeRate) error
	Get(ctx context.Context, from, to string) (*entity.ExchangeRate, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
