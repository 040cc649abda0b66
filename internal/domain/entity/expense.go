package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Expense is a claim submitted by an employee. Amount is in Currency; the
// company-currency amount and rate are fixed when the expense is submitted.
type Expense struct {
	ID          string          `json:"id"`
	CompanyID   string          `json:"company_id"`
	OwnerID     string          `json:"owner_id"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	ExpenseDate time.Time       `json:"expense_date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`

	CompanyAmount   decimal.NullDecimal `json:"company_amount"`
	CompanyCurrency string              `json:"company_currency,omitempty"`
	ExchangeRate    decimal.NullDecimal `json:"exchange_rate"`

	Status          workflow.State `json:"status"`
	ChainID         string         `json:"chain_id,omitempty"`
	RuleID          string         `json:"rule_id,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Company scopes users, rules and expenses.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpenseCategory is a company-defined kind of expense. Name is stored
// normalized and is unique within the company.
type ExpenseCategory struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is a member of a company directory.
type User struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ManagerID string    `json:"manager_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExchangeRate converts one unit of From into Rate units of To.
type ExchangeRate struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	UpdatedAt time.Time       `json:"updated_at"`
}
