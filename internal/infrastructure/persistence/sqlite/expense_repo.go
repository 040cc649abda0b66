package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// ExpenseRepository implements port.ExpenseRepository
type ExpenseRepository struct {
	db *DB
}

const expenseColumns = `
	id, company_id, owner_id, category, description, expense_date, amount, currency,
	company_amount, company_currency, exchange_rate, status, chain_id, rule_id,
	rejection_reason, submitted_at, decided_at, created_at, updated_at`

// Create inserts a new expense
func (r *ExpenseRepository) Create(ctx context.Context, e *entity.Expense) error {
	query := `INSERT INTO expenses (` + expenseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}

	_, err := r.db.executor(ctx).ExecContext(ctx, query,
		e.ID,
		e.CompanyID,
		e.OwnerID,
		e.Category,
		e.Description,
		e.ExpenseDate,
		e.Amount,
		e.Currency,
		e.CompanyAmount,
		e.CompanyCurrency,
		e.ExchangeRate,
		string(e.Status),
		e.ChainID,
		e.RuleID,
		e.RejectionReason,
		nullTime(e.SubmittedAt),
		nullTime(e.DecidedAt),
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		r.db.logger.Error("Failed to create expense", zap.String("id", e.ID), zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

// GetByID returns nil when the expense does not exist
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

	e, err := scanExpense(r.db.executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.db.logger.Error("Failed to get expense by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return e, nil
}

// Update writes every mutable column of the expense
func (r *ExpenseRepository) Update(ctx context.Context, e *entity.Expense) error {
	query := `
		UPDATE expenses SET
			category = ?, description = ?, expense_date = ?, amount = ?, currency = ?,
			company_amount = ?, company_currency = ?, exchange_rate = ?, status = ?,
			chain_id = ?, rule_id = ?, rejection_reason = ?, submitted_at = ?,
			decided_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.executor(ctx).ExecContext(ctx, query,
		e.Category,
		e.Description,
		e.ExpenseDate,
		e.Amount,
		e.Currency,
		e.CompanyAmount,
		e.CompanyCurrency,
		e.ExchangeRate,
		string(e.Status),
		e.ChainID,
		e.RuleID,
		e.RejectionReason,
		nullTime(e.SubmittedAt),
		nullTime(e.DecidedAt),
		e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		r.db.logger.Error("Failed to update expense", zap.String("id", e.ID), zap.Error(err))
		return fmt.Errorf("failed to update expense: %w", err)
	}
	return expectOneRow(result, "expense", e.ID)
}

// ListByOwner returns the owner's expenses, newest first
func (r *ExpenseRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*entity.Expense, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + expenseColumns + ` FROM expenses
		WHERE owner_id = ?
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?`

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		r.db.logger.Error("Failed to list expenses", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var out []*entity.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExpense(s scanner) (*entity.Expense, error) {
	var (
		e           entity.Expense
		status      string
		submittedAt sql.NullTime
		decidedAt   sql.NullTime
	)
	err := s.Scan(
		&e.ID,
		&e.CompanyID,
		&e.OwnerID,
		&e.Category,
		&e.Description,
		&e.ExpenseDate,
		&e.Amount,
		&e.Currency,
		&e.CompanyAmount,
		&e.CompanyCurrency,
		&e.ExchangeRate,
		&status,
		&e.ChainID,
		&e.RuleID,
		&e.RejectionReason,
		&submittedAt,
		&decidedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = workflow.State(status)
	e.SubmittedAt = timePtr(submittedAt)
	e.DecidedAt = timePtr(decidedAt)
	return &e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func expectOneRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}

var _ port.ExpenseRepository = (*ExpenseRepository)(nil)
