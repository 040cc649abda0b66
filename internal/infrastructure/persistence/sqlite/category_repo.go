package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// CategoryRepository implements port.CategoryRepository
type CategoryRepository struct {
	db *DB
}

const categoryColumns = `id, company_id, name, description, is_active, created_at`

func (r *CategoryRepository) Create(ctx context.Context, c *entity.ExpenseCategory) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.executor(ctx).ExecContext(ctx, `
		INSERT INTO expense_categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.CompanyID, entity.NormalizeCategory(c.Name), c.Description, c.IsActive, c.CreatedAt)
	if err != nil {
		r.db.logger.Error("Failed to create category",
			zap.String("company_id", c.CompanyID), zap.String("name", c.Name), zap.Error(err))
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

func (r *CategoryRepository) GetByName(ctx context.Context, companyID, name string) (*entity.ExpenseCategory, error) {
	row := r.db.executor(ctx).QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM expense_categories WHERE company_id = ? AND name = ?`,
		companyID, entity.NormalizeCategory(name))
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

func (r *CategoryRepository) ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*entity.ExpenseCategory, error) {
	query := `SELECT ` + categoryColumns + ` FROM expense_categories WHERE company_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, companyID)
	if err != nil {
		r.db.logger.Error("Failed to list categories", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []*entity.ExpenseCategory
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCategory(s scanner) (*entity.ExpenseCategory, error) {
	var c entity.ExpenseCategory
	if err := s.Scan(&c.ID, &c.CompanyID, &c.Name, &c.Description, &c.IsActive, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

var _ port.CategoryRepository = (*CategoryRepository)(nil)
