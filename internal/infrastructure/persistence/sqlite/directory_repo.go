package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// CompanyRepository implements port.CompanyRepository
type CompanyRepository struct {
	db *DB
}

func (r *CompanyRepository) Create(ctx context.Context, c *entity.Company) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.executor(ctx).ExecContext(ctx,
		`INSERT INTO companies (id, name, currency, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.Currency, c.CreatedAt)
	if err != nil {
		r.db.logger.Error("Failed to create company", zap.String("id", c.ID), zap.Error(err))
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	var c entity.Company
	err := r.db.executor(ctx).QueryRowContext(ctx,
		`SELECT id, name, currency, created_at FROM companies WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Currency, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &c, nil
}

// UserRepository implements port.UserRepository
type UserRepository struct {
	db *DB
}

func (r *UserRepository) Create(ctx context.Context, u *entity.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.executor(ctx).ExecContext(ctx, `
		INSERT INTO users (id, company_id, name, email, role, manager_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.CompanyID, u.Name, u.Email, u.Role, u.ManagerID, u.CreatedAt)
	if err != nil {
		r.db.logger.Error("Failed to create user", zap.String("id", u.ID), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	row := r.db.executor(ctx).QueryRowContext(ctx, `
		SELECT id, company_id, name, email, role, manager_id, created_at
		FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error) {
	rows, err := r.db.executor(ctx).QueryContext(ctx, `
		SELECT id, company_id, name, email, role, manager_id, created_at
		FROM users WHERE company_id = ?
		ORDER BY id`, companyID)
	if err != nil {
		r.db.logger.Error("Failed to list users", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*entity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(s scanner) (*entity.User, error) {
	var u entity.User
	if err := s.Scan(&u.ID, &u.CompanyID, &u.Name, &u.Email, &u.Role, &u.ManagerID, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// ExchangeRateRepository implements port.ExchangeRateRepository
type ExchangeRateRepository struct {
	db *DB
}

func (r *ExchangeRateRepository) Upsert(ctx context.Context, rate *entity.ExchangeRate) error {
	_, err := r.db.executor(ctx).ExecContext(ctx, `
		INSERT INTO exchange_rates (from_currency, to_currency, rate, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (from_currency, to_currency) DO UPDATE SET
			rate = excluded.rate,
			updated_at = excluded.updated_at`,
		strings.ToUpper(rate.From), strings.ToUpper(rate.To), rate.Rate, rate.UpdatedAt)
	if err != nil {
		r.db.logger.Error("Failed to store exchange rate",
			zap.String("from", rate.From), zap.String("to", rate.To), zap.Error(err))
		return fmt.Errorf("failed to store exchange rate: %w", err)
	}
	return nil
}

func (r *ExchangeRateRepository) Get(ctx context.Context, from, to string) (*entity.ExchangeRate, error) {
	var rate entity.ExchangeRate
	err := r.db.executor(ctx).QueryRowContext(ctx, `
		SELECT from_currency, to_currency, rate, updated_at
		FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ?`,
		strings.ToUpper(from), strings.ToUpper(to)).
		Scan(&rate.From, &rate.To, &rate.Rate, &rate.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange rate: %w", err)
	}
	return &rate, nil
}

var (
	_ port.CompanyRepository      = (*CompanyRepository)(nil)
	_ port.UserRepository         = (*UserRepository)(nil)
	_ port.ExchangeRateRepository = (*ExchangeRateRepository)(nil)
)
