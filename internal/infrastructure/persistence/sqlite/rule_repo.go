package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
)

// RuleRepository implements port.RuleRepository. Required approvers are stored
// as a JSON array.
type RuleRepository struct {
	db *DB
}

const ruleColumns = `
	id, company_id, name, description, type, threshold, required_approver_ids,
	manager_first, is_active, category, min_amount, max_amount, priority,
	created_at, updated_at`

// Create inserts a new rule
func (r *RuleRepository) Create(ctx context.Context, rule *approval.Rule) error {
	approvers, err := json.Marshal(nonNil(rule.RequiredApproverIDs))
	if err != nil {
		return fmt.Errorf("failed to encode approvers: %w", err)
	}

	_, err = r.db.executor(ctx).ExecContext(ctx, `
		INSERT INTO approval_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.CompanyID,
		rule.Name,
		rule.Description,
		string(rule.Type),
		rule.Threshold,
		string(approvers),
		rule.ManagerFirst,
		rule.IsActive,
		rule.Category,
		nullDecimal(rule.MinAmount),
		nullDecimal(rule.MaxAmount),
		rule.Priority,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		r.db.logger.Error("Failed to create rule", zap.String("id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// GetByID returns nil when the rule does not exist
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*approval.Rule, error) {
	row := r.db.executor(ctx).QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM approval_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.db.logger.Error("Failed to get rule by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// Update replaces the rule configuration
func (r *RuleRepository) Update(ctx context.Context, rule *approval.Rule) error {
	approvers, err := json.Marshal(nonNil(rule.RequiredApproverIDs))
	if err != nil {
		return fmt.Errorf("failed to encode approvers: %w", err)
	}

	result, err := r.db.executor(ctx).ExecContext(ctx, `
		UPDATE approval_rules SET
			name = ?, description = ?, type = ?, threshold = ?, required_approver_ids = ?,
			manager_first = ?, is_active = ?, category = ?, min_amount = ?, max_amount = ?,
			priority = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name,
		rule.Description,
		string(rule.Type),
		rule.Threshold,
		string(approvers),
		rule.ManagerFirst,
		rule.IsActive,
		rule.Category,
		nullDecimal(rule.MinAmount),
		nullDecimal(rule.MaxAmount),
		rule.Priority,
		rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		r.db.logger.Error("Failed to update rule", zap.String("id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return expectOneRow(result, "rule", rule.ID)
}

// Delete removes the rule. Chains built from it keep their snapshot.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.executor(ctx).ExecContext(ctx, `DELETE FROM approval_rules WHERE id = ?`, id); err != nil {
		r.db.logger.Error("Failed to delete rule", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

// ListByCompany returns the company's rules ordered by priority
func (r *RuleRepository) ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*approval.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE company_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY priority, id`

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, companyID)
	if err != nil {
		r.db.logger.Error("Failed to list rules", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*approval.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanRule(s scanner) (*approval.Rule, error) {
	var (
		rule      approval.Rule
		ruleType  string
		approvers string
		minAmount decimal.NullDecimal
		maxAmount decimal.NullDecimal
	)
	err := s.Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.Name,
		&rule.Description,
		&ruleType,
		&rule.Threshold,
		&approvers,
		&rule.ManagerFirst,
		&rule.IsActive,
		&rule.Category,
		&minAmount,
		&maxAmount,
		&rule.Priority,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.Type = approval.RuleType(ruleType)
	if err := json.Unmarshal([]byte(approvers), &rule.RequiredApproverIDs); err != nil {
		return nil, fmt.Errorf("rule %s: bad approver list: %w", rule.ID, err)
	}
	if len(rule.RequiredApproverIDs) == 0 {
		rule.RequiredApproverIDs = nil
	}
	if minAmount.Valid {
		rule.MinAmount = &minAmount.Decimal
	}
	if maxAmount.Valid {
		rule.MaxAmount = &maxAmount.Decimal
	}
	return &rule, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

var _ port.RuleRepository = (*RuleRepository)(nil)
