package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// ChainRepository implements port.ChainRepository. A chain is one row in
// approval_chains plus one row per step in approval_steps.
type ChainRepository struct {
	db *DB
}

// Create inserts the chain and all of its steps in one transaction
func (r *ChainRepository) Create(ctx context.Context, c *approval.Chain) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.executor(ctx)

		_, err := exec.ExecContext(ctx, `
			INSERT INTO approval_chains (
				id, expense_id, company_id, owner_id, rule_id, rule_type, threshold,
				manager_first, status, current_step_index, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID,
			c.ExpenseID,
			c.CompanyID,
			c.OwnerID,
			c.RuleID,
			string(c.RuleType),
			c.Threshold,
			c.ManagerFirst,
			string(c.State.Status),
			c.State.CurrentStepIndex,
			c.CreatedAt,
			c.UpdatedAt,
		)
		if err != nil {
			r.db.logger.Error("Failed to create chain", zap.String("id", c.ID), zap.Error(err))
			return fmt.Errorf("failed to create chain: %w", err)
		}

		for i, s := range c.Steps {
			a := c.Approvals[i]
			_, err := exec.ExecContext(ctx, `
				INSERT INTO approval_steps (
					chain_id, step_index, approver_id, required, role, decision, comment, decided_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID,
				s.Index,
				s.ApproverID,
				s.Required,
				string(s.Role),
				string(a.Decision),
				a.Comment,
				nullTime(a.DecidedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to create step %d of chain %s: %w", s.Index, c.ID, err)
			}
		}
		return nil
	})
}

// GetByID loads the chain with its steps in step order
func (r *ChainRepository) GetByID(ctx context.Context, id string) (*approval.Chain, error) {
	exec := r.db.executor(ctx)

	var (
		c        approval.Chain
		ruleType string
		status   string
	)
	err := exec.QueryRowContext(ctx, `
		SELECT id, expense_id, company_id, owner_id, rule_id, rule_type, threshold,
			manager_first, status, current_step_index, created_at, updated_at
		FROM approval_chains
		WHERE id = ?`, id).Scan(
		&c.ID,
		&c.ExpenseID,
		&c.CompanyID,
		&c.OwnerID,
		&c.RuleID,
		&ruleType,
		&c.Threshold,
		&c.ManagerFirst,
		&status,
		&c.State.CurrentStepIndex,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.db.logger.Error("Failed to get chain by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get chain: %w", err)
	}
	c.RuleType = approval.RuleType(ruleType)
	c.State.Status = workflow.State(status)

	rows, err := exec.QueryContext(ctx, `
		SELECT step_index, approver_id, required, role, decision, comment, decided_at
		FROM approval_steps
		WHERE chain_id = ?
		ORDER BY step_index`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps of chain %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s         approval.Step
			a         approval.Approval
			role      string
			decision  string
			decidedAt sql.NullTime
		)
		if err := rows.Scan(&s.Index, &s.ApproverID, &s.Required, &role, &decision, &a.Comment, &decidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		s.Role = approval.StepRole(role)
		a.StepIndex = s.Index
		a.ApproverID = s.ApproverID
		a.Decision = approval.Decision(decision)
		a.DecidedAt = timePtr(decidedAt)

		c.Steps = append(c.Steps, s)
		c.Approvals = append(c.Approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveProgress writes decisions and state; steps stay as created.
func (r *ChainRepository) SaveProgress(ctx context.Context, c *approval.Chain) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.executor(ctx)

		result, err := exec.ExecContext(ctx, `
			UPDATE approval_chains
			SET status = ?, current_step_index = ?, updated_at = ?
			WHERE id = ?`,
			string(c.State.Status),
			c.State.CurrentStepIndex,
			c.UpdatedAt,
			c.ID,
		)
		if err != nil {
			r.db.logger.Error("Failed to save chain progress", zap.String("id", c.ID), zap.Error(err))
			return fmt.Errorf("failed to save chain: %w", err)
		}
		if err := expectOneRow(result, "chain", c.ID); err != nil {
			return err
		}

		for _, a := range c.Approvals {
			result, err := exec.ExecContext(ctx, `
				UPDATE approval_steps
				SET decision = ?, comment = ?, decided_at = ?
				WHERE chain_id = ? AND step_index = ?`,
				string(a.Decision),
				a.Comment,
				nullTime(a.DecidedAt),
				c.ID,
				a.StepIndex,
			)
			if err != nil {
				return fmt.Errorf("failed to save step %d of chain %s: %w", a.StepIndex, c.ID, err)
			}
			if err := expectOneRow(result, "step", fmt.Sprintf("%s/%d", c.ID, a.StepIndex)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPendingByApprover returns open chains where the approver still has an
// undecided step, oldest first.
func (r *ChainRepository) ListPendingByApprover(ctx context.Context, approverID string) ([]*approval.Chain, error) {
	rows, err := r.db.executor(ctx).QueryContext(ctx, `
		SELECT DISTINCT c.id, c.created_at
		FROM approval_chains c
		JOIN approval_steps s ON s.chain_id = c.id
		WHERE c.status = ? AND s.approver_id = ? AND s.decision = ?
		ORDER BY c.created_at, c.id`,
		string(workflow.StatePending), approverID, string(approval.DecisionPending))
	if err != nil {
		r.db.logger.Error("Failed to list pending chains", zap.String("approver_id", approverID), zap.Error(err))
		return nil, fmt.Errorf("failed to list pending chains: %w", err)
	}

	var ids []string
	for rows.Next() {
		var (
			id      string
			created sql.NullTime
		)
		if err := rows.Scan(&id, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chain id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*approval.Chain, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

var _ port.ChainRepository = (*ChainRepository)(nil)
