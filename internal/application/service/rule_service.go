package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
)

// RuleService manages a company's approval rules
type RuleService interface {
	CreateRule(ctx context.Context, rule *approval.Rule) (*approval.Rule, error)
	UpdateRule(ctx context.Context, rule *approval.Rule) (*approval.Rule, error)
	GetRule(ctx context.Context, id string) (*approval.Rule, error)
	ListRules(ctx context.Context, companyID string, activeOnly bool) ([]*approval.Rule, error)
	SetActive(ctx context.Context, id string, active bool) (*approval.Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

type ruleServiceImpl struct {
	rules      port.RuleRepository
	companies  port.CompanyRepository
	users      port.UserRepository
	categories port.CategoryRepository
	logger     Logger
}

// NewRuleService creates a new RuleService
func NewRuleService(rules port.RuleRepository, companies port.CompanyRepository,
	users port.UserRepository, categories port.CategoryRepository, logger Logger) RuleService {
	return &ruleServiceImpl{
		rules:      rules,
		companies:  companies,
		users:      users,
		categories: categories,
		logger:     logger,
	}
}

func (s *ruleServiceImpl) CreateRule(ctx context.Context, rule *approval.Rule) (*approval.Rule, error) {
	rule.Normalize()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	company, err := s.companies.GetByID(ctx, rule.CompanyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}
	if err := s.checkReferences(ctx, rule); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	if err := s.rules.Create(ctx, rule); err != nil {
		s.logger.Error("Failed to create rule", "error", err, "company_id", rule.CompanyID)
		return nil, err
	}
	s.logger.Info("Approval rule created", "id", rule.ID, "type", string(rule.Type), "company_id", rule.CompanyID)
	return rule, nil
}

// UpdateRule replaces the rule configuration. Chains already built keep the
// rule snapshot they were created with.
func (s *ruleServiceImpl) UpdateRule(ctx context.Context, rule *approval.Rule) (*approval.Rule, error) {
	existing, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	rule.Normalize()
	rule.CompanyID = existing.CompanyID
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, rule); err != nil {
		return nil, err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	if err := s.rules.Update(ctx, rule); err != nil {
		s.logger.Error("Failed to update rule", "error", err, "id", rule.ID)
		return nil, err
	}
	s.logger.Info("Approval rule updated", "id", rule.ID)
	return rule, nil
}

// checkReferences ensures named approvers are users of the rule's company and
// a category filter names one of its categories.
func (s *ruleServiceImpl) checkReferences(ctx context.Context, rule *approval.Rule) error {
	for _, id := range rule.RequiredApproverIDs {
		user, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if user == nil || user.CompanyID != rule.CompanyID {
			return fmt.Errorf("%w: approver %s is not in company %s", ErrValidation, id, rule.CompanyID)
		}
	}
	if rule.Category == "" {
		return nil
	}
	category, err := s.categories.GetByName(ctx, rule.CompanyID, rule.Category)
	if err != nil {
		return err
	}
	if category == nil {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, rule.Category)
	}
	rule.Category = category.Name
	return nil
}

func (s *ruleServiceImpl) GetRule(ctx context.Context, id string) (*approval.Rule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: %s", approval.ErrRuleNotFound, id)
	}
	return rule, nil
}

func (s *ruleServiceImpl) ListRules(ctx context.Context, companyID string, activeOnly bool) ([]*approval.Rule, error) {
	return s.rules.ListByCompany(ctx, companyID, activeOnly)
}

func (s *ruleServiceImpl) SetActive(ctx context.Context, id string, active bool) (*approval.Rule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.IsActive = active
	rule.UpdatedAt = time.Now().UTC()
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.Info("Approval rule toggled", "id", id, "active", active)
	return rule, nil
}

func (s *ruleServiceImpl) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.GetRule(ctx, id); err != nil {
		return err
	}
	if err := s.rules.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete rule", "error", err, "id", id)
		return err
	}
	s.logger.Info("Approval rule deleted", "id", id)
	return nil
}
