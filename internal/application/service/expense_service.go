package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/domain/money"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// NewExpenseInput is what an employee fills in for a draft expense
type NewExpenseInput struct {
	OwnerID     string
	Category    string
	Description string
	ExpenseDate time.Time
	Amount      decimal.Decimal
	Currency    string
}

// ExpenseService is the entry point for callers: it owns drafts, picks the rule,
// converts the amount into the company currency, delegates to the approval
// engine and hands the resulting notifications to the sink.
type ExpenseService interface {
	CreateExpense(ctx context.Context, in NewExpenseInput) (*entity.Expense, error)
	GetExpense(ctx context.Context, id string) (*entity.Expense, error)
	ListExpenses(ctx context.Context, ownerID string, limit, offset int) ([]*entity.Expense, error)

	Submit(ctx context.Context, expenseID, actorID string) (*workflow.SubmitResult, error)
	Decide(ctx context.Context, in workflow.DecisionInput) (*workflow.DecisionResult, error)
	Cancel(ctx context.Context, expenseID, actorID string) (*workflow.CancelResult, error)

	ChainStatus(ctx context.Context, chainID string) (approval.ExpenseState, error)
	GetChain(ctx context.Context, chainID string) (*approval.Chain, error)
	PendingApprovals(ctx context.Context, approverID string) ([]*approval.Chain, error)
}

type expenseServiceImpl struct {
	expenses      port.ExpenseRepository
	chains        port.ChainRepository
	rules         port.RuleRepository
	companies     port.CompanyRepository
	users         port.UserRepository
	categories    port.CategoryRepository
	rates         port.RateLookup
	engine        workflow.ApprovalEngine
	sink          port.NotificationSink
	lookupTimeout time.Duration
	logger        Logger
}

// ExpenseDeps groups the collaborators of the expense service
type ExpenseDeps struct {
	Expenses      port.ExpenseRepository
	Chains        port.ChainRepository
	Rules         port.RuleRepository
	Companies     port.CompanyRepository
	Users         port.UserRepository
	Categories    port.CategoryRepository
	Rates         port.RateLookup
	Engine        workflow.ApprovalEngine
	Sink          port.NotificationSink
	LookupTimeout time.Duration
	Logger        Logger
}

// NewExpenseService creates a new ExpenseService
func NewExpenseService(deps ExpenseDeps) ExpenseService {
	timeout := deps.LookupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &expenseServiceImpl{
		expenses:      deps.Expenses,
		chains:        deps.Chains,
		rules:         deps.Rules,
		companies:     deps.Companies,
		users:         deps.Users,
		categories:    deps.Categories,
		rates:         deps.Rates,
		engine:        deps.Engine,
		sink:          deps.Sink,
		lookupTimeout: timeout,
		logger:        deps.Logger,
	}
}

func (s *expenseServiceImpl) CreateExpense(ctx context.Context, in NewExpenseInput) (*entity.Expense, error) {
	owner, err := s.users.GetByID(ctx, in.OwnerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, ErrUserNotFound
	}

	amount, err := money.New(in.Amount, in.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	category := entity.NormalizeCategory(in.Category)
	if category == "" {
		category = entity.CategoryOther
	}
	known, err := s.categories.GetByName(ctx, owner.CompanyID, category)
	if err != nil {
		return nil, err
	}
	if known == nil || !known.IsActive {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, in.Category)
	}

	now := time.Now().UTC()
	expenseDate := in.ExpenseDate
	if expenseDate.IsZero() {
		expenseDate = now
	}
	expense := &entity.Expense{
		ID:          uuid.NewString(),
		CompanyID:   owner.CompanyID,
		OwnerID:     owner.ID,
		Category:    category,
		Description: utils.SanitizeString(in.Description),
		ExpenseDate: expenseDate,
		Amount:      amount.Amount(),
		Currency:    amount.Currency(),
		Status:      domainwf.StateDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.expenses.Create(ctx, expense); err != nil {
		s.logger.Error("Failed to create expense", "error", err, "owner_id", in.OwnerID)
		return nil, err
	}
	s.logger.Info("Expense drafted", "id", expense.ID, "owner_id", expense.OwnerID, "amount", amount.String())
	return expense, nil
}

func (s *expenseServiceImpl) GetExpense(ctx context.Context, id string) (*entity.Expense, error) {
	expense, err := s.expenses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, approval.ErrExpenseNotFound
	}
	return expense, nil
}

func (s *expenseServiceImpl) ListExpenses(ctx context.Context, ownerID string, limit, offset int) ([]*entity.Expense, error) {
	return s.expenses.ListByOwner(ctx, ownerID, limit, offset)
}

// Submit converts the amount, selects the applicable rule and starts approval.
// A missing exchange rate leaves the expense in draft so the caller can retry.
func (s *expenseServiceImpl) Submit(ctx context.Context, expenseID, actorID string) (*workflow.SubmitResult, error) {
	expense, err := s.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense.OwnerID != actorID {
		return nil, fmt.Errorf("%w: expense %s", approval.ErrNotOwner, expenseID)
	}
	company, err := s.companies.GetByID(ctx, expense.CompanyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}

	original, err := money.New(expense.Amount, expense.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", approval.ErrInvalidExpense, err)
	}

	conv, err := workflow.Bounded(ctx, s.lookupTimeout, func(c context.Context) (conversion, error) {
		converted, rate, err := money.Convert(c, original, company.Currency, s.rates)
		return conversion{converted, rate}, err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &approval.DependencyTimeoutError{Dependency: "exchange rate", Err: err}
		}
		s.logger.Error("Submission deferred", "error", err, "expense_id", expenseID,
			"from", original.Currency(), "to", company.Currency)
		return nil, err
	}

	rules, err := s.rules.ListByCompany(ctx, company.ID, true)
	if err != nil {
		return nil, err
	}
	rule := approval.SelectRule(rules, conv.amount.Amount(), expense.Category)

	expense.CompanyAmount = decimal.NewNullDecimal(conv.amount.Amount())
	expense.CompanyCurrency = conv.amount.Currency()
	expense.ExchangeRate = decimal.NewNullDecimal(conv.rate)

	result, err := s.engine.SubmitExpense(ctx, expense, rule)
	if err != nil {
		s.logger.Error("Submission failed", "error", err, "expense_id", expenseID)
		return nil, err
	}

	ruleID := ""
	if rule != nil {
		ruleID = rule.ID
	}
	s.logger.Info("Submission accepted", "expense_id", expenseID, "rule_id", ruleID,
		"chain_id", result.ChainID, "status", result.Status.String())
	s.notify(ctx, result.Notifications)
	return result, nil
}

func (s *expenseServiceImpl) Decide(ctx context.Context, in workflow.DecisionInput) (*workflow.DecisionResult, error) {
	in.Comment = utils.SanitizeString(in.Comment)
	result, err := s.engine.RecordDecision(ctx, in)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, result.Notifications)
	return result, nil
}

func (s *expenseServiceImpl) Cancel(ctx context.Context, expenseID, actorID string) (*workflow.CancelResult, error) {
	result, err := s.engine.CancelExpense(ctx, expenseID, actorID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, result.Notifications)
	return result, nil
}

func (s *expenseServiceImpl) ChainStatus(ctx context.Context, chainID string) (approval.ExpenseState, error) {
	return s.engine.GetChainStatus(ctx, chainID)
}

func (s *expenseServiceImpl) GetChain(ctx context.Context, chainID string) (*approval.Chain, error) {
	return s.engine.GetChain(ctx, chainID)
}

func (s *expenseServiceImpl) PendingApprovals(ctx context.Context, approverID string) ([]*approval.Chain, error) {
	chains, err := s.chains.ListPendingByApprover(ctx, approverID)
	if err != nil {
		return nil, err
	}
	// only chains where the approver can act now
	out := make([]*approval.Chain, 0, len(chains))
	for _, c := range chains {
		for _, step := range c.ActionableSteps() {
			if step.ApproverID == approverID {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

type conversion struct {
	amount money.Money
	rate   decimal.Decimal
}

// notify hands events to the sink. The state change has already been committed,
// so a delivery failure is logged rather than returned.
func (s *expenseServiceImpl) notify(ctx context.Context, events []*event.Event) {
	if s.sink == nil || len(events) == 0 {
		return
	}
	if err := s.sink.Notify(ctx, events); err != nil {
		s.logger.Error("Failed to deliver notifications", "error", err, "count", len(events))
	}
}
