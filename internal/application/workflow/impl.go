package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

const defaultLookupTimeout = 5 * time.Second

// engineImpl is the concrete implementation of ApprovalEngine
type engineImpl struct {
	expenses  port.ExpenseRepository
	chains    port.ChainRepository
	txManager port.TransactionManager
	managers  port.ManagerLookup
	pool      port.ApproverPoolLookup

	locks         *keyedLocker
	lookupTimeout time.Duration
	observer      Observer
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

// EngineOption configures the approval engine
type EngineOption func(*engineImpl)

// WithLookupTimeout bounds each directory lookup made during submission
func WithLookupTimeout(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		if d > 0 {
			e.lookupTimeout = d
		}
	}
}

// WithObserver reports engine outcomes to o
func WithObserver(o Observer) EngineOption {
	return func(e *engineImpl) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new approval engine
func NewEngine(
	expenses port.ExpenseRepository,
	chains port.ChainRepository,
	txManager port.TransactionManager,
	managers port.ManagerLookup,
	pool port.ApproverPoolLookup,
	opts ...EngineOption,
) ApprovalEngine {
	e := &engineImpl{
		expenses:      expenses,
		chains:        chains,
		txManager:     txManager,
		managers:      managers,
		pool:          pool,
		locks:         newKeyedLocker(),
		lookupTimeout: defaultLookupTimeout,
		observer:      nopObserver{},
		logger:        zap.NewNop(),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func expenseKey(id string) string { return "expense:" + id }
func chainKey(id string) string   { return "chain:" + id }

// SubmitExpense resolves the organisation before taking any lock, then builds
// the chain and persists it together with the expense status.
func (e *engineImpl) SubmitExpense(ctx context.Context, expense *entity.Expense, rule *approval.Rule) (*SubmitResult, error) {
	if expense == nil || expense.ID == "" || expense.OwnerID == "" {
		return nil, fmt.Errorf("%w: id and owner are required", approval.ErrInvalidExpense)
	}

	var chain *approval.Chain
	ruleType := "none"
	if rule != nil {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		ruleType = string(rule.Type)

		org, err := e.resolveOrg(ctx, rule, expense)
		if err != nil {
			return nil, err
		}

		subject := approval.Subject{ExpenseID: expense.ID, CompanyID: expense.CompanyID, OwnerID: expense.OwnerID}
		chain, err = approval.BuildChain(e.newID(), rule, subject, org, e.now())
		if err != nil {
			e.logger.Warn("Failed to build approval chain",
				zap.String("expense_id", expense.ID),
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			return nil, err
		}
	}

	unlock, err := e.locks.Lock(ctx, expenseKey(expense.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result *SubmitResult
		stored *entity.Expense
	)
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		stored, err = e.expenses.GetByID(txCtx, expense.ID)
		if err != nil {
			return fmt.Errorf("failed to load expense: %w", err)
		}
		if stored == nil {
			return approval.ErrExpenseNotFound
		}

		trigger := domainwf.TriggerSubmit
		if stored.Status == domainwf.StateRejected {
			trigger = domainwf.TriggerResubmit
		}
		if chain == nil {
			trigger = domainwf.TriggerApprove
		}
		if stored.Status != domainwf.StateDraft && stored.Status != domainwf.StateRejected {
			return fmt.Errorf("%w: expense %s is %s", approval.ErrNotSubmittable, stored.ID, stored.Status)
		}
		next, err := domainwf.Next(txCtx, stored.Status, trigger)
		if err != nil {
			return fmt.Errorf("%w: expense %s is %s", approval.ErrNotSubmittable, stored.ID, stored.Status)
		}

		now := e.now()
		stored.Status = next
		stored.CompanyAmount = expense.CompanyAmount
		stored.CompanyCurrency = expense.CompanyCurrency
		stored.ExchangeRate = expense.ExchangeRate
		stored.RejectionReason = ""
		stored.SubmittedAt = &now
		stored.DecidedAt = nil
		stored.UpdatedAt = now
		stored.ChainID = ""
		stored.RuleID = ""

		result = &SubmitResult{Status: next}
		if chain != nil {
			if err := e.chains.Create(txCtx, chain); err != nil {
				return fmt.Errorf("failed to create chain: %w", err)
			}
			stored.ChainID = chain.ID
			stored.RuleID = chain.RuleID
			result.ChainID = chain.ID
		} else {
			stored.DecidedAt = &now
		}

		if err := e.expenses.Update(txCtx, stored); err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if chain != nil {
		result.Notifications = submissionEvents(stored, chain)
	} else {
		result.Notifications = []*event.Event{
			event.NewEvent(event.TypeExpenseApproved, stored.OwnerID, stored.ID, "",
				map[string]interface{}{"auto_approved": true}),
		}
	}

	e.observer.Submitted(ruleType, result.Status)
	e.logger.Info("Expense submitted",
		zap.String("expense_id", stored.ID),
		zap.String("chain_id", result.ChainID),
		zap.String("status", result.Status.String()))

	return result, nil
}

// RecordDecision runs read-evaluate-write under the chain's lock.
func (e *engineImpl) RecordDecision(ctx context.Context, in DecisionInput) (*DecisionResult, error) {
	if in.Decision != approval.DecisionApproved && in.Decision != approval.DecisionRejected {
		return nil, fmt.Errorf("%w: got %q", approval.ErrInvalidDecision, in.Decision)
	}

	unlock, err := e.locks.Lock(ctx, chainKey(in.ChainID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := e.chains.GetByID(ctx, in.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}
	if current == nil {
		return nil, approval.ErrChainNotFound
	}
	if current.IsTerminal() {
		return nil, &approval.TerminalError{ChainID: current.ID, Status: current.State.Status.String()}
	}

	index := -1
	if in.StepIndex != nil {
		index = *in.StepIndex
	} else if index, err = current.ResolveStep(in.ApproverID); err != nil {
		return nil, err
	}
	if err := current.CheckDecision(index, in.ApproverID); err != nil {
		return nil, err
	}

	now := e.now()
	next := current.Clone()
	next.Decide(index, in.Decision, strings.TrimSpace(in.Comment), now)

	var owner *entity.Expense
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.chains.SaveProgress(txCtx, next); err != nil {
			return fmt.Errorf("failed to save chain progress: %w", err)
		}

		exp, err := e.expenses.GetByID(txCtx, next.ExpenseID)
		if err != nil {
			return fmt.Errorf("failed to load expense: %w", err)
		}
		if exp == nil {
			return approval.ErrExpenseNotFound
		}
		owner = exp

		if !next.IsTerminal() || exp.ChainID != next.ID {
			return nil
		}

		trigger := domainwf.TriggerApprove
		if next.State.Status == domainwf.StateRejected {
			trigger = domainwf.TriggerReject
			exp.RejectionReason = next.Approvals[index].Comment
		}
		status, err := domainwf.Next(txCtx, exp.Status, trigger)
		if err != nil {
			return fmt.Errorf("expense %s: %w", exp.ID, err)
		}
		exp.Status = status
		exp.DecidedAt = &now
		exp.UpdatedAt = now
		if err := e.expenses.Update(txCtx, exp); err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to record decision",
			zap.String("chain_id", in.ChainID),
			zap.Int("step_index", index),
			zap.Error(err))
		return nil, err
	}

	e.observer.Decided(in.Decision, next.State.Status)
	e.logger.Info("Decision recorded",
		zap.String("chain_id", next.ID),
		zap.Int("step_index", index),
		zap.String("approver_id", in.ApproverID),
		zap.String("decision", string(in.Decision)),
		zap.String("status", next.State.Status.String()))

	return &DecisionResult{
		ChainID:          next.ID,
		StepIndex:        index,
		Status:           next.State.Status,
		CurrentStepIndex: next.State.CurrentStepIndex,
		Notifications:    decisionEvents(owner, current, next, index),
	}, nil
}

// CancelExpense locks the expense, then its chain, in that order.
func (e *engineImpl) CancelExpense(ctx context.Context, expenseID, actorID string) (*CancelResult, error) {
	unlockExpense, err := e.locks.Lock(ctx, expenseKey(expenseID))
	if err != nil {
		return nil, err
	}
	defer unlockExpense()

	exp, err := e.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load expense: %w", err)
	}
	if exp == nil {
		return nil, approval.ErrExpenseNotFound
	}
	if exp.OwnerID != actorID {
		return nil, fmt.Errorf("%w: expense %s", approval.ErrNotOwner, expenseID)
	}

	var chain *approval.Chain
	if exp.ChainID != "" && exp.Status == domainwf.StatePending {
		unlockChain, err := e.locks.Lock(ctx, chainKey(exp.ChainID))
		if err != nil {
			return nil, err
		}
		defer unlockChain()

		// a decision may have concluded the chain while we waited
		if exp, err = e.expenses.GetByID(ctx, expenseID); err != nil {
			return nil, fmt.Errorf("failed to load expense: %w", err)
		}
		if exp == nil {
			return nil, approval.ErrExpenseNotFound
		}
		if chain, err = e.chains.GetByID(ctx, exp.ChainID); err != nil {
			return nil, fmt.Errorf("failed to load chain: %w", err)
		}
	}

	from := exp.Status
	status, err := domainwf.Next(ctx, from, domainwf.TriggerCancel)
	if err != nil {
		return nil, fmt.Errorf("%w: expense %s is %s", approval.ErrNotCancellable, expenseID, from)
	}

	now := e.now()
	var cancelled *approval.Chain
	if chain != nil && !chain.IsTerminal() {
		cancelled = chain.Clone()
		cancelled.State.Status = domainwf.StateCancelled
		cancelled.UpdatedAt = now
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if cancelled != nil {
			if err := e.chains.SaveProgress(txCtx, cancelled); err != nil {
				return fmt.Errorf("failed to save chain: %w", err)
			}
		}
		exp.Status = status
		exp.UpdatedAt = now
		if err := e.expenses.Update(txCtx, exp); err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var events []*event.Event
	if cancelled != nil {
		for _, approverID := range cancelled.PendingApprovers() {
			events = append(events, event.NewEvent(event.TypeExpenseCancelled, approverID, exp.ID, cancelled.ID, nil))
		}
	}

	e.observer.Cancelled(from)
	e.logger.Info("Expense cancelled",
		zap.String("expense_id", expenseID),
		zap.String("from", from.String()))

	return &CancelResult{ExpenseID: expenseID, Notifications: events}, nil
}

func (e *engineImpl) GetChainStatus(ctx context.Context, chainID string) (approval.ExpenseState, error) {
	chain, err := e.GetChain(ctx, chainID)
	if err != nil {
		return approval.ExpenseState{}, err
	}
	return chain.State, nil
}

func (e *engineImpl) GetChain(ctx context.Context, chainID string) (*approval.Chain, error) {
	chain, err := e.chains.GetByID(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}
	if chain == nil {
		return nil, approval.ErrChainNotFound
	}
	return chain, nil
}

// resolveOrg looks up the manager and the approver pool concurrently, each bounded by
// the lookup timeout. Only the lookups the rule needs are made.
func (e *engineImpl) resolveOrg(ctx context.Context, rule *approval.Rule, expense *entity.Expense) (approval.Org, error) {
	var org approval.Org
	g, gctx := errgroup.WithContext(ctx)

	if rule.ManagerFirst {
		g.Go(func() error {
			id, err := Bounded(gctx, e.lookupTimeout, func(c context.Context) (string, error) {
				return e.managers.ManagerOf(c, expense.OwnerID)
			})
			if err != nil {
				return e.lookupError(ctx, "manager hierarchy", err)
			}
			org.ManagerID = id
			return nil
		})
	}

	if rule.Type.UsesPool() {
		g.Go(func() error {
			ids, err := Bounded(gctx, e.lookupTimeout, func(c context.Context) ([]string, error) {
				return e.pool.ApproverPool(c, expense.CompanyID)
			})
			if err != nil {
				return e.lookupError(ctx, "approver pool", err)
			}
			org.Pool = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return approval.Org{}, err
	}
	return org, nil
}

func (e *engineImpl) lookupError(parent context.Context, dependency string, err error) error {
	timedOut := errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
	e.observer.LookupFailed(dependency, timedOut)
	if timedOut {
		return &approval.DependencyTimeoutError{Dependency: dependency, Err: err}
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	return fmt.Errorf("%s lookup: %w", dependency, err)
}

func submissionEvents(exp *entity.Expense, chain *approval.Chain) []*event.Event {
	events := []*event.Event{
		event.NewEvent(event.TypeExpenseSubmitted, exp.OwnerID, exp.ID, chain.ID,
			map[string]interface{}{"steps": len(chain.Steps)}),
	}
	for _, s := range chain.ActionableSteps() {
		events = append(events, event.NewEvent(event.TypeApprovalRequest, s.ApproverID, exp.ID, chain.ID,
			map[string]interface{}{"step_index": s.Index}))
	}
	return events
}

// decisionEvents tells the owner about the outcome and asks approvers whose
// steps just became actionable to decide.
func decisionEvents(exp *entity.Expense, before, after *approval.Chain, index int) []*event.Event {
	ownerID := after.OwnerID
	payload := map[string]interface{}{
		"step_index":  index,
		"approver_id": after.Steps[index].ApproverID,
		"decision":    string(after.Approvals[index].Decision),
	}
	if c := after.Approvals[index].Comment; c != "" {
		payload["comment"] = c
	}

	switch after.State.Status {
	case domainwf.StateApproved:
		return []*event.Event{event.NewEvent(event.TypeExpenseApproved, ownerID, after.ExpenseID, after.ID, payload)}
	case domainwf.StateRejected:
		if exp != nil && exp.RejectionReason != "" {
			payload["reason"] = exp.RejectionReason
		}
		return []*event.Event{event.NewEvent(event.TypeExpenseRejected, ownerID, after.ExpenseID, after.ID, payload)}
	}

	events := []*event.Event{event.NewEvent(event.TypeDecisionRecorded, ownerID, after.ExpenseID, after.ID, payload)}
	for _, s := range after.ActionableSteps() {
		if s.Index == index || before.Actionable(s.Index) {
			continue
		}
		events = append(events, event.NewEvent(event.TypeApprovalRequest, s.ApproverID, after.ExpenseID, after.ID,
			map[string]interface{}{"step_index": s.Index}))
	}
	return events
}
