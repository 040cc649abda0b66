package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// ActorHeader carries the id of the calling user. Authentication happens in
// front of this service.
const ActorHeader = "X-User-ID"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{services: services, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Retry   bool        `json:"retryable,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// CreateCompanyRequest is the body of POST /api/companies
type CreateCompanyRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name" binding:"required"`
	Currency string `json:"currency" binding:"required"`
}

// CreateUserRequest is the body of POST /api/users
type CreateUserRequest struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	ManagerID string `json:"manager_id"`
}

// CreateCategoryRequest is the body of POST /api/companies/:id/categories
type CreateCategoryRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

// RuleRequest is the body of POST /api/rules and PUT /api/rules/:id
type RuleRequest struct {
	CompanyID           string           `json:"company_id"`
	Name                string           `json:"name"`
	Description         string           `json:"description"`
	Type                string           `json:"type" binding:"required"`
	Threshold           int              `json:"threshold"`
	RequiredApproverIDs []string         `json:"required_approver_ids"`
	ManagerFirst        bool             `json:"manager_first"`
	IsActive            *bool            `json:"is_active"`
	Category            string           `json:"category"`
	MinAmount           *decimal.Decimal `json:"min_amount"`
	MaxAmount           *decimal.Decimal `json:"max_amount"`
	Priority            int              `json:"priority"`
}

// SetActiveRequest is the body of PUT /api/rules/:id/active
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SetRateRequest is the body of PUT /api/rates
type SetRateRequest struct {
	From string          `json:"from" binding:"required"`
	To   string          `json:"to" binding:"required"`
	Rate decimal.Decimal `json:"rate"`
}

// CreateExpenseRequest is the body of POST /api/expenses. The owner is the caller.
type CreateExpenseRequest struct {
	Category    string          `json:"category"`
	Description string          `json:"description"`
	ExpenseDate *time.Time      `json:"expense_date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" binding:"required"`
}

// DecisionRequest is the body of POST /api/chains/:id/decisions. The approver
// is the caller; a missing step index picks the caller's actionable step.
type DecisionRequest struct {
	StepIndex *int   `json:"step_index"`
	Decision  string `json:"decision" binding:"required"`
	Comment   string `json:"comment"`
}

// RuleResponse represents an approval rule in API responses
type RuleResponse struct {
	ID                  string           `json:"id"`
	CompanyID           string           `json:"company_id"`
	Name                string           `json:"name"`
	Description         string           `json:"description,omitempty"`
	Type                string           `json:"type"`
	Threshold           int              `json:"threshold,omitempty"`
	RequiredApproverIDs []string         `json:"required_approver_ids,omitempty"`
	ManagerFirst        bool             `json:"manager_first"`
	IsActive            bool             `json:"is_active"`
	Category            string           `json:"category,omitempty"`
	MinAmount           *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount           *decimal.Decimal `json:"max_amount,omitempty"`
	Priority            int              `json:"priority"`
	CreatedAt           string           `json:"created_at"`
	UpdatedAt           string           `json:"updated_at"`
}

// StepResponse is one step of a chain with its decision
type StepResponse struct {
	Index      int     `json:"index"`
	ApproverID string  `json:"approver_id"`
	Role       string  `json:"role"`
	Required   bool    `json:"required"`
	Actionable bool    `json:"actionable"`
	Decision   string  `json:"decision"`
	Comment    string  `json:"comment,omitempty"`
	DecidedAt  *string `json:"decided_at,omitempty"`
}

// ChainResponse represents an approval chain in API responses
type ChainResponse struct {
	ID               string         `json:"id"`
	ExpenseID        string         `json:"expense_id"`
	RuleID           string         `json:"rule_id"`
	RuleType         string         `json:"rule_type"`
	Threshold        int            `json:"threshold,omitempty"`
	ManagerFirst     bool           `json:"manager_first"`
	Status           string         `json:"status"`
	CurrentStepIndex int            `json:"current_step_index"`
	Steps            []StepResponse `json:"steps"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

// StatusResponse is the engine-owned state of a chain
type StatusResponse struct {
	ChainID          string `json:"chain_id"`
	Status           string `json:"status"`
	CurrentStepIndex int    `json:"current_step_index"`
}

// OutcomeResponse reports the result of submit, decide and cancel
type OutcomeResponse struct {
	ExpenseID        string   `json:"expense_id,omitempty"`
	ChainID          string   `json:"chain_id,omitempty"`
	StepIndex        *int     `json:"step_index,omitempty"`
	Status           string   `json:"status,omitempty"`
	CurrentStepIndex *int     `json:"current_step_index,omitempty"`
	Notifications    []string `json:"notifications"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// CreateCompany handles POST /api/companies
func (h *Handlers) CreateCompany(c *gin.Context) {
	var req CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	company, err := h.services.Directory.CreateCompany(c.Request.Context(), &entity.Company{
		ID:       req.ID,
		Name:     req.Name,
		Currency: req.Currency,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: company})
}

// GetCompany handles GET /api/companies/:id
func (h *Handlers) GetCompany(c *gin.Context) {
	company, err := h.services.Directory.GetCompany(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: company})
}

// CreateUser handles POST /api/users
func (h *Handlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	user, err := h.services.Directory.CreateUser(c.Request.Context(), &entity.User{
		ID:        req.ID,
		CompanyID: req.CompanyID,
		Name:      req.Name,
		Email:     req.Email,
		Role:      strings.ToLower(req.Role),
		ManagerID: req.ManagerID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: user})
}

// GetUser handles GET /api/users/:id
func (h *Handlers) GetUser(c *gin.Context) {
	user, err := h.services.Directory.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: user})
}

// ListUsers handles GET /api/companies/:id/users
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.services.Directory.ListUsers(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if users == nil {
		users = []*entity.User{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: users})
}

// CreateCategory handles POST /api/companies/:id/categories
func (h *Handlers) CreateCategory(c *gin.Context) {
	var req CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	category, err := h.services.Directory.CreateCategory(c.Request.Context(), &entity.ExpenseCategory{
		CompanyID:   c.Param("id"),
		Name:        req.Name,
		Description: req.Description,
		IsActive:    active,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: category})
}

// ListCategories handles GET /api/companies/:id/categories
func (h *Handlers) ListCategories(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.Query("active"))
	categories, err := h.services.Directory.ListCategories(c.Request.Context(), c.Param("id"), activeOnly)
	if err != nil {
		h.fail(c, err)
		return
	}
	if categories == nil {
		categories = []*entity.ExpenseCategory{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: categories})
}

// CreateRule handles POST /api/rules
func (h *Handlers) CreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rule, err := h.services.Rules.CreateRule(c.Request.Context(), req.toRule(""))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: toRuleResponse(rule)})
}

// GetRule handles GET /api/rules/:id
func (h *Handlers) GetRule(c *gin.Context) {
	rule, err := h.services.Rules.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toRuleResponse(rule)})
}

// UpdateRule handles PUT /api/rules/:id
func (h *Handlers) UpdateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rule, err := h.services.Rules.UpdateRule(c.Request.Context(), req.toRule(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toRuleResponse(rule)})
}

// SetRuleActive handles PUT /api/rules/:id/active
func (h *Handlers) SetRuleActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rule, err := h.services.Rules.SetActive(c.Request.Context(), c.Param("id"), req.Active)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toRuleResponse(rule)})
}

// DeleteRule handles DELETE /api/rules/:id
func (h *Handlers) DeleteRule(c *gin.Context) {
	if err := h.services.Rules.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ListRules handles GET /api/companies/:id/rules?active=true
func (h *Handlers) ListRules(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.Query("active"))
	rules, err := h.services.Rules.ListRules(c.Request.Context(), c.Param("id"), activeOnly)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]RuleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, toRuleResponse(r))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// SetRate handles PUT /api/rates
func (h *Handlers) SetRate(c *gin.Context) {
	var req SetRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rate, err := h.services.Rates.SetRate(c.Request.Context(), req.From, req.To, req.Rate)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rate})
}

// GetRate handles GET /api/rates/:from/:to
func (h *Handlers) GetRate(c *gin.Context) {
	from, to := strings.ToUpper(c.Param("from")), strings.ToUpper(c.Param("to"))
	rate, err := h.services.Rates.Rate(c.Request.Context(), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entity.ExchangeRate{From: from, To: to, Rate: rate}})
}

// CreateExpense handles POST /api/expenses
func (h *Handlers) CreateExpense(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req CreateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	in := service.NewExpenseInput{
		OwnerID:     actor,
		Category:    req.Category,
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}
	if req.ExpenseDate != nil {
		in.ExpenseDate = req.ExpenseDate.UTC()
	}
	expense, err := h.services.Expenses.CreateExpense(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: expense})
}

// GetExpense handles GET /api/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	expense, err := h.services.Expenses.GetExpense(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// ListExpenses handles GET /api/users/:id/expenses?limit=&offset=
func (h *Handlers) ListExpenses(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	expenses, err := h.services.Expenses.ListExpenses(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	if expenses == nil {
		expenses = []*entity.Expense{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: expenses})
}

// SubmitExpense handles POST /api/expenses/:id/submit
func (h *Handlers) SubmitExpense(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	res, err := h.services.Expenses.Submit(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: OutcomeResponse{
		ExpenseID:     c.Param("id"),
		ChainID:       res.ChainID,
		Status:        res.Status.String(),
		Notifications: eventTypes(res.Notifications),
	}})
}

// CancelExpense handles POST /api/expenses/:id/cancel
func (h *Handlers) CancelExpense(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	res, err := h.services.Expenses.Cancel(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: OutcomeResponse{
		ExpenseID:     res.ExpenseID,
		Status:        domainwf.StateCancelled.String(),
		Notifications: eventTypes(res.Notifications),
	}})
}

// GetChain handles GET /api/chains/:id
func (h *Handlers) GetChain(c *gin.Context) {
	chain, err := h.services.Expenses.GetChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toChainResponse(chain)})
}

// GetChainStatus handles GET /api/chains/:id/status
func (h *Handlers) GetChainStatus(c *gin.Context) {
	state, err := h.services.Expenses.ChainStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: StatusResponse{
		ChainID:          c.Param("id"),
		Status:           state.Status.String(),
		CurrentStepIndex: state.CurrentStepIndex,
	}})
}

// RecordDecision handles POST /api/chains/:id/decisions
func (h *Handlers) RecordDecision(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.services.Expenses.Decide(c.Request.Context(), workflow.DecisionInput{
		ChainID:    c.Param("id"),
		StepIndex:  req.StepIndex,
		ApproverID: actor,
		Decision:   approval.Decision(strings.ToLower(req.Decision)),
		Comment:    req.Comment,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: OutcomeResponse{
		ChainID:          res.ChainID,
		StepIndex:        &res.StepIndex,
		Status:           res.Status.String(),
		CurrentStepIndex: &res.CurrentStepIndex,
		Notifications:    eventTypes(res.Notifications),
	}})
}

// PendingApprovals handles GET /api/approvers/:id/pending
func (h *Handlers) PendingApprovals(c *gin.Context) {
	chains, err := h.services.Expenses.PendingApprovals(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]ChainResponse, 0, len(chains))
	for _, ch := range chains {
		out = append(out, toChainResponse(ch))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

func requireActor(c *gin.Context) (string, bool) {
	actor := strings.TrimSpace(c.GetHeader(ActorHeader))
	if actor == "" {
		c.JSON(http.StatusUnauthorized, Response{
			Success: false,
			Error:   ActorHeader + " header is required",
			Code:    "unauthenticated",
		})
		return "", false
	}
	return actor, true
}

func (r RuleRequest) toRule(id string) *approval.Rule {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return &approval.Rule{
		ID:                  id,
		CompanyID:           r.CompanyID,
		Name:                r.Name,
		Description:         r.Description,
		Type:                approval.RuleType(strings.ToLower(r.Type)),
		Threshold:           r.Threshold,
		RequiredApproverIDs: r.RequiredApproverIDs,
		ManagerFirst:        r.ManagerFirst,
		IsActive:            active,
		Category:            r.Category,
		MinAmount:           r.MinAmount,
		MaxAmount:           r.MaxAmount,
		Priority:            r.Priority,
	}
}

func toRuleResponse(r *approval.Rule) RuleResponse {
	return RuleResponse{
		ID:                  r.ID,
		CompanyID:           r.CompanyID,
		Name:                r.Name,
		Description:         r.Description,
		Type:                string(r.Type),
		Threshold:           r.Threshold,
		RequiredApproverIDs: r.RequiredApproverIDs,
		ManagerFirst:        r.ManagerFirst,
		IsActive:            r.IsActive,
		Category:            r.Category,
		MinAmount:           r.MinAmount,
		MaxAmount:           r.MaxAmount,
		Priority:            r.Priority,
		CreatedAt:           r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           r.UpdatedAt.Format(time.RFC3339),
	}
}

func toChainResponse(c *approval.Chain) ChainResponse {
	steps := make([]StepResponse, len(c.Steps))
	for i, s := range c.Steps {
		a := c.Approvals[i]
		steps[i] = StepResponse{
			Index:      s.Index,
			ApproverID: s.ApproverID,
			Role:       string(s.Role),
			Required:   s.Required,
			Actionable: !c.IsTerminal() && c.Actionable(s.Index),
			Decision:   string(a.Decision),
			Comment:    a.Comment,
		}
		if a.DecidedAt != nil {
			at := a.DecidedAt.Format(time.RFC3339)
			steps[i].DecidedAt = &at
		}
	}
	return ChainResponse{
		ID:               c.ID,
		ExpenseID:        c.ExpenseID,
		RuleID:           c.RuleID,
		RuleType:         string(c.RuleType),
		Threshold:        c.Threshold,
		ManagerFirst:     c.ManagerFirst,
		Status:           c.State.Status.String(),
		CurrentStepIndex: c.State.CurrentStepIndex,
		Steps:            steps,
		CreatedAt:        c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        c.UpdatedAt.Format(time.RFC3339),
	}
}

func eventTypes(events []*event.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, string(e.Type))
	}
	return out
}
