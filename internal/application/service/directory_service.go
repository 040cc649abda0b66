package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/money"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DirectoryService manages companies, their users and expense categories, and answers the organisational
// lookups the approval engine needs.
type DirectoryService interface {
	port.ManagerLookup
	port.ApproverPoolLookup

	CreateCompany(ctx context.Context, company *entity.Company) (*entity.Company, error)
	GetCompany(ctx context.Context, id string) (*entity.Company, error)
	CreateUser(ctx context.Context, user *entity.User) (*entity.User, error)
	GetUser(ctx context.Context, id string) (*entity.User, error)
	ListUsers(ctx context.Context, companyID string) ([]*entity.User, error)
	CreateCategory(ctx context.Context, category *entity.ExpenseCategory) (*entity.ExpenseCategory, error)
	ListCategories(ctx context.Context, companyID string, activeOnly bool) ([]*entity.ExpenseCategory, error)
}

type directoryServiceImpl struct {
	companies  port.CompanyRepository
	users      port.UserRepository
	categories port.CategoryRepository
	tx         port.TransactionManager
	logger     Logger
}

// NewDirectoryService creates a new DirectoryService
func NewDirectoryService(companies port.CompanyRepository, users port.UserRepository,
	categories port.CategoryRepository, tx port.TransactionManager, logger Logger) DirectoryService {
	return &directoryServiceImpl{
		companies:  companies,
		users:      users,
		categories: categories,
		tx:         tx,
		logger:     logger,
	}
}

func (s *directoryServiceImpl) CreateCompany(ctx context.Context, company *entity.Company) (*entity.Company, error) {
	if strings.TrimSpace(company.Name) == "" {
		return nil, fmt.Errorf("%w: company name is required", ErrValidation)
	}
	company.Currency = strings.ToUpper(strings.TrimSpace(company.Currency))
	if !money.ValidCurrency(company.Currency) {
		return nil, fmt.Errorf("%w: %w: %q", ErrValidation, money.ErrInvalidCurrency, company.Currency)
	}
	if company.ID == "" {
		company.ID = uuid.NewString()
	}
	company.CreatedAt = time.Now().UTC()

	// the company starts with the default categories
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.companies.Create(txCtx, company); err != nil {
			return err
		}
		for _, name := range entity.DefaultCategories() {
			if err := s.categories.Create(txCtx, &entity.ExpenseCategory{
				ID:        uuid.NewString(),
				CompanyID: company.ID,
				Name:      name,
				IsActive:  true,
				CreatedAt: company.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create company", "error", err, "name", company.Name)
		return nil, err
	}
	s.logger.Info("Company created", "id", company.ID, "currency", company.Currency)
	return company, nil
}

func (s *directoryServiceImpl) GetCompany(ctx context.Context, id string) (*entity.Company, error) {
	company, err := s.companies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}
	return company, nil
}

func (s *directoryServiceImpl) CreateUser(ctx context.Context, user *entity.User) (*entity.User, error) {
	if strings.TrimSpace(user.Name) == "" {
		return nil, fmt.Errorf("%w: user name is required", ErrValidation)
	}
	user.Email = strings.TrimSpace(user.Email)
	if user.Email != "" {
		if err := utils.ValidateEmail(user.Email); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	if user.Role == "" {
		user.Role = entity.RoleEmployee
	}
	switch user.Role {
	case entity.RoleAdmin, entity.RoleManager, entity.RoleEmployee:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, user.Role)
	}
	if _, err := s.GetCompany(ctx, user.CompanyID); err != nil {
		return nil, err
	}
	if user.ManagerID != "" {
		manager, err := s.users.GetByID(ctx, user.ManagerID)
		if err != nil {
			return nil, err
		}
		if manager == nil || manager.CompanyID != user.CompanyID {
			return nil, fmt.Errorf("%w: manager %s is not in company %s", ErrValidation, user.ManagerID, user.CompanyID)
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.ManagerID == user.ID {
		return nil, fmt.Errorf("%w: a user cannot manage themselves", ErrValidation)
	}
	user.CreatedAt = time.Now().UTC()

	if err := s.users.Create(ctx, user); err != nil {
		s.logger.Error("Failed to create user", "error", err, "company_id", user.CompanyID)
		return nil, err
	}
	s.logger.Info("User created", "id", user.ID, "role", user.Role)
	return user, nil
}

func (s *directoryServiceImpl) GetUser(ctx context.Context, id string) (*entity.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *directoryServiceImpl) ListUsers(ctx context.Context, companyID string) ([]*entity.User, error) {
	return s.users.ListByCompany(ctx, companyID)
}

func (s *directoryServiceImpl) CreateCategory(ctx context.Context, category *entity.ExpenseCategory) (*entity.ExpenseCategory, error) {
	category.Name = entity.NormalizeCategory(category.Name)
	if category.Name == "" {
		return nil, fmt.Errorf("%w: category name is required", ErrValidation)
	}
	category.Description = utils.SanitizeString(category.Description)
	if _, err := s.GetCompany(ctx, category.CompanyID); err != nil {
		return nil, err
	}
	existing, err := s.categories.GetByName(ctx, category.CompanyID, category.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: category %q already exists", ErrValidation, category.Name)
	}
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	category.CreatedAt = time.Now().UTC()

	if err := s.categories.Create(ctx, category); err != nil {
		s.logger.Error("Failed to create category", "error", err, "company_id", category.CompanyID)
		return nil, err
	}
	s.logger.Info("Category created", "id", category.ID, "name", category.Name, "company_id", category.CompanyID)
	return category, nil
}

func (s *directoryServiceImpl) ListCategories(ctx context.Context, companyID string, activeOnly bool) ([]*entity.ExpenseCategory, error) {
	if _, err := s.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	return s.categories.ListByCompany(ctx, companyID, activeOnly)
}

// ManagerOf returns "" when the user is unknown or has no manager.
func (s *directoryServiceImpl) ManagerOf(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", nil
	}
	return user.ManagerID, nil
}

// ApproverPool is every manager and admin of the company.
func (s *directoryServiceImpl) ApproverPool(ctx context.Context, companyID string) ([]string, error) {
	users, err := s.users.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, u := range users {
		if entity.IsApproverRole(u.Role) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}
