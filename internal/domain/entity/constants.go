package entity

import "strings"

// User roles
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// Category names every new company starts with
const (
	CategoryTravel        = "travel"
	CategoryMeals         = "meals"
	CategoryAccommodation = "accommodation"
	CategoryTransport     = "transport"
	CategoryOffice        = "office_supplies"
	CategoryEntertainment = "entertainment"
	CategoryOther         = "other"
)

// DefaultCategories returns the categories seeded into a new company.
// CategoryOther is always present since it is used when an expense names none.
func DefaultCategories() []string {
	return []string{
		CategoryTravel,
		CategoryMeals,
		CategoryAccommodation,
		CategoryTransport,
		CategoryOffice,
		CategoryEntertainment,
		CategoryOther,
	}
}

// NormalizeCategory is the form category names are stored and compared in
func NormalizeCategory(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsApproverRole reports whether users with role can be part of a company's approver pool
func IsApproverRole(role string) bool {
	return role == RoleManager || role == RoleAdmin
}
