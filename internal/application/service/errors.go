package service

import "errors"

var (
	// ErrValidation marks malformed input from the caller
	ErrValidation = errors.New("validation failed")

	ErrCompanyNotFound = errors.New("company not found")
	ErrUserNotFound    = errors.New("user not found")
)
