package port

import (
	"context"

	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/domain/money"
)

// RateLookup resolves currency conversion rates
type RateLookup = money.RateLookup

// ManagerLookup resolves a user's direct manager. It returns "" when the user has none.
type ManagerLookup interface {
	ManagerOf(ctx context.Context, userID string) (string, error)
}

// ApproverPoolLookup returns the users eligible to satisfy percentage and hybrid rules
type ApproverPoolLookup interface {
	ApproverPool(ctx context.Context, companyID string) ([]string, error)
}

// NotificationSink accepts notification requests for delivery
type NotificationSink interface {
	Notify(ctx context.Context, events []*event.Event) error
}

// NotificationSinkFunc adapts a function to NotificationSink
type NotificationSinkFunc func(ctx context.Context, events []*event.Event) error

func (f NotificationSinkFunc) Notify(ctx context.Context, events []*event.Event) error {
	return f(ctx, events)
}
