package workflow

import (
	"context"
	"fmt"
	"sync"
)

// NewExpenseLifecycle returns a builder configured with the expense lifecycle:
//
//	DRAFT    -> PENDING (submit), CANCELLED (cancel)
//	PENDING  -> APPROVED, REJECTED, CANCELLED
//	REJECTED -> PENDING (resubmit with a new chain)
func NewExpenseLifecycle() StateMachineBuilder {
	builder := NewBuilder()

	builder.Configure(StateDraft).
		Permit(TriggerSubmit, StatePending).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerCancel, StateCancelled)

	builder.Configure(StatePending).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerCancel, StateCancelled)

	builder.Configure(StateRejected).
		Permit(TriggerResubmit, StatePending).
		Permit(TriggerApprove, StateApproved)

	// APPROVED and CANCELLED have no outgoing transitions

	return builder
}

// built on first use rather than during package initialization
var lifecycle = sync.OnceValue(NewExpenseLifecycle)

// Next returns the state reached by firing trigger from the given state.
func Next(ctx context.Context, from State, trigger Trigger) (State, error) {
	if !from.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, from)
	}
	m := lifecycle().Build(from)
	if err := m.Fire(ctx, trigger); err != nil {
		return "", err
	}
	return m.State(), nil
}
