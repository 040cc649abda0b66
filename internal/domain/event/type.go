package event

// Type identifies a notification-worthy event in the expense lifecycle
type Type string

const (
	TypeApprovalRequest  Type = "approval_request"
	TypeExpenseSubmitted Type = "expense_submitted"
	TypeExpenseApproved  Type = "expense_approved"
	TypeExpenseRejected  Type = "expense_rejected"
	TypeExpenseCancelled Type = "expense_cancelled"
	TypeDecisionRecorded Type = "decision_recorded"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeApprovalRequest,
		TypeExpenseSubmitted,
		TypeExpenseApproved,
		TypeExpenseRejected,
		TypeExpenseCancelled,
		TypeDecisionRecorded:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the event announces the end of an approval.
func (t Type) IsTerminal() bool {
	return t == TypeExpenseApproved || t == TypeExpenseRejected || t == TypeExpenseCancelled
}
