package event

import (
	"testing"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		eventType Type
		want      bool
	}{
		{TypeApprovalRequest, true},
		{TypeExpenseSubmitted, true},
		{TypeExpenseApproved, true},
		{TypeExpenseRejected, true},
		{TypeExpenseCancelled, true},
		{TypeDecisionRecorded, true},
		{Type("instance.created"), false},
		{Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType.String(), func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	evt := NewEvent(TypeApprovalRequest, "u1", "e1", "c1", map[string]interface{}{"step_index": 0})

	if evt.ID == "" {
		t.Error("expected generated ID")
	}
	if evt.CorrelationID != "c1" {
		t.Errorf("CorrelationID = %q, want chain id", evt.CorrelationID)
	}
	if evt.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}

	other := NewEvent(TypeExpenseCancelled, "u1", "e1", "", nil)
	if other.ID == evt.ID {
		t.Error("IDs must be unique")
	}
	if other.CorrelationID != "e1" {
		t.Errorf("CorrelationID = %q, want expense id when no chain", other.CorrelationID)
	}
}

func TestEvent_WithPayload(t *testing.T) {
	original := NewEvent(TypeExpenseRejected, "owner", "e1", "c1", map[string]interface{}{"reason": "missing receipt"})
	updated := original.WithPayload("comment", "see policy")

	if _, ok := original.Payload["comment"]; ok {
		t.Error("WithPayload mutated the original event")
	}
	if got := updated.GetPayloadString("comment"); got != "see policy" {
		t.Errorf("GetPayloadString(comment) = %q", got)
	}
	if got := updated.GetPayloadString("reason"); got != "missing receipt" {
		t.Errorf("GetPayloadString(reason) = %q", got)
	}
	if updated.ID != original.ID {
		t.Error("WithPayload must keep the event ID")
	}
}
