package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a notification request addressed to one recipient. The engine returns
// events; delivery belongs to whatever sink the caller wires in.
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	RecipientID   string                 `json:"recipient_id"`
	ExpenseID     string                 `json:"expense_id"`
	ChainID       string                 `json:"chain_id,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates an event with a fresh ID. The correlation ID defaults to the chain,
// or the expense when no chain exists yet.
func NewEvent(eventType Type, recipientID, expenseID, chainID string, payload map[string]interface{}) *Event {
	correlation := chainID
	if correlation == "" {
		correlation = expenseID
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		RecipientID:   recipientID,
		ExpenseID:     expenseID,
		ChainID:       chainID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlation,
	}
}

// WithPayload returns a copy of the event with key set in its payload
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	out := *e
	out.Payload = payload
	return &out
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
