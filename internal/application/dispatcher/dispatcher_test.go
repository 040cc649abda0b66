package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func approvedEvent() *event.Event {
	return event.NewEvent(event.TypeExpenseApproved, "owner", "e1", "c1", nil)
}

func TestDispatch_RoutesByType(t *testing.T) {
	d := NewDispatcher()
	var approved, rejected, wildcard int32

	d.Subscribe(event.TypeExpenseApproved, "approved", func(ctx context.Context, evt *event.Event) error {
		atomic.AddInt32(&approved, 1)
		return nil
	})
	d.Subscribe(event.TypeExpenseRejected, "rejected", func(ctx context.Context, evt *event.Event) error {
		atomic.AddInt32(&rejected, 1)
		return nil
	})
	d.Subscribe(AnyType, "audit", func(ctx context.Context, evt *event.Event) error {
		atomic.AddInt32(&wildcard, 1)
		return nil
	})

	if err := d.Dispatch(context.Background(), approvedEvent()); err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}

	if approved != 1 || rejected != 0 || wildcard != 1 {
		t.Errorf("calls approved=%d rejected=%d any=%d, want 1 0 1", approved, rejected, wildcard)
	}
}

func TestDispatch_ContinuesAfterFailure(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	var reached bool

	d.Subscribe(event.TypeExpenseApproved, "broken", func(ctx context.Context, evt *event.Event) error {
		return errors.New("smtp down")
	})
	d.Subscribe(event.TypeExpenseApproved, "panicky", func(ctx context.Context, evt *event.Event) error {
		panic("boom")
	})
	d.Subscribe(event.TypeExpenseApproved, "healthy", func(ctx context.Context, evt *event.Event) error {
		reached = true
		return nil
	})

	err := d.Dispatch(context.Background(), approvedEvent())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !reached {
		t.Error("healthy handler was skipped")
	}
	if logger.ErrorCount() < 2 {
		t.Errorf("ErrorCount() = %d, want at least 2", logger.ErrorCount())
	}
}

func TestNotify_DeliversEveryEvent(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.Subscribe(AnyType, "collect", func(ctx context.Context, evt *event.Event) error {
		got = append(got, fmt.Sprintf("%s:%s", evt.Type, evt.RecipientID))
		return nil
	})

	events := []*event.Event{
		event.NewEvent(event.TypeExpenseSubmitted, "owner", "e1", "c1", nil),
		event.NewEvent(event.TypeApprovalRequest, "mgr", "e1", "c1", nil),
	}
	if err := d.Notify(context.Background(), events); err != nil {
		t.Fatalf("Notify() unexpected error: %v", err)
	}

	want := []string{"expense_submitted:owner", "approval_request:mgr"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe(event.TypeExpenseApproved, "a", func(ctx context.Context, evt *event.Event) error { return nil })
	d.Subscribe(event.TypeExpenseApproved, "b", func(ctx context.Context, evt *event.Event) error { return nil })

	d.Unsubscribe(event.TypeExpenseApproved, "a")

	handlers := d.ListHandlers(event.TypeExpenseApproved)
	if len(handlers) != 1 || handlers[0].Name != "b" {
		t.Errorf("ListHandlers() = %+v, want only b", handlers)
	}
	if handlers[0].Handler != nil {
		t.Error("ListHandlers() must not expose handler funcs")
	}
}

func TestDispatchAsync_CloseWaits(t *testing.T) {
	d := NewDispatcher()
	var count int32
	d.Subscribe(event.TypeExpenseApproved, "slow", func(ctx context.Context, evt *event.Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 10; i++ {
		d.DispatchAsync(ctx, approvedEvent())
	}
	cancel()

	if err := d.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if atomic.LoadInt32(&count) != 10 {
		t.Errorf("handled %d events, want 10", count)
	}

	if err := d.Dispatch(context.Background(), approvedEvent()); !errors.Is(err, ErrClosed) {
		t.Errorf("Dispatch() after Close error = %v, want ErrClosed", err)
	}
	if err := d.Close(); err == nil {
		t.Error("second Close() should fail")
	}
}
