package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

var _ workflow.Observer = (*Metrics)(nil)

func TestMetrics_Observer(t *testing.T) {
	m := New()

	m.Submitted("percentage", domainwf.StatePending)
	m.Submitted("percentage", domainwf.StatePending)
	m.Decided(approval.DecisionApproved, domainwf.StateApproved)
	m.Cancelled(domainwf.StateDraft)
	m.LookupFailed("approver pool", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissionsTotal.WithLabelValues("percentage", "PENDING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("approved", "APPROVED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancellationsTotal.WithLabelValues("DRAFT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookupFailures.WithLabelValues("approver pool", "true")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordAPIRequest(http.MethodGet, "/health", http.StatusOK, 0.01)
	m.RecordNotification("approval_request")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `expense_approval_api_requests_total{method="GET",path="/health",status="200"} 1`)
	assert.Contains(t, body, `expense_approval_notifications_total{type="approval_request"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
