package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordTaskAssigned("product")
	m.RecordTaskAssigned("product")
	m.RecordTaskTransition("assigned", "in_progress")
	m.RecordShipmentUpdate("in_transit")
	m.RecordCacheLookup(true)
	m.RecordHTTPRequest("POST", "/v1/tasks", 201, 15*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.TasksAssigned.WithLabelValues("product")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TaskTransitions.WithLabelValues("assigned", "in_progress")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ShipmentUpdates.WithLabelValues("in_transit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReportCacheLookups.WithLabelValues("hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/tasks", "201")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTaskAssigned("shipment")
	m.RecordPublishFailure()
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.RecordTaskAssigned("shipment")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, string(body), `courierline_tasks_assigned_total{kind="shipment"} 1`)
}
