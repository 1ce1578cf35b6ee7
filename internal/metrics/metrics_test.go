package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.HoldCreated(time.Millisecond)
	m.HoldRejected("insufficient_stock")
	m.HoldsReleased("expired", 3)
	m.OrderTransition("paid")
	m.PaymentProcessed("applied")
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	m := New()

	m.HoldCreated(2 * time.Millisecond)
	m.HoldCreated(3 * time.Millisecond)
	m.HoldRejected("insufficient_stock")
	m.HoldsReleased("expired", 4)
	m.HoldsReleased("released", 0)

	require.Equal(t, 2.0, testutil.ToFloat64(m.holdsCreated))
	require.Equal(t, 1.0, testutil.ToFloat64(m.holdsRejected.WithLabelValues("insufficient_stock")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.holdsReleased.WithLabelValues("expired")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.holdsReleased.WithLabelValues("released")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.HoldCreated(time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "holdsvc_holds_created_total 1"), body)
	require.Contains(t, body, "holdsvc_hold_reserve_duration_seconds_bucket")
}
