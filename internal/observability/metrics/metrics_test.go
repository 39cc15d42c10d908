package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSessionLifecycle(t *testing.T) {
	m := DefaultMetrics
	before := testutil.ToFloat64(m.SessionsActive)

	m.RecordSessionStart("sse")
	if got := testutil.ToFloat64(m.SessionsActive); got != before+1 {
		t.Errorf("expected active sessions %v, got %v", before+1, got)
	}

	m.RecordSessionEnd(1.5)
	if got := testutil.ToFloat64(m.SessionsActive); got != before {
		t.Errorf("expected active sessions back to %v, got %v", before, got)
	}
}

func TestRecordPublish_CountsErrors(t *testing.T) {
	m := DefaultMetrics
	total := testutil.ToFloat64(m.PublishTotal.WithLabelValues("kafka", "t"))
	errs := testutil.ToFloat64(m.PublishErrors.WithLabelValues("kafka", "t"))

	m.RecordPublish("kafka", "t", nil, 0.01)
	m.RecordPublish("kafka", "t", errors.New("broker down"), 0.02)

	if got := testutil.ToFloat64(m.PublishTotal.WithLabelValues("kafka", "t")); got != total+2 {
		t.Errorf("expected %v publishes, got %v", total+2, got)
	}
	if got := testutil.ToFloat64(m.PublishErrors.WithLabelValues("kafka", "t")); got != errs+1 {
		t.Errorf("expected %v publish errors, got %v", errs+1, got)
	}
}

func TestRecordBroadcastOutcomes(t *testing.T) {
	m := DefaultMetrics
	delivered := testutil.ToFloat64(m.Broadcasts.WithLabelValues("delivered"))
	deferred := testutil.ToFloat64(m.Broadcasts.WithLabelValues("deferred"))

	m.RecordBroadcast("delivered")
	m.RecordBroadcast("deferred")
	m.RecordBroadcast("deferred")

	if got := testutil.ToFloat64(m.Broadcasts.WithLabelValues("delivered")); got != delivered+1 {
		t.Errorf("expected %v delivered, got %v", delivered+1, got)
	}
	if got := testutil.ToFloat64(m.Broadcasts.WithLabelValues("deferred")); got != deferred+2 {
		t.Errorf("expected %v deferred, got %v", deferred+2, got)
	}
}
