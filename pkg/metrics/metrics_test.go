package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersWithoutPanic(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
}

func TestObserveProveSuccessIncrementsCompleted(t *testing.T) {
	m := New()
	m.ObserveProve("transfer", 10*time.Millisecond, nil)

	if got := testutil.ToFloat64(m.JobsCompleted.WithLabelValues("transfer")); got != 1 {
		t.Fatalf("JobsCompleted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProveErrors.WithLabelValues("transfer")); got != 0 {
		t.Fatalf("ProveErrors = %v, want 0", got)
	}
}

func TestObserveProveErrorIncrementsErrors(t *testing.T) {
	m := New()
	m.ObserveProve("transfer", 10*time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(m.ProveErrors.WithLabelValues("transfer")); got != 1 {
		t.Fatalf("ProveErrors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobsCompleted.WithLabelValues("transfer")); got != 0 {
		t.Fatalf("JobsCompleted = %v, want 0", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.BlocksPlanned.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(rec.Body.Bytes()) == 0 {
		t.Fatal("expected non-empty metrics body")
	}
}

