package prompush

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"vehicleetl/internal/metrics"
)

func TestNewBackend_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("vehicles", " "); err == nil {
		t.Fatalf("expected error for empty gateway url")
	}
}

func TestBackend_CountsAndIgnores(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("vehicles", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "parse", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 4, metrics.Labels{"kind": metrics.KindFilled})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	b.IncCounter(metrics.BatchesTotal, -1, nil)
	b.IncCounter("unknown_total", 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.2, metrics.Labels{"step": "parse", "status": "ok"})
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, metrics.Labels{"step": "parse", "status": "ok"})

	if got := testutil.ToFloat64(b.steps.WithLabelValues("parse", "ok")); got != 1 {
		t.Fatalf("steps = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.records.WithLabelValues(metrics.KindFilled)); got != 4 {
		t.Fatalf("filled = %v, want 4", got)
	}
	if got := testutil.ToFloat64(b.batches); got != 1 {
		t.Fatalf("batches = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(b.records); n != 1 {
		t.Fatalf("record series = %d, want 1 (empty kind ignored)", n)
	}
	if n := testutil.CollectAndCount(b.durations); n != 1 {
		t.Fatalf("duration series = %d, want 1", n)
	}
}

func TestBackend_FlushPushesJobGroup(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("vehicles", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", method)
	}
	if path != "/metrics/job/vehicles" {
		t.Fatalf("path = %s", path)
	}
}

func TestBackend_FlushError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("vehicles", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if err := b.Flush(); err == nil {
		t.Fatalf("expected push error")
	}
}
