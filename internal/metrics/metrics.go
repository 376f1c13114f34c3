// Package metrics is the process-wide metrics facade used by the cleaning
// job. The core code depends only on Backend; concrete backends (Datadog,
// Prometheus Pushgateway) live in subpackages and are selected by cmd/clean.
package metrics

import (
	"sync"
	"time"
)

// Metric names.
const (
	StepTotal           = "clean_step_total"
	StepDurationSeconds = "clean_step_duration_seconds"
	RecordsTotal        = "clean_records_total"
	BatchesTotal        = "clean_batches_total"
)

// Record kinds for RecordsTotal.
const (
	KindRaw              = "raw"
	KindMalformedPayload = "malformed_payload"
	KindCoercionFailure  = "coercion_failure"
	KindFilled           = "filled"
	KindDuplicate        = "duplicate"
	KindOutput           = "output"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the nop
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered metrics, if the backend buffers.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one stage execution and its duration. status is "ok" or
// "error".
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows adds n to the records counter for kind. n <= 0 is ignored.
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one processed batch.
func RecordBatch() {
	current().IncCounter(BatchesTotal, 1, nil)
}
