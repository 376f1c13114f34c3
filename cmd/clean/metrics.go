package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"vehicleetl/internal/metrics"
	"vehicleetl/internal/metrics/datadog"
	"vehicleetl/internal/metrics/prompush"
)

// metricsBackend is what cleanup needs from a periodic backend.
type metricsBackend interface {
	Close() error
}

// flushBackend is what cleanup needs from a push-once backend.
type flushBackend interface {
	Flush() error
}

// Test seams.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushgatewayBackend = func(job, url string) (flushBackend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

const defaultPushgatewayURL = "http://localhost:9091"

// initMetrics wires the named backend into the metrics package. The returned
// cleanup is never nil and flushes or closes the backend; call it exactly
// once after the run.
func initMetrics(ctx context.Context, jobName, backendName, gatewayURL string) (func(), error) {
	nop := func() {}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return nop, nil

	case "datadog", "dd":
		// The Datadog backend flushes every FlushEvery and once more on Close.
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return nop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway", "prometheus":
		if gatewayURL == "" {
			gatewayURL = defaultPushgatewayURL
		}
		b, err := newPushgatewayBackend(jobName, gatewayURL)
		if err != nil {
			return nop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil
	}

	return nop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", backendName)
}
