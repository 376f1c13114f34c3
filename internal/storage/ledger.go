// Package storage records cleaning runs in a relational ledger.
//
// Backends live in subpackages and register themselves from init(). Import
// vehicleetl/internal/storage/all to link every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config selects and connects a ledger backend.
//
// Edge cases:
//   - Kind must match a registered backend ("sqlite", "postgres", "mssql").
//   - DSN is passed to the backend unchanged; callers expand env vars first.
type Config struct {
	Kind string
	DSN  string
}

// RunSummary is one finished run as stored in the ledger.
type RunSummary struct {
	RunID    string
	Job      string
	Started  time.Time
	Duration time.Duration

	RawRecords        int
	MalformedPayloads int
	CoercionFailures  int
	Duplicates        int
	OutputRows        int

	Columns     []string
	ParquetPath string
	CSVPath     string

	Fills []FillRecord
}

// FillRecord is the imputation outcome for one column.
type FillRecord struct {
	Column   string
	Class    string
	Value    string
	Filled   int
	Fallback bool
}

// Ledger persists run summaries.
//
// Implementations must make RecordRun atomic: either the run row and all of
// its fill rows are stored, or none are.
type Ledger interface {
	// EnsureSchema creates the ledger tables if they do not exist. It is safe
	// to call on every run.
	EnsureSchema(ctx context.Context) error

	// RecordRun stores s. Recording the same RunID twice is an error.
	RecordRun(ctx context.Context, s RunSummary) error

	// Close releases connections. Call once.
	Close()
}

// RunLister is implemented by backends that can read runs back.
type RunLister interface {
	// RecentRuns returns up to limit runs of job, newest first, without fills.
	RecentRuns(ctx context.Context, job string, limit int) ([]RunSummary, error)
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Ledger, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Panics:
//   - If kind is empty or f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open connects the backend registered for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Ledger, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing ledger kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported ledger kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
